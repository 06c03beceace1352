package service

import (
	"context"
	"time"

	"github.com/mmeshcher/circulation-system/internal/circulation"
	"github.com/mmeshcher/circulation-system/internal/events"
	"github.com/mmeshcher/circulation-system/internal/model"
	"github.com/mmeshcher/circulation-system/internal/repository"
)

const overdueBatchSize = 100

// StartOverdueSweep периодически публикует событие LoanOverdue для открытых просроченных
// выдач каждый раз, когда число полных суток просрочки растёт. Блокируется до отмены ctx.
func (s *Service) StartOverdueSweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	notified := make(map[int64]int64)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.processOverdueBatch(ctx, notified)
		}
	}
}

// processOverdueBatch проходит все просроченные выдачи страницами по overdueBatchSize,
// каждая страница читается в отдельной транзакции.
func (s *Service) processOverdueBatch(ctx context.Context, notified map[int64]int64) {
	now := s.clock()

	seen := make(map[int64]struct{})
	var cursor repository.OverdueCursor
	for {
		var loans []model.Loan
		err := s.repo.WithTransaction(ctx, func(tx repository.Tx) error {
			var err error
			loans, err = tx.ListOverdueLoans(ctx, now, cursor, overdueBatchSize)
			return err
		})
		if err != nil {
			// Без полного прохода нельзя отличить возвращённые выдачи от непрочитанных.
			return
		}

		for _, l := range loans {
			seen[l.ID] = struct{}{}
			s.notifyOverdue(l, now, notified)
		}

		if len(loans) < overdueBatchSize {
			break
		}
		last := loans[len(loans)-1]
		cursor = repository.OverdueCursor{DueAt: last.DueAt, ID: last.ID}
	}

	// Возвращённые выдачи больше не отслеживаются.
	for id := range notified {
		if _, ok := seen[id]; !ok {
			delete(notified, id)
		}
	}
}

func (s *Service) notifyOverdue(l model.Loan, now time.Time, notified map[int64]int64) {
	days := circulation.DaysOverdue(l.DueAt, now)
	if last, ok := notified[l.ID]; ok && last >= days {
		return
	}
	notified[l.ID] = days

	ev := events.New(events.TypeLoanOverdue, now)
	ev.PatronID = l.PatronID
	ev.ItemID = l.ItemID
	ev.LoanID = l.ID
	ev.DueAt = l.DueAt
	ev.FineDeltaCents = circulation.ComputeFine(l.DueAt, now, s.policy.DailyFineCents)
	s.events.Publish(ev)
}

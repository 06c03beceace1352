// Package service реализует бизнес-логику сервиса книговыдачи.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/mmeshcher/circulation-system/internal/circulation"
	"github.com/mmeshcher/circulation-system/internal/events"
	"github.com/mmeshcher/circulation-system/internal/model"
	"github.com/mmeshcher/circulation-system/internal/repository"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	WithTransaction(ctx context.Context, fn func(tx repository.Tx) error) error
	Close() error
}

// Service содержит бизнес-логику книговыдачи. Каждая публичная операция
// выполняется в одной транзакции хранилища.
type Service struct {
	repo   Repository
	events events.Sink
	policy circulation.Policy
	now    func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithClock задаёт источник текущего времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithEvents задаёт приёмник доменных событий.
func WithEvents(sink events.Sink) Option {
	return func(s *Service) {
		s.events = sink
	}
}

// WithPolicy задаёт параметры правил книговыдачи.
func WithPolicy(p circulation.Policy) Option {
	return func(s *Service) {
		s.policy = p
	}
}

// NewService создаёт новый сервис с указанным репозиторием.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		events: events.Discard{},
		policy: circulation.DefaultPolicy(),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// Policy возвращает действующие параметры правил.
func (s *Service) Policy() circulation.Policy {
	return s.policy
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

func notFound(err error, entity string, id int64) error {
	if errors.Is(err, repository.ErrNotFound) {
		return circulation.NotFound(entity, id)
	}
	return err
}

func loadItem(ctx context.Context, tx repository.Tx, id int64) (*model.Item, error) {
	item, err := tx.LoadItem(ctx, id)
	if err != nil {
		return nil, notFound(err, circulation.EntityItem, id)
	}
	if err := circulation.ValidateItem(*item); err != nil {
		return nil, err
	}
	return item, nil
}

func loadPatron(ctx context.Context, tx repository.Tx, id int64) (*model.Patron, error) {
	p, err := tx.LoadPatron(ctx, id)
	if err != nil {
		return nil, notFound(err, circulation.EntityPatron, id)
	}
	if err := circulation.ValidatePatron(*p); err != nil {
		return nil, err
	}
	return p, nil
}

func loadLoan(ctx context.Context, tx repository.Tx, id int64) (*model.Loan, error) {
	l, err := tx.LoadLoan(ctx, id)
	if err != nil {
		return nil, notFound(err, circulation.EntityLoan, id)
	}
	if err := circulation.ValidateLoan(*l); err != nil {
		return nil, err
	}
	return l, nil
}

// Checkout выдаёт читателю один экземпляр позиции.
func (s *Service) Checkout(ctx context.Context, patronID, itemID int64) (*model.Loan, error) {
	now := s.clock()

	var loan model.Loan
	err := s.repo.WithTransaction(ctx, func(tx repository.Tx) error {
		item, err := loadItem(ctx, tx, itemID)
		if err != nil {
			return err
		}

		patron, err := loadPatron(ctx, tx, patronID)
		if err != nil {
			return err
		}

		if reason := circulation.IneligibilityReason(*patron, now); reason != "" {
			return circulation.Fail(circulation.ErrPatronIneligible, circulation.EntityPatron, patronID, reason)
		}
		if reason := circulation.UnavailabilityReason(*item); reason != "" {
			return circulation.Fail(circulation.ErrItemUnavailable, circulation.EntityItem, itemID, reason)
		}

		item.AvailableCopies--
		patron.OpenLoans++
		loan = model.Loan{
			PatronID:   patronID,
			ItemID:     itemID,
			BorrowedAt: now,
			DueAt:      now.Add(s.policy.LoanPeriod),
		}

		if err := tx.SaveItem(ctx, item); err != nil {
			return err
		}
		if err := tx.SavePatron(ctx, patron); err != nil {
			return err
		}
		return tx.CreateLoan(ctx, &loan)
	})
	if err != nil {
		return nil, err
	}

	ev := events.New(events.TypeCheckout, now)
	ev.PatronID = patronID
	ev.ItemID = itemID
	ev.LoanID = loan.ID
	ev.AvailableDelta = -1
	ev.DueAt = loan.DueAt
	s.events.Publish(ev)

	return &loan, nil
}

// Renew продлевает открытую и не просроченную выдачу на срок выдачи от текущего момента.
func (s *Service) Renew(ctx context.Context, loanID int64) (*model.Loan, error) {
	now := s.clock()

	var loan *model.Loan
	err := s.repo.WithTransaction(ctx, func(tx repository.Tx) error {
		l, err := loadLoan(ctx, tx, loanID)
		if err != nil {
			return err
		}

		if err := circulation.RenewalDenial(*l, now, s.policy.MaxRenewals); err != nil {
			return err
		}

		l.DueAt = now.Add(s.policy.LoanPeriod)
		l.RenewalCount++
		l.Renewed = true
		loan = l

		return tx.SaveLoan(ctx, l)
	})
	if err != nil {
		return nil, err
	}

	ev := events.New(events.TypeRenew, now)
	ev.PatronID = loan.PatronID
	ev.ItemID = loan.ItemID
	ev.LoanID = loan.ID
	ev.DueAt = loan.DueAt
	s.events.Publish(ev)

	return loan, nil
}

// Return закрывает выдачу, начисляет штраф за просрочку и возвращает экземпляр в фонд.
// Изменения позиции, читателя и выдачи фиксируются вместе.
func (s *Service) Return(ctx context.Context, loanID int64) (*model.ReturnResult, error) {
	now := s.clock()

	var (
		res    model.ReturnResult
		loan   model.Loan
		itemID int64
	)
	err := s.repo.WithTransaction(ctx, func(tx repository.Tx) error {
		// Ссылки выдачи читаются без блокировки, чтобы затем
		// заблокировать позицию и читателя раньше самой выдачи.
		found, err := tx.FindLoan(ctx, loanID)
		if err != nil {
			return notFound(err, circulation.EntityLoan, loanID)
		}
		if !circulation.CanReturn(*found) {
			return circulation.Fail(circulation.ErrLoanAlreadyClosed, circulation.EntityLoan, loanID, "")
		}

		item, err := loadItem(ctx, tx, found.ItemID)
		if err != nil {
			return err
		}
		patron, err := loadPatron(ctx, tx, found.PatronID)
		if err != nil {
			return err
		}
		l, err := loadLoan(ctx, tx, loanID)
		if err != nil {
			return err
		}
		if !circulation.CanReturn(*l) {
			return circulation.Fail(circulation.ErrLoanAlreadyClosed, circulation.EntityLoan, loanID, "")
		}

		fine := circulation.ComputeFine(l.DueAt, now, s.policy.DailyFineCents)
		returnedAt := now
		l.ReturnedAt = &returnedAt
		l.FineCents = fine

		if item.AvailableCopies < item.TotalCopies {
			item.AvailableCopies++
		}
		if patron.OpenLoans > 0 {
			patron.OpenLoans--
		}
		patron.FineCents += fine

		if err := tx.SaveItem(ctx, item); err != nil {
			return err
		}
		if err := tx.SavePatron(ctx, patron); err != nil {
			return err
		}
		if err := tx.SaveLoan(ctx, l); err != nil {
			return err
		}

		loan = *l
		itemID = item.ID
		res = model.ReturnResult{
			LoanID:          loanID,
			ReturnedAt:      now,
			FineCents:       fine,
			PatronFineCents: patron.FineCents,
			AvailableCopies: item.AvailableCopies,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ev := events.New(events.TypeReturn, now)
	ev.PatronID = loan.PatronID
	ev.ItemID = itemID
	ev.LoanID = loanID
	ev.AvailableDelta = 1
	s.events.Publish(ev)

	if res.FineCents > 0 {
		fe := events.New(events.TypeFineAssessed, now)
		fe.PatronID = loan.PatronID
		fe.LoanID = loanID
		fe.FineDeltaCents = res.FineCents
		s.events.Publish(fe)
	}

	return &res, nil
}

// SettleFine уменьшает задолженность читателя ровно на amountCents и возвращает новый остаток.
func (s *Service) SettleFine(ctx context.Context, patronID, amountCents int64) (int64, error) {
	now := s.clock()

	if amountCents <= 0 {
		return 0, circulation.Fail(circulation.ErrInvalidPaymentAmount, circulation.EntityPatron, patronID, "amount must be positive")
	}

	var balance int64
	err := s.repo.WithTransaction(ctx, func(tx repository.Tx) error {
		patron, err := loadPatron(ctx, tx, patronID)
		if err != nil {
			return err
		}

		if amountCents > patron.FineCents {
			return circulation.Fail(circulation.ErrInvalidPaymentAmount, circulation.EntityPatron, patronID, "amount exceeds outstanding balance")
		}

		patron.FineCents -= amountCents
		balance = patron.FineCents

		return tx.SavePatron(ctx, patron)
	})
	if err != nil {
		return 0, err
	}

	ev := events.New(events.TypeFineSettled, now)
	ev.PatronID = patronID
	ev.FineDeltaCents = -amountCents
	s.events.Publish(ev)

	return balance, nil
}

// Preview показывает состояние просрочки и прогнозируемый штраф без изменения выдачи.
func (s *Service) Preview(ctx context.Context, loanID int64) (*model.Preview, error) {
	now := s.clock()

	var loan *model.Loan
	err := s.repo.WithTransaction(ctx, func(tx repository.Tx) error {
		l, err := tx.FindLoan(ctx, loanID)
		if err != nil {
			return notFound(err, circulation.EntityLoan, loanID)
		}
		loan = l
		return nil
	})
	if err != nil {
		return nil, err
	}

	p := &model.Preview{
		LoanID: loan.ID,
		State:  loan.State(),
		DueAt:  loan.DueAt,
	}

	if !loan.IsOpen() {
		p.DaysOverdue = circulation.DaysOverdue(loan.DueAt, *loan.ReturnedAt)
		p.ProjectedFineCents = loan.FineCents
		return p, nil
	}

	p.IsOverdue = now.After(loan.DueAt)
	p.DaysOverdue = circulation.DaysOverdue(loan.DueAt, now)
	p.ProjectedFineCents = circulation.ComputeFine(loan.DueAt, now, s.policy.DailyFineCents)

	return p, nil
}

// GetLoan возвращает выдачу по идентификатору.
func (s *Service) GetLoan(ctx context.Context, loanID int64) (*model.Loan, error) {
	var loan *model.Loan
	err := s.repo.WithTransaction(ctx, func(tx repository.Tx) error {
		l, err := tx.FindLoan(ctx, loanID)
		if err != nil {
			return notFound(err, circulation.EntityLoan, loanID)
		}
		loan = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return loan, nil
}

// ListPatronLoans возвращает историю выдач читателя, начиная с последней.
func (s *Service) ListPatronLoans(ctx context.Context, patronID int64) ([]model.Loan, error) {
	var loans []model.Loan
	err := s.repo.WithTransaction(ctx, func(tx repository.Tx) error {
		if _, err := tx.LoadPatron(ctx, patronID); err != nil {
			return notFound(err, circulation.EntityPatron, patronID)
		}
		var err error
		loans, err = tx.ListPatronLoans(ctx, patronID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return loans, nil
}

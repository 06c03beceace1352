package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/circulation-system/internal/circulation"
	"github.com/mmeshcher/circulation-system/internal/model"
)

func TestWithRetry_RetriesContentionOnly(t *testing.T) {
	r := &PostgresRepository{retryDelays: []time.Duration{0, 0}}

	calls := 0
	err := r.withRetry(context.Background(), func() error {
		calls++
		return &pgconn.PgError{Code: pgerrcode.SerializationFailure}
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls, "initial attempt plus one per delay")
	assert.ErrorIs(t, classify(err), circulation.ErrContention)

	calls = 0
	err = r.withRetry(context.Background(), func() error {
		calls++
		return circulation.Fail(circulation.ErrItemUnavailable, circulation.EntityItem, 1, "")
	})
	assert.ErrorIs(t, err, circulation.ErrItemUnavailable)
	assert.Equal(t, 1, calls, "domain failures are never retried")

	calls = 0
	err = r.withRetry(context.Background(), func() error {
		calls++
		if calls < 2 {
			return &pgconn.PgError{Code: pgerrcode.DeadlockDetected}
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "nil", err: nil, want: nil},
		{name: "not found passes through", err: ErrNotFound, want: ErrNotFound},
		{name: "domain passes through", err: circulation.NotFound(circulation.EntityLoan, 1), want: circulation.ErrNotFound},
		{name: "lock timeout", err: &pgconn.PgError{Code: pgerrcode.LockNotAvailable}, want: circulation.ErrContention},
		{name: "check violation", err: &pgconn.PgError{Code: pgerrcode.CheckViolation}, want: circulation.ErrInvalidEntity},
		{name: "canceled", err: context.Canceled, want: context.Canceled},
		{name: "connection", err: fmt.Errorf("begin tx: %w", errors.New("dial tcp: connection refused")), want: circulation.ErrStorageUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			if tt.want == nil {
				assert.NoError(t, got)
				return
			}
			assert.ErrorIs(t, got, tt.want)
		})
	}
}

func newTestPostgres(t *testing.T) *PostgresRepository {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URI")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URI is not set")
	}

	repo, err := NewPostgresRepository(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	_, err = repo.pool.Exec(context.Background(), `TRUNCATE loans, patrons, items RESTART IDENTITY CASCADE`)
	require.NoError(t, err)

	return repo
}

func TestPostgresRepository_RoundTrip(t *testing.T) {
	repo := newTestPostgres(t)
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	var item model.Item
	var patron model.Patron
	var loan model.Loan
	err := repo.WithTransaction(ctx, func(tx Tx) error {
		item = model.Item{Title: "Dune", TotalCopies: 1, AvailableCopies: 1, CreatedAt: now}
		if err := tx.CreateItem(ctx, &item); err != nil {
			return err
		}
		patron = model.Patron{Name: "Ann", Active: true, ExpiresAt: now.AddDate(1, 0, 0), BorrowLimit: 3, CreatedAt: now}
		if err := tx.CreatePatron(ctx, &patron); err != nil {
			return err
		}
		loan = model.Loan{PatronID: patron.ID, ItemID: item.ID, BorrowedAt: now, DueAt: now.Add(circulation.DefaultLoanPeriod)}
		return tx.CreateLoan(ctx, &loan)
	})
	require.NoError(t, err)

	err = repo.WithTransaction(ctx, func(tx Tx) error {
		got, err := tx.LoadLoan(ctx, loan.ID)
		require.NoError(t, err)
		assert.True(t, got.IsOpen())
		assert.True(t, got.DueAt.Equal(loan.DueAt))

		history, err := tx.ListPatronLoans(ctx, patron.ID)
		require.NoError(t, err)
		assert.Len(t, history, 1)

		overdue, err := tx.ListOverdueLoans(ctx, now.Add(30*24*time.Hour), OverdueCursor{}, 10)
		require.NoError(t, err)
		require.Len(t, overdue, 1)

		after, err := tx.ListOverdueLoans(ctx, now.Add(30*24*time.Hour),
			OverdueCursor{DueAt: overdue[0].DueAt, ID: overdue[0].ID}, 10)
		require.NoError(t, err)
		assert.Empty(t, after)

		found, err := tx.SearchItems(ctx, "dun", 10)
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, item.ID, found[0].ID)

		pct, err := tx.SearchItems(ctx, "%", 10)
		require.NoError(t, err)
		assert.Empty(t, pct)
		return nil
	})
	require.NoError(t, err)
}

func TestPostgresRepository_CheckConstraintIsInvalidEntity(t *testing.T) {
	repo := newTestPostgres(t)
	ctx := context.Background()

	err := repo.WithTransaction(ctx, func(tx Tx) error {
		item := model.Item{Title: "Broken", TotalCopies: 1, AvailableCopies: 2, CreatedAt: time.Now()}
		return tx.CreateItem(ctx, &item)
	})
	assert.ErrorIs(t, err, circulation.ErrInvalidEntity)
}

func TestPostgresRepository_RowLockSerializesDecrements(t *testing.T) {
	repo := newTestPostgres(t)
	ctx := context.Background()

	var itemID int64
	require.NoError(t, repo.WithTransaction(ctx, func(tx Tx) error {
		item := model.Item{Title: "Last copy", TotalCopies: 1, AvailableCopies: 1, CreatedAt: time.Now()}
		err := tx.CreateItem(ctx, &item)
		itemID = item.ID
		return err
	}))

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.WithTransaction(ctx, func(tx Tx) error {
				item, err := tx.LoadItem(ctx, itemID)
				if err != nil {
					return err
				}
				if item.AvailableCopies == 0 {
					return circulation.Fail(circulation.ErrItemUnavailable, circulation.EntityItem, itemID, "")
				}
				item.AvailableCopies--
				return tx.SaveItem(ctx, item)
			})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
}

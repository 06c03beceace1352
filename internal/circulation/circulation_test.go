package circulation

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/circulation-system/internal/model"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}

func TestComputeFine(t *testing.T) {
	due := mustTime(t, "2024-01-01T00:00:00Z")

	tests := []struct {
		name string
		at   time.Time
		rate int64
		want int64
	}{
		{name: "before due", at: due.Add(-time.Hour), rate: 100, want: 0},
		{name: "exactly at due", at: due, rate: 100, want: 0},
		{name: "partial day", at: due.Add(23 * time.Hour), rate: 100, want: 0},
		{name: "one full day", at: due.Add(24 * time.Hour), rate: 100, want: 100},
		{name: "three days", at: mustTime(t, "2024-01-04T00:00:00Z"), rate: 100, want: 300},
		{name: "three and a half days", at: due.Add(84 * time.Hour), rate: 100, want: 300},
		{name: "custom rate", at: due.Add(48 * time.Hour), rate: 25, want: 50},
		{name: "zero rate", at: due.Add(48 * time.Hour), rate: 0, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeFine(due, tt.at, tt.rate))
		})
	}
}

func eligiblePatron(now time.Time) model.Patron {
	return model.Patron{
		ID:          1,
		Active:      true,
		ExpiresAt:   now.Add(time.Hour),
		BorrowLimit: 2,
	}
}

func TestIneligibilityReason(t *testing.T) {
	now := mustTime(t, "2024-03-01T12:00:00Z")

	tests := []struct {
		name   string
		modify func(p *model.Patron)
		want   string
	}{
		{name: "eligible", modify: func(p *model.Patron) {}, want: ""},
		{name: "inactive", modify: func(p *model.Patron) { p.Active = false }, want: ReasonInactive},
		{name: "expired at instant", modify: func(p *model.Patron) { p.ExpiresAt = now }, want: ReasonExpired},
		{name: "unpaid fine", modify: func(p *model.Patron) { p.FineCents = 500 }, want: ReasonUnpaidFine},
		{name: "at limit", modify: func(p *model.Patron) { p.OpenLoans = 2 }, want: ReasonBorrowLimit},
		{name: "below limit", modify: func(p *model.Patron) { p.OpenLoans = 1 }, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := eligiblePatron(now)
			tt.modify(&p)
			assert.Equal(t, tt.want, IneligibilityReason(p, now))
			assert.Equal(t, tt.want == "", IsEligible(p, now))
		})
	}
}

func TestCanBorrow(t *testing.T) {
	now := mustTime(t, "2024-03-01T12:00:00Z")
	p := eligiblePatron(now)

	assert.True(t, CanBorrow(p, model.Item{TotalCopies: 1, AvailableCopies: 1}, now))
	assert.False(t, CanBorrow(p, model.Item{TotalCopies: 1, AvailableCopies: 0}, now))

	p.FineCents = 1
	assert.False(t, CanBorrow(p, model.Item{TotalCopies: 1, AvailableCopies: 1}, now))
}

func TestCanRenew(t *testing.T) {
	due := mustTime(t, "2024-01-15T00:00:00Z")
	returned := due.Add(-time.Hour)

	tests := []struct {
		name    string
		loan    model.Loan
		now     time.Time
		want    bool
		wantErr error
	}{
		{
			name: "open and not due",
			loan: model.Loan{ID: 1, DueAt: due},
			now:  due.Add(-time.Hour),
			want: true,
		},
		{
			name: "exactly at due instant",
			loan: model.Loan{ID: 1, DueAt: due},
			now:  due,
			want: true,
		},
		{
			name:    "overdue",
			loan:    model.Loan{ID: 1, DueAt: due},
			now:     due.Add(24 * time.Hour),
			wantErr: ErrLoanOverdue,
		},
		{
			name:    "limit reached",
			loan:    model.Loan{ID: 1, DueAt: due, RenewalCount: 2},
			now:     due.Add(-time.Hour),
			wantErr: ErrRenewalLimitExceeded,
		},
		{
			name:    "closed",
			loan:    model.Loan{ID: 1, DueAt: due, ReturnedAt: &returned},
			now:     due.Add(-time.Hour),
			wantErr: ErrLoanAlreadyClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanRenew(tt.loan, tt.now, 2))

			err := RenewalDenial(tt.loan, tt.now, 2)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)

			var cerr *Error
			require.True(t, errors.As(err, &cerr))
			assert.Equal(t, EntityLoan, cerr.Entity)
			assert.Equal(t, int64(1), cerr.ID)
		})
	}
}

func TestCanReturn(t *testing.T) {
	now := time.Unix(0, 0).UTC()
	assert.True(t, CanReturn(model.Loan{}))
	assert.False(t, CanReturn(model.Loan{ReturnedAt: &now}))
}

func TestValidateItem(t *testing.T) {
	assert.NoError(t, ValidateItem(model.Item{TotalCopies: 2, AvailableCopies: 2}))
	assert.NoError(t, ValidateItem(model.Item{TotalCopies: 2, AvailableCopies: 0}))
	assert.ErrorIs(t, ValidateItem(model.Item{TotalCopies: 0}), ErrInvalidEntity)
	assert.ErrorIs(t, ValidateItem(model.Item{TotalCopies: 1, AvailableCopies: -1}), ErrInvalidEntity)
	assert.ErrorIs(t, ValidateItem(model.Item{TotalCopies: 1, AvailableCopies: 2}), ErrInvalidEntity)
}

func TestValidatePatron(t *testing.T) {
	assert.NoError(t, ValidatePatron(model.Patron{BorrowLimit: 1}))
	assert.ErrorIs(t, ValidatePatron(model.Patron{BorrowLimit: 0}), ErrInvalidEntity)
	assert.ErrorIs(t, ValidatePatron(model.Patron{BorrowLimit: 1, FineCents: -1}), ErrInvalidEntity)
}

func TestValidateLoan(t *testing.T) {
	now := time.Unix(0, 0).UTC()
	valid := model.Loan{PatronID: 1, ItemID: 1, BorrowedAt: now, DueAt: now.Add(DefaultLoanPeriod)}
	assert.NoError(t, ValidateLoan(valid))

	noRefs := valid
	noRefs.ItemID = 0
	assert.ErrorIs(t, ValidateLoan(noRefs), ErrInvalidEntity)

	openWithFine := valid
	openWithFine.FineCents = 100
	assert.ErrorIs(t, ValidateLoan(openWithFine), ErrInvalidEntity)

	negativeRenewals := valid
	negativeRenewals.RenewalCount = -1
	assert.ErrorIs(t, ValidateLoan(negativeRenewals), ErrInvalidEntity)

	// Выдача, продлённая под прежним, более высоким лимитом, остаётся корректной.
	renewedUnderOldLimit := valid
	renewedUnderOldLimit.RenewalCount = 5
	assert.NoError(t, ValidateLoan(renewedUnderOldLimit))
	assert.ErrorIs(t, RenewalDenial(renewedUnderOldLimit, now, 1), ErrRenewalLimitExceeded)
}

func TestUnavailabilityReason(t *testing.T) {
	tests := []struct {
		name string
		item model.Item
		want string
	}{
		{name: "available", item: model.Item{TotalCopies: 2, AvailableCopies: 1}, want: ""},
		{name: "all lent", item: model.Item{TotalCopies: 2, AvailableCopies: 0}, want: ReasonNoCopies},
		{name: "withdrawn wins", item: model.Item{TotalCopies: 2, AvailableCopies: 2, Withdrawn: true}, want: ReasonWithdrawn},
	}

	p := model.Patron{Active: true, ExpiresAt: time.Unix(0, 0).Add(time.Hour), BorrowLimit: 1}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UnavailabilityReason(tt.item))
			assert.Equal(t, tt.want == "", CanBorrow(p, tt.item, time.Unix(0, 0)))
		})
	}
}

func TestErrorFormattingAndKind(t *testing.T) {
	err := Fail(ErrPatronIneligible, EntityPatron, 7, ReasonUnpaidFine)
	assert.Equal(t, "patron ineligible: patron 7: unpaid fine", err.Error())
	assert.Equal(t, ErrPatronIneligible, KindOf(err))
	assert.False(t, IsRetryable(err))

	wrapped := Fail(ErrContention, "", 0, "")
	assert.Equal(t, "contention", wrapped.Error())
	assert.True(t, IsRetryable(wrapped))
	assert.Nil(t, KindOf(errors.New("boom")))
}

func TestPolicyValidate(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Validate())

	p := DefaultPolicy()
	p.LoanPeriod = 0
	assert.Error(t, p.Validate())

	p = DefaultPolicy()
	p.BorrowLimit = 0
	assert.Error(t, p.Validate())

	p = DefaultPolicy()
	p.DailyFineCents = -1
	assert.Error(t, p.Validate())
}

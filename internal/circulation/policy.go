package circulation

import (
	"errors"
	"time"
)

// Значения политики по умолчанию.
const (
	DefaultLoanPeriod       = 14 * 24 * time.Hour
	DefaultMaxRenewals      = 2
	DefaultDailyFineCents   = 100
	DefaultBorrowLimit      = 3
	DefaultMembershipPeriod = 365 * 24 * time.Hour
)

// Policy содержит параметры правил книговыдачи.
type Policy struct {
	LoanPeriod       time.Duration
	MaxRenewals      int
	DailyFineCents   int64
	BorrowLimit      int
	MembershipPeriod time.Duration
}

// DefaultPolicy возвращает политику со значениями по умолчанию.
func DefaultPolicy() Policy {
	return Policy{
		LoanPeriod:       DefaultLoanPeriod,
		MaxRenewals:      DefaultMaxRenewals,
		DailyFineCents:   DefaultDailyFineCents,
		BorrowLimit:      DefaultBorrowLimit,
		MembershipPeriod: DefaultMembershipPeriod,
	}
}

// Validate проверяет, что параметры политики осмысленны.
func (p Policy) Validate() error {
	switch {
	case p.LoanPeriod <= 0:
		return errors.New("loan period must be positive")
	case p.MaxRenewals < 0:
		return errors.New("max renewals must not be negative")
	case p.DailyFineCents < 0:
		return errors.New("daily fine must not be negative")
	case p.BorrowLimit < 1:
		return errors.New("borrow limit must be at least 1")
	case p.MembershipPeriod <= 0:
		return errors.New("membership period must be positive")
	}
	return nil
}

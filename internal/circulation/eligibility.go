package circulation

import (
	"time"

	"github.com/mmeshcher/circulation-system/internal/model"
)

// Причины недопуска читателя.
const (
	ReasonInactive     = "membership inactive"
	ReasonExpired      = "membership expired"
	ReasonUnpaidFine   = "unpaid fine"
	ReasonBorrowLimit  = "borrowing limit reached"
	ReasonNoCopies     = "no available copies"
	ReasonWithdrawn    = "item withdrawn"
	ReasonRenewalLimit = "renewal limit reached"
	ReasonPastDue      = "loan is past due"
)

// IneligibilityReason возвращает причину, по которой читатель не может брать книги,
// или пустую строку, если читатель допущен.
func IneligibilityReason(p model.Patron, now time.Time) string {
	switch {
	case !p.Active:
		return ReasonInactive
	case !now.Before(p.ExpiresAt):
		return ReasonExpired
	case p.FineCents != 0:
		return ReasonUnpaidFine
	case p.OpenLoans >= p.BorrowLimit:
		return ReasonBorrowLimit
	}
	return ""
}

// IsEligible сообщает, допущен ли читатель к выдаче.
func IsEligible(p model.Patron, now time.Time) bool {
	return IneligibilityReason(p, now) == ""
}

// UnavailabilityReason возвращает причину, по которой экземпляр позиции нельзя выдать,
// или пустую строку.
func UnavailabilityReason(item model.Item) string {
	switch {
	case item.Withdrawn:
		return ReasonWithdrawn
	case item.AvailableCopies <= 0:
		return ReasonNoCopies
	}
	return ""
}

// CanBorrow сообщает, может ли читатель получить экземпляр позиции.
func CanBorrow(p model.Patron, item model.Item, now time.Time) bool {
	return IsEligible(p, now) && UnavailabilityReason(item) == ""
}

// CanRenew сообщает, можно ли продлить выдачу. Момент срока считается ещё не просрочкой.
func CanRenew(l model.Loan, now time.Time, maxRenewals int) bool {
	return l.IsOpen() && l.RenewalCount < maxRenewals && !now.After(l.DueAt)
}

// CanReturn сообщает, можно ли вернуть экземпляр по выдаче.
func CanReturn(l model.Loan) bool {
	return l.IsOpen()
}

// RenewalDenial возвращает ошибку с причиной отказа в продлении или nil.
func RenewalDenial(l model.Loan, now time.Time, maxRenewals int) error {
	switch {
	case !l.IsOpen():
		return Fail(ErrLoanAlreadyClosed, EntityLoan, l.ID, "")
	case now.After(l.DueAt):
		return Fail(ErrLoanOverdue, EntityLoan, l.ID, ReasonPastDue)
	case l.RenewalCount >= maxRenewals:
		return Fail(ErrRenewalLimitExceeded, EntityLoan, l.ID, ReasonRenewalLimit)
	}
	return nil
}

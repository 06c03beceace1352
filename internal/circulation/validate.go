package circulation

import (
	"fmt"

	"github.com/mmeshcher/circulation-system/internal/model"
)

// ValidateItem проверяет инварианты счётчиков экземпляров.
func ValidateItem(i model.Item) error {
	switch {
	case i.TotalCopies < 1:
		return Fail(ErrInvalidEntity, EntityItem, i.ID, "total copies must be at least 1")
	case i.AvailableCopies < 0:
		return Fail(ErrInvalidEntity, EntityItem, i.ID, "available copies must not be negative")
	case i.AvailableCopies > i.TotalCopies:
		return Fail(ErrInvalidEntity, EntityItem, i.ID,
			fmt.Sprintf("available copies %d exceed total %d", i.AvailableCopies, i.TotalCopies))
	}
	return nil
}

// ValidatePatron проверяет инварианты читателя.
func ValidatePatron(p model.Patron) error {
	switch {
	case p.BorrowLimit < 1:
		return Fail(ErrInvalidEntity, EntityPatron, p.ID, "borrow limit must be at least 1")
	case p.FineCents < 0:
		return Fail(ErrInvalidEntity, EntityPatron, p.ID, "fine balance must not be negative")
	case p.OpenLoans < 0:
		return Fail(ErrInvalidEntity, EntityPatron, p.ID, "open loan count must not be negative")
	}
	return nil
}

// ValidateLoan проверяет структурные инварианты выдачи. Число продлений сверяется
// с лимитом политики в RenewalDenial: лимит может измениться после продления.
func ValidateLoan(l model.Loan) error {
	switch {
	case l.PatronID == 0 || l.ItemID == 0:
		return Fail(ErrInvalidEntity, EntityLoan, l.ID, "patron and item references are required")
	case l.DueAt.Before(l.BorrowedAt):
		return Fail(ErrInvalidEntity, EntityLoan, l.ID, "due date precedes borrow date")
	case l.RenewalCount < 0:
		return Fail(ErrInvalidEntity, EntityLoan, l.ID, "renewal count must not be negative")
	case l.IsOpen() && l.FineCents != 0:
		return Fail(ErrInvalidEntity, EntityLoan, l.ID, "open loan carries a fine")
	case l.FineCents < 0:
		return Fail(ErrInvalidEntity, EntityLoan, l.ID, "fine must not be negative")
	}
	return nil
}

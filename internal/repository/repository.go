// Package repository содержит реализации хранилища каталога, читателей и выдач.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/mmeshcher/circulation-system/internal/model"
)

// ErrNotFound возвращается, если запись с указанным идентификатором отсутствует.
var ErrNotFound = errors.New("record not found")

// OverdueCursor задаёт позицию в упорядоченном по (DueAt, ID) списке просроченных выдач.
// Нулевое значение означает начало списка.
type OverdueCursor struct {
	DueAt time.Time
	ID    int64
}

// Tx описывает операции над хранилищем внутри одной транзакции.
//
// Load* блокируют запись до конца транзакции. Внутри транзакции записи
// блокируются в порядке: позиция, читатель, выдача.
type Tx interface {
	LoadItem(ctx context.Context, id int64) (*model.Item, error)
	CreateItem(ctx context.Context, item *model.Item) error
	SaveItem(ctx context.Context, item *model.Item) error
	// ListItems и SearchItems не возвращают списанные позиции.
	ListItems(ctx context.Context, limit int) ([]model.Item, error)
	SearchItems(ctx context.Context, term string, limit int) ([]model.Item, error)

	LoadPatron(ctx context.Context, id int64) (*model.Patron, error)
	CreatePatron(ctx context.Context, patron *model.Patron) error
	SavePatron(ctx context.Context, patron *model.Patron) error

	// FindLoan читает выдачу без блокировки.
	FindLoan(ctx context.Context, id int64) (*model.Loan, error)
	LoadLoan(ctx context.Context, id int64) (*model.Loan, error)
	CreateLoan(ctx context.Context, loan *model.Loan) error
	SaveLoan(ctx context.Context, loan *model.Loan) error
	ListPatronLoans(ctx context.Context, patronID int64) ([]model.Loan, error)
	// ListOverdueLoans возвращает открытые выдачи со сроком раньше now, следующие за after.
	ListOverdueLoans(ctx context.Context, now time.Time, after OverdueCursor, limit int) ([]model.Loan, error)
}

// Store выполняет fn атомарно: все изменения фиксируются, если fn вернула nil,
// и полностью откатываются в противном случае.
type Store interface {
	WithTransaction(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

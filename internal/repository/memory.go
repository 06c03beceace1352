package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mmeshcher/circulation-system/internal/model"
)

var _ Store = (*MemoryRepository)(nil)

type memoryState struct {
	items   map[int64]model.Item
	patrons map[int64]model.Patron
	loans   map[int64]model.Loan

	nextItemID   int64
	nextPatronID int64
	nextLoanID   int64
}

func newMemoryState() memoryState {
	return memoryState{
		items:   make(map[int64]model.Item),
		patrons: make(map[int64]model.Patron),
		loans:   make(map[int64]model.Loan),
	}
}

func (s memoryState) clone() memoryState {
	c := memoryState{
		items:        make(map[int64]model.Item, len(s.items)),
		patrons:      make(map[int64]model.Patron, len(s.patrons)),
		loans:        make(map[int64]model.Loan, len(s.loans)),
		nextItemID:   s.nextItemID,
		nextPatronID: s.nextPatronID,
		nextLoanID:   s.nextLoanID,
	}
	for k, v := range s.items {
		c.items[k] = v
	}
	for k, v := range s.patrons {
		c.patrons[k] = v
	}
	for k, v := range s.loans {
		c.loans[k] = cloneLoan(v)
	}
	return c
}

func cloneLoan(l model.Loan) model.Loan {
	if l.ReturnedAt != nil {
		ts := *l.ReturnedAt
		l.ReturnedAt = &ts
	}
	return l
}

// MemoryRepository хранит состояние в памяти процесса. Транзакции
// сериализуются мьютексом и работают над копией состояния, которая
// подменяет текущее только при успешном завершении.
type MemoryRepository struct {
	mu    sync.Mutex
	state memoryState
}

// NewMemoryRepository создаёт пустое хранилище в памяти.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{state: newMemoryState()}
}

// WithTransaction выполняет fn над копией состояния.
func (r *MemoryRepository) WithTransaction(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &memoryTx{state: r.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}

	r.state = tx.state
	return nil
}

// Close ничего не делает и нужен для совместимости со Store.
func (r *MemoryRepository) Close() error {
	return nil
}

type memoryTx struct {
	state memoryState
}

func (tx *memoryTx) LoadItem(_ context.Context, id int64) (*model.Item, error) {
	item, ok := tx.state.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &item, nil
}

func (tx *memoryTx) CreateItem(_ context.Context, item *model.Item) error {
	tx.state.nextItemID++
	item.ID = tx.state.nextItemID
	tx.state.items[item.ID] = *item
	return nil
}

func (tx *memoryTx) SaveItem(_ context.Context, item *model.Item) error {
	if _, ok := tx.state.items[item.ID]; !ok {
		return ErrNotFound
	}
	tx.state.items[item.ID] = *item
	return nil
}

func (tx *memoryTx) ListItems(_ context.Context, limit int) ([]model.Item, error) {
	return tx.filterItems(func(model.Item) bool { return true }, limit), nil
}

func (tx *memoryTx) SearchItems(_ context.Context, term string, limit int) ([]model.Item, error) {
	term = strings.ToLower(term)
	return tx.filterItems(func(item model.Item) bool {
		return strings.Contains(strings.ToLower(item.Title), term) ||
			strings.Contains(strings.ToLower(item.Author), term) ||
			strings.Contains(strings.ToLower(item.ISBN), term)
	}, limit), nil
}

func (tx *memoryTx) filterItems(match func(model.Item) bool, limit int) []model.Item {
	res := make([]model.Item, 0, len(tx.state.items))
	for _, item := range tx.state.items {
		if !item.Withdrawn && match(item) {
			res = append(res, item)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res
}

func (tx *memoryTx) LoadPatron(_ context.Context, id int64) (*model.Patron, error) {
	p, ok := tx.state.patrons[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (tx *memoryTx) CreatePatron(_ context.Context, patron *model.Patron) error {
	tx.state.nextPatronID++
	patron.ID = tx.state.nextPatronID
	tx.state.patrons[patron.ID] = *patron
	return nil
}

func (tx *memoryTx) SavePatron(_ context.Context, patron *model.Patron) error {
	if _, ok := tx.state.patrons[patron.ID]; !ok {
		return ErrNotFound
	}
	tx.state.patrons[patron.ID] = *patron
	return nil
}

func (tx *memoryTx) FindLoan(ctx context.Context, id int64) (*model.Loan, error) {
	return tx.LoadLoan(ctx, id)
}

func (tx *memoryTx) LoadLoan(_ context.Context, id int64) (*model.Loan, error) {
	l, ok := tx.state.loans[id]
	if !ok {
		return nil, ErrNotFound
	}
	l = cloneLoan(l)
	return &l, nil
}

func (tx *memoryTx) CreateLoan(_ context.Context, loan *model.Loan) error {
	tx.state.nextLoanID++
	loan.ID = tx.state.nextLoanID
	tx.state.loans[loan.ID] = cloneLoan(*loan)
	return nil
}

func (tx *memoryTx) SaveLoan(_ context.Context, loan *model.Loan) error {
	if _, ok := tx.state.loans[loan.ID]; !ok {
		return ErrNotFound
	}
	tx.state.loans[loan.ID] = cloneLoan(*loan)
	return nil
}

func (tx *memoryTx) ListPatronLoans(_ context.Context, patronID int64) ([]model.Loan, error) {
	var res []model.Loan
	for _, l := range tx.state.loans {
		if l.PatronID == patronID {
			res = append(res, cloneLoan(l))
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].BorrowedAt.Equal(res[j].BorrowedAt) {
			return res[i].ID > res[j].ID
		}
		return res[i].BorrowedAt.After(res[j].BorrowedAt)
	})
	return res, nil
}

func (tx *memoryTx) ListOverdueLoans(_ context.Context, now time.Time, after OverdueCursor, limit int) ([]model.Loan, error) {
	var res []model.Loan
	for _, l := range tx.state.loans {
		if l.IsOpen() && now.After(l.DueAt) && after.before(l) {
			res = append(res, cloneLoan(l))
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].DueAt.Equal(res[j].DueAt) {
			return res[i].ID < res[j].ID
		}
		return res[i].DueAt.Before(res[j].DueAt)
	})
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (c OverdueCursor) before(l model.Loan) bool {
	if l.DueAt.Equal(c.DueAt) {
		return l.ID > c.ID
	}
	return l.DueAt.After(c.DueAt)
}

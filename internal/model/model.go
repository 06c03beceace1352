// Package model содержит доменные сущности сервиса книговыдачи.
package model

import "time"

// Item представляет позицию каталога с пулом экземпляров.
type Item struct {
	ID              int64
	Title           string
	Author          string
	ISBN            string
	TotalCopies     int
	AvailableCopies int
	// Withdrawn: позиция списана из фонда и не выдаётся; запись сохраняется ради истории выдач.
	Withdrawn bool
	CreatedAt time.Time
}

// Patron представляет зарегистрированного читателя.
type Patron struct {
	ID          int64
	Name        string
	Email       string
	Active      bool
	ExpiresAt   time.Time
	BorrowLimit int
	OpenLoans   int
	// FineCents: непогашенный остаток штрафов в копейках.
	FineCents int64
	CreatedAt time.Time
}

// LoanState описывает состояние выдачи.
type LoanState string

const (
	LoanStateOpen    LoanState = "OPEN"
	LoanStateRenewed LoanState = "RENEWED"
	LoanStateClosed  LoanState = "CLOSED"
)

// Loan описывает выдачу одного экземпляра одному читателю.
type Loan struct {
	ID           int64
	PatronID     int64
	ItemID       int64
	BorrowedAt   time.Time
	DueAt        time.Time
	ReturnedAt   *time.Time
	FineCents    int64
	RenewalCount int
	Renewed      bool
}

// IsOpen сообщает, что экземпляр ещё не возвращён.
func (l *Loan) IsOpen() bool {
	return l.ReturnedAt == nil
}

// State вычисляет состояние выдачи по её полям.
func (l *Loan) State() LoanState {
	switch {
	case !l.IsOpen():
		return LoanStateClosed
	case l.RenewalCount > 0:
		return LoanStateRenewed
	default:
		return LoanStateOpen
	}
}

// Preview содержит результат просмотра выдачи без её изменения.
type Preview struct {
	LoanID             int64
	State              LoanState
	DueAt              time.Time
	IsOverdue          bool
	DaysOverdue        int64
	ProjectedFineCents int64
}

// ReturnResult описывает итог возврата экземпляра.
type ReturnResult struct {
	LoanID          int64
	ReturnedAt      time.Time
	FineCents       int64
	PatronFineCents int64
	AvailableCopies int
}

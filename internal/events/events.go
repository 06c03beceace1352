// Package events описывает доменные события книговыдачи и их асинхронную доставку наблюдателю.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Type описывает тип доменного события.
type Type string

const (
	TypeCheckout     Type = "Checkout"
	TypeRenew        Type = "Renew"
	TypeReturn       Type = "Return"
	TypeFineAssessed Type = "FineAssessed"
	TypeFineSettled  Type = "FineSettled"
	TypeLoanOverdue  Type = "LoanOverdue"
)

// Event несёт идентификаторы сущностей, момент события и изменения счётчиков.
// Нулевые поля означают, что событие их не касается.
type Event struct {
	ID         uuid.UUID
	Type       Type
	OccurredAt time.Time

	PatronID int64
	ItemID   int64
	LoanID   int64

	AvailableDelta int
	FineDeltaCents int64
	DueAt          time.Time
}

// New создаёт событие с новым идентификатором.
func New(t Type, occurredAt time.Time) Event {
	return Event{
		ID:         uuid.New(),
		Type:       t,
		OccurredAt: occurredAt,
	}
}

// Sink принимает события. Publish не должен блокироваться.
type Sink interface {
	Publish(ev Event)
}

// Discard отбрасывает все события.
type Discard struct{}

// Publish ничего не делает.
func (Discard) Publish(Event) {}

// Package circulation содержит чистые правила книговыдачи: проверки допуска,
// расчёт штрафов, структурную валидацию сущностей и таксономию ошибок.
package circulation

import (
	"errors"
	"fmt"
)

// Виды отказов. Проверяются через errors.Is.
var (
	// ErrNotFound возвращается для неизвестного идентификатора читателя, позиции или выдачи.
	ErrNotFound = errors.New("not found")
	// ErrPatronIneligible возвращается, если читатель не может брать книги.
	ErrPatronIneligible = errors.New("patron ineligible")
	// ErrItemUnavailable возвращается, если свободных экземпляров нет.
	ErrItemUnavailable = errors.New("item unavailable")
	// ErrLoanAlreadyClosed возвращается при операции над закрытой выдачей.
	ErrLoanAlreadyClosed = errors.New("loan already closed")
	// ErrLoanOverdue возвращается при попытке продлить просроченную выдачу.
	ErrLoanOverdue = errors.New("loan overdue")
	// ErrRenewalLimitExceeded возвращается при исчерпании лимита продлений.
	ErrRenewalLimitExceeded = errors.New("renewal limit exceeded")
	// ErrInvalidPaymentAmount возвращается для неположительной суммы или переплаты.
	ErrInvalidPaymentAmount = errors.New("invalid payment amount")
	// ErrInvalidEntity возвращается для структурно некорректной сущности или изменения.
	ErrInvalidEntity = errors.New("invalid entity")
	// ErrContention возвращается, если транзакцию не удалось зафиксировать из-за конкурентной записи.
	ErrContention = errors.New("contention")
	// ErrStorageUnavailable возвращается при недоступности хранилища.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// Сущности, на которые ссылается Error.
const (
	EntityItem   = "item"
	EntityPatron = "patron"
	EntityLoan   = "loan"
)

// Error несёт вид отказа и детали, достаточные для точного сообщения вызывающей стороне.
type Error struct {
	Kind   error
	Entity string
	ID     int64
	Reason string
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Entity != "" {
		msg = fmt.Sprintf("%s: %s %d", msg, e.Entity, e.ID)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// Fail создаёт ошибку указанного вида для сущности.
func Fail(kind error, entity string, id int64, reason string) *Error {
	return &Error{Kind: kind, Entity: entity, ID: id, Reason: reason}
}

// NotFound создаёт ошибку ErrNotFound для сущности.
func NotFound(entity string, id int64) *Error {
	return Fail(ErrNotFound, entity, id, "")
}

// Kinds перечисляет все виды отказов в порядке таксономии.
var Kinds = []error{
	ErrNotFound,
	ErrPatronIneligible,
	ErrItemUnavailable,
	ErrLoanAlreadyClosed,
	ErrLoanOverdue,
	ErrRenewalLimitExceeded,
	ErrInvalidPaymentAmount,
	ErrInvalidEntity,
	ErrContention,
	ErrStorageUnavailable,
}

// KindOf возвращает вид отказа, к которому относится err, или nil.
func KindOf(err error) error {
	for _, k := range Kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// IsRetryable сообщает, имеет ли смысл повторить операцию.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrContention)
}

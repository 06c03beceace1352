package events

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const defaultBuffer = 1024

// LogSink записывает события в журнал из фоновой горутины. При переполнении
// буфера событие отбрасывается и учитывается в Dropped.
type LogSink struct {
	logger  *zap.Logger
	queue   chan Event
	dropped atomic.Int64

	// mu не даёт Publish поставить событие в очередь после того, как run её дочитал.
	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
	stopped chan struct{}
}

// NewLogSink создаёт приёмник с буфером указанного размера и запускает его обработчик.
func NewLogSink(logger *zap.Logger, buffer int) *LogSink {
	if buffer <= 0 {
		buffer = defaultBuffer
	}

	s := &LogSink{
		logger:  logger,
		queue:   make(chan Event, buffer),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	go s.run()

	return s
}

// Publish ставит событие в очередь без ожидания.
func (s *LogSink) Publish(ev Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.dropped.Add(1)
		return
	}

	select {
	case s.queue <- ev:
	default:
		s.dropped.Add(1)
	}
}

// Dropped возвращает количество отброшенных событий.
func (s *LogSink) Dropped() int64 {
	return s.dropped.Load()
}

// Close прекращает приём событий и дожидается записи уже поставленных в очередь.
func (s *LogSink) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	s.mu.Unlock()

	<-s.stopped
}

func (s *LogSink) run() {
	defer close(s.stopped)

	for {
		select {
		case ev := <-s.queue:
			s.write(ev)
		case <-s.done:
			for {
				select {
				case ev := <-s.queue:
					s.write(ev)
				default:
					return
				}
			}
		}
	}
}

func (s *LogSink) write(ev Event) {
	fields := []zap.Field{
		zap.String("event_id", ev.ID.String()),
		zap.String("type", string(ev.Type)),
		zap.Time("occurred_at", ev.OccurredAt),
	}
	if ev.PatronID != 0 {
		fields = append(fields, zap.Int64("patron_id", ev.PatronID))
	}
	if ev.ItemID != 0 {
		fields = append(fields, zap.Int64("item_id", ev.ItemID))
	}
	if ev.LoanID != 0 {
		fields = append(fields, zap.Int64("loan_id", ev.LoanID))
	}
	if ev.AvailableDelta != 0 {
		fields = append(fields, zap.Int("available_delta", ev.AvailableDelta))
	}
	if ev.FineDeltaCents != 0 {
		fields = append(fields, zap.Int64("fine_delta_cents", ev.FineDeltaCents))
	}
	if !ev.DueAt.IsZero() {
		fields = append(fields, zap.String("due_at", ev.DueAt.Format(time.RFC3339)))
	}

	s.logger.Info("circulation event", fields...)
}

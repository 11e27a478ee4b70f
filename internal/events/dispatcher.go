package events

import (
	"sync"

	"go.uber.org/zap"
)

// Observer receives every emitted event. Implementations must not block for long;
// Emit calls observers synchronously on the emitting goroutine.
type Observer interface {
	OnEvent(e Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(e Event)

// OnEvent calls f(e).
func (f ObserverFunc) OnEvent(e Event) {
	f(e)
}

// Emitter is what components depend on to publish events.
type Emitter interface {
	Emit(e Event)
}

// Dispatcher fans events out to registered observers.
type Dispatcher struct {
	mu        sync.RWMutex
	observers []Observer
	logger    *zap.Logger
}

// NewDispatcher creates a dispatcher with no observers.
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	return &Dispatcher{logger: logger}
}

// Register adds an observer.
func (d *Dispatcher) Register(o Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, o)
}

// Emit delivers e to every observer. A panicking observer is logged and skipped.
func (d *Dispatcher) Emit(e Event) {
	d.mu.RLock()
	observers := make([]Observer, len(d.observers))
	copy(observers, d.observers)
	d.mu.RUnlock()

	EventsEmittedTotal.WithLabelValues(string(e.Kind())).Inc()

	for _, o := range observers {
		d.deliver(o, e)
	}
}

func (d *Dispatcher) deliver(o Observer, e Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("observer-panic",
				zap.String("kind", string(e.Kind())),
				zap.Any("panic", r))
		}
	}()
	o.OnEvent(e)
}

// Nop discards events.
type Nop struct{}

// Emit does nothing.
func (Nop) Emit(Event) {}

package eventbus

import "github.com/dokzlo13/lightctl/internal/ensure"

// Sink publishes finished operations onto the bus. It never blocks the caller.
type Sink struct {
	bus *Bus
}

// NewSink returns an ensure.Sink backed by bus.
func NewSink(bus *Bus) *Sink {
	return &Sink{bus: bus}
}

// Record implements ensure.Sink.
func (s *Sink) Record(rec ensure.OperationRecord) {
	s.bus.Publish(Event{Type: EventTypeOperationCompleted, Data: rec})
}

// OperationHandler adapts a typed callback to a Handler for
// EventTypeOperationCompleted events.
func OperationHandler(fn func(ensure.OperationRecord)) Handler {
	return func(e Event) {
		if rec, ok := e.Data.(ensure.OperationRecord); ok {
			fn(rec)
		}
	}
}

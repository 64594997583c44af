package progress

import "context"

// Sink consumes individual progress events. Implementations must be safe for
// repeated calls and must tolerate being invoked many times per second.
type Sink interface {
	Consume(ctx context.Context, evt Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events; Notifier satisfies this interface so
// the pipeline stays agnostic about how events are buffered or delivered.
type Emitter interface {
	Emit(evt Event)
}

// Discard is an Emitter that drops every event. Useful in tests.
type Discard struct{}

// Emit implements Emitter.
func (Discard) Emit(Event) {}

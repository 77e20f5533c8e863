package emit

// NullEmitter implements Emitter by discarding all events.
//
// Use it when observability output is not wanted, for example in
// benchmarks or when the caller wires its own sinks elsewhere:
//
//	runner, err := invoke.NewRunner(breaker, invoke.WithEmitter(emit.NewNullEmitter()))
type NullEmitter struct{}

// NewNullEmitter creates a NullEmitter.
//
// The returned emitter is safe for concurrent use and has zero overhead.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards the event.
func (n *NullEmitter) Emit(event Event) {}

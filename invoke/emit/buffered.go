package emit

import "sync"

// BufferedEmitter implements Emitter by storing events in memory.
//
// The buffer captures every event and offers query helpers for inspecting
// invocation history. Events are grouped by correlation ID so the full
// story of one invocation, including its retries and fallback hops, can be
// retrieved in order.
//
// Features:
//   - Thread-safe concurrent access
//   - Query by correlation ID with optional filtering
//   - Filter by tool, target, or message
//   - Clear by correlation ID or wholesale
//
// Warning: the buffer grows without bound. It is meant for tests,
// debugging, and short-lived inspection, not long-running production use.
//
// Example usage:
//
//	emitter := emit.NewBufferedEmitter()
//	runner, _ := invoke.NewRunner(breaker, invoke.WithEmitter(emitter))
//
//	outcome := runner.Run(ctx, tool, args, execCtx)
//
//	retries := emitter.HistoryWithFilter(execCtx.CorrelationID, emit.HistoryFilter{Msg: "invoke_retry"})
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // correlation ID -> events
}

// HistoryFilter selects a subset of buffered events.
//
// All fields are optional; set fields combine with AND logic.
type HistoryFilter struct {
	Tool   string // filter by tool name (empty = no filter)
	Target string // filter by breaker target (empty = no filter)
	Msg    string // filter by message (empty = no filter)
}

// NewBufferedEmitter creates an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{
		events: make(map[string][]Event),
	}
}

// Emit stores an event in the buffer.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events[event.CorrelationID] = append(b.events[event.CorrelationID], event)
}

// History retrieves all events for a correlation ID in emission order.
//
// Returns an empty slice when nothing was recorded. The result is a copy;
// mutating it does not affect the buffer.
func (b *BufferedEmitter) History(correlationID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events := b.events[correlationID]
	result := make([]Event, len(events))
	copy(result, events)
	return result
}

// HistoryWithFilter retrieves the events for a correlation ID that match
// the filter, in emission order.
func (b *BufferedEmitter) HistoryWithFilter(correlationID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := []Event{}
	for _, event := range b.events[correlationID] {
		if matchesFilter(event, filter) {
			result = append(result, event)
		}
	}
	return result
}

func matchesFilter(event Event, filter HistoryFilter) bool {
	if filter.Tool != "" && event.Tool != filter.Tool {
		return false
	}
	if filter.Target != "" && event.Target != filter.Target {
		return false
	}
	if filter.Msg != "" && event.Msg != filter.Msg {
		return false
	}
	return true
}

// Clear removes stored events.
//
// A non-empty correlationID clears only that invocation's events; an empty
// correlationID clears everything.
func (b *BufferedEmitter) Clear(correlationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if correlationID == "" {
		b.events = make(map[string][]Event)
	} else {
		delete(b.events, correlationID)
	}
}

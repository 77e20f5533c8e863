package emit

// Event represents an observability event emitted during tool invocation.
//
// The runtime publishes events at each interesting moment of a call:
//   - Invocation start and completion
//   - Retry waits between attempts
//   - Circuit-breaker rejections and state changes
//   - Fallback hops
//
// Events are delivered to an Emitter which can:
//   - Log to stdout/stderr
//   - Send to OpenTelemetry
//   - Buffer in memory for inspection
//   - Trigger alerts
type Event struct {
	// CorrelationID identifies the invocation (and its fallback hops)
	// that emitted this event.
	CorrelationID string `json:"correlationID"`

	// Tool is the name of the tool being invoked.
	// Empty for events not tied to a specific tool.
	Tool string `json:"tool"`

	// Target is the circuit-breaker partition the call counts against,
	// usually the tool name or the host of a URL argument.
	Target string `json:"target,omitempty"`

	// Msg is a short machine-matchable description of the event.
	// The runtime uses: "invoke_start", "invoke_retry", "invoke_success",
	// "invoke_failure", "breaker_rejected", "breaker_state", and
	// "fallback_invoke".
	Msg string `json:"msg"`

	// Meta contains additional structured data specific to this event.
	// Common keys:
	//   - "attempt": zero-based index of the attempt that just failed
	//   - "delay_ms": backoff wait before the next attempt
	//   - "duration_ms": total invocation duration
	//   - "retries": retries consumed by the invocation
	//   - "kind": failure classification
	//   - "error": error details
	Meta map[string]interface{} `json:"meta"`
}

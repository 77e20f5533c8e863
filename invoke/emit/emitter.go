package emit

// Emitter receives and processes observability events from tool invocations.
//
// Emitters enable pluggable observability backends:
//   - Logging: stdout, files, syslog
//   - Distributed tracing: OpenTelemetry, Jaeger, Zipkin
//   - In-memory capture for tests and dashboards
//
// Implementations should be:
//   - Non-blocking: avoid slowing down tool execution
//   - Thread-safe: may be called concurrently from multiple invocations
//   - Resilient: a failing backend must never fail the invocation
type Emitter interface {
	// Emit sends an observability event to the configured backend.
	//
	// Emit should not panic and should not block. The runtime treats
	// event delivery as best effort; errors must be handled internally.
	Emit(event Event)
}

// Package invoke provides a resilient execution runtime for agent tools.
//
// The runtime wraps every tool call in the protections a production agent
// needs: argument validation against the tool's declared schema, per-attempt
// timeouts, bounded retries with backoff, per-target circuit breaking, and
// fallback routing to alternate tools. Callers receive a uniform Outcome
// whether the call succeeded, failed, or never ran.
//
// Construction is explicit. A Runner takes its CircuitBreaker and optional
// collaborators (emitter, metrics, store, registry, tracer) through
// constructor injection; nothing is process-global.
//
// Example:
//
//	breaker := invoke.NewCircuitBreaker(invoke.DefaultBreakerConfig())
//	runner, err := invoke.NewRunner(breaker,
//	    invoke.WithEmitter(emit.NewLogEmitter(os.Stdout, false)),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	execCtx := invoke.NewExecutionContext()
//	outcome := runner.Run(ctx, searchTool, map[string]interface{}{
//	    "query": "golang circuit breaker",
//	}, execCtx)
//	if !outcome.Success {
//	    log.Printf("%s failed: %s (%s)", "web_search", outcome.ErrorMessage, outcome.ErrorKind)
//	}
package invoke

import (
	"time"

	"github.com/google/uuid"

	"github.com/relaykit/invoke-go/invoke/emit"
	"github.com/relaykit/invoke-go/invoke/tool"
)

// ExecutionContext carries per-invocation identity and plumbing.
//
// A fresh context per logical invocation keeps correlation IDs unique;
// fallback hops made on the caller's behalf reuse the same context so the
// whole chain shares one correlation ID.
type ExecutionContext struct {
	// CorrelationID ties together the events, records, and spans of one
	// invocation. Generated when empty.
	CorrelationID string

	// Emitter, when set, receives this invocation's events instead of
	// the runner's default emitter.
	Emitter emit.Emitter

	// Session carries caller state that tools may consult, such as user
	// identity or conversation scope. The runtime passes it through
	// untouched.
	Session map[string]interface{}
}

// NewExecutionContext creates an ExecutionContext with a fresh correlation ID.
func NewExecutionContext() ExecutionContext {
	return ExecutionContext{CorrelationID: uuid.NewString()}
}

// Outcome is the uniform result of a tool invocation.
//
// Success distinguishes the two shapes: on success Result holds the tool's
// output; on failure ErrorKind and ErrorMessage describe what went wrong.
// The bookkeeping fields (Elapsed, Retries, FallbackUsed, Meta) are filled
// either way.
type Outcome struct {
	// Success reports whether the invocation produced a result.
	Success bool `json:"success"`

	// Result is the tool output. Nil on failure.
	Result map[string]interface{} `json:"result,omitempty"`

	// ErrorKind classifies the failure. Empty on success.
	ErrorKind tool.ErrorKind `json:"errorKind,omitempty"`

	// ErrorMessage is the failure detail. Empty on success.
	ErrorMessage string `json:"errorMessage,omitempty"`

	// Elapsed is the wall time of the invocation, including retries and
	// backoff waits.
	Elapsed time.Duration `json:"elapsed"`

	// Retries is how many retries the invocation consumed. Zero when the
	// first attempt settled the call, and zero when no attempt ran at
	// all (validation failure or open breaker).
	Retries int `json:"retries"`

	// FallbackUsed reports whether the result came from a fallback tool
	// rather than the one originally invoked.
	FallbackUsed bool `json:"fallbackUsed"`

	// Meta carries extra detail about how the outcome was reached, such
	// as the fallback route taken.
	Meta map[string]interface{} `json:"meta,omitempty"`
}

// Err converts a failed outcome into an error carrying its classification.
// Returns nil for successful outcomes.
func (o Outcome) Err() error {
	if o.Success {
		return nil
	}
	return tool.Errorf(o.ErrorKind, "%s", o.ErrorMessage)
}

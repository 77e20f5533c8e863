package invoke

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/relaykit/invoke-go/invoke/emit"
	"github.com/relaykit/invoke-go/invoke/store"
	"github.com/relaykit/invoke-go/invoke/tool"
)

// ErrNilBreaker is returned by NewRunner when no circuit breaker is supplied.
var ErrNilBreaker = errors.New("runner requires a circuit breaker")

// DefaultBackoff is the wait schedule between retry attempts. The index is
// the zero-based number of the attempt that just failed; past the end the
// last entry repeats.
var DefaultBackoff = []time.Duration{1 * time.Second, 3 * time.Second, 7 * time.Second}

// Runner executes tools with per-attempt deadlines, retries with backoff,
// and circuit-breaker protection. It is safe for concurrent use.
//
// A Runner never panics on tool misbehavior: panics inside Invoke are
// recovered and surfaced as failures of kind "unknown". Every call produces
// an Outcome; errors travel inside it rather than as a second return value,
// so the caller always has elapsed time, retry counts, and classification
// to hand even when the call failed.
//
// Construct with NewRunner and the With* runner options:
//
//	breaker := invoke.NewCircuitBreaker(invoke.DefaultBreakerConfig())
//	runner, err := invoke.NewRunner(breaker,
//	    invoke.WithRegistry(reg),
//	    invoke.WithEmitter(emit.NewLogEmitter(os.Stderr, true)),
//	)
type Runner struct {
	breaker  *CircuitBreaker
	registry *tool.Registry
	emitter  emit.Emitter
	metrics  *PrometheusMetrics
	store    store.Store
	tracer   trace.Tracer
	backoff  []time.Duration
}

// NewRunner builds a Runner around the given circuit breaker. The breaker is
// required; registry, emitter, metrics, and store are optional and attach
// through RunnerOptions.
func NewRunner(breaker *CircuitBreaker, opts ...RunnerOption) (*Runner, error) {
	if breaker == nil {
		return nil, ErrNilBreaker
	}
	r := &Runner{
		breaker: breaker,
		emitter: emit.NewNullEmitter(),
		tracer:  otel.Tracer("invoke"),
		backoff: append([]time.Duration(nil), DefaultBackoff...),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Breaker exposes the runner's circuit breaker for administrative surfaces
// such as status commands and manual resets.
func (r *Runner) Breaker() *CircuitBreaker { return r.breaker }

// Registry returns the runner's tool registry, nil when none was attached.
func (r *Runner) Registry() *tool.Registry { return r.registry }

// Run executes a single tool through the full pipeline:
//
//  1. Validate args against the tool's schema. Validation failures return
//     immediately with kind "validation"; no attempt runs and the breaker
//     is untouched.
//  2. Resolve the breaker target (URL host if an argument carries one,
//     otherwise the tool name) and consult the breaker. An open circuit
//     rejects the call with kind "network" before any attempt, unless
//     WithBreakerBypass was given.
//  3. Run up to 1+MaxRetries attempts, each under its own deadline taken
//     from the descriptor (or WithCallTimeout). Between attempts the runner
//     waits out the backoff schedule; the wait aborts promptly if the
//     caller's context ends.
//
// One success closes the loop and feeds the breaker a success. Exhausting
// every attempt feeds the breaker exactly one failure. Caller cancellation
// surfaces as kind "cancelled" and never counts against the breaker.
func (r *Runner) Run(ctx context.Context, t tool.Tool, args map[string]interface{}, execCtx ExecutionContext, opts ...CallOption) Outcome {
	return r.run(ctx, t, args, execCtx, r.resolveCall(t, opts), nil)
}

// RunByName looks the tool up in the runner's registry and runs it. An
// unknown name or a runner without a registry returns a validation failure
// without running anything.
func (r *Runner) RunByName(ctx context.Context, name string, args map[string]interface{}, execCtx ExecutionContext, opts ...CallOption) Outcome {
	t, outcome, ok := r.lookup(name)
	if !ok {
		return outcome
	}
	return r.Run(ctx, t, args, execCtx, opts...)
}

// lookup resolves a registered tool, or builds the failure Outcome for a
// name that cannot be resolved.
func (r *Runner) lookup(name string) (tool.Tool, Outcome, bool) {
	if r.registry == nil {
		return nil, Outcome{
			ErrorKind:    tool.KindValidation,
			ErrorMessage: "no tool registry configured",
		}, false
	}
	t, ok := r.registry.Lookup(name)
	if !ok {
		return nil, Outcome{
			ErrorKind:    tool.KindValidation,
			ErrorMessage: fmt.Sprintf("unknown tool %q", name),
		}, false
	}
	return t, Outcome{}, true
}

// resolveCall seeds per-call settings from the descriptor, then lets
// CallOptions override them.
func (r *Runner) resolveCall(t tool.Tool, opts []CallOption) callConfig {
	desc := t.Describe()
	cfg := callConfig{
		timeout:    desc.Timeout(),
		maxRetries: desc.MaxRetries(),
		maxDepth:   DefaultMaxChainDepth,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// fallbackInfo marks a run as a fallback hop so its outcome and stored
// record carry the chain provenance.
type fallbackInfo struct {
	primary string
}

func (r *Runner) run(ctx context.Context, t tool.Tool, args map[string]interface{}, execCtx ExecutionContext, cfg callConfig, fb *fallbackInfo) Outcome {
	if execCtx.CorrelationID == "" {
		execCtx.CorrelationID = uuid.NewString()
	}
	desc := t.Describe()
	target := breakerTarget(desc, args)
	start := time.Now()

	ctx, span := r.tracer.Start(ctx, "invoke.run", trace.WithAttributes(
		attribute.String("invoke.tool", desc.Name()),
		attribute.String("invoke.target", target),
		attribute.String("invoke.correlation_id", execCtx.CorrelationID),
	))
	defer span.End()

	if r.metrics != nil {
		r.metrics.IncInflight()
		defer r.metrics.DecInflight()
	}

	r.emitEvent(execCtx, emit.Event{
		CorrelationID: execCtx.CorrelationID,
		Tool:          desc.Name(),
		Target:        target,
		Msg:           "invoke_start",
		Meta: map[string]interface{}{
			"timeout_ms":  cfg.timeout.Milliseconds(),
			"max_retries": cfg.maxRetries,
		},
	})

	if err := desc.ValidateArgs(args); err != nil {
		outcome := r.failure(err, 0, time.Since(start), fb, desc.Name())
		r.emitFailure(execCtx, desc.Name(), target, outcome)
		return r.finish(ctx, span, execCtx, desc.Name(), target, string(outcome.ErrorKind), outcome)
	}

	if !cfg.bypass && r.breaker.IsOpen(target) {
		err := tool.Errorf(tool.KindNetwork, "circuit breaker open for target %s", target)
		outcome := r.failure(err, 0, time.Since(start), fb, desc.Name())
		r.emitEvent(execCtx, emit.Event{
			CorrelationID: execCtx.CorrelationID,
			Tool:          desc.Name(),
			Target:        target,
			Msg:           "breaker_rejected",
			Meta: map[string]interface{}{
				"kind":  string(tool.KindNetwork),
				"error": outcome.ErrorMessage,
			},
		})
		r.updateBreakerGauge(target)
		return r.finish(ctx, span, execCtx, desc.Name(), target, "breaker_open", outcome)
	}

	maxAttempts := cfg.maxRetries + 1
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			outcome := r.failure(err, attempt, time.Since(start), fb, desc.Name())
			r.emitFailure(execCtx, desc.Name(), target, outcome)
			return r.finish(ctx, span, execCtx, desc.Name(), target, string(outcome.ErrorKind), outcome)
		}

		result, err := r.attempt(ctx, t, args, cfg.timeout, attempt)
		if err == nil {
			r.breaker.RecordSuccess(target)
			r.updateBreakerGauge(target)
			if r.metrics != nil {
				r.metrics.IncrementAttempts(desc.Name(), "success")
			}
			outcome := Outcome{
				Success: true,
				Result:  result,
				Retries: attempt,
				Elapsed: time.Since(start),
			}
			r.decorateFallback(&outcome, fb, desc.Name())
			r.emitEvent(execCtx, emit.Event{
				CorrelationID: execCtx.CorrelationID,
				Tool:          desc.Name(),
				Target:        target,
				Msg:           "invoke_success",
				Meta: map[string]interface{}{
					"duration_ms": outcome.Elapsed.Milliseconds(),
					"retries":     outcome.Retries,
				},
			})
			return r.finish(ctx, span, execCtx, desc.Name(), target, "success", outcome)
		}

		// The caller's context ending mid-attempt is a cancellation, not a
		// tool fault. It must not tilt the breaker.
		if ctxErr := ctx.Err(); ctxErr != nil {
			outcome := r.failure(ctxErr, attempt, time.Since(start), fb, desc.Name())
			r.emitFailure(execCtx, desc.Name(), target, outcome)
			return r.finish(ctx, span, execCtx, desc.Name(), target, string(outcome.ErrorKind), outcome)
		}

		kind := tool.KindOf(err)
		if r.metrics != nil {
			r.metrics.IncrementAttempts(desc.Name(), string(kind))
		}
		lastErr = err

		if attempt < maxAttempts-1 {
			delay := r.backoffDelay(attempt)
			r.emitEvent(execCtx, emit.Event{
				CorrelationID: execCtx.CorrelationID,
				Tool:          desc.Name(),
				Target:        target,
				Msg:           "invoke_retry",
				Meta: map[string]interface{}{
					"attempt":  attempt,
					"delay_ms": delay.Milliseconds(),
					"kind":     string(kind),
					"error":    err.Error(),
				},
			})
			if r.metrics != nil {
				r.metrics.IncrementRetries(desc.Name())
			}
			if !sleepContext(ctx, delay) {
				outcome := r.failure(ctx.Err(), attempt, time.Since(start), fb, desc.Name())
				r.emitFailure(execCtx, desc.Name(), target, outcome)
				return r.finish(ctx, span, execCtx, desc.Name(), target, string(outcome.ErrorKind), outcome)
			}
		}
	}

	// Every attempt failed. The whole invocation counts as one breaker
	// failure, not one per attempt.
	r.breaker.RecordFailure(target)
	r.updateBreakerGauge(target)

	outcome := r.failure(lastErr, cfg.maxRetries, time.Since(start), fb, desc.Name())
	r.emitFailure(execCtx, desc.Name(), target, outcome)
	return r.finish(ctx, span, execCtx, desc.Name(), target, string(outcome.ErrorKind), outcome)
}

// attempt runs one invocation under its own deadline. The tool runs in a
// goroutine so a hung Invoke cannot stall the runner past the deadline, and
// a panicking tool is converted into an error of kind "unknown".
func (r *Runner) attempt(ctx context.Context, t tool.Tool, args map[string]interface{}, timeout time.Duration, attempt int) (map[string]interface{}, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	attemptCtx, span := r.tracer.Start(attemptCtx, "invoke.attempt", trace.WithAttributes(
		attribute.Int("invoke.attempt", attempt),
	))
	defer span.End()

	type invokeResult struct {
		out map[string]interface{}
		err error
	}
	done := make(chan invokeResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- invokeResult{err: tool.Errorf(tool.KindUnknown, "tool panicked: %v", p)}
			}
		}()
		out, err := t.Invoke(attemptCtx, args)
		done <- invokeResult{out: out, err: err}
	}()

	select {
	case res := <-done:
		if res.err == nil {
			return res.out, nil
		}
		span.SetStatus(codes.Error, res.err.Error())
		// A failure caused by the attempt deadline is a timeout regardless
		// of how the tool reported it.
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, tool.Wrap(tool.KindTimeout, fmt.Sprintf("attempt exceeded %v deadline", timeout), res.err)
		}
		return nil, res.err
	case <-attemptCtx.Done():
		// Tool still running; its goroutine will drain into the buffered
		// channel when it eventually returns.
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		span.SetStatus(codes.Error, "deadline exceeded")
		return nil, tool.Errorf(tool.KindTimeout, "attempt exceeded %v deadline", timeout)
	}
}

// failure builds a failed Outcome from an error, classifying it by nature.
func (r *Runner) failure(err error, retries int, elapsed time.Duration, fb *fallbackInfo, toolName string) Outcome {
	outcome := Outcome{
		ErrorKind:    tool.KindOf(err),
		ErrorMessage: err.Error(),
		Retries:      retries,
		Elapsed:      elapsed,
	}
	r.decorateFallback(&outcome, fb, toolName)
	return outcome
}

// decorateFallback stamps chain provenance onto outcomes produced by
// fallback hops.
func (r *Runner) decorateFallback(outcome *Outcome, fb *fallbackInfo, toolName string) {
	if fb == nil {
		return
	}
	outcome.FallbackUsed = true
	if outcome.Meta == nil {
		outcome.Meta = make(map[string]interface{}, 2)
	}
	outcome.Meta["primary_tool"] = fb.primary
	outcome.Meta["fallback_tool"] = toolName
}

// finish records the outcome everywhere it needs to land: span status,
// metrics, and the invocation store. It returns the outcome unchanged.
func (r *Runner) finish(ctx context.Context, span trace.Span, execCtx ExecutionContext, toolName, target, status string, outcome Outcome) Outcome {
	span.SetAttributes(
		attribute.Bool("invoke.success", outcome.Success),
		attribute.Int("invoke.retries", outcome.Retries),
	)
	if outcome.Success {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetAttributes(attribute.String("invoke.error.kind", string(outcome.ErrorKind)))
		span.SetStatus(codes.Error, outcome.ErrorMessage)
	}

	if r.metrics != nil {
		r.metrics.RecordInvocation(toolName, outcome.Elapsed, status)
	}
	r.saveRecord(execCtx, toolName, target, outcome)
	return outcome
}

// saveRecord persists the outcome when a store is attached. Persistence is
// best effort: a failing store surfaces as a "store_error" event, never as
// a failed invocation. The save runs under its own context so a cancelled
// caller still gets its record written.
func (r *Runner) saveRecord(execCtx ExecutionContext, toolName, target string, outcome Outcome) {
	if r.store == nil {
		return
	}
	rec := store.Record{
		CorrelationID: execCtx.CorrelationID,
		Tool:          toolName,
		Target:        target,
		Success:       outcome.Success,
		ErrorKind:     string(outcome.ErrorKind),
		ErrorMessage:  outcome.ErrorMessage,
		Retries:       outcome.Retries,
		FallbackUsed:  outcome.FallbackUsed,
		Elapsed:       outcome.Elapsed,
		Meta:          outcome.Meta,
	}
	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.SaveRecord(saveCtx, rec); err != nil {
		r.emitEvent(execCtx, emit.Event{
			CorrelationID: execCtx.CorrelationID,
			Tool:          toolName,
			Target:        target,
			Msg:           "store_error",
			Meta:          map[string]interface{}{"error": err.Error()},
		})
	}
}

func (r *Runner) emitFailure(execCtx ExecutionContext, toolName, target string, outcome Outcome) {
	r.emitEvent(execCtx, emit.Event{
		CorrelationID: execCtx.CorrelationID,
		Tool:          toolName,
		Target:        target,
		Msg:           "invoke_failure",
		Meta: map[string]interface{}{
			"duration_ms": outcome.Elapsed.Milliseconds(),
			"kind":        string(outcome.ErrorKind),
			"error":       outcome.ErrorMessage,
			"retries":     outcome.Retries,
		},
	})
}

// emitEvent sends through the per-call emitter when the ExecutionContext
// carries one, else the runner's. A panicking emitter is contained here so
// observability can never take down an invocation.
func (r *Runner) emitEvent(execCtx ExecutionContext, event emit.Event) {
	emitter := r.emitter
	if execCtx.Emitter != nil {
		emitter = execCtx.Emitter
	}
	if emitter == nil {
		return
	}
	defer func() { _ = recover() }()
	emitter.Emit(event)
}

func (r *Runner) updateBreakerGauge(target string) {
	if r.metrics != nil {
		r.metrics.SetBreakerState(target, r.breaker.State(target))
	}
}

// backoffDelay returns the wait after the given failed attempt, reusing the
// last schedule entry once attempts outnumber it.
func (r *Runner) backoffDelay(attempt int) time.Duration {
	if len(r.backoff) == 0 {
		return 0
	}
	if attempt >= len(r.backoff) {
		attempt = len(r.backoff) - 1
	}
	return r.backoff[attempt]
}

// sleepContext waits for d or until ctx ends, reporting false on
// cancellation.
func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

package invoke

import (
	"errors"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/relaykit/invoke-go/invoke/emit"
	"github.com/relaykit/invoke-go/invoke/store"
	"github.com/relaykit/invoke-go/invoke/tool"
)

// RunnerOption is a functional option for configuring a Runner.
//
// Options are applied by NewRunner in order:
//
//	runner, err := invoke.NewRunner(breaker,
//	    invoke.WithEmitter(emitter),
//	    invoke.WithMetrics(metrics),
//	    invoke.WithStore(st),
//	)
type RunnerOption func(*Runner) error

// WithEmitter sets the runner's default event emitter.
//
// An ExecutionContext with its own Emitter overrides this per invocation.
// Default: discard events.
func WithEmitter(emitter emit.Emitter) RunnerOption {
	return func(r *Runner) error {
		if emitter == nil {
			return errors.New("emitter must not be nil")
		}
		r.emitter = emitter
		return nil
	}
}

// WithMetrics attaches Prometheus metrics collection to the runner.
func WithMetrics(metrics *PrometheusMetrics) RunnerOption {
	return func(r *Runner) error {
		if metrics == nil {
			return errors.New("metrics must not be nil")
		}
		r.metrics = metrics
		return nil
	}
}

// WithStore attaches an audit store. Every completed invocation, including
// rejected and failed ones, is saved as a record. Persistence is best
// effort; a failing store never fails the invocation.
func WithStore(st store.Store) RunnerOption {
	return func(r *Runner) error {
		if st == nil {
			return errors.New("store must not be nil")
		}
		r.store = st
		return nil
	}
}

// WithRegistry gives the runner a tool registry for resolving fallback
// names and for RunByName. Without a registry, fallback descriptors that
// name other tools cannot be followed.
func WithRegistry(reg *tool.Registry) RunnerOption {
	return func(r *Runner) error {
		if reg == nil {
			return errors.New("registry must not be nil")
		}
		r.registry = reg
		return nil
	}
}

// WithTracer sets the OpenTelemetry tracer used for invocation spans.
// Default: the global provider's "invoke" tracer, which is a no-op until
// an application installs a real provider.
func WithTracer(tracer trace.Tracer) RunnerOption {
	return func(r *Runner) error {
		if tracer == nil {
			return errors.New("tracer must not be nil")
		}
		r.tracer = tracer
		return nil
	}
}

// WithBackoff replaces the retry backoff schedule.
//
// The schedule maps the zero-based index of the failed attempt to the wait
// before the next one; past the end, the last entry repeats. Default:
// DefaultBackoff (1s, 3s, 7s).
//
// Tests shrink it to keep runs fast:
//
//	invoke.WithBackoff([]time.Duration{time.Millisecond})
func WithBackoff(schedule []time.Duration) RunnerOption {
	return func(r *Runner) error {
		if len(schedule) == 0 {
			return errors.New("backoff schedule must not be empty")
		}
		for _, d := range schedule {
			if d < 0 {
				return errors.New("backoff delays must not be negative")
			}
		}
		r.backoff = append([]time.Duration(nil), schedule...)
		return nil
	}
}

// callConfig collects per-call settings resolved from the descriptor and
// CallOptions.
type callConfig struct {
	timeout    time.Duration
	maxRetries int
	bypass     bool
	maxDepth   int
}

// CallOption adjusts a single invocation without touching the tool's
// descriptor.
type CallOption func(*callConfig)

// WithCallTimeout overrides the per-attempt deadline for this call only.
//
// Unlike descriptor timeouts, the override is not clamped to the
// [tool.MinTimeout, tool.MaxTimeout] window, so a caller can ask for a
// genuinely short deadline. Non-positive values are ignored.
func WithCallTimeout(d time.Duration) CallOption {
	return func(cfg *callConfig) {
		if d > 0 {
			cfg.timeout = d
		}
	}
}

// WithCallRetries overrides the retry budget for this call only.
// Negative values normalize to zero.
func WithCallRetries(n int) CallOption {
	return func(cfg *callConfig) {
		if n < 0 {
			n = 0
		}
		cfg.maxRetries = n
	}
}

// WithBreakerBypass skips the pre-call circuit-breaker check for this
// call. Attempts still run and their outcomes are still recorded against
// the target, so a bypassed success can close an open breaker early.
//
// Meant for operator-driven probes and admin tooling, not routine calls.
func WithBreakerBypass() CallOption {
	return func(cfg *callConfig) {
		cfg.bypass = true
	}
}

// WithMaxDepth caps how many fallback hops RunWithFallbacks may take after
// the primary tool fails. Only chain entry points consult it; plain Run
// ignores it. Values below zero normalize to zero (no fallbacks).
func WithMaxDepth(n int) CallOption {
	return func(cfg *callConfig) {
		if n < 0 {
			n = 0
		}
		cfg.maxDepth = n
	}
}

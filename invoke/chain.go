package invoke

import (
	"context"

	"github.com/google/uuid"

	"github.com/relaykit/invoke-go/invoke/emit"
	"github.com/relaykit/invoke-go/invoke/tool"
)

// DefaultMaxChainDepth caps how many fallback tools run after the primary.
const DefaultMaxChainDepth = 3

// RunWithFallbacks executes a tool and, when it fails, walks its declared
// fallback chain until a tool succeeds or the chain is exhausted.
//
// The chain advances one hop at a time: each tool's descriptor names at
// most one fallback, resolved through the runner's registry, and each hop
// runs under its own descriptor's timeout and retry policy. CallOptions
// apply to the primary tool only. The walk stops at WithMaxDepth hops
// (DefaultMaxChainDepth when unset), on a name that is missing from the
// registry, or on a name already visited, so descriptor cycles cannot loop.
//
// A succeeding fallback returns its own outcome with FallbackUsed set and
// Meta carrying "primary_tool" and "fallback_tool". When every hop fails,
// the last attempted outcome is returned, carrying the most recent error
// kind and message; a fallback name missing from the registry never
// escalates past the failure already in hand.
//
// Two failures never trigger a fallback: validation failures, because bad
// arguments will be bad for the whole chain's caller, and cancellation,
// because the caller has left.
func (r *Runner) RunWithFallbacks(ctx context.Context, t tool.Tool, args map[string]interface{}, execCtx ExecutionContext, opts ...CallOption) Outcome {
	if execCtx.CorrelationID == "" {
		execCtx.CorrelationID = uuid.NewString()
	}
	cfg := r.resolveCall(t, opts)
	primaryName := t.Describe().Name()

	primary := r.run(ctx, t, args, execCtx, cfg, nil)
	if primary.Success || !chainEligible(primary) {
		return primary
	}

	visited := map[string]bool{primaryName: true}
	current := t
	last := primary

	for hop := 1; hop <= cfg.maxDepth; hop++ {
		next := current.Describe().Fallback()
		if next == "" || r.registry == nil || visited[next] {
			break
		}
		fbTool, ok := r.registry.Lookup(next)
		if !ok {
			break
		}
		visited[next] = true

		r.emitEvent(execCtx, emit.Event{
			CorrelationID: execCtx.CorrelationID,
			Tool:          next,
			Msg:           "fallback_invoke",
			Meta: map[string]interface{}{
				"primary_tool": primaryName,
				"failed_tool":  current.Describe().Name(),
				"depth":        hop,
			},
		})

		outcome := r.run(ctx, fbTool, args, execCtx, r.resolveCall(fbTool, nil), &fallbackInfo{primary: primaryName})
		if outcome.Success {
			if r.metrics != nil {
				r.metrics.IncrementFallbacks(primaryName, "success")
			}
			return outcome
		}
		if r.metrics != nil {
			r.metrics.IncrementFallbacks(primaryName, "failure")
		}
		last = outcome
		// The caller leaving mid-chain ends the walk immediately.
		if ctx.Err() != nil || outcome.ErrorKind == tool.KindCancelled {
			return outcome
		}
		current = fbTool
	}

	return last
}

// RunByNameWithFallbacks resolves the primary tool by name and runs it with
// fallback handling. Resolution failures return a validation outcome.
func (r *Runner) RunByNameWithFallbacks(ctx context.Context, name string, args map[string]interface{}, execCtx ExecutionContext, opts ...CallOption) Outcome {
	t, outcome, ok := r.lookup(name)
	if !ok {
		return outcome
	}
	return r.RunWithFallbacks(ctx, t, args, execCtx, opts...)
}

// chainEligible reports whether a failed outcome should hand off to a
// fallback.
func chainEligible(outcome Outcome) bool {
	switch outcome.ErrorKind {
	case tool.KindValidation, tool.KindCancelled:
		return false
	}
	return true
}

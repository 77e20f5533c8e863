package invoke_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/relaykit/invoke-go/invoke"
	"github.com/relaykit/invoke-go/invoke/emit"
	"github.com/relaykit/invoke-go/invoke/store"
	"github.com/relaykit/invoke-go/invoke/tool"
)

// failing builds a single-attempt tool that always fails, optionally naming
// a fallback.
func failing(name, fallback string) *tool.MockTool {
	mt := tool.NewMockTool(name, tool.MockResult{Err: tool.Errorf(tool.KindNetwork, "%s unreachable", name)})
	opts := []tool.DescriptorOption{tool.WithMaxRetries(0)}
	if fallback != "" {
		opts = append(opts, tool.WithFallback(fallback))
	}
	mt.Desc = tool.NewDescriptor(name, opts...)
	return mt
}

// succeeding builds a single-attempt tool that answers with its own name.
func succeeding(name string) *tool.MockTool {
	mt := tool.NewMockTool(name, tool.MockResult{Output: map[string]interface{}{"via": name}})
	mt.Desc = tool.NewDescriptor(name, tool.WithMaxRetries(0))
	return mt
}

func chainRunner(t *testing.T, reg *tool.Registry, opts ...invoke.RunnerOption) *invoke.Runner {
	t.Helper()
	opts = append([]invoke.RunnerOption{invoke.WithRegistry(reg), fastBackoff()}, opts...)
	return newRunner(t, invoke.NewCircuitBreaker(invoke.DefaultBreakerConfig()), opts...)
}

func mustRegister(t *testing.T, reg *tool.Registry, tools ...tool.Tool) {
	t.Helper()
	for _, tl := range tools {
		if err := reg.Register(tl); err != nil {
			t.Fatalf("Register(%s): %v", tl.Describe().Name(), err)
		}
	}
}

func TestChainPrimarySuccessSkipsFallbacks(t *testing.T) {
	reg := tool.NewRegistry()
	primary := succeeding("web_search")
	primary.Desc = tool.NewDescriptor("web_search", tool.WithMaxRetries(0), tool.WithFallback("web_search_requests"))
	backup := succeeding("web_search_requests")
	mustRegister(t, reg, backup)

	r := chainRunner(t, reg)
	outcome := r.RunWithFallbacks(context.Background(), primary, nil, invoke.NewExecutionContext())

	if !outcome.Success || outcome.FallbackUsed {
		t.Fatalf("outcome = %+v, want primary success without fallback", outcome)
	}
	if backup.CallCount() != 0 {
		t.Errorf("fallback ran %d times behind a healthy primary", backup.CallCount())
	}
}

func TestChainFallbackSuccess(t *testing.T) {
	reg := tool.NewRegistry()
	primary := failing("web_search", "web_search_requests")
	backup := succeeding("web_search_requests")
	mustRegister(t, reg, backup)

	sink := emit.NewBufferedEmitter()
	r := chainRunner(t, reg, invoke.WithEmitter(sink))

	execCtx := invoke.NewExecutionContext()
	outcome := r.RunWithFallbacks(context.Background(), primary, nil, execCtx)

	if !outcome.Success {
		t.Fatalf("outcome = %+v, want fallback success", outcome)
	}
	if !outcome.FallbackUsed {
		t.Error("FallbackUsed = false on a rescued call")
	}
	if got := outcome.Result["via"]; got != "web_search_requests" {
		t.Errorf("Result[via] = %v, want web_search_requests", got)
	}
	if got := outcome.Meta["primary_tool"]; got != "web_search" {
		t.Errorf("Meta[primary_tool] = %v, want web_search", got)
	}
	if got := outcome.Meta["fallback_tool"]; got != "web_search_requests" {
		t.Errorf("Meta[fallback_tool] = %v, want web_search_requests", got)
	}

	hops := sink.HistoryWithFilter(execCtx.CorrelationID, emit.HistoryFilter{Msg: "fallback_invoke"})
	if len(hops) != 1 {
		t.Fatalf("got %d fallback_invoke events, want 1", len(hops))
	}
	if got := hops[0].Tool; got != "web_search_requests" {
		t.Errorf("fallback_invoke tool = %q, want web_search_requests", got)
	}
}

func TestChainMissingFallbackReturnsPrimaryFailure(t *testing.T) {
	r := chainRunner(t, tool.NewRegistry())
	primary := failing("web_search", "")

	outcome := r.RunWithFallbacks(context.Background(), primary, nil, invoke.NewExecutionContext())

	if outcome.Success || outcome.FallbackUsed {
		t.Fatalf("outcome = %+v, want plain primary failure", outcome)
	}
	if outcome.ErrorKind != tool.KindNetwork {
		t.Errorf("ErrorKind = %q, want the primary's %q", outcome.ErrorKind, tool.KindNetwork)
	}
	if len(outcome.Meta) != 0 {
		t.Errorf("Meta = %v on a plain primary failure, want none", outcome.Meta)
	}
}

func TestChainBothFailReturnsFallbackFailure(t *testing.T) {
	reg := tool.NewRegistry()
	backup := failing("web_search_requests", "")
	mustRegister(t, reg, backup)
	primary := failing("web_search", "web_search_requests")

	r := chainRunner(t, reg)
	outcome := r.RunWithFallbacks(context.Background(), primary, nil, invoke.NewExecutionContext())

	if outcome.Success {
		t.Fatalf("outcome = %+v, want failure", outcome)
	}
	if !strings.Contains(outcome.ErrorMessage, "web_search_requests unreachable") {
		t.Errorf("ErrorMessage = %q, want the fallback's own failure", outcome.ErrorMessage)
	}
	if !outcome.FallbackUsed {
		t.Error("FallbackUsed = false on an outcome produced by a fallback")
	}
	if got := outcome.Meta["fallback_tool"]; got != "web_search_requests" {
		t.Errorf("Meta[fallback_tool] = %v, want web_search_requests", got)
	}
}

func TestChainUnregisteredFallbackName(t *testing.T) {
	r := chainRunner(t, tool.NewRegistry())
	primary := failing("web_search", "ghost_tool")

	outcome := r.RunWithFallbacks(context.Background(), primary, nil, invoke.NewExecutionContext())

	if outcome.Success || outcome.FallbackUsed {
		t.Fatalf("outcome = %+v, want plain primary failure", outcome)
	}
	if !strings.Contains(outcome.ErrorMessage, "web_search unreachable") {
		t.Errorf("ErrorMessage = %q, want the primary's own failure", outcome.ErrorMessage)
	}
}

func TestChainWalksUntilSuccess(t *testing.T) {
	reg := tool.NewRegistry()
	primary := failing("search.a", "search.b")
	b := failing("search.b", "search.c")
	c := succeeding("search.c")
	mustRegister(t, reg, b, c)

	r := chainRunner(t, reg)
	outcome := r.RunWithFallbacks(context.Background(), primary, nil, invoke.NewExecutionContext())

	if !outcome.Success {
		t.Fatalf("outcome = %+v, want success at the second hop", outcome)
	}
	if got := outcome.Meta["fallback_tool"]; got != "search.c" {
		t.Errorf("Meta[fallback_tool] = %v, want search.c", got)
	}
	if got := outcome.Meta["primary_tool"]; got != "search.a" {
		t.Errorf("Meta[primary_tool] = %v, want search.a", got)
	}
	if b.CallCount() != 1 || c.CallCount() != 1 {
		t.Errorf("hop counts = %d/%d, want 1/1", b.CallCount(), c.CallCount())
	}
}

func TestChainDepthLimit(t *testing.T) {
	reg := tool.NewRegistry()
	primary := failing("t.a", "t.b")
	b := failing("t.b", "t.c")
	c := failing("t.c", "t.d")
	d := failing("t.d", "t.e")
	e := succeeding("t.e")
	mustRegister(t, reg, b, c, d, e)

	r := chainRunner(t, reg)
	outcome := r.RunWithFallbacks(context.Background(), primary, nil, invoke.NewExecutionContext())

	// Three hops allowed: b, c, d. The chain never reaches e, and the
	// caller sees the last attempted failure.
	if outcome.Success {
		t.Fatalf("outcome = %+v, want failure at depth limit", outcome)
	}
	if !strings.Contains(outcome.ErrorMessage, "t.d unreachable") {
		t.Errorf("ErrorMessage = %q, want the last hop's failure", outcome.ErrorMessage)
	}
	if e.CallCount() != 0 {
		t.Errorf("tool beyond the depth limit ran %d times", e.CallCount())
	}
	for _, hop := range []*tool.MockTool{b, c, d} {
		if hop.CallCount() != 1 {
			t.Errorf("%s ran %d times, want 1", hop.Describe().Name(), hop.CallCount())
		}
	}
	if got := outcome.Meta["primary_tool"]; got != "t.a" {
		t.Errorf("Meta[primary_tool] = %v, want t.a", got)
	}
	if got := outcome.Meta["fallback_tool"]; got != "t.d" {
		t.Errorf("Meta[fallback_tool] = %v, want t.d", got)
	}
}

func TestChainMaxDepthOption(t *testing.T) {
	reg := tool.NewRegistry()
	primary := failing("t.a", "t.b")
	b := failing("t.b", "t.c")
	c := succeeding("t.c")
	mustRegister(t, reg, b, c)

	r := chainRunner(t, reg)

	outcome := r.RunWithFallbacks(context.Background(), primary, nil, invoke.NewExecutionContext(), invoke.WithMaxDepth(1))
	if outcome.Success {
		t.Fatalf("outcome = %+v, want failure with depth capped at 1", outcome)
	}
	if !strings.Contains(outcome.ErrorMessage, "t.b unreachable") {
		t.Errorf("ErrorMessage = %q, want the single hop's failure", outcome.ErrorMessage)
	}
	if b.CallCount() != 1 || c.CallCount() != 0 {
		t.Errorf("hop counts = %d/%d, want 1/0", b.CallCount(), c.CallCount())
	}

	primary.Reset()
	b.Reset()
	outcome = r.RunWithFallbacks(context.Background(), primary, nil, invoke.NewExecutionContext(), invoke.WithMaxDepth(0))
	if outcome.Success || b.CallCount() != 0 {
		t.Errorf("depth 0 still ran a fallback: outcome=%+v calls=%d", outcome, b.CallCount())
	}
}

func TestChainCycleSafety(t *testing.T) {
	reg := tool.NewRegistry()
	primary := failing("t.a", "t.b")
	b := failing("t.b", "t.a")
	aTwin := failing("t.a", "t.b")
	mustRegister(t, reg, b, aTwin)

	r := chainRunner(t, reg)
	outcome := r.RunWithFallbacks(context.Background(), primary, nil, invoke.NewExecutionContext())

	if outcome.Success {
		t.Fatalf("outcome = %+v, want failure", outcome)
	}
	if !strings.Contains(outcome.ErrorMessage, "t.b unreachable") {
		t.Errorf("ErrorMessage = %q, want the last attempted hop's failure", outcome.ErrorMessage)
	}
	if primary.CallCount() != 1 {
		t.Errorf("primary ran %d times, want 1 (cycle must not re-enter)", primary.CallCount())
	}
	if b.CallCount() != 1 {
		t.Errorf("fallback ran %d times, want 1", b.CallCount())
	}
	if aTwin.CallCount() != 0 {
		t.Errorf("registered twin of the primary ran %d times, want 0", aTwin.CallCount())
	}
}

func TestChainValidationFailureDoesNotFallback(t *testing.T) {
	reg := tool.NewRegistry()
	backup := succeeding("mail.backup")
	mustRegister(t, reg, backup)

	primary := tool.NewMockTool("mail.api", tool.MockResult{Output: map[string]interface{}{}})
	primary.Desc = mailDescriptor(tool.WithFallback("mail.backup"))

	r := chainRunner(t, reg)
	outcome := r.RunWithFallbacks(context.Background(), primary,
		map[string]interface{}{"to": "", "body": "hi"}, invoke.NewExecutionContext())

	if outcome.Success {
		t.Fatal("invalid arguments produced a success")
	}
	if outcome.ErrorKind != tool.KindValidation {
		t.Errorf("ErrorKind = %q, want %q", outcome.ErrorKind, tool.KindValidation)
	}
	if primary.CallCount() != 0 {
		t.Errorf("primary ran %d times on invalid args", primary.CallCount())
	}
	if backup.CallCount() != 0 {
		t.Errorf("fallback ran %d times for a caller bug", backup.CallCount())
	}
}

func TestChainCancellationDoesNotFallback(t *testing.T) {
	reg := tool.NewRegistry()
	backup := succeeding("slow.backup")
	mustRegister(t, reg, backup)

	primary := tool.NewMockTool("slow.api", tool.MockResult{
		Output: map[string]interface{}{},
		Delay:  5 * time.Second,
	})
	primary.Desc = tool.NewDescriptor("slow.api", tool.WithMaxRetries(0), tool.WithFallback("slow.backup"))

	r := chainRunner(t, reg)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	outcome := r.RunWithFallbacks(ctx, primary, nil, invoke.NewExecutionContext())

	if outcome.ErrorKind != tool.KindCancelled {
		t.Fatalf("ErrorKind = %q, want %q", outcome.ErrorKind, tool.KindCancelled)
	}
	if backup.CallCount() != 0 {
		t.Errorf("fallback ran %d times for a departed caller", backup.CallCount())
	}
}

func TestChainFallbackUsesOwnPolicy(t *testing.T) {
	reg := tool.NewRegistry()

	backup := tool.NewMockTool("search.backup",
		tool.MockResult{Err: tool.Errorf(tool.KindNetwork, "warming up")},
		tool.MockResult{Output: map[string]interface{}{"via": "search.backup"}},
	)
	backup.Desc = tool.NewDescriptor("search.backup", tool.WithMaxRetries(1))
	mustRegister(t, reg, backup)

	primary := tool.NewMockTool("search.main", tool.MockResult{Err: tool.Errorf(tool.KindNetwork, "down")})
	primary.Desc = tool.NewDescriptor("search.main", tool.WithMaxRetries(5), tool.WithFallback("search.backup"))

	r := chainRunner(t, reg)

	// The retry override binds the primary only; the fallback still runs
	// its descriptor's one-retry policy.
	outcome := r.RunWithFallbacks(context.Background(), primary, nil, invoke.NewExecutionContext(),
		invoke.WithCallRetries(0))

	if !outcome.Success {
		t.Fatalf("outcome = %+v, want fallback success", outcome)
	}
	if primary.CallCount() != 1 {
		t.Errorf("primary attempts = %d, want 1 (per-call override)", primary.CallCount())
	}
	if backup.CallCount() != 2 {
		t.Errorf("fallback attempts = %d, want 2 (its own policy)", backup.CallCount())
	}
	if outcome.Retries != 1 {
		t.Errorf("Retries = %d, want the fallback's own 1", outcome.Retries)
	}
}

func TestChainRunsWhenBreakerRejectsPrimary(t *testing.T) {
	reg := tool.NewRegistry()
	backup := succeeding("web_search_requests")
	mustRegister(t, reg, backup)

	primary := failing("web_search", "web_search_requests")

	breaker := invoke.NewCircuitBreaker(invoke.BreakerConfig{FailureThreshold: 1})
	r := newRunner(t, breaker, invoke.WithRegistry(reg), fastBackoff())

	// Trip the primary's target, then watch a chained call route around it.
	r.Run(context.Background(), primary, nil, invoke.NewExecutionContext())
	if got := breaker.State("web_search"); got != invoke.StateOpen {
		t.Fatalf("breaker state = %v, want open", got)
	}

	before := primary.CallCount()
	outcome := r.RunWithFallbacks(context.Background(), primary, nil, invoke.NewExecutionContext())

	if !outcome.Success || !outcome.FallbackUsed {
		t.Fatalf("outcome = %+v, want fallback rescue", outcome)
	}
	if primary.CallCount() != before {
		t.Errorf("rejected primary was still invoked (%d -> %d)", before, primary.CallCount())
	}
	if backup.CallCount() != 1 {
		t.Errorf("fallback attempts = %d, want 1", backup.CallCount())
	}
}

func TestChainPersistsBothRecords(t *testing.T) {
	reg := tool.NewRegistry()
	backup := succeeding("web_search_requests")
	mustRegister(t, reg, backup)
	primary := failing("web_search", "web_search_requests")

	st := store.NewMemStore()
	r := chainRunner(t, reg, invoke.WithStore(st))

	execCtx := invoke.NewExecutionContext()
	r.RunWithFallbacks(context.Background(), primary, nil, execCtx)

	records, err := st.ListByCorrelation(context.Background(), execCtx.CorrelationID)
	if err != nil {
		t.Fatalf("ListByCorrelation: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want primary and fallback", len(records))
	}

	if records[0].Tool != "web_search" || records[0].Success || records[0].FallbackUsed {
		t.Errorf("primary record = %+v, want plain failure", records[0])
	}
	fb := records[1]
	if fb.Tool != "web_search_requests" || !fb.Success || !fb.FallbackUsed {
		t.Errorf("fallback record = %+v, want rescued success", fb)
	}
	if got := fb.Meta["primary_tool"]; got != "web_search" {
		t.Errorf("fallback record Meta[primary_tool] = %v, want web_search", got)
	}
}

func TestChainMetrics(t *testing.T) {
	reg := tool.NewRegistry()
	backup := succeeding("web_search_requests")
	mustRegister(t, reg, backup)
	primary := failing("web_search", "web_search_requests")

	promReg := prometheus.NewRegistry()
	r := chainRunner(t, reg, invoke.WithMetrics(invoke.NewPrometheusMetrics(promReg)))

	r.RunWithFallbacks(context.Background(), primary, nil, invoke.NewExecutionContext())

	expected := strings.NewReader(`
# HELP invoke_fallbacks_total Fallback hops taken after a primary tool failed
# TYPE invoke_fallbacks_total counter
invoke_fallbacks_total{primary="web_search",status="success"} 1
`)
	if err := testutil.GatherAndCompare(promReg, expected, "invoke_fallbacks_total"); err != nil {
		t.Errorf("fallback counter mismatch: %v", err)
	}
}

func TestChainRunByName(t *testing.T) {
	reg := tool.NewRegistry()
	primary := failing("web_search", "web_search_requests")
	backup := succeeding("web_search_requests")
	mustRegister(t, reg, primary, backup)

	r := chainRunner(t, reg)

	outcome := r.RunByNameWithFallbacks(context.Background(), "web_search", nil, invoke.NewExecutionContext())
	if !outcome.Success || !outcome.FallbackUsed {
		t.Errorf("outcome = %+v, want fallback rescue", outcome)
	}

	outcome = r.RunByNameWithFallbacks(context.Background(), "no.such.tool", nil, invoke.NewExecutionContext())
	if outcome.Success || outcome.ErrorKind != tool.KindValidation {
		t.Errorf("unknown tool outcome = %+v, want validation failure", outcome)
	}
}

package schedule_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/relaykit/invoke-go/invoke"
	"github.com/relaykit/invoke-go/invoke/schedule"
	"github.com/relaykit/invoke-go/invoke/tool"
)

// testRunner wires a registry with a succeeding "heartbeat" tool and a
// failing "flaky" tool that falls back to "backup".
func testRunner(t *testing.T) *invoke.Runner {
	t.Helper()

	reg := tool.NewRegistry()
	heartbeat := tool.NewMockTool("heartbeat", tool.MockResult{Output: map[string]interface{}{"ok": true}})

	flaky := tool.NewMockTool("flaky", tool.MockResult{Err: tool.Errorf(tool.KindNetwork, "down")})
	flaky.Desc = tool.NewDescriptor("flaky", tool.WithMaxRetries(0), tool.WithFallback("backup"))

	backup := tool.NewMockTool("backup", tool.MockResult{Output: map[string]interface{}{"via": "backup"}})
	backup.Desc = tool.NewDescriptor("backup", tool.WithMaxRetries(0))

	for _, tl := range []tool.Tool{heartbeat, flaky, backup} {
		if err := reg.Register(tl); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	r, err := invoke.NewRunner(invoke.NewCircuitBreaker(invoke.DefaultBreakerConfig()),
		invoke.WithRegistry(reg),
		invoke.WithBackoff([]time.Duration{time.Millisecond}),
	)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	return r
}

func TestNewServiceRequiresRunner(t *testing.T) {
	if _, err := schedule.NewService(nil); !errors.Is(err, schedule.ErrNilRunner) {
		t.Errorf("NewService(nil) error = %v, want ErrNilRunner", err)
	}
}

func TestServiceAddValidation(t *testing.T) {
	svc, err := schedule.NewService(testRunner(t))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	if err := svc.Add(schedule.Job{Name: "", Spec: "* * * * * *", Tool: "heartbeat"}); err == nil {
		t.Error("empty job name accepted")
	}
	if err := svc.Add(schedule.Job{Name: "j1", Spec: "* * * * * *", Tool: "no.such.tool"}); err == nil {
		t.Error("unregistered tool accepted")
	}
	if err := svc.Add(schedule.Job{Name: "j1", Spec: "not a cron spec", Tool: "heartbeat"}); err == nil {
		t.Error("invalid cron spec accepted")
	}

	if err := svc.Add(schedule.Job{Name: "j1", Spec: "0 0 * * * *", Tool: "heartbeat"}); err != nil {
		t.Fatalf("valid job rejected: %v", err)
	}
	err = svc.Add(schedule.Job{Name: "j1", Spec: "0 0 * * * *", Tool: "heartbeat"})
	if !errors.Is(err, schedule.ErrDuplicateJob) {
		t.Errorf("duplicate add error = %v, want ErrDuplicateJob", err)
	}
}

func TestServiceRemoveAndJobs(t *testing.T) {
	svc, err := schedule.NewService(testRunner(t))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	for _, name := range []string{"digest", "alert"} {
		if err := svc.Add(schedule.Job{Name: name, Spec: "0 0 * * * *", Tool: "heartbeat"}); err != nil {
			t.Fatalf("Add(%s): %v", name, err)
		}
	}

	jobs := svc.Jobs()
	if len(jobs) != 2 || jobs[0].Name != "alert" || jobs[1].Name != "digest" {
		t.Errorf("Jobs() = %v, want [alert digest] sorted", jobs)
	}

	if err := svc.Remove("digest"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := svc.Remove("digest"); !errors.Is(err, schedule.ErrUnknownJob) {
		t.Errorf("second Remove error = %v, want ErrUnknownJob", err)
	}
	if jobs := svc.Jobs(); len(jobs) != 1 || jobs[0].Name != "alert" {
		t.Errorf("Jobs() after Remove = %v, want [alert]", jobs)
	}
}

func TestServiceFiresJob(t *testing.T) {
	svc, err := schedule.NewService(testRunner(t))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	outcomes := make(chan invoke.Outcome, 8)
	svc.OnOutcome = func(job schedule.Job, outcome invoke.Outcome) {
		if job.Name == "beat" {
			outcomes <- outcome
		}
	}

	if err := svc.Add(schedule.Job{Name: "beat", Spec: "* * * * * *", Tool: "heartbeat"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer svc.Stop()

	select {
	case outcome := <-outcomes:
		if !outcome.Success {
			t.Errorf("scheduled outcome = %+v, want success", outcome)
		}
		if got := outcome.Result["ok"]; got != true {
			t.Errorf("Result[ok] = %v, want true", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("job did not fire within 3s")
	}
}

func TestServiceFiringUsesFallbackChain(t *testing.T) {
	svc, err := schedule.NewService(testRunner(t))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	outcomes := make(chan invoke.Outcome, 8)
	svc.OnOutcome = func(job schedule.Job, outcome invoke.Outcome) {
		outcomes <- outcome
	}

	if err := svc.Add(schedule.Job{Name: "rescue", Spec: "* * * * * *", Tool: "flaky"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer svc.Stop()

	select {
	case outcome := <-outcomes:
		if !outcome.Success || !outcome.FallbackUsed {
			t.Errorf("outcome = %+v, want fallback rescue", outcome)
		}
		if got := outcome.Meta["fallback_tool"]; got != "backup" {
			t.Errorf("Meta[fallback_tool] = %v, want backup", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("job did not fire within 3s")
	}
}

func TestServiceStartTwice(t *testing.T) {
	svc, err := schedule.NewService(testRunner(t))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer svc.Stop()

	if err := svc.Start(context.Background()); err == nil {
		t.Error("second Start accepted")
	}
}

func TestServiceStopHaltsFiring(t *testing.T) {
	svc, err := schedule.NewService(testRunner(t))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	fired := make(chan struct{}, 16)
	svc.OnOutcome = func(schedule.Job, invoke.Outcome) {
		select {
		case fired <- struct{}{}:
		default:
		}
	}
	if err := svc.Add(schedule.Job{Name: "beat", Spec: "* * * * * *", Tool: "heartbeat"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("job never fired")
	}

	svc.Stop()

	// Drain anything emitted before the stop landed, then expect silence.
	for {
		select {
		case <-fired:
			continue
		case <-time.After(1500 * time.Millisecond):
		}
		break
	}
	select {
	case <-fired:
		t.Error("job fired after Stop")
	default:
	}
}

func TestServiceStopWithoutStart(t *testing.T) {
	svc, err := schedule.NewService(testRunner(t))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	svc.Stop()
	svc.Stop()
}

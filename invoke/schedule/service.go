// Package schedule runs registered tools on cron schedules.
//
// A Service wraps a cron scheduler around a Runner: each firing builds a
// fresh ExecutionContext and sends the tool through the full invocation
// pipeline, fallback chain included. Outcomes are delivered to an optional
// callback; the scheduler itself never inspects them.
//
//	svc, err := schedule.NewService(runner)
//	svc.OnOutcome = func(job schedule.Job, outcome invoke.Outcome) {
//	    log.Printf("job %s success=%v", job.Name, outcome.Success)
//	}
//	svc.Add(schedule.Job{
//	    Name: "hourly-digest",
//	    Spec: "0 0 * * * *",
//	    Tool: "mail.api",
//	    Args: map[string]interface{}{"to": "ops@example.com", "body": "digest"},
//	})
//	svc.Start(ctx)
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/relaykit/invoke-go/invoke"
)

// Job names a recurring invocation: a cron spec (with a seconds field) and
// the registered tool to run.
type Job struct {
	Name string                 `json:"name"`
	Spec string                 `json:"spec"`
	Tool string                 `json:"tool"`
	Args map[string]interface{} `json:"args,omitempty"`
}

// Sentinel errors for job management.
var (
	ErrNilRunner    = errors.New("schedule: runner must not be nil")
	ErrDuplicateJob = errors.New("schedule: job name already registered")
	ErrUnknownJob   = errors.New("schedule: no job with that name")
)

// Service schedules recurring tool invocations.
//
// Jobs may be added before or after Start. Stop cancels the run context, so
// invocations in flight see caller cancellation, and waits briefly for
// running jobs to drain.
type Service struct {
	// OnOutcome, when set, receives every firing's outcome. Set it before
	// Start; the callback runs on the scheduler goroutine.
	OnOutcome func(job Job, outcome invoke.Outcome)

	runner *invoke.Runner

	mu      sync.Mutex
	cron    *cron.Cron
	jobs    map[string]Job
	entries map[string]cron.EntryID
	runCtx  context.Context
	cancel  context.CancelFunc
	stopCh  chan struct{}
	running bool
}

// NewService builds a scheduler on top of the given runner. The runner
// should carry a registry, or every Add will fail.
func NewService(runner *invoke.Runner) (*Service, error) {
	if runner == nil {
		return nil, ErrNilRunner
	}
	return &Service{
		runner:  runner,
		cron:    cron.New(cron.WithSeconds()),
		jobs:    make(map[string]Job),
		entries: make(map[string]cron.EntryID),
	}, nil
}

// Add registers a job. The cron spec uses six fields (seconds first), and
// the tool must already be registered with the runner's registry.
func (s *Service) Add(job Job) error {
	if job.Name == "" {
		return errors.New("schedule: job name must not be empty")
	}
	reg := s.runner.Registry()
	if reg == nil {
		return errors.New("schedule: runner has no tool registry")
	}
	if _, ok := reg.Lookup(job.Tool); !ok {
		return fmt.Errorf("schedule: job %s names unregistered tool %q", job.Name, job.Tool)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.Name)
	}

	id, err := s.cron.AddFunc(job.Spec, func() { s.fire(job) })
	if err != nil {
		return fmt.Errorf("schedule: invalid cron spec %q: %w", job.Spec, err)
	}
	s.jobs[job.Name] = job
	s.entries[job.Name] = id
	return nil
}

// Remove unschedules a job by name.
func (s *Service) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	s.cron.Remove(id)
	delete(s.entries, name)
	delete(s.jobs, name)
	return nil
}

// Jobs returns the registered jobs sorted by name.
func (s *Service) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })
	return jobs
}

// Start begins firing jobs. The service stops itself when ctx ends.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("schedule: service already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	stopCh := make(chan struct{})
	s.runCtx = runCtx
	s.cancel = cancel
	s.stopCh = stopCh
	s.running = true
	s.mu.Unlock()

	s.cron.Start()

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stopCh:
		}
	}()
	return nil
}

// Stop halts scheduling, cancels invocations in flight, and waits up to a
// few seconds for running jobs to drain. Safe to call more than once.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	stopCh := s.stopCh
	s.cancel = nil
	s.stopCh = nil
	s.running = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stopCh != nil {
		close(stopCh)
	}

	drained := s.cron.Stop()
	select {
	case <-drained.Done():
	case <-time.After(5 * time.Second):
	}
}

// fire runs one scheduled invocation through the fallback chain.
func (s *Service) fire(job Job) {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	execCtx := invoke.NewExecutionContext()
	outcome := s.runner.RunByNameWithFallbacks(ctx, job.Tool, job.Args, execCtx)

	if cb := s.OnOutcome; cb != nil {
		cb(job, outcome)
	}
}

package tool

import (
	"context"
	"sync"
	"time"
)

// MockResult is a single scripted step for a MockTool.
type MockResult struct {
	// Output is returned when Err is nil.
	Output map[string]interface{}

	// Err, if set, is returned instead of Output.
	Err error

	// Delay is how long the call takes before returning.
	// The wait respects context cancellation and deadlines.
	Delay time.Duration
}

// MockTool is a scriptable Tool implementation for tests and simulations.
//
// Each call consumes the next step of Script; when the script runs out the
// last step repeats. A step can succeed, fail with a chosen error, or stall
// for a while, which makes it easy to exercise retries, timeouts, and
// breaker trips:
//
//	flaky := tool.NewMockTool("mail.api",
//	    tool.MockResult{Err: tool.Errorf(tool.KindNetwork, "connection refused")},
//	    tool.MockResult{Output: map[string]interface{}{"sent": true}},
//	)
//	// First call fails with a network error, every later call succeeds.
//
// MockTool is safe for concurrent use.
type MockTool struct {
	// Desc is the descriptor returned by Describe.
	Desc Descriptor

	// Script contains the sequence of results to return.
	// If empty, every call succeeds with an empty output.
	Script []MockResult

	// Calls records the arguments of every invocation, in order.
	Calls []MockCall

	mu        sync.Mutex
	callIndex int
}

// MockCall records a single invocation.
type MockCall struct {
	Args map[string]interface{}
}

// NewMockTool creates a MockTool named name with the given script.
// Descriptor options such as WithFallback or WithMaxRetries can be set
// afterwards by assigning Desc.
func NewMockTool(name string, script ...MockResult) *MockTool {
	return &MockTool{
		Desc:   NewDescriptor(name),
		Script: script,
	}
}

// Describe implements Tool.
func (m *MockTool) Describe() Descriptor { return m.Desc }

// Invoke implements Tool.
//
// It records the call, waits out the step's Delay, then returns the step's
// Output or Err. Cancellation during the delay returns ctx.Err() without
// consuming extra script steps.
func (m *MockTool) Invoke(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	m.mu.Lock()
	m.Calls = append(m.Calls, MockCall{Args: args})

	var step MockResult
	if len(m.Script) > 0 {
		idx := m.callIndex
		if idx >= len(m.Script) {
			idx = len(m.Script) - 1
		} else {
			m.callIndex++
		}
		step = m.Script[idx]
	}
	m.mu.Unlock()

	if step.Delay > 0 {
		timer := time.NewTimer(step.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	if step.Err != nil {
		return nil, step.Err
	}
	if step.Output == nil {
		return map[string]interface{}{}, nil
	}
	return step.Output, nil
}

// Reset clears the call history and rewinds the script.
func (m *MockTool) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = nil
	m.callIndex = 0
}

// CallCount returns how many times Invoke has been called.
func (m *MockTool) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.Calls)
}

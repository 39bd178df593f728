// Package crontest provides test doubles for the cron package.
package crontest

import (
	"context"
	"sync"

	ctxengine "github.com/flemzord/chatmem/internal/context"
	"github.com/flemzord/chatmem/internal/cron"
)

// MockJob is a configurable test double for cron.Job.
type MockJob struct {
	NameVal     string
	ScheduleVal string
	RunFunc     func(ctx context.Context) error

	mu    sync.Mutex
	calls int
}

// Compile-time interface check.
var _ cron.Job = (*MockJob)(nil)

// Name implements cron.Job.
func (m *MockJob) Name() string { return m.NameVal }

// Schedule implements cron.Job.
func (m *MockJob) Schedule() string { return m.ScheduleVal }

// Run implements cron.Job and increments the call counter.
func (m *MockJob) Run(ctx context.Context) error {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.RunFunc != nil {
		return m.RunFunc(ctx)
	}
	return nil
}

// CallCount returns the number of times Run was called.
func (m *MockJob) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockCompactor is a test double for cron.Compactor.
type MockCompactor struct {
	Result ctxengine.Result
	Err    error

	mu    sync.Mutex
	calls int
}

// Compile-time interface check.
var _ cron.Compactor = (*MockCompactor)(nil)

// Compact records the call and returns the configured result.
func (m *MockCompactor) Compact(_ context.Context) (ctxengine.Result, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return m.Result, m.Err
}

// Calls returns the number of Compact calls.
func (m *MockCompactor) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockCheckpointer is a test double for cron.Checkpointer.
type MockCheckpointer struct {
	Err error

	mu    sync.Mutex
	calls int
}

// Compile-time interface check.
var _ cron.Checkpointer = (*MockCheckpointer)(nil)

// Checkpoint records the call.
func (m *MockCheckpointer) Checkpoint(_ context.Context) error {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return m.Err
}

// Calls returns the number of Checkpoint calls.
func (m *MockCheckpointer) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

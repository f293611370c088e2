// Package mock provides a test double for the tool.Executor interface.
//
// Use Executor in router tests to script path behaviour and count how often
// each path actually ran.
package mock

import (
	"context"
	"sync"

	"github.com/avockley/parlance/internal/tool"
)

// ExecuteCall records a single invocation of Execute.
type ExecuteCall struct {
	// Ctx is the context passed to Execute.
	Ctx context.Context
	// Inv is the invocation passed to Execute.
	Inv tool.Invocation
}

// Executor is a mock implementation of tool.Executor.
// With no fields set, Execute returns an empty successful outcome.
type Executor struct {
	mu sync.Mutex

	// Outcome is returned by Execute when ExecuteFunc is nil. A nil value
	// yields an empty successful outcome.
	Outcome *tool.Outcome

	// Err, if non-nil, is returned as the error from Execute.
	Err error

	// ExecuteFunc, if non-nil, overrides Outcome/Err and is invoked for
	// every call. Useful for per-call behaviour (fail once then succeed,
	// block until the context is cancelled, panic).
	ExecuteFunc func(ctx context.Context, inv tool.Invocation) (*tool.Outcome, error)

	// ExecuteCalls records every invocation of Execute in order.
	ExecuteCalls []ExecuteCall
}

// Execute records the call and returns the configured outcome.
func (e *Executor) Execute(ctx context.Context, inv tool.Invocation) (*tool.Outcome, error) {
	e.mu.Lock()
	e.ExecuteCalls = append(e.ExecuteCalls, ExecuteCall{Ctx: ctx, Inv: inv})
	fn := e.ExecuteFunc
	out, err := e.Outcome, e.Err
	e.mu.Unlock()

	if fn != nil {
		return fn(ctx, inv)
	}
	if err != nil {
		return nil, err
	}
	if out == nil {
		return &tool.Outcome{}, nil
	}
	cp := *out
	return &cp, nil
}

// Calls returns a snapshot of all recorded Execute calls. Thread-safe.
func (e *Executor) Calls() []ExecuteCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ExecuteCall, len(e.ExecuteCalls))
	copy(out, e.ExecuteCalls)
	return out
}

// CallCount returns how many times Execute was invoked. Thread-safe.
func (e *Executor) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.ExecuteCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (e *Executor) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ExecuteCalls = nil
}

// Ensure Executor implements tool.Executor at compile time.
var _ tool.Executor = (*Executor)(nil)

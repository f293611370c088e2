package tool

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/avockley/parlance/internal/flags"
	"github.com/avockley/parlance/internal/observe"
)

// genericErrorText is the only failure message callers ever see. Raw errors
// stay in the logs.
const genericErrorText = "Sorry, I couldn't complete that right now. Please try again."

// unknownToolText is returned for invocations naming an unregistered tool.
const unknownToolText = "Sorry, I don't know how to do that."

// rollbackTriggerModularFailure is the trigger name recorded when the
// modular path fails and the legacy path is retried.
const rollbackTriggerModularFailure = "modular_path_failure"

// Router dispatches tool invocations to the legacy or modular execution
// path based on a feature flag snapshot read once per invocation.
//
// Execute never panics and never returns a Go error: every failure becomes
// an ExecutionResult with IsError set and a user-safe message. Safe for
// concurrent use.
type Router struct {
	registry map[string]Definition
	flags    *flags.Store
	legacy   Executor
	modular  Executor
	monitor  *observe.Monitor
	metrics  *observe.Metrics
	log      *slog.Logger
	nowFunc  func() time.Time
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithMonitor attaches the performance monitor receiving one sample per
// path execution.
func WithMonitor(m *observe.Monitor) RouterOption {
	return func(r *Router) { r.monitor = m }
}

// WithRouterMetrics attaches the OTel instruments. Defaults to
// observe.DefaultMetrics().
func WithRouterMetrics(m *observe.Metrics) RouterOption {
	return func(r *Router) { r.metrics = m }
}

// WithRouterLogger sets the router's logger. Defaults to slog.Default().
func WithRouterLogger(l *slog.Logger) RouterOption {
	return func(r *Router) { r.log = l }
}

// NewRouter creates a Router over defs. legacy must be non-nil; modular may
// be nil, in which case every invocation takes the legacy path regardless
// of flags. Definitions with empty names or unknown categories are
// rejected.
func NewRouter(defs []Definition, store *flags.Store, legacy, modular Executor, opts ...RouterOption) (*Router, error) {
	if store == nil {
		return nil, fmt.Errorf("tool: router requires a flag store")
	}
	if legacy == nil {
		return nil, fmt.Errorf("tool: router requires a legacy executor")
	}

	registry := make(map[string]Definition, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			return nil, fmt.Errorf("tool: definition with empty name")
		}
		if !def.Category.IsValid() {
			return nil, fmt.Errorf("tool: definition %q has unknown category %q", def.Name, def.Category)
		}
		if _, dup := registry[def.Name]; dup {
			return nil, fmt.Errorf("tool: duplicate definition %q", def.Name)
		}
		registry[def.Name] = def
	}

	r := &Router{
		registry: registry,
		flags:    store,
		legacy:   legacy,
		modular:  modular,
		log:      slog.Default(),
		nowFunc:  time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r, nil
}

// Definitions returns the registered tool definitions.
func (r *Router) Definitions() []Definition {
	out := make([]Definition, 0, len(r.registry))
	for _, def := range r.registry {
		out = append(out, def)
	}
	return out
}

// Execute runs one invocation and always returns a result.
//
// The flag snapshot is read exactly once, so a flag change mid-invocation
// affects only subsequent invocations. When the snapshot allows the modular
// path with fallback and the modular execution fails, the legacy path is
// re-executed before returning and the failure is recorded as a rollback
// trigger signal. Each path execution emits one performance sample; a
// fallback therefore emits two.
//
// If ctx is cancelled while a path is executing, Execute stops waiting and
// returns a cancellation result; the in-flight execution finishes in the
// background and its result is discarded.
func (r *Router) Execute(ctx context.Context, inv Invocation) (result *ExecutionResult) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("tool: router panic",
				"tool", inv.ToolName, "request_id", inv.RequestID, "panic", rec)
			result = &ExecutionResult{Content: genericErrorText, IsError: true}
		}
	}()

	r.metrics.ActiveInvocations.Add(ctx, 1)
	defer r.metrics.ActiveInvocations.Add(ctx, -1)

	def, ok := r.registry[inv.ToolName]
	if !ok {
		r.log.Warn("tool: unknown tool", "tool", inv.ToolName, "request_id", inv.RequestID)
		return &ExecutionResult{Content: unknownToolText, IsError: true}
	}

	// One snapshot per invocation. A rollback issued after this point
	// governs the next invocation, not this one.
	snap := r.flags.Get()
	useModular, withFallback := routeDecision(snap, def.Category, r.modular != nil)

	if !useModular {
		out, latency, err := r.runPath(ctx, PathLegacy, r.legacy, inv)
		return r.finish(PathLegacy, out, latency, err)
	}

	out, latency, err := r.runPath(ctx, PathModular, r.modular, inv)
	if err == nil && !out.IsError {
		return r.finish(PathModular, out, latency, nil)
	}
	if ctx.Err() != nil {
		// The caller is gone; a fallback answer has no audience.
		return r.finish(PathModular, out, latency, err)
	}

	if !withFallback {
		r.log.Warn("tool: modular path failed",
			"tool", inv.ToolName, "request_id", inv.RequestID, "err", err)
		return &ExecutionResult{Content: genericErrorText, IsError: true, Path: PathModular, LatencyMs: latency}
	}

	r.log.Warn("tool: modular path failed, falling back to legacy",
		"tool", inv.ToolName, "request_id", inv.RequestID, "err", err)
	r.metrics.RecordFallback(ctx, inv.ToolName)
	r.metrics.RecordRollbackTrigger(ctx, rollbackTriggerModularFailure)
	r.flags.RecordTrigger(rollbackTriggerModularFailure)

	out, latency, err = r.runPath(ctx, PathLegacy, r.legacy, inv)
	return r.finish(PathLegacy, out, latency, err)
}

// routeDecision maps a flag snapshot and tool category to a path choice.
func routeDecision(snap *flags.Set, cat Category, modularAvailable bool) (useModular, withFallback bool) {
	if !modularAvailable {
		return false, false
	}
	if !snap.CategoryEnabled(string(cat)) {
		return false, false
	}
	switch snap.MigrationState {
	case flags.StateModularOnly:
		return true, false
	case flags.StateHybrid, flags.StateModularWithFallback:
		return true, true
	default:
		return false, false
	}
}

// runPath executes one path with cancellation. The worker goroutine records
// its own sample when it finishes, so an execution abandoned by a cancelled
// caller still shows up in the monitor exactly once.
func (r *Router) runPath(ctx context.Context, path Path, ex Executor, inv Invocation) (*Outcome, float64, error) {
	type pathResult struct {
		out *Outcome
		err error
		ms  float64
	}
	ch := make(chan pathResult, 1)

	go func() {
		start := r.nowFunc()
		out, err := safeExecute(ctx, ex, inv)
		ms := float64(r.nowFunc().Sub(start)) / float64(time.Millisecond)

		success := err == nil && out != nil && !out.IsError
		status := "ok"
		if !success {
			status = "error"
		}
		r.metrics.RecordToolExecution(context.WithoutCancel(ctx), inv.ToolName, string(path), status, ms/1000)
		if r.monitor != nil {
			r.monitor.Record(observe.Sample{
				Tool:      inv.ToolName,
				Path:      string(path),
				LatencyMs: ms,
				Success:   success,
			})
		}
		ch <- pathResult{out: out, err: err, ms: ms}
	}()

	select {
	case <-ctx.Done():
		// Discard the eventual result; the buffered channel lets the
		// worker exit.
		return nil, 0, ctx.Err()
	case res := <-ch:
		if res.err != nil {
			return nil, res.ms, res.err
		}
		if res.out == nil {
			return nil, res.ms, fmt.Errorf("tool: %s path returned no outcome", path)
		}
		return res.out, res.ms, nil
	}
}

// safeExecute converts an executor panic into an error.
func safeExecute(ctx context.Context, ex Executor, inv Invocation) (out *Outcome, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out, err = nil, fmt.Errorf("tool: executor panic: %v", rec)
		}
	}()
	return ex.Execute(ctx, inv)
}

// finish converts a path outcome into the caller-facing result.
func (r *Router) finish(path Path, out *Outcome, latencyMs float64, err error) *ExecutionResult {
	if err != nil || out == nil {
		return &ExecutionResult{Content: genericErrorText, IsError: true, Path: path, LatencyMs: latencyMs}
	}
	content := out.Content
	if out.IsError {
		content = genericErrorText
	}
	return &ExecutionResult{
		Content:   content,
		IsError:   out.IsError,
		Path:      path,
		LatencyMs: latencyMs,
	}
}

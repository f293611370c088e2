// Package tool contains the tool invocation model and the router that
// dispatches each invocation to the legacy or the modular execution path
// according to the current feature flags.
package tool

import (
	"context"

	"github.com/google/uuid"
)

// Category groups tools for per-category migration rollout. The set is
// closed: the router rejects definitions with an unknown category.
type Category string

const (
	// CategoryLocation covers place lookup and nearby-search tools.
	CategoryLocation Category = "location"

	// CategoryTravel covers routing and transit tools.
	CategoryTravel Category = "travel"

	// CategorySearch covers general web lookup tools.
	CategorySearch Category = "search"

	// CategorySafety covers emergency and safety information tools.
	CategorySafety Category = "safety"
)

// IsValid reports whether c is a recognised category.
func (c Category) IsValid() bool {
	switch c {
	case CategoryLocation, CategoryTravel, CategorySearch, CategorySafety:
		return true
	}
	return false
}

// Definition describes one invocable tool.
type Definition struct {
	// Name uniquely identifies the tool.
	Name string

	// Description is shown to the upstream model that picks tools.
	Description string

	// Category selects the migration rollout group.
	Category Category

	// ParameterSchema is the JSON schema of the tool's params object.
	ParameterSchema map[string]any
}

// Invocation is one request to execute a tool.
type Invocation struct {
	// ToolName names the tool to execute.
	ToolName string

	// Params is the decoded params object from the caller.
	Params map[string]any

	// RequestID correlates log lines and samples for this invocation.
	RequestID string
}

// NewInvocation builds an Invocation with a fresh request ID.
func NewInvocation(toolName string, params map[string]any) Invocation {
	return Invocation{
		ToolName:  toolName,
		Params:    params,
		RequestID: uuid.NewString(),
	}
}

// Path names an execution path.
type Path string

const (
	// PathLegacy is the monolithic pre-migration implementation.
	PathLegacy Path = "legacy"

	// PathModular is the new fusion/synthesis pipeline.
	PathModular Path = "modular"
)

// Outcome is what an execution path produces: the reply content plus
// whether the path itself reported an application-level error. Routing
// metadata (path taken, latency) is attached by the router.
type Outcome struct {
	// Content is the reply text. For a clarifying question this is the
	// question itself; the invocation still counts as a success.
	Content string

	// IsError marks an application-level failure reported by the path.
	IsError bool
}

// ExecutionResult is the router's final answer for one invocation. Its
// shape is identical no matter which path executed the tool.
type ExecutionResult struct {
	// Content is the reply text, or a user-safe message on error.
	Content string

	// IsError reports whether the invocation failed.
	IsError bool

	// Path is the execution path that produced Content. Empty when no
	// path ran (unknown tool, cancelled before execution).
	Path Path

	// LatencyMs is the latency of the path execution that produced
	// Content, in milliseconds.
	LatencyMs float64
}

// Executor runs one invocation on one execution path.
type Executor interface {
	Execute(ctx context.Context, inv Invocation) (*Outcome, error)
}

// Package modular executes tool invocations on the new pipeline: provider
// fusion, ambiguity check, answer synthesis, and hallucination validation,
// in that strict order.
package modular

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/avockley/parlance/internal/ambiguity"
	"github.com/avockley/parlance/internal/answer"
	"github.com/avockley/parlance/internal/fusion"
	"github.com/avockley/parlance/internal/observe"
	"github.com/avockley/parlance/internal/tool"
	"github.com/avockley/parlance/pkg/provider/search"
)

// defaultRadiusLadder is the widening search radius sequence, in meters.
// When fusion reports insufficient coverage at one rung the pipeline
// retries at the next.
var defaultRadiusLadder = []int{1000, 3000, 10000}

// defaultStageTimeout bounds each pipeline stage that makes external calls.
const defaultStageTimeout = 8 * time.Second

// Pipeline is a tool.Executor implementing the modular path. It is
// stateless across invocations and safe for concurrent use.
type Pipeline struct {
	engine       *fusion.Engine
	classifier   *ambiguity.Classifier
	synthesizer  *answer.Synthesizer
	metrics      *observe.Metrics
	log          *slog.Logger
	radiusLadder []int
	stageTimeout time.Duration
}

// Compile-time check: Pipeline must implement tool.Executor.
var _ tool.Executor = (*Pipeline)(nil)

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithRadiusLadder replaces the widening radius sequence (meters).
func WithRadiusLadder(meters []int) PipelineOption {
	return func(p *Pipeline) {
		if len(meters) > 0 {
			p.radiusLadder = meters
		}
	}
}

// WithStageTimeout bounds each externally-calling stage.
func WithStageTimeout(d time.Duration) PipelineOption {
	return func(p *Pipeline) {
		if d > 0 {
			p.stageTimeout = d
		}
	}
}

// WithPipelineMetrics attaches the OTel instruments. Defaults to
// observe.DefaultMetrics().
func WithPipelineMetrics(m *observe.Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

// WithPipelineLogger sets the pipeline's logger. Defaults to slog.Default().
func WithPipelineLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) { p.log = l }
}

// NewPipeline creates a Pipeline over the given stages.
func NewPipeline(engine *fusion.Engine, classifier *ambiguity.Classifier, synthesizer *answer.Synthesizer, opts ...PipelineOption) (*Pipeline, error) {
	if engine == nil {
		return nil, fmt.Errorf("modular: pipeline requires a fusion engine")
	}
	if classifier == nil {
		return nil, fmt.Errorf("modular: pipeline requires an ambiguity classifier")
	}
	if synthesizer == nil {
		return nil, fmt.Errorf("modular: pipeline requires a synthesizer")
	}

	p := &Pipeline{
		engine:       engine,
		classifier:   classifier,
		synthesizer:  synthesizer,
		log:          slog.Default(),
		radiusLadder: defaultRadiusLadder,
		stageTimeout: defaultStageTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p, nil
}

// Execute runs the full pipeline for one invocation.
//
// Stage order is fixed: fusion, then ambiguity, then synthesis, then
// validation. A clarifying question short-circuits after the ambiguity
// stage and is returned as a successful outcome. Any stage error is
// returned as a Go error for the router to absorb.
func (p *Pipeline) Execute(ctx context.Context, inv tool.Invocation) (*tool.Outcome, error) {
	req, err := parseRequest(inv)
	if err != nil {
		return nil, err
	}

	// Stage 1: fusion, climbing the radius ladder until coverage suffices.
	candidates, err := p.fuse(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("modular: no candidates for %q", req.query)
	}

	// Stage 2: ambiguity. A clarifying question ends the invocation
	// successfully; nothing downstream runs.
	decision := p.classify(ctx, req.query, candidates)
	if decision.Outcome == ambiguity.Clarify {
		p.metrics.Clarifications.Add(ctx, 1)
		p.log.Info("modular: clarification requested",
			"request_id", inv.RequestID, "query", req.query)
		return &tool.Outcome{Content: decision.Question}, nil
	}

	// Stage 3: synthesis.
	draft, err := p.synthesize(ctx, req, candidates)
	if err != nil {
		return nil, err
	}

	// Stage 4: validation. Rejection is not an error; the verdict carries
	// the safe replacement text.
	verdict := answer.Validate(draft, candidates)
	if !verdict.Accepted {
		p.metrics.ValidatorRejections.Add(ctx, 1)
		p.log.Warn("modular: draft rejected by validator",
			"request_id", inv.RequestID, "query", req.query)
	}

	return &tool.Outcome{Content: verdict.FinalText}, nil
}

// request is the parsed invocation parameter set.
type request struct {
	query   string
	origin  search.Location
	radius  int
	context string
}

// parseRequest extracts and checks the pipeline parameters.
func parseRequest(inv tool.Invocation) (*request, error) {
	query, _ := inv.Params["query"].(string)
	if query == "" {
		return nil, fmt.Errorf("modular: invocation %q missing string param \"query\"", inv.ToolName)
	}

	req := &request{query: query}
	req.origin.Lat, _ = floatParam(inv.Params, "lat")
	req.origin.Lon, _ = floatParam(inv.Params, "lon")
	if r, ok := floatParam(inv.Params, "radius_m"); ok && r > 0 {
		req.radius = int(r)
	}
	req.context, _ = inv.Params["context"].(string)
	return req, nil
}

// floatParam reads a numeric param that may arrive as float64 (JSON) or int.
func floatParam(params map[string]any, key string) (float64, bool) {
	switch v := params[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// fuse runs the fusion stage, widening the radius while coverage is
// insufficient. The last rung's candidates are used even when coverage
// never becomes sufficient.
func (p *Pipeline) fuse(ctx context.Context, req *request) ([]fusion.Candidate, error) {
	ladder := p.radiusLadder
	if req.radius > 0 {
		// An explicit radius becomes the first rung; wider rungs still
		// apply if it comes up short.
		ladder = append([]int{req.radius}, widerThan(p.radiusLadder, req.radius)...)
	}

	start := time.Now()
	defer func() {
		p.metrics.FusionDuration.Record(ctx, time.Since(start).Seconds())
	}()

	var last *fusion.Result
	for _, radius := range ladder {
		stageCtx, cancel := context.WithTimeout(ctx, p.stageTimeout)
		res, err := p.engine.Fuse(stageCtx, req.query, req.origin, radius)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("modular: fusion at %dm: %w", radius, err)
		}
		last = res
		if !res.InsufficientCoverage {
			return res.Candidates, nil
		}
		p.log.Debug("modular: widening search radius",
			"query", req.query, "radius_m", radius)
	}
	return last.Candidates, nil
}

// widerThan returns the ladder rungs strictly above radius.
func widerThan(ladder []int, radius int) []int {
	var out []int
	for _, r := range ladder {
		if r > radius {
			out = append(out, r)
		}
	}
	return out
}

// classify runs the ambiguity stage with its own timeout. The classifier
// itself fails open, so this never errors.
func (p *Pipeline) classify(ctx context.Context, query string, candidates []fusion.Candidate) ambiguity.Decision {
	stageCtx, cancel := context.WithTimeout(ctx, p.stageTimeout)
	defer cancel()

	start := time.Now()
	decision := p.classifier.Classify(stageCtx, query, candidates)
	p.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds(),
		llmStageAttr("classify"))
	return decision
}

// synthesize runs the synthesis stage with its own timeout.
func (p *Pipeline) synthesize(ctx context.Context, req *request, candidates []fusion.Candidate) (*answer.Draft, error) {
	stageCtx, cancel := context.WithTimeout(ctx, p.stageTimeout)
	defer cancel()

	start := time.Now()
	draft, err := p.synthesizer.Synthesize(stageCtx, req.query, candidates, req.context)
	p.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds(),
		llmStageAttr("synthesize"))
	if err != nil {
		return nil, fmt.Errorf("modular: synthesis: %w", err)
	}
	return draft, nil
}

// llmStageAttr labels an LLM latency sample with its pipeline stage.
func llmStageAttr(stage string) metric.RecordOption {
	return metric.WithAttributes(observe.Attr("stage", stage))
}

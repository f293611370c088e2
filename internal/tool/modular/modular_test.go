package modular

import (
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/avockley/parlance/internal/ambiguity"
	"github.com/avockley/parlance/internal/answer"
	"github.com/avockley/parlance/internal/fusion"
	"github.com/avockley/parlance/internal/observe"
	"github.com/avockley/parlance/internal/tool"
	"github.com/avockley/parlance/pkg/provider/llm"
	llmmock "github.com/avockley/parlance/pkg/provider/llm/mock"
	"github.com/avockley/parlance/pkg/provider/search"
	searchmock "github.com/avockley/parlance/pkg/provider/search/mock"
)

func ptr[T any](v T) *T { return &v }

// jambaPlace is a reliable candidate: operational with plenty of reviews.
func jambaPlace() search.Place {
	return search.Place{
		Name:        "Jamba Juice",
		Address:     "117 W 72nd St",
		Location:    search.Location{Lat: 40.7779, Lon: -73.9787},
		Operational: ptr(true),
		Rating:      ptr(4.3),
		ReviewCount: ptr(1247),
		Phone:       "+1 212-555-0117",
	}
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// newTestPipeline wires a pipeline over mock providers: one search backend,
// one LLM for classification, one LLM for synthesis.
func newTestPipeline(t *testing.T, sp search.Provider, classifierLLM, synthLLM llm.Provider, opts ...PipelineOption) *Pipeline {
	t.Helper()
	engine := fusion.NewEngine([]search.Provider{sp}, fusion.WithMinReliable(1))
	opts = append(opts, WithPipelineMetrics(testMetrics(t)))
	p, err := NewPipeline(engine,
		ambiguity.NewClassifier(classifierLLM, nil),
		answer.NewSynthesizer(synthLLM),
		opts...,
	)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	return p
}

func invocation(params map[string]any) tool.Invocation {
	if params == nil {
		params = map[string]any{}
	}
	if _, ok := params["query"]; !ok {
		params["query"] = "smoothies near me"
	}
	if _, ok := params["lat"]; !ok {
		params["lat"] = 40.7773
		params["lon"] = -73.9818
	}
	return tool.NewInvocation("find_place", params)
}

// TestExecute_HappyPath runs fusion through validation and returns the
// synthesized answer.
func TestExecute_HappyPath(t *testing.T) {
	t.Parallel()

	sp := &searchmock.Provider{Results: []search.Place{jambaPlace()}}
	classifier := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "PROCEED"}}
	synth := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: "Jamba Juice at 117 W 72nd St is about a five minute walk away.",
	}}
	p := newTestPipeline(t, sp, classifier, synth)

	out, err := p.Execute(context.Background(), invocation(nil))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.IsError {
		t.Fatalf("unexpected error outcome: %+v", out)
	}
	if !strings.Contains(out.Content, "Jamba Juice") {
		t.Errorf("Content = %q", out.Content)
	}
	if sp.CallCount() != 1 {
		t.Errorf("search calls = %d, want 1", sp.CallCount())
	}
}

// TestExecute_ClarifyShortCircuits verifies a clarify verdict ends the
// invocation successfully without running synthesis.
func TestExecute_ClarifyShortCircuits(t *testing.T) {
	t.Parallel()

	sp := &searchmock.Provider{Results: []search.Place{{
		Name:        "Target (sells Uniclo brand)",
		Address:     "10 Main St",
		Operational: ptr(true),
		Phone:       "+1 212-555-0101",
	}}}
	classifier := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: "CLARIFY: Did you mean Target, which sells the Uniclo brand, or a Uniqlo store?",
	}}
	synth := &llmmock.Provider{}
	p := newTestPipeline(t, sp, classifier, synth)

	out, err := p.Execute(context.Background(), invocation(map[string]any{"query": "Find Uniqlo"}))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.IsError {
		t.Fatalf("clarification should be a success outcome: %+v", out)
	}
	if !strings.Contains(out.Content, "Target") || !strings.Contains(out.Content, "Uniqlo") {
		t.Errorf("question missing business names: %q", out.Content)
	}
	if len(synth.Calls()) != 0 {
		t.Error("synthesis ran despite a clarify verdict")
	}
}

// TestExecute_HallucinationReplaced verifies a draft citing an unknown
// address is replaced with the verified enumeration, still as a success.
func TestExecute_HallucinationReplaced(t *testing.T) {
	t.Parallel()

	sp := &searchmock.Provider{Results: []search.Place{jambaPlace()}}
	classifier := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "PROCEED"}}
	synth := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: "Jamba Juice is at 165 Amsterdam Avenue.",
	}}
	p := newTestPipeline(t, sp, classifier, synth)

	out, err := p.Execute(context.Background(), invocation(nil))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.IsError {
		t.Fatalf("validator rejection must not be an error outcome: %+v", out)
	}
	if strings.Contains(out.Content, "165 Amsterdam") {
		t.Errorf("hallucinated address survived: %q", out.Content)
	}
	if !strings.Contains(out.Content, "Jamba Juice, 117 W 72nd St") {
		t.Errorf("verified enumeration missing: %q", out.Content)
	}
}

// TestExecute_RadiusLadder verifies the pipeline widens the radius when
// coverage is insufficient and stops at the first sufficient rung.
func TestExecute_RadiusLadder(t *testing.T) {
	t.Parallel()

	var radii []int
	sp := &searchmock.Provider{}
	sp.SearchFunc = func(_ context.Context, q search.Query) (*search.ResultSet, error) {
		radii = append(radii, q.RadiusMeters)
		if q.RadiusMeters < 3000 {
			return &search.ResultSet{Provider: "mock"}, nil
		}
		return &search.ResultSet{Provider: "mock", Places: []search.Place{jambaPlace()}}, nil
	}
	classifier := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "PROCEED"}}
	synth := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: "Jamba Juice at 117 W 72nd St.",
	}}
	p := newTestPipeline(t, sp, classifier, synth,
		WithRadiusLadder([]int{1000, 3000, 10000}))

	out, err := p.Execute(context.Background(), invocation(nil))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.IsError {
		t.Fatalf("unexpected error outcome: %+v", out)
	}
	want := []int{1000, 3000}
	if len(radii) != len(want) {
		t.Fatalf("radii = %v, want %v", radii, want)
	}
	for i := range want {
		if radii[i] != want[i] {
			t.Errorf("radii = %v, want %v", radii, want)
			break
		}
	}
}

// TestExecute_ExplicitRadiusLeadsLadder verifies a caller-supplied radius
// becomes the first rung.
func TestExecute_ExplicitRadiusLeadsLadder(t *testing.T) {
	t.Parallel()

	var first int
	sp := &searchmock.Provider{}
	sp.SearchFunc = func(_ context.Context, q search.Query) (*search.ResultSet, error) {
		if first == 0 {
			first = q.RadiusMeters
		}
		return &search.ResultSet{Provider: "mock", Places: []search.Place{jambaPlace()}}, nil
	}
	classifier := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "PROCEED"}}
	synth := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Jamba Juice at 117 W 72nd St."}}
	p := newTestPipeline(t, sp, classifier, synth)

	if _, err := p.Execute(context.Background(), invocation(map[string]any{"radius_m": float64(500)})); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if first != 500 {
		t.Errorf("first radius = %d, want 500", first)
	}
}

// TestExecute_NoCandidates verifies an empty fused result is an error for
// the router to absorb.
func TestExecute_NoCandidates(t *testing.T) {
	t.Parallel()

	sp := &searchmock.Provider{}
	classifier := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "PROCEED"}}
	synth := &llmmock.Provider{}
	p := newTestPipeline(t, sp, classifier, synth)

	if _, err := p.Execute(context.Background(), invocation(nil)); err == nil {
		t.Error("expected an error when no candidates are found")
	}
	if len(synth.Calls()) != 0 {
		t.Error("synthesis ran without candidates")
	}
}

// TestExecute_MissingQuery verifies parameter validation.
func TestExecute_MissingQuery(t *testing.T) {
	t.Parallel()

	sp := &searchmock.Provider{Results: []search.Place{jambaPlace()}}
	classifier := &llmmock.Provider{}
	synth := &llmmock.Provider{}
	p := newTestPipeline(t, sp, classifier, synth)

	inv := tool.NewInvocation("find_place", map[string]any{"lat": 40.0, "lon": -73.0})
	if _, err := p.Execute(context.Background(), inv); err == nil {
		t.Error("expected an error for a missing query param")
	}
	if sp.CallCount() != 0 {
		t.Error("search ran without a query")
	}
}

// TestExecute_ClassifierFailureProceeds verifies an unavailable classifier
// does not fail the invocation.
func TestExecute_ClassifierFailureProceeds(t *testing.T) {
	t.Parallel()

	sp := &searchmock.Provider{Results: []search.Place{jambaPlace()}}
	classifier := &llmmock.Provider{CompleteErr: context.DeadlineExceeded}
	synth := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: "Jamba Juice at 117 W 72nd St is close by.",
	}}
	p := newTestPipeline(t, sp, classifier, synth)

	out, err := p.Execute(context.Background(), invocation(nil))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.IsError || !strings.Contains(out.Content, "Jamba Juice") {
		t.Errorf("outcome = %+v", out)
	}
}

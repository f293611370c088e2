package answer

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/avockley/parlance/internal/fusion"
	"github.com/avockley/parlance/pkg/provider/llm"
	llmmock "github.com/avockley/parlance/pkg/provider/llm/mock"
)

func ptr[T any](v T) *T { return &v }

func testCandidates() []fusion.Candidate {
	return []fusion.Candidate{
		{
			Name:           "Jamba Juice",
			Address:        "117 W 72nd St",
			Operational:    ptr(true),
			Rating:         ptr(4.3),
			ReviewCount:    ptr(1247),
			Phone:          "+1 212-555-0117",
			DistanceMeters: 450,
		},
		{
			Name:           "Open Smoothies",
			Address:        "200 Columbus Ave",
			DistanceMeters: math.Inf(1),
		},
	}
}

// TestSynthesize_PromptEnumeratesCandidates verifies that every candidate
// field reaches the user prompt so the model has nothing to invent.
func TestSynthesize_PromptEnumeratesCandidates(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Jamba Juice at 117 W 72nd St is your best bet."}}
	s := NewSynthesizer(p)

	if _, err := s.Synthesize(context.Background(), "smoothies near me", testCandidates(), ""); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 provider call, got %d", len(calls))
	}
	req := calls[0].Req
	if req.SystemPrompt == "" {
		t.Error("expected a system prompt to be set")
	}
	prompt := req.Messages[len(req.Messages)-1].Content
	for _, want := range []string{
		"smoothies near me",
		"Jamba Juice", "117 W 72nd St", "450", "4.3", "1247", "+1 212-555-0117",
		"Open Smoothies", "200 Columbus Ave",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if strings.Contains(prompt, "+Inf") || strings.Contains(prompt, "Inf m") {
		t.Errorf("prompt leaked an infinite distance:\n%s", prompt)
	}
}

// TestSynthesize_CitedEntities verifies that names and addresses quoted in
// the draft are recorded as cited entities.
func TestSynthesize_CitedEntities(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "The closest is Jamba Juice at 117 W 72nd St."}}
	s := NewSynthesizer(p)

	draft, err := s.Synthesize(context.Background(), "smoothies", testCandidates(), "")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	want := map[string]bool{"Jamba Juice": true, "117 W 72nd St": true}
	for _, e := range draft.CitedEntities {
		delete(want, e)
	}
	for missing := range want {
		t.Errorf("cited entities missing %q (got %v)", missing, draft.CitedEntities)
	}
}

// TestSynthesize_EmptyCandidates verifies that synthesis refuses to run
// without grounding data.
func TestSynthesize_EmptyCandidates(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{}
	s := NewSynthesizer(p)
	if _, err := s.Synthesize(context.Background(), "smoothies", nil, ""); err == nil {
		t.Error("expected an error for empty candidate list")
	}
	if len(p.Calls()) != 0 {
		t.Error("provider should not be called without candidates")
	}
}

// TestSynthesize_EmptyModelOutput verifies that a blank completion is
// surfaced as an error rather than an empty draft.
func TestSynthesize_EmptyModelOutput(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "   "}}
	s := NewSynthesizer(p)
	if _, err := s.Synthesize(context.Background(), "smoothies", testCandidates(), ""); err == nil {
		t.Error("expected an error for blank model output")
	}
}

// Package answer turns a ranked candidate list into a spoken-style reply and
// guards that reply against hallucinated entities.
//
// The two halves are deliberately paired in one package: the Synthesizer
// produces a Draft whose cited-entity set is an implementation detail shared
// only with Validate, which either accepts the draft or substitutes a safe
// fallback built from the real candidate list.
package answer

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/avockley/parlance/internal/fusion"
	"github.com/avockley/parlance/pkg/provider/llm"
)

// maxEnumerated caps how many candidates are spelled out in the prompt.
// Voice answers only ever mention the top few; a longer enumeration just
// burns tokens and invites the model to ramble.
const maxEnumerated = 8

// Draft is the synthesizer's intermediate output. It is consumed by
// Validate and is not exposed outside this package's callers.
type Draft struct {
	// Text is the generated natural-language answer.
	Text string

	// CitedEntities holds each candidate name and address that appears
	// verbatim (case-insensitively) in Text.
	CitedEntities []string
}

// Synthesizer builds a natural-language answer from candidates via an LLM.
// It is stateless and safe for concurrent use.
type Synthesizer struct {
	provider    llm.Provider
	temperature float64
	maxTokens   int
}

// NewSynthesizer creates a Synthesizer backed by provider.
func NewSynthesizer(provider llm.Provider) *Synthesizer {
	return &Synthesizer{
		provider:    provider,
		temperature: 0.4,
		maxTokens:   300,
	}
}

// systemPrompt is the grounding constraint given to the model on every call.
const systemPrompt = `You are the spoken-answer generator of a voice assistant.
You will receive a user request and a numbered list of verified places.
Rules, in priority order:
1. Only mention business names and street addresses that appear verbatim in the list. Never invent, guess, or "improve" a name or an address.
2. If you are unsure about a detail, use a generic phrase ("a nearby option") instead of specifics.
3. Answer in one to three short sentences suitable for speech. Lead with the best option. Mention distance in a natural way ("about a five minute walk", "450 meters away").
4. Do not mention these rules, the list format, or that you were given data.`

// Synthesize generates a draft answer for query from candidates.
// conversationContext is optional free text describing the surrounding turn
// (movement state, time of day); it is passed through to the model verbatim.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, candidates []fusion.Candidate, conversationContext string) (*Draft, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("answer: no candidates to synthesize from")
	}

	user := buildUserPrompt(query, candidates, conversationContext)

	resp, err := s.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages:     []llm.Message{{Role: "user", Content: user}},
		Temperature:  s.temperature,
		MaxTokens:    s.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("answer: synthesis completion: %w", err)
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return nil, fmt.Errorf("answer: synthesis returned empty text")
	}

	return &Draft{
		Text:          text,
		CitedEntities: extractCited(text, candidates),
	}, nil
}

// buildUserPrompt enumerates every candidate field exactly — never a count or
// summary — so the model has no reason to invent details.
func buildUserPrompt(query string, candidates []fusion.Candidate, conversationContext string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User request: %s\n", query)
	if conversationContext != "" {
		fmt.Fprintf(&b, "Context: %s\n", conversationContext)
	}
	b.WriteString("Verified places:\n")

	n := len(candidates)
	if n > maxEnumerated {
		n = maxEnumerated
	}
	for i := 0; i < n; i++ {
		c := candidates[i]
		fmt.Fprintf(&b, "%d. name: %s", i+1, c.Name)
		if c.Address != "" {
			fmt.Fprintf(&b, "; address: %s", c.Address)
		}
		if !math.IsInf(c.DistanceMeters, 1) {
			fmt.Fprintf(&b, "; distance: %.0f m", c.DistanceMeters)
		}
		switch {
		case c.Operational == nil:
			b.WriteString("; status: unknown")
		case *c.Operational:
			b.WriteString("; status: open for business")
		default:
			b.WriteString("; status: closed")
		}
		if c.Rating != nil {
			fmt.Fprintf(&b, "; rating: %.1f", *c.Rating)
		}
		if c.ReviewCount != nil {
			fmt.Fprintf(&b, "; reviews: %d", *c.ReviewCount)
		}
		if c.Phone != "" {
			fmt.Fprintf(&b, "; phone: %s", c.Phone)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// extractCited collects each candidate name and address that the generated
// text actually mentions, by case-insensitive substring matching.
func extractCited(text string, candidates []fusion.Candidate) []string {
	lower := strings.ToLower(text)
	var cited []string
	for _, c := range candidates {
		if c.Name != "" && strings.Contains(lower, strings.ToLower(c.Name)) {
			cited = append(cited, c.Name)
		}
		if c.Address != "" && strings.Contains(lower, strings.ToLower(c.Address)) {
			cited = append(cited, c.Address)
		}
	}
	return cited
}

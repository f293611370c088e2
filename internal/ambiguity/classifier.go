// Package ambiguity decides whether a search result set clearly satisfies
// the user's request or whether the assistant should ask a clarifying
// question first.
//
// The classifier is a thin LLM call with a hard fail-open rule: any
// transport error, timeout, or malformed model output yields a Proceed
// decision. Asking a clarifying question is an optimisation, never a
// requirement, and the pipeline must not stall because the classifier was
// unavailable.
package ambiguity

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/avockley/parlance/internal/fusion"
	"github.com/avockley/parlance/pkg/provider/llm"
)

// Outcome is the classifier's verdict for one request/result pair.
type Outcome int

const (
	// Proceed means the results clearly match the request (or the
	// classifier could not tell) and the pipeline should continue.
	Proceed Outcome = iota

	// Clarify means the results are ambiguous and the assistant should ask
	// the user Decision.Question before answering.
	Clarify
)

// String returns the outcome name for logs.
func (o Outcome) String() string {
	switch o {
	case Proceed:
		return "proceed"
	case Clarify:
		return "clarify"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Decision is the result of one Classify call.
type Decision struct {
	// Outcome is Proceed or Clarify.
	Outcome Outcome

	// Question is the clarifying question to speak to the user.
	// Set only when Outcome is Clarify.
	Question string
}

// maxListed caps how many result names are shown to the model. Ambiguity is
// visible in the top handful of results; listing more adds cost, not signal.
const maxListed = 6

// Classifier checks fused results against the original request via an LLM.
// It holds no per-request state and is safe for concurrent use.
type Classifier struct {
	provider llm.Provider
	log      *slog.Logger
}

// NewClassifier creates a Classifier backed by provider. logger may be nil,
// in which case slog.Default() is used.
func NewClassifier(provider llm.Provider, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{provider: provider, log: logger}
}

const classifierSystemPrompt = `You check whether search results clearly match what the user asked for.
You will receive the user's request and a short list of result names.
Reply with exactly one line:
PROCEED
if the results unambiguously match the request, or
CLARIFY: <one short spoken question>
if a result only partially matches, matches a similar-sounding name, or could be a different business than the user meant. The question must name the specific businesses involved so the user can choose.
Output nothing else.`

// clarifyPrefix marks a clarify verdict in the model output. Matching is
// case-insensitive on the tag but the question is kept as written.
const clarifyPrefix = "CLARIFY:"

// Classify decides whether candidates clearly satisfy query.
//
// Every failure path returns a Proceed decision and a nil error; callers can
// treat the returned Decision as always valid. Errors are logged, not
// propagated.
func (c *Classifier) Classify(ctx context.Context, query string, candidates []fusion.Candidate) Decision {
	if len(candidates) == 0 {
		// Nothing to be ambiguous about.
		return Decision{Outcome: Proceed}
	}

	resp, err := c.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: classifierSystemPrompt,
		Messages:     []llm.Message{{Role: "user", Content: buildClassifierPrompt(query, candidates)}},
		Temperature:  0,
		MaxTokens:    120,
	})
	if err != nil {
		c.log.Warn("ambiguity: classifier call failed, proceeding", "err", err)
		return Decision{Outcome: Proceed}
	}

	return parseVerdict(c.log, resp.Content)
}

// buildClassifierPrompt lists the request and the top result names.
func buildClassifierPrompt(query string, candidates []fusion.Candidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request: %s\nResults:\n", query)
	n := len(candidates)
	if n > maxListed {
		n = maxListed
	}
	for i := 0; i < n; i++ {
		c := candidates[i]
		fmt.Fprintf(&b, "%d. %s", i+1, c.Name)
		if !math.IsInf(c.DistanceMeters, 1) {
			fmt.Fprintf(&b, " (%.0f m away)", c.DistanceMeters)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// parseVerdict maps raw model output to a Decision. Anything that is not a
// well-formed CLARIFY line with a non-empty question becomes Proceed.
func parseVerdict(log *slog.Logger, raw string) Decision {
	line := strings.TrimSpace(raw)

	if strings.EqualFold(line, "PROCEED") {
		return Decision{Outcome: Proceed}
	}

	if len(line) >= len(clarifyPrefix) && strings.EqualFold(line[:len(clarifyPrefix)], clarifyPrefix) {
		question := strings.TrimSpace(line[len(clarifyPrefix):])
		if question != "" {
			return Decision{Outcome: Clarify, Question: question}
		}
	}

	log.Warn("ambiguity: unparseable classifier output, proceeding", "output", line)
	return Decision{Outcome: Proceed}
}

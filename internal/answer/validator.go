package answer

import (
	"fmt"
	"strings"

	"github.com/avockley/parlance/internal/fusion"
)

// fallbackLead is the safe text substituted when a draft fails validation.
const fallbackLead = "I found several options nearby; let me give you verified details."

// Verdict is the outcome of validating a draft against its candidate list.
type Verdict struct {
	// Accepted is true when the draft text passed validation unchanged.
	Accepted bool

	// FinalText is the text to speak: the draft itself when accepted, or the
	// safe fallback enumeration when not.
	FinalText string
}

// Validate scans draft.Text for address-shaped substrings that do not match
// any candidate address. On any mismatch the draft is rejected and FinalText
// is replaced with a generic lead followed by a plain enumeration of the real
// candidates.
//
// Validate is a pure function: no I/O, no randomness, no clock. Identical
// arguments always produce identical verdicts.
func Validate(draft *Draft, candidates []fusion.Candidate) Verdict {
	candidateAddresses := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c.Address != "" {
			candidateAddresses = append(candidateAddresses, c.Address)
		}
	}

	for _, detected := range findAddresses(draft.Text) {
		if !addressMatchesAny(detected, candidateAddresses) {
			return Verdict{
				Accepted:  false,
				FinalText: fallbackText(candidates),
			}
		}
	}

	return Verdict{Accepted: true, FinalText: draft.Text}
}

// fallbackText builds the safe replacement answer: the generic lead plus a
// plain enumeration of the real candidate list.
func fallbackText(candidates []fusion.Candidate) string {
	var b strings.Builder
	b.WriteString(fallbackLead)
	for _, c := range candidates {
		b.WriteString(" ")
		b.WriteString(c.Name)
		if c.Address != "" {
			fmt.Fprintf(&b, ", %s", c.Address)
		}
		b.WriteString(".")
	}
	return b.String()
}

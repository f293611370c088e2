package answer

import (
	"reflect"
	"strings"
	"testing"

	"github.com/avockley/parlance/internal/fusion"
)

// cand is a shorthand constructor for test candidates.
func cand(name, address string) fusion.Candidate {
	return fusion.Candidate{Name: name, Address: address}
}

// TestValidate_AcceptsMatchingAddress verifies that a draft citing a real
// candidate address is accepted unchanged.
func TestValidate_AcceptsMatchingAddress(t *testing.T) {
	t.Parallel()

	draft := &Draft{Text: "The closest option is Jamba Juice at 117 W 72nd St, about a five minute walk."}
	v := Validate(draft, []fusion.Candidate{cand("Jamba Juice", "117 W 72nd St")})
	if !v.Accepted {
		t.Fatal("expected draft with a real address to be accepted")
	}
	if v.FinalText != draft.Text {
		t.Errorf("FinalText = %q, want the unchanged draft", v.FinalText)
	}
}

// TestValidate_RejectsHallucinatedAddress verifies the hallucination
// scenario: an address absent from the candidate list rejects the draft and
// the fallback lists only real candidates.
func TestValidate_RejectsHallucinatedAddress(t *testing.T) {
	t.Parallel()

	draft := &Draft{Text: "Jamba Juice is at 165 Amsterdam Avenue, just around the corner."}
	v := Validate(draft, []fusion.Candidate{cand("Jamba Juice", "117 W 72nd St")})
	if v.Accepted {
		t.Fatal("expected draft with hallucinated address to be rejected")
	}
	if strings.Contains(v.FinalText, "165 Amsterdam") {
		t.Errorf("fallback text still contains the hallucinated address: %q", v.FinalText)
	}
	if !strings.Contains(v.FinalText, "Jamba Juice, 117 W 72nd St") {
		t.Errorf("fallback text does not enumerate the real candidate: %q", v.FinalText)
	}
}

// TestValidate_AbbreviationEquivalence verifies that abbreviated and spelled
// out address forms are treated as the same address.
func TestValidate_AbbreviationEquivalence(t *testing.T) {
	t.Parallel()

	draft := &Draft{Text: "Head to 117 West 72nd Street for the nearest one."}
	v := Validate(draft, []fusion.Candidate{cand("Jamba Juice", "117 W 72nd St")})
	if !v.Accepted {
		t.Error("expected expanded form of a candidate address to be accepted")
	}
}

// TestValidate_CandidateAddressWithLocalitySuffix verifies prefix matching
// when the candidate address carries city/state detail.
func TestValidate_CandidateAddressWithLocalitySuffix(t *testing.T) {
	t.Parallel()

	draft := &Draft{Text: "Try 10 Main St, it's the closest."}
	v := Validate(draft, []fusion.Candidate{cand("Joe's Pizza", "10 Main St, Brooklyn, NY")})
	if !v.Accepted {
		t.Error("expected candidate-prefix address to be accepted")
	}
}

// TestValidate_RejectsHouseNumberAlias verifies that an address differing
// from a candidate only by extra leading digits in the house number is
// rejected: "9117 W 72nd St" is not "117 W 72nd St", even though one
// normalized string ends with the other.
func TestValidate_RejectsHouseNumberAlias(t *testing.T) {
	t.Parallel()

	draft := &Draft{Text: "Jamba Juice is at 9117 W 72nd St, right nearby."}
	v := Validate(draft, []fusion.Candidate{cand("Jamba Juice", "117 W 72nd St")})
	if v.Accepted {
		t.Fatal("expected draft citing a wrong house number to be rejected")
	}
	if strings.Contains(v.FinalText, "9117") {
		t.Errorf("fallback text still contains the wrong house number: %q", v.FinalText)
	}
}

// TestValidate_RejectsTruncatedHouseNumber covers the reverse alias: the
// draft's house number is a suffix of the candidate's.
func TestValidate_RejectsTruncatedHouseNumber(t *testing.T) {
	t.Parallel()

	draft := &Draft{Text: "It's at 117 W 72nd St."}
	v := Validate(draft, []fusion.Candidate{cand("Jamba Juice", "9117 W 72nd St")})
	if v.Accepted {
		t.Fatal("expected draft citing a truncated house number to be rejected")
	}
}

// TestValidate_NoAddressesInDraft verifies that a draft with no
// address-shaped text passes trivially.
func TestValidate_NoAddressesInDraft(t *testing.T) {
	t.Parallel()

	draft := &Draft{Text: "There's a highly rated smoothie place a short walk north of you."}
	v := Validate(draft, []fusion.Candidate{cand("Open Smoothies", "200 Columbus Ave")})
	if !v.Accepted {
		t.Error("expected address-free draft to be accepted")
	}
}

// TestValidate_Deterministic verifies that identical inputs produce
// identical verdicts across repeated calls.
func TestValidate_Deterministic(t *testing.T) {
	t.Parallel()

	draft := &Draft{Text: "Jamba Juice is at 165 Amsterdam Avenue."}
	cands := []fusion.Candidate{cand("Jamba Juice", "117 W 72nd St")}

	first := Validate(draft, cands)
	second := Validate(draft, cands)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("verdicts differ: %+v vs %+v", first, second)
	}
}

// TestFindAddresses_Shapes exercises the address grammar on common shapes.
func TestFindAddresses_Shapes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		text string
		want int
	}{
		{"165 Amsterdam Avenue", 1},
		{"117 W 72nd St", 1},
		{"meet at 10 Main St. then walk", 1},
		{"42 Lincoln Center Plaza is close", 1},
		{"no addresses here, just 72 reviews", 0},
		{"both 10 Main St and 12 Oak Ave work", 2},
	}
	for _, tc := range cases {
		if got := len(findAddresses(tc.text)); got != tc.want {
			t.Errorf("findAddresses(%q) found %d, want %d", tc.text, got, tc.want)
		}
	}
}

// TestNormalizeAddress verifies abbreviation and punctuation folding.
func TestNormalizeAddress(t *testing.T) {
	t.Parallel()

	a := normalizeAddress("117 W. 72nd St.")
	b := normalizeAddress("117 West 72nd Street")
	if a != b {
		t.Errorf("normalized forms differ: %q vs %q", a, b)
	}
}

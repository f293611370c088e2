package answer

import (
	"regexp"
	"strings"
)

// addressPattern matches address-shaped substrings: a street number followed
// by one to four name tokens and a street-type suffix. Tokens may be ordinal
// ("72nd") or plain words, so "117 W 72nd St" and "165 Amsterdam Avenue"
// both match. The grammar is deliberately loose — it is a hallucination
// tripwire, not a postal parser.
var addressPattern = regexp.MustCompile(
	`(?i)\b\d{1,5}(?:\s+[A-Za-z0-9][A-Za-z0-9'.]*){1,4}?\s+` +
		`(?:st|street|ave|avenue|blvd|boulevard|rd|road|dr|drive|ln|lane|pl|place|ct|court|way|plaza|sq|square|ter|terrace|pkwy|parkway)\.?\b`)

// suffixExpansions maps abbreviated street-type and directional tokens to
// their canonical long forms, so "117 W 72nd St" and "117 West 72nd Street"
// normalize identically.
var suffixExpansions = map[string]string{
	"st":   "street",
	"ave":  "avenue",
	"av":   "avenue",
	"blvd": "boulevard",
	"rd":   "road",
	"dr":   "drive",
	"ln":   "lane",
	"pl":   "place",
	"ct":   "court",
	"sq":   "square",
	"ter":  "terrace",
	"pkwy": "parkway",
	"hwy":  "highway",
	"n":    "north",
	"s":    "south",
	"e":    "east",
	"w":    "west",
	"ne":   "northeast",
	"nw":   "northwest",
	"se":   "southeast",
	"sw":   "southwest",
}

// findAddresses returns all address-shaped substrings in text, in order of
// appearance.
func findAddresses(text string) []string {
	return addressPattern.FindAllString(text, -1)
}

// normalizeAddress lowercases addr, strips punctuation, and expands
// abbreviated street-type and directional tokens.
func normalizeAddress(addr string) string {
	fields := strings.Fields(strings.ToLower(addr))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,;:!?\"'()")
		if f == "" {
			continue
		}
		if full, ok := suffixExpansions[f]; ok {
			f = full
		}
		out = append(out, f)
	}
	return strings.Join(out, " ")
}

// addressMatchesAny reports whether the normalized form of detected is some
// candidate address, or a token-anchored prefix of one. The prefix direction
// covers candidate addresses that carry extra locality detail
// ("117 W 72nd St, New York, NY"); anchoring at the first token makes the
// house number an exact match, so "9117 W 72nd St" never passes against
// "117 W 72nd St". Raw substring containment is deliberately avoided.
func addressMatchesAny(detected string, candidateAddresses []string) bool {
	dt := strings.Fields(normalizeAddress(detected))
	if len(dt) == 0 {
		return false
	}
	for _, ca := range candidateAddresses {
		if isTokenPrefix(dt, strings.Fields(normalizeAddress(ca))) {
			return true
		}
	}
	return false
}

// isTokenPrefix reports whether detected equals the leading tokens of
// candidate, token by token.
func isTokenPrefix(detected, candidate []string) bool {
	if len(candidate) < len(detected) {
		return false
	}
	for i, tok := range detected {
		if candidate[i] != tok {
			return false
		}
	}
	return true
}

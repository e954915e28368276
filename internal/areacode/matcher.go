package areacode

import "strings"

// Local-touch number selection.
//
// Outbound campaigns answer better when the caller ID shares leading digits
// (country code + area code) with the callee. This package picks, for each
// contact, the available outbound number with the longest common digit prefix.
//
// All functions are pure; persistence and provider lookups live elsewhere.

// prefixLen is how many leading digits participate in matching.
// Country code + 3-digit area code for NANP numbers.
const prefixLen = 4

// Prefix strips every non-digit rune from number and returns its first four
// digits. Shorter inputs return all digits they have.
func Prefix(number string) string {
	var b strings.Builder
	b.Grow(prefixLen)
	for _, r := range number {
		if r < '0' || r > '9' {
			continue
		}
		b.WriteRune(r)
		if b.Len() == prefixLen {
			break
		}
	}
	return b.String()
}

// MatchScore returns the length of the common leading-digit run between the
// two numbers' prefixes, in 0..4. Scoring stops at the first mismatch:
// "1415" vs "1416" scores 3, regardless of later coincidences.
func MatchScore(contactNumber, candidateNumber string) int {
	a := Prefix(contactNumber)
	b := Prefix(candidateNumber)
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	score := 0
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			break
		}
		score++
	}
	return score
}

// BestMatch returns the candidate with the highest MatchScore against
// contactNumber. Ties break in favor of the earliest candidate, so the result
// is deterministic for a fixed candidate order. The second return is false
// when candidates is empty.
func BestMatch(contactNumber string, candidates []string) (string, bool) {
	if len(candidates) == 0 {
		return "", false
	}
	best := candidates[0]
	bestScore := MatchScore(contactNumber, best)
	for _, c := range candidates[1:] {
		if s := MatchScore(contactNumber, c); s > bestScore {
			best = c
			bestScore = s
		}
	}
	return best, true
}

// GroupByBestNumber assigns every contact number to its best-matching
// candidate. The result has one entry per candidate (possibly empty) and
// preserves the input order of contacts within each group. With no candidates
// the result is empty and contacts are simply left unassigned.
func GroupByBestNumber(contactNumbers, candidates []string) map[string][]string {
	groups := make(map[string][]string, len(candidates))
	for _, c := range candidates {
		groups[c] = []string{}
	}
	for _, contact := range contactNumbers {
		if best, ok := BestMatch(contact, candidates); ok {
			groups[best] = append(groups[best], contact)
		}
	}
	return groups
}

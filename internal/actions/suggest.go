package actions

import (
	"strings"

	"github.com/agnivade/levenshtein"
)

// maxSuggestDistance bounds how far a misspelled name may be from a match.
const maxSuggestDistance = 2

// Suggest returns the registered name closest to name, for "did you mean"
// hints. Ties resolve to the alphabetically first name.
func (r *Registry) Suggest(name string) (string, bool) {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return "", false
	}

	best, bestDist := "", maxSuggestDistance+1
	for _, candidate := range r.List() {
		d := levenshtein.ComputeDistance(needle, strings.ToLower(candidate))
		if d < bestDist {
			best, bestDist = candidate, d
		}
	}
	if best == "" || bestDist >= len(needle) {
		return "", false
	}
	return best, true
}

package zoo

import (
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// SearchCutoff is the minimum similarity a name needs to be suggested.
const SearchCutoff = 0.6

// Search returns up to n registry names similar to name, best match first.
//
// Names scoring below SearchCutoff are dropped; ties are ordered lexically.
//
// Arguments:
//   - name: The (possibly misspelled) architecture name.
//   - n: The maximum number of suggestions; n <= 0 returns nil.
//
// Returns:
//   - []string: The suggestions.
func Search(name string, n int) []string {
	if n <= 0 {
		return nil
	}
	type scored struct {
		name  string
		score float64
	}
	var hits []scored
	for _, candidate := range Names() {
		if s := Similarity(name, candidate); s >= SearchCutoff {
			hits = append(hits, scored{candidate, s})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].name < hits[j].name
	})
	if len(hits) > n {
		hits = hits[:n]
	}
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.name
	}
	return out
}

// Similarity returns the Ratcliff/Obershelp ratio 2*M/T of a and b in [0, 1], where
// M counts characters in matching blocks and T is the combined length.
func Similarity(a, b string) float64 {
	return difflib.NewMatcher(chars(a), chars(b)).Ratio()
}

func chars(s string) []string {
	return strings.Split(s, "")
}

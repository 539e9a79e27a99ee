package search

import (
	"sort"

	"github.com/starford/sangmemo/internal/models"
)

// Merge combines tier results in priority order exact, remote, contextual.
// Each tier is sorted by score (stable on input order). A note found by
// several tiers appears once, in its highest-priority tier, with the maximum
// score and the union of matched terms. The result holds at most limit items.
func Merge(limit int, exact, remote, contextual []models.SearchResult) []models.SearchResult {
	tiers := [][]models.SearchResult{exact, remote, contextual}

	best := map[string]float64{}
	terms := map[string][]string{}
	for _, tier := range tiers {
		for _, r := range tier {
			id := r.Memo.ID
			if s, ok := best[id]; !ok || r.RelevanceScore > s {
				best[id] = r.RelevanceScore
			}
			terms[id] = union(terms[id], r.MatchedTerms)
		}
	}

	out := []models.SearchResult{}
	placed := map[string]bool{}
	for _, tier := range tiers {
		var batch []models.SearchResult
		for _, r := range tier {
			id := r.Memo.ID
			if placed[id] {
				continue
			}
			placed[id] = true
			r.RelevanceScore = best[id]
			r.MatchedTerms = terms[id]
			batch = append(batch, r)
		}
		sort.SliceStable(batch, func(i, j int) bool {
			return batch[i].RelevanceScore > batch[j].RelevanceScore
		})
		out = append(out, batch...)
	}

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func union(a, b []string) []string {
	out := append([]string{}, a...)
	for _, s := range b {
		dup := false
		for _, x := range out {
			if x == s {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, s)
		}
	}
	return out
}

package search

import (
	"context"
	"regexp"
	"strconv"

	"github.com/starford/sangmemo/internal/models"
)

// Candidate is the digest of one note sent to a remote ranker.
type Candidate struct {
	ID      string
	Title   string
	Excerpt string
	Tags    []string
}

// Ranker asks a remote model which candidates relate to query. The reply is
// raw model text in the form "id:score,id:score".
type Ranker interface {
	Rank(ctx context.Context, query string, candidates []Candidate) (string, error)
}

// RemoteMatch is one accepted entry of a remote reply.
type RemoteMatch struct {
	ID    string
	Score float64
}

// Remote is the outcome of the remote tier: either a list of matches or an
// explicit unavailable marker with a reason.
type Remote struct {
	Available bool
	Matches   []RemoteMatch
	Reason    string
}

// Available wraps matches from a successful remote call.
func Available(matches []RemoteMatch) Remote {
	return Remote{Available: true, Matches: matches}
}

// Unavailable marks the remote tier as skipped or failed.
func Unavailable(reason string) Remote {
	return Remote{Reason: reason}
}

var rankEntry = regexp.MustCompile(`([A-Za-z0-9_-]+)\s*:\s*(\d+)\b`)

// ParseRanking extracts id:score pairs from reply. Entries naming unknown ids,
// scores outside 1..100 and scores at or below minScore are dropped one by one.
func ParseRanking(reply string, known map[string]bool, minScore float64) []RemoteMatch {
	out := []RemoteMatch{}
	seen := map[string]bool{}
	for _, m := range rankEntry.FindAllStringSubmatch(reply, -1) {
		id := m[1]
		score, err := strconv.Atoi(m[2])
		if err != nil || !known[id] || seen[id] {
			continue
		}
		if score < 1 || score > 100 || float64(score) <= minScore {
			continue
		}
		seen[id] = true
		out = append(out, RemoteMatch{ID: id, Score: float64(score)})
	}
	return out
}

func (e *Engine) digest(notes []models.Note) ([]Candidate, map[string]bool) {
	cands := make([]Candidate, 0, len(notes))
	known := make(map[string]bool, len(notes))
	for _, n := range notes {
		excerpt := []rune(n.Content)
		if len(excerpt) > e.cfg.ExcerptRunes {
			excerpt = excerpt[:e.cfg.ExcerptRunes]
		}
		cands = append(cands, Candidate{
			ID:      n.ID,
			Title:   n.Title,
			Excerpt: string(excerpt),
			Tags:    append([]string{}, n.Tags...),
		})
		known[n.ID] = true
	}
	return cands, known
}

func (e *Engine) askRemote(ctx context.Context, query string, notes []models.Note) Remote {
	cands, known := e.digest(notes)
	reply, err := e.ranker.Rank(ctx, query, cands)
	if err != nil {
		return Unavailable(err.Error())
	}
	return Available(ParseRanking(reply, known, e.cfg.MinRemoteScore))
}

func (r Remote) results(notes []models.Note) []models.SearchResult {
	if !r.Available || len(r.Matches) == 0 {
		return nil
	}
	byID := make(map[string]models.Note, len(notes))
	for _, n := range notes {
		byID[n.ID] = n
	}
	out := make([]models.SearchResult, 0, len(r.Matches))
	for _, m := range r.Matches {
		n, ok := byID[m.ID]
		if !ok {
			continue
		}
		out = append(out, models.SearchResult{
			Memo:           n,
			RelevanceScore: m.Score,
			MatchedTerms:   []string{"ai match"},
			SearchType:     models.SearchAIEnhanced,
		})
	}
	return out
}

// Package search ranks notes against a free-text query in three tiers:
// exact keyword scoring, contextual partial matching and an optional remote
// semantic ranker.
package search

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/starford/sangmemo/internal/models"
)

// Config holds the scoring weights and limits.
type Config struct {
	MaxResults        int
	SemanticThreshold int
	PhraseWeight      float64
	TitleWeight       float64
	TagWeight         float64
	BodyWeight        float64
	TagBoost          float64
	PartialWeight     float64
	StemWeight        float64
	MinRemoteScore    float64
	ExcerptRunes      int
}

// DefaultConfig returns the production weights.
func DefaultConfig() Config {
	return Config{
		MaxResults:        10,
		SemanticThreshold: 3,
		PhraseWeight:      100,
		TitleWeight:       60,
		TagWeight:         40,
		BodyWeight:        20,
		TagBoost:          30,
		PartialWeight:     5,
		StemWeight:        3,
		MinRemoteScore:    30,
		ExcerptRunes:      200,
	}
}

// Engine runs searches. It holds no note state.
type Engine struct {
	cfg    Config
	ranker Ranker
	logger *slog.Logger
}

// New creates an engine. ranker may be nil, which disables the remote tier.
func New(cfg Config, ranker Ranker, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cfg: cfg, ranker: ranker, logger: logger}
}

// Search ranks notes against query. Callers pass locked notes already
// redacted so only their title and tags take part.
func (e *Engine) Search(ctx context.Context, query string, notes []models.Note) []models.SearchResult {
	if strings.TrimSpace(query) == "" {
		return []models.SearchResult{}
	}

	exact, contextual := e.Local(query, notes)

	remote := Unavailable("not requested")
	if e.ranker != nil && len(exact) < e.cfg.SemanticThreshold && len(notes) > 0 {
		remote = e.askRemote(ctx, query, notes)
		if !remote.Available {
			e.logger.Debug("search: remote tier unavailable", "reason", remote.Reason)
		}
	}

	return Merge(e.cfg.MaxResults, exact, remote.results(notes), contextual)
}

// Local scores every note by the exact and contextual tiers. A note lands in
// at most one of the two lists.
func (e *Engine) Local(query string, notes []models.Note) (exact, contextual []models.SearchResult) {
	q := newQuery(query)
	for _, n := range notes {
		if score, terms := e.exactScore(q, n); score > 0 {
			exact = append(exact, models.SearchResult{
				Memo:           n,
				RelevanceScore: score,
				MatchedTerms:   terms,
				SearchType:     models.SearchExact,
			})
			continue
		}
		if score := e.contextualScore(q, n); score > 0 {
			contextual = append(contextual, models.SearchResult{
				Memo:           n,
				RelevanceScore: score,
				MatchedTerms:   []string{},
				SearchType:     models.SearchSemantic,
			})
		}
	}
	return exact, contextual
}

type parsedQuery struct {
	raw    string
	phrase string
	words  []string // longer than one rune
	all    []string // every whitespace token
}

func newQuery(raw string) parsedQuery {
	raw = strings.TrimSpace(raw)
	phrase := strings.ToLower(raw)
	q := parsedQuery{raw: raw, phrase: phrase, all: strings.Fields(phrase)}
	for _, w := range q.all {
		if utf8.RuneCountInString(w) > 1 {
			q.words = append(q.words, w)
		}
	}
	return q
}

func (e *Engine) exactScore(q parsedQuery, n models.Note) (float64, []string) {
	title := strings.ToLower(n.Title)
	body := strings.ToLower(n.Content)
	tags := make([]string, len(n.Tags))
	for i, t := range n.Tags {
		tags[i] = strings.ToLower(t)
	}
	haystack := title + " " + body + " " + strings.Join(tags, " ")

	var score float64
	terms := []string{}
	seen := map[string]bool{}
	add := func(t string) {
		if !seen[t] {
			seen[t] = true
			terms = append(terms, t)
		}
	}

	if strings.Contains(haystack, q.phrase) {
		score += e.cfg.PhraseWeight
		add(q.raw)
	}

	for _, w := range q.words {
		switch {
		case strings.Contains(title, w):
			score += e.cfg.TitleWeight
		case anyContains(tags, w):
			score += e.cfg.TagWeight
		case strings.Contains(body, w):
			score += e.cfg.BodyWeight
		default:
			continue
		}
		add(w)
	}

	for _, t := range tags {
		if strings.Contains(t, q.phrase) || anyWordIn(t, q.words) {
			score += e.cfg.TagBoost
		}
	}
	return score, terms
}

func (e *Engine) contextualScore(q parsedQuery, n models.Note) float64 {
	text := strings.ToLower(n.Title + " " + n.Content)
	tokens := strings.Fields(text)

	var score float64
	for _, w := range q.all {
		for _, tok := range tokens {
			if tok != w && strings.Contains(tok, w) {
				score += e.cfg.PartialWeight
			}
		}
		if utf8.RuneCountInString(w) > 2 {
			r := []rune(w)
			if strings.Contains(text, string(r[:len(r)-1])) {
				score += e.cfg.StemWeight
			}
		}
	}
	return score
}

func anyContains(haystacks []string, needle string) bool {
	for _, h := range haystacks {
		if strings.Contains(h, needle) {
			return true
		}
	}
	return false
}

func anyWordIn(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

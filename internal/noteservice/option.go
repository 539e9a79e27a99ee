package noteservice

import (
	"log/slog"
	"time"

	"github.com/starford/sangmemo/internal/markdown"
)

// Option configures a Service.
type Option func(*Service)

// WithAssistant enables Organize and SuggestTags.
func WithAssistant(a Assistant) Option {
	return func(s *Service) { s.assistant = a }
}

// WithSearcher enables Search.
func WithSearcher(se Searcher) Option {
	return func(s *Service) { s.searcher = se }
}

func WithRenderer(r *markdown.Renderer) Option {
	return func(s *Service) { s.renderer = r }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithOnChange registers fn to observe committed changes. It is called
// outside the collection lock.
func WithOnChange(fn ChangeFunc) Option {
	return func(s *Service) { s.onChange = append(s.onChange, fn) }
}

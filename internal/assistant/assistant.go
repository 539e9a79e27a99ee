// Package assistant builds the prompts sangmemo sends to the text-generation
// model and interprets the replies.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/starford/sangmemo/internal/apperr"
	"github.com/starford/sangmemo/internal/gemini"
	"github.com/starford/sangmemo/internal/models"
	"github.com/starford/sangmemo/internal/search"
)

const (
	MaxTags     = 5
	MaxTagRunes = 10
)

var (
	organizeConfig = gemini.GenerationConfig{Temperature: 0.7, TopK: 40, TopP: 0.95, MaxOutputTokens: 2048}
	tagsConfig     = gemini.GenerationConfig{Temperature: 0.5, TopK: 40, TopP: 0.95, MaxOutputTokens: 100}
	rankConfig     = gemini.GenerationConfig{Temperature: 0.3, TopK: 40, TopP: 0.95, MaxOutputTokens: 200}
)

// Generator produces text for a prompt. *gemini.Client satisfies it.
type Generator interface {
	Generate(ctx context.Context, prompt string, cfg gemini.GenerationConfig) (string, error)
}

// Assistant wraps a Generator with the note-specific prompts.
type Assistant struct {
	gen    Generator
	logger *slog.Logger
}

// New creates an Assistant.
func New(gen Generator, logger *slog.Logger) *Assistant {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assistant{gen: gen, logger: logger}
}

// Organize restructures content into keyword-grouped Markdown bullets.
func (a *Assistant) Organize(ctx context.Context, content string) (string, error) {
	out, err := a.gen.Generate(ctx, organizePrompt(content), organizeConfig)
	if err != nil {
		a.logger.Warn("assistant: organize failed", "error", err)
		return "", fmt.Errorf("assistant: organize: %w: %w", apperr.ErrUnavailable, err)
	}
	return strings.TrimSpace(out), nil
}

// SuggestTags proposes up to MaxTags short labels for content.
func (a *Assistant) SuggestTags(ctx context.Context, content string) ([]string, error) {
	out, err := a.gen.Generate(ctx, tagsPrompt(content), tagsConfig)
	if err != nil {
		a.logger.Warn("assistant: tag suggestion failed", "error", err)
		return nil, fmt.Errorf("assistant: suggest tags: %w: %w", apperr.ErrUnavailable, err)
	}
	return ParseTags(out), nil
}

// Rank implements search.Ranker.
func (a *Assistant) Rank(ctx context.Context, query string, cands []search.Candidate) (string, error) {
	out, err := a.gen.Generate(ctx, rankPrompt(query, cands), rankConfig)
	if err != nil {
		return "", fmt.Errorf("assistant: rank: %w: %w", apperr.ErrUnavailable, err)
	}
	return out, nil
}

// ParseTags splits a comma separated reply into at most MaxTags labels of at
// most MaxTagRunes runes each.
func ParseTags(reply string) []string {
	fields := strings.FieldsFunc(reply, func(r rune) bool { return r == ',' || r == '\n' })
	var tags []string
	for _, f := range fields {
		f = strings.Trim(strings.TrimSpace(f), "#*-` ")
		if n := utf8.RuneCountInString(f); n == 0 || n > MaxTagRunes {
			continue
		}
		tags = append(tags, f)
	}
	tags = models.NormalizeTags(tags)
	if len(tags) > MaxTags {
		tags = tags[:MaxTags]
	}
	return tags
}

func organizePrompt(content string) string {
	return `Analyze the following note and reorganize it around its key keywords.

Requirements:
1. Extract the core keywords and group the content around them
2. Write in concise bullet points
3. Indent according to the hierarchy of the content
4. Output readable Markdown
5. Keep the language of the original note

Note:
` + content + `

Output only the organized note.`
}

func tagsPrompt(content string) string {
	return `Analyze the following note and extract related tags.

Requirements:
1. Tags must describe the core topics of the note
2. At most 5 tags
3. Use the language of the note
4. Each tag is 2 to 6 characters long
5. Separate tags with commas
6. Return only the tags, no explanation

Note:
` + content + `

Tags (comma separated):`
}

func rankPrompt(query string, cands []search.Candidate) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Find the notes below that are semantically related to the search query.\n\nQuery: %q\n\nNotes:\n", query)
	for i, c := range cands {
		title := c.Title
		if title == "" {
			title = "(untitled)"
		}
		tags := strings.Join(c.Tags, ", ")
		if tags == "" {
			tags = "(none)"
		}
		fmt.Fprintf(&sb, "\n%d. ID: %s\nTitle: %s\nContent: %s...\nTags: %s\n", i+1, c.ID, title, c.Excerpt, tags)
	}
	sb.WriteString(`
Requirements:
1. Pick the IDs of notes related to the query
2. Choose at most 5, most relevant first
3. Score each from 1 to 100
4. Reply only in this format: ID:score,ID:score,ID:score

Example: memo1:85,memo3:72,memo7:65`)
	return sb.String()
}

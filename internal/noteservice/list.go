package noteservice

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/starford/sangmemo/internal/apperr"
	"github.com/starford/sangmemo/internal/markdown"
	"github.com/starford/sangmemo/internal/models"
)

// ListOptions selects and orders notes for List.
type ListOptions struct {
	Sort       models.SortBy
	Filter     models.FilterBy
	Category   string
	Importance models.Importance
}

// List returns the filtered, sorted collection. Locked notes are redacted
// unless unlocked in this session.
func (s *Service) List(_ context.Context, opts ListOptions) ([]models.Note, error) {
	keep, err := filterFunc(opts)
	if err != nil {
		return nil, err
	}
	less, err := lessFunc(opts.Sort)
	if err != nil {
		return nil, err
	}

	out := []models.Note{}
	for _, n := range s.visible() {
		if keep(n) {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out, nil
}

func filterFunc(opts ListOptions) (func(models.Note) bool, error) {
	switch opts.Filter {
	case models.FilterAll, "":
		return func(models.Note) bool { return true }, nil
	case models.FilterCategory:
		if opts.Category == "" {
			return nil, fmt.Errorf("noteservice: list: %w: category filter needs a category", apperr.ErrValidation)
		}
		return func(n models.Note) bool { return n.Category == opts.Category }, nil
	case models.FilterImportance:
		if opts.Importance.Rank() == 0 {
			return nil, fmt.Errorf("noteservice: list: %w: importance filter needs a level", apperr.ErrValidation)
		}
		return func(n models.Note) bool { return n.Importance == opts.Importance }, nil
	}
	return nil, fmt.Errorf("noteservice: list: %w: unknown filter %q", apperr.ErrValidation, opts.Filter)
}

func lessFunc(by models.SortBy) (func(a, b models.Note) bool, error) {
	switch by {
	case models.SortUpdatedAt, "":
		return func(a, b models.Note) bool { return a.UpdatedAt.After(b.UpdatedAt) }, nil
	case models.SortCreatedAt:
		return func(a, b models.Note) bool { return a.CreatedAt.After(b.CreatedAt) }, nil
	case models.SortImportance:
		return func(a, b models.Note) bool {
			if ra, rb := a.Importance.Rank(), b.Importance.Rank(); ra != rb {
				return ra > rb
			}
			return a.UpdatedAt.After(b.UpdatedAt)
		}, nil
	case models.SortTitle:
		return func(a, b models.Note) bool {
			return strings.ToLower(markdown.DisplayTitle(a)) < strings.ToLower(markdown.DisplayTitle(b))
		}, nil
	}
	return nil, fmt.Errorf("noteservice: list: %w: unknown sort %q", apperr.ErrValidation, by)
}

func isLockedErr(err error) bool {
	return errors.Is(err, apperr.ErrLocked)
}

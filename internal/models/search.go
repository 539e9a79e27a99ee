package models

import (
	"fmt"

	"github.com/starford/sangmemo/internal/apperr"
)

// SearchType records which tier produced a search hit.
type SearchType string

const (
	SearchExact      SearchType = "exact"
	SearchSemantic   SearchType = "semantic"
	SearchAIEnhanced SearchType = "ai_enhanced"
)

// SearchResult is one ranked hit.
type SearchResult struct {
	Memo           Note       `json:"memo"`
	RelevanceScore float64    `json:"relevanceScore"`
	MatchedTerms   []string   `json:"matchedTerms"`
	SearchType     SearchType `json:"searchType"`
}

// SortBy selects the ordering of note listings.
type SortBy string

const (
	SortUpdatedAt  SortBy = "updatedAt"
	SortCreatedAt  SortBy = "createdAt"
	SortImportance SortBy = "importance"
	SortTitle      SortBy = "title"
)

// ParseSortBy converts s into a SortBy. Empty input yields SortUpdatedAt.
func ParseSortBy(s string) (SortBy, error) {
	switch SortBy(s) {
	case "":
		return SortUpdatedAt, nil
	case SortUpdatedAt, SortCreatedAt, SortImportance, SortTitle:
		return SortBy(s), nil
	}
	return "", fmt.Errorf("%w: unknown sort %q", apperr.ErrValidation, s)
}

// FilterBy selects which notes a listing includes.
type FilterBy string

const (
	FilterAll        FilterBy = "all"
	FilterCategory   FilterBy = "category"
	FilterImportance FilterBy = "importance"
)

// ParseFilterBy converts s into a FilterBy. Empty input yields FilterAll.
func ParseFilterBy(s string) (FilterBy, error) {
	switch FilterBy(s) {
	case "":
		return FilterAll, nil
	case FilterAll, FilterCategory, FilterImportance:
		return FilterBy(s), nil
	}
	return "", fmt.Errorf("%w: unknown filter %q", apperr.ErrValidation, s)
}

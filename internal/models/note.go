// Package models defines the domain types for sangmemo.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"github.com/starford/sangmemo/internal/apperr"
)

// Importance ranks how much a note matters to its owner.
type Importance string

const (
	ImportanceLow    Importance = "low"
	ImportanceMedium Importance = "medium"
	ImportanceHigh   Importance = "high"
)

// Rank orders importance levels; higher is more important.
func (i Importance) Rank() int {
	switch i {
	case ImportanceHigh:
		return 3
	case ImportanceMedium:
		return 2
	case ImportanceLow:
		return 1
	}
	return 0
}

// ParseImportance converts s into an Importance. Empty input yields medium.
func ParseImportance(s string) (Importance, error) {
	switch Importance(s) {
	case "":
		return ImportanceMedium, nil
	case ImportanceLow, ImportanceMedium, ImportanceHigh:
		return Importance(s), nil
	}
	return "", fmt.Errorf("%w: unknown importance %q", apperr.ErrValidation, s)
}

// Color is a presentational label from a fixed palette. The empty value is the
// default (uncolored) note.
type Color string

const (
	ColorNone   Color = ""
	ColorRed    Color = "red"
	ColorOrange Color = "orange"
	ColorYellow Color = "yellow"
	ColorGreen  Color = "green"
	ColorBlue   Color = "blue"
	ColorPurple Color = "purple"
)

// Palette lists every selectable color in display order.
var Palette = []Color{ColorNone, ColorRed, ColorOrange, ColorYellow, ColorGreen, ColorBlue, ColorPurple}

// Note is a single user note and its metadata.
type Note struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Content      string     `json:"content"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	IsOrganized  bool       `json:"isOrganized"`
	Tags         []string   `json:"tags"`
	Importance   Importance `json:"importance"`
	Color        Color      `json:"color,omitempty"`
	IsLocked     bool       `json:"isLocked,omitempty"`
	Password     string     `json:"password,omitempty"`
	ViewCount    int        `json:"viewCount"`
	LastViewedAt time.Time  `json:"lastViewedAt,omitzero"`
	ReminderDate time.Time  `json:"reminderDate,omitzero"`
	Category     string     `json:"category,omitempty"`
}

// NewNote allocates an empty note with default metadata.
func NewNote(now time.Time) Note {
	return Note{
		ID:         uuid.NewString(),
		CreatedAt:  now,
		UpdatedAt:  now,
		Tags:       []string{},
		Importance: ImportanceMedium,
	}
}

// Clone returns a deep copy of n.
func (n Note) Clone() Note {
	c := n
	c.Tags = append([]string{}, n.Tags...)
	return c
}

// ApplyDefaults fills metadata that older stored documents may lack.
func (n *Note) ApplyDefaults() {
	if n.Importance == "" {
		n.Importance = ImportanceMedium
	}
	n.Tags = NormalizeTags(n.Tags)
	if !n.IsLocked {
		n.Password = ""
	}
}

// Public returns a copy safe to hand to clients: the password never leaves
// the process.
func (n Note) Public() Note {
	c := n.Clone()
	c.Password = ""
	return c
}

// Redacted returns the locked view of n: metadata and title only.
func (n Note) Redacted() Note {
	c := n.Public()
	c.Content = ""
	return c
}

// LastSeen is when the note was last viewed, or last updated if never viewed.
func (n Note) LastSeen() time.Time {
	if !n.LastViewedAt.IsZero() {
		return n.LastViewedAt
	}
	return n.UpdatedAt
}

// Checksum returns the hex SHA-256 of the note's persisted form.
func (n Note) Checksum() string {
	data, _ := json.Marshal(n)
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Validate checks enum fields and label lengths.
func (n Note) Validate() error {
	err := validation.ValidateStruct(&n,
		validation.Field(&n.ID, validation.Required),
		validation.Field(&n.Importance, validation.Required,
			validation.In(ImportanceLow, ImportanceMedium, ImportanceHigh)),
		validation.Field(&n.Color,
			validation.In(ColorRed, ColorOrange, ColorYellow, ColorGreen, ColorBlue, ColorPurple)),
		validation.Field(&n.Tags, validation.Each(validation.Length(1, 64))),
		validation.Field(&n.Category, validation.Length(0, 64)),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}
	return nil
}

// NormalizeTags trims labels, drops empties and suppresses case-sensitive
// duplicates while keeping first-seen order.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// Categories returns the distinct non-empty categories across notes, sorted.
func Categories(notes []Note) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, n := range notes {
		c := strings.TrimSpace(n.Category)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

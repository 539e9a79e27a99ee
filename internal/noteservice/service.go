// Package noteservice owns the in-memory note collection and implements the
// note lifecycle: create, save, view, edit, delete, organize, lock and search.
package noteservice

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/starford/sangmemo/internal/apperr"
	"github.com/starford/sangmemo/internal/images"
	"github.com/starford/sangmemo/internal/markdown"
	"github.com/starford/sangmemo/internal/models"
)

// Mode is what the user is currently doing with the selected note.
type Mode string

const (
	ModeIdle    Mode = "idle"
	ModeViewing Mode = "viewing"
	ModeEditing Mode = "editing"
	ModeLocked  Mode = "locked"
)

// Selection is the currently selected note and mode.
type Selection struct {
	ID   string `json:"id,omitempty"`
	Mode Mode   `json:"mode"`
}

// ChangeKind classifies collection changes reported to subscribers.
type ChangeKind string

const (
	ChangeCreated  ChangeKind = "created"
	ChangeUpdated  ChangeKind = "updated"
	ChangeDeleted  ChangeKind = "deleted"
	ChangeReloaded ChangeKind = "reloaded"
)

// ChangeFunc observes committed changes. note is the client-safe view; it is
// zero for ChangeReloaded and carries only the id for ChangeDeleted.
type ChangeFunc func(kind ChangeKind, note models.Note)

// Store persists collection snapshots. *persist.Adapter satisfies it.
type Store interface {
	Load() ([]models.Note, error)
	Save(notes []models.Note) error
}

// Assistant performs the remote text operations.
type Assistant interface {
	Organize(ctx context.Context, content string) (string, error)
	SuggestTags(ctx context.Context, content string) ([]string, error)
}

// Searcher ranks notes for a query. *search.Engine satisfies it.
type Searcher interface {
	Search(ctx context.Context, query string, notes []models.Note) []models.SearchResult
}

// Service is the note lifecycle controller. All methods are safe for
// concurrent use.
type Service struct {
	store     Store
	assistant Assistant
	searcher  Searcher
	renderer  *markdown.Renderer
	now       func() time.Time
	logger    *slog.Logger
	onChange  []ChangeFunc

	mu       sync.Mutex
	notes    []models.Note
	sel      Selection
	unlocked map[string]bool
}

// NewService loads the stored collection and returns a ready controller.
func NewService(store Store, opts ...Option) (*Service, error) {
	s := &Service{
		store:    store,
		renderer: markdown.NewRenderer(),
		now:      time.Now,
		logger:   slog.Default(),
		sel:      Selection{Mode: ModeIdle},
		unlocked: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	notes, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("noteservice: load: %w", err)
	}
	s.notes = notes
	s.logger.Info("noteservice: collection loaded", "count", len(notes))
	return s, nil
}

// Create adds an empty note at the front and selects it for editing.
func (s *Service) Create(_ context.Context) (models.Note, error) {
	s.mu.Lock()
	n := models.NewNote(s.now())
	next := append([]models.Note{n}, s.notes...)
	if err := s.commitLocked(next); err != nil {
		s.mu.Unlock()
		return models.Note{}, err
	}
	s.sel = Selection{ID: n.ID, Mode: ModeEditing}
	out := n.Public()
	s.mu.Unlock()

	s.emit(ChangeCreated, out)
	return out, nil
}

// Save upserts in by id. Server-owned fields (creation time, lock state,
// password, view counters, organized flag) come from the stored note; the
// organized flag is cleared whenever content changes. A non-empty ifMatch
// must equal the stored note's checksum.
func (s *Service) Save(_ context.Context, in models.Note, ifMatch string) (models.Note, error) {
	if in.ID == "" {
		return models.Note{}, fmt.Errorf("noteservice: save: %w: id is required", apperr.ErrValidation)
	}

	s.mu.Lock()
	n, kind, err := s.saveLocked(in, ifMatch)
	if err != nil {
		s.mu.Unlock()
		return models.Note{}, err
	}
	s.sel = Selection{ID: n.ID, Mode: ModeViewing}
	out := n.Public()
	s.mu.Unlock()

	s.emit(kind, out)
	return out, nil
}

func (s *Service) saveLocked(in models.Note, ifMatch string) (models.Note, ChangeKind, error) {
	now := s.now()
	n := in.Clone()
	idx := s.indexLocked(in.ID)

	kind := ChangeUpdated
	if idx >= 0 {
		stored := s.notes[idx]
		if ifMatch != "" && ifMatch != stored.Public().Checksum() {
			return models.Note{}, "", fmt.Errorf("noteservice: save %s: %w", in.ID, apperr.ErrConflict)
		}
		if stored.IsLocked && !s.unlocked[stored.ID] {
			return models.Note{}, "", fmt.Errorf("noteservice: save %s: %w", in.ID, apperr.ErrLocked)
		}
		n.CreatedAt = stored.CreatedAt
		n.IsLocked = stored.IsLocked
		n.Password = stored.Password
		n.ViewCount = stored.ViewCount
		n.LastViewedAt = stored.LastViewedAt
		n.IsOrganized = stored.IsOrganized && n.Content == stored.Content
	} else {
		if ifMatch != "" {
			return models.Note{}, "", fmt.Errorf("noteservice: save %s: %w", in.ID, apperr.ErrConflict)
		}
		kind = ChangeCreated
		if n.CreatedAt.IsZero() {
			n.CreatedAt = now
		}
		n.IsLocked = false
		n.Password = ""
		n.ViewCount = 0
		n.LastViewedAt = time.Time{}
		n.IsOrganized = false
	}
	n.UpdatedAt = now
	n.ApplyDefaults()
	if err := n.Validate(); err != nil {
		return models.Note{}, "", err
	}

	if err := s.commitLocked(s.withLocked(idx, n)); err != nil {
		return models.Note{}, "", err
	}
	return n, kind, nil
}

// View opens a note for reading. A locked note needs its password unless the
// session already unlocked it: without one the redacted note is returned with
// apperr.ErrLocked, a wrong one yields apperr.ErrWrongPassword and changes
// nothing. A successful view bumps the view counter.
func (s *Service) View(_ context.Context, id, password string) (models.Note, error) {
	s.mu.Lock()
	idx, err := s.gateLocked(id, password)
	if err != nil {
		if idx >= 0 && isLockedErr(err) {
			s.sel = Selection{ID: id, Mode: ModeLocked}
			red := s.notes[idx].Redacted()
			s.mu.Unlock()
			return red, err
		}
		s.mu.Unlock()
		return models.Note{}, err
	}

	n := s.notes[idx].Clone()
	n.ViewCount++
	n.LastViewedAt = s.now()
	if err := s.commitLocked(s.withLocked(idx, n)); err != nil {
		s.mu.Unlock()
		return models.Note{}, err
	}
	s.sel = Selection{ID: id, Mode: ModeViewing}
	out := n.Public()
	s.mu.Unlock()

	s.emit(ChangeUpdated, out)
	return out, nil
}

// Edit selects a note for editing behind the same password gate as View.
// View counters are untouched.
func (s *Service) Edit(_ context.Context, id, password string) (models.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := s.gateLocked(id, password)
	if err != nil {
		if idx >= 0 && isLockedErr(err) {
			s.sel = Selection{ID: id, Mode: ModeLocked}
			return s.notes[idx].Redacted(), err
		}
		return models.Note{}, err
	}
	s.sel = Selection{ID: id, Mode: ModeEditing}
	return s.notes[idx].Public(), nil
}

// Delete removes a note and clears the selection if it pointed at it.
func (s *Service) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("noteservice: delete %s: %w", id, apperr.ErrNotFound)
	}
	next := make([]models.Note, 0, len(s.notes)-1)
	next = append(next, s.notes[:idx]...)
	next = append(next, s.notes[idx+1:]...)
	if err := s.commitLocked(next); err != nil {
		s.mu.Unlock()
		return err
	}
	delete(s.unlocked, id)
	if s.sel.ID == id {
		s.sel = Selection{Mode: ModeIdle}
	}
	s.mu.Unlock()

	s.emit(ChangeDeleted, models.Note{ID: id})
	return nil
}

// Organize replaces a note's content with the assistant's restructured
// version. The remote call runs outside the lock; if the note was deleted
// or its content changed in the meantime the result is discarded.
func (s *Service) Organize(ctx context.Context, id string) (models.Note, error) {
	content, err := s.contentForAssistant(id, "organize")
	if err != nil {
		return models.Note{}, err
	}
	organized, err := s.assistant.Organize(ctx, content)
	if err != nil {
		return models.Note{}, err
	}
	return s.applyAssistant(id, content, func(n *models.Note) {
		n.Content = organized
		n.IsOrganized = true
		n.UpdatedAt = s.now()
	})
}

// SuggestTags asks the assistant for labels and merges them into the note's
// tags. It follows the same failure rules as Organize.
func (s *Service) SuggestTags(ctx context.Context, id string) (models.Note, error) {
	content, err := s.contentForAssistant(id, "suggest tags")
	if err != nil {
		return models.Note{}, err
	}
	tags, err := s.assistant.SuggestTags(ctx, content)
	if err != nil {
		return models.Note{}, err
	}
	return s.applyAssistant(id, content, func(n *models.Note) {
		n.Tags = models.NormalizeTags(append(n.Tags, tags...))
		n.UpdatedAt = s.now()
	})
}

func (s *Service) contentForAssistant(id, op string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return "", fmt.Errorf("noteservice: %s %s: %w", op, id, apperr.ErrNotFound)
	}
	n := s.notes[idx]
	if n.IsLocked && !s.unlocked[id] {
		return "", fmt.Errorf("noteservice: %s %s: %w", op, id, apperr.ErrLocked)
	}
	if strings.TrimSpace(n.Content) == "" {
		return "", fmt.Errorf("noteservice: %s %s: %w: note is empty", op, id, apperr.ErrValidation)
	}
	if s.assistant == nil {
		return "", fmt.Errorf("noteservice: %s: %w: assistant not configured", op, apperr.ErrUnavailable)
	}
	return n.Content, nil
}

func (s *Service) applyAssistant(id, sent string, mutate func(*models.Note)) (models.Note, error) {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return models.Note{}, fmt.Errorf("noteservice: note %s deleted during remote call: %w", id, apperr.ErrNotFound)
	}
	if s.notes[idx].IsLocked && !s.unlocked[id] {
		s.mu.Unlock()
		return models.Note{}, fmt.Errorf("noteservice: note %s locked during remote call: %w", id, apperr.ErrLocked)
	}
	if s.notes[idx].Content != sent {
		s.mu.Unlock()
		return models.Note{}, fmt.Errorf("noteservice: note %s edited during remote call: %w", id, apperr.ErrConflict)
	}
	n := s.notes[idx].Clone()
	mutate(&n)
	if err := s.commitLocked(s.withLocked(idx, n)); err != nil {
		s.mu.Unlock()
		return models.Note{}, err
	}
	out := n.Public()
	s.mu.Unlock()

	s.emit(ChangeUpdated, out)
	return out, nil
}

// Lock protects a note with password. Re-locking requires the session to
// have unlocked the note first.
func (s *Service) Lock(_ context.Context, id, password string) (models.Note, error) {
	if password == "" {
		return models.Note{}, fmt.Errorf("noteservice: lock %s: %w: password is required", id, apperr.ErrValidation)
	}
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return models.Note{}, fmt.Errorf("noteservice: lock %s: %w", id, apperr.ErrNotFound)
	}
	if s.notes[idx].IsLocked && !s.unlocked[id] {
		s.mu.Unlock()
		return models.Note{}, fmt.Errorf("noteservice: lock %s: %w", id, apperr.ErrLocked)
	}
	n := s.notes[idx].Clone()
	n.IsLocked = true
	n.Password = password
	if err := s.commitLocked(s.withLocked(idx, n)); err != nil {
		s.mu.Unlock()
		return models.Note{}, err
	}
	delete(s.unlocked, id)
	if s.sel.ID == id {
		s.sel.Mode = ModeLocked
	}
	out := n.Redacted()
	s.mu.Unlock()

	s.emit(ChangeUpdated, out)
	return out, nil
}

// Unlock removes the lock when password matches. A wrong password returns
// false and leaves the note untouched.
func (s *Service) Unlock(_ context.Context, id, password string) (bool, error) {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return false, fmt.Errorf("noteservice: unlock %s: %w", id, apperr.ErrNotFound)
	}
	stored := s.notes[idx]
	if !stored.IsLocked {
		s.mu.Unlock()
		return true, nil
	}
	if password != stored.Password {
		s.mu.Unlock()
		return false, nil
	}
	n := stored.Clone()
	n.IsLocked = false
	n.Password = ""
	if err := s.commitLocked(s.withLocked(idx, n)); err != nil {
		s.mu.Unlock()
		return false, err
	}
	delete(s.unlocked, id)
	if s.sel.ID == id && s.sel.Mode == ModeLocked {
		s.sel.Mode = ModeViewing
	}
	out := n.Public()
	s.mu.Unlock()

	s.emit(ChangeUpdated, out)
	return true, nil
}

// AttachImage appends a Markdown image token to the note's content through
// the same rules as Save.
func (s *Service) AttachImage(_ context.Context, id string, img images.Image, alt string) (models.Note, error) {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return models.Note{}, fmt.Errorf("noteservice: attach image %s: %w", id, apperr.ErrNotFound)
	}
	in := s.notes[idx].Clone()
	if in.Content != "" && !strings.HasSuffix(in.Content, "\n") {
		in.Content += "\n"
	}
	in.Content += img.Token(alt) + "\n"

	n, _, err := s.saveLocked(in, "")
	if err != nil {
		s.mu.Unlock()
		return models.Note{}, err
	}
	out := n.Public()
	s.mu.Unlock()

	s.emit(ChangeUpdated, out)
	return out, nil
}

// Export renders a note as a downloadable Markdown document.
func (s *Service) Export(_ context.Context, id string, opts markdown.ExportOptions) (data []byte, filename string, err error) {
	n, err := s.readable(id, "export")
	if err != nil {
		return nil, "", err
	}
	data, err = markdown.Export(n, opts)
	if err != nil {
		return nil, "", fmt.Errorf("noteservice: export %s: %w", id, err)
	}
	return data, markdown.FileName(n), nil
}

// RenderHTML renders a note's Markdown content to HTML.
func (s *Service) RenderHTML(_ context.Context, id string) (string, error) {
	n, err := s.readable(id, "render")
	if err != nil {
		return "", err
	}
	html, err := s.renderer.Render(n.Content)
	if err != nil {
		return "", fmt.Errorf("noteservice: render %s: %w", id, err)
	}
	return html, nil
}

func (s *Service) readable(id, op string) (models.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return models.Note{}, fmt.Errorf("noteservice: %s %s: %w", op, id, apperr.ErrNotFound)
	}
	n := s.notes[idx]
	if n.IsLocked && !s.unlocked[id] {
		return models.Note{}, fmt.Errorf("noteservice: %s %s: %w", op, id, apperr.ErrLocked)
	}
	return n.Public(), nil
}

// Search ranks the collection against query. Locked notes the session has
// not unlocked take part by title and tags only and come back redacted.
func (s *Service) Search(ctx context.Context, query string) []models.SearchResult {
	if s.searcher == nil {
		return []models.SearchResult{}
	}
	return s.searcher.Search(ctx, query, s.visible())
}

// Categories returns the distinct categories in use.
func (s *Service) Categories(_ context.Context) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.Categories(s.notes)
}

// Selection returns the current selection.
func (s *Service) Selection() Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sel
}

// Snapshot returns client-safe copies of every note in collection order.
// Locked notes not unlocked in this session come back without content.
func (s *Service) Snapshot() []models.Note {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Note, len(s.notes))
	for i, n := range s.notes {
		out[i] = s.presentLocked(n)
	}
	return out
}

// Reload replaces the collection with the stored one, after the store was
// changed by another writer.
func (s *Service) Reload(_ context.Context) error {
	// Held across Load so a concurrent save cannot land between read and install.
	s.mu.Lock()
	notes, err := s.store.Load()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("noteservice: reload: %w", err)
	}
	s.notes = notes
	live := make(map[string]bool, len(notes))
	for _, n := range notes {
		live[n.ID] = true
	}
	for id := range s.unlocked {
		if !live[id] {
			delete(s.unlocked, id)
		}
	}
	if s.sel.ID != "" && !live[s.sel.ID] {
		s.sel = Selection{Mode: ModeIdle}
	}
	s.mu.Unlock()

	s.logger.Info("noteservice: collection reloaded", "count", len(notes))
	s.emit(ChangeReloaded, models.Note{})
	return nil
}

func (s *Service) visible() []models.Note {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Note, len(s.notes))
	for i, n := range s.notes {
		out[i] = s.presentLocked(n)
	}
	return out
}

func (s *Service) presentLocked(n models.Note) models.Note {
	if n.IsLocked && !s.unlocked[n.ID] {
		return n.Redacted()
	}
	return n.Public()
}

// gateLocked resolves id and enforces the password gate. On a lock failure
// the returned index is still valid.
func (s *Service) gateLocked(id, password string) (int, error) {
	idx := s.indexLocked(id)
	if idx < 0 {
		return -1, fmt.Errorf("noteservice: note %s: %w", id, apperr.ErrNotFound)
	}
	n := s.notes[idx]
	if !n.IsLocked || s.unlocked[id] {
		return idx, nil
	}
	switch {
	case password == "":
		return idx, fmt.Errorf("noteservice: note %s: %w", id, apperr.ErrLocked)
	case password != n.Password:
		return -1, fmt.Errorf("noteservice: note %s: %w", id, apperr.ErrWrongPassword)
	}
	s.unlocked[id] = true
	return idx, nil
}

func (s *Service) indexLocked(id string) int {
	for i := range s.notes {
		if s.notes[i].ID == id {
			return i
		}
	}
	return -1
}

// withLocked returns a copy of the collection with n at idx, or prepended
// when idx is negative.
func (s *Service) withLocked(idx int, n models.Note) []models.Note {
	if idx < 0 {
		return append([]models.Note{n}, s.notes...)
	}
	next := make([]models.Note, len(s.notes))
	copy(next, s.notes)
	next[idx] = n
	return next
}

// commitLocked persists next and installs it. The in-memory collection is
// unchanged when persistence fails.
func (s *Service) commitLocked(next []models.Note) error {
	if err := s.store.Save(next); err != nil {
		s.logger.Error("noteservice: persist failed", "error", err)
		return fmt.Errorf("noteservice: persist: %w", err)
	}
	s.notes = next
	return nil
}

func (s *Service) emit(kind ChangeKind, n models.Note) {
	for _, fn := range s.onChange {
		fn(kind, n)
	}
}

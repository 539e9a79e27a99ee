// Package notify issues reminder and forgotten-note notifications on a fixed
// interval and keeps the in-app notification list.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/sangmemo/internal/apperr"
	"github.com/starford/sangmemo/internal/markdown"
	"github.com/starford/sangmemo/internal/models"
)

const (
	DefaultInterval   = time.Minute
	DefaultStaleAfter = 7 * 24 * time.Hour
)

// Source provides the current note collection.
type Source interface {
	Snapshot() []models.Note
}

// Popper shows a system-level popup for a freshly issued notification.
type Popper interface {
	Popup(item models.NotificationItem)
}

// Listener receives a copy of the notification list after every change.
type Listener func(items []models.NotificationItem)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the tick period. Non-positive values keep the default.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithStaleAfter sets how long a note can go unseen before it counts as
// forgotten. Non-positive values keep the default.
func WithStaleAfter(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.staleAfter = d
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithPopper enables system popups. A nil popper keeps notifications in-app.
func WithPopper(p Popper) Option {
	return func(s *Scheduler) { s.popper = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// Scheduler is the process-wide notification state. Construct it once and
// share the pointer.
type Scheduler struct {
	src        Source
	interval   time.Duration
	staleAfter time.Duration
	now        func() time.Time
	popper     Popper
	logger     *slog.Logger

	mu        sync.Mutex
	items     []models.NotificationItem
	reminded  map[string]time.Time // memo id -> reminder date already issued
	forgotten map[string]time.Time // memo id -> last-seen epoch already issued
	listeners map[int]Listener
	nextLID   int

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a stopped scheduler reading notes from src.
func New(src Source, opts ...Option) *Scheduler {
	s := &Scheduler{
		src:        src,
		interval:   DefaultInterval,
		staleAfter: DefaultStaleAfter,
		now:        time.Now,
		logger:     slog.Default(),
		reminded:   make(map[string]time.Time),
		forgotten:  make(map[string]time.Time),
		listeners:  make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs one tick immediately and then one per interval until Stop is
// called or ctx ends. Starting a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	s.Tick(s.now())
	go s.loop(ctx, s.done)
	s.logger.Info("notify: scheduler started", "interval", s.interval, "stale_after", s.staleAfter)
}

// Stop halts the ticker and waits for the loop to exit.
func (s *Scheduler) Stop() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Tick(s.now())
		}
	}
}

// Tick evaluates every note against now: prunes notifications of deleted
// notes, issues due reminders and flags forgotten notes.
func (s *Scheduler) Tick(now time.Time) {
	notes := s.src.Snapshot()

	s.mu.Lock()
	changed := s.prune(notes)
	var fresh []models.NotificationItem
	for _, n := range notes {
		if item, ok := s.checkReminder(n, now); ok {
			fresh = append(fresh, item)
		}
		if item, ok := s.checkForgotten(n, now); ok {
			fresh = append(fresh, item)
		}
	}
	changed = changed || len(fresh) > 0
	var snapshot []models.NotificationItem
	var ls []Listener
	if changed {
		snapshot, ls = s.sortedLocked(), s.listenersLocked()
	}
	s.mu.Unlock()

	for _, item := range fresh {
		s.logger.Info("notify: issued", "type", item.Type, "memo_id", item.MemoID)
		if s.popper != nil {
			s.popper.Popup(item)
		}
	}
	if changed {
		s.emit(ls, snapshot)
	}
}

func (s *Scheduler) prune(notes []models.Note) bool {
	live := make(map[string]bool, len(notes))
	for _, n := range notes {
		live[n.ID] = true
	}
	kept := s.items[:0]
	for _, it := range s.items {
		if live[it.MemoID] {
			kept = append(kept, it)
		}
	}
	changed := len(kept) != len(s.items)
	s.items = kept
	for id := range s.reminded {
		if !live[id] {
			delete(s.reminded, id)
		}
	}
	for id := range s.forgotten {
		if !live[id] {
			delete(s.forgotten, id)
		}
	}
	return changed
}

func (s *Scheduler) checkReminder(n models.Note, now time.Time) (models.NotificationItem, bool) {
	if n.ReminderDate.IsZero() || n.ReminderDate.After(now) {
		return models.NotificationItem{}, false
	}
	if fired, ok := s.reminded[n.ID]; ok && fired.Equal(n.ReminderDate) {
		return models.NotificationItem{}, false
	}
	s.reminded[n.ID] = n.ReminderDate
	item := models.NotificationItem{
		ID:           uuid.NewString(),
		MemoID:       n.ID,
		Type:         models.NotificationReminder,
		Title:        "Memo reminder",
		Message:      fmt.Sprintf("Take a look at %q.", label(n)),
		CreatedAt:    now,
		ScheduledFor: n.ReminderDate,
	}
	s.replace(item)
	return item, true
}

func (s *Scheduler) checkForgotten(n models.Note, now time.Time) (models.NotificationItem, bool) {
	if n.Importance != models.ImportanceHigh && !n.IsOrganized {
		return models.NotificationItem{}, false
	}
	seen := n.LastSeen()
	if !seen.Before(now.Add(-s.staleAfter)) {
		return models.NotificationItem{}, false
	}
	if fired, ok := s.forgotten[n.ID]; ok && fired.Equal(seen) {
		return models.NotificationItem{}, false
	}
	s.forgotten[n.ID] = seen
	item := models.NotificationItem{
		ID:        uuid.NewString(),
		MemoID:    n.ID,
		Type:      models.NotificationForgotten,
		Title:     "Forgotten a memo?",
		Message:   fmt.Sprintf("You haven't looked at %q in a while.", label(n)),
		CreatedAt: now,
	}
	s.replace(item)
	return item, true
}

// replace drops any earlier item of the same type for the same memo and
// appends item.
func (s *Scheduler) replace(item models.NotificationItem) {
	kept := s.items[:0]
	for _, it := range s.items {
		if it.MemoID == item.MemoID && it.Type == item.Type {
			continue
		}
		kept = append(kept, it)
	}
	s.items = append(kept, item)
}

// MarkAsRead flags one notification. Marking a read item again is a no-op.
func (s *Scheduler) MarkAsRead(id string) error {
	s.mu.Lock()
	idx := -1
	for i := range s.items {
		if s.items[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("notify: notification %s: %w", id, apperr.ErrNotFound)
	}
	if s.items[idx].IsRead {
		s.mu.Unlock()
		return nil
	}
	s.items[idx].IsRead = true
	snapshot, ls := s.sortedLocked(), s.listenersLocked()
	s.mu.Unlock()

	s.emit(ls, snapshot)
	return nil
}

// MarkAllAsRead flags every notification as read.
func (s *Scheduler) MarkAllAsRead() {
	s.mu.Lock()
	changed := false
	for i := range s.items {
		if !s.items[i].IsRead {
			s.items[i].IsRead = true
			changed = true
		}
	}
	if !changed {
		s.mu.Unlock()
		return
	}
	snapshot, ls := s.sortedLocked(), s.listenersLocked()
	s.mu.Unlock()

	s.emit(ls, snapshot)
}

// UnreadCount returns how many notifications are unread.
func (s *Scheduler) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, it := range s.items {
		if !it.IsRead {
			n++
		}
	}
	return n
}

// All returns a copy of every notification, newest first.
func (s *Scheduler) All() []models.NotificationItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedLocked()
}

// AddListener registers fn and returns a function that removes it. Calling
// the remover more than once is harmless.
func (s *Scheduler) AddListener(fn Listener) (remove func()) {
	s.mu.Lock()
	id := s.nextLID
	s.nextLID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// sortedLocked copies the list newest first; among equal timestamps the
// later-issued item comes first.
func (s *Scheduler) sortedLocked() []models.NotificationItem {
	out := make([]models.NotificationItem, len(s.items))
	for i, it := range s.items {
		out[len(s.items)-1-i] = it
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (s *Scheduler) listenersLocked() []Listener {
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]Listener, len(ids))
	for i, id := range ids {
		out[i] = s.listeners[id]
	}
	return out
}

func (s *Scheduler) emit(ls []Listener, items []models.NotificationItem) {
	for _, fn := range ls {
		cp := make([]models.NotificationItem, len(items))
		copy(cp, items)
		fn(cp)
	}
}

// label names a note in a notification. Locked notes never fall back to
// their content.
func label(n models.Note) string {
	if t := strings.TrimSpace(n.Title); t != "" {
		return t
	}
	if n.IsLocked {
		return markdown.Untitled
	}
	return markdown.DisplayTitle(n)
}

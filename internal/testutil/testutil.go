// Package testutil provides shared test helpers for setting up note stores
// and services.
package testutil

import (
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/starford/sangmemo/internal/noteservice"
	"github.com/starford/sangmemo/internal/persist"
	"github.com/starford/sangmemo/internal/storage"
)

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// TestStore creates a temporary file-backed persistence adapter and returns
// the path of the document it writes.
func TestStore(t *testing.T) (*persist.Adapter, string) {
	t.Helper()
	dir := t.TempDir()
	fs, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return persist.New(fs, Logger()), filepath.Join(dir, persist.Key+".json")
}

// TestService creates a Service over a fresh temporary store.
func TestService(t *testing.T, opts ...noteservice.Option) *noteservice.Service {
	t.Helper()
	store, _ := TestStore(t)
	opts = append([]noteservice.Option{noteservice.WithLogger(Logger())}, opts...)
	svc, err := noteservice.NewService(store, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return svc
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock stopped at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

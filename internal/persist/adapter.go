// Package persist loads and saves the note collection as one JSON document
// under a fixed key of a storage.Provider.
package persist

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/starford/sangmemo/internal/apperr"
	"github.com/starford/sangmemo/internal/models"
	"github.com/starford/sangmemo/internal/storage"
)

// Key is the storage key the collection lives under.
const Key = "sangmemo-memos"

// Adapter serializes note snapshots. It never holds notes itself.
type Adapter struct {
	kv     storage.Provider
	logger *slog.Logger

	mu      sync.Mutex
	lastSum string // checksum of the last document this process read or wrote
}

// New creates an Adapter over kv.
func New(kv storage.Provider, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{kv: kv, logger: logger}
}

// Load reads the collection. A missing key yields an empty collection; a
// corrupt document is logged and also yields an empty collection.
func (a *Adapter) Load() ([]models.Note, error) {
	data, err := a.kv.Get(Key)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			a.remember("")
			return []models.Note{}, nil
		}
		return nil, fmt.Errorf("persist: load: %w", err)
	}
	a.remember(sum(data))

	var raw []models.Note
	if err := json.Unmarshal(data, &raw); err != nil {
		a.logger.Warn("persist: stored notes are corrupt, starting empty",
			slog.String("key", Key),
			slog.String("error", err.Error()))
		return []models.Note{}, nil
	}

	notes := make([]models.Note, 0, len(raw))
	for _, n := range raw {
		if n.ID == "" {
			a.logger.Warn("persist: dropping stored note without id")
			continue
		}
		n.ApplyDefaults()
		notes = append(notes, n)
	}
	return notes, nil
}

// Save writes the collection. An empty collection removes the key so that
// deleting the last note survives a restart.
func (a *Adapter) Save(notes []models.Note) error {
	if len(notes) == 0 {
		if err := a.kv.Delete(Key); err != nil {
			return fmt.Errorf("persist: clear: %w", err)
		}
		a.remember("")
		return nil
	}
	data, err := json.Marshal(notes)
	if err != nil {
		return fmt.Errorf("persist: encode: %w", err)
	}
	if err := a.kv.Put(Key, data); err != nil {
		return fmt.Errorf("persist: save: %w", err)
	}
	a.remember(sum(data))
	return nil
}

// ChangedExternally reports whether the stored document differs from the last
// one this adapter read or wrote.
func (a *Adapter) ChangedExternally() (bool, error) {
	data, err := a.kv.Get(Key)
	current := ""
	switch {
	case err == nil:
		current = sum(data)
	case errors.Is(err, apperr.ErrNotFound):
	default:
		return false, fmt.Errorf("persist: check: %w", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return current != a.lastSum, nil
}

func (a *Adapter) remember(s string) {
	a.mu.Lock()
	a.lastSum = s
	a.mu.Unlock()
}

func sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

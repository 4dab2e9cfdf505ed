// Package persistence stores the game: a JSON checkpoint that is the durable
// copy of the ledger, a SQLite journal of events and standings, and
// zstd-compressed per-turn archives.
package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/allannapier/gangsofclaude-sub000/internal/engine"
)

var (
	ErrNoSave      = errors.New("no saved game")
	ErrPartialSave = errors.New("save file is incomplete")
)

// SaveFile is the checkpoint on disk. Writes go to a temp file that is synced
// and renamed over the old checkpoint, so a reader sees the old state or the
// new one and never a mix.
type SaveFile struct {
	path string

	// ReadAttempts and ReadPause bound retries of a read that caught the
	// file mid-write.
	ReadAttempts int
	ReadPause    time.Duration
}

// NewSaveFile returns a checkpoint stored at path.
func NewSaveFile(path string) *SaveFile {
	return &SaveFile{path: path, ReadAttempts: 3, ReadPause: 50 * time.Millisecond}
}

// Path returns the checkpoint location.
func (s *SaveFile) Path() string { return s.path }

// Save writes the checkpoint atomically.
func (s *SaveFile) Save(state *engine.SaveState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode save: %w", err)
	}
	return writeAtomic(s.path, data)
}

// Load reads the checkpoint. A missing file is ErrNoSave; a file that still
// fails to decode after the retries is ErrPartialSave.
func (s *SaveFile) Load() (*engine.SaveState, error) {
	var lastErr error
	for attempt := 1; attempt <= max(1, s.ReadAttempts); attempt++ {
		data, err := os.ReadFile(s.path)
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoSave
		}
		if err != nil {
			lastErr = err
		} else if state, err := decodeState(data); err != nil {
			lastErr = err
		} else {
			return state, nil
		}
		slog.Warn("save read failed", "path", s.path, "attempt", attempt, "err", lastErr)
		if attempt < s.ReadAttempts {
			time.Sleep(s.ReadPause)
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrPartialSave, lastErr)
}

// Remove deletes the checkpoint. A missing file is not an error.
func (s *SaveFile) Remove() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func decodeState(data []byte) (*engine.SaveState, error) {
	var state engine.SaveState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode save: %w", err)
	}
	if len(state.Families) == 0 || len(state.Territories) == 0 {
		return nil, errors.New("save has no families or territories")
	}
	return &state, nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return err
	}
	name := tmp.Name()
	defer os.Remove(name)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(name, path)
}

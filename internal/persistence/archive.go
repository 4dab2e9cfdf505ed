package persistence

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/allannapier/gangsofclaude-sub000/internal/engine"
)

const archivePattern = "turn-%06d.json.zst"

// Archive keeps a compressed copy of the state at the end of every settled
// turn, for replay and post-game inspection.
type Archive struct {
	dir string
}

// NewArchive returns an archive rooted at dir.
func NewArchive(dir string) *Archive { return &Archive{dir: dir} }

// Write stores state as the end of turn.
func (a *Archive) Write(turn int, state *engine.SaveState) error {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)
	if err := json.NewEncoder(bw).Encode(state); err != nil {
		enc.Close()
		return fmt.Errorf("encode turn %d: %w", turn, err)
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return writeAtomic(a.path(turn), buf.Bytes())
}

// Load reads the archived end of turn.
func (a *Archive) Load(turn int) (*engine.SaveState, error) {
	f, err := os.Open(a.path(turn))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("turn %d: %w", turn, ErrNoSave)
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var state engine.SaveState
	if err := json.NewDecoder(bufio.NewReader(dec)).Decode(&state); err != nil {
		return nil, fmt.Errorf("decode turn %d: %w", turn, err)
	}
	return &state, nil
}

// Turns lists archived turns in ascending order.
func (a *Archive) Turns() ([]int, error) {
	entries, err := os.ReadDir(a.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var turns []int
	for _, e := range entries {
		var n int
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json.zst") {
			continue
		}
		if _, err := fmt.Sscanf(e.Name(), archivePattern, &n); err == nil {
			turns = append(turns, n)
		}
	}
	sort.Ints(turns)
	return turns, nil
}

// Clear removes every archived turn.
func (a *Archive) Clear() error {
	turns, err := a.Turns()
	if err != nil {
		return err
	}
	for _, t := range turns {
		if err := os.Remove(a.path(t)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

// Hook archives each commit that settled a turn. A new game clears the
// previous game's archive.
func (a *Archive) Hook() engine.CommitHook {
	return func(state *engine.SaveState, fresh []engine.GameEvent) {
		if startsGame(fresh) {
			if err := a.Clear(); err != nil {
				slog.Warn("archive clear failed", "err", err)
			}
			return
		}
		turn, ok := settledTurn(fresh)
		if !ok {
			return
		}
		if err := a.Write(turn, state); err != nil {
			slog.Warn("archive write failed", "turn", turn, "err", err)
		}
	}
}

// settledTurn finds the turn whose economy ran in this batch.
func settledTurn(events []engine.GameEvent) (int, bool) {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Action == engine.EventIncome {
			return events[i].Turn, true
		}
	}
	return 0, false
}

func (a *Archive) path(turn int) string {
	return filepath.Join(a.dir, fmt.Sprintf(archivePattern, turn))
}

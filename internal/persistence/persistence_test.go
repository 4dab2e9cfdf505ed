package persistence

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/allannapier/gangsofclaude-sub000/internal/config"
	"github.com/allannapier/gangsofclaude-sub000/internal/engine"
	"github.com/allannapier/gangsofclaude-sub000/internal/social"
)

func newState(t *testing.T) *engine.SaveState {
	t.Helper()
	g, err := engine.NewGame(config.Default().Rules, 11)
	if err != nil {
		t.Fatalf("NewGame: %v", err)
	}
	return g.State
}

func TestSaveFileRoundTrip(t *testing.T) {
	sf := NewSaveFile(filepath.Join(t.TempDir(), "data", "save.json"))
	if _, err := sf.Load(); !errors.Is(err, ErrNoSave) {
		t.Fatalf("Load before save: %v", err)
	}

	state := newState(t)
	state.Families[social.Player].Wealth = 777
	state.RNGDraws = 12
	if err := sf.Save(state); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := sf.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Families[social.Player].Wealth != 777 || got.RNGDraws != 12 || got.Seed != 11 {
		t.Errorf("loaded = turn %d wealth %d draws %d", got.Turn, got.Families[social.Player].Wealth, got.RNGDraws)
	}
	if len(got.Territories) != len(state.Territories) {
		t.Errorf("territories = %d", len(got.Territories))
	}

	matches, _ := filepath.Glob(filepath.Join(filepath.Dir(sf.Path()), "*.tmp"))
	if len(matches) != 0 {
		t.Errorf("temp files left behind: %v", matches)
	}
}

func TestSaveFilePartial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "save.json")
	if err := os.WriteFile(path, []byte(`{"turn": 3, "families": {`), 0o644); err != nil {
		t.Fatal(err)
	}
	sf := NewSaveFile(path)
	sf.ReadPause = time.Millisecond
	if _, err := sf.Load(); !errors.Is(err, ErrPartialSave) {
		t.Errorf("err = %v, want ErrPartialSave", err)
	}
}

func TestSaveFileRecoversFromConcurrentWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "save.json")
	if err := os.WriteFile(path, []byte(`{"turn":`), 0o644); err != nil {
		t.Fatal(err)
	}
	sf := NewSaveFile(path)
	sf.ReadPause = 100 * time.Millisecond
	state := newState(t)

	done := make(chan error, 1)
	go func() {
		time.Sleep(20 * time.Millisecond)
		done <- sf.Save(state)
	}()
	got, err := sf.Load()
	if werr := <-done; werr != nil {
		t.Fatalf("Save: %v", werr)
	}
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Turn != 1 {
		t.Errorf("turn = %d", got.Turn)
	}
}

func TestJournal(t *testing.T) {
	j, err := OpenJournal(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("OpenJournal: %v", err)
	}
	defer j.Close()

	state := newState(t)
	hook := j.Hook()
	hook(state, state.Events)

	state.Turn = 2
	fresh := []engine.GameEvent{
		{Turn: 1, Actor: social.Marinelli, Action: engine.EventHire, Target: "five_points", Detail: "hired"},
		{Turn: 1, Actor: social.Player, Action: engine.EventIncome, Detail: "collected"},
	}
	hook(state, fresh)

	recent, err := j.RecentEvents(10)
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(recent) != 3 || recent[0].Action != engine.EventIncome || recent[2].Action != engine.EventNewGame {
		t.Errorf("recent = %+v", recent)
	}
	mine, err := j.EventsFor(social.Marinelli, 5)
	if err != nil || len(mine) != 1 || mine[0].Target != "five_points" {
		t.Errorf("EventsFor = %+v, %v", mine, err)
	}

	// A player submission in the next turn settles nothing.
	state.Families[social.Player].Wealth = 1
	hook(state, []engine.GameEvent{{Turn: 2, Actor: social.Player, Action: engine.EventWait}})

	hist, err := j.TurnHistory()
	if err != nil {
		t.Fatalf("TurnHistory: %v", err)
	}
	if len(hist) != 2 || hist[0].Turn != 0 || hist[1].Turn != 1 || len(hist[1].Standings) != 5 {
		t.Fatalf("history = %+v", hist)
	}
	if w := hist[1].Standings[0].Wealth; w != 1000 {
		t.Errorf("turn 1 standings overwritten by a later submission: wealth %d", w)
	}
	if s := hist[0].Standings[0]; s.Family != social.Player || s.Territories != 2 || s.Wealth != 1000 {
		t.Errorf("standing = %+v", s)
	}
	if seed, err := j.GetMeta("seed"); err != nil || seed != "11" {
		t.Errorf("seed meta = %q, %v", seed, err)
	}

	// A new game wipes the old history.
	next := newState(t)
	hook(next, next.Events)
	if recent, _ := j.RecentEvents(10); len(recent) != 1 {
		t.Errorf("events after reset = %d", len(recent))
	}
}

func TestArchive(t *testing.T) {
	a := NewArchive(filepath.Join(t.TempDir(), "archive"))
	if turns, err := a.Turns(); err != nil || len(turns) != 0 {
		t.Fatalf("Turns on empty archive = %v, %v", turns, err)
	}

	state := newState(t)
	hook := a.Hook()
	hook(state, state.Events)
	for turn := 1; turn <= 3; turn++ {
		state = state.Clone()
		state.Turn = turn + 1
		state.Families[social.Rossetti].Wealth = 1000 + turn
		hook(state, []engine.GameEvent{{Turn: turn, Actor: social.Rossetti, Action: engine.EventIncome}})
	}
	// A player submission does not settle a turn.
	hook(state, []engine.GameEvent{{Turn: 4, Actor: social.Player, Action: engine.EventWait}})

	turns, err := a.Turns()
	if err != nil {
		t.Fatalf("Turns: %v", err)
	}
	if len(turns) != 3 || turns[0] != 1 || turns[2] != 3 {
		t.Fatalf("turns = %v", turns)
	}
	got, err := a.Load(2)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Turn != 3 || got.Families[social.Rossetti].Wealth != 1002 {
		t.Errorf("turn 2 archive = turn %d wealth %d", got.Turn, got.Families[social.Rossetti].Wealth)
	}
	if _, err := a.Load(9); !errors.Is(err, ErrNoSave) {
		t.Errorf("missing turn: %v", err)
	}

	fresh := newState(t)
	hook(fresh, fresh.Events)
	if turns, _ := a.Turns(); len(turns) != 0 {
		t.Errorf("new game kept %d archived turns", len(turns))
	}
}

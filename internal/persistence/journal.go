package persistence

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/allannapier/gangsofclaude-sub000/internal/engine"
	"github.com/allannapier/gangsofclaude-sub000/internal/social"
	"github.com/allannapier/gangsofclaude-sub000/internal/world"
)

// Journal is a queryable SQLite history of the game: every event and the
// standings at each committed turn. The checkpoint stays authoritative; the
// journal can be rebuilt from it.
type Journal struct {
	conn *sqlx.DB
}

// Standing is one family's position at a turn.
type Standing struct {
	Family      social.FamilyID `json:"family"`
	Wealth      int             `json:"wealth"`
	Territories int             `json:"territories"`
	Muscle      int             `json:"muscle"`
	Eliminated  bool            `json:"eliminated,omitempty"`
}

// TurnRecord is a row of the turn history.
type TurnRecord struct {
	Turn        int        `db:"turn" json:"turn"`
	Phase       string     `db:"phase" json:"phase"`
	Winner      string     `db:"winner" json:"winner,omitempty"`
	CommittedAt int64      `db:"committed_at" json:"committed_at"`
	RawStanding string     `db:"standings" json:"-"`
	Standings   []Standing `db:"-" json:"standings"`
}

// OpenJournal opens or creates the journal database at path.
func OpenJournal(path string) (*Journal, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	j := &Journal{conn: conn}
	if err := j.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return j, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	return j.conn.Close()
}

func (j *Journal) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		turn INTEGER NOT NULL,
		actor TEXT NOT NULL,
		action TEXT NOT NULL,
		target TEXT NOT NULL,
		detail TEXT NOT NULL,
		outcome TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS turns (
		turn INTEGER PRIMARY KEY,
		phase TEXT NOT NULL,
		winner TEXT NOT NULL,
		committed_at INTEGER NOT NULL,
		standings TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS game_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_turn ON events(turn);
	CREATE INDEX IF NOT EXISTS idx_events_actor ON events(actor);
	`
	_, err := j.conn.Exec(schema)
	return err
}

// RecordEvents appends events.
func (j *Journal) RecordEvents(events []engine.GameEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := j.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Preparex(`INSERT INTO events (turn, actor, action, target, detail, outcome)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.Exec(e.Turn, string(e.Actor), e.Action, e.Target, e.Detail, e.Outcome); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// RecordTurn stores the standings in state under turn, replacing any
// earlier row for the same turn.
func (j *Journal) RecordTurn(turn int, state *engine.SaveState) error {
	standings, err := json.Marshal(Standings(state))
	if err != nil {
		return err
	}
	_, err = j.conn.Exec(
		"INSERT OR REPLACE INTO turns (turn, phase, winner, committed_at, standings) VALUES (?, ?, ?, ?, ?)",
		turn, string(state.Phase), string(state.Winner), time.Now().Unix(), string(standings),
	)
	return err
}

// Standings summarizes every family in registry order.
func Standings(state *engine.SaveState) []Standing {
	var out []Standing
	for _, id := range social.IDs() {
		f := state.Families[id]
		if f == nil {
			continue
		}
		owned := world.OwnedBy(state.Territories, id)
		out = append(out, Standing{
			Family:      id,
			Wealth:      f.Wealth,
			Territories: len(owned),
			Muscle:      world.TotalMuscle(owned),
			Eliminated:  f.Eliminated,
		})
	}
	return out
}

// RecentEvents returns the most recent events, newest first.
func (j *Journal) RecentEvents(limit int) ([]engine.GameEvent, error) {
	var events []engine.GameEvent
	err := j.conn.Select(&events,
		"SELECT turn, actor, action, target, detail, outcome FROM events ORDER BY id DESC LIMIT ?",
		limit,
	)
	return events, err
}

// EventsFor returns a family's events, oldest first.
func (j *Journal) EventsFor(actor social.FamilyID, limit int) ([]engine.GameEvent, error) {
	var events []engine.GameEvent
	err := j.conn.Select(&events,
		`SELECT turn, actor, action, target, detail, outcome FROM
			(SELECT * FROM events WHERE actor = ? ORDER BY id DESC LIMIT ?)
		ORDER BY id`,
		string(actor), limit,
	)
	return events, err
}

// TurnHistory returns the recorded turns, oldest first.
func (j *Journal) TurnHistory() ([]TurnRecord, error) {
	var rows []TurnRecord
	if err := j.conn.Select(&rows, "SELECT turn, phase, winner, committed_at, standings FROM turns ORDER BY turn"); err != nil {
		return nil, err
	}
	for i := range rows {
		if err := json.Unmarshal([]byte(rows[i].RawStanding), &rows[i].Standings); err != nil {
			return nil, fmt.Errorf("turn %d standings: %w", rows[i].Turn, err)
		}
	}
	return rows, nil
}

// SetMeta stores a key-value pair.
func (j *Journal) SetMeta(key, value string) error {
	_, err := j.conn.Exec("INSERT OR REPLACE INTO game_meta (key, value) VALUES (?, ?)", key, value)
	return err
}

// GetMeta retrieves a metadata value.
func (j *Journal) GetMeta(key string) (string, error) {
	var value string
	err := j.conn.Get(&value, "SELECT value FROM game_meta WHERE key = ?", key)
	return value, err
}

// Reset clears all history for a new game.
func (j *Journal) Reset() error {
	tx, err := j.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, table := range []string{"events", "turns", "game_meta"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Hook records every commit's events. Standings are written under the turn
// a commit settled, and a new game resets the history and stores the
// opening standings as turn 0. Player submissions settle nothing and add no
// turn row.
func (j *Journal) Hook() engine.CommitHook {
	return func(state *engine.SaveState, fresh []engine.GameEvent) {
		turn, settled := settledTurn(fresh)
		if startsGame(fresh) {
			if err := j.Reset(); err != nil {
				slog.Warn("journal reset failed", "err", err)
			}
			if err := j.SetMeta("seed", fmt.Sprint(state.Seed)); err != nil {
				slog.Warn("journal meta failed", "err", err)
			}
			turn, settled = 0, true
		}
		if err := j.RecordEvents(fresh); err != nil {
			slog.Warn("journal events failed", "turn", state.Turn, "err", err)
		}
		if !settled {
			return
		}
		if err := j.RecordTurn(turn, state); err != nil {
			slog.Warn("journal turn failed", "turn", turn, "err", err)
		}
	}
}

func startsGame(events []engine.GameEvent) bool {
	for _, e := range events {
		if e.Action == engine.EventNewGame {
			return true
		}
	}
	return false
}

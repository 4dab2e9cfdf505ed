package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/allannapier/gangsofclaude-sub000/internal/config"
	"github.com/allannapier/gangsofclaude-sub000/internal/oracle"
)

// ErrTurnInProgress is returned when a turn is requested while one is running.
var ErrTurnInProgress = errors.New("a turn is already being processed")

// Saver writes the durable checkpoint.
type Saver interface {
	Save(state *SaveState) error
}

// CommitHook observes every committed change. state is a published
// snapshot and must not be modified; fresh holds the events the change added.
type CommitHook func(state *SaveState, fresh []GameEvent)

// Status is the runner's externally visible condition.
type Status struct {
	HasGame    bool   `json:"has_game"`
	Processing bool   `json:"processing"`
	Turn       int    `json:"turn"`
	Phase      Phase  `json:"phase"`
	Winner     string `json:"winner,omitempty"`
	Unsaved    bool   `json:"unsaved,omitempty"`
	LastError  string `json:"last_error,omitempty"`
}

type cmdKind int

const (
	cmdNewGame cmdKind = iota
	cmdSubmit
	cmdAdvance
)

type command struct {
	ctx      context.Context
	kind     cmdKind
	seed     int64
	decision oracle.Decision
	done     chan outcome
}

type outcome struct {
	state  *SaveState
	report *TurnReport
	err    error
}

// Runner is the single writer of the game. Every mutation is a command
// executed on the Run goroutine against a private copy and published as an
// immutable snapshot once complete, so readers never see a half-applied turn
// and never wait on an outstanding oracle request.
type Runner struct {
	rules config.Rules
	orch  *Orchestrator
	saver Saver
	hooks []CommitHook

	// SaveAttempts and SavePause bound checkpoint write retries.
	SaveAttempts int
	SavePause    time.Duration

	cmds chan command
	game *Game

	snap    atomic.Pointer[SaveState]
	busy    atomic.Bool
	lastErr atomic.Value // string
}

// NewRunner creates a runner. state may be nil when no save exists.
func NewRunner(rules config.Rules, orch *Orchestrator, saver Saver, state *SaveState) *Runner {
	r := &Runner{
		rules:        rules,
		orch:         orch,
		saver:        saver,
		SaveAttempts: 3,
		SavePause:    50 * time.Millisecond,
		cmds:         make(chan command),
	}
	if state != nil {
		r.game = Resume(state, rules)
		r.snap.Store(state.Clone())
	}
	return r
}

// OnCommit registers a hook. Hooks run on the runner goroutine in
// registration order; they must not block for long.
func (r *Runner) OnCommit(h CommitHook) { r.hooks = append(r.hooks, h) }

// Run executes commands until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	slog.Info("runner started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("runner stopped")
			return ctx.Err()
		case cmd := <-r.cmds:
			cmd.done <- r.handle(cmd)
		}
	}
}

// Snapshot returns the last committed state, or nil before any game exists.
// The result is shared and must be treated as read-only.
func (r *Runner) Snapshot() *SaveState { return r.snap.Load() }

// Processing reports whether a turn is being resolved.
func (r *Runner) Processing() bool { return r.busy.Load() }

// Status reports the runner's condition from the published snapshot.
func (r *Runner) Status() Status {
	st := Status{Processing: r.Processing(), Phase: PhaseSetup}
	if s := r.Snapshot(); s != nil {
		st.HasGame = true
		st.Turn = s.Turn
		st.Phase = s.Phase
		st.Winner = string(s.Winner)
	}
	if e, _ := r.lastErr.Load().(string); e != "" {
		st.Unsaved = true
		st.LastError = e
	}
	return st
}

// NewGame starts a fresh game, replacing any current one.
func (r *Runner) NewGame(ctx context.Context, seed int64) (*SaveState, error) {
	out, err := r.send(ctx, command{kind: cmdNewGame, seed: seed})
	return out.state, err
}

// SubmitPlayer applies the player's orders for the current turn. An invalid
// submission returns a *RejectError and changes nothing.
func (r *Runner) SubmitPlayer(ctx context.Context, d oracle.Decision) (*SaveState, error) {
	out, err := r.send(ctx, command{kind: cmdSubmit, decision: d})
	return out.state, err
}

// AdvanceTurn resolves every oracle family and settles the turn. It always
// ends with either a committed turn or a terminal error.
func (r *Runner) AdvanceTurn(ctx context.Context) (*TurnReport, error) {
	if !r.busy.CompareAndSwap(false, true) {
		return nil, ErrTurnInProgress
	}
	defer r.busy.Store(false)
	out, err := r.send(ctx, command{kind: cmdAdvance})
	return out.report, err
}

func (r *Runner) send(ctx context.Context, cmd command) (outcome, error) {
	cmd.ctx = ctx
	cmd.done = make(chan outcome, 1)
	select {
	case r.cmds <- cmd:
	case <-ctx.Done():
		return outcome{}, ctx.Err()
	}
	// Once accepted the command always answers; ctx still governs the oracle
	// calls a turn makes.
	out := <-cmd.done
	return out, out.err
}

func (r *Runner) handle(cmd command) outcome {
	switch cmd.kind {
	case cmdNewGame:
		seed := cmd.seed
		if seed == 0 {
			seed = r.rules.Seed
		}
		g, err := NewGame(r.rules, seed)
		if err != nil {
			return outcome{err: err}
		}
		slog.Info("new game", "seed", g.State.Seed)
		return outcome{state: r.commit(g, 0)}

	case cmdSubmit:
		if r.game == nil {
			return outcome{err: ErrNoGame}
		}
		work := r.game.Clone()
		mark := len(work.State.Events)
		if err := work.SubmitPlayer(cmd.decision); err != nil {
			return outcome{err: err}
		}
		return outcome{state: r.commit(work, mark)}

	case cmdAdvance:
		if r.game == nil {
			return outcome{err: ErrNoGame}
		}
		work := r.game.Clone()
		mark := len(work.State.Events)
		start := time.Now()
		rep, err := r.orch.RunTurn(cmd.ctx, work)
		if err != nil {
			slog.Error("turn failed", "turn", r.game.State.Turn, "err", err)
			return outcome{err: fmt.Errorf("advance turn: %w", err)}
		}
		r.commit(work, mark)
		slog.Info("turn committed",
			"turn", rep.Turn, "defaulted", len(rep.Defaulted),
			"phase", work.State.Phase, "elapsed", time.Since(start).Round(time.Millisecond))
		return outcome{report: rep, state: r.Snapshot()}
	}
	return outcome{err: fmt.Errorf("unknown command %d", cmd.kind)}
}

// commit adopts work as the authoritative game, checkpoints it and publishes
// the new snapshot. A checkpoint that keeps failing leaves the game in memory
// and is retried on the next commit.
func (r *Runner) commit(work *Game, mark int) *SaveState {
	r.game = work
	snap := work.State.Clone()
	if err := r.persist(snap); err != nil {
		r.lastErr.Store(err.Error())
		slog.Error("checkpoint failed; state kept in memory", "turn", snap.Turn, "err", err)
	} else {
		r.lastErr.Store("")
	}
	r.snap.Store(snap)
	fresh := snap.EventsSince(mark)
	for _, h := range r.hooks {
		h(snap, fresh)
	}
	return snap
}

func (r *Runner) persist(s *SaveState) error {
	if r.saver == nil {
		return nil
	}
	var err error
	for attempt := 1; attempt <= r.SaveAttempts; attempt++ {
		if err = r.saver.Save(s); err == nil {
			return nil
		}
		slog.Warn("checkpoint write failed", "attempt", attempt, "err", err)
		if attempt < r.SaveAttempts {
			time.Sleep(r.SavePause)
		}
	}
	return fmt.Errorf("save after %d attempts: %w", r.SaveAttempts, err)
}

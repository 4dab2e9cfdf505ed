// Package engine owns the game ledger and the mechanics that mutate it:
// combat, economy settlement, diplomacy, covert operations, decision
// application, the turn orchestrator and the single-writer runner.
package engine

import (
	"github.com/allannapier/gangsofclaude-sub000/internal/social"
	"github.com/allannapier/gangsofclaude-sub000/internal/world"
)

// Phase is the game lifecycle stage.
type Phase string

const (
	PhaseSetup   Phase = "setup"
	PhasePlaying Phase = "playing"
	PhaseEnded   Phase = "ended"
)

// GameEvent is one entry in the append-only event log.
type GameEvent struct {
	Turn    int             `json:"turn"`
	Actor   social.FamilyID `json:"actor"`
	Action  string          `json:"action"`
	Target  string          `json:"target,omitempty"`
	Detail  string          `json:"detail"`
	Outcome string          `json:"outcome,omitempty"`
}

// Event action tags.
const (
	EventAttack      = "attack"
	EventBetrayal    = "betrayal"
	EventClaim       = "claim"
	EventHire        = "hire"
	EventBusiness    = "business"
	EventWait        = "wait"
	EventMessage     = "message"
	EventDiplomacy   = "diplomacy"
	EventResponse    = "diplomacy_response"
	EventCovert      = "covert"
	EventIncome      = "income"
	EventDesertion   = "desertion"
	EventFallback    = "fallback"
	EventElimination = "elimination"
	EventVictory     = "victory"
	EventNewGame     = "new_game"
)

// EffectKind distinguishes covert effects.
type EffectKind string

const (
	EffectIntel         EffectKind = "intel"
	EffectFortification EffectKind = "fortification"
)

// CovertEffect is a time-limited covert outcome. It is visible while the
// current turn is below Expires. Effects are never removed; invalidating one
// pulls Expires back to the current turn.
type CovertEffect struct {
	Kind    EffectKind      `json:"kind"`
	Owner   social.FamilyID `json:"owner"`
	Target  string          `json:"target"` // family id for intel, territory id for fortification
	Created int             `json:"created"`
	Expires int             `json:"expires"`

	// Intel snapshot.
	Wealth int            `json:"wealth,omitempty"`
	Muscle map[string]int `json:"muscle,omitempty"`

	// Fortification.
	Bonus int `json:"bonus,omitempty"`
}

// Active reports whether the effect is visible at turn.
func (e *CovertEffect) Active(turn int) bool { return turn < e.Expires }

// SaveState is the single serialized root of a game.
type SaveState struct {
	Turn   int             `json:"turn"`
	Phase  Phase           `json:"phase"`
	Winner social.FamilyID `json:"winner,omitempty"`

	// Seed and RNGDraws let a resumed game continue the exact random stream.
	Seed     int64  `json:"seed"`
	RNGDraws uint64 `json:"rng_draws"`

	// PlayerActedTurn is the last turn the player submitted an action for.
	PlayerActedTurn int `json:"player_acted_turn"`

	Families    map[social.FamilyID]*social.Family `json:"families"`
	Territories []*world.Territory                 `json:"territories"`
	Messages    []social.Message                   `json:"messages"`
	Effects     []CovertEffect                     `json:"effects"`
	Events      []GameEvent                        `json:"events"`
}

// Clone returns a deep copy.
func (s *SaveState) Clone() *SaveState {
	c := *s
	c.Families = make(map[social.FamilyID]*social.Family, len(s.Families))
	for id, f := range s.Families {
		cp := *f
		c.Families[id] = &cp
	}
	c.Territories = make([]*world.Territory, len(s.Territories))
	for i, t := range s.Territories {
		cp := *t
		c.Territories[i] = &cp
	}
	c.Messages = append([]social.Message(nil), s.Messages...)
	c.Effects = make([]CovertEffect, len(s.Effects))
	for i, e := range s.Effects {
		if e.Muscle != nil {
			m := make(map[string]int, len(e.Muscle))
			for k, v := range e.Muscle {
				m[k] = v
			}
			e.Muscle = m
		}
		c.Effects[i] = e
	}
	c.Events = append([]GameEvent(nil), s.Events...)
	return &c
}

// EventsSince returns events appended after the first n.
func (s *SaveState) EventsSince(n int) []GameEvent {
	if n >= len(s.Events) {
		return nil
	}
	return append([]GameEvent(nil), s.Events[n:]...)
}

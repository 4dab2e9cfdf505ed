package engine

import (
	"errors"
	"fmt"

	"github.com/allannapier/gangsofclaude-sub000/internal/config"
	"github.com/allannapier/gangsofclaude-sub000/internal/economy"
	"github.com/allannapier/gangsofclaude-sub000/internal/entropy"
	"github.com/allannapier/gangsofclaude-sub000/internal/social"
	"github.com/allannapier/gangsofclaude-sub000/internal/world"
)

var (
	ErrNoGame            = errors.New("no game in progress")
	ErrGameOver          = errors.New("game is over")
	ErrUnknownFamily     = errors.New("unknown family")
	ErrUnknownTerritory  = errors.New("unknown territory")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrEliminated        = errors.New("family has been eliminated")
)

// Game is the authoritative ledger plus the rules that mutate it.
// A Game is not safe for concurrent use; the Runner is its only writer.
type Game struct {
	State *SaveState

	rules config.Rules
	curve economy.Curve
	src   entropy.Source
}

// NewGame seeds the city and the families. A zero seed picks a random one.
func NewGame(rules config.Rules, seed int64) (*Game, error) {
	if seed == 0 {
		seed = entropy.RandomSeed()
	}
	territories, err := world.SeedCity(social.IDs(), rules.StartingMuscle)
	if err != nil {
		return nil, fmt.Errorf("seed city: %w", err)
	}
	state := &SaveState{
		Turn:        1,
		Phase:       PhasePlaying,
		Seed:        seed,
		Families:    social.SeedFamilies(rules.StartingWealth),
		Territories: territories,
		Messages:    []social.Message{},
		Effects:     []CovertEffect{},
		Events:      []GameEvent{},
	}
	g := Resume(state, rules)
	g.log(social.ActorSystem, EventNewGame, "", fmt.Sprintf("%d families divide the city", len(state.Families)), "")
	return g, nil
}

// Resume wraps a loaded state. The random stream continues where it stopped.
func Resume(state *SaveState, rules config.Rules) *Game {
	return &Game{
		State: state,
		rules: rules,
		curve: economy.Curve{
			Base:            rules.IncomeBase,
			Growth:          rules.IncomeGrowth,
			UpkeepPerMuscle: rules.UpkeepPerMuscle,
		},
		src: entropy.NewSeeded(state.Seed, state.RNGDraws),
	}
}

// WithSource replaces the random stream, for replaying fixed rolls.
func (g *Game) WithSource(src entropy.Source) *Game {
	g.src = src
	return g
}

// Clone deep-copies the game. A seeded stream is re-created at the same
// position; any other source is shared.
func (g *Game) Clone() *Game {
	c := *g
	c.State = g.State.Clone()
	if _, ok := g.src.(*entropy.Seeded); ok {
		c.src = entropy.NewSeeded(c.State.Seed, c.State.RNGDraws)
	}
	return &c
}

// Rules returns the rule set the game runs under.
func (g *Game) Rules() config.Rules { return g.rules }

// Curve returns the economic curve.
func (g *Game) Curve() economy.Curve { return g.curve }

// ledgerSource counts every draw into the save state.
type ledgerSource struct{ g *Game }

func (l ledgerSource) Float64() float64 {
	l.g.State.RNGDraws++
	return l.g.src.Float64()
}

func (g *Game) rng() entropy.Source { return ledgerSource{g} }

// Family returns the family record, or nil.
func (g *Game) Family(id social.FamilyID) *social.Family {
	return g.State.Families[id]
}

// Owned returns the territories id holds, in map order.
func (g *Game) Owned(id social.FamilyID) []*world.Territory {
	return world.OwnedBy(g.State.Territories, id)
}

// Territory returns the territory with the given id, or nil.
func (g *Game) Territory(id string) *world.Territory {
	return world.Find(g.State.Territories, id)
}

// Living returns the families still in the game, in registry order.
func (g *Game) Living() []social.FamilyID {
	var out []social.FamilyID
	for _, id := range social.IDs() {
		if f := g.Family(id); f != nil && !f.Eliminated {
			out = append(out, id)
		}
	}
	return out
}

// Allied reports whether a and b hold an unbroken partnership.
func (g *Game) Allied(a, b social.FamilyID) bool {
	return social.Allied(g.State.Messages, a, b)
}

// Allies returns id's current allies in registry order.
func (g *Game) Allies(id social.FamilyID) []social.FamilyID {
	return social.Allies(g.State.Messages, id, social.IDs())
}

func (g *Game) log(actor social.FamilyID, action, target, detail, outcome string) {
	g.State.Events = append(g.State.Events, GameEvent{
		Turn:    g.State.Turn,
		Actor:   actor,
		Action:  action,
		Target:  target,
		Detail:  detail,
		Outcome: outcome,
	})
}

// spend deducts cost if the family can afford it.
func (g *Game) spend(f *social.Family, cost int) error {
	if f.Wealth < cost {
		return fmt.Errorf("%w: need $%d, have $%d", ErrInsufficientFunds, cost, f.Wealth)
	}
	f.Wealth -= cost
	return nil
}

// fortification sums active fortification bonuses owner holds on territory.
func (g *Game) fortification(territory string, owner social.FamilyID) int {
	bonus := 0
	for i := range g.State.Effects {
		e := &g.State.Effects[i]
		if e.Kind == EffectFortification && e.Target == territory && e.Owner == owner && e.Active(g.State.Turn) {
			bonus += e.Bonus
		}
	}
	return bonus
}

// invalidate expires the old owner's fortifications on a territory and any
// intel report on the old owner that covers it.
func (g *Game) invalidate(territory string, oldOwner social.FamilyID) {
	turn := g.State.Turn
	for i := range g.State.Effects {
		e := &g.State.Effects[i]
		if !e.Active(turn) {
			continue
		}
		switch e.Kind {
		case EffectFortification:
			if e.Target == territory && e.Owner == oldOwner {
				e.Expires = turn
			}
		case EffectIntel:
			if _, ok := e.Muscle[territory]; ok && e.Target == string(oldOwner) {
				e.Expires = turn
			}
		}
	}
}

// DefenseBonus is everything added to a territory's muscle when it is
// attacked by attacker: business tier, alliance and fortification.
func (g *Game) DefenseBonus(t *world.Territory, attacker social.FamilyID) int {
	bonus := t.Business.DefenseBonus()
	if t.Owner == "" {
		return bonus
	}
	for _, ally := range g.Allies(t.Owner) {
		if ally != attacker {
			bonus += g.rules.AllianceDefenseBonus
			break
		}
	}
	return bonus + g.fortification(t.ID, t.Owner)
}

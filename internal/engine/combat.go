package engine

import (
	"fmt"
	"math"

	"github.com/allannapier/gangsofclaude-sub000/internal/config"
	"github.com/allannapier/gangsofclaude-sub000/internal/entropy"
	"github.com/allannapier/gangsofclaude-sub000/internal/oracle"
	"github.com/allannapier/gangsofclaude-sub000/internal/social"
	"github.com/allannapier/gangsofclaude-sub000/internal/world"
)

// CombatResult is the outcome of one fight.
type CombatResult struct {
	Success        bool    `json:"success"`
	AttackerLosses int     `json:"attacker_losses"`
	DefenderLosses int     `json:"defender_losses"`
	WinChance      float64 `json:"win_chance"`
	Roll           float64 `json:"roll"`
	LossRate       float64 `json:"loss_rate"`
}

// WinChance is attacker/(attacker+effective defense), or the configured
// near-certain constant when the defense is zero.
func WinChance(attacker, effective int, r config.Rules) float64 {
	if attacker <= 0 {
		return 0
	}
	if effective <= 0 {
		return r.ZeroDefenseWinChance
	}
	return float64(attacker) / float64(attacker+effective)
}

// ResolveCombat decides a fight between committed attackers and a defending
// garrison. The first draw is the outcome roll, the second the loss rate.
// An attacker with no muscle fails outright without drawing.
func ResolveCombat(src entropy.Source, attacker, defender, bonus int, r config.Rules) CombatResult {
	if attacker <= 0 {
		return CombatResult{}
	}
	if defender < 0 {
		defender = 0
	}
	p := WinChance(attacker, defender+bonus, r)
	res := CombatResult{WinChance: p, Roll: src.Float64()}
	res.Success = res.Roll < p
	res.LossRate = entropy.Between(src, r.MinLossRate, r.MaxLossRate)

	half := func(n int) int { return int(math.Floor(float64(n) * res.LossRate / 2)) }
	full := func(n int) int {
		if n <= 0 {
			return 0
		}
		return max(1, int(math.Floor(float64(n)*res.LossRate)))
	}
	if res.Success {
		res.AttackerLosses = half(attacker)
		res.DefenderLosses = full(defender)
	} else {
		res.AttackerLosses = full(attacker)
		res.DefenderLosses = half(defender)
	}
	res.AttackerLosses = min(res.AttackerLosses, attacker)
	res.DefenderLosses = min(res.DefenderLosses, defender)
	return res
}

// Attack resolves an attack by id on a territory held by another family.
// Muscle is drawn from the allocation, or by default from half (rounded up)
// of the attacker's strongest territory.
func (g *Game) Attack(id social.FamilyID, target string, alloc []oracle.Allocation) (CombatResult, error) {
	f := g.Family(id)
	if f == nil {
		return CombatResult{}, ErrUnknownFamily
	}
	t := g.Territory(target)
	if t == nil {
		return CombatResult{}, fmt.Errorf("%w: %q", ErrUnknownTerritory, target)
	}
	if t.Unclaimed() || t.Owner == id {
		return CombatResult{}, fmt.Errorf("%s is not an enemy territory", t.ID)
	}
	defender := t.Owner

	if g.Allied(id, defender) {
		g.betray(f, defender)
	}

	sources, committed := g.commit(id, alloc)
	garrison := t.Muscle
	bonus := g.DefenseBonus(t, id)
	res := ResolveCombat(g.rng(), committed, t.Muscle, bonus, g.rules)

	// Attacker losses come out of the sources in allocation order; the
	// survivors either move in or go home.
	losses := res.AttackerLosses
	survivors := committed - losses
	if !res.Success {
		for _, s := range sources {
			lost := min(s.n, losses)
			losses -= lost
			s.t.Muscle += s.n - lost
		}
	}
	t.Muscle -= res.DefenderLosses

	outcome := "repelled"
	if res.Success {
		g.invalidate(t.ID, defender)
		t.Owner = id
		t.Business = world.BaseTier
		t.Muscle = survivors
		outcome = "captured"
	}
	g.log(id, EventAttack, t.ID,
		fmt.Sprintf("%s sent %d against %s's %s (defense %d+%d, %.0f%% odds): attackers lost %d, defenders lost %d",
			f.Name, committed, defender, t.Name, garrison, bonus,
			res.WinChance*100, res.AttackerLosses, res.DefenderLosses),
		outcome)
	return res, nil
}

type source struct {
	t *world.Territory
	n int
}

// commit pulls attackers out of their territories. Allocations naming
// territories the family does not hold are ignored, and each is capped at
// what is stationed there.
func (g *Game) commit(id social.FamilyID, alloc []oracle.Allocation) ([]source, int) {
	var out []source
	total := 0
	for _, a := range alloc {
		t := g.Territory(a.From)
		if t == nil || !t.OwnedBy(id) {
			continue
		}
		n := min(a.Muscle, t.Muscle)
		if n <= 0 {
			continue
		}
		t.Muscle -= n
		out = append(out, source{t, n})
		total += n
	}
	if len(alloc) == 0 {
		if t := strongest(g.Owned(id)); t != nil && t.Muscle > 0 {
			n := (t.Muscle + 1) / 2
			t.Muscle -= n
			out = append(out, source{t, n})
			total = n
		}
	}
	return out, total
}

// betray applies the penalty for attacking an ally and records the war that
// ends the alliance.
func (g *Game) betray(f *social.Family, victim social.FamilyID) {
	f.Wealth = max(0, f.Wealth-g.rules.BetrayalWealth)
	deserted := 0
	for i := 0; i < g.rules.BetrayalMuscle; i++ {
		t := strongest(g.Owned(f.ID))
		if t == nil || t.Muscle <= 0 {
			break
		}
		t.Muscle--
		deserted++
	}
	g.State.Messages = append(g.State.Messages, social.Message{
		ID:            len(g.State.Messages) + 1,
		From:          f.ID,
		To:            victim,
		Type:          social.War,
		Turn:          g.State.Turn,
		Status:        social.Accepted,
		RespondedTurn: g.State.Turn,
		Seq:           social.NextSeq(g.State.Messages),
	})
	g.log(f.ID, EventBetrayal, string(victim),
		fmt.Sprintf("%s turned on its ally %s", f.Name, victim),
		fmt.Sprintf("-$%d, %d muscle deserted", g.rules.BetrayalWealth, deserted))
}

// strongest returns the territory with the most muscle, ties broken by id.
func strongest(ts []*world.Territory) *world.Territory {
	if len(ts) == 0 {
		return nil
	}
	world.ByMuscle(ts)
	return ts[0]
}

package engine

import (
	"fmt"

	"github.com/allannapier/gangsofclaude-sub000/internal/entropy"
	"github.com/allannapier/gangsofclaude-sub000/internal/oracle"
	"github.com/allannapier/gangsofclaude-sub000/internal/social"
	"github.com/allannapier/gangsofclaude-sub000/internal/world"
)

// CovertCost is the price of an operation, charged on attempt.
func (g *Game) CovertCost(kind oracle.CovertKind) int {
	switch kind {
	case oracle.CovertSpy:
		return g.rules.SpyCost
	case oracle.CovertSabotage:
		return g.rules.SabotageCost
	case oracle.CovertBribe:
		return g.rules.BribeCost
	case oracle.CovertFortify:
		return g.rules.FortifyCost
	}
	return 0
}

// checkCovert validates an operation's target without touching state.
func (g *Game) checkCovert(by social.FamilyID, op oracle.CovertOp) error {
	switch op.Kind {
	case oracle.CovertSpy:
		target := g.Family(social.FamilyID(op.Target))
		if target == nil {
			return fmt.Errorf("%w: %q", ErrUnknownFamily, op.Target)
		}
		if target.ID == by {
			return fmt.Errorf("cannot spy on yourself")
		}
		if target.Eliminated {
			return fmt.Errorf("%s: %w", target.ID, ErrEliminated)
		}
	case oracle.CovertSabotage, oracle.CovertBribe:
		t := g.Territory(op.Target)
		if t == nil {
			return fmt.Errorf("%w: %q", ErrUnknownTerritory, op.Target)
		}
		if t.Unclaimed() || t.Owner == by {
			return fmt.Errorf("%s is not an enemy territory", t.ID)
		}
		if op.Kind == oracle.CovertSabotage && t.Business <= world.BaseTier {
			return fmt.Errorf("%s has nothing above %s to sabotage", t.ID, world.BaseTier)
		}
	case oracle.CovertFortify:
		t := g.Territory(op.Target)
		if t == nil {
			return fmt.Errorf("%w: %q", ErrUnknownTerritory, op.Target)
		}
		if !t.OwnedBy(by) {
			return fmt.Errorf("can only fortify your own territory")
		}
	default:
		return fmt.Errorf("unknown covert operation %q", op.Kind)
	}
	return nil
}

// Covert runs one covert operation for a family. The cost is deducted before
// the outcome is rolled; an invalid or unaffordable operation changes nothing.
func (g *Game) Covert(by social.FamilyID, op oracle.CovertOp) error {
	f := g.Family(by)
	if f == nil {
		return ErrUnknownFamily
	}
	if err := g.checkCovert(by, op); err != nil {
		return err
	}
	cost := g.CovertCost(op.Kind)
	if err := g.spend(f, cost); err != nil {
		return fmt.Errorf("%s: %w", op.Kind, err)
	}

	turn := g.State.Turn
	detail := fmt.Sprintf("%s ran %s on %s for %s", f.Name, op.Kind, op.Target, money(cost))
	switch op.Kind {
	case oracle.CovertSpy:
		target := social.FamilyID(op.Target)
		snap := make(map[string]int)
		for _, t := range g.Owned(target) {
			snap[t.ID] = t.Muscle
		}
		g.State.Effects = append(g.State.Effects, CovertEffect{
			Kind:    EffectIntel,
			Owner:   by,
			Target:  op.Target,
			Created: turn,
			Expires: turn + g.rules.IntelTurns,
			Wealth:  g.Family(target).Wealth,
			Muscle:  snap,
		})
		g.log(by, EventCovert, op.Target, detail, "intel gathered")

	case oracle.CovertSabotage:
		t := g.Territory(op.Target)
		if g.rng().Float64() < g.rules.SabotageChance {
			from := t.Business
			t.Business, _ = t.Business.Prev()
			g.log(by, EventCovert, t.ID, detail, fmt.Sprintf("%s reduced to %s", from, t.Business))
		} else {
			g.log(by, EventCovert, t.ID, detail, "sabotage failed")
		}

	case oracle.CovertBribe:
		t := g.Territory(op.Target)
		rng := g.rng()
		if rng.Float64() < g.rules.BribeChance {
			n := min(1+entropy.Intn(rng, 2), t.Muscle)
			t.Muscle -= n
			g.log(by, EventCovert, t.ID, detail, fmt.Sprintf("%d muscle bought off from %s", n, t.Owner))
		} else {
			g.log(by, EventCovert, t.ID, detail, "bribe refused")
		}

	case oracle.CovertFortify:
		g.State.Effects = append(g.State.Effects, CovertEffect{
			Kind:    EffectFortification,
			Owner:   by,
			Target:  op.Target,
			Created: turn,
			Expires: turn + g.rules.FortifyTurns,
			Bonus:   g.rules.FortifyBonus,
		})
		g.log(by, EventCovert, op.Target, detail, fmt.Sprintf("+%d defense until turn %d", g.rules.FortifyBonus, turn+g.rules.FortifyTurns))
	}
	return nil
}

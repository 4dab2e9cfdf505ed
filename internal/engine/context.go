package engine

import (
	"fmt"

	"github.com/allannapier/gangsofclaude-sub000/internal/economy"
	"github.com/allannapier/gangsofclaude-sub000/internal/oracle"
	"github.com/allannapier/gangsofclaude-sub000/internal/social"
	"github.com/allannapier/gangsofclaude-sub000/internal/world"
)

// LegalActions is the menu of primary actions open to a family right now.
// wait is always on it.
func (g *Game) LegalActions(id social.FamilyID) []oracle.Action {
	f := g.Family(id)
	if f == nil || f.Eliminated {
		return []oracle.Action{oracle.ActionWait}
	}
	owned := g.Owned(id)
	var enemy, unclaimed bool
	for _, t := range g.State.Territories {
		switch {
		case t.Unclaimed():
			unclaimed = true
		case t.Owner != id:
			enemy = true
		}
	}
	var out []oracle.Action
	if enemy && world.TotalMuscle(owned) >= 1 {
		out = append(out, oracle.ActionAttack)
	}
	if unclaimed && f.Wealth >= g.rules.ClaimCost {
		out = append(out, oracle.ActionClaim)
	}
	if len(owned) > 0 && f.Wealth >= g.rules.HireCost {
		out = append(out, oracle.ActionHire)
	}
	for _, t := range owned {
		if next, ok := t.Business.Next(); ok && f.Wealth >= economy.UpgradeCost(next, g.rules.UpgradeCostPerLevel) {
			out = append(out, oracle.ActionBusiness)
			break
		}
	}
	return append(out, oracle.ActionWait)
}

// BuildDecisionContext serializes the bounded view a family decides from.
func (g *Game) BuildDecisionContext(id social.FamilyID) *oracle.Context {
	f := g.Family(id)
	turn := g.State.Turn
	c := &oracle.Context{
		Family:      id,
		Name:        f.Name,
		Personality: f.Personality,
		Turn:        turn,
		Wealth:      f.Wealth,
		Legal:       g.LegalActions(id),
		Costs: oracle.Costs{
			Hire:     g.rules.HireCost,
			Claim:    g.rules.ClaimCost,
			Spy:      g.rules.SpyCost,
			Sabotage: g.rules.SabotageCost,
			Bribe:    g.rules.BribeCost,
			Fortify:  g.rules.FortifyCost,
			MaxHire:  g.rules.MaxHire,
		},
		Allies: g.Allies(id),
	}

	for _, t := range g.State.Territories {
		switch {
		case t.OwnedBy(id):
			c.Territories = append(c.Territories, g.view(t, ""))
		case t.Unclaimed():
			c.Unclaimed = append(c.Unclaimed, g.view(t, id))
		default:
			c.Enemy = append(c.Enemy, g.view(t, id))
		}
	}

	for _, rid := range social.IDs() {
		r := g.Family(rid)
		if rid == id || r == nil || r.Eliminated {
			continue
		}
		owned := g.Owned(rid)
		c.Rivals = append(c.Rivals, oracle.RivalView{
			ID:          rid,
			Name:        r.Name,
			Personality: r.Personality,
			Wealth:      r.Wealth,
			Territories: len(owned),
			Muscle:      world.TotalMuscle(owned),
			Allied:      g.Allied(id, rid),
		})
	}

	// Recent events, bounded by turn range and count, newest kept.
	from := turn - g.rules.EventWindowTurns
	var events []string
	for _, e := range g.State.Events {
		if e.Turn > from {
			events = append(events, eventLine(e))
		}
	}
	if n := g.rules.EventWindowMax; len(events) > n {
		events = events[len(events)-n:]
	}
	c.Events = events

	var dipl []string
	for i := range g.State.Messages {
		m := &g.State.Messages[i]
		if m.From != id && m.To != id {
			continue
		}
		dipl = append(dipl, fmt.Sprintf("turn %d: %s", m.Turn, m.String()))
		if m.To == id && m.Status == social.Pending {
			c.Pending = append(c.Pending, oracle.PendingView{
				MessageID: m.ID, From: m.From, Type: m.Type, Target: m.Target, Turn: m.Turn,
			})
		}
	}
	if n := g.rules.DiplomacyWindowMax; len(dipl) > n {
		dipl = dipl[len(dipl)-n:]
	}
	c.Diplomacy = dipl

	for _, other := range social.IDs() {
		if other != id && social.Duplicate(g.State.Messages, id, other, social.Partnership, "") {
			c.Blocked = append(c.Blocked, other)
		}
	}

	for _, e := range g.State.Effects {
		if e.Owner != id || !e.Active(turn) {
			continue
		}
		switch e.Kind {
		case EffectIntel:
			c.Intel = append(c.Intel, oracle.IntelView{
				Target: social.FamilyID(e.Target), Wealth: e.Wealth, Muscle: e.Muscle, Expires: e.Expires,
			})
		case EffectFortification:
			c.Fortifications = append(c.Fortifications, oracle.FortView{
				Territory: e.Target, Bonus: e.Bonus, Expires: e.Expires,
			})
		}
	}
	return c
}

// view describes a territory; attacker, when set, prices its defense.
func (g *Game) view(t *world.Territory, attacker social.FamilyID) oracle.TerritoryView {
	v := oracle.TerritoryView{
		ID:       t.ID,
		Name:     t.Name,
		Owner:    t.Owner,
		Muscle:   t.Muscle,
		Business: t.Business.String(),
		Income:   g.curve.TerritoryIncome(t.Business),
		Defense:  t.Business.DefenseBonus(),
	}
	if attacker != "" {
		v.Defense = g.DefenseBonus(t, attacker)
	}
	if next, ok := t.Business.Next(); ok {
		v.Upgrade = economy.UpgradeCost(next, g.rules.UpgradeCostPerLevel)
	}
	return v
}

func eventLine(e GameEvent) string {
	s := fmt.Sprintf("turn %d: %s", e.Turn, e.Detail)
	if e.Outcome != "" {
		s += " (" + e.Outcome + ")"
	}
	return s
}

package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/allannapier/gangsofclaude-sub000/internal/economy"
	"github.com/allannapier/gangsofclaude-sub000/internal/oracle"
	"github.com/allannapier/gangsofclaude-sub000/internal/social"
	"github.com/allannapier/gangsofclaude-sub000/internal/world"
)

// RejectError is an invalid player submission. State is untouched and no
// event is logged.
type RejectError struct {
	Reason string
	Err    error
}

func (e *RejectError) Error() string { return "action rejected: " + e.Reason }

func (e *RejectError) Unwrap() error { return e.Err }

func reject(format string, args ...any) error {
	return &RejectError{Reason: fmt.Sprintf(format, args...)}
}

// ErrAlreadyActed is wrapped by the rejection for a second player submission
// in the same turn.
var ErrAlreadyActed = errors.New("already acted this turn")

// resolve validates a primary action and fills engine defaults for anything
// absent. In strict mode missing targets and out-of-range values are errors;
// otherwise they are replaced or clamped.
func (g *Game) resolve(id social.FamilyID, d oracle.Decision, strict bool) (oracle.Decision, error) {
	f := g.Family(id)
	switch d.Action {
	case oracle.ActionWait:
		return d, nil

	case oracle.ActionMessage:
		if !f.Player {
			return d, fmt.Errorf("only the player may send messages")
		}
		if strings.TrimSpace(d.Message) == "" {
			return d, fmt.Errorf("message is empty")
		}
		return d, nil

	case oracle.ActionAttack:
		if d.Target == "" {
			if strict {
				return d, fmt.Errorf("attack needs a target territory")
			}
			d.Target = g.softestEnemy(id)
		}
		t := g.Territory(d.Target)
		if t == nil {
			return d, fmt.Errorf("%w: %q", ErrUnknownTerritory, d.Target)
		}
		if t.Unclaimed() || t.Owner == id {
			return d, fmt.Errorf("%s is not an enemy territory", t.ID)
		}
		var alloc []oracle.Allocation
		seen := make(map[string]bool)
		for _, a := range d.Allocation {
			src := g.Territory(a.From)
			switch {
			case src == nil || !src.OwnedBy(id):
				if strict {
					return d, fmt.Errorf("you do not hold %q", a.From)
				}
				continue
			case seen[a.From]:
				if strict {
					return d, fmt.Errorf("%s allocated twice", a.From)
				}
				continue
			case a.Muscle > src.Muscle:
				if strict {
					return d, fmt.Errorf("%s has %d muscle, not %d", src.ID, src.Muscle, a.Muscle)
				}
				a.Muscle = src.Muscle
			}
			seen[a.From] = true
			if a.Muscle > 0 {
				alloc = append(alloc, a)
			}
		}
		d.Allocation = alloc
		total := 0
		for _, a := range alloc {
			total += a.Muscle
		}
		if len(alloc) == 0 {
			if s := strongest(g.Owned(id)); s != nil {
				total = s.Muscle
			}
		}
		if total <= 0 {
			return d, fmt.Errorf("no muscle to attack with")
		}
		return d, nil

	case oracle.ActionClaim:
		if d.Target == "" {
			if strict {
				return d, fmt.Errorf("claim needs a target territory")
			}
			if t := g.firstUnclaimed(); t != nil {
				d.Target = t.ID
			}
		}
		t := g.Territory(d.Target)
		if t == nil {
			return d, fmt.Errorf("%w: %q", ErrUnknownTerritory, d.Target)
		}
		if !t.Unclaimed() {
			return d, fmt.Errorf("%s is already held by %s", t.ID, t.Owner)
		}
		if f.Wealth < g.rules.ClaimCost {
			return d, fmt.Errorf("%w: claim costs %s", ErrInsufficientFunds, money(g.rules.ClaimCost))
		}
		return d, nil

	case oracle.ActionHire:
		owned := g.Owned(id)
		if len(owned) == 0 {
			return d, fmt.Errorf("no territory to station muscle in")
		}
		if d.Count <= 0 {
			d.Count = 1
		}
		if d.Count > g.rules.MaxHire {
			if strict {
				return d, fmt.Errorf("at most %d hires per turn", g.rules.MaxHire)
			}
			d.Count = g.rules.MaxHire
		}
		if afford := f.Wealth / g.rules.HireCost; d.Count > afford {
			if strict || afford == 0 {
				return d, fmt.Errorf("%w: %d hires cost %s", ErrInsufficientFunds, d.Count, money(d.Count*g.rules.HireCost))
			}
			d.Count = afford
		}
		if d.Target != "" {
			if t := g.Territory(d.Target); t == nil || !t.OwnedBy(id) {
				if strict {
					return d, fmt.Errorf("you do not hold %q", d.Target)
				}
				d.Target = ""
			}
		}
		if d.Target == "" {
			d.Target = weakest(owned).ID
		}
		return d, nil

	case oracle.ActionBusiness:
		if d.Target == "" {
			if strict {
				return d, fmt.Errorf("business needs a target territory")
			}
			if t := g.cheapestUpgrade(id); t != nil {
				d.Target = t.ID
			}
		}
		t := g.Territory(d.Target)
		if t == nil {
			return d, fmt.Errorf("%w: %q", ErrUnknownTerritory, d.Target)
		}
		if !t.OwnedBy(id) {
			return d, fmt.Errorf("you do not hold %s", t.ID)
		}
		next, ok := t.Business.Next()
		if !ok {
			return d, fmt.Errorf("%s already runs the top business", t.ID)
		}
		if strict && d.Tier != world.BusinessNone && d.Tier != next {
			return d, fmt.Errorf("%s can only move up to %s", t.ID, next)
		}
		d.Tier = next
		if cost := economy.UpgradeCost(next, g.rules.UpgradeCostPerLevel); f.Wealth < cost {
			return d, fmt.Errorf("%w: %s costs %s", ErrInsufficientFunds, next, money(cost))
		}
		return d, nil
	}
	return d, fmt.Errorf("unknown action %q", d.Action)
}

// cost is the wealth a resolved primary action will spend.
func (g *Game) cost(d oracle.Decision) int {
	switch d.Action {
	case oracle.ActionClaim:
		return g.rules.ClaimCost
	case oracle.ActionHire:
		return d.Count * g.rules.HireCost
	case oracle.ActionBusiness:
		return economy.UpgradeCost(d.Tier, g.rules.UpgradeCostPerLevel)
	}
	return 0
}

// perform executes a resolved primary action.
func (g *Game) perform(id social.FamilyID, d oracle.Decision) error {
	f := g.Family(id)
	switch d.Action {
	case oracle.ActionWait:
		detail := f.Name + " bides its time"
		if d.Reasoning != "" {
			detail += ": " + d.Reasoning
		}
		g.log(id, EventWait, "", detail, "")

	case oracle.ActionMessage:
		g.log(id, EventMessage, "", d.Message, "")

	case oracle.ActionAttack:
		if _, err := g.Attack(id, d.Target, d.Allocation); err != nil {
			return err
		}

	case oracle.ActionClaim:
		t := g.Territory(d.Target)
		if err := g.spend(f, g.rules.ClaimCost); err != nil {
			return err
		}
		t.Owner = id
		t.Business = world.BaseTier
		// The claim is staffed by one unit from the strongest holding if it
		// can spare one.
		if s := strongest(g.Owned(id)); s != nil && s != t && s.Muscle >= 2 {
			s.Muscle--
			t.Muscle++
		}
		g.log(id, EventClaim, t.ID, fmt.Sprintf("%s moved into %s", f.Name, t.Name), "claimed")

	case oracle.ActionHire:
		t := g.Territory(d.Target)
		if err := g.spend(f, d.Count*g.rules.HireCost); err != nil {
			return err
		}
		t.Muscle += d.Count
		g.log(id, EventHire, t.ID,
			fmt.Sprintf("%s hired %d muscle for %s", f.Name, d.Count, money(d.Count*g.rules.HireCost)),
			fmt.Sprintf("%s now holds %d", t.Name, t.Muscle))

	case oracle.ActionBusiness:
		t := g.Territory(d.Target)
		cost := economy.UpgradeCost(d.Tier, g.rules.UpgradeCostPerLevel)
		if err := g.spend(f, cost); err != nil {
			return err
		}
		from := t.Business
		t.Business = d.Tier
		g.log(id, EventBusiness, t.ID,
			fmt.Sprintf("%s turned the %s in %s into a %s for %s", f.Name, from, t.Name, t.Business, money(cost)),
			fmt.Sprintf("income %s", money(g.curve.TerritoryIncome(t.Business))))
	}
	return nil
}

// ApplyDecision applies an oracle decision leniently: responses, then the
// diplomatic message, then the primary action, then the covert operation.
// Any part that fails validation is dropped with a fallback event; a failed
// primary action degrades to wait. It returns the action actually taken.
func (g *Game) ApplyDecision(id social.FamilyID, d oracle.Decision) oracle.Action {
	f := g.Family(id)
	if f == nil {
		return oracle.ActionWait
	}
	if d.Fallback {
		g.log(id, EventFallback, "", fmt.Sprintf("%s's orders were unreadable; holding position", f.Name), strings.Join(d.Notes, "; "))
	}

	for _, r := range d.Responses {
		if err := g.Respond(id, r); err != nil {
			g.log(id, EventFallback, fmt.Sprint(r.MessageID), "response ignored", err.Error())
		}
	}

	if d.Diplomacy != nil {
		if _, err := g.Propose(id, *d.Diplomacy); err != nil && !errors.Is(err, ErrDuplicateProposal) {
			g.log(id, EventFallback, string(d.Diplomacy.To), "diplomacy dropped", err.Error())
		}
	}

	action := d.Action
	resolved, err := g.resolve(id, d, false)
	if err == nil {
		err = g.perform(id, resolved)
	}
	if err != nil {
		g.log(id, EventFallback, d.Target, fmt.Sprintf("%s could not %s", f.Name, d.Action), err.Error())
		action = oracle.ActionWait
		g.perform(id, oracle.Decision{Action: oracle.ActionWait})
	}

	if d.Covert != nil {
		if err := g.Covert(id, *d.Covert); err != nil {
			g.log(id, EventCovert, d.Covert.Target, fmt.Sprintf("%s's %s was called off", f.Name, d.Covert.Kind), "dropped: "+err.Error())
		}
	}
	return action
}

// ValidatePlayer checks a complete player submission against the current
// state without changing it.
func (g *Game) ValidatePlayer(d oracle.Decision) error {
	if g.State.Phase != PhasePlaying {
		return reject("game is %s", g.State.Phase)
	}
	f := g.Family(social.Player)
	if f == nil || f.Eliminated {
		return reject("your family has been eliminated")
	}
	if g.State.PlayerActedTurn == g.State.Turn {
		return &RejectError{Reason: ErrAlreadyActed.Error(), Err: ErrAlreadyActed}
	}
	resolved, err := g.resolve(social.Player, d, true)
	if err != nil {
		return reject("%v", err)
	}
	seen := make(map[int]bool)
	for _, r := range d.Responses {
		if seen[r.MessageID] {
			return reject("message %d answered twice", r.MessageID)
		}
		seen[r.MessageID] = true
		if err := g.checkResponse(social.Player, r); err != nil {
			return reject("message %d: %v", r.MessageID, err)
		}
	}
	if d.Diplomacy != nil {
		if err := g.checkProposal(social.Player, *d.Diplomacy); err != nil {
			return reject("diplomacy: %v", err)
		}
	}
	total := g.cost(resolved)
	if d.Covert != nil {
		if err := g.checkCovert(social.Player, *d.Covert); err != nil {
			return reject("covert: %v", err)
		}
		total += g.CovertCost(d.Covert.Kind)
	}
	if total > f.Wealth {
		return reject("orders cost %s, treasury holds %s", money(total), money(f.Wealth))
	}
	return nil
}

// SubmitPlayer validates and applies the player's orders for this turn.
func (g *Game) SubmitPlayer(d oracle.Decision) error {
	if err := g.ValidatePlayer(d); err != nil {
		return err
	}
	g.ApplyDecision(social.Player, d)
	g.State.PlayerActedTurn = g.State.Turn
	return nil
}

// softestEnemy picks the enemy territory with the least effective defense.
func (g *Game) softestEnemy(id social.FamilyID) string {
	best, bestDef := "", 0
	for _, t := range g.State.Territories {
		if t.Unclaimed() || t.Owner == id {
			continue
		}
		def := t.Muscle + g.DefenseBonus(t, id)
		if best == "" || def < bestDef {
			best, bestDef = t.ID, def
		}
	}
	return best
}

func (g *Game) firstUnclaimed() *world.Territory {
	for _, t := range g.State.Territories {
		if t.Unclaimed() {
			return t
		}
	}
	return nil
}

// cheapestUpgrade returns the owned territory with the lowest upgradable tier.
func (g *Game) cheapestUpgrade(id social.FamilyID) *world.Territory {
	var best *world.Territory
	for _, t := range g.Owned(id) {
		if _, ok := t.Business.Next(); !ok {
			continue
		}
		if best == nil || t.Business < best.Business {
			best = t
		}
	}
	return best
}

// weakest returns the territory with the least muscle, ties broken by id.
func weakest(ts []*world.Territory) *world.Territory {
	var w *world.Territory
	for _, t := range ts {
		if w == nil || t.Muscle < w.Muscle || (t.Muscle == w.Muscle && t.ID < w.ID) {
			w = t
		}
	}
	return w
}

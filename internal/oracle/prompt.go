package oracle

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/allannapier/gangsofclaude-sub000/internal/social"
)

// Context is the bounded view of the game a family decides from.
type Context struct {
	Family      social.FamilyID    `json:"family"`
	Name        string             `json:"name"`
	Personality social.Personality `json:"personality"`
	Turn        int                `json:"turn"`
	Wealth      int                `json:"wealth"`

	Territories []TerritoryView `json:"territories"` // own
	Enemy       []TerritoryView `json:"enemy"`
	Unclaimed   []TerritoryView `json:"unclaimed"`
	Rivals      []RivalView     `json:"rivals"`

	Events    []string          `json:"events"` // newest last
	Diplomacy []string          `json:"diplomacy"`
	Pending   []PendingView     `json:"pending"` // proposals awaiting this family's answer
	Allies    []social.FamilyID `json:"allies"`
	// Blocked lists counterparts that already have a pending or live
	// partnership with this family.
	Blocked []social.FamilyID `json:"blocked"`

	Intel          []IntelView `json:"intel"`
	Fortifications []FortView  `json:"fortifications"`

	Legal []Action `json:"legal"`
	Costs Costs    `json:"costs"`
}

// TerritoryView describes one territory.
type TerritoryView struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Owner    social.FamilyID `json:"owner,omitempty"`
	Muscle   int             `json:"muscle"`
	Business string          `json:"business"`
	Income   int             `json:"income"`
	Defense  int             `json:"defense"`
	// Upgrade is the next tier's price, 0 at the top of the chain.
	Upgrade int `json:"upgrade"`
}

// RivalView summarizes another family.
type RivalView struct {
	ID          social.FamilyID    `json:"id"`
	Name        string             `json:"name"`
	Personality social.Personality `json:"personality"`
	Wealth      int                `json:"wealth"`
	Territories int                `json:"territories"`
	Muscle      int                `json:"muscle"`
	Allied      bool               `json:"allied,omitempty"`
}

// PendingView is a proposal the family may answer.
type PendingView struct {
	MessageID int                `json:"message_id"`
	From      social.FamilyID    `json:"from"`
	Type      social.MessageType `json:"type"`
	Target    social.FamilyID    `json:"target,omitempty"`
	Turn      int                `json:"turn"`
}

// IntelView is an active intel report.
type IntelView struct {
	Target  social.FamilyID `json:"target"`
	Wealth  int             `json:"wealth"`
	Muscle  map[string]int  `json:"muscle"`
	Expires int             `json:"expires"`
}

// FortView is an active fortification.
type FortView struct {
	Territory string `json:"territory"`
	Bonus     int    `json:"bonus"`
	Expires   int    `json:"expires"`
}

// Costs is the price list shown to the family.
type Costs struct {
	Hire     int `json:"hire"`
	Claim    int `json:"claim"`
	Spy      int `json:"spy"`
	Sabotage int `json:"sabotage"`
	Bribe    int `json:"bribe"`
	Fortify  int `json:"fortify"`
	MaxHire  int `json:"max_hire"`
}

// Allows reports whether the action is on the legal menu.
func (c *Context) Allows(a Action) bool { return contains(c.Legal, a) }

func money(n int) string { return "$" + humanize.Comma(int64(n)) }

// RenderPrompt produces the system and user text for one decision request.
func RenderPrompt(c *Context) (system, user string) {
	system = fmt.Sprintf(
		`You are the boss of %s, a %s crime family fighting for control of the city.
It is turn %d. Each turn you choose exactly one action and may add one diplomatic
message and one covert operation.

Respond ONLY with a JSON object:
{"action": one of %s,
 "target": territory id (attack, claim, business) or where to station hires,
 "count": number to hire,
 "muscle": {"own_territory_id": units} committed to an attack,
 "tier": business tier to build (business only),
 "diplomacy": {"type": "partnership"|"coordinate_attack"|"war"|"intel", "to": family id, "target": family id},
 "covert": {"type": "spy"|"sabotage"|"bribe"|"fortify", "target": family id for spy, territory id otherwise},
 "responses": [{"message_id": n, "accept": true|false}],
 "reasoning": "one sentence"}
Omit any field you do not need. Actions not listed are not available this turn.`,
		c.Name, c.Personality, c.Turn, quoteActions(c.Legal))

	var b strings.Builder
	fmt.Fprintf(&b, "Treasury: %s.\n", money(c.Wealth))
	fmt.Fprintf(&b, "Prices: hire %s/unit (max %d), claim %s, spy %s, sabotage %s, bribe %s, fortify %s.\n\n",
		money(c.Costs.Hire), c.Costs.MaxHire, money(c.Costs.Claim),
		money(c.Costs.Spy), money(c.Costs.Sabotage), money(c.Costs.Bribe), money(c.Costs.Fortify))

	b.WriteString("Your territories:\n")
	for _, t := range c.Territories {
		upgrade := "maxed"
		if t.Upgrade > 0 {
			upgrade = "upgrade " + money(t.Upgrade)
		}
		fmt.Fprintf(&b, "- %s (%s): %d muscle, %s, income %s, defense +%d, %s\n",
			t.ID, t.Name, t.Muscle, t.Business, money(t.Income), t.Defense, upgrade)
	}
	for _, f := range c.Fortifications {
		fmt.Fprintf(&b, "- %s fortified +%d until turn %d\n", f.Territory, f.Bonus, f.Expires)
	}

	if len(c.Rivals) > 0 {
		b.WriteString("\nRivals:\n")
		for _, r := range c.Rivals {
			ally := ""
			if r.Allied {
				ally = " [ALLY]"
			}
			fmt.Fprintf(&b, "- %s (%s, %s): %s, %d territories, %d muscle%s\n",
				r.ID, r.Name, r.Personality, money(r.Wealth), r.Territories, r.Muscle, ally)
		}
	}
	if len(c.Enemy) > 0 {
		b.WriteString("\nEnemy territories:\n")
		for _, t := range c.Enemy {
			fmt.Fprintf(&b, "- %s (%s) held by %s: %d muscle, %s, defense +%d\n",
				t.ID, t.Name, t.Owner, t.Muscle, t.Business, t.Defense)
		}
	}
	if len(c.Unclaimed) > 0 {
		b.WriteString("\nUnclaimed territories:\n")
		for _, t := range c.Unclaimed {
			fmt.Fprintf(&b, "- %s (%s)\n", t.ID, t.Name)
		}
	}
	for _, in := range c.Intel {
		fmt.Fprintf(&b, "\nIntel on %s (until turn %d): %s", in.Target, in.Expires, money(in.Wealth))
		for _, id := range sortedKeys(in.Muscle) {
			fmt.Fprintf(&b, ", %s %d", id, in.Muscle[id])
		}
		b.WriteString("\n")
	}
	if len(c.Allies) > 0 {
		fmt.Fprintf(&b, "\nAllies: %s. Attacking an ally is betrayal and costs you.\n", joinIDs(c.Allies))
	}
	if len(c.Blocked) > 0 {
		fmt.Fprintf(&b, "Do not propose partnership again to: %s.\n", joinIDs(c.Blocked))
	}
	if len(c.Pending) > 0 {
		b.WriteString("\nProposals awaiting your answer:\n")
		for _, p := range c.Pending {
			line := fmt.Sprintf("- message %d: %s offers %s", p.MessageID, p.From, p.Type)
			if p.Target != "" {
				line += " against " + string(p.Target)
			}
			b.WriteString(line + "\n")
		}
	}
	if len(c.Diplomacy) > 0 {
		b.WriteString("\nRecent diplomacy:\n")
		for _, l := range c.Diplomacy {
			fmt.Fprintf(&b, "- %s\n", l)
		}
	}
	if len(c.Events) > 0 {
		b.WriteString("\nRecent events:\n")
		for _, l := range c.Events {
			fmt.Fprintf(&b, "- %s\n", l)
		}
	}
	b.WriteString("\nWhat do you do this turn? Respond with a single JSON object.")
	return system, b.String()
}

func quoteActions(as []Action) string {
	q := make([]string, len(as))
	for i, a := range as {
		q[i] = `"` + string(a) + `"`
	}
	return strings.Join(q, "|")
}

func joinIDs(ids []social.FamilyID) string {
	s := make([]string, len(ids))
	for i, id := range ids {
		s[i] = string(id)
	}
	return strings.Join(s, ", ")
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

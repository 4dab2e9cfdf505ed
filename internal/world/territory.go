// Package world defines the city map: territories and the businesses run on them.
package world

import (
	"fmt"
	"strings"

	"github.com/allannapier/gangsofclaude-sub000/internal/social"
)

// BusinessTier is the economic development level of a territory.
// Tiers form a single chain; upgrades and sabotage move one step at a time.
type BusinessTier uint8

const (
	BusinessNone BusinessTier = iota
	BusinessProtection
	BusinessNumbers
	BusinessSpeakeasy
	BusinessBrothel
	BusinessCasino
	BusinessSmuggling
)

// BaseTier is the tier a territory is reset to when it changes hands.
const BaseTier = BusinessProtection

var tierNames = [...]string{"none", "protection", "numbers", "speakeasy", "brothel", "casino", "smuggling"}

// Level is the tier's position on the chain (none = 0).
func (b BusinessTier) Level() int { return int(b) }

// DefenseBonus is the extra defensive strength the business lends its territory.
func (b BusinessTier) DefenseBonus() int { return int(b) }

// Valid reports whether b is a known tier.
func (b BusinessTier) Valid() bool { return int(b) < len(tierNames) }

func (b BusinessTier) String() string {
	if !b.Valid() {
		return fmt.Sprintf("tier(%d)", b)
	}
	return tierNames[b]
}

// Next returns the tier one step up, or false at the top of the chain.
func (b BusinessTier) Next() (BusinessTier, bool) {
	if b >= BusinessSmuggling {
		return b, false
	}
	return b + 1, true
}

// Prev returns the tier one step down. Sabotage never drops below the base tier.
func (b BusinessTier) Prev() (BusinessTier, bool) {
	if b <= BaseTier {
		return b, false
	}
	return b - 1, true
}

// MarshalText encodes the tier by name so save files stay readable.
func (b BusinessTier) MarshalText() ([]byte, error) {
	if !b.Valid() {
		return nil, fmt.Errorf("invalid business tier %d", b)
	}
	return []byte(tierNames[b]), nil
}

// UnmarshalText decodes a tier name.
func (b *BusinessTier) UnmarshalText(text []byte) error {
	t, ok := ParseBusinessTier(string(text))
	if !ok {
		return fmt.Errorf("unknown business tier %q", text)
	}
	*b = t
	return nil
}

// ParseBusinessTier resolves a tier name, case-insensitively.
func ParseBusinessTier(s string) (BusinessTier, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range tierNames {
		if n == s {
			return BusinessTier(i), true
		}
	}
	return BusinessNone, false
}

// Territory is one unit of map control.
type Territory struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Owner    social.FamilyID `json:"owner,omitempty"` // empty when unclaimed
	Muscle   int             `json:"muscle"`
	Business BusinessTier    `json:"business"`
}

// Unclaimed reports whether no family holds the territory.
func (t *Territory) Unclaimed() bool { return t.Owner == "" }

// OwnedBy reports whether the given family holds the territory.
func (t *Territory) OwnedBy(id social.FamilyID) bool { return id != "" && t.Owner == id }

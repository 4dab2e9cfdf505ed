// Package social holds the families and the diplomacy between them.
package social

import (
	"fmt"
	"strings"
)

// FamilyID identifies a family. The set is closed: see Registry.
type FamilyID string

// Actors that are not families but may appear in the event log.
const (
	ActorSystem FamilyID = "system"
)

// The five families of the city. Player is the human-controlled one.
const (
	Player    FamilyID = "player"
	Marinelli FamilyID = "marinelli"
	Rossetti  FamilyID = "rossetti"
	Falcone   FamilyID = "falcone"
	Moretti   FamilyID = "moretti"
)

// Personality frames how a family's decisions are asked of the oracle.
type Personality string

const (
	Aggressive Personality = "aggressive"
	Business   Personality = "business"
	Cunning    Personality = "cunning"
	Defensive  Personality = "defensive"
	Diplomatic Personality = "diplomatic"
)

// Family is one competing faction. Owned territories are never stored here;
// they are always derived from territory ownership.
type Family struct {
	ID          FamilyID    `json:"id"`
	Name        string      `json:"name"`
	Wealth      int         `json:"wealth"`
	Personality Personality `json:"personality"`
	Player      bool        `json:"player,omitempty"`
	// Eliminated is set once the family has lost its last territory.
	Eliminated bool `json:"eliminated,omitempty"`
}

// Profile is a registry entry.
type Profile struct {
	ID          FamilyID
	Name        string
	Personality Personality
	Player      bool
	Blurb       string
}

// Registry lists every family in processing order. The player is first so its
// submitted action lands before the oracle-driven families resolve.
var Registry = []Profile{
	{ID: Player, Name: "Your Family", Personality: Business, Player: true,
		Blurb: "An upstart outfit run by the player."},
	{ID: Marinelli, Name: "The Marinelli Family", Personality: Aggressive,
		Blurb: "Old-country muscle. Answers insults with violence."},
	{ID: Rossetti, Name: "The Rossetti Family", Personality: Business,
		Blurb: "Counts every dollar; prefers rackets to wars."},
	{ID: Falcone, Name: "The Falcone Family", Personality: Cunning,
		Blurb: "Spies, bribes and quiet knives."},
	{ID: Moretti, Name: "The Moretti Family", Personality: Defensive,
		Blurb: "Holds what it has and makes friends carefully."},
}

// IDs returns the registry ids in processing order.
func IDs() []FamilyID {
	out := make([]FamilyID, len(Registry))
	for i, p := range Registry {
		out[i] = p.ID
	}
	return out
}

// Lookup returns the registry entry for id.
func Lookup(id FamilyID) (Profile, bool) {
	for _, p := range Registry {
		if p.ID == id {
			return p, true
		}
	}
	return Profile{}, false
}

// ParseFamilyID resolves loose text ("Rossetti", "the Rossetti family",
// "ROSSETTI") to a registered id.
func ParseFamilyID(s string) (FamilyID, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "the ")
	s = strings.TrimSuffix(s, " family")
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	for _, p := range Registry {
		if string(p.ID) == s || strings.EqualFold(p.Name, s) {
			return p.ID, true
		}
	}
	if s == "you" || s == "your" {
		return Player, true
	}
	return "", false
}

// SeedFamilies creates the starting family records.
func SeedFamilies(startingWealth int) map[FamilyID]*Family {
	out := make(map[FamilyID]*Family, len(Registry))
	for _, p := range Registry {
		out[p.ID] = &Family{
			ID:          p.ID,
			Name:        p.Name,
			Wealth:      startingWealth,
			Personality: p.Personality,
			Player:      p.Player,
		}
	}
	return out
}

func (f *Family) String() string {
	return fmt.Sprintf("%s(%s)", f.Name, f.ID)
}

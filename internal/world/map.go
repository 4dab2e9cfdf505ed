package world

import (
	"fmt"
	"sort"

	"github.com/allannapier/gangsofclaude-sub000/internal/social"
)

// neighborhoods is the fixed city roster, in map order.
var neighborhoods = []struct{ id, name string }{
	{"little_italy", "Little Italy"},
	{"the_docks", "The Docks"},
	{"five_points", "Five Points"},
	{"hells_kitchen", "Hell's Kitchen"},
	{"the_bowery", "The Bowery"},
	{"chinatown", "Chinatown"},
	{"tenderloin", "The Tenderloin"},
	{"gramercy", "Gramercy"},
	{"brooklyn_heights", "Brooklyn Heights"},
	{"red_hook", "Red Hook"},
	{"coney_island", "Coney Island"},
	{"harlem", "Harlem"},
	{"the_bronx", "The Bronx"},
	{"astoria", "Astoria"},
	{"williamsburg", "Williamsburg"},
	{"financial_district", "Financial District"},
	{"garment_district", "Garment District"},
	{"meatpacking", "Meatpacking District"},
	{"staten_island", "Staten Island"},
	{"greenwich_village", "Greenwich Village"},
}

// TerritoriesPerFamily is how many neighborhoods each family starts with.
const TerritoriesPerFamily = 2

// SeedCity builds the starting map. Families take neighborhoods in roster
// order, TerritoriesPerFamily each, with the base business and the given
// muscle. Everything left over starts unclaimed and empty.
func SeedCity(families []social.FamilyID, startingMuscle int) ([]*Territory, error) {
	if len(families)*TerritoriesPerFamily > len(neighborhoods) {
		return nil, fmt.Errorf("city has %d neighborhoods, need %d", len(neighborhoods), len(families)*TerritoriesPerFamily)
	}
	out := make([]*Territory, 0, len(neighborhoods))
	for _, n := range neighborhoods {
		out = append(out, &Territory{ID: n.id, Name: n.name})
	}
	for i, fid := range families {
		for j := 0; j < TerritoriesPerFamily; j++ {
			t := out[i*TerritoriesPerFamily+j]
			t.Owner = fid
			t.Muscle = startingMuscle
			t.Business = BaseTier
		}
	}
	return out, nil
}

// Find returns the territory with the given id, or nil.
func Find(ts []*Territory, id string) *Territory {
	for _, t := range ts {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// OwnedBy returns the territories a family holds, in map order.
func OwnedBy(ts []*Territory, id social.FamilyID) []*Territory {
	var out []*Territory
	for _, t := range ts {
		if t.OwnedBy(id) {
			out = append(out, t)
		}
	}
	return out
}

// TotalMuscle sums stationed muscle.
func TotalMuscle(ts []*Territory) int {
	n := 0
	for _, t := range ts {
		n += t.Muscle
	}
	return n
}

// ByMuscle sorts strongest first; ties break on id so the order is stable
// across runs.
func ByMuscle(ts []*Territory) {
	sort.SliceStable(ts, func(i, j int) bool {
		if ts[i].Muscle != ts[j].Muscle {
			return ts[i].Muscle > ts[j].Muscle
		}
		return ts[i].ID < ts[j].ID
	})
}

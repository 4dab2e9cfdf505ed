// Package economy provides the income, upkeep and desertion arithmetic that
// settles each family's books at the end of a turn.
package economy

import (
	"math"

	"github.com/allannapier/gangsofclaude-sub000/internal/world"
)

// Curve is the fixed economic rule set.
type Curve struct {
	Base            int     // income of a tier-1 business
	Growth          float64 // multiplier per tier above 1
	UpkeepPerMuscle int
}

// TerritoryIncome returns floor(Base × Growth^(level−1)) for a business tier,
// and 0 for an empty territory.
func (c Curve) TerritoryIncome(tier world.BusinessTier) int {
	if tier.Level() < 1 {
		return 0
	}
	return int(math.Floor(float64(c.Base) * math.Pow(c.Growth, float64(tier.Level()-1))))
}

// Income sums business income over the given territories.
func (c Curve) Income(ts []*world.Territory) int {
	total := 0
	for _, t := range ts {
		total += c.TerritoryIncome(t.Business)
	}
	return total
}

// Upkeep is the per-turn cost of keeping the stationed muscle on payroll.
func (c Curve) Upkeep(ts []*world.Territory) int {
	return world.TotalMuscle(ts) * c.UpkeepPerMuscle
}

// Desert walks muscle off the payroll until wealth is no longer negative.
// One unit leaves at a time from whichever territory currently holds the
// most, each refunding its upkeep. Returns the final wealth (never negative)
// and how many units deserted.
func (c Curve) Desert(wealth int, ts []*world.Territory) (int, int) {
	deserted := 0
	pool := make([]*world.Territory, len(ts))
	copy(pool, ts)
	for wealth < 0 {
		world.ByMuscle(pool)
		if len(pool) == 0 || pool[0].Muscle <= 0 {
			break
		}
		pool[0].Muscle--
		wealth += c.UpkeepPerMuscle
		deserted++
	}
	if wealth < 0 {
		wealth = 0
	}
	return wealth, deserted
}

// UpgradeCost is the price of moving a business up to tier next.
func UpgradeCost(next world.BusinessTier, perLevel int) int {
	return next.Level() * perLevel
}

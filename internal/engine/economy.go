package engine

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/allannapier/gangsofclaude-sub000/internal/social"
)

// EconomyReport is one family's end-of-turn settlement.
type EconomyReport struct {
	Family    social.FamilyID `json:"family"`
	Income    int             `json:"income"`
	Upkeep    int             `json:"upkeep"`
	Deserted  int             `json:"deserted"`
	NetWealth int             `json:"net_wealth"`
}

// ProcessFamilyEconomy settles income and upkeep for one family. It runs once
// per family per turn, after every action of the turn has resolved.
func (g *Game) ProcessFamilyEconomy(id social.FamilyID) (EconomyReport, error) {
	f := g.Family(id)
	if f == nil {
		return EconomyReport{}, ErrUnknownFamily
	}
	owned := g.Owned(id)
	rep := EconomyReport{
		Family: id,
		Income: g.curve.Income(owned),
		Upkeep: g.curve.Upkeep(owned),
	}
	f.Wealth, rep.Deserted = g.curve.Desert(f.Wealth+rep.Income-rep.Upkeep, owned)
	rep.NetWealth = f.Wealth

	g.log(id, EventIncome, "",
		fmt.Sprintf("%s collected %s and paid %s upkeep", f.Name, money(rep.Income), money(rep.Upkeep)),
		"treasury "+money(f.Wealth))
	if rep.Deserted > 0 {
		g.log(id, EventDesertion, "",
			fmt.Sprintf("%d unpaid muscle walked off the payroll of %s", rep.Deserted, f.Name), "")
	}
	return rep, nil
}

func money(n int) string { return "$" + humanize.Comma(int64(n)) }

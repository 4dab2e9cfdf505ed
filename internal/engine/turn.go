package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/allannapier/gangsofclaude-sub000/internal/oracle"
	"github.com/allannapier/gangsofclaude-sub000/internal/social"
)

// Requester resolves a decision request, retries included.
type Requester interface {
	Request(ctx context.Context, req *oracle.Request) oracle.Result
}

// FamilyStatus reports a family's progress through the turn.
type FamilyStatus struct {
	Family social.FamilyID `json:"family"`
	Turn   int             `json:"turn"`
	Stage  string          `json:"stage"` // requesting, applying, done
	Action oracle.Action   `json:"action,omitempty"`
	// Defaulted is set when the family was forced to wait.
	Defaulted bool   `json:"defaulted,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// TurnReport summarizes a committed turn.
type TurnReport struct {
	Turn      int                               `json:"turn"`
	Actions   map[social.FamilyID]oracle.Action `json:"actions"`
	Economy   []EconomyReport                   `json:"economy"`
	Defaulted []social.FamilyID                 `json:"defaulted,omitempty"`
	Winner    social.FamilyID                   `json:"winner,omitempty"`
	Requests  map[social.FamilyID]oracle.Result `json:"-"`
}

// Orchestrator sequences one turn: every living oracle-driven family in
// registry order, one request at a time, then economy, elimination and the
// win check.
type Orchestrator struct {
	Requests Requester
	// OnStatus receives family progress. Must not block.
	OnStatus func(FamilyStatus)
}

// RunTurn plays the oracle families' turn on g and commits it. On error the
// game may be partially advanced; callers run it on a clone.
func (o *Orchestrator) RunTurn(ctx context.Context, g *Game) (*TurnReport, error) {
	if g.State.Phase != PhasePlaying {
		return nil, ErrGameOver
	}
	turn := g.State.Turn
	rep := &TurnReport{
		Turn:     turn,
		Actions:  make(map[social.FamilyID]oracle.Action),
		Requests: make(map[social.FamilyID]oracle.Result),
	}

	for _, id := range g.Living() {
		f := g.Family(id)
		if f.Player {
			continue
		}
		o.status(FamilyStatus{Family: id, Turn: turn, Stage: "requesting"})
		c := g.BuildDecisionContext(id)
		res := o.Requests.Request(ctx, &oracle.Request{Family: id, Turn: turn, Context: c})
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("turn %d interrupted at %s: %w", turn, id, err)
		}
		rep.Requests[id] = res

		var d oracle.Decision
		switch {
		case res.Exhausted:
			d = oracle.Wait(fmt.Sprintf("oracle unavailable after %d attempts", res.Attempts))
		case res.Err != nil:
			d = oracle.Wait("oracle error: " + res.Err.Error())
		default:
			d = oracle.ParseDecision(res.Raw, c.Legal)
		}
		if d.Fallback {
			rep.Defaulted = append(rep.Defaulted, id)
		}

		o.status(FamilyStatus{Family: id, Turn: turn, Stage: "applying", Action: d.Action})
		action := g.ApplyDecision(id, d)
		rep.Actions[id] = action
		st := FamilyStatus{Family: id, Turn: turn, Stage: "done", Action: action, Defaulted: d.Fallback}
		if d.Fallback && len(d.Notes) > 0 {
			st.Reason = d.Notes[0]
		}
		o.status(st)
		slog.Info("family resolved", "turn", turn, "family", id, "action", action, "fallback", d.Fallback)
	}

	g.settle(rep)
	return rep, nil
}

// settle runs the economy for every living family, records eliminations and
// either ends the game or advances the turn.
func (g *Game) settle(rep *TurnReport) {
	for _, id := range g.Living() {
		r, err := g.ProcessFamilyEconomy(id)
		if err == nil {
			rep.Economy = append(rep.Economy, r)
		}
	}

	var holders []social.FamilyID
	for _, id := range g.Living() {
		if len(g.Owned(id)) == 0 {
			f := g.Family(id)
			f.Eliminated = true
			g.log(id, EventElimination, "", f.Name+" has lost its last territory", "eliminated")
			continue
		}
		holders = append(holders, id)
	}

	if len(holders) <= 1 {
		g.State.Phase = PhaseEnded
		if len(holders) == 1 {
			g.State.Winner = holders[0]
			rep.Winner = holders[0]
			g.log(holders[0], EventVictory, "", g.Family(holders[0]).Name+" controls the city", "victory")
		}
		slog.Info("game over", "turn", g.State.Turn, "winner", g.State.Winner)
		return
	}
	g.State.Turn++
}

func (o *Orchestrator) status(s FamilyStatus) {
	if o.OnStatus != nil {
		o.OnStatus(s)
	}
}

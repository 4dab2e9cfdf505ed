package engine

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/allannapier/gangsofclaude-sub000/internal/oracle"
	"github.com/allannapier/gangsofclaude-sub000/internal/social"
	"github.com/allannapier/gangsofclaude-sub000/internal/world"
)

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(b)
}

func TestSubmitPlayerRejectsInvalid(t *testing.T) {
	spy := &oracle.CovertOp{Kind: oracle.CovertSpy, Target: "marinelli"}
	tests := []struct {
		name  string
		d     oracle.Decision
		setup func(g *Game)
	}{
		{
			name: "more muscle than stationed",
			d: oracle.Decision{Action: oracle.ActionAttack, Target: "five_points",
				Allocation: []oracle.Allocation{{From: "little_italy", Muscle: 5}}},
		},
		{
			name: "allocation from enemy ground",
			d: oracle.Decision{Action: oracle.ActionAttack, Target: "five_points",
				Allocation: []oracle.Allocation{{From: "hells_kitchen", Muscle: 1}}},
		},
		{name: "attack own territory", d: oracle.Decision{Action: oracle.ActionAttack, Target: "the_docks"}},
		{name: "attack without target", d: oracle.Decision{Action: oracle.ActionAttack}},
		{name: "claim held territory", d: oracle.Decision{Action: oracle.ActionClaim, Target: "five_points"}},
		{name: "hire over cap", d: oracle.Decision{Action: oracle.ActionHire, Count: 6}},
		{
			name: "business skips a tier",
			d:    oracle.Decision{Action: oracle.ActionBusiness, Target: "little_italy", Tier: world.BusinessCasino},
		},
		{name: "empty message", d: oracle.Decision{Action: oracle.ActionMessage, Message: "  "}},
		{
			name: "orders cost more than the treasury",
			d:    oracle.Decision{Action: oracle.ActionHire, Count: 5, Covert: spy},
			setup: func(g *Game) {
				g.Family(social.Player).Wealth = 280
			},
		},
		{
			name: "answers a message twice",
			d: oracle.Decision{Action: oracle.ActionWait, Responses: []oracle.Response{
				{MessageID: 1, Accept: true}, {MessageID: 1, Accept: false},
			}},
			setup: func(g *Game) {
				if _, err := g.Propose(social.Rossetti, partnership(social.Player)); err != nil {
					panic(err)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGame(t)
			if tt.setup != nil {
				tt.setup(g)
			}
			before := mustJSON(t, g.State)

			err := g.SubmitPlayer(tt.d)
			var rej *RejectError
			if !errors.As(err, &rej) {
				t.Fatalf("err = %v, want *RejectError", err)
			}
			if rej.Reason == "" {
				t.Error("rejection has no reason")
			}
			if after := mustJSON(t, g.State); after != before {
				t.Error("rejected submission changed state")
			}
		})
	}
}

func TestSubmitPlayerOncePerTurn(t *testing.T) {
	g := newTestGame(t)
	if err := g.SubmitPlayer(oracle.Decision{Action: oracle.ActionWait}); err != nil {
		t.Fatalf("first submission: %v", err)
	}
	err := g.SubmitPlayer(oracle.Decision{Action: oracle.ActionWait})
	if !errors.Is(err, ErrAlreadyActed) {
		t.Fatalf("err = %v, want ErrAlreadyActed", err)
	}
	g.State.Turn++
	if err := g.SubmitPlayer(oracle.Decision{Action: oracle.ActionWait}); err != nil {
		t.Errorf("next turn: %v", err)
	}
}

func TestSubmitPlayerFullOrders(t *testing.T) {
	g := newTestGame(t)
	if _, err := g.Propose(social.Rossetti, partnership(social.Player)); err != nil {
		t.Fatalf("Propose: %v", err)
	}
	d := oracle.Decision{
		Action:    oracle.ActionHire,
		Count:     2,
		Target:    "the_docks",
		Diplomacy: &oracle.Proposal{Type: social.War, To: social.Marinelli},
		Covert:    &oracle.CovertOp{Kind: oracle.CovertFortify, Target: "the_docks"},
		Responses: []oracle.Response{{MessageID: 1, Accept: true}},
	}
	if err := g.SubmitPlayer(d); err != nil {
		t.Fatalf("SubmitPlayer: %v", err)
	}
	if got := g.Territory("the_docks").Muscle; got != 5 {
		t.Errorf("the_docks = %d, want 5", got)
	}
	if w := g.Family(social.Player).Wealth; w != 1000-100-60 {
		t.Errorf("wealth = %d", w)
	}
	if !g.Allied(social.Player, social.Rossetti) {
		t.Error("accepted partnership did not make an alliance")
	}
	if g.State.PlayerActedTurn != 1 {
		t.Errorf("PlayerActedTurn = %d", g.State.PlayerActedTurn)
	}
	var order []string
	for _, e := range g.State.Events {
		if e.Actor == social.Player {
			order = append(order, e.Action)
		}
	}
	want := []string{EventResponse, EventDiplomacy, EventHire, EventCovert}
	if len(order) != len(want) {
		t.Fatalf("player events = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("player events = %v, want %v", order, want)
		}
	}
}

func TestApplyDecisionClampsOracleOrders(t *testing.T) {
	g := newTestGame(t)
	g.Territory("five_points").Muscle = 1

	got := g.ApplyDecision(social.Marinelli, oracle.Decision{Action: oracle.ActionHire, Count: 99})
	if got != oracle.ActionHire {
		t.Fatalf("action = %s", got)
	}
	if m := g.Territory("five_points").Muscle; m != 1+testRules().MaxHire {
		t.Errorf("weakest holding got %d muscle, want %d", m, 1+testRules().MaxHire)
	}
	if w := g.Family(social.Marinelli).Wealth; w != 1000-testRules().MaxHire*testRules().HireCost {
		t.Errorf("wealth = %d", w)
	}
}

func TestApplyDecisionFallsBackToWait(t *testing.T) {
	g := newTestGame(t)
	events := len(g.State.Events)

	got := g.ApplyDecision(social.Marinelli, oracle.Decision{Action: oracle.ActionAttack, Target: "hells_kitchen"})
	if got != oracle.ActionWait {
		t.Fatalf("action = %s, want wait", got)
	}
	fresh := g.State.EventsSince(events)
	if len(fresh) != 2 || fresh[0].Action != EventFallback || fresh[1].Action != EventWait {
		t.Errorf("events = %+v, want fallback then wait", fresh)
	}
}

func TestApplyDecisionFallbackNotes(t *testing.T) {
	g := newTestGame(t)
	d := oracle.ParseDecision("I think we should lie low.", g.LegalActions(social.Moretti))
	if got := g.ApplyDecision(social.Moretti, d); got != oracle.ActionWait {
		t.Fatalf("action = %s", got)
	}
	var fallback bool
	for _, e := range g.State.Events {
		if e.Actor == social.Moretti && e.Action == EventFallback {
			fallback = true
		}
	}
	if !fallback {
		t.Error("unreadable reply was not logged as a fallback")
	}
}

func TestOracleFamilyCannotMessage(t *testing.T) {
	g := newTestGame(t)
	got := g.ApplyDecision(social.Falcone, oracle.Decision{Action: oracle.ActionMessage, Message: "hello"})
	if got != oracle.ActionWait {
		t.Errorf("action = %s, want wait", got)
	}
}

func TestClaim(t *testing.T) {
	g := newTestGame(t)
	if err := g.SubmitPlayer(oracle.Decision{Action: oracle.ActionClaim, Target: "coney_island"}); err != nil {
		t.Fatalf("SubmitPlayer: %v", err)
	}
	ci := g.Territory("coney_island")
	if ci.Owner != social.Player || ci.Business != world.BaseTier || ci.Muscle != 1 {
		t.Errorf("coney_island = %+v", ci)
	}
	if got := g.Territory("little_italy").Muscle; got != 2 {
		t.Errorf("little_italy = %d, want 2", got)
	}
	if w := g.Family(social.Player).Wealth; w != 950 {
		t.Errorf("wealth = %d, want 950", w)
	}
}

func TestBusinessUpgrade(t *testing.T) {
	g := newTestGame(t)
	if err := g.SubmitPlayer(oracle.Decision{Action: oracle.ActionBusiness, Target: "little_italy"}); err != nil {
		t.Fatalf("SubmitPlayer: %v", err)
	}
	if got := g.Territory("little_italy").Business; got != world.BusinessNumbers {
		t.Errorf("tier = %s, want numbers", got)
	}
	if w := g.Family(social.Player).Wealth; w != 800 {
		t.Errorf("wealth = %d, want 800", w)
	}
}

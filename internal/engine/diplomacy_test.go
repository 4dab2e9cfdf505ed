package engine

import (
	"errors"
	"testing"

	"github.com/allannapier/gangsofclaude-sub000/internal/oracle"
	"github.com/allannapier/gangsofclaude-sub000/internal/social"
)

func partnership(to social.FamilyID) oracle.Proposal {
	return oracle.Proposal{Type: social.Partnership, To: to}
}

func TestProposeNoDuplicate(t *testing.T) {
	g := newTestGame(t)
	m, err := g.Propose(social.Player, partnership(social.Marinelli))
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if m.ID != 1 || m.Status != social.Pending {
		t.Fatalf("message = %+v", m)
	}

	g.State.Turn++
	events := len(g.State.Events)
	for _, tc := range []struct {
		from social.FamilyID
		p    oracle.Proposal
	}{
		{social.Player, partnership(social.Marinelli)},
		{social.Marinelli, partnership(social.Player)},
	} {
		if _, err := g.Propose(tc.from, tc.p); !errors.Is(err, ErrDuplicateProposal) {
			t.Errorf("%s -> %s: err = %v, want duplicate", tc.from, tc.p.To, err)
		}
	}
	if len(g.State.Messages) != 1 || len(g.State.Events) != events {
		t.Fatalf("duplicate left a trace: %d messages, %d new events", len(g.State.Messages), len(g.State.Events)-events)
	}

	// A target on a partnership does not make it a different proposal.
	targeted := partnership(social.Marinelli)
	targeted.Target = social.Falcone
	if _, err := g.Propose(social.Player, targeted); !errors.Is(err, ErrDuplicateProposal) {
		t.Errorf("targeted partnership: err = %v, want duplicate", err)
	}
	if len(g.State.Messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(g.State.Messages))
	}

	if err := g.Respond(social.Marinelli, oracle.Response{MessageID: 1, Accept: true}); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	g.State.Turn++
	for _, p := range []oracle.Proposal{partnership(social.Marinelli), targeted} {
		if _, err := g.Propose(social.Player, p); !errors.Is(err, ErrDuplicateProposal) {
			t.Errorf("proposal to an ally (target %q): err = %v, want duplicate", p.Target, err)
		}
	}
}

func TestProposeDropsUnusedTarget(t *testing.T) {
	g := newTestGame(t)
	p := partnership(social.Marinelli)
	p.Target = social.Falcone
	m, err := g.Propose(social.Player, p)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if m.Target != "" {
		t.Errorf("partnership kept target %q", m.Target)
	}
}

func TestProposeOncePerTurn(t *testing.T) {
	g := newTestGame(t)
	if _, err := g.Propose(social.Player, partnership(social.Marinelli)); err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if _, err := g.Propose(social.Player, partnership(social.Rossetti)); !errors.Is(err, ErrProposalSpent) {
		t.Errorf("err = %v, want ErrProposalSpent", err)
	}
}

func TestRejectedProposalMayReturnLater(t *testing.T) {
	g := newTestGame(t)
	if _, err := g.Propose(social.Player, partnership(social.Moretti)); err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if err := g.Respond(social.Moretti, oracle.Response{MessageID: 1, Accept: false}); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if _, err := g.Propose(social.Player, partnership(social.Moretti)); !errors.Is(err, ErrProposalSpent) {
		t.Errorf("same turn: err = %v, want ErrProposalSpent", err)
	}
	g.State.Turn++
	if _, err := g.Propose(social.Player, partnership(social.Moretti)); err != nil {
		t.Errorf("later turn: %v", err)
	}
}

func TestAllianceDerivation(t *testing.T) {
	g := newTestGame(t)
	if _, err := g.Propose(social.Falcone, partnership(social.Moretti)); err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if g.Allied(social.Falcone, social.Moretti) {
		t.Fatal("pending proposal is not an alliance")
	}
	if err := g.Respond(social.Moretti, oracle.Response{MessageID: 1, Accept: true}); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	for turn := 2; turn < 6; turn++ {
		g.State.Turn = turn
		if !g.Allied(social.Moretti, social.Falcone) {
			t.Fatalf("alliance lapsed at turn %d", turn)
		}
	}
	if _, err := g.Propose(social.Moretti, oracle.Proposal{Type: social.War, To: social.Falcone}); err != nil {
		t.Fatalf("war: %v", err)
	}
	for turn := 5; turn < 8; turn++ {
		g.State.Turn = turn
		if g.Allied(social.Falcone, social.Moretti) {
			t.Fatalf("still allied at turn %d after war", turn)
		}
	}
	if got := g.Allies(social.Falcone); len(got) != 0 {
		t.Errorf("allies = %v", got)
	}
}

func TestRespondErrors(t *testing.T) {
	g := newTestGame(t)
	if _, err := g.Propose(social.Player, partnership(social.Marinelli)); err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if err := g.Respond(social.Rossetti, oracle.Response{MessageID: 1, Accept: true}); !errors.Is(err, ErrNotRecipient) {
		t.Errorf("wrong recipient: %v", err)
	}
	if err := g.Respond(social.Marinelli, oracle.Response{MessageID: 9}); !errors.Is(err, ErrUnknownMessage) {
		t.Errorf("unknown id: %v", err)
	}
	if err := g.Respond(social.Marinelli, oracle.Response{MessageID: 1}); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if err := g.Respond(social.Marinelli, oracle.Response{MessageID: 1, Accept: true}); !errors.Is(err, ErrNotPending) {
		t.Errorf("second answer: %v", err)
	}
	if m := g.State.Messages[0]; m.Status != social.Rejected || m.RespondedTurn != 1 {
		t.Errorf("message = %+v", m)
	}
}

func TestProposeValidation(t *testing.T) {
	tests := []struct {
		name string
		p    oracle.Proposal
	}{
		{"self", partnership(social.Player)},
		{"unknown family", partnership("capone")},
		{"unknown type", oracle.Proposal{Type: "truce", To: social.Marinelli}},
		{"coordinate without target", oracle.Proposal{Type: social.CoordinateAttack, To: social.Marinelli}},
		{"target is recipient", oracle.Proposal{Type: social.CoordinateAttack, To: social.Marinelli, Target: social.Marinelli}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGame(t)
			if _, err := g.Propose(social.Player, tt.p); err == nil {
				t.Fatal("expected error")
			}
			if len(g.State.Messages) != 0 {
				t.Error("rejected proposal was recorded")
			}
		})
	}

	g := newTestGame(t)
	g.Family(social.Marinelli).Eliminated = true
	if _, err := g.Propose(social.Player, partnership(social.Marinelli)); !errors.Is(err, ErrEliminated) {
		t.Errorf("eliminated recipient: %v", err)
	}
}

func TestIntelSharing(t *testing.T) {
	g := newTestGame(t)
	if err := g.Covert(social.Player, oracle.CovertOp{Kind: oracle.CovertSpy, Target: "falcone"}); err != nil {
		t.Fatalf("Covert: %v", err)
	}
	m, err := g.Propose(social.Player, oracle.Proposal{Type: social.Intel, To: social.Moretti})
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if m.Status != social.Accepted {
		t.Errorf("intel status = %s, want accepted", m.Status)
	}
	c := g.BuildDecisionContext(social.Moretti)
	if len(c.Intel) != 1 || c.Intel[0].Target != social.Falcone {
		t.Fatalf("moretti intel = %+v", c.Intel)
	}
	// The copy is independent of the original.
	c.Intel[0].Muscle["tenderloin"] = 99
	if got := g.BuildDecisionContext(social.Player).Intel[0].Muscle["tenderloin"]; got != 3 {
		t.Errorf("original report changed: %d", got)
	}
}

func TestApplyDecisionIgnoresDuplicateProposal(t *testing.T) {
	g := newTestGame(t)
	if _, err := g.Propose(social.Rossetti, partnership(social.Falcone)); err != nil {
		t.Fatalf("Propose: %v", err)
	}
	g.State.Turn++
	events := len(g.State.Events)

	p := partnership(social.Falcone)
	got := g.ApplyDecision(social.Rossetti, oracle.Decision{Action: oracle.ActionWait, Diplomacy: &p})
	if got != oracle.ActionWait {
		t.Errorf("action = %s", got)
	}
	if len(g.State.Messages) != 1 {
		t.Errorf("messages = %d, want 1", len(g.State.Messages))
	}
	for _, e := range g.State.Events[events:] {
		if e.Action != EventWait {
			t.Errorf("unexpected event %+v", e)
		}
	}
}

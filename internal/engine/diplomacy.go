package engine

import (
	"errors"
	"fmt"

	"github.com/allannapier/gangsofclaude-sub000/internal/oracle"
	"github.com/allannapier/gangsofclaude-sub000/internal/social"
)

var (
	ErrDuplicateProposal = errors.New("equivalent proposal already pending or accepted")
	ErrProposalSpent     = errors.New("already sent a diplomatic message this turn")
	ErrUnknownMessage    = errors.New("unknown message")
	ErrNotRecipient      = errors.New("only the recipient may respond")
	ErrNotPending        = errors.New("message is no longer pending")
)

// checkProposal validates a proposal without touching state.
func (g *Game) checkProposal(from social.FamilyID, p oracle.Proposal) error {
	if _, ok := social.ParseMessageType(string(p.Type)); !ok {
		return fmt.Errorf("unknown message type %q", p.Type)
	}
	p = normalize(p)
	to := g.Family(p.To)
	if to == nil {
		return fmt.Errorf("%w: %q", ErrUnknownFamily, p.To)
	}
	if p.To == from {
		return fmt.Errorf("cannot send %s to yourself", p.Type)
	}
	if to.Eliminated {
		return fmt.Errorf("%s: %w", p.To, ErrEliminated)
	}
	if p.Target != "" {
		if g.Family(p.Target) == nil {
			return fmt.Errorf("%w: %q", ErrUnknownFamily, p.Target)
		}
		if p.Target == from || p.Target == p.To {
			return fmt.Errorf("target must be a third family")
		}
	}
	if p.Type == social.CoordinateAttack && p.Target == "" {
		return fmt.Errorf("coordinate_attack needs a target family")
	}
	for _, m := range g.State.Messages {
		if m.From == from && m.Turn == g.State.Turn {
			return ErrProposalSpent
		}
	}
	if social.Duplicate(g.State.Messages, from, p.To, p.Type, p.Target) {
		return ErrDuplicateProposal
	}
	return nil
}

// normalize drops a target the message type does not use.
func normalize(p oracle.Proposal) oracle.Proposal {
	if !p.Type.TakesTarget() {
		p.Target = ""
	}
	return p
}

// Propose records a diplomatic message from a family. War and intel are
// informational and stored as accepted; partnership and coordinate_attack
// wait for the recipient. A rejected proposal leaves no record and no event.
func (g *Game) Propose(from social.FamilyID, p oracle.Proposal) (*social.Message, error) {
	if err := g.checkProposal(from, p); err != nil {
		return nil, err
	}
	p = normalize(p)
	turn := g.State.Turn
	msg := social.Message{
		ID:     len(g.State.Messages) + 1,
		From:   from,
		To:     p.To,
		Type:   p.Type,
		Target: p.Target,
		Turn:   turn,
		Status: social.Pending,
	}
	if !p.Type.NeedsResponse() {
		msg.Status = social.Accepted
		msg.RespondedTurn = turn
		msg.Seq = social.NextSeq(g.State.Messages)
	}
	g.State.Messages = append(g.State.Messages, msg)

	outcome := string(msg.Status)
	if p.Type == social.Intel {
		shared := g.shareIntel(from, p.To, p.Target)
		outcome = fmt.Sprintf("%d reports shared", shared)
	}
	g.log(from, EventDiplomacy, string(p.To), msg.String(), outcome)
	return &g.State.Messages[len(g.State.Messages)-1], nil
}

// shareIntel copies the sender's active intel reports (on target, or all of
// them when target is empty) to the recipient.
func (g *Game) shareIntel(from, to, target social.FamilyID) int {
	turn := g.State.Turn
	var copies []CovertEffect
	for _, e := range g.State.Effects {
		if e.Kind != EffectIntel || e.Owner != from || !e.Active(turn) {
			continue
		}
		if target != "" && e.Target != string(target) {
			continue
		}
		if e.Target == string(to) {
			continue
		}
		cp := e
		cp.Owner = to
		cp.Created = turn
		cp.Muscle = make(map[string]int, len(e.Muscle))
		for k, v := range e.Muscle {
			cp.Muscle[k] = v
		}
		copies = append(copies, cp)
	}
	g.State.Effects = append(g.State.Effects, copies...)
	return len(copies)
}

// checkResponse validates a response without touching state.
func (g *Game) checkResponse(by social.FamilyID, r oracle.Response) error {
	if r.MessageID < 1 || r.MessageID > len(g.State.Messages) {
		return fmt.Errorf("%w: %d", ErrUnknownMessage, r.MessageID)
	}
	m := &g.State.Messages[r.MessageID-1]
	if m.To != by {
		return ErrNotRecipient
	}
	if m.Status != social.Pending {
		return ErrNotPending
	}
	return nil
}

// Respond accepts or rejects a pending proposal addressed to by.
func (g *Game) Respond(by social.FamilyID, r oracle.Response) error {
	if err := g.checkResponse(by, r); err != nil {
		return err
	}
	m := &g.State.Messages[r.MessageID-1]
	m.Status = social.Rejected
	if r.Accept {
		m.Status = social.Accepted
	}
	m.RespondedTurn = g.State.Turn
	m.Seq = social.NextSeq(g.State.Messages)
	g.log(by, EventResponse, string(m.From), m.String(), string(m.Status))
	return nil
}

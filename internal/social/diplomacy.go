package social

import "fmt"

// MessageType is the kind of diplomatic message.
type MessageType string

const (
	Partnership      MessageType = "partnership"
	CoordinateAttack MessageType = "coordinate_attack"
	War              MessageType = "war"
	Intel            MessageType = "intel"
)

// ParseMessageType validates a message type name.
func ParseMessageType(s string) (MessageType, bool) {
	switch t := MessageType(s); t {
	case Partnership, CoordinateAttack, War, Intel:
		return t, true
	}
	return "", false
}

// TakesTarget reports whether messages of this type name a third family.
func (t MessageType) TakesTarget() bool {
	return t == CoordinateAttack || t == Intel
}

// NeedsResponse reports whether the recipient must accept or reject.
// War and intel are informational and recorded as accepted on arrival.
func (t MessageType) NeedsResponse() bool {
	return t == Partnership || t == CoordinateAttack
}

// MessageStatus tracks a message through pending → accepted | rejected.
type MessageStatus string

const (
	Pending  MessageStatus = "pending"
	Accepted MessageStatus = "accepted"
	Rejected MessageStatus = "rejected"
)

// Message is one diplomatic record. Only Status and RespondedTurn ever change,
// and only while the message is pending.
type Message struct {
	ID            int           `json:"id"`
	From          FamilyID      `json:"from"`
	To            FamilyID      `json:"to"`
	Type          MessageType   `json:"type"`
	Target        FamilyID      `json:"target,omitempty"`
	Turn          int           `json:"turn"`
	Status        MessageStatus `json:"status"`
	RespondedTurn int           `json:"responded_turn,omitempty"`
	// Seq orders messages by when they took effect: on creation for war and
	// intel, on the response for proposals.
	Seq int `json:"seq,omitempty"`
}

// Between reports whether the message connects a and b in either direction.
func (m *Message) Between(a, b FamilyID) bool {
	return (m.From == a && m.To == b) || (m.From == b && m.To == a)
}

func (m *Message) String() string {
	s := fmt.Sprintf("#%d %s %s→%s", m.ID, m.Type, m.From, m.To)
	if m.Target != "" {
		s += " vs " + string(m.Target)
	}
	return s + " (" + string(m.Status) + ")"
}

// lastWar returns the most recent war declared between a and b, or nil.
func lastWar(msgs []Message, a, b FamilyID) *Message {
	var last *Message
	for i := range msgs {
		m := &msgs[i]
		if m.Type == War && m.Between(a, b) && (last == nil || m.after(last)) {
			last = m
		}
	}
	return last
}

// after reports whether m took effect later than o. Within a turn the
// sequence number decides.
func (m *Message) after(o *Message) bool {
	if m.RespondedTurn != o.RespondedTurn {
		return m.RespondedTurn > o.RespondedTurn
	}
	return m.Seq > o.Seq
}

// brokenBy reports whether a war between the pair was declared after the
// accepted partnership p took effect.
func brokenBy(msgs []Message, p *Message) bool {
	w := lastWar(msgs, p.From, p.To)
	return w != nil && w.after(p)
}

// NextSeq is the sequence number for the next message to take effect.
func NextSeq(msgs []Message) int {
	n := 0
	for _, m := range msgs {
		n = max(n, m.Seq)
	}
	return n + 1
}

// Allied reports whether a and b currently hold an alliance: an accepted
// partnership with no war declared by either side since it took effect.
func Allied(msgs []Message, a, b FamilyID) bool {
	if a == b {
		return false
	}
	var latest *Message
	for i := range msgs {
		m := &msgs[i]
		if m.Type == Partnership && m.Status == Accepted && m.Between(a, b) && (latest == nil || m.after(latest)) {
			latest = m
		}
	}
	return latest != nil && !brokenBy(msgs, latest)
}

// Allies returns every family allied with id, in the order given.
func Allies(msgs []Message, id FamilyID, families []FamilyID) []FamilyID {
	var out []FamilyID
	for _, other := range families {
		if Allied(msgs, id, other) {
			out = append(out, other)
		}
	}
	return out
}

// Duplicate reports whether a new proposal would repeat one that is still
// live: pending in either direction, or accepted and not since broken by war.
// Rejected proposals never block; they may be made again in a later turn.
func Duplicate(msgs []Message, from, to FamilyID, typ MessageType, target FamilyID) bool {
	if !typ.NeedsResponse() {
		return false
	}
	for i := range msgs {
		m := &msgs[i]
		if m.Type != typ || !m.Between(from, to) {
			continue
		}
		// Only a coordinated attack is distinguished by its target.
		if typ == CoordinateAttack && m.Target != target {
			continue
		}
		switch m.Status {
		case Pending:
			return true
		case Accepted:
			if !brokenBy(msgs, m) {
				return true
			}
		}
	}
	return false
}

// PendingFor returns proposals awaiting a response from id.
func PendingFor(msgs []Message, id FamilyID) []Message {
	var out []Message
	for _, m := range msgs {
		if m.To == id && m.Status == Pending {
			out = append(out, m)
		}
	}
	return out
}

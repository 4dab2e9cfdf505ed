package oracle

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/allannapier/gangsofclaude-sub000/internal/social"
	"github.com/allannapier/gangsofclaude-sub000/internal/world"
)

// Action is the primary action of a decision.
type Action string

const (
	ActionAttack   Action = "attack"
	ActionClaim    Action = "claim"
	ActionHire     Action = "hire"
	ActionBusiness Action = "business"
	ActionWait     Action = "wait"
	// ActionMessage is the human-only social action. It has no mechanical effect.
	ActionMessage Action = "message"
)

// CovertKind is a covert operation type.
type CovertKind string

const (
	CovertSpy      CovertKind = "spy"
	CovertSabotage CovertKind = "sabotage"
	CovertBribe    CovertKind = "bribe"
	CovertFortify  CovertKind = "fortify"
)

// Allocation commits muscle from one owned territory to an attack.
type Allocation struct {
	From   string `json:"from"`
	Muscle int    `json:"muscle"`
}

// Proposal is the optional diplomatic side-action.
type Proposal struct {
	Type   social.MessageType `json:"type"`
	To     social.FamilyID    `json:"to"`
	Target social.FamilyID    `json:"target,omitempty"`
}

// CovertOp is the optional covert side-action. Target is a family id for spy
// and a territory id for everything else.
type CovertOp struct {
	Kind   CovertKind `json:"type"`
	Target string     `json:"target"`
}

// Response answers a pending proposal.
type Response struct {
	MessageID int  `json:"message_id"`
	Accept    bool `json:"accept"`
}

// Decision is one family's validated choice for a turn.
type Decision struct {
	Action     Action             `json:"action"`
	Target     string             `json:"target,omitempty"`
	Count      int                `json:"count,omitempty"`
	Allocation []Allocation       `json:"allocation,omitempty"`
	Tier       world.BusinessTier `json:"tier,omitempty"`
	Message    string             `json:"message,omitempty"`
	Reasoning  string             `json:"reasoning,omitempty"`
	Diplomacy  *Proposal          `json:"diplomacy,omitempty"`
	Covert     *CovertOp          `json:"covert,omitempty"`
	Responses  []Response         `json:"responses,omitempty"`

	// Fallback is set when the reply could not produce a legal action and the
	// decision was replaced by wait.
	Fallback bool `json:"fallback,omitempty"`
	// Notes lists fields dropped during coercion.
	Notes []string `json:"notes,omitempty"`
}

// Wait is the safe default decision.
func Wait(reason string) Decision {
	d := Decision{Action: ActionWait}
	if reason != "" {
		d.Fallback = true
		d.Notes = []string{reason}
	}
	return d
}

//go:embed decision.schema.json
var decisionSchemaText string

var decisionSchema = jsonschema.MustCompileString("decision.schema.json", decisionSchemaText)

// ExtractObject returns the first well-formed JSON object embedded in text,
// ignoring any prose around it.
func ExtractObject(text string) (string, error) {
	for start := strings.IndexByte(text, '{'); start >= 0; {
		if end := matchBrace(text, start); end > 0 {
			candidate := text[start : end+1]
			if json.Valid([]byte(candidate)) {
				return candidate, nil
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", fmt.Errorf("no JSON object found in reply")
}

// matchBrace returns the index of the brace closing the one at start, or -1.
func matchBrace(s string, start int) int {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// ParseDecision turns an oracle reply into a Decision. It never fails: a reply
// without a usable action tag, or naming an action not in legal, becomes wait
// with Fallback set. Optional fields that are malformed are dropped and noted.
func ParseDecision(raw string, legal []Action) Decision {
	obj, err := ExtractObject(raw)
	if err != nil {
		return Wait(err.Error())
	}
	var doc any
	if err := json.Unmarshal([]byte(obj), &doc); err != nil {
		return Wait("unreadable JSON: " + err.Error())
	}
	fields, ok := doc.(map[string]any)
	if !ok {
		return Wait("reply is not an object")
	}

	var notes []string
	if err := decisionSchema.Validate(doc); err != nil {
		notes = append(notes, "schema: "+firstLine(err.Error()))
	}

	name, _ := fields["action"].(string)
	action := Action(strings.ToLower(strings.TrimSpace(name)))
	if !contains(legal, action) {
		d := Wait(fmt.Sprintf("illegal action %q", name))
		d.Notes = append(d.Notes, notes...)
		return d
	}

	d := Decision{Action: action}
	if s, ok := fields["target"].(string); ok {
		d.Target = NormalizeID(s)
	}
	if v, present := fields["count"]; present {
		if n, ok := toInt(v); ok && n > 0 {
			d.Count = n
		} else {
			notes = append(notes, "count dropped")
		}
	}
	if m, ok := fields["muscle"].(map[string]any); ok {
		for from, v := range m {
			n, ok := toInt(v)
			if !ok {
				notes = append(notes, "muscle for "+from+" dropped")
				continue
			}
			if n > 0 {
				d.Allocation = append(d.Allocation, Allocation{From: NormalizeID(from), Muscle: n})
			}
		}
		sort.Slice(d.Allocation, func(i, j int) bool { return d.Allocation[i].From < d.Allocation[j].From })
	}
	if s, ok := fields["tier"].(string); ok {
		if tier, ok := world.ParseBusinessTier(s); ok && tier != world.BusinessNone {
			d.Tier = tier
		} else {
			notes = append(notes, "tier dropped")
		}
	}
	d.Reasoning, _ = fields["reasoning"].(string)

	if m, ok := fields["diplomacy"].(map[string]any); ok {
		if p, err := coerceProposal(m, false); err == nil {
			d.Diplomacy = p
		} else {
			notes = append(notes, "diplomacy dropped: "+err.Error())
		}
	}
	if m, ok := fields["covert"].(map[string]any); ok {
		if op, err := coerceCovert(m, false); err == nil {
			d.Covert = op
		} else {
			notes = append(notes, "covert dropped: "+err.Error())
		}
	}
	if list, ok := fields["responses"].([]any); ok {
		for _, item := range list {
			m, _ := item.(map[string]any)
			id, ok := toInt(m["message_id"])
			accept, okb := toBool(m["accept"])
			if !ok || !okb || id <= 0 {
				notes = append(notes, "response dropped")
				continue
			}
			d.Responses = append(d.Responses, Response{MessageID: id, Accept: accept})
		}
	}
	d.Notes = notes
	return d
}

// ParseStrict validates a player submission. Unlike ParseDecision, any schema
// violation or unresolvable name is an error.
func ParseStrict(raw []byte) (Decision, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Decision{}, fmt.Errorf("decode decision: %w", err)
	}
	if err := decisionSchema.Validate(doc); err != nil {
		return Decision{}, fmt.Errorf("invalid decision: %s", firstLine(err.Error()))
	}
	fields := doc.(map[string]any)

	d := Decision{Action: Action(fields["action"].(string))}
	if s, ok := fields["target"].(string); ok {
		d.Target = NormalizeID(s)
	}
	if v, ok := fields["count"]; ok {
		d.Count, _ = toInt(v)
	}
	if m, ok := fields["muscle"].(map[string]any); ok {
		for from, v := range m {
			if n, _ := toInt(v); n > 0 {
				d.Allocation = append(d.Allocation, Allocation{From: NormalizeID(from), Muscle: n})
			}
		}
		sort.Slice(d.Allocation, func(i, j int) bool { return d.Allocation[i].From < d.Allocation[j].From })
	}
	if s, ok := fields["tier"].(string); ok {
		d.Tier, _ = world.ParseBusinessTier(s)
	}
	d.Message, _ = fields["message"].(string)
	d.Reasoning, _ = fields["reasoning"].(string)
	if m, ok := fields["diplomacy"].(map[string]any); ok {
		p, err := coerceProposal(m, true)
		if err != nil {
			return Decision{}, fmt.Errorf("diplomacy: %w", err)
		}
		d.Diplomacy = p
	}
	if m, ok := fields["covert"].(map[string]any); ok {
		op, err := coerceCovert(m, true)
		if err != nil {
			return Decision{}, fmt.Errorf("covert: %w", err)
		}
		d.Covert = op
	}
	if list, ok := fields["responses"].([]any); ok {
		for _, item := range list {
			m := item.(map[string]any)
			id, _ := toInt(m["message_id"])
			accept, _ := m["accept"].(bool)
			d.Responses = append(d.Responses, Response{MessageID: id, Accept: accept})
		}
	}
	if d.Action == ActionMessage && strings.TrimSpace(d.Message) == "" {
		return Decision{}, fmt.Errorf("message action needs message text")
	}
	return d, nil
}

func coerceProposal(m map[string]any, strict bool) (*Proposal, error) {
	typName, _ := m["type"].(string)
	typ, ok := social.ParseMessageType(strings.ToLower(strings.TrimSpace(typName)))
	if !ok {
		return nil, fmt.Errorf("unknown type %q", typName)
	}
	toName, _ := m["to"].(string)
	to, ok := social.ParseFamilyID(toName)
	if !ok {
		return nil, fmt.Errorf("unknown family %q", toName)
	}
	p := &Proposal{Type: typ, To: to}
	if tgt, ok := m["target"].(string); ok && strings.TrimSpace(tgt) != "" {
		id, ok := social.ParseFamilyID(tgt)
		if !ok {
			if strict || typ == social.CoordinateAttack {
				return nil, fmt.Errorf("unknown target family %q", tgt)
			}
		} else {
			p.Target = id
		}
	}
	if !typ.TakesTarget() {
		p.Target = ""
	}
	if typ == social.CoordinateAttack && p.Target == "" {
		return nil, fmt.Errorf("coordinate_attack needs a target family")
	}
	return p, nil
}

func coerceCovert(m map[string]any, strict bool) (*CovertOp, error) {
	kindName, _ := m["type"].(string)
	kind := CovertKind(strings.ToLower(strings.TrimSpace(kindName)))
	switch kind {
	case CovertSpy, CovertSabotage, CovertBribe, CovertFortify:
	default:
		return nil, fmt.Errorf("unknown operation %q", kindName)
	}
	target, _ := m["target"].(string)
	if strings.TrimSpace(target) == "" {
		return nil, fmt.Errorf("%s needs a target", kind)
	}
	if kind == CovertSpy {
		id, ok := social.ParseFamilyID(target)
		if !ok {
			return nil, fmt.Errorf("unknown family %q", target)
		}
		return &CovertOp{Kind: kind, Target: string(id)}, nil
	}
	return &CovertOp{Kind: kind, Target: NormalizeID(target)}, nil
}

// NormalizeID maps a loose territory reference ("Little Italy") to its id form.
func NormalizeID(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Join(strings.Fields(s), "_")
}

// toInt coerces a JSON number or numeric string to a non-negative int.
func toInt(v any) (int, bool) {
	switch x := v.(type) {
	case float64:
		if x < 0 || x > 1e6 || math.IsNaN(x) {
			return 0, false
		}
		return int(x), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil || n < 0 || n > 1e6 {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

func toBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "yes", "accept", "accepted":
			return true, true
		case "false", "no", "reject", "rejected":
			return false, true
		}
	}
	return false, false
}

func contains(legal []Action, a Action) bool {
	for _, l := range legal {
		if l == a {
			return true
		}
	}
	return false
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Role identifiers. Each text-generation call is made on behalf of exactly one role.
type Role string

const (
	RoleUser            Role = "user"
	RoleStudy           Role = "study"
	RolePersonaSelector Role = "persona_selector"
	RoleInterviewer     Role = "interviewer"
	RoleResponder       Role = "responder"
	RoleSummarizer      Role = "summarizer"
	RoleCatalogWriter   Role = "catalog_writer"
	RoleManager         Role = "manager"
)

// GenerationRoles lists the roles that call the text-generation capability, in display order.
var GenerationRoles = []Role{
	RolePersonaSelector,
	RoleInterviewer,
	RoleResponder,
	RoleSummarizer,
	RoleManager,
	RoleCatalogWriter,
}

// MessageType identifies the payload type of a bus message
type MessageType string

const (
	MsgStudyState      MessageType = "StudyState"
	MsgPhaseBegin      MessageType = "PhaseBegin"
	MsgPersonaSelected MessageType = "PersonaSelected"
	MsgQuestion        MessageType = "Question"
	MsgAnswer          MessageType = "Answer"
	MsgInterviewEnd    MessageType = "InterviewEnd"
	MsgSummary         MessageType = "Summary"
	MsgPhaseEnd        MessageType = "PhaseEnd"
	MsgGuidesDefined   MessageType = "GuidesDefined"
	MsgCatalogReady    MessageType = "CatalogReady"
	MsgFailure         MessageType = "Failure"
)

// Message is the envelope for every progress event published on the bus
type Message struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	From      Role        `json:"from"`
	To        Role        `json:"to"`
	Type      MessageType `json:"type"`
	Payload   any         `json:"payload"`
}

// UnknownRole is the placeholder role recorded for personas without a usable role.
const UnknownRole = "UnknownRole"

// PersonaProfile is one simulated (or human) expert. Name and Role are the only
// fields orchestration reads; everything else the generator produced is kept in Extra.
type PersonaProfile struct {
	Name  string         `json:"name"`
	Role  string         `json:"role_title"`
	Extra map[string]any `json:"-"`
}

// persona key aliases accepted on input, in priority order.
var (
	nameKeys = []string{"name", "Name"}
	roleKeys = []string{"role_title", "Role", "role", "title"}
)

// PersonaFromMap builds a PersonaProfile from an extracted JSON object.
//
// Expectations:
//   - Reads name from "name" or "Name"
//   - Reads role from "role_title", "Role", "role" or "title" (first non-empty wins)
//   - Keeps every other key in Extra, including aliases that were not picked
//   - Non-string name/role values are formatted with %v
func PersonaFromMap(m map[string]any) PersonaProfile {
	p := PersonaProfile{Extra: make(map[string]any)}
	taken := make(map[string]bool)
	pick := func(keys []string) string {
		for _, k := range keys {
			v, ok := m[k]
			if !ok || v == nil {
				continue
			}
			s := strings.TrimSpace(fmt.Sprint(v))
			if s == "" {
				continue
			}
			taken[k] = true
			return s
		}
		return ""
	}
	p.Name = pick(nameKeys)
	p.Role = pick(roleKeys)
	for k, v := range m {
		if !taken[k] {
			p.Extra[k] = v
		}
	}
	return p
}

// DisplayName returns the persona name or "Unknown Persona".
func (p PersonaProfile) DisplayName() string {
	if p.Name == "" {
		return "Unknown Persona"
	}
	return p.Name
}

// RoleOrUnknown returns the persona role or UnknownRole.
func (p PersonaProfile) RoleOrUnknown() string {
	if r := strings.TrimSpace(p.Role); r != "" {
		return r
	}
	return UnknownRole
}

// MarshalJSON flattens Extra next to name and role_title.
func (p PersonaProfile) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(p.Extra)+2)
	for k, v := range p.Extra {
		m[k] = v
	}
	m["name"] = p.Name
	m["role_title"] = p.Role
	return json.Marshal(m)
}

// UnmarshalJSON accepts any object and routes unknown keys into Extra.
func (p *PersonaProfile) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*p = PersonaFromMap(m)
	return nil
}

// HumanProfile is what a human interviewee tells us about themselves.
type HumanProfile struct {
	Name        string `json:"name"`
	Role        string `json:"role"`
	Expertise   string `json:"expertise"`
	Perspective string `json:"perspective"`
}

// Text renders the profile block handed to the interviewer.
//
// Expectations:
//   - Lists only the fields that are set, one "- Label: value" line each
//   - Returns the no-profile sentence when every field is empty
func (h HumanProfile) Text() string {
	var sb strings.Builder
	sb.WriteString("Human Expert Profile:\n")
	n := sb.Len()
	line := func(label, v string) {
		if v = strings.TrimSpace(v); v != "" {
			fmt.Fprintf(&sb, "- %s: %s\n", label, v)
		}
	}
	line("Name/Title", h.Name)
	line("Role", h.Role)
	line("Stated Expertise", h.Expertise)
	line("Stated Perspective", h.Perspective)
	if sb.Len() == n {
		return "Human expert has not provided a specific profile.\n"
	}
	return sb.String()
}

// Persona converts the human profile into a PersonaProfile for result records.
func (h HumanProfile) Persona() PersonaProfile {
	name := strings.TrimSpace(h.Name)
	if name == "" {
		name = "Human Expert (You)"
	}
	p := PersonaProfile{Name: name, Role: strings.TrimSpace(h.Role), Extra: map[string]any{"human": true}}
	if h.Expertise != "" {
		p.Extra["expertise_areas"] = h.Expertise
	}
	if h.Perspective != "" {
		p.Extra["stance"] = h.Perspective
	}
	return p
}

// Turn is one transcript element: either a question/answer pair or the terminal marker.
type Turn struct {
	Question string `json:"question,omitempty"`
	Answer   string `json:"answer,omitempty"`
	Event    string `json:"event,omitempty"`
	Signal   string `json:"signal,omitempty"`
}

// IsMarker reports whether t is the terminal {event, signal} marker.
func (t Turn) IsMarker() bool { return t.Event != "" }

// Transcript is the ordered sequence of turns of one interview.
// At most one terminal marker exists and it is always last.
type Transcript []Turn

// Exchanges returns the number of question/answer turns.
func (tr Transcript) Exchanges() int {
	n := 0
	for _, t := range tr {
		if !t.IsMarker() {
			n++
		}
	}
	return n
}

// Concluded reports whether the interviewer ended the transcript with a marker.
func (tr Transcript) Concluded() bool {
	return len(tr) > 0 && tr[len(tr)-1].IsMarker()
}

// Conclusion records why an interview loop stopped.
type Conclusion string

const (
	ConclusionSignaled Conclusion = "signaled" // interviewer emitted the completion token
	ConclusionBounded  Conclusion = "bounded"  // turn bound reached
	ConclusionFailed   Conclusion = "failed"   // a role produced no output
)

// PhaseResult is the immutable record of one exploratory or structured phase.
type PhaseResult struct {
	Transcript  Transcript      `json:"transcript"`
	Summary     string          `json:"summary"`
	Persona     *PersonaProfile `json:"persona,omitempty"`
	PersonaName string          `json:"persona_name"`
	Error       string          `json:"error,omitempty"`
	Exploratory bool            `json:"exploratory"`
	Conclusion  Conclusion      `json:"conclusion,omitempty"`
}

// Failed reports whether the phase carries an error.
func (r PhaseResult) Failed() bool { return r.Error != "" }

// ErrGuidesUndefined is returned when a structured step runs before formalization.
var ErrGuidesUndefined = errors.New("defined guides have not been formalized")

// ExploratoryGuides steer the single exploratory phase.
type ExploratoryGuides struct {
	InterviewGuide  string `json:"exploratory_interview_guide" yaml:"exploratory_interview_guide"`
	SummaryGuidance string `json:"exploratory_summary_guidance" yaml:"exploratory_summary_guidance"`
}

// DefinedGuides are produced once by formalization and steer every structured round.
type DefinedGuides struct {
	InterviewGuide  string `json:"InterviewGuideStructure_DEFINED" jsonschema:"required,description=Thematic categories (Systemebenen) to explore systematically in every structured interview"`
	CatalogGuidance string `json:"DesiredOutputCatalogStructureGuidance_DEFINED" jsonschema:"required,description=How the final catalog is organised by those categories; per factor definition and dimensions and trend for the target year"`
}

// Complete reports whether both guides are non-empty.
func (g DefinedGuides) Complete() bool {
	return strings.TrimSpace(g.InterviewGuide) != "" && strings.TrimSpace(g.CatalogGuidance) != ""
}

// StudyContext is the configuration and accumulated state threaded through every phase.
type StudyContext struct {
	Topic               string           `json:"topic"`
	TargetYear          int              `json:"target_year"`
	GeographicScope     string           `json:"geographic_scope"`
	Objectives          string           `json:"objectives"`
	PersonaRequirements string           `json:"persona_requirements"`
	PredefinedPersonas  []PersonaProfile `json:"predefined_personas,omitempty"`

	// Exploratory is active until formalization; Defined is nil until then.
	Exploratory *ExploratoryGuides `json:"exploratory,omitempty"`
	Defined     *DefinedGuides     `json:"defined,omitempty"`

	rolesCovered []string
}

// Formalized reports whether the defined guides exist.
func (c *StudyContext) Formalized() bool { return c.Defined != nil }

// DefineGuides installs the defined guides and retires the exploratory guides.
// The defined guides may be replaced (user edits) but never cleared.
//
// Expectations:
//   - Rejects guides where either string is empty
//   - Sets Defined and clears Exploratory on success
//   - Leaves the context untouched on rejection
func (c *StudyContext) DefineGuides(g DefinedGuides) error {
	if !g.Complete() {
		return fmt.Errorf("define guides: both interview guide and catalog guidance are required")
	}
	g.InterviewGuide = strings.TrimSpace(g.InterviewGuide)
	g.CatalogGuidance = strings.TrimSpace(g.CatalogGuidance)
	c.Defined = &g
	c.Exploratory = nil
	return nil
}

// InterviewGuide returns the guide for the requested phase kind.
// A structured guide before formalization is ErrGuidesUndefined.
func (c *StudyContext) InterviewGuide(exploratory bool) (string, error) {
	if exploratory {
		if c.Exploratory == nil {
			return "", nil
		}
		return c.Exploratory.InterviewGuide, nil
	}
	if c.Defined == nil {
		return "", ErrGuidesUndefined
	}
	return c.Defined.InterviewGuide, nil
}

// SummaryGuidance returns the summarizer guidance for the requested phase kind.
func (c *StudyContext) SummaryGuidance(exploratory bool) (string, error) {
	if exploratory {
		if c.Exploratory == nil {
			return "", nil
		}
		return c.Exploratory.SummaryGuidance, nil
	}
	if c.Defined == nil {
		return "", ErrGuidesUndefined
	}
	return c.Defined.CatalogGuidance, nil
}

// CoverRole records role as interviewed. Roles are matched by exact string after
// trimming; empty roles and UnknownRole are ignored. Returns whether the set grew.
func (c *StudyContext) CoverRole(role string) bool {
	role = strings.TrimSpace(role)
	if role == "" || role == UnknownRole {
		return false
	}
	for _, r := range c.rolesCovered {
		if r == role {
			return false
		}
	}
	c.rolesCovered = append(c.rolesCovered, role)
	return true
}

// CoveredRoles returns a copy of the interviewed roles in insertion order.
func (c *StudyContext) CoveredRoles() []string {
	out := make([]string, len(c.rolesCovered))
	copy(out, c.rolesCovered)
	return out
}

// Clone returns a deep-enough copy for handing to a phase run.
func (c *StudyContext) Clone() *StudyContext {
	cp := *c
	cp.PredefinedPersonas = append([]PersonaProfile(nil), c.PredefinedPersonas...)
	if c.Exploratory != nil {
		e := *c.Exploratory
		cp.Exploratory = &e
	}
	if c.Defined != nil {
		d := *c.Defined
		cp.Defined = &d
	}
	cp.rolesCovered = c.CoveredRoles()
	return &cp
}

// StateChange is the payload of MsgStudyState.
type StateChange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// PhaseEvent is the payload of MsgPhaseBegin, MsgPersonaSelected and MsgPhaseEnd.
// Round is 0 for the exploratory phase.
type PhaseEvent struct {
	Exploratory bool       `json:"exploratory"`
	Round       int        `json:"round,omitempty"`
	Persona     string     `json:"persona,omitempty"`
	Role        string     `json:"role,omitempty"`
	Turns       int        `json:"turns,omitempty"`
	Conclusion  Conclusion `json:"conclusion,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// TurnEvent is the payload of MsgQuestion, MsgAnswer and MsgInterviewEnd.
// Turn is 1-indexed.
type TurnEvent struct {
	Turn int    `json:"turn"`
	Text string `json:"text"`
}

// TextEvent is the payload of MsgSummary, MsgGuidesDefined, MsgCatalogReady and MsgFailure.
type TextEvent struct {
	Label string `json:"label,omitempty"`
	Text  string `json:"text"`
}

// Package persona selects the expert interviewed in one phase.
package persona

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/haricheung/delphibot/internal/gateway"
	"github.com/haricheung/delphibot/internal/llm"
	"github.com/haricheung/delphibot/internal/types"
)

// ErrNoPersona is returned when the generated text holds no persona object.
var ErrNoPersona = errors.New("no persona in response")

// profileSchema documents the expected persona shape to the generator.
// Only name and role_title are read by orchestration.
type profileSchema struct {
	Name           string   `json:"name" jsonschema:"required"`
	Age            int      `json:"age,omitempty"`
	RoleTitle      string   `json:"role_title" jsonschema:"required"`
	ExpertiseAreas []string `json:"expertise_areas,omitempty"`
	Background     string   `json:"background,omitempty" jsonschema:"description=academic / corporate / governmental / activist / citizen"`
	Stance         string   `json:"stance,omitempty" jsonschema:"description=a specific and possibly extreme key belief about the topic"`
}

var systemPrompt = `You are a Persona Manager for a Delphi study. You will receive:
- The OverallStudyTopic.
- PersonaRequirementsGuidance.
- (Optionally) A list of PredefinedPersonas.
- (Optionally) A list of 'roles_or_expertise_already_interviewed'.

Your CRITICAL task is to provide ONE expert persona JSON that is relevant and adds a UNIQUE and STRONG perspective. The expert need not be conventionally highly qualified; ordinary people offering their perspective on the topic are valid experts too.
If 'roles_or_expertise_already_interviewed' is absent or empty, create a persona WITHOUT extremely unique or radical viewpoints: a generalist who can broadly cover the whole topic.
If it is present and not empty, create a persona with a radically different viewpoint or primary focus. Do not just change the job title; change the core perspective. For example, after a tech-optimist, create a strong tech-skeptic or a regulator focused only on risks.

To ensure diversity, consider these axes:
- Optimism vs. pessimism regarding the future of the topic.
- Focus: technical implementation vs. social impact vs. economic shifts vs. ethical risks.
- Background: academic vs. corporate vs. governmental vs. activist.

Incorporate a specific, even slightly extreme, "stance" or "key belief" into the persona's profile.

The persona JSON follows this schema:
` + llm.Schema[profileSchema]() + `

Output ONLY the persona JSON object.`

// Selector asks the persona selector role for one persona.
type Selector struct {
	g *gateway.Gateway
}

// New creates a Selector and registers its instructions on g.
func New(g *gateway.Gateway) *Selector {
	g.Instruct(types.RolePersonaSelector, systemPrompt)
	return &Selector{g: g}
}

// Select produces exactly one persona for sc. covered lists the roles already
// interviewed; when non-empty the generator is told to avoid them.
// No persona is fabricated locally: a gateway failure, unparseable text or an
// object with neither name nor role is an error.
//
// Expectations:
//   - Returns ErrNoPersona when no JSON object can be extracted
//   - Returns ErrNoPersona for an object with neither name nor role, e.g. {}
//   - Accepts an object with only a name or only a role
func (s *Selector) Select(ctx context.Context, sc *types.StudyContext, covered []string) (types.PersonaProfile, error) {
	out, err := s.g.Invoke(ctx, types.RolePersonaSelector, BuildPrompt(sc, covered))
	if err != nil {
		return types.PersonaProfile{}, fmt.Errorf("persona: %w", err)
	}
	m, ok := llm.ExtractJSON(out)
	if !ok {
		return types.PersonaProfile{}, fmt.Errorf("persona: %w (raw: %q)", ErrNoPersona, clip(out, 200))
	}
	p := types.PersonaFromMap(m)
	if p.Name == "" && p.Role == "" {
		return types.PersonaProfile{}, fmt.Errorf("persona: %w (no name or role in %q)", ErrNoPersona, clip(out, 200))
	}
	log.Printf("[PERSONA] selected %q (role=%s)", p.DisplayName(), p.RoleOrUnknown())
	return p, nil
}

// BuildPrompt renders the persona request.
//
// Expectations:
//   - Always includes topic, persona requirements and the predefined persona pool
//   - Includes the already-interviewed block only when covered has a usable role
//   - Drops empty roles and UnknownRole from the covered list
func BuildPrompt(sc *types.StudyContext, covered []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "OverallStudyTopic: %s\n\n", sc.Topic)
	fmt.Fprintf(&sb, "PersonaRequirementsGuidance: %s\n\n", sc.PersonaRequirements)
	pool := sc.PredefinedPersonas
	if pool == nil {
		pool = []types.PersonaProfile{}
	}
	fmt.Fprintf(&sb, "PredefinedPersonas (for you to choose from if a suitable, diverse option exists): %s\n", mustJSON(pool))

	roles := usableRoles(covered)
	if len(roles) > 0 {
		sb.WriteString("\n**IMPORTANT: This is a list of 'roles_or_expertise_already_interviewed'**\n")
		fmt.Fprintf(&sb, "Experts with the following roles/expertise areas have already been interviewed: %s.\n", mustJSON(roles))
		sb.WriteString("Your task is to select or create a persona that offers a *distinctly different perspective* or a different primary area of expertise " +
			"to maximize thematic diversity. DO NOT select a persona whose main role is already covered in the list above.\n")
	}
	sb.WriteString("\nBased on all the information above, provide ONE suitable expert persona. Output ONLY the final persona JSON object.")
	return sb.String()
}

func usableRoles(covered []string) []string {
	var out []string
	for _, r := range covered {
		r = strings.TrimSpace(r)
		if r == "" || r == types.UnknownRole {
			continue
		}
		out = append(out, r)
	}
	return out
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

package persona

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/haricheung/delphibot/internal/gateway"
	"github.com/haricheung/delphibot/internal/gateway/gatewaytest"
	"github.com/haricheung/delphibot/internal/types"
)

func testStudy() *types.StudyContext {
	return &types.StudyContext{
		Topic:               "Die Zukunft der Tageszeitung in Deutschland bis 2047",
		TargetYear:          2047,
		PersonaRequirements: "Vielfältige Experten",
		PredefinedPersonas: []types.PersonaProfile{
			{Name: "Lena Meyer", Role: "Medienstudentin", Extra: map[string]any{"age": 22}},
		},
	}
}

// --- BuildPrompt ---

func TestBuildPrompt_NoCoveredRolesOmitsDiversityBlock(t *testing.T) {
	// Includes the already-interviewed block only when covered has a usable role
	got := BuildPrompt(testStudy(), nil)
	if strings.Contains(got, "roles_or_expertise_already_interviewed") {
		t.Errorf("unexpected diversity block: %s", got)
	}
	if !strings.Contains(got, "Die Zukunft der Tageszeitung") || !strings.Contains(got, "Vielfältige Experten") {
		t.Errorf("missing topic or requirements: %s", got)
	}
	if !strings.Contains(got, `"name":"Lena Meyer"`) {
		t.Errorf("missing predefined persona: %s", got)
	}
}

func TestBuildPrompt_CoveredRolesListed(t *testing.T) {
	got := BuildPrompt(testStudy(), []string{"Chefredakteurin", "Medienwissenschaftler"})
	if !strings.Contains(got, `["Chefredakteurin","Medienwissenschaftler"]`) {
		t.Errorf("covered roles not listed: %s", got)
	}
	if !strings.Contains(got, "DO NOT select a persona whose main role is already covered") {
		t.Errorf("missing avoidance instruction: %s", got)
	}
}

func TestBuildPrompt_UnknownRoleIgnored(t *testing.T) {
	// Drops empty roles and UnknownRole from the covered list
	got := BuildPrompt(testStudy(), []string{types.UnknownRole, "  "})
	if strings.Contains(got, "roles_or_expertise_already_interviewed") {
		t.Errorf("UnknownRole alone must not trigger the diversity block: %s", got)
	}
}

func TestBuildPrompt_EmptyPoolRendersEmptyList(t *testing.T) {
	sc := testStudy()
	sc.PredefinedPersonas = nil
	if got := BuildPrompt(sc, nil); !strings.Contains(got, "diverse option exists): []") {
		t.Errorf("expected empty list, got %s", got)
	}
}

// --- Select ---

func TestSelect_ParsesFencedPersona(t *testing.T) {
	f := gatewaytest.New().Reply(types.RolePersonaSelector,
		"Hier ist die Persona:\n```json\n{\"name\": \"Dr. Johanna Weber\", \"age\": 58, \"role_title\": \"Chefredakteurin\", \"stance\": \"Print lebt\"}\n```")
	s := New(f.Gateway())

	p, err := s.Select(context.Background(), testStudy(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name != "Dr. Johanna Weber" || p.Role != "Chefredakteurin" {
		t.Errorf("unexpected persona %+v", p)
	}
	if p.Extra["stance"] != "Print lebt" {
		t.Errorf("free-form fields lost: %+v", p.Extra)
	}
	if calls := f.Calls(types.RolePersonaSelector); len(calls) != 1 || !strings.Contains(calls[0].System, "Persona Manager") {
		t.Errorf("instructions not sent: %+v", calls)
	}
}

func TestSelect_UnparseableIsErrNoPersona(t *testing.T) {
	// Returns ErrNoPersona when no JSON object can be extracted
	s := New(gatewaytest.New().Reply(types.RolePersonaSelector, "Ich schlage eine Journalistin vor.").Gateway())
	_, err := s.Select(context.Background(), testStudy(), nil)
	if !errors.Is(err, ErrNoPersona) {
		t.Fatalf("expected ErrNoPersona, got %v", err)
	}
}

func TestSelect_EmptyObjectIsErrNoPersona(t *testing.T) {
	// Returns ErrNoPersona for an object with neither name nor role, e.g. {}
	for _, reply := range []string{"{}", "```json\n{\"name\": \"  \", \"age\": 40}\n```"} {
		f := gatewaytest.New().Reply(types.RolePersonaSelector, reply)
		_, err := New(f.Gateway()).Select(context.Background(), testStudy(), nil)
		if !errors.Is(err, ErrNoPersona) {
			t.Errorf("reply %q: expected ErrNoPersona, got %v", reply, err)
		}
	}
}

func TestSelect_RoleOnlyAccepted(t *testing.T) {
	// Accepts an object with only a name or only a role
	s := New(gatewaytest.New().Reply(types.RolePersonaSelector, `{"role_title": "Verlagsmanagerin"}`).Gateway())
	p, err := s.Select(context.Background(), testStudy(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Role != "Verlagsmanagerin" || p.DisplayName() != "Unknown Persona" {
		t.Errorf("got %+v", p)
	}
}

func TestSelect_GatewayFailurePropagates(t *testing.T) {
	s := New(gatewaytest.New().Fail(types.RolePersonaSelector, 0).Gateway())
	_, err := s.Select(context.Background(), testStudy(), nil)
	if !errors.Is(err, gateway.ErrNoOutput) {
		t.Fatalf("expected ErrNoOutput, got %v", err)
	}
}

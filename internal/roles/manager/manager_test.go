package manager

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/haricheung/delphibot/internal/gateway"
	"github.com/haricheung/delphibot/internal/gateway/gatewaytest"
	"github.com/haricheung/delphibot/internal/types"
)

func study() *types.StudyContext {
	return &types.StudyContext{Topic: "Die Zukunft der Tageszeitung", TargetYear: 2047, GeographicScope: "Deutschland"}
}

const summary = "1. Verlagswesen: Geschäftsmodelle der Verlage.\n2. Gesellschaft: Lesegewohnheiten."

func TestFormalize_BothGuides(t *testing.T) {
	// Returns both guides, trimmed, when both keys hold non-empty strings
	f := gatewaytest.New().Reply(types.RoleManager,
		"```json\n{\"InterviewGuideStructure_DEFINED\": \" Systemebenen: 1. Verlagswesen, 2. Gesellschaft \", \"DesiredOutputCatalogStructureGuidance_DEFINED\": \"Gliedere nach Systemebenen.\"}\n```")
	got, err := New(f.Gateway()).Formalize(context.Background(), study(), summary)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.InterviewGuide != "Systemebenen: 1. Verlagswesen, 2. Gesellschaft" || got.CatalogGuidance != "Gliedere nach Systemebenen." {
		t.Errorf("unexpected guides %+v", got)
	}
	if !strings.Contains(f.Calls(types.RoleManager)[0].User, summary) {
		t.Error("summary not embedded in prompt")
	}
}

func TestFormalize_MissingOrEmptyKey(t *testing.T) {
	// Returns ErrIncompleteGuides when either key is missing, empty or not a string
	for name, resp := range map[string]string{
		"missing catalog":   `{"InterviewGuideStructure_DEFINED": "a"}`,
		"missing interview": `{"DesiredOutputCatalogStructureGuidance_DEFINED": "b"}`,
		"empty interview":   `{"InterviewGuideStructure_DEFINED": "", "DesiredOutputCatalogStructureGuidance_DEFINED": "b"}`,
		"blank catalog":     `{"InterviewGuideStructure_DEFINED": "a", "DesiredOutputCatalogStructureGuidance_DEFINED": "   "}`,
		"non-string":        `{"InterviewGuideStructure_DEFINED": ["a"], "DesiredOutputCatalogStructureGuidance_DEFINED": "b"}`,
		"null":              `{"InterviewGuideStructure_DEFINED": null, "DesiredOutputCatalogStructureGuidance_DEFINED": "b"}`,
		"both missing":      `{"guide": "a"}`,
	} {
		t.Run(name, func(t *testing.T) {
			fm := New(gatewaytest.New().Reply(types.RoleManager, resp).Gateway())
			got, err := fm.Formalize(context.Background(), study(), summary)
			if !errors.Is(err, ErrIncompleteGuides) {
				t.Fatalf("expected ErrIncompleteGuides, got %v", err)
			}
			if got != (types.DefinedGuides{}) {
				t.Errorf("partial result returned: %+v", got)
			}
		})
	}
}

func TestFormalize_NoJSON(t *testing.T) {
	// Returns ErrIncompleteGuides when the response holds no JSON object
	fm := New(gatewaytest.New().Reply(types.RoleManager, "Ich kann das nicht.").Gateway())
	if _, err := fm.Formalize(context.Background(), study(), summary); !errors.Is(err, ErrIncompleteGuides) {
		t.Fatalf("expected ErrIncompleteGuides, got %v", err)
	}
}

func TestFormalize_GatewayFailure(t *testing.T) {
	// Wraps gateway.ErrNoOutput when the call itself fails
	fm := New(gatewaytest.New().Fail(types.RoleManager, 0).Gateway())
	if _, err := fm.Formalize(context.Background(), study(), summary); !errors.Is(err, gateway.ErrNoOutput) {
		t.Fatalf("expected ErrNoOutput, got %v", err)
	}
}

func TestFormalize_BlankSummarySkipsCall(t *testing.T) {
	// Returns ErrNoSummary without calling the gateway when summary is blank
	f := gatewaytest.New().Reply(types.RoleManager, "{}")
	if _, err := New(f.Gateway()).Formalize(context.Background(), study(), "  "); !errors.Is(err, ErrNoSummary) {
		t.Fatalf("expected ErrNoSummary, got %v", err)
	}
	if f.Count(types.RoleManager) != 0 {
		t.Error("gateway called for a blank summary")
	}
}

func TestSystemPrompt_EmbedsGuideSchema(t *testing.T) {
	for _, key := range []string{KeyInterviewGuide, KeyCatalogGuidance} {
		if !strings.Contains(systemPrompt, key) {
			t.Errorf("system prompt schema missing %s", key)
		}
	}
}

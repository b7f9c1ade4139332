package catalog

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/haricheung/delphibot/internal/gateway"
	"github.com/haricheung/delphibot/internal/gateway/gatewaytest"
	"github.com/haricheung/delphibot/internal/roles/manager"
	"github.com/haricheung/delphibot/internal/types"
)

func definedStudy() *types.StudyContext {
	sc := &types.StudyContext{Topic: "Die Zukunft der Tageszeitung", TargetYear: 2047}
	_ = sc.DefineGuides(types.DefinedGuides{InterviewGuide: "Systemebenen: A, B", CatalogGuidance: "Gliedere nach A und B."})
	return sc
}

// --- Ready / Synthesize preconditions ---

func TestSynthesize_MissingGuidanceSkipsCall(t *testing.T) {
	// Returns ErrMissingGuidance without calling the gateway when the guidance is absent
	f := gatewaytest.New().Reply(types.RoleCatalogWriter, "Katalog")
	s := New(f.Gateway())
	_, err := s.Synthesize(context.Background(), &types.StudyContext{Topic: "T"}, "Summary from interview with X:\n...")
	if !errors.Is(err, ErrMissingGuidance) {
		t.Fatalf("expected ErrMissingGuidance, got %v", err)
	}
	if f.Count(types.RoleCatalogWriter) != 0 {
		t.Error("gateway called without guidance")
	}
}

func TestSynthesize_BlankAggregateSkipsCall(t *testing.T) {
	// Returns ErrNoSummaries without calling the gateway when aggregated is blank
	f := gatewaytest.New().Reply(types.RoleCatalogWriter, "Katalog")
	_, err := New(f.Gateway()).Synthesize(context.Background(), definedStudy(), "  ")
	if !errors.Is(err, ErrNoSummaries) || f.Count(types.RoleCatalogWriter) != 0 {
		t.Fatalf("expected ErrNoSummaries without a call, got %v", err)
	}
}

func TestSynthesize_ReturnsCatalog(t *testing.T) {
	f := gatewaytest.New().Reply(types.RoleCatalogWriter, "# Faktorenkatalog\n## A\n...")
	got, err := New(f.Gateway()).Synthesize(context.Background(), definedStudy(), "Summary from interview with X:\nA: f1")
	if err != nil || !strings.HasPrefix(got, "# Faktorenkatalog") {
		t.Fatalf("Synthesize = %q, %v", got, err)
	}
	user := f.Calls(types.RoleCatalogWriter)[0].User
	if !strings.Contains(user, "Gliedere nach A und B.") || !strings.Contains(user, "A: f1") {
		t.Errorf("prompt missing guidance or summaries:\n%s", user)
	}
}

func TestSynthesize_GatewayFailureNoFallback(t *testing.T) {
	// Wraps gateway.ErrNoOutput when the call fails; there is no local fallback
	s := New(gatewaytest.New().Fail(types.RoleCatalogWriter, 0).Gateway())
	got, err := s.Synthesize(context.Background(), definedStudy(), "Summary from interview with X:\n...")
	if !errors.Is(err, gateway.ErrNoOutput) || got != "" {
		t.Fatalf("expected ErrNoOutput and no text, got %q, %v", got, err)
	}
}

func TestFormalizeThenReady_RoundTrip(t *testing.T) {
	// Guidance produced by formalization passes the synthesis precondition unchanged
	f := gatewaytest.New().Reply(types.RoleManager,
		`{"InterviewGuideStructure_DEFINED": "Systemebenen: Technologie, Markt", "DesiredOutputCatalogStructureGuidance_DEFINED": "Katalog nach Systemebenen, je Faktor Definition, Dimensionen, Trend 2047."}`)
	g := f.Gateway()
	sc := &types.StudyContext{Topic: "T", TargetYear: 2047}
	guides, err := manager.New(g).Formalize(context.Background(), sc, "1. Technologie\n2. Markt")
	if err != nil {
		t.Fatalf("formalize: %v", err)
	}
	if err := sc.DefineGuides(guides); err != nil {
		t.Fatalf("define: %v", err)
	}
	if err := Ready(sc); err != nil {
		t.Fatalf("precondition failed after formalization: %v", err)
	}
	if sc.Defined.CatalogGuidance != guides.CatalogGuidance {
		t.Errorf("guidance changed: %q vs %q", sc.Defined.CatalogGuidance, guides.CatalogGuidance)
	}
}

// --- Aggregate ---

func TestAggregate_FormatsAndJoins(t *testing.T) {
	// Formats each source as "Summary from interview with <name>:\n<summary>" and joins with Separator
	got, n := Aggregate([]types.PhaseResult{
		{PersonaName: "Dr. Johanna Weber", Summary: "S1"},
		{PersonaName: "Lena Meyer", Summary: "S2"},
	}, "Explorer", "E")
	want := "Summary from interview with Dr. Johanna Weber:\nS1" + Separator + "Summary from interview with Lena Meyer:\nS2"
	if got != want || n != 2 {
		t.Errorf("got (%q, %d), want (%q, 2)", got, n, want)
	}
}

func TestAggregate_SkipsFailedAndBlank(t *testing.T) {
	// Skips failed results and blank summaries
	got, n := Aggregate([]types.PhaseResult{
		{PersonaName: "A", Summary: "  "},
		{PersonaName: "B", Summary: "partial", Error: "summarizer failed"},
		{PersonaName: "C", Summary: "S3"},
	}, "Explorer", "E")
	if n != 1 || got != "Summary from interview with C:\nS3" {
		t.Errorf("got (%q, %d)", got, n)
	}
}

func TestAggregate_FallsBackToExploratory(t *testing.T) {
	// Falls back to the exploratory summary when no structured summary exists
	got, n := Aggregate(nil, "Human Expert (You)", "1. Verlagswesen")
	if n != 1 || got != "Exploratory Summary (Interviewee: Human Expert (You)):\n1. Verlagswesen" {
		t.Errorf("got (%q, %d)", got, n)
	}
}

func TestAggregate_NothingAvailable(t *testing.T) {
	// Returns ("", 0) when nothing is available
	if got, n := Aggregate(nil, "x", " "); got != "" || n != 0 {
		t.Errorf("got (%q, %d)", got, n)
	}
}

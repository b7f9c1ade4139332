package summarizer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/haricheung/delphibot/internal/gateway"
	"github.com/haricheung/delphibot/internal/gateway/gatewaytest"
	"github.com/haricheung/delphibot/internal/types"
)

var transcript = types.Transcript{{Question: "Was bedroht die Zeitung?", Answer: "Plattformen und sinkende Werbeerlöse."}}

func TestBuildPrompt_ExploratoryForbidsFactors(t *testing.T) {
	got := BuildPrompt(Request{Topic: "T", TargetYear: 2047, Transcript: transcript, Exploratory: true})
	if !strings.Contains(got, "4-6 abstract") || !strings.Contains(got, "Do NOT list specific factors") {
		t.Errorf("exploratory instruction missing:\n%s", got)
	}
	if strings.Contains(got, "Meticulously extract") {
		t.Errorf("structured instruction leaked into exploratory prompt")
	}
	if !strings.Contains(got, "No specific structural guidance provided.") {
		t.Errorf("expected guidance placeholder for empty guidance")
	}
}

func TestBuildPrompt_StructuredUsesGuidance(t *testing.T) {
	got := BuildPrompt(Request{
		Topic: "T", TargetYear: 2047, Transcript: transcript,
		Guidance: "Gliedere nach: Technologie, Markt.", PersonaName: "Lena Meyer",
	})
	for _, want := range []string{
		"Meticulously extract ALL influence factors",
		"defined_output_structure_guidance):\nGliedere nach: Technologie, Markt.",
		"Interviewee: Lena Meyer",
		"Plattformen und sinkende Werbeerlöse.",
		"TargetYear: 2047",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "4-6 abstract") {
		t.Errorf("exploratory instruction leaked into structured prompt")
	}
}

func TestSummarize_ReturnsText(t *testing.T) {
	s := New(gatewaytest.New().Reply(types.RoleSummarizer, "1. Verlagswesen: ...").Gateway())
	got, err := s.Summarize(context.Background(), Request{Topic: "T", Transcript: transcript, Exploratory: true})
	if err != nil || got != "1. Verlagswesen: ..." {
		t.Fatalf("Summarize = %q, %v", got, err)
	}
}

func TestSummarize_Failure(t *testing.T) {
	s := New(gatewaytest.New().Fail(types.RoleSummarizer, 0).Gateway())
	if _, err := s.Summarize(context.Background(), Request{Transcript: transcript}); !errors.Is(err, gateway.ErrNoOutput) {
		t.Fatalf("expected ErrNoOutput, got %v", err)
	}
}

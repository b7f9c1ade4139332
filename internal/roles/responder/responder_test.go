package responder

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/haricheung/delphibot/internal/gateway"
	"github.com/haricheung/delphibot/internal/gateway/gatewaytest"
	"github.com/haricheung/delphibot/internal/types"
)

func TestBuildPrompt_CarriesPersonaHistoryAndQuestion(t *testing.T) {
	got := BuildPrompt(Input{
		Persona:    types.PersonaProfile{Name: "Lena Meyer", Role: "Medienstudentin"},
		Transcript: types.Transcript{{Question: "Lesen Sie Zeitung?", Answer: "Nur online."}},
		Question:   "Warum?",
	})
	for _, want := range []string{`"name":"Lena Meyer"`, `"answer": "Nur online."`, "CurrentQuestion: 'Warum?'"} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q:\n%s", want, got)
		}
	}
}

func TestPersona_Answer(t *testing.T) {
	f := gatewaytest.New().Reply(types.RoleResponder, "Nur über TikTok.")
	p := NewPersona(f.Gateway())
	a, err := p.Answer(context.Background(), Input{Question: "Wo lesen Sie Nachrichten?", Turn: 1})
	if err != nil || a != "Nur über TikTok." {
		t.Fatalf("Answer = %q, %v", a, err)
	}
}

func TestPersona_FailureWrapsGatewayError(t *testing.T) {
	p := NewPersona(gatewaytest.New().Fail(types.RoleResponder, 1).Gateway())
	_, err := p.Answer(context.Background(), Input{Question: "q", Turn: 1})
	if !errors.Is(err, gateway.ErrNoOutput) {
		t.Fatalf("expected ErrNoOutput, got %v", err)
	}
}

func scriptedPrompt(replies ...string) (PromptFunc, *int) {
	n := 0
	return func(string) (string, error) {
		r := replies[n]
		n++
		return r, nil
	}, &n
}

func TestHuman_FirstNonEmptyReply(t *testing.T) {
	// Returns the trimmed answer on the first non-empty reply
	fn, n := scriptedPrompt("  Ich glaube an Print.  ")
	a, err := NewHuman(fn).Answer(context.Background(), Input{Question: "q", Turn: 1})
	if err != nil || a != "Ich glaube an Print." || *n != 1 {
		t.Fatalf("Answer = %q, %v after %d prompts", a, err, *n)
	}
}

func TestHuman_ReasksOnceAfterEmptyReply(t *testing.T) {
	// Re-asks exactly once after an empty reply
	fn, n := scriptedPrompt("", "Zweiter Versuch")
	a, err := NewHuman(fn).Answer(context.Background(), Input{Question: "q", Turn: 2})
	if err != nil || a != "Zweiter Versuch" || *n != 2 {
		t.Fatalf("Answer = %q, %v after %d prompts", a, err, *n)
	}
}

func TestHuman_TwoEmptyRepliesFail(t *testing.T) {
	// Returns ErrNoAnswer after two empty replies
	fn, n := scriptedPrompt(" ", "")
	_, err := NewHuman(fn).Answer(context.Background(), Input{Question: "q", Turn: 1})
	if !errors.Is(err, ErrNoAnswer) || *n != 2 {
		t.Fatalf("expected ErrNoAnswer after 2 prompts, got %v after %d", err, *n)
	}
}

func TestHuman_PromptErrorNotRetried(t *testing.T) {
	// Returns a prompt error unchanged in the chain, without re-asking
	sentinel := errors.New("stdin closed")
	calls := 0
	h := NewHuman(func(string) (string, error) { calls++; return "", sentinel })
	_, err := h.Answer(context.Background(), Input{Question: "q", Turn: 1})
	if !errors.Is(err, sentinel) || calls != 1 {
		t.Fatalf("expected sentinel after 1 call, got %v after %d", err, calls)
	}
}

// Package responder answers interview questions, either as a simulated persona
// or by relaying them to a human interviewee.
package responder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/haricheung/delphibot/internal/gateway"
	"github.com/haricheung/delphibot/internal/types"
)

// ErrNoAnswer is returned by Human when the interviewee gives no answer.
var ErrNoAnswer = errors.New("no answer given")

// Input is everything a responder sees for one question.
type Input struct {
	Persona    types.PersonaProfile
	Transcript types.Transcript
	Question   string
	Turn       int // 1-indexed
}

// Responder produces the answer to one interview question.
type Responder interface {
	Answer(ctx context.Context, in Input) (string, error)
}

const systemPrompt = `You are an AI embodying an expert persona in a Delphi study interview. You will receive:
- A PersonaProfile (JSON) to adopt.
- The ConversationHistory.
- The CurrentQuestion from the interviewer.
Answer the CurrentQuestion from the perspective of the PersonaProfile, considering the ConversationHistory. Stay in character, including the persona's stance. Be concise. Answer in the language of the question. Output ONLY the answer.`

// Persona answers as the simulated expert through the responder role.
type Persona struct {
	g *gateway.Gateway
}

// NewPersona creates a simulated responder and registers its instructions on g.
func NewPersona(g *gateway.Gateway) *Persona {
	g.Instruct(types.RoleResponder, systemPrompt)
	return &Persona{g: g}
}

// Answer implements Responder.
func (p *Persona) Answer(ctx context.Context, in Input) (string, error) {
	a, err := p.g.Invoke(ctx, types.RoleResponder, BuildPrompt(in))
	if err != nil {
		return "", fmt.Errorf("responder turn %d: %w", in.Turn, err)
	}
	return a, nil
}

// BuildPrompt renders the responder prompt for one question.
func BuildPrompt(in Input) string {
	persona, err := json.Marshal(in.Persona)
	if err != nil {
		persona = []byte("{}")
	}
	tr := in.Transcript
	if tr == nil {
		tr = types.Transcript{}
	}
	history, err := json.MarshalIndent(tr, "", "  ")
	if err != nil {
		history = []byte("[]")
	}
	return fmt.Sprintf("PersonaProfile: %s\nConversationHistory: %s\nCurrentQuestion: '%s'\n\nAnswer as persona. Output ONLY the answer.",
		persona, history, in.Question)
}

// PromptFunc shows a question to a human and returns what they typed.
type PromptFunc func(question string) (string, error)

// Human relays questions to a person. An empty answer is asked for once more;
// a second empty answer or a prompt error is a responder failure.
type Human struct {
	prompt PromptFunc
}

// NewHuman creates a human-proxy responder around prompt.
func NewHuman(prompt PromptFunc) *Human {
	return &Human{prompt: prompt}
}

// Answer implements Responder.
//
// Expectations:
//   - Returns the trimmed answer on the first non-empty reply
//   - Re-asks exactly once after an empty reply
//   - Returns ErrNoAnswer after two empty replies
//   - Returns a prompt error unchanged in the chain, without re-asking
func (h *Human) Answer(ctx context.Context, in Input) (string, error) {
	for attempt := 1; attempt <= 2; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("human turn %d: %w", in.Turn, err)
		}
		a, err := h.prompt(in.Question)
		if err != nil {
			return "", fmt.Errorf("human turn %d: %w", in.Turn, err)
		}
		if a = strings.TrimSpace(a); a != "" {
			return a, nil
		}
		log.Printf("[RESPONDER] empty human answer on turn %d (attempt %d)", in.Turn, attempt)
	}
	return "", fmt.Errorf("human turn %d: %w", in.Turn, ErrNoAnswer)
}

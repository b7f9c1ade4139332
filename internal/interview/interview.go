// Package interview runs the question/answer loop of one phase.
//
// The loop is a small state machine:
//
//	AWAITING_QUESTION ──question──► AWAITING_ANSWER ──answer──► AWAITING_QUESTION
//	        │                              │
//	        ├─ completion token ─► CONCLUDED (terminal marker appended)
//	        ├─ turn bound reached ─► CONCLUDED (no marker)
//	        └─ role failure ───────┴─► CONCLUDED (partial transcript kept)
//
// Each turn's question sees the full transcript so far; no answer is solicited
// for a turn whose question carries the completion token.
package interview

import (
	"context"
	"fmt"
	"log"

	"github.com/haricheung/delphibot/internal/bus"
	"github.com/haricheung/delphibot/internal/roles/interviewer"
	"github.com/haricheung/delphibot/internal/roles/responder"
	"github.com/haricheung/delphibot/internal/runlog"
	"github.com/haricheung/delphibot/internal/types"
)

// State is one loop state.
type State string

const (
	AwaitingQuestion State = "AWAITING_QUESTION"
	AwaitingAnswer   State = "AWAITING_ANSWER"
	Concluded        State = "CONCLUDED"
)

// Turn bounds.
const (
	DefaultMaxTurns = 3
	MinTurns        = 1
	MaxTurns        = 10
)

// MarkerFormat is the terminal marker event text; %d is the 1-indexed turn.
const MarkerFormat = "INTERVIEW_CONCLUDED_BY_INTERVIEWER_AT_TURN_%d"

// Config describes one interview.
// Exactly one of Persona and ProfileText is used to describe the interviewee:
// a non-empty ProfileText marks a human interviewee.
type Config struct {
	Topic       string
	TargetYear  int
	Persona     types.PersonaProfile
	ProfileText string
	Guide       string
	Exploratory bool
	MaxTurns    int
	RunLog      *runlog.RunLog
}

func (c Config) human() bool { return c.ProfileText != "" }

// Loop pairs an interviewer with a responder.
type Loop struct {
	iv   *interviewer.Interviewer
	resp responder.Responder
	b    *bus.Bus
}

// New creates a Loop. b may be nil.
func New(iv *interviewer.Interviewer, resp responder.Responder, b *bus.Bus) *Loop {
	return &Loop{iv: iv, resp: resp, b: b}
}

// Run conducts the interview and returns the transcript with the reason it stopped.
//
// Expectations:
//   - Returns exactly MaxTurns question/answer turns and no marker when the token never appears
//   - On a token at turn k returns k-1 turns plus one marker as the last element and makes no further calls
//   - On a responder failure at turn k returns k-1 turns and the error
//   - On an interviewer failure returns the turns accumulated so far and the error
//   - Treats MaxTurns < 1 as DefaultMaxTurns and clamps values above MaxTurns
func (l *Loop) Run(ctx context.Context, cfg Config) (types.Transcript, types.Conclusion, error) {
	bound := ClampTurns(cfg.MaxTurns)
	to := types.RoleResponder
	if cfg.human() {
		to = types.RoleUser
	}

	tr := types.Transcript{}
	state := AwaitingQuestion
	turn := 1
	var question string

	for {
		switch state {
		case AwaitingQuestion:
			if turn > bound {
				log.Printf("[INTERVIEW] turn bound %d reached", bound)
				l.b.Emit(types.RoleInterviewer, types.RoleStudy, types.MsgInterviewEnd,
					types.TurnEvent{Turn: tr.Exchanges(), Text: string(types.ConclusionBounded)})
				return tr, types.ConclusionBounded, nil
			}
			q, err := l.iv.Ask(ctx, l.request(cfg, tr, turn, bound))
			if err != nil {
				log.Printf("[INTERVIEW] ERROR: interviewer failed on turn %d: %v", turn, err)
				return tr, types.ConclusionFailed, err
			}
			if interviewer.IsCompletion(q) {
				marker := types.Turn{Event: fmt.Sprintf(MarkerFormat, turn), Signal: q}
				tr = append(tr, marker)
				cfg.RunLog.Turn(turn, marker)
				log.Printf("[INTERVIEW] interviewer concluded at turn %d", turn)
				l.b.Emit(types.RoleInterviewer, types.RoleStudy, types.MsgInterviewEnd,
					types.TurnEvent{Turn: turn, Text: q})
				return tr, types.ConclusionSignaled, nil
			}
			question = q
			l.b.Emit(types.RoleInterviewer, to, types.MsgQuestion, types.TurnEvent{Turn: turn, Text: q})
			state = AwaitingAnswer

		case AwaitingAnswer:
			a, err := l.resp.Answer(ctx, responder.Input{
				Persona:    cfg.Persona,
				Transcript: snapshot(tr),
				Question:   question,
				Turn:       turn,
			})
			if err != nil {
				log.Printf("[INTERVIEW] ERROR: responder failed on turn %d: %v", turn, err)
				return tr, types.ConclusionFailed, err
			}
			t := types.Turn{Question: question, Answer: a}
			tr = append(tr, t)
			cfg.RunLog.Turn(turn, t)
			l.b.Emit(to, types.RoleInterviewer, types.MsgAnswer, types.TurnEvent{Turn: turn, Text: a})
			turn++
			state = AwaitingQuestion
		}
	}
}

func (l *Loop) request(cfg Config, tr types.Transcript, turn, bound int) interviewer.Request {
	req := interviewer.Request{
		Topic:       cfg.Topic,
		TargetYear:  cfg.TargetYear,
		Transcript:  snapshot(tr),
		Guide:       cfg.Guide,
		Exploratory: cfg.Exploratory,
		Turn:        turn,
		MaxTurns:    bound,
	}
	if cfg.human() {
		req.ProfileText = cfg.ProfileText
	} else {
		p := cfg.Persona
		req.Persona = &p
	}
	return req
}

// ClampTurns maps n onto [MinTurns, MaxTurns]; n < 1 means DefaultMaxTurns.
func ClampTurns(n int) int {
	switch {
	case n < MinTurns:
		return DefaultMaxTurns
	case n > MaxTurns:
		return MaxTurns
	}
	return n
}

func snapshot(tr types.Transcript) types.Transcript {
	return append(types.Transcript{}, tr...)
}

// Package phase runs one exploratory or structured phase: persona selection,
// interview loop, summarization.
package phase

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/haricheung/delphibot/internal/bus"
	"github.com/haricheung/delphibot/internal/gateway"
	"github.com/haricheung/delphibot/internal/interview"
	"github.com/haricheung/delphibot/internal/roles/interviewer"
	"github.com/haricheung/delphibot/internal/roles/persona"
	"github.com/haricheung/delphibot/internal/roles/responder"
	"github.com/haricheung/delphibot/internal/roles/summarizer"
	"github.com/haricheung/delphibot/internal/types"
)

// ErrNoHumanResponder is reported when a human interviewee has no way to answer.
var ErrNoHumanResponder = errors.New("human interviewee requires a responder")

// Options selects the phase kind and its interviewee.
type Options struct {
	Exploratory bool
	MaxTurns    int
	// Round is the 1-indexed structured round; 0 for the exploratory phase.
	Round int
	// Human, when set, replaces persona selection with this profile.
	Human *types.HumanProfile
	// Responder answers on behalf of the interviewee. Nil means the simulated
	// persona responder, which is invalid for a human interviewee.
	Responder responder.Responder
}

// Orchestrator sequences the roles of one phase.
type Orchestrator struct {
	g         *gateway.Gateway
	b         *bus.Bus
	personas  *persona.Selector
	iv        *interviewer.Interviewer
	simulated *responder.Persona
	sum       *summarizer.Summarizer
}

// New creates an Orchestrator and registers the phase roles on g. b may be nil.
func New(g *gateway.Gateway, b *bus.Bus) *Orchestrator {
	return &Orchestrator{
		g:         g,
		b:         b,
		personas:  persona.New(g),
		iv:        interviewer.New(g),
		simulated: responder.NewPersona(g),
		sum:       summarizer.New(g),
	}
}

// Run executes one phase against sc and never fails outright: every failure
// is reported through PhaseResult.Error together with the partial data.
// sc is read only; recording covered roles is the caller's concern.
//
// Expectations:
//   - Applies the diversity constraint only in structured mode with covered roles
//   - Skips persona selection for a human interviewee
//   - Reports ErrGuidesUndefined in Error for a structured phase before formalization
//   - Sets Error iff the transcript is empty or summarization failed
//   - Summarizes a transcript holding only the terminal marker
//   - Keeps the partial transcript when the interview stops on a failure
//   - Recovers a panic from any step into Error
func (o *Orchestrator) Run(ctx context.Context, sc *types.StudyContext, opts Options) (res types.PhaseResult) {
	res.Exploratory = opts.Exploratory
	kind := kindName(opts.Exploratory)
	rl := o.g.RunLog()
	rl.PhaseBegin(opts.Exploratory, opts.Round)
	o.b.Emit(types.RoleStudy, types.RolePersonaSelector, types.MsgPhaseBegin,
		types.PhaseEvent{Exploratory: opts.Exploratory, Round: opts.Round})
	log.Printf("[PHASE] %s phase begin (round=%d)", kind, opts.Round)

	defer func() {
		if r := recover(); r != nil {
			log.Printf("[PHASE] ERROR: panic in %s phase: %v", kind, r)
			res.Error = fmt.Sprintf("phase panic: %v", r)
			res.Summary = ""
			if res.Conclusion == "" {
				res.Conclusion = types.ConclusionFailed
			}
		}
		rl.PhaseEnd(res, opts.Round)
		o.b.Emit(types.RoleStudy, types.RoleStudy, types.MsgPhaseEnd, types.PhaseEvent{
			Exploratory: opts.Exploratory,
			Round:       opts.Round,
			Persona:     res.PersonaName,
			Turns:       res.Transcript.Exchanges(),
			Conclusion:  res.Conclusion,
			Error:       res.Error,
		})
		log.Printf("[PHASE] %s phase end (persona=%q turns=%d error=%q)", kind, res.PersonaName, res.Transcript.Exchanges(), res.Error)
	}()

	guide, err := sc.InterviewGuide(opts.Exploratory)
	if err != nil {
		return o.fail(res, fmt.Errorf("%s phase: %w", kind, err))
	}
	guidance, err := sc.SummaryGuidance(opts.Exploratory)
	if err != nil {
		return o.fail(res, fmt.Errorf("%s phase: %w", kind, err))
	}

	// 1. persona
	var p types.PersonaProfile
	var profileText string
	resp := opts.Responder
	if opts.Human != nil {
		p = opts.Human.Persona()
		profileText = opts.Human.Text()
		if resp == nil {
			return o.fail(res, ErrNoHumanResponder)
		}
	} else {
		var covered []string
		if !opts.Exploratory {
			covered = sc.CoveredRoles()
		}
		p, err = o.personas.Select(ctx, sc, covered)
		if err != nil {
			return o.fail(res, fmt.Errorf("persona selection failed: %w", err))
		}
		if resp == nil {
			resp = o.simulated
		}
	}
	res.Persona = &p
	res.PersonaName = p.DisplayName()
	o.b.Emit(types.RolePersonaSelector, types.RoleInterviewer, types.MsgPersonaSelected,
		types.PhaseEvent{Exploratory: opts.Exploratory, Round: opts.Round, Persona: res.PersonaName, Role: p.RoleOrUnknown()})

	// 2. interview
	tr, conclusion, ierr := interview.New(o.iv, resp, o.b).Run(ctx, interview.Config{
		Topic:       sc.Topic,
		TargetYear:  sc.TargetYear,
		Persona:     p,
		ProfileText: profileText,
		Guide:       guide,
		Exploratory: opts.Exploratory,
		MaxTurns:    opts.MaxTurns,
		RunLog:      rl,
	})
	res.Transcript = tr
	res.Conclusion = conclusion
	if len(tr) == 0 {
		if ierr == nil {
			ierr = errors.New("no turns recorded")
		}
		return o.fail(res, fmt.Errorf("interview transcript empty: %w", ierr))
	}
	if ierr != nil {
		log.Printf("[PHASE] interview stopped early after %d turns: %v", tr.Exchanges(), ierr)
	}

	// 3. summary
	summary, err := o.sum.Summarize(ctx, summarizer.Request{
		Topic:       sc.Topic,
		TargetYear:  sc.TargetYear,
		PersonaName: res.PersonaName,
		Transcript:  tr,
		Guidance:    guidance,
		Exploratory: opts.Exploratory,
	})
	if err != nil {
		return o.fail(res, fmt.Errorf("summarization failed: %w", err))
	}
	res.Summary = summary
	o.b.Emit(types.RoleSummarizer, types.RoleStudy, types.MsgSummary,
		types.TextEvent{Label: res.PersonaName, Text: summary})
	return res
}

func (o *Orchestrator) fail(res types.PhaseResult, err error) types.PhaseResult {
	res.Error = err.Error()
	if res.Conclusion == "" {
		res.Conclusion = types.ConclusionFailed
	}
	o.b.Emit(types.RoleStudy, types.RoleUser, types.MsgFailure, types.TextEvent{Label: "phase", Text: res.Error})
	return res
}

func kindName(exploratory bool) string {
	if exploratory {
		return "exploratory"
	}
	return "structured"
}

// Package study drives a Delphi study through its phases with user
// checkpoints between them.
//
// State flow:
//
//	setup → exploratory_running → exploratory_done → structure_formalizing → structure_review
//	      → structured_rounds ⇄ structured_running → structured_done
//	      → catalog_generating → catalog_done
//
// Reset returns to setup from any state. Every transition is published on the
// bus as MsgStudyState.
package study

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/haricheung/delphibot/internal/archive"
	"github.com/haricheung/delphibot/internal/bus"
	"github.com/haricheung/delphibot/internal/gateway"
	"github.com/haricheung/delphibot/internal/interview"
	"github.com/haricheung/delphibot/internal/phase"
	"github.com/haricheung/delphibot/internal/roles/catalog"
	"github.com/haricheung/delphibot/internal/roles/manager"
	"github.com/haricheung/delphibot/internal/roles/responder"
	"github.com/haricheung/delphibot/internal/runlog"
	"github.com/haricheung/delphibot/internal/types"
	"github.com/haricheung/delphibot/internal/usage"
)

// State is one study state.
type State string

const (
	StateSetup              State = "setup"
	StateExploratoryRunning State = "exploratory_running"
	StateExploratoryDone    State = "exploratory_done"
	StateFormalizing        State = "structure_formalizing"
	StateReview             State = "structure_review"
	StateRounds             State = "structured_rounds"
	StateRoundRunning       State = "structured_running"
	StateStructuredDone     State = "structured_done"
	StateCatalogGenerating  State = "catalog_generating"
	StateCatalogDone        State = "catalog_done"
)

// Round bounds.
const (
	DefaultRounds = 1
	MinRounds     = 1
	MaxRounds     = 10
)

var (
	// ErrInvalidTransition means the operation is not allowed in the current state.
	ErrInvalidTransition = errors.New("invalid study transition")
	// ErrPhaseFailed wraps the PhaseResult error of a failed phase.
	ErrPhaseFailed = errors.New("phase failed")
	// ErrEmptySummary means a blank exploratory summary was confirmed.
	ErrEmptySummary = errors.New("confirmed summary is empty")
	// ErrNotConfirmed means formalization ran before the summary was confirmed.
	ErrNotConfirmed = errors.New("exploratory summary not confirmed")
)

// Config configures a Machine. Study is the template every Reset starts from.
type Config struct {
	Study    *types.StudyContext
	MaxTurns int
	Rounds   int
	// Human, when set, is interviewed in the exploratory phase through HumanResponder.
	Human          *types.HumanProfile
	HumanResponder responder.Responder
	// Runs opens one run log per session; nil disables run logs.
	Runs *runlog.Registry
}

// Reviewer is consulted at the two user checkpoints of Drive.
type Reviewer interface {
	// ReviewSummary returns the summary to confirm, possibly edited.
	ReviewSummary(ctx context.Context, summary string) (string, error)
	// ReviewGuides returns the guides to accept, possibly edited.
	ReviewGuides(ctx context.Context, g types.DefinedGuides) (types.DefinedGuides, error)
}

// AutoAccept is a Reviewer that accepts everything unchanged.
type AutoAccept struct{}

func (AutoAccept) ReviewSummary(_ context.Context, s string) (string, error) { return s, nil }

func (AutoAccept) ReviewGuides(_ context.Context, g types.DefinedGuides) (types.DefinedGuides, error) {
	return g, nil
}

// Report is a snapshot of a study session.
type Report struct {
	SessionID        string
	State            State
	Study            *types.StudyContext
	Exploratory      *types.PhaseResult
	ConfirmedSummary string
	Structured       []types.PhaseResult
	Catalog          string
	Usage            usage.Totals
	RoleStats        []usage.RoleStat
}

// Machine owns one study session at a time. Operations are serialised;
// State may be read at any time.
type Machine struct {
	mu    sync.Mutex
	state atomic.Value // State

	cfg        Config
	g          *gateway.Gateway
	b          *bus.Bus
	store      *archive.Store
	phases     *phase.Orchestrator
	formalizer *manager.Formalizer
	synth      *catalog.Synthesizer

	// Phase results and the catalog live in store under the session ID.
	sc        *types.StudyContext
	session   *usage.Session
	confirmed string
	proposed  *types.DefinedGuides
	done      int // successful structured rounds
	attempts  int // structured rounds attempted
}

// New creates a Machine in StateSetup with a fresh session.
func New(g *gateway.Gateway, b *bus.Bus, store *archive.Store, cfg Config) *Machine {
	cfg.MaxTurns = interview.ClampTurns(cfg.MaxTurns)
	cfg.Rounds = ClampRounds(cfg.Rounds)
	if cfg.Study == nil {
		cfg.Study = &types.StudyContext{}
	}
	m := &Machine{
		cfg:        cfg,
		g:          g,
		b:          b,
		store:      store,
		phases:     phase.New(g, b),
		formalizer: manager.New(g),
		synth:      catalog.New(g),
	}
	m.state.Store(StateSetup)
	m.mu.Lock()
	m.begin()
	m.mu.Unlock()
	return m
}

// ClampRounds maps n onto [MinRounds, MaxRounds]; n < 1 means DefaultRounds.
func ClampRounds(n int) int {
	switch {
	case n < MinRounds:
		return DefaultRounds
	case n > MaxRounds:
		return MaxRounds
	}
	return n
}

// State returns the current state.
func (m *Machine) State() State { return m.state.Load().(State) }

// SessionID returns the current session identifier.
func (m *Machine) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.ID
}

// Context returns a copy of the current study context.
func (m *Machine) Context() *types.StudyContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sc.Clone()
}

// RunExploratory runs the exploratory phase.
//
// Expectations:
//   - Allowed in setup and exploratory_done (re-run)
//   - On success stores the result and moves to exploratory_done
//   - On failure returns ErrPhaseFailed with the result and moves back to setup
func (m *Machine) RunExploratory(ctx context.Context) (types.PhaseResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.expect("run exploratory", StateSetup, StateExploratoryDone); err != nil {
		return types.PhaseResult{}, err
	}
	m.to(StateExploratoryRunning)

	opts := phase.Options{Exploratory: true, MaxTurns: m.cfg.MaxTurns}
	if m.cfg.Human != nil {
		h := *m.cfg.Human
		opts.Human = &h
		opts.Responder = m.cfg.HumanResponder
	}
	res := m.phases.Run(ctx, m.sc.Clone(), opts)
	m.confirmed = ""
	if res.Failed() {
		if err := m.store.DeleteExploratory(m.session.ID); err != nil {
			log.Printf("[STUDY] WARNING: %v", err)
		}
		m.to(StateSetup)
		return res, fmt.Errorf("exploratory: %w: %s", ErrPhaseFailed, res.Error)
	}
	if err := m.store.PutExploratory(m.session.ID, res); err != nil {
		m.to(StateSetup)
		return res, fmt.Errorf("exploratory: %w", err)
	}
	m.to(StateExploratoryDone)
	return res, nil
}

// ConfirmSummary records the (possibly edited) exploratory summary that
// formalization will read.
func (m *Machine) ConfirmSummary(edited string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.expect("confirm summary", StateExploratoryDone); err != nil {
		return err
	}
	edited = strings.TrimSpace(edited)
	if edited == "" {
		return ErrEmptySummary
	}
	m.confirmed = edited
	log.Printf("[STUDY] exploratory summary confirmed (%d chars)", len(edited))
	return nil
}

// Formalize derives the defined guides from the confirmed summary.
//
// Expectations:
//   - Requires exploratory_done and a confirmed summary
//   - On success moves to structure_review with the guides proposed
//   - On failure moves back to exploratory_done
func (m *Machine) Formalize(ctx context.Context) (types.DefinedGuides, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.expect("formalize", StateExploratoryDone); err != nil {
		return types.DefinedGuides{}, err
	}
	if m.confirmed == "" {
		return types.DefinedGuides{}, ErrNotConfirmed
	}
	m.to(StateFormalizing)
	guides, err := m.formalizer.Formalize(ctx, m.sc, m.confirmed)
	if err != nil {
		m.g.RunLog().Formalize(nil, err)
		m.b.Emit(types.RoleManager, types.RoleUser, types.MsgFailure, types.TextEvent{Label: "formalize", Text: err.Error()})
		m.to(StateExploratoryDone)
		return types.DefinedGuides{}, err
	}
	m.g.RunLog().Formalize(&guides, nil)
	m.proposed = &guides
	m.b.Emit(types.RoleManager, types.RoleUser, types.MsgGuidesDefined, types.TextEvent{Label: "interview guide", Text: guides.InterviewGuide})
	m.to(StateReview)
	return guides, nil
}

// AcceptGuides installs the (possibly edited) guides and opens the structured rounds.
// The exploratory interviewee's role counts as covered from here on.
func (m *Machine) AcceptGuides(edited types.DefinedGuides) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.expect("accept guides", StateReview); err != nil {
		return err
	}
	if err := m.sc.DefineGuides(edited); err != nil {
		return err
	}
	if e := m.storedExploratory(); e != nil && e.Persona != nil {
		m.sc.CoverRole(e.Persona.Role)
	}
	m.proposed = nil
	m.to(StateRounds)
	return nil
}

// RunStructuredRound runs one structured phase.
//
// Expectations:
//   - Requires structured_rounds and defined guides
//   - Archives a successful result and records its persona role as covered
//   - Does not archive a failed result; returns it with ErrPhaseFailed
//   - Moves to structured_done once the target round count succeeded
func (m *Machine) RunStructuredRound(ctx context.Context) (types.PhaseResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.expect("run structured round", StateRounds); err != nil {
		return types.PhaseResult{}, err
	}
	if !m.sc.Formalized() {
		return types.PhaseResult{}, fmt.Errorf("structured round: %w", types.ErrGuidesUndefined)
	}
	m.to(StateRoundRunning)
	m.attempts++
	round := m.done + 1
	res := m.phases.Run(ctx, m.sc.Clone(), phase.Options{MaxTurns: m.cfg.MaxTurns, Round: round})
	if res.Failed() {
		log.Printf("[STUDY] structured round %d failed: %s", round, res.Error)
		m.to(StateRounds)
		return res, fmt.Errorf("structured round %d: %w: %s", round, ErrPhaseFailed, res.Error)
	}
	if _, err := m.store.AppendStructured(m.session.ID, res); err != nil {
		log.Printf("[STUDY] WARNING: %v", err)
	}
	if res.Persona != nil {
		m.sc.CoverRole(res.Persona.Role)
	}
	m.done++
	if m.done >= m.cfg.Rounds {
		m.to(StateStructuredDone)
	} else {
		m.to(StateRounds)
	}
	return res, nil
}

// FinishRounds closes the structured rounds before the target count is reached.
func (m *Machine) FinishRounds() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.expect("finish rounds", StateRounds); err != nil {
		return err
	}
	m.to(StateStructuredDone)
	return nil
}

// GenerateCatalog synthesizes the final catalog from the archived structured
// summaries, falling back to the confirmed exploratory summary.
//
// Expectations:
//   - Allowed in structured_done and catalog_done (regenerate)
//   - Returns catalog.ErrMissingGuidance before any call when the guidance is absent
//   - Returns catalog.ErrNoSummaries before any call when nothing can be aggregated
//   - On failure moves back to structured_done
func (m *Machine) GenerateCatalog(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.expect("generate catalog", StateStructuredDone, StateCatalogDone); err != nil {
		return "", err
	}
	if err := catalog.Ready(m.sc); err != nil {
		return "", fmt.Errorf("catalog: %w", err)
	}
	structured, err := m.store.Structured(m.session.ID)
	if err != nil {
		log.Printf("[STUDY] WARNING: %v", err)
	}
	name := ""
	if e := m.storedExploratory(); e != nil {
		name = e.PersonaName
	}
	aggregated, n := catalog.Aggregate(structured, name, m.confirmed)
	if n == 0 {
		return "", fmt.Errorf("catalog: %w", catalog.ErrNoSummaries)
	}

	prev := m.State()
	m.to(StateCatalogGenerating)
	text, err := m.synth.Synthesize(ctx, m.sc, aggregated)
	m.g.RunLog().Catalog(n, text, err)
	if err != nil {
		m.b.Emit(types.RoleCatalogWriter, types.RoleUser, types.MsgFailure, types.TextEvent{Label: "catalog", Text: err.Error()})
		if prev == StateCatalogDone {
			m.to(StateCatalogDone)
		} else {
			m.to(StateStructuredDone)
		}
		return "", err
	}
	if err := m.store.PutCatalog(m.session.ID, text); err != nil {
		m.to(prev)
		return "", fmt.Errorf("catalog: %w", err)
	}
	m.b.Emit(types.RoleCatalogWriter, types.RoleUser, types.MsgCatalogReady,
		types.TextEvent{Label: fmt.Sprintf("%d sources", n), Text: text})
	m.to(StateCatalogDone)
	return text, nil
}

// Reset ends the current session and starts a new study from the configured template.
func (m *Machine) Reset(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.end(status)
	m.begin()
	m.to(StateSetup)
}

// Close ends the current session's run log with status.
func (m *Machine) Close(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.Runs.Close(m.session.ID, status, m.session)
}

// Report returns a snapshot of the current session.
func (m *Machine) Report() Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := Report{
		SessionID:        m.session.ID,
		State:            m.State(),
		Study:            m.sc.Clone(),
		ConfirmedSummary: m.confirmed,
		Exploratory:      m.storedExploratory(),
		Usage:            m.session.Totals(),
		RoleStats:        m.session.RoleStats(),
	}
	if c, err := m.store.Catalog(m.session.ID); err == nil {
		r.Catalog = c
	} else if !errors.Is(err, archive.ErrNotFound) {
		log.Printf("[STUDY] WARNING: %v", err)
	}
	if s, err := m.store.Structured(m.session.ID); err == nil {
		r.Structured = s
	}
	return r
}

// Drive runs the whole study, consulting rv at the checkpoints. Structured
// rounds are attempted at most twice the target count; the catalog is built
// from whatever succeeded.
func (m *Machine) Drive(ctx context.Context, rv Reviewer) (Report, error) {
	res, err := m.RunExploratory(ctx)
	if err != nil {
		return m.Report(), err
	}
	summary, err := rv.ReviewSummary(ctx, res.Summary)
	if err != nil {
		return m.Report(), fmt.Errorf("review summary: %w", err)
	}
	if err := m.ConfirmSummary(summary); err != nil {
		return m.Report(), err
	}
	guides, err := m.Formalize(ctx)
	if err != nil {
		return m.Report(), err
	}
	guides, err = rv.ReviewGuides(ctx, guides)
	if err != nil {
		return m.Report(), fmt.Errorf("review guides: %w", err)
	}
	if err := m.AcceptGuides(guides); err != nil {
		return m.Report(), err
	}

	limit := 2 * m.cfg.Rounds
	for m.State() == StateRounds && m.attemptCount() < limit {
		if err := ctx.Err(); err != nil {
			return m.Report(), err
		}
		if _, err := m.RunStructuredRound(ctx); err != nil && !errors.Is(err, ErrPhaseFailed) {
			return m.Report(), err
		}
	}
	if m.State() == StateRounds {
		log.Printf("[STUDY] round attempts exhausted (%d); continuing with the results so far", limit)
		if err := m.FinishRounds(); err != nil {
			return m.Report(), err
		}
	}
	if _, err := m.GenerateCatalog(ctx); err != nil {
		return m.Report(), err
	}
	return m.Report(), nil
}

func (m *Machine) attemptCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// begin starts a fresh session. Caller holds m.mu.
func (m *Machine) begin() {
	m.sc = m.cfg.Study.Clone()
	m.session = usage.NewSession()
	m.confirmed = ""
	m.proposed = nil
	m.done = 0
	m.attempts = 0
	rl := m.cfg.Runs.Open(m.session.ID, m.sc.Topic)
	m.g.Attach(m.session, rl)
	log.Printf("[STUDY] session %s started (topic=%q)", m.session.ID, m.sc.Topic)
}

// storedExploratory returns the archived exploratory result, or nil. Caller holds m.mu.
func (m *Machine) storedExploratory() *types.PhaseResult {
	r, err := m.store.Exploratory(m.session.ID)
	if err != nil {
		if !errors.Is(err, archive.ErrNotFound) {
			log.Printf("[STUDY] WARNING: %v", err)
		}
		return nil
	}
	return &r
}

// end closes the current session. Caller holds m.mu.
func (m *Machine) end(status string) {
	m.cfg.Runs.Close(m.session.ID, status, m.session)
	if _, err := m.store.Purge(m.session.ID); err != nil {
		log.Printf("[STUDY] WARNING: %v", err)
	}
}

func (m *Machine) expect(op string, allowed ...State) error {
	cur := m.State()
	for _, s := range allowed {
		if cur == s {
			return nil
		}
	}
	return fmt.Errorf("%s in state %s: %w", op, cur, ErrInvalidTransition)
}

func (m *Machine) to(s State) {
	from := m.State()
	m.state.Store(s)
	log.Printf("[STUDY] %s → %s", from, s)
	m.b.Emit(types.RoleStudy, types.RoleUser, types.MsgStudyState, types.StateChange{From: string(from), To: string(s)})
}

// Package runlog writes one JSONL trace file per study run.
//
// Events capture every key stage: role calls (with full prompts and provider
// token counts), interview turns, phase boundaries, formalization and catalog
// synthesis. The trace is the post-hoc record of how a catalog came to be.
//
// Design constraints:
//   - All RunLog methods are nil-safe (no-op on nil receiver) so callers don't
//     need nil checks before every log call.
//   - Registry is the sole owner of JSONL persistence; components never open files.
//   - The study machine opens a log via Registry.Open and closes it via Registry.Close.
package runlog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/haricheung/delphibot/internal/types"
	"github.com/haricheung/delphibot/internal/usage"
)

// EventKind labels a single structured event in the run log.
type EventKind string

const (
	KindRunBegin   EventKind = "run_begin"
	KindRunEnd     EventKind = "run_end"
	KindPhaseBegin EventKind = "phase_begin"
	KindPhaseEnd   EventKind = "phase_end"
	KindRoleCall   EventKind = "role_call"
	KindTurn       EventKind = "turn"
	KindFormalize  EventKind = "formalize"
	KindCatalog    EventKind = "catalog"
)

// Event is one JSONL line in the run log.
// Fields are omitempty so each event only serialises relevant data.
type Event struct {
	Kind      EventKind `json:"kind"`
	Timestamp string    `json:"ts"`

	// run_begin / run_end
	RunID       string           `json:"run_id,omitempty"`
	Topic       string           `json:"topic,omitempty"`
	Status      string           `json:"status,omitempty"` // "catalog_done" | "aborted" | ...
	ElapsedMs   int64            `json:"elapsed_ms,omitempty"`
	InputUnits  int              `json:"input_units,omitempty"`
	OutputUnits int              `json:"output_units,omitempty"`
	UsageStats  []usage.RoleStat `json:"usage_stats,omitempty"` // run_end only
	RoleStats   []RoleStat       `json:"role_stats,omitempty"`  // run_end only

	// phase_begin / phase_end / turn
	Phase      string `json:"phase,omitempty"` // "exploratory" | "structured"
	Round      int    `json:"round,omitempty"`
	Persona    string `json:"persona,omitempty"`
	Conclusion string `json:"conclusion,omitempty"`
	Turns      int    `json:"turns,omitempty"`
	Error      string `json:"error,omitempty"`

	// role_call
	Role             string `json:"role,omitempty"`
	SystemPrompt     string `json:"system_prompt,omitempty"`
	UserPrompt       string `json:"user_prompt,omitempty"`
	Response         string `json:"response,omitempty"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`

	// turn
	TurnIndex int    `json:"turn_index,omitempty"`
	Question  string `json:"question,omitempty"`
	Answer    string `json:"answer,omitempty"`
	Signal    string `json:"signal,omitempty"`

	// formalize / catalog
	OK      *bool  `json:"ok,omitempty"` // pointer: false must be serialised
	Summary string `json:"summary,omitempty"`
	Chars   int    `json:"chars,omitempty"`
}

// RoleStat summarises provider-reported usage for one role across a run.
type RoleStat struct {
	Role             string `json:"role"`
	Calls            int    `json:"calls"`
	Failures         int    `json:"failures"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	ElapsedMs        int64  `json:"elapsed_ms"`
}

// roleStat is the unexported per-role accumulator stored inside a RunLog.
type roleStat struct {
	calls            int
	failures         int
	promptTokens     int
	completionTokens int
	elapsedMs        int64
}

// RunLog is a handle for writing structured events for one run.
//
// Expectations:
//   - All methods are nil-safe (no-op when called on nil *RunLog)
//   - Concurrent writes are safe (mutex-protected)
//   - ProviderTokens returns the running sum of prompt+completion tokens across all RoleCall events
type RunLog struct {
	runID            string
	started          time.Time
	mu               sync.Mutex
	f                *os.File
	promptTokens     int
	completionTokens int
	roleStats        map[string]*roleStat
}

// Registry maps run IDs to open RunLogs.
// It is the sole authority for creating and closing run log files.
//
// Expectations:
//   - Open creates the log directory if absent
//   - Open writes a run_begin event as the first JSONL line
//   - Open returns the existing log without re-opening when called twice for the same runID
//   - Get returns nil for unknown run IDs
//   - Close writes run_end with status, elapsed_ms and unit totals before flushing
//   - Close removes the runID from the registry so subsequent Get returns nil
//   - Close no-ops gracefully when runID is not registered
type Registry struct {
	dir  string
	mu   sync.Mutex
	logs map[string]*RunLog
}

// NewRegistry creates a Registry that writes one JSONL file per run under dir.
func NewRegistry(dir string) *Registry {
	return &Registry{dir: dir, logs: make(map[string]*RunLog)}
}

// Open creates a new RunLog for runID, writes a run_begin event, and registers it.
// If a log for runID is already open, it returns the existing log.
func (r *Registry) Open(runID, topic string) *RunLog {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if rl, ok := r.logs[runID]; ok {
		return rl
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		slog.Error("[RUNLOG] could not create dir", "dir", r.dir, "error", err)
		return nil
	}
	path := filepath.Join(r.dir, runID+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		slog.Error("[RUNLOG] could not open log file", "path", path, "error", err)
		return nil
	}

	rl := &RunLog{runID: runID, started: time.Now(), f: f, roleStats: make(map[string]*roleStat)}
	r.logs[runID] = rl
	rl.write(Event{Kind: KindRunBegin, RunID: runID, Topic: topic})
	return rl
}

// Get returns the RunLog for runID, or nil if not found.
// Nil is safe to pass to all RunLog methods.
func (r *Registry) Get(runID string) *RunLog {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.logs[runID]
}

// Close writes a run_end event with the session usage, flushes and closes the
// file, and removes the entry from the registry. Safe to call on a nil
// *Registry or unknown runID.
func (r *Registry) Close(runID, status string, s *usage.Session) {
	if r == nil {
		return
	}
	r.mu.Lock()
	rl, ok := r.logs[runID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.logs, runID)
	r.mu.Unlock()

	totals := s.Totals()
	rl.write(Event{
		Kind:        KindRunEnd,
		RunID:       runID,
		Status:      status,
		ElapsedMs:   time.Since(rl.started).Milliseconds(),
		InputUnits:  totals.Input,
		OutputUnits: totals.Output,
		UsageStats:  s.RoleStats(),
		RoleStats:   rl.RoleStats(),
	})

	rl.mu.Lock()
	if rl.f != nil {
		_ = rl.f.Close()
		rl.f = nil
	}
	rl.mu.Unlock()
}

// Path returns the file a run log for runID is written to.
func (r *Registry) Path(runID string) string {
	if r == nil {
		return ""
	}
	return filepath.Join(r.dir, runID+".jsonl")
}

// RunID returns the run identifier, or "" on a nil receiver.
func (rl *RunLog) RunID() string {
	if rl == nil {
		return ""
	}
	return rl.runID
}

// RoleCall writes a role_call event with full prompts, response and provider
// token counts. callErr is nil on success; a failed call is counted per role.
func (rl *RunLog) RoleCall(role types.Role, systemPrompt, userPrompt, response string, promptToks, completionToks int, elapsedMs int64, callErr error) {
	if rl == nil {
		return
	}
	rl.mu.Lock()
	rl.promptTokens += promptToks
	rl.completionTokens += completionToks
	rs := rl.roleStats[string(role)]
	if rs == nil {
		rs = &roleStat{}
		rl.roleStats[string(role)] = rs
	}
	rs.calls++
	if callErr != nil {
		rs.failures++
	}
	rs.promptTokens += promptToks
	rs.completionTokens += completionToks
	rs.elapsedMs += elapsedMs
	rl.mu.Unlock()

	e := Event{
		Kind:             KindRoleCall,
		Role:             string(role),
		SystemPrompt:     systemPrompt,
		UserPrompt:       userPrompt,
		Response:         response,
		PromptTokens:     promptToks,
		CompletionTokens: completionToks,
		ElapsedMs:        elapsedMs,
	}
	if callErr != nil {
		e.Error = callErr.Error()
	}
	rl.write(e)
}

// PhaseBegin writes a phase_begin event. round is 0 for the exploratory phase.
func (rl *RunLog) PhaseBegin(exploratory bool, round int) {
	if rl == nil {
		return
	}
	rl.write(Event{Kind: KindPhaseBegin, Phase: phaseName(exploratory), Round: round})
}

// Turn writes one transcript element as a turn event. index is 1-indexed.
func (rl *RunLog) Turn(index int, t types.Turn) {
	if rl == nil {
		return
	}
	rl.write(Event{
		Kind:      KindTurn,
		TurnIndex: index,
		Question:  t.Question,
		Answer:    t.Answer,
		Status:    t.Event,
		Signal:    t.Signal,
	})
}

// PhaseEnd writes a phase_end event summarising the PhaseResult.
func (rl *RunLog) PhaseEnd(res types.PhaseResult, round int) {
	if rl == nil {
		return
	}
	rl.write(Event{
		Kind:       KindPhaseEnd,
		Phase:      phaseName(res.Exploratory),
		Round:      round,
		Persona:    res.PersonaName,
		Conclusion: string(res.Conclusion),
		Turns:      res.Transcript.Exchanges(),
		Error:      res.Error,
		Summary:    res.Summary,
	})
}

// Formalize writes a formalize event. guides is nil when formalization failed.
func (rl *RunLog) Formalize(guides *types.DefinedGuides, err error) {
	if rl == nil {
		return
	}
	ok := err == nil && guides != nil
	e := Event{Kind: KindFormalize, OK: &ok}
	if err != nil {
		e.Error = err.Error()
	}
	if guides != nil {
		e.Summary = guides.InterviewGuide
	}
	rl.write(e)
}

// Catalog writes a catalog event with the size of the synthesized document.
func (rl *RunLog) Catalog(sources int, catalog string, err error) {
	if rl == nil {
		return
	}
	ok := err == nil
	e := Event{Kind: KindCatalog, OK: &ok, Turns: sources, Chars: len(catalog)}
	if err != nil {
		e.Error = err.Error()
	}
	rl.write(e)
}

// RoleStats returns a snapshot of per-role provider usage sorted by
// types.GenerationRoles order. Roles that made no calls are omitted.
//
// Expectations:
//   - Returns one entry per role that called RoleCall
//   - Calls count matches number of RoleCall invocations per role
//   - Failures counts the RoleCall invocations that carried an error
//   - PromptTokens and CompletionTokens match the sum across calls for that role
func (rl *RunLog) RoleStats() []RoleStat {
	if rl == nil {
		return nil
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	var out []RoleStat
	for _, role := range types.GenerationRoles {
		rs, ok := rl.roleStats[string(role)]
		if !ok {
			continue
		}
		out = append(out, RoleStat{
			Role:             string(role),
			Calls:            rs.calls,
			Failures:         rs.failures,
			PromptTokens:     rs.promptTokens,
			CompletionTokens: rs.completionTokens,
			ElapsedMs:        rs.elapsedMs,
		})
	}
	return out
}

// ProviderTokens returns the provider-reported token count accumulated so far.
//
// Expectations:
//   - Returns 0 on nil receiver
//   - Returns sum of prompt and completion tokens from all RoleCall events
func (rl *RunLog) ProviderTokens() int {
	if rl == nil {
		return 0
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.promptTokens + rl.completionTokens
}

func phaseName(exploratory bool) string {
	if exploratory {
		return "exploratory"
	}
	return "structured"
}

// write appends one JSON line to the run log file. Adds timestamp, mutex-protected.
func (rl *RunLog) write(e Event) {
	e.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	data, err := json.Marshal(e)
	if err != nil {
		slog.Error("[RUNLOG] marshal event", "error", err)
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.f == nil {
		return
	}
	if _, err = fmt.Fprintf(rl.f, "%s\n", data); err != nil {
		slog.Error("[RUNLOG] write event", "error", err)
	}
}

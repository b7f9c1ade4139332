package ui

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/haricheung/delphibot/internal/types"
)

// ANSI codes
const (
	ansiReset   = "\033[0m"
	ansiBold    = "\033[1m"
	ansiDim     = "\033[2m"
	ansiCyan    = "\033[36m"
	ansiYellow  = "\033[33m"
	ansiGreen   = "\033[32m"
	ansiRed     = "\033[31m"
	ansiMagenta = "\033[35m"
	ansiBlue    = "\033[34m"
)

// detailWidth is the display width budget for the detail part of a flow line.
const detailWidth = 60

var roleEmoji = map[types.Role]string{
	types.RoleStudy:           "🧭",
	types.RolePersonaSelector: "🎭",
	types.RoleInterviewer:     "🎤",
	types.RoleResponder:       "💬",
	types.RoleSummarizer:      "📝",
	types.RoleManager:         "📐",
	types.RoleCatalogWriter:   "📚",
	types.RoleUser:            "👤",
}

var msgColor = map[types.MessageType]string{
	types.MsgStudyState:      ansiDim,
	types.MsgPhaseBegin:      ansiBold + ansiCyan,
	types.MsgPersonaSelected: ansiMagenta,
	types.MsgQuestion:        ansiCyan,
	types.MsgAnswer:          ansiBlue,
	types.MsgInterviewEnd:    ansiDim + ansiCyan,
	types.MsgSummary:         ansiYellow,
	types.MsgPhaseEnd:        ansiDim,
	types.MsgGuidesDefined:   ansiMagenta,
	types.MsgCatalogReady:    ansiGreen,
	types.MsgFailure:         ansiRed,
}

var msgStatus = map[types.MessageType]string{
	types.MsgPhaseBegin:      "🎭 selecting persona...",
	types.MsgPersonaSelected: "🎤 preparing first question...",
	types.MsgQuestion:        "💬 answering...",
	types.MsgAnswer:          "🎤 thinking of the next question...",
	types.MsgInterviewEnd:    "📝 summarizing...",
	types.MsgSummary:         "🧭 wrapping up phase...",
	types.MsgGuidesDefined:   "👤 awaiting review...",
}

// dynamicStatus returns a spinner label for msg, enriched with payload detail
// for message types where the static label alone is not informative enough.
func dynamicStatus(msg types.Message) string {
	if msg.Type == types.MsgStudyState {
		var s types.StateChange
		if remarshal(msg.Payload, &s) == nil {
			switch s.To {
			case "structure_formalizing":
				return "📐 formalizing structure..."
			case "catalog_generating":
				return "📚 synthesizing catalog..."
			case "exploratory_running", "structured_running":
				return "🎭 selecting persona..."
			}
		}
	}
	return msgStatus[msg.Type]
}

var spinRunes = []rune("⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏")

// Display renders the inter-role flow of a study to a terminal.
// It reads from a bus tap channel and animates a spinner between events.
type Display struct {
	tap        <-chan types.Message
	out        io.Writer
	abortCh    chan struct{}
	resumeCh   chan struct{}
	mu         sync.Mutex
	status     string
	started    time.Time
	inStudy    bool
	spinIdx    int
	held       bool // true while a prompt owns the terminal; spinner frames are skipped
	suppressed bool // true after Abort(); blocks new boxes until Resume()
}

// New creates a Display reading from tap and writing to out.
func New(tap <-chan types.Message, out io.Writer) *Display {
	return &Display{tap: tap, out: out, abortCh: make(chan struct{}, 1), resumeCh: make(chan struct{}, 1)}
}

// Abort closes the current box and drops stale messages until Resume.
// Safe to call from any goroutine.
func (d *Display) Abort() {
	select {
	case d.abortCh <- struct{}{}:
	default:
	}
}

// Resume lifts the post-abort suppression.
// Safe to call from any goroutine.
func (d *Display) Resume() {
	select {
	case d.resumeCh <- struct{}{}:
	default:
	}
}

// Hold stops spinner frames while an interactive prompt is on screen.
func (d *Display) Hold() {
	d.mu.Lock()
	d.held = true
	d.mu.Unlock()
	fmt.Fprint(d.out, "\r\033[K")
}

// Release restarts spinner frames after Hold.
func (d *Display) Release() {
	d.mu.Lock()
	d.held = false
	d.mu.Unlock()
}

// Run renders flow lines and animates the spinner until ctx is done or the
// tap closes. All terminal writes happen on this goroutine.
func (d *Display) Run(ctx context.Context) {
	ticker := time.NewTicker(80 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Fprint(d.out, "\r\033[K")
			return

		case <-d.abortCh:
			if d.inStudy {
				fmt.Fprint(d.out, "\r\033[K")
				d.endStudy(false)
			}
			d.mu.Lock()
			d.suppressed = true
			d.mu.Unlock()

		case <-d.resumeCh:
			d.mu.Lock()
			d.suppressed = false
			d.mu.Unlock()

		case msg, ok := <-d.tap:
			if !ok {
				return
			}
			d.handle(msg)

		case <-ticker.C:
			d.mu.Lock()
			status, held := d.status, d.held
			d.mu.Unlock()
			if !d.inStudy || held || status == "" {
				continue
			}
			frame := spinRunes[d.spinIdx%len(spinRunes)]
			d.spinIdx++
			fmt.Fprintf(d.out, "\r%s%s%s %s", ansiCyan, string(frame), ansiReset, status)
		}
	}
}

func (d *Display) handle(msg types.Message) {
	if !d.inStudy {
		d.mu.Lock()
		sup := d.suppressed
		d.mu.Unlock()
		if sup {
			return
		}
		d.startStudy()
	}
	fmt.Fprint(d.out, "\r\033[K")
	if line := flowLine(msg); line != "" {
		fmt.Fprintln(d.out, line)
	}
	d.setStatus(dynamicStatus(msg))
	if done, ok := finished(msg); done {
		d.endStudy(ok)
	}
}

// finished reports whether msg ends the study box, and whether successfully.
func finished(msg types.Message) (done, ok bool) {
	if msg.Type != types.MsgStudyState {
		return false, false
	}
	var s types.StateChange
	if remarshal(msg.Payload, &s) != nil {
		return false, false
	}
	switch {
	case s.To == "catalog_done":
		return true, true
	case s.To == "setup" && s.From != "setup":
		return true, false
	}
	return false, false
}

func (d *Display) startStudy() {
	d.started = time.Now()
	d.inStudy = true
	d.setStatus("initializing...")
	fmt.Fprintf(d.out, "\n%s┌─── 🔮 delphi study %s%s\n", ansiDim, strings.Repeat("─", 40), ansiReset)
}

func (d *Display) endStudy(success bool) {
	d.inStudy = false
	elapsed := time.Since(d.started).Round(time.Millisecond)
	icon := "✅"
	if !success {
		icon = "❌"
	}
	fmt.Fprintf(d.out, "\r\033[K%s└─── %s  %v %s%s\n", ansiDim, icon, elapsed, strings.Repeat("─", 35), ansiReset)
}

func (d *Display) setStatus(s string) {
	d.mu.Lock()
	d.status = s
	d.mu.Unlock()
}

// flowLine renders msg as "from ──[Type: detail]──► to". State changes are dim.
func flowLine(msg types.Message) string {
	from := roleLabel(msg.From)
	to := roleLabel(msg.To)

	label := string(msg.Type)
	if det := msgDetail(msg); det != "" {
		label += ": " + det
	}

	color := msgColor[msg.Type]
	if color == "" {
		color = ansiDim
	}
	if msg.Type == types.MsgStudyState {
		return fmt.Sprintf("%s  %s ──[%s]──► %s%s", ansiDim, from, label, to, ansiReset)
	}
	return fmt.Sprintf("  %s ──[%s%s%s]──► %s", from, color, label, ansiReset, to)
}

func roleLabel(r types.Role) string {
	emoji, ok := roleEmoji[r]
	if !ok {
		emoji = "•"
	}
	return emoji + " " + string(r)
}

func msgDetail(msg types.Message) string {
	switch msg.Type {
	case types.MsgStudyState:
		var s types.StateChange
		if remarshal(msg.Payload, &s) == nil && s.To != "" {
			return s.From + " → " + s.To
		}
	case types.MsgPhaseBegin:
		var p types.PhaseEvent
		if remarshal(msg.Payload, &p) == nil {
			if p.Exploratory {
				return "exploratory"
			}
			return fmt.Sprintf("structured round %d", p.Round)
		}
	case types.MsgPersonaSelected:
		var p types.PhaseEvent
		if remarshal(msg.Payload, &p) == nil && p.Persona != "" {
			return clip(fmt.Sprintf("%s (%s)", p.Persona, p.Role), detailWidth)
		}
	case types.MsgQuestion, types.MsgAnswer:
		var t types.TurnEvent
		if remarshal(msg.Payload, &t) == nil {
			return fmt.Sprintf("#%d %s", t.Turn, clip(oneLine(t.Text), detailWidth-4))
		}
	case types.MsgInterviewEnd:
		var t types.TurnEvent
		if remarshal(msg.Payload, &t) == nil {
			if t.Text == string(types.ConclusionBounded) {
				return fmt.Sprintf("turn bound after %d", t.Turn)
			}
			return fmt.Sprintf("concluded at turn %d", t.Turn)
		}
	case types.MsgPhaseEnd:
		var p types.PhaseEvent
		if remarshal(msg.Payload, &p) == nil {
			if p.Error != "" {
				return "failed | " + clip(p.Error, detailWidth-9)
			}
			return fmt.Sprintf("%s | %d turns | %s", clip(p.Persona, 30), p.Turns, p.Conclusion)
		}
	case types.MsgSummary, types.MsgGuidesDefined, types.MsgCatalogReady, types.MsgFailure:
		var e types.TextEvent
		if remarshal(msg.Payload, &e) == nil {
			if e.Label != "" {
				return clip(e.Label+" | "+oneLine(e.Text), detailWidth)
			}
			return clip(oneLine(e.Text), detailWidth)
		}
	}
	return ""
}

// clip truncates s to display width n, appending "…" if trimmed.
func clip(s string, n int) string {
	if runewidth.StringWidth(s) <= n {
		return s
	}
	return runewidth.Truncate(s, n, "…")
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func remarshal(src, dst any) error {
	b, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}

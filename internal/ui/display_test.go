package ui

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/haricheung/delphibot/internal/types"
)

func makeMsg(t types.MessageType, payload any) types.Message {
	return types.Message{From: types.RoleInterviewer, To: types.RoleResponder, Type: t, Payload: payload}
}

// --- msgDetail ---

func TestMsgDetail_Question(t *testing.T) {
	// MsgQuestion: returns "#N text" with newlines collapsed
	got := msgDetail(makeMsg(types.MsgQuestion, types.TurnEvent{Turn: 2, Text: "Wie sieht\nder Markt aus?"}))
	if got != "#2 Wie sieht der Markt aus?" {
		t.Errorf("got %q", got)
	}
}

func TestMsgDetail_QuestionClipped(t *testing.T) {
	// MsgQuestion: long text is clipped to the detail width with "…"
	got := msgDetail(makeMsg(types.MsgQuestion, types.TurnEvent{Turn: 1, Text: strings.Repeat("Zeitung ", 30)}))
	if !strings.HasSuffix(got, "…") {
		t.Errorf("expected ellipsis, got %q", got)
	}
	if w := runewidth.StringWidth(got); w > detailWidth {
		t.Errorf("detail width %d exceeds %d", w, detailWidth)
	}
}

func TestMsgDetail_PhaseBegin(t *testing.T) {
	if got := msgDetail(makeMsg(types.MsgPhaseBegin, types.PhaseEvent{Exploratory: true})); got != "exploratory" {
		t.Errorf("got %q", got)
	}
	if got := msgDetail(makeMsg(types.MsgPhaseBegin, types.PhaseEvent{Round: 3})); got != "structured round 3" {
		t.Errorf("got %q", got)
	}
}

func TestMsgDetail_PhaseEnd(t *testing.T) {
	// MsgPhaseEnd: "failed | <error>" on failure, otherwise persona, turns and conclusion
	ok := msgDetail(makeMsg(types.MsgPhaseEnd, types.PhaseEvent{Persona: "Lena Meyer", Turns: 3, Conclusion: types.ConclusionBounded}))
	if ok != "Lena Meyer | 3 turns | bounded" {
		t.Errorf("got %q", ok)
	}
	failed := msgDetail(makeMsg(types.MsgPhaseEnd, types.PhaseEvent{Error: "summarization failed"}))
	if !strings.HasPrefix(failed, "failed | summarization") {
		t.Errorf("got %q", failed)
	}
}

func TestMsgDetail_InterviewEnd(t *testing.T) {
	if got := msgDetail(makeMsg(types.MsgInterviewEnd, types.TurnEvent{Turn: 3, Text: "bounded"})); got != "turn bound after 3" {
		t.Errorf("got %q", got)
	}
	if got := msgDetail(makeMsg(types.MsgInterviewEnd, types.TurnEvent{Turn: 2, Text: "INTERVIEW_COMPLETE"})); got != "concluded at turn 2" {
		t.Errorf("got %q", got)
	}
}

func TestMsgDetail_StateChange(t *testing.T) {
	got := msgDetail(makeMsg(types.MsgStudyState, types.StateChange{From: "setup", To: "exploratory_running"}))
	if got != "setup → exploratory_running" {
		t.Errorf("got %q", got)
	}
}

func TestMsgDetail_TextEventWithLabel(t *testing.T) {
	got := msgDetail(makeMsg(types.MsgCatalogReady, types.TextEvent{Label: "3 sources", Text: "# Katalog\n..."}))
	if !strings.HasPrefix(got, "3 sources | # Katalog") {
		t.Errorf("got %q", got)
	}
}

// --- clip ---

func TestClip_WideRunes(t *testing.T) {
	// clip measures display width, so wide runes count double
	got := clip("日本語日本語", 7)
	if w := runewidth.StringWidth(got); w > 7 {
		t.Errorf("width %d > 7 for %q", w, got)
	}
	if clip("kurz", 10) != "kurz" {
		t.Error("short string changed")
	}
}

// --- flowLine / finished ---

func TestFlowLine_Format(t *testing.T) {
	line := flowLine(makeMsg(types.MsgQuestion, types.TurnEvent{Turn: 1, Text: "Frage"}))
	if !strings.Contains(line, "🎤 interviewer ──[") || !strings.Contains(line, "]──► 💬 responder") {
		t.Errorf("unexpected flow line %q", line)
	}
	if !strings.Contains(line, "Question: #1 Frage") {
		t.Errorf("missing label in %q", line)
	}
}

func TestFinished(t *testing.T) {
	state := func(from, to string) types.Message {
		return types.Message{Type: types.MsgStudyState, Payload: types.StateChange{From: from, To: to}}
	}
	if done, ok := finished(state("catalog_generating", "catalog_done")); !done || !ok {
		t.Error("catalog_done should end the box successfully")
	}
	if done, ok := finished(state("exploratory_running", "setup")); !done || ok {
		t.Error("falling back to setup should end the box as failed")
	}
	if done, _ := finished(state("setup", "setup")); done {
		t.Error("reset from setup should not end the box")
	}
	if done, _ := finished(makeMsg(types.MsgQuestion, types.TurnEvent{})); done {
		t.Error("non-state message ended the box")
	}
}

// syncBuffer is a bytes.Buffer safe for the display goroutine and the test.
type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func TestRun_RendersBox(t *testing.T) {
	tap := make(chan types.Message, 4)
	out := &syncBuffer{}
	d := New(tap, out)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { d.Run(ctx); close(done) }()

	tap <- makeMsg(types.MsgQuestion, types.TurnEvent{Turn: 1, Text: "Frage"})
	tap <- types.Message{From: types.RoleStudy, To: types.RoleUser, Type: types.MsgStudyState,
		Payload: types.StateChange{From: "catalog_generating", To: "catalog_done"}}
	close(tap)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("display did not stop after the tap closed")
	}
	cancel()

	s := out.String()
	for _, want := range []string{"┌─── 🔮 delphi study", "Question: #1 Frage", "└─── ✅"} {
		if !strings.Contains(s, want) {
			t.Errorf("output missing %q:\n%s", want, s)
		}
	}
}

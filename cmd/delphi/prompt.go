package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"github.com/haricheung/delphibot/internal/types"
	"github.com/haricheung/delphibot/internal/ui"
)

var errInterrupted = errors.New("input interrupted")

// endOfText terminates a multi-line replacement.
const endOfText = "."

// terminal owns the interactive prompt. Every read holds the display so the
// spinner does not overwrite the line being typed.
type terminal struct {
	rl   *readline.Instance
	disp *ui.Display
}

func newTerminal(disp *ui.Display) (*terminal, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "",
	})
	if err != nil {
		return nil, fmt.Errorf("readline: %w", err)
	}
	return &terminal{rl: rl, disp: disp}, nil
}

func (t *terminal) Close() error { return t.rl.Close() }

// line reads one line after printing header.
func (t *terminal) line(header string) (string, error) {
	t.disp.Hold()
	defer t.disp.Release()
	if header != "" {
		fmt.Fprintln(t.rl.Stdout(), header)
	}
	s, err := t.rl.Readline()
	switch {
	case errors.Is(err, readline.ErrInterrupt), errors.Is(err, io.EOF):
		return "", errInterrupted
	case err != nil:
		return "", err
	}
	return s, nil
}

// edit shows current and returns it unchanged on a bare Enter. Anything else
// starts a replacement that ends at a line holding only ".".
func (t *terminal) edit(title, current string) (string, error) {
	header := fmt.Sprintf("\n── %s ──\n%s\n\n[Enter] accept · or type a replacement, end with a line holding only %q", title, current, endOfText)
	first, err := t.line(header)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(first) == "" {
		return current, nil
	}
	lines := []string{first}
	for {
		l, err := t.line("")
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(l) == endOfText {
			break
		}
		lines = append(lines, l)
	}
	return strings.TrimSpace(strings.Join(lines, "\n")), nil
}

// Answer is the responder.PromptFunc for a human interviewee.
func (t *terminal) Answer(question string) (string, error) {
	return t.line(fmt.Sprintf("\n🎤 %s", question))
}

// ReviewSummary implements study.Reviewer.
func (t *terminal) ReviewSummary(ctx context.Context, summary string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return t.edit("Proposed structure (exploratory summary)", summary)
}

// ReviewGuides implements study.Reviewer.
func (t *terminal) ReviewGuides(ctx context.Context, g types.DefinedGuides) (types.DefinedGuides, error) {
	if err := ctx.Err(); err != nil {
		return g, err
	}
	ig, err := t.edit("Interview guide", g.InterviewGuide)
	if err != nil {
		return g, err
	}
	cg, err := t.edit("Catalog guidance", g.CatalogGuidance)
	if err != nil {
		return g, err
	}
	return types.DefinedGuides{InterviewGuide: ig, CatalogGuidance: cg}, nil
}

// askProfile collects the optional human expert profile.
func (t *terminal) askProfile() (types.HumanProfile, error) {
	var h types.HumanProfile
	fields := []struct {
		label string
		dst   *string
	}{
		{"Your name/title", &h.Name},
		{"Your role", &h.Role},
		{"Your key expertise areas", &h.Expertise},
		{"Your general perspective", &h.Perspective},
	}
	fmt.Fprintln(t.rl.Stdout(), "Your expert profile (optional, Enter to skip a field)")
	for _, f := range fields {
		s, err := t.line(f.label + ":")
		if err != nil {
			return h, err
		}
		*f.dst = strings.TrimSpace(s)
	}
	return h, nil
}

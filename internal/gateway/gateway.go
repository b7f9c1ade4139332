// Package gateway is the single point through which every study role reaches
// the text-generation capability.
//
// Invoke(role, prompt) either returns usable text or an error wrapping
// ErrNoOutput. It meters the prompt before the call and the output after it
// on the attached usage.Session, records the call in the attached RunLog, and
// never lets a panicking backend escape. There is no retry at this layer.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/haricheung/delphibot/internal/llm"
	"github.com/haricheung/delphibot/internal/runlog"
	"github.com/haricheung/delphibot/internal/types"
	"github.com/haricheung/delphibot/internal/usage"
)

// ErrNoOutput is wrapped by every Invoke failure: backend error, timeout,
// cancellation, panic or empty text.
var ErrNoOutput = errors.New("no usable output")

// Completer is the text-generation backend. Both llm.Client and
// llm.ResponsesClient satisfy it.
type Completer interface {
	Chat(ctx context.Context, system, user string) (string, llm.Usage, error)
}

// Gateway routes role invocations to their completer.
type Gateway struct {
	mu           sync.RWMutex
	fallback     Completer
	completers   map[types.Role]Completer
	instructions map[types.Role]string
	session      *usage.Session
	rl           *runlog.RunLog
	timeout      time.Duration
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithTimeout bounds every single call. Zero means no per-call bound.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.timeout = d }
}

// WithCompleter binds a dedicated completer to role.
func WithCompleter(role types.Role, c Completer) Option {
	return func(g *Gateway) { g.completers[role] = c }
}

// WithRunLog attaches the run log that receives one role_call event per call.
func WithRunLog(rl *runlog.RunLog) Option {
	return func(g *Gateway) { g.rl = rl }
}

// New creates a Gateway. fallback serves every role without a dedicated
// completer; session may be nil, in which case a fresh one is created.
func New(fallback Completer, session *usage.Session, opts ...Option) *Gateway {
	if session == nil {
		session = usage.NewSession()
	}
	g := &Gateway{
		fallback:     fallback,
		completers:   make(map[types.Role]Completer),
		instructions: make(map[types.Role]string),
		session:      session,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Bind sets the completer for role.
func (g *Gateway) Bind(role types.Role, c Completer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.completers[role] = c
}

// Instruct registers the standing instructions (system prompt) sent with
// every call made on behalf of role.
func (g *Gateway) Instruct(role types.Role, system string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.instructions[role] = system
}

// Attach swaps the usage session and run log, e.g. when a new study starts.
func (g *Gateway) Attach(session *usage.Session, rl *runlog.RunLog) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.session = session
	g.rl = rl
}

// Session returns the usage session currently metered.
func (g *Gateway) Session() *usage.Session {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.session
}

// RunLog returns the attached run log (possibly nil).
func (g *Gateway) RunLog() *runlog.RunLog {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.rl
}

// Invoke sends prompt on behalf of role and returns the trimmed generated text.
//
// Expectations:
//   - Meters the prompt on the session before the call and the output after it
//   - Returns an error wrapping ErrNoOutput when the completer errors, returns
//     blank text, panics, or the context is already done
//   - Never calls the completer when ctx is already done
//   - Makes exactly one completer call per Invoke (no retry)
func (g *Gateway) Invoke(ctx context.Context, role types.Role, prompt string) (string, error) {
	g.mu.RLock()
	c := g.completers[role]
	if c == nil {
		c = g.fallback
	}
	system := g.instructions[role]
	session := g.session
	rl := g.rl
	timeout := g.timeout
	g.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("gateway [%s]: %w: %v", role, ErrNoOutput, err)
	}

	in := session.AddInput(role, prompt)
	log.Printf("[GATEWAY] %s call (input units=%d)", role, in)

	if c == nil {
		session.AddFailure(role)
		err := fmt.Errorf("gateway [%s]: %w: no completer bound", role, ErrNoOutput)
		rl.RoleCall(role, system, prompt, "", 0, 0, 0, err)
		return "", err
	}

	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	text, u, callErr := safeChat(callCtx, c, system, prompt)
	text = strings.TrimSpace(text)
	if callErr == nil && text == "" {
		callErr = errors.New("empty response")
	}
	if callErr != nil {
		session.AddFailure(role)
		err := fmt.Errorf("gateway [%s]: %w: %v", role, ErrNoOutput, callErr)
		log.Printf("[GATEWAY] ERROR: %v", err)
		rl.RoleCall(role, system, prompt, "", u.PromptTokens, u.CompletionTokens, u.ElapsedMs, err)
		return "", err
	}

	out := session.AddOutput(role, text)
	log.Printf("[GATEWAY] %s completed (output units=%d, %dms)", role, out, u.ElapsedMs)
	rl.RoleCall(role, system, prompt, text, u.PromptTokens, u.CompletionTokens, u.ElapsedMs, nil)
	return text, nil
}

// safeChat converts a panicking completer into an error.
func safeChat(ctx context.Context, c Completer, system, user string) (text string, u llm.Usage, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, u, err = "", llm.Usage{}, fmt.Errorf("completer panic: %v", r)
		}
	}()
	return c.Chat(ctx, system, user)
}

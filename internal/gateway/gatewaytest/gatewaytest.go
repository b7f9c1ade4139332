// Package gatewaytest provides a scripted completer for exercising study roles
// without a text-generation backend.
package gatewaytest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/haricheung/delphibot/internal/gateway"
	"github.com/haricheung/delphibot/internal/llm"
	"github.com/haricheung/delphibot/internal/types"
)

// ErrScripted is returned by calls scripted to fail.
var ErrScripted = errors.New("scripted failure")

// Call is one recorded completer invocation. Index is 1-indexed per role.
type Call struct {
	Role   types.Role
	Index  int
	System string
	User   string
}

type fault int

const (
	faultNone fault = iota
	faultError
	faultEmpty
	faultPanic
)

// Fake scripts responses per role. Responses are consumed in order; once a
// role's script is exhausted the last response repeats. ReplyFunc, when set
// for a role, takes precedence over the script.
//
// Safe for concurrent use.
type Fake struct {
	mu      sync.Mutex
	scripts map[types.Role][]string
	funcs   map[types.Role]func(Call) string
	faults  map[types.Role]map[int]fault // call index → fault; index 0 = every call
	calls   []Call
	counts  map[types.Role]int
}

// New creates an empty Fake.
func New() *Fake {
	return &Fake{
		scripts: make(map[types.Role][]string),
		funcs:   make(map[types.Role]func(Call) string),
		faults:  make(map[types.Role]map[int]fault),
		counts:  make(map[types.Role]int),
	}
}

// Reply appends scripted responses for role.
func (f *Fake) Reply(role types.Role, texts ...string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[role] = append(f.scripts[role], texts...)
	return f
}

// ReplyFunc computes the response for every call made on behalf of role.
func (f *Fake) ReplyFunc(role types.Role, fn func(Call) string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.funcs[role] = fn
	return f
}

// Fail makes call number index (1-indexed) for role return an error.
// index 0 fails every call.
func (f *Fake) Fail(role types.Role, index int) *Fake { return f.inject(role, index, faultError) }

// Empty makes call number index for role return blank text.
func (f *Fake) Empty(role types.Role, index int) *Fake { return f.inject(role, index, faultEmpty) }

// Panic makes call number index for role panic.
func (f *Fake) Panic(role types.Role, index int) *Fake { return f.inject(role, index, faultPanic) }

func (f *Fake) inject(role types.Role, index int, k fault) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.faults[role] == nil {
		f.faults[role] = make(map[int]fault)
	}
	f.faults[role][index] = k
	return f
}

// For returns a gateway.Completer that answers on behalf of role.
func (f *Fake) For(role types.Role) gateway.Completer {
	return roleCompleter{f: f, role: role}
}

// Install binds a scripted completer for every generation role on g.
func (f *Fake) Install(g *gateway.Gateway) *gateway.Gateway {
	for _, r := range types.GenerationRoles {
		g.Bind(r, f.For(r))
	}
	return g
}

// Gateway returns a new Gateway with f installed for every generation role.
func (f *Fake) Gateway(opts ...gateway.Option) *gateway.Gateway {
	return f.Install(gateway.New(nil, nil, opts...))
}

// Calls returns the recorded calls for role, or every call when role is "".
func (f *Fake) Calls(role types.Role) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.calls {
		if role == "" || c.Role == role {
			out = append(out, c)
		}
	}
	return out
}

// Count returns the number of calls made on behalf of role.
func (f *Fake) Count(role types.Role) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[role]
}

// Roles returns the role of every call in invocation order.
func (f *Fake) Roles() []types.Role {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.Role, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Role
	}
	return out
}

func (f *Fake) respond(role types.Role, system, user string) (string, error) {
	f.mu.Lock()
	f.counts[role]++
	call := Call{Role: role, Index: f.counts[role], System: system, User: user}
	f.calls = append(f.calls, call)

	k := f.faults[role][call.Index]
	if k == faultNone {
		k = f.faults[role][0]
	}
	fn := f.funcs[role]
	var text string
	if script := f.scripts[role]; len(script) > 0 {
		i := call.Index - 1
		if i >= len(script) {
			i = len(script) - 1
		}
		text = script[i]
	}
	f.mu.Unlock()

	switch k {
	case faultError:
		return "", fmt.Errorf("%w: %s call %d", ErrScripted, role, call.Index)
	case faultEmpty:
		return "   ", nil
	case faultPanic:
		panic(fmt.Sprintf("scripted panic: %s call %d", role, call.Index))
	}
	if fn != nil {
		return fn(call), nil
	}
	if text == "" {
		return "", fmt.Errorf("%w: no response scripted for %s", ErrScripted, role)
	}
	return text, nil
}

type roleCompleter struct {
	f    *Fake
	role types.Role
}

func (c roleCompleter) Chat(ctx context.Context, system, user string) (string, llm.Usage, error) {
	if err := ctx.Err(); err != nil {
		return "", llm.Usage{}, err
	}
	text, err := c.f.respond(c.role, system, user)
	if err != nil {
		return "", llm.Usage{}, err
	}
	return text, llm.Usage{PromptTokens: len(user) / 4, CompletionTokens: len(text) / 4}, nil
}

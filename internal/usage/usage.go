// Package usage meters the text consumed and produced by study roles.
//
// A Session owns its counters; a new run is a new Session. Units are estimated
// from text (about four characters per unit) so metering works the same for
// every backend, including the scripted completer used in tests.
package usage

import (
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/haricheung/delphibot/internal/types"
)

// Estimate returns the approximate unit count of s: ceil(runes/4), 0 for "".
//
// Expectations:
//   - Returns 0 for the empty string
//   - Returns 1 for one to four runes
//   - Counts runes, not bytes (umlauts count once)
func Estimate(s string) int {
	n := utf8.RuneCountInString(s)
	return (n + 3) / 4
}

// RoleStat summarises usage for one role across all calls in a session.
type RoleStat struct {
	Role     types.Role `json:"role"`
	Calls    int        `json:"calls"`
	Failures int        `json:"failures"`
	Input    int        `json:"input_units"`
	Output   int        `json:"output_units"`
}

// Totals is a point-in-time snapshot of the session counters.
type Totals struct {
	Input  int `json:"input_units"`
	Output int `json:"output_units"`
}

// Sum returns Input + Output.
func (t Totals) Sum() int { return t.Input + t.Output }

// Session holds the usage counters of one study run.
//
// Expectations:
//   - All methods are nil-safe (no-op / zero value on nil *Session)
//   - Concurrent updates are safe (mutex-protected)
//   - Reset zeroes every counter and keeps the ID
type Session struct {
	ID string

	mu     sync.Mutex
	input  int
	output int
	roles  map[types.Role]*RoleStat
}

// NewSession creates a Session with a fresh ID and zeroed counters.
func NewSession() *Session {
	return &Session{ID: uuid.New().String(), roles: make(map[types.Role]*RoleStat)}
}

func (s *Session) stat(role types.Role) *RoleStat {
	rs := s.roles[role]
	if rs == nil {
		rs = &RoleStat{Role: role}
		s.roles[role] = rs
	}
	return rs
}

// AddInput meters the prompt for one call made on behalf of role and returns
// the units added.
func (s *Session) AddInput(role types.Role, prompt string) int {
	if s == nil {
		return 0
	}
	n := Estimate(prompt)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.input += n
	rs := s.stat(role)
	rs.Calls++
	rs.Input += n
	return n
}

// AddOutput meters the generated text for role and returns the units added.
func (s *Session) AddOutput(role types.Role, text string) int {
	if s == nil {
		return 0
	}
	n := Estimate(text)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.output += n
	s.stat(role).Output += n
	return n
}

// AddFailure counts a call for role that produced no usable output.
func (s *Session) AddFailure(role types.Role) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stat(role).Failures++
}

// Totals returns the current session totals.
func (s *Session) Totals() Totals {
	if s == nil {
		return Totals{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return Totals{Input: s.input, Output: s.output}
}

// RoleStats returns a snapshot of per-role usage in types.GenerationRoles
// order, followed by any other role that was metered. Roles without calls
// are omitted.
func (s *Session) RoleStats() []RoleStat {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []RoleStat
	seen := make(map[types.Role]bool, len(s.roles))
	for _, role := range types.GenerationRoles {
		if rs, ok := s.roles[role]; ok {
			out = append(out, *rs)
			seen[role] = true
		}
	}
	for role, rs := range s.roles {
		if !seen[role] {
			out = append(out, *rs)
		}
	}
	return out
}

// Reset zeroes every counter.
func (s *Session) Reset() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.input, s.output = 0, 0
	s.roles = make(map[types.Role]*RoleStat)
}

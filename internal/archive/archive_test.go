package archive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haricheung/delphibot/internal/types"
)

func open(t *testing.T) *Store {
	t.Helper()
	s, err := Open()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func result(name, summary string) types.PhaseResult {
	return types.PhaseResult{
		PersonaName: name,
		Persona:     &types.PersonaProfile{Name: name, Role: "Rolle " + name},
		Summary:     summary,
		Transcript:  types.Transcript{{Question: "Q", Answer: "A"}},
		Conclusion:  types.ConclusionBounded,
	}
}

func TestExploratory_RoundTrip(t *testing.T) {
	s := open(t)
	_, err := s.Exploratory("run1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.PutExploratory("run1", result("A", "S")))
	got, err := s.Exploratory("run1")
	require.NoError(t, err)
	assert.Equal(t, "A", got.PersonaName)
	assert.Equal(t, "Rolle A", got.Persona.Role)
	assert.Len(t, got.Transcript, 1)
}

func TestDeleteExploratory(t *testing.T) {
	s := open(t)
	require.NoError(t, s.DeleteExploratory("run1"))

	require.NoError(t, s.PutExploratory("run1", result("A", "S")))
	_, _ = s.AppendStructured("run1", result("B", "S"))
	require.NoError(t, s.DeleteExploratory("run1"))

	_, err := s.Exploratory("run1")
	assert.ErrorIs(t, err, ErrNotFound)
	rest, err := s.Structured("run1")
	require.NoError(t, err)
	assert.Len(t, rest, 1)
}

func TestAppendStructured_Order(t *testing.T) {
	// Positions are consecutive per session starting at 1
	s := open(t)
	for i, name := range []string{"A", "B", "C", "D", "E", "F", "G", "H", "I", "J", "K"} {
		n, err := s.AppendStructured("run1", result(name, "S"+name))
		require.NoError(t, err)
		assert.Equal(t, i+1, n)
	}
	got, err := s.Structured("run1")
	require.NoError(t, err)
	require.Len(t, got, 11)
	assert.Equal(t, "A", got[0].PersonaName)
	assert.Equal(t, "K", got[10].PersonaName)
}

func TestAppendStructured_SessionsIsolated(t *testing.T) {
	// Sessions do not share positions
	s := open(t)
	_, _ = s.AppendStructured("run1", result("A", "S"))
	n, err := s.AppendStructured("run|2", result("B", "S"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	one, _ := s.Structured("run1")
	two, _ := s.Structured("run|2")
	assert.Len(t, one, 1)
	assert.Len(t, two, 1)
	assert.Equal(t, "B", two[0].PersonaName)
}

func TestCatalog_RoundTrip(t *testing.T) {
	s := open(t)
	_, err := s.Catalog("run1")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, s.PutCatalog("run1", "# Katalog"))
	got, err := s.Catalog("run1")
	require.NoError(t, err)
	assert.Equal(t, "# Katalog", got)
}

func TestPurge(t *testing.T) {
	s := open(t)
	require.NoError(t, s.PutExploratory("run1", result("A", "S")))
	_, _ = s.AppendStructured("run1", result("B", "S"))
	_, _ = s.AppendStructured("run1", result("C", "S"))
	require.NoError(t, s.PutCatalog("run1", "K"))
	_, _ = s.AppendStructured("run2", result("D", "S"))

	n, err := s.Purge("run1")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	got, _ := s.Structured("run1")
	assert.Empty(t, got)
	_, err = s.Catalog("run1")
	assert.ErrorIs(t, err, ErrNotFound)
	other, _ := s.Structured("run2")
	assert.Len(t, other, 1)
}

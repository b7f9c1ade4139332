package export

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haricheung/delphibot/internal/study"
	"github.com/haricheung/delphibot/internal/types"
)

func report() study.Report {
	return study.Report{
		SessionID: "s-1",
		Study:     &types.StudyContext{Topic: "Die Zukunft der Tageszeitung", TargetYear: 2047, GeographicScope: "Deutschland"},
		Exploratory: &types.PhaseResult{
			PersonaName: "Lena Meyer",
			Persona:     &types.PersonaProfile{Name: "Lena Meyer", Role: "Medienstudentin"},
			Transcript: types.Transcript{
				{Question: "Wie informieren Sie sich?", Answer: "Über TikTok."},
				{Event: "INTERVIEW_CONCLUDED_BY_INTERVIEWER_AT_TURN_2", Signal: "INTERVIEW_COMPLETE"},
			},
			Summary:     "1. Mediennutzung",
			Exploratory: true,
		},
		Structured: []types.PhaseResult{{
			PersonaName: "Prof. Dr. Klaus Richter",
			Transcript:  types.Transcript{{Question: "F", Answer: "A"}},
		}},
		Catalog: "## Technologie\n- KI-Redaktion",
	}
}

func TestFileName(t *testing.T) {
	// Returns "Faktorenkatalog_<topic>.md" with spaces replaced by "_"
	// Strips "/" and "\" so the name never escapes the export directory
	// Returns "Faktorenkatalog.md" for a blank topic
	assert.Equal(t, "Faktorenkatalog_Die_Zukunft_der_Tageszeitung.md", FileName("Die Zukunft der Tageszeitung"))
	assert.Equal(t, "Faktorenkatalog_..etcpasswd.md", FileName("../etc/passwd"))
	assert.Equal(t, "Faktorenkatalog_ab.md", FileName(`a\b`))
	assert.Equal(t, "Faktorenkatalog.md", FileName("  "))
}

func TestRender(t *testing.T) {
	md := Render(report())

	assert.True(t, strings.HasPrefix(md, "# Faktorenkatalog: Die Zukunft der Tageszeitung\n"))
	for _, want := range []string{
		"- **Target year:** 2047",
		"- **Geographic scope:** Deutschland",
		"- **Interviews:** 1 exploratory, 1 structured",
		"## Technologie\n- KI-Redaktion",
		"### Exploratory interview: Lena Meyer (Medienstudentin)",
		"**Q1:** Wie informieren Sie sich?",
		"**A1:** Über TikTok.",
		"_INTERVIEW_CONCLUDED_BY_INTERVIEWER_AT_TURN_2_",
		"### Structured interview 1: Prof. Dr. Klaus Richter\n",
		"1. Mediennutzung",
	} {
		assert.Contains(t, md, want)
	}
	assert.Less(t, strings.Index(md, "KI-Redaktion"), strings.Index(md, "Appendix"))
}

func TestRender_NoCatalogNoInterviews(t *testing.T) {
	md := Render(study.Report{})
	assert.Contains(t, md, "_No catalog has been generated._")
	assert.NotContains(t, md, "Appendix")
}

func TestWrite(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	path, err := Write(dir, report())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Faktorenkatalog_Die_Zukunft_der_Tageszeitung.md"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, Render(report()), string(data))
}

func TestWrite_NoCatalog(t *testing.T) {
	r := report()
	r.Catalog = " "
	_, err := Write(t.TempDir(), r)
	assert.ErrorIs(t, err, ErrNoCatalog)
}

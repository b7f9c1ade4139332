package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{MaxTurns: 3, Rounds: 1, CallTimeout: time.Minute, Backend: backendChat}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults pass", mutate: func(*Config) {}},
		{name: "responses backend passes", mutate: func(c *Config) { c.Backend = backendResponses }},
		{name: "zero turns", mutate: func(c *Config) { c.MaxTurns = 0 }, wantErr: "max-turns"},
		{name: "too many turns", mutate: func(c *Config) { c.MaxTurns = 11 }, wantErr: "max-turns"},
		{name: "zero rounds", mutate: func(c *Config) { c.Rounds = 0 }, wantErr: "rounds"},
		{name: "too many rounds", mutate: func(c *Config) { c.Rounds = 11 }, wantErr: "rounds"},
		{name: "unknown backend", mutate: func(c *Config) { c.Backend = "grpc" }, wantErr: "backend"},
		{name: "zero timeout", mutate: func(c *Config) { c.CallTimeout = 0 }, wantErr: "call-timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDefaultConfig_BackendFromEnv(t *testing.T) {
	t.Setenv("DELPHI_BACKEND", backendResponses)
	assert.Equal(t, backendResponses, defaultConfig().Backend)

	t.Setenv("DELPHI_BACKEND", "")
	c := defaultConfig()
	assert.Equal(t, backendChat, c.Backend)
	assert.NoError(t, c.Validate())
}

func TestLoadStudy_Sample(t *testing.T) {
	sc, err := loadStudy("")
	require.NoError(t, err)

	assert.Equal(t, "Die Zukunft der Tageszeitung in Deutschland bis 2047", sc.Topic)
	assert.Equal(t, 2047, sc.TargetYear)
	assert.Equal(t, "Deutschland", sc.GeographicScope)
	require.Len(t, sc.PredefinedPersonas, 3)
	assert.Equal(t, "Lena Meyer", sc.PredefinedPersonas[2].Name)
	assert.Equal(t, "Medienstudentin", sc.PredefinedPersonas[2].Role)
	assert.Equal(t, 22, sc.PredefinedPersonas[2].Extra["age"])
	require.NotNil(t, sc.Exploratory)
	assert.Contains(t, sc.Exploratory.SummaryGuidance, "4-6 MAJOR THEMATIC CATEGORIES")
	assert.False(t, sc.Formalized())
}

func TestLoadStudy_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "study.yaml")
	data := `topic: "  Urbane Mobilität 2040 "
target_year: 2040
geographic_scope: Europa
predefined_personas:
  - Name: Ada Ruiz
    title: Verkehrsplanerin
exploratory:
  exploratory_interview_guide: Frage breit nach Mobilitätstrends.
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	sc, err := loadStudy(path)
	require.NoError(t, err)
	assert.Equal(t, "Urbane Mobilität 2040", sc.Topic)
	assert.Equal(t, 2040, sc.TargetYear)
	require.Len(t, sc.PredefinedPersonas, 1)
	assert.Equal(t, "Ada Ruiz", sc.PredefinedPersonas[0].Name)
	assert.Equal(t, "Verkehrsplanerin", sc.PredefinedPersonas[0].Role)
	assert.Equal(t, "Frage breit nach Mobilitätstrends.", sc.Exploratory.InterviewGuide)
	// missing summary guidance falls back to the sample's
	assert.Contains(t, sc.Exploratory.SummaryGuidance, "THEMATIC CATEGORIES")
}

func TestLoadStudy_Errors(t *testing.T) {
	_, err := loadStudy(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "blank.yaml")
	require.NoError(t, os.WriteFile(path, []byte("target_year: 2030\n"), 0o644))
	_, err = loadStudy(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "topic is required")
}

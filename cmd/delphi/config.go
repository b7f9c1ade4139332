package main

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/haricheung/delphibot/internal/interview"
	"github.com/haricheung/delphibot/internal/study"
	"github.com/haricheung/delphibot/internal/types"
)

//go:embed sample_study.yaml
var sampleStudyYAML []byte

// Backends selectable with --backend / DELPHI_BACKEND.
const (
	backendChat      = "chat"
	backendResponses = "responses"
)

// Config holds the command-line configuration of one study run.
type Config struct {
	StudyPath   string
	MaxTurns    int
	Rounds      int
	Human       bool
	OutDir      string
	RunLogDir   string
	DebugLog    string
	Verbose     bool
	Yes         bool
	CallTimeout time.Duration
	Backend     string
}

func defaultConfig() Config {
	homeDir, _ := os.UserHomeDir()
	cacheDir := filepath.Join(homeDir, ".cache", "delphibot")
	backend := os.Getenv("DELPHI_BACKEND")
	if backend == "" {
		backend = backendChat
	}
	return Config{
		MaxTurns:    interview.DefaultMaxTurns,
		Rounds:      study.DefaultRounds,
		OutDir:      ".",
		RunLogDir:   filepath.Join(cacheDir, "runs"),
		DebugLog:    filepath.Join(cacheDir, "debug.log"),
		CallTimeout: 3 * time.Minute,
		Backend:     backend,
	}
}

// Validate checks flag bounds.
//
// Expectations:
//   - Rejects max turns outside 1..10
//   - Rejects rounds outside 1..10
//   - Rejects a backend other than "chat" or "responses"
//   - Rejects a non-positive call timeout
func (c Config) Validate() error {
	if c.MaxTurns < interview.MinTurns || c.MaxTurns > interview.MaxTurns {
		return fmt.Errorf("max-turns must be between %d and %d", interview.MinTurns, interview.MaxTurns)
	}
	if c.Rounds < study.MinRounds || c.Rounds > study.MaxRounds {
		return fmt.Errorf("rounds must be between %d and %d", study.MinRounds, study.MaxRounds)
	}
	switch c.Backend {
	case backendChat, backendResponses:
	default:
		return fmt.Errorf("backend must be %q or %q, got %q", backendChat, backendResponses, c.Backend)
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("call-timeout must be positive")
	}
	return nil
}

// studyFile is the YAML layout of a study definition.
type studyFile struct {
	Topic               string                   `yaml:"topic"`
	TargetYear          int                      `yaml:"target_year"`
	GeographicScope     string                   `yaml:"geographic_scope"`
	Objectives          string                   `yaml:"objectives"`
	PersonaRequirements string                   `yaml:"persona_requirements"`
	PredefinedPersonas  []map[string]any         `yaml:"predefined_personas"`
	Exploratory         *types.ExploratoryGuides `yaml:"exploratory"`
}

// loadStudy reads the study at path, or the built-in sample when path is empty.
// Exploratory guides missing from the file are taken from the sample.
func loadStudy(path string) (*types.StudyContext, error) {
	sample, err := parseStudy(sampleStudyYAML)
	if err != nil {
		return nil, fmt.Errorf("sample study: %w", err)
	}
	if path == "" {
		return sample, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read study file: %w", err)
	}
	sc, err := parseStudy(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse study file %s: %w", path, err)
	}
	if sc.Exploratory == nil {
		sc.Exploratory = &types.ExploratoryGuides{}
	}
	if strings.TrimSpace(sc.Exploratory.InterviewGuide) == "" {
		sc.Exploratory.InterviewGuide = sample.Exploratory.InterviewGuide
	}
	if strings.TrimSpace(sc.Exploratory.SummaryGuidance) == "" {
		sc.Exploratory.SummaryGuidance = sample.Exploratory.SummaryGuidance
	}
	return sc, nil
}

func parseStudy(data []byte) (*types.StudyContext, error) {
	var f studyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if strings.TrimSpace(f.Topic) == "" {
		return nil, fmt.Errorf("topic is required")
	}
	sc := &types.StudyContext{
		Topic:               strings.TrimSpace(f.Topic),
		TargetYear:          f.TargetYear,
		GeographicScope:     strings.TrimSpace(f.GeographicScope),
		Objectives:          strings.TrimSpace(f.Objectives),
		PersonaRequirements: strings.TrimSpace(f.PersonaRequirements),
		Exploratory:         f.Exploratory,
	}
	for _, m := range f.PredefinedPersonas {
		sc.PredefinedPersonas = append(sc.PredefinedPersonas, types.PersonaFromMap(m))
	}
	return sc, nil
}

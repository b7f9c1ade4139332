// Package manager turns the exploratory summary into the two defined guides
// that steer every structured round and the final catalog.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/haricheung/delphibot/internal/gateway"
	"github.com/haricheung/delphibot/internal/llm"
	"github.com/haricheung/delphibot/internal/types"
)

// Response keys.
const (
	KeyInterviewGuide  = "InterviewGuideStructure_DEFINED"
	KeyCatalogGuidance = "DesiredOutputCatalogStructureGuidance_DEFINED"
)

var (
	// ErrIncompleteGuides means the response lacked one of the two guides.
	// Partial results are never returned.
	ErrIncompleteGuides = errors.New("formalization did not yield both guides")
	// ErrNoSummary means there is nothing to formalize.
	ErrNoSummary = errors.New("exploratory summary is empty")
)

var systemPrompt = `You are the Central Orchestrator of a Delphi study. You read an exploratory summary that proposes thematic categories (Systemebenen) and define a focused, robust pair of guides for the structured interviews that follow.

Your answer is ONE JSON object with exactly these two string properties:
` + llm.Schema[types.DefinedGuides]() + `

Output ONLY the JSON object. Be precise.`

// Formalizer asks the manager role for the defined guides.
type Formalizer struct {
	g *gateway.Gateway
}

// New creates a Formalizer and registers its instructions on g.
func New(g *gateway.Gateway) *Formalizer {
	g.Instruct(types.RoleManager, systemPrompt)
	return &Formalizer{g: g}
}

// Formalize converts summary into DefinedGuides with a single manager call.
//
// Expectations:
//   - Returns ErrNoSummary without calling the gateway when summary is blank
//   - Returns both guides, trimmed, when both keys hold non-empty strings
//   - Returns ErrIncompleteGuides when either key is missing, empty or not a string
//   - Returns ErrIncompleteGuides when the response holds no JSON object
//   - Wraps gateway.ErrNoOutput when the call itself fails
func (f *Formalizer) Formalize(ctx context.Context, sc *types.StudyContext, summary string) (types.DefinedGuides, error) {
	if strings.TrimSpace(summary) == "" {
		return types.DefinedGuides{}, fmt.Errorf("manager: %w", ErrNoSummary)
	}
	out, err := f.g.Invoke(ctx, types.RoleManager, BuildPrompt(sc, summary))
	if err != nil {
		return types.DefinedGuides{}, fmt.Errorf("manager: %w", err)
	}
	guides, err := Parse(out)
	if err != nil {
		log.Printf("[MANAGER] ERROR: %v (raw: %q)", err, out)
		return types.DefinedGuides{}, fmt.Errorf("manager: %w", err)
	}
	log.Printf("[MANAGER] formalized guides (interview=%d chars, catalog=%d chars)",
		len(guides.InterviewGuide), len(guides.CatalogGuidance))
	return guides, nil
}

// Parse extracts both guides from generated text.
func Parse(text string) (types.DefinedGuides, error) {
	m, ok := llm.ExtractJSON(text)
	if !ok {
		return types.DefinedGuides{}, fmt.Errorf("%w: no JSON object", ErrIncompleteGuides)
	}
	interview, ok1 := nonEmptyString(m, KeyInterviewGuide)
	catalog, ok2 := nonEmptyString(m, KeyCatalogGuidance)
	switch {
	case !ok1 && !ok2:
		return types.DefinedGuides{}, fmt.Errorf("%w: missing %s and %s", ErrIncompleteGuides, KeyInterviewGuide, KeyCatalogGuidance)
	case !ok1:
		return types.DefinedGuides{}, fmt.Errorf("%w: missing %s", ErrIncompleteGuides, KeyInterviewGuide)
	case !ok2:
		return types.DefinedGuides{}, fmt.Errorf("%w: missing %s", ErrIncompleteGuides, KeyCatalogGuidance)
	}
	return types.DefinedGuides{InterviewGuide: interview, CatalogGuidance: catalog}, nil
}

func nonEmptyString(m map[string]any, key string) (string, bool) {
	s, ok := m[key].(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// BuildPrompt renders the formalization request.
func BuildPrompt(sc *types.StudyContext, summary string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "The following 'Exploratory Summary' was generated for the Study Topic '%s' (Target Year: %d). ", sc.Topic, sc.TargetYear)
	sb.WriteString("It proposes several thematic categories (Systemebenen), some possibly with detailed factors and others noted as having no content from the initial interview:\n\n")
	fmt.Fprintf(&sb, "```text\n%s\n```\n\n", strings.TrimSpace(summary))
	sb.WriteString("Analyze this proposed structure and define a focused and robust set of guides for subsequent structured interviews:\n")
	fmt.Fprintf(&sb, "1. '%s': a concise string listing the key thematic categories (Systemebenen) that should be covered systematically. "+
		"Select the most content-rich categories from the proposal, or refine their names for clarity. "+
		"It instructs an interviewer to cover these Systemebenen and ask for Faktorname, Definitions, Dimensions and Trends within each for the TargetYear.\n"+
		"   Example: 'Main Systemebenen to cover: 1. Tech Developments (AI, Platforms), 2. Economic Models (Subscriptions, Ads), 3. Audience Behavior (Engagement, Personalization). Ask for factors within each.'\n\n",
		KeyInterviewGuide)
	fmt.Fprintf(&sb, "2. '%s': a concise string for the summarizer and catalog writer specifying that the final catalog is structured by the Systemebenen defined in point 1. "+
		"For each Faktorname under those Systemebenen it details: Definition/Understanding, Dimensions Discussed, and Trends for %d. Mention a professional report style.\n\n",
		KeyCatalogGuidance, sc.TargetYear)
	if sc.GeographicScope != "" {
		fmt.Fprintf(&sb, "Geographic scope of the study: %s.\n", sc.GeographicScope)
	}
	fmt.Fprintf(&sb, "Output ONLY a JSON object with keys '%s' and '%s'.", KeyInterviewGuide, KeyCatalogGuidance)
	return sb.String()
}

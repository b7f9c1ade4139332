// Package catalog synthesizes the final factor catalog from the per-interview
// structured summaries.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/haricheung/delphibot/internal/gateway"
	"github.com/haricheung/delphibot/internal/types"
)

// Separator joins the per-interview summaries handed to the catalog writer.
const Separator = "\n\n---\nNEXT INTERVIEW SUMMARY:\n---\n\n"

var (
	// ErrMissingGuidance means the catalog-structure guidance has not been defined.
	ErrMissingGuidance = errors.New("catalog structure guidance is not defined")
	// ErrNoSummaries means there is nothing to synthesize.
	ErrNoSummaries = errors.New("no summaries to synthesize")
)

const systemPrompt = `You are a highly skilled Catalog Writer and Synthesizer for a Delphi study. You will receive:
1. 'AggregatedSummaries': structured summaries from MULTIPLE expert interviews on one OverallStudyTopic. Each follows a common structure (Systemebenen, Faktorname, Definition, Dimensions, Trends).
2. The 'OverallStudyTopic'.
3. 'DesiredOutputCatalogStructureGuidance': instructions on the final catalog's formatting, style and main Systemebenen (section headings).

Your CRITICAL task:
A. Process ALL provided summaries.
B. Identify common and very similar Systemebenen and Faktorname across the summaries, matching by name and intent rather than exact wording. Try to identify many common factors (preferably 6-10).
C. For each common or very similar Faktorname within a Systemebene, synthesize:
   i.   the Definitions/Understanding into one comprehensive definition;
   ii.  the Dimensions Discussed, incorporating all relevant aspects;
   iii. the Trends for the TargetYear, highlighting consensus, key variations and unique outlooks of the different experts.
D. If a factor is mentioned by only one expert but is significant, include it.
E. Compile these synthesized insights into ONE coherent, final Faktorenkatalog.
F. Strictly adhere to the DesiredOutputCatalogStructureGuidance for the structure (Systemebenen) and a professional report style, with clear headings and concise paragraphs or bullet points.
G. DO NOT just concatenate the input summaries. Your output is the single, consolidated, synthesized Faktorenkatalog.`

// Synthesizer asks the catalog writer role for the final document.
type Synthesizer struct {
	g *gateway.Gateway
}

// New creates a Synthesizer and registers its instructions on g.
func New(g *gateway.Gateway) *Synthesizer {
	g.Instruct(types.RoleCatalogWriter, systemPrompt)
	return &Synthesizer{g: g}
}

// Ready checks the synthesis precondition: the defined catalog guidance exists
// and is non-empty.
func Ready(sc *types.StudyContext) error {
	if sc == nil || sc.Defined == nil || strings.TrimSpace(sc.Defined.CatalogGuidance) == "" {
		return ErrMissingGuidance
	}
	return nil
}

// Synthesize merges aggregated into one catalog with a single catalog writer call.
//
// Expectations:
//   - Returns ErrMissingGuidance without calling the gateway when the guidance is absent
//   - Returns ErrNoSummaries without calling the gateway when aggregated is blank
//   - Wraps gateway.ErrNoOutput when the call fails; there is no local fallback
func (s *Synthesizer) Synthesize(ctx context.Context, sc *types.StudyContext, aggregated string) (string, error) {
	if err := Ready(sc); err != nil {
		return "", fmt.Errorf("catalog: %w", err)
	}
	if strings.TrimSpace(aggregated) == "" {
		return "", fmt.Errorf("catalog: %w", ErrNoSummaries)
	}
	out, err := s.g.Invoke(ctx, types.RoleCatalogWriter, BuildPrompt(sc, aggregated))
	if err != nil {
		log.Printf("[CATALOG] ERROR: %v", err)
		return "", fmt.Errorf("catalog: %w", err)
	}
	log.Printf("[CATALOG] synthesized catalog (%d chars)", len(out))
	return out, nil
}

// BuildPrompt renders the synthesis request.
func BuildPrompt(sc *types.StudyContext, aggregated string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "OverallStudyTopic: %s\nTargetYear: %d\n", sc.Topic, sc.TargetYear)
	if sc.Objectives != "" {
		fmt.Fprintf(&sb, "KeyObjectives: %s\n", sc.Objectives)
	}
	fmt.Fprintf(&sb, "DesiredOutputCatalogStructureGuidance (use this for final structure and style):\n%s\n\n", sc.Defined.CatalogGuidance)
	fmt.Fprintf(&sb, "AggregatedSummaries to process and synthesize:\n%s\n\n", aggregated)
	sb.WriteString("Synthesize the insights for common factors across the different summaries and compile the final Faktorenkatalog based on ALL the above.")
	return sb.String()
}

// Aggregate joins the non-empty summaries of the successful structured
// results. When none exist it falls back to the exploratory summary.
// It returns the aggregated text and the number of sources used.
//
// Expectations:
//   - Formats each source as "Summary from interview with <name>:\n<summary>"
//   - Joins sources with Separator
//   - Skips failed results and blank summaries
//   - Falls back to "Exploratory Summary (Interviewee: <name>):\n<summary>" when no structured summary exists
//   - Returns ("", 0) when nothing is available
func Aggregate(structured []types.PhaseResult, exploratoryName, exploratorySummary string) (string, int) {
	var parts []string
	for _, r := range structured {
		if r.Failed() || strings.TrimSpace(r.Summary) == "" {
			continue
		}
		name := r.PersonaName
		if name == "" {
			name = "Unknown Expert"
		}
		parts = append(parts, fmt.Sprintf("Summary from interview with %s:\n%s", name, r.Summary))
	}
	if len(parts) == 0 && strings.TrimSpace(exploratorySummary) != "" {
		log.Printf("[CATALOG] no structured summaries; using the exploratory summary")
		parts = append(parts, fmt.Sprintf("Exploratory Summary (Interviewee: %s):\n%s", exploratoryName, exploratorySummary))
	}
	return strings.Join(parts, Separator), len(parts)
}

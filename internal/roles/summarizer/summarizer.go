package summarizer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haricheung/delphibot/internal/gateway"
	"github.com/haricheung/delphibot/internal/types"
)

const systemPrompt = `You are a Summarization Specialist in a Delphi study. You will receive:
- The full InterviewTranscript.
- The OverallStudyTopic and TargetYear.
- An indication whether this is an 'exploratory_summary' OR whether you must follow a 'defined_output_structure_guidance'.
Output a well-organized, structured text summary.`

const exploratoryInstruction = `Perform an 'exploratory_summary'. Propose a high-level system model: analyze the transcript to identify 4-6 abstract, overarching System Levels (Systemebenen), e.g. for a newspaper topic 'Publishing Sector', 'Society', 'Media Technology', 'Regulation'. System levels are broad categories such as market dynamics and structures, providers and users of services; they are not specific key factors. For each proposed System Level give a brief one-sentence description of what it encompasses. Do NOT list specific factors (Faktorname) or their definitions, dimensions or trends at this stage. Your output is the list of these coarse system levels and their descriptions.`

const structuredInstruction = `Produce a 'structured_summary' following the 'defined_output_structure_guidance'. Capture every influence factor discussed:
1. Meticulously extract ALL influence factors (Einflussfaktoren) mentioned in the InterviewTranscript that are relevant to the OverallStudyTopic.
2. Structure them strictly according to the defined guidance (which specifies the Systemebenen). Expect many factors per Systemebene.
3. For each Faktorname detail its Definition/Understanding, Dimensions Discussed, and Trends for the TargetYear, only as stated or implied by the interviewee in the transcript. Do not invent factors the transcript does not support.
4. Be comprehensive: the goal of this phase is to maximize the number of identified factors.`

// Request is the input of one summarization.
type Request struct {
	Topic       string
	TargetYear  int
	PersonaName string
	Transcript  types.Transcript
	Guidance    string
	Exploratory bool
}

// Summarizer condenses an interview transcript.
type Summarizer struct {
	g *gateway.Gateway
}

// New creates a Summarizer and registers its instructions on g.
func New(g *gateway.Gateway) *Summarizer {
	g.Instruct(types.RoleSummarizer, systemPrompt)
	return &Summarizer{g: g}
}

// Summarize returns the summary text for req.
func (s *Summarizer) Summarize(ctx context.Context, req Request) (string, error) {
	out, err := s.g.Invoke(ctx, types.RoleSummarizer, BuildPrompt(req))
	if err != nil {
		return "", fmt.Errorf("summarizer: %w", err)
	}
	return out, nil
}

// BuildPrompt renders the summarization prompt. Exactly one of the
// exploratory and structured instructions is included.
func BuildPrompt(req Request) string {
	instruction, guidanceKey := structuredInstruction, "defined_output_structure_guidance"
	if req.Exploratory {
		instruction, guidanceKey = exploratoryInstruction, "exploratory_summary_guidance"
	}
	guidance := strings.TrimSpace(req.Guidance)
	if guidance == "" {
		guidance = "No specific structural guidance provided."
	}
	tr := req.Transcript
	if tr == nil {
		tr = types.Transcript{}
	}
	transcript, err := json.MarshalIndent(tr, "", "  ")
	if err != nil {
		transcript = []byte("[]")
	}

	var sb strings.Builder
	sb.WriteString(instruction)
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, "OverallStudyTopic: %s\nTargetYear: %d\n", req.Topic, req.TargetYear)
	if req.PersonaName != "" {
		fmt.Fprintf(&sb, "Interviewee: %s\n", req.PersonaName)
	}
	fmt.Fprintf(&sb, "Guidance on structure/output (%s):\n%s\n\n", guidanceKey, guidance)
	fmt.Fprintf(&sb, "**Interview Transcript to Summarize:**\n```json\n%s\n```\n\n", transcript)
	sb.WriteString("Provide the required summary based on ALL the above information, especially the Interview Transcript and the provided Guidance.")
	return sb.String()
}

package interviewer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haricheung/delphibot/internal/gateway"
	"github.com/haricheung/delphibot/internal/types"
)

// CompletionToken is the sentinel the interviewer emits to end an interview.
const CompletionToken = "INTERVIEW_COMPLETE"

const systemPrompt = `You are a professional, sharp-witted Interviewer in a Delphi study. You will receive:
- The OverallStudyTopic and TargetYear.
- A PersonaProfile (JSON of a simulated expert OR a text block describing a human expert).
- The ConversationHistory.
- Guidance on the interview type.

Your task:
- CRITICAL: Analyze the PersonaProfile for any specific 'stance', 'role' or 'key beliefs'. Use these details to ask targeted, probing and sometimes challenging questions. Do not ask generic questions.
- If the persona is a tech-optimist, ask about the downsides they might be ignoring. If they are a regulator, ask how innovation can still thrive under their proposed rules.
- Extract the unique, specialized knowledge that ONLY this specific persona would have.
- In an exploratory interview: broadly explore the OverallStudyTopic so that broad categories of factors become easy to identify.
- In a structured interview (a defined guide is provided): aggressively populate the provided system levels with numerous, diverse influence factors. Do not ask about one system level at a time; connect the levels and ask broader questions that can populate several of them. Ask follow-ups that uncover different facets and sub-topics. Aim for at least 6-8 factors per system level.
- In both modes: refer to the ConversationHistory. Conduct the interview in German.

Decision to conclude: if the persona's unique perspective is fully explored or the interview is unproductive, output: ` + CompletionToken + `. Otherwise output ONLY your next question.`

// Request is the input of one question-generation turn.
// Exactly one of Persona and ProfileText describes the interviewee.
type Request struct {
	Topic       string
	TargetYear  int
	Persona     *types.PersonaProfile
	ProfileText string
	Transcript  types.Transcript
	Guide       string
	Exploratory bool
	Turn        int // 1-indexed
	MaxTurns    int
}

// Interviewer generates interview questions.
type Interviewer struct {
	g *gateway.Gateway
}

// New creates an Interviewer and registers its instructions on g.
func New(g *gateway.Gateway) *Interviewer {
	g.Instruct(types.RoleInterviewer, systemPrompt)
	return &Interviewer{g: g}
}

// Ask returns the next question, which may carry the completion token.
func (iv *Interviewer) Ask(ctx context.Context, req Request) (string, error) {
	q, err := iv.g.Invoke(ctx, types.RoleInterviewer, BuildPrompt(req))
	if err != nil {
		return "", fmt.Errorf("interviewer turn %d: %w", req.Turn, err)
	}
	return q, nil
}

// IsCompletion reports whether q contains the completion token, ignoring case.
//
// Expectations:
//   - Matches the bare token in any letter case
//   - Matches the token embedded in surrounding text
//   - Does not match ordinary questions
func IsCompletion(q string) bool {
	return strings.Contains(strings.ToUpper(q), CompletionToken)
}

// BuildPrompt renders the question-generation prompt for one turn.
func BuildPrompt(req Request) string {
	kind, guideLabel := "structured", "defined guide"
	if req.Exploratory {
		kind, guideLabel = "exploratory", "exploratory guidance"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "OverallStudyTopic: %s\nTargetYear: %d\n", req.Topic, req.TargetYear)
	if req.Persona != nil {
		fmt.Fprintf(&sb, "PersonaProfile: %s\n", compactJSON(req.Persona))
	} else {
		profile := req.ProfileText
		if strings.TrimSpace(profile) == "" {
			profile = "Human expert has not provided a specific profile.\n"
		}
		sb.WriteString(profile)
		if !strings.HasSuffix(profile, "\n") {
			sb.WriteString("\n")
		}
	}
	fmt.Fprintf(&sb, "ConversationHistory: %s\n", indentJSON(req.Transcript))
	if req.MaxTurns > 0 {
		fmt.Fprintf(&sb, "This is turn %d of at most %d.\n", req.Turn, req.MaxTurns)
	}
	fmt.Fprintf(&sb, "You are conducting an %s interview, following %s: '%s'. Ask your next question or output %s.",
		kind, guideLabel, req.Guide, CompletionToken)
	return sb.String()
}

func compactJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func indentJSON(tr types.Transcript) string {
	if tr == nil {
		tr = types.Transcript{}
	}
	b, err := json.MarshalIndent(tr, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(b)
}

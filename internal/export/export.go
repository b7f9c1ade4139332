// Package export renders a finished study as a Markdown document.
package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/haricheung/delphibot/internal/study"
	"github.com/haricheung/delphibot/internal/types"
)

// ErrNoCatalog is returned by Write when the report holds no catalog.
var ErrNoCatalog = errors.New("export: no catalog to export")

// FileName returns the export file name for topic: spaces become "_" and
// path separators are dropped.
//
// Expectations:
//   - Returns "Faktorenkatalog_<topic>.md" with spaces replaced by "_"
//   - Strips "/" and "\" so the name never escapes the export directory
//   - Returns "Faktorenkatalog.md" for a blank topic
func FileName(topic string) string {
	t := strings.TrimSpace(topic)
	t = strings.NewReplacer("/", "", "\\", "").Replace(t)
	t = strings.ReplaceAll(t, " ", "_")
	if t == "" {
		return "Faktorenkatalog.md"
	}
	return "Faktorenkatalog_" + t + ".md"
}

// Render produces the Markdown document: title, study metadata, the catalog,
// and an appendix with every interviewee and transcript.
func Render(r study.Report) string {
	var sb strings.Builder
	sc := r.Study
	if sc == nil {
		sc = &types.StudyContext{}
	}

	fmt.Fprintf(&sb, "# Faktorenkatalog: %s\n\n", sc.Topic)
	if sc.TargetYear > 0 {
		fmt.Fprintf(&sb, "- **Target year:** %d\n", sc.TargetYear)
	}
	if sc.GeographicScope != "" {
		fmt.Fprintf(&sb, "- **Geographic scope:** %s\n", sc.GeographicScope)
	}
	if sc.Objectives != "" {
		fmt.Fprintf(&sb, "- **Objectives:** %s\n", sc.Objectives)
	}
	fmt.Fprintf(&sb, "- **Interviews:** %d exploratory, %d structured\n", boolCount(r.Exploratory != nil), len(r.Structured))
	if r.SessionID != "" {
		fmt.Fprintf(&sb, "- **Session:** %s\n", r.SessionID)
	}
	sb.WriteString("\n")

	if strings.TrimSpace(r.Catalog) != "" {
		sb.WriteString(strings.TrimSpace(r.Catalog))
		sb.WriteString("\n\n")
	} else {
		sb.WriteString("_No catalog has been generated._\n\n")
	}

	if r.Exploratory == nil && len(r.Structured) == 0 {
		return sb.String()
	}
	sb.WriteString("---\n\n## Appendix: Interviews\n\n")
	if r.Exploratory != nil {
		writeInterview(&sb, "Exploratory interview", *r.Exploratory)
	}
	for i, res := range r.Structured {
		writeInterview(&sb, fmt.Sprintf("Structured interview %d", i+1), res)
	}
	return sb.String()
}

func writeInterview(sb *strings.Builder, heading string, res types.PhaseResult) {
	role := ""
	if res.Persona != nil && strings.TrimSpace(res.Persona.Role) != "" {
		role = " (" + strings.TrimSpace(res.Persona.Role) + ")"
	}
	fmt.Fprintf(sb, "### %s: %s%s\n\n", heading, res.PersonaName, role)
	n := 0
	for _, t := range res.Transcript {
		if t.IsMarker() {
			fmt.Fprintf(sb, "_%s_\n\n", t.Event)
			continue
		}
		n++
		fmt.Fprintf(sb, "**Q%d:** %s\n\n**A%d:** %s\n\n", n, t.Question, n, t.Answer)
	}
	if s := strings.TrimSpace(res.Summary); s != "" {
		fmt.Fprintf(sb, "<details><summary>Summary</summary>\n\n%s\n\n</details>\n\n", s)
	}
}

// Write renders r to dir/FileName(topic) and returns the file path.
func Write(dir string, r study.Report) (string, error) {
	if strings.TrimSpace(r.Catalog) == "" {
		return "", ErrNoCatalog
	}
	topic := ""
	if r.Study != nil {
		topic = r.Study.Topic
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("export: %w", err)
	}
	path := filepath.Join(dir, FileName(topic))
	if err := os.WriteFile(path, []byte(Render(r)), 0o644); err != nil {
		return "", fmt.Errorf("export: %w", err)
	}
	return path, nil
}

func boolCount(b bool) int {
	if b {
		return 1
	}
	return 0
}

package llm

import (
	"encoding/json"
	"log"
	"strings"
)

const fence = "```"

// ExtractJSON parses the JSON object embedded in generated text.
// It is a best-effort, ordered fallback; the first candidate that applies wins:
//
//  1. the trimmed text is itself one brace-delimited object;
//  2. the text opens with a code fence (```json, ```anything or bare ```) whose
//     interior is a brace-delimited object;
//  3. the substring from the first "{" to the last "}".
//
// The selected candidate is parsed once; a parse failure yields (nil, false).
// Unrelated braces in prose before the real object can select the wrong span;
// that limitation is accepted.
//
// Expectations:
//   - Returns the exact object for a bare JSON object
//   - Returns the same object for ```json and bare ``` fenced variants
//   - Returns (nil, false) when the text contains no "{" ... "}" span
//   - Returns (nil, false) for malformed JSON between the outer braces
//   - Returns (nil, false) for a top-level JSON array or scalar
func ExtractJSON(text string) (map[string]any, bool) {
	candidate := jsonCandidate(text)
	if candidate == "" {
		if strings.TrimSpace(text) != "" {
			log.Printf("[EXTRACT] WARNING: no JSON object found in %q", clipForLog(text))
		}
		return nil, false
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(candidate), &out); err != nil {
		log.Printf("[EXTRACT] ERROR: JSON parse failed: %v (candidate: %q)", err, clipForLog(candidate))
		return nil, false
	}
	if out == nil {
		return nil, false
	}
	return out, true
}

// jsonCandidate selects the substring ExtractJSON will parse, or "".
func jsonCandidate(text string) string {
	s := strings.TrimSpace(text)
	if s == "" {
		return ""
	}
	if isBraced(s) {
		return s
	}
	if inner, ok := fencedInterior(s); ok && isBraced(inner) {
		return inner
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return ""
	}
	return s[start : end+1]
}

// fencedInterior returns the trimmed body of a code block that opens s.
// The fence label (e.g. "json") is the remainder of the opening line.
func fencedInterior(s string) (string, bool) {
	if !strings.HasPrefix(s, fence) {
		return "", false
	}
	body := s[len(fence):]
	if nl := strings.IndexByte(body, '\n'); nl != -1 {
		label := strings.TrimSpace(body[:nl])
		if !strings.ContainsAny(label, "{}") {
			body = body[nl+1:]
		}
	}
	end := strings.LastIndex(body, fence)
	if end == -1 {
		return "", false
	}
	return strings.TrimSpace(body[:end]), true
}

func isBraced(s string) bool {
	return strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}")
}

func clipForLog(s string) string {
	const max = 300
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

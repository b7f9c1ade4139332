package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Client is an OpenAI-compatible chat-completions client.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	label       string // tier name used in debug log lines (e.g. "INTERVIEWER", "MANAGER")
	temperature *float64
	httpClient  *http.Client
}

// normalizeBaseURL strips trailing slashes and the "/chat/completions" suffix
// from a raw OPENAI_BASE_URL value so the path is never doubled when the
// client appends "/chat/completions" itself.
//
// Expectations:
//   - Strips a trailing "/chat/completions" suffix
//   - Strips a trailing slash without "/chat/completions"
//   - Strips trailing slash AND "/chat/completions" when both are present
//   - Returns the URL unchanged when neither suffix is present
//   - Returns "" for empty input
func normalizeBaseURL(raw string) string {
	s := strings.TrimRight(raw, "/")
	return strings.TrimSuffix(s, "/chat/completions")
}

const defaultBaseURL = "https://api.openai.com/v1"

// New creates a Client from the shared environment variables:
//
//	OPENAI_API_KEY, OPENAI_BASE_URL, OPENAI_MODEL
func New() *Client {
	return NewTier("")
}

// NewTier creates a Client for a named tier (one per study role, e.g. "INTERVIEWER").
// For each config key it first tries {prefix}_{KEY}; if unset it falls back
// to the shared OPENAI_{KEY}. An empty prefix reads only the shared vars,
// making it equivalent to New(). The base URL defaults to the public OpenAI
// endpoint when neither variable is set.
//
// Example: prefix "SUMMARIZER" resolves credentials as:
//
//	SUMMARIZER_API_KEY      → OPENAI_API_KEY
//	SUMMARIZER_BASE_URL     → OPENAI_BASE_URL
//	SUMMARIZER_MODEL        → OPENAI_MODEL
//	SUMMARIZER_TEMPERATURE  (no fallback; provider default when unset)
//
// Expectations:
//   - Uses {prefix}_API_KEY / _BASE_URL / _MODEL when set and non-empty
//   - Falls back to OPENAI_* vars for any unset tier-specific var
//   - Parses {prefix}_TEMPERATURE when it is a valid float
//   - Empty prefix reads only OPENAI_* (identical to New())
func NewTier(prefix string) *Client {
	cfg := ResolveTier(prefix)
	return &Client{
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		label:       cfg.Label,
		temperature: cfg.Temperature,
		httpClient:  &http.Client{Timeout: 180 * time.Second},
	}
}

// TierConfig is the resolved provider configuration for one tier.
type TierConfig struct {
	Label       string
	BaseURL     string
	APIKey      string
	Model       string
	Temperature *float64
}

// ResolveTier reads the {prefix}_* → OPENAI_* environment chain.
func ResolveTier(prefix string) TierConfig {
	get := func(suffix, fallback string) string {
		if prefix != "" {
			if v := os.Getenv(prefix + "_" + suffix); v != "" {
				return v
			}
		}
		return os.Getenv(fallback)
	}
	label := prefix
	if label == "" {
		label = "LLM"
	}
	base := normalizeBaseURL(get("BASE_URL", "OPENAI_BASE_URL"))
	if base == "" {
		base = defaultBaseURL
	}
	cfg := TierConfig{
		Label:   label,
		BaseURL: base,
		APIKey:  get("API_KEY", "OPENAI_API_KEY"),
		Model:   get("MODEL", "OPENAI_MODEL"),
	}
	if prefix != "" {
		if t, err := strconv.ParseFloat(os.Getenv(prefix+"_TEMPERATURE"), 64); err == nil {
			cfg.Temperature = &t
		}
	}
	return cfg
}

// Validate reports every missing connection field in one error.
//
// Expectations:
//   - Returns nil when baseURL, apiKey and model are all non-empty
//   - Lists "base URL", "API key" and "model" for each missing field, comma-separated
//   - Error message includes the tier label
func (c *Client) Validate() error {
	return validateFields(c.label, c.baseURL, c.apiKey, c.model)
}

func validateFields(label, baseURL, apiKey, model string) error {
	var missing []string
	if baseURL == "" {
		missing = append(missing, "base URL")
	}
	if apiKey == "" {
		missing = append(missing, "API key")
	}
	if model == "" {
		missing = append(missing, "model")
	}
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("llm [%s]: missing %s", label, strings.Join(missing, ", "))
}

// Label returns the tier label.
func (c *Client) Label() string { return c.label }

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []chatMsg `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type chatMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage reports token consumption for one LLM call as reported by the provider.
type Usage struct {
	PromptTokens     int   `json:"prompt_tokens"`
	CompletionTokens int   `json:"completion_tokens"`
	TotalTokens      int   `json:"total_tokens"`
	ElapsedMs        int64 `json:"-"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Chat sends a system + user prompt and returns the assistant's text response and token usage.
func (c *Client) Chat(ctx context.Context, system, user string) (string, Usage, error) {
	log.Printf("[%s] ── SYSTEM PROMPT ──────────────────────────────\n%s\n── END SYSTEM ──────────────────────────────────", c.label, system)
	log.Printf("[%s] ── USER PROMPT ─────────────────────────────────\n%s\n── END USER ────────────────────────────────────", c.label, user)

	payload := chatRequest{
		Model: c.model,
		Messages: []chatMsg{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: c.temperature,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", Usage{}, fmt.Errorf("llm: marshal request: %w", err)
	}

	url := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", Usage{}, fmt.Errorf("llm: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", Usage{}, fmt.Errorf("llm: http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Usage{}, fmt.Errorf("llm: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", Usage{}, fmt.Errorf("llm: HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", Usage{}, fmt.Errorf("llm: unmarshal response: %w", err)
	}

	if chatResp.Error != nil {
		return "", Usage{}, fmt.Errorf("llm: API error: %s", chatResp.Error.Message)
	}

	if len(chatResp.Choices) == 0 {
		return "", Usage{}, fmt.Errorf("llm: no choices in response")
	}

	content := StripThinkBlocks(chatResp.Choices[0].Message.Content)
	usage := chatResp.Usage
	usage.ElapsedMs = time.Since(start).Milliseconds()
	log.Printf("[%s] ── RESPONSE (tokens: prompt=%d completion=%d, %dms) ──\n%s\n── END RESPONSE ────────────────────────────────",
		c.label, usage.PromptTokens, usage.CompletionTokens, usage.ElapsedMs, content)
	return content, usage, nil
}

// StripThinkBlocks removes all <think>...</think> blocks from s.
// Reasoning models (e.g. deepseek-r1) emit these before their answer.
// The blocks are never part of an interview question, answer or summary.
//
// Expectations:
//   - Removes a single <think>...</think> block
//   - Removes multiple <think>...</think> blocks
//   - Strips an unclosed <think> block from its start to end of string
//   - Returns s unchanged when no <think> tag is present
func StripThinkBlocks(s string) string {
	for {
		start := strings.Index(s, "<think>")
		if start == -1 {
			break
		}
		end := strings.Index(s[start:], "</think>")
		if end == -1 {
			// Unclosed block: strip from opening tag to end of string.
			s = s[:start]
			break
		}
		s = s[:start] + s[start+end+len("</think>"):]
	}
	return strings.TrimSpace(s)
}

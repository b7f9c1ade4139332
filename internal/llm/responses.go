package llm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
)

// ResponsesClient talks to the OpenAI Responses API through the official SDK.
// It has the same Chat contract as Client so either can back a study role.
type ResponsesClient struct {
	client          *openai.Client
	model           string
	label           string
	baseURL         string
	apiKey          string
	maxOutputTokens int64
}

// NewResponsesTier builds a ResponsesClient from the same {prefix}_* → OPENAI_*
// chain as NewTier.
func NewResponsesTier(prefix string) *ResponsesClient {
	cfg := ResolveTier(prefix)
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" && cfg.BaseURL != defaultBaseURL {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL+"/"))
	}
	client := openai.NewClient(opts...)
	return &ResponsesClient{
		client:          &client,
		model:           cfg.Model,
		label:           cfg.Label,
		baseURL:         cfg.BaseURL,
		apiKey:          cfg.APIKey,
		maxOutputTokens: 4000,
	}
}

// Validate reports every missing connection field in one error.
func (c *ResponsesClient) Validate() error {
	return validateFields(c.label, c.baseURL, c.apiKey, c.model)
}

// Label returns the tier label.
func (c *ResponsesClient) Label() string { return c.label }

// Chat sends the role instructions and the user prompt as one Responses request.
func (c *ResponsesClient) Chat(ctx context.Context, system, user string) (string, Usage, error) {
	if c.client == nil {
		return "", Usage{}, errors.New("llm: responses client is nil")
	}
	log.Printf("[%s] ── RESPONSES REQUEST (model=%s) ──\n%s\n── END REQUEST ──", c.label, c.model, user)

	params := responses.ResponseNewParams{
		Model:           c.model,
		MaxOutputTokens: openai.Int(c.maxOutputTokens),
		Instructions:    openai.String(system),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				responses.ResponseInputItemParamOfMessage(user, responses.EasyInputMessageRoleUser),
			},
		},
	}

	start := time.Now()
	resp, err := c.client.Responses.New(ctx, params)
	if err != nil {
		return "", Usage{}, fmt.Errorf("llm: responses: %w", err)
	}
	text := StripThinkBlocks(resp.OutputText())
	if strings.TrimSpace(text) == "" {
		return "", Usage{}, errors.New("llm: responses: empty output")
	}
	usage := Usage{
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
		ElapsedMs:        time.Since(start).Milliseconds(),
	}
	log.Printf("[%s] ── RESPONSE (tokens: input=%d output=%d, %dms) ──\n%s\n── END RESPONSE ──",
		c.label, usage.PromptTokens, usage.CompletionTokens, usage.ElapsedMs, text)
	return text, usage, nil
}

// Package openai implements models.LLMProvider against the OpenAI chat
// completions API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ellipsesearch/visibility/internal/config"
	"github.com/ellipsesearch/visibility/pkg/models"
)

const completionsURL = "https://api.openai.com/v1/chat/completions"

// Provider implements models.LLMProvider using OpenAI.
type Provider struct {
	cfg    config.OpenAIConfig
	client *http.Client
}

func NewProvider(cfg config.OpenAIConfig) *Provider {
	return &Provider{cfg: cfg, client: &http.Client{}}
}

func (p *Provider) Name() string  { return "openai" }
func (p *Provider) Model() string { return p.cfg.Model }

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat *format       `json:"response_format,omitempty"`
}

type format struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (p *Provider) ExtractSignals(ctx context.Context, req models.SignalRequest) (models.SignalResult, error) {
	content, err := p.complete(ctx, chatRequest{
		Model:          p.cfg.Model,
		Temperature:    0,
		ResponseFormat: &format{Type: "json_object"},
		Messages: []chatMessage{
			{Role: "system", Content: signalsSystemPrompt},
			{Role: "user", Content: signalsUserPrompt(req)},
		},
	})
	if err != nil {
		return models.SignalResult{}, err
	}

	var result models.SignalResult
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return models.SignalResult{}, fmt.Errorf("parse signal result: %w", err)
	}
	return result, nil
}

func (p *Provider) AnswerPrompt(ctx context.Context, prompt string) (string, error) {
	return p.complete(ctx, chatRequest{
		Model:       p.cfg.Model,
		Temperature: 0.7,
		Messages: []chatMessage{
			{Role: "user", Content: prompt},
		},
	})
}

func (p *Provider) complete(ctx context.Context, req chatRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, completionsURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("openai request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read openai response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &models.ProviderHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var chatResp chatResponse
	if err := json.Unmarshal(raw, &chatResp); err != nil {
		return "", fmt.Errorf("decode openai response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}
	return chatResp.Choices[0].Message.Content, nil
}

const signalsSystemPrompt = `You analyze AI answer-engine responses for brand visibility.
Given a prompt, the engine's response, and a brand, respond with a JSON object:
{"brand_mentioned": bool, "brand_cited": bool, "sentiment": "positive"|"neutral"|"negative",
"competitors": [string], "mention_context": string, "cited_domains": [string]}`

func signalsUserPrompt(req models.SignalRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Brand: %s (%s)\n", req.BrandName, req.BrandDomain)
	if len(req.BrandAliases) > 0 {
		fmt.Fprintf(&b, "Aliases: %s\n", strings.Join(req.BrandAliases, ", "))
	}
	fmt.Fprintf(&b, "Prompt: %s\n", req.PromptText)
	if len(req.Sources) > 0 {
		fmt.Fprintf(&b, "Cited sources: %s\n", strings.Join(req.Sources, ", "))
	}
	fmt.Fprintf(&b, "\nResponse:\n%s", req.ResponseText)
	return b.String()
}

var _ models.LLMProvider = (*Provider)(nil)

// Package anthropic implements models.LLMProvider against the Anthropic
// messages API.
package anthropic

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

const (
	messagesURL = "https://api.anthropic.com/v1/messages"
	apiVersion  = "2023-06-01"
	maxTokens   = 1024
)

// Provider implements models.LLMProvider using Anthropic.
type Provider struct {
	cfg    config.AnthropicConfig
	client *http.Client
}

func NewProvider(cfg config.AnthropicConfig) *Provider {
	return &Provider{cfg: cfg, client: &http.Client{}}
}

func (p *Provider) Name() string  { return "anthropic" }
func (p *Provider) Model() string { return p.cfg.Model }

type messageRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messageResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (p *Provider) ExtractSignals(ctx context.Context, req models.SignalRequest) (models.SignalResult, error) {
	content, err := p.send(ctx, messageRequest{
		Model:     p.cfg.Model,
		MaxTokens: maxTokens,
		System:    signalsSystemPrompt,
		Messages:  []message{{Role: "user", Content: signalsUserPrompt(req)}},
	})
	if err != nil {
		return models.SignalResult{}, err
	}

	var result models.SignalResult
	if err := json.Unmarshal([]byte(extractJSON(content)), &result); err != nil {
		return models.SignalResult{}, fmt.Errorf("parse signal result: %w", err)
	}
	return result, nil
}

func (p *Provider) AnswerPrompt(ctx context.Context, prompt string) (string, error) {
	return p.send(ctx, messageRequest{
		Model:     p.cfg.Model,
		MaxTokens: maxTokens,
		Messages:  []message{{Role: "user", Content: prompt}},
	})
}

func (p *Provider) send(ctx context.Context, req messageRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal message request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, messagesURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("anthropic request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read anthropic response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &models.ProviderHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var msgResp messageResponse
	if err := json.Unmarshal(raw, &msgResp); err != nil {
		return "", fmt.Errorf("decode anthropic response: %w", err)
	}
	for _, block := range msgResp.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("anthropic returned no text content")
}

// extractJSON trims any prose the model wrapped around the JSON object.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

const signalsSystemPrompt = `You analyze AI answer-engine responses for brand visibility.
Given a prompt, the engine's response, and a brand, respond with only a JSON object:
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

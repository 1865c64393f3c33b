// Package mock provides a models.LLMProvider for testing and local runs.
package mock

import (
	"context"
	"strings"

	"github.com/ellipsesearch/visibility/pkg/models"
)

// Provider satisfies models.LLMProvider for testing.
type Provider struct {
	Name_              string
	Model_             string
	ExtractSignalsFunc func(ctx context.Context, req models.SignalRequest) (models.SignalResult, error)
	AnswerPromptFunc   func(ctx context.Context, prompt string) (string, error)
}

func (p *Provider) Name() string {
	if p.Name_ == "" {
		return "mock"
	}
	return p.Name_
}

func (p *Provider) Model() string {
	if p.Model_ == "" {
		return "mock-v1"
	}
	return p.Model_
}

func (p *Provider) ExtractSignals(ctx context.Context, req models.SignalRequest) (models.SignalResult, error) {
	if p.ExtractSignalsFunc != nil {
		return p.ExtractSignalsFunc(ctx, req)
	}
	// Default: naive substring check, enough for wiring tests.
	mentioned := req.BrandName != "" &&
		strings.Contains(strings.ToLower(req.ResponseText), strings.ToLower(req.BrandName))
	return models.SignalResult{
		BrandMentioned: mentioned,
		Sentiment:      "neutral",
	}, nil
}

func (p *Provider) AnswerPrompt(ctx context.Context, prompt string) (string, error) {
	if p.AnswerPromptFunc != nil {
		return p.AnswerPromptFunc(ctx, prompt)
	}
	return "This is a mock answer mentioning no brands in particular, produced for: " + prompt, nil
}

// NewProvider returns a Provider with default behavior.
func NewProvider() *Provider {
	return &Provider{}
}

var _ models.LLMProvider = (*Provider)(nil)

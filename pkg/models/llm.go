package models

import (
	"context"
	"fmt"
)

// LLMProvider is the interface every language-model integration implements.
// Never call a specific provider directly; always inject this interface.
type LLMProvider interface {
	// ExtractSignals analyzes a captured answer-engine response and returns
	// structured selection signals (visibility, sentiment, cited competitors).
	ExtractSignals(ctx context.Context, req SignalRequest) (SignalResult, error)
	// AnswerPrompt asks the model the prompt directly. Used for engines with
	// no remote-worker coverage, where the hosted API stands in for the
	// browser session.
	AnswerPrompt(ctx context.Context, prompt string) (string, error)
	// Name returns the provider identifier (e.g., "openai", "anthropic").
	Name() string
	// Model returns the configured model identifier.
	Model() string
}

// ProviderHTTPError is a non-2xx response from a provider API. It carries
// the status code so the resilience layer can classify retryability.
type ProviderHTTPError struct {
	StatusCode int
	Body       string
}

func (e *ProviderHTTPError) Error() string {
	return fmt.Sprintf("llm http error: status %d: %s", e.StatusCode, e.Body)
}

// SignalRequest is the input to a signal-extraction call.
type SignalRequest struct {
	PromptText   string
	ResponseText string
	BrandName    string
	BrandDomain  string
	BrandAliases []string
	Sources      []string
}

// SignalResult is the structured outcome of signal extraction.
type SignalResult struct {
	BrandMentioned bool     `json:"brand_mentioned"`
	BrandCited     bool     `json:"brand_cited"`
	Sentiment      string   `json:"sentiment,omitempty"`
	Competitors    []string `json:"competitors,omitempty"`
	MentionContext string   `json:"mention_context,omitempty"`
	CitedDomains   []string `json:"cited_domains,omitempty"`
}

package llm

import (
	"fmt"

	"github.com/ellipsesearch/visibility/internal/config"
	"github.com/ellipsesearch/visibility/internal/llm/anthropic"
	"github.com/ellipsesearch/visibility/internal/llm/mock"
	"github.com/ellipsesearch/visibility/internal/llm/openai"
	"github.com/ellipsesearch/visibility/pkg/models"
)

// NewProvider constructs the appropriate LLM provider based on config.
// Called once at server startup.
func NewProvider(cfg config.LLMConfig) (models.LLMProvider, error) {
	switch cfg.Provider {
	case "openai":
		return openai.NewProvider(cfg.OpenAI), nil
	case "anthropic":
		return anthropic.NewProvider(cfg.Anthropic), nil
	case "mock":
		return mock.NewProvider(), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q: must be one of openai, anthropic, mock", cfg.Provider)
	}
}

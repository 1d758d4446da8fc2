package llm

import (
	"fmt"
	"strings"

	"github.com/ppiankov/lodeclaim/internal/model"
)

// NewProvider creates a new LLM provider based on configuration
func NewProvider(config Config) (Provider, error) {
	switch strings.ToLower(config.Provider) {
	case "openai":
		return NewOpenAIProvider(config)

	case "":
		// No provider configured - LLM disabled
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown LLM provider: %s (supported: openai)", config.Provider)
	}
}

// ConfigFromModel converts model.LLMConfig and the shared proxy settings to llm.Config
func ConfigFromModel(llmCfg model.LLMConfig, httpCfg model.HTTPConfig) Config {
	cfg := DefaultConfig()
	cfg.Provider = llmCfg.Provider
	cfg.Model = llmCfg.Model
	cfg.APIKey = llmCfg.APIKey
	cfg.BaseURL = llmCfg.BaseURL
	if llmCfg.Timeout > 0 {
		cfg.Timeout = llmCfg.Timeout
	}
	if llmCfg.MaxTokens > 0 {
		cfg.MaxTokens = llmCfg.MaxTokens
	}
	cfg.HTTPProxy = httpCfg.HTTPProxy
	cfg.HTTPSProxy = httpCfg.HTTPSProxy
	cfg.NoProxy = httpCfg.NoProxy
	return cfg
}

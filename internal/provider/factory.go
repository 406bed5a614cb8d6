package provider

import (
	"fmt"
	"log/slog"
	"time"

	"doubtbot/internal/config"
	"doubtbot/internal/domain"
)

// FromConfig constructs the configured completion client. Exactly one
// completer serves the whole process; there is no failover chain.
func FromConfig(pc config.ProviderConfig, logger *slog.Logger) (domain.Completer, error) {
	timeout := time.Duration(pc.TimeoutSeconds) * time.Second

	switch pc.Name {
	case "gemini":
		return NewGemini(GeminiConfig{
			APIKey:  pc.APIKey,
			APIBase: pc.APIBase,
			Model:   pc.Model,
			Timeout: timeout,
			Logger:  logger,
		}), nil
	case "openai":
		return NewOpenAI(OpenAIConfig{
			APIKey:  pc.APIKey,
			APIBase: pc.APIBase,
			Model:   pc.Model,
			Timeout: timeout,
			Logger:  logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", pc.Name)
	}
}

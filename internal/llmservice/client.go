package llmservice

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"studyscope/internal/config"
)

// NewModel creates the text generation model described by cfg.
func NewModel(cfg *config.LLMConfig) (llms.Model, error) {
	log.Debug().Str("provider", cfg.Provider).Str("model", cfg.Model).Str("base_url", cfg.BaseURL).Msg("Creating LLM client")

	switch cfg.Provider {
	case "ollama":
		llm, err := ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to initialize ollama client")
		}
		return llm, nil
	case "openai":
		opts := []openai.Option{
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to initialize openai client")
		}
		return llm, nil
	default:
		return nil, goerr.New("unsupported LLM provider", goerr.V("provider", cfg.Provider))
	}
}

// GenerateText sends prompt as a single human message and returns the first
// choice, trimmed.
func GenerateText(ctx context.Context, model llms.Model, prompt string, opts ...llms.CallOption) (string, error) {
	msgContent := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextContent{Text: prompt}},
		},
	}

	res, err := model.GenerateContent(ctx, msgContent, opts...)
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate content")
	}
	if res == nil || len(res.Choices) == 0 {
		return "", goerr.New("model returned no choices")
	}
	return strings.TrimSpace(res.Choices[0].Content), nil
}

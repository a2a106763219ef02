package llmservice

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
)

const (
	DefaultFallbackTokens = 100
	emptyResponse         = "The model did not generate a response."
)

// Fallback answers questions from a general-purpose model when the notes have no
// confident match.
type Fallback struct {
	model     llms.Model
	maxTokens int
}

func NewFallback(model llms.Model, maxTokens int) *Fallback {
	if maxTokens <= 0 {
		maxTokens = DefaultFallbackTokens
	}
	return &Fallback{model: model, maxTokens: maxTokens}
}

// Respond always returns some text: model failures are turned into a message
// describing the error.
func (f *Fallback) Respond(ctx context.Context, question string) string {
	if f.model == nil {
		return "LLM error: no model configured"
	}
	answer, err := GenerateText(ctx, f.model, question, llms.WithMaxTokens(f.maxTokens))
	if err != nil {
		log.Error().Err(err).Str("question", question).Msg("Fallback generation failed")
		return "LLM error: " + err.Error()
	}
	if answer == "" {
		return emptyResponse
	}
	return answer
}

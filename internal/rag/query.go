package rag

import (
	"context"
	"errors"
	"math"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"

	"studyscope/internal/embedding"
	"studyscope/internal/models"
	"studyscope/internal/store"
)

const (
	DefaultTopK      = 3
	DefaultThreshold = 0.35
)

// Retriever answers questions from a subject's indexed chunks.
type Retriever struct {
	store     *store.Store
	embedder  embeddings.Embedder
	topK      int
	threshold float64
}

func NewRetriever(st *store.Store, embedder embeddings.Embedder, topK int, threshold float64) *Retriever {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Retriever{store: st, embedder: embedder, topK: topK, threshold: threshold}
}

// Answer returns the best matching chunk with the retriever's k and threshold.
func (r *Retriever) Answer(ctx context.Context, question, subject string) (*models.Answer, error) {
	return r.AnswerWithOptions(ctx, question, subject, r.topK, r.threshold)
}

// AnswerWithOptions returns the chunk nearest to question if its score is at least
// threshold, or nil when there is no confident match. Missing or unreadable subject
// data is logged and reported as no match.
func (r *Retriever) AnswerWithOptions(ctx context.Context, question, subject string, k int, threshold float64) (*models.Answer, error) {
	if err := store.ValidateSubject(subject); err != nil {
		return nil, err
	}

	data, err := r.store.Load(ctx, subject)
	if err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("Error loading subject data")
		return nil, nil
	}
	if data.Empty() {
		log.Info().Str("subject", subject).Msg("Subject has no indexed notes")
		return nil, nil
	}

	query, err := embedding.EmbedQuery(ctx, r.embedder, question)
	if err != nil {
		return nil, err
	}
	if embedding.Norm(query) == 0 {
		log.Info().Str("question", question).Msg("Question has no searchable content")
		return nil, nil
	}

	results, err := data.Index.Search(ctx, query, k)
	if err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("Error searching vector index")
		return nil, nil
	}
	if len(results) == 0 {
		return nil, nil
	}

	best := results[0]
	if !finite(best.Score) || float64(best.Score) < threshold {
		log.Info().Float32("score", best.Score).Str("question", question).Msg("No good match")
		return nil, nil
	}
	if best.Position < 0 || best.Position >= len(data.Chunks) {
		log.Error().Err(errors.New("position out of range")).
			Int("position", best.Position).
			Int("chunks", len(data.Chunks)).
			Str("subject", subject).
			Msg("Vector index points past the chunk store")
		return nil, nil
	}

	chunk := data.Chunks[best.Position]
	log.Info().Float32("score", best.Score).Str("preview", preview(chunk.Content, 120)).Msg("Match")
	return &models.Answer{
		Content:  chunk.Content,
		Score:    best.Score,
		Position: best.Position,
		Source:   chunk.Source,
	}, nil
}

func finite(f float32) bool {
	return !math.IsNaN(float64(f)) && !math.IsInf(float64(f), 0)
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

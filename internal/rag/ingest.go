package rag

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"

	"studyscope/internal/embedding"
	"studyscope/internal/helper"
	"studyscope/internal/models"
	"studyscope/internal/parser"
	"studyscope/internal/store"
)

// Ingestor turns uploaded documents into chunks and appends them, with their
// embeddings, to a subject.
type Ingestor struct {
	store     *store.Store
	embedder  embeddings.Embedder
	chunkSize int
}

func NewIngestor(st *store.Store, embedder embeddings.Embedder, chunkSize int) *Ingestor {
	return &Ingestor{store: st, embedder: embedder, chunkSize: chunkSize}
}

// Ingest extracts the text of data, splits it into word chunks, embeds them and
// commits them to subject. It returns the subject's new total chunk count and
// fails with models.ErrEmptyDocument when no text is found.
func (i *Ingestor) Ingest(ctx context.Context, data []byte, fileName, subject string) (int, error) {
	if err := store.ValidateSubject(subject); err != nil {
		return 0, err
	}

	text, err := parser.ExtractText(fileName, data)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to extract text", goerr.V("file", fileName))
	}
	pieces := parser.ChunkWords(text, i.chunkSize)
	if len(pieces) == 0 {
		return 0, goerr.Wrap(models.ErrEmptyDocument, "nothing to index", goerr.V("file", fileName))
	}

	vectors, err := embedding.EmbedChunks(ctx, i.embedder, pieces)
	if err != nil {
		return 0, err
	}

	batch, err := helper.GenerateUUID()
	if err != nil {
		return 0, goerr.Wrap(err, "failed to create batch id")
	}
	chunks := make([]models.Chunk, len(pieces))
	for n, p := range pieces {
		chunks[n] = models.Chunk{Content: p, Source: fileName, Batch: batch}
	}

	total, err := i.store.Append(ctx, subject, chunks, vectors)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to store chunks", goerr.V("subject", subject))
	}

	log.Info().
		Str("subject", subject).
		Str("file", fileName).
		Int("added", len(chunks)).
		Int("total", total).
		Msg("Ingested document")
	return total, nil
}

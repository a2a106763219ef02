package main

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"

	"studyscope/internal/config"
	"studyscope/internal/embedding"
	"studyscope/internal/helper"
	"studyscope/internal/llmservice"
	"studyscope/internal/quiz"
	"studyscope/internal/rag"
	"studyscope/internal/session"
	"studyscope/internal/store"
)

type globalOptions struct {
	configPath *string
	logLevel   *string
}

// app holds the components every command is built from.
type app struct {
	cfg       *config.Config
	store     *store.Store
	embedder  embeddings.Embedder
	ingestor  *rag.Ingestor
	retriever *rag.Retriever
	fallback  *llmservice.Fallback
	quiz      *quiz.Generator
	sessions  *session.Store
}

func newApp(opts *globalOptions) (*app, error) {
	cfg, err := config.LoadConfig(*opts.configPath)
	if err != nil {
		helper.SetupLogger(*opts.logLevel)
		return nil, err
	}
	level := cfg.Log.Level
	if *opts.logLevel != "" {
		level = *opts.logLevel
	}
	helper.SetupLogger(level)
	log.Debug().Str("config", *opts.configPath).Msg("Loaded config")

	embedder, err := embedding.NewEmbedder(&cfg.EmbedLLM)
	if err != nil {
		return nil, err
	}

	st := store.New(cfg.Storage.SubjectsDir,
		store.WithCompression(cfg.RAG.Compress),
		store.WithEncryptionKey(cfg.RAG.EncryptionKey),
		store.WithEmbeddingFunc(func(ctx context.Context, text string) ([]float32, error) {
			return embedding.EmbedQuery(ctx, embedder, text)
		}),
	)

	// A missing inference model only disables the fallback and quiz features.
	model, err := llmservice.NewModel(&cfg.InferenceLLM)
	if err != nil {
		log.Warn().Err(err).Str("provider", cfg.InferenceLLM.Provider).Msg("Inference model unavailable")
		model = nil
	}

	return &app{
		cfg:       cfg,
		store:     st,
		embedder:  embedder,
		ingestor:  rag.NewIngestor(st, embedder, cfg.RAG.ChunkSize),
		retriever: rag.NewRetriever(st, embedder, cfg.RAG.TopK, cfg.RAG.Threshold),
		fallback:  llmservice.NewFallback(model, cfg.Fallback.MaxTokens),
		quiz: quiz.New(model,
			quiz.WithMinChunkChars(cfg.Quiz.MinChunkChars),
			quiz.WithMaxTokens(cfg.Quiz.MaxTokens),
		),
		sessions: session.NewStore(cfg.Storage.SubjectsDir),
	}, nil
}

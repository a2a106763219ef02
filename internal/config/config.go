package config

import (
	"errors"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

const (
	defaultSubjectsDir     = "subjects"
	defaultChunkSize       = 300 // words
	defaultTopK            = 3
	defaultThreshold       = 0.35
	defaultAnswerWordLimit = 250
	defaultNumQuestions    = 5
	defaultMinChunkChars   = 50
	defaultQuizMaxTokens   = 150
	defaultFallbackTokens  = 100
	defaultHashDimension   = 1024
	defaultServerAddr      = ":8080"
	defaultLogLevel        = "info"

	embedKeyEnv = "STUDYSCOPE_EMBED_KEY"
	llmKeyEnv   = "STUDYSCOPE_LLM_KEY"
)

type Config struct {
	Storage      StorageConfig  `yaml:"storage"`
	EmbedLLM     LLMConfig      `yaml:"embed_llm"`
	InferenceLLM LLMConfig      `yaml:"inference_llm"`
	RAG          RAGConfig      `yaml:"rag"`
	Quiz         QuizConfig     `yaml:"quiz"`
	Fallback     FallbackConfig `yaml:"fallback"`
	Database     DatabaseConfig `yaml:"database"`
	Server       ServerConfig   `yaml:"server"`
	Log          LogConfig      `yaml:"log"`
}

type StorageConfig struct {
	SubjectsDir string `yaml:"subjects_dir"`
}

// LLMConfig describes one model endpoint. Provider is one of "ollama", "openai" or,
// for embeddings only, "hash" (offline feature hashing).
type LLMConfig struct {
	Provider  string `yaml:"provider"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	Key       string `yaml:"key"`
	Dimension int    `yaml:"dimension"`
}

type RAGConfig struct {
	ChunkSize       int     `yaml:"chunk_size"`
	TopK            int     `yaml:"top_k"`
	Threshold       float64 `yaml:"threshold"`
	AnswerWordLimit int     `yaml:"answer_word_limit"`
	EncryptionKey   string  `yaml:"encryption_key"`
	Compress        bool    `yaml:"compress"`
}

type QuizConfig struct {
	NumQuestions  int `yaml:"num_questions"`
	MinChunkChars int `yaml:"min_chunk_chars"`
	MaxTokens     int `yaml:"max_tokens"`
}

type FallbackConfig struct {
	MaxTokens int `yaml:"max_tokens"`
}

// DatabaseConfig configures the optional Postgres mirror. Driver is "pgdriver"
// (default) or "postgres" (lib/pq).
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	DSN      string `yaml:"dsn"`
	Password string `yaml:"password"`
	Debug    bool   `yaml:"debug"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// LoadConfig reads the YAML file at path. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, goerr.Wrap(err, "failed to read config", goerr.V("path", path))
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, goerr.Wrap(err, "failed to parse config", goerr.V("path", path))
	}
	ApplyDefaults(cfg)
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{
		EmbedLLM:     LLMConfig{Provider: "hash"},
		InferenceLLM: LLMConfig{Provider: "ollama", BaseURL: "http://localhost:11434", Model: "llama3.2"},
	}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills every zero value with its default.
func ApplyDefaults(cfg *Config) {
	if cfg.Storage.SubjectsDir == "" {
		cfg.Storage.SubjectsDir = defaultSubjectsDir
	}
	if cfg.EmbedLLM.Provider == "" {
		cfg.EmbedLLM.Provider = "hash"
	}
	if cfg.EmbedLLM.Provider == "hash" && cfg.EmbedLLM.Dimension == 0 {
		cfg.EmbedLLM.Dimension = defaultHashDimension
	}
	if cfg.RAG.ChunkSize == 0 {
		cfg.RAG.ChunkSize = defaultChunkSize
	}
	if cfg.RAG.TopK == 0 {
		cfg.RAG.TopK = defaultTopK
	}
	if cfg.RAG.Threshold == 0 {
		cfg.RAG.Threshold = defaultThreshold
	}
	if cfg.RAG.AnswerWordLimit == 0 {
		cfg.RAG.AnswerWordLimit = defaultAnswerWordLimit
	}
	if cfg.Quiz.NumQuestions == 0 {
		cfg.Quiz.NumQuestions = defaultNumQuestions
	}
	if cfg.Quiz.MinChunkChars == 0 {
		cfg.Quiz.MinChunkChars = defaultMinChunkChars
	}
	if cfg.Quiz.MaxTokens == 0 {
		cfg.Quiz.MaxTokens = defaultQuizMaxTokens
	}
	if cfg.Fallback.MaxTokens == 0 {
		cfg.Fallback.MaxTokens = defaultFallbackTokens
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "pgdriver"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultServerAddr
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaultLogLevel
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(embedKeyEnv); v != "" && cfg.EmbedLLM.Key == "" {
		cfg.EmbedLLM.Key = v
	}
	if v := os.Getenv(llmKeyEnv); v != "" && cfg.InferenceLLM.Key == "" {
		cfg.InferenceLLM.Key = v
	}
}

// Validate rejects settings the pipelines cannot work with.
func (c *Config) Validate() error {
	if c.RAG.ChunkSize < 1 {
		return goerr.New("chunk_size must be positive", goerr.V("chunk_size", c.RAG.ChunkSize))
	}
	if c.RAG.TopK < 1 {
		return goerr.New("top_k must be positive", goerr.V("top_k", c.RAG.TopK))
	}
	if c.RAG.Threshold < -1 || c.RAG.Threshold > 1 {
		return goerr.New("threshold must be within [-1, 1]", goerr.V("threshold", c.RAG.Threshold))
	}
	// chromem-go requires AES-256 keys
	if k := c.RAG.EncryptionKey; k != "" && len(k) != 32 {
		return goerr.New("encryption_key must be 32 bytes", goerr.V("length", len(k)))
	}
	switch c.Database.Driver {
	case "pgdriver", "postgres":
	default:
		return goerr.New("unsupported database driver", goerr.V("driver", c.Database.Driver))
	}
	return nil
}

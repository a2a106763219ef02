package quiz

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"studyscope/internal/llmservice"
	"studyscope/internal/models"
)

const (
	DefaultNumQuestions  = 5
	DefaultMinChunkChars = 50
	DefaultMaxTokens     = 150

	questionMarker = "Question:"
	optionsMarker  = "Options:"
	answerMarker   = "Answer:"
)

var optionMarkers = [4]string{"A)", "B)", "C)", "D)"}

// Generator asks a language model for multiple-choice items built from note chunks.
type Generator struct {
	model         llms.Model
	minChunkChars int
	maxTokens     int

	mu  sync.Mutex
	rng *rand.Rand
}

type Option func(*Generator)

// WithRand sets the source used to sample chunks.
func WithRand(rng *rand.Rand) Option {
	return func(g *Generator) { g.rng = rng }
}

func WithMinChunkChars(n int) Option {
	return func(g *Generator) { g.minChunkChars = n }
}

func WithMaxTokens(n int) Option {
	return func(g *Generator) { g.maxTokens = n }
}

func New(model llms.Model, opts ...Option) *Generator {
	g := &Generator{
		model:         model,
		minChunkChars: DefaultMinChunkChars,
		maxTokens:     DefaultMaxTokens,
		rng:           rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate samples min(n, len(chunks)) distinct chunks and returns one quiz item for
// every chunk the model turned into a well-formed question. Short chunks and failed
// items are skipped without replacement, so fewer than n items may come back.
func (g *Generator) Generate(ctx context.Context, chunks []string, n int) []models.QuizItem {
	if n <= 0 {
		n = DefaultNumQuestions
	}
	selected := g.sample(chunks, n)

	quiz := make([]models.QuizItem, 0, len(selected))
	for _, text := range selected {
		if len(strings.TrimSpace(text)) < g.minChunkChars {
			continue
		}
		item, err := g.generateItem(ctx, text)
		if errors.Is(err, errMalformedItem) {
			log.Debug().Err(err).Msg("Discarding malformed quiz item")
			continue
		}
		if err != nil {
			log.Warn().Err(err).Msg("Quiz generation error")
			continue
		}
		quiz = append(quiz, *item)
	}
	return quiz
}

func (g *Generator) sample(chunks []string, n int) []string {
	k := min(n, len(chunks))
	g.mu.Lock()
	perm := g.rng.Perm(len(chunks))
	g.mu.Unlock()

	selected := make([]string, k)
	for i := 0; i < k; i++ {
		selected[i] = chunks[perm[i]]
	}
	return selected
}

var errMalformedItem = errors.New("model output does not follow the quiz layout")

func (g *Generator) generateItem(ctx context.Context, text string) (*models.QuizItem, error) {
	if g.model == nil {
		return nil, goerr.New("no model configured")
	}
	prompt := fmt.Sprintf(models.QuizPromptTemplate, text)
	raw, err := llmservice.GenerateText(ctx, g.model, prompt,
		llms.WithMaxTokens(g.maxTokens),
		llms.WithTemperature(0),
	)
	if err != nil {
		return nil, err
	}
	item, ok := ParseItem(raw)
	if !ok {
		return nil, goerr.Wrap(errMalformedItem, "cannot parse quiz item", goerr.V("output", raw))
	}
	return item, nil
}

// ParseItem reads a model reply laid out as
//
//	Question: <question>
//	Options: A) <a> B) <b> C) <c> D) <d>
//	Answer: <letter>
//
// and reports false when any part is missing.
func ParseItem(raw string) (*models.QuizItem, bool) {
	q := strings.Index(raw, questionMarker)
	o := strings.Index(raw, optionsMarker)
	a := strings.Index(raw, answerMarker)
	if q < 0 || o < 0 || a < 0 || !(q < o && o < a) {
		return nil, false
	}

	question := strings.TrimSpace(raw[q+len(questionMarker) : o])
	optionsLine := raw[o+len(optionsMarker) : a]
	answer := parseAnswerLetter(raw[a+len(answerMarker):])
	if question == "" || answer == "" {
		return nil, false
	}

	options, ok := parseOptions(optionsLine)
	if !ok {
		return nil, false
	}
	return &models.QuizItem{Question: question, Options: options, Answer: answer}, true
}

// parseOptions finds the A) to D) markers in order and takes the text between each
// marker and the next one.
func parseOptions(line string) ([4]string, bool) {
	var options [4]string
	starts := [4]int{}
	from := 0
	for i, marker := range optionMarkers {
		idx := strings.Index(line[from:], marker)
		if idx < 0 {
			return options, false
		}
		starts[i] = from + idx
		from = starts[i] + len(marker)
	}
	for i := range optionMarkers {
		end := len(line)
		if i+1 < len(optionMarkers) {
			end = starts[i+1]
		}
		options[i] = strings.TrimSpace(line[starts[i]+len(optionMarkers[i]) : end])
		if options[i] == "" {
			return options, false
		}
	}
	return options, true
}

// parseAnswerLetter accepts "B", "b", "B)" or "B." optionally followed by more text.
func parseAnswerLetter(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	letter := strings.ToUpper(strings.TrimRight(fields[0], ").:"))
	if len(letter) != 1 || !strings.Contains(models.LetterOptions, letter) {
		return ""
	}
	return letter
}

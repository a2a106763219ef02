package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/m-mizutani/goerr/v2"
	"github.com/rs/zerolog/log"

	"studyscope/internal/llmservice"
	"studyscope/internal/models"
	"studyscope/internal/quiz"
	"studyscope/internal/rag"
	"studyscope/internal/session"
	"studyscope/internal/store"
)

const maxUploadBytes = 64 << 20

type Server struct {
	router *chi.Mux

	store     *store.Store
	ingestor  *rag.Ingestor
	retriever *rag.Retriever
	fallback  *llmservice.Fallback
	quiz      *quiz.Generator
	sessions  *session.Store

	answerWordLimit int
	numQuestions    int
	now             func() time.Time
}

type Option func(*Server)

func WithFallback(f *llmservice.Fallback) Option {
	return func(s *Server) { s.fallback = f }
}

func WithQuiz(g *quiz.Generator, numQuestions int) Option {
	return func(s *Server) {
		s.quiz = g
		s.numQuestions = numQuestions
	}
}

func WithAnswerWordLimit(n int) Option {
	return func(s *Server) { s.answerWordLimit = n }
}

// WithClock replaces time.Now for the study timer.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

func New(st *store.Store, ingestor *rag.Ingestor, retriever *rag.Retriever, opts ...Option) *Server {
	r := chi.NewRouter()
	s := &Server{
		router:          r,
		store:           st,
		ingestor:        ingestor,
		retriever:       retriever,
		sessions:        session.NewStore(st.Root()),
		answerWordLimit: rag.DefaultAnswerWordLimit,
		numQuestions:    quiz.DefaultNumQuestions,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	r.Use(middleware.RequestID)
	r.Use(accessLogger)
	r.Use(middleware.Recoverer)

	r.Route("/subjects", func(r chi.Router) {
		r.Get("/", s.listSubjects)
		r.Post("/", s.createSubject)
		r.Route("/{subject}", func(r chi.Router) {
			r.Post("/documents", s.uploadDocument)
			r.Post("/ask", s.ask)
			r.Post("/quiz", s.generateQuiz)
			r.Get("/session", s.getSession)
			r.Put("/session", s.putSession)
			r.Post("/session/tasks", s.addTask)
			r.Delete("/session/tasks", s.clearTasks)
			r.Post("/session/mood", s.logMood)
			r.Post("/session/timer", s.startTimer)
		})
	})

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Starting server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return goerr.Wrap(err, "server stopped", goerr.V("addr", addr))
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func accessLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("access")
		}()

		next.ServeHTTP(ww, r)
	})
}

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// writeJSON encodes before writing the header so an unencodable body becomes a
// 500 instead of an empty 200.
func writeJSON(w http.ResponseWriter, status int, body envelope) {
	data, err := json.Marshal(body)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
		status = http.StatusInternalServerError
		data, _ = json.Marshal(envelope{Error: "failed to encode response"})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(data, '\n')); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	}
	writeJSON(w, status, envelope{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, models.ErrInvalidSubject),
		errors.Is(err, models.ErrEmptyDocument),
		errors.Is(err, models.ErrEmptyTask):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, errUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

var (
	errBadRequest  = errors.New("bad request")
	errUnavailable = errors.New("feature not configured")
)

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v); err != nil {
		return goerr.Wrap(errBadRequest, "invalid JSON body", goerr.V("error", err.Error()))
	}
	return nil
}

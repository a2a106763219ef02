package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/m-mizutani/goerr/v2"

	"studyscope/internal/models"
	"studyscope/internal/rag"
	"studyscope/internal/session"
	"studyscope/internal/store"
)

func (s *Server) listSubjects(w http.ResponseWriter, r *http.Request) {
	subjects, err := s.store.ListSubjects()
	if err != nil && !errors.Is(err, models.ErrNoSubjectsDir) {
		writeError(w, r, err)
		return
	}
	if subjects == nil {
		subjects = []string{}
	}
	writeData(w, http.StatusOK, subjects)
}

func (s *Server) createSubject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.store.CreateSubject(req.Name); err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, map[string]string{"name": req.Name})
}

func (s *Server) uploadDocument(w http.ResponseWriter, r *http.Request) {
	subject := chi.URLParam(r, "subject")

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, goerr.Wrap(errBadRequest, "multipart field 'file' is required", goerr.V("error", err.Error())))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, goerr.Wrap(errBadRequest, "failed to read upload", goerr.V("error", err.Error())))
		return
	}

	total, err := s.ingestor.Ingest(r.Context(), data, header.Filename, subject)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"subject": subject,
		"file":    header.Filename,
		"chunks":  total,
	})
}

type askResponse struct {
	Source    string  `json:"source"`
	Answer    string  `json:"answer"`
	Score     float32 `json:"score,omitempty"`
	Position  *int    `json:"position,omitempty"`
	File      string  `json:"file,omitempty"`
	Truncated bool    `json:"truncated,omitempty"`
}

// ask answers from the notes first. Without a confident match it asks the
// fallback model when the request allows it.
func (s *Server) ask(w http.ResponseWriter, r *http.Request) {
	subject := chi.URLParam(r, "subject")
	var req struct {
		Question string `json:"question"`
		Fallback bool   `json:"fallback"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, r, goerr.Wrap(errBadRequest, "question is required"))
		return
	}

	answer, err := s.retriever.Answer(r.Context(), req.Question, subject)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if answer != nil {
		text, truncated := rag.TruncateWords(answer.Content, s.answerWordLimit)
		pos := answer.Position
		writeData(w, http.StatusOK, askResponse{
			Source:    "notes",
			Answer:    text,
			Score:     answer.Score,
			Position:  &pos,
			File:      answer.Source,
			Truncated: truncated,
		})
		return
	}

	if req.Fallback && s.fallback != nil {
		writeData(w, http.StatusOK, askResponse{
			Source: "llm",
			Answer: s.fallback.Respond(r.Context(), req.Question),
		})
		return
	}
	writeData(w, http.StatusOK, askResponse{Source: "none"})
}

func (s *Server) generateQuiz(w http.ResponseWriter, r *http.Request) {
	if s.quiz == nil {
		writeError(w, r, goerr.Wrap(errUnavailable, "quiz generation is disabled"))
		return
	}
	subject := chi.URLParam(r, "subject")
	var req struct {
		NumQuestions int `json:"num_questions"`
	}
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}
	if req.NumQuestions <= 0 {
		req.NumQuestions = s.numQuestions
	}

	data, err := s.store.Load(r.Context(), subject)
	if err != nil {
		writeError(w, r, err)
		return
	}
	items := s.quiz.Generate(r.Context(), data.Contents(), req.NumQuestions)
	writeData(w, http.StatusOK, items)
}

type sessionResponse struct {
	*session.State
	Suggestion     string  `json:"suggestion,omitempty"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

func (s *Server) sessionView(state *session.State) sessionResponse {
	return sessionResponse{
		State:          state,
		Suggestion:     state.Suggestion(),
		ElapsedSeconds: state.Elapsed(s.now()).Seconds(),
	}
}

// updateSession loads the session of the request's subject, applies fn and saves
// the result.
func (s *Server) updateSession(w http.ResponseWriter, r *http.Request, fn func(*session.State) error) {
	subject := chi.URLParam(r, "subject")
	if err := store.ValidateSubject(subject); err != nil {
		writeError(w, r, err)
		return
	}
	state, err := s.sessions.Load(subject)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := fn(state); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.sessions.Save(subject, state); err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, s.sessionView(state))
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	subject := chi.URLParam(r, "subject")
	if err := store.ValidateSubject(subject); err != nil {
		writeError(w, r, err)
		return
	}
	state, err := s.sessions.Load(subject)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, s.sessionView(state))
}

func (s *Server) putSession(w http.ResponseWriter, r *http.Request) {
	var req session.State
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	s.updateSession(w, r, func(state *session.State) error {
		next := session.NewState()
		for _, task := range req.Tasks {
			if err := next.AddTask(task); err != nil {
				return err
			}
		}
		next.SetNote(req.Note)
		for _, m := range req.BurnoutLogs {
			next.LogMood(m.Mood, m.LastQuestion)
		}
		next.TimerStartedAt = req.TimerStartedAt
		*state = *next
		return nil
	})
}

func (s *Server) addTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Task string `json:"task"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	s.updateSession(w, r, func(state *session.State) error {
		return state.AddTask(req.Task)
	})
}

func (s *Server) clearTasks(w http.ResponseWriter, r *http.Request) {
	s.updateSession(w, r, func(state *session.State) error {
		state.ClearTasks()
		return nil
	})
}

func (s *Server) logMood(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mood         string `json:"mood"`
		LastQuestion string `json:"last_question"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Mood) == "" {
		writeError(w, r, goerr.Wrap(errBadRequest, "mood is required"))
		return
	}
	s.updateSession(w, r, func(state *session.State) error {
		state.LogMood(req.Mood, req.LastQuestion)
		return nil
	})
}

func (s *Server) startTimer(w http.ResponseWriter, r *http.Request) {
	s.updateSession(w, r, func(state *session.State) error {
		state.StartTimer(s.now())
		return nil
	})
}

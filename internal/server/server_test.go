package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/tmc/langchaingo/llms"

	"studyscope/internal/embedding"
	"studyscope/internal/llmservice"
	"studyscope/internal/quiz"
	"studyscope/internal/rag"
	"studyscope/internal/server"
	"studyscope/internal/store"
)

const notes = "Photosynthesis converts light energy into chemical energy stored in glucose molecules inside chloroplasts"

type replyModel struct {
	reply string
}

func (m *replyModel) GenerateContent(_ context.Context, _ []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.reply}}}, nil
}

func (m *replyModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

var clock = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

func newServer(t *testing.T, model llms.Model) *server.Server {
	t.Helper()
	embedder := embedding.NewHashEmbedder(4096)
	st := store.New(t.TempDir())
	return server.New(st,
		rag.NewIngestor(st, embedder, 300),
		rag.NewRetriever(st, embedder, 3, 0.35),
		server.WithFallback(llmservice.NewFallback(model, 100)),
		server.WithQuiz(quiz.New(model), 5),
		server.WithClock(func() time.Time { return clock }),
	)
}

func do(t *testing.T, srv http.Handler, req *http.Request) (int, envelope) {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	var env envelope
	gt.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env)).Required()
	return rec.Code, env
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func uploadRequest(t *testing.T, subject, fileName, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", fileName)
	gt.NoError(t, err).Required()
	_, err = fw.Write([]byte(content))
	gt.NoError(t, err).Required()
	gt.NoError(t, mw.Close()).Required()

	req := httptest.NewRequest(http.MethodPost, "/subjects/"+subject+"/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUploadAndAsk(t *testing.T) {
	srv := newServer(t, &replyModel{reply: "Castles were built for defence."})

	code, env := do(t, srv, uploadRequest(t, "biology", "notes.txt", notes))
	gt.Value(t, code).Equal(http.StatusOK)
	gt.Bool(t, env.Success).True()
	var uploaded struct {
		Chunks int `json:"chunks"`
	}
	gt.NoError(t, json.Unmarshal(env.Data, &uploaded)).Required()
	gt.Value(t, uploaded.Chunks).Equal(1)

	code, env = do(t, srv, httptest.NewRequest(http.MethodGet, "/subjects", nil))
	gt.Value(t, code).Equal(http.StatusOK)
	gt.Value(t, string(env.Data)).Equal(`["biology"]`)

	type answer struct {
		Source   string  `json:"source"`
		Answer   string  `json:"answer"`
		Score    float32 `json:"score"`
		Position *int    `json:"position"`
		File     string  `json:"file"`
	}

	t.Run("matching question answers from notes", func(t *testing.T) {
		code, env := do(t, srv, jsonRequest(http.MethodPost, "/subjects/biology/ask", `{"question": "`+notes+`"}`))
		gt.Value(t, code).Equal(http.StatusOK)
		var got answer
		gt.NoError(t, json.Unmarshal(env.Data, &got)).Required()
		gt.Value(t, got.Source).Equal("notes")
		gt.Value(t, got.Answer).Equal(notes)
		gt.Value(t, got.File).Equal("notes.txt")
		gt.Bool(t, got.Position != nil && *got.Position == 0).True()
		gt.Bool(t, got.Score >= 0.35).True()
	})

	t.Run("unrelated question without fallback", func(t *testing.T) {
		_, env := do(t, srv, jsonRequest(http.MethodPost, "/subjects/biology/ask", `{"question": "medieval castles and knights"}`))
		var got answer
		gt.NoError(t, json.Unmarshal(env.Data, &got)).Required()
		gt.Value(t, got.Source).Equal("none")
		gt.Value(t, got.Answer).Equal("")
	})

	t.Run("unrelated question with fallback", func(t *testing.T) {
		_, env := do(t, srv, jsonRequest(http.MethodPost, "/subjects/biology/ask", `{"question": "medieval castles and knights", "fallback": true}`))
		var got answer
		gt.NoError(t, json.Unmarshal(env.Data, &got)).Required()
		gt.Value(t, got.Source).Equal("llm")
		gt.Value(t, got.Answer).Equal("Castles were built for defence.")
	})
}

func TestUploadErrors(t *testing.T) {
	srv := newServer(t, nil)

	testCases := map[string]struct {
		req  *http.Request
		code int
	}{
		"empty document":     {uploadRequest(t, "biology", "empty.txt", "   \n "), http.StatusBadRequest},
		"unsupported format": {uploadRequest(t, "biology", "photo.png", "not text"), http.StatusUnsupportedMediaType},
		"invalid subject":    {uploadRequest(t, ".hidden", "notes.txt", notes), http.StatusBadRequest},
		"missing file field": {jsonRequest(http.MethodPost, "/subjects/biology/documents", `{}`), http.StatusBadRequest},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			code, env := do(t, srv, tc.req)
			gt.Value(t, code).Equal(tc.code)
			gt.Bool(t, env.Success).False()
			gt.String(t, env.Error).NotEqual("")
		})
	}
}

func TestListSubjectsWithoutRoot(t *testing.T) {
	embedder := embedding.NewHashEmbedder(64)
	st := store.New(t.TempDir() + "/missing")
	srv := server.New(st, rag.NewIngestor(st, embedder, 300), rag.NewRetriever(st, embedder, 3, 0.35))

	code, env := do(t, srv, httptest.NewRequest(http.MethodGet, "/subjects", nil))
	gt.Value(t, code).Equal(http.StatusOK)
	gt.Value(t, string(env.Data)).Equal(`[]`)
}

func TestAskRequiresQuestion(t *testing.T) {
	srv := newServer(t, nil)
	code, env := do(t, srv, jsonRequest(http.MethodPost, "/subjects/biology/ask", `{"question": "  "}`))
	gt.Value(t, code).Equal(http.StatusBadRequest)
	gt.Bool(t, env.Success).False()
}

func TestQuiz(t *testing.T) {
	reply := "Question: Where does photosynthesis happen?\nOptions: A) Nucleus B) Chloroplasts C) Ribosome D) Vacuole\nAnswer: B"
	srv := newServer(t, &replyModel{reply: reply})

	code, _ := do(t, srv, uploadRequest(t, "biology", "notes.txt", notes))
	gt.Value(t, code).Equal(http.StatusOK)

	code, env := do(t, srv, jsonRequest(http.MethodPost, "/subjects/biology/quiz", `{"num_questions": 3}`))
	gt.Value(t, code).Equal(http.StatusOK)
	var items []struct {
		Question string   `json:"question"`
		Options  []string `json:"options"`
		Answer   string   `json:"answer"`
	}
	gt.NoError(t, json.Unmarshal(env.Data, &items)).Required()
	// the subject only has one chunk
	gt.Array(t, items).Length(1)
	gt.Value(t, items[0].Answer).Equal("B")
	gt.Value(t, items[0].Options).Equal([]string{"Nucleus", "Chloroplasts", "Ribosome", "Vacuole"})
}

func TestSession(t *testing.T) {
	srv := newServer(t, nil)

	type view struct {
		Tasks          []string   `json:"tasks"`
		Note           string     `json:"note"`
		BurnoutLogs    [][]string `json:"burnout_logs"`
		Suggestion     string     `json:"suggestion"`
		ElapsedSeconds float64    `json:"elapsed_seconds"`
	}
	decode := func(t *testing.T, env envelope) view {
		t.Helper()
		var v view
		gt.NoError(t, json.Unmarshal(env.Data, &v)).Required()
		return v
	}

	_, env := do(t, srv, httptest.NewRequest(http.MethodGet, "/subjects/chem/session", nil))
	got := decode(t, env)
	gt.Array(t, got.Tasks).Length(0)
	gt.Value(t, got.ElapsedSeconds).Equal(0.0)

	code, _ := do(t, srv, jsonRequest(http.MethodPost, "/subjects/chem/session/tasks", `{"task": "   "}`))
	gt.Value(t, code).Equal(http.StatusBadRequest)

	_, env = do(t, srv, jsonRequest(http.MethodPost, "/subjects/chem/session/tasks", `{"task": "balance equations"}`))
	gt.Value(t, decode(t, env).Tasks).Equal([]string{"balance equations"})

	_, env = do(t, srv, jsonRequest(http.MethodPost, "/subjects/chem/session/mood", `{"mood": "A bit tired or distracted", "last_question": "what is a mole?"}`))
	got = decode(t, env)
	gt.Value(t, got.BurnoutLogs).Equal([][]string{{"A bit tired or distracted", "what is a mole?"}})
	gt.Value(t, got.Suggestion).Equal("Stay hydrated and consider switching to a lighter task.")

	_, env = do(t, srv, httptest.NewRequest(http.MethodPost, "/subjects/chem/session/timer", nil))
	gt.Value(t, decode(t, env).ElapsedSeconds).Equal(0.0)

	code, env = do(t, srv, jsonRequest(http.MethodPut, "/subjects/chem/session", `{"tasks": ["lab report"], "note": "Avogadro", "burnout_logs": []}`))
	gt.Value(t, code).Equal(http.StatusOK)
	got = decode(t, env)
	gt.Value(t, got.Tasks).Equal([]string{"lab report"})
	gt.Value(t, got.Note).Equal("Avogadro")
	gt.Array(t, got.BurnoutLogs).Length(0)

	_, env = do(t, srv, httptest.NewRequest(http.MethodDelete, "/subjects/chem/session/tasks", nil))
	got = decode(t, env)
	gt.Array(t, got.Tasks).Length(0)
	gt.Value(t, got.Note).Equal("Avogadro")

	// state survives a fresh read
	_, env = do(t, srv, httptest.NewRequest(http.MethodGet, "/subjects/chem/session", nil))
	gt.Value(t, decode(t, env).Note).Equal("Avogadro")
}

package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"studyscope/internal/db"
	"studyscope/internal/embedding"
	"studyscope/internal/helper"
	"studyscope/internal/models"
	"studyscope/internal/rag"
	"studyscope/internal/server"
	"studyscope/internal/session"
)

func createSubjectsCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subjects",
		Short: "List subjects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			subjects, err := a.store.ListSubjects()
			if errors.Is(err, models.ErrNoSubjectsDir) {
				fmt.Println("No subjects yet. Create one with 'studyscope subjects create <name>'.")
				return nil
			}
			if err != nil {
				return err
			}
			for _, s := range subjects {
				fmt.Println(s)
			}
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "create <name>",
		Short: "Create a subject",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			if err := a.store.CreateSubject(args[0]); err != nil {
				return err
			}
			log.Info().Str("subject", args[0]).Msg("Subject created")
			return nil
		},
	})
	return cmd
}

func createIngestCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <subject> <file>...",
		Short: "Extract, chunk and index documents into a subject",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			subject := args[0]
			for _, path := range args[1:] {
				data, err := os.ReadFile(path)
				if err != nil {
					return goerr.Wrap(err, "failed to read document", goerr.V("path", path))
				}
				total, err := a.ingestor.Ingest(cmd.Context(), data, filepath.Base(path), subject)
				if err != nil {
					return err
				}
				fmt.Printf("Uploaded and processed %s. %s now has %d chunks.\n", filepath.Base(path), subject, total)
			}
			return nil
		},
	}
}

func createAskCommand(opts *globalOptions) *cobra.Command {
	var useFallback bool
	var topK int
	var threshold float64

	cmd := &cobra.Command{
		Use:   "ask <subject> <question>",
		Short: "Answer a question from a subject's notes",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			subject := args[0]
			question := strings.Join(args[1:], " ")
			if !cmd.Flags().Changed("top-k") {
				topK = a.cfg.RAG.TopK
			}
			if !cmd.Flags().Changed("threshold") {
				threshold = a.cfg.RAG.Threshold
			}

			response := models.PromptResponse{Query: question}
			answer, err := a.retriever.AnswerWithOptions(cmd.Context(), question, subject, topK, threshold)
			if err != nil {
				return err
			}
			switch {
			case answer != nil:
				text, _ := rag.TruncateWords(answer.Content, a.cfg.RAG.AnswerWordLimit)
				response.Source = fmt.Sprintf("notes: %s (chunk %d, score %.3f)", answer.Source, answer.Position, answer.Score)
				response.Content = text
			case useFallback:
				response.Source = "language model"
				response.Content = a.fallback.Respond(cmd.Context(), question)
			default:
				response.Source = "none"
				response.Content = "No relevant answer found in your notes. Try rephrasing or use --fallback."
			}

			log.Info().Msg("Query: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
			fmt.Printf("%s\n\n", response.Query)
			log.Info().Msg("Source: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
			fmt.Printf("%s\n\n", response.Source)
			log.Info().Msg("Assistant: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
			fmt.Printf("%s\n\n", response.Content)
			return nil
		},
	}

	cmd.Flags().BoolVar(&useFallback, "fallback", false, "Ask the language model when the notes have no confident match")
	cmd.Flags().IntVarP(&topK, "top-k", "k", rag.DefaultTopK, "Number of nearest chunks to consider")
	cmd.Flags().Float64Var(&threshold, "threshold", rag.DefaultThreshold, "Minimum similarity score for a match")
	return cmd
}

func createQuizCommand(opts *globalOptions) *cobra.Command {
	var numQuestions int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "quiz <subject>",
		Short: "Generate multiple choice questions from a subject's notes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			if numQuestions <= 0 {
				numQuestions = a.cfg.Quiz.NumQuestions
			}
			data, err := a.store.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if data.Empty() {
				fmt.Println("No notes found for this subject. Upload some first.")
				return nil
			}

			items := a.quiz.Generate(cmd.Context(), data.Contents(), numQuestions)
			if asJSON {
				helper.PrettyPrint(items)
				return nil
			}
			for i, item := range items {
				fmt.Printf("Q%d: %s\n", i+1, item.Question)
				for j, opt := range item.Options {
					fmt.Printf("  %c) %s\n", models.LetterOptions[j], opt)
				}
				fmt.Printf("  Answer: %s\n\n", item.Answer)
			}
			if len(items) == 0 {
				fmt.Println("Could not generate any questions.")
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&numQuestions, "num", "n", 0, "Number of questions (default from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the quiz as JSON")
	return cmd
}

// withSession loads the session of subject, runs fn and saves the state when fn
// reports a change.
func withSession(opts *globalOptions, subject string, fn func(*session.State) (bool, error)) error {
	a, err := newApp(opts)
	if err != nil {
		return err
	}
	state, err := a.sessions.Load(subject)
	if err != nil {
		return err
	}
	changed, err := fn(state)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return a.sessions.Save(subject, state)
}

func createTasksCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks <subject>",
		Short: "Show the to-do list of a subject",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(opts, args[0], func(s *session.State) (bool, error) {
				if len(s.Tasks) == 0 {
					fmt.Println("No tasks yet.")
				}
				for i, task := range s.Tasks {
					fmt.Printf("%d. %s\n", i+1, task)
				}
				return false, nil
			})
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <subject> <task>",
			Short: "Add a task",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withSession(opts, args[0], func(s *session.State) (bool, error) {
					return true, s.AddTask(strings.Join(args[1:], " "))
				})
			},
		},
		&cobra.Command{
			Use:   "clear <subject>",
			Short: "Remove all tasks",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withSession(opts, args[0], func(s *session.State) (bool, error) {
					s.ClearTasks()
					return true, nil
				})
			},
		},
	)
	return cmd
}

func createNoteCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "note <subject>",
		Short: "Show the quick note of a subject",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(opts, args[0], func(s *session.State) (bool, error) {
				fmt.Println(s.Note)
				return false, nil
			})
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <subject> <text>",
		Short: "Replace the quick note",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(opts, args[0], func(s *session.State) (bool, error) {
				s.SetNote(strings.Join(args[1:], " "))
				return true, nil
			})
		},
	})
	return cmd
}

func createMoodCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mood <subject>",
		Short: "Show mood check-ins and a suggestion for the latest one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(opts, args[0], func(s *session.State) (bool, error) {
				for _, m := range s.BurnoutLogs {
					fmt.Printf("- %s", m.Mood)
					if m.LastQuestion != "" {
						fmt.Printf(" (while studying: %s)", m.LastQuestion)
					}
					fmt.Println()
				}
				if tip := s.Suggestion(); tip != "" {
					fmt.Printf("\nSuggestion: %s\n", tip)
				}
				return false, nil
			})
		},
	}

	var lastQuestion string
	logCmd := &cobra.Command{
		Use:   "log <subject> <mood>",
		Short: "Record how you feel; mood is 1-4 or free text",
		Long:  "Record how you feel. Pick one of:\n" + moodChoices() + "or pass free text.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mood := strings.Join(args[1:], " ")
			if n, err := strconv.Atoi(mood); err == nil && n >= 1 && n <= len(models.Moods) {
				mood = models.Moods[n-1]
			}
			return withSession(opts, args[0], func(s *session.State) (bool, error) {
				s.LogMood(mood, lastQuestion)
				if tip := s.Suggestion(); tip != "" {
					fmt.Println(tip)
				}
				return true, nil
			})
		},
	}
	logCmd.Flags().StringVar(&lastQuestion, "question", "", "The question you were working on")
	cmd.AddCommand(logCmd)
	return cmd
}

func createTimerCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "timer <subject>",
		Short: "Show time studied since the timer started",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(opts, args[0], func(s *session.State) (bool, error) {
				if s.TimerStartedAt == nil {
					fmt.Println("Timer not started.")
					return false, nil
				}
				fmt.Printf("Studied for %s\n", s.Elapsed(time.Now()).Round(time.Second))
				return false, nil
			})
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "start <subject>",
		Short: "Start or restart the study timer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(opts, args[0], func(s *session.State) (bool, error) {
				s.StartTimer(time.Now())
				fmt.Println("Timer started.")
				return true, nil
			})
		},
	})
	return cmd
}

func createServeCommand(opts *globalOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			srv := server.New(a.store, a.ingestor, a.retriever,
				server.WithFallback(a.fallback),
				server.WithQuiz(a.quiz, a.cfg.Quiz.NumQuestions),
				server.WithAnswerWordLimit(a.cfg.RAG.AnswerWordLimit),
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.ListenAndServe(ctx, addr)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (default from config)")
	return cmd
}

func createMirrorCommand(opts *globalOptions) *cobra.Command {
	var query string
	var limit int

	cmd := &cobra.Command{
		Use:   "mirror <subject>",
		Short: "Copy a subject's chunks and embeddings into Postgres",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			subject := args[0]

			sqldb, err := db.ConnectDB(&a.cfg.Database)
			if err != nil {
				return err
			}
			dbInstance := db.NewDB(sqldb, a.cfg.Database.Debug)
			defer dbInstance.Close()

			if err := db.InitDB(ctx, dbInstance); err != nil {
				return err
			}
			n, err := db.MirrorSubject(ctx, dbInstance, a.store, subject)
			if err != nil {
				return err
			}
			fmt.Printf("Mirrored %d chunks of %s\n", n, subject)

			if query == "" {
				return nil
			}
			vec, err := embedding.EmbedQuery(ctx, a.embedder, query)
			if err != nil {
				return err
			}
			found, err := db.SearchChunks(ctx, dbInstance, subject, vec, limit)
			if err != nil {
				return err
			}
			for _, c := range found {
				text, _ := rag.TruncateWords(c.Content, a.cfg.RAG.AnswerWordLimit)
				fmt.Printf("[%d] score %.3f %s\n%s\n\n", c.Position, c.Score, c.Source, text)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&query, "query", "q", "", "Search the mirrored chunks after copying")
	cmd.Flags().IntVarP(&limit, "limit", "l", 3, "Number of results for --query")
	return cmd
}

func moodChoices() string {
	var b strings.Builder
	for i, m := range models.Moods {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, m)
	}
	return b.String()
}

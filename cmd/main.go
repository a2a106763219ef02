package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const configFilePath = "./configs/config.yaml"

func main() {
	var configPath string
	var logLevel string

	rootCmd := &cobra.Command{
		Use:           "studyscope",
		Short:         "Ask questions against your study notes",
		Long:          "StudyScope indexes your notes per subject, answers questions from them, generates quizzes and keeps a small study session (tasks, note, mood, timer).",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", configFilePath, "Path to the config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (overrides config)")

	opts := &globalOptions{configPath: &configPath, logLevel: &logLevel}
	rootCmd.AddCommand(
		createSubjectsCommand(opts),
		createIngestCommand(opts),
		createAskCommand(opts),
		createQuizCommand(opts),
		createTasksCommand(opts),
		createNoteCommand(opts),
		createMoodCommand(opts),
		createTimerCommand(opts),
		createServeCommand(opts),
		createMirrorCommand(opts),
	)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

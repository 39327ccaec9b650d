package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/manifoldco/promptui"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/grant-interviewer/internal/interview"
	"github.com/spigell/grant-interviewer/internal/logger"
	"github.com/spigell/grant-interviewer/internal/topic"
)

const abandonCommand = "/abandon"

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an interview in the terminal",
	Run: func(cmd *cobra.Command, _ []string) {
		if err := run(cmd); err != nil {
			log.Fatal(err)
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("session", "s", "", "resume the interview with this session id")
}

// run conducts one interview on stdin/stdout. Logs go to stderr.
func run(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"), "stderr")
	if err != nil {
		return fmt.Errorf("creating a logger: %w", err)
	}
	defer logger.Sync()

	config, err := getConfig()
	if err != nil {
		return err
	}

	logger.Debug("starting the console interview", zap.String("version", version))

	// Console runs are not scraped.
	eng, err := buildEngine(ctx, config, logger, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer eng.Close(context.Background(), logger)

	sessionID, _ := cmd.Flags().GetString("session")
	if sessionID == "" {
		sessionID = interview.NewSessionID()
	}

	question, err := eng.manager.StartInterview(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("starting interview %s: %w", sessionID, err)
	}

	fmt.Printf("Session %s. Type %s to stop for good, Ctrl+C to pause.\n\n", sessionID, abandonCommand)

	for {
		fmt.Printf("%s\n", question)

		answer, err := askAnswer()
		if err != nil {
			if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
				fmt.Printf("\nInterview paused. Resume with: %s run --session %s\n", app, sessionID)
				return nil
			}
			return err
		}

		if strings.TrimSpace(answer) == abandonCommand {
			if !confirm("Abandon the interview") {
				continue
			}
			if err := eng.manager.AbandonInterview(ctx, sessionID); err != nil {
				return err
			}
			fmt.Println("Interview abandoned.")
			return nil
		}

		action, err := eng.manager.SubmitAnswer(ctx, sessionID, answer)
		switch {
		case errors.Is(err, interview.ErrPersistence):
			logger.Warn("answer not saved", zap.Error(err))
			fmt.Println("Your answer could not be saved, please try again.")
			continue
		case err != nil:
			return err
		}

		if action.Kind == interview.ActionFinalize {
			printResult(eng.catalog, action.Result)
			return nil
		}
		question = action.Question
		fmt.Println()
	}
}

func askAnswer() (string, error) {
	prompt := promptui.Prompt{
		Label: "Answer",
		Validate: func(s string) error {
			if strings.TrimSpace(s) == "" {
				return interview.ErrEmptyAnswer
			}
			return nil
		},
	}
	return prompt.Run()
}

func confirm(label string) bool {
	prompt := promptui.Prompt{Label: label, IsConfirm: true}
	_, err := prompt.Run()
	return err == nil
}

func printResult(catalog *topic.Catalog, result *interview.Export) {
	fmt.Printf("\nInterview completed after %d questions.\n\n", result.QuestionsAsked)

	for _, t := range catalog.List() {
		a, ok := result.Answers[t.ID]
		if !ok {
			fmt.Printf("  %-20s  skipped\n", t.DisplayName)
			continue
		}
		fmt.Printf("  %-20s  %2d/10\n", t.DisplayName, a.QualityScore)
	}

	fmt.Printf("\nAggregate score: %.1f\n", result.AggregateScore)
}

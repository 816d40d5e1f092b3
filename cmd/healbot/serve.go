package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	healbot "github.com/healbot/healbot"
	channelSlack "github.com/healbot/healbot/channel/slack"
	"github.com/healbot/healbot/internal/logging"
)

var (
	serveVerbose bool
	serveJSONLog bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the healbot server",
	Long:  "Start the healbot API server that accepts run requests and heals repositories.",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVarP(&serveVerbose, "verbose", "v", false, "Enable debug logging")
	serveCmd.Flags().BoolVar(&serveJSONLog, "json-log", false, "Log as NDJSON")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load .env into the environment (non-destructive).
	_ = godotenv.Load()

	cfg := healbot.Config{
		ServerAddr:  ":" + envOr("PORT", "8080"),
		DataDir:     envOr("HEALBOT_DATA_DIR", ""),
		WorkRoot:    envOr("HEALBOT_WORK_ROOT", "tmp"),
		ResultsDir:  envOr("HEALBOT_RESULTS_DIR", "results"),
		RetryLimit:  envOrInt("RETRY_LIMIT", 5),
		FrontendURL: os.Getenv("FRONTEND_URL"),
		GitHubToken: os.Getenv("GITHUB_TOKEN"),
	}

	logPath := envOr("HEALBOT_LOG_FILE", filepath.Join(dataDirOrDefault(cfg.DataDir), "healbot.log"))
	logging.SetupServer(serveVerbose, serveJSONLog, logPath)

	if os.Getenv("GEMINI_API_KEY") == "" && os.Getenv("OPENAI_API_KEY") == "" {
		fmt.Fprintln(os.Stderr, "Warning: no GEMINI_API_KEY or OPENAI_API_KEY set; fix generation will degrade to placeholders")
	}
	if cfg.GitHubToken == "" {
		fmt.Fprintln(os.Stderr, "Warning: GITHUB_TOKEN not set; private clones, pushes, and CI observation are disabled")
	}

	builder := healbot.NewBuilder().WithConfig(cfg)

	app, err := builder.Build()
	if err != nil {
		return fmt.Errorf("building app: %w", err)
	}

	// Add the Slack notifier if configured.
	slackToken := os.Getenv("SLACK_BOT_TOKEN")
	slackChannel := os.Getenv("SLACK_CHANNEL_ID")
	if slackToken != "" && slackChannel != "" {
		builder.WithChannel(channelSlack.New(slackToken, slackChannel, app.Bus()))
		fmt.Println("Slack notifier enabled")

		app, err = builder.Build()
		if err != nil {
			return fmt.Errorf("rebuilding app with channels: %w", err)
		}
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down...")
		cancel()
	}()

	return app.Start(ctx)
}

func dataDirOrDefault(dir string) string {
	if dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".healbot"
	}
	return filepath.Join(home, ".healbot")
}

package healbot

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/healbot/healbot/eventbus"
	"github.com/healbot/healbot/llm"
	llmGemini "github.com/healbot/healbot/llm/gemini"
	llmOpenAI "github.com/healbot/healbot/llm/openai"
	"github.com/healbot/healbot/monitor"
	"github.com/healbot/healbot/orchestrator"
	"github.com/healbot/healbot/sandbox"
	sqliteStore "github.com/healbot/healbot/store/sqlite"
)

// applyDefaults fills in missing fields on the builder with sensible defaults.
func applyDefaults(b *Builder) error {
	// Config defaults.
	if b.config.ServerAddr == "" {
		b.config.ServerAddr = ":8080"
	}
	if b.config.DataDir == "" {
		b.config.DataDir = defaultDataDir()
	}
	if b.config.DatabasePath == "" {
		b.config.DatabasePath = filepath.Join(b.config.DataDir, "healbot.db")
	}
	if b.config.WorkRoot == "" {
		b.config.WorkRoot = "tmp"
	}
	if b.config.ResultsDir == "" {
		b.config.ResultsDir = "results"
	}
	if b.config.RetryLimit <= 0 {
		b.config.RetryLimit = orchestrator.DefaultRetryLimit
	}
	if b.config.GitHubToken == "" {
		b.config.GitHubToken = os.Getenv("GITHUB_TOKEN")
	}

	// Ensure data dir exists.
	if err := os.MkdirAll(b.config.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	// Store.
	if b.store == nil {
		st, err := sqliteStore.New(b.config.DatabasePath)
		if err != nil {
			return fmt.Errorf("initializing store: %w", err)
		}
		b.store = st
	}

	// Event bus.
	if b.bus == nil {
		b.bus = eventbus.New()
	}

	// Sandbox executor.
	if b.executor == nil {
		b.executor = sandbox.New()
	}

	// LLM fallback chain.
	if b.llm == nil {
		b.llm = llmClientFromEnv()
	}

	// CI monitor.
	if b.ci == nil && b.config.GitHubToken != "" {
		b.ci = monitor.New(monitor.NewGitHubClient(b.config.GitHubToken))
	}

	return nil
}

// llmClientFromEnv builds the Gemini-then-OpenAI fallback chain from
// environment variables. Returns nil if no API key is found.
func llmClientFromEnv() llm.Client {
	var candidates []llm.Candidate
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		client := llmGemini.New(key, os.Getenv("HEALBOT_GEMINI_MODEL"))
		candidates = append(candidates, llm.Candidate{Model: client.Model(), Client: client})
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		client := llmOpenAI.New(key, os.Getenv("HEALBOT_OPENAI_MODEL"))
		candidates = append(candidates, llm.Candidate{Model: client.Model(), Client: client})
	}
	if len(candidates) == 0 {
		return nil
	}
	return llm.NewFallback(candidates...)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".healbot"
	}
	return filepath.Join(home, ".healbot")
}

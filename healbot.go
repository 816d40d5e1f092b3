// Package healbot is the top-level entry point for the healbot service.
//
// Use the Builder to compose an application:
//
//	app, err := healbot.NewBuilder().Build()
//	app.Start(ctx)
//
// Or customize individual components:
//
//	app, err := healbot.NewBuilder().
//	    WithStore(myStore).
//	    WithExecutor(myExecutor).
//	    WithLLM(myClient).
//	    Build()
package healbot

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/healbot/healbot/analyzer"
	"github.com/healbot/healbot/channel"
	"github.com/healbot/healbot/committer"
	"github.com/healbot/healbot/eventbus"
	"github.com/healbot/healbot/fixgen"
	"github.com/healbot/healbot/httpapi"
	"github.com/healbot/healbot/internal/logging"
	"github.com/healbot/healbot/llm"
	"github.com/healbot/healbot/orchestrator"
	"github.com/healbot/healbot/patch"
	"github.com/healbot/healbot/sandbox"
	"github.com/healbot/healbot/store"
)

var logger = logging.New("healbot")

// Config holds top-level configuration for a healbot application.
type Config struct {
	// ServerAddr is the address the HTTP server listens on (default ":8080").
	ServerAddr string

	// DataDir is the directory for persistent data (default "~/.healbot").
	DataDir string

	// DatabasePath is the full path to the SQLite database file.
	DatabasePath string

	// WorkRoot is where per-run working trees are created (default "tmp").
	WorkRoot string

	// ResultsDir is where final reports are written (default "results").
	ResultsDir string

	// RetryLimit bounds repair iterations per run (default 5).
	RetryLimit int

	// FrontendURL is the allowed CORS origin; empty allows none.
	FrontendURL string

	// GitHubToken authenticates clones, pushes, and CI observation.
	GitHubToken string
}

// Builder constructs a healbot App.
type Builder struct {
	config   Config
	store    store.RunStore
	bus      *eventbus.Bus
	executor sandbox.Executor
	llm      llm.Client
	ci       orchestrator.CIMonitor
	channels []channel.Channel
}

// NewBuilder creates a new Builder with sensible defaults.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithConfig sets the application configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithStore sets the run store implementation.
func (b *Builder) WithStore(s store.RunStore) *Builder {
	b.store = s
	return b
}

// WithBus sets the event bus.
func (b *Builder) WithBus(bus *eventbus.Bus) *Builder {
	b.bus = bus
	return b
}

// WithExecutor sets the sandbox executor used for test runs.
func (b *Builder) WithExecutor(e sandbox.Executor) *Builder {
	b.executor = e
	return b
}

// WithLLM sets the LLM client used for fix generation.
func (b *Builder) WithLLM(client llm.Client) *Builder {
	b.llm = client
	return b
}

// WithCI sets the CI monitor. Passing nil disables CI observation.
func (b *Builder) WithCI(ci orchestrator.CIMonitor) *Builder {
	b.ci = ci
	return b
}

// WithChannel adds an outbound channel (Slack, etc.) to the application.
func (b *Builder) WithChannel(ch channel.Channel) *Builder {
	b.channels = append(b.channels, ch)
	return b
}

// Build creates the App. Missing components are filled with defaults.
func (b *Builder) Build() (*App, error) {
	if err := applyDefaults(b); err != nil {
		return nil, err
	}

	repos := analyzer.New(b.executor, b.config.GitHubToken)
	orch := orchestrator.New(
		orchestrator.Config{
			RetryLimit: b.config.RetryLimit,
			WorkRoot:   b.config.WorkRoot,
			ResultsDir: b.config.ResultsDir,
		},
		b.store,
		b.bus,
		repos,
		fixgen.New(b.llm),
		patch.New(),
		func(workDir string) orchestrator.Pusher {
			return committer.New(workDir, b.config.GitHubToken)
		},
		b.ci,
	)

	handler := httpapi.New(orch, b.store, b.bus, b.config.FrontendURL)

	return &App{
		config:       b.config,
		store:        b.store,
		bus:          b.bus,
		orchestrator: orch,
		handler:      handler,
		channels:     b.channels,
	}, nil
}

// App is a running healbot application.
type App struct {
	config       Config
	store        store.RunStore
	bus          *eventbus.Bus
	orchestrator *orchestrator.Orchestrator
	handler      *httpapi.Handler
	channels     []channel.Channel
}

// Orchestrator returns the underlying orchestrator for direct access.
func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orchestrator }

// Store returns the run store.
func (a *App) Store() store.RunStore { return a.store }

// Bus returns the event bus.
func (a *App) Bus() *eventbus.Bus { return a.bus }

// Handler returns the HTTP API handler.
func (a *App) Handler() *httpapi.Handler { return a.handler }

// Start starts the HTTP server and all channels. Blocks until ctx is done.
func (a *App) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, ch := range a.channels {
		ch := ch
		g.Go(func() error {
			if err := ch.Run(ctx); err != nil && err != context.Canceled {
				logger.Error("channel failed", "channel", ch.Name(), "err", err)
				return err
			}
			return nil
		})
	}

	srv := &http.Server{
		Addr:    a.config.ServerAddr,
		Handler: a.handler.Router(),
	}

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		logger.Info("server listening", "addr", a.config.ServerAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	err := g.Wait()

	// Let in-flight runs reach their terminal state before tearing down.
	a.orchestrator.Wait()
	a.bus.Close()
	if cerr := a.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err == context.Canceled {
		return nil
	}
	return err
}

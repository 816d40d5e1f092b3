// Package httpapi provides the HTTP surface of healbot. It delegates all
// pipeline logic to the orchestrator.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/healbot/healbot/eventbus"
	"github.com/healbot/healbot/internal/logging"
	"github.com/healbot/healbot/model"
	"github.com/healbot/healbot/orchestrator"
	"github.com/healbot/healbot/sandbox"
	"github.com/healbot/healbot/store"
)

var logger = logging.New("httpapi")

// repoURLPattern accepts https GitHub URLs of the form
// https://github.com/{owner}/{repo} with an optional .git suffix.
var repoURLPattern = regexp.MustCompile(`^https://github\.com/[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+?(\.git)?/?$`)

// pollLogTail is how many recent events a results poll returns while the
// run is still processing.
const pollLogTail = 20

// RunStarter launches heal runs.
type RunStarter interface {
	StartRun(ctx context.Context, req orchestrator.Request) (*model.Run, error)
}

// Handler provides the HTTP API.
type Handler struct {
	runs        RunStarter
	store       store.RunStore
	bus         *eventbus.Bus
	frontendURL string
	started     time.Time
	upgrader    websocket.Upgrader
	router      chi.Router
}

// New creates a new HTTP API handler. frontendURL, when non-empty, is the
// allowed CORS origin.
func New(runs RunStarter, st store.RunStore, bus *eventbus.Bus, frontendURL string) *Handler {
	h := &Handler{
		runs:        runs,
		store:       st,
		bus:         bus,
		frontendURL: frontendURL,
		started:     time.Now(),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if h.frontendURL == "" {
				return true
			}
			origin := r.Header.Get("Origin")
			return origin == "" || origin == h.frontendURL
		},
	}
	h.router = h.buildRouter()
	return h
}

// Router returns the HTTP router.
func (h *Handler) Router() chi.Router {
	return h.router
}

func (h *Handler) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(h.cors)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Post("/run-agent", h.handleRunAgent)
			r.Get("/results/{runId}", h.handleResults)
			r.Get("/runs", h.handleListRuns)
			r.Get("/health", h.handleHealth)
			r.Get("/docker-status", h.handleDockerStatus)
		})
		r.Get("/runs/{runId}/events", h.handleRunEvents)
	})

	r.Get("/ws", h.handleWebSocket)

	return r
}

func (h *Handler) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.frontendURL != "" {
			w.Header().Set("Access-Control-Allow-Origin", h.frontendURL)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- Request/Response types ---

type runAgentRequest struct {
	RepoURL    string `json:"repoUrl"`
	TeamName   string `json:"teamName"`
	LeaderName string `json:"leaderName"`
}

type runAgentResponse struct {
	Status  string `json:"status"`
	RunID   string `json:"runId"`
	Branch  string `json:"branch"`
	Message string `json:"message"`
}

type processingResponse struct {
	Status    string         `json:"status"`
	RunID     string         `json:"runId"`
	StartedAt time.Time      `json:"startedAt"`
	Logs      []*model.Event `json:"logs"`
}

type terminalResponse struct {
	Status      model.Status       `json:"status"`
	RunID       string             `json:"runId"`
	StartedAt   time.Time          `json:"startedAt"`
	CompletedAt time.Time          `json:"completedAt"`
	Result      *model.FinalReport `json:"result"`
}

type healthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

type errorResponse struct {
	Error    string   `json:"error"`
	Messages []string `json:"messages,omitempty"`
}

// --- Handlers ---

func (h *Handler) handleRunAgent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req runAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.RepoURL = strings.TrimSpace(req.RepoURL)
	req.TeamName = strings.TrimSpace(req.TeamName)
	req.LeaderName = strings.TrimSpace(req.LeaderName)

	var missing []string
	if req.RepoURL == "" {
		missing = append(missing, "repoUrl is required")
	}
	if req.TeamName == "" {
		missing = append(missing, "teamName is required")
	}
	if req.LeaderName == "" {
		missing = append(missing, "leaderName is required")
	}
	if len(missing) > 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation failed", Messages: missing})
		return
	}
	if !repoURLPattern.MatchString(req.RepoURL) {
		writeError(w, http.StatusBadRequest, "repoUrl must be a GitHub repository URL (https://github.com/owner/repo)")
		return
	}

	run, err := h.runs.StartRun(r.Context(), orchestrator.Request{
		RepoURL:    req.RepoURL,
		TeamName:   req.TeamName,
		LeaderName: req.LeaderName,
	})
	if err != nil {
		logger.Error("starting run", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to start run")
		return
	}

	writeJSON(w, http.StatusAccepted, runAgentResponse{
		Status:  "running",
		RunID:   run.ID,
		Branch:  run.Branch,
		Message: fmt.Sprintf("Healing started for %s", run.RepoURL),
	})
}

func (h *Handler) handleResults(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "runId")
	run, err := h.store.GetRun(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	if !run.Status.Terminal() {
		events, err := h.store.GetEvents(id, 0)
		if err != nil {
			logger.Warn("loading events", "run", id, "err", err)
		}
		if len(events) > pollLogTail {
			events = events[len(events)-pollLogTail:]
		}
		if events == nil {
			events = []*model.Event{}
		}
		writeJSON(w, http.StatusOK, processingResponse{
			Status:    "processing",
			RunID:     run.ID,
			StartedAt: run.StartedAt,
			Logs:      events,
		})
		return
	}

	writeJSON(w, http.StatusOK, terminalResponse{
		Status:      run.Status,
		RunID:       run.ID,
		StartedAt:   run.StartedAt,
		CompletedAt: run.CompletedAt,
		Result:      run.Report,
	})
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.store.ListRuns()
	if err != nil {
		logger.Error("listing runs", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []*model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status: "ok",
		Uptime: time.Since(h.started).Round(time.Second).String(),
	})
}

func (h *Handler) handleDockerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sandbox.ProbeDocker(r.Context()))
}

// handleRunEvents streams one run's events over SSE: persisted history
// first, then live bus traffic.
func (h *Handler) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "runId")

	if _, err := h.store.GetRun(id); err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	events, err := h.store.GetEvents(id, 0)
	if err != nil {
		logger.Warn("loading events for stream", "run", id, "err", err)
	}
	var lastID int64
	for _, e := range events {
		writeSSE(w, e)
		lastID = e.ID
	}
	flusher.Flush()

	ch, cancel := h.bus.Subscribe(id)
	defer cancel()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if event.ID != 0 && event.ID <= lastID {
				continue
			}
			writeSSE(w, &event)
			flusher.Flush()
		}
	}
}

// handleWebSocket pushes every event of every run as single-line JSON
// messages; clients filter by runId.
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	ch, cancel := h.bus.SubscribeAll()
	defer cancel()

	// Drain client frames so close and ping handling keep working.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		}
	}
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("encoding response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeSSE(w http.ResponseWriter, event *model.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		logger.Warn("encoding event", "err", err)
		return
	}
	fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", event.ID, event.Event, data)
}

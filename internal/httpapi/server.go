package httpapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/forgequeue/forgequeue/internal/artifact"
	"github.com/forgequeue/forgequeue/internal/config"
	"github.com/forgequeue/forgequeue/internal/queue"
	"github.com/forgequeue/forgequeue/pkg/models"
)

// ServerOptions configures the read-only status server.
type ServerOptions struct {
	Home           string
	Addr           string
	APIKey         string       // if set, require X-API-Key header or ?api_key=
	Store          queue.Store  // optional; enables /stats
	MetricsHandler http.Handler // if set, used for /metrics
}

// App holds the HTTP server and its SSE hub. Call Hub.PublishJSON to relay
// run transitions to anyone watching /runs/watch (e.g. from worker.Notify).
type App struct {
	Server *http.Server
	Hub    *SSEHub
	Home   string
}

// RunSummary is the list-view projection of one run's handoff.
type RunSummary struct {
	RunID     string           `json:"runId"`
	Phase     models.Phase     `json:"phase"`
	Status    models.RunStatus `json:"status"`
	Iteration int              `json:"iteration"`
	Task      string           `json:"task"`
	UpdatedAt string           `json:"updatedAt,omitempty"`
}

// NewApp builds the status server's handler tree.
func NewApp(opts ServerOptions) *App {
	hub := NewSSEHub()
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"ok": true})
	})

	if opts.MetricsHandler != nil {
		mux.Handle("/metrics", opts.MetricsHandler)
	}

	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		if opts.Store == nil {
			writeJSONError(w, http.StatusNotImplemented, "queue store not configured")
			return
		}
		stats, err := opts.Store.Stats(r.Context())
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, stats)
	})

	mux.HandleFunc("/runs", func(w http.ResponseWriter, r *http.Request) {
		summaries, err := listRuns(opts.Home)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, summaries)
	})

	mux.HandleFunc("/runs/watch", hub.Handler())

	mux.HandleFunc("/runs/", func(w http.ResponseWriter, r *http.Request) {
		runID := r.URL.Path[len("/runs/"):]
		if runID == "" || runID == "watch" {
			writeJSONError(w, http.StatusNotFound, "not found")
			return
		}
		art, err := artifact.Open(opts.Home, runID)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if !art.Exists(models.ArtifactHandoff) {
			writeJSONError(w, http.StatusNotFound, "run not found")
			return
		}
		h, err := art.ReadHandoff()
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, h)
	})

	var handler http.Handler = mux
	if opts.APIKey != "" {
		handler = apiKeyMiddleware(opts.APIKey, handler)
	}
	handler = requestLogMiddleware(handler)
	handler = otelhttp.NewHandler(handler, "forgequeue.status")

	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return &App{Server: srv, Hub: hub, Home: opts.Home}
}

func listRuns(home string) ([]RunSummary, error) {
	entries, err := os.ReadDir(config.RunsDir(home))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list runs: %w", err)
	}
	summaries := make([]RunSummary, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		runID := entry.Name()
		art, err := artifact.Open(home, runID)
		if err != nil || !art.Exists(models.ArtifactHandoff) {
			continue
		}
		h, err := art.ReadHandoff()
		if err != nil {
			continue
		}
		summaries = append(summaries, RunSummary{
			RunID:     runID,
			Phase:     h.State.Phase,
			Status:    h.State.Status,
			Iteration: h.State.Iteration,
			Task:      h.Task.Prompt,
		})
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].RunID < summaries[j].RunID })
	return summaries, nil
}

func apiKeyMiddleware(apiKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = r.URL.Query().Get("api_key")
		}
		if key != apiKey {
			writeJSONError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)
		slog.Info("request",
			"method", req.Method,
			"path", req.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": message})
}

// Package webui serves the read-only dashboard: aggregate metrics, agent
// run status, per-agent event logs, and tracked issues/PRs.
package webui

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"orchestrator/pkg/logx"
	"orchestrator/pkg/metrics"
	"orchestrator/pkg/persistence"
)

//go:embed web/templates/*.html
var templateFS embed.FS

// Server serves the dashboard's read-only HTTP API and static page.
type Server struct {
	store     *persistence.Store
	metrics   *metrics.Registry
	logger    *logx.Logger
	templates *template.Template
}

// NewServer creates a dashboard server backed by store for data and
// metricsRegistry for the /metrics exposition.
func NewServer(store *persistence.Store, metricsRegistry *metrics.Registry) *Server {
	templates, err := template.ParseFS(templateFS, "web/templates/*.html")
	if err != nil {
		panic(fmt.Sprintf("failed to parse embedded templates: %v", err))
	}

	return &Server{
		store:     store,
		metrics:   metricsRegistry,
		logger:    logx.NewLogger("webui"),
		templates: templates,
	}
}

// RegisterRoutes wires the dashboard's routes onto mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/", s.handleDashboard)
	mux.HandleFunc("/api/metrics", s.handleMetrics)
	mux.HandleFunc("/api/agents", s.handleAgents)
	mux.HandleFunc("/api/agents/", s.handleAgentLogs)
	mux.HandleFunc("/api/issues", s.handleIssues)
	mux.HandleFunc("/api/prs", s.handlePRs)
	mux.Handle("/metrics", s.metrics.Handler())
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response: %v", err)
	}
}

// handleDashboard serves the static dashboard page.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.templates.ExecuteTemplate(w, "dashboard.html", nil); err != nil {
		s.logger.Error("failed to render dashboard template: %v", err)
		http.Error(w, "failed to render page", http.StatusInternalServerError)
	}
}

// handleMetrics implements GET /api/metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	m, err := s.store.GetMetrics()
	if err != nil {
		s.logger.Error("failed to load metrics: %v", err)
		http.Error(w, "failed to load metrics", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, m)
}

// handleAgents implements GET /api/agents.
func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	runs, err := s.store.ListAllAgentRuns()
	if err != nil {
		s.logger.Error("failed to list agent runs: %v", err)
		http.Error(w, "failed to list agent runs", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, runs)
}

// handleAgentLogs implements GET /api/agents/{id}/logs?since=N.
func (s *Server) handleAgentLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/agents/")
	agentID, rest, ok := strings.Cut(path, "/")
	if !ok || rest != "logs" || agentID == "" {
		http.NotFound(w, r)
		return
	}

	var since int64
	if s := r.URL.Query().Get("since"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			http.Error(w, "invalid since parameter", http.StatusBadRequest)
			return
		}
		since = v
	}

	events, err := s.store.ListEventsSince(agentID, since)
	if err != nil {
		s.logger.Error("failed to list events for %s: %v", agentID, err)
		http.Error(w, "failed to list events", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, events)
}

// handleIssues implements GET /api/issues.
func (s *Server) handleIssues(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	items, err := s.store.ListAllWorkItems()
	if err != nil {
		s.logger.Error("failed to list work items: %v", err)
		http.Error(w, "failed to list work items", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, items)
}

// prEntry pairs a tracked PR with its observed review iterations.
type prEntry struct {
	Issue      *persistence.WorkItem          `json:"issue"`
	PRNumber   int                            `json:"pr_number"`
	Iterations []*persistence.ReviewIteration `json:"iterations"`
}

// handlePRs implements GET /api/prs.
func (s *Server) handlePRs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	items, err := s.store.ListAllWorkItems()
	if err != nil {
		s.logger.Error("failed to list work items: %v", err)
		http.Error(w, "failed to list work items", http.StatusInternalServerError)
		return
	}

	entries := make([]prEntry, 0)
	for _, item := range items {
		if !item.PRNumber.Valid {
			continue
		}
		prNumber := int(item.PRNumber.Int64)

		iterations, err := s.store.ListIterationsForPR(prNumber)
		if err != nil {
			s.logger.Error("failed to list iterations for pr %d: %v", prNumber, err)
			http.Error(w, "failed to list iterations", http.StatusInternalServerError)
			return
		}
		entries = append(entries, prEntry{Issue: item, PRNumber: prNumber, Iterations: iterations})
	}
	s.writeJSON(w, entries)
}

// StartServer starts the dashboard HTTP server and returns immediately;
// shutdown happens when ctx is cancelled.
func (s *Server) StartServer(ctx context.Context, host string, port int) error {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	addr := fmt.Sprintf("%s:%d", host, port)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("starting dashboard on %s", addr)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("dashboard server error: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		s.logger.Info("shutting down dashboard")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("dashboard shutdown failed: %v", err)
		}
	}()

	return nil
}

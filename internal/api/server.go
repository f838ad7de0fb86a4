// Package api exposes the memory store over HTTP: read endpoints for the
// dashboard and assistant integrations, plus the capture endpoints the
// lifecycle hooks post into.
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/memorable-dev/memorable/internal/domain"
	"github.com/memorable-dev/memorable/internal/kg"
	"github.com/memorable-dev/memorable/internal/search"
	"github.com/memorable-dev/memorable/internal/store"
)

// Server handles HTTP requests for the memory API.
type Server struct {
	store  *store.Store
	engine *search.Engine
	graph  *kg.Pipeline
	addr   string
}

// New creates an API server. The graph may be nil when no completion
// service is configured; the record endpoint then refuses writes.
func New(st *store.Store, engine *search.Engine, graph *kg.Pipeline, addr string) *Server {
	return &Server{store: st, engine: engine, graph: graph, addr: addr}
}

// Run starts the HTTP server and blocks until the listener fails.
func (s *Server) Run() error {
	log.Printf("[api] listening on %s", s.addr)
	return http.ListenAndServe(s.addr, s.Handler())
}

// Handler returns the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Reads
	mux.HandleFunc("GET /sessions", s.listSessions)
	mux.HandleFunc("GET /sessions/{id}", s.getSession)
	mux.HandleFunc("GET /observations", s.listObservations)
	mux.HandleFunc("GET /prompts", s.listPrompts)
	mux.HandleFunc("GET /search", s.search)
	mux.HandleFunc("GET /kg", s.listEntities)
	mux.HandleFunc("GET /kg/relationships", s.listRelationships)
	mux.HandleFunc("GET /seed", s.seed)
	mux.HandleFunc("GET /stats", s.stats)
	mux.HandleFunc("GET /health", s.health)

	// Writes
	mux.HandleFunc("POST /kg/record", s.recordFact)
	mux.HandleFunc("POST /queue/tool-calls", s.captureToolCall)
	mux.HandleFunc("POST /queue/prompts", s.capturePrompt)

	return withCORS(mux)
}

// withCORS adds CORS headers for the dashboard frontend.
func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		h.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetStats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	sessions, err := s.store.RecentSessions(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"limit":    limit,
	})
}

// SessionDetail is a session with its child records.
type SessionDetail struct {
	Session      *domain.Session      `json:"session"`
	Observations []domain.Observation `json:"observations"`
	Prompts      []domain.Prompt      `json:"prompts"`
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.store.GetSession(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	observations, err := s.store.RecentObservations(id, 200)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	prompts, err := s.store.SessionPrompts(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, SessionDetail{
		Session:      sess,
		Observations: observations,
		Prompts:      prompts,
	})
}

func (s *Server) listObservations(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	observations, err := s.store.RecentObservations(r.URL.Query().Get("session_id"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"observations": observations})
}

func (s *Server) listPrompts(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	prompts, err := s.store.RecentPrompts(r.URL.Query().Get("session_id"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"prompts": prompts})
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	limit := queryInt(r, "limit", 10)
	results, err := s.engine.Search(r.Context(), query, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"query":   query,
	})
}

func (s *Server) listEntities(w http.ResponseWriter, r *http.Request) {
	entities, err := s.store.QueryEntities(store.EntityQuery{
		Name:        r.URL.Query().Get("name"),
		Type:        domain.EntityType(r.URL.Query().Get("type")),
		MinPriority: queryInt(r, "min_priority", 0),
		Limit:       queryInt(r, "limit", 100),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": entities})
}

func (s *Server) listRelationships(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "query parameter 'name' is required")
		return
	}
	rels, err := s.store.Relationships(name, queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"relationships": rels})
}

// seed returns the startup context an assistant loads at session start:
// the rolling summary, recent sessions, and the highest-priority graph
// entities.
func (s *Server) seed(w http.ResponseWriter, r *http.Request) {
	rolling, err := s.store.LatestRollingSummary()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	sessions, err := s.store.RecentSessions(5)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	entities, err := s.store.QueryEntities(store.EntityQuery{MinPriority: 7, Limit: 20})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rolling_summary": rolling,
		"sessions":        sessions,
		"entities":        entities,
	})
}

// RecordFactRequest is the body for the one synchronous graph write path.
type RecordFactRequest struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Priority    int    `json:"priority"`
}

func (s *Server) recordFact(w http.ResponseWriter, r *http.Request) {
	if s.graph == nil {
		writeError(w, http.StatusServiceUnavailable, "knowledge graph disabled")
		return
	}
	var req RecordFactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Priority < 1 || req.Priority > domain.SacredPriority {
		writeError(w, http.StatusBadRequest, "priority must be between 1 and 10")
		return
	}

	err := s.graph.Record(req.Name, domain.EntityType(req.Type), req.Description, req.Priority)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "recorded"})
}

// CaptureToolCallRequest is what the post-tool-use hook posts.
type CaptureToolCallRequest struct {
	SessionID string `json:"session_id"`
	Tool      string `json:"tool"`
	Input     string `json:"input"`
	Response  string `json:"response"`
}

func (s *Server) captureToolCall(w http.ResponseWriter, r *http.Request) {
	var req CaptureToolCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" || req.Tool == "" {
		writeError(w, http.StatusBadRequest, "session_id and tool are required")
		return
	}

	id, err := s.store.EnqueueToolCall(req.SessionID, req.Tool, req.Input, req.Response)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"id": id})
}

// CapturePromptRequest is what the user-prompt hook posts.
type CapturePromptRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// capturePrompt only enqueues; the observation pipeline embeds and stores
// the prompt row later, so the hook's POST never waits on a model call.
func (s *Server) capturePrompt(w http.ResponseWriter, r *http.Request) {
	var req CapturePromptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" || strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "session_id and text are required")
		return
	}

	id, err := s.store.EnqueuePrompt(req.SessionID, req.Text)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"id": id})
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// HTTP surface of the director.
//
// Information Hiding:
// - Route table and CORS policy hidden
// - SSE framing and flushing hidden
// - Mapping of session events to the synchronous response hidden

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/richinex/vdirector/agent"
	"github.com/richinex/vdirector/ledger"
	"github.com/richinex/vdirector/model"
)

// ServiceName is reported by /health.
const ServiceName = "vdirector"

// Executor runs one instruction to a terminal result, emitting events to
// sink in order.
type Executor interface {
	Execute(ctx context.Context, req agent.Request, sink agent.Sink) agent.Result
}

// Info is reported by /health.
type Info struct {
	Version       string
	Model         string
	RouterEnabled bool
	MaxIterations int
}

// Config holds server configuration.
type Config struct {
	Info        Info
	CORSOrigins []string
	// Metrics is mounted on /metrics when set.
	Metrics http.Handler
	Logger  *zap.Logger
}

// Server serves the execute, session and health endpoints.
type Server struct {
	executor Executor
	ledger   ledger.Ledger
	config   Config
	logger   *zap.Logger
}

// New creates a server.
func New(executor Executor, l ledger.Ledger, config Config) *Server {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(config.CORSOrigins) == 0 {
		config.CORSOrigins = []string{"*"}
	}
	return &Server{executor: executor, ledger: l, config: config, logger: logger}
}

// Handler returns the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.HandleFunc("/execute", s.execute).Methods(http.MethodPost)
	r.HandleFunc("/execute/stream", s.executeStream).Methods(http.MethodPost)
	r.HandleFunc("/sessions", s.listSessions).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}", s.getSession).Methods(http.MethodGet)
	if s.config.Metrics != nil {
		r.Handle("/metrics", s.config.Metrics).Methods(http.MethodGet)
	}

	// Credentials are only allowed for an explicit origin list.
	c := cors.New(cors.Options{
		AllowedOrigins:   s.config.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: !slices.Contains(s.config.CORSOrigins, "*"),
	})
	return c.Handler(r)
}

// ExecuteRequest is the body of both execute endpoints.
type ExecuteRequest struct {
	JobID       string         `json:"job_id"`
	Instruction string         `json:"instruction"`
	UserID      string         `json:"user_id,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
}

// ActionSummary is one tool call in the synchronous response.
type ActionSummary struct {
	Type      agent.EventType `json:"type"`
	Iteration int             `json:"iteration"`
	Tool      string          `json:"tool"`
	Success   bool            `json:"success"`
}

// ExecuteResponse is the final result of POST /execute.
type ExecuteResponse struct {
	SessionID  string          `json:"session_id"`
	Status     model.Status    `json:"status"`
	Route      model.Route     `json:"route,omitempty"`
	Result     string          `json:"result"`
	Iterations int             `json:"total_iterations"`
	ToolCalls  int             `json:"total_tool_calls"`
	CostUSD    float64         `json:"total_cost_usd"`
	Actions    []ActionSummary `json:"actions"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	info := s.config.Info
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"service":        ServiceName,
		"version":        info.Version,
		"model":          info.Model,
		"router_enabled": info.RouterEnabled,
		"max_iterations": info.MaxIterations,
	})
}

func (s *Server) execute(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeExecute(w, r)
	if !ok {
		return
	}

	actions := []ActionSummary{}
	res := s.executor.Execute(r.Context(), req, func(e agent.Event) {
		if call, ok := e.(agent.ToolCallEvent); ok {
			actions = append(actions, ActionSummary{
				Type:      agent.EventToolCall,
				Iteration: call.Iteration,
				Tool:      call.Tool,
				Success:   call.Success,
			})
		}
	})

	sessionID := res.SessionID
	if sessionID == "" {
		sessionID = "unknown"
	}
	writeJSON(w, http.StatusOK, ExecuteResponse{
		SessionID:  sessionID,
		Status:     res.Status,
		Route:      res.Route,
		Result:     res.Text,
		Iterations: res.Iterations,
		ToolCalls:  res.ToolCalls,
		CostUSD:    agent.RoundCost(res.CostUSD),
		Actions:    actions,
	})
}

func (s *Server) executeStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer cannot flush")
		return
	}
	req, ok := s.decodeExecute(w, r)
	if !ok {
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// The request context ends when the client goes away, which stops the
	// session between iterations.
	s.executor.Execute(r.Context(), req, func(e agent.Event) {
		data, err := json.Marshal(e)
		if err != nil {
			s.logger.Error("encode event", zap.String("type", string(e.Type())), zap.Error(err))
			return
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			s.logger.Debug("stream write failed", zap.Error(err))
			return
		}
		flusher.Flush()
	})
}

func (s *Server) decodeExecute(w http.ResponseWriter, r *http.Request) (agent.Request, bool) {
	var body ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body: "+err.Error())
		return agent.Request{}, false
	}
	if body.JobID == "" || body.Instruction == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "job_id and instruction are required")
		return agent.Request{}, false
	}
	return agent.Request{
		JobID:       body.JobID,
		Instruction: body.Instruction,
		UserID:      body.UserID,
		Context:     body.Context,
	}, true
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", ledger.DefaultListLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	limit = min(limit, ledger.MaxListLimit)
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	sessions, total, err := s.ledger.ListSessions(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list sessions", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []model.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions, "total": total})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	session, err := s.ledger.GetSession(r.Context(), id)
	if errors.Is(err, ledger.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "session not found")
		return
	}
	if err != nil {
		s.logger.Error("get session", zap.String("session_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "failed to load session")
		return
	}

	actions, err := s.ledger.ListActions(r.Context(), id)
	if err != nil {
		s.logger.Error("list actions", zap.String("session_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "failed to load actions")
		return
	}
	if actions == nil {
		actions = []model.Action{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": session, "actions": actions})
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return n, nil
}

// writeJSON writes data as a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes {error, code, message}.
func writeError(w http.ResponseWriter, status int, errCode, message string) {
	writeJSON(w, status, map[string]any{
		"error":   errCode,
		"code":    status,
		"message": message,
	})
}

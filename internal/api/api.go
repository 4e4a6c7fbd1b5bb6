package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/bugflow/internal/logging"
	"github.com/joescharf/bugflow/internal/models"
	"github.com/joescharf/bugflow/internal/policy"
	"github.com/joescharf/bugflow/internal/store"
	"github.com/joescharf/bugflow/internal/triage"
	"github.com/joescharf/bugflow/internal/workflow"
)

// ActorHeader carries the acting user's ID. It identifies the caller; it does
// not authenticate them.
const ActorHeader = "X-User-ID"

// Triager suggests classification for a bug report.
type Triager interface {
	Triage(ctx context.Context, title, description string) (*triage.Result, error)
}

// Server provides the REST API handlers.
type Server struct {
	store  store.Store
	engine *workflow.Engine
	triage Triager
	logger *slog.Logger
}

// NewServer creates a new API server.
// The triager may be nil if no API key is configured; heuristics are used instead.
func NewServer(s store.Store, e *workflow.Engine, t Triager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:  s,
		engine: e,
		triage: t,
		logger: logger,
	}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/users", s.listUsers)
	mux.HandleFunc("POST /api/v1/users", s.createUser)
	mux.HandleFunc("GET /api/v1/users/{id}", s.getUser)

	mux.HandleFunc("GET /api/v1/bugs", s.listBugs)
	mux.HandleFunc("POST /api/v1/bugs", s.createBug)
	mux.HandleFunc("GET /api/v1/bugs/{id}", s.getBug)
	mux.HandleFunc("POST /api/v1/bugs/{id}/transition", s.transitionBug)
	mux.HandleFunc("GET /api/v1/bugs/{id}/transitions", s.availableTransitions)
	mux.HandleFunc("POST /api/v1/bugs/{id}/assign-qa", s.assignQA)
	mux.HandleFunc("POST /api/v1/bugs/{id}/block", s.blockBug)
	mux.HandleFunc("POST /api/v1/bugs/{id}/unblock", s.unblockBug)
	mux.HandleFunc("GET /api/v1/bugs/{id}/history", s.bugHistory)
	mux.HandleFunc("POST /api/v1/bugs/{id}/triage", s.triageBug)

	mux.HandleFunc("GET /api/v1/policy", s.getPolicy)

	return s.logRequests(corsMiddleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+ActorHeader)
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := logging.WithFields(r.Context(), logging.Fields{
			RequestID: ulid.Make().String(),
			UserID:    r.Header.Get(ActorHeader),
		})
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		level := slog.LevelInfo
		if rec.status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		s.logger.Log(ctx, level, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// errorStatus maps workflow and store errors onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, workflow.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, workflow.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, workflow.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeErr(w http.ResponseWriter, err error) {
	writeError(w, errorStatus(err), err.Error())
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

// actor resolves the X-User-ID header to a stored user. It writes a 401 and
// returns false when the header is missing or names no known user.
func (s *Server) actor(w http.ResponseWriter, r *http.Request) (workflow.Actor, bool) {
	id := strings.TrimSpace(r.Header.Get(ActorHeader))
	if id == "" {
		writeError(w, http.StatusUnauthorized, ActorHeader+" header is required")
		return workflow.Actor{}, false
	}
	u, err := s.store.GetUser(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusUnauthorized, "unknown user "+id)
		return workflow.Actor{}, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return workflow.Actor{}, false
	}
	return workflow.ActorFrom(u), true
}

// --- Users ---

type createUserRequest struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.store.GetUser(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	role, err := models.ParseRole(req.Role)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	u := &models.User{ID: req.ID, Name: req.Name, Email: req.Email, Role: role}
	if err := s.store.CreateUser(r.Context(), u); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// --- Bugs ---

type createBugRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	Severity    string `json:"severity"`
	Type        string `json:"type"`
	Auto        bool   `json:"auto"`
}

func (s *Server) listBugs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.BugListFilter{
		Status:       models.BugStatus(strings.ToLower(q.Get("status"))),
		Priority:     models.BugPriority(strings.ToLower(q.Get("priority"))),
		Severity:     models.BugSeverity(strings.ToLower(q.Get("severity"))),
		QAAssigneeID: q.Get("qa_assignee_id"),
		BlockedOnly:  q.Get("blocked") == "true",
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown status "+q.Get("status"))
		return
	}

	bugs, err := s.store.ListBugs(r.Context(), filter)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bugs)
}

func (s *Server) getBug(w http.ResponseWriter, r *http.Request) {
	bug, err := s.store.GetBug(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bug)
}

func (s *Server) createBug(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	var req createBugRequest
	if !decode(w, r, &req) {
		return
	}

	bug := &models.Bug{Title: strings.TrimSpace(req.Title), Description: req.Description}
	if req.Auto {
		res := s.suggest(r.Context(), bug.Title, bug.Description)
		bug.Type, bug.Priority, bug.Severity = res.Type, res.Priority, res.Severity
	}

	var err error
	if req.Priority != "" {
		if bug.Priority, err = models.ParseBugPriority(req.Priority); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if req.Severity != "" {
		if bug.Severity, err = models.ParseBugSeverity(req.Severity); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if req.Type != "" {
		if bug.Type, err = models.ParseBugType(req.Type); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	created, err := s.engine.CreateBug(r.Context(), bug, actor)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

type transitionRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes"`
}

func (s *Server) transitionBug(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	var req transitionRequest
	if !decode(w, r, &req) {
		return
	}
	target, err := models.ParseBugStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	bug, err := s.engine.TransitionStatus(r.Context(), r.PathValue("id"), target, actor, req.Notes)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bug)
}

func (s *Server) availableTransitions(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	targets, err := s.engine.AvailableTransitions(r.Context(), r.PathValue("id"), actor)
	if err != nil {
		writeErr(w, err)
		return
	}
	if targets == nil {
		targets = []models.BugStatus{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"role": actor.Role, "targets": targets})
}

type assignQARequest struct {
	QAUserID string `json:"qa_user_id"`
}

func (s *Server) assignQA(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	var req assignQARequest
	if !decode(w, r, &req) {
		return
	}
	bug, err := s.engine.AssignQA(r.Context(), r.PathValue("id"), req.QAUserID, actor)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bug)
}

type blockRequest struct {
	BlockedByBugID string `json:"blocked_by_bug_id"`
	Reason         string `json:"reason"`
}

func (s *Server) blockBug(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	var req blockRequest
	if !decode(w, r, &req) {
		return
	}
	bug, err := s.engine.BlockBug(r.Context(), r.PathValue("id"), req.BlockedByBugID, actor, req.Reason)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bug)
}

type unblockRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) unblockBug(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	// An empty body is allowed.
	var req unblockRequest
	if r.ContentLength != 0 {
		if !decode(w, r, &req) {
			return
		}
	}
	bug, err := s.engine.UnblockBug(r.Context(), r.PathValue("id"), actor, req.Reason)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bug)
}

func (s *Server) bugHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.engine.GetHistory(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	if entries == nil {
		entries = []*models.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// suggest prefers the model and falls back to heuristics when it is
// unconfigured or fails.
func (s *Server) suggest(ctx context.Context, title, description string) triage.Result {
	if s.triage != nil {
		res, err := s.triage.Triage(ctx, title, description)
		if err == nil {
			return *res
		}
		s.logger.WarnContext(ctx, "triage failed, using heuristics", "error", err)
	}
	return triage.Heuristic(title, description)
}

func (s *Server) triageBug(w http.ResponseWriter, r *http.Request) {
	bug, err := s.store.GetBug(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.suggest(r.Context(), bug.Title, bug.Description))
}

// --- Policy ---

func (s *Server) getPolicy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, policy.Matrix())
}

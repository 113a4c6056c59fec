package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/goald/internal/config"
	"github.com/dokzlo13/goald/internal/goal"
	"github.com/dokzlo13/goald/internal/ledger"
	"github.com/dokzlo13/goald/internal/projects"
	"github.com/dokzlo13/goald/internal/tracking"
)

const defaultLedgerLimit = 50

// StatusService serves progress reads and accepts dirty marks and project
// edits over HTTP.
type StatusService struct {
	cfg      *config.Config
	engine   *tracking.Engine
	projects *projects.Service
	ledger   *ledger.Ledger
	server   *http.Server
}

// NewStatusService creates a new StatusService.
func NewStatusService(cfg *config.Config, engine *tracking.Engine, projects *projects.Service, l *ledger.Ledger) *StatusService {
	return &StatusService{
		cfg:      cfg,
		engine:   engine,
		projects: projects,
		ledger:   l,
	}
}

// Start begins the status server if enabled.
func (s *StatusService) Start(ctx context.Context) {
	if !s.cfg.Status.Enabled {
		log.Debug().Msg("Status server disabled")
		return
	}

	go s.run(ctx)
}

func (s *StatusService) run(ctx context.Context) {
	addr := fmt.Sprintf("%s:%d", s.cfg.Status.Host, s.cfg.Status.Port)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info().Str("addr", addr).Msg("Starting status server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Status server shutdown error")
		}
	}()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("Status server error")
	}
}

// Handler returns the HTTP routes.
func (s *StatusService) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	r.Get("/status", s.handleStatus)
	r.Get("/ledger", s.handleLedger)

	r.Route("/inventory", func(r chi.Router) {
		r.Post("/dirty", s.handleMarkDirty)
		r.Post("/dirty/all", s.handleMarkAllDirty)
	})
	r.Post("/session/reset", s.handleSessionReset)

	r.Route("/projects", func(r chi.Router) {
		r.Get("/", s.handleListProjects)
		r.Post("/", s.handleCreateProject)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetProject)
			r.Delete("/", s.handleDeleteProject)
			r.Post("/activate", s.handleActivateProject)
			r.Put("/secondary", s.handleSetSecondary)
			r.Post("/goals", s.handleAddGoal)
			r.Delete("/goals/{goalID}", s.handleRemoveGoal)
			r.Put("/goals/{goalID}/target", s.handleSetTarget)
		})
	})

	return r
}

type statusResponse struct {
	ActiveProject string             `json:"active_project,omitempty"`
	SaveFailed    bool               `json:"save_failed"`
	Snapshot      *tracking.Snapshot `json:"snapshot"`
}

func (s *StatusService) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		ActiveProject: s.projects.ActiveID(),
		SaveFailed:    s.projects.SaveFailed(),
		Snapshot:      s.engine.Snapshot(),
	})
}

func (s *StatusService) handleLedger(w http.ResponseWriter, r *http.Request) {
	limit := defaultLedgerLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = n
	}

	var (
		entries []*ledger.Entry
		err     error
	)
	if project := r.URL.Query().Get("project"); project != "" {
		entries, err = s.ledger.ByProject(project, limit)
	} else {
		entries, err = s.ledger.Recent(limit)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	out := make([]ledgerView, 0, len(entries))
	for _, e := range entries {
		out = append(out, ledgerView{
			ID:        e.ID,
			EventType: string(e.EventType),
			Timestamp: e.Timestamp,
			ProjectID: e.ProjectID,
			GoalID:    e.GoalID,
			Payload:   e.Payload,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *StatusService) handleMarkDirty(w http.ResponseWriter, r *http.Request) {
	resource := r.URL.Query().Get("resource")
	if resource == "" {
		writeError(w, http.StatusBadRequest, errors.New("resource is required"))
		return
	}
	s.engine.MarkResourceDirty(resource)
	w.WriteHeader(http.StatusAccepted)
}

func (s *StatusService) handleMarkAllDirty(w http.ResponseWriter, r *http.Request) {
	s.engine.MarkAllDirty()
	w.WriteHeader(http.StatusAccepted)
}

func (s *StatusService) handleSessionReset(w http.ResponseWriter, r *http.Request) {
	s.engine.Reset()
	w.WriteHeader(http.StatusAccepted)
}

func (s *StatusService) handleListProjects(w http.ResponseWriter, r *http.Request) {
	list := s.projects.List()
	out := make([]projectView, 0, len(list))
	for _, p := range list {
		out = append(out, toProjectView(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *StatusService) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.projects.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectView(p))
}

type createProjectRequest struct {
	Name string `json:"name"`
}

func (s *StatusService) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, errors.New("name is required"))
		return
	}
	p, err := s.projects.Create(req.Name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProjectView(p))
}

func (s *StatusService) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := s.projects.Delete(chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *StatusService) handleActivateProject(w http.ResponseWriter, r *http.Request) {
	if err := s.projects.SetActive(chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type setSecondaryRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *StatusService) handleSetSecondary(w http.ResponseWriter, r *http.Request) {
	var req setSecondaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	p, err := s.projects.SetTrackSecondary(chi.URLParam(r, "id"), req.Enabled)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectView(p))
}

type addGoalRequest struct {
	Resource   string          `json:"resource"`
	Target     any             `json:"target"`
	Strict     bool            `json:"strict"`
	Attributes *attributesView `json:"attributes,omitempty"`
}

func (s *StatusService) handleAddGoal(w http.ResponseWriter, r *http.Request) {
	var req addGoalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Resource == "" {
		writeError(w, http.StatusBadRequest, errors.New("resource is required"))
		return
	}
	target, err := parseTarget(req.Target)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	m := goal.ParseMatcher(req.Resource)
	g := goal.NewGoal(m, target)
	if req.Strict {
		var filter goal.AttributeFilter
		if req.Attributes != nil {
			filter = goal.AttributeFilter{Match: req.Attributes.Match, Ignore: req.Attributes.Ignore}
		}
		g = goal.NewStrictGoal(m, target, filter)
	}

	p, err := s.projects.AddGoal(chi.URLParam(r, "id"), g)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectView(p))
}

func (s *StatusService) handleRemoveGoal(w http.ResponseWriter, r *http.Request) {
	p, err := s.projects.RemoveGoal(chi.URLParam(r, "id"), chi.URLParam(r, "goalID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectView(p))
}

type setTargetRequest struct {
	Target any `json:"target"`
}

func (s *StatusService) handleSetTarget(w http.ResponseWriter, r *http.Request) {
	var req setTargetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	target, err := parseTarget(req.Target)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	p, err := s.projects.SetTarget(chi.URLParam(r, "id"), chi.URLParam(r, "goalID"), target)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectView(p))
}

// parseTarget accepts a JSON number or string and applies the same rules
// as typed user input.
func parseTarget(v any) (int, error) {
	switch t := v.(type) {
	case string:
		return goal.ParseTarget(t)
	case float64:
		return goal.ParseTarget(strconv.FormatFloat(t, 'f', -1, 64))
	default:
		return 0, goal.ErrInvalidTarget
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, projects.ErrProjectNotFound), errors.Is(err, goal.ErrGoalNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, goal.ErrInvalidTarget):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to write response")
	}
}

// requestLogger logs every request at debug level.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("HTTP request")
	})
}

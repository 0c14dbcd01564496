package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"

	"github.com/liamcoop/stageconditions/actions"
	"github.com/liamcoop/stageconditions/collaborators"
	"github.com/liamcoop/stageconditions/internal/config"
	"github.com/liamcoop/stageconditions/internal/logger"
	"github.com/liamcoop/stageconditions/rules"
	"github.com/liamcoop/stageconditions/runtime"
	"github.com/liamcoop/stageconditions/store"
	"github.com/liamcoop/stageconditions/validation"
)

// maxBodyBytes caps request bodies
const maxBodyBytes = 1 << 20

// slowRequest is the duration above which a request is counted as slow
const slowRequest = 2 * time.Second

// requestTimeout bounds every route that does not execute actions
const requestTimeout = 60 * time.Second

type Server struct {
	runtime        *runtime.Runtime
	db             *sql.DB
	router         *chi.Mux
	requestTimeout time.Duration
}

// NewServer serves rt. db is only used for health checks and may be nil.
func NewServer(rt *runtime.Runtime, db *sql.DB) *Server {
	return newServer(rt, db, requestTimeout)
}

func newServer(rt *runtime.Runtime, db *sql.DB, timeout time.Duration) *Server {
	s := &Server{runtime: rt, db: db, requestTimeout: timeout}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.requestTimeout))

		r.Get("/api/v1/health", s.handleHealth)
		r.Post("/api/v1/conditions/validate", s.handleValidate)
		r.Post("/api/v1/conditions/translate", s.handleTranslate)
		r.Post("/api/v1/conditions/evaluate", s.handleEvaluate)
		r.Get("/api/v1/runs/{onboardingId}", s.handleListRuns)
	})

	// Action batches are bounded by the per-action timeouts and the collaborator
	// client timeout, so these routes carry no request deadline of their own.
	r.Group(func(r chi.Router) {
		r.Use(noWriteDeadline)

		r.Post("/api/v1/conditions/execute", s.handleExecute)
		r.Post("/api/v1/conditions/run", s.handleRun)
	})

	s.router = r
}

// noWriteDeadline lifts the server write timeout for the request
func noWriteDeadline(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Not every writer supports deadlines; the server default then applies.
		_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
		next.ServeHTTP(w, r)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requestLogger logs each request and feeds the HTTP counters
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		elapsed := time.Since(start)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		args := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration", elapsed.String(),
			"request_id", middleware.GetReqID(r.Context()),
		}
		switch {
		case status >= 500:
			logger.ErrorHttp5xx()
			logger.Logger.Error("request failed", args...)
		case status >= 400:
			logger.WarnHttp4xx(status)
			logger.Debug("request rejected", args...)
		default:
			logger.Debug("request", args...)
		}
		if elapsed > slowRequest {
			logger.WarnSlowRequest()
			logger.Logger.Warn("slow request", args...)
		}
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy", Store: "memory", Counters: logger.Counters()}
	if s.db != nil {
		resp.Store = "postgres"
		if err := s.db.PingContext(r.Context()); err != nil {
			resp.Status = "unhealthy"
			resp.Error = err.Error()
			respondJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if req.ConditionID != 0 && len(req.Rules) == 0 && len(req.Actions) == 0 {
		result, err := s.runtime.ValidateCondition(r.Context(), req.ConditionID)
		if err != nil {
			if errors.Is(err, runtime.ErrNoConditionSource) {
				respondError(w, http.StatusBadRequest, "rules and actions are required", err)
				return
			}
			respondError(w, http.StatusBadGateway, "failed to load condition", err)
			return
		}
		respondJSON(w, http.StatusOK, result)
		return
	}

	respondJSON(w, http.StatusOK, s.runtime.ValidateForStage(req.SourceStageID, req.Rules, req.Actions))
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var cfg rules.FrontendRuleConfig
	if !decodeBody(w, r, &cfg) {
		return
	}
	if len(cfg.Rules) == 0 {
		respondError(w, http.StatusBadRequest, "rules are required", nil)
		return
	}

	set, skipped := s.runtime.Translate(cfg)
	if skipped == nil {
		skipped = []rules.SkippedRule{}
	}
	respondJSON(w, http.StatusOK, TranslateResponse{RuleSet: set, Skipped: skipped})
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Context == nil {
		respondError(w, http.StatusBadRequest, "context is required", nil)
		return
	}
	parsed, err := s.runtime.ParseRules(req.Rules)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid rules", err)
		return
	}

	result := s.runtime.Evaluate(parsed.RuleSet, req.Context)
	logger.ConditionEvaluated(result.IsConditionMet)
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	list, err := actions.ParseActions(req.Actions)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid actions", err)
		return
	}

	ec := actions.ExecutionContext{
		OnboardingID:   req.OnboardingID,
		StageID:        req.StageID,
		ConditionID:    req.ConditionID,
		WorkflowStages: req.WorkflowStages,
		Operator:       req.Operator,
	}
	result := s.runtime.Execute(r.Context(), ec, list)
	logger.ActionsFailed(failedActions(result))
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if !decodeBody(w, r, &req) {
		return
	}

	runReq := runtime.RunRequest{
		OnboardingID:   req.OnboardingID,
		StageID:        req.StageID,
		ConditionID:    req.ConditionID,
		WorkflowStages: req.WorkflowStages,
		Operator:       req.Operator,
	}
	var inline *validation.Result
	if len(req.Rules) > 0 {
		// Inline conditions are validated the same way stored ones are.
		inline = s.runtime.ValidateForStage(req.StageID, req.Rules, req.Actions)
		if !inline.IsValid {
			respondJSON(w, http.StatusUnprocessableEntity, runtime.RunOutcome{Validation: inline})
			return
		}
		runReq.RuleSet = inline.RuleSet
		runReq.Actions = inline.Actions
	}

	outcome, err := s.runtime.Run(r.Context(), runReq)
	if outcome != nil && inline != nil {
		outcome.Validation = inline
	}
	switch {
	case err == nil:
	case errors.Is(err, runtime.ErrNotFound):
		respondJSON(w, http.StatusNotFound, outcome)
		return
	case errors.Is(err, runtime.ErrInvalidCondition):
		respondJSON(w, http.StatusUnprocessableEntity, outcome)
		return
	case errors.Is(err, runtime.ErrNoConditionSource):
		respondError(w, http.StatusBadRequest, "rules are required when no condition source is configured", err)
		return
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusServiceUnavailable, "run did not start", err)
		return
	default:
		respondError(w, http.StatusBadGateway, "failed to load condition", err)
		return
	}

	logger.ConditionEvaluated(outcome.Evaluation.IsConditionMet)
	logger.ActionsFailed(failedActions(outcome.Execution))
	respondJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	onboardingID, err := strconv.ParseInt(chi.URLParam(r, "onboardingId"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid onboardingId", err)
		return
	}

	runs, err := s.runtime.Runs(r.Context(), onboardingID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list runs", err)
		return
	}
	respondJSON(w, http.StatusOK, RunsResponse{OnboardingID: onboardingID, Runs: runs, Count: len(runs)})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		logger.Error("failed to encode response", "error", err)
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	respondJSON(w, status, resp)
}

// buildRuntime wires the runtime from cfg. The returned db is nil without DATABASE_URL.
func buildRuntime(cfg *config.Config) (*runtime.Runtime, *sql.DB, error) {
	var (
		deps runtime.Dependencies
		db   *sql.DB
	)

	if cfg.DatabaseURL != "" {
		var err error
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to ping database: %w", err)
		}
		deps.Runs = store.NewPostgresRunStore(db)
	} else {
		deps.Runs = store.NewInMemoryRunStore()
	}

	if cfg.CollaboratorBaseURL != "" {
		client, err := collaborators.New(cfg.CollaboratorBaseURL,
			collaborators.WithHTTPClient(&http.Client{Timeout: cfg.CollaboratorTimeout}),
			collaborators.WithToken(cfg.CollaboratorToken),
		)
		if err != nil {
			if db != nil {
				db.Close()
			}
			return nil, nil, err
		}
		deps.Collaborators = client.Collaborators()
		deps.Data = client
		deps.Conditions = client
	} else {
		logger.Info("no collaborator gateway configured; actions and stored conditions are unavailable")
	}

	opts := cfg.RuntimeOptions()
	opts.Logger = logger.Logger
	rt, err := runtime.New(deps, opts)
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, nil, err
	}
	return rt, db, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Logging()); err != nil {
		logger.Warn("falling back to JSON logging", "error", err)
	}
	defer logger.Shutdown(context.Background())

	rt, db, err := buildRuntime(cfg)
	if err != nil {
		logger.Fatal("failed to build runtime", "error", err)
	}
	if db != nil {
		defer db.Close()
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           NewServer(rt, db),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      requestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "addr", cfg.Addr(), "postgres", db != nil)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	logger.Info("server stopped")
}

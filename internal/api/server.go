package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nelssec/assetsync/internal/classify"
	"github.com/nelssec/assetsync/internal/config"
	"github.com/nelssec/assetsync/internal/connectors"
	"github.com/nelssec/assetsync/internal/models"
	"github.com/nelssec/assetsync/internal/progress"
	"github.com/nelssec/assetsync/internal/scheduler"
	"github.com/nelssec/assetsync/internal/store"
)

// ListerFactory builds a provider connector for an integration, used by the
// connection test endpoint.
type ListerFactory func(ctx context.Context, integration *models.Integration) (connectors.Lister, error)

type Server struct {
	cfg    *config.Config
	router *chi.Mux
	store  *store.Store
	http   *http.Server
	logger *slog.Logger

	scheduler *scheduler.Scheduler
	engine    *classify.Engine
	cache     *progress.Cache
	listers   ListerFactory
}

// Deps carries the wired subsystems the server exposes. Cache may be nil.
type Deps struct {
	Store     *store.Store
	Scheduler *scheduler.Scheduler
	Engine    *classify.Engine
	Cache     *progress.Cache
	Listers   ListerFactory
	Logger    *slog.Logger
}

func NewServer(cfg *config.Config, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	s := &Server{
		cfg:       cfg,
		router:    chi.NewRouter(),
		store:     deps.Store,
		logger:    deps.Logger,
		scheduler: deps.Scheduler,
		engine:    deps.Engine,
		cache:     deps.Cache,
		listers:   deps.Listers,
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.healthCheck)
	s.router.Get("/ready", s.readyCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Route("/integrations", func(r chi.Router) {
			r.Get("/", s.listIntegrations)
			r.Post("/", s.createIntegration)
			r.Get("/{integrationID}", s.getIntegration)
			r.Patch("/{integrationID}", s.updateIntegration)
			r.Delete("/{integrationID}", s.deleteIntegration)
			r.Post("/{integrationID}/test", s.testIntegration)
			r.Post("/{integrationID}/sync", s.triggerSync)
			r.Get("/{integrationID}/sync/status", s.syncStatus)
			r.Get("/{integrationID}/sync/history", s.syncHistory)
		})

		r.Route("/sync-jobs", func(r chi.Router) {
			r.Get("/{jobID}", s.getSyncJob)
			r.Get("/{jobID}/progress", s.getSyncJobProgress)
			r.Post("/{jobID}/cancel", s.cancelSyncJob)
		})

		r.Route("/assets", func(r chi.Router) {
			r.Get("/", s.listAssets)
			r.Get("/stats", s.getAssetStats)
			r.Get("/{assetID}", s.getAsset)
			r.Put("/{assetID}/classification", s.setAssetClassification)
		})

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", s.listRules)
			r.Post("/", s.createRule)
			r.Post("/preview", s.previewRule)
			r.Post("/run", s.runRules)
			r.Get("/{ruleID}", s.getRule)
			r.Put("/{ruleID}", s.updateRule)
			r.Delete("/{ruleID}", s.deleteRule)
		})
	})
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
	Meta    *apiMeta    `json:"meta,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiMeta struct {
	Total  int `json:"total,omitempty"`
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

func respondJSONWithMeta(w http.ResponseWriter, status int, data interface{}, meta *apiMeta) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
		Meta:    meta,
	})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: false,
		Error: &apiError{
			Code:    code,
			Message: message,
		},
	})
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func (s *Server) readyCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "db_unavailable", "Database not available")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}

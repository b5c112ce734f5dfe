package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"pumpguard/internal/auth"
	"pumpguard/internal/config"
	"pumpguard/internal/storage"
)

const maxLimit = 500

// Store is the read side the API serves from.
type Store interface {
	storage.StatsStore
	ListRecentAlerts(ctx context.Context, limit int) ([]storage.Alert, error)
	ListRecentSwaps(ctx context.Context, limit int) ([]storage.SwapRecord, error)
}

// Deps are the collaborators behind the routes.
type Deps struct {
	Store    Store
	Auth     *auth.Authenticator
	Pairs    []config.PairConfig
	Gatherer prometheus.Gatherer
}

// Server is the HTTP façade over the core operations.
type Server struct {
	cfg    config.APIConfig
	deps   Deps
	engine *gin.Engine
	logger zerolog.Logger
}

// New builds the router.
func New(cfg config.APIConfig, deps Deps, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	if cfg.AlertsLimit <= 0 {
		cfg.AlertsLimit = 20
	}
	if cfg.SwapsLimit <= 0 {
		cfg.SwapsLimit = 50
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		engine: gin.New(),
		logger: logger.With().Str("component", "api").Logger(),
	}
	s.engine.Use(recovery(s.logger), requestLogger(s.logger), corsMiddleware(cfg.CORSOrigins))
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.health)
	if s.deps.Gatherer != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	}

	api := s.engine.Group("/api")
	{
		api.GET("/nonce", s.issueNonce)
		api.POST("/auth/verify", s.verify)
		api.GET("/auth/session", bearerAuth(s.deps.Auth, s.logger), s.session)

		api.GET("/alerts", s.listAlerts)
		api.GET("/stats", s.stats)
		api.GET("/stats/pairs", s.pairStats)
		api.GET("/swaps", s.listSwaps)
		api.GET("/pairs", s.listPairs)
	}

	s.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.engine,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("listen", s.cfg.Listen).Msg("api server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info().Msg("shutting down api server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown api server: %w", err)
	}
	return nil
}

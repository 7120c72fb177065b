// Package web serves the moderator admin panel API and the public map
// feed over HTTP.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"geneva-listings/internal/common/config"
	"geneva-listings/internal/common/logger"
	"geneva-listings/internal/common/telegram"
	"geneva-listings/internal/lifecycle"
	"geneva-listings/internal/projector"
	"geneva-listings/internal/store"
)

type Server struct {
	cfg       *config.Config
	engine    *lifecycle.Engine
	store     *store.SubmissionStore
	projector *projector.Projector
	files     telegram.Sender
	logger    logger.Logger
	http      *http.Server
}

func NewServer(cfg *config.Config, engine *lifecycle.Engine, st *store.SubmissionStore, proj *projector.Projector, files telegram.Sender, log logger.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		engine:    engine,
		store:     st,
		projector: proj,
		files:     files,
		logger:    log.WithFields(map[string]interface{}{"component": "web"}),
	}

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.POST("/auth/token", s.handleLogin)

		// public map surface
		api.GET("/map", s.handleMapFeed)
		api.GET("/map/search", s.handleMapSearch)
		api.GET("/image/:file_id", s.handleImage)

		admin := api.Group("", s.jwtAuth())
		{
			admin.GET("/submissions", s.handleListSubmissions)
			admin.GET("/submissions/:id", s.handleGetSubmission)
			admin.PUT("/submissions/:id/payload", s.handleEditPayload)
			admin.POST("/submissions/:id/approve", s.handleAction(lifecycleApprove))
			admin.POST("/submissions/:id/reject", s.handleAction(lifecycleReject))
			admin.POST("/submissions/:id/publish", s.handleAction(lifecyclePublish))
			admin.POST("/submissions/:id/unpublish", s.handleAction(lifecycleUnpublish))
			admin.GET("/stats", s.handleStats)
			admin.POST("/projections/rebuild", s.handleRebuild)
		}
	}

	if cfg.Web.StaticDir != "" {
		router.Static("/static", cfg.Web.StaticDir)
	}

	s.http = &http.Server{
		Addr:              cfg.Web.ListenAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until the context is cancelled, then drains in-flight
// requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", map[string]interface{}{"address": s.http.Addr})
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

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

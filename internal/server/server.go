// Package server is the HTTP boundary: it accepts chat requests, streams
// workflow events over SSE, and serves replay retrieval and listing.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/mohammad-safakhou/researchflow/config"
	"github.com/mohammad-safakhou/researchflow/internal/checkpoint"
	"github.com/mohammad-safakhou/researchflow/internal/store"
	"github.com/mohammad-safakhou/researchflow/internal/telemetry"
	"github.com/mohammad-safakhou/researchflow/provider"
)

// Server carries the shared dependencies behind the HTTP handlers.
type Server struct {
	Cfg         *config.Config
	Checkpoints checkpoint.Store
	Summaries   store.Summaries
	Providers   *provider.Registry
	Toolbox     *Toolbox
	Logger      *log.Logger
	Tracer      trace.Tracer
}

// New wires the server's dependencies from configuration. Missing
// storage backends degrade to in-memory implementations so the service
// still runs on a laptop.
func New(ctx context.Context, cfg *config.Config, tracer trace.Tracer) (*Server, error) {
	logger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)

	var cp checkpoint.Store
	if cfg.Storage.Redis.Host != "" {
		rs, err := checkpoint.NewRedisStore(cfg.Storage.Redis)
		if err != nil {
			return nil, fmt.Errorf("checkpoint store: %w", err)
		}
		cp = rs
	} else {
		logger.Printf("redis not configured, checkpoints are in-memory only")
		cp = checkpoint.NewMemoryStore()
	}
	be := checkpoint.NewBestEffort(cp, log.New(log.Writer(), "[CP] ", log.LstdFlags))
	be.OnFailure = telemetry.CheckpointWriteFailures.Inc
	cp = be

	var summaries store.Summaries
	if cfg.Storage.Postgres.Configured() {
		st, err := store.New(ctx, cfg.Storage.Postgres)
		if err != nil {
			return nil, fmt.Errorf("summary store: %w", err)
		}
		summaries = st
	} else {
		logger.Printf("postgres not configured, replay summaries are in-memory only")
		summaries = store.NewMemory()
	}

	providers, err := provider.NewRegistry(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("llm registry: %w", err)
	}

	toolbox, err := NewToolbox(cfg, log.New(log.Writer(), "[TOOLS] ", log.LstdFlags))
	if err != nil {
		return nil, fmt.Errorf("toolbox: %w", err)
	}

	return &Server{
		Cfg:         cfg,
		Checkpoints: cp,
		Summaries:   summaries,
		Providers:   providers,
		Toolbox:     toolbox,
		Logger:      logger,
		Tracer:      tracer,
	}, nil
}

// Echo assembles the router with middleware and all routes.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		s.Logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "Cookie"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")
	if s.Cfg.Server.JWTSecret != "" {
		api.Use(AuthMiddleware([]byte(s.Cfg.Server.JWTSecret)))
	}
	api.POST("/chat/stream", s.chatStream)
	api.GET("/replays", s.listReplays)
	api.GET("/replays/:thread_id", s.getReplay)

	return e
}

// Run starts the server and the retention janitor, blocking until the
// listener stops.
func (s *Server) Run(ctx context.Context) error {
	if s.Cfg.Retention.Enabled {
		janitor, err := NewJanitor(s.Cfg.Retention, s.Summaries, s.Checkpoints,
			log.New(log.Writer(), "[JANITOR] ", log.LstdFlags))
		if err != nil {
			return err
		}
		janitor.Start(ctx)
	}

	addr := s.Cfg.Server.Address
	if addr == "" {
		addr = ":8080"
	}
	s.Logger.Printf("listening on %s", addr)
	return s.Echo().Start(addr)
}

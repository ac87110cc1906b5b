// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server is the HTTP and WebSocket surface of the viewer.
//
// Browsers receive layout frames over a WebSocket and send pointer events
// back; every connected browser has its own view transform while sharing the
// session's layout and selection. The REST routes drive the session
// lifecycle. Routes:
//
//	GET    /                        - canvas client
//	GET    /metrics                 - Prometheus metrics
//	GET    /v1/viewer/health        - health check
//	GET    /v1/viewer/session       - current session view
//	POST   /v1/viewer/session       - open an analysis
//	DELETE /v1/viewer/session       - close the session
//	POST   /v1/viewer/session/retry - reopen after a terminal error
//	POST   /v1/viewer/submit        - submit a repository and open it
//	PUT    /v1/viewer/level         - change the detail level
//	POST   /v1/viewer/select        - select or clear a node
//	GET    /v1/viewer/frame         - current layout frame
//	GET    /v1/viewer/export        - rendered export (?format=svg|dot|mermaid|d3|html)
//	GET    /v1/viewer/stream        - WebSocket frame stream
package server

import (
	"context"
	_ "embed"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/livegraph/pkg/logging"
	"github.com/AleutianAI/livegraph/services/viewer/interaction"
	"github.com/AleutianAI/livegraph/services/viewer/observability"
	"github.com/AleutianAI/livegraph/services/viewer/session"
)

// ServiceVersion is the viewer server version.
const ServiceVersion = "0.1.0"

//go:embed static/index.html
var indexHTML []byte

// Config configures the server.
type Config struct {
	// Addr is the listen address.
	Addr string `yaml:"addr" validate:"required"`

	// FrameRate caps frames per second sent to each browser.
	FrameRate float64 `yaml:"frame_rate" validate:"gt=0,lte=240"`

	// FrameBurst is the number of frames that may be sent back to back.
	FrameBurst int `yaml:"frame_burst" validate:"gte=1"`

	// WriteTimeout bounds one WebSocket write.
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"gte=0"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`

	// ViewportWidth and ViewportHeight are assumed until a browser reports
	// its size.
	ViewportWidth  float64 `yaml:"viewport_width" validate:"gt=0"`
	ViewportHeight float64 `yaml:"viewport_height" validate:"gt=0"`

	// Debug enables gin debug mode and request logging.
	Debug bool `yaml:"debug"`
}

// DefaultConfig returns the defaults: 30 frames per second on :8090.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8090",
		FrameRate:       30,
		FrameBurst:      2,
		WriteTimeout:    5 * time.Second,
		ShutdownTimeout: 5 * time.Second,
		ViewportWidth:   1200,
		ViewportHeight:  800,
	}
}

// Options carries optional collaborators.
type Options struct {
	Logger  *logging.Logger
	Metrics *observability.ViewerMetrics

	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler

	// Interaction tunes the per-browser pointer controllers.
	Interaction interaction.Config
}

// Server serves one session to any number of browsers.
//
// # Thread Safety
//
// Safe for concurrent use once constructed.
type Server struct {
	cfg      Config
	router   *gin.Engine
	handlers *Handlers
	logger   *logging.Logger
}

// New builds the router. The session must be driven by its own Run loop for
// frames to flow.
func New(cfg Config, sess *session.Session, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Interaction == (interaction.Config{}) {
		opts.Interaction = interaction.DefaultConfig()
	}
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Debug {
		router.Use(gin.Logger())
	}
	router.Use(otelgin.Middleware("livegraph-viewer"))

	h := &Handlers{
		cfg:     cfg,
		sess:    sess,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		ictl:    opts.Interaction,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
		},
	}

	router.GET("/", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
	})
	if opts.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(opts.MetricsHandler))
	}
	RegisterRoutes(router.Group("/v1"), h)

	return &Server{cfg: cfg, router: router, handlers: h, logger: opts.Logger}
}

// Router returns the gin engine, for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run serves until ctx is done, then shuts down gracefully. Open frame
// streams end with ctx.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("viewer server listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s.logger.Info("viewer server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

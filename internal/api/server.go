// Copyright 2026 The visionbridge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package api exposes the bridge over HTTP. The layer is deliberately
// thin: it decodes tool invocations, applies the per-request deadline, and
// maps pipeline errors onto status codes. All semantics live in the
// pipeline packages.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/traylinx/visionbridge/internal/bridge"
	"github.com/traylinx/visionbridge/internal/buildinfo"
	"github.com/traylinx/visionbridge/internal/registry"
	"github.com/traylinx/visionbridge/internal/upstream"
)

// Server is the HTTP front end for the bridge pipeline.
type Server struct {
	engine *gin.Engine
	httpd  *http.Server

	orch           *bridge.Orchestrator
	registry       *registry.CapabilityRegistry
	breakers       *upstream.BreakerGroup
	requestTimeout time.Duration
}

// NewServer wires the HTTP surface around an orchestrator.
func NewServer(orch *bridge.Orchestrator, reg *registry.CapabilityRegistry, breakers *upstream.BreakerGroup, requestTimeout time.Duration, debug bool) *Server {
	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		engine:         gin.New(),
		orch:           orch,
		registry:       reg,
		breakers:       breakers,
		requestTimeout: requestTimeout,
	}
	s.engine.Use(gin.Recovery())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/health", s.handleHealth)
	v1 := s.engine.Group("/v1")
	v1.GET("/models", s.handleModels)
	v1.GET("/breakers", s.handleBreakers)
	v1.POST("/tools/:tool", s.handleTool)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, host string, port int) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	s.httpd = &http.Server{Addr: addr, Handler: s.engine}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("visionbridge %s listening on %s", buildinfo.Version, addr)
		if err := s.httpd.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpd.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// Copyright 2026 The visionbridge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"

	"github.com/traylinx/visionbridge/internal/bridge"
	"github.com/traylinx/visionbridge/internal/buildinfo"
	"github.com/traylinx/visionbridge/internal/imaging"
	"github.com/traylinx/visionbridge/internal/router"
	"github.com/traylinx/visionbridge/internal/transform"
	"github.com/traylinx/visionbridge/internal/upstream"
)

// toolRequest is the wire form of a tool call: the pipeline arguments plus
// the transport-level stream flag.
type toolRequest struct {
	bridge.Arguments
	Stream bool `json:"stream,omitempty"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": buildinfo.Version,
		"commit":  buildinfo.Commit,
	})
}

func (s *Server) handleModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": s.registry.All()})
}

func (s *Server) handleBreakers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"breakers": s.breakers.Snapshot()})
}

func (s *Server) handleTool(c *gin.Context) {
	var req toolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	inv := &bridge.ToolInvocation{
		ToolName:  c.Param("tool"),
		Arguments: req.Arguments,
	}

	ctx := c.Request.Context()
	if s.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.requestTimeout)
		defer cancel()
	}

	if req.Stream {
		s.streamTool(ctx, c, inv)
		return
	}

	resp, err := s.orch.Handle(ctx, inv)
	if err != nil {
		status, message := classifyPipelineError(err)
		writeError(c, status, message)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// streamTool relays partial responses as server-sent events, ending with
// the final response and a [DONE] sentinel.
func (s *Server) streamTool(ctx context.Context, c *gin.Context, inv *bridge.ToolInvocation) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	flusher, canFlush := c.Writer.(http.Flusher)
	emit := func(resp *transform.BridgeResponse) {
		payload, err := json.Marshal(resp)
		if err != nil {
			log.Debugf("api: marshaling stream event: %v", err)
			return
		}
		c.Writer.Write([]byte("data: "))
		c.Writer.Write(payload)
		c.Writer.Write([]byte("\n\n"))
		if canFlush {
			flusher.Flush()
		}
	}

	final, err := s.orch.HandleStream(ctx, inv, emit)
	if err != nil {
		// Headers are already out; surface the failure as an error event.
		status, message := classifyPipelineError(err)
		payload, _ := json.Marshal(gin.H{"error": gin.H{"message": message, "status": status}})
		c.Writer.Write([]byte("data: "))
		c.Writer.Write(payload)
		c.Writer.Write([]byte("\n\n"))
	} else {
		emit(final)
	}
	c.Writer.Write([]byte("data: [DONE]\n\n"))
	if canFlush {
		flusher.Flush()
	}
}

// classifyPipelineError maps a pipeline failure onto an HTTP status.
func classifyPipelineError(err error) (int, string) {
	if errors.Is(err, bridge.ErrUnknownTool) {
		return http.StatusNotFound, err.Error()
	}
	if errors.Is(err, router.ErrNoCandidates) {
		return http.StatusBadGateway, err.Error()
	}
	if errors.Is(err, upstream.ErrBreakerOpen) {
		return http.StatusServiceUnavailable, err.Error()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, err.Error()
	}

	switch imaging.KindOf(err) {
	case imaging.FailureInvalidInput, imaging.FailureTooLarge, imaging.FailureUnsupportedFormat, imaging.FailureDecode:
		return http.StatusBadRequest, err.Error()
	case imaging.FailureNotFound, imaging.FailureForbidden, imaging.FailureUnreachable:
		return http.StatusUnprocessableEntity, err.Error()
	}

	var ue *upstream.UpstreamError
	if errors.As(err, &ue) {
		switch ue.Kind {
		case upstream.KindRateLimited:
			return http.StatusTooManyRequests, ue.Message
		case upstream.KindAuth, upstream.KindForbidden:
			// Provider-side credential problems are a deployment issue,
			// not a caller one.
			return http.StatusBadGateway, ue.Message
		default:
			return http.StatusBadGateway, ue.Message
		}
	}

	var pe *bridge.PipelineError
	if errors.As(err, &pe) && pe.Stage == bridge.StageNormalizing {
		return http.StatusBadRequest, err.Error()
	}
	return http.StatusInternalServerError, err.Error()
}

func writeError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": gin.H{"message": message, "status": status}})
}

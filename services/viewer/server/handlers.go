// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/livegraph/pkg/logging"
	"github.com/AleutianAI/livegraph/services/viewer/backend"
	"github.com/AleutianAI/livegraph/services/viewer/graph"
	"github.com/AleutianAI/livegraph/services/viewer/interaction"
	"github.com/AleutianAI/livegraph/services/viewer/observability"
	"github.com/AleutianAI/livegraph/services/viewer/selection"
	"github.com/AleutianAI/livegraph/services/viewer/session"
	"github.com/AleutianAI/livegraph/services/viewer/visualization"
)

// Handlers contains the HTTP handlers of the viewer.
type Handlers struct {
	cfg      Config
	sess     *session.Session
	logger   *logging.Logger
	metrics  *observability.ViewerMetrics
	ictl     interaction.Config
	upgrader websocket.Upgrader
}

// HandleHealth handles GET /v1/viewer/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Version: ServiceVersion})
}

// HandleGetSession handles GET /v1/viewer/session.
//
// Response:
//
//	200 OK: SessionResponse
func (h *Handlers) HandleGetSession(c *gin.Context) {
	c.JSON(http.StatusOK, sessionResponse(h.sess.View()))
}

// HandleOpen handles POST /v1/viewer/session.
//
// Description:
//
//	Tears down the current session and starts viewing another analysis.
//
// Response:
//
//	200 OK: SessionResponse
//	400 Bad Request: Missing session id
//	502 Bad Gateway: The stream could not be started
func (h *Handlers) HandleOpen(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleOpen")

	var req OpenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Code: "INVALID_REQUEST"})
		return
	}

	if err := h.sess.Open(c.Request.Context(), req.SessionID); err != nil {
		status, code := http.StatusBadGateway, "OPEN_FAILED"
		if errors.Is(err, session.ErrEmptySessionID) {
			status, code = http.StatusBadRequest, "INVALID_REQUEST"
		}
		logger.Error("Open failed", "session_id", req.SessionID, "error", err)
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	logger.Info("Session opened", "session_id", req.SessionID)
	c.JSON(http.StatusOK, sessionResponse(h.sess.View()))
}

// HandleSubmit handles POST /v1/viewer/submit.
//
// Response:
//
//	200 OK: SessionResponse
//	400 Bad Request: Invalid URL
//	422 Unprocessable Entity: The backend rejected the repository
//	502 Bad Gateway: The backend could not be reached
func (h *Handlers) HandleSubmit(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleSubmit")

	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Code: "INVALID_REQUEST"})
		return
	}

	id, err := h.sess.Submit(c.Request.Context(), req.URL, req.Branch)
	if err != nil {
		status, code := http.StatusBadGateway, "BACKEND_UNAVAILABLE"
		if errors.Is(err, backend.ErrInvalidRequest) {
			status, code = http.StatusUnprocessableEntity, "REJECTED"
		}
		logger.Error("Submit failed", "url", req.URL, "error", err)
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	logger.Info("Analysis submitted", "session_id", id, "url", req.URL)
	c.JSON(http.StatusOK, sessionResponse(h.sess.View()))
}

// HandleClose handles DELETE /v1/viewer/session.
func (h *Handlers) HandleClose(c *gin.Context) {
	h.sess.Close()
	c.Status(http.StatusNoContent)
}

// HandleRetry handles POST /v1/viewer/session/retry.
//
// Response:
//
//	200 OK: SessionResponse
//	409 Conflict: No session was ever opened
//	502 Bad Gateway: The stream could not be started
func (h *Handlers) HandleRetry(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleRetry")

	if err := h.sess.Retry(c.Request.Context()); err != nil {
		status, code := http.StatusBadGateway, "OPEN_FAILED"
		if errors.Is(err, session.ErrNoSession) {
			status, code = http.StatusConflict, "NO_SESSION"
		}
		logger.Warn("Retry failed", "error", err)
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}
	c.JSON(http.StatusOK, sessionResponse(h.sess.View()))
}

// HandleLevel handles PUT /v1/viewer/level.
func (h *Handlers) HandleLevel(c *gin.Context) {
	var req LevelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "level must be 1, 2 or 3", Code: "INVALID_LEVEL"})
		return
	}
	level, err := graph.ParseDetailLevel(req.Level)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_LEVEL"})
		return
	}
	h.sess.SetDetailLevel(level)
	c.JSON(http.StatusOK, sessionResponse(h.sess.View()))
}

// HandleSelect handles POST /v1/viewer/select.
//
// Response:
//
//	200 OK: SessionResponse
//	404 Not Found: The node is not in the current layout
func (h *Handlers) HandleSelect(c *gin.Context) {
	var req SelectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Code: "INVALID_REQUEST"})
		return
	}
	if req.NodeID == "" {
		h.sess.Selection().Clear()
		c.JSON(http.StatusOK, sessionResponse(h.sess.View()))
		return
	}
	n, ok := h.sess.Layout().Lookup(req.NodeID)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "node not in layout: " + req.NodeID, Code: "NODE_NOT_FOUND"})
		return
	}
	h.sess.Selection().Select(selection.FromNode(n))
	c.JSON(http.StatusOK, sessionResponse(h.sess.View()))
}

// HandleFrame handles GET /v1/viewer/frame.
func (h *Handlers) HandleFrame(c *gin.Context) {
	c.JSON(http.StatusOK, h.currentFrame())
}

// HandleExport handles GET /v1/viewer/export?format=svg.
//
// Response:
//
//	200 OK: The rendered frame
//	400 Bad Request: Unknown format
func (h *Handlers) HandleExport(c *gin.Context) {
	format, err := visualization.ParseFormat(c.DefaultQuery("format", "svg"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_FORMAT"})
		return
	}
	frame := h.currentFrame()
	out, err := visualization.NewGraphGenerator(nil).Generate(c.Request.Context(), &frame, format)
	if err != nil {
		h.logger.Error("Export failed", "format", string(format), "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "EXPORT_FAILED"})
		return
	}
	c.Data(http.StatusOK, contentType(format), []byte(out))
}

func contentType(f visualization.OutputFormat) string {
	switch f {
	case visualization.FormatSVG:
		return "image/svg+xml"
	case visualization.FormatD3:
		return "application/json"
	case visualization.FormatHTML:
		return "text/html; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}

// getOrCreateRequestID gets or creates a request ID.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}

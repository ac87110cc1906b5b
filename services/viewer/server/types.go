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
	"github.com/AleutianAI/livegraph/services/viewer/datatypes"
	"github.com/AleutianAI/livegraph/services/viewer/graph"
	"github.com/AleutianAI/livegraph/services/viewer/interaction"
	"github.com/AleutianAI/livegraph/services/viewer/layout"
	"github.com/AleutianAI/livegraph/services/viewer/selection"
	"github.com/AleutianAI/livegraph/services/viewer/session"
)

// =============================================================================
// Requests
// =============================================================================

// OpenRequest is the body of POST /v1/viewer/session.
type OpenRequest struct {
	// SessionID is the analysis id returned by the backend.
	SessionID string `json:"session_id" binding:"required"`
}

// SubmitRequest is the body of POST /v1/viewer/submit.
type SubmitRequest struct {
	// URL is the repository to analyze.
	URL string `json:"url" binding:"required,url"`

	// Branch is optional; the backend picks the default branch.
	Branch string `json:"branch,omitempty"`
}

// LevelRequest is the body of PUT /v1/viewer/level.
type LevelRequest struct {
	Level int `json:"level" binding:"required,min=1,max=3"`
}

// SelectRequest is the body of POST /v1/viewer/select. An empty NodeID
// clears the selection.
type SelectRequest struct {
	NodeID string `json:"node_id"`
}

// =============================================================================
// Responses
// =============================================================================

// ErrorResponse is returned for every failed request.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine-readable code.
	Code string `json:"code,omitempty"`
}

// HealthResponse is returned by GET /v1/viewer/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ConnectionView is the JSON form of the stream connection state.
type ConnectionView struct {
	Phase   string `json:"phase"`
	Attempt int    `json:"attempt,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SessionResponse is the JSON form of session.View.
type SessionResponse struct {
	SessionID   string                 `json:"session_id"`
	Status      string                 `json:"status,omitempty"`
	Progress    float64                `json:"progress"`
	Message     string                 `json:"message,omitempty"`
	CurrentFile string                 `json:"current_file,omitempty"`
	Source      string                 `json:"source,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Connection  ConnectionView         `json:"connection"`
	Level       graph.DetailLevel      `json:"detail_level"`
	Selection   *selection.Selection   `json:"selection,omitempty"`
	Details     *datatypes.NodeDetails `json:"details,omitempty"`
	Nodes       int                    `json:"nodes"`
	Edges       int                    `json:"edges"`
}

func sessionResponse(v session.View) SessionResponse {
	resp := SessionResponse{
		SessionID: v.SessionID,
		Source:    string(v.Status.Source),
		Connection: ConnectionView{
			Phase:   v.Connection.Phase.String(),
			Attempt: v.Connection.Attempt,
		},
		Level:     v.Level,
		Selection: v.Selection,
		Details:   v.Details,
		Nodes:     v.Nodes,
		Edges:     v.Edges,
	}
	if v.Connection.Err != nil {
		resp.Connection.Error = v.Connection.Err.Error()
	}
	if s := v.Status.Snapshot; s != nil {
		resp.Status = string(s.Status)
		resp.Progress = s.Progress
		resp.Message = s.Message
		resp.CurrentFile = s.CurrentFile
	}
	if err := v.Err(); err != nil {
		resp.Error = err.Error()
	}
	return resp
}

// =============================================================================
// Stream Messages
// =============================================================================

// Stream message types sent by the server.
const (
	MessageFrame   = "frame"
	MessageSession = "session"
	MessageAction  = "action"
)

// StreamMessage is one server-to-browser message.
type StreamMessage struct {
	Type      string                 `json:"type"`
	Frame     *layout.Frame          `json:"frame,omitempty"`
	Transform *interaction.Transform `json:"transform,omitempty"`
	Session   *SessionResponse       `json:"session,omitempty"`
	Action    interaction.Action     `json:"action,omitempty"`
}

// ClientMessage is one browser-to-server message: a pointer event, or a
// viewport resize when Type is "resize".
type ClientMessage struct {
	Type string `json:"type"`
	interaction.PointerEvent

	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`
}

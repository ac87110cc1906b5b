// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package backend is the HTTP client for the repository analysis backend.
//
// The backend exposes:
//
//	POST /api/repo                       submit {url, branch} -> {id, status}
//	GET  /api/repo/{id}                  analysis snapshot, 404 when unknown
//	GET  /api/repo/{id}/graph?level=N    flat graph, 400 until completed
//	GET  /api/repo/{id}/node/{node_id}   node details
//	WS   /api/repo/{id}/stream           pushed snapshots
//
// Error bodies follow the {"detail": "..."} convention and are surfaced in
// *HTTPError. Use errors.Is with the sentinels below to classify them.
package backend

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound means the backend does not know the analysis or node.
	ErrNotFound = errors.New("not found")

	// ErrNotReady means the analysis has not completed yet.
	ErrNotReady = errors.New("analysis not completed")

	// ErrInvalidRequest means a request failed client-side validation.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrProtocol means the backend answered with a body that could not be
	// decoded or failed validation.
	ErrProtocol = errors.New("protocol error")

	// ErrEmptyID is returned when an analysis id is empty.
	ErrEmptyID = errors.New("analysis id must not be empty")
)

// HTTPError is a non-2xx response from the backend.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Detail     string
}

// Error implements error.
func (e *HTTPError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode), e.Detail)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
}

// Unwrap maps well-known status codes onto the package sentinels.
func (e *HTTPError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusBadRequest:
		if e.Method == http.MethodGet {
			return ErrNotReady
		}
		return ErrInvalidRequest
	case http.StatusUnprocessableEntity:
		return ErrInvalidRequest
	}
	return nil
}

// Temporary reports whether retrying the same request may succeed.
func (e *HTTPError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package triage

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianTriage/services/triage/artifacts"
)

// ErrorResponse is the JSON error body for all status endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Handlers serves the read-only status surface of a running session.
//
// # Description
//
// The controller owns the session; these handlers only observe it. The
// artifact lookups read whatever the store holds at request time, so the
// surface works mid-iteration and after the session ends.
//
// # Thread Safety
//
// Safe for concurrent use. Session access goes through Snapshot and the
// artifact store is safe for concurrent reads.
type Handlers struct {
	store   *artifacts.Store
	session *Session
}

// NewHandlers wires the status handlers.
//
// Inputs:
//   - store: Artifact store shared with the controller.
//   - session: Session state shared with the controller.
func NewHandlers(store *artifacts.Store, session *Session) *Handlers {
	return &Handlers{store: store, session: session}
}

// getOrCreateRequestID returns the inbound X-Request-ID or mints one.
func getOrCreateRequestID(c *gin.Context) string {
	if id := c.GetHeader("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}

// HandleHealth handles GET /v1/triage/health.
//
// Response:
//
//	200 OK: {"status": "ok"}
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleStatus handles GET /v1/triage/status.
//
// Description:
//
//	Returns a snapshot of the running session: phase, iteration and
//	artifact counters, last human action, and token budget state.
//
// Response:
//
//	200 OK: SessionSnapshot
func (h *Handlers) HandleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.session.Snapshot())
}

// HandleLatestHint handles GET /v1/triage/hint.
//
// Response:
//
//	200 OK: {"path": ..., "hint": Hint}
//	404 Not Found: No hint produced yet
//	500 Internal Server Error: Artifact store failure
func (h *Handlers) HandleLatestHint(c *gin.Context) {
	requestID := getOrCreateRequestID(c)

	hint, path, err := h.store.LatestHint(c.Request.Context())
	if err != nil {
		if errors.Is(err, artifacts.ErrNoArtifacts) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error: "no hint produced yet",
				Code:  "NO_HINT",
			})
			return
		}
		slog.Error("latest hint lookup failed",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "failed to load latest hint",
			Code:  "ARTIFACT_READ_FAILED",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"path": path, "hint": hint})
}

// HandleLatestFix handles GET /v1/triage/fix.
//
// Response:
//
//	200 OK: {"path": ..., "fix": Fix}
//	404 Not Found: No fix produced yet
//	500 Internal Server Error: Artifact store failure
func (h *Handlers) HandleLatestFix(c *gin.Context) {
	requestID := getOrCreateRequestID(c)

	fix, path, err := h.store.LatestFix(c.Request.Context())
	if err != nil {
		if errors.Is(err, artifacts.ErrNoArtifacts) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error: "no fix produced yet",
				Code:  "NO_FIX",
			})
			return
		}
		slog.Error("latest fix lookup failed",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "failed to load latest fix",
			Code:  "ARTIFACT_READ_FAILED",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"path": path, "fix": fix})
}

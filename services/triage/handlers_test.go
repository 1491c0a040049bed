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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianTriage/services/llm/egress"
	"github.com/AleutianAI/AleutianTriage/services/triage/artifacts"
)

func newStatusRouter(t *testing.T) (*gin.Engine, *artifacts.Store, *Session) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := newTestStore(t)
	session := NewSession(egress.NewTokenBudget("TRIAGE", 1000))

	router := gin.New()
	RegisterRoutes(router.Group("/v1"), NewHandlers(store, session))
	return router, store, session
}

func doGet(router *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	router.ServeHTTP(w, req)
	return w
}

func TestHandleHealth(t *testing.T) {
	router, _, _ := newStatusRouter(t)

	w := doGet(router, "/v1/triage/health")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestHandleStatus(t *testing.T) {
	router, _, session := newStatusRouter(t)
	session.BeginIteration()
	session.SetPhase(PhaseDiagnosing)

	w := doGet(router, "/v1/triage/status")
	require.Equal(t, http.StatusOK, w.Code)

	var snap SessionSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, session.ID, snap.ID)
	assert.Equal(t, PhaseDiagnosing, snap.Phase)
	assert.Equal(t, 1, snap.Iterations)
}

func TestHandleLatestHint(t *testing.T) {
	router, store, _ := newStatusRouter(t)

	w := doGet(router, "/v1/triage/hint")
	require.Equal(t, http.StatusNotFound, w.Code)
	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
	assert.Equal(t, "NO_HINT", errResp.Code)

	hint := &artifacts.Hint{
		Cause: "off-by-one in pagination",
		Hints: []artifacts.HintEntry{{Description: "loop bound", File: "page.go", Function: "slice"}},
	}
	_, err := store.SaveHint(context.Background(), hint)
	require.NoError(t, err)

	w = doGet(router, "/v1/triage/hint")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Path string          `json:"path"`
		Hint *artifacts.Hint `json:"hint"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Path)
	require.NotNil(t, body.Hint)
	assert.Equal(t, "off-by-one in pagination", body.Hint.Cause)
}

func TestHandleLatestFix(t *testing.T) {
	router, store, _ := newStatusRouter(t)

	w := doGet(router, "/v1/triage/fix")
	require.Equal(t, http.StatusNotFound, w.Code)
	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
	assert.Equal(t, "NO_FIX", errResp.Code)

	fix := &artifacts.Fix{
		FunctionsToEdit: []string{"page.go:slice"},
		Reason:          "use exclusive upper bound",
		PatchSuggestion: "-for i := 0; i <= n; i++ {\n+for i := 0; i < n; i++ {",
	}
	_, err := store.SaveFix(context.Background(), fix)
	require.NoError(t, err)

	w = doGet(router, "/v1/triage/fix")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Path string         `json:"path"`
		Fix  *artifacts.Fix `json:"fix"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Path)
	require.NotNil(t, body.Fix)
	assert.Equal(t, []string{"page.go:slice"}, body.Fix.FunctionsToEdit)
}

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
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers the triage status routes with the router.
//
// Description:
//
//	Registers all /v1/triage/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//	Every endpoint is read-only; session control stays on the messenger.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Endpoints:
//
//	GET /v1/triage/health - Health check
//	GET /v1/triage/status - Session snapshot
//	GET /v1/triage/hint - Latest diagnostic hint
//	GET /v1/triage/fix - Latest fix proposal
//
// Example:
//
//	handlers := triage.NewHandlers(store, session)
//
//	v1 := router.Group("/v1")
//	triage.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	triage := rg.Group("/triage")
	{
		triage.GET("/health", handlers.HandleHealth)
		triage.GET("/status", handlers.HandleStatus)

		// Latest artifacts
		triage.GET("/hint", handlers.HandleLatestHint)
		triage.GET("/fix", handlers.HandleLatestFix)
	}
}

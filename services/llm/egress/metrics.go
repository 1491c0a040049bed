// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package egress

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for Oracle Egress
// =============================================================================

var (
	// oracleCallsTotal counts oracle call attempts by provider and status.
	// Labels: provider (gemini), status (allowed, blocked, error)
	oracleCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "triage",
		Subsystem: "oracle",
		Name:      "calls_total",
		Help:      "Total oracle call attempts by provider and status",
	}, []string{"provider", "status"})

	// oracleTokensTotal counts tokens sent/received by provider and direction.
	// Labels: provider, direction (input, output)
	oracleTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "triage",
		Subsystem: "oracle",
		Name:      "tokens_total",
		Help:      "Total tokens by provider and direction",
	}, []string{"provider", "direction"})

	// oracleBlockedTotal counts blocked oracle attempts by provider and blocker.
	// Labels: provider, blocked_by (rate_limit, budget)
	oracleBlockedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "triage",
		Subsystem: "oracle",
		Name:      "blocked_total",
		Help:      "Total blocked oracle attempts by provider and blocking component",
	}, []string{"provider", "blocked_by"})

	// oracleLatencySeconds measures end-to-end oracle latency (including guard checks).
	// Labels: provider
	oracleLatencySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "triage",
		Subsystem: "oracle",
		Name:      "latency_seconds",
		Help:      "End-to-end oracle latency including guard checks",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"provider"})
)

// RecordOracleAllowed records a successful oracle call.
//
// Inputs:
//   - provider: The provider name.
//   - inputTokens: Number of input tokens sent.
//   - outputTokens: Number of output tokens received.
//   - durationSec: Call duration in seconds.
func RecordOracleAllowed(provider string, inputTokens, outputTokens int, durationSec float64) {
	oracleCallsTotal.WithLabelValues(provider, "allowed").Inc()
	oracleTokensTotal.WithLabelValues(provider, "input").Add(float64(inputTokens))
	oracleTokensTotal.WithLabelValues(provider, "output").Add(float64(outputTokens))
	oracleLatencySeconds.WithLabelValues(provider).Observe(durationSec)
}

// RecordOracleBlocked records a blocked oracle attempt.
//
// Inputs:
//   - provider: The provider name.
//   - blockedBy: The component that blocked the request ("rate_limit", "budget").
func RecordOracleBlocked(provider, blockedBy string) {
	oracleCallsTotal.WithLabelValues(provider, "blocked").Inc()
	oracleBlockedTotal.WithLabelValues(provider, blockedBy).Inc()
}

// RecordOracleError records a failed oracle call.
//
// Inputs:
//   - provider: The provider name.
//   - durationSec: Call duration in seconds.
func RecordOracleError(provider string, durationSec float64) {
	oracleCallsTotal.WithLabelValues(provider, "error").Inc()
	oracleLatencySeconds.WithLabelValues(provider).Observe(durationSec)
}

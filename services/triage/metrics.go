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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for Triage Sessions
// =============================================================================

var (
	// testRunsTotal counts test executions by outcome.
	// Labels: outcome (passed, failed, timeout, error)
	testRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "triage",
		Subsystem: "session",
		Name:      "test_runs_total",
		Help:      "Total test executions by outcome",
	}, []string{"outcome"})

	// loopOutcomesTotal counts conversation loop terminations by loop and outcome.
	// Labels: loop (diagnose, repair), outcome (final, best_effort, degraded, aborted)
	loopOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "triage",
		Subsystem: "loop",
		Name:      "outcomes_total",
		Help:      "Total conversation loop terminations by loop and outcome",
	}, []string{"loop", "outcome"})

	// toolInvocationsTotal counts tool dispatches by tool and outcome.
	// Labels: tool, outcome (ok, error, duplicate, limit, miss)
	toolInvocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "triage",
		Subsystem: "loop",
		Name:      "tool_invocations_total",
		Help:      "Total tool dispatches by tool and outcome",
	}, []string{"tool", "outcome"})

	// humanActionsTotal counts operator decisions by action.
	// Labels: action (rerun, fix_and_rerun, suggest, terminate)
	humanActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "triage",
		Subsystem: "session",
		Name:      "human_actions_total",
		Help:      "Total operator decisions by action",
	}, []string{"action"})

	// patchApplicationsTotal counts patch attempts by outcome.
	// Labels: outcome (applied, partial, no_hunks, missing_target, error)
	patchApplicationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "triage",
		Subsystem: "patch",
		Name:      "applications_total",
		Help:      "Total patch attempts by outcome",
	}, []string{"outcome"})

	// patchHunksTotal counts individual hunks by result.
	// Labels: result (applied, unmatched)
	patchHunksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "triage",
		Subsystem: "patch",
		Name:      "hunks_total",
		Help:      "Total patch hunks by result",
	}, []string{"result"})

	// iterationDurationSeconds measures one full triage iteration: test
	// run, diagnosis, repair, and report.
	iterationDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "triage",
		Subsystem: "session",
		Name:      "iteration_duration_seconds",
		Help:      "Duration of one full triage iteration",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	})
)

// RecordTestRun records one test execution.
//
// Inputs:
//   - outcome: "passed", "failed", "timeout", or "error".
func RecordTestRun(outcome string) {
	testRunsTotal.WithLabelValues(outcome).Inc()
}

// RecordLoopOutcome records how a conversation loop terminated.
//
// Inputs:
//   - loop: "diagnose" or "repair".
//   - outcome: "final", "best_effort", "degraded", or "aborted".
func RecordLoopOutcome(loop, outcome string) {
	loopOutcomesTotal.WithLabelValues(loop, outcome).Inc()
}

// RecordToolInvocation records one tool dispatch.
//
// Inputs:
//   - tool: The action name ("run_tree", "read_file", ...).
//   - outcome: "ok", "error", "duplicate", "limit", or "miss".
func RecordToolInvocation(tool, outcome string) {
	toolInvocationsTotal.WithLabelValues(tool, outcome).Inc()
}

// RecordHumanAction records one operator decision.
func RecordHumanAction(action string) {
	humanActionsTotal.WithLabelValues(action).Inc()
}

// RecordPatchResult records one patch attempt plus its per-hunk tallies.
//
// Inputs:
//   - outcome: "applied", "partial", "no_hunks", "missing_target", or "error".
//   - applied: Number of hunks that applied.
//   - unmatched: Number of hunks whose context never matched.
func RecordPatchResult(outcome string, applied, unmatched int) {
	patchApplicationsTotal.WithLabelValues(outcome).Inc()
	patchHunksTotal.WithLabelValues("applied").Add(float64(applied))
	patchHunksTotal.WithLabelValues("unmatched").Add(float64(unmatched))
}

// RecordIterationDuration records one full triage iteration's wall time.
func RecordIterationDuration(durationSec float64) {
	iterationDurationSeconds.Observe(durationSec)
}

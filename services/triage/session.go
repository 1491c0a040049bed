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
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianTriage/services/llm/egress"
)

// Session phases, surfaced through the status endpoint.
const (
	PhaseIdle          = "idle"
	PhaseRunningTests  = "running_tests"
	PhaseDiagnosing    = "diagnosing"
	PhaseRepairing     = "repairing"
	PhaseAwaitingHuman = "awaiting_human"
	PhaseApplyingFix   = "applying_fix"
	PhaseEnded         = "ended"
)

// Session tracks one triage session's identity, token budget, and
// progress counters.
//
// # Description
//
// All conversation loops of a session draw from the same token budget;
// when it runs out the controller finishes the current pass and refuses
// to start another. Counters exist for the status surface, not for
// control flow.
//
// # Thread Safety
//
// Safe for concurrent use. The controller mutates, the status handler
// reads snapshots.
type Session struct {
	// ID identifies the session in logs, metrics, and artifact records.
	ID string

	// StartedAt is the session start time.
	StartedAt time.Time

	// Budget is the shared token budget, also enforced by the egress
	// guard on every oracle call.
	Budget *egress.TokenBudget

	mu            sync.Mutex
	phase         string
	iterations    int
	testRuns      int
	testFailures  int
	hintsProduced int
	fixesProposed int
	fixesApplied  int
	lastAction    string
	endReason     string
}

// SessionSnapshot is a point-in-time copy of the session state, shaped
// for the status endpoint.
type SessionSnapshot struct {
	ID              string    `json:"session_id"`
	StartedAt       time.Time `json:"started_at"`
	UptimeSeconds   int64     `json:"uptime_seconds"`
	Phase           string    `json:"phase"`
	Iterations      int       `json:"iterations"`
	TestRuns        int       `json:"test_runs"`
	TestFailures    int       `json:"test_failures"`
	HintsProduced   int       `json:"hints_produced"`
	FixesProposed   int       `json:"fixes_proposed"`
	FixesApplied    int       `json:"fixes_applied"`
	LastAction      string    `json:"last_action,omitempty"`
	EndReason       string    `json:"end_reason,omitempty"`
	TokensRemaining int       `json:"tokens_remaining"`
	TokenBudget     string    `json:"token_budget"`
}

// NewSession creates a session drawing from the given token budget.
func NewSession(budget *egress.TokenBudget) *Session {
	return &Session{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		Budget:    budget,
		phase:     PhaseIdle,
	}
}

// SetPhase moves the session to a new phase.
func (s *Session) SetPhase(phase string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = phase
}

// BeginIteration counts a new triage iteration and returns its ordinal,
// starting at 1.
func (s *Session) BeginIteration() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.iterations++
	return s.iterations
}

// RecordTest counts one test run and whether it failed.
func (s *Session) RecordTest(failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.testRuns++
	if failed {
		s.testFailures++
	}
}

// RecordHint counts one persisted diagnostic hint.
func (s *Session) RecordHint() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hintsProduced++
}

// RecordFix counts one persisted fix proposal.
func (s *Session) RecordFix() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fixesProposed++
}

// RecordApplied counts one patch that reached the working tree.
func (s *Session) RecordApplied() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fixesApplied++
}

// RecordAction remembers the most recent human decision.
func (s *Session) RecordAction(action string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAction = action
}

// End moves the session to its terminal phase with a reason
// ("terminated", "budget_exhausted", "error").
func (s *Session) End(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseEnded
	s.endReason = reason
}

// Ended reports whether the session reached its terminal phase.
func (s *Session) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase == PhaseEnded
}

// Snapshot returns a copy of the current session state.
func (s *Session) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionSnapshot{
		ID:              s.ID,
		StartedAt:       s.StartedAt,
		UptimeSeconds:   int64(time.Since(s.StartedAt).Seconds()),
		Phase:           s.phase,
		Iterations:      s.iterations,
		TestRuns:        s.testRuns,
		TestFailures:    s.testFailures,
		HintsProduced:   s.hintsProduced,
		FixesProposed:   s.fixesProposed,
		FixesApplied:    s.fixesApplied,
		LastAction:      s.lastAction,
		EndReason:       s.endReason,
		TokensRemaining: s.Budget.Remaining(),
		TokenBudget:     s.Budget.Summary(),
	}
}

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
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianTriage/services/llm"
)

func TestTokenBudget_Unlimited(t *testing.T) {
	budget := NewTokenBudget("TRIAGE", 0)

	ok, _ := budget.CanSpend(1_000_000)
	if !ok {
		t.Error("unlimited budget should always allow spending")
	}

	budget.Record(1_000_000)

	ok, _ = budget.CanSpend(1_000_000)
	if !ok {
		t.Error("unlimited budget should allow spending even after recording")
	}
	if budget.Exhausted() {
		t.Error("unlimited budget should never report exhaustion")
	}
}

func TestTokenBudget_WithinBudget(t *testing.T) {
	budget := NewTokenBudget("TRIAGE", 10000)

	ok, remaining := budget.CanSpend(5000)
	if !ok {
		t.Error("should fit within budget")
	}
	if remaining != 5000 {
		t.Errorf("remaining should be 5000, got %d", remaining)
	}
}

func TestTokenBudget_ExceedsBudget(t *testing.T) {
	budget := NewTokenBudget("TRIAGE", 10000)
	budget.Record(8000)

	ok, remaining := budget.CanSpend(5000)
	if ok {
		t.Error("should exceed budget")
	}
	if remaining != 2000 {
		t.Errorf("remaining should be 2000, got %d", remaining)
	}
}

func TestTokenBudget_Exhausted(t *testing.T) {
	budget := NewTokenBudget("TRIAGE", 10000)

	if budget.Exhausted() {
		t.Error("fresh budget should not be exhausted")
	}

	budget.Record(10000)
	if !budget.Exhausted() {
		t.Error("budget at its limit should be exhausted")
	}
	if budget.Remaining() != 0 {
		t.Errorf("remaining should be 0, got %d", budget.Remaining())
	}
}

func TestTokenBudget_Summary(t *testing.T) {
	t.Run("unlimited", func(t *testing.T) {
		budget := NewTokenBudget("TRIAGE", 0)
		budget.Record(5000)
		summary := budget.Summary()
		if !strings.Contains(summary, "unlimited") {
			t.Errorf("summary should mention unlimited, got: %s", summary)
		}
	})

	t.Run("limited", func(t *testing.T) {
		budget := NewTokenBudget("TRIAGE", 250000)
		budget.Record(5000)
		summary := budget.Summary()
		if !strings.Contains(summary, "5000/250000") {
			t.Errorf("summary should show 5000/250000, got: %s", summary)
		}
	})
}

func TestEstimateTokens_NonEmpty(t *testing.T) {
	n := EstimateTokens("gemini-1.5-flash", "diagnose the failing test and name the root cause")
	if n <= 0 {
		t.Errorf("estimate should be positive, got %d", n)
	}
}

func TestEstimateMessages_IncludesOverhead(t *testing.T) {
	messages := []llm.Message{
		{Role: "system", Content: "triage"},
		{Role: "user", Content: "diagnose"},
	}
	perMessage := EstimateTokens("gemini-1.5-flash", "triage") + EstimateTokens("gemini-1.5-flash", "diagnose")

	total := EstimateMessages("gemini-1.5-flash", messages)
	if total != perMessage+2*messageOverheadTokens {
		t.Errorf("total = %d, want content %d plus overhead %d", total, perMessage, 2*messageOverheadTokens)
	}
}

func TestEstimateMessages_Empty(t *testing.T) {
	if got := EstimateMessages("gemini-1.5-flash", nil); got != 0 {
		t.Errorf("empty conversation estimate = %d, want 0", got)
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package patch applies oracle-proposed fixes to source files as plain text.
//
// # Description
//
// The engine is deliberately AST-free: it parses a free-form diff-like
// patch into hunks and matches each hunk against file content through three
// escalating tiers (exact substring, whitespace-normalized window,
// single-line). Whatever the tiers produce is the result; no syntax
// validation happens here. The test rerun is the validator.
package patch

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
)

var (
	// ErrNoHunksApplied means every hunk failed to match.
	ErrNoHunksApplied = errors.New("patch: no hunks applied")

	// ErrTargetFileMissing means the fix names a file that does not exist.
	ErrTargetFileMissing = errors.New("patch: target file missing")
)

// Result reports one application pass.
type Result struct {
	// Content is the (possibly) mutated file text.
	Content string

	// Applied counts hunks that matched at some tier.
	Applied int

	// Total counts all parsed hunks, including rejected insertions.
	Total int

	// Success is true when at least one hunk applied.
	Success bool
}

// Apply runs every hunk of patchText against content.
//
// # Description
//
// Hunks apply in parse order, each against the content as mutated by its
// predecessors, and independently: one hunk failing does not stop the
// rest. Per hunk the tiers run in order (exact, window, single-line); a
// hunk with no old lines is a pure insertion and is rejected outright.
//
// Pure transform: no filesystem access, the caller persists Content.
func Apply(patchText, content string) Result {
	res := Result{Content: content}
	hunks := ParsePatch(patchText)
	res.Total = len(hunks)

	for _, h := range hunks {
		if len(h.OldLines) == 0 {
			continue
		}
		if updated, ok := applyExact(res.Content, h); ok {
			res.Content, res.Applied = updated, res.Applied+1
			continue
		}
		if updated, ok := applyWindow(res.Content, h); ok {
			res.Content, res.Applied = updated, res.Applied+1
			continue
		}
		if updated, ok := applySingleLine(res.Content, h); ok {
			res.Content, res.Applied = updated, res.Applied+1
		}
	}

	res.Success = res.Applied > 0
	return res
}

// ApplyToFile reads path, applies patchText, and writes the result back.
//
// Outputs:
//   - Result: Counts and mutated content, also on failure.
//   - error: ErrTargetFileMissing, ErrNoHunksApplied, or an IO error. The
//     file is only written when at least one hunk applied.
func ApplyToFile(path, patchText string) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{}, fmt.Errorf("patch: %s: %w", path, ErrTargetFileMissing)
		}
		return Result{}, fmt.Errorf("patch: reading %s: %w", path, err)
	}

	res := Apply(patchText, string(data))
	if !res.Success {
		return res, fmt.Errorf("patch: %s: %w", path, ErrNoHunksApplied)
	}

	if err := os.WriteFile(path, []byte(res.Content), 0644); err != nil {
		return res, fmt.Errorf("patch: writing %s: %w", path, err)
	}

	slog.Info("patch: applied",
		slog.String("file", path),
		slog.Int("hunks_applied", res.Applied),
		slog.Int("hunks_total", res.Total),
	)
	return res, nil
}

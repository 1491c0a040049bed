// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package artifacts persists the triage session's diagnostic and repair
// records as timestamped JSON files.
//
// # Description
//
// Two record kinds accumulate under the artifact root: hints (hint_*.json,
// written by the diagnostic loop) and fixes (fix_*.json, written by the
// repair loop). Records are append-only; consumers always read the most
// recent file of a kind. Nothing here deletes old records, they are the
// session's audit trail.
package artifacts

import (
	"errors"
	"strings"
)

// CleanCause is the sentinel cause written when the diagnostic loop
// determines the test run had no failures. A hint carrying this cause
// always has an empty hint list.
const CleanCause = "[triage] CLEAN"

// ErrNoArtifacts is returned by the latest-record lookups when no file of
// the requested kind exists yet.
var ErrNoArtifacts = errors.New("artifacts: no records found")

// HintEntry is one candidate failure location inside a Hint.
type HintEntry struct {
	// Description says what is suspected to be wrong.
	Description string `json:"description"`

	// File is the suspect source file, when the oracle named one.
	File string `json:"file,omitempty"`

	// Function is the suspect function, when the oracle named one.
	Function string `json:"function,omitempty"`

	// Line is the suspect line number, when the oracle named one.
	Line int `json:"line,omitempty"`
}

// Hint is the diagnostic artifact: a probable failure cause plus an ordered
// list of candidate locations.
type Hint struct {
	// Path is the first referenced file, lifted out of Hints for consumers
	// that only want a single target.
	Path string `json:"path,omitempty"`

	// Cause is a short statement of the probable root cause.
	Cause string `json:"cause"`

	// Hints are candidate locations, most likely first.
	Hints []HintEntry `json:"hints"`
}

// Clean reports whether this hint is the no-failure sentinel.
func (h *Hint) Clean() bool {
	return h != nil && h.Cause == CleanCause
}

// Fix is the repair artifact: which functions to edit, why, and a raw
// diff-like patch suggestion.
type Fix struct {
	// FunctionsToEdit lists "file:function" targets, most important first.
	// The first entry determines the file the patch applies to.
	FunctionsToEdit []string `json:"functions_to_edit"`

	// Reason explains the fix in one or two sentences.
	Reason string `json:"reason"`

	// PatchSuggestion is raw diff-like text ("-old" / "+new" lines), not
	// a strict unified diff.
	PatchSuggestion string `json:"patch_suggestion"`
}

// TargetFile returns the file part of the first "file:function" entry that
// actually carries a colon, or "" when no entry names a file.
func (f *Fix) TargetFile() string {
	for _, ref := range f.FunctionsToEdit {
		if i := strings.Index(ref, ":"); i > 0 {
			return ref[:i]
		}
	}
	return ""
}

// DegradedFix records an oracle reply that never became valid JSON. It is
// written under the fix_ prefix so latest-fix consumers still surface its
// reason instead of finding nothing.
type DegradedFix struct {
	Type   string `json:"type"`
	Text   string `json:"text"`
	Reason string `json:"reason"`
}

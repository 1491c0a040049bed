// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package messaging

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/AleutianAI/AleutianTriage/services/triage/artifacts"
)

// diffMetadataPrefixes mark header lines that carry no code. They are
// skipped when a patch suggestion is split into current and suggested
// blocks. "---" must be checked before the removal branch, or a file
// header would be read as a removed "--" line.
var diffMetadataPrefixes = []string{"diff ", "index ", "@@", "---", "+++"}

// Summary is the human-facing digest of one triage pass: the diagnosed
// cause, the repair targets, and the patch suggestion rendered as
// current-versus-suggested code blocks.
type Summary struct {
	// Cause is the first line of the diagnosed root cause.
	Cause string

	// Functions lists the "file:function" targets named by the fix.
	Functions []string

	// Reason is the oracle's explanation of the fix.
	Reason string

	// CurrentBlock is the code as it stands, rebuilt from the removal
	// and context lines of the patch suggestion.
	CurrentBlock string

	// SuggestedBlock is the code after the fix, rebuilt from the
	// addition and context lines.
	SuggestedBlock string
}

// BuildSummary assembles a Summary from the newest hint and fix on disk.
func BuildSummary(ctx context.Context, store *artifacts.Store) (*Summary, error) {
	hint, _, err := store.LatestHint(ctx)
	if err != nil {
		return nil, fmt.Errorf("messaging: load hint: %w", err)
	}
	fix, _, err := store.LatestFix(ctx)
	if err != nil {
		return nil, fmt.Errorf("messaging: load fix: %w", err)
	}

	cause := hint.Cause
	if cause == "" {
		cause = "Unknown"
	}
	if i := strings.IndexByte(cause, '\n'); i >= 0 {
		cause = cause[:i]
	}

	reason := fix.Reason
	if reason == "" {
		reason = "No reason provided."
	}

	current, suggested := splitPatch(fix.PatchSuggestion)

	return &Summary{
		Cause:          cause,
		Functions:      fix.FunctionsToEdit,
		Reason:         reason,
		CurrentBlock:   current,
		SuggestedBlock: suggested,
	}, nil
}

// HTML renders the summary as a Telegram-flavored HTML message.
func (s *Summary) HTML() string {
	fnList := "<i>None</i>"
	if len(s.Functions) > 0 {
		lines := make([]string, len(s.Functions))
		for i, fn := range s.Functions {
			lines[i] = fmt.Sprintf("• <code>%s</code>", html.EscapeString(fn))
		}
		fnList = strings.Join(lines, "\n")
	}

	current := html.EscapeString(s.CurrentBlock)
	if current == "" {
		current = "(not available)"
	}
	suggested := html.EscapeString(s.SuggestedBlock)

	var b strings.Builder
	b.WriteString("<b>🚨 Bug Fix Summary</b>\n\n")
	fmt.Fprintf(&b, "<b>🧩 Hint:</b>\n%s\n\n", html.EscapeString(s.Cause))
	fmt.Fprintf(&b, "<b>📂 Functions to Edit:</b>\n%s\n\n", fnList)
	fmt.Fprintf(&b, "<b>💡 Reason:</b>\n%s\n\n", html.EscapeString(s.Reason))
	b.WriteString("<b>🧠 Patch Suggestion:</b>\n")
	fmt.Fprintf(&b, "<b>Current code:</b>\n<pre>%s</pre>\n\n", current)
	fmt.Fprintf(&b, "<b>Suggested fix:</b>\n<pre>%s</pre>\n\n", suggested)
	return b.String()
}

// Text renders the summary as unstyled plain text for logs and
// non-interactive terminals.
func (s *Summary) Text() string {
	fnList := "None"
	if len(s.Functions) > 0 {
		lines := make([]string, len(s.Functions))
		for i, fn := range s.Functions {
			lines[i] = "  - " + fn
		}
		fnList = strings.Join(lines, "\n")
	}
	current := s.CurrentBlock
	if current == "" {
		current = "(not available)"
	}

	var b strings.Builder
	b.WriteString("Bug Fix Summary\n\n")
	fmt.Fprintf(&b, "Hint:\n%s\n\n", s.Cause)
	fmt.Fprintf(&b, "Functions to edit:\n%s\n\n", fnList)
	fmt.Fprintf(&b, "Reason:\n%s\n\n", s.Reason)
	fmt.Fprintf(&b, "Current code:\n%s\n\n", current)
	fmt.Fprintf(&b, "Suggested fix:\n%s\n", s.SuggestedBlock)
	return b.String()
}

// splitPatch turns diff-like text into the code before and after the
// change. Removal lines land in the current block, addition lines in the
// suggested block, context lines in both, metadata lines in neither.
// Code fences around the patch are stripped first.
func splitPatch(raw string) (current, suggested string) {
	raw = strings.ReplaceAll(raw, "```diff", "")
	raw = strings.ReplaceAll(raw, "```", "")
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ""
	}

	var currentLines, suggestedLines []string
	for _, line := range strings.Split(raw, "\n") {
		if isDiffMetadata(line) {
			continue
		}
		switch {
		case strings.HasPrefix(line, "+"):
			suggestedLines = append(suggestedLines, line[1:])
		case strings.HasPrefix(line, "-"):
			currentLines = append(currentLines, line[1:])
		default:
			currentLines = append(currentLines, line)
			suggestedLines = append(suggestedLines, line)
		}
	}
	current = strings.TrimSpace(strings.Join(currentLines, "\n"))
	suggested = strings.TrimSpace(strings.Join(suggestedLines, "\n"))
	return current, suggested
}

func isDiffMetadata(line string) bool {
	for _, prefix := range diffMetadataPrefixes {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

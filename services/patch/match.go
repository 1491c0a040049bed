// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package patch

import (
	"regexp"
	"strings"
)

// windowSlack is how many extra trailing lines the fuzzy tier's window
// carries beyond the old block's length.
const windowSlack = 5

var whitespaceRun = regexp.MustCompile(`\s+`)

// normalizeWhitespace collapses every whitespace run to a single space and
// trims the ends, so blocks compare by token sequence rather than layout.
func normalizeWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}

// leadingWhitespace returns the literal indentation prefix of line.
func leadingWhitespace(line string) string {
	return line[:len(line)-len(strings.TrimLeft(line, " \t"))]
}

// reindent rewrites newLines with the given indentation, discarding whatever
// leading whitespace the proposed lines carried. Blank lines stay blank.
func reindent(newLines []string, indent string) []string {
	out := make([]string, len(newLines))
	for i, ln := range newLines {
		if strings.TrimSpace(ln) == "" {
			out[i] = ""
			continue
		}
		out[i] = indent + strings.TrimLeft(ln, " \t")
	}
	return out
}

// applyExact replaces the first occurrence of the hunk's literal old block.
//
// The match is a raw substring search over the whole content, not bounded
// to line starts; it can match mid-line, and which occurrence gets edited
// depends on byte position alone.
func applyExact(content string, h Hunk) (string, bool) {
	oldBlock := strings.Join(h.OldLines, "\n")
	if !strings.Contains(content, oldBlock) {
		return content, false
	}
	newBlock := strings.Join(h.NewLines, "\n")
	return strings.Replace(content, oldBlock, newBlock, 1), true
}

// applyWindow slides a window of len(old)+slack lines over the content and
// compares whitespace-normalized text.
//
// The first window from the top whose normalized text contains the
// normalized old block wins; the ENTIRE window is replaced by the new
// block, re-indented to the window's first line. No best-match scoring.
func applyWindow(content string, h Hunk) (string, bool) {
	lines := strings.Split(content, "\n")
	oldNorm := normalizeWhitespace(strings.Join(h.OldLines, "\n"))

	for i := 0; i < len(lines); i++ {
		end := i + len(h.OldLines) + windowSlack
		if end > len(lines) {
			end = len(lines)
		}
		window := strings.Join(lines[i:end], "\n")
		if !strings.Contains(normalizeWhitespace(window), oldNorm) {
			continue
		}

		replacement := reindent(h.NewLines, leadingWhitespace(lines[i]))
		parts := make([]string, 0, i+len(replacement)+len(lines)-end)
		parts = append(parts, lines[:i]...)
		parts = append(parts, replacement...)
		parts = append(parts, lines[end:]...)
		return strings.Join(parts, "\n"), true
	}
	return content, false
}

// applySingleLine handles the one-line-old case: the first content line
// whose normalized form equals the normalized old line is replaced by the
// new block, re-indented to that line's indentation. Gated strictly on an
// old block of exactly one line.
func applySingleLine(content string, h Hunk) (string, bool) {
	if len(h.OldLines) != 1 {
		return content, false
	}
	oldNorm := normalizeWhitespace(h.OldLines[0])
	lines := strings.Split(content, "\n")

	for i, line := range lines {
		if normalizeWhitespace(line) != oldNorm {
			continue
		}

		replacement := reindent(h.NewLines, leadingWhitespace(line))
		parts := make([]string, 0, len(lines)+len(replacement)-1)
		parts = append(parts, lines[:i]...)
		parts = append(parts, replacement...)
		parts = append(parts, lines[i+1:]...)
		return strings.Join(parts, "\n"), true
	}
	return content, false
}

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

import "strings"

// metadataPrefixes are diff header lines dropped during parsing. They are
// noise from oracles that emit full unified diffs despite being asked for
// bare +/- lines.
var metadataPrefixes = []string{"diff ", "index ", "@@", "---", "+++"}

// Hunk is one contiguous proposed change: the lines to find and the lines
// to put in their place. A hunk with no old lines is a pure insertion and
// cannot be applied (nothing to anchor on).
type Hunk struct {
	OldLines []string
	NewLines []string
}

// ParsePatch splits free-form diff-like text into ordered hunks.
//
// # Description
//
// Metadata-prefixed lines are dropped. A "-" line appends to the current
// hunk's old block, a "+" line to its new block, and any other line closes
// the current hunk. A removal arriving while the old block is empty but the
// new block is not also closes the hunk first; without that rule an
// unrelated addition-only block would merge with the removal block that
// follows it.
func ParsePatch(patch string) []Hunk {
	var hunks []Hunk
	var oldBuf, newBuf []string

	flush := func() {
		if len(oldBuf) > 0 || len(newBuf) > 0 {
			hunks = append(hunks, Hunk{OldLines: oldBuf, NewLines: newBuf})
			oldBuf, newBuf = nil, nil
		}
	}

	for _, line := range strings.Split(patch, "\n") {
		if isMetadataLine(line) {
			continue
		}
		switch {
		case strings.HasPrefix(line, "+"):
			newBuf = append(newBuf, line[1:])
		case strings.HasPrefix(line, "-"):
			if len(newBuf) > 0 && len(oldBuf) == 0 {
				flush()
			}
			oldBuf = append(oldBuf, line[1:])
		default:
			flush()
		}
	}
	flush()
	return hunks
}

func isMetadataLine(line string) bool {
	for _, p := range metadataPrefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

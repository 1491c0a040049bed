// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// functionPatterns builds the declaration-line patterns for one function
// name. Covers Go functions and methods, Python def, JS/TS functions and
// arrow assignments, and class methods. Heuristic line matching, not a
// parser; good enough for showing the oracle a function body.
func functionPatterns(name string) []*regexp.Regexp {
	q := regexp.QuoteMeta(name)
	return []*regexp.Regexp{
		// Go, optional receiver and type parameters
		regexp.MustCompile(`^func\s+(\([^)]*\)\s*)?` + q + `(\[[^\]]*\])?\s*\(`),
		// Python
		regexp.MustCompile(`^\s*def\s+` + q + `\s*\(`),
		// JS/TS named function
		regexp.MustCompile(`^\s*(export\s+)?(async\s+)?function\s+` + q + `\s*\(`),
		// Arrow function assignment
		regexp.MustCompile(`^\s*(export\s+)?(const|let|var)\s+` + q + `\s*=\s*(async\s*)?\(.*\)\s*=>`),
		// Class method, optional visibility
		regexp.MustCompile(`^\s*(public|private|protected)?\s*(async\s+)?` + q + `\s*\(`),
	}
}

// ExtractFunction returns the source text of the named function in the file.
//
// # Description
//
// Finds the first line matching a declaration pattern, then extends the
// selection by brace counting until the braces opened since that line all
// close. Brace-free bodies (plain Python) run to end of file.
//
// A function miss is not an error: the miss message is the tool's answer
// and goes into the oracle's context verbatim. Only an unreadable file is
// an error.
func ExtractFunction(path, functionName string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("tools: invalid file %s: %w", path, err)
	}
	lines := strings.Split(string(data), "\n")
	patterns := functionPatterns(functionName)

	start := -1
scan:
	for i, line := range lines {
		for _, p := range patterns {
			if p.MatchString(line) {
				start = i
				break scan
			}
		}
	}
	if start < 0 {
		return fmt.Sprintf("Function '%s' not found in %s", functionName, path), nil
	}

	braces := 0
	started := false
	var buf []string
	for _, line := range lines[start:] {
		buf = append(buf, line)
		braces += strings.Count(line, "{") - strings.Count(line, "}")
		if braces > 0 {
			started = true
		}
		if started && braces == 0 {
			break
		}
	}
	return strings.TrimRight(strings.Join(buf, "\n"), "\n"), nil
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package artifacts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// artifactTimeFormat names record files by wall-clock second. Latest-record
// lookups go by mtime, not by name, so the format only needs to be readable.
const artifactTimeFormat = "2006-01-02_15-04-05"

const (
	hintsSubdir       = "hints"
	fixesSubdir       = "fixes"
	outputLogsSubdir  = "output_logs"
	toolOutputsSubdir = "tool_outputs"
)

// Store reads and writes triage artifacts under a single root directory.
//
// # Description
//
// Layout under the root:
//
//	hints/        hint_<timestamp>.json
//	fixes/        fix_<timestamp>.json
//	output_logs/  *.log, optional secondary logs the diagnostic loop may read
//	tool_outputs/ last output of each repair tool, overwritten per call
//
// # Thread Safety
//
// Safe for concurrent use; all state lives on disk.
type Store struct {
	root   string
	logger *slog.Logger
}

// NewStore creates the artifact directory tree rooted at root.
func NewStore(root string, logger *slog.Logger) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("artifacts: root directory is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	for _, sub := range []string{"", hintsSubdir, fixesSubdir, outputLogsSubdir, toolOutputsSubdir} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0755); err != nil {
			return nil, fmt.Errorf("artifacts: creating %s: %w", filepath.Join(root, sub), err)
		}
	}
	return &Store{root: root, logger: logger}, nil
}

// Root returns the artifact root directory.
func (s *Store) Root() string { return s.root }

// HintsDir returns the directory holding hint records.
func (s *Store) HintsDir() string { return filepath.Join(s.root, hintsSubdir) }

// FixesDir returns the directory holding fix records.
func (s *Store) FixesDir() string { return filepath.Join(s.root, fixesSubdir) }

// OutputLogsDir returns the directory scanned for secondary logs.
func (s *Store) OutputLogsDir() string { return filepath.Join(s.root, outputLogsSubdir) }

// ToolOutputsDir returns the directory holding the last output of each tool.
func (s *Store) ToolOutputsDir() string { return filepath.Join(s.root, toolOutputsSubdir) }

// SaveHint writes a new hint record and returns its path. When the hint's
// Path field is empty it is filled from the first entry that names a file.
func (s *Store) SaveHint(ctx context.Context, hint *Hint) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if hint == nil {
		return "", fmt.Errorf("artifacts: nil hint")
	}
	if hint.Path == "" {
		for _, h := range hint.Hints {
			if h.File != "" {
				hint.Path = h.File
				break
			}
		}
	}
	path, err := s.writeJSON(s.HintsDir(), "hint_", hint)
	if err != nil {
		return "", err
	}
	s.logger.Info("artifacts: hint saved",
		slog.String("path", path),
		slog.String("cause", firstLine(hint.Cause)),
		slog.Int("hint_count", len(hint.Hints)),
	)
	return path, nil
}

// SaveFix writes a new fix record and returns its path.
func (s *Store) SaveFix(ctx context.Context, fix *Fix) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if fix == nil {
		return "", fmt.Errorf("artifacts: nil fix")
	}
	path, err := s.writeJSON(s.FixesDir(), "fix_", fix)
	if err != nil {
		return "", err
	}
	s.logger.Info("artifacts: fix saved",
		slog.String("path", path),
		slog.Int("function_count", len(fix.FunctionsToEdit)),
	)
	return path, nil
}

// SaveDegradedFix records raw oracle text that never parsed as a fix. The
// record lands under the fix_ prefix so latest-fix lookups surface it.
func (s *Store) SaveDegradedFix(ctx context.Context, rawText string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	record := &DegradedFix{
		Type:   "analysis",
		Text:   rawText,
		Reason: "oracle provided analysis instead of a fix",
	}
	path, err := s.writeJSON(s.FixesDir(), "fix_", record)
	if err != nil {
		return "", err
	}
	s.logger.Warn("artifacts: degraded fix saved",
		slog.String("path", path),
		slog.Int("text_chars", len(rawText)),
	)
	return path, nil
}

// LatestHint returns the most recent hint record and its path.
func (s *Store) LatestHint(ctx context.Context) (*Hint, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	path, err := latestFile(s.HintsDir(), "hint_", ".json")
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("artifacts: reading %s: %w", path, err)
	}
	var hint Hint
	if err := json.Unmarshal(data, &hint); err != nil {
		return nil, "", fmt.Errorf("artifacts: decoding %s: %w", path, err)
	}
	return &hint, path, nil
}

// LatestHintText returns the raw JSON text of the most recent hint record.
// The repair loop embeds this verbatim in its prompt.
func (s *Store) LatestHintText(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path, err := latestFile(s.HintsDir(), "hint_", ".json")
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("artifacts: reading %s: %w", path, err)
	}
	return string(data), nil
}

// LatestFix returns the most recent fix record and its path. A degraded
// record decodes into a Fix whose only populated field is Reason.
func (s *Store) LatestFix(ctx context.Context) (*Fix, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	path, err := latestFile(s.FixesDir(), "fix_", ".json")
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("artifacts: reading %s: %w", path, err)
	}
	var fix Fix
	if err := json.Unmarshal(data, &fix); err != nil {
		return nil, "", fmt.Errorf("artifacts: decoding %s: %w", path, err)
	}
	return &fix, path, nil
}

// WriteToolOutput overwrites tool_outputs/<name>.txt with the given text
// and returns the path. Each tool keeps only its most recent output.
func (s *Store) WriteToolOutput(ctx context.Context, name, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := filepath.Join(s.ToolOutputsDir(), name+".txt")
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		return "", fmt.Errorf("artifacts: writing tool output %s: %w", path, err)
	}
	return path, nil
}

// HasOutputLogs reports whether any secondary *.log files exist. The
// diagnostic prompt only advertises the log-reading action when they do.
func (s *Store) HasOutputLogs() bool {
	entries, err := os.ReadDir(s.OutputLogsDir())
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".log") {
			return true
		}
	}
	return false
}

// LatestOutputLog returns the content of the most recent secondary log.
func (s *Store) LatestOutputLog(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path, err := latestFile(s.OutputLogsDir(), "", ".log")
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("artifacts: reading %s: %w", path, err)
	}
	return string(data), nil
}

// writeJSON marshals v indented and writes it to a timestamped file.
func (s *Store) writeJSON(dir, prefix string, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("artifacts: marshaling record: %w", err)
	}
	path := filepath.Join(dir, prefix+time.Now().Format(artifactTimeFormat)+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("artifacts: writing %s: %w", path, err)
	}
	return path, nil
}

// latestFile returns the newest file in dir matching prefix and suffix,
// by modification time. ErrNoArtifacts when none match.
func latestFile(dir, prefix, suffix string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoArtifacts
		}
		return "", fmt.Errorf("artifacts: listing %s: %w", dir, err)
	}

	var newest string
	var newestMod time.Time
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestMod) {
			newest = e.Name()
			newestMod = info.ModTime()
		}
	}
	if newest == "" {
		return "", ErrNoArtifacts
	}
	return filepath.Join(dir, newest), nil
}

// firstLine truncates s at its first newline for compact log output.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

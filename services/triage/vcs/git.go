// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vcs wraps the git command line for the fix branch workflow:
// applied patches are committed on a dedicated branch so a human can review
// or discard the whole series.
package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// DefaultBranchName is the branch fixes land on when none is configured.
const DefaultBranchName = "triage-fixes"

const gitTimeout = 30 * time.Second

// ErrNotARepository means no .git was found in the project directory or
// any of its parents.
var ErrNotARepository = errors.New("vcs: not a git repository")

// Manager executes git operations in a project directory.
//
// # Thread Safety
//
// All methods are safe for concurrent use; each call runs its own git
// process.
type Manager struct {
	projectRoot string
	gitRoot     string
	branchName  string
	logger      *slog.Logger
}

// NewManager creates a Manager for the given project.
//
// # Inputs
//
//   - projectRoot: Directory inside the repository; must exist.
//   - branchName: Fix branch name; empty uses DefaultBranchName.
//   - logger: Logger for structured logging; nil uses slog.Default.
//
// # Outputs
//
//   - *Manager: Ready-to-use manager.
//   - error: ErrNotARepository when no .git is found walking upward, or a
//     path error.
func NewManager(projectRoot, branchName string, logger *slog.Logger) (*Manager, error) {
	info, err := os.Stat(projectRoot)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("vcs: invalid project path %s", projectRoot)
	}
	gitRoot := findGitRoot(projectRoot)
	if gitRoot == "" {
		return nil, fmt.Errorf("vcs: %s: %w", projectRoot, ErrNotARepository)
	}
	if branchName == "" {
		branchName = DefaultBranchName
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		projectRoot: projectRoot,
		gitRoot:     gitRoot,
		branchName:  branchName,
		logger:      logger,
	}, nil
}

// findGitRoot walks upward from start looking for a .git entry. Worktrees
// carry a .git file rather than a directory, so only existence is checked.
func findGitRoot(start string) string {
	dir, err := filepath.Abs(start)
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// Root returns the repository root directory.
func (m *Manager) Root() string {
	if m == nil {
		return ""
	}
	return m.gitRoot
}

// run executes a git command in the project directory and returns stdout.
func (m *Manager) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = m.projectRoot

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("git %s: timeout after %v", args[0], gitTimeout)
		}
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

func (m *Manager) runSilent(ctx context.Context, args ...string) error {
	_, err := m.run(ctx, args...)
	return err
}

// CurrentBranch returns the checked-out branch name, empty in detached
// HEAD state.
func (m *Manager) CurrentBranch(ctx context.Context) (string, error) {
	branch, err := m.run(ctx, "branch", "--show-current")
	if err != nil {
		return "", fmt.Errorf("getting current branch: %w", err)
	}
	return branch, nil
}

// BranchExists checks whether a local branch exists.
func (m *Manager) BranchExists(ctx context.Context, name string) bool {
	out, err := m.run(ctx, "branch", "--list", name)
	return err == nil && out != ""
}

// HasUncommittedChanges reports whether the working tree is dirty.
func (m *Manager) HasUncommittedChanges(ctx context.Context) bool {
	out, err := m.run(ctx, "status", "--porcelain")
	return err == nil && out != ""
}

// PrepareBranch makes sure the fix branch is checked out.
//
// # Description
//
// Idempotent: already being on the fix branch is success. A dirty working
// tree is warned about but does not block; those changes simply ride along
// onto the fix branch. A nil Manager (git disabled) reports ready.
//
// # Outputs
//
//   - bool: True when the fix branch is checked out and ready.
func (m *Manager) PrepareBranch(ctx context.Context) bool {
	if m == nil {
		return true
	}

	current, err := m.CurrentBranch(ctx)
	if err != nil {
		m.logger.Warn("vcs: cannot read current branch", slog.String("error", err.Error()))
	}
	if current == m.branchName {
		m.logger.Info("vcs: already on fix branch", slog.String("branch", m.branchName))
		return true
	}

	if m.HasUncommittedChanges(ctx) {
		m.logger.Warn("vcs: uncommitted changes will ride along onto the fix branch")
	}

	if m.BranchExists(ctx, m.branchName) {
		if err := m.runSilent(ctx, "checkout", m.branchName); err != nil {
			m.logger.Error("vcs: switching to fix branch failed",
				slog.String("branch", m.branchName),
				slog.String("error", err.Error()),
			)
			return false
		}
		m.logger.Info("vcs: switched to existing fix branch", slog.String("branch", m.branchName))
		return true
	}

	if err := m.runSilent(ctx, "checkout", "-b", m.branchName); err != nil {
		m.logger.Error("vcs: creating fix branch failed",
			slog.String("branch", m.branchName),
			slog.String("error", err.Error()),
		)
		return false
	}
	m.logger.Info("vcs: created fix branch", slog.String("branch", m.branchName))
	return true
}

// StageAndCommit stages one file and commits it with a fix message.
//
// # Description
//
// The path is made relative to the project root for a cleaner commit;
// a path outside the project falls back to its base name. The commit
// message is "fix: <reason>" with an attribution trailer. A nil Manager
// (git disabled) commits nothing and reports false.
//
// # Inputs
//
//   - ctx: Context for timeout and cancellation.
//   - filePath: The patched file.
//   - reason: The fix reason, used as the commit subject.
//
// # Outputs
//
//   - bool: True when the commit landed.
func (m *Manager) StageAndCommit(ctx context.Context, filePath, reason string) bool {
	if m == nil {
		return false
	}

	rel, err := filepath.Rel(m.projectRoot, filePath)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = filepath.Base(filePath)
	}

	if err := m.runSilent(ctx, "add", rel); err != nil {
		m.logger.Error("vcs: staging failed",
			slog.String("file", rel),
			slog.String("error", err.Error()),
		)
		return false
	}

	message := fmt.Sprintf("fix: %s\n\nAuto-applied by Aleutian Triage", reason)
	if err := m.runSilent(ctx, "commit", "-m", message); err != nil {
		m.logger.Error("vcs: commit failed",
			slog.String("file", rel),
			slog.String("error", err.Error()),
		)
		return false
	}

	m.logger.Info("vcs: committed fix",
		slog.String("file", rel),
		slog.String("branch", m.branchName),
	)
	return true
}

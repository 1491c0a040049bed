// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package runner executes the project's test command and tees its combined
// output to a timestamped log file. The exit code and the log are the only
// signals the rest of the pipeline consumes.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"
)

var (
	// ErrNilContext indicates a nil context was provided.
	ErrNilContext = errors.New("runner: nil context")

	// ErrRunTimeout means the test command exceeded its wall-clock budget
	// and its process group was killed. The partial log is still usable.
	ErrRunTimeout = errors.New("runner: test command timed out")
)

// Result reports one test run.
type Result struct {
	// LogPath is the file holding combined stdout and stderr.
	LogPath string

	// ExitCode is the command's exit code, -1 when it did not exit on
	// its own.
	ExitCode int

	// TimedOut is true when the run was killed at the timeout.
	TimedOut bool

	// Duration is wall-clock time from start to exit.
	Duration time.Duration
}

// Runner executes a shell test command inside a project directory.
//
// Thread Safety: Safe for concurrent use. Each run creates its own process
// and log file.
type Runner struct {
	projectRoot string
	command     string
	logsDir     string
	timeout     time.Duration
	logger      *slog.Logger
}

// New creates a Runner for the given project.
//
// Inputs:
//
//	projectRoot - Directory the command runs in; must exist.
//	command - Shell command line, e.g. "go test ./..." or "npm test".
//	logsDir - Directory for run logs; created if absent.
//	timeout - Wall-clock budget per run.
//	logger - Logger for structured logging; nil uses slog.Default.
//
// Outputs:
//
//	*Runner - Configured runner.
//	error - Non-nil when the project path is not a directory or the logs
//	directory cannot be created.
func New(projectRoot, command, logsDir string, timeout time.Duration, logger *slog.Logger) (*Runner, error) {
	if command == "" {
		return nil, errors.New("runner: empty test command")
	}
	info, err := os.Stat(projectRoot)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("runner: invalid project path %s", projectRoot)
	}
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return nil, fmt.Errorf("runner: creating logs dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		projectRoot: projectRoot,
		command:     command,
		logsDir:     logsDir,
		timeout:     timeout,
		logger:      logger,
	}, nil
}

// Run executes the test command once.
//
// Description:
//
//	Shells the command in the project directory with stdout and stderr
//	teed to a fresh run_<unix-ts>.log. The command runs in its own
//	process group so a timeout kills the whole test tree, not just the
//	shell.
//
// Outputs:
//
//	*Result - Exit code, log path and timing; non-nil also on timeout.
//	error - ErrRunTimeout, or an execution failure. A non-zero exit code
//	from the tests themselves is not an error.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	logPath := filepath.Join(r.logsDir, fmt.Sprintf("run_%d.log", time.Now().Unix()))
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("runner: creating log file: %w", err)
	}
	defer logFile.Close()

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(runCtx, "cmd", "/C", r.command)
	} else {
		cmd = exec.CommandContext(runCtx, "sh", "-c", r.command)
	}
	cmd.Dir = r.projectRoot
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	setupProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }

	r.logger.Info("runner: executing",
		slog.String("command", r.command),
		slog.String("project", r.projectRoot),
		slog.String("log_file", logPath),
	)

	start := time.Now()
	runErr := cmd.Run()
	res := &Result{
		LogPath:  logPath,
		Duration: time.Since(start),
	}

	if runCtx.Err() == context.DeadlineExceeded {
		res.TimedOut = true
		res.ExitCode = -1
		r.logger.Warn("runner: timed out",
			slog.Duration("timeout", r.timeout),
			slog.String("log_file", logPath),
		)
		return res, ErrRunTimeout
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
			return res, fmt.Errorf("runner: executing %q: %w", r.command, runErr)
		}
	}

	r.logger.Info("runner: done",
		slog.Int("exit_code", res.ExitCode),
		slog.Duration("duration", res.Duration),
		slog.String("log_file", logPath),
	)
	return res, nil
}

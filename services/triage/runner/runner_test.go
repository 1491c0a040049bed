// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func newTestRunner(t *testing.T, command string, timeout time.Duration) (*Runner, string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell fixtures are POSIX")
	}
	project := t.TempDir()
	logs := t.TempDir()
	r, err := New(project, command, logs, timeout, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r, project
}

func TestNew_InvalidProjectPath(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing"), "true", t.TempDir(), time.Minute, nil)
	if err == nil {
		t.Fatal("expected error for missing project dir")
	}
}

func TestNew_EmptyCommand(t *testing.T) {
	if _, err := New(t.TempDir(), "", t.TempDir(), time.Minute, nil); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestRun_CapturesCombinedOutputAndExitCode(t *testing.T) {
	r, _ := newTestRunner(t, "echo to stdout; echo to stderr 1>&2; exit 3", time.Minute)

	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", res.ExitCode)
	}

	data, err := os.ReadFile(res.LogPath)
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	for _, want := range []string{"to stdout", "to stderr"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("log %q missing %q", data, want)
		}
	}
}

func TestRun_ZeroExit(t *testing.T) {
	r, _ := newTestRunner(t, "echo all good", time.Minute)

	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 0 || res.TimedOut {
		t.Errorf("exit=%d timedOut=%v, want 0 false", res.ExitCode, res.TimedOut)
	}

	base := filepath.Base(res.LogPath)
	if !strings.HasPrefix(base, "run_") || !strings.HasSuffix(base, ".log") {
		t.Errorf("log name = %q, want run_<ts>.log", base)
	}
}

func TestRun_ExecutesInProjectDir(t *testing.T) {
	r, project := newTestRunner(t, "pwd", time.Minute)

	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	data, err := os.ReadFile(res.LogPath)
	if err != nil {
		t.Fatal(err)
	}
	want, err := filepath.EvalSymlinks(project)
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(string(data)); got != want {
		t.Errorf("cwd = %q, want %q", got, want)
	}
}

func TestRun_TimeoutKillsProcessGroup(t *testing.T) {
	r, _ := newTestRunner(t, "sleep 30", 200*time.Millisecond)

	start := time.Now()
	res, err := r.Run(context.Background())
	if !errors.Is(err, ErrRunTimeout) {
		t.Fatalf("err = %v, want ErrRunTimeout", err)
	}
	if !res.TimedOut || res.ExitCode != -1 {
		t.Errorf("timedOut=%v exit=%d, want true -1", res.TimedOut, res.ExitCode)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("run blocked %s past its timeout", elapsed)
	}
}

func TestRun_NilContext(t *testing.T) {
	r, _ := newTestRunner(t, "true", time.Minute)
	if _, err := r.Run(nil); !errors.Is(err, ErrNilContext) {
		t.Errorf("err = %v, want ErrNilContext", err)
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "triage.yaml")
	initial := "project:\n  root: /tmp/one\n"
	if err := os.WriteFile(path, []byte(initial), 0o644); err != nil {
		t.Fatalf("writing initial config: %v", err)
	}

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(path, func(cfg *Config) {
		reloaded <- cfg
	}, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Start(ctx)
	}()

	// Give the watch a moment to register before touching the file.
	time.Sleep(200 * time.Millisecond)

	updated := "project:\n  root: /tmp/two\n"
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("rewriting config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Project.Root != "/tmp/two" {
			t.Errorf("Root = %q, want /tmp/two", cfg.Project.Root)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload callback")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop after cancel")
	}
}

func TestWatcher_BadContentKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "triage.yaml")
	if err := os.WriteFile(path, []byte("project:\n  root: /tmp/good\n"), 0o644); err != nil {
		t.Fatalf("writing initial config: %v", err)
	}

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(path, func(cfg *Config) {
		reloaded <- cfg
	}, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)
	time.Sleep(200 * time.Millisecond)

	if err := os.WriteFile(path, []byte("project: [broken"), 0o644); err != nil {
		t.Fatalf("rewriting config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		t.Errorf("unexpected reload with root %q for unparseable content", cfg.Project.Root)
	case <-time.After(1500 * time.Millisecond):
	}
}

func TestNewWatcher_IgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "triage.yaml")
	if err := os.WriteFile(path, []byte("project:\n  root: /tmp/good\n"), 0o644); err != nil {
		t.Fatalf("writing initial config: %v", err)
	}

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(path, func(cfg *Config) {
		reloaded <- cfg
	}, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)
	time.Sleep(200 * time.Millisecond)

	sibling := filepath.Join(dir, "unrelated.txt")
	if err := os.WriteFile(sibling, []byte("noise"), 0o644); err != nil {
		t.Fatalf("writing sibling: %v", err)
	}

	select {
	case <-reloaded:
		t.Error("sibling file write should not trigger a reload")
	case <-time.After(1500 * time.Millisecond):
	}
}

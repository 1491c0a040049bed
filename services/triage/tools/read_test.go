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
	"os"
	"path/filepath"
	"testing"
)

func TestReadFile_FullContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.go")
	content := "package app\n\nfunc Run() {}\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got != content {
		t.Errorf("content = %q, want %q", got, content)
	}
}

func TestReadFile_Missing(t *testing.T) {
	if _, err := ReadFile(filepath.Join(t.TempDir(), "absent.go")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestReadFile_Directory(t *testing.T) {
	if _, err := ReadFile(t.TempDir()); err == nil {
		t.Error("expected error for directory")
	}
}

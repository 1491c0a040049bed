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
	"path/filepath"
	"testing"
)

func TestNilArchiver_NoOp(t *testing.T) {
	store := newTestStore(t)
	var a *Archiver
	if err := a.ArchiveSession(context.Background(), store, "session-1"); err != nil {
		t.Errorf("nil archiver should be a no-op, got %v", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("nil archiver Close should be a no-op, got %v", err)
	}
}

func TestNewArchiver_RequiresBucket(t *testing.T) {
	if _, err := NewArchiver(context.Background(), "", "", nil); err == nil {
		t.Error("expected error for empty bucket")
	}
}

func TestNewArchiver_MissingKeyFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent-key.json")
	if _, err := NewArchiver(context.Background(), "triage-bucket", missing, nil); err == nil {
		t.Error("expected error for unreadable credentials file")
	}
}

func TestArchiveObjectName(t *testing.T) {
	got := archiveObjectName("abc-123", "hints", "hint_2025-06-19_12-00-00.json")
	want := "abc-123/hints/hint_2025-06-19_12-00-00.json"
	if got != want {
		t.Errorf("archiveObjectName = %q, want %q", got, want)
	}
}

func TestArchiveContentType(t *testing.T) {
	if got := archiveContentType("s/hints/hint_x.json"); got != "application/json" {
		t.Errorf("json content type = %q", got)
	}
	if got := archiveContentType("s/tool_outputs/tree.txt"); got != "application/octet-stream" {
		t.Errorf("txt content type = %q", got)
	}
}

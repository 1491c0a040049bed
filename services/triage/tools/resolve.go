// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tools implements the local text-producing tools the repair loop
// offers the oracle: a project tree view, a function extractor, a full file
// reader, and the path resolver they all share.
package tools

import (
	"io/fs"
	"os"
	"path/filepath"
)

// ResolvePath maps a possibly wrong file reference to a real path under root.
//
// # Description
//
// Oracle-named paths are frequently close but not exact: relative to the
// wrong base, missing a directory, or copied from a stack trace. Resolution
// tries, in order, first success wins:
//
//  1. the reference verbatim, when absolute and existing
//  2. the reference joined under root, when existing
//  3. a recursive search under root for the reference's base name; when the
//     reference carried a parent directory, only matches under a directory
//     of that name qualify
//  4. the naive resolution from step 2, existing or not, so the caller
//     reports "file not found" against a deterministic path
//
// No side effects; deterministic for a given filesystem snapshot since
// WalkDir visits in lexical order.
func ResolvePath(root, ref string) string {
	if filepath.IsAbs(ref) {
		if _, err := os.Stat(ref); err == nil {
			return ref
		}
		// Fall through to the basename search; the naive resolution for an
		// absolute reference is the reference itself.
		if found := searchByBasename(root, ref); found != "" {
			return found
		}
		return ref
	}

	direct := filepath.Join(root, ref)
	if _, err := os.Stat(direct); err == nil {
		return direct
	}
	if found := searchByBasename(root, ref); found != "" {
		return found
	}
	return direct
}

// searchByBasename walks root for a file named like ref's base name,
// constrained to ref's immediate parent directory name when it has one.
func searchByBasename(root, ref string) string {
	base := filepath.Base(ref)
	parent := ""
	if dir := filepath.Dir(ref); dir != "." && dir != string(filepath.Separator) {
		parent = filepath.Base(dir)
	}

	var found string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if d.Name() != base {
			return nil
		}
		if parent != "" && filepath.Base(filepath.Dir(path)) != parent {
			return nil
		}
		found = path
		return fs.SkipAll
	})
	return found
}

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
	"path"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/mod/modfile"
)

// defaultTreeExcludes are dependency and environment directories never worth
// showing to the oracle.
var defaultTreeExcludes = map[string]struct{}{
	"node_modules": {},
	"venv":         {},
	".venv":        {},
	"__pycache__":  {},
	"env":          {},
	"envs":         {},
}

// Tree renders the project structure under root as indented text.
//
// # Description
//
// Directories sort before files, both case-insensitively. Hidden entries,
// the default excludes, and directory names taken from the project's
// .gitignore are skipped. The first line is the project directory's name,
// with the Go module path appended when a go.mod is present.
func Tree(root string) (string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return "", fmt.Errorf("tools: invalid project path %s: %w", root, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("tools: invalid project path %s: not a directory", root)
	}

	excludes := make(map[string]struct{}, len(defaultTreeExcludes))
	for name := range defaultTreeExcludes {
		excludes[name] = struct{}{}
	}
	for _, name := range gitignoreDirExcludes(root) {
		excludes[name] = struct{}{}
	}

	lines := []string{treeHeader(root)}
	if err := appendTreeLines(&lines, root, excludes, ""); err != nil {
		return "", err
	}
	return strings.Join(lines, "\n"), nil
}

// treeHeader is the tree's first line: the project directory name, plus the
// module path for Go projects since that is what import paths resolve to.
func treeHeader(root string) string {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}
	name := filepath.Base(abs)
	if modPath := goModulePath(root); modPath != "" {
		return name + " (module " + modPath + ")"
	}
	return name
}

func goModulePath(root string) string {
	data, err := os.ReadFile(filepath.Join(root, "go.mod"))
	if err != nil {
		return ""
	}
	f, err := modfile.Parse("go.mod", data, nil)
	if err != nil || f.Module == nil {
		return ""
	}
	return f.Module.Mod.Path
}

// gitignoreDirExcludes extracts directory names from the project .gitignore.
// Only directory-looking entries count: glob patterns and dotted file names
// are left to the walk, which cheaply shows them anyway.
func gitignoreDirExcludes(root string) []string {
	data, err := os.ReadFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		return nil
	}

	var names []string
	for _, raw := range strings.Split(string(data), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.Trim(line, "/")
		if strings.HasPrefix(line, "*") {
			continue
		}
		if strings.Contains(path.Base(line), ".") && !strings.Contains(line, "/") {
			continue
		}
		if i := strings.Index(line, "/"); i >= 0 {
			line = line[:i]
		}
		if line != "" {
			names = append(names, line)
		}
	}
	return names
}

func appendTreeLines(lines *[]string, dir string, excludes map[string]struct{}, prefix string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("tools: listing %s: %w", dir, err)
	}

	var visible []os.DirEntry
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if _, excluded := excludes[name]; excluded {
			continue
		}
		visible = append(visible, e)
	}
	sort.SliceStable(visible, func(i, j int) bool {
		if visible[i].IsDir() != visible[j].IsDir() {
			return visible[i].IsDir()
		}
		return strings.ToLower(visible[i].Name()) < strings.ToLower(visible[j].Name())
	})

	for i, e := range visible {
		connector, childPrefix := "├── ", prefix+"│   "
		if i == len(visible)-1 {
			connector, childPrefix = "└── ", prefix+"    "
		}
		*lines = append(*lines, prefix+connector+e.Name())
		if e.IsDir() {
			if err := appendTreeLines(lines, filepath.Join(dir, e.Name()), excludes, childPrefix); err != nil {
				return err
			}
		}
	}
	return nil
}

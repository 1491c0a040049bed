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
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"cloud.google.com/go/storage"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"
)

// archiveConcurrency is the number of parallel GCS uploads per archive pass.
// Artifact files are small; 4 keeps the pass short without hammering the API.
const archiveConcurrency = 4

// Archiver copies a session's artifacts to a GCS bucket.
//
// # Description
//
// Archiving is best effort. A failed upload of one file is logged and does
// not stop the others, and a nil *Archiver is a no-op so callers without a
// configured bucket need no branching.
type Archiver struct {
	client *storage.Client
	bucket string
	logger *slog.Logger
}

// NewArchiver builds a GCS-backed archiver for the given bucket. When
// credentialsFile is empty, application default credentials are used.
func NewArchiver(ctx context.Context, bucket, credentialsFile string, logger *slog.Logger) (*Archiver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("artifacts: archive bucket is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	var opts []option.ClientOption
	if credentialsFile != "" {
		if _, err := os.Stat(credentialsFile); err != nil {
			return nil, fmt.Errorf("artifacts: service account key not readable at %s: %w", credentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("artifacts: creating GCS client: %w", err)
	}
	return &Archiver{client: client, bucket: bucket, logger: logger}, nil
}

// ArchiveSession uploads every hint, fix and tool output under
// <sessionID>/<subdir>/<filename> in the archive bucket.
func (a *Archiver) ArchiveSession(ctx context.Context, store *Store, sessionID string) error {
	if a == nil {
		return nil
	}

	type upload struct {
		localPath string
		object    string
	}
	var uploads []upload
	for _, dir := range []string{hintsSubdir, fixesSubdir, toolOutputsSubdir} {
		entries, err := os.ReadDir(filepath.Join(store.Root(), dir))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("artifacts: listing %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			uploads = append(uploads, upload{
				localPath: filepath.Join(store.Root(), dir, e.Name()),
				object:    archiveObjectName(sessionID, dir, e.Name()),
			})
		}
	}
	if len(uploads) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, archiveConcurrency)
	var failed atomic.Int64

	for _, u := range uploads {
		up := u
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()

			if err := a.uploadFile(gctx, up.localPath, up.object); err != nil {
				a.logger.Warn("artifacts: archive upload failed",
					slog.String("object", up.object),
					slog.String("error", err.Error()),
				)
				// Individual failure is not fatal.
				failed.Add(1)
				return nil
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("artifacts: archiving session %s: %w", sessionID, err)
	}

	a.logger.Info("artifacts: session archived",
		slog.String("bucket", a.bucket),
		slog.String("session_id", sessionID),
		slog.Int("uploaded", len(uploads)-int(failed.Load())),
		slog.Int("failed", int(failed.Load())),
	)
	return nil
}

// uploadFile streams one local file into the bucket.
func (a *Archiver) uploadFile(ctx context.Context, localPath, object string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", localPath, err)
	}
	defer f.Close()

	w := a.client.Bucket(a.bucket).Object(object).NewWriter(ctx)
	w.ContentType = archiveContentType(object)
	w.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("copying %s to gs://%s/%s: %w", localPath, a.bucket, object, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing writer for gs://%s/%s: %w", a.bucket, object, err)
	}
	return nil
}

// Close releases the underlying GCS client.
func (a *Archiver) Close() error {
	if a == nil || a.client == nil {
		return nil
	}
	return a.client.Close()
}

// archiveObjectName builds the bucket object path for one artifact file.
// Forward slashes regardless of host OS; GCS object names are not paths.
func archiveObjectName(sessionID, subdir, filename string) string {
	return sessionID + "/" + subdir + "/" + filename
}

func archiveContentType(object string) string {
	if strings.HasSuffix(object, ".json") {
		return "application/json"
	}
	return "application/octet-stream"
}

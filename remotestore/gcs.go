// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package remotestore implements jobs.RemoteStore against Google
// Cloud Storage, letting Shared managed-file arguments push their
// outputs to and pull their inputs from a bucket shared across
// machines.
package remotestore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/dagrunner/pipeliner/identifiers"
)

// GCSStore uploads and downloads resource contents under a
// bucket/prefix, keyed by the resource's canonical Key().
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSStore constructs a GCSStore. saKeyPath may be empty to use
// application-default credentials; when set, it must point to a
// readable service-account key file.
func NewGCSStore(ctx context.Context, bucket, prefix, saKeyPath string) (*GCSStore, error) {
	var opts []option.ClientOption
	if saKeyPath != "" {
		if _, err := os.Stat(saKeyPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("remotestore: service account key not found at %s", saKeyPath)
		}
		opts = append(opts, option.WithCredentialsFile(saKeyPath))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("remotestore: creating GCS client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket, prefix: prefix}, nil
}

func (s *GCSStore) objectPath(key identifiers.ResourceKey) string {
	if s.prefix == "" {
		return key.Key()
	}
	return path.Join(s.prefix, key.Key())
}

// Push uploads localPath's contents to the object for key.
func (s *GCSStore) Push(ctx context.Context, key identifiers.ResourceKey, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("remotestore: opening %s: %w", localPath, err)
	}
	defer f.Close()

	obj := s.client.Bucket(s.bucket).Object(s.objectPath(key))
	w := obj.NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	w.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return fmt.Errorf("remotestore: uploading %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("remotestore: closing upload for %s: %w", key, err)
	}
	return nil
}

// Pull downloads the object for key into localPath, creating parent
// directories as needed.
func (s *GCSStore) Pull(ctx context.Context, key identifiers.ResourceKey, localPath string) error {
	r, err := s.client.Bucket(s.bucket).Object(s.objectPath(key)).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("remotestore: fetching %s: %w", key, err)
	}
	defer r.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("remotestore: preparing %s: %w", localPath, err)
	}
	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("remotestore: creating %s: %w", localPath, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("remotestore: downloading %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying GCS client's connections.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

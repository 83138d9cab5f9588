// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resourcemgr

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// sha256File computes the SHA-256 digest of a file's contents, the same
// algorithm dag.checkpoint.go's computeChecksum uses, in place of an
// MD5 digest (see DESIGN.md).
func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// overwriteIfDifferent implements a content-addressed rename: it
// compares the checksum of newPath against existingPath (if existingPath
// exists) and only renames newPath over existingPath when the contents
// differ, preserving existingPath's mtime (and thus avoiding spurious
// downstream recomputation) when the job's output happens to be
// byte-identical to what was already there.
//
// Returns the checksum of the file now at existingPath and whether a
// rename actually occurred.
func overwriteIfDifferent(newPath, existingPath string) (checksum string, renamed bool, err error) {
	newSum, err := sha256File(newPath)
	if err != nil {
		return "", false, err
	}
	if existingSum, err := sha256File(existingPath); err == nil && existingSum == newSum {
		// Contents are identical: drop the new write, keep the existing
		// file (and its mtime) untouched.
		if rmErr := os.Remove(newPath); rmErr != nil {
			return "", false, rmErr
		}
		return existingSum, false, nil
	}
	if err := os.Rename(newPath, existingPath); err != nil {
		return "", false, err
	}
	return newSum, true, nil
}

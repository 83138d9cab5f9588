// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resourcemgr tracks the mtime, existence, and checksum of every
// file- and object-typed resource a workflow graph depends on, serving as
// the authority the out-of-date algorithm reads from.
package resourcemgr

import (
	"time"

	"github.com/dagrunner/pipeliner/identifiers"
)

// Kind distinguishes the two resource flavors a definition can declare.
type Kind int

const (
	// File is a path on disk, carrying an optional checksum and mtime.
	File Kind = iota
	// Object is a serialisable value persisted in the object shelf.
	Object
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	if k == File {
		return "file"
	}
	return "object"
}

// Descriptor fully describes one resource so the manager can register,
// stat, and clean it up.
type Descriptor struct {
	Key identifiers.ResourceKey
	Kind
	// Path is the resolved filesystem path for File resources. Ignored
	// for Object resources.
	Path string
	// Temporary marks a resource whose Path lives under the pipeline's
	// temp tree rather than being a user-facing external path; temporary
	// resources are eligible for Cleanup once unreferenced.
	Temporary bool
	// Shared marks a resource whose Pull/Push steps should also touch a
	// remote object store (see package remotestore), for distributed
	// execution across workers that do not share a filesystem.
	Shared bool
}

// record is the persisted state for one resource: its last known mtime
// and, for File resources, the content checksum that was in place when
// that mtime was set.
type record struct {
	MtimeUnixNano int64  `json:"mtime_unix_nano"`
	Known         bool   `json:"known"`
	Checksum      string `json:"checksum,omitempty"`
}

func (r record) mtime() time.Time {
	if !r.Known {
		return time.Time{}
	}
	return time.Unix(0, r.MtimeUnixNano)
}

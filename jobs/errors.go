// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package jobs binds job definitions to nodes, materialises managed
// arguments into concrete values, and executes the resulting callables
// under captured stdio with retry bookkeeping.
package jobs

import "errors"

// ErrJobArgMismatch is returned when a managed argument's axes are
// incompatible with the job instance's node.
var ErrJobArgMismatch = errors.New("jobs: managed argument axes incompatible with job node")

// ErrInvalidDefinition is returned when a JobDefinition fails validation
// before it is ever bound to a node.
var ErrInvalidDefinition = errors.New("jobs: invalid job definition")

// ErrRetryExhausted names the condition of a spent retry budget
// (ctx["num_retry"]). JobInstance.Retry returns nothing and does not
// check the budget; no function in this package returns this error.
var ErrRetryExhausted = errors.New("jobs: retry budget exhausted")

// ErrAxisNotReady is returned by Bind when a managed argument merges over
// an axis whose chunk set is not yet defined. A Source treats it as a
// deferral rather than a fatal bind error, the same as an undefined axis
// in a job definition's own Axes.
var ErrAxisNotReady = errors.New("jobs: referenced axis chunk set not yet defined")

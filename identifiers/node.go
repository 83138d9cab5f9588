// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package identifiers defines the canonical, hashable identity of axis
// tuples (nodes) and the resources keyed by them.
package identifiers

import (
	"fmt"
	"strconv"
	"strings"
)

// Chunk is a single value of an axis: an opaque integer or string scalar.
type Chunk struct {
	isInt  bool
	intVal int64
	strVal string
}

// IntChunk builds a Chunk from an integer scalar.
func IntChunk(v int64) Chunk {
	return Chunk{isInt: true, intVal: v}
}

// StringChunk builds a Chunk from a string scalar.
func StringChunk(v string) Chunk {
	return Chunk{strVal: v}
}

// String renders the chunk for display and for use as a path component.
func (c Chunk) String() string {
	if c.isInt {
		return strconv.FormatInt(c.intVal, 10)
	}
	return c.strVal
}

// IsInt reports whether the chunk holds an integer scalar.
func (c Chunk) IsInt() bool { return c.isInt }

// Int returns the integer value and true if the chunk is an integer chunk.
func (c Chunk) Int() (int64, bool) {
	if !c.isInt {
		return 0, false
	}
	return c.intVal, true
}

// axisChunk is one element of a Node: an axis name paired with the chunk
// value the node is instantiated at along that axis.
type axisChunk struct {
	axis  string
	chunk Chunk
}

// Node is an ordered tuple [(axis1, chunk1), ..., (axisk, chunkk)]
// identifying one instantiation along a prefix of axes. The zero value is
// the root node (the empty tuple).
//
// Node is an immutable value type: all mutating-looking operations return a
// new Node. Node holds a slice, so it cannot be compared with ==; use
// Equal or Key to compare Nodes.
type Node struct {
	parts []axisChunk
}

// Root is the empty node, identifying the workflow's top level.
var Root = Node{}

// Append returns a new Node extending this one with one more (axis, chunk)
// pair. It does not mutate the receiver.
func (n Node) Append(axis string, chunk Chunk) Node {
	parts := make([]axisChunk, len(n.parts)+1)
	copy(parts, n.parts)
	parts[len(n.parts)] = axisChunk{axis: axis, chunk: chunk}
	return Node{parts: parts}
}

// Concat concatenates two nodes, provided the second's axes do not collide
// with the first's. Returns false if a collision is found.
func (n Node) Concat(other Node) (Node, bool) {
	seen := make(map[string]struct{}, len(n.parts))
	for _, p := range n.parts {
		seen[p.axis] = struct{}{}
	}
	for _, p := range other.parts {
		if _, ok := seen[p.axis]; ok {
			return Node{}, false
		}
	}
	parts := make([]axisChunk, 0, len(n.parts)+len(other.parts))
	parts = append(parts, n.parts...)
	parts = append(parts, other.parts...)
	return Node{parts: parts}, true
}

// IsRoot reports whether this is the empty root node.
func (n Node) IsRoot() bool { return len(n.parts) == 0 }

// Axes returns the axis names of this node, in order.
func (n Node) Axes() []string {
	axes := make([]string, len(n.parts))
	for i, p := range n.parts {
		axes[i] = p.axis
	}
	return axes
}

// Chunk returns the chunk value for the given axis and whether it is
// present in this node.
func (n Node) Chunk(axis string) (Chunk, bool) {
	for _, p := range n.parts {
		if p.axis == axis {
			return p.chunk, true
		}
	}
	return Chunk{}, false
}

// IsDescendantOf reports whether n extends parent: every (axis, chunk) pair
// in parent appears, in the same order, as a prefix of n's pairs.
func (n Node) IsDescendantOf(parent Node) bool {
	if len(parent.parts) > len(n.parts) {
		return false
	}
	for i, p := range parent.parts {
		if n.parts[i] != p {
			return false
		}
	}
	return true
}

// Equal reports whether two nodes denote the same axis tuple.
func (n Node) Equal(other Node) bool {
	if len(n.parts) != len(other.parts) {
		return false
	}
	for i := range n.parts {
		if n.parts[i] != other.parts[i] {
			return false
		}
	}
	return true
}

// Key returns a canonical string uniquely identifying this node, suitable
// as a map key or shelf key component.
func (n Node) Key() string {
	if len(n.parts) == 0 {
		return ""
	}
	var b strings.Builder
	for i, p := range n.parts {
		if i > 0 {
			b.WriteByte('/')
		}
		b.WriteString(p.axis)
		b.WriteByte('=')
		b.WriteString(p.chunk.String())
	}
	return b.String()
}

// Subdir renders the node as a filesystem subdirectory path component,
// composed as <axis1>/<chunk1>/<axis2>/<chunk2>/....
func (n Node) Subdir() string {
	if len(n.parts) == 0 {
		return ""
	}
	parts := make([]string, 0, len(n.parts)*2)
	for _, p := range n.parts {
		parts = append(parts, p.axis, p.chunk.String())
	}
	return strings.Join(parts, "/")
}

// DisplayName renders the node the way log lines and error messages show
// it: "axis1/chunk1/axis2/chunk2", with the empty root rendering as "".
func (n Node) DisplayName() string {
	return n.Subdir()
}

// String implements fmt.Stringer.
func (n Node) String() string {
	if n.IsRoot() {
		return "<root>"
	}
	return fmt.Sprintf("(%s)", n.DisplayName())
}

// ResourceKey identifies one resource at one node: (name, node).
type ResourceKey struct {
	Name string
	Node Node
}

// Key returns a canonical string uniquely identifying the resource.
func (k ResourceKey) Key() string {
	return k.Name + "@" + k.Node.Key()
}

// String implements fmt.Stringer.
func (k ResourceKey) String() string {
	return k.Key()
}

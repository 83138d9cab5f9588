// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package jobs

import (
	"context"
	"fmt"
	"strings"

	"github.com/dagrunner/pipeliner/identifiers"
	"github.com/dagrunner/pipeliner/nodemgr"
	"github.com/dagrunner/pipeliner/resourcemgr"
)

// Kind names the eleven managed-argument variants a job definition can
// declare. A Placeholder is a closed tagged union over this set: Bind
// dispatches on Kind to produce the concrete Arg that implements the
// capability contract for that variant.
type Kind int

const (
	KindInput Kind = iota
	KindOutput
	KindIFile
	KindOFile
	KindIObj
	KindOObj
	KindInst
	KindIChunks
	KindOChunks
	KindTmpFile
	KindTemplate
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindOutput:
		return "output"
	case KindIFile:
		return "ifile"
	case KindOFile:
		return "ofile"
	case KindIObj:
		return "iobj"
	case KindOObj:
		return "oobj"
	case KindInst:
		return "inst"
	case KindIChunks:
		return "ichunks"
	case KindOChunks:
		return "ochunks"
	case KindTmpFile:
		return "tmpfile"
	case KindTemplate:
		return "template"
	default:
		return "unknown"
	}
}

// Placeholder is a managed argument as declared on a JobDefinition, before
// it is bound to any concrete node. Not every field applies to every Kind;
// see the constructor functions below for the fields each variant uses.
type Placeholder struct {
	Kind       Kind
	Name       string
	Path       string   // input/output/template: may contain {axis} substitutions
	Axes       []string // ifile/ofile/iobj/oobj/ichunks/ochunks/inst/template: axes this arg is keyed on
	SharedFlag bool     // ifile/ofile/iobj/oobj: participates in remote push/pull
}

// Shared marks a managed file or object argument as participating in
// remote push/pull through the bound RemoteStore. Returns p for chaining.
func (p *Placeholder) Shared() *Placeholder {
	p.SharedFlag = true
	return p
}

// Input declares a user-facing file resource rooted at the workflow root,
// whose path may contain {axis} substitutions against the job's own node.
func Input(path string) *Placeholder { return &Placeholder{Kind: KindInput, Path: path} }

// Output is the output-side counterpart of Input.
func Output(path string) *Placeholder { return &Placeholder{Kind: KindOutput, Path: path} }

// IFile declares a managed temporary file resource named name, keyed by
// the subset of the job's node restricted to axes (or the full node when
// axes is nil).
func IFile(name string, axes ...string) *Placeholder {
	return &Placeholder{Kind: KindIFile, Name: name, Axes: axes}
}

// OFile is the output-side counterpart of IFile.
func OFile(name string, axes ...string) *Placeholder {
	return &Placeholder{Kind: KindOFile, Name: name, Axes: axes}
}

// IObj declares a managed Python-object-equivalent resource, serialized
// through the resource manager's Object kind.
func IObj(name string, axes ...string) *Placeholder {
	return &Placeholder{Kind: KindIObj, Name: name, Axes: axes}
}

// OObj is the output-side counterpart of IObj.
func OObj(name string, axes ...string) *Placeholder {
	return &Placeholder{Kind: KindOObj, Name: name, Axes: axes}
}

// Inst resolves to the job's own node's chunk value for axis: not a
// tracked resource, just a literal pulled out of the node identity.
func Inst(axis string) *Placeholder {
	return &Placeholder{Kind: KindInst, Axes: []string{axis}}
}

// IChunks resolves to the full chunk set currently defined for axis,
// rooted at the job's node.
func IChunks(axis string) *Placeholder {
	return &Placeholder{Kind: KindIChunks, Axes: []string{axis}}
}

// OChunks resolves to a ChunkSink the job function populates; UpdateDB
// commits the populated values as axis's chunk set via the node manager.
func OChunks(axis string) *Placeholder {
	return &Placeholder{Kind: KindOChunks, Axes: []string{axis}}
}

// TmpFile declares an untracked scratch file under the job's temp
// directory: no resource registration, no out-of-date participation.
func TmpFile(name string) *Placeholder { return &Placeholder{Kind: KindTmpFile, Name: name} }

// Template resolves to path with {axis} substituted from the job's node,
// without any resource tracking at all (a bare string, e.g. for building
// a command-line flag).
func Template(path string, axes ...string) *Placeholder {
	return &Placeholder{Kind: KindTemplate, Path: path, Axes: axes}
}

// BindEnv is the set of collaborators a Placeholder needs to bind itself
// to a concrete node.
type BindEnv struct {
	Resources *resourcemgr.Manager
	Nodes     *nodemgr.Manager
	Remote    RemoteStore // may be nil when no resource is Shared
	TempDir   string
}

// projectedNode restricts node to the chunk values of the given axes, in
// the order axes lists them, returning ErrJobArgMismatch if node does not define
// one of them.
func projectedNode(node identifiers.Node, axes []string) (identifiers.Node, error) {
	if len(axes) == 0 {
		return node, nil
	}
	out := identifiers.Root
	for _, axis := range axes {
		chunk, ok := node.Chunk(axis)
		if !ok {
			return identifiers.Node{}, fmt.Errorf("%w: axis %q not defined on node %s", ErrJobArgMismatch, axis, node)
		}
		out = out.Append(axis, chunk)
	}
	return out, nil
}

// splitMergeAxis partitions axes into the subset already defined on node
// (ownAxes) and, at most, one axis that is not (mergeAxis): a managed
// file/object argument declaring an axis beyond the job's own node's axes
// is a merge over every chunk of that axis, in the style of pypeliner's
// iobj/ifile-across-an-axis-the-job-isn't-split-on convention.
func splitMergeAxis(node identifiers.Node, axes []string) (ownAxes []string, mergeAxis string, err error) {
	for _, axis := range axes {
		if _, ok := node.Chunk(axis); ok {
			ownAxes = append(ownAxes, axis)
			continue
		}
		if mergeAxis != "" {
			return nil, "", fmt.Errorf("%w: only one merge axis supported per argument, got %q and %q", ErrJobArgMismatch, mergeAxis, axis)
		}
		mergeAxis = axis
	}
	return ownAxes, mergeAxis, nil
}

func substitute(path string, node identifiers.Node) string {
	out := path
	for _, axis := range node.Axes() {
		chunk, _ := node.Chunk(axis)
		out = strings.ReplaceAll(out, "{"+axis+"}", chunk.String())
	}
	return out
}

// Bind materialises the Placeholder against node into a concrete Arg.
func (p *Placeholder) Bind(ctx context.Context, node identifiers.Node, env BindEnv) (Arg, error) {
	switch p.Kind {
	case KindInput:
		return newUserFileArg(p, node, env, false), nil
	case KindOutput:
		return newUserFileArg(p, node, env, true), nil
	case KindIFile:
		return newManagedFileArg(ctx, p, node, env, false)
	case KindOFile:
		return newManagedFileArg(ctx, p, node, env, true)
	case KindIObj:
		return newManagedObjArg(ctx, p, node, env, false)
	case KindOObj:
		return newManagedObjArg(ctx, p, node, env, true)
	case KindInst:
		return newInstArg(p, node)
	case KindIChunks:
		return newIChunksArg(p, node, env)
	case KindOChunks:
		return newOChunksArg(p, node, env)
	case KindTmpFile:
		return newTmpFileArg(p, node, env), nil
	case KindTemplate:
		return newTemplateArg(p, node)
	default:
		return nil, fmt.Errorf("jobs: unknown placeholder kind %v", p.Kind)
	}
}

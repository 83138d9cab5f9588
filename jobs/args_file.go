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
	"os"
	"path/filepath"

	"github.com/dagrunner/pipeliner/identifiers"
	"github.com/dagrunner/pipeliner/resourcemgr"
)

// userFileArg backs input(path)/output(path): a resource rooted at the
// workflow root whose path may be substituted per node, but whose
// resource identity (and on-disk location) is the substituted path
// itself, since two nodes producing distinct substituted paths are
// distinct resources even though both key off the root node.
type userFileArg struct {
	noopArg
	key    identifiers.ResourceKey
	path   string
	output bool
	res    *resourcemgr.Manager
}

func newUserFileArg(p *Placeholder, node identifiers.Node, env BindEnv, output bool) *userFileArg {
	path := substitute(p.Path, node)
	key := identifiers.ResourceKey{Name: path, Node: identifiers.Root}
	env.Resources.Register(resourcemgr.Descriptor{Key: key, Kind: resourcemgr.File, Path: path})
	return &userFileArg{key: key, path: path, output: output, res: env.Resources}
}

func (a *userFileArg) GetInputs() []identifiers.ResourceKey {
	if a.output {
		return nil
	}
	return []identifiers.ResourceKey{a.key}
}

func (a *userFileArg) GetOutputs() []identifiers.ResourceKey {
	if !a.output {
		return nil
	}
	return []identifiers.ResourceKey{a.key}
}

func (a *userFileArg) Prepare(ctx context.Context) error {
	if !a.output {
		return nil
	}
	return os.MkdirAll(filepath.Dir(a.path), 0o755)
}

func (a *userFileArg) Resolve(ctx context.Context) (any, error) { return a.path, nil }

func (a *userFileArg) UpdateDB(ctx context.Context) error {
	if !a.output {
		return nil
	}
	return a.res.UpdateOnWrite(ctx, a.key, "")
}

// managedFileArg backs ifile/ofile: a tracked temporary resource written
// to a scratch path and committed through the resource manager's
// content-addressed overwrite, so byte-identical reruns do not disturb
// downstream mtimes.
type managedFileArg struct {
	key       identifiers.ResourceKey
	finalPath string
	tmpPath   string
	output    bool
	shared    bool
	res       *resourcemgr.Manager
	remote    RemoteStore
}

func newManagedFileArg(ctx context.Context, p *Placeholder, node identifiers.Node, env BindEnv, output bool) (Arg, error) {
	ownAxes, mergeAxis, err := splitMergeAxis(node, p.Axes)
	if err != nil {
		return nil, err
	}
	if mergeAxis != "" {
		if output {
			return nil, fmt.Errorf("%w: ofile %q cannot merge over axis %q", ErrInvalidDefinition, p.Name, mergeAxis)
		}
		return newMergedFileArg(ctx, p, node, ownAxes, mergeAxis, env)
	}

	projNode, err := projectedNode(node, p.Axes)
	if err != nil {
		return nil, err
	}
	key := identifiers.ResourceKey{Name: p.Name, Node: projNode}
	finalPath := env.Resources.TempPath(p.Name, projNode)
	env.Resources.Register(resourcemgr.Descriptor{Key: key, Kind: resourcemgr.File, Path: finalPath, Temporary: true, Shared: p.SharedFlag})
	return &managedFileArg{
		key:       key,
		finalPath: finalPath,
		tmpPath:   finalPath + ".tmp",
		output:    output,
		shared:    p.SharedFlag,
		res:       env.Resources,
		remote:    env.Remote,
	}, nil
}

// mergedFileArg backs an ifile(name, axes) declaration whose axes reach
// beyond the job instance's own node: one file resource per chunk of the
// merge axis, gathered into a single map the user function receives.
// Merge-shaped arguments are read-only — merging on write would make
// several chunks race to produce one resource — so mergedFileArg only
// ever appears on the input side.
type mergedFileArg struct {
	noopArg
	keys  []identifiers.ResourceKey
	paths map[string]string
}

func newMergedFileArg(ctx context.Context, p *Placeholder, node identifiers.Node, ownAxes []string, mergeAxis string, env BindEnv) (*mergedFileArg, error) {
	ownNode, err := projectedNode(node, ownAxes)
	if err != nil {
		return nil, err
	}
	chunks, ok, err := env.Nodes.Chunks(ctx, mergeAxis, ownNode)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: axis %q at %s", ErrAxisNotReady, mergeAxis, ownNode)
	}
	keys := make([]identifiers.ResourceKey, 0, len(chunks))
	paths := make(map[string]string, len(chunks))
	for _, c := range chunks {
		childNode := ownNode.Append(mergeAxis, c)
		key := identifiers.ResourceKey{Name: p.Name, Node: childNode}
		path := env.Resources.TempPath(p.Name, childNode)
		env.Resources.Register(resourcemgr.Descriptor{Key: key, Kind: resourcemgr.File, Path: path, Temporary: true, Shared: p.SharedFlag})
		keys = append(keys, key)
		paths[c.String()] = path
	}
	return &mergedFileArg{keys: keys, paths: paths}, nil
}

func (a *mergedFileArg) GetInputs() []identifiers.ResourceKey { return a.keys }
func (a *mergedFileArg) Prepare(ctx context.Context) error     { return nil }
func (a *mergedFileArg) Resolve(ctx context.Context) (any, error) {
	return a.paths, nil
}

func (a *managedFileArg) GetInputs() []identifiers.ResourceKey {
	if a.output {
		return nil
	}
	return []identifiers.ResourceKey{a.key}
}

func (a *managedFileArg) GetOutputs() []identifiers.ResourceKey {
	if !a.output {
		return nil
	}
	return []identifiers.ResourceKey{a.key}
}

func (a *managedFileArg) Prepare(ctx context.Context) error {
	return os.MkdirAll(filepath.Dir(a.finalPath), 0o755)
}

func (a *managedFileArg) Pull(ctx context.Context) error {
	if a.output || !a.shared || a.remote == nil {
		return nil
	}
	return a.remote.Pull(ctx, a.key, a.finalPath)
}

func (a *managedFileArg) Resolve(ctx context.Context) (any, error) {
	if a.output {
		return a.tmpPath, nil
	}
	return a.finalPath, nil
}

func (a *managedFileArg) Push(ctx context.Context) error {
	if !a.output || !a.shared || a.remote == nil {
		return nil
	}
	// Push runs before UpdateDB moves the job's output to finalPath, so
	// the fresh content is still at tmpPath.
	return a.remote.Push(ctx, a.key, a.tmpPath)
}

func (a *managedFileArg) UpdateDB(ctx context.Context) error {
	if !a.output {
		return nil
	}
	if _, err := os.Stat(a.tmpPath); err != nil {
		return fmt.Errorf("jobs: ofile %s: job did not write expected output: %w", a.key, err)
	}
	return a.res.UpdateOnWrite(ctx, a.key, a.tmpPath)
}

// tmpFileArg backs tmpfile(name): an untracked scratch path, not a
// resource at all.
type tmpFileArg struct {
	noopArg
	path string
}

func newTmpFileArg(p *Placeholder, node identifiers.Node, env BindEnv) *tmpFileArg {
	return &tmpFileArg{path: filepath.Join(env.TempDir, "scratch", p.Name, node.Subdir())}
}

func (a *tmpFileArg) Prepare(ctx context.Context) error {
	return os.MkdirAll(filepath.Dir(a.path), 0o755)
}

func (a *tmpFileArg) Resolve(ctx context.Context) (any, error) { return a.path, nil }

// templateArg backs template(path, axes...): a bare substituted string,
// no resource tracking.
type templateArg struct {
	noopArg
	value string
}

func newTemplateArg(p *Placeholder, node identifiers.Node) (*templateArg, error) {
	projNode, err := projectedNode(node, p.Axes)
	if err != nil {
		return nil, err
	}
	return &templateArg{value: substitute(p.Path, projNode)}, nil
}

func (a *templateArg) Prepare(ctx context.Context) error      { return nil }
func (a *templateArg) Resolve(ctx context.Context) (any, error) { return a.value, nil }

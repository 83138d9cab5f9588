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
	"encoding/json"
	"fmt"

	"github.com/dagrunner/pipeliner/identifiers"
	"github.com/dagrunner/pipeliner/resourcemgr"
)

// ObjectSink is what an oobj argument resolves to: the job callable
// assigns Value, and UpdateDB serializes it into the resource manager
// once the job returns successfully.
type ObjectSink struct {
	Value any
}

// managedObjArg backs iobj/oobj: a JSON-serialized value tracked through
// the resource manager's Object kind.
type managedObjArg struct {
	key    identifiers.ResourceKey
	output bool
	shared bool
	res    *resourcemgr.Manager
	remote RemoteStore
	sink   *ObjectSink
}

func newManagedObjArg(ctx context.Context, p *Placeholder, node identifiers.Node, env BindEnv, output bool) (Arg, error) {
	ownAxes, mergeAxis, err := splitMergeAxis(node, p.Axes)
	if err != nil {
		return nil, err
	}
	if mergeAxis != "" {
		if output {
			return nil, fmt.Errorf("%w: oobj %q cannot merge over axis %q", ErrInvalidDefinition, p.Name, mergeAxis)
		}
		return newMergedObjArg(ctx, p, node, ownAxes, mergeAxis, env)
	}

	projNode, err := projectedNode(node, p.Axes)
	if err != nil {
		return nil, err
	}
	key := identifiers.ResourceKey{Name: p.Name, Node: projNode}
	env.Resources.Register(resourcemgr.Descriptor{Key: key, Kind: resourcemgr.Object, Shared: p.SharedFlag})
	return &managedObjArg{key: key, output: output, shared: p.SharedFlag, res: env.Resources, remote: env.Remote}, nil
}

// mergedObjArg backs an iobj(name, axes) declaration whose axes reach
// beyond the job instance's own node: one object resource per chunk of
// the merge axis, gathered into a single map keyed by chunk string. Like
// mergedFileArg, it is read-only.
type mergedObjArg struct {
	noopArg
	res       *resourcemgr.Manager
	keys      []identifiers.ResourceKey
	chunkKeys map[string]identifiers.ResourceKey
}

func newMergedObjArg(ctx context.Context, p *Placeholder, node identifiers.Node, ownAxes []string, mergeAxis string, env BindEnv) (*mergedObjArg, error) {
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
	chunkKeys := make(map[string]identifiers.ResourceKey, len(chunks))
	for _, c := range chunks {
		childNode := ownNode.Append(mergeAxis, c)
		key := identifiers.ResourceKey{Name: p.Name, Node: childNode}
		env.Resources.Register(resourcemgr.Descriptor{Key: key, Kind: resourcemgr.Object, Shared: p.SharedFlag})
		keys = append(keys, key)
		chunkKeys[c.String()] = key
	}
	return &mergedObjArg{res: env.Resources, keys: keys, chunkKeys: chunkKeys}, nil
}

func (a *mergedObjArg) GetInputs() []identifiers.ResourceKey { return a.keys }
func (a *mergedObjArg) Prepare(ctx context.Context) error     { return nil }

func (a *mergedObjArg) Resolve(ctx context.Context) (any, error) {
	out := make(map[string]any, len(a.chunkKeys))
	for chunk, key := range a.chunkKeys {
		raw, ok, err := a.res.ObjectPayload(ctx, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("jobs: iobj %s: no value stored", key)
		}
		var value any
		if err := json.Unmarshal(raw, &value); err != nil {
			return nil, fmt.Errorf("jobs: iobj %s: decode: %w", key, err)
		}
		out[chunk] = value
	}
	return out, nil
}

func (a *managedObjArg) GetInputs() []identifiers.ResourceKey {
	if a.output {
		return nil
	}
	return []identifiers.ResourceKey{a.key}
}

func (a *managedObjArg) GetOutputs() []identifiers.ResourceKey {
	if !a.output {
		return nil
	}
	return []identifiers.ResourceKey{a.key}
}

func (a *managedObjArg) Exists(ctx context.Context) (bool, error) {
	return a.res.Exists(ctx, a.key)
}

func (a *managedObjArg) Prepare(ctx context.Context) error { return nil }

func (a *managedObjArg) Pull(ctx context.Context) error {
	// Object payloads live in the KV store itself; a remote store only
	// ever backs the File kind. Nothing to do here.
	return nil
}

func (a *managedObjArg) Push(ctx context.Context) error { return nil }

func (a *managedObjArg) Resolve(ctx context.Context) (any, error) {
	if a.output {
		a.sink = &ObjectSink{}
		return a.sink, nil
	}
	raw, ok, err := a.res.ObjectPayload(ctx, a.key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("jobs: iobj %s: no value stored", a.key)
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("jobs: iobj %s: decode: %w", a.key, err)
	}
	return value, nil
}

func (a *managedObjArg) UpdateDB(ctx context.Context) error {
	if !a.output {
		return nil
	}
	raw, err := json.Marshal(a.sink.Value)
	if err != nil {
		return fmt.Errorf("jobs: oobj %s: encode: %w", a.key, err)
	}
	return a.res.SetObjectPayload(ctx, a.key, raw)
}

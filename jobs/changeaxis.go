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
	"io"
	"os"
	"path/filepath"

	"github.com/dagrunner/pipeliner/identifiers"
	"github.com/dagrunner/pipeliner/resourcemgr"
)

// ChangeAxisDefinition aliases the chunk set an axis currently holds
// under a new axis name and copies a named file resource's content
// across so that a job declaring NewAxis pairs with one split on
// OldAxis — used when two axes split independently turn out to share
// the same chunk identity (e.g. a file split before and after a
// transform, then rejoined for a paired job).
type ChangeAxisDefinition struct {
	Name    string
	ResName string
	OldAxis string
	NewAxis string
}

// CreateInstances binds the definition to every node (in practice a
// single Root node, since a change-axis definition has no axes of its
// own — it depends on OldAxis already being defined, not on being split
// over it).
func (d *ChangeAxisDefinition) CreateInstances(ctx context.Context, nodes []identifiers.Node, env BindEnv) ([]*ChangeAxisInstance, error) {
	instances := make([]*ChangeAxisInstance, 0, len(nodes))
	for _, node := range nodes {
		instances = append(instances, &ChangeAxisInstance{
			DefName:   d.Name,
			Node:      node,
			resName:   d.ResName,
			oldAxis:   d.OldAxis,
			newAxis:   d.NewAxis,
			env:       env,
			nodeInput: env.Nodes.GetNodeInputs(node),
		})
	}
	return instances, nil
}

// ChangeAxisInstance is a bound ChangeAxisDefinition.
type ChangeAxisInstance struct {
	DefName   string
	Node      identifiers.Node
	resName   string
	oldAxis   string
	newAxis   string
	env       BindEnv
	nodeInput []identifiers.ResourceKey

	RequiredDownstream bool
}

// SetRequiredDownstream marks this instance as forced to run because a
// downstream consumer is out of date.
func (inst *ChangeAxisInstance) SetRequiredDownstream(v bool) { inst.RequiredDownstream = v }

// ID uniquely identifies the instance within a graph.
func (inst *ChangeAxisInstance) ID() string { return inst.DefName + "@" + inst.Node.Key() }

// GetInputs returns the node-definition resources plus OldAxis's
// chunk-set mtime.
func (inst *ChangeAxisInstance) GetInputs() []identifiers.ResourceKey {
	keys := append([]identifiers.ResourceKey{}, inst.nodeInput...)
	return append(keys, inst.env.Nodes.AxisResourceKey(inst.oldAxis, inst.Node))
}

// GetOutputs returns the resource whose mtime tracks NewAxis's
// chunk-set definition.
func (inst *ChangeAxisInstance) GetOutputs() []identifiers.ResourceKey {
	return []identifiers.ResourceKey{inst.env.Nodes.AxisResourceKey(inst.newAxis, inst.Node)}
}

// OutOfDate reports whether NewAxis has not yet been aliased from
// OldAxis at this node.
func (inst *ChangeAxisInstance) OutOfDate(ctx context.Context) (bool, error) {
	if inst.RequiredDownstream {
		return true, nil
	}
	ok, err := inst.env.Nodes.ChunksDefined(ctx, inst.newAxis, inst.Node)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// Explain returns a human-readable reason this instance is out of date.
func (inst *ChangeAxisInstance) Explain(ctx context.Context) (string, error) {
	outOfDate, err := inst.OutOfDate(ctx)
	if err != nil || !outOfDate {
		return "", err
	}
	return fmt.Sprintf("axis %q not yet aliased from %q", inst.newAxis, inst.oldAxis), nil
}

// Run copies OldAxis's chunk set to NewAxis, chunk by chunk copying the
// named resource's file content from the old-axis node to the
// corresponding new-axis node before committing the alias.
func (inst *ChangeAxisInstance) Run(ctx context.Context) error {
	chunks, ok, err := inst.env.Nodes.Chunks(ctx, inst.oldAxis, inst.Node)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("jobs: changeaxis %s: axis %q not defined at %s", inst.DefName, inst.oldAxis, inst.Node)
	}
	for _, c := range chunks {
		oldNode := inst.Node.Append(inst.oldAxis, c)
		newNode := inst.Node.Append(inst.newAxis, c)
		oldPath := inst.env.Resources.TempPath(inst.resName, oldNode)
		newPath := inst.env.Resources.TempPath(inst.resName, newNode)
		if err := copyFile(oldPath, newPath); err != nil {
			return fmt.Errorf("jobs: changeaxis %s: copy chunk %s: %w", inst.DefName, c, err)
		}
		newKey := identifiers.ResourceKey{Name: inst.resName, Node: newNode}
		inst.env.Resources.Register(resourcemgr.Descriptor{Key: newKey, Kind: resourcemgr.File, Path: newPath, Temporary: true})
		if err := inst.env.Resources.UpdateOnWrite(ctx, newKey, newPath); err != nil {
			return err
		}
	}
	return inst.env.Nodes.StoreChunks(ctx, inst.newAxis, inst.Node, chunks)
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

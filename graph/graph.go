// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dagrunner/pipeliner/identifiers"
	"github.com/dagrunner/pipeliner/jobs"
	"github.com/dagrunner/pipeliner/nodemgr"
	"github.com/dagrunner/pipeliner/resourcemgr"
)

// CompletionStore is the subset of a persisted job-completion shelf the
// graph needs to remove a vanished instance's record during Regenerate.
// storage/badgerkv.Shelf satisfies this.
type CompletionStore interface {
	Delete(ctx context.Context, key string) error
}

// Graph holds the current set of bound job instances, the producer and
// consumer edges between them, and the pending/running state the
// scheduler drives through PopNextJob/NotifyCompleted.
type Graph struct {
	mu      sync.Mutex
	sources []Source
	nodes   *nodemgr.Manager
	env     jobs.BindEnv

	instances map[string]Instance
	dependsOn map[string][]string // instance ID -> upstream instance IDs (producers of its inputs)
	consumers map[string][]string // resource key -> instance IDs that read it as an input

	mustRun   map[string]bool
	completed map[string]bool
	running   map[string]bool

	// resources and completedShelf are optional cleanup hooks set by
	// SetCleanupHooks. When both are nil (the default), Regenerate only
	// forgets vanished instances from the in-memory completed set, as
	// before; when set, it also removes their temporary outputs and
	// persisted completion records.
	resources      *resourcemgr.Manager
	completedShelf CompletionStore
}

// New constructs an empty Graph over sources, to be populated by
// Regenerate.
func New(nodes *nodemgr.Manager, env jobs.BindEnv, sources ...Source) *Graph {
	return &Graph{
		sources:   sources,
		nodes:     nodes,
		env:       env,
		instances: make(map[string]Instance),
		dependsOn: make(map[string][]string),
		mustRun:   make(map[string]bool),
		completed: make(map[string]bool),
		running:   make(map[string]bool),
	}
}

// SetCleanupHooks wires a resource manager and a persisted completion
// shelf into the graph so Regenerate can actually clean up a vanished
// split chunk's downstream outputs (open question (a)), and so
// NotifyCompleted's caller can ask CleanupReady which of a just-finished
// instance's temporary outputs are safe to remove. Both nil (the
// default) leaves Regenerate's shrink handling in-memory only.
func (g *Graph) SetCleanupHooks(resources *resourcemgr.Manager, completedShelf CompletionStore) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resources = resources
	g.completedShelf = completedShelf
}

// AddSource registers an additional definition source, for sub-workflow
// expansion that splices new job definitions in after the parent
// sub-workflow instance has run.
func (g *Graph) AddSource(src Source) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sources = append(g.sources, src)
}

// Regenerate rebuilds the instance set from the current definitions and
// node manager: retrieve nodes per source, bind instances, wire
// producer/consumer edges from shared resource keys, detect cycles, and
// mark required-downstream instances. Instances already marked completed
// (by ID) remain completed across calls.
func (g *Graph) Regenerate(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	instances := make(map[string]Instance)
	for _, src := range g.sources {
		built, ok, err := src.CreateInstances(ctx, g.nodes, g.env)
		if err != nil {
			return fmt.Errorf("graph: regenerate %s: %w", src.DefinitionName(), err)
		}
		if !ok {
			continue // axes not yet materialised; deferred to a later regeneration
		}
		for _, inst := range built {
			instances[inst.ID()] = inst
		}
	}

	producers := make(map[string]string, len(instances))
	for id, inst := range instances {
		for _, key := range inst.GetOutputs() {
			rk := key.Key()
			if owner, exists := producers[rk]; exists && owner != id {
				return &DuplicateOutputError{Resource: rk, FirstOwner: owner, SecondOwner: id}
			}
			producers[rk] = id
		}
	}

	dependsOn := make(map[string][]string, len(instances))
	consumers := make(map[string][]string)
	for id, inst := range instances {
		seen := make(map[string]bool)
		for _, key := range inst.GetInputs() {
			consumers[key.Key()] = append(consumers[key.Key()], id)
			producer, ok := producers[key.Key()]
			if !ok || producer == id || seen[producer] {
				continue
			}
			seen[producer] = true
			dependsOn[id] = append(dependsOn[id], producer)
		}
		sort.Strings(dependsOn[id])
	}
	for key := range consumers {
		sort.Strings(consumers[key])
	}

	if err := detectCycles(instances, dependsOn); err != nil {
		return err
	}

	mustRun := make(map[string]bool, len(instances))
	for id, inst := range instances {
		if prevRunning := g.running[id]; prevRunning {
			mustRun[id] = true
			continue
		}
		inst.SetRequiredDownstream(false)
		outOfDate, err := inst.OutOfDate(ctx)
		if err != nil {
			return fmt.Errorf("graph: out-of-date check for %s: %w", id, err)
		}
		mustRun[id] = outOfDate
	}

	queue := make([]string, 0, len(mustRun))
	for id, v := range mustRun {
		if v {
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, upstream := range dependsOn[id] {
			if mustRun[upstream] {
				continue
			}
			mustRun[upstream] = true
			if inst, ok := instances[upstream]; ok {
				inst.SetRequiredDownstream(true)
			}
			queue = append(queue, upstream)
		}
	}

	// Open question (a): when a split's chunk set shrinks, the
	// instances it used to produce for the dropped chunks vanish from
	// this regeneration's instance set. Their outputs are cleaned and
	// their persisted completion record removed, conservatively, so a
	// future regeneration that resurrects the same chunk reruns its
	// producer rather than trusting stale state.
	for id := range g.completed {
		if _, ok := instances[id]; ok {
			continue
		}
		if oldInst, found := g.instances[id]; found && g.resources != nil {
			for _, key := range oldInst.GetOutputs() {
				if err := g.resources.Cleanup(ctx, key); err != nil {
					return fmt.Errorf("graph: cleanup vanished instance %s output %s: %w", id, key, err)
				}
			}
		}
		if g.completedShelf != nil {
			if err := g.completedShelf.Delete(ctx, id); err != nil {
				return fmt.Errorf("graph: delete completion record %s: %w", id, err)
			}
		}
		delete(g.completed, id)
	}

	g.instances = instances
	g.dependsOn = dependsOn
	g.consumers = consumers
	g.mustRun = mustRun
	return nil
}

// CleanupReady returns the output resource keys of a completed instance
// whose every known consumer in the current graph has itself completed
// (or which has no known consumer at all), making them safe to pass to
// resourcemgr.Manager.Cleanup. Call after NotifyCompleted; resourcemgr
// itself is a no-op for non-temporary (user-facing) resources, so the
// caller need not filter those out first.
func (g *Graph) CleanupReady(id string) []identifiers.ResourceKey {
	g.mu.Lock()
	defer g.mu.Unlock()
	inst, ok := g.instances[id]
	if !ok {
		return nil
	}
	var ready []identifiers.ResourceKey
	for _, key := range inst.GetOutputs() {
		allDone := true
		for _, consumer := range g.consumers[key.Key()] {
			if consumer == id || g.completed[consumer] {
				continue
			}
			allDone = false
			break
		}
		if allDone {
			ready = append(ready, key)
		}
	}
	return ready
}

// detectCycles runs a DFS with a recursion stack over the dependency
// adjacency list, reconstructing the offending path on a back edge.
func detectCycles(instances map[string]Instance, dependsOn map[string][]string) error {
	visited := make(map[string]bool, len(instances))
	onStack := make(map[string]bool, len(instances))
	var path []string

	ids := make([]string, 0, len(instances))
	for id := range instances {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var dfs func(id string) error
	dfs = func(id string) error {
		visited[id] = true
		onStack[id] = true
		path = append(path, id)

		for _, dep := range dependsOn[id] {
			if !visited[dep] {
				if err := dfs(dep); err != nil {
					return err
				}
			} else if onStack[dep] {
				start := 0
				for i, n := range path {
					if n == dep {
						start = i
						break
					}
				}
				cycle := append(append([]string(nil), path[start:]...), dep)
				return &CycleError{Path: cycle}
			}
		}

		path = path[:len(path)-1]
		onStack[id] = false
		return nil
	}

	for _, id := range ids {
		if !visited[id] {
			if err := dfs(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// PopNextJob returns the ID of any instance whose upstream instances have
// all either completed or never needed to run, and which itself must run
// and is not already running. Returns ErrNoJobs when nothing is ready and
// nothing is currently running (terminal quiescence); returns ("", nil)
// when nothing is ready yet but work is still in flight.
func (g *Graph) PopNextJob() (string, Instance, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var ready []string
	for id := range g.mustRun {
		if !g.mustRun[id] || g.completed[id] || g.running[id] {
			continue
		}
		if g.upstreamSatisfied(id) {
			ready = append(ready, id)
		}
	}
	if len(ready) == 0 {
		if len(g.running) == 0 {
			return "", nil, ErrNoJobs
		}
		return "", nil, nil
	}
	sort.Strings(ready)
	id := ready[0]
	g.running[id] = true
	return id, g.instances[id], nil
}

func (g *Graph) upstreamSatisfied(id string) bool {
	for _, dep := range g.dependsOn[id] {
		if g.completed[dep] {
			continue
		}
		if !g.mustRun[dep] {
			continue // up to date already, nothing to wait for
		}
		return false
	}
	return true
}

// NotifyCompleted marks id as completed and removes it from the running
// set, unblocking its consumers for a future PopNextJob.
func (g *Graph) NotifyCompleted(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.running, id)
	g.completed[id] = true
}

// NotifyFailed removes id from the running set without marking it
// completed, so a retry (or a later regeneration) can pick it up again.
func (g *Graph) NotifyFailed(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.running, id)
}

// Instance looks up a bound instance by ID.
func (g *Graph) Instance(id string) (Instance, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	inst, ok := g.instances[id]
	return inst, ok
}

// Completed reports whether id has been marked completed.
func (g *Graph) Completed(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.completed[id]
}

// MarkCompletedFromShelf seeds the completed set from persisted state at
// the start of a run (or after a resume), so regeneration treats those
// instances as already done.
func (g *Graph) MarkCompletedFromShelf(ids []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, id := range ids {
		g.completed[id] = true
	}
}

// Pending reports how many instances currently must run but have not yet
// completed.
func (g *Graph) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for id, must := range g.mustRun {
		if must && !g.completed[id] {
			n++
		}
	}
	return n
}

// CompletedIDs returns the IDs of every instance marked completed, for
// diagnostics and snapshot export.
func (g *Graph) CompletedIDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]string, 0, len(g.completed))
	for id := range g.completed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PendingIDs returns the IDs of every instance that must run but has not
// completed and is not currently running.
func (g *Graph) PendingIDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var ids []string
	for id, must := range g.mustRun {
		if must && !g.completed[id] && !g.running[id] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// ReadyIDs returns the IDs of every instance that would be returned by
// the next calls to PopNextJob: must-run, not completed, not running,
// and with all upstream dependencies satisfied. Unlike PopNextJob this
// is read-only and does not check anything out.
func (g *Graph) ReadyIDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var ids []string
	for id := range g.mustRun {
		if !g.mustRun[id] || g.completed[id] || g.running[id] {
			continue
		}
		if g.upstreamSatisfied(id) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// RunningIDs returns the IDs of every instance currently checked out by
// PopNextJob and not yet reported complete or failed.
func (g *Graph) RunningIDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]string, 0, len(g.running))
	for id := range g.running {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RequiredResourceKeys returns every resource key referenced anywhere in
// the current instance set, for diagnostics (e.g. pipelinectl explain).
func (g *Graph) RequiredResourceKeys() []identifiers.ResourceKey {
	g.mu.Lock()
	defer g.mu.Unlock()
	seen := make(map[string]bool)
	var keys []identifiers.ResourceKey
	for _, inst := range g.instances {
		for _, k := range append(inst.GetInputs(), inst.GetOutputs()...) {
			if seen[k.Key()] {
				continue
			}
			seen[k.Key()] = true
			keys = append(keys, k)
		}
	}
	return keys
}

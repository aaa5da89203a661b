// Package collector computes a task's input digest, the value the cache
// store keys on. Grounded on turborepo's internal/taskhash.Tracker
// (CalculateTaskHash combines a package's file hashes, env vars, and
// dependency hashes into one task hash), adapted to a fixed four-step
// combine order (command bytes, merkle root, env pairs, then ordered
// dependency digests) in place of turborepo's TaskHashable struct hash.
// Concurrency across a batch's tasks uses golang.org/x/sync/errgroup,
// matching turborepo's own worker-pool shape in CalculateFileHashes.
package collector

import (
	"fmt"
	"sort"
	"sync"

	"github.com/omni-build/omni/internal/digest"
	"github.com/omni-build/omni/internal/merkle"
	"github.com/omni-build/omni/internal/taskgraph"
	"golang.org/x/sync/errgroup"
)

// TaskInput is everything the collector needs to digest a single task:
// a per-task, per-run snapshot cloned into each batch for independent
// mutation.
type TaskInput struct {
	Node taskgraph.NodeID

	// Command is the resolved shell command bytes for this task.
	Command string

	// InputFiles are this task's declared input_files, already resolved
	// to absolute paths (merkle.Input.Key is the OmniPath wire form used
	// as the persisted index key; merkle.Input.AbsPath is where to stat
	// and read).
	InputFiles []merkle.Input

	// EnvPairs are "KEY=VALUE" strings for exactly the env keys this task
	// considers input-affecting.
	EnvPairs []string

	// DependencyDigests are the already-computed digests of this task's
	// dependencies from earlier batches of the same run, in
	// dependency-graph order.
	DependencyDigests []digest.Digest
}

// Digest computes a single task's input digest via the fixed four-step
// combine order, reusing merkle.Index entries where mtimes haven't
// changed. It returns the digest and the updated merkle.Index (the
// caller persists it via merkle.Save when it differs from what was
// loaded).
func Digest(idx merkle.Index, in TaskInput) (digest.Digest, merkle.Index, error) {
	cmdHash := digest.OfString(in.Command)

	fileRoot, updatedIdx, err := merkle.Hash(idx, in.InputFiles)
	if err != nil {
		return digest.Zero, nil, fmt.Errorf("collector: hashing inputs for %s: %w", in.Node, err)
	}

	envHash := digest.SortedPairDigest(in.EnvPairs)

	acc := digest.Combine(cmdHash, fileRoot)
	acc = digest.Combine(acc, envHash)
	for _, dep := range in.DependencyDigests {
		acc = digest.Combine(acc, dep)
	}

	return acc, updatedIdx, nil
}

// IndexProvider returns the current merkle.Index for a project, keyed by
// project name, so that DigestBatch can read/update per-project indices
// without each caller having to pre-load every project up front.
type IndexProvider interface {
	Index(project string) (merkle.Index, error)
}

// BatchResult is one task's digest plus its (possibly updated) project
// merkle index, returned by DigestBatch.
type BatchResult struct {
	Node    taskgraph.NodeID
	Digest  digest.Digest
	Updated merkle.Index
	Err     error
}

// DigestBatch computes digests for every task in inputs concurrently,
// matching turborepo's errgroup-based CalculateFileHashes worker pool.
// Tasks belonging to the same project are serialized against each other
// (they mutate the same merkle.Index), but different projects proceed in
// parallel.
func DigestBatch(provider IndexProvider, inputs []TaskInput) ([]BatchResult, error) {
	byProject := map[string][]TaskInput{}
	for _, in := range inputs {
		byProject[in.Node.Project] = append(byProject[in.Node.Project], in)
	}

	var mu sync.Mutex
	results := make([]BatchResult, 0, len(inputs))

	var g errgroup.Group
	for project, tasks := range byProject {
		project, tasks := project, tasks
		g.Go(func() error {
			idx, err := provider.Index(project)
			if err != nil {
				return fmt.Errorf("collector: loading index for project %q: %w", project, err)
			}

			sort.Slice(tasks, func(i, j int) bool { return tasks[i].Node.Task < tasks[j].Node.Task })

			local := make([]BatchResult, 0, len(tasks))
			for _, in := range tasks {
				d, updated, err := Digest(idx, in)
				local = append(local, BatchResult{Node: in.Node, Digest: d, Updated: updated, Err: err})
				if err == nil {
					idx = updated
				}
			}

			mu.Lock()
			results = append(results, local...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Node.String() < results[j].Node.String() })
	return results, nil
}

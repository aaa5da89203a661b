// Package pipeline is the execution orchestrator: it walks a
// planner.Plan batch by batch, running each batch's tasks under a
// bounded semaphore, consulting the cache store before spawning a
// child, retrying tasks that exit nonzero (a failure to spawn is not
// retried), and folding everything into a
// result.Result per task.
//
// Grounded on turborepo's internal/core scheduler's batched DAG walk
// (one task per goroutine, gated by a semaphore, the whole batch
// awaited as a barrier before the next begins), generalized from
// turborepo's single always-pid `util.NewSemaphore` counting semaphore
// to `golang.org/x/sync/semaphore`, the ecosystem-standard weighted
// semaphore already shipped by a dependency turborepo carries
// (`golang.org/x/sync`) for a different subpackage. Retry/backoff uses
// `github.com/cenkalti/backoff/v4`, present in turborepo's own go.mod
// but unused by any turborepo source file this module drew on.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/omni-build/omni/internal/cachestore"
	"github.com/omni-build/omni/internal/collector"
	"github.com/omni-build/omni/internal/digest"
	"github.com/omni-build/omni/internal/fileset"
	"github.com/omni-build/omni/internal/merkle"
	"github.com/omni-build/omni/internal/omnierr"
	"github.com/omni-build/omni/internal/omnipath"
	"github.com/omni-build/omni/internal/planner"
	"github.com/omni-build/omni/internal/project"
	"github.com/omni-build/omni/internal/result"
	"github.com/omni-build/omni/internal/runner"
	"github.com/omni-build/omni/internal/taskgraph"
	"golang.org/x/sync/semaphore"
)

// ForcePolicy controls how a cache hit is treated.
type ForcePolicy int

const (
	// ForceNone always replays a cache hit.
	ForceNone ForcePolicy = iota
	// ForceFailed replays successful hits but re-runs a hit whose stored
	// exit code was nonzero.
	ForceFailed
	// ForceAll ignores the cache for reads; writes still happen unless
	// NoCache is set.
	ForceAll
)

// OnFailurePolicy controls how later batches react to an earlier
// failure.
type OnFailurePolicy int

const (
	// OnFailureContinue runs every remaining task regardless of failures.
	OnFailureContinue OnFailurePolicy = iota
	// OnFailureSkipDependents skips every task that depends, directly or
	// transitively, on a failed task, but still runs unrelated tasks.
	OnFailureSkipDependents
	// OnFailureAbort stops scheduling any further batch once the current
	// one has any failure.
	OnFailureAbort
)

// Config is the pipeline's run-wide execution policy.
type Config struct {
	DryRun           bool
	Force            ForcePolicy
	NoCache          bool
	OnFailure        OnFailurePolicy
	MaxConcurrency   int
	MaxRetries       int
	RetryInterval    time.Duration
	ReplayCachedLogs bool
	// KillGrace is how long a canceled task's child is given between
	// SIGTERM and SIGKILL. <=0 uses runner.DefaultKillGrace.
	KillGrace time.Duration
}

// DefaultConfig returns sane defaults: concurrency equal to the host's
// CPU count, no retries.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: runtime.NumCPU(),
		RetryInterval:  time.Second,
		KillGrace:      runner.DefaultKillGrace,
	}
}

// TaskContext is everything the pipeline needs to run and hash one
// task, assembled by the caller from the loaded workspace (command
// line, environment, and declared input/output paths already resolved
// against a root map).
type TaskContext struct {
	Task    *project.Task
	Project *project.Project

	Command string
	Cwd     string
	Env     []string // full env passed to the spawned child

	InputFiles   []merkle.Input
	HashEnvPairs []string // KEY=VALUE pairs the digest is sensitive to

	OutputPaths []omnipath.OmniPath
	Roots       omnipath.RootMap
}

// IndexStore loads and persists a project's merkle index across a run.
type IndexStore interface {
	Load(project string) (merkle.Index, error)
	Save(project string, idx merkle.Index) error
}

// LogWriter receives the whole captured output of each attempt that
// exits nonzero, once that attempt has finished; may be nil.
type LogWriter func(node taskgraph.NodeID, p []byte)

// Pipeline executes a batched plan.
type Pipeline struct {
	Plan     planner.Plan
	Graph    *taskgraph.TaskGraph // supplies each node's resolved direct dependencies
	Contexts map[taskgraph.NodeID]TaskContext
	Cache    *cachestore.Store
	Indexes  IndexStore
	Config   Config
	OnLog    LogWriter

	depDigests map[taskgraph.NodeID]digest.Digest
	mu         sync.Mutex
}

// Run executes the plan to completion (or cancellation), returning one
// result.Result per scheduled/skipped task, in plan order.
func (p *Pipeline) Run(ctx context.Context) ([]result.Result, error) {
	if p.Config.MaxConcurrency <= 0 {
		p.Config.MaxConcurrency = runtime.NumCPU()
	}
	sem := semaphore.NewWeighted(int64(p.Config.MaxConcurrency))

	var results []result.Result
	failedTasks := map[string]bool{} // "project#task" names that failed or errored
	prevBatchHadFailure := false

	indexCache := map[string]merkle.Index{}

	for _, batch := range p.Plan {
		select {
		case <-ctx.Done():
			for _, n := range batch {
				results = append(results, result.Skipped(n, result.ReasonPreviousBatchFailure))
			}
			continue
		default:
		}

		if p.Config.OnFailure == OnFailureAbort && prevBatchHadFailure {
			for _, n := range batch {
				results = append(results, result.Skipped(n, result.ReasonPreviousBatchFailure))
			}
			continue
		}

		type slot struct {
			idx int
			r   result.Result
		}
		out := make([]slot, len(batch))
		nodeIdx := make(map[taskgraph.NodeID]int, len(batch))
		active := make([]taskgraph.NodeID, 0, len(batch))

		for i, node := range batch {
			nodeIdx[node] = i
			tc, ok := p.Contexts[node]
			if !ok {
				out[i] = slot{i, result.Errored(node, "no execution context for task", 0)}
				continue
			}

			if p.Config.OnFailure == OnFailureSkipDependents && p.dependsOnFailed(node, failedTasks) {
				out[i] = slot{i, result.Skipped(node, result.ReasonDependeeTaskFailure)}
				continue
			}
			if !tc.Task.Enabled {
				out[i] = slot{i, result.Skipped(node, result.ReasonDisabled)}
				continue
			}
			active = append(active, node)
		}

		// Digest every active task in this batch in one call, concurrent
		// across projects (serialized within a project, since sibling
		// tasks mutate the same merkle.Index).
		digests, digestErr := p.digestBatch(active, indexCache)

		var wg sync.WaitGroup
		for _, node := range active {
			i := nodeIdx[node]
			tc := p.Contexts[node]
			d, ok := digests[node]
			if !ok {
				msg := "digesting inputs"
				if digestErr != nil {
					msg = fmt.Sprintf("digesting inputs: %s", digestErr)
				}
				out[i] = slot{i, result.Errored(node, msg, 0)}
				continue
			}

			wg.Add(1)
			go func(i int, node taskgraph.NodeID, tc TaskContext, d digest.Digest) {
				defer wg.Done()
				if err := sem.Acquire(ctx, 1); err != nil {
					out[i] = slot{i, result.Skipped(node, result.ReasonPreviousBatchFailure)}
					return
				}
				defer sem.Release(1)
				out[i] = slot{i, p.runOne(ctx, node, tc, d)}
			}(i, node, tc, d)
		}
		wg.Wait()

		batchFailed := false
		for _, s := range out {
			results = append(results, s.r)
			if s.r.IsFailure() {
				batchFailed = true
				failedTasks[s.r.Task.String()] = true
			}
			// A dependee-failure skip also propagates to its own
			// dependents, so skip-dependents reaches the full
			// direct-or-transitive chain from the original failure,
			// not just the immediate failed task.
			if s.r.IsSkippedDueToError() {
				failedTasks[s.r.Task.String()] = true
			}
		}
		prevBatchHadFailure = batchFailed
	}

	if p.Indexes != nil {
		for projectName, idx := range indexCache {
			p.Indexes.Save(projectName, idx)
		}
	}

	return results, nil
}

// dependsOnFailed checks node's already-resolved graph edges (not its
// raw TaskDependency tags, which an upstream dependency can fan out
// into many edges) for a direct dependency that failed.
func (p *Pipeline) dependsOnFailed(node taskgraph.NodeID, failedTasks map[string]bool) bool {
	if p.Graph == nil {
		return false
	}
	for _, dep := range p.Graph.DirectDependencies(node) {
		if failedTasks[dep.String()] {
			return true
		}
	}
	return false
}

func (p *Pipeline) loadIndex(indexCache map[string]merkle.Index, projectName string) merkle.Index {
	p.mu.Lock()
	defer p.mu.Unlock()
	if idx, ok := indexCache[projectName]; ok {
		return idx
	}
	var idx merkle.Index
	if p.Indexes != nil {
		idx, _ = p.Indexes.Load(projectName)
	}
	indexCache[projectName] = idx
	return idx
}

func (p *Pipeline) storeIndex(indexCache map[string]merkle.Index, projectName string, idx merkle.Index) {
	p.mu.Lock()
	defer p.mu.Unlock()
	indexCache[projectName] = idx
}

// pipelineIndexProvider adapts the pipeline's indexCache to
// collector.IndexProvider so DigestBatch can read a project's current
// merkle.Index without the caller pre-loading every project up front.
type pipelineIndexProvider struct {
	p          *Pipeline
	indexCache map[string]merkle.Index
}

func (ip pipelineIndexProvider) Index(projectName string) (merkle.Index, error) {
	return ip.p.loadIndex(ip.indexCache, projectName), nil
}

// digestBatch computes every active node's input digest for the current
// batch via collector.DigestBatch, storing each project's updated
// merkle.Index and recording each node's digest for downstream dependents.
// It returns a digest per successfully-digested node; a node missing from
// the map failed to digest (digestErr, if non-nil, applies to all of
// them; per-node errors are folded into the same failure since
// DigestBatch doesn't separate them from a hard stop).
func (p *Pipeline) digestBatch(active []taskgraph.NodeID, indexCache map[string]merkle.Index) (map[taskgraph.NodeID]digest.Digest, error) {
	digests := make(map[taskgraph.NodeID]digest.Digest, len(active))
	if len(active) == 0 {
		return digests, nil
	}

	inputs := make([]collector.TaskInput, 0, len(active))
	for _, node := range active {
		tc := p.Contexts[node]
		inputs = append(inputs, collector.TaskInput{
			Node:              node,
			Command:           tc.Command,
			InputFiles:        tc.InputFiles,
			EnvPairs:          tc.HashEnvPairs,
			DependencyDigests: p.dependencyDigests(node),
		})
	}

	results, err := collector.DigestBatch(pipelineIndexProvider{p, indexCache}, inputs)
	if err != nil {
		return digests, err
	}

	for _, r := range results {
		if r.Err != nil {
			continue
		}
		p.storeIndex(indexCache, r.Node.Project, r.Updated)
		p.recordDigest(r.Node, r.Digest)
		digests[r.Node] = r.Digest
	}
	return digests, nil
}

func (p *Pipeline) runOne(ctx context.Context, node taskgraph.NodeID, tc TaskContext, d digest.Digest) result.Result {
	noCache := p.Config.NoCache || tc.Task.CachePolicy == project.CacheDisabled

	if p.Config.Force != ForceAll && !noCache && p.Cache != nil {
		hits, err := p.Cache.GetMany([]cachestore.TaskInfo{{Project: node.Project, Task: node.Task, Digest: d}})
		if err != nil {
			return result.Errored(node, fmt.Sprintf("cache lookup: %s", err), 0)
		}
		if hit, ok := hits[d]; ok {
			if hit.ExitCode == 0 || p.Config.Force != ForceFailed {
				if p.Config.ReplayCachedLogs {
					var w io.Writer = io.Discard
					p.Cache.Replay(hit, tc.Cwd, w)
				}
				return result.Completed(node, d, int(hit.ExitCode), time.Duration(hit.DurationMillis)*time.Millisecond, true, 1)
			}
		}
	}

	if p.Config.DryRun {
		return result.Completed(node, d, 0, 0, false, 1)
	}

	exitCode, logs, elapsed, tries, spawnErr := p.spawnWithRetry(ctx, node, tc)
	if spawnErr != nil {
		return result.Errored(node, spawnErr.Error(), tries)
	}

	if exitCode == 0 && !noCache && !tc.Task.Persistent && p.Cache != nil {
		outDir := ""
		if len(tc.OutputPaths) > 0 {
			files, err := fileset.Expand(tc.Cwd, tc.OutputPaths, tc.Roots)
			if err == nil && len(files) > 0 {
				staging, err := os.MkdirTemp("", "omni-outputs-*")
				if err == nil {
					defer os.RemoveAll(staging)
					if err := fileset.StageOutputs(tc.Cwd, files, staging); err == nil {
						outDir = staging
					}
				}
			}
		}
		p.Cache.CacheMany([]cachestore.NewEntry{{
			Project:   node.Project,
			Task:      node.Task,
			Digest:    d,
			ExitCode:  uint32(exitCode),
			Duration:  elapsed,
			Logs:      logs,
			OutputDir: outDir,
		}})
	}

	if exitCode != 0 {
		return result.Errored(node, fmt.Sprintf("exit code %d", exitCode), tries)
	}
	return result.Completed(node, d, exitCode, elapsed, false, tries)
}

func (p *Pipeline) recordDigest(node taskgraph.NodeID, d digest.Digest) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.depDigests == nil {
		p.depDigests = map[taskgraph.NodeID]digest.Digest{}
	}
	p.depDigests[node] = d
}

// dependencyDigests collects node's direct dependencies' already-computed
// digests, in a deterministic (sorted) order. Because the planner's
// batches are topologically layered, every direct dependency has
// already run by the time node's batch executes.
func (p *Pipeline) dependencyDigests(node taskgraph.NodeID) []digest.Digest {
	if p.Graph == nil {
		return nil
	}
	deps := p.Graph.DirectDependencies(node)
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]digest.Digest, 0, len(deps))
	for _, dep := range deps {
		if d, ok := p.depDigests[dep]; ok {
			out = append(out, d)
		}
	}
	return out
}

// spawnWithRetry runs the task's command, retrying on nonzero exit up
// to Config.MaxRetries times with Config.RetryInterval between
// attempts, skipping retries entirely for persistent (long-running)
// tasks.
func (p *Pipeline) spawnWithRetry(ctx context.Context, node taskgraph.NodeID, tc TaskContext) (exitCode int, logs []byte, elapsed time.Duration, tries int, err error) {
	start := time.Now()
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Config.RetryInterval), uint64(maxInt(p.Config.MaxRetries, 0)))

	operation := func() error {
		tries++
		code, out, spawnErr := p.spawnOnce(ctx, tc)
		exitCode = code
		logs = out
		if spawnErr != nil {
			return backoff.Permanent(spawnErr)
		}
		if code != 0 {
			if p.OnLog != nil {
				p.OnLog(node, out)
			}
			return omnierr.New(omnierr.CommandNonZero, fmt.Sprintf("exit code %d", code))
		}
		return nil
	}

	if tc.Task.Persistent {
		// persistent tasks never retry, regardless of exit code.
		tries = 1
		code, out, spawnErr := p.spawnOnce(ctx, tc)
		exitCode, logs, err = code, out, spawnErr
		elapsed = time.Since(start)
		return
	}

	retryErr := backoff.Retry(operation, policy)
	elapsed = time.Since(start)
	if retryErr != nil {
		var perm *backoff.PermanentError
		if asPermanent(retryErr, &perm) {
			err = perm.Err
		}
		// a plain retry-exhausted error just means the last attempt's
		// nonzero exit code stands; exitCode/logs already hold it.
	}
	return
}

func asPermanent(err error, target **backoff.PermanentError) bool {
	pe, ok := err.(*backoff.PermanentError)
	if ok {
		*target = pe
	}
	return ok
}

func (p *Pipeline) spawnOnce(ctx context.Context, tc TaskContext) (exitCode int, logs []byte, err error) {
	proc, err := runner.Start(ctx, runner.Options{
		Command:   tc.Command,
		Cwd:       tc.Cwd,
		Env:       tc.Env,
		Recording: true, // the pipeline always captures logs for cache storage
		KillGrace: p.Config.KillGrace,
	})
	if err != nil {
		return -1, nil, err
	}

	var buf bytes.Buffer
	var bufMu sync.Mutex
	safeWriter := safeWriterFunc(func(p []byte) (int, error) {
		bufMu.Lock()
		defer bufMu.Unlock()
		return buf.Write(p)
	})

	var wg sync.WaitGroup
	if out, ok := proc.TakeOutputReader(); ok {
		wg.Add(1)
		go func() { defer wg.Done(); io.Copy(safeWriter, out) }()
	}
	if errR, ok := proc.TakeErrorReader(); ok {
		wg.Add(1)
		go func() { defer wg.Done(); io.Copy(safeWriter, errR) }()
	}
	wg.Wait()

	code, waitErr := proc.Wait()
	if waitErr != nil {
		return code, buf.Bytes(), waitErr
	}
	return code, buf.Bytes(), nil
}

// safeWriterFunc adapts a function to io.Writer, used here to serialize
// the two concurrent stdout/stderr copy goroutines into one buffer.
type safeWriterFunc func([]byte) (int, error)

func (f safeWriterFunc) Write(p []byte) (int, error) { return f(p) }

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

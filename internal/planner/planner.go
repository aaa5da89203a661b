// Package planner turns a task graph plus a set of filters into a
// BatchedExecutionPlan. Grounded on turborepo's internal/scope/scope.go's
// glob-based package/task filter predicates and internal/core/engine.go's
// EngineExecutionOptions (ignore-dependencies, ad-hoc exec splice).
// Kahn-style layered batching is new relative to turborepo, which walks
// the DAG with a concurrent visitor rather than materializing batches;
// this design explicitly requires the materialized batch vector, so this
// package keeps dag.AcyclicGraph only for the already-built task graph and
// does its own in-degree bookkeeping for layering.
package planner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"github.com/google/cel-go/cel"
	"github.com/omni-build/omni/internal/digest"
	"github.com/omni-build/omni/internal/project"
	"github.com/omni-build/omni/internal/taskgraph"
)

// Filter selects a subset of a task graph's nodes
type Filter struct {
	// ProjectGlob matches against project names; empty matches every
	// project.
	ProjectGlob string
	// TaskGlob matches against task names; empty matches every task.
	TaskGlob string
	// Expression is a CEL boolean expression evaluated against a "meta"
	// map built from the project's and task's free-form meta bags (task
	// keys shadow project keys on conflict). Empty always matches. A key
	// the expression reads that is absent from a node's meta makes that
	// node not match.
	Expression string
	// IgnoreDependencies skips the transitive-dependency closure step
	//.
	IgnoreDependencies bool
}

// Batch is one layer of the execution plan: tasks with no remaining
// unscheduled dependency, safe to run concurrently.
type Batch []taskgraph.NodeID

// Plan is the ordered sequence of batches produced by Build.
type Plan []Batch

// Build selects nodes matching filter, computes their dependency closure
// (unless IgnoreDependencies), and returns the Kahn-style layered batch
// plan over the induced subgraph. IgnoreDependencies bypasses dependency
// ordering entirely: every selected node runs in a single batch,
// regardless of any dependency edges between them.
func Build(ws *project.Workspace, tg *taskgraph.TaskGraph, filter Filter) (Plan, error) {
	selected, err := Select(ws, tg, filter)
	if err != nil {
		return nil, err
	}

	if filter.IgnoreDependencies {
		return singleBatch(selected), nil
	}

	induced := Closure(tg, selected)
	return layer(tg, induced)
}

// singleBatch flattens nodes into exactly one batch with no dependency
// ordering considered, in deterministic order. Used for
// Filter.IgnoreDependencies, where even two selected nodes with a direct
// edge between them must run concurrently in the same batch.
func singleBatch(nodes map[taskgraph.NodeID]bool) Plan {
	if len(nodes) == 0 {
		return nil
	}
	batch := make(Batch, 0, len(nodes))
	for n := range nodes {
		batch = append(batch, n)
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].String() < batch[j].String() })
	return Plan{batch}
}

// Select computes the set S of nodes matching filter's glob and
// expression predicates.
func Select(ws *project.Workspace, tg *taskgraph.TaskGraph, filter Filter) (map[taskgraph.NodeID]bool, error) {
	projectGlob, err := compileGlob(filter.ProjectGlob)
	if err != nil {
		return nil, fmt.Errorf("invalid project glob %q: %w", filter.ProjectGlob, err)
	}
	taskGlob, err := compileGlob(filter.TaskGlob)
	if err != nil {
		return nil, fmt.Errorf("invalid task glob %q: %w", filter.TaskGlob, err)
	}

	var program cel.Program
	if filter.Expression != "" {
		program, err = compileExpression(filter.Expression)
		if err != nil {
			return nil, err
		}
	}

	out := map[taskgraph.NodeID]bool{}
	for _, node := range tg.Nodes() {
		if projectGlob != nil && !projectGlob.Match(node.Project) {
			continue
		}
		if taskGlob != nil && !taskGlob.Match(node.Task) {
			continue
		}
		if program != nil {
			p, ok := ws.Get(node.Project)
			if !ok {
				continue
			}
			task, ok := p.Tasks[node.Task]
			if !ok {
				continue
			}
			ok, err := evalExpression(program, mergeMeta(p.Meta, task.Meta))
			if err != nil {
				return nil, fmt.Errorf("evaluating expression filter for %s: %w", node, err)
			}
			if !ok {
				continue
			}
		}
		out[node] = true
	}
	return out, nil
}

// Closure extends selected with every node transitively depended on by a
// selected node.
func Closure(tg *taskgraph.TaskGraph, selected map[taskgraph.NodeID]bool) map[taskgraph.NodeID]bool {
	out := map[taskgraph.NodeID]bool{}
	var visit func(n taskgraph.NodeID)
	visit = func(n taskgraph.NodeID) {
		if out[n] {
			return
		}
		out[n] = true
		for _, dep := range tg.DirectDependencies(n) {
			visit(dep)
		}
	}
	for n := range selected {
		visit(n)
	}
	return out
}

// layer performs the Kahn-style topological batching over the subgraph
// induced by nodes: repeatedly emit every node whose remaining
// dependencies (restricted to nodes) are all already emitted.
func layer(tg *taskgraph.TaskGraph, nodes map[taskgraph.NodeID]bool) (Plan, error) {
	remaining := map[taskgraph.NodeID][]taskgraph.NodeID{}
	for n := range nodes {
		var deps []taskgraph.NodeID
		for _, d := range tg.DirectDependencies(n) {
			if nodes[d] {
				deps = append(deps, d)
			}
		}
		remaining[n] = deps
	}

	var plan Plan
	done := map[taskgraph.NodeID]bool{}
	for len(done) < len(nodes) {
		var batch Batch
		for n, deps := range remaining {
			if done[n] {
				continue
			}
			ready := true
			for _, d := range deps {
				if !done[d] {
					ready = false
					break
				}
			}
			if ready {
				batch = append(batch, n)
			}
		}
		if len(batch) == 0 {
			return nil, fmt.Errorf("planner: unable to schedule remaining %d node(s); cycle in induced subgraph", len(nodes)-len(done))
		}
		sort.Slice(batch, func(i, j int) bool { return batch[i].String() < batch[j].String() })
		for _, n := range batch {
			done[n] = true
		}
		plan = append(plan, batch)
	}
	return plan, nil
}

func compileGlob(pattern string) (glob.Glob, error) {
	if pattern == "" {
		return nil, nil
	}
	return glob.Compile(pattern)
}

func mergeMeta(projectMeta, taskMeta map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{}
	for k, v := range projectMeta {
		out[k] = v
	}
	for k, v := range taskMeta {
		out[k] = v
	}
	return out
}

// compileExpression compiles a CEL boolean expression against a single
// "meta" map(string, dyn) variable.
func compileExpression(expr string) (cel.Program, error) {
	env, err := cel.NewEnv(cel.Variable("meta", cel.MapType(cel.StringType, cel.DynType)))
	if err != nil {
		return nil, err
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, iss.Err()
	}
	return env.Program(ast)
}

// evalExpression evaluates program against meta, coercing the result to a
// boolean: "any non-empty string / non-zero number /
// non-null value is true".
func evalExpression(program cel.Program, meta map[string]interface{}) (bool, error) {
	out, _, err := program.Eval(map[string]interface{}{"meta": meta})
	if err != nil {
		// a key absent from this node's meta map means the node doesn't match.
		if strings.Contains(err.Error(), "no such key") {
			return false, nil
		}
		return false, err
	}
	return truthy(out.Value()), nil
}

func truthy(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case int64:
		return val != 0
	case float64:
		return val != 0
	case uint64:
		return val != 0
	default:
		return true
	}
}

// SynthesizeExecTaskName derives the ad-hoc task name for a command
// invocation>").
func SynthesizeExecTaskName(command string, args []string) string {
	d := digest.OfString(joinCommand(command, args))
	return "exec-" + EncodeBase58(d.Bytes())
}

func joinCommand(command string, args []string) string {
	s := command
	for _, a := range args {
		s += "\x00" + a
	}
	return s
}

// InsertAdHoc splices a synthetic task into tg for every project in
// projects, wired with a same-name Upstream edge to every other selected
// project it depends on.
func InsertAdHoc(tg *taskgraph.TaskGraph, ws *project.Workspace, projects []string, taskName string) map[taskgraph.NodeID]bool {
	selected := map[string]bool{}
	for _, p := range projects {
		selected[p] = true
	}
	nodes := map[taskgraph.NodeID]bool{}
	for _, p := range projects {
		id := taskgraph.NodeID{Project: p, Task: taskName}
		tg.AddNode(id)
		nodes[id] = true
	}
	for _, p := range projects {
		proj, ok := ws.Get(p)
		if !ok {
			continue
		}
		for _, dep := range proj.Dependencies {
			if selected[dep] {
				tg.AddEdge(taskgraph.NodeID{Project: p, Task: taskName}, taskgraph.NodeID{Project: dep, Task: taskName})
			}
		}
	}
	return nodes
}

// AdHocDefaults are the default execution options for a synthesized
// command task: dependencies are ignored, results are
// never cached, and cache reads are bypassed entirely. Callers (the
// pipeline/CLI layer) may override any of these.
type AdHocDefaults struct {
	IgnoreDependencies bool
	NoCache            bool
	Force              string // "all"
}

// DefaultAdHocOptions returns the default settings for ad-hoc exec.
func DefaultAdHocOptions() AdHocDefaults {
	return AdHocDefaults{IgnoreDependencies: true, NoCache: true, Force: "all"}
}

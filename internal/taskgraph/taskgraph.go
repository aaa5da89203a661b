// Package taskgraph expands a loaded workspace's projects and tasks into
// the (project, task) dependency graph. Grounded on turborepo's
// internal/core/engine.go's task-graph construction (AddTask/AddDep
// building a vertex per (package, task) pair before a single acyclicity
// pass), adapted to this module's three-variant TaskDependency scheme
// instead of turborepo's topological-vs-own ("^" prefix only)
// convention.
package taskgraph

import (
	"fmt"
	"sort"

	"github.com/omni-build/omni/internal/omnierr"
	"github.com/omni-build/omni/internal/project"
	"github.com/pyr-sh/dag"
)

// NodeID identifies a single (project, task) vertex.
type NodeID struct {
	Project string
	Task    string
}

func (n NodeID) String() string {
	return n.Project + "#" + n.Task
}

// TaskNotFound is a non-fatal warning produced when a TaskDependency could
// never resolve to an existing node. Callers collect these and surface them to the user.
type TaskNotFound struct {
	From   NodeID
	Wanted project.TaskDependency
	Reason string
}

func (w *TaskNotFound) String() string {
	return fmt.Sprintf("%s: dependency %s unresolved: %s", w.From, w.Wanted, w.Reason)
}

// CyclicDependency reports that the task graph, once fully built,
// contains a cycle: edges are added first, then acyclicity is verified.
type CyclicDependency struct {
	Cycle []NodeID
}

func (e *CyclicDependency) Error() string {
	parts := make([]string, len(e.Cycle))
	for i, n := range e.Cycle {
		parts[i] = n.String()
	}
	return fmt.Sprintf("cyclic task dependency: %v", parts)
}

// Kind reports omnierr.CyclicDependency.
func (e *CyclicDependency) Kind() omnierr.Kind { return omnierr.CyclicDependency }

// TaskGraph is the full (project, task) dependency graph for a workspace.
// An edge (P,T) -> (Q,U) means task (P,T) depends on task (Q,U).
type TaskGraph struct {
	g     dag.AcyclicGraph
	nodes map[NodeID]bool
	deps  map[NodeID]map[NodeID]bool
}

func newGraph() *TaskGraph {
	return &TaskGraph{
		nodes: map[NodeID]bool{},
		deps:  map[NodeID]map[NodeID]bool{},
	}
}

func (tg *TaskGraph) addNode(id NodeID) {
	if tg.nodes[id] {
		return
	}
	tg.nodes[id] = true
	tg.g.Add(id)
}

func (tg *TaskGraph) addEdge(from, to NodeID) {
	if tg.deps[from][to] {
		return
	}
	if tg.deps[from] == nil {
		tg.deps[from] = map[NodeID]bool{}
	}
	tg.deps[from][to] = true
	tg.g.Connect(dag.BasicEdge(from, to))
}

// AddNode inserts a synthetic vertex, used by the planner's ad-hoc exec
// mode to splice a command-derived task into the graph
// after it has already been built.
func (tg *TaskGraph) AddNode(id NodeID) {
	tg.addNode(id)
}

// AddEdge inserts a synthetic dependency edge between two already-present
// nodes, used by the planner's ad-hoc exec mode.
func (tg *TaskGraph) AddEdge(from, to NodeID) {
	tg.addEdge(from, to)
}

// DirectDependencies returns the nodes that id directly depends on.
func (tg *TaskGraph) DirectDependencies(id NodeID) []NodeID {
	var out []NodeID
	for to := range tg.deps[id] {
		out = append(out, to)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Nodes returns every (project, task) vertex in the graph.
func (tg *TaskGraph) Nodes() []NodeID {
	out := make([]NodeID, 0, len(tg.nodes))
	for n := range tg.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// HasNode reports whether (project, task) exists in the graph.
func (tg *TaskGraph) HasNode(id NodeID) bool {
	return tg.nodes[id]
}

// Walk visits every node after all of its dependencies have been visited.
func (tg *TaskGraph) Walk(fn func(id NodeID) error) error {
	return tg.g.Walk(func(v dag.Vertex) error {
		id, ok := v.(NodeID)
		if !ok {
			return fmt.Errorf("taskgraph: unexpected vertex type %T", v)
		}
		return fn(id)
	})
}

// Build expands ws's projects and tasks into a TaskGraph
// resolution table. It returns the graph, any non-fatal TaskNotFound
// warnings, and an error only for a detected cycle.
func Build(ws *project.Workspace) (*TaskGraph, []*TaskNotFound, error) {
	tg := newGraph()

	for _, pname := range ws.Order {
		p := ws.Projects[pname]
		for _, tname := range p.TaskOrder {
			tg.addNode(NodeID{Project: pname, Task: tname})
		}
	}

	var warnings []*TaskNotFound
	for _, pname := range ws.Order {
		p := ws.Projects[pname]
		for _, tname := range p.TaskOrder {
			from := NodeID{Project: pname, Task: tname}
			task := p.Tasks[tname]
			for _, dep := range task.Dependencies {
				warnings = append(warnings, resolveDependency(tg, ws, p, from, dep)...)
			}
		}
	}

	if cycle := tg.findCycle(); cycle != nil {
		return nil, warnings, &CyclicDependency{Cycle: cycle}
	}

	return tg, warnings, nil
}

func resolveDependency(tg *TaskGraph, ws *project.Workspace, p *project.Project, from NodeID, dep project.TaskDependency) []*TaskNotFound {
	switch dep.Kind {
	case project.DepOwn:
		if p.HasTask(dep.Task) {
			tg.addEdge(from, NodeID{Project: p.Name, Task: dep.Task})
			return nil
		}
		return []*TaskNotFound{{From: from, Wanted: dep, Reason: fmt.Sprintf("project %q has no task %q", p.Name, dep.Task)}}

	case project.DepExplicitProject:
		target, ok := ws.Get(dep.Project)
		if !ok {
			return []*TaskNotFound{{From: from, Wanted: dep, Reason: fmt.Sprintf("unknown project %q", dep.Project)}}
		}
		if !target.HasTask(dep.Task) {
			return []*TaskNotFound{{From: from, Wanted: dep, Reason: fmt.Sprintf("project %q has no task %q", dep.Project, dep.Task)}}
		}
		tg.addEdge(from, NodeID{Project: dep.Project, Task: dep.Task})
		return nil

	case project.DepUpstream:
		var matched bool
		for _, qname := range p.Dependencies {
			q, ok := ws.Get(qname)
			if !ok {
				continue
			}
			if q.HasTask(dep.Task) {
				tg.addEdge(from, NodeID{Project: qname, Task: dep.Task})
				matched = true
			}
		}
		if !matched {
			return []*TaskNotFound{{From: from, Wanted: dep, Reason: fmt.Sprintf("no dependency of project %q defines task %q", p.Name, dep.Task)}}
		}
		return nil
	}
	return []*TaskNotFound{{From: from, Wanted: dep, Reason: "unknown dependency kind"}}
}

// findCycle reports a single cycle if present, via Tarjan-style DFS over
// the recorded edges (dag.Validate also detects this, but we want the
// concrete node list for CyclicDependency, so we walk it ourselves rather
// than parsing the library's error string).
func (tg *TaskGraph) findCycle() []NodeID {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[NodeID]int{}
	var stack []NodeID
	var cycle []NodeID

	var visit func(n NodeID) bool
	visit = func(n NodeID) bool {
		color[n] = gray
		stack = append(stack, n)
		for to := range tg.deps[n] {
			switch color[to] {
			case white:
				if visit(to) {
					return true
				}
			case gray:
				idx := 0
				for i, s := range stack {
					if s == to {
						idx = i
						break
					}
				}
				cycle = append(cycle, stack[idx:]...)
				cycle = append(cycle, to)
				return true
			}
		}
		stack = stack[:len(stack)-1]
		color[n] = black
		return false
	}

	for n := range tg.nodes {
		if color[n] == white {
			if visit(n) {
				return cycle
			}
		}
	}
	return nil
}

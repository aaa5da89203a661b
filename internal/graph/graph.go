// Package graph builds the workspace's project dependency graph.
// Grounded on turborepo's internal/graph/graph.go (CompleteGraph embeds
// a dag.AcyclicGraph and walks Ancestors/Descendents to answer "what
// does this package depend on / depend on it") and
// internal/core/engine.go's AddDep/AddTask pattern of adding vertices
// before connecting edges and validating afterward. Uses
// github.com/pyr-sh/dag exactly as turborepo does, since no first-party
// replacement for a generic acyclic-graph library appears anywhere else
// in the dependency corpus.
package graph

import (
	"fmt"

	"github.com/omni-build/omni/internal/omnierr"
	"github.com/omni-build/omni/internal/project"
	"github.com/pyr-sh/dag"
)

// CyclicDependency reports that adding an edge would introduce a cycle; the
// edge is not added.
type CyclicDependency struct {
	From, To string
}

func (e *CyclicDependency) Error() string {
	return fmt.Sprintf("cyclic dependency: %s -> %s would close a cycle", e.From, e.To)
}

// Kind reports omnierr.CyclicDependency.
func (e *CyclicDependency) Kind() omnierr.Kind { return omnierr.CyclicDependency }

// EdgeAlreadyExists reports a duplicate dependency edge.
type EdgeAlreadyExists struct {
	From, To string
}

func (e *EdgeAlreadyExists) Error() string {
	return fmt.Sprintf("edge already exists: %s -> %s", e.From, e.To)
}

// Kind reports omnierr.ConfigParse: a duplicate edge means the workspace
// config declared the same dependency twice, a config-shape problem
// rather than a structural cycle.
func (e *EdgeAlreadyExists) Kind() omnierr.Kind { return omnierr.ConfigParse }

// ProjectGraph is the workspace's project dependency graph. An edge
// from -> to means "from depends on to", matching turborepo's
// WorkspaceGraph convention in internal/graph/graph.go.
type ProjectGraph struct {
	g     dag.AcyclicGraph
	edges map[string]map[string]bool
}

// New returns an empty ProjectGraph.
func New() *ProjectGraph {
	return &ProjectGraph{edges: map[string]map[string]bool{}}
}

// AddProject registers a project node. Safe to call more than once for the
// same name.
func (pg *ProjectGraph) AddProject(name string) {
	pg.g.Add(name)
}

// AddDependency adds the edge from -> to ("from depends on to"). Both
// endpoints must already be present (call AddProject first); this
// mirrors turborepo's two-phase add-vertices-then-connect-edges
// construction in engine.go.
//
// On a duplicate edge, returns *EdgeAlreadyExists. On a cycle, the edge is
// removed before returning *CyclicDependency, leaving the graph unchanged.
func (pg *ProjectGraph) AddDependency(from, to string) error {
	if pg.edges[from][to] {
		return &EdgeAlreadyExists{From: from, To: to}
	}

	edge := dag.BasicEdge(from, to)
	pg.g.Connect(edge)

	if err := pg.g.Validate(); err != nil {
		pg.g.RemoveEdge(edge)
		return &CyclicDependency{From: from, To: to}
	}

	if pg.edges[from] == nil {
		pg.edges[from] = map[string]bool{}
	}
	pg.edges[from][to] = true
	return nil
}

// DirectDependencies returns the projects that name directly depends on.
func (pg *ProjectGraph) DirectDependencies(name string) []string {
	var out []string
	for to := range pg.edges[name] {
		out = append(out, to)
	}
	return out
}

// Ancestors returns every project that name transitively depends on (its
// full upstream closure), matching turborepo's getTaskGraphAncestors
// naming even though the underlying dag.Ancestors call here walks the
// project graph instead of the task graph.
func (pg *ProjectGraph) Ancestors(name string) ([]string, error) {
	set, err := pg.g.Ancestors(name)
	if err != nil {
		return nil, err
	}
	return toStrings(set), nil
}

// Descendents returns every project that transitively depends on name.
func (pg *ProjectGraph) Descendents(name string) ([]string, error) {
	set, err := pg.g.Descendents(name)
	if err != nil {
		return nil, err
	}
	return toStrings(set), nil
}

// Walk visits every project exactly once, calling fn only after every
// project it depends on has already been visited (a valid topological
// order). It delegates to dag.AcyclicGraph.Walk so dependency-respecting
// concurrency is the library's job, matching turborepo's engine.Execute.
func (pg *ProjectGraph) Walk(fn func(name string) error) error {
	return pg.g.Walk(func(v dag.Vertex) error {
		name, ok := v.(string)
		if !ok {
			return fmt.Errorf("graph: unexpected vertex type %T", v)
		}
		return fn(name)
	})
}

// Vertices returns every project name currently in the graph.
func (pg *ProjectGraph) Vertices() []string {
	return toStrings(pg.g.Vertices())
}

func toStrings(set dag.Set) []string {
	out := make([]string, 0, len(set))
	for _, v := range set {
		if name, ok := v.(string); ok {
			out = append(out, name)
		}
	}
	return out
}

// Build constructs a ProjectGraph from a loaded workspace: one vertex per
// project, one from -> to edge per entry in Project.Dependencies: for
// each project -> dep in dependencies, add edge project -> dep.
func Build(ws *project.Workspace) (*ProjectGraph, error) {
	pg := New()
	for _, name := range ws.Order {
		pg.AddProject(name)
	}
	for _, name := range ws.Order {
		p := ws.Projects[name]
		for _, dep := range p.Dependencies {
			if _, ok := ws.Get(dep); !ok {
				return nil, fmt.Errorf("project %q depends on unknown project %q", name, dep)
			}
			if err := pg.AddDependency(name, dep); err != nil {
				return nil, err
			}
		}
	}
	return pg, nil
}

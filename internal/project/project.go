// Package project is the data-model and config-loading boundary: it owns
// parsing of workspace.omni.yaml / project.omni.yaml into the typed
// Project/Task/TaskDependency structs that every downstream package (graph,
// taskgraph, planner, collector, ...) consumes. Grounded on turborepo's
// internal/fs/turbo_json.go structure and the Rust reference's
// task_configuration.rs / dependency_configuration.rs field set.
package project

import (
	"fmt"

	"github.com/Masterminds/semver"
	"github.com/omni-build/omni/internal/omnierr"
	"github.com/omni-build/omni/internal/omnipath"
)

// CachePolicy controls whether a task's execution may be served from, or
// written to, the execution cache.
type CachePolicy int

const (
	// CacheEnabled allows both reads and writes.
	CacheEnabled CachePolicy = iota
	// CacheDisabled never reads or writes the cache for this task.
	CacheDisabled
)

// Task is a single named unit of work owned by a Project
type Task struct {
	Name string

	Command      string
	Dependencies []TaskDependency
	Enabled      bool
	Persistent   bool
	Interactive  bool
	CachePolicy  CachePolicy

	OutputPaths  []omnipath.OmniPath
	InputPaths   []omnipath.OmniPath
	InputEnvKeys []string

	Meta map[string]interface{}
}

// Project is a single node of the workspace's project graph
type Project struct {
	Name string
	Dir  string // absolute path
	// Tasks is an ordered mapping from task name to Task. Go maps don't
	// preserve order, so we keep a parallel name slice recording insertion
	// order from the config file.
	Tasks     map[string]*Task
	TaskOrder []string

	Dependencies []string
	Base         bool
	Meta         map[string]interface{}
}

// TaskNames returns the task names in declaration order.
func (p *Project) TaskNames() []string {
	return p.TaskOrder
}

// AddTask registers a task, preserving declaration order. It is an error to
// add the same task name twice.
func (p *Project) AddTask(t *Task) error {
	if p.Tasks == nil {
		p.Tasks = map[string]*Task{}
	}
	if _, exists := p.Tasks[t.Name]; exists {
		return omnierr.New(omnierr.ConfigParse, fmt.Sprintf("project %q: duplicate task %q", p.Name, t.Name))
	}
	p.Tasks[t.Name] = t
	p.TaskOrder = append(p.TaskOrder, t.Name)
	return nil
}

// HasTask reports whether the project declares the named task.
func (p *Project) HasTask(name string) bool {
	_, ok := p.Tasks[name]
	return ok
}

// Workspace is the fully loaded set of projects plus root-level config, the
// unit that graph/taskgraph/planner operate over.
type Workspace struct {
	Root     string // absolute path containing the root marker
	Projects map[string]*Project
	// Order preserves load order for deterministic iteration where the
	// caller hasn't otherwise sorted (e.g. ad-hoc exec fan-out).
	Order []string

	Env              []string // workspace-level passthrough env keys
	MinVersion       *semver.Constraints
	RootMarkerPath   string
	ProjectGlobs     []string
	GeneratorGlobs   []string
}

// AddProject registers a project, enforcing that a project name is
// unique within a workspace.
func (w *Workspace) AddProject(p *Project) error {
	if w.Projects == nil {
		w.Projects = map[string]*Project{}
	}
	if _, exists := w.Projects[p.Name]; exists {
		return omnierr.New(omnierr.DuplicateProjectName, fmt.Sprintf("duplicate project name: %q", p.Name))
	}
	w.Projects[p.Name] = p
	w.Order = append(w.Order, p.Name)
	return nil
}

// Get looks up a project by name.
func (w *Workspace) Get(name string) (*Project, bool) {
	p, ok := w.Projects[name]
	return p, ok
}

package project

import (
	"fmt"
	"strings"
)

// TaskDependencyKind discriminates the three TaskDependency variants.
type TaskDependencyKind int

const (
	// DepOwn depends on another task of the same project.
	DepOwn TaskDependencyKind = iota
	// DepExplicitProject depends on a specific project's task.
	DepExplicitProject
	// DepUpstream depends on the same-named task in every project this
	// project depends on, transitively via project edges.
	DepUpstream
)

// TaskDependency is the closed tagged union of dependency kinds. Its
// wire form is a short string: "task" for Own, "project#task" for
// ExplicitProject, "^task" for Upstream.
type TaskDependency struct {
	Kind    TaskDependencyKind
	Project string // only set for DepExplicitProject
	Task    string
}

// Own builds an Own dependency.
func Own(task string) TaskDependency {
	return TaskDependency{Kind: DepOwn, Task: task}
}

// ExplicitProject builds an ExplicitProject dependency.
func ExplicitProject(project, task string) TaskDependency {
	return TaskDependency{Kind: DepExplicitProject, Project: project, Task: task}
}

// Upstream builds an Upstream dependency.
func Upstream(task string) TaskDependency {
	return TaskDependency{Kind: DepUpstream, Task: task}
}

// String renders the wire form of a TaskDependency.
func (d TaskDependency) String() string {
	switch d.Kind {
	case DepUpstream:
		return "^" + d.Task
	case DepExplicitProject:
		return d.Project + "#" + d.Task
	default:
		return d.Task
	}
}

// ParseTaskDependency parses the wire form of a TaskDependency.
func ParseTaskDependency(s string) (TaskDependency, error) {
	if s == "" {
		return TaskDependency{}, fmt.Errorf("empty task dependency")
	}
	if rest, ok := strings.CutPrefix(s, "^"); ok {
		if rest == "" {
			return TaskDependency{}, fmt.Errorf("upstream task dependency missing task name: %q", s)
		}
		return Upstream(rest), nil
	}
	if idx := strings.IndexByte(s, '#'); idx >= 0 {
		proj, task := s[:idx], s[idx+1:]
		if proj == "" || task == "" {
			return TaskDependency{}, fmt.Errorf("malformed explicit-project task dependency: %q", s)
		}
		return ExplicitProject(proj, task), nil
	}
	return Own(s), nil
}

// MarshalYAML implements yaml.Marshaler.
func (d TaskDependency) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *TaskDependency) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseTaskDependency(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

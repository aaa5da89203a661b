// Package omnipath teaches the type system about paths that may be rooted
// to the workspace, rooted to a project, or left unrooted (plain relative or
// absolute strings; relative ones resolve against the project root). It is grounded on the rooted/anchored
// path distinctions in turborepo's internal/turbopath, simplified down to
// a single OmniPath sum type with three root kinds.
package omnipath

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Root names one of the two roots an OmniPath can be anchored to.
type Root int

const (
	// RootNone means the path is unrooted: an absolute path is used as
	// given (cleaned); a relative one resolves against the project root,
	// or the workspace root when no project root is supplied.
	RootNone Root = iota
	// RootWorkspace anchors the path to the workspace root.
	RootWorkspace
	// RootProject anchors the path to the owning project's directory.
	RootProject
)

func (r Root) String() string {
	switch r {
	case RootWorkspace:
		return "workspace"
	case RootProject:
		return "project"
	default:
		return "none"
	}
}

// OmniPath is either unrooted or rooted to {Workspace, Project}. It is
// constructed at config-parse time and resolved against a RootMap at
// collection time.
type OmniPath struct {
	root Root
	path string
}

// New builds an unrooted OmniPath from a plain path string.
func New(path string) OmniPath {
	return OmniPath{root: RootNone, path: path}
}

// NewRooted builds an OmniPath anchored to the given root.
func NewRooted(root Root, path string) OmniPath {
	return OmniPath{root: root, path: path}
}

// Root reports which root, if any, this path is anchored to.
func (p OmniPath) Root() Root {
	return p.root
}

// RawPath returns the path segment as written in configuration, without
// resolving its root.
func (p OmniPath) RawPath() string {
	return p.path
}

// RootMap supplies the concrete directories an OmniPath resolves against.
type RootMap struct {
	Workspace string
	Project   string
}

// Resolve turns the OmniPath into a concrete, absolute filesystem path.
func (p OmniPath) Resolve(roots RootMap) (string, error) {
	switch p.root {
	case RootWorkspace:
		if roots.Workspace == "" {
			return "", fmt.Errorf("omnipath: workspace root not supplied for %q", p.path)
		}
		return filepath.Join(roots.Workspace, p.path), nil
	case RootProject:
		if roots.Project == "" {
			return "", fmt.Errorf("omnipath: project root not supplied for %q", p.path)
		}
		return filepath.Join(roots.Project, p.path), nil
	case RootNone:
		if filepath.IsAbs(p.path) {
			return filepath.Clean(p.path), nil
		}
		base := roots.Project
		if base == "" {
			base = roots.Workspace
		}
		return filepath.Join(base, p.path), nil
	default:
		return "", fmt.Errorf("omnipath: unknown root kind %d", p.root)
	}
}

// String renders the wire form: "workspace:<path>", "project:<path>", or
// the bare path when unrooted.
func (p OmniPath) String() string {
	switch p.root {
	case RootWorkspace:
		return "workspace:" + p.path
	case RootProject:
		return "project:" + p.path
	default:
		return p.path
	}
}

// Parse reads the wire form produced by String.
func Parse(s string) OmniPath {
	if rest, ok := strings.CutPrefix(s, "workspace:"); ok {
		return NewRooted(RootWorkspace, rest)
	}
	if rest, ok := strings.CutPrefix(s, "project:"); ok {
		return NewRooted(RootProject, rest)
	}
	return New(s)
}

// MarshalYAML implements yaml.Marshaler, round-tripping via the wire form.
func (p OmniPath) MarshalYAML() (interface{}, error) {
	return p.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (p *OmniPath) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	*p = Parse(s)
	return nil
}

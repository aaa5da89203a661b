package project

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Masterminds/semver"
	"github.com/mitchellh/mapstructure"
	"github.com/muhammadmuzzammil1998/jsonc"
	"github.com/omni-build/omni/internal/omnipath"
	"github.com/yookoala/realpath"
	"gopkg.in/yaml.v3"
)

// WorkspaceMarkerFile is the default root-marker filename.
const WorkspaceMarkerFile = "workspace.omni.yaml"

// ProjectConfigFile is the default per-project config filename.
const ProjectConfigFile = "project.omni.yaml"

// ProjectConfigFileJSONC is an alternate, comment-tolerant config format for
// projects that prefer JSON with comments over YAML; parsed with
// github.com/muhammadmuzzammil1998/jsonc before being decoded the same way
// as the YAML form.
const ProjectConfigFileJSONC = "project.omni.jsonc"

type workspaceFile struct {
	Projects   []string `yaml:"projects"`
	Generators []string `yaml:"generators"`
	Env        []string `yaml:"env"`
	Requires   string   `yaml:"requires"`
}

type taskFile struct {
	Command      string                 `yaml:"command"`
	DependsOn    []string               `yaml:"dependsOn"`
	Enabled      *bool                  `yaml:"enabled"`
	Persistent   bool                   `yaml:"persistent"`
	Interactive  bool                   `yaml:"interactive"`
	Cache        *bool                  `yaml:"cache"`
	Outputs      []string               `yaml:"outputs"`
	Inputs       []string               `yaml:"inputs"`
	Env          []string               `yaml:"env"`
	Meta         map[string]interface{} `yaml:"meta"`
}

type projectFile struct {
	Name         string                 `yaml:"name"`
	Dependencies []string               `yaml:"dependencies"`
	Tasks        map[string]taskFile    `yaml:"tasks"`
	Meta         map[string]interface{} `yaml:"meta"`
	// taskOrder is reconstructed from a yaml.Node pass; see readTaskOrder.
	taskOrder []string
}

// LoadWorkspace reads the root marker starting at dir, then discovers and
// loads every project matched by its `projects` globs. dir must contain (or
// have an ancestor containing) WorkspaceMarkerFile.
func LoadWorkspace(dir string) (*Workspace, error) {
	root, markerPath, err := findWorkspaceRoot(dir)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(markerPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", markerPath, err)
	}
	var wf workspaceFile
	if err := yaml.Unmarshal(raw, &wf); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", markerPath, err)
	}

	ws := &Workspace{
		Root:           root,
		RootMarkerPath: markerPath,
		Env:            wf.Env,
		ProjectGlobs:   wf.Projects,
		GeneratorGlobs: wf.Generators,
	}
	if wf.Requires != "" {
		c, err := semver.NewConstraint(wf.Requires)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid requires constraint %q: %w", markerPath, wf.Requires, err)
		}
		ws.MinVersion = c
	}

	dirs, err := expandProjectGlobs(root, wf.Projects)
	if err != nil {
		return nil, err
	}

	for _, pdir := range dirs {
		p, err := loadProjectDir(pdir)
		if err != nil {
			return nil, err
		}
		if p == nil {
			continue
		}
		if err := ws.AddProject(p); err != nil {
			return nil, err
		}
	}
	return ws, nil
}

func findWorkspaceRoot(start string) (root string, markerPath string, err error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", "", err
	}
	// Resolve symlinks up front so a workspace reached through a symlinked
	// path (common for projects checked out under a symlinked home
	// directory, or a --cwd pointed at a symlink) walks its real ancestry
	// rather than the symlink's.
	if real, realErr := realpath.Realpath(dir); realErr == nil {
		dir = real
	}
	for {
		candidate := filepath.Join(dir, WorkspaceMarkerFile)
		if info, statErr := os.Stat(candidate); statErr == nil && !info.IsDir() {
			return dir, candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", "", fmt.Errorf("no %s found above %s", WorkspaceMarkerFile, start)
		}
		dir = parent
	}
}

func expandProjectGlobs(root string, globs []string) ([]string, error) {
	seen := map[string]bool{}
	var dirs []string
	for _, g := range globs {
		matches, err := filepath.Glob(filepath.Join(root, g))
		if err != nil {
			return nil, fmt.Errorf("invalid project glob %q: %w", g, err)
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil || !info.IsDir() {
				continue
			}
			if !seen[m] {
				seen[m] = true
				dirs = append(dirs, m)
			}
		}
	}
	return dirs, nil
}

// loadProjectDir loads whichever of ProjectConfigFile / ProjectConfigFileJSONC
// is present in dir. Returns (nil, nil) if neither exists (glob matched a
// directory that isn't a project).
func loadProjectDir(dir string) (*Project, error) {
	yamlPath := filepath.Join(dir, ProjectConfigFile)
	jsoncPath := filepath.Join(dir, ProjectConfigFileJSONC)

	var raw []byte
	var err error
	var isJSONC bool
	if b, statErr := os.ReadFile(yamlPath); statErr == nil {
		raw = b
	} else if b, statErr := os.ReadFile(jsoncPath); statErr == nil {
		raw = b
		isJSONC = true
	} else {
		return nil, nil
	}

	var pf projectFile
	if isJSONC {
		stripped := jsonc.ToJSON(raw)
		if err := yaml.Unmarshal(stripped, &pf); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", jsoncPath, err)
		}
	} else {
		if err := yaml.Unmarshal(raw, &pf); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", yamlPath, err)
		}
	}

	pf.taskOrder, err = readTaskOrder(raw, isJSONC)
	if err != nil {
		return nil, err
	}

	if pf.Name == "" {
		pf.Name = filepath.Base(dir)
	}

	p := &Project{
		Name:         pf.Name,
		Dir:          dir,
		Dependencies: pf.Dependencies,
		Meta:         pf.Meta,
	}

	for _, name := range pf.taskOrder {
		tf := pf.Tasks[name]
		task, err := buildTask(name, tf)
		if err != nil {
			return nil, fmt.Errorf("project %s: %w", pf.Name, err)
		}
		if err := p.AddTask(task); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// readTaskOrder reconstructs the declaration order of the `tasks` mapping by
// walking the raw YAML document node tree (yaml.v3 preserves key order on
// *yaml.Node even though map[string]T does not).
func readTaskOrder(raw []byte, isJSONC bool) ([]string, error) {
	data := raw
	if isJSONC {
		data = jsonc.ToJSON(raw)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, nil
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == "tasks" {
			tasksNode := root.Content[i+1]
			var order []string
			for j := 0; j+1 < len(tasksNode.Content); j += 2 {
				order = append(order, tasksNode.Content[j].Value)
			}
			return order, nil
		}
	}
	return nil, nil
}

func buildTask(name string, tf taskFile) (*Task, error) {
	t := &Task{
		Name:         name,
		Command:      tf.Command,
		Persistent:   tf.Persistent,
		Interactive:  tf.Interactive,
		Enabled:      true,
		CachePolicy:  CacheEnabled,
		InputEnvKeys: tf.Env,
		Meta:         tf.Meta,
	}
	if tf.Enabled != nil {
		t.Enabled = *tf.Enabled
	}
	if tf.Cache != nil && !*tf.Cache {
		t.CachePolicy = CacheDisabled
	}
	if tf.Persistent {
		// persistent tasks never cache
		t.CachePolicy = CacheDisabled
	}
	for _, dep := range tf.DependsOn {
		parsed, err := ParseTaskDependency(dep)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", name, err)
		}
		t.Dependencies = append(t.Dependencies, parsed)
	}
	for _, o := range tf.Outputs {
		t.OutputPaths = append(t.OutputPaths, omnipath.New(o))
	}
	for _, in := range tf.Inputs {
		t.InputPaths = append(t.InputPaths, omnipath.New(in))
	}
	return t, nil
}

// DecodeMeta decodes a task's free-form meta bag into a typed struct. The
// planner's expression filter does not use it; it evaluates the raw maps.
func DecodeMeta(meta map[string]interface{}, out interface{}) error {
	return mapstructure.Decode(meta, out)
}

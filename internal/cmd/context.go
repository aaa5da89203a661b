package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/omni-build/omni/internal/cmdutil"
	"github.com/omni-build/omni/internal/digest"
	"github.com/omni-build/omni/internal/envfile"
	"github.com/omni-build/omni/internal/fileset"
	"github.com/omni-build/omni/internal/merkle"
	"github.com/omni-build/omni/internal/omnipath"
	"github.com/omni-build/omni/internal/pipeline"
	"github.com/omni-build/omni/internal/project"
	"github.com/omni-build/omni/internal/result"
	"github.com/omni-build/omni/internal/taskgraph"
	"github.com/omni-build/omni/internal/ui"
)

// envTemplates are the .env basenames looked up in every ancestor
// directory up to the workspace root.
var envTemplates = []string{".env", ".env.local", ".env.{ENV}", ".env.{ENV}.local"}

// resolveTaskEnv loads the layered .env map for a project directory,
// substituting OMNI_ENV for "{ENV}" and inheriting the process
// environment as the base layer: the run command always wants a child
// that can see its own environment.
func resolveTaskEnv(loader *envfile.Loader, ws *project.Workspace, projectDir string) (envfile.Map, error) {
	return loader.Load(envfile.Config{
		StartDir:          projectDir,
		RootMarker:        project.WorkspaceMarkerFile,
		Templates:         envTemplates,
		EnvName:           os.Getenv("OMNI_ENV"),
		InheritProcessEnv: true,
	})
}

// buildTaskContext assembles the pipeline.TaskContext for one resolved
// task node: its resolved environment, glob-expanded input files keyed
// for the merkle index, and the root map its OmniPaths resolve against.
func buildTaskContext(loader *envfile.Loader, ws *project.Workspace, node taskgraph.NodeID) (pipeline.TaskContext, error) {
	proj := ws.Projects[node.Project]
	task := proj.Tasks[node.Task]
	roots := omnipath.RootMap{Workspace: ws.Root, Project: proj.Dir}

	envMap, err := resolveTaskEnv(loader, ws, proj.Dir)
	if err != nil {
		return pipeline.TaskContext{}, fmt.Errorf("resolving env for %s: %w", node, err)
	}

	fullEnv := make([]string, 0, len(envMap))
	for k, v := range envMap {
		fullEnv = append(fullEnv, k+"="+v)
	}
	sort.Strings(fullEnv)

	hashEnvKeys := append([]string(nil), task.InputEnvKeys...)
	sort.Strings(hashEnvKeys)
	hashEnvPairs := make([]string, 0, len(hashEnvKeys))
	for _, k := range hashEnvKeys {
		hashEnvPairs = append(hashEnvPairs, k+"="+envMap[k])
	}

	files, err := fileset.Expand(proj.Dir, task.InputPaths, roots)
	if err != nil {
		return pipeline.TaskContext{}, fmt.Errorf("expanding inputs for %s: %w", node, err)
	}
	inputFiles := make([]merkle.Input, 0, len(files))
	for _, abs := range files {
		key := abs
		if rel, err := filepath.Rel(proj.Dir, abs); err == nil {
			key = rel
		}
		inputFiles = append(inputFiles, merkle.Input{Key: key, AbsPath: abs})
	}

	return pipeline.TaskContext{
		Task:         task,
		Project:      proj,
		Command:      task.Command,
		Cwd:          proj.Dir,
		Env:          fullEnv,
		InputFiles:   inputFiles,
		HashEnvPairs: hashEnvPairs,
		OutputPaths:  task.OutputPaths,
		Roots:        roots,
	}, nil
}

// fileIndexStore persists each project's merkle.Index at
// <workspace>/.omni/index/<project-hash>/partial-hashes.bin, the exact
// layout the run command expects.
type fileIndexStore struct {
	root string
}

func newFileIndexStore(workspaceRoot string) *fileIndexStore {
	return &fileIndexStore{root: filepath.Join(workspaceRoot, ".omni", "index")}
}

func (s *fileIndexStore) path(projectName string) string {
	return filepath.Join(s.root, digest.OfString(projectName).String(), "partial-hashes.bin")
}

func (s *fileIndexStore) Load(projectName string) (merkle.Index, error) {
	return merkle.Load(s.path(projectName))
}

func (s *fileIndexStore) Save(projectName string, idx merkle.Index) error {
	return merkle.Save(s.path(projectName), idx)
}

// printResults renders one line per result, success and failure alike,
// and returns the process exit code: 0 on all-success, 1 if any result
// is Errored or Skipped-due-to-error.
func printResults(base *cmdutil.CmdBase, results []result.Result) int {
	exitCode := 0
	for _, r := range results {
		switch r.Status {
		case result.StatusCompleted:
			status := ui.StatusPrefix(r.Success())
			extra := ""
			if r.CacheHit {
				extra = ui.Dim(" (cache hit)")
			}
			line := fmt.Sprintf("%s %s%s", status, base.Colors.PrefixWithColor(r.Task.String(), r.Task.String()), extra)
			base.UI.Output(line)
			if !r.Success() {
				exitCode = 1
			}
		case result.StatusErrored:
			base.UI.Error(fmt.Sprintf("%s %s: %s", ui.StatusPrefix(false), r.Task.String(), r.ErrorMessage))
			exitCode = 1
		case result.StatusSkipped:
			base.UI.Warn(fmt.Sprintf("%s skipped (%s)", r.Task.String(), r.Reason.String()))
			if r.IsSkippedDueToError() {
				exitCode = 1
			}
		}
	}
	return exitCode
}

package cmd

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/omni-build/omni/internal/cmdutil"
	"github.com/omni-build/omni/internal/fileset"
	"github.com/omni-build/omni/internal/merkle"
	"github.com/omni-build/omni/internal/omnipath"
	"github.com/omni-build/omni/internal/project"
	"github.com/omni-build/omni/internal/wshash"
)

func newHashCmd(helper *cmdutil.Helper) *cobra.Command {
	return &cobra.Command{
		Use:   "hash",
		Short: "Print the workspace-wide aggregate input hash",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHash(helper)
		},
	}
}

func runHash(helper *cmdutil.Helper) error {
	base, err := helper.GetCmdBase(true)
	if err != nil {
		return err
	}
	defer helper.Cleanup()

	indexes := newFileIndexStore(base.Workspace.Root)

	var roots []wshash.ProjectRoot
	for _, name := range base.Workspace.Order {
		proj := base.Workspace.Projects[name]
		perTaskInputs, err := projectTaskInputs(base.Workspace.Root, proj)
		if err != nil {
			return base.LogError("expanding inputs for %s: %s", name, err)
		}
		if len(perTaskInputs) == 0 {
			continue
		}

		idx, err := indexes.Load(name)
		if err != nil {
			return base.LogError("loading index for %s: %s", name, err)
		}

		root, newIdx, err := wshash.ProjectRootFor(idx, perTaskInputs)
		if err != nil {
			return base.LogError("hashing %s: %s", name, err)
		}
		if err := indexes.Save(name, newIdx); err != nil {
			return base.LogError("saving index for %s: %s", name, err)
		}
		roots = append(roots, wshash.ProjectRoot{Project: name, Root: root})
	}

	base.UI.Output(wshash.Aggregate(roots).String())
	return nil
}

// projectTaskInputs expands every task's declared InputPaths in a
// project into merkle.Input lists, one slice per task, the shape
// wshash.UnionInputs expects before folding them into a project root.
func projectTaskInputs(workspaceRoot string, proj *project.Project) ([][]merkle.Input, error) {
	roots := omnipath.RootMap{Workspace: workspaceRoot, Project: proj.Dir}

	taskNames := make([]string, 0, len(proj.Tasks))
	for name := range proj.Tasks {
		taskNames = append(taskNames, name)
	}
	sort.Strings(taskNames)

	var out [][]merkle.Input
	for _, name := range taskNames {
		task := proj.Tasks[name]
		files, err := fileset.Expand(proj.Dir, task.InputPaths, roots)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", name, err)
		}
		inputs := make([]merkle.Input, 0, len(files))
		for _, abs := range files {
			key := abs
			if rel, err := filepath.Rel(proj.Dir, abs); err == nil {
				key = rel
			}
			inputs = append(inputs, merkle.Input{Key: key, AbsPath: abs})
		}
		out = append(out, inputs)
	}
	return out, nil
}

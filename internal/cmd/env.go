package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/omni-build/omni/internal/cmdutil"
)

func newEnvCmd(helper *cmdutil.Helper) *cobra.Command {
	var projectName string
	cmd := &cobra.Command{
		Use:   "env",
		Short: "Print the resolved .env layering for a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnv(helper, projectName)
		},
	}
	cmd.Flags().StringVar(&projectName, "project", "", "project to resolve env for (defaults to the workspace root)")
	return cmd
}

func runEnv(helper *cmdutil.Helper, projectName string) error {
	base, err := helper.GetCmdBase(true)
	if err != nil {
		return err
	}
	defer helper.Cleanup()

	dir := base.Workspace.Root
	if projectName != "" {
		p, ok := base.Workspace.Get(projectName)
		if !ok {
			return base.LogError("unknown project %q", projectName)
		}
		dir = p.Dir
	}

	envMap, err := resolveTaskEnv(base.EnvLoader, base.Workspace, dir)
	if err != nil {
		return base.LogError("%s", err)
	}

	keys := make([]string, 0, len(envMap))
	for k := range envMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		base.UI.Output(fmt.Sprintf("%s=%s", k, envMap[k]))
	}
	return nil
}

// Package cmd wires the project/graph/taskgraph/planner/cachestore/pipeline
// components into the cobra command tree: run, exec, env, cache, hash,
// config, and completion.
package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/omni-build/omni/internal/cmdutil"
)

const defaultCmd = "run"

// RunWithArgs runs omni with the specified arguments, which should not
// include the binary name, and returns the process exit code.
func RunWithArgs(args []string, version string) int {
	helper := cmdutil.NewHelper(version)
	root := getCmd(helper)
	root.SetArgs(resolveArgs(root, args))

	err := root.Execute()

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	if err != nil {
		return 1
	}
	return 0
}

// resolveArgs prepends the default "run" command when the caller didn't
// ask for help, the version, completion, or any other known verb.
func resolveArgs(root *cobra.Command, args []string) []string {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" || arg == "--version" {
			return args
		}
	}
	cmd, _, err := root.Traverse(args)
	if err != nil {
		return args
	}
	if cmd.Name() == root.Name() {
		return append([]string{defaultCmd}, args...)
	}
	return args
}

func getCmd(helper *cmdutil.Helper) *cobra.Command {
	cmd := &cobra.Command{
		Use:              "omni",
		Short:            "A workspace-aware development workflow orchestrator",
		TraverseChildren: true,
		Version:          helper.Version,
	}
	cmd.SetVersionTemplate("{{.Version}}\n")
	helper.AddFlags(cmd.PersistentFlags())

	cmd.AddCommand(newRunCmd(helper))
	cmd.AddCommand(newExecCmd(helper))
	cmd.AddCommand(newEnvCmd(helper))
	cmd.AddCommand(newCacheCmd(helper))
	cmd.AddCommand(newHashCmd(helper))
	cmd.AddCommand(newConfigCmd(helper))
	cmd.AddCommand(newCompletionCmd())
	return cmd
}

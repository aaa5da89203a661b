package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/gobwas/glob"
	"github.com/kballard/go-shellquote"
	"github.com/spf13/cobra"

	"github.com/omni-build/omni/internal/cmdutil"
	"github.com/omni-build/omni/internal/envfile"
	"github.com/omni-build/omni/internal/pipeline"
	"github.com/omni-build/omni/internal/planner"
	"github.com/omni-build/omni/internal/project"
	"github.com/omni-build/omni/internal/taskgraph"
)

func newExecCmd(helper *cmdutil.Helper) *cobra.Command {
	var filter string
	cmd := &cobra.Command{
		Use:   "exec <cmd> [args...]",
		Short: "Run an ad-hoc command across every selected project",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(helper, filter, args[0], args[1:])
		},
	}
	cmd.Flags().StringVar(&filter, "filter", "", "project-name glob restricting which projects the command runs in")
	return cmd
}

func runExec(helper *cmdutil.Helper, filterGlob, command string, args []string) error {
	base, err := helper.GetCmdBase(true)
	if err != nil {
		return err
	}
	defer helper.Cleanup()

	tg, _, err := taskgraph.Build(base.Workspace)
	if err != nil {
		return base.LogError("task graph: %s", err)
	}

	projects, err := selectProjects(base.Workspace, filterGlob)
	if err != nil {
		return base.LogError("%s", err)
	}
	if len(projects) == 0 {
		base.UI.Warn("no project matched --filter")
		return nil
	}

	taskName := planner.SynthesizeExecTaskName(command, args)
	planner.InsertAdHoc(tg, base.Workspace, projects, taskName)
	defaults := planner.DefaultAdHocOptions()

	plan, err := planner.Build(base.Workspace, tg, planner.Filter{
		TaskGlob:           taskName,
		IgnoreDependencies: defaults.IgnoreDependencies,
	})
	if err != nil {
		return base.LogError("planning: %s", err)
	}

	commandLine := shellquote.Join(append([]string{command}, args...)...)
	contexts := map[taskgraph.NodeID]pipeline.TaskContext{}
	for _, batch := range plan {
		for _, node := range batch {
			tc, err := buildAdHocContext(base.EnvLoader, base.Workspace, node, taskName, commandLine)
			if err != nil {
				return base.LogError("%s", err)
			}
			contexts[node] = tc
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pcfg := pipeline.DefaultConfig()
	pcfg.NoCache = defaults.NoCache
	pcfg.Force = pipeline.ForceAll

	p := &pipeline.Pipeline{
		Plan:     plan,
		Graph:    tg,
		Contexts: contexts,
		Cache:    base.Cache,
		Config:   pcfg,
	}
	results, err := p.Run(ctx)
	if err != nil {
		return base.LogError("%s", err)
	}
	if code := printResults(base, results); code != 0 {
		return &ExitError{Code: code}
	}
	return nil
}

// selectProjects resolves --filter against project names, defaulting to
// every project in the workspace when filterGlob is empty.
func selectProjects(ws *project.Workspace, filterGlob string) ([]string, error) {
	if filterGlob == "" {
		return append([]string(nil), ws.Order...), nil
	}
	g, err := glob.Compile(filterGlob)
	if err != nil {
		return nil, fmt.Errorf("invalid --filter glob %q: %w", filterGlob, err)
	}
	var out []string
	for _, name := range ws.Order {
		if g.Match(name) {
			out = append(out, name)
		}
	}
	return out, nil
}

// buildAdHocContext assembles a TaskContext for a synthesized exec node,
// which has no backing project.Task: it is never cached (noCache is
// forced by the caller via pipeline.Config), has no declared
// inputs/outputs, and is always enabled.
func buildAdHocContext(loader *envfile.Loader, ws *project.Workspace, node taskgraph.NodeID, taskName, commandLine string) (pipeline.TaskContext, error) {
	proj := ws.Projects[node.Project]
	envMap, err := resolveTaskEnv(loader, ws, proj.Dir)
	if err != nil {
		return pipeline.TaskContext{}, fmt.Errorf("resolving env for %s: %w", node, err)
	}
	fullEnv := make([]string, 0, len(envMap))
	for k, v := range envMap {
		fullEnv = append(fullEnv, k+"="+v)
	}

	task := &project.Task{
		Name:        taskName,
		Command:     commandLine,
		Enabled:     true,
		CachePolicy: project.CacheDisabled,
	}

	return pipeline.TaskContext{
		Task:    task,
		Project: proj,
		Command: commandLine,
		Cwd:     proj.Dir,
		Env:     fullEnv,
	}, nil
}

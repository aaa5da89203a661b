package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/omni-build/omni/internal/cmdutil"
	"github.com/omni-build/omni/internal/graph"
	"github.com/omni-build/omni/internal/pipeline"
	"github.com/omni-build/omni/internal/planner"
	"github.com/omni-build/omni/internal/taskgraph"
	"github.com/omni-build/omni/internal/ui"
)

// ExitError carries the process exit code a leaf command wants, letting
// RunWithArgs turn a non-nil RunE error into the right code without
// every command calling os.Exit directly: 0 on all-success, 1 if any
// task is Errored or Skipped-due-to-error.
type ExitError struct{ Code int }

func (e *ExitError) Error() string { return fmt.Sprintf("exit status %d", e.Code) }

type runFlags struct {
	filter             string
	ignoreDependencies bool
	force              string
	noCache            bool
	onFailure          string
	dryRun             bool
	maxConcurrency     int
	retry              int
	retryInterval      time.Duration
}

func newRunCmd(helper *cmdutil.Helper) *cobra.Command {
	rf := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run <task>",
		Short: "Run a task across every project that defines it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(helper, rf, args[0])
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&rf.filter, "filter", "", "project-name glob restricting which projects run the task")
	flags.BoolVar(&rf.ignoreDependencies, "ignore-dependencies", false, "skip the transitive-dependency closure step")
	flags.StringVar(&rf.force, "force", "", `ignore the cache: "failed" re-runs only previously-failed hits, "all" (or bare --force) re-runs every hit`)
	flags.Lookup("force").NoOptDefVal = "all"
	flags.BoolVar(&rf.noCache, "no-cache", false, "never read from or write to the execution cache")
	flags.StringVar(&rf.onFailure, "on-failure", "abort", `what to do when a task fails: "abort", "continue", or "skip-dependents"`)
	flags.BoolVar(&rf.dryRun, "dry-run", false, "compute the plan and digests without spawning any command")
	flags.IntVar(&rf.maxConcurrency, "max-concurrency", 0, "maximum number of tasks to run at once (defaults to the host's CPU count)")
	flags.IntVar(&rf.retry, "retry", 0, "number of retries for a task that exits non-zero")
	flags.DurationVar(&rf.retryInterval, "retry-interval", time.Second, "delay between retries")
	return cmd
}

func runRun(helper *cmdutil.Helper, rf *runFlags, taskName string) error {
	base, err := helper.GetCmdBase(true)
	if err != nil {
		return err
	}
	defer helper.Cleanup()

	pcfg, err := buildPipelineConfig(rf)
	if err != nil {
		return base.LogError("%s", err)
	}

	if _, err := graph.Build(base.Workspace); err != nil {
		return base.LogError("project dependency graph: %s", err)
	}

	tg, warnings, err := taskgraph.Build(base.Workspace)
	if err != nil {
		return base.LogError("task graph: %s", err)
	}
	for _, w := range warnings {
		base.LogWarning("%s", w.String())
	}

	plan, err := planner.Build(base.Workspace, tg, planner.Filter{
		ProjectGlob:        rf.filter,
		TaskGlob:           taskName,
		IgnoreDependencies: rf.ignoreDependencies,
	})
	if err != nil {
		return base.LogError("planning: %s", err)
	}
	if len(plan) == 0 {
		base.UI.Warn(fmt.Sprintf("no project defines task %q", taskName))
		return nil
	}

	contexts, err := buildContexts(base, plan)
	if err != nil {
		return base.LogError("%s", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p := &pipeline.Pipeline{
		Plan:     plan,
		Graph:    tg,
		Contexts: contexts,
		Cache:    base.Cache,
		Indexes:  newFileIndexStore(base.Workspace.Root),
		Config:   pcfg,
	}

	var spin *ui.Spinner
	if ui.IsTTY && os.Getenv("CI") != "true" {
		spin = ui.NewSpinner(os.Stderr)
		spin.Start()
	}
	results, err := p.Run(ctx)
	if spin != nil {
		spin.Stop()
	}
	if err != nil {
		return base.LogError("%s", err)
	}

	if code := printResults(base, results); code != 0 {
		return &ExitError{Code: code}
	}
	return nil
}

func buildContexts(base *cmdutil.CmdBase, plan planner.Plan) (map[taskgraph.NodeID]pipeline.TaskContext, error) {
	contexts := map[taskgraph.NodeID]pipeline.TaskContext{}
	for _, batch := range plan {
		for _, node := range batch {
			tc, err := buildTaskContext(base.EnvLoader, base.Workspace, node)
			if err != nil {
				return nil, err
			}
			contexts[node] = tc
		}
	}
	return contexts, nil
}

func buildPipelineConfig(rf *runFlags) (pipeline.Config, error) {
	cfg := pipeline.DefaultConfig()
	cfg.DryRun = rf.dryRun
	cfg.NoCache = rf.noCache
	cfg.MaxConcurrency = rf.maxConcurrency
	cfg.MaxRetries = rf.retry
	cfg.RetryInterval = rf.retryInterval

	switch rf.force {
	case "":
		cfg.Force = pipeline.ForceNone
	case "failed":
		cfg.Force = pipeline.ForceFailed
	case "all":
		cfg.Force = pipeline.ForceAll
	default:
		return cfg, fmt.Errorf("invalid --force value %q", rf.force)
	}

	switch rf.onFailure {
	case "abort":
		cfg.OnFailure = pipeline.OnFailureAbort
	case "continue":
		cfg.OnFailure = pipeline.OnFailureContinue
	case "skip-dependents":
		cfg.OnFailure = pipeline.OnFailureSkipDependents
	default:
		return cfg, fmt.Errorf("invalid --on-failure value %q", rf.onFailure)
	}

	return cfg, nil
}

package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/omni-build/omni/internal/cachestore"
	"github.com/omni-build/omni/internal/cmdutil"
)

func newCacheCmd(helper *cmdutil.Helper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or maintain the execution cache",
	}
	cmd.AddCommand(newCacheDirCmd(helper))
	cmd.AddCommand(newCacheStatsCmd(helper))
	cmd.AddCommand(newCachePruneCmd(helper))
	return cmd
}

func newCacheDirCmd(helper *cmdutil.Helper) *cobra.Command {
	return &cobra.Command{
		Use:   "dir",
		Short: "Print the execution cache's root directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := helper.GetCmdBase(true)
			if err != nil {
				return err
			}
			defer helper.Cleanup()
			base.UI.Output(base.Cache.Root)
			return nil
		},
	}
}

func newCacheStatsCmd(helper *cmdutil.Helper) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print the number of cache entries and total bytes on disk",
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := helper.GetCmdBase(true)
			if err != nil {
				return err
			}
			defer helper.Cleanup()

			entries, size, err := cacheStats(base.Cache.Root)
			if err != nil {
				return base.LogError("%s", err)
			}
			base.UI.Output(fmt.Sprintf("entries: %d", entries))
			base.UI.Output(fmt.Sprintf("size: %d bytes", size))
			return nil
		},
	}
}

// cacheStats walks the cache root counting leaf entry directories
// (<project>/<digest>/) and summing every file's size under it. It reads
// the filesystem directly rather than going through cachestore.Store,
// not any single task's lookup.
func cacheStats(root string) (entries int, totalBytes int64, err error) {
	projectDirs, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}
	for _, pd := range projectDirs {
		if !pd.IsDir() {
			continue
		}
		digestDirs, err := os.ReadDir(filepath.Join(root, pd.Name()))
		if err != nil {
			continue
		}
		for _, dd := range digestDirs {
			if !dd.IsDir() {
				continue
			}
			entries++
			entryDir := filepath.Join(root, pd.Name(), dd.Name())
			filepath.Walk(entryDir, func(path string, info os.FileInfo, err error) error {
				if err == nil && !info.IsDir() {
					totalBytes += info.Size()
				}
				return nil
			})
		}
	}
	return entries, totalBytes, nil
}

func newCachePruneCmd(helper *cmdutil.Helper) *cobra.Command {
	var (
		maxAge       time.Duration
		maxTotalSize int64
		projectGlob  string
		dryRun       bool
	)
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Evict cache entries by age, total size, or project",
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := helper.GetCmdBase(true)
			if err != nil {
				return err
			}
			defer helper.Cleanup()

			result, err := base.Cache.Prune(cachestore.PruneFilter{
				MaxAge:       maxAge,
				MaxTotalSize: maxTotalSize,
				ProjectGlob:  projectGlob,
				DryRun:       dryRun,
			})
			if err != nil {
				return base.LogError("%s", err)
			}
			base.UI.Output(fmt.Sprintf("removed %d entries, reclaimed %d bytes", result.RemovedEntries, result.ReclaimedBytes))
			return nil
		},
	}
	flags := cmd.Flags()
	flags.DurationVar(&maxAge, "max-age", 0, "remove entries created longer ago than this (0 disables the age limit)")
	flags.Int64Var(&maxTotalSize, "max-total-size", 0, "evict oldest entries past this total size in bytes (0 disables the size limit)")
	flags.StringVar(&projectGlob, "project", "", "only prune entries for projects matching this glob")
	flags.BoolVar(&dryRun, "dry-run", false, "report what would be removed without removing it")
	return cmd
}

package cmd

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/omni-build/omni/internal/cmdutil"
	"github.com/omni-build/omni/internal/project"
	"github.com/omni-build/omni/internal/remotecache"
	"github.com/omni-build/omni/internal/ui"
)

func newConfigCmd(helper *cmdutil.Helper) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved workspace and project configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfig(helper)
		},
	}
}

// configDoc is a schema dump standing in for a generated JSON schema:
// since the config model *is* the schema, the resolved workspace is the
// most useful thing to print.
type configDoc struct {
	Root     string                    `yaml:"root"`
	Projects map[string]*configProject `yaml:"projects"`
}

type configProject struct {
	Dir          string                   `yaml:"dir"`
	Dependencies []string                 `yaml:"dependencies,omitempty"`
	Tasks        map[string]*project.Task `yaml:"tasks"`
}

func runConfig(helper *cmdutil.Helper) error {
	base, err := helper.GetCmdBase(true)
	if err != nil {
		return err
	}
	defer helper.Cleanup()

	doc := configDoc{
		Root:     base.Workspace.Root,
		Projects: map[string]*configProject{},
	}
	for _, name := range base.Workspace.Order {
		proj := base.Workspace.Projects[name]
		doc.Projects[name] = &configProject{
			Dir:          proj.Dir,
			Dependencies: proj.Dependencies,
			Tasks:        proj.Tasks,
		}
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return base.LogError("marshaling config: %s", err)
	}
	base.UI.Output(string(out))

	access, ok := remoteAccessFromEnv()
	if !ok {
		if saved, savedOK, err := remotecache.LoadCredentials(); err == nil && savedOK {
			access, ok = saved, true
		}
	}
	if ok {
		client := remotecache.NewClient(base.Logger)
		var result remotecache.ValidationResult
		var validateErr error
		ctx := context.Background()
		waitErr := ui.WaitFor(ctx, func() {
			result, validateErr = client.ValidateAccess(ctx, access)
		}, base.UI, "checking remote cache access...", 200*time.Millisecond)
		if waitErr != nil {
			return base.LogError("validating remote cache access: %s", waitErr)
		}
		if validateErr != nil {
			return base.LogError("validating remote cache access: %s", validateErr)
		}
		if result.IsValid {
			base.UI.Output("remote cache: " + result.Message)
			if err := remotecache.SaveCredentials(access); err != nil {
				base.LogWarning("saving remote cache credentials: %s", err)
			}
		} else {
			base.LogWarning("remote cache: %s", result.Message)
		}
	}
	return nil
}

// remoteAccessFromEnv builds a remotecache.Access from the OMNI_REMOTE_CACHE_*
// variables, reporting ok=false when no remote cache URL is configured (the
// common case: remote caching is opt-in).
func remoteAccessFromEnv() (remotecache.Access, bool) {
	baseURL := os.Getenv("OMNI_REMOTE_CACHE_URL")
	if baseURL == "" {
		return remotecache.Access{}, false
	}
	return remotecache.Access{
		BaseURL:   baseURL,
		APIKey:    os.Getenv("OMNI_REMOTE_CACHE_API_KEY"),
		Tenant:    os.Getenv("OMNI_REMOTE_CACHE_TENANT"),
		Org:       os.Getenv("OMNI_REMOTE_CACHE_ORG"),
		Workspace: os.Getenv("OMNI_REMOTE_CACHE_WORKSPACE"),
		Env:       os.Getenv("OMNI_ENV"),
	}, true
}

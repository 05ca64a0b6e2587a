package push

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	goSync "sync"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sidkik/site/cmd/util"
	"github.com/sidkik/site/pkg/config"
	"github.com/sidkik/site/pkg/errors"
	"github.com/sidkik/site/pkg/rsync"
	siteSync "github.com/sidkik/site/pkg/sync"
)

// New creates a new `push` command.
func New() *cobra.Command {
	var configPath string
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "push project ...",
		Short: "Sync projects once, without watching for changes",
		Args:  cobra.MinimumNArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			cfg, err := util.ParseConfig(config.Path(configPath))
			if err != nil {
				util.HandleFatalError(err)
			}

			projects, err := cfg.Select(args)
			if err != nil {
				util.HandleFatalError(err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			hooks := siteSync.NewLogHooks(log.StandardLogger(), util.IsTerminal(os.Stderr))
			if err := Push(ctx, rsync.ExecRunner{WaitDelay: siteSync.DefaultGracePeriod}, hooks, projects, dryRun); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "",
		fmt.Sprintf("Path to the project config. Defaults to $%s, or %s.",
			config.PathEnvKey, config.DefaultPath))
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false,
		"Show what would be transferred without changing the destination.")
	return cmd
}

// Push syncs each project once, concurrently, and returns the first failure.
// Live projects are synced once without being watched.
func Push(ctx context.Context, runner rsync.Runner, hooks siteSync.Hooks,
	projects []config.Project, dryRun bool) error {

	orchestrator := siteSync.New(ctx, siteSync.Options{Runner: runner})
	defer orchestrator.Shutdown()

	results := &resultHooks{Hooks: hooks, errs: map[string]error{}}
	for _, project := range projects {
		project.Live = false
		if dryRun {
			options := map[string]string{"dry-run": ""}
			for key, val := range project.Options {
				options[key] = val
			}
			project.Options = options
		}

		if err := orchestrator.Register(project, results); err != nil {
			if notFound, ok := errors.RootCause(err).(errors.FileNotFound); ok {
				return errors.NewFriendlyError("The source of project %q doesn't exist: %s",
					project.Name, notFound.Path)
			}
			return errors.WithContext(err, fmt.Sprintf("register %q", project.Name))
		}
	}
	orchestrator.Wait()

	if ctx.Err() != nil {
		return errors.NewFriendlyError("Interrupted before every project was pushed.")
	}
	for _, project := range projects {
		if err := results.get(project.Name); err != nil {
			return err
		}
	}
	return nil
}

// resultHooks records the outcome of each project's sync, and passes every
// event through to the wrapped Hooks.
type resultHooks struct {
	siteSync.Hooks

	lock goSync.Mutex
	errs map[string]error
}

func (h *resultHooks) OnSyncError(project string, err error) {
	h.lock.Lock()
	h.errs[project] = err
	h.lock.Unlock()
	h.Hooks.OnSyncError(project, err)
}

func (h *resultHooks) get(project string) error {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.errs[project]
}

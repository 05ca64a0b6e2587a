package sync

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sidkik/site/cmd/util"
	"github.com/sidkik/site/pkg/config"
	"github.com/sidkik/site/pkg/debounce"
	"github.com/sidkik/site/pkg/errors"
	"github.com/sidkik/site/pkg/metrics"
	"github.com/sidkik/site/pkg/rsync"
	siteSync "github.com/sidkik/site/pkg/sync"
)

type syncCmd struct {
	configPath     string
	logFile        string
	metricsAddress string
	debounce       time.Duration
	gracePeriod    time.Duration
}

// New creates a new `sync` command.
func New() *cobra.Command {
	var cmd syncCmd
	cobraCmd := &cobra.Command{
		Use:   "sync [project] ...",
		Short: "Sync projects and keep live projects in sync as files change",
		Long: `Run an initial sync for each project. Projects with "live: true" are
then watched, and resynced shortly after their files stop changing.

If no projects are named, every project in the config is synced. Send SIGHUP
to resync every project immediately, and SIGINT or SIGTERM to stop.`,
		Run: func(_ *cobra.Command, args []string) {
			if err := cmd.run(args); err != nil {
				util.HandleFatalError(err)
			}
		},
	}

	cobraCmd.Flags().StringVarP(&cmd.configPath, "config", "c", "",
		fmt.Sprintf("Path to the project config. Defaults to $%s, or %s.",
			config.PathEnvKey, config.DefaultPath))
	cobraCmd.Flags().StringVar(&cmd.logFile, "log-file", "",
		"Write logs to this file rather than stderr.")
	cobraCmd.Flags().StringVar(&cmd.metricsAddress, "metrics-address", "",
		"Serve Prometheus metrics at /metrics on this address, e.g. 127.0.0.1:9090.")
	cobraCmd.Flags().DurationVar(&cmd.debounce, "debounce", debounce.DefaultDelay,
		"How long files must stop changing before a live project is resynced.")
	cobraCmd.Flags().DurationVar(&cmd.gracePeriod, "grace-period", siteSync.DefaultGracePeriod,
		"How long rsync gets to exit after being interrupted before it's killed.")
	return cobraCmd
}

func (cmd syncCmd) run(names []string) error {
	cfg, err := util.ParseConfig(config.Path(cmd.configPath))
	if err != nil {
		return err
	}

	projects, err := cfg.Select(names)
	if err != nil {
		return err
	}
	if len(projects) == 0 {
		return errors.NewFriendlyError("No projects are defined in %q.", cfg.GetPath())
	}

	color := util.IsTerminal(os.Stderr)
	if cmd.logFile != "" {
		log.SetFormatter(&log.TextFormatter{
			// Show the full timestamp so that log lines can be correlated
			// with the remote host's logs.
			FullTimestamp: true,

			// Disable colors since we'll be logging to a file.
			DisableColors: true,
		})

		logFile, err := os.OpenFile(cmd.logFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return errors.WithContext(err, "open log file")
		}
		defer logFile.Close()
		log.SetOutput(logFile)
		color = false
	}

	if err := setOpenFilesLimit(); err != nil {
		log.WithError(err).Warn("Failed to increase the kernel limit on open files. " +
			"Watching large projects may fail.")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if cmd.metricsAddress != "" {
		srv := serveMetrics(cmd.metricsAddress, reg)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.WithError(err).Debug("Failed to shut down metrics server")
			}
		}()
	}

	orchestrator := siteSync.New(ctx, siteSync.Options{
		Runner:        rsync.ExecRunner{WaitDelay: cmd.gracePeriod},
		DebounceDelay: cmd.debounce,
		GracePeriod:   cmd.gracePeriod,
		Metrics:       metrics.New(reg),
	})
	hooks := siteSync.NewLogHooks(log.StandardLogger(), color)
	for _, project := range projects {
		if err := orchestrator.Register(project, hooks); err != nil {
			orchestrator.Shutdown()
			return registerError(project, err)
		}
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	// Wait returns on its own once no project is watching anymore.
	lifecyclesDone := make(chan struct{})
	go func() {
		orchestrator.Wait()
		close(lifecyclesDone)
	}()

	for {
		select {
		case <-hup:
			resyncAll(ctx, orchestrator)
		case <-ctx.Done():
			log.Info("Shutting down")
			orchestrator.Shutdown()
			return nil
		case <-lifecyclesDone:
			err := failedProjects(orchestrator)
			orchestrator.Shutdown()
			return err
		}
	}
}

func resyncAll(ctx context.Context, orchestrator *siteSync.Orchestrator) {
	for _, name := range orchestrator.Projects() {
		go func(name string) {
			_, err := orchestrator.TriggerSync(ctx, name)
			switch {
			case err == nil:
			case err == siteSync.ErrSyncInProgress:
				log.WithField("project", name).Info("Already syncing")
			case err == siteSync.ErrShuttingDown:
			default:
				// Sync failures are logged by the project's hooks.
				log.WithField("project", name).WithError(err).Debug("Manual resync failed")
			}
		}(name)
	}
}

func failedProjects(orchestrator *siteSync.Orchestrator) error {
	var failed []string
	for _, name := range orchestrator.Projects() {
		if state, _ := orchestrator.State(name); state == siteSync.Failed {
			failed = append(failed, name)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return errors.NewFriendlyError("Failed to sync [%s].", strings.Join(failed, ", "))
}

func registerError(project config.Project, err error) error {
	if notFound, ok := errors.RootCause(err).(errors.FileNotFound); ok {
		return errors.NewFriendlyError("The source of project %q doesn't exist: %s",
			project.Name, notFound.Path)
	}
	return errors.WithContext(err, fmt.Sprintf("register %q", project.Name))
}

func serveMetrics(address string, gatherer prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(gatherer))
	srv := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).WithField("address", address).Error("Metrics server stopped")
		}
	}()
	return srv
}

const osxMaxSoftOpenFilesLimit = 10240

// setOpenFilesLimit raises the soft limit on open files, since every watched
// directory holds a descriptor on some platforms.
func setOpenFilesLimit() error {
	var rLimit syscall.Rlimit
	err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit)
	if err != nil {
		return errors.WithContext(err, "get current limit")
	}

	if rLimit.Max < osxMaxSoftOpenFilesLimit {
		rLimit.Cur = rLimit.Max
	} else {
		rLimit.Cur = osxMaxSoftOpenFilesLimit
	}
	return syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit)
}

package doctor

import (
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/buger/goterm"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/sidkik/site/cmd/util"
	"github.com/sidkik/site/pkg/config"
	"github.com/sidkik/site/pkg/errors"
	"github.com/sidkik/site/pkg/rsync"
)

// Mocked out for unit testing.
var (
	fs          = afero.NewOsFs()
	checkRsync  = rsync.CheckVersion
	lookPath    = exec.LookPath
	parseConfig = util.ParseConfig

	stdout io.Writer = os.Stdout
)

// New creates a new `doctor` command.
func New() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that this machine is set up to sync",
		Long: "Check that a supported rsync and ssh are installed, and that the\n" +
			"source of every project in the config exists.",
		Run: func(_ *cobra.Command, _ []string) {
			d := doctor{color: util.IsTerminal(os.Stdout)}
			if failed := d.run(config.Path(configPath)); failed > 0 {
				util.HandleFatalError(errors.NewFriendlyError("%d check(s) failed.", failed))
			}
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "",
		fmt.Sprintf("Path to the project config. Defaults to $%s, or %s.",
			config.PathEnvKey, config.DefaultPath))
	return cmd
}

type doctor struct {
	color  bool
	failed int
}

// run prints the result of each check, and returns how many failed.
func (d *doctor) run(configPath string) int {
	d.check("rsync", func() (string, error) {
		installed, err := checkRsync(rsync.DefaultBinary)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("version %s", installed), nil
	})

	d.check("ssh", func() (string, error) {
		return lookPath("ssh")
	})

	var cfg config.Config
	d.check("config", func() (string, error) {
		var err error
		cfg, err = parseConfig(configPath)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d project(s) in %s", len(cfg.Projects), configPath), nil
	})

	for _, project := range cfg.Projects {
		project := project
		d.check(fmt.Sprintf("project %q", project.Name), func() (string, error) {
			return checkSource(project)
		})
	}
	return d.failed
}

func (d *doctor) check(name string, fn func() (string, error)) {
	detail, err := fn()
	if err != nil {
		d.failed++
		msg := err.Error()
		if friendly, ok := errors.GetFriendlyMessage(err); ok {
			msg = friendly
		}
		fmt.Fprintf(stdout, "%s %s: %s\n", d.colored("✗", goterm.RED), name, msg)
		return
	}
	fmt.Fprintf(stdout, "%s %s: %s\n", d.colored("✓", goterm.GREEN), name, detail)
}

func (d *doctor) colored(msg string, color int) string {
	if !d.color {
		return msg
	}
	return goterm.Color(msg, color)
}

func checkSource(project config.Project) (string, error) {
	info, err := fs.Stat(project.Source)
	switch {
	case os.IsNotExist(err) && project.Mode == config.Pull:
		return fmt.Sprintf("%s will be created by the first pull", project.Source), nil
	case os.IsNotExist(err):
		return "", errors.NewFriendlyError("source %s doesn't exist", project.Source)
	case err != nil:
		return "", errors.WithContext(err, "stat source")
	case !info.IsDir():
		return "", errors.NewFriendlyError("source %s isn't a directory", project.Source)
	}
	return fmt.Sprintf("%s %s %s", project.Source, arrow(project.Mode), project.Destination), nil
}

func arrow(mode config.Mode) string {
	if mode == config.Pull {
		return "<-"
	}
	return "->"
}

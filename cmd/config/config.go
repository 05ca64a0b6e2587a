package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/buger/goterm"
	"github.com/spf13/cobra"

	"github.com/sidkik/site/cmd/util"
	"github.com/sidkik/site/pkg/config"
)

// Mocked for unit testing.
var stdout io.Writer = os.Stdout

// New creates a new `config` command.
func New() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "config [project] ...",
		Short: "Validate the project config and print the projects it defines",
		Run: func(_ *cobra.Command, args []string) {
			cfg, err := util.ParseConfig(config.Path(configPath))
			if err != nil {
				util.HandleFatalError(err)
			}

			projects, err := cfg.Select(args)
			if err != nil {
				util.HandleFatalError(err)
			}
			printProjects(stdout, cfg.GetPath(), projects, util.IsTerminal(os.Stdout))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "",
		fmt.Sprintf("Path to the project config. Defaults to $%s, or %s.",
			config.PathEnvKey, config.DefaultPath))
	return cmd
}

func printProjects(w io.Writer, path string, projects []config.Project, color bool) {
	fmt.Fprintf(w, "Parsed %d project(s) from %s\n\n", len(projects), path)

	out := tabwriter.NewWriter(w, 0, 10, 3, ' ', 0)
	fmt.Fprintln(out, "NAME\tMODE\tLIVE\tSOURCE\tDESTINATION\tEXCLUDE")
	for _, project := range projects {
		live := "no"
		if project.Live {
			live = "yes"
			if color {
				live = goterm.Color(live, goterm.GREEN)
			}
		}
		fmt.Fprintf(out, "%s\t%s\t%s\t%s\t%s\t%s\n", project.Name, project.Mode,
			live, project.Source, project.Destination, strings.Join(project.Exclude, ","))
	}
	out.Flush()
}

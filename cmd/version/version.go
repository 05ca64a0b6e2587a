package version

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sidkik/site/pkg/rsync"
	"github.com/sidkik/site/pkg/version"
)

// Mocked out for unit testing.
var (
	installedRsync = rsync.InstalledVersion

	stdout io.Writer = os.Stdout
)

// New creates a new `version` command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of site and of the installed rsync",
		Run: func(_ *cobra.Command, _ []string) {
			run()
		},
	}
}

func run() {
	fmt.Fprintf(stdout, "site version:  %s\n", version.Version)

	rsyncVersion := "not installed"
	if installed, err := installedRsync(rsync.DefaultBinary); err == nil {
		rsyncVersion = installed.String()
	}
	fmt.Fprintf(stdout, "rsync version: %s\n", rsyncVersion)
}

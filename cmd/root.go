package cmd

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	configCmd "github.com/sidkik/site/cmd/config"
	"github.com/sidkik/site/cmd/doctor"
	"github.com/sidkik/site/cmd/push"
	syncCmd "github.com/sidkik/site/cmd/sync"
	"github.com/sidkik/site/cmd/util"
	"github.com/sidkik/site/cmd/version"
)

// verboseLogKey is the environment variable used to enable verbose logging.
// When it's set to `true`, Debug events are logged, rather than just Info and
// above. This includes every line of rsync output.
const verboseLogKey = "SITE_LOG_VERBOSE"

// Execute runs the main CLI process.
func Execute() {
	if os.Getenv(verboseLogKey) == "true" {
		log.SetLevel(log.DebugLevel)
	}

	rootCmd := &cobra.Command{
		Use:          "site",
		Short:        "Keep local directories in sync with remote hosts over rsync",
		SilenceUsage: true,

		// The call to rootCmd.Execute prints the error, so we silence errors
		// here to avoid double printing.
		SilenceErrors: true,
	}
	rootCmd.AddCommand(
		configCmd.New(),
		doctor.New(),
		push.New(),
		syncCmd.New(),
		version.New(),
	)

	if err := rootCmd.Execute(); err != nil {
		util.HandleFatalError(err)
	}
}

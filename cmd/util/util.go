package util

import (
	"fmt"
	"io"
	"os"
	"runtime/debug"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh/terminal"

	"github.com/sidkik/site/pkg/config"
	"github.com/sidkik/site/pkg/errors"
)

// Mocked out for unit testing.
var (
	exit             = os.Exit
	stderr io.Writer = os.Stderr
)

// HandleFatalError prints the error and exits. Friendly errors are printed
// as-is, while other errors are logged along with their context.
func HandleFatalError(err error) {
	if friendlyMsg, ok := errors.GetFriendlyMessage(err); ok {
		fmt.Fprintln(stderr, friendlyMsg)
		log.WithError(err).Debug("Full error")
	} else {
		log.WithError(err).Error("Fatal error")
	}
	exit(1)
}

// HandlePanic logs any panic in the calling goroutine along with the stack
// trace, and exits. It should be deferred.
func HandlePanic() {
	if r := recover(); r != nil {
		log.WithField("panic", r).WithField("stack", string(debug.Stack())).
			Error("Unexpected panic. Please report this as a bug.")
		exit(2)
	}
}

// ParseConfig parses the project config at `path`, turning a missing file
// into an error that tells the user how to fix it.
func ParseConfig(path string) (config.Config, error) {
	cfg, err := config.Parse(path)
	if err != nil {
		if notFound, ok := errors.RootCause(err).(errors.FileNotFound); ok {
			return config.Config{}, errors.NewFriendlyError(
				"No project config found at %q.\n\n"+
					"Create one, or point to an existing one with --config or $%s.",
				notFound.Path, config.PathEnvKey)
		}
		return config.Config{}, err
	}
	return cfg, nil
}

// IsTerminal returns whether `f` is an interactive terminal, in which case
// output can be colored.
func IsTerminal(f *os.File) bool {
	return terminal.IsTerminal(int(f.Fd()))
}

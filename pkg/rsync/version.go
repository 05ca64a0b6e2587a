package rsync

import (
	"os/exec"
	"regexp"

	goversion "github.com/hashicorp/go-version"

	"github.com/sidkik/site/pkg/errors"
)

// MinimumVersion is the oldest rsync that prints incremental file lists.
const MinimumVersion = "3.0.0"

var runVersionCommand = func(binary string) ([]byte, error) {
	return exec.Command(binary, "--version").Output()
}

var versionRegex = regexp.MustCompile(`rsync\s+version\s+v?(\d+\.\d+(\.\d+)?)`)

// InstalledVersion returns the version of the rsync at `binary`.
func InstalledVersion(binary string) (*goversion.Version, error) {
	out, err := runVersionCommand(binary)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, errors.NewFriendlyError("%s", NotFound)
		}
		return nil, errors.WithContext(err, "run rsync --version")
	}

	match := versionRegex.FindSubmatch(out)
	if match == nil {
		return nil, errors.New("unrecognized rsync --version output")
	}
	return goversion.NewVersion(string(match[1]))
}

// CheckVersion returns an error if the installed rsync is too old.
func CheckVersion(binary string) (*goversion.Version, error) {
	installed, err := InstalledVersion(binary)
	if err != nil {
		return nil, err
	}

	minimum := goversion.Must(goversion.NewVersion(MinimumVersion))
	if installed.LessThan(minimum) {
		return installed, errors.NewFriendlyError("rsync %s is installed, "+
			"but site requires at least %s.", installed, minimum)
	}
	return installed, nil
}

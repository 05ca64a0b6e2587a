package rsync

import "fmt"

// ExitCategory is the human-readable meaning of an rsync exit code.
type ExitCategory string

// The categories that consumers match on. Only the ones with specific
// handling are named; the rest are looked up through ClassifyExitCode.
const (
	Success       ExitCategory = "Success"
	NotFound      ExitCategory = "Rsync not found; please run site enable --sync"
	ConnectFailed ExitCategory = "Unable to connect to the remote host; please check the host and your SSH credentials"
	Unknown       ExitCategory = "Unknown error"
)

// Exit codes with special meaning to the orchestrator.
const (
	ExitSuccess     = 0
	ExitInterrupted = 20
	ExitNotFound    = 127
	ExitConnect     = 255
)

var exitCategories = map[int]ExitCategory{
	0:   Success,
	1:   "Syntax or usage error",
	2:   "Protocol incompatibility",
	3:   "Errors selecting input/output files, dirs",
	4:   "Requested action not supported",
	5:   "Error starting client-server protocol",
	6:   "Daemon unable to append to log-file",
	10:  "Error in socket I/O",
	11:  "Error in file I/O",
	12:  "Error in rsync protocol data stream",
	13:  "Errors with program diagnostics",
	14:  "Error in IPC code",
	20:  "Received SIGUSR1 or SIGINT",
	21:  "Some error returned by waitpid()",
	22:  "Error allocating core memory buffers",
	23:  "Partial transfer due to error",
	24:  "Partial transfer due to vanished source files",
	25:  "The --max-delete limit stopped deletions",
	30:  "Timeout in data send/receive",
	35:  "Timeout waiting for daemon connection",
	127: NotFound,
	255: ConnectFailed,
}

// ClassifyExitCode maps an rsync exit code to its category. Codes that rsync
// doesn't document map to Unknown.
func ClassifyExitCode(code int) ExitCategory {
	if category, ok := exitCategories[code]; ok {
		return category
	}
	return Unknown
}

// TransportError is returned when rsync exits with a non-zero code.
type TransportError struct {
	Project  string
	Code     int
	Category ExitCategory
	Stderr   string
}

// NewTransportError classifies `code` for the given project.
func NewTransportError(project string, code int, stderr string) *TransportError {
	return &TransportError{
		Project:  project,
		Code:     code,
		Category: ClassifyExitCode(code),
		Stderr:   stderr,
	}
}

func (err *TransportError) Error() string {
	if err.Category == Unknown {
		return fmt.Sprintf("sync %q failed: %s (exit code %d)", err.Project, err.Category, err.Code)
	}
	return fmt.Sprintf("sync %q failed: %s", err.Project, err.Category)
}

// FriendlyMessage includes the last lines of rsync's stderr, since that's
// usually where the actual cause is printed.
func (err *TransportError) FriendlyMessage() string {
	msg := fmt.Sprintf("Failed to sync %q: %s (exit code %d).", err.Project, err.Category, err.Code)
	if tail := lastLines(err.Stderr, 5); tail != "" {
		msg += "\n\nrsync output:\n" + tail
	}
	return msg
}

package sync

import "github.com/buger/goterm"

// ProjectState is where a project is in its lifecycle.
type ProjectState int

const (
	// Idle projects have been registered but haven't started syncing yet.
	Idle ProjectState = iota

	// InitialSyncing projects are running their first rsync.
	InitialSyncing

	// Watching projects are live and waiting for file changes.
	Watching

	// Resyncing projects are running rsync in response to file changes.
	Resyncing

	// Done projects aren't live, and their only sync succeeded.
	Done

	// Failed projects had their last rsync fail, or their watch broke. If
	// the watch is still open, the next file change retries the sync.
	Failed

	// ShuttingDown projects are being stopped.
	ShuttingDown

	// Closed projects have been stopped and will never sync again.
	Closed
)

func (s ProjectState) String() string {
	switch s {
	case Idle:
		return "Idle"
	case InitialSyncing:
		return "Initial Syncing"
	case Watching:
		return "Watching"
	case Resyncing:
		return "Resyncing"
	case Done:
		return "Done"
	case Failed:
		return "Failed"
	case ShuttingDown:
		return "Shutting Down"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Colored returns the state's name in its terminal color.
func (s ProjectState) Colored() string {
	color := goterm.BLACK
	switch s {
	case Failed:
		color = goterm.RED
	case InitialSyncing, Resyncing:
		color = goterm.YELLOW
	case Watching, Done:
		color = goterm.GREEN
	}
	return goterm.Color(s.String(), color)
}

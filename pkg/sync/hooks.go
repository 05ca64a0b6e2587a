package sync

import (
	"github.com/buger/goterm"
	"github.com/sirupsen/logrus"

	"github.com/sidkik/site/pkg/errors"
	"github.com/sidkik/site/pkg/fswatch"
	"github.com/sidkik/site/pkg/rsync"
)

// Hooks receive a project's lifecycle events. They're called from multiple
// goroutines. A run's OnSyncSuccess or OnSyncError returns before the next
// run of the same project starts.
type Hooks interface {
	OnSyncStart(project, runID string)
	OnSyncOutput(project string, event rsync.Event)
	OnSyncSuccess(project string, stats rsync.Stats)
	OnSyncError(project string, err error)
	OnWatchReady(project string)
	OnWatchEvent(project string, event fswatch.Event)
	OnWatchError(project string, err error)
}

// NopHooks ignores every event. It can be embedded to implement a subset of
// Hooks.
type NopHooks struct{}

func (NopHooks) OnSyncStart(string, string) {}
func (NopHooks) OnSyncOutput(string, rsync.Event) {}
func (NopHooks) OnSyncSuccess(string, rsync.Stats) {}
func (NopHooks) OnSyncError(string, error) {}
func (NopHooks) OnWatchReady(string) {}
func (NopHooks) OnWatchEvent(string, fswatch.Event) {}
func (NopHooks) OnWatchError(string, error) {}

// LogHooks logs every event. It's what `site sync` uses.
type LogHooks struct {
	log   logrus.FieldLogger
	color bool
}

// NewLogHooks creates a LogHooks that logs to `log`. If `color` is set, the
// outcome of each sync is colored.
func NewLogHooks(log logrus.FieldLogger, color bool) LogHooks {
	return LogHooks{log: log, color: color}
}

func (h LogHooks) colored(msg string, color int) string {
	if !h.color {
		return msg
	}
	return goterm.Color(msg, color)
}

func (h LogHooks) OnSyncStart(project, runID string) {
	h.log.WithField("project", project).WithField("run", runID).Info("Syncing")
}

func (h LogHooks) OnSyncOutput(project string, event rsync.Event) {
	if event.Line == "" {
		return
	}
	h.log.WithField("project", project).
		WithField("stream", event.Stream).
		Debug(event.Line)
}

func (h LogHooks) OnSyncSuccess(project string, stats rsync.Stats) {
	h.log.WithField("project", project).
		WithField("sent", stats.Sent).
		WithField("received", stats.Received).
		WithField("rate", stats.Rate).
		WithField("files", stats.Files).
		Info(h.colored("Synced", goterm.GREEN))
}

func (h LogHooks) OnSyncError(project string, err error) {
	msg := err.Error()
	if friendly, ok := errors.GetFriendlyMessage(err); ok {
		msg = friendly
	}
	h.log.WithField("project", project).Error(h.colored(msg, goterm.RED))
}

func (h LogHooks) OnWatchReady(project string) {
	h.log.WithField("project", project).Info("Watching for changes")
}

func (h LogHooks) OnWatchEvent(project string, event fswatch.Event) {
	h.log.WithField("project", project).
		WithField("op", event.Op).
		WithField("path", event.Path).
		Debug("File changed")
}

func (h LogHooks) OnWatchError(project string, err error) {
	h.log.WithField("project", project).WithError(err).Error(
		h.colored("Stopped watching for changes", goterm.RED))
}

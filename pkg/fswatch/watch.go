package fswatch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/site/pkg/config"
	"github.com/sidkik/site/pkg/errors"
)

// Variables mocked for unit testing.
var (
	fs         = afero.NewOsFs()
	newWatcher = fsnotify.NewWatcher
)

// openWatches counts the watches that haven't been closed yet.
var openWatches int64

// OpenCount returns the number of watches in this process that are open.
func OpenCount() int {
	return int(atomic.LoadInt64(&openWatches))
}

// Op is the kind of change to a file.
type Op string

const (
	Create Op = "create"
	Write  Op = "write"
	Remove Op = "remove"
	Rename Op = "rename"
	Chmod  Op = "chmod"
)

// Event is a change to a file within the project's source directory.
type Event struct {
	Op Op

	// Path is relative to the source directory.
	Path string
}

func (e Event) String() string {
	return fmt.Sprintf("%s %s", e.Op, e.Path)
}

// Watch recursively watches a project's source directory. fsnotify only
// watches a single directory, so every directory in the tree is added
// individually and directories created later are added as they appear.
type Watch struct {
	project string
	root    string
	exclude []string

	watcher *fsnotify.Watcher
	events  chan Event
	errors  chan error
	ready   chan struct{}

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Open starts watching `project.Source`. Paths that match the project's
// exclude patterns are neither watched nor reported.
func Open(project config.Project) (*Watch, error) {
	pathsToWatch, err := getPathsToWatch(project.Source, project.Exclude)
	if err != nil {
		return nil, errors.WithContext(err, "get paths")
	}

	watcher, err := newWatcher()
	if err != nil {
		return nil, errors.WithContext(err, "create watcher")
	}

	for _, path := range pathsToWatch {
		if err := watcher.Add(path); err != nil {
			// Close the watcher so that we release the file handlers for the
			// previously added paths.
			if err := watcher.Close(); err != nil {
				log.WithError(err).Warn("Failed to close file watcher")
			}

			return nil, errors.WithContext(err, fmt.Sprintf("watch %q", path))
		}
	}

	w := &Watch{
		project: project.Name,
		root:    project.Source,
		exclude: project.Exclude,
		watcher: watcher,
		events:  make(chan Event, 64),
		errors:  make(chan error, 1),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
	atomic.AddInt64(&openWatches, 1)

	// The initial walk is done by now. Nothing is emitted for it.
	close(w.ready)

	w.wg.Add(1)
	go w.run()
	return w, nil
}

// Events returns the channel of changes. It's closed when the watch is
// closed.
func (w *Watch) Events() <-chan Event {
	return w.events
}

// Errors returns fatal errors. After an error is received the watch should
// be closed, since changes may have been missed.
func (w *Watch) Errors() <-chan error {
	return w.errors
}

// Ready is closed once every directory in the tree is being watched.
func (w *Watch) Ready() <-chan struct{} {
	return w.ready
}

// Close releases the underlying OS watches. It's safe to call multiple
// times.
func (w *Watch) Close() {
	w.closeOnce.Do(func() {
		close(w.done)
		if err := w.watcher.Close(); err != nil {
			log.WithError(err).WithField("project", w.project).Warn("Failed to close file watcher")
		}
		w.wg.Wait()

		close(w.events)
		close(w.errors)
		atomic.AddInt64(&openWatches, -1)
	})
}

func (w *Watch) run() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.sendError(err)
		}
	}
}

func (w *Watch) handle(event fsnotify.Event) {
	relPath, err := filepath.Rel(w.root, event.Name)
	if err != nil || strings.HasPrefix(relPath, "..") {
		return
	}

	op, ok := toOp(event.Op)
	if !ok {
		return
	}

	if relPath == "." {
		// The source directory itself went away, so nothing under it can be
		// watched anymore.
		if op == Remove || op == Rename {
			w.sendError(errors.FileNotFound{Path: w.root})
		}
		return
	}

	if Excluded(relPath, w.exclude) {
		return
	}

	if op == Create {
		if err := w.addNewDir(event.Name); err != nil {
			w.sendError(errors.WithContext(err, "watch new directory"))
			return
		}
	}

	select {
	case w.events <- Event{Op: op, Path: relPath}:
	case <-w.done:
	}
}

// addNewDir starts watching `path` and its subdirectories if it's a
// directory.
func (w *Watch) addNewDir(path string) error {
	fi, err := fs.Stat(path)
	if err != nil || !fi.IsDir() {
		// The file may have already been removed. If so, the removal will
		// have its own event.
		return nil
	}

	paths, err := getChildren(path, w.root, w.exclude)
	if err != nil {
		if os.IsNotExist(errors.RootCause(err)) {
			return nil
		}
		return err
	}

	for _, path := range append([]string{path}, paths...) {
		if err := w.watcher.Add(path); err != nil && !os.IsNotExist(err) {
			return errors.WithContext(err, fmt.Sprintf("watch %q", path))
		}
	}
	return nil
}

func (w *Watch) sendError(err error) {
	select {
	case w.errors <- err:
	case <-w.done:
	}
}

func toOp(op fsnotify.Op) (Op, bool) {
	switch {
	case op&fsnotify.Create == fsnotify.Create:
		return Create, true
	case op&fsnotify.Remove == fsnotify.Remove:
		return Remove, true
	case op&fsnotify.Rename == fsnotify.Rename:
		return Rename, true
	case op&fsnotify.Write == fsnotify.Write:
		return Write, true
	case op&fsnotify.Chmod == fsnotify.Chmod:
		return Chmod, true
	}
	return "", false
}

func getPathsToWatch(root string, exclude []string) (paths []string, err error) {
	fi, err := fs.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileNotFound{Path: root}
		}
		return nil, errors.WithContext(err, "stat")
	}
	if !fi.IsDir() {
		return nil, errors.NewFriendlyError("%q must be a directory to be watched.", root)
	}

	// Because fsnotify doesn't watch directories recursively, we walk the
	// directory's contents and add all subdirectories.
	children, err := getChildren(root, root, exclude)
	if err != nil {
		return nil, errors.WithContext(err, "get subdirs")
	}
	return append([]string{root}, children...), nil
}

// getChildren returns the directories under `dir` that aren't excluded.
// Exclude patterns are relative to `root`.
func getChildren(dir, root string, exclude []string) (paths []string, err error) {
	err = afero.Walk(fs, dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return errors.WithContext(err, "walk error")
		}

		if path == dir || !fi.IsDir() {
			return nil
		}

		relativePath, err := filepath.Rel(root, path)
		if err != nil || strings.HasPrefix(relativePath, "..") {
			// This shouldn't happen because `path` is always a child of `root`.
			return errors.WithContext(err, "normalized path")
		}

		if Excluded(relativePath, exclude) {
			return filepath.SkipDir
		}
		paths = append(paths, path)
		return nil
	})
	return paths, err
}

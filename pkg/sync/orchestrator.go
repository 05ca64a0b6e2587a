package sync

import (
	"context"
	"io"
	"os"
	"sort"
	goSync "sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/site/pkg/config"
	"github.com/sidkik/site/pkg/debounce"
	"github.com/sidkik/site/pkg/errors"
	"github.com/sidkik/site/pkg/fswatch"
	"github.com/sidkik/site/pkg/metrics"
	"github.com/sidkik/site/pkg/rsync"
)

// DefaultGracePeriod is how long a process gets to exit after SIGTERM before
// it's sent SIGKILL.
const DefaultGracePeriod = 5 * time.Second

var (
	// ErrSyncInProgress is returned by TriggerSync when the project is
	// already syncing. The request is dropped.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrShuttingDown is returned once Shutdown has been called.
	ErrShuttingDown = errors.New("shutting down")

	// ErrWatchFailed is returned by TriggerSync for projects whose watch
	// broke. They don't sync again.
	ErrWatchFailed = errors.New("project stopped after its file watch failed")
)

// Mocked out for unit testing.
var fs = afero.NewOsFs()

// watcher is the subset of *fswatch.Watch used by the orchestrator.
type watcher interface {
	Events() <-chan fswatch.Event
	Errors() <-chan error
	Ready() <-chan struct{}
	Close()
}

func openWatch(project config.Project) (watcher, error) {
	return fswatch.Open(project)
}

// Options configure an Orchestrator. Only Runner is required.
type Options struct {
	Runner rsync.Runner

	// Clock defaults to the real clock.
	Clock clockwork.Clock

	// DebounceDelay defaults to debounce.DefaultDelay.
	DebounceDelay time.Duration

	// GracePeriod defaults to DefaultGracePeriod.
	GracePeriod time.Duration

	// Metrics may be nil.
	Metrics *metrics.Metrics

	// Log defaults to the standard logger.
	Log log.FieldLogger
}

// Orchestrator runs the sync lifecycle of every registered project.
type Orchestrator struct {
	runner    rsync.Runner
	clock     clockwork.Clock
	grace     time.Duration
	metrics   *metrics.Metrics
	log       log.FieldLogger
	debouncer *debounce.Debouncer
	openWatch func(config.Project) (watcher, error)

	ctx    context.Context
	cancel context.CancelFunc

	lock         goSync.Mutex
	projects     map[string]*project
	shuttingDown bool

	// wg tracks the goroutines that may start a sync.
	wg           goSync.WaitGroup
	shutdownOnce goSync.Once
	closed       chan struct{}
}

type project struct {
	config config.Project
	hooks  Hooks

	state       ProjectState
	watch       watcher
	watchFailed bool
	running     *run
}

// run is one rsync invocation.
type run struct {
	id      string
	started time.Time
	done    chan struct{}
}

// New creates an Orchestrator. Cancelling `ctx` shuts it down.
func New(ctx context.Context, opts Options) *Orchestrator {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if opts.Log == nil {
		opts.Log = log.StandardLogger()
	}

	ctx, cancel := context.WithCancel(ctx)
	o := &Orchestrator{
		runner:    opts.Runner,
		clock:     opts.Clock,
		grace:     opts.GracePeriod,
		metrics:   opts.Metrics,
		log:       opts.Log,
		openWatch: openWatch,
		ctx:       ctx,
		cancel:    cancel,
		projects:  map[string]*project{},
		closed:    make(chan struct{}),
	}
	o.debouncer = debounce.New(opts.Clock, opts.DebounceDelay, o.fire)

	go func() {
		<-ctx.Done()
		o.Shutdown()
	}()
	return o
}

// Register adds a project and starts its initial sync in the background.
// `hooks` may be nil.
func (o *Orchestrator) Register(cfg config.Project, hooks Hooks) error {
	if hooks == nil {
		hooks = NopHooks{}
	}

	o.lock.Lock()
	defer o.lock.Unlock()

	if o.shuttingDown {
		return ErrShuttingDown
	}
	if _, ok := o.projects[cfg.Name]; ok {
		return errors.DuplicateProjectError{Name: cfg.Name}
	}

	// Pulls create the source directory.
	if cfg.Mode != config.Pull {
		if err := checkSource(cfg.Source); err != nil {
			return err
		}
	}

	p := &project{config: cfg, hooks: hooks, state: Idle}
	o.projects[cfg.Name] = p

	// The initial run is reserved now so that a TriggerSync that races with
	// the lifecycle goroutine can't start a second process.
	r := o.begin(p, InitialSyncing)
	o.wg.Add(1)
	go o.start(p, r)
	return nil
}

// checkSource returns an error unless `source` is a readable directory.
func checkSource(source string) error {
	fi, err := fs.Stat(source)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.FileNotFound{Path: source}
		}
		return errors.WithContext(err, "stat source")
	}
	if !fi.IsDir() {
		return errors.NewFriendlyError("Source %q must be a directory.", source)
	}

	f, err := fs.Open(source)
	if err != nil {
		return errors.WithContext(err, "open source")
	}
	if _, err := f.Readdirnames(1); err != nil && err != io.EOF {
		f.Close()
		return errors.WithContext(err, "read source")
	}
	return f.Close()
}

// TriggerSync runs rsync for the project and blocks until it exits. If the
// project is already syncing, ErrSyncInProgress is returned immediately.
// A non-zero exit is returned as an *rsync.TransportError.
func (o *Orchestrator) TriggerSync(ctx context.Context, name string) (rsync.Stats, error) {
	o.lock.Lock()
	if o.shuttingDown {
		o.lock.Unlock()
		return rsync.Stats{}, ErrShuttingDown
	}

	p, ok := o.projects[name]
	switch {
	case !ok:
		o.lock.Unlock()
		return rsync.Stats{}, errors.UnknownProjectError{Name: name}
	case p.running != nil:
		o.lock.Unlock()
		o.metrics.Coalesced(name)
		return rsync.Stats{}, ErrSyncInProgress
	case p.watchFailed:
		o.lock.Unlock()
		return rsync.Stats{}, ErrWatchFailed
	}

	r := o.begin(p, Resyncing)
	o.lock.Unlock()

	return o.execute(ctx, p, r)
}

// begin marks the project as syncing. Must be called with the lock held.
func (o *Orchestrator) begin(p *project, state ProjectState) *run {
	r := &run{
		id:      uuid.New().String(),
		started: o.clock.Now(),
		done:    make(chan struct{}),
	}
	p.running = r
	p.state = state
	return r
}

func (o *Orchestrator) execute(ctx context.Context, p *project, r *run) (rsync.Stats, error) {
	name := p.config.Name
	runLog := o.log.WithField("project", name).WithField("run", r.id)

	p.hooks.OnSyncStart(name, r.id)
	o.metrics.SyncStarted(name)

	var res rsync.Result
	var syncErr error
	proc, err := o.runner.Start(p.config, func(event rsync.Event) {
		p.hooks.OnSyncOutput(name, event)
	})
	if err != nil {
		syncErr = errors.WithContext(err, "start rsync")
	} else {
		res = o.wait(ctx, runLog, proc)
		if res.ExitCode != rsync.ExitSuccess {
			syncErr = rsync.NewTransportError(name, res.ExitCode, res.Stderr)
		}
	}
	o.metrics.SyncFinished(name, syncErr == nil, res.Stats.Sent, o.clock.Since(r.started))

	o.lock.Lock()
	shuttingDown := o.shuttingDown
	o.lock.Unlock()

	// The hooks run before the project is released so that the next run's
	// events can't overtake them.
	switch {
	case syncErr == nil:
		p.hooks.OnSyncSuccess(name, res.Stats)
	case shuttingDown:
		runLog.WithError(syncErr).Debug("Sync interrupted by shutdown")
	default:
		p.hooks.OnSyncError(name, syncErr)
	}

	o.lock.Lock()
	p.running = nil
	switch {
	case p.state == ShuttingDown || p.state == Closed:
	case syncErr != nil:
		p.state = Failed
	case p.watch != nil:
		p.state = Watching
	case !p.config.Live:
		p.state = Done
	}
	o.lock.Unlock()
	close(r.done)

	return res.Stats, syncErr
}

// wait blocks until `proc` exits. If the sync is cancelled first, the process
// is terminated.
func (o *Orchestrator) wait(ctx context.Context, runLog log.FieldLogger, proc rsync.Process) rsync.Result {
	results := make(chan rsync.Result, 1)
	go func() {
		results <- proc.Wait()
	}()

	select {
	case res := <-results:
		return res
	case <-ctx.Done():
	case <-o.ctx.Done():
	}

	runLog.WithField("pid", proc.PID()).Debug("Terminating rsync")
	if err := proc.Kill(syscall.SIGTERM); err != nil {
		runLog.WithError(err).Warn("Failed to terminate rsync")
	}
	select {
	case res := <-results:
		return res
	case <-o.clock.After(o.grace):
	}

	runLog.WithField("pid", proc.PID()).Warn("rsync didn't exit after SIGTERM. Killing it.")
	if err := proc.Kill(syscall.SIGKILL); err != nil {
		runLog.WithError(err).Warn("Failed to kill rsync")
	}
	select {
	case res := <-results:
		return res
	case <-o.clock.After(o.grace):
		runLog.WithField("pid", proc.PID()).Warn("rsync didn't exit after SIGKILL")
		return rsync.Result{ExitCode: rsync.ExitInterrupted, PID: proc.PID()}
	}
}

// start runs the project's initial sync, and then watches it if it's live.
func (o *Orchestrator) start(p *project, r *run) {
	defer o.wg.Done()

	name := p.config.Name
	_, syncErr := o.execute(o.ctx, p, r)
	if !p.config.Live || o.ctx.Err() != nil {
		return
	}

	// The watch is opened even if the initial sync failed, so that the next
	// change retries it.
	w, err := o.openWatch(p.config)

	o.lock.Lock()
	if o.shuttingDown {
		o.lock.Unlock()
		if w != nil {
			w.Close()
		}
		return
	}
	if err != nil {
		p.state = Failed
		p.watchFailed = true
		o.lock.Unlock()

		o.log.WithField("project", name).WithError(err).Debug("Failed to open watch")
		p.hooks.OnWatchError(name, err)
		return
	}
	p.watch = w
	if syncErr == nil && p.running == nil {
		p.state = Watching
	}
	o.lock.Unlock()

	select {
	case <-w.Ready():
	case <-o.ctx.Done():
		return
	}
	p.hooks.OnWatchReady(name)
	o.forward(p, w)
}

// forward passes the watch's events to the debouncer until the watch fails
// or is closed.
func (o *Orchestrator) forward(p *project, w watcher) {
	name := p.config.Name
	for {
		select {
		case event, ok := <-w.Events():
			if !ok {
				return
			}
			o.metrics.WatchEvent(name)
			o.debouncer.Notify(name)
			p.hooks.OnWatchEvent(name, event)
		case err, ok := <-w.Errors():
			if !ok {
				return
			}
			o.failWatch(p, err)
			return
		case <-o.ctx.Done():
			return
		}
	}
}

func (o *Orchestrator) failWatch(p *project, err error) {
	name := p.config.Name

	o.lock.Lock()
	if o.shuttingDown {
		o.lock.Unlock()
		return
	}
	w := p.watch
	p.watch = nil
	p.watchFailed = true
	p.state = Failed
	o.lock.Unlock()

	o.debouncer.Cancel(name)
	if w != nil {
		w.Close()
	}
	o.log.WithField("project", name).WithError(err).Debug("Watch failed")
	p.hooks.OnWatchError(name, err)
}

// fire is called by the debouncer once a project's files stop changing.
func (o *Orchestrator) fire(name string) {
	o.lock.Lock()
	// Resyncs only start while the project's lifecycle goroutine holds wg,
	// which is no longer true once its watch has failed.
	if p, ok := o.projects[name]; o.shuttingDown || !ok || p.watchFailed {
		o.lock.Unlock()
		return
	}
	o.wg.Add(1)
	o.lock.Unlock()
	defer o.wg.Done()

	_, err := o.TriggerSync(o.ctx, name)
	switch {
	case err == nil:
	case errors.Is(err, ErrSyncInProgress):
		o.log.WithField("project", name).Debug("Dropping resync because a sync is already running")
	case errors.Is(err, ErrShuttingDown):
	default:
		// Already reported through the project's hooks.
		o.log.WithField("project", name).WithError(err).Debug("Resync failed")
	}
}

// Shutdown stops every project: pending resyncs are cancelled, running
// rsync processes are terminated, and watches are closed. It's safe to call
// multiple times and from multiple goroutines. Processes that don't exit
// within twice the grace period are logged and abandoned.
func (o *Orchestrator) Shutdown() {
	o.shutdownOnce.Do(func() {
		o.lock.Lock()
		o.shuttingDown = true
		var runs []*run
		var watches []watcher
		for _, p := range o.projects {
			p.state = ShuttingDown
			if p.running != nil {
				runs = append(runs, p.running)
			}
			if p.watch != nil {
				watches = append(watches, p.watch)
				p.watch = nil
			}
		}
		o.lock.Unlock()

		o.cancel()
		o.debouncer.Stop()
		for _, w := range watches {
			w.Close()
		}

		stopped := make(chan struct{})
		go func() {
			o.wg.Wait()
			for _, r := range runs {
				<-r.done
			}
			close(stopped)
		}()

		select {
		case <-stopped:
		case <-o.clock.After(2 * o.grace):
			o.log.Warn("Timed out waiting for syncs to stop")
		}

		o.lock.Lock()
		for _, p := range o.projects {
			p.state = Closed
		}
		o.lock.Unlock()
		close(o.closed)
	})
	<-o.closed
}

// Done is closed once Shutdown has finished.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.closed
}

// Wait blocks until every project's lifecycle has ended. Live projects only
// end when the orchestrator is shut down, or their watch fails.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// State returns the project's current state.
func (o *Orchestrator) State(name string) (ProjectState, bool) {
	o.lock.Lock()
	defer o.lock.Unlock()

	p, ok := o.projects[name]
	if !ok {
		return Idle, false
	}
	return p.state, true
}

// Projects returns the sorted names of the registered projects.
func (o *Orchestrator) Projects() (names []string) {
	o.lock.Lock()
	defer o.lock.Unlock()

	for name := range o.projects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InFlight returns the number of running rsync processes.
func (o *Orchestrator) InFlight() (n int) {
	o.lock.Lock()
	defer o.lock.Unlock()

	for _, p := range o.projects {
		if p.running != nil {
			n++
		}
	}
	return n
}

// OpenWatches returns the number of projects with an open watch.
func (o *Orchestrator) OpenWatches() (n int) {
	o.lock.Lock()
	defer o.lock.Unlock()

	for _, p := range o.projects {
		if p.watch != nil {
			n++
		}
	}
	return n
}

// ArmedTimers returns the number of projects with a pending resync.
func (o *Orchestrator) ArmedTimers() int {
	return o.debouncer.Armed()
}

package sync

import (
	"fmt"
	goSync "sync"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/sidkik/site/pkg/config"
	"github.com/sidkik/site/pkg/fswatch"
	"github.com/sidkik/site/pkg/rsync"
)

// stubRunner pretends to run rsync. Each process prints `lines` and exits
// with the next of `exitCodes`, or waits to be released if `hold` is set.
type stubRunner struct {
	clock clockwork.Clock

	lock          goSync.Mutex
	lines         []string
	exitCodes     []int
	hold          bool
	ignoreSignals bool

	procs      []*stubProcess
	startedAt  []time.Time
	projects   []config.Project
	running    int
	maxRunning int
}

func newStubRunner(clock clockwork.Clock, exitCodes ...int) *stubRunner {
	return &stubRunner{clock: clock, exitCodes: exitCodes}
}

func (r *stubRunner) Start(project config.Project, onEvent func(rsync.Event)) (rsync.Process, error) {
	r.lock.Lock()
	code := 0
	if len(r.exitCodes) > 0 {
		code = r.exitCodes[0]
		if len(r.exitCodes) > 1 {
			r.exitCodes = r.exitCodes[1:]
		}
	}

	r.running++
	if r.running > r.maxRunning {
		r.maxRunning = r.running
	}

	proc := &stubProcess{
		runner:        r,
		pid:           1000 + len(r.procs),
		code:          code,
		ignoreSignals: r.ignoreSignals,
		exited:        make(chan struct{}),
	}
	r.procs = append(r.procs, proc)
	r.startedAt = append(r.startedAt, r.clock.Now())
	r.projects = append(r.projects, project)
	lines := r.lines
	hold := r.hold
	r.lock.Unlock()

	out := rsync.NewOutput(rsync.Stdout, onEvent)
	for _, line := range lines {
		fmt.Fprintln(out, line)
	}
	proc.stdout = out

	if !hold {
		proc.exit(code)
	}
	return proc, nil
}

func (r *stubRunner) setHold(hold bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.hold = hold
}

func (r *stubRunner) started() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.procs)
}

func (r *stubRunner) proc(i int) *stubProcess {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.procs[i]
}

func (r *stubRunner) startTime(i int) time.Time {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.startedAt[i]
}

func (r *stubRunner) maxConcurrent() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.maxRunning
}

type stubProcess struct {
	runner        *stubRunner
	pid           int
	code          int
	ignoreSignals bool
	stdout        *rsync.Output

	lock     goSync.Mutex
	signals  []syscall.Signal
	exitOnce goSync.Once
	exited   chan struct{}
	result   rsync.Result
}

func (p *stubProcess) PID() int {
	return p.pid
}

func (p *stubProcess) Wait() rsync.Result {
	<-p.exited
	return p.result
}

func (p *stubProcess) Kill(sig syscall.Signal) error {
	p.lock.Lock()
	p.signals = append(p.signals, sig)
	p.lock.Unlock()

	if !p.ignoreSignals {
		p.exit(rsync.ExitInterrupted)
	}
	return nil
}

func (p *stubProcess) receivedSignals() []syscall.Signal {
	p.lock.Lock()
	defer p.lock.Unlock()
	return append([]syscall.Signal{}, p.signals...)
}

// exit makes the process exit with `code`, unless it already exited.
func (p *stubProcess) exit(code int) {
	p.exitOnce.Do(func() {
		p.result = rsync.Result{ExitCode: code, PID: p.pid}
		if p.stdout != nil {
			p.result.Stdout = p.stdout.String()
			p.result.Stats = p.stdout.Stats()
		}
		if code != 0 {
			p.result.Stderr = fmt.Sprintf("stub exited with %d\n", code)
		}

		p.runner.lock.Lock()
		p.runner.running--
		p.runner.lock.Unlock()
		close(p.exited)
	})
}

type stubWatch struct {
	events chan fswatch.Event
	errors chan error
	ready  chan struct{}

	closeOnce goSync.Once
	closed    chan struct{}
}

func newStubWatch() *stubWatch {
	ready := make(chan struct{})
	close(ready)
	return &stubWatch{
		events: make(chan fswatch.Event, 16),
		errors: make(chan error, 1),
		ready:  ready,
		closed: make(chan struct{}),
	}
}

func (w *stubWatch) Events() <-chan fswatch.Event { return w.events }
func (w *stubWatch) Errors() <-chan error { return w.errors }
func (w *stubWatch) Ready() <-chan struct{} { return w.ready }

func (w *stubWatch) Close() {
	w.closeOnce.Do(func() { close(w.closed) })
}

func (w *stubWatch) isClosed() bool {
	select {
	case <-w.closed:
		return true
	default:
		return false
	}
}

// recordingHooks records every event it receives.
type recordingHooks struct {
	lock        goSync.Mutex
	runIDs      []string
	output      []rsync.Event
	successes   []rsync.Stats
	errs        []error
	watchReady  int
	watchEvents []fswatch.Event
	watchErrs   []error
}

func (h *recordingHooks) OnSyncStart(_, runID string) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.runIDs = append(h.runIDs, runID)
}

func (h *recordingHooks) OnSyncOutput(_ string, event rsync.Event) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.output = append(h.output, event)
}

func (h *recordingHooks) OnSyncSuccess(_ string, stats rsync.Stats) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.successes = append(h.successes, stats)
}

func (h *recordingHooks) OnSyncError(_ string, err error) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.errs = append(h.errs, err)
}

func (h *recordingHooks) OnWatchReady(string) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.watchReady++
}

func (h *recordingHooks) OnWatchEvent(_ string, event fswatch.Event) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.watchEvents = append(h.watchEvents, event)
}

func (h *recordingHooks) OnWatchError(_ string, err error) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.watchErrs = append(h.watchErrs, err)
}

func (h *recordingHooks) counts() (successes, errs, watchEvents, watchErrs int) {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.successes), len(h.errs), len(h.watchEvents), len(h.watchErrs)
}

func (h *recordingHooks) getSuccesses() []rsync.Stats {
	h.lock.Lock()
	defer h.lock.Unlock()
	return append([]rsync.Stats{}, h.successes...)
}

func (h *recordingHooks) getErrors() []error {
	h.lock.Lock()
	defer h.lock.Unlock()
	return append([]error{}, h.errs...)
}

func (h *recordingHooks) getWatchErrors() []error {
	h.lock.Lock()
	defer h.lock.Unlock()
	return append([]error{}, h.watchErrs...)
}

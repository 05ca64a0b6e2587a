package rsync

import (
	"fmt"
	"io/fs"
	"os/exec"
	"sort"
	"strings"
	goSync "sync"
	"syscall"
	"time"

	"github.com/sidkik/site/pkg/config"
	"github.com/sidkik/site/pkg/errors"
)

// DefaultBinary is the rsync executable looked up in $PATH.
const DefaultBinary = "rsync"

// Variables mocked for unit testing.
var (
	startCommand = (*exec.Cmd).Start
	waitCommand  = (*exec.Cmd).Wait
	kill         = syscall.Kill
)

// Runner starts rsync processes.
type Runner interface {
	// Start spawns one rsync process for the project. Output is classified
	// line by line and passed to `onEvent` while the process runs. Calls to
	// `onEvent` are never concurrent.
	Start(project config.Project, onEvent func(Event)) (Process, error)
}

// Process is a running rsync.
type Process interface {
	PID() int

	// Wait blocks until the process exits. A non-zero exit code is not an
	// error, it's reported in the Result.
	Wait() Result

	// Kill signals the process's entire process group, so that the ssh
	// child is signalled as well.
	Kill(sig syscall.Signal) error
}

// Result is the outcome of a finished process.
type Result struct {
	ExitCode int
	PID      int
	Stdout   string
	Stderr   string
	Stats    Stats
	Duration time.Duration
}

// ExecRunner runs rsync on the local machine.
type ExecRunner struct {
	// Binary defaults to DefaultBinary.
	Binary string

	// Args defaults to the package level Args.
	Args func(config.Project) []string

	// WaitDelay bounds how long Wait blocks on output after the process
	// exits. Zero waits forever.
	WaitDelay time.Duration
}

// Start implements Runner.
func (r ExecRunner) Start(project config.Project, onEvent func(Event)) (Process, error) {
	binary := r.Binary
	if binary == "" {
		binary = DefaultBinary
	}
	argsFn := r.Args
	if argsFn == nil {
		argsFn = Args
	}

	var emitLock goSync.Mutex
	emit := func(event Event) {
		if onEvent == nil {
			return
		}
		emitLock.Lock()
		defer emitLock.Unlock()
		onEvent(event)
	}
	stdout := NewOutput(Stdout, emit)
	stderr := NewOutput(Stderr, emit)

	cmd := exec.Command(binary, argsFn(project)...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = r.WaitDelay

	startTime := time.Now()
	if err := startCommand(cmd); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(stderr, "%s: command not found\n", binary)
			return &exitedProcess{result: Result{
				ExitCode: ExitNotFound,
				Stderr:   stderr.String(),
			}}, nil
		}
		return nil, errors.WithContext(err, "start rsync")
	}

	return &process{
		cmd:    cmd,
		start:  startTime,
		stdout: stdout,
		stderr: stderr,
	}, nil
}

type process struct {
	cmd            *exec.Cmd
	start          time.Time
	stdout, stderr *Output

	waitOnce goSync.Once
	result   Result
}

func (p *process) PID() int {
	return p.cmd.Process.Pid
}

func (p *process) Wait() Result {
	p.waitOnce.Do(func() {
		err := waitCommand(p.cmd)
		p.stdout.Flush()
		p.stderr.Flush()

		p.result = Result{
			ExitCode: exitCode(p.cmd, err),
			PID:      p.PID(),
			Stdout:   p.stdout.String(),
			Stderr:   p.stderr.String(),
			Stats:    p.stdout.Stats(),
			Duration: time.Since(p.start),
		}
	})
	return p.result
}

func (p *process) Kill(sig syscall.Signal) error {
	err := kill(-p.PID(), sig)
	// Ignore the error if the process already exited.
	if err != nil && !errors.Is(err, syscall.ESRCH) {
		return errors.WithContext(err, "kill")
	}
	return nil
}

func exitCode(cmd *exec.Cmd, err error) int {
	state := cmd.ProcessState
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		state = exitErr.ProcessState
	}

	if state == nil {
		return -1
	}
	if status, ok := state.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return ExitInterrupted
	}
	return state.ExitCode()
}

// exitedProcess is returned when rsync couldn't be spawned at all.
type exitedProcess struct {
	result Result
}

func (p *exitedProcess) PID() int { return 0 }
func (p *exitedProcess) Wait() Result { return p.result }
func (p *exitedProcess) Kill(_ syscall.Signal) error { return nil }

// Args returns the rsync arguments that sync `project`.
func Args(project config.Project) []string {
	args := []string{"-avz"}
	if _, ok := project.Options["rsh"]; !ok {
		args = append(args, "-e", "ssh")
	}

	for _, pattern := range project.Exclude {
		args = append(args, "--exclude="+pattern)
	}

	var keys []string
	for key := range project.Options {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		flag := "--" + strings.TrimLeft(key, "-")
		switch value := project.Options[key]; value {
		case "", "true":
			args = append(args, flag)
		case "false":
		default:
			args = append(args, flag+"="+value)
		}
	}

	remote := project.Destination
	if project.Mode == config.Pull {
		remote.Path = withTrailingSlash(remote.Path)
		return append(args, remote.String(), project.Source)
	}
	return append(args, withTrailingSlash(project.Source), remote.String())
}

func withTrailingSlash(path string) string {
	if strings.HasSuffix(path, "/") {
		return path
	}
	return path + "/"
}

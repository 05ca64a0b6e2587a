package rsync

import (
	"os"
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/site/pkg/config"
	"github.com/sidkik/site/pkg/errors"
)

func TestArgs(t *testing.T) {
	dst := config.Destination{User: "user", Host: "host", Path: "/remote/path"}

	tests := []struct {
		name    string
		project config.Project
		exp     []string
	}{
		{
			name: "Push",
			project: config.Project{
				Source:      "/tmp/site",
				Destination: dst,
				Mode:        config.Push,
			},
			exp: []string{"-avz", "-e", "ssh", "/tmp/site/", "user@host:/remote/path"},
		},
		{
			name: "PushWithTrailingSlash",
			project: config.Project{
				Source:      "/tmp/site/",
				Destination: dst,
			},
			exp: []string{"-avz", "-e", "ssh", "/tmp/site/", "user@host:/remote/path"},
		},
		{
			name: "Pull",
			project: config.Project{
				Source:      "/tmp/backup",
				Destination: dst,
				Mode:        config.Pull,
			},
			exp: []string{"-avz", "-e", "ssh", "user@host:/remote/path/", "/tmp/backup"},
		},
		{
			name: "ExcludesAndOptions",
			project: config.Project{
				Source:      "/tmp/site",
				Destination: dst,
				Exclude:     []string{"node_modules", "*.swp", ".git"},
				Options: map[string]string{
					"delete":   "true",
					"chmod":    "D755,F644",
					"checksum": "",
					"compress": "false",
				},
			},
			exp: []string{"-avz", "-e", "ssh",
				"--exclude=node_modules", "--exclude=*.swp", "--exclude=.git",
				"--checksum", "--chmod=D755,F644", "--delete",
				"/tmp/site/", "user@host:/remote/path"},
		},
		{
			name: "DirectoryOnlyExclude",
			project: config.Project{
				Source:      "/tmp/site",
				Destination: dst,
				Exclude:     []string{"cache/", "./build"},
			},
			exp: []string{"-avz", "-e", "ssh", "--exclude=cache/", "--exclude=./build",
				"/tmp/site/", "user@host:/remote/path"},
		},
		{
			name: "CustomRemoteShell",
			project: config.Project{
				Source:      "/tmp/site",
				Destination: config.Destination{Host: "host", Path: "/srv"},
				Options:     map[string]string{"rsh": "ssh -p 2222"},
			},
			exp: []string{"-avz", "--rsh=ssh -p 2222", "/tmp/site/", "host:/srv"},
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.exp, Args(test.project))
		})
	}
}

func shellRunner(script string) ExecRunner {
	return ExecRunner{
		Binary: "sh",
		Args: func(config.Project) []string {
			return []string{"-c", script}
		},
		WaitDelay: 5 * time.Second,
	}
}

func TestExecRunner(t *testing.T) {
	runner := shellRunner(`echo "sending incremental file list"
echo "index.html"
echo
echo "sent 120 bytes  received 40 bytes  80.00 bytes/sec"
echo "permission denied" >&2
exit 23`)

	var events []Event
	proc, err := runner.Start(config.Project{Name: "blog"}, func(event Event) {
		events = append(events, event)
	})
	require.NoError(t, err)
	assert.NotZero(t, proc.PID())

	res := proc.Wait()
	assert.Equal(t, 23, res.ExitCode)
	assert.Equal(t, proc.PID(), res.PID)
	assert.Equal(t, "permission denied\n", res.Stderr)
	assert.Equal(t, int64(120), res.Stats.Sent)
	assert.Equal(t, int64(40), res.Stats.Received)
	assert.Equal(t, 80.00, res.Stats.Rate)
	assert.Equal(t, 1, res.Stats.Files)

	var kinds []EventKind
	for _, event := range events {
		if event.Stream == Stdout {
			kinds = append(kinds, event.Kind)
		}
	}
	assert.Equal(t, []EventKind{TransferStart, PlainLine, PlainLine, StatsLine}, kinds)

	// Waiting again returns the same result rather than blocking.
	assert.Equal(t, res, proc.Wait())
}

func TestExecRunnerNotFound(t *testing.T) {
	runner := ExecRunner{Binary: "site-test-rsync-does-not-exist"}

	proc, err := runner.Start(config.Project{Name: "blog", Source: "/tmp/site"}, nil)
	require.NoError(t, err)

	res := proc.Wait()
	assert.Equal(t, ExitNotFound, res.ExitCode)
	assert.Equal(t, NotFound, ClassifyExitCode(res.ExitCode))
	assert.Contains(t, res.Stderr, "command not found")
	assert.NoError(t, proc.Kill(syscall.SIGTERM))
}

func TestExecRunnerStartError(t *testing.T) {
	defer func() { startCommand = (*exec.Cmd).Start }()
	startCommand = func(*exec.Cmd) error {
		return syscall.EAGAIN
	}

	_, err := ExecRunner{Binary: "sh"}.Start(config.Project{}, nil)
	assert.True(t, errors.Is(err, syscall.EAGAIN))
}

func TestKillProcessGroup(t *testing.T) {
	proc, err := shellRunner("sleep 30").Start(config.Project{}, nil)
	require.NoError(t, err)

	require.NoError(t, proc.Kill(syscall.SIGKILL))
	res := proc.Wait()
	assert.Equal(t, ExitInterrupted, res.ExitCode)
	assert.Less(t, res.Duration, 30*time.Second)
}

func TestKillExitedProcess(t *testing.T) {
	defer func() { kill = syscall.Kill }()

	var killedPID int
	kill = func(pid int, sig syscall.Signal) error {
		killedPID = pid
		assert.Equal(t, syscall.SIGTERM, sig)
		return syscall.ESRCH
	}

	proc := &process{cmd: &exec.Cmd{Process: &os.Process{Pid: 42}}}
	assert.NoError(t, proc.Kill(syscall.SIGTERM))
	assert.Equal(t, -42, killedPID)

	kill = func(int, syscall.Signal) error {
		return syscall.EPERM
	}
	assert.Error(t, proc.Kill(syscall.SIGTERM))
}

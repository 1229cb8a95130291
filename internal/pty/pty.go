// Package pty spawns processes attached to a pseudo-terminal and manages their
// lifecycle: window size, process-group signals, bounded termination and reaping.
package pty

import (
	"errors"
	"os"
	"os/exec"
	"strings"
	"sync"
)

const (
	// DefaultRows is the initial terminal height when none is given.
	DefaultRows uint16 = 24
	// DefaultCols is the initial terminal width when none is given.
	DefaultCols uint16 = 80

	termEnv = "TERM=xterm-256color"
)

var (
	// ErrInvalidSize is returned by Resize for a zero dimension.
	ErrInvalidSize = errors.New("window size must be non-zero")

	// ErrNotReaped is returned by Terminate when the child survived SIGKILL
	// for longer than the grace period.
	ErrNotReaped = errors.New("process was not reaped after SIGKILL")

	// ErrUnsupported is returned on platforms without pseudo-terminal support.
	ErrUnsupported = errors.New("pseudo-terminals are not supported on this platform")
)

// StartOptions contains options for starting a PTY process.
type StartOptions struct {
	// Command is the command to execute.
	Command string

	// Args are the arguments to pass to the command.
	Args []string

	// Env is the environment for the process. If nil, the current process
	// environment is used. TERM is always forced to xterm-256color.
	Env []string

	// Dir is the working directory for the process.
	Dir string

	// Rows and Cols are the initial window size. Zero means the default 24x80.
	Rows uint16
	Cols uint16
}

// Process is a running child attached to the slave side of a pseudo-terminal.
// Read and Write operate on the master side.
type Process struct {
	master *os.File
	cmd    *exec.Cmd
	pid    int

	done     chan struct{}
	exitCode int
	waitErr  error

	closeOnce sync.Once
	closeErr  error
}

// PID returns the process ID of the child.
func (p *Process) PID() int {
	return p.pid
}

// Read reads child output from the master.
func (p *Process) Read(b []byte) (int, error) {
	return p.master.Read(b)
}

// Write writes input to the master verbatim.
func (p *Process) Write(b []byte) (int, error) {
	return p.master.Write(b)
}

// Close closes the master. It is safe to call more than once. Closing the
// master hangs up the child's controlling terminal.
func (p *Process) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.master.Close()
	})
	return p.closeErr
}

// Done is closed once the child has been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Exited reports whether the child has been reaped.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the child has been reaped and returns its exit code. A
// child killed by a signal reports 128 plus the signal number.
func (p *Process) Wait() (int, error) {
	<-p.done
	return p.exitCode, p.waitErr
}

// reap runs cmd.Wait on its own goroutine so that exit is observable through
// Done without blocking any relay loop.
func (p *Process) reap() {
	err := p.cmd.Wait()
	p.exitCode, p.waitErr = exitStatus(p.cmd, err)
	close(p.done)
}

func withTerm(env []string) []string {
	if env == nil {
		env = os.Environ()
	}
	out := make([]string, 0, len(env)+1)
	for _, kv := range env {
		if strings.HasPrefix(kv, "TERM=") {
			continue
		}
		out = append(out, kv)
	}
	return append(out, termEnv)
}

func initialSize(rows, cols uint16) (uint16, uint16) {
	if rows == 0 || cols == 0 {
		return DefaultRows, DefaultCols
	}
	return rows, cols
}

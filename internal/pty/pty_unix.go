//go:build !windows
// +build !windows

package pty

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// Start spawns the command on a new pseudo-terminal. The child runs in its own
// session with the slave as its controlling terminal; the parent keeps only
// the master.
func Start(opts StartOptions) (*Process, error) {
	cmd := exec.Command(opts.Command, opts.Args...)
	cmd.Env = withTerm(opts.Env)
	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid:  true,
		Setctty: true,
	}

	rows, cols := initialSize(opts.Rows, opts.Cols)
	master, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: rows, Cols: cols})
	if err != nil {
		return nil, fmt.Errorf("start %s on pty: %w", opts.Command, err)
	}

	p := &Process{
		master: master,
		cmd:    cmd,
		pid:    cmd.Process.Pid,
		done:   make(chan struct{}),
	}
	go p.reap()
	return p, nil
}

// Resize sets the window size on the master. Pixel dimensions are zero.
func (p *Process) Resize(rows, cols uint16) error {
	if rows == 0 || cols == 0 {
		return ErrInvalidSize
	}
	ws := &unix.Winsize{
		Row: rows,
		Col: cols,
	}
	if err := unix.IoctlSetWinsize(int(p.master.Fd()), unix.TIOCSWINSZ, ws); err != nil {
		return fmt.Errorf("set window size %dx%d: %w", cols, rows, err)
	}
	return nil
}

// Size returns the current window size of the master.
func (p *Process) Size() (rows, cols uint16, err error) {
	ws, err := pty.GetsizeFull(p.master)
	if err != nil {
		return 0, 0, err
	}
	return ws.Rows, ws.Cols, nil
}

// Signal sends sig to the child's process group. A group that no longer
// exists is not an error.
func (p *Process) Signal(sig syscall.Signal) error {
	if err := unix.Kill(-p.pid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("signal %s to process group %d: %w", sig, p.pid, err)
	}
	return nil
}

// Terminate stops the child and reaps it. The master is closed first, then
// the process group receives SIGTERM; if the child is still running after
// grace it receives SIGKILL. Terminate returns the exit code.
func (p *Process) Terminate(grace time.Duration) (int, error) {
	p.Close()

	if p.Exited() {
		return p.Wait()
	}
	if err := p.Signal(unix.SIGTERM); err != nil {
		return -1, err
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-p.done:
		return p.Wait()
	case <-timer.C:
	}

	if err := p.Signal(unix.SIGKILL); err != nil {
		return -1, err
	}
	timer.Reset(grace)
	select {
	case <-p.done:
		return p.Wait()
	case <-timer.C:
		return -1, fmt.Errorf("pid %d: %w", p.pid, ErrNotReaped)
	}
}

func exitStatus(cmd *exec.Cmd, err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return -1, err
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return 128 + int(status.Signal()), nil
	}
	return exitErr.ExitCode(), nil
}

//go:build !windows

package pty

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// readUntil reads from p until want shows up or the timeout expires.
func readUntil(t *testing.T, p *Process, want string, timeout time.Duration) string {
	t.Helper()
	var out bytes.Buffer
	found := make(chan struct{})
	go func() {
		buf := make([]byte, 1024)
		for {
			n, err := p.Read(buf)
			out.Write(buf[:n])
			if strings.Contains(out.String(), want) {
				close(found)
				return
			}
			if err != nil {
				return
			}
		}
	}()
	select {
	case <-found:
		return out.String()
	case <-time.After(timeout):
		t.Fatalf("did not see %q within %v", want, timeout)
		return ""
	}
}

func TestStartForcesTerm(t *testing.T) {
	p, err := Start(StartOptions{
		Command: "/bin/sh",
		Args:    []string{"-c", "echo term=$TERM"},
		Env:     []string{"TERM=dumb", "PATH=/usr/bin:/bin"},
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Close()

	readUntil(t, p, "term=xterm-256color", 2*time.Second)

	code, err := p.Wait()
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
}

func TestWaitReportsExitCode(t *testing.T) {
	p, err := Start(StartOptions{Command: "/bin/sh", Args: []string{"-c", "exit 3"}})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Close()

	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("child was not reaped")
	}
	if code, _ := p.Wait(); code != 3 {
		t.Errorf("exit code = %d, want 3", code)
	}
}

func TestInitialAndResizedWindowSize(t *testing.T) {
	p, err := Start(StartOptions{Command: "/bin/sh", Args: []string{"-c", "sleep 5"}})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Terminate(time.Second)

	rows, cols, err := p.Size()
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if rows != DefaultRows || cols != DefaultCols {
		t.Errorf("initial size = %dx%d, want %dx%d", cols, rows, DefaultCols, DefaultRows)
	}

	if err := p.Resize(40, 120); err != nil {
		t.Fatalf("resize: %v", err)
	}
	rows, cols, err = p.Size()
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if rows != 40 || cols != 120 {
		t.Errorf("resized size = %dx%d, want 120x40", cols, rows)
	}

	if err := p.Resize(0, 120); err != ErrInvalidSize {
		t.Errorf("zero rows resize = %v, want ErrInvalidSize", err)
	}
}

func TestTerminateStopsIdleShell(t *testing.T) {
	p, err := Start(StartOptions{Command: "/bin/sh", Args: []string{"-c", "echo ready; sleep 30"}})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	readUntil(t, p, "ready", 2*time.Second)

	start := time.Now()
	code, err := p.Terminate(2 * time.Second)
	if err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if code == 0 {
		t.Error("expected non-zero exit code for a terminated child")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("terminate took %v", elapsed)
	}
	if err := unix.Kill(p.PID(), 0); err == nil {
		t.Errorf("pid %d still exists after terminate", p.PID())
	}
}

func TestTerminateEscalatesToKill(t *testing.T) {
	p, err := Start(StartOptions{
		Command: "/bin/sh",
		Args:    []string{"-c", `trap "" TERM HUP; echo ready; while :; do sleep 0.1; done`},
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	readUntil(t, p, "ready", 2*time.Second)

	code, err := p.Terminate(200 * time.Millisecond)
	if err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if code != 128+int(unix.SIGKILL) {
		t.Errorf("exit code = %d, want %d", code, 128+int(unix.SIGKILL))
	}
}

func TestTerminateAfterExit(t *testing.T) {
	p, err := Start(StartOptions{Command: "/bin/sh", Args: []string{"-c", "exit 0"}})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	<-p.Done()

	code, err := p.Terminate(time.Second)
	if err != nil || code != 0 {
		t.Errorf("terminate after exit = (%d, %v), want (0, nil)", code, err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestStartMissingCommand(t *testing.T) {
	if _, err := Start(StartOptions{Command: "/nonexistent/shell"}); err == nil {
		t.Fatal("expected error for missing command")
	}
}

//go:build windows
// +build windows

package pty

import (
	"syscall"
	"time"
)

// Start is not available on Windows; the bridge requires a POSIX pty.
func Start(opts StartOptions) (*Process, error) {
	return nil, ErrUnsupported
}

func (p *Process) Resize(rows, cols uint16) error {
	return ErrUnsupported
}

func (p *Process) Size() (rows, cols uint16, err error) {
	return 0, 0, ErrUnsupported
}

func (p *Process) Signal(sig syscall.Signal) error {
	return ErrUnsupported
}

func (p *Process) Terminate(grace time.Duration) (int, error) {
	return -1, ErrUnsupported
}

func exitStatus(_ interface{}, err error) (int, error) {
	return -1, err
}

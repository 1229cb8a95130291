package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"pkt.systems/pslog"

	"github.com/eCy-coding/eCyOs/internal/model"
	"github.com/eCy-coding/eCyOs/internal/pty"
)

const (
	// readBufferSize is the largest chunk read from the master at once.
	readBufferSize = 1024

	// DefaultKillGrace is how long a child has to exit after SIGTERM.
	DefaultKillGrace = 2 * time.Second

	// DefaultLoopGrace bounds the wait for relay loops during teardown.
	DefaultLoopGrace = 2 * time.Second
)

// State is the lifecycle stage of a Session.
type State int

const (
	StateCreated State = iota
	StateRunning
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Observer receives a copy of everything that crosses a session. Calls come
// from the relay goroutines and must not block.
type Observer interface {
	Output(data []byte)
	Input(data []byte)
	Resize(rows, cols uint16)
}

// Options configures a Session.
type Options struct {
	Command string
	Args    []string
	Env     []string
	Dir     string

	// Rows and Cols are the initial window size; zero means 24x80.
	Rows uint16
	Cols uint16

	// Framed selects the binary frame protocol instead of legacy text.
	Framed bool

	RemoteAddr string

	KillGrace time.Duration
	LoopGrace time.Duration

	Logger   pslog.Logger
	Observer Observer
}

// Session owns one child process on a pseudo-terminal and relays it to one
// client connection. A session never outlives its connection: whichever of
// the output loop, the input loop or the child finishes first tears down the
// other two.
type Session struct {
	id   string
	conn Conn
	opts Options
	log  pslog.Logger

	proc      *pty.Process
	startedAt time.Time

	mu    sync.Mutex
	state State
	rows  uint16
	cols  uint16

	stopOnce sync.Once
	stop     chan struct{}

	outputDone chan struct{}
	inputDone  chan struct{}
	closed     chan struct{}

	exitCode int
	exitErr  error
}

// NewSession creates a session in the Created state.
func NewSession(id string, conn Conn, opts Options) *Session {
	if opts.KillGrace <= 0 {
		opts.KillGrace = DefaultKillGrace
	}
	if opts.LoopGrace <= 0 {
		opts.LoopGrace = DefaultLoopGrace
	}
	logger := opts.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Session{
		id:         id,
		conn:       conn,
		opts:       opts,
		log:        logger.With("session", id),
		state:      StateCreated,
		stop:       make(chan struct{}),
		outputDone: make(chan struct{}),
		inputDone:  make(chan struct{}),
		closed:     make(chan struct{}),
	}
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start spawns the child and launches the relay loops. A spawn failure leaves
// the session Closed with no goroutines running; the caller owns the
// connection in that case.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.state != StateCreated {
		s.mu.Unlock()
		return fmt.Errorf("start session %s: %w", s.id, model.ErrSessionClosed)
	}
	s.mu.Unlock()

	proc, err := pty.Start(pty.StartOptions{
		Command: s.opts.Command,
		Args:    s.opts.Args,
		Env:     s.opts.Env,
		Dir:     s.opts.Dir,
		Rows:    s.opts.Rows,
		Cols:    s.opts.Cols,
	})
	if err != nil {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
		close(s.closed)
		return fmt.Errorf("%w: %v", model.ErrSpawnFailed, err)
	}

	rows, cols, err := proc.Size()
	if err != nil {
		rows, cols = pty.DefaultRows, pty.DefaultCols
	}

	s.mu.Lock()
	s.proc = proc
	s.rows, s.cols = rows, cols
	s.startedAt = time.Now()
	s.state = StateRunning
	s.mu.Unlock()

	s.log = s.log.With("pid", proc.PID())
	s.log.Info("terminal session started", "shell", s.opts.Command, "remote", s.opts.RemoteAddr, "framed", s.opts.Framed)

	go s.outputLoop()
	go s.inputLoop()
	go s.supervise()
	return nil
}

// Close requests teardown. It does not wait; use Wait for that.
func (s *Session) Close() {
	s.trigger()
}

// Wait blocks until the session is Closed and returns the child's exit code.
func (s *Session) Wait() (int, error) {
	<-s.closed
	return s.exitCode, s.exitErr
}

// Done is closed once the session reaches Closed.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

// Info returns a snapshot for diagnostics.
func (s *Session) Info() model.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := model.SessionInfo{
		ID:         s.id,
		Shell:      s.opts.Command,
		RemoteAddr: s.opts.RemoteAddr,
		Framed:     s.opts.Framed,
		Rows:       s.rows,
		Cols:       s.cols,
		State:      s.state.String(),
		StartedAt:  s.startedAt,
	}
	if s.proc != nil {
		info.PID = s.proc.PID()
	}
	return info
}

func (s *Session) trigger() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
}

// outputLoop copies master output to the client until the master fails.
func (s *Session) outputLoop() {
	defer close(s.outputDone)
	defer s.trigger()

	var decoder *textDecoder
	if !s.opts.Framed {
		decoder = newTextDecoder()
	}

	buf := make([]byte, readBufferSize)
	for {
		n, err := s.proc.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if s.opts.Observer != nil {
				s.opts.Observer.Output(chunk)
			}
			if werr := s.writeOutput(decoder, chunk, false); werr != nil {
				s.log.Debug("terminal output write failed", "err", werr)
				return
			}
		}
		if err != nil {
			if decoder != nil {
				s.writeOutput(decoder, nil, true)
			}
			if !errors.Is(err, io.EOF) {
				s.log.Debug("terminal output ended", "err", err)
			}
			return
		}
	}
}

func (s *Session) writeOutput(decoder *textDecoder, chunk []byte, atEOF bool) error {
	if decoder == nil {
		return s.conn.WriteFrame(EncodeFrame(DataFrame(chunk)))
	}
	text := decoder.Decode(chunk, atEOF)
	if len(text) == 0 {
		return nil
	}
	return s.conn.WriteFrame(text)
}

// inputLoop demultiplexes client frames into resizes and input.
func (s *Session) inputLoop() {
	defer close(s.inputDone)
	defer s.trigger()

	for {
		msg, err := s.conn.ReadFrame()
		if err != nil {
			s.log.Debug("terminal client read ended", "err", err)
			return
		}

		var control Control
		if s.opts.Framed {
			control, err = DemuxFrame(msg)
			if err != nil {
				s.log.Debug("dropping malformed frame", "err", err, "bytes", len(msg))
				continue
			}
		} else {
			control = DemuxText(msg)
		}

		switch control.Kind {
		case ControlResize:
			s.resize(control.Rows, control.Cols)
		case ControlInput:
			if len(control.Data) == 0 {
				continue
			}
			if s.opts.Observer != nil {
				s.opts.Observer.Input(control.Data)
			}
			if _, err := s.proc.Write(control.Data); err != nil {
				s.log.Debug("terminal input write failed", "err", err)
				return
			}
		}
	}
}

func (s *Session) resize(rows, cols uint16) {
	if err := s.proc.Resize(rows, cols); err != nil {
		s.log.Debug("resize rejected", "rows", rows, "cols", cols, "err", err)
		return
	}
	s.mu.Lock()
	s.rows, s.cols = rows, cols
	s.mu.Unlock()
	if s.opts.Observer != nil {
		s.opts.Observer.Resize(rows, cols)
	}
}

// supervise waits for the first finisher and tears the session down.
func (s *Session) supervise() {
	select {
	case <-s.stop:
	case <-s.proc.Done():
		// The child exited on its own; let the output loop drain the master.
		s.awaitLoop(s.outputDone)
	}

	s.mu.Lock()
	s.state = StateClosing
	s.mu.Unlock()

	code, err := s.proc.Terminate(s.opts.KillGrace)
	if err != nil {
		s.log.Warn("terminal child did not exit cleanly", "err", err)
	}

	// Output already read from the master is delivered before the exit frame.
	if !s.awaitLoop(s.outputDone) {
		s.log.Warn("output loop did not stop within grace", "grace", s.opts.LoopGrace)
	}
	if s.opts.Framed {
		if werr := s.conn.WriteFrame(EncodeFrame(ExitFrame(code))); werr != nil {
			s.log.Debug("exit frame not delivered", "err", werr)
		}
	}
	s.conn.Close()
	if !s.awaitLoop(s.inputDone) {
		s.log.Warn("input loop did not stop within grace", "grace", s.opts.LoopGrace)
	}

	s.mu.Lock()
	s.exitCode, s.exitErr = code, err
	s.state = StateClosed
	s.mu.Unlock()

	s.log.Info("terminal session closed", "exit_code", code, "duration", time.Since(s.startedAt).Round(time.Millisecond).String())
	close(s.closed)
}

func (s *Session) awaitLoop(done <-chan struct{}) bool {
	timer := time.NewTimer(s.opts.LoopGrace)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// Package session owns every live terminal session: admission, lookup,
// journaling, recording and joint shutdown.
package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"pkt.systems/pslog"

	"github.com/eCy-coding/eCyOs/internal/buffer"
	"github.com/eCy-coding/eCyOs/internal/model"
	"github.com/eCy-coding/eCyOs/internal/recorder"
	"github.com/eCy-coding/eCyOs/internal/repository"
	"github.com/eCy-coding/eCyOs/internal/terminal"
)

// DefaultMaxSessions is the concurrent session limit when none is configured.
const DefaultMaxSessions = 16

// Config holds configuration for the session manager.
type Config struct {
	Shell     string
	ShellArgs []string
	Env       []string
	Dir       string

	MaxSessions int
	KillGrace   time.Duration
	LoopGrace   time.Duration

	// RecordDir enables asciinema recordings when set.
	RecordDir string
	TailSize  int
}

// OpenRequest describes the client a new session is bridged to.
type OpenRequest struct {
	RemoteAddr string
	Framed     bool
	Rows       uint16
	Cols       uint16
}

// Manager manages terminal sessions.
type Manager struct {
	cfg  Config
	repo *repository.SessionRepository
	log  pslog.Logger

	mu       sync.Mutex
	sessions map[string]*entry
	closed   bool
	watchers sync.WaitGroup
}

type entry struct {
	session  *terminal.Session
	tail     *buffer.Tail
	recorder *recorder.Recorder
	record   *model.SessionRecord
}

// NewManager creates a session manager. repo may be nil to disable the journal.
func NewManager(cfg Config, repo *repository.SessionRepository, logger pslog.Logger) *Manager {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	if cfg.TailSize <= 0 {
		cfg.TailSize = buffer.DefaultTailSize
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Manager{
		cfg:      cfg,
		repo:     repo,
		log:      logger,
		sessions: make(map[string]*entry),
	}
}

// RecoverJournal marks records left running by a previous process as failed.
func (m *Manager) RecoverJournal(ctx context.Context) error {
	if m.repo == nil {
		return nil
	}
	n, err := m.repo.MarkAbandoned(ctx, time.Now())
	if err != nil {
		return err
	}
	if n > 0 {
		m.log.Warn("marked abandoned terminal sessions as failed", "count", n)
	}
	return nil
}

// Open spawns a shell bridged to conn and returns the running session. On
// error nothing was started and conn is left open for the caller to close.
func (m *Manager) Open(ctx context.Context, conn terminal.Conn, req OpenRequest) (*terminal.Session, error) {
	id := uuid.NewString()
	logger := m.log.With("session", id)

	e := &entry{tail: buffer.NewTail(m.cfg.TailSize)}
	observers := multiObserver{tailObserver{e.tail}}

	if m.cfg.RecordDir != "" {
		rows, cols := req.Rows, req.Cols
		if rows == 0 || cols == 0 {
			rows, cols = 24, 80
		}
		rec, err := recorder.Create(m.cfg.RecordDir, id, cols, rows, logger)
		if err != nil {
			logger.Warn("recording disabled for session", "err", err)
		} else {
			e.recorder = rec
			observers = append(observers, rec)
		}
	}

	e.session = terminal.NewSession(id, conn, terminal.Options{
		Command:    m.cfg.Shell,
		Args:       m.cfg.ShellArgs,
		Env:        m.cfg.Env,
		Dir:        m.cfg.Dir,
		Rows:       req.Rows,
		Cols:       req.Cols,
		Framed:     req.Framed,
		RemoteAddr: req.RemoteAddr,
		KillGrace:  m.cfg.KillGrace,
		LoopGrace:  m.cfg.LoopGrace,
		Logger:     m.log,
		Observer:   observers,
	})

	m.mu.Lock()
	switch {
	case m.closed:
		m.mu.Unlock()
		e.closeRecorder(logger)
		return nil, model.ErrManagerClosed
	case len(m.sessions) >= m.cfg.MaxSessions:
		m.mu.Unlock()
		e.closeRecorder(logger)
		return nil, fmt.Errorf("%w: %d sessions open", model.ErrSessionLimit, m.cfg.MaxSessions)
	}
	m.sessions[id] = e
	m.watchers.Add(1)
	m.mu.Unlock()

	if err := e.session.Start(); err != nil {
		m.remove(id)
		m.watchers.Done()
		e.closeRecorder(logger)
		m.journalFailure(ctx, id, req)
		logger.Error("terminal session spawn failed", "shell", m.cfg.Shell, "err", err)
		return nil, err
	}

	m.journalStart(ctx, e)

	go m.watch(e)
	return e.session, nil
}

// Get returns a live session by id.
func (m *Manager) Get(id string) (*terminal.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil, model.ErrSessionNotFound
	}
	return e.session, nil
}

// List returns a snapshot of live sessions, oldest first.
func (m *Manager) List() []model.SessionInfo {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	infos := make([]model.SessionInfo, 0, len(entries))
	for _, e := range entries {
		info := e.session.Info()
		switch info.State {
		case terminal.StateCreated.String(), terminal.StateClosed.String():
			continue
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].StartedAt.Equal(infos[j].StartedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].StartedAt.Before(infos[j].StartedAt)
	})
	return infos
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CloseSession tears down one session and waits for it to finish.
func (m *Manager) CloseSession(ctx context.Context, id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	s.Close()
	select {
	case <-s.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// History returns journal records, newest first.
func (m *Manager) History(ctx context.Context, limit int) ([]*model.SessionRecord, error) {
	if m.repo == nil {
		return nil, model.ErrJournalDisabled
	}
	return m.repo.List(ctx, limit)
}

// Record returns the journal entry of a session, live or finished.
func (m *Manager) Record(ctx context.Context, id string) (*model.SessionRecord, error) {
	if m.repo == nil {
		return nil, model.ErrJournalDisabled
	}
	return m.repo.GetByID(ctx, id)
}

// Shutdown refuses new sessions, tears down every live session and waits
// for their journal entries to be written or for ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	live := make([]*terminal.Session, 0, len(m.sessions))
	for _, e := range m.sessions {
		live = append(live, e.session)
	}
	m.mu.Unlock()

	for _, s := range live {
		s.Close()
	}

	done := make(chan struct{})
	go func() {
		m.watchers.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.log.Info("terminal sessions shut down", "count", len(live))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown sessions: %w", ctx.Err())
	}
}

// watch finalizes a session once it closes. The session stays listed until
// its journal entry is written.
func (m *Manager) watch(e *entry) {
	defer m.watchers.Done()

	code, err := e.session.Wait()
	id := e.session.ID()
	defer m.remove(id)

	logger := m.log.With("session", id)
	e.closeRecorder(logger)

	if m.repo == nil || e.record == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	info := e.session.Info()
	if uerr := m.repo.UpdateSize(ctx, id, info.Rows, info.Cols); uerr != nil {
		logger.Warn("journal size update failed", "err", uerr)
	}
	status := model.SessionStatusExited
	if err != nil {
		status = model.SessionStatusFailed
	}
	if ferr := m.repo.Finish(ctx, id, status, &code, e.tail.LastLine(), time.Now()); ferr != nil {
		logger.Warn("journal finish failed", "err", ferr)
	}
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

func (m *Manager) journalStart(ctx context.Context, e *entry) {
	if m.repo == nil {
		return
	}
	info := e.session.Info()
	pid := info.PID
	rec := &model.SessionRecord{
		ID:         info.ID,
		Shell:      info.Shell,
		PID:        &pid,
		RemoteAddr: info.RemoteAddr,
		Status:     model.SessionStatusRunning,
		Rows:       info.Rows,
		Cols:       info.Cols,
		StartedAt:  info.StartedAt,
	}
	if e.recorder != nil {
		rec.Recording = e.recorder.Path()
	}
	if err := m.repo.Create(ctx, rec); err != nil {
		m.log.Warn("journal create failed", "session", info.ID, "err", err)
		return
	}
	e.record = rec
}

func (m *Manager) journalFailure(ctx context.Context, id string, req OpenRequest) {
	if m.repo == nil {
		return
	}
	now := time.Now()
	rec := &model.SessionRecord{
		ID:         id,
		Shell:      m.cfg.Shell,
		RemoteAddr: req.RemoteAddr,
		Status:     model.SessionStatusRunning,
		Rows:       req.Rows,
		Cols:       req.Cols,
		StartedAt:  now,
	}
	if err := m.repo.Create(ctx, rec); err != nil {
		m.log.Warn("journal create failed", "session", id, "err", err)
		return
	}
	if err := m.repo.Finish(ctx, id, model.SessionStatusFailed, nil, "", now); err != nil {
		m.log.Warn("journal finish failed", "session", id, "err", err)
	}
}

func (e *entry) closeRecorder(logger pslog.Logger) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.Close(); err != nil {
		logger.Warn("closing recording failed", "path", e.recorder.Path(), "err", err)
	}
}

// tailObserver keeps session output for the journal preview line.
type tailObserver struct{ tail *buffer.Tail }

func (o tailObserver) Output(data []byte) { o.tail.Write(data) }

func (tailObserver) Input([]byte) {}

func (tailObserver) Resize(_, _ uint16) {}

// multiObserver fans session traffic out to several observers.
type multiObserver []terminal.Observer

func (o multiObserver) Output(data []byte) {
	for _, obs := range o {
		obs.Output(data)
	}
}

func (o multiObserver) Input(data []byte) {
	for _, obs := range o {
		obs.Input(data)
	}
}

func (o multiObserver) Resize(rows, cols uint16) {
	for _, obs := range o {
		obs.Resize(rows, cols)
	}
}

package model

import (
	"time"
)

// SessionStatus represents the status of a terminal session.
type SessionStatus string

const (
	SessionStatusRunning SessionStatus = "running"
	SessionStatusExited  SessionStatus = "exited"
	SessionStatusFailed  SessionStatus = "failed"
)

// SessionRecord is the journal entry for one terminal session.
// It only describes the session; terminal output is never stored.
type SessionRecord struct {
	ID          string        `json:"id"`
	Shell       string        `json:"shell"`
	PID         *int          `json:"pid,omitempty"`
	RemoteAddr  string        `json:"remoteAddr"`
	Status      SessionStatus `json:"status"`
	ExitCode    *int          `json:"exitCode,omitempty"`
	Rows        uint16        `json:"rows"`
	Cols        uint16        `json:"cols"`
	PreviewLine string        `json:"previewLine,omitempty"`
	Recording   string        `json:"recording,omitempty"`
	StartedAt   time.Time     `json:"startedAt"`
	EndedAt     *time.Time    `json:"endedAt,omitempty"`
}

// Duration returns how long the session ran, or has been running so far.
func (r *SessionRecord) Duration() time.Duration {
	if r.EndedAt != nil {
		return r.EndedAt.Sub(r.StartedAt)
	}
	return time.Since(r.StartedAt)
}

// SessionInfo is a point-in-time view of a live terminal session.
type SessionInfo struct {
	ID         string    `json:"id"`
	PID        int       `json:"pid"`
	Shell      string    `json:"shell"`
	RemoteAddr string    `json:"remoteAddr"`
	Framed     bool      `json:"framed"`
	Rows       uint16    `json:"rows"`
	Cols       uint16    `json:"cols"`
	State      string    `json:"state"`
	StartedAt  time.Time `json:"startedAt"`
}

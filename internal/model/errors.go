package model

import "errors"

var (
	// ErrSessionNotFound is returned when a terminal session is not found.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionLimit is returned when the maximum number of concurrent terminal sessions is reached.
	ErrSessionLimit = errors.New("concurrent session limit exceeded")

	// ErrSessionClosed is returned when an operation targets a session that has already been torn down.
	ErrSessionClosed = errors.New("session is closed")

	// ErrSpawnFailed is returned when the pseudo-terminal or the shell could not be started.
	ErrSpawnFailed = errors.New("failed to spawn shell")

	// ErrManagerClosed is returned when a session is opened after shutdown began.
	ErrManagerClosed = errors.New("session manager is closed")

	// ErrInvalidThought is returned when an injected thought names no agent.
	ErrInvalidThought = errors.New("thought must name an agent")

	// ErrJournalDisabled is returned when session history is requested without a configured journal.
	ErrJournalDisabled = errors.New("session journal is disabled")
)

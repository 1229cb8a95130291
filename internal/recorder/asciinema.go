// Package recorder writes terminal sessions as asciinema v2 recordings.
package recorder

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"pkt.systems/pslog"
)

// Event codes used in a recording.
const (
	CodeOutput = "o"
	CodeInput  = "i"
	CodeResize = "r"
)

// Header is the first line of an asciinema v2 recording.
type Header struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Title     string            `json:"title,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// Event is one recorded line: [offset, code, data].
type Event struct {
	Offset float64
	Code   string
	Data   string
}

// MarshalJSON implements json.Marshaler.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{e.Offset, e.Code, e.Data})
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Event) UnmarshalJSON(data []byte) error {
	var arr []interface{}
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	if len(arr) != 3 {
		return fmt.Errorf("invalid event format: expected 3 elements, got %d", len(arr))
	}
	offset, ok := arr[0].(float64)
	if !ok {
		return fmt.Errorf("invalid time offset type")
	}
	code, ok := arr[1].(string)
	if !ok {
		return fmt.Errorf("invalid event code type")
	}
	payload, ok := arr[2].(string)
	if !ok {
		return fmt.Errorf("invalid event data type")
	}
	*e = Event{Offset: offset, Code: code, Data: payload}
	return nil
}

// Recorder appends a session's traffic to an asciinema v2 stream. It
// satisfies the terminal session observer contract: the Output, Input and
// Resize methods never block on errors, the first write error is logged
// and recording stops.
type Recorder struct {
	mu    sync.Mutex
	w     *bufio.Writer
	file  *os.File
	path  string
	start time.Time
	err   error
	log   pslog.Logger
}

// Create opens <dir>/<sessionID>.cast and writes the header.
func Create(dir, sessionID string, cols, rows uint16, logger pslog.Logger) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recording dir: %w", err)
	}
	path := filepath.Join(dir, sessionID+".cast")
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}
	r := newRecorder(file, logger)
	r.file = file
	r.path = path
	if err := r.WriteHeader(cols, rows, sessionID); err != nil {
		file.Close()
		return nil, err
	}
	return r, nil
}

// NewWithWriter records to w. The caller owns w.
func NewWithWriter(w io.Writer, logger pslog.Logger) *Recorder {
	return newRecorder(w, logger)
}

func newRecorder(w io.Writer, logger pslog.Logger) *Recorder {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Recorder{
		w:     bufio.NewWriter(w),
		start: time.Now(),
		log:   logger,
	}
}

// Path returns the recording file path, or "" for writer-backed recorders.
func (r *Recorder) Path() string {
	return r.path
}

// WriteHeader writes the recording header. It must be called first.
func (r *Recorder) WriteHeader(cols, rows uint16, title string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	header := Header{
		Version:   2,
		Width:     int(cols),
		Height:    int(rows),
		Timestamp: r.start.Unix(),
		Title:     title,
		Env:       map[string]string{"TERM": "xterm-256color", "SHELL": os.Getenv("SHELL")},
	}
	data, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("marshal header: %w", err)
	}
	if _, err := r.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	return r.w.Flush()
}

// Output records bytes read from the terminal.
func (r *Recorder) Output(data []byte) {
	r.record(CodeOutput, string(data))
}

// Input records bytes sent to the terminal.
func (r *Recorder) Input(data []byte) {
	r.record(CodeInput, string(data))
}

// Resize records a window size change as "COLSxROWS".
func (r *Recorder) Resize(rows, cols uint16) {
	r.record(CodeResize, fmt.Sprintf("%dx%d", cols, rows))
}

func (r *Recorder) record(code, data string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return
	}
	line, err := json.Marshal(Event{
		Offset: time.Since(r.start).Seconds(),
		Code:   code,
		Data:   data,
	})
	if err == nil {
		_, err = r.w.Write(append(line, '\n'))
	}
	if err == nil {
		err = r.w.Flush()
	}
	if err != nil {
		r.err = err
		r.log.Warn("recording stopped", "path", r.path, "err", err)
	}
}

// Close flushes and closes the recording.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	flushErr := r.w.Flush()
	if r.file != nil {
		if err := r.file.Close(); err != nil {
			return err
		}
	}
	return flushErr
}

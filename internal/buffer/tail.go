// Package buffer keeps the most recent output of a terminal session.
package buffer

import (
	"bytes"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"
)

// DefaultTailSize is the number of output bytes a Tail keeps by default.
const DefaultTailSize = 4096

// ansiSequence matches CSI and OSC escape sequences and lone two-byte escapes.
var ansiSequence = regexp.MustCompile(`\x1b(?:\[[0-?]*[ -/]*[@-~]|\][^\x07\x1b]*(?:\x07|\x1b\\)|[@-Z\\-_])`)

// Tail is a fixed-size circular buffer holding the last bytes written to it.
// Older bytes are overwritten once it is full.
type Tail struct {
	mu   sync.Mutex
	buf  []byte
	head int // next write position
	full bool
}

// NewTail creates a Tail holding at most size bytes.
func NewTail(size int) *Tail {
	if size <= 0 {
		size = DefaultTailSize
	}
	return &Tail{buf: make([]byte, size)}
}

// Write implements io.Writer. It never fails.
func (t *Tail) Write(p []byte) (int, error) {
	n := len(p)
	if n == 0 {
		return 0, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	size := len(t.buf)
	if n >= size {
		copy(t.buf, p[n-size:])
		t.head = 0
		t.full = true
		return n, nil
	}

	written := copy(t.buf[t.head:], p)
	if written < n {
		copy(t.buf, p[written:])
	}
	next := t.head + n
	if next >= size {
		t.full = true
		next -= size
	}
	t.head = next
	return n, nil
}

// Bytes returns a copy of the buffered bytes, oldest first.
func (t *Tail) Bytes() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.full {
		return append([]byte(nil), t.buf[:t.head]...)
	}
	out := make([]byte, 0, len(t.buf))
	out = append(out, t.buf[t.head:]...)
	return append(out, t.buf[:t.head]...)
}

// Len returns the number of buffered bytes.
func (t *Tail) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.full {
		return len(t.buf)
	}
	return t.head
}

// LastLine returns the last non-blank line of output with escape sequences
// and carriage-return overwrites removed.
func (t *Tail) LastLine() string {
	data := t.Bytes()
	if t.Len() == len(t.buf) {
		// The first bytes may be the tail of a multi-byte rune.
		for len(data) > 0 && !utf8.RuneStart(data[0]) {
			data = data[1:]
		}
	}
	data = ansiSequence.ReplaceAll(data, nil)

	lines := bytes.Split(data, []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := lines[i]
		// A carriage return rewinds the cursor; what follows the last one
		// is what the terminal shows, unless it is empty.
		if idx := bytes.LastIndexByte(bytes.TrimRight(line, "\r"), '\r'); idx >= 0 {
			line = line[idx+1:]
		}
		text := strings.TrimSpace(strings.ToValidUTF8(string(line), ""))
		text = strings.Map(func(r rune) rune {
			if r < 0x20 || r == 0x7f {
				return -1
			}
			return r
		}, text)
		if text != "" {
			return text
		}
	}
	return ""
}

package terminal

import (
	"errors"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// textDecoder turns a stream of pty output chunks into valid UTF-8. Invalid
// sequences become U+FFFD; a rune split across two chunks is held back until
// its remaining bytes arrive.
type textDecoder struct {
	t       transform.Transformer
	pending []byte
}

func newTextDecoder() *textDecoder {
	return &textDecoder{t: unicode.UTF8.NewDecoder()}
}

// Decode converts the next chunk. With atEOF set, any held-back partial rune
// is flushed as U+FFFD.
func (d *textDecoder) Decode(chunk []byte, atEOF bool) []byte {
	src := make([]byte, 0, len(d.pending)+len(chunk))
	src = append(src, d.pending...)
	src = append(src, chunk...)
	d.pending = d.pending[:0]
	if len(src) == 0 {
		return nil
	}

	// Each input byte expands to at most one three-byte replacement rune.
	dst := make([]byte, 3*len(src)+utf8.UTFMax)
	nDst, nSrc, err := d.t.Transform(dst, src, atEOF)
	if err != nil && !errors.Is(err, transform.ErrShortSrc) {
		return []byte(strings.ToValidUTF8(string(src), "\uFFFD"))
	}
	d.pending = append(d.pending, src[nSrc:]...)
	return dst[:nDst]
}

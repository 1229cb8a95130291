package terminal

import (
	"testing"
	"unicode/utf8"
)

func TestTextDecoderStitchesSplitRune(t *testing.T) {
	d := newTextDecoder()
	euro := []byte("€") // e2 82 ac

	first := d.Decode(append([]byte("a"), euro[:2]...), false)
	if string(first) != "a" {
		t.Fatalf("first chunk = %q, want %q", first, "a")
	}
	second := d.Decode(append(euro[2:], 'b'), false)
	if string(second) != "€b" {
		t.Fatalf("second chunk = %q, want %q", second, "€b")
	}
}

func TestTextDecoderReplacesInvalid(t *testing.T) {
	d := newTextDecoder()
	got := d.Decode([]byte{'o', 'k', 0xff, '!'}, false)
	if string(got) != "ok�!" {
		t.Errorf("decoded = %q", got)
	}
	if !utf8.Valid(got) {
		t.Error("output is not valid UTF-8")
	}
}

func TestTextDecoderFlushesPartialAtEOF(t *testing.T) {
	d := newTextDecoder()
	if got := d.Decode([]byte{0xe2, 0x82}, false); len(got) != 0 {
		t.Fatalf("partial rune emitted early: %q", got)
	}
	if got := d.Decode(nil, true); string(got) != "��" && string(got) != "�" {
		t.Errorf("flush = %q, want replacement", got)
	}
	if got := d.Decode(nil, true); got != nil {
		t.Errorf("second flush = %q, want nothing", got)
	}
}

func TestTextDecoderANSIPassthrough(t *testing.T) {
	d := newTextDecoder()
	seq := "\x1b[1;32mgreen\x1b[0m\r\n"
	if got := d.Decode([]byte(seq), false); string(got) != seq {
		t.Errorf("decoded = %q, want %q", got, seq)
	}
}

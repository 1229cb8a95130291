// Package terminal bridges a pseudo-terminal process to one WebSocket client.
//
// Two framings are spoken on the terminal channel. Clients that negotiate the
// Subprotocol exchange binary messages, each holding exactly one frame:
//
//	[1 byte type] [4 bytes payload length, big-endian uint32] [payload]
//
// Clients that do not negotiate it use the legacy text mode: output arrives as
// text frames and inbound text frames are input, except that a JSON object
// carrying integer rows and cols is taken as a resize request.
package terminal

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
)

// Subprotocol selects the framed binary protocol during the WebSocket handshake.
const Subprotocol = "neurallink.terminal.v2"

// Frame type constants.
const (
	// FrameData carries raw terminal bytes in either direction.
	FrameData byte = 0x01

	// FrameResize carries the window size, client to server only. Payload is
	// columns (uint16 big-endian) then rows (uint16 big-endian).
	FrameResize byte = 0x02

	// FrameExit carries the child's exit code as an int32 big-endian, server
	// to client only. It is the last frame before the connection closes.
	FrameExit byte = 0x03
)

const frameHeaderLength = 5

// MaxFramePayload bounds a single frame payload.
const MaxFramePayload = 1 << 20

var (
	// ErrShortFrame is returned for a message shorter than a frame header.
	ErrShortFrame = errors.New("frame shorter than header")

	// ErrFrameLength is returned when the header length does not match the message.
	ErrFrameLength = errors.New("frame length does not match payload")
)

// Frame is one message of the framed protocol.
type Frame struct {
	Type    byte
	Payload []byte
}

// EncodeFrame renders f as a single WebSocket message body.
func EncodeFrame(f Frame) []byte {
	out := make([]byte, frameHeaderLength+len(f.Payload))
	out[0] = f.Type
	binary.BigEndian.PutUint32(out[1:5], uint32(len(f.Payload)))
	copy(out[frameHeaderLength:], f.Payload)
	return out
}

// DecodeFrame parses one WebSocket message body. The declared length must
// account for every remaining byte.
func DecodeFrame(msg []byte) (Frame, error) {
	if len(msg) < frameHeaderLength {
		return Frame{}, ErrShortFrame
	}
	length := binary.BigEndian.Uint32(msg[1:5])
	if length > MaxFramePayload {
		return Frame{}, fmt.Errorf("payload length %d exceeds maximum %d", length, MaxFramePayload)
	}
	if int(length) != len(msg)-frameHeaderLength {
		return Frame{}, fmt.Errorf("%w: header says %d, have %d", ErrFrameLength, length, len(msg)-frameHeaderLength)
	}
	return Frame{Type: msg[0], Payload: msg[frameHeaderLength:]}, nil
}

// DataFrame creates a data frame.
func DataFrame(data []byte) Frame {
	return Frame{Type: FrameData, Payload: data}
}

// ResizeFrame creates a resize frame.
func ResizeFrame(rows, cols uint16) Frame {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint16(payload[0:2], cols)
	binary.BigEndian.PutUint16(payload[2:4], rows)
	return Frame{Type: FrameResize, Payload: payload}
}

// ExitFrame creates an exit frame.
func ExitFrame(code int) Frame {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(int32(code)))
	return Frame{Type: FrameExit, Payload: payload}
}

// ParseResize extracts rows and columns from a resize payload.
func ParseResize(payload []byte) (rows, cols uint16, err error) {
	if len(payload) != 4 {
		return 0, 0, fmt.Errorf("resize payload must be 4 bytes, got %d", len(payload))
	}
	cols = binary.BigEndian.Uint16(payload[0:2])
	rows = binary.BigEndian.Uint16(payload[2:4])
	return rows, cols, nil
}

// ParseExit extracts the exit code from an exit payload.
func ParseExit(payload []byte) (int, error) {
	if len(payload) != 4 {
		return 0, fmt.Errorf("exit payload must be 4 bytes, got %d", len(payload))
	}
	return int(int32(binary.BigEndian.Uint32(payload))), nil
}

// ControlKind classifies an inbound client frame.
type ControlKind int

const (
	// ControlDrop means the frame is discarded.
	ControlDrop ControlKind = iota
	// ControlInput means the frame bytes go to the process verbatim.
	ControlInput
	// ControlResize means the frame changes the window size.
	ControlResize
)

func (k ControlKind) String() string {
	switch k {
	case ControlInput:
		return "input"
	case ControlResize:
		return "resize"
	default:
		return "drop"
	}
}

// Control is the demultiplexed form of an inbound frame.
type Control struct {
	Kind ControlKind
	Data []byte
	Rows uint16
	Cols uint16
}

// DemuxText classifies a legacy text frame. It is a resize only when the
// frame is a JSON object whose rows and cols are both integers in 0..65535.
// Everything else is input, forwarded byte for byte.
func DemuxText(payload []byte) Control {
	if rows, cols, ok := parseLegacyResize(payload); ok {
		return Control{Kind: ControlResize, Rows: rows, Cols: cols}
	}
	return Control{Kind: ControlInput, Data: payload}
}

func parseLegacyResize(payload []byte) (rows, cols uint16, ok bool) {
	if len(payload) == 0 {
		return 0, 0, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return 0, 0, false
	}
	rawRows, hasRows := fields["rows"]
	rawCols, hasCols := fields["cols"]
	if !hasRows || !hasCols {
		return 0, 0, false
	}
	if !parseDimension(rawRows, &rows) || !parseDimension(rawCols, &cols) {
		return 0, 0, false
	}
	return rows, cols, true
}

func parseDimension(raw json.RawMessage, dst *uint16) bool {
	if string(raw) == "null" {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

// DemuxFrame classifies a framed binary message. Malformed frames and
// frame types the server does not accept are dropped with an error describing
// why.
func DemuxFrame(msg []byte) (Control, error) {
	frame, err := DecodeFrame(msg)
	if err != nil {
		return Control{Kind: ControlDrop}, err
	}
	switch frame.Type {
	case FrameData:
		return Control{Kind: ControlInput, Data: frame.Payload}, nil
	case FrameResize:
		rows, cols, err := ParseResize(frame.Payload)
		if err != nil {
			return Control{Kind: ControlDrop}, err
		}
		return Control{Kind: ControlResize, Rows: rows, Cols: cols}, nil
	default:
		return Control{Kind: ControlDrop}, fmt.Errorf("unexpected frame type 0x%02x from client", frame.Type)
	}
}

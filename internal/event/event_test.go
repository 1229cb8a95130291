package event

import (
	"encoding/json"
	"testing"
	"time"
)

// TestEncodeWireShape checks that each variant is a flat object tagged with its type.
func TestEncodeWireShape(t *testing.T) {
	tests := []struct {
		name   string
		event  Event
		fields map[string]any
	}{
		{"log", Log{Content: "[BRIDGE] up"}, map[string]any{"type": "log", "content": "[BRIDGE] up"}},
		{"thought", Thought{Agent: "Critic", Content: "hmm", Role: "assistant"},
			map[string]any{"type": "thought", "agent": "Critic", "content": "hmm", "role": "assistant"}},
		{"terminal", Terminal{Line: "total 0"}, map[string]any{"type": "terminal", "line": "total 0"}},
		{"code", Code{Content: "```go\n```"}, map[string]any{"type": "code", "content": "```go\n```"}},
		{"telemetry", Telemetry{CPU: 12.5, Memory: 40, Agents: 3},
			map[string]any{"type": "telemetry", "cpu": 12.5, "memory": 40.0, "agents": 3.0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.event)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			var got map[string]any
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("unmarshal %s: %v", data, err)
			}
			for key, want := range tt.fields {
				if got[key] != want {
					t.Errorf("field %q = %v, want %v (frame %s)", key, got[key], want, data)
				}
			}
			if _, ok := got["timestamp"]; ok {
				t.Errorf("zero timestamp should be omitted, got %s", data)
			}
		})
	}
}

func TestThoughtTimestampSeconds(t *testing.T) {
	ts := time.UnixMilli(1712345678900)
	data, err := Encode(Thought{Agent: "Judge", Content: "ok", Role: "assistant", Timestamp: ts})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["timestamp"] != 1712345678.9 {
		t.Errorf("timestamp = %v, want 1712345678.9", got["timestamp"])
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	thought, ok := decoded.(Thought)
	if !ok {
		t.Fatalf("decoded %T, want Thought", decoded)
	}
	if !thought.Timestamp.Equal(ts) {
		t.Errorf("decoded timestamp %v, want %v", thought.Timestamp, ts)
	}
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	if _, err := Decode([]byte(`{"type":"TELEMETRY"}`)); err == nil {
		t.Error("expected error for unknown type")
	}
	if _, err := Decode([]byte(`not json`)); err == nil {
		t.Error("expected error for malformed frame")
	}
}

func TestEncodeNil(t *testing.T) {
	if _, err := Encode(nil); err == nil {
		t.Error("expected error for nil event")
	}
}

// Package event defines the structured messages the hub broadcasts to
// event-channel clients.
//
// Every event serializes to a flat JSON object whose "type" field names the
// variant:
//
//	{"type":"log","content":"..."}
//	{"type":"thought","agent":"Critic","content":"...","role":"assistant","timestamp":1712345678.9}
//	{"type":"terminal","line":"..."}
//	{"type":"code","content":"..."}
//	{"type":"telemetry","cpu":12.5,"memory":48.1,"agents":3}
//
// Events are plain values. Nothing in the hub mutates an event after it has
// been constructed.
package event

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Type identifies the event variant on the wire.
type Type string

const (
	TypeLog       Type = "log"
	TypeThought   Type = "thought"
	TypeTerminal  Type = "terminal"
	TypeCode      Type = "code"
	TypeTelemetry Type = "telemetry"
)

// Event is implemented by every broadcastable message.
type Event interface {
	Type() Type
}

// Log is a free-form log line.
type Log struct {
	Content string
}

// Thought is one unit of an agent's monologue.
type Thought struct {
	Agent     string
	Content   string
	Role      string
	Timestamp time.Time
}

// Terminal is a single line of execution output produced by an agent.
type Terminal struct {
	Line string
}

// Code is a block of source code extracted from agent output.
type Code struct {
	Content string
}

// Telemetry summarizes host resource usage.
type Telemetry struct {
	// CPU is the host CPU utilization in percent.
	CPU float64
	// Memory is the host memory utilization in percent.
	Memory float64
	// Agents is the number of currently active agents.
	Agents int
}

func (Log) Type() Type       { return TypeLog }
func (Thought) Type() Type   { return TypeThought }
func (Terminal) Type() Type  { return TypeTerminal }
func (Code) Type() Type      { return TypeCode }
func (Telemetry) Type() Type { return TypeTelemetry }

type logWire struct {
	Type    Type   `json:"type"`
	Content string `json:"content"`
}

type thoughtWire struct {
	Type      Type    `json:"type"`
	Agent     string  `json:"agent"`
	Content   string  `json:"content"`
	Role      string  `json:"role"`
	Timestamp float64 `json:"timestamp,omitempty"`
}

type terminalWire struct {
	Type Type   `json:"type"`
	Line string `json:"line"`
}

type telemetryWire struct {
	Type   Type    `json:"type"`
	CPU    float64 `json:"cpu"`
	Memory float64 `json:"memory"`
	Agents int     `json:"agents"`
}

// MarshalJSON implements json.Marshaler.
func (e Log) MarshalJSON() ([]byte, error) {
	return json.Marshal(logWire{Type: TypeLog, Content: e.Content})
}

// MarshalJSON implements json.Marshaler.
func (e Thought) MarshalJSON() ([]byte, error) {
	w := thoughtWire{Type: TypeThought, Agent: e.Agent, Content: e.Content, Role: e.Role}
	if !e.Timestamp.IsZero() {
		w.Timestamp = float64(e.Timestamp.UnixMilli()) / 1000
	}
	return json.Marshal(w)
}

// MarshalJSON implements json.Marshaler.
func (e Terminal) MarshalJSON() ([]byte, error) {
	return json.Marshal(terminalWire{Type: TypeTerminal, Line: e.Line})
}

// MarshalJSON implements json.Marshaler.
func (e Code) MarshalJSON() ([]byte, error) {
	return json.Marshal(logWire{Type: TypeCode, Content: e.Content})
}

// MarshalJSON implements json.Marshaler.
func (e Telemetry) MarshalJSON() ([]byte, error) {
	return json.Marshal(telemetryWire{Type: TypeTelemetry, CPU: e.CPU, Memory: e.Memory, Agents: e.Agents})
}

// Encode serializes an event into its wire form.
func Encode(e Event) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("encode event: nil event")
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", e.Type(), err)
	}
	return data, nil
}

// Decode parses a wire frame back into an event. It is used by clients of the
// event channel, such as the inject command's --watch mode.
func Decode(data []byte) (Event, error) {
	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	switch head.Type {
	case TypeLog:
		var w logWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("decode log event: %w", err)
		}
		return Log{Content: w.Content}, nil
	case TypeThought:
		var w thoughtWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("decode thought event: %w", err)
		}
		t := Thought{Agent: w.Agent, Content: w.Content, Role: w.Role}
		if w.Timestamp > 0 {
			t.Timestamp = time.UnixMilli(int64(math.Round(w.Timestamp * 1000)))
		}
		return t, nil
	case TypeTerminal:
		var w terminalWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("decode terminal event: %w", err)
		}
		return Terminal{Line: w.Line}, nil
	case TypeCode:
		var w logWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("decode code event: %w", err)
		}
		return Code{Content: w.Content}, nil
	case TypeTelemetry:
		var w telemetryWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("decode telemetry event: %w", err)
		}
		return Telemetry{CPU: w.CPU, Memory: w.Memory, Agents: w.Agents}, nil
	default:
		return nil, fmt.Errorf("decode event: unknown type %q", head.Type)
	}
}

// Package ingress turns injected agent output into hub events.
package ingress

import (
	"strings"
	"time"

	"github.com/eCy-coding/eCyOs/internal/event"
)

const (
	// DefaultRole is applied to thoughts injected without a role.
	DefaultRole = "assistant"

	// ExecutorAgent is the agent whose results are echoed as terminal lines.
	ExecutorAgent = "Executor"

	resultMarker = "Result:"
	codeFence    = "```"
)

// Thought is one injected unit of agent output.
type Thought struct {
	Agent   string
	Content string
	Role    string
}

// Classify expands a thought into the events it produces. The Thought event
// always comes first. An executor result adds a Terminal event carrying the
// text after the marker; a fenced code block adds a Code event.
func Classify(t Thought, now time.Time) []event.Event {
	role := t.Role
	if role == "" {
		role = DefaultRole
	}

	events := []event.Event{event.Thought{
		Agent:     t.Agent,
		Content:   t.Content,
		Role:      role,
		Timestamp: now,
	}}

	if line, ok := executorResult(t); ok {
		events = append(events, event.Terminal{Line: line})
	}
	if strings.Contains(t.Content, codeFence) {
		events = append(events, event.Code{Content: t.Content})
	}
	return events
}

func executorResult(t Thought) (string, bool) {
	if !strings.EqualFold(t.Agent, ExecutorAgent) && !strings.EqualFold(t.Role, ExecutorAgent) {
		return "", false
	}
	_, after, found := strings.Cut(t.Content, resultMarker)
	if !found {
		return "", false
	}
	return strings.TrimLeft(after, " "), true
}

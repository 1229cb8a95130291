package ingress

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pkt.systems/pslog"

	"github.com/eCy-coding/eCyOs/internal/event"
	"github.com/eCy-coding/eCyOs/internal/model"
)

// Broadcaster is the subset of the connection registry ingress needs.
type Broadcaster interface {
	Broadcast(e event.Event)
}

// Service accepts injected thoughts and log lines and hands the resulting
// events to the registry. It returns once the events are handed over; it does
// not wait for delivery.
type Service struct {
	hub     Broadcaster
	tracker *AgentTracker
	now     func() time.Time
}

// NewService creates an ingress service. tracker may be nil.
func NewService(hub Broadcaster, tracker *AgentTracker) *Service {
	return &Service{hub: hub, tracker: tracker, now: time.Now}
}

// InjectThought validates t, broadcasts its events in order and records the
// agent as active.
func (s *Service) InjectThought(ctx context.Context, t Thought) ([]event.Event, error) {
	if strings.TrimSpace(t.Agent) == "" {
		return nil, fmt.Errorf("inject thought: %w", model.ErrInvalidThought)
	}

	events := Classify(t, s.now())
	for _, e := range events {
		s.hub.Broadcast(e)
	}
	if s.tracker != nil {
		s.tracker.Touch(t.Agent)
	}

	pslog.Ctx(ctx).Debug("thought injected", "agent", t.Agent, "events", len(events), "bytes", len(t.Content))
	return events, nil
}

// InjectLog broadcasts a log line.
func (s *Service) InjectLog(ctx context.Context, content string) event.Event {
	e := event.Log{Content: content}
	s.hub.Broadcast(e)
	pslog.Ctx(ctx).Debug("log injected", "bytes", len(content))
	return e
}

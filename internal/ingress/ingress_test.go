package ingress

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/eCy-coding/eCyOs/internal/event"
	"github.com/eCy-coding/eCyOs/internal/model"
)

type recordingHub struct {
	mu     sync.Mutex
	events []event.Event
}

func (h *recordingHub) Broadcast(e event.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, e)
}

func TestClassify(t *testing.T) {
	now := time.UnixMilli(1712345678900)
	tests := []struct {
		name  string
		in    Thought
		types []event.Type
		line  string
	}{
		{"plain", Thought{Agent: "Critic", Content: "looks fine"},
			[]event.Type{event.TypeThought}, ""},
		{"executor result", Thought{Agent: "Executor", Content: "Result: total 0"},
			[]event.Type{event.TypeThought, event.TypeTerminal}, "total 0"},
		{"executor role", Thought{Agent: "tools", Role: "executor", Content: "[ACTION] ls Result:ok"},
			[]event.Type{event.TypeThought, event.TypeTerminal}, "ok"},
		{"result from non-executor", Thought{Agent: "Judge", Content: "Result: accepted"},
			[]event.Type{event.TypeThought}, ""},
		{"code", Thought{Agent: "Proposer", Content: "```go\nfmt.Println()\n```"},
			[]event.Type{event.TypeThought, event.TypeCode}, ""},
		{"executor code result", Thought{Agent: "Executor", Content: "Result: ```\nok\n```"},
			[]event.Type{event.TypeThought, event.TypeTerminal, event.TypeCode}, "```\nok\n```"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := Classify(tt.in, now)
			if len(events) != len(tt.types) {
				t.Fatalf("got %d events, want %d: %#v", len(events), len(tt.types), events)
			}
			for i, want := range tt.types {
				if events[i].Type() != want {
					t.Errorf("event %d type = %s, want %s", i, events[i].Type(), want)
				}
			}
			thought := events[0].(event.Thought)
			if thought.Agent != tt.in.Agent || thought.Content != tt.in.Content || !thought.Timestamp.Equal(now) {
				t.Errorf("thought = %#v", thought)
			}
			for _, e := range events {
				if term, ok := e.(event.Terminal); ok && term.Line != tt.line {
					t.Errorf("terminal line = %q, want %q", term.Line, tt.line)
				}
			}
		})
	}
}

func TestClassifyDefaultsRole(t *testing.T) {
	events := Classify(Thought{Agent: "Critic", Content: "x"}, time.Now())
	if role := events[0].(event.Thought).Role; role != DefaultRole {
		t.Errorf("role = %q, want %q", role, DefaultRole)
	}
	events = Classify(Thought{Agent: "Critic", Content: "x", Role: "user"}, time.Now())
	if role := events[0].(event.Thought).Role; role != "user" {
		t.Errorf("role = %q, want user", role)
	}
}

func TestClassifyAlwaysLeadsWithThoughtProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("every thought yields exactly one leading Thought event", prop.ForAll(
		func(agent, content string) bool {
			events := Classify(Thought{Agent: agent, Content: content}, time.Now())
			if len(events) == 0 || events[0].Type() != event.TypeThought {
				return false
			}
			thoughts := 0
			for _, e := range events {
				if e.Type() == event.TypeThought {
					thoughts++
				}
			}
			hasCode := events[len(events)-1].Type() == event.TypeCode
			return thoughts == 1 && hasCode == strings.Contains(content, "```") && len(events) <= 3
		},
		gen.OneConstOf("Executor", "Critic", "Judge", "Proposer"),
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

func TestServiceInjectThought(t *testing.T) {
	hub := &recordingHub{}
	tracker := NewAgentTracker(time.Minute)
	svc := NewService(hub, tracker)

	events, err := svc.InjectThought(context.Background(), Thought{Agent: "Executor", Content: "Result: done"})
	if err != nil {
		t.Fatalf("inject: %v", err)
	}
	if len(events) != 2 || len(hub.events) != 2 {
		t.Fatalf("events = %d returned, %d broadcast; want 2", len(events), len(hub.events))
	}
	if tracker.ActiveAgents() != 1 {
		t.Errorf("active agents = %d, want 1", tracker.ActiveAgents())
	}
}

func TestServiceRejectsMissingAgent(t *testing.T) {
	hub := &recordingHub{}
	svc := NewService(hub, nil)

	_, err := svc.InjectThought(context.Background(), Thought{Agent: "  ", Content: "x"})
	if !errors.Is(err, model.ErrInvalidThought) {
		t.Fatalf("err = %v, want ErrInvalidThought", err)
	}
	if len(hub.events) != 0 {
		t.Error("rejected thought must not be broadcast")
	}
}

func TestServiceInjectLog(t *testing.T) {
	hub := &recordingHub{}
	svc := NewService(hub, nil)
	svc.InjectLog(context.Background(), "[SYSTEM] Debate concluded")
	if len(hub.events) != 1 || hub.events[0] != (event.Log{Content: "[SYSTEM] Debate concluded"}) {
		t.Errorf("events = %#v", hub.events)
	}
}

func TestAgentTrackerExpires(t *testing.T) {
	clock := time.Unix(1000, 0)
	tracker := NewAgentTracker(10 * time.Second)
	tracker.now = func() time.Time { return clock }

	tracker.Touch("Proposer")
	tracker.Touch("Critic")
	tracker.Touch("")
	clock = clock.Add(6 * time.Second)
	tracker.Touch("Judge")

	if got := tracker.Active(); strings.Join(got, ",") != "Critic,Judge,Proposer" {
		t.Errorf("active = %v", got)
	}

	clock = clock.Add(5 * time.Second)
	if got := tracker.Active(); strings.Join(got, ",") != "Judge" {
		t.Errorf("active after expiry = %v", got)
	}

	tracker.Touch("Critic")
	if n := tracker.ActiveAgents(); n != 2 {
		t.Errorf("active agents = %d, want 2", n)
	}
}

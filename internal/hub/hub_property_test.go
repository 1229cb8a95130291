package hub

import (
	"io"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/eCy-coding/eCyOs/internal/event"
)

// Every live client receives exactly one copy of each broadcast, and every
// client that could not accept it is gone from the registry afterwards.
func TestBroadcastFanOutProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("broadcast reaches all live clients exactly once", prop.ForAll(
		func(live, dead int, content string) bool {
			registry := NewRegistry(testLogger(io.Discard))
			defer registry.Close()

			liveClients := make([]*Client, live)
			for i := range liveClients {
				liveClients[i] = NewClient(nil, "live", 0)
				registry.Register(liveClients[i])
			}
			deadClients := make([]*Client, dead)
			for i := range deadClients {
				deadClients[i] = NewClient(nil, "dead", 0)
				registry.Register(deadClients[i])
				deadClients[i].Close()
			}

			registry.Broadcast(event.Log{Content: content})

			want, err := event.Encode(event.Log{Content: content})
			if err != nil {
				return false
			}
			for _, c := range liveClients {
				if len(c.SendChan()) != 1 {
					return false
				}
				if string(<-c.SendChan()) != string(want) {
					return false
				}
			}
			for _, c := range deadClients {
				if registry.Contains(c) {
					return false
				}
			}
			return registry.Count() == live
		},
		gen.IntRange(0, 12),
		gen.IntRange(0, 6),
		gen.AnyString(),
	))

	properties.Property("a failed client never blocks delivery to later broadcasts", prop.ForAll(
		func(rounds int) bool {
			registry := NewRegistry(testLogger(io.Discard))
			defer registry.Close()

			healthy := NewClient(nil, "healthy", rounds+1)
			stuck := NewClient(nil, "stuck", 1)
			registry.Register(healthy)
			registry.Register(stuck)

			for i := 0; i < rounds; i++ {
				registry.Broadcast(event.Telemetry{Agents: i})
			}

			return len(healthy.SendChan()) == rounds && !registry.Contains(stuck) == (rounds > 1)
		},
		gen.IntRange(1, 20),
	))

	properties.TestingRun(t)
}

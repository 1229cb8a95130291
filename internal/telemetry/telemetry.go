// Package telemetry periodically samples host resource usage and broadcasts
// it to event-channel clients.
package telemetry

import (
	"context"
	"math"
	"time"

	"pkt.systems/pslog"

	"github.com/eCy-coding/eCyOs/internal/event"
)

// DefaultInterval is the sampling period when none is configured.
const DefaultInterval = time.Second

// Sampler reads host utilization, both in percent.
type Sampler interface {
	Sample() (cpu, memory float64)
}

// AgentCounter reports how many agents are currently active.
type AgentCounter interface {
	ActiveAgents() int
}

// Broadcaster is the subset of the connection registry the source needs.
type Broadcaster interface {
	Broadcast(e event.Event)
	Count() int
}

// Config configures a Source.
type Config struct {
	Interval time.Duration
	Sampler  Sampler
	Agents   AgentCounter
	Logger   pslog.Logger
}

// Source emits one Telemetry event per interval while clients are connected.
type Source struct {
	hub      Broadcaster
	interval time.Duration
	sampler  Sampler
	agents   AgentCounter
	log      pslog.Logger
}

// NewSource creates a telemetry source. A nil Sampler samples the local host.
func NewSource(hub Broadcaster, cfg Config) *Source {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Sampler == nil {
		cfg.Sampler = NewHostSampler()
	}
	if cfg.Logger == nil {
		cfg.Logger = pslog.Ctx(context.Background())
	}
	return &Source{
		hub:      hub,
		interval: cfg.Interval,
		sampler:  cfg.Sampler,
		agents:   cfg.Agents,
		log:      cfg.Logger,
	}
}

// Run samples on every tick until ctx is cancelled.
func (s *Source) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("telemetry source started", "interval", s.interval.String())
	for {
		select {
		case <-ctx.Done():
			s.log.Info("telemetry source stopped")
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick samples once. The sampler always runs so that CPU deltas stay
// anchored to the previous tick; the broadcast is skipped with no clients.
func (s *Source) tick() bool {
	cpu, memory := s.sampler.Sample()
	if s.hub.Count() == 0 {
		return false
	}
	agents := 0
	if s.agents != nil {
		agents = s.agents.ActiveAgents()
	}
	s.hub.Broadcast(event.Telemetry{
		CPU:    round1(cpu),
		Memory: round1(memory),
		Agents: agents,
	})
	s.log.Trace("telemetry broadcast", "cpu", cpu, "memory", memory, "agents", agents)
	return true
}

func round1(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		v = 100
	}
	return math.Round(v*10) / 10
}

//go:build !linux

package telemetry

// HostSampler reports zeros on platforms without /proc.
type HostSampler struct{}

// NewHostSampler returns a sampler that always reports zero usage.
func NewHostSampler() *HostSampler {
	return &HostSampler{}
}

// Sample implements Sampler.
func (h *HostSampler) Sample() (cpu, memory float64) {
	return 0, 0
}

//go:build linux

package telemetry

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestHostSamplerCPUDelta(t *testing.T) {
	dir := t.TempDir()
	stat := writeFile(t, dir, "stat", "cpu  100 0 100 800 0 0 0 0 0 0\ncpu0 1 2 3 4 5 6 7 8\n")
	meminfo := writeFile(t, dir, "meminfo", "MemTotal:       1000 kB\nMemFree:         100 kB\nMemAvailable:    250 kB\n")

	h := &HostSampler{statPath: stat, meminfoPath: meminfo}

	cpu, mem := h.Sample()
	if cpu != 0 {
		t.Errorf("first sample cpu = %v, want 0", cpu)
	}
	if mem != 75 {
		t.Errorf("memory = %v, want 75", mem)
	}

	// +150 busy, +50 idle.
	writeFile(t, dir, "stat", "cpu  200 0 150 850 0 0 0 0 0 0\n")
	cpu, _ = h.Sample()
	if math.Abs(cpu-75) > 1e-9 {
		t.Errorf("cpu = %v, want 75", cpu)
	}
}

func TestReadCPUStatsRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	for name, content := range map[string]string{
		"short":  "cpu 1 2 3\n",
		"label":  "intr 1 2 3 4 5 6 7 8 9\n",
		"number": "cpu 1 2 x 4 5 6 7 8\n",
		"empty":  "",
	} {
		if got := readCPUStats(writeFile(t, dir, name, content)); got != nil {
			t.Errorf("%s: expected nil reading, got %+v", name, got)
		}
	}
	if got := readCPUStats(filepath.Join(dir, "missing")); got != nil {
		t.Errorf("missing file: expected nil, got %+v", got)
	}
}

func TestCPUPercentCounterReset(t *testing.T) {
	if got := cpuPercent(&cpuReading{busy: 100, idle: 100}, &cpuReading{busy: 10, idle: 10}); got != 0 {
		t.Errorf("counter reset = %v, want 0", got)
	}
	if got := cpuPercent(&cpuReading{busy: 5, idle: 5}, &cpuReading{busy: 5, idle: 5}); got != 0 {
		t.Errorf("no elapsed time = %v, want 0", got)
	}
}

func TestMemoryFallsBackToSysinfo(t *testing.T) {
	dir := t.TempDir()
	h := &HostSampler{
		statPath:    filepath.Join(dir, "missing-stat"),
		meminfoPath: writeFile(t, dir, "meminfo", "MemTotal: 1000 kB\n"),
	}
	_, mem := h.Sample()
	if mem <= 0 || mem > 100 {
		t.Errorf("sysinfo memory = %v, want a percentage", mem)
	}
}

func TestHostSamplerReadsLiveProc(t *testing.T) {
	h := NewHostSampler()
	h.Sample()
	cpu, mem := h.Sample()
	if cpu < 0 || cpu > 100 {
		t.Errorf("cpu = %v out of range", cpu)
	}
	if mem <= 0 || mem > 100 {
		t.Errorf("memory = %v out of range", mem)
	}
}

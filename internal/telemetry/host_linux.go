//go:build linux

package telemetry

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// cpuReading captures cumulative CPU time from the aggregate line of
// /proc/stat:
//
//	cpu  user nice system idle iowait irq softirq steal guest guest_nice
//
// busy = user + nice + system + irq + softirq + steal
// idle = idle + iowait
type cpuReading struct {
	busy uint64
	idle uint64
}

// HostSampler reads CPU from /proc/stat deltas and memory from /proc/meminfo,
// falling back to sysinfo(2) when MemAvailable is missing.
type HostSampler struct {
	statPath    string
	meminfoPath string

	mu   sync.Mutex
	prev *cpuReading
}

// NewHostSampler returns a sampler for the local host. The first CPU sample
// reports 0 because there is no baseline yet.
func NewHostSampler() *HostSampler {
	return &HostSampler{statPath: "/proc/stat", meminfoPath: "/proc/meminfo"}
}

// Sample implements Sampler.
func (h *HostSampler) Sample() (cpu, memory float64) {
	current := readCPUStats(h.statPath)

	h.mu.Lock()
	cpu = cpuPercent(h.prev, current)
	if current != nil {
		h.prev = current
	}
	h.mu.Unlock()

	return cpu, h.memoryPercent()
}

func readCPUStats(path string) *cpuReading {
	file, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	if !scanner.Scan() {
		return nil
	}
	fields := strings.Fields(scanner.Text())
	if len(fields) < 9 || fields[0] != "cpu" {
		return nil
	}

	values := make([]uint64, len(fields)-1)
	for i := 1; i < len(fields); i++ {
		parsed, err := strconv.ParseUint(fields[i], 10, 64)
		if err != nil {
			return nil
		}
		values[i-1] = parsed
	}

	return &cpuReading{
		busy: values[0] + values[1] + values[2] + values[5] + values[6] + values[7],
		idle: values[3] + values[4],
	}
}

func cpuPercent(previous, current *cpuReading) float64 {
	if previous == nil || current == nil {
		return 0
	}
	if current.busy < previous.busy || current.idle < previous.idle {
		return 0
	}
	busyDelta := current.busy - previous.busy
	total := busyDelta + current.idle - previous.idle
	if total == 0 {
		return 0
	}
	return float64(busyDelta) / float64(total) * 100
}

func (h *HostSampler) memoryPercent() float64 {
	if pct, ok := readMemInfo(h.meminfoPath); ok {
		return pct
	}
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0
	}
	unit := uint64(info.Unit)
	total := uint64(info.Totalram) * unit
	free := (uint64(info.Freeram) + uint64(info.Bufferram)) * unit
	if total == 0 || free > total {
		return 0
	}
	return float64(total-free) / float64(total) * 100
}

// readMemInfo returns used memory as (MemTotal - MemAvailable) / MemTotal.
func readMemInfo(path string) (float64, bool) {
	file, err := os.Open(path)
	if err != nil {
		return 0, false
	}
	defer file.Close()

	var total, available uint64
	var haveTotal, haveAvailable bool
	scanner := bufio.NewScanner(file)
	for scanner.Scan() && !(haveTotal && haveAvailable) {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		value, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total, haveTotal = value, true
		case "MemAvailable:":
			available, haveAvailable = value, true
		}
	}
	if !haveTotal || !haveAvailable || total == 0 || available > total {
		return 0, false
	}
	return float64(total-available) / float64(total) * 100, true
}

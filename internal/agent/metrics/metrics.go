// Package metrics collects the host CPU/memory figures reported on every
// heartbeat.
package metrics

import (
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// Sample is one point-in-time read of host resource usage.
type Sample struct {
	CPUPercent    float64
	MemoryPercent float64
}

// Collect reads current CPU and memory utilization. A zero-valued Sample is
// returned (with the error) if either read fails — the heartbeat sender
// still reports connection counts on a metrics failure.
func Collect() (Sample, error) {
	cpuPercents, err := cpu.Percent(0, false)
	if err != nil {
		return Sample{}, err
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return Sample{}, err
	}

	var cpuPct float64
	if len(cpuPercents) > 0 {
		cpuPct = cpuPercents[0]
	}

	return Sample{CPUPercent: cpuPct, MemoryPercent: vm.UsedPercent}, nil
}

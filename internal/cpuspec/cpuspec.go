// Package cpuspec picks inference thread counts from the host CPU topology.
package cpuspec

import (
	"runtime"

	"github.com/klauspost/cpuid/v2"
)

// CPUSpec contains information about CPU specifications
type CPUSpec struct {
	BrandName     string
	PhysicalCores int
	LogicalCores  int
	Available     int // CPUs usable by this process
}

// GetCPUSpec returns the host CPU specification
func GetCPUSpec() CPUSpec {
	return CPUSpec{
		BrandName:     cpuid.CPU.BrandName,
		PhysicalCores: cpuid.CPU.PhysicalCores,
		LogicalCores:  cpuid.CPU.LogicalCores,
		Available:     runtime.NumCPU(),
	}
}

// InferenceThreads returns the interpreter thread count. A positive
// requested value is honoured up to the available CPUs. Otherwise physical
// cores are used, leaving one core for the datagram listener on hosts with
// more than two cores.
func (c CPUSpec) InferenceThreads(requested int) int {
	available := max(c.Available, 1)

	if requested > 0 {
		return min(requested, available)
	}

	threads := c.PhysicalCores
	if threads <= 0 {
		threads = c.LogicalCores
	}
	if threads <= 0 || threads > available {
		threads = available
	}
	if threads > 2 {
		threads--
	}

	return threads
}

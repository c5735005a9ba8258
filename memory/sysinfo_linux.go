//go:build linux

package memory

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// SysinfoSampler asks the kernel through sysinfo(2).
type SysinfoSampler struct{}

// UsagePercent implements Sampler.
func (SysinfoSampler) UsagePercent() (float64, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, fmt.Errorf("calling sysinfo: %w", err)
	}
	unit := uint64(info.Unit)
	if unit == 0 {
		unit = 1
	}
	total := uint64(info.Totalram) * unit
	free := (uint64(info.Freeram) + uint64(info.Bufferram)) * unit
	if total == 0 {
		return 0, fmt.Errorf("calling sysinfo: total ram is zero")
	}
	if free > total {
		free = total
	}
	return float64(total-free) / float64(total) * 100, nil
}

package ffmpeg

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// Thresholds are the minimum free resources required before an encode starts.
// A zero field disables that check.
type Thresholds struct {
	MinIdleCPU  float64
	MinFreeMem  int64
	MinFreeDisk int64
}

// CheckResources verifies that the system has enough free resources to start
// a new encode writing under dir.
func CheckResources(dir string, th Thresholds, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	if th.MinIdleCPU > 0 {
		p, err := cpu.Percent(time.Second, false)
		if err != nil {
			logger.Warn("could not get CPU usage", slog.String("error", err.Error()))
		} else if len(p) > 0 && p[0] > (100.0-th.MinIdleCPU) {
			return fmt.Errorf("not enough idle CPU. Current usage: %.2f%%, Idle threshold: %.2f%%", p[0], th.MinIdleCPU)
		}
	}

	if th.MinFreeMem > 0 {
		vm, err := mem.VirtualMemory()
		if err != nil {
			logger.Warn("could not get memory usage", slog.String("error", err.Error()))
		} else if vm.Available < uint64(th.MinFreeMem) {
			return fmt.Errorf("not enough free memory. Available: %d, Required: %d", vm.Available, th.MinFreeMem)
		}
	}

	if th.MinFreeDisk > 0 {
		d, err := disk.Usage(dir)
		if err != nil {
			logger.Warn("could not get disk usage", slog.String("dir", dir), slog.String("error", err.Error()))
		} else if d.Free < uint64(th.MinFreeDisk) {
			return fmt.Errorf("not enough free disk space. Available: %d, Required: %d", d.Free, th.MinFreeDisk)
		}
	}
	return nil
}

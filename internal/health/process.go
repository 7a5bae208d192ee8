package health

import (
	"os"

	"github.com/shirou/gopsutil/v3/process"
)

// Process is resource usage of the running service.
type Process struct {
	PID        int32   `json:"pid"`
	RSSBytes   uint64  `json:"rssBytes"`
	CPUPercent float64 `json:"cpuPercent"`
	Threads    int32   `json:"threads"`
}

// CollectProcess samples the current process. Fields that cannot be read
// on this platform are left zero.
func CollectProcess() (Process, error) {
	pid := int32(os.Getpid())
	p, err := process.NewProcess(pid)
	if err != nil {
		return Process{}, err
	}

	stats := Process{PID: pid}
	if mem, err := p.MemoryInfo(); err == nil && mem != nil {
		stats.RSSBytes = mem.RSS
	}
	if cpu, err := p.CPUPercent(); err == nil {
		stats.CPUPercent = cpu
	}
	if n, err := p.NumThreads(); err == nil {
		stats.Threads = n
	}
	return stats, nil
}

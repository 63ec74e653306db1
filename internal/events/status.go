package events

import (
	"context"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Collector supplies a resource snapshot. The GPU figure comes from an
// external collector when one is deployed; the default reports -1 for it.
type Collector func() (cpu, gpu float64)

// StatusReporter periodically publishes the system_status event.
type StatusReporter struct {
	pub      *Publisher
	collect  Collector
	interval time.Duration
}

func NewStatusReporter(pub *Publisher, collect Collector, interval time.Duration) *StatusReporter {
	if collect == nil {
		collect = DefaultCollector
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &StatusReporter{pub: pub, collect: collect, interval: interval}
}

// Run blocks until the context is cancelled.
func (r *StatusReporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cpu, gpu := r.collect()
			r.pub.SystemStatus(cpu, gpu)
		}
	}
}

// DefaultCollector approximates CPU load from the 1-minute load average
// normalized by core count. GPU reads require an external collector.
func DefaultCollector() (cpu, gpu float64) {
	gpu = -1
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0, gpu
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, gpu
	}
	load, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, gpu
	}
	cpu = load / float64(runtime.NumCPU()) * 100
	if cpu > 100 {
		cpu = 100
	}
	return cpu, gpu
}

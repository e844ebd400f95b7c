//go:build linux

package procmgr

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sync/semaphore"
)

// maxConcurrentSamples bounds how many pids are probed at once, so a list()
// call against hundreds of running children doesn't open hundreds of
// simultaneous /proc reads at once.
const maxConcurrentSamples = 16

// metricsSampleInterval is the gap between the two CPU-time samples used
// to derive an instantaneous CPU% via a two-sample diff.
const metricsSampleInterval = 200 * time.Millisecond

type sample struct {
	alive      bool
	cpuPercent float64
	rssBytes   uint64
}

// sampleCPU snapshots CPU% and RSS for the given pids using gopsutil's
// per-process probes. Entries with pid < 0 (not running) are reported
// alive=false without touching the OS. The registry snapshots pids under
// its lock and calls this function afterward, outside the lock: sampling
// must never hold the registry mutex across the sleep between samples.
func sampleCPU(pids []int) []sample {
	out := make([]sample, len(pids))
	procs := make([]*process.Process, len(pids))

	sem := semaphore.NewWeighted(maxConcurrentSamples)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i, pid := range pids {
		if pid < 0 {
			continue
		}
		wg.Add(1)
		go func(i, pid int) {
			defer wg.Done()
			_ = sem.Acquire(ctx, 1)
			defer sem.Release(1)

			p, err := process.NewProcess(int32(pid))
			if err != nil {
				return
			}
			procs[i] = p
			// Prime the CPU-time baseline; first call always returns 0.
			_, _ = p.Percent(0)
		}(i, pid)
	}
	wg.Wait()

	time.Sleep(metricsSampleInterval)

	wg = sync.WaitGroup{}
	for i, p := range procs {
		if p == nil {
			continue
		}
		wg.Add(1)
		go func(i int, p *process.Process) {
			defer wg.Done()
			_ = sem.Acquire(ctx, 1)
			defer sem.Release(1)

			running, err := p.IsRunning()
			if err != nil || !running {
				return
			}
			cpuPct, err := p.Percent(0)
			if err != nil {
				return
			}
			memInfo, err := p.MemoryInfo()
			if err != nil {
				return
			}
			out[i] = sample{alive: true, cpuPercent: cpuPct, rssBytes: memInfo.RSS}
		}(i, p)
	}
	wg.Wait()

	return out
}

package sampler

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/prometheus/procfs"
	"github.com/prometheus/procfs/blockdevice"

	"github.com/ciricc/go-stream-bench/internal/model/sample"
)

// virtualDevicePrefixes are block devices that either do no physical IO or
// double count IO already seen on a real disk.
var virtualDevicePrefixes = []string{"loop", "ram", "zram", "dm-", "md", "sr", "fd", "nbd"}

// ProcfsSampler measures IOPS and CPU on Linux as the delta of two /proc reads
// taken window apart.
type ProcfsSampler struct {
	proc   procfs.FS
	block  blockdevice.FS
	window time.Duration
}

func NewProcfsSampler(procPath, sysPath string, window time.Duration) (*ProcfsSampler, error) {
	pfs, err := procfs.NewFS(procPath)
	if err != nil {
		return nil, fmt.Errorf("open procfs: %w", err)
	}
	bfs, err := blockdevice.NewFS(procPath, sysPath)
	if err != nil {
		return nil, fmt.Errorf("open blockdevice fs: %w", err)
	}
	if window <= 0 {
		window = time.Second
	}
	return &ProcfsSampler{proc: pfs, block: bfs, window: window}, nil
}

type snapshot struct {
	at       time.Time
	readIOs  uint64
	writeIOs uint64
	cpuBusy  float64
	cpuTotal float64
}

func (s *ProcfsSampler) Sample(ctx context.Context) (sample.Sample, error) {
	first, err := s.snapshot()
	if err != nil {
		return sample.Sample{}, err
	}
	if err := sleepCtx(ctx, s.window); err != nil {
		return sample.Sample{}, err
	}
	second, err := s.snapshot()
	if err != nil {
		return sample.Sample{}, err
	}
	return rates(first, second), nil
}

func (s *ProcfsSampler) snapshot() (snapshot, error) {
	snap := snapshot{at: time.Now()}

	devices, err := s.block.SysBlockDevices()
	if err != nil {
		return snap, fmt.Errorf("%w: list block devices: %v", ErrMetricUnavailable, err)
	}
	physical := make(map[string]bool, len(devices))
	for _, d := range devices {
		if !isVirtualDevice(d) {
			physical[d] = true
		}
	}

	stats, err := s.block.ProcDiskstats()
	if err != nil {
		return snap, fmt.Errorf("%w: read diskstats: %v", ErrMetricUnavailable, err)
	}
	for _, st := range stats {
		if !physical[st.DeviceName] {
			continue
		}
		snap.readIOs += st.ReadIOs
		snap.writeIOs += st.WriteIOs
	}

	stat, err := s.proc.Stat()
	if err != nil {
		return snap, fmt.Errorf("%w: read stat: %v", ErrMetricUnavailable, err)
	}
	c := stat.CPUTotal
	idle := c.Idle + c.Iowait
	snap.cpuTotal = c.User + c.Nice + c.System + c.Idle + c.Iowait + c.IRQ + c.SoftIRQ + c.Steal
	snap.cpuBusy = snap.cpuTotal - idle
	return snap, nil
}

func rates(a, b snapshot) sample.Sample {
	out := sample.Sample{Timestamp: b.at}
	secs := b.at.Sub(a.at).Seconds()
	if secs > 0 {
		out.ReadIOPS = perSecond(a.readIOs, b.readIOs, secs)
		out.WriteIOPS = perSecond(a.writeIOs, b.writeIOs, secs)
	}
	if total := b.cpuTotal - a.cpuTotal; total > 0 {
		out.CPUPercent = math.Max(0, math.Min(100, (b.cpuBusy-a.cpuBusy)/total*100))
	}
	return out
}

func perSecond(before, after uint64, secs float64) int {
	// counters reset when a device disappears between reads
	if after < before {
		return 0
	}
	return int(math.Round(float64(after-before) / secs))
}

func isVirtualDevice(name string) bool {
	for _, p := range virtualDevicePrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

var _ Sampler = (*ProcfsSampler)(nil)

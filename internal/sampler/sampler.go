// Package sampler reads host disk IOPS and CPU utilization.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/ciricc/go-stream-bench/internal/model/sample"
)

var ErrMetricUnavailable = errors.New("metric unavailable")

// Values reported when the host cannot be queried. Zero keeps a broken sampler from
// looking like load.
const (
	DefaultReadIOPS   = 0
	DefaultWriteIOPS  = 0
	DefaultCPUPercent = 0.0
)

type Sampler interface {
	Sample(ctx context.Context) (sample.Sample, error)
}

func Fallback(at time.Time) sample.Sample {
	return sample.Sample{
		Timestamp:  at,
		ReadIOPS:   DefaultReadIOPS,
		WriteIOPS:  DefaultWriteIOPS,
		CPUPercent: DefaultCPUPercent,
	}
}

// SampleOrDefault never fails: a sampler error is logged and replaced by Fallback.
func SampleOrDefault(ctx context.Context, s Sampler, log *slog.Logger) sample.Sample {
	smp, err := s.Sample(ctx)
	if err != nil {
		log.WarnContext(ctx, "Metric sample unavailable, using defaults", "error", err)
		return Fallback(time.Now())
	}
	return smp
}

// NewHostSampler picks the sampler for the current OS. window is the measuring
// interval of a single Sample call.
func NewHostSampler(window time.Duration, log *slog.Logger) Sampler {
	switch runtime.GOOS {
	case "linux":
		s, err := NewProcfsSampler("/proc", "/sys", window)
		if err != nil {
			log.Warn("procfs unavailable, metrics will use defaults", "error", err)
			return unavailable{err: err}
		}
		return s
	case "darwin":
		return NewIostatSampler("iostat", window)
	default:
		return unavailable{err: fmt.Errorf("no sampler for %s", runtime.GOOS)}
	}
}

type unavailable struct{ err error }

func (u unavailable) Sample(context.Context) (sample.Sample, error) {
	return sample.Sample{}, fmt.Errorf("%w: %v", ErrMetricUnavailable, u.err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

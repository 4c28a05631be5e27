// Package monitor watches the slots of a running trial and samples host metrics.
package monitor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ciricc/go-stream-bench/internal/diag"
	"github.com/ciricc/go-stream-bench/internal/model/sample"
	"github.com/ciricc/go-stream-bench/internal/model/slot"
	"github.com/ciricc/go-stream-bench/internal/proc"
	"github.com/ciricc/go-stream-bench/internal/sampler"
)

const defaultTailLines = 50

// SampleObserver is told about every recorded sample.
type SampleObserver interface {
	ObserveSample(s sample.Sample)
}

type Options struct {
	CheckInterval  time.Duration
	SampleInterval time.Duration
	// Debug enables the post-trial log scan.
	Debug     bool
	TailLines int
	// Progress receives a single updating status line. Nil discards it.
	Progress io.Writer
	Observer SampleObserver
}

type Monitor struct {
	opts     Options
	sampler  sampler.Sampler
	detector diag.Detector
	status   *Status
	log      *slog.Logger
}

func New(opts Options, smp sampler.Sampler, detector diag.Detector, status *Status, log *slog.Logger) *Monitor {
	if opts.TailLines <= 0 {
		opts.TailLines = defaultTailLines
	}
	if opts.Progress == nil {
		opts.Progress = io.Discard
	}
	if status == nil {
		status = NewStatus()
	}
	return &Monitor{opts: opts, sampler: smp, detector: detector, status: status, log: log}
}

// Run polls slots for duration and returns the samples taken. Slots are updated
// in place. It returns early once every slot has failed, and with ctx.Err() when
// cancelled.
func (m *Monitor) Run(ctx context.Context, slots []*slot.Slot, duration time.Duration) ([]sample.Sample, error) {
	start := time.Now()
	deadline := time.NewTimer(duration)
	defer deadline.Stop()

	samples := []sample.Sample{m.sample(ctx)}
	m.status.Set(slot.Tally(slots))

	check := time.NewTicker(m.opts.CheckInterval)
	defer check.Stop()
	sampleTick := time.NewTicker(m.opts.SampleInterval)
	defer sampleTick.Stop()

	done := allFailed(slots)
loop:
	for !done {
		select {
		case <-ctx.Done():
			fmt.Fprintln(m.opts.Progress)
			return samples, ctx.Err()
		case <-deadline.C:
			break loop
		case <-check.C:
			m.check(ctx, slots)
			m.printProgress(slots, time.Since(start), duration)
			done = allFailed(slots)
		case <-sampleTick.C:
			samples = append(samples, m.sample(ctx))
		}
	}
	fmt.Fprintln(m.opts.Progress)

	if done {
		m.log.InfoContext(ctx, "All streams failed, ending trial early", "elapsed", time.Since(start).Round(time.Second))
	}
	if m.opts.Debug {
		m.scanLogs(ctx, slots)
	}
	m.status.Set(slot.Tally(slots))
	return samples, nil
}

func (m *Monitor) sample(ctx context.Context) sample.Sample {
	s := sampler.SampleOrDefault(ctx, m.sampler, m.log)
	if m.opts.Observer != nil {
		m.opts.Observer.ObserveSample(s)
	}
	return s
}

func (m *Monitor) check(ctx context.Context, slots []*slot.Slot) {
	for _, s := range slots {
		if s.Status() != slot.StatusActive || s.Alive() {
			continue
		}
		reason := "consumer exited"
		if !s.Producer.IsAlive() {
			reason = "producer exited"
		}
		s.Fail(reason)
		m.log.WarnContext(ctx, "Stream failed", "slot", s.ID, "reason", reason)
	}
	m.status.Set(slot.Tally(slots))
}

// scanLogs downgrades active slots whose output shows a known error.
func (m *Monitor) scanLogs(ctx context.Context, slots []*slot.Slot) {
	if m.detector == nil {
		return
	}
	for _, s := range slots {
		if s.Status() != slot.StatusActive {
			continue
		}
		for _, h := range []proc.Handle{s.Producer, s.Consumer} {
			lines, err := diag.Tail(h.LogPath(), m.opts.TailLines)
			if err != nil {
				m.log.DebugContext(ctx, "Cannot read stream log", "slot", s.ID, "path", h.LogPath(), "error", err)
				continue
			}
			if match, found := m.detector.Detect(lines); found {
				if err := s.FailWithErrors(match); err == nil {
					m.log.WarnContext(ctx, "Stream output shows errors", "slot", s.ID, "line", match)
				}
				break
			}
		}
	}
}

func (m *Monitor) printProgress(slots []*slot.Slot, elapsed, total time.Duration) {
	c := slot.Tally(slots)
	fmt.Fprintf(m.opts.Progress, "\r  %d streams: %3ds/%ds active=%d failed=%d",
		c.Requested, int(elapsed.Seconds()), int(total.Seconds()), c.Active, c.Failed)
}

func allFailed(slots []*slot.Slot) bool {
	if len(slots) == 0 {
		return false
	}
	for _, s := range slots {
		if !s.Status().Failed() {
			return false
		}
	}
	return true
}

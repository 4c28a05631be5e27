// Package controller drives the escalating sequence of trials.
package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ciricc/go-stream-bench/internal/aggregate"
	"github.com/ciricc/go-stream-bench/internal/hwaccel"
	"github.com/ciricc/go-stream-bench/internal/launcher"
	"github.com/ciricc/go-stream-bench/internal/model/sample"
	"github.com/ciricc/go-stream-bench/internal/model/slot"
	"github.com/ciricc/go-stream-bench/pkg/benchreport"
)

var ErrInterrupted = errors.New("benchmark interrupted")

type PairLauncher interface {
	Launch(ctx context.Context, slotID int, inputFile string, accel hwaccel.Config) (launcher.Pair, error)
}

type SlotMonitor interface {
	Run(ctx context.Context, slots []*slot.Slot, duration time.Duration) ([]sample.Sample, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, iteration, requested int, slots []*slot.Slot, samples []sample.Sample, rc aggregate.RunContext) (benchreport.TrialResult, bool, error)
}

type Cleaner interface {
	Cleanup()
}

// TrialTracker is told when a trial begins, before any slot is launched.
type TrialTracker interface {
	BeginTrial(n int)
}

type Options struct {
	InputFile     string
	Accel         hwaccel.Config
	TrialDuration time.Duration
	// InterLaunch is the pause between two slot launches of one trial.
	InterLaunch time.Duration
	RunContext  aggregate.RunContext
	// Out receives the user-facing trial lines. Nil discards them.
	Out io.Writer
}

type Outcome struct {
	MaxSuccessful int
	TrialsRun     int
	// ReachedCeiling is set when every trial up to the ceiling passed.
	ReachedCeiling bool
	Results        []benchreport.TrialResult
}

type Controller struct {
	opts     Options
	launcher PairLauncher
	monitor  SlotMonitor
	summary  Summarizer
	reaper   Cleaner
	trials   TrialTracker
	log      *slog.Logger
}

func New(opts Options, l PairLauncher, m SlotMonitor, s Summarizer, r Cleaner, trials TrialTracker, log *slog.Logger) *Controller {
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	return &Controller{opts: opts, launcher: l, monitor: m, summary: s, reaper: r, trials: trials, log: log}
}

// Run probes 1..maxStreams streams in order and stops at the first failing trial.
// On cancellation every started process is reaped and the partial outcome is
// returned with ErrInterrupted.
func (c *Controller) Run(ctx context.Context, maxStreams int) (Outcome, error) {
	var out Outcome
	if maxStreams < 1 {
		return out, fmt.Errorf("max streams must be at least 1, got %d", maxStreams)
	}

	for n := 1; n <= maxStreams; n++ {
		c.reaper.Cleanup()
		if ctx.Err() != nil {
			return out, ErrInterrupted
		}

		out.TrialsRun++
		res, passed, err := c.trial(ctx, n)
		c.reaper.Cleanup()
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info("Benchmark interrupted", "streams", n)
				return out, ErrInterrupted
			}
			return out, err
		}
		out.Results = append(out.Results, res)

		if !passed {
			fmt.Fprintf(c.opts.Out, "%d streams: %d active, %d failed. Capacity reached.\n", n, res.ActiveCount, res.FailedCount)
			c.log.Info("Trial failed", "streams", n, "active", res.ActiveCount, "failed", res.FailedCount)
			break
		}
		out.MaxSuccessful = n
		fmt.Fprintf(c.opts.Out, "%d streams: all active (read %.1f IOPS, write %.1f IOPS, cpu %.1f%%)\n",
			n, res.AvgReadIOPS, res.AvgWriteIOPS, res.CPUUsage)
		if n == maxStreams {
			out.ReachedCeiling = true
		}
	}

	fmt.Fprintf(c.opts.Out, "Maximum sustained streams: %d\n", out.MaxSuccessful)
	if out.ReachedCeiling {
		fmt.Fprintf(c.opts.Out, "All %d trials passed; this system may scale higher than the configured maximum.\n", maxStreams)
	}
	return out, nil
}

func (c *Controller) trial(ctx context.Context, n int) (benchreport.TrialResult, bool, error) {
	if c.trials != nil {
		c.trials.BeginTrial(n)
	}
	c.log.Info("Starting trial", "streams", n)

	slots := make([]*slot.Slot, n)
	for id := range n {
		if id > 0 {
			if err := sleepCtx(ctx, c.opts.InterLaunch); err != nil {
				return benchreport.TrialResult{}, false, err
			}
		}
		s := slot.New(id)
		slots[id] = s

		pair, err := c.launcher.Launch(ctx, id, c.opts.InputFile, c.opts.Accel)
		if err != nil {
			if ctx.Err() != nil {
				return benchreport.TrialResult{}, false, ctx.Err()
			}
			var le *launcher.LaunchError
			if errors.As(err, &le) && len(le.Tail) > 0 {
				c.log.Warn("Stream failed to start", "slot", id, "side", le.Side, "error", le.Err, "tail", le.Tail[len(le.Tail)-1])
			} else {
				c.log.Warn("Stream failed to start", "slot", id, "error", err)
			}
			s.Fail(err.Error())
			continue
		}
		if err := s.Activate(pair.Producer, pair.Consumer); err != nil {
			return benchreport.TrialResult{}, false, err
		}
	}

	samples, err := c.monitor.Run(ctx, slots, c.opts.TrialDuration)
	if err != nil {
		return benchreport.TrialResult{}, false, err
	}

	res, passed, err := c.summary.Summarize(ctx, n, n, slots, samples, c.opts.RunContext)
	if err != nil {
		// the verdict stays usable even when a log line could not be written
		c.log.Error("Failed to record trial", "streams", n, "error", err)
	}
	return res, passed, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

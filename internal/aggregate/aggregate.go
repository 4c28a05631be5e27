// Package aggregate turns a finished trial into a TrialResult and records it.
package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"

	"github.com/ciricc/go-stream-bench/internal/model/sample"
	"github.com/ciricc/go-stream-bench/internal/model/slot"
	"github.com/ciricc/go-stream-bench/internal/sampler"
	"github.com/ciricc/go-stream-bench/pkg/benchreport"
)

// RunContext is the part of a trial record that does not change between trials.
type RunContext struct {
	RunID      string
	VideoFile  string
	CPUName    string
	GPUName    string
	Resolution string
	InputCodec string
	Encoder    string
}

// Recorder receives one record per trial.
type Recorder interface {
	Append(fields []string) error
}

// TrialObserver is told about every summarized trial.
type TrialObserver interface {
	ObserveTrial(r benchreport.TrialResult)
}

type Aggregator struct {
	runLog        Recorder
	persistentLog Recorder
	sampler       sampler.Sampler
	observer      TrialObserver
	now           func() time.Time
	log           *slog.Logger
}

type Option func(*Aggregator)

func WithObserver(o TrialObserver) Option {
	return func(a *Aggregator) { a.observer = o }
}

func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

func New(runLog, persistentLog Recorder, smp sampler.Sampler, log *slog.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{
		runLog:        runLog,
		persistentLog: persistentLog,
		sampler:       smp,
		now:           time.Now,
		log:           log,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Summarize classifies slots, averages samples and appends the trial to both logs.
// The verdict is true only when no slot failed. A log write error is returned
// together with the result, which stays valid.
func (a *Aggregator) Summarize(
	ctx context.Context,
	iteration, requested int,
	slots []*slot.Slot,
	samples []sample.Sample,
	rc RunContext,
) (benchreport.TrialResult, bool, error) {
	counts := slot.Tally(slots)
	if len(samples) == 0 {
		samples = []sample.Sample{sampler.SampleOrDefault(ctx, a.sampler, a.log)}
	}

	res := benchreport.TrialResult{
		Iteration:        iteration,
		RequestedStreams: requested,
		ActiveCount:      counts.Active,
		FailedCount:      requested - counts.Active,
		CPUUsage:         mean(samples, func(s sample.Sample) float64 { return s.CPUPercent }),
		CPUName:          rc.CPUName,
		GPUName:          rc.GPUName,
		Resolution:       rc.Resolution,
		InputCodec:       rc.InputCodec,
		Encoder:          rc.Encoder,
		AvgReadIOPS:      mean(samples, func(s sample.Sample) float64 { return float64(s.ReadIOPS) }),
		AvgWriteIOPS:     mean(samples, func(s sample.Sample) float64 { return float64(s.WriteIOPS) }),
		RunID:            rc.RunID,
		VideoFile:        rc.VideoFile,
		Timestamp:        a.now(),
	}

	for _, s := range slots {
		if s.Status().Failed() {
			a.log.DebugContext(ctx, "Slot failed", "iteration", iteration, "slot", s.ID, "status", s.Status(), "reason", s.Reason())
		}
	}

	if a.observer != nil {
		a.observer.ObserveTrial(res)
	}

	var err error
	if werr := a.runLog.Append(res.RunRecord()); werr != nil {
		err = fmt.Errorf("append run log: %w", werr)
	}
	if werr := a.persistentLog.Append(res.PersistentRecord()); werr != nil && err == nil {
		err = fmt.Errorf("append persistent log: %w", werr)
	}
	return res, res.Passed(), err
}

func mean(samples []sample.Sample, field func(sample.Sample) float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	return lo.SumBy(samples, field) / float64(len(samples))
}

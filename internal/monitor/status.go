package monitor

import (
	"sync/atomic"

	"github.com/ciricc/go-stream-bench/internal/model/slot"
)

// StatusReader exposes the live state of the running trial to other goroutines
// (status endpoints, metrics scrapes).
type StatusReader interface {
	// Trial returns the stream count of the running trial, 0 before the first one.
	Trial() int
	// Counts returns the latest slot tally of the running trial.
	Counts() slot.Counts
	// IsHealthy is true while no slot of the running trial has failed.
	IsHealthy() bool
}

// Status is written by the control goroutine and read by anyone.
type Status struct {
	trial     atomic.Int64
	requested atomic.Int64
	active    atomic.Int64
	failed    atomic.Int64
}

func NewStatus() *Status {
	return &Status{}
}

// BeginTrial resets the tally for a trial of n streams.
func (s *Status) BeginTrial(n int) {
	s.trial.Store(int64(n))
	s.requested.Store(int64(n))
	s.active.Store(0)
	s.failed.Store(0)
}

func (s *Status) Set(c slot.Counts) {
	s.requested.Store(int64(c.Requested))
	s.active.Store(int64(c.Active))
	s.failed.Store(int64(c.Failed))
}

func (s *Status) Trial() int {
	return int(s.trial.Load())
}

func (s *Status) Counts() slot.Counts {
	return slot.Counts{
		Requested: int(s.requested.Load()),
		Active:    int(s.active.Load()),
		Failed:    int(s.failed.Load()),
	}
}

func (s *Status) IsHealthy() bool {
	return s.failed.Load() == 0
}

var _ StatusReader = (*Status)(nil)

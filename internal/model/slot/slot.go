package slot

import (
	"errors"
	"fmt"

	"github.com/ciricc/go-stream-bench/internal/proc"
)

type Status string

const (
	StatusPending          Status = "pending"
	StatusActive           Status = "active"
	StatusFailed           Status = "failed"
	StatusFailedWithErrors Status = "failed_with_errors"
)

// Failed reports whether the status is one of the failed variants.
func (s Status) Failed() bool {
	return s == StatusFailed || s == StatusFailedWithErrors
}

var ErrInvalidTransition = errors.New("invalid slot transition")

// Slot is one producer/consumer pair inside a trial. Status only moves forward:
// pending -> active -> failed | failed_with_errors, or pending -> failed.
type Slot struct {
	ID       int
	Producer proc.Handle
	Consumer proc.Handle

	status Status
	reason string
}

func New(id int) *Slot {
	return &Slot{ID: id, status: StatusPending}
}

func (s *Slot) Status() Status { return s.status }

// Reason is the diagnostic attached by the last failing transition.
func (s *Slot) Reason() string { return s.reason }

func (s *Slot) Activate(producer, consumer proc.Handle) error {
	if s.status != StatusPending {
		return fmt.Errorf("%w: slot %d %s -> %s", ErrInvalidTransition, s.ID, s.status, StatusActive)
	}
	s.Producer = producer
	s.Consumer = consumer
	s.status = StatusActive
	return nil
}

// Fail marks the slot failed. Failing an already failed slot keeps the first status.
func (s *Slot) Fail(reason string) {
	if s.status.Failed() {
		return
	}
	s.status = StatusFailed
	s.reason = reason
}

// FailWithErrors downgrades an active slot whose output matched an error pattern.
func (s *Slot) FailWithErrors(reason string) error {
	if s.status != StatusActive {
		return fmt.Errorf("%w: slot %d %s -> %s", ErrInvalidTransition, s.ID, s.status, StatusFailedWithErrors)
	}
	s.status = StatusFailedWithErrors
	s.reason = reason
	return nil
}

// Alive reports whether both processes of an active slot are still running.
func (s *Slot) Alive() bool {
	if s.status != StatusActive || s.Producer == nil || s.Consumer == nil {
		return false
	}
	return s.Producer.IsAlive() && s.Consumer.IsAlive()
}

// Counts tallies slots by outcome. Pending slots count as failed: they never came up.
type Counts struct {
	Requested int
	Active    int
	Failed    int
}

func Tally(slots []*Slot) Counts {
	c := Counts{Requested: len(slots)}
	for _, s := range slots {
		if s.status == StatusActive {
			c.Active++
		} else {
			c.Failed++
		}
	}
	return c
}

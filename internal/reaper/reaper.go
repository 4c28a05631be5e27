// Package reaper stops every process a trial started and clears its leftovers.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ciricc/go-stream-bench/internal/proc"
)

// pollInterval is how often a terminated process is checked while waiting for it to exit.
const pollInterval = 50 * time.Millisecond

// Tracker records handles as soon as they are started.
type Tracker struct {
	mu      sync.Mutex
	handles []proc.Handle
}

func NewTracker() *Tracker {
	return &Tracker{}
}

func (t *Tracker) Track(h proc.Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handles = append(t.handles, h)
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.handles)
}

// drain returns the tracked handles and forgets them.
func (t *Tracker) drain() []proc.Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	hs := t.handles
	t.handles = nil
	return hs
}

// Sweeper kills processes the tracker lost track of.
type Sweeper interface {
	Sweep(ctx context.Context) error
}

// PkillSweeper runs `pkill -KILL -f Pattern`. pkill exits 1 when nothing matched.
type PkillSweeper struct {
	Pattern string
}

func (s PkillSweeper) Sweep(ctx context.Context) error {
	err := exec.CommandContext(ctx, "pkill", "-KILL", "-f", s.Pattern).Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return nil
	}
	return err
}

type Options struct {
	// TerminateGrace is the wait between SIGTERM and SIGKILL.
	TerminateGrace time.Duration
	// LogsDir holds per-process logs, removed after cleanup unless KeepLogs.
	LogsDir  string
	KeepLogs bool
	// Sweeper is optional.
	Sweeper Sweeper
}

type Reaper struct {
	tracker *Tracker
	opts    Options
	log     *slog.Logger
}

func New(tracker *Tracker, opts Options, log *slog.Logger) *Reaper {
	return &Reaper{tracker: tracker, opts: opts, log: log}
}

// Cleanup stops every tracked process and returns once all of them have exited
// or been killed. Calling it with nothing tracked is harmless.
func (r *Reaper) Cleanup() {
	// cleanup must finish even when the run was cancelled
	ctx := context.Background()

	handles := r.tracker.drain()
	if len(handles) > 0 {
		r.log.Debug("Reaping processes", "count", len(handles))
	}

	var g errgroup.Group
	for _, h := range handles {
		g.Go(func() error {
			return r.stop(h)
		})
	}
	if err := g.Wait(); err != nil {
		r.log.Warn("Failed to stop process", "error", err)
	}

	if r.opts.Sweeper != nil {
		if err := r.opts.Sweeper.Sweep(ctx); err != nil {
			r.log.Warn("Stray process sweep failed", "error", err)
		}
	}

	if !r.opts.KeepLogs && r.opts.LogsDir != "" {
		if err := removeLogs(r.opts.LogsDir); err != nil {
			r.log.Warn("Failed to remove process logs", "dir", r.opts.LogsDir, "error", err)
		}
	}
}

func (r *Reaper) stop(h proc.Handle) error {
	if !h.IsAlive() {
		return nil
	}
	if err := h.Terminate(); err != nil {
		r.log.Debug("Terminate failed, killing", "name", h.Name(), "pid", h.PID(), "error", err)
	} else if waitExit(h, r.opts.TerminateGrace) {
		return nil
	}
	if err := h.ForceKill(); err != nil {
		return fmt.Errorf("kill %s (pid %d): %w", h.Name(), h.PID(), err)
	}
	r.log.Debug("Process killed", "name", h.Name(), "pid", h.PID())
	return nil
}

func waitExit(h proc.Handle, grace time.Duration) bool {
	deadline := time.Now().Add(grace)
	for {
		if !h.IsAlive() {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(min(pollInterval, time.Until(deadline)))
	}
}

func removeLogs(dir string) error {
	matches, err := filepath.Glob(filepath.Join(dir, "*.log"))
	if err != nil {
		return err
	}
	var errs []error
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

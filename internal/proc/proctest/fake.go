// Package proctest provides in-memory process handles for tests.
package proctest

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/ciricc/go-stream-bench/internal/proc"
)

type FakeHandle struct {
	mu sync.Mutex

	pid     int
	name    string
	logPath string
	alive   bool
	// IgnoreTerm keeps the process alive after Terminate, forcing a kill.
	IgnoreTerm bool

	Terminated int
	Killed     int
}

func NewHandle(pid int, name, logPath string) *FakeHandle {
	return &FakeHandle{pid: pid, name: name, logPath: logPath, alive: true}
}

func (h *FakeHandle) PID() int        { return h.pid }
func (h *FakeHandle) Name() string    { return h.name }
func (h *FakeHandle) LogPath() string { return h.logPath }

func (h *FakeHandle) IsAlive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.alive
}

// Die simulates the process exiting on its own.
func (h *FakeHandle) Die() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.alive = false
}

func (h *FakeHandle) Terminate() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Terminated++
	if !h.IgnoreTerm {
		h.alive = false
	}
	return nil
}

func (h *FakeHandle) ForceKill() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Killed++
	h.alive = false
	return nil
}

func (h *FakeHandle) Counts() (terminated, killed int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Terminated, h.Killed
}

// Starter hands out FakeHandles. OnStart may mutate the handle or fail the start.
type Starter struct {
	mu      sync.Mutex
	nextPID int

	OnStart func(spec proc.Spec, h *FakeHandle) error
	// WriteLog writes this content into spec.LogPath when non-empty.
	WriteLog func(spec proc.Spec) string

	Specs   []proc.Spec
	Handles []*FakeHandle
}

func (s *Starter) Start(ctx context.Context, spec proc.Spec) (proc.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.nextPID++
	h := NewHandle(1000+s.nextPID, spec.Name, spec.LogPath)
	s.Specs = append(s.Specs, spec)
	s.mu.Unlock()

	if s.WriteLog != nil && spec.LogPath != "" {
		if content := s.WriteLog(spec); content != "" {
			if err := os.WriteFile(spec.LogPath, []byte(content), 0o644); err != nil {
				return nil, fmt.Errorf("write fake log: %w", err)
			}
		}
	}
	if s.OnStart != nil {
		if err := s.OnStart(spec, h); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	s.Handles = append(s.Handles, h)
	s.mu.Unlock()
	return h, nil
}

var _ proc.Handle = (*FakeHandle)(nil)
var _ proc.Starter = (*Starter)(nil)

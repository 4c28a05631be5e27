// Package proc wraps OS processes behind a small liveness/termination capability.
package proc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
)

var ErrNotStarted = errors.New("process not started")

// Handle is the only way the rest of the module touches a running process.
type Handle interface {
	PID() int
	Name() string
	// LogPath is the file receiving the process stdout and stderr.
	LogPath() string
	IsAlive() bool
	// Terminate asks the process to stop (SIGTERM).
	Terminate() error
	// ForceKill stops the process unconditionally (SIGKILL).
	ForceKill() error
}

// Spec describes a command to start. The command is not bound to any context:
// stopping it is the caller's job through the returned Handle.
type Spec struct {
	Name    string
	Path    string
	Args    []string
	LogPath string
}

type Starter interface {
	Start(ctx context.Context, spec Spec) (Handle, error)
}

type ExecStarter struct{}

func NewExecStarter() *ExecStarter {
	return &ExecStarter{}
}

func (ExecStarter) Start(ctx context.Context, spec Spec) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if dir := filepath.Dir(spec.LogPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
	}
	logFile, err := os.Create(spec.LogPath)
	if err != nil {
		return nil, fmt.Errorf("create log file: %w", err)
	}

	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		return nil, fmt.Errorf("start %s: %w", spec.Name, err)
	}

	h := &execHandle{
		name:    spec.Name,
		logPath: spec.LogPath,
		cmd:     cmd,
		done:    make(chan struct{}),
	}
	go func() {
		_ = cmd.Wait()
		_ = logFile.Close()
		close(h.done)
	}()
	return h, nil
}

type execHandle struct {
	name    string
	logPath string
	cmd     *exec.Cmd
	// done is closed once cmd.Wait returns.
	done chan struct{}
}

func (h *execHandle) PID() int        { return h.cmd.Process.Pid }
func (h *execHandle) Name() string    { return h.name }
func (h *execHandle) LogPath() string { return h.logPath }

func (h *execHandle) IsAlive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func (h *execHandle) Terminate() error {
	return h.signal(syscall.SIGTERM)
}

func (h *execHandle) ForceKill() error {
	return h.signal(os.Kill)
}

func (h *execHandle) signal(sig os.Signal) error {
	if h.cmd.Process == nil {
		return ErrNotStarted
	}
	if !h.IsAlive() {
		return nil
	}
	if err := h.cmd.Process.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("signal %s (pid %d): %w", h.name, h.PID(), err)
	}
	return nil
}

var _ Starter = (*ExecStarter)(nil)
var _ Handle = (*execHandle)(nil)

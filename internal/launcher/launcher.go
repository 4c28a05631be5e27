// Package launcher starts the producer/consumer ffmpeg pair of one stream slot.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/ciricc/go-stream-bench/internal/diag"
	"github.com/ciricc/go-stream-bench/internal/hwaccel"
	"github.com/ciricc/go-stream-bench/internal/proc"
)

const defaultTailLines = 20

var ErrLaunchFailure = errors.New("launch failure")

const (
	SideProducer = "producer"
	SideConsumer = "consumer"
)

// LaunchError is a process that did not survive startup. Tail holds the last
// lines of its output.
type LaunchError struct {
	SlotID int
	Side   string
	Tail   []string
	Err    error
}

func (e *LaunchError) Error() string {
	msg := fmt.Sprintf("slot %d: %s did not start: %v", e.SlotID, e.Side, e.Err)
	if len(e.Tail) > 0 {
		msg += ": " + e.Tail[len(e.Tail)-1]
	}
	return msg
}

func (e *LaunchError) Unwrap() error { return e.Err }

func (e *LaunchError) Is(target error) bool { return target == ErrLaunchFailure }

type Pair struct {
	Producer proc.Handle
	Consumer proc.Handle
}

// Tracker receives every handle right after it starts.
type Tracker interface {
	Track(h proc.Handle)
}

type Options struct {
	FFmpegPath string
	BasePort   int
	LogsDir    string
	Debug      bool
	// StartupGrace is waited after each process starts, before checking it is alive.
	StartupGrace time.Duration
	// VideoToolboxGrace is added for videotoolbox outside debug mode.
	VideoToolboxGrace time.Duration
	TailLines         int
}

type Launcher struct {
	opts            Options
	starter         proc.Starter
	tracker         Tracker
	startupDetector diag.Detector
	log             *slog.Logger
}

func New(opts Options, starter proc.Starter, tracker Tracker, log *slog.Logger) *Launcher {
	if opts.TailLines <= 0 {
		opts.TailLines = defaultTailLines
	}
	return &Launcher{
		opts:            opts,
		starter:         starter,
		tracker:         tracker,
		startupDetector: diag.NewSubstringDetector(diag.VideoToolboxStartupPatterns...),
		log:             log,
	}
}

func (l *Launcher) Endpoint(slotID int) string {
	return fmt.Sprintf("tcp://127.0.0.1:%d", l.opts.BasePort+slotID)
}

func (l *Launcher) Launch(ctx context.Context, slotID int, inputFile string, accel hwaccel.Config) (Pair, error) {
	producer, err := l.start(ctx, slotID, SideProducer, l.producerArgs(slotID, inputFile, accel))
	if err != nil {
		return Pair{}, err
	}
	if err := sleepCtx(ctx, l.opts.StartupGrace); err != nil {
		return Pair{}, err
	}

	if accel.Method == hwaccel.MethodVideoToolbox {
		lines, _ := diag.Tail(producer.LogPath(), l.opts.TailLines)
		if match, found := l.startupDetector.Detect(lines); found {
			return Pair{}, &LaunchError{SlotID: slotID, Side: SideProducer, Tail: lines, Err: fmt.Errorf("videotoolbox: %s", match)}
		}
		if !l.opts.Debug {
			if err := sleepCtx(ctx, l.opts.VideoToolboxGrace); err != nil {
				return Pair{}, err
			}
		}
	}
	if err := l.verify(slotID, SideProducer, producer); err != nil {
		return Pair{}, err
	}

	consumer, err := l.start(ctx, slotID, SideConsumer, l.consumerArgs(slotID, accel))
	if err != nil {
		return Pair{}, err
	}
	if err := sleepCtx(ctx, l.opts.StartupGrace); err != nil {
		return Pair{}, err
	}
	if err := l.verify(slotID, SideConsumer, consumer); err != nil {
		return Pair{}, err
	}

	l.log.DebugContext(ctx, "Stream pair started",
		"slot", slotID,
		"endpoint", l.Endpoint(slotID),
		"producer_pid", producer.PID(),
		"consumer_pid", consumer.PID())
	return Pair{Producer: producer, Consumer: consumer}, nil
}

func (l *Launcher) start(ctx context.Context, slotID int, side string, args []string) (proc.Handle, error) {
	l.log.DebugContext(ctx, "Starting process", "slot", slotID, "side", side, "cmd", commandLine(l.opts.FFmpegPath, args))
	h, err := l.starter.Start(ctx, proc.Spec{
		Name:    side,
		Path:    l.opts.FFmpegPath,
		Args:    args,
		LogPath: l.LogPath(slotID, side),
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &LaunchError{SlotID: slotID, Side: side, Err: err}
	}
	l.tracker.Track(h)
	return h, nil
}

func (l *Launcher) verify(slotID int, side string, h proc.Handle) error {
	if h.IsAlive() {
		return nil
	}
	lines, err := diag.Tail(h.LogPath(), l.opts.TailLines)
	if err != nil {
		l.log.Debug("Cannot read process log", "slot", slotID, "side", side, "error", err)
	}
	return &LaunchError{SlotID: slotID, Side: side, Tail: lines, Err: errors.New("process exited during startup")}
}

func (l *Launcher) LogPath(slotID int, side string) string {
	return filepath.Join(l.opts.LogsDir, fmt.Sprintf("%s_%d.log", side, slotID))
}

func (l *Launcher) logLevel() string {
	if l.opts.Debug {
		return "verbose"
	}
	return "info"
}

func (l *Launcher) producerArgs(slotID int, inputFile string, accel hwaccel.Config) []string {
	args := []string{"-hide_banner", "-nostdin", "-loglevel", l.logLevel()}
	if accel.Hardware() {
		args = append(args, "-hwaccel", accel.Method)
	}
	args = append(args,
		"-re",
		"-stream_loop", "-1",
		"-i", inputFile,
		"-c:v", accel.Encoder,
		"-an",
		"-f", "mpegts",
		l.Endpoint(slotID)+"?listen=1",
	)
	return args
}

func (l *Launcher) consumerArgs(slotID int, accel hwaccel.Config) []string {
	args := []string{"-hide_banner", "-nostdin", "-loglevel", l.logLevel()}
	if accel.Hardware() {
		args = append(args, "-hwaccel", accel.Method)
	}
	if accel.Decoder != "" {
		args = append(args, "-c:v", accel.Decoder)
	}
	return append(args, "-i", l.Endpoint(slotID), "-f", "null", "-")
}

func commandLine(path string, args []string) string {
	return path + " " + strings.Join(args, " ")
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

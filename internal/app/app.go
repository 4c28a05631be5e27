package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"

	"github.com/ciricc/go-stream-bench/internal/aggregate"
	"github.com/ciricc/go-stream-bench/internal/config"
	"github.com/ciricc/go-stream-bench/internal/controller"
	"github.com/ciricc/go-stream-bench/internal/diag"
	"github.com/ciricc/go-stream-bench/internal/health"
	"github.com/ciricc/go-stream-bench/internal/hostinfo"
	"github.com/ciricc/go-stream-bench/internal/hwaccel"
	"github.com/ciricc/go-stream-bench/internal/launcher"
	"github.com/ciricc/go-stream-bench/internal/metrics"
	"github.com/ciricc/go-stream-bench/internal/monitor"
	"github.com/ciricc/go-stream-bench/internal/probe"
	"github.com/ciricc/go-stream-bench/internal/proc"
	"github.com/ciricc/go-stream-bench/internal/reaper"
	"github.com/ciricc/go-stream-bench/internal/runid"
	"github.com/ciricc/go-stream-bench/internal/sampler"
	"github.com/ciricc/go-stream-bench/pkg/benchreport"
)

// ErrSetup wraps every failure that happens before the first trial.
var ErrSetup = errors.New("setup failed")

// serverStopTimeout bounds the shutdown of the status and metrics endpoints.
const serverStopTimeout = 2 * time.Second

// Deps replaces the host-facing collaborators. Nil fields get the real implementation.
type Deps struct {
	Starter  proc.Starter
	Sampler  sampler.Sampler
	Accel    hwaccel.Provider
	Probe    probe.Provider
	HostInfo func(ctx context.Context, hardwareAccel bool) hostinfo.Info
	Sweeper  reaper.Sweeper
	// Out receives progress and result lines. Defaults to stdout.
	Out io.Writer
}

type Application struct {
	Config config.Config
	RunID  string

	log        *slog.Logger
	out        io.Writer
	summary    benchreport.RunSummary
	controller *controller.Controller
	reaper     *reaper.Reaper

	runLog        *benchreport.Log
	persistentLog *benchreport.Log

	healthServer  *health.Server
	metricsServer *metrics.Server
}

func New(ctx context.Context, cfg config.Config, log *slog.Logger, deps Deps) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	deps = withDefaults(cfg, log, deps)

	if err := os.MkdirAll(cfg.LogsDir(), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create output dir: %v", ErrSetup, err)
	}
	id, err := runid.LoadOrCreate(cfg.RunIDPath())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSetup, err)
	}

	accel, err := deps.Accel.Detect(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSetup, err)
	}
	video, err := deps.Probe.Probe(ctx, cfg.InputFile)
	if err != nil {
		return nil, fmt.Errorf("%w: probe %s: %v", ErrSetup, cfg.InputFile, err)
	}
	host := deps.HostInfo(ctx, accel.Hardware())
	log.Info("Benchmark configured",
		"run_id", id,
		"hwaccel", accel.Method,
		"encoder", accel.Encoder,
		"decoder", accel.Decoder,
		"resolution", video.Resolution,
		"codec", video.Codec,
		"cpu", host.CPUName,
		"gpu", host.GPUName)

	a := &Application{
		Config: cfg,
		RunID:  id,
		log:    log,
		out:    deps.Out,
		summary: benchreport.RunSummary{
			RunID:                id,
			Host:                 benchreport.HostInfo{OS: runtime.GOOS, Arch: runtime.GOARCH, CPUName: host.CPUName, GPUName: host.GPUName},
			HWAccel:              benchreport.HWAccelInfo{Method: accel.Method, Encoder: accel.Encoder, Decoder: accel.Decoder},
			Video:                benchreport.VideoInfo{File: cfg.InputFile, Resolution: video.Resolution, FriendlyResolution: video.FriendlyResolution, Codec: video.Codec},
			MaxStreamsCeiling:    cfg.MaxStreams,
			TrialDurationSeconds: cfg.TrialDuration.Seconds(),
		},
	}

	if a.runLog, err = benchreport.CreateRunLog(cfg.RunLogPath()); err != nil {
		return nil, fmt.Errorf("%w: run log: %v", ErrSetup, err)
	}
	if a.persistentLog, err = benchreport.OpenPersistentLog(cfg.PersistentLogPath()); err != nil {
		_ = a.runLog.Close()
		return nil, fmt.Errorf("%w: persistent log: %v", ErrSetup, err)
	}

	status := monitor.NewStatus()
	collector := metrics.NewCollector(status, prometheus.Labels{"run_id": id})
	if err := a.startServers(status, collector); err != nil {
		a.Close()
		return nil, fmt.Errorf("%w: %v", ErrSetup, err)
	}

	tracker := reaper.NewTracker()
	a.reaper = reaper.New(tracker, reaper.Options{
		TerminateGrace: cfg.Delays.TerminateGrace,
		LogsDir:        cfg.LogsDir(),
		KeepLogs:       cfg.Debug,
		Sweeper:        deps.Sweeper,
	}, log)

	l := launcher.New(launcher.Options{
		FFmpegPath:        cfg.FFmpegPath,
		BasePort:          cfg.BasePort,
		LogsDir:           cfg.LogsDir(),
		Debug:             cfg.Debug,
		StartupGrace:      cfg.StartupGrace(),
		VideoToolboxGrace: cfg.Delays.VideoToolboxGrace,
	}, deps.Starter, tracker, log)

	m := monitor.New(monitor.Options{
		CheckInterval:  cfg.Delays.CheckInterval,
		SampleInterval: cfg.Delays.SampleInterval,
		Debug:          cfg.Debug,
		Progress:       deps.Out,
		Observer:       collector,
	}, deps.Sampler, diag.NewSubstringDetector(diag.RuntimeErrorPatterns...), status, log)

	agg := aggregate.New(a.runLog, a.persistentLog, deps.Sampler, log, aggregate.WithObserver(collector))

	a.controller = controller.New(controller.Options{
		InputFile:     cfg.InputFile,
		Accel:         accel,
		TrialDuration: cfg.TrialDuration,
		InterLaunch:   cfg.InterLaunchDelay(),
		RunContext: aggregate.RunContext{
			RunID:      id,
			VideoFile:  cfg.InputFile,
			CPUName:    host.CPUName,
			GPUName:    host.GPUName,
			Resolution: video.Resolution,
			InputCodec: video.Codec,
			Encoder:    accel.Encoder,
		},
		Out: deps.Out,
	}, l, m, agg, a.reaper, status, log)

	return a, nil
}

func withDefaults(cfg config.Config, log *slog.Logger, d Deps) Deps {
	if d.Starter == nil {
		d.Starter = proc.NewExecStarter()
	}
	if d.Sampler == nil {
		// iostat and procfs deltas need a window; one second keeps a sample short
		d.Sampler = sampler.NewHostSampler(time.Second, log)
	}
	if d.Accel == nil {
		d.Accel = hwaccel.NewFFmpegDetector(cfg.FFmpegPath, hwaccel.Config(cfg.HWAccel))
	}
	if d.Probe == nil {
		d.Probe = probe.NewFFprobe(cfg.FFprobePath)
	}
	if d.HostInfo == nil {
		d.HostInfo = hostinfo.Detect
	}
	if d.Sweeper == nil && cfg.Sweep {
		d.Sweeper = reaper.PkillSweeper{Pattern: EndpointPattern(cfg.BasePort, cfg.MaxStreams)}
	}
	if d.Out == nil {
		d.Out = os.Stdout
	}
	return d
}

// EndpointPattern matches the command line of any process bound to one of the
// benchmark's slot endpoints.
func EndpointPattern(basePort, maxStreams int) string {
	ports := lo.Times(maxStreams, func(i int) string { return strconv.Itoa(basePort + i) })
	return `tcp://127\.0\.0\.1:(` + strings.Join(ports, "|") + `)([^0-9]|$)`
}

func (a *Application) startServers(status *monitor.Status, collector *metrics.Collector) error {
	if addr := a.Config.StatusAddr; addr != "" {
		srv, err := health.Listen(addr, health.NewHealthChecker(status), a.log)
		if err != nil {
			return fmt.Errorf("status endpoint: %w", err)
		}
		a.healthServer = srv
		go srv.Serve()
	}
	if addr := a.Config.MetricsAddr; addr != "" {
		srv, err := metrics.Listen(addr, collector, a.log)
		if err != nil {
			return fmt.Errorf("metrics endpoint: %w", err)
		}
		a.metricsServer = srv
		go srv.Serve()
	}
	return nil
}

// Run executes the benchmark and always writes the run summary. A cancelled run
// returns controller.ErrInterrupted.
func (a *Application) Run(ctx context.Context) (controller.Outcome, error) {
	a.summary.StartedAtRFC3339 = time.Now().Format(time.RFC3339)
	fmt.Fprintf(a.out, "Benchmarking %s (%s %s) with %s, up to %d streams of %s each\n",
		a.Config.InputFile, a.summary.Video.Resolution, a.summary.Video.Codec,
		a.summary.HWAccel.Encoder, a.Config.MaxStreams, a.Config.TrialDuration)

	out, err := a.controller.Run(ctx, a.Config.MaxStreams)

	a.summary.Trials = out.Results
	a.summary.MaxSuccessfulStreams = out.MaxSuccessful
	a.summary.ReachedCeiling = out.ReachedCeiling
	a.summary.Interrupted = errors.Is(err, controller.ErrInterrupted)
	if err != nil && !a.summary.Interrupted {
		a.summary.Error = err.Error()
	}
	a.summary.Finish(time.Now())
	if werr := benchreport.WriteJSON(a.summary, a.Config.SummaryPath()); werr != nil {
		a.log.Error("Failed to write run summary", "path", a.Config.SummaryPath(), "error", werr)
		if err == nil {
			err = fmt.Errorf("write summary: %w", werr)
		}
	}
	return out, err
}

// Close reaps anything still running, stops the endpoints and closes the logs.
func (a *Application) Close() {
	if a.reaper != nil {
		a.reaper.Cleanup()
	}
	ctx, cancel := context.WithTimeout(context.Background(), serverStopTimeout)
	defer cancel()
	if a.healthServer != nil {
		a.healthServer.Stop(ctx)
	}
	if a.metricsServer != nil {
		a.metricsServer.Stop(ctx)
	}
	for _, l := range []*benchreport.Log{a.runLog, a.persistentLog} {
		if l == nil {
			continue
		}
		if err := l.Close(); err != nil {
			a.log.Warn("Failed to close log", "error", err)
		}
	}
}

var (
	_ controller.PairLauncher = (*launcher.Launcher)(nil)
	_ controller.SlotMonitor  = (*monitor.Monitor)(nil)
	_ controller.Summarizer   = (*aggregate.Aggregator)(nil)
	_ controller.Cleaner      = (*reaper.Reaper)(nil)
	_ controller.TrialTracker = (*monitor.Status)(nil)
	_ aggregate.TrialObserver = (*metrics.Collector)(nil)
	_ aggregate.Recorder      = (*benchreport.Log)(nil)
)

package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ciricc/go-stream-bench/internal/app"
	"github.com/ciricc/go-stream-bench/internal/config"
)

type rootFlags struct {
	configPath  string
	input       string
	output      string
	port        int
	maxStreams  int
	duration    int
	debug       bool
	ffmpeg      string
	ffprobe     string
	hwaccel     string
	encoder     string
	decoder     string
	statusAddr  string
	metricsAddr string
}

// RootCmd is the streambench command. Subcommands are registered here.
func RootCmd() *cobra.Command {
	return newRootCmd(&rootFlags{})
}

func newRootCmd(f *rootFlags) *cobra.Command {
	def := config.Default()

	cmd := &cobra.Command{
		Use:   "streambench",
		Short: "streambench finds how many concurrent ffmpeg streams this host sustains.",
		Long: "streambench runs trials of 1, 2, 3... producer/consumer ffmpeg pairs, each for a fixed\n" +
			"duration, and stops at the first trial in which any stream fails.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := f.resolve(cmd)
			if err != nil {
				return err
			}
			return runBenchmark(cmd, cfg)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.configPath, "config", "c", "", "yaml config file, flags override it")
	fl.StringVarP(&f.input, "input", "i", "", "input video file")
	fl.StringVarP(&f.output, "output", "o", def.OutputDir, "output directory")
	fl.IntVarP(&f.port, "port", "p", def.BasePort, "base TCP port, slot n uses port+n")
	fl.IntVarP(&f.maxStreams, "max-streams", "m", def.MaxStreams, "highest stream count to try")
	fl.IntVarP(&f.duration, "duration", "d", int(def.TrialDuration.Seconds()), "trial duration in seconds")
	fl.BoolVar(&f.debug, "debug", false, "keep process logs, verbose ffmpeg output and log scanning")
	fl.StringVar(&f.ffmpeg, "ffmpeg", def.FFmpegPath, "ffmpeg binary")
	fl.StringVar(&f.ffprobe, "ffprobe", def.FFprobePath, "ffprobe binary")
	fl.StringVar(&f.hwaccel, "hwaccel", "", "force a -hwaccel method (none for software)")
	fl.StringVar(&f.encoder, "encoder", "", "force the video encoder")
	fl.StringVar(&f.decoder, "decoder", "", "force the video decoder")
	fl.StringVar(&f.statusAddr, "status-addr", "", "serve gRPC health on this address")
	fl.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	cmd.AddCommand(historyCmd())
	return cmd
}

// resolve loads the config file when given and overlays explicitly set flags.
func (f *rootFlags) resolve(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		var err error
		if cfg, err = config.Load(f.configPath); err != nil {
			return cfg, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
		}
	}

	fl := cmd.Flags()
	set := func(name string, apply func()) {
		if fl.Changed(name) {
			apply()
		}
	}
	set("input", func() { cfg.InputFile = f.input })
	set("output", func() { cfg.OutputDir = f.output })
	set("port", func() { cfg.BasePort = f.port })
	set("max-streams", func() { cfg.MaxStreams = f.maxStreams })
	set("duration", func() { cfg.TrialDuration = time.Duration(f.duration) * time.Second })
	set("debug", func() { cfg.Debug = f.debug })
	set("ffmpeg", func() { cfg.FFmpegPath = f.ffmpeg })
	set("ffprobe", func() { cfg.FFprobePath = f.ffprobe })
	set("hwaccel", func() { cfg.HWAccel.Method = f.hwaccel })
	set("encoder", func() { cfg.HWAccel.Encoder = f.encoder })
	set("decoder", func() { cfg.HWAccel.Decoder = f.decoder })
	set("status-addr", func() { cfg.StatusAddr = f.statusAddr })
	set("metrics-addr", func() { cfg.MetricsAddr = f.metricsAddr })

	return cfg, cfg.Validate()
}

func runBenchmark(cmd *cobra.Command, cfg config.Config) error {
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := app.CreateContextWithShutdown(cmd.Context())
	defer stop()
	application, err := app.New(ctx, cfg, log, app.Deps{Out: cmd.OutOrStdout()})
	if err != nil {
		return err
	}
	defer application.Close()

	_, err = application.Run(ctx)
	return err
}

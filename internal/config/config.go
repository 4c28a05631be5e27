package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid config")

// Delays groups every pacing interval used by a run. Each one is tunable on its own.
type Delays struct {
	// StartupGrace is how long a freshly started process must survive before it counts as up.
	StartupGrace time.Duration `yaml:"startup_grace"`
	// DebugStartupGrace replaces StartupGrace in diagnostic mode.
	DebugStartupGrace time.Duration `yaml:"debug_startup_grace"`
	// VideoToolboxGrace is added on top of the startup grace for videotoolbox outside diagnostic mode.
	VideoToolboxGrace time.Duration `yaml:"videotoolbox_grace"`
	InterLaunch       time.Duration `yaml:"inter_launch"`
	DebugInterLaunch  time.Duration `yaml:"debug_inter_launch"`
	CheckInterval     time.Duration `yaml:"check_interval"`
	SampleInterval    time.Duration `yaml:"sample_interval"`
	// TerminateGrace is how long the reaper waits between SIGTERM and SIGKILL.
	TerminateGrace time.Duration `yaml:"terminate_grace"`
}

type HWAccel struct {
	Method  string `yaml:"method"`
	Encoder string `yaml:"encoder"`
	Decoder string `yaml:"decoder"`
}

type Config struct {
	InputFile     string        `yaml:"input_file"`
	OutputDir     string        `yaml:"output_dir"`
	BasePort      int           `yaml:"base_port"`
	MaxStreams    int           `yaml:"max_streams"`
	TrialDuration time.Duration `yaml:"trial_duration"`
	Debug         bool          `yaml:"debug"`

	FFmpegPath  string `yaml:"ffmpeg_path"`
	FFprobePath string `yaml:"ffprobe_path"`

	// HWAccel overrides detection field by field when set.
	HWAccel HWAccel `yaml:"hwaccel"`

	Delays Delays `yaml:"delays"`

	// Sweep enables the pkill pass for processes the tracker lost.
	Sweep bool `yaml:"sweep"`

	StatusAddr  string `yaml:"status_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
}

func Default() Config {
	return Config{
		OutputDir:     "benchmark_results",
		BasePort:      12345,
		MaxStreams:    20,
		TrialDuration: 60 * time.Second,
		FFmpegPath:    "ffmpeg",
		FFprobePath:   "ffprobe",
		Sweep:         true,
		Delays: Delays{
			StartupGrace:      3 * time.Second,
			DebugStartupGrace: time.Second,
			VideoToolboxGrace: 2 * time.Second,
			InterLaunch:       2 * time.Second,
			DebugInterLaunch:  500 * time.Millisecond,
			CheckInterval:     5 * time.Second,
			SampleInterval:    10 * time.Second,
			TerminateGrace:    2 * time.Second,
		},
	}
}

// Load reads a yaml file on top of Default. Keys missing from the file keep their defaults.
func Load(path string) (Config, error) {
	c := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("parse %s: %w", path, err)
	}
	return c, nil
}

func (c Config) Validate() error {
	switch {
	case c.InputFile == "":
		return fmt.Errorf("%w: input file is required", ErrInvalidConfig)
	case c.OutputDir == "":
		return fmt.Errorf("%w: output dir is required", ErrInvalidConfig)
	case c.MaxStreams < 1:
		return fmt.Errorf("%w: max streams must be at least 1, got %d", ErrInvalidConfig, c.MaxStreams)
	case c.BasePort < 1 || c.BasePort+c.MaxStreams-1 > 65535:
		return fmt.Errorf("%w: ports %d..%d out of range", ErrInvalidConfig, c.BasePort, c.BasePort+c.MaxStreams-1)
	case c.TrialDuration <= 0:
		return fmt.Errorf("%w: trial duration must be positive", ErrInvalidConfig)
	case c.Delays.CheckInterval <= 0 || c.Delays.SampleInterval <= 0:
		return fmt.Errorf("%w: check and sample intervals must be positive", ErrInvalidConfig)
	case c.Delays.StartupGrace < 0 || c.Delays.DebugStartupGrace < 0 || c.Delays.VideoToolboxGrace < 0 ||
		c.Delays.InterLaunch < 0 || c.Delays.DebugInterLaunch < 0 || c.Delays.TerminateGrace < 0:
		return fmt.Errorf("%w: delays must not be negative", ErrInvalidConfig)
	}
	if _, err := os.Stat(c.InputFile); err != nil {
		return fmt.Errorf("%w: input file: %v", ErrInvalidConfig, err)
	}
	return nil
}

func (c Config) StartupGrace() time.Duration {
	if c.Debug {
		return c.Delays.DebugStartupGrace
	}
	return c.Delays.StartupGrace
}

func (c Config) InterLaunchDelay() time.Duration {
	if c.Debug {
		return c.Delays.DebugInterLaunch
	}
	return c.Delays.InterLaunch
}

func (c Config) Port(slotID int) int {
	return c.BasePort + slotID
}

func (c Config) LogsDir() string           { return filepath.Join(c.OutputDir, "logs") }
func (c Config) RunLogPath() string        { return filepath.Join(c.OutputDir, "results.csv") }
func (c Config) PersistentLogPath() string { return filepath.Join(c.OutputDir, "benchmark_history.csv") }
func (c Config) SummaryPath() string       { return filepath.Join(c.OutputDir, "summary.json") }
func (c Config) RunIDPath() string         { return filepath.Join(c.OutputDir, "run_id") }

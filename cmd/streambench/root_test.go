package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ciricc/go-stream-bench/internal/config"
	"github.com/ciricc/go-stream-bench/internal/controller"
	"github.com/ciricc/go-stream-bench/pkg/benchreport"
)

func resolveArgs(t *testing.T, args ...string) (config.Config, error) {
	t.Helper()
	f := &rootFlags{}
	cmd := newRootCmd(f)
	require.NoError(t, cmd.ParseFlags(args))
	return f.resolve(cmd)
}

func inputFile(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "in.mp4")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	return p
}

func TestResolve_FlagsOverDefaults(t *testing.T) {
	in := inputFile(t)
	cfg, err := resolveArgs(t, "--input", in, "--port", "20000", "-m", "4", "-d", "15", "--debug", "--encoder", "libx264")
	require.NoError(t, err)

	assert.Equal(t, in, cfg.InputFile)
	assert.Equal(t, 20000, cfg.BasePort)
	assert.Equal(t, 4, cfg.MaxStreams)
	assert.Equal(t, 15*time.Second, cfg.TrialDuration)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "libx264", cfg.HWAccel.Encoder)
	assert.Equal(t, "benchmark_results", cfg.OutputDir)
}

func TestResolve_FileThenFlags(t *testing.T) {
	in := inputFile(t)
	path := filepath.Join(t.TempDir(), "bench.yaml")
	require.NoError(t, os.WriteFile(path, []byte("input_file: "+in+"\nmax_streams: 8\nbase_port: 30000\n"), 0o644))

	cfg, err := resolveArgs(t, "--config", path, "--max-streams", "3")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.MaxStreams, "explicit flag wins")
	assert.Equal(t, 30000, cfg.BasePort, "file value kept when flag not set")
	assert.Equal(t, in, cfg.InputFile)
}

func TestResolve_Invalid(t *testing.T) {
	_, err := resolveArgs(t, "--input", filepath.Join(t.TempDir(), "missing.mp4"))
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	_, err = resolveArgs(t, "--input", inputFile(t), "--max-streams", "0")
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	_, err = resolveArgs(t, "--config", filepath.Join(t.TempDir(), "none.yaml"))
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitOK, exitCode(nil))
	assert.Equal(t, exitInterrupted, exitCode(controller.ErrInterrupted))
	assert.Equal(t, exitFailure, exitCode(config.ErrInvalidConfig))
}

func TestRun_MissingInputFails(t *testing.T) {
	assert.Equal(t, exitFailure, run([]string{"--output", t.TempDir()}))
}

func TestHistoryCmd(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.OutputDir = dir
	l, err := benchreport.OpenPersistentLog(cfg.PersistentLogPath())
	require.NoError(t, err)
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for n := 1; n <= 3; n++ {
		r := benchreport.TrialResult{Iteration: n, RequestedStreams: n, ActiveCount: n, RunID: "r1", Encoder: "h264_nvenc", Resolution: "1920x1080", Timestamp: ts}
		if n == 3 {
			r.ActiveCount, r.FailedCount = 2, 1
		}
		require.NoError(t, l.Append(r.PersistentRecord()))
	}
	require.NoError(t, l.Close())

	cmd := RootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"history", "--output", dir})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "1) 2 streams  encoder=h264_nvenc resolution=1920x1080")
	assert.Contains(t, out.String(), "trials=3 run=r1")
}

func TestHistoryCmd_Empty(t *testing.T) {
	cmd := RootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"history", "--output", t.TempDir()})
	assert.Error(t, cmd.Execute())
}

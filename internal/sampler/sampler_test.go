package sampler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ciricc/go-stream-bench/internal/model/sample"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type failingSampler struct{}

func (failingSampler) Sample(context.Context) (sample.Sample, error) {
	return sample.Sample{}, ErrMetricUnavailable
}

func TestSampleOrDefault_FallsBack(t *testing.T) {
	s := SampleOrDefault(context.Background(), failingSampler{}, discardLogger())
	assert.Equal(t, DefaultReadIOPS, s.ReadIOPS)
	assert.Equal(t, DefaultWriteIOPS, s.WriteIOPS)
	assert.Equal(t, DefaultCPUPercent, s.CPUPercent)
	assert.False(t, s.Timestamp.IsZero())
}

func TestRates(t *testing.T) {
	t0 := time.Unix(1000, 0)
	a := snapshot{at: t0, readIOs: 100, writeIOs: 50, cpuBusy: 10, cpuTotal: 100}
	b := snapshot{at: t0.Add(2 * time.Second), readIOs: 300, writeIOs: 70, cpuBusy: 40, cpuTotal: 200}

	s := rates(a, b)
	assert.Equal(t, 100, s.ReadIOPS)
	assert.Equal(t, 10, s.WriteIOPS)
	assert.InDelta(t, 30.0, s.CPUPercent, 0.001)
	assert.Equal(t, b.at, s.Timestamp)
}

func TestRates_CounterReset(t *testing.T) {
	t0 := time.Unix(1000, 0)
	s := rates(snapshot{at: t0, readIOs: 500}, snapshot{at: t0.Add(time.Second), readIOs: 10})
	assert.Equal(t, 0, s.ReadIOPS)
	assert.Equal(t, 0.0, s.CPUPercent)
}

func fakeHost(t *testing.T) (procDir, sysDir string) {
	t.Helper()
	root := t.TempDir()
	procDir = filepath.Join(root, "proc")
	sysDir = filepath.Join(root, "sys")
	require.NoError(t, os.MkdirAll(procDir, 0o755))
	for _, d := range []string{"sda", "nvme0n1", "loop0"} {
		require.NoError(t, os.MkdirAll(filepath.Join(sysDir, "block", d), 0o755))
	}
	// kernel 5.5+ layout: 17 counters after the device name
	diskstats := "" +
		"   8       0 sda 1000 0 0 0 400 0 0 0 0 0 0 0 0 0 0 0 0\n" +
		"   8       1 sda1 900 0 0 0 300 0 0 0 0 0 0 0 0 0 0 0 0\n" +
		" 259       0 nvme0n1 20 0 0 0 5 0 0 0 0 0 0 0 0 0 0 0 0\n" +
		"   7       0 loop0 77777 0 0 0 77777 0 0 0 0 0 0 0 0 0 0 0 0\n"
	require.NoError(t, os.WriteFile(filepath.Join(procDir, "diskstats"), []byte(diskstats), 0o644))
	stat := "cpu  100 0 50 800 50 0 0 0 0 0\ncpu0 100 0 50 800 50 0 0 0 0 0\n"
	require.NoError(t, os.WriteFile(filepath.Join(procDir, "stat"), []byte(stat), 0o644))
	return procDir, sysDir
}

func TestProcfsSampler_SnapshotSkipsPartitionsAndVirtualDevices(t *testing.T) {
	procDir, sysDir := fakeHost(t)
	s, err := NewProcfsSampler(procDir, sysDir, 10*time.Millisecond)
	require.NoError(t, err)

	snap, err := s.snapshot()
	require.NoError(t, err)
	assert.Equal(t, uint64(1020), snap.readIOs)
	assert.Equal(t, uint64(405), snap.writeIOs)
	assert.Positive(t, snap.cpuTotal)
	assert.Less(t, snap.cpuBusy, snap.cpuTotal)
}

func TestProcfsSampler_Sample(t *testing.T) {
	procDir, sysDir := fakeHost(t)
	s, err := NewProcfsSampler(procDir, sysDir, 10*time.Millisecond)
	require.NoError(t, err)

	smp, err := s.Sample(context.Background())
	require.NoError(t, err)
	// counters did not move between reads
	assert.Equal(t, 0, smp.ReadIOPS)
	assert.Equal(t, 0, smp.WriteIOPS)
}

func TestProcfsSampler_MissingDiskstats(t *testing.T) {
	procDir, sysDir := fakeHost(t)
	require.NoError(t, os.Remove(filepath.Join(procDir, "diskstats")))
	s, err := NewProcfsSampler(procDir, sysDir, time.Millisecond)
	require.NoError(t, err)

	_, err = s.Sample(context.Background())
	assert.ErrorIs(t, err, ErrMetricUnavailable)
}

const iostatOutput = `              disk0               disk4       cpu    load average
    KB/t  tps  MB/s     KB/t  tps  MB/s  us sy id   1m   5m   15m
   22.23   18  0.39    10.00    2  0.00   5  3 92  1.95 2.02 2.05
   16.00   40  0.06     0.00    3  0.00  20 10 70  1.95 2.02 2.05
`

func TestParseIostat(t *testing.T) {
	tps, idle, err := parseIostat(iostatOutput)
	require.NoError(t, err)
	assert.Equal(t, 43.0, tps)
	assert.Equal(t, 70.0, idle)

	_, _, err = parseIostat("garbage")
	assert.Error(t, err)
}

func TestIostatSampler(t *testing.T) {
	s := NewIostatSampler("iostat", 1500*time.Millisecond)
	var gotArgs []string
	s.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		gotArgs = args
		return []byte(iostatOutput), nil
	}

	smp, err := s.Sample(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"-c", "2", "-w", "2"}, gotArgs)
	assert.Equal(t, 43, smp.ReadIOPS+smp.WriteIOPS)
	assert.InDelta(t, 30.0, smp.CPUPercent, 0.001)

	s.run = func(context.Context, string, ...string) ([]byte, error) { return nil, errors.New("exec: not found") }
	_, err = s.Sample(context.Background())
	assert.ErrorIs(t, err, ErrMetricUnavailable)
}

package benchreport

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResult() TrialResult {
	return TrialResult{
		Iteration:        2,
		RequestedStreams: 2,
		ActiveCount:      2,
		FailedCount:      0,
		CPUUsage:         41.26,
		CPUName:          "Intel(R) Xeon(R), 2.20GHz",
		GPUName:          "NVIDIA GeForce RTX 4070",
		Resolution:       "1920x1080",
		InputCodec:       "h264",
		Encoder:          "h264_nvenc",
		AvgReadIOPS:      12.5,
		AvgWriteIOPS:     3,
		RunID:            "abc123",
		VideoFile:        "clips/big,buck\nbunny.mp4",
		Timestamp:        time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC),
	}
}

// lines reads a log the way a naive consumer would: split every line on commas.
func lines(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var out [][]string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		out = append(out, strings.Split(sc.Text(), ","))
	}
	require.NoError(t, sc.Err())
	return out
}

func TestHeaders(t *testing.T) {
	assert.Len(t, RunLogHeader, 14)
	assert.Len(t, PersistentLogHeader, 15)
	assert.Equal(t, "Timestamp", PersistentLogHeader[14])
	assert.Equal(t, RunLogHeader, PersistentLogHeader[:14])
}

func TestRecords_FixedFieldCount(t *testing.T) {
	r := sampleResult()
	run := r.RunRecord()
	require.Len(t, run, 14)
	assert.Equal(t, "41.3", run[4])
	assert.Equal(t, "Intel(R) Xeon(R)  2.20GHz", run[5])
	assert.Equal(t, "12.50", run[10])
	assert.Equal(t, "clips/big buck bunny.mp4", run[13])

	p := r.PersistentRecord()
	require.Len(t, p, 15)
	assert.Equal(t, "2026-10-14T12:00:00Z", p[14])
}

func TestLogs_NaiveSplitYieldsHeaderWidth(t *testing.T) {
	dir := t.TempDir()
	runPath := filepath.Join(dir, "results.csv")
	histPath := filepath.Join(dir, "benchmark_history.csv")

	runLog, err := CreateRunLog(runPath)
	require.NoError(t, err)
	hist, err := OpenPersistentLog(histPath)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		r := sampleResult()
		r.Iteration = i
		require.NoError(t, runLog.Append(r.RunRecord()))
		require.NoError(t, hist.Append(r.PersistentRecord()))
	}
	require.NoError(t, runLog.Close())
	require.NoError(t, hist.Close())

	runLines := lines(t, runPath)
	require.Len(t, runLines, 4)
	for _, l := range runLines {
		assert.Len(t, l, 14)
	}
	histLines := lines(t, histPath)
	require.Len(t, histLines, 4)
	for _, l := range histLines {
		assert.Len(t, l, 15)
	}
}

func TestLogs_RunLogReplacedPersistentAccumulates(t *testing.T) {
	dir := t.TempDir()
	runPath := filepath.Join(dir, "results.csv")
	histPath := filepath.Join(dir, "benchmark_history.csv")

	for run := 0; run < 2; run++ {
		runLog, err := CreateRunLog(runPath)
		require.NoError(t, err)
		hist, err := OpenPersistentLog(histPath)
		require.NoError(t, err)
		r := sampleResult()
		require.NoError(t, runLog.Append(r.RunRecord()))
		require.NoError(t, hist.Append(r.PersistentRecord()))
		require.NoError(t, runLog.Close())
		require.NoError(t, hist.Close())
	}

	assert.Len(t, lines(t, runPath), 2, "header + one record")
	assert.Len(t, lines(t, histPath), 3, "one header + two records")
}

func TestLog_RejectsWrongWidth(t *testing.T) {
	l, err := CreateRunLog(filepath.Join(t.TempDir(), "results.csv"))
	require.NoError(t, err)
	defer l.Close()
	assert.ErrorIs(t, l.Append(sampleResult().PersistentRecord()), ErrFieldCount)
}

func TestReadPersistentLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "benchmark_history.csv")
	hist, err := OpenPersistentLog(path)
	require.NoError(t, err)
	want := sampleResult()
	require.NoError(t, hist.Append(want.PersistentRecord()))
	require.NoError(t, hist.Close())

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("garbage,line\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	got, skipped, err := ReadPersistentLog(path)
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	require.Len(t, got, 1)
	assert.Equal(t, want.Iteration, got[0].Iteration)
	assert.Equal(t, "Intel(R) Xeon(R)  2.20GHz", got[0].CPUName)
	assert.Equal(t, 12.5, got[0].AvgReadIOPS)
	assert.True(t, want.Timestamp.Equal(got[0].Timestamp))
}

func TestBestByConfiguration(t *testing.T) {
	mk := func(runID, enc string, n, failed int) TrialResult {
		return TrialResult{RunID: runID, Encoder: enc, Resolution: "1920x1080", RequestedStreams: n, ActiveCount: n - failed, FailedCount: failed}
	}
	best := BestByConfiguration([]TrialResult{
		mk("a", "h264_nvenc", 1, 0), mk("a", "h264_nvenc", 2, 0), mk("a", "h264_nvenc", 3, 1),
		mk("b", "libx264", 1, 0), mk("b", "libx264", 2, 0), mk("b", "libx264", 3, 0), mk("b", "libx264", 4, 0),
		mk("c", "h264_qsv", 1, 1),
	})
	require.Len(t, best, 3)
	assert.Equal(t, "b", best[0].RunID)
	assert.Equal(t, 4, best[0].MaxStreams)
	assert.Equal(t, 2, best[1].MaxStreams)
	assert.Equal(t, 3, best[1].Trials)
	assert.Equal(t, 0, best[2].MaxStreams)
}

func TestWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "summary.json")
	s := RunSummary{RunID: "abc", MaxSuccessfulStreams: 3, ReachedCeiling: true, Trials: []TrialResult{sampleResult()}}
	s.Finish(time.Date(2026, 10, 14, 13, 0, 0, 0, time.UTC))
	require.NoError(t, WriteJSON(s, path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var got RunSummary
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, 3, got.MaxSuccessfulStreams)
	assert.True(t, got.ReachedCeiling)
	assert.Equal(t, "2026-10-14T13:00:00Z", got.FinishedAtRFC3339)
	assert.Len(t, got.Trials, 1)
}

package sampler

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/ciricc/go-stream-bench/internal/model/sample"
)

type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// IostatSampler reads macOS iostat. BSD iostat only reports total transfers per
// second, so they are split evenly between read and write.
type IostatSampler struct {
	path   string
	window time.Duration
	run    commandRunner
}

func NewIostatSampler(path string, window time.Duration) *IostatSampler {
	return &IostatSampler{path: path, window: window, run: execOutput}
}

func (s *IostatSampler) Sample(ctx context.Context) (sample.Sample, error) {
	secs := int(math.Max(1, math.Round(s.window.Seconds())))
	// the first report is the average since boot, the second covers the window
	out, err := s.run(ctx, s.path, "-c", "2", "-w", strconv.Itoa(secs))
	if err != nil {
		return sample.Sample{}, fmt.Errorf("%w: iostat: %v", ErrMetricUnavailable, err)
	}
	tps, idle, err := parseIostat(string(out))
	if err != nil {
		return sample.Sample{}, fmt.Errorf("%w: %v", ErrMetricUnavailable, err)
	}
	read := int(math.Round(tps / 2))
	return sample.Sample{
		Timestamp:  time.Now(),
		ReadIOPS:   read,
		WriteIOPS:  int(math.Round(tps)) - read,
		CPUPercent: math.Max(0, 100-idle),
	}, nil
}

// parseIostat sums every tps column of the last report line and returns the cpu idle column.
func parseIostat(out string) (tps float64, idle float64, err error) {
	var columns []string
	var last []string
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		switch {
		case fields[0] == "KB/t":
			columns = fields
		case columns != nil && len(fields) == len(columns):
			last = fields
		}
	}
	if columns == nil || last == nil {
		return 0, 0, fmt.Errorf("unexpected iostat output: %q", out)
	}

	idleIdx := -1
	for i, name := range columns {
		switch name {
		case "tps":
			v, err := strconv.ParseFloat(last[i], 64)
			if err != nil {
				return 0, 0, fmt.Errorf("parse tps %q: %w", last[i], err)
			}
			tps += v
		case "id":
			idleIdx = i
		}
	}
	if idleIdx >= 0 {
		v, err := strconv.ParseFloat(last[idleIdx], 64)
		if err != nil {
			return 0, 0, fmt.Errorf("parse cpu idle %q: %w", last[idleIdx], err)
		}
		idle = v
	} else {
		idle = 100
	}
	return tps, idle, nil
}

var _ Sampler = (*IostatSampler)(nil)

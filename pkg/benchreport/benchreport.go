// Package benchreport defines the per-trial record and the run summary written by streambench.
package benchreport

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RunLogHeader is the header of the run-scoped log.
var RunLogHeader = []string{
	"TestIteration", "StreamCount", "ActiveStreams", "FailedStreams",
	"CPUUsage", "CPUName", "GPUName", "Resolution", "InputCodec", "Encoder",
	"AvgReadIOPS", "AvgWriteIOPS", "RunID", "VideoFile",
}

// PersistentLogHeader is RunLogHeader plus the trial timestamp.
var PersistentLogHeader = append(append([]string(nil), RunLogHeader...), "Timestamp")

type TrialResult struct {
	Iteration        int       `json:"iteration"`
	RequestedStreams int       `json:"requested_streams"`
	ActiveCount      int       `json:"active_count"`
	FailedCount      int       `json:"failed_count"`
	CPUUsage         float64   `json:"cpu_usage_percent"`
	CPUName          string    `json:"cpu_name"`
	GPUName          string    `json:"gpu_name"`
	Resolution       string    `json:"resolution"`
	InputCodec       string    `json:"input_codec"`
	Encoder          string    `json:"encoder"`
	AvgReadIOPS      float64   `json:"avg_read_iops"`
	AvgWriteIOPS     float64   `json:"avg_write_iops"`
	RunID            string    `json:"run_id"`
	VideoFile        string    `json:"video_file"`
	Timestamp        time.Time `json:"timestamp"`
}

// Passed reports whether every requested stream survived the trial.
func (r TrialResult) Passed() bool {
	return r.FailedCount == 0
}

// RunRecord returns the 14 run-log fields.
func (r TrialResult) RunRecord() []string {
	return []string{
		strconv.Itoa(r.Iteration),
		strconv.Itoa(r.RequestedStreams),
		strconv.Itoa(r.ActiveCount),
		strconv.Itoa(r.FailedCount),
		formatFloat(r.CPUUsage, 1),
		sanitize(r.CPUName),
		sanitize(r.GPUName),
		sanitize(r.Resolution),
		sanitize(r.InputCodec),
		sanitize(r.Encoder),
		formatFloat(r.AvgReadIOPS, 2),
		formatFloat(r.AvgWriteIOPS, 2),
		sanitize(r.RunID),
		sanitize(r.VideoFile),
	}
}

// PersistentRecord returns the 15 persistent-log fields.
func (r TrialResult) PersistentRecord() []string {
	return append(r.RunRecord(), r.Timestamp.UTC().Format(time.RFC3339))
}

// ParsePersistentRecord is the inverse of PersistentRecord.
func ParsePersistentRecord(fields []string) (TrialResult, error) {
	if len(fields) != len(PersistentLogHeader) {
		return TrialResult{}, fmt.Errorf("want %d fields, got %d", len(PersistentLogHeader), len(fields))
	}
	var (
		r    TrialResult
		errs []error
	)
	atoi := func(s string) int {
		v, err := strconv.Atoi(s)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	atof := func(s string) float64 {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	r.Iteration = atoi(fields[0])
	r.RequestedStreams = atoi(fields[1])
	r.ActiveCount = atoi(fields[2])
	r.FailedCount = atoi(fields[3])
	r.CPUUsage = atof(fields[4])
	r.CPUName = fields[5]
	r.GPUName = fields[6]
	r.Resolution = fields[7]
	r.InputCodec = fields[8]
	r.Encoder = fields[9]
	r.AvgReadIOPS = atof(fields[10])
	r.AvgWriteIOPS = atof(fields[11])
	r.RunID = fields[12]
	r.VideoFile = fields[13]
	ts, err := time.Parse(time.RFC3339, fields[14])
	if err != nil {
		errs = append(errs, err)
	}
	r.Timestamp = ts
	if len(errs) > 0 {
		return TrialResult{}, fmt.Errorf("parse record: %w", errs[0])
	}
	return r, nil
}

func formatFloat(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}

var fieldReplacer = strings.NewReplacer(",", " ", "\n", " ", "\r", " ", `"`, "")

// sanitize keeps a value to one comma-free field so a plain split always
// yields the header's field count.
func sanitize(s string) string {
	return strings.TrimSpace(fieldReplacer.Replace(s))
}

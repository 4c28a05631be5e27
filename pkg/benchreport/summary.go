package benchreport

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

type VideoInfo struct {
	File               string `json:"file"`
	Resolution         string `json:"resolution"`
	FriendlyResolution string `json:"friendly_resolution"`
	Codec              string `json:"codec"`
}

type HWAccelInfo struct {
	Method  string `json:"method"`
	Encoder string `json:"encoder"`
	Decoder string `json:"decoder"`
}

type HostInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	CPUName string `json:"cpu_name"`
	GPUName string `json:"gpu_name"`
}

// RunSummary describes one whole benchmark invocation.
type RunSummary struct {
	RunID                string        `json:"run_id"`
	StartedAtRFC3339     string        `json:"started_at_rfc3339"`
	FinishedAtRFC3339    string        `json:"finished_at_rfc3339"`
	Host                 HostInfo      `json:"host"`
	HWAccel              HWAccelInfo   `json:"hwaccel"`
	Video                VideoInfo     `json:"video"`
	MaxStreamsCeiling    int           `json:"max_streams_ceiling"`
	TrialDurationSeconds float64       `json:"trial_duration_seconds"`
	Trials               []TrialResult `json:"trials"`
	MaxSuccessfulStreams int           `json:"max_successful_streams"`
	// ReachedCeiling means every trial up to the ceiling passed; capacity may be higher.
	ReachedCeiling bool   `json:"reached_ceiling"`
	Interrupted    bool   `json:"interrupted"`
	Error          string `json:"error,omitempty"`
}

func (s *RunSummary) Finish(at time.Time) {
	s.FinishedAtRFC3339 = at.Format(time.RFC3339)
}

// WriteJSON writes the summary, creating the parent directory when needed.
func WriteJSON(s RunSummary, outPath string) error {
	if dir := filepath.Dir(outPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

package sample

import "time"

// Sample is one host resource reading taken during a trial.
type Sample struct {
	Timestamp  time.Time
	ReadIOPS   int
	WriteIOPS  int
	CPUPercent float64
}

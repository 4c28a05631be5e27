package benchreport

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

var ErrFieldCount = errors.New("field count does not match header")

// Log is an append-only comma separated file with a fixed header.
type Log struct {
	mu    sync.Mutex
	f     *os.File
	w     *csv.Writer
	width int
}

// CreateRunLog truncates path and writes the run-log header.
func CreateRunLog(path string) (*Log, error) {
	return openLog(path, RunLogHeader, os.O_CREATE|os.O_WRONLY|os.O_TRUNC)
}

// OpenPersistentLog appends to path, writing the header only when the file is new or empty.
func OpenPersistentLog(path string) (*Log, error) {
	return openLog(path, PersistentLogHeader, os.O_CREATE|os.O_WRONLY|os.O_APPEND)
}

func openLog(path string, header []string, flag int) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	l := &Log{f: f, w: csv.NewWriter(f), width: len(header)}
	if st.Size() == 0 {
		if err := l.Append(header); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return l, nil
}

func (l *Log) Append(fields []string) error {
	if len(fields) != l.width {
		return fmt.Errorf("%w: want %d, got %d", ErrFieldCount, l.width, len(fields))
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.w.Write(fields); err != nil {
		return err
	}
	l.w.Flush()
	return l.w.Error()
}

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		_ = l.f.Close()
		return err
	}
	return l.f.Close()
}

// ReadPersistentLog loads every well-formed record of a persistent log.
// Malformed lines are skipped and counted.
func ReadPersistentLog(path string) (results []TrialResult, skipped int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	first := true
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			skipped++
			continue
		}
		if first {
			first = false
			if len(rec) > 0 && rec[0] == PersistentLogHeader[0] {
				continue
			}
		}
		res, err := ParsePersistentRecord(rec)
		if err != nil {
			skipped++
			continue
		}
		results = append(results, res)
	}
	return results, skipped, nil
}

// Best is the highest passing stream count seen for one run id, encoder and resolution.
type Best struct {
	RunID      string
	CPUName    string
	GPUName    string
	Encoder    string
	Resolution string
	VideoFile  string
	MaxStreams int
	Trials     int
}

// BestByConfiguration groups results and keeps the highest passing stream count,
// sorted by MaxStreams descending.
func BestByConfiguration(results []TrialResult) []Best {
	type key struct{ runID, encoder, resolution string }
	byKey := map[key]*Best{}
	var order []key
	for _, r := range results {
		k := key{r.RunID, r.Encoder, r.Resolution}
		b, ok := byKey[k]
		if !ok {
			b = &Best{RunID: r.RunID, CPUName: r.CPUName, GPUName: r.GPUName, Encoder: r.Encoder, Resolution: r.Resolution, VideoFile: r.VideoFile}
			byKey[k] = b
			order = append(order, k)
		}
		b.Trials++
		if r.Passed() && r.RequestedStreams > b.MaxStreams {
			b.MaxStreams = r.RequestedStreams
		}
	}
	out := make([]Best, 0, len(order))
	for _, k := range order {
		out = append(out, *byKey[k])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].MaxStreams > out[j].MaxStreams })
	return out
}

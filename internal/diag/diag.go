// Package diag reads the tails of per-process ffmpeg logs and classifies them.
//
// Classification is text matching on human-readable output. It misses failures
// ffmpeg reports with wording outside the pattern list (false negatives) and
// flags harmless lines that happen to contain a pattern (false positives).
// Callers only use it as a secondary signal next to process liveness.
package diag

import (
	"errors"
	"io"
	"os"
	"strings"
)

// tailWindow bounds how much of a log file is read from the end.
const tailWindow = 64 * 1024

// Detector finds a known error in process output.
type Detector interface {
	Detect(lines []string) (match string, found bool)
}

// SubstringDetector matches any of Patterns as a plain substring.
type SubstringDetector struct {
	Patterns []string
}

func NewSubstringDetector(patterns ...string) *SubstringDetector {
	return &SubstringDetector{Patterns: patterns}
}

func (d *SubstringDetector) Detect(lines []string) (string, bool) {
	for _, line := range lines {
		for _, p := range d.Patterns {
			if strings.Contains(line, p) {
				return line, true
			}
		}
	}
	return "", false
}

// RuntimeErrorPatterns are ffmpeg messages that mean a stream is broken even though
// the process is still running.
var RuntimeErrorPatterns = []string{
	"Conversion failed",
	"Error while decoding",
	"error while decoding",
	"Error while processing the decoded data",
	"Invalid data found when processing input",
	"Connection refused",
	"Broken pipe",
	"Error submitting",
	"Hardware is lacking required capabilities",
}

// VideoToolboxStartupPatterns are early producer messages of a videotoolbox session
// that failed to initialize.
var VideoToolboxStartupPatterns = []string{
	"Error while opening encoder",
	"Could not open encoder",
	"Error initializing output stream",
	"Error creating compression session",
	"cannot create compression session",
	"Device does not support",
}

// Tail returns at most n trailing lines of the file at path.
// A missing file is not an error: it has no lines.
func Tail(path string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	seeked := st.Size() > tailWindow
	if seeked {
		if _, err := f.Seek(-tailWindow, io.SeekEnd); err != nil {
			return nil, err
		}
	}

	window, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	// ffmpeg ends progress lines with a bare carriage return
	var lines []string
	for _, part := range strings.FieldsFunc(string(window), func(r rune) bool { return r == '\n' || r == '\r' }) {
		if strings.TrimSpace(part) == "" {
			continue
		}
		lines = append(lines, part)
	}
	// the first line of a window cut from the middle is partial
	if seeked && len(lines) > 1 {
		lines = lines[1:]
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

var _ Detector = (*SubstringDetector)(nil)

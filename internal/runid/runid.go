// Package runid keeps the benchmark host's stable run identifier on disk.
package runid

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidRunID = errors.New("invalid run id")

// Generate hashes a nanosecond clock reading and a random UUID into 64 hex characters.
func Generate(now time.Time) string {
	seed := strconv.FormatInt(now.UnixNano(), 10) + "-" + uuid.NewString()
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}

// LoadOrCreate returns the id stored at path, generating and persisting one on first use.
func LoadOrCreate(path string) (string, error) {
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		id := strings.TrimSpace(string(b))
		if !valid(id) {
			return "", fmt.Errorf("%w in %s: %q", ErrInvalidRunID, path, id)
		}
		return id, nil
	case !errors.Is(err, os.ErrNotExist):
		return "", fmt.Errorf("read run id: %w", err)
	}

	id := Generate(time.Now())
	if err := writeAtomic(path, []byte(id+"\n")); err != nil {
		return "", fmt.Errorf("persist run id: %w", err)
	}
	return id, nil
}

func valid(id string) bool {
	if len(id) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(id)
	return err == nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".run_id-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

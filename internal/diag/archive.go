// Package diag holds optional debugging aids that are off in normal
// operation.
package diag

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
)

// WAVArchiver writes every utterance it receives to dir as a mono 16-bit WAV
// file named <conn>-<timestamp>-<seq>.wav.
type WAVArchiver struct {
	dir string
	seq atomic.Uint64
	now func() time.Time
}

// NewWAVArchiver creates dir if needed.
func NewWAVArchiver(dir string) (*WAVArchiver, error) {
	if dir == "" {
		return nil, fmt.Errorf("diag: archive directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("diag: create archive directory: %w", err)
	}
	return &WAVArchiver{dir: dir, now: time.Now}, nil
}

// Dir returns the archive directory.
func (a *WAVArchiver) Dir() string { return a.dir }

// Archive writes samples and returns the file path.
func (a *WAVArchiver) Archive(connID string, samples []int16, sampleRate int) (string, error) {
	name := fmt.Sprintf("%s-%s-%04d.wav",
		safeName(connID),
		a.now().UTC().Format("20060102T150405.000"),
		a.seq.Add(1),
	)
	path := filepath.Join(a.dir, name)
	if err := audio.WriteWAVFile(path, samples, sampleRate); err != nil {
		return "", err
	}
	return path, nil
}

// safeName keeps letters, digits, '-' and '_'.
func safeName(s string) string {
	if s == "" {
		return "conn"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}

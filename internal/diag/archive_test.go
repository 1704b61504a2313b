package diag

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
)

func TestWAVArchiver_Archive(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "utterances")
	a, err := NewWAVArchiver(dir)
	if err != nil {
		t.Fatalf("NewWAVArchiver: %v", err)
	}
	a.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }

	samples := []int16{0, 100, -100, 32767, -32768}
	path, err := a.Archive("10.0.0.1:5000", samples, 16000)
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if want := "10_0_0_1_5000-20260304T050607.000-0001.wav"; filepath.Base(path) != want {
		t.Errorf("file = %q, want %q", filepath.Base(path), want)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	got, rate, err := audio.ReadWAV(f)
	if err != nil {
		t.Fatalf("ReadWAV: %v", err)
	}
	if rate != 16000 || !slices.Equal(got, samples) {
		t.Errorf("read back %v at %d, want %v at 16000", got, rate, samples)
	}

	second, _ := a.Archive("", samples, 16000)
	if !strings.HasPrefix(filepath.Base(second), "conn-") || !strings.HasSuffix(second, "-0002.wav") {
		t.Errorf("second file = %q", second)
	}
}

func TestNewWAVArchiver_EmptyDir(t *testing.T) {
	if _, err := NewWAVArchiver(""); err == nil {
		t.Fatal("expected error for empty dir")
	}
}

package audio_test

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/MrWong99/earshot/pkg/audio"
)

func TestWAVBytes_Header(t *testing.T) {
	pcm := audio.Int16ToBytes([]int16{1, 2, 3, 4})
	wav := audio.WAVBytes(pcm, 16000)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("len = %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Fatalf("bad chunk ids: %q %q %q", wav[0:4], wav[8:12], wav[36:40])
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 16000 {
		t.Errorf("sample rate = %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint16(wav[22:24]); got != 1 {
		t.Errorf("channels = %d, want 1", got)
	}
	if !bytes.Equal(wav[44:], pcm) {
		t.Error("payload differs from input PCM")
	}
}

func TestReadWAV_DecodesInMemoryContainer(t *testing.T) {
	samples := []int16{100, -100, 2000, -2000, 0, 5}
	wav := audio.WAVBytes(audio.Int16ToBytes(samples), 8000)

	got, rate, err := audio.ReadWAV(bytes.NewReader(wav))
	if err != nil {
		t.Fatalf("ReadWAV: %v", err)
	}
	if rate != 8000 {
		t.Errorf("rate = %d, want 8000", rate)
	}
	if !slices.Equal(got, samples) {
		t.Errorf("samples = %v, want %v", got, samples)
	}
}

func TestWriteWAVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "utt.wav")
	samples := []int16{1, -1, 300, -300}

	if err := audio.WriteWAVFile(path, samples, 16000); err != nil {
		t.Fatalf("WriteWAVFile: %v", err)
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
	if rate != 16000 {
		t.Errorf("rate = %d, want 16000", rate)
	}
	if !slices.Equal(got, samples) {
		t.Errorf("samples = %v, want %v", got, samples)
	}
}

func TestReadWAV_RejectsGarbage(t *testing.T) {
	if _, _, err := audio.ReadWAV(bytes.NewReader([]byte("not a wav file at all"))); err == nil {
		t.Fatal("expected error for invalid input")
	}
}

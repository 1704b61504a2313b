package whisper_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/provider/stt/whisper"
)

func TestNewNative_BadModelPath(t *testing.T) {
	for _, path := range []string{"", "/nonexistent/ggml-base.en.bin"} {
		if _, err := whisper.NewNative(path); err == nil {
			t.Errorf("NewNative(%q) succeeded", path)
		}
	}
}

// TestNative runs against the model named by WHISPER_MODEL_PATH and needs a
// cgo build linked against libwhisper.
func TestNative(t *testing.T) {
	path := os.Getenv("WHISPER_MODEL_PATH")
	if path == "" {
		t.Skip("WHISPER_MODEL_PATH not set")
	}
	p, err := whisper.NewNative(path,
		whisper.WithNativeLanguage("en"),
		whisper.WithNativeThreads(2),
		whisper.WithNativePrompt("Kitchen, Garage, Living Room"),
	)
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	t.Cleanup(func() {
		if err := p.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
		if err := p.Close(); err != nil {
			t.Errorf("second Close: %v", err)
		}
	})

	t.Run("silence at 48kHz", func(t *testing.T) {
		tr, err := p.NewTranscriber(context.Background())
		if err != nil {
			t.Fatalf("NewTranscriber: %v", err)
		}
		defer tr.Close()

		res, err := tr.Transcribe(context.Background(), make([]int16, 48000), 48000)
		if err != nil {
			t.Fatalf("Transcribe: %v", err)
		}
		t.Logf("silence: %q (confidence %.2f)", res.Text, res.Confidence)
		if len(res.Text) > 64 || res.Confidence < 0 || res.Confidence > 1 {
			t.Errorf("transcript = %+v", res)
		}
	})

	t.Run("closed transcriber", func(t *testing.T) {
		tr, _ := p.NewTranscriber(context.Background())
		_ = tr.Close()
		if _, err := tr.Transcribe(context.Background(), make([]int16, 160), 16000); !errors.Is(err, stt.ErrClosed) {
			t.Fatalf("err = %v, want stt.ErrClosed", err)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		tr, _ := p.NewTranscriber(context.Background())
		defer tr.Close()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := tr.Transcribe(ctx, make([]int16, 160), 16000); !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	})
}

package leopard_test

import (
	"context"
	"os"
	"testing"

	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/provider/stt/leopard"
)

func TestNew_EmptyAccessKey(t *testing.T) {
	if _, err := leopard.New(""); err == nil {
		t.Fatal("expected error for empty access key")
	}
}

// TestTranscribe_Silence needs a Picovoice access key in PICO_API_KEY.
func TestTranscribe_Silence(t *testing.T) {
	key := os.Getenv("PICO_API_KEY")
	if key == "" {
		t.Skip("PICO_API_KEY not set; skipping Leopard integration test")
	}

	p, err := leopard.New(key)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	tr, err := p.NewTranscriber(context.Background())
	if err != nil {
		t.Fatalf("NewTranscriber: %v", err)
	}

	res, err := tr.Transcribe(context.Background(), make([]int16, 32000), 32000)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "" {
		t.Errorf("Text = %q, want empty for silence", res.Text)
	}

	_ = tr.Close()
	if _, err := tr.Transcribe(context.Background(), make([]int16, 16), 16000); err != stt.ErrClosed {
		t.Errorf("err after Close = %v, want stt.ErrClosed", err)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

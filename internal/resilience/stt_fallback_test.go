package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/earshot/pkg/provider/stt"
	sttmock "github.com/MrWong99/earshot/pkg/provider/stt/mock"
)

func newSTTFallback(primary, secondary *sttmock.Provider) *STTFallback {
	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)
	return fb
}

func TestSTTFallback_PrimarySuccess(t *testing.T) {
	pt := &sttmock.Transcriber{Result: stt.Transcript{Text: "from primary"}}
	st := &sttmock.Transcriber{Result: stt.Transcript{Text: "from secondary"}}
	fb := newSTTFallback(&sttmock.Provider{Transcriber: pt}, &sttmock.Provider{Transcriber: st})

	tr, err := fb.NewTranscriber(context.Background())
	if err != nil {
		t.Fatalf("NewTranscriber: %v", err)
	}
	res, err := tr.Transcribe(context.Background(), []int16{1, 2, 3}, 16000)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "from primary" {
		t.Errorf("Text = %q, want from primary", res.Text)
	}
	if len(st.Calls()) != 0 {
		t.Errorf("secondary called %d times, want 0", len(st.Calls()))
	}

	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !pt.Closed() || !st.Closed() {
		t.Error("Close did not close every backend transcriber")
	}
}

func TestSTTFallback_Failover(t *testing.T) {
	pt := &sttmock.Transcriber{TranscribeErr: errors.New("primary down")}
	st := &sttmock.Transcriber{Result: stt.Transcript{Text: "from secondary"}}
	fb := newSTTFallback(&sttmock.Provider{Transcriber: pt}, &sttmock.Provider{Transcriber: st})

	tr, _ := fb.NewTranscriber(context.Background())
	res, err := tr.Transcribe(context.Background(), []int16{1}, 16000)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "from secondary" {
		t.Errorf("Text = %q, want from secondary", res.Text)
	}
	if len(pt.Calls()) != 1 {
		t.Errorf("primary called %d times, want 1", len(pt.Calls()))
	}
}

func TestSTTFallback_BackendNotOpenedIsSkipped(t *testing.T) {
	st := &sttmock.Transcriber{Result: stt.Transcript{Text: "ok"}}
	fb := newSTTFallback(&sttmock.Provider{NewTranscriberErr: errors.New("no model")}, &sttmock.Provider{Transcriber: st})

	tr, err := fb.NewTranscriber(context.Background())
	if err != nil {
		t.Fatalf("NewTranscriber: %v", err)
	}
	res, err := tr.Transcribe(context.Background(), []int16{1}, 16000)
	if err != nil || res.Text != "ok" {
		t.Fatalf("Transcribe = (%q, %v), want (ok, nil)", res.Text, err)
	}
}

func TestSTTFallback_AllFail(t *testing.T) {
	fb := newSTTFallback(
		&sttmock.Provider{NewTranscriberErr: errors.New("a")},
		&sttmock.Provider{NewTranscriberErr: errors.New("b")},
	)
	_, err := fb.NewTranscriber(context.Background())
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}

	fb = newSTTFallback(
		&sttmock.Provider{Transcriber: &sttmock.Transcriber{TranscribeErr: errors.New("a")}},
		&sttmock.Provider{Transcriber: &sttmock.Transcriber{TranscribeErr: errors.New("b")}},
	)
	tr, _ := fb.NewTranscriber(context.Background())
	if _, err := tr.Transcribe(context.Background(), []int16{1}, 16000); !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestSTTFallback_Each(t *testing.T) {
	fb := newSTTFallback(&sttmock.Provider{}, &sttmock.Provider{})
	var names []string
	fb.Each(func(name string, state State) {
		names = append(names, name+"="+state.String())
	})
	if len(names) != 2 || names[0] != "primary=closed" || names[1] != "secondary=closed" {
		t.Errorf("Each = %v", names)
	}
}

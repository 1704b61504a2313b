package webhook_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/earshot/internal/resilience"
	"github.com/MrWong99/earshot/pkg/provider/sink"
	"github.com/MrWong99/earshot/pkg/provider/sink/webhook"
)

func TestNew_EmptyURL(t *testing.T) {
	if _, err := webhook.New(""); err == nil {
		t.Fatal("expected error for empty url")
	}
}

func TestDeliver_PostsPrompt(t *testing.T) {
	var got map[string]any
	var contentType, auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		contentType = r.Header.Get("Content-Type")
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s, err := webhook.New(srv.URL, webhook.WithBearerToken("tok"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	err = s.Deliver(context.Background(), sink.Result{Text: "turn off the fan", ConnectionID: "c1"})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if got["prompt"] != "turn off the fan" {
		t.Errorf("prompt = %v", got["prompt"])
	}
	if _, ok := got["connection_id"]; ok {
		t.Error("metadata sent without WithMetadata")
	}
	if contentType != "application/json" {
		t.Errorf("Content-Type = %q", contentType)
	}
	if auth != "Bearer tok" {
		t.Errorf("Authorization = %q", auth)
	}
}

func TestDeliver_WithMetadata(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	s, _ := webhook.New(srv.URL, webhook.WithMetadata())
	err := s.Deliver(context.Background(), sink.Result{
		Text:          "Lights on.",
		RawText:       "lights on",
		ConnectionID:  "c9",
		KeywordIndex:  0,
		AudioDuration: 1500 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if got["connection_id"] != "c9" || got["raw_text"] != "lights on" {
		t.Errorf("metadata = %v", got)
	}
	// keyword 0 must still be present.
	if v, ok := got["keyword_index"]; !ok || v.(float64) != 0 {
		t.Errorf("keyword_index = %v (present %v)", v, ok)
	}
	if got["audio_duration_ms"].(float64) != 1500 {
		t.Errorf("audio_duration_ms = %v", got["audio_duration_ms"])
	}
}

func TestDeliver_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s, _ := webhook.New(srv.URL)
	if err := s.Deliver(context.Background(), sink.Result{Text: "x"}); err == nil {
		t.Fatal("expected error for HTTP 502")
	}
}

func TestDeliver_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	s, _ := webhook.New(srv.URL, webhook.WithTimeout(50*time.Millisecond))
	start := time.Now()
	if err := s.Deliver(context.Background(), sink.Result{Text: "x"}); err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Deliver took %v, want about 50ms", elapsed)
	}
}

func TestDeliver_CircuitOpensAfterFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s, _ := webhook.New(srv.URL, webhook.WithCircuitBreaker(resilience.CircuitBreakerConfig{
		MaxFailures:  2,
		ResetTimeout: time.Hour,
	}))

	for range 2 {
		_ = s.Deliver(context.Background(), sink.Result{Text: "x"})
	}
	if err := s.Ping(context.Background()); err == nil {
		t.Error("Ping: expected error while circuit is open")
	}

	err := s.Deliver(context.Background(), sink.Result{Text: "x"})
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("server calls = %d, want 2", n)
	}
}

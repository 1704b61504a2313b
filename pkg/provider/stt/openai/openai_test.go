package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/provider/stt/openai"
)

type seen struct {
	model    string
	language string
	prompt   string
	filename string
	auth     string
}

func newServer(t *testing.T, status int, text string, calls *atomic.Int32, got *seen) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			http.NotFound(w, r)
			return
		}
		calls.Add(1)
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if got != nil {
			_, hdr, _ := r.FormFile("file")
			*got = seen{
				model:    r.FormValue("model"),
				language: r.FormValue("language"),
				prompt:   r.FormValue("prompt"),
				auth:     r.Header.Get("Authorization"),
			}
			if hdr != nil {
				got.filename = hdr.Filename
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]string{"text": text})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := openai.New("", ""); err == nil {
		t.Fatal("expected error for empty api key")
	}
}

func TestTranscribe(t *testing.T) {
	var calls atomic.Int32
	var got seen
	srv := newServer(t, http.StatusOK, " Close the blinds. ", &calls, &got)

	p, err := openai.New("sk-test", "",
		openai.WithBaseURL(srv.URL+"/"),
		openai.WithLanguage("en"),
		openai.WithVocabulary("blinds", "patio"),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tr, err := p.NewTranscriber(context.Background())
	if err != nil {
		t.Fatalf("NewTranscriber: %v", err)
	}
	defer tr.Close()

	res, err := tr.Transcribe(context.Background(), make([]int16, 1600), 16000)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "Close the blinds." {
		t.Errorf("Text = %q", res.Text)
	}
	if got.model != string(openai.DefaultModel) {
		t.Errorf("model = %q, want %q", got.model, openai.DefaultModel)
	}
	if got.language != "en" {
		t.Errorf("language = %q, want en", got.language)
	}
	if got.prompt != "blinds, patio" {
		t.Errorf("prompt = %q", got.prompt)
	}
	if got.filename != "audio.wav" {
		t.Errorf("filename = %q, want audio.wav", got.filename)
	}
	if got.auth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", got.auth)
	}
}

func TestTranscribe_ServerErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := newServer(t, http.StatusInternalServerError, "", &calls, nil)

	p, _ := openai.New("sk-test", "", openai.WithBaseURL(srv.URL+"/"))
	tr, _ := p.NewTranscriber(context.Background())
	defer tr.Close()

	if _, err := tr.Transcribe(context.Background(), make([]int16, 160), 16000); err == nil {
		t.Fatal("expected error for HTTP 500")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("server calls = %d, want 1", n)
	}
}

func TestTranscribe_AfterClose(t *testing.T) {
	p, _ := openai.New("sk-test", "", openai.WithBaseURL("http://127.0.0.1:1/"))
	tr, _ := p.NewTranscriber(context.Background())
	_ = tr.Close()
	if _, err := tr.Transcribe(context.Background(), nil, 16000); err != stt.ErrClosed {
		t.Fatalf("err = %v, want stt.ErrClosed", err)
	}
}

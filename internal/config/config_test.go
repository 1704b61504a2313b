package config_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/pkg/provider/sink"
	sinkmock "github.com/MrWong99/earshot/pkg/provider/sink/mock"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	sttmock "github.com/MrWong99/earshot/pkg/provider/stt/mock"
	"github.com/MrWong99/earshot/pkg/provider/wakeword"
	wakemock "github.com/MrWong99/earshot/pkg/provider/wakeword/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9000"
  log_level: debug
  audio_path: /ws/voice
  allowed_origins: ["*.local"]
  max_sessions: 8

voice:
  silence_threshold: 80
  grace_period: 1s
  max_recording_duration: 15s
  encoding: opus

providers:
  wakeword:
    name: porcupine
    api_key: pico-test
    options:
      keyword_paths: [hey-house.ppn, computer.ppn]
      sensitivity: 0.6
  transcriber:
    name: whisper
    base_url: http://localhost:8081
    model: base.en
  transcriber_fallbacks:
    - name: openai
      api_key: sk-test
  sink:
    name: webhook
    base_url: http://localhost:5678/prompt

transcript:
  vocabulary: [Kitchen, Living Room]
  fuzzy_threshold: 0.9

diagnostics:
  save_utterances_dir: /tmp/earshot
  log_audio_stats: true
`

func mustLoad(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

// ── tests ────────────────────────────────────────────────────────────────────

func TestLoadFromReader_Sample(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, sampleYAML)

	if cfg.Server.ListenAddr != ":9000" || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Server.AudioPath != "/ws/voice" || cfg.Server.MaxSessions != 8 {
		t.Errorf("server = %+v", cfg.Server)
	}
	if !slices.Equal(cfg.Server.AllowedOrigins, []string{"*.local"}) {
		t.Errorf("allowed_origins = %v", cfg.Server.AllowedOrigins)
	}

	v := cfg.Voice
	if v.SilenceThreshold != 80 || v.GracePeriod != time.Second || v.MaxRecordingDuration != 15*time.Second {
		t.Errorf("voice = %+v", v)
	}
	if v.Encoding != config.EncodingOpus {
		t.Errorf("encoding = %q", v.Encoding)
	}
	// Unset fields keep their defaults.
	if v.SilenceDuration != 500*time.Millisecond || v.SecondaryGracePeriod != 500*time.Millisecond {
		t.Errorf("silence defaults lost: %+v", v)
	}
	if v.TranscribeTimeout != 30*time.Second || v.DeliverTimeout != 5*time.Second {
		t.Errorf("timeout defaults lost: %+v", v)
	}

	p := cfg.Providers
	if p.Wakeword.Name != "porcupine" || p.Wakeword.APIKey != "pico-test" {
		t.Errorf("wakeword = %+v", p.Wakeword)
	}
	if got := p.Wakeword.OptStrings("keyword_paths"); !slices.Equal(got, []string{"hey-house.ppn", "computer.ppn"}) {
		t.Errorf("keyword_paths = %v", got)
	}
	if got := p.Wakeword.OptFloat("sensitivity", 1); got != 0.6 {
		t.Errorf("sensitivity = %v", got)
	}
	if p.Transcriber.Name != "whisper" || p.Transcriber.Model != "base.en" {
		t.Errorf("transcriber = %+v", p.Transcriber)
	}
	if len(p.TranscriberFallbacks) != 1 || p.TranscriberFallbacks[0].Name != "openai" {
		t.Errorf("fallbacks = %+v", p.TranscriberFallbacks)
	}
	if p.Sink.BaseURL != "http://localhost:5678/prompt" {
		t.Errorf("sink = %+v", p.Sink)
	}

	if !slices.Equal(cfg.Transcript.Vocabulary, []string{"Kitchen", "Living Room"}) || cfg.Transcript.FuzzyThreshold != 0.9 {
		t.Errorf("transcript = %+v", cfg.Transcript)
	}
	if cfg.Diagnostics.SaveUtterancesDir != "/tmp/earshot" || !cfg.Diagnostics.LogAudioStats {
		t.Errorf("diagnostics = %+v", cfg.Diagnostics)
	}
}

func TestDefault(t *testing.T) {
	t.Parallel()
	cfg := config.Default()

	if cfg.Server.ListenAddr != ":8000" || cfg.Server.AudioPath != "/ws/audio" {
		t.Errorf("server defaults = %+v", cfg.Server)
	}
	v := cfg.Voice
	want := config.VoiceConfig{
		SilenceThreshold:     60,
		SilenceDuration:      500 * time.Millisecond,
		GracePeriod:          750 * time.Millisecond,
		SecondaryGracePeriod: 500 * time.Millisecond,
		MaxRecordingDuration: 10 * time.Second,
		TranscribeTimeout:    30 * time.Second,
		DeliverTimeout:       5 * time.Second,
		Encoding:             config.EncodingPCM16,
	}
	if v != want {
		t.Errorf("voice defaults = %+v, want %+v", v, want)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server:\n  listen_adr: \":1\"\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestProviderEntry_Options(t *testing.T) {
	t.Parallel()
	e := config.ProviderEntry{Options: map[string]any{
		"str":     "x",
		"num":     3,
		"float":   0.5,
		"flag":    true,
		"timeout": "2s",
		"badtime": "soon",
		"list":    []any{"a", 1},
		"single":  "only",
	}}

	if e.OptString("str") != "x" || e.OptString("num") != "3" || e.OptString("missing") != "" {
		t.Error("OptString")
	}
	if e.OptInt("num", 0) != 3 || e.OptInt("float", 0) != 0 || e.OptInt("missing", 7) != 7 {
		t.Error("OptInt")
	}
	if e.OptFloat("float", 0) != 0.5 || e.OptFloat("num", 0) != 3 || e.OptFloat("str", 9) != 9 {
		t.Error("OptFloat")
	}
	if !e.OptBool("flag", false) || !e.OptBool("missing", true) {
		t.Error("OptBool")
	}
	if e.OptDuration("timeout", 0) != 2*time.Second || e.OptDuration("badtime", time.Minute) != time.Minute {
		t.Error("OptDuration")
	}
	if got := e.OptStrings("list"); !slices.Equal(got, []string{"a", "1"}) {
		t.Errorf("OptStrings(list) = %v", got)
	}
	if got := e.OptStrings("single"); !slices.Equal(got, []string{"only"}) {
		t.Errorf("OptStrings(single) = %v", got)
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	wp := &wakemock.Provider{}
	tp := &sttmock.Provider{}
	sk := &sinkmock.Sink{}
	reg.RegisterWakeword("mock", func(e config.ProviderEntry) (wakeword.Provider, error) { return wp, nil })
	reg.RegisterTranscriber("mock", func(e config.ProviderEntry) (stt.Provider, error) { return tp, nil })
	reg.RegisterSink("mock", func(_ context.Context, e config.ProviderEntry) (sink.Sink, error) {
		if e.BaseURL == "" {
			return nil, errors.New("no destination")
		}
		return sk, nil
	})

	if got, err := reg.CreateWakeword(config.ProviderEntry{Name: "mock"}); err != nil || got != wp {
		t.Errorf("CreateWakeword = %v, %v", got, err)
	}
	if got, err := reg.CreateTranscriber(config.ProviderEntry{Name: "mock"}); err != nil || got != tp {
		t.Errorf("CreateTranscriber = %v, %v", got, err)
	}
	if got, err := reg.CreateSink(context.Background(), config.ProviderEntry{Name: "mock", BaseURL: "x"}); err != nil || got != sk {
		t.Errorf("CreateSink = %v, %v", got, err)
	}
	if _, err := reg.CreateSink(context.Background(), config.ProviderEntry{Name: "mock"}); err == nil {
		t.Error("factory error not returned")
	}

	for _, kind := range []string{"wakeword", "transcriber", "sink"} {
		if got := reg.Names(kind); !slices.Equal(got, []string{"mock"}) {
			t.Errorf("Names(%s) = %v", kind, got)
		}
	}

	_, err := reg.CreateWakeword(config.ProviderEntry{Name: "nope"})
	if !errors.Is(err, config.ErrProviderNotRegistered) || !strings.Contains(err.Error(), "(registered: mock)") {
		t.Errorf("unknown wakeword err = %v", err)
	}
	if got := reg.Names("vad"); got != nil {
		t.Errorf("Names(vad) = %v", got)
	}
	_, err = reg.CreateTranscriber(config.ProviderEntry{Name: "nope"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("unknown transcriber err = %v", err)
	}
	_, err = reg.CreateSink(context.Background(), config.ProviderEntry{Name: "nope"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("unknown sink err = %v", err)
	}
}

// Package config provides the configuration schema, loader, and provider
// registry for the earshot server.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity for the earshot server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to its slog level. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Encoding is the format voice clients send audio in.
type Encoding string

const (
	// EncodingPCM16 is raw little-endian 16-bit mono PCM.
	EncodingPCM16 Encoding = "pcm16"

	// EncodingOpus is one Opus packet per websocket message.
	EncodingOpus Encoding = "opus"
)

// IsValid reports whether e is a recognised encoding.
func (e Encoding) IsValid() bool {
	return e == EncodingPCM16 || e == EncodingOpus
}

// Config is the root configuration structure for earshot.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Voice       VoiceConfig       `yaml:"voice"`
	Providers   ProvidersConfig   `yaml:"providers"`
	Transcript  TranscriptConfig  `yaml:"transcript"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8000").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// AudioPath is the websocket endpoint voice clients connect to.
	AudioPath string `yaml:"audio_path"`

	// ReadLimit caps the size of one inbound websocket message in bytes.
	ReadLimit int64 `yaml:"read_limit"`

	// AllowedOrigins lists host patterns accepted for cross-origin websocket
	// upgrades. Same-origin and non-browser clients are always accepted.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// MaxSessions caps concurrent voice connections. 0 means unlimited.
	MaxSessions int `yaml:"max_sessions"`

	// ShutdownTimeout bounds graceful shutdown, including dispatches still in
	// flight.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// VoiceConfig holds the recording and dispatch parameters applied to every
// connection.
type VoiceConfig struct {
	// SilenceThreshold is the RMS amplitude at or below which a chunk counts
	// as silence.
	SilenceThreshold float64 `yaml:"silence_threshold"`

	// SilenceDuration is the trailing silence that ends an utterance, on top
	// of SecondaryGracePeriod.
	SilenceDuration time.Duration `yaml:"silence_duration"`

	// GracePeriod after the wake word during which silence is ignored.
	GracePeriod time.Duration `yaml:"grace_period"`

	// SecondaryGracePeriod extends SilenceDuration.
	SecondaryGracePeriod time.Duration `yaml:"secondary_grace_period"`

	// MaxRecordingDuration ends a recording unconditionally.
	MaxRecordingDuration time.Duration `yaml:"max_recording_duration"`

	// TranscribeTimeout bounds one transcription.
	TranscribeTimeout time.Duration `yaml:"transcribe_timeout"`

	// DeliverTimeout bounds one sink delivery.
	DeliverTimeout time.Duration `yaml:"deliver_timeout"`

	// Encoding of inbound audio.
	Encoding Encoding `yaml:"encoding"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each field selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	Wakeword    ProviderEntry `yaml:"wakeword"`
	Transcriber ProviderEntry `yaml:"transcriber"`

	// TranscriberFallbacks are tried in order when the primary transcriber
	// fails or its circuit breaker is open.
	TranscriberFallbacks []ProviderEntry `yaml:"transcriber_fallbacks"`

	Sink ProviderEntry `yaml:"sink"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "porcupine", "whisper").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint. For sinks this is
	// the destination (webhook URL or PostgreSQL DSN).
	BaseURL string `yaml:"base_url"`

	// Model selects a model or model file within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or lists.
	Options map[string]any `yaml:"options"`
}

// TranscriptConfig configures vocabulary correction of transcripts.
type TranscriptConfig struct {
	// Vocabulary lists the terms transcripts are corrected towards (device
	// names, rooms). Empty disables correction.
	Vocabulary []string `yaml:"vocabulary"`

	// PhoneticThreshold is the minimum similarity for a candidate that
	// sounds like a vocabulary term. 0 uses the matcher default.
	PhoneticThreshold float64 `yaml:"phonetic_threshold"`

	// FuzzyThreshold is the minimum similarity for a spelling-only match.
	// 0 uses the matcher default.
	FuzzyThreshold float64 `yaml:"fuzzy_threshold"`
}

// DiagnosticsConfig holds debugging aids.
type DiagnosticsConfig struct {
	// SaveUtterancesDir, when set, receives a WAV file of every dispatched
	// utterance.
	SaveUtterancesDir string `yaml:"save_utterances_dir"`

	// LogAudioStats logs sample statistics of every utterance at debug level.
	LogAudioStats bool `yaml:"log_audio_stats"`

	// ReloadInterval is how often the config file is polled for changes to
	// the log level and vocabulary. 0 disables polling; SIGHUP still
	// reloads.
	ReloadInterval time.Duration `yaml:"reload_interval"`

	// TraceSampleRatio is the fraction of root spans recorded, in [0, 1].
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

// Default returns a configuration with every default applied and no
// providers selected.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      ":8000",
			LogLevel:        LogInfo,
			AudioPath:       "/ws/audio",
			ReadLimit:       512 << 10,
			ShutdownTimeout: 40 * time.Second,
		},
		Voice: VoiceConfig{
			SilenceThreshold:     60,
			SilenceDuration:      500 * time.Millisecond,
			GracePeriod:          750 * time.Millisecond,
			SecondaryGracePeriod: 500 * time.Millisecond,
			MaxRecordingDuration: 10 * time.Second,
			TranscribeTimeout:    30 * time.Second,
			DeliverTimeout:       5 * time.Second,
			Encoding:             EncodingPCM16,
		},
		Diagnostics: DiagnosticsConfig{
			TraceSampleRatio: 1,
		},
	}
}

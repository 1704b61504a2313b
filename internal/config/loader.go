package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"wakeword":    {"porcupine", "energy"},
	"transcriber": {"whisper", "whisper-native", "openai", "deepgram", "leopard"},
	"sink":        {"webhook", "postgres", "log"},
}

// apiKeyEnv maps provider names to the environment variable holding their
// API key.
var apiKeyEnv = map[string]string{
	"porcupine": "PICO_API_KEY",
	"leopard":   "PICO_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"deepgram":  "DEEPGRAM_API_KEY",
}

// baseURLEnv maps sink names to the environment variable holding their
// destination.
var baseURLEnv = map[string]string{
	"webhook":  "EARSHOT_SINK_URL",
	"postgres": "EARSHOT_POSTGRES_DSN",
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default], fills
// secrets from the environment with [ApplyEnv] and validates the result. An
// empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg, os.Getenv)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv fills empty secret fields from the environment: provider API keys
// (PICO_API_KEY, OPENAI_API_KEY, DEEPGRAM_API_KEY), the porcupine keyword
// file (KEYWORD_PATH) and the sink destination (EARSHOT_SINK_URL,
// EARSHOT_POSTGRES_DSN). Values already set in the file win.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	fill := func(e *ProviderEntry) {
		if e.APIKey == "" {
			if key, ok := apiKeyEnv[e.Name]; ok {
				e.APIKey = getenv(key)
			}
		}
		if e.BaseURL == "" {
			if key, ok := baseURLEnv[e.Name]; ok {
				e.BaseURL = getenv(key)
			}
		}
	}
	fill(&cfg.Providers.Wakeword)
	fill(&cfg.Providers.Transcriber)
	for i := range cfg.Providers.TranscriberFallbacks {
		fill(&cfg.Providers.TranscriberFallbacks[i])
	}
	fill(&cfg.Providers.Sink)

	ww := &cfg.Providers.Wakeword
	if ww.Name == "porcupine" {
		_, hasPath := ww.Options["keyword_path"]
		_, hasPaths := ww.Options["keyword_paths"]
		_, hasBuiltin := ww.Options["keywords"]
		if p := getenv("KEYWORD_PATH"); p != "" && !hasPath && !hasPaths && !hasBuiltin {
			if ww.Options == nil {
				ww.Options = make(map[string]any)
			}
			ww.Options["keyword_path"] = p
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	s := cfg.Server
	if s.LogLevel != "" && !s.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", s.LogLevel))
	}
	if s.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if !strings.HasPrefix(s.AudioPath, "/") {
		errs = append(errs, fmt.Errorf("server.audio_path %q must start with /", s.AudioPath))
	}
	if s.ReadLimit <= 0 {
		errs = append(errs, fmt.Errorf("server.read_limit must be positive, got %d", s.ReadLimit))
	}
	if s.MaxSessions < 0 {
		errs = append(errs, fmt.Errorf("server.max_sessions must not be negative, got %d", s.MaxSessions))
	}
	if s.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout must not be negative, got %s", s.ShutdownTimeout))
	}
	if s.TLS != nil && (s.TLS.CertFile == "" || s.TLS.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Voice
	v := cfg.Voice
	if v.SilenceThreshold < 0 {
		errs = append(errs, fmt.Errorf("voice.silence_threshold must not be negative, got %v", v.SilenceThreshold))
	}
	if v.SilenceDuration < 0 {
		errs = append(errs, fmt.Errorf("voice.silence_duration must not be negative, got %s", v.SilenceDuration))
	}
	if v.GracePeriod < 0 {
		errs = append(errs, fmt.Errorf("voice.grace_period must not be negative, got %s", v.GracePeriod))
	}
	if v.SecondaryGracePeriod < 0 {
		errs = append(errs, fmt.Errorf("voice.secondary_grace_period must not be negative, got %s", v.SecondaryGracePeriod))
	}
	if v.MaxRecordingDuration <= 0 {
		errs = append(errs, fmt.Errorf("voice.max_recording_duration must be positive, got %s", v.MaxRecordingDuration))
	}
	if v.TranscribeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("voice.transcribe_timeout must be positive, got %s", v.TranscribeTimeout))
	}
	if v.DeliverTimeout <= 0 {
		errs = append(errs, fmt.Errorf("voice.deliver_timeout must be positive, got %s", v.DeliverTimeout))
	}
	if !v.Encoding.IsValid() {
		errs = append(errs, fmt.Errorf("voice.encoding %q is invalid; valid values: pcm16, opus", v.Encoding))
	}

	// Providers
	p := cfg.Providers
	if p.Wakeword.Name == "" {
		errs = append(errs, errors.New("providers.wakeword.name is required"))
	}
	if p.Transcriber.Name == "" {
		errs = append(errs, errors.New("providers.transcriber.name is required"))
	}
	for i, fb := range p.TranscriberFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.transcriber_fallbacks[%d].name is required", i))
		}
		validateProviderName("transcriber", fb.Name)
	}
	if p.Sink.Name == "" {
		slog.Warn("providers.sink is not configured; transcripts will only be logged")
	}
	validateProviderName("wakeword", p.Wakeword.Name)
	validateProviderName("transcriber", p.Transcriber.Name)
	validateProviderName("sink", p.Sink.Name)

	// Transcript
	t := cfg.Transcript
	if t.PhoneticThreshold < 0 || t.PhoneticThreshold > 1 {
		errs = append(errs, fmt.Errorf("transcript.phonetic_threshold %.2f is out of range [0, 1]", t.PhoneticThreshold))
	}
	if t.FuzzyThreshold < 0 || t.FuzzyThreshold > 1 {
		errs = append(errs, fmt.Errorf("transcript.fuzzy_threshold %.2f is out of range [0, 1]", t.FuzzyThreshold))
	}
	for i, term := range t.Vocabulary {
		if strings.TrimSpace(term) == "" {
			errs = append(errs, fmt.Errorf("transcript.vocabulary[%d] is empty", i))
		}
	}

	// Diagnostics
	if cfg.Diagnostics.ReloadInterval < 0 {
		errs = append(errs, fmt.Errorf("diagnostics.reload_interval must not be negative, got %s", cfg.Diagnostics.ReloadInterval))
	}
	if r := cfg.Diagnostics.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("diagnostics.trace_sample_ratio must be in [0, 1], got %g", r))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

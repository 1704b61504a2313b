// Command earshot is the voice capture server: devices stream microphone
// audio over a websocket, a wake word starts a recording and each finished
// utterance is transcribed and forwarded to the configured sink.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/MrWong99/earshot/internal/app"
	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/resilience"
	"github.com/MrWong99/earshot/pkg/provider/sink"
	"github.com/MrWong99/earshot/pkg/provider/sink/logsink"
	"github.com/MrWong99/earshot/pkg/provider/sink/postgres"
	"github.com/MrWong99/earshot/pkg/provider/sink/webhook"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/provider/stt/deepgram"
	"github.com/MrWong99/earshot/pkg/provider/stt/leopard"
	"github.com/MrWong99/earshot/pkg/provider/stt/openai"
	"github.com/MrWong99/earshot/pkg/provider/stt/whisper"
	"github.com/MrWong99/earshot/pkg/provider/wakeword"
	"github.com/MrWong99/earshot/pkg/provider/wakeword/energy"
	"github.com/MrWong99/earshot/pkg/provider/wakeword/porcupine"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envFile := flag.String("env", ".env", "optional dotenv file loaded before the config")
	flag.Parse()

	// A missing .env is normal outside development.
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "earshot: load %s: %v\n", *envFile, err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "earshot: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "earshot: %v\n", err)
		}
		return 1
	}

	levels := new(slog.LevelVar)
	levels.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levels})))

	slog.Info("earshot starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		SampleRatio:    cfg.Diagnostics.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		if err := telemetry.Shutdown(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(ctx, cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers,
		app.WithLevelVar(levels),
		app.WithConfigPath(*configPath),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		_ = providers.Sink.Close()
		return 1
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for range hup {
			if application.Reload() {
				slog.Info("SIGHUP received, reloading configuration")
			}
		}
	}()

	slog.Info("server ready, press Ctrl+C to shut down")
	if err := application.Run(ctx); err != nil {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// registerBuiltinProviders wires every backend that ships with earshot into
// reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Wake word ─────────────────────────────────────────────────────────────

	reg.RegisterWakeword("porcupine", func(e config.ProviderEntry) (wakeword.Provider, error) {
		var opts []porcupine.Option
		if paths := e.OptStrings("keyword_paths"); len(paths) > 0 {
			opts = append(opts, porcupine.WithKeywordPaths(paths...))
		}
		if p := e.OptString("keyword_path"); p != "" {
			opts = append(opts, porcupine.WithKeywordPaths(p))
		}
		if kws := e.OptStrings("keywords"); len(kws) > 0 {
			opts = append(opts, porcupine.WithBuiltinKeywords(kws...))
		}
		if s := e.OptFloat("sensitivity", 0); s > 0 {
			opts = append(opts, porcupine.WithSensitivity(float32(s)))
		}
		if e.Model != "" {
			opts = append(opts, porcupine.WithModelPath(e.Model))
		}
		return porcupine.New(e.APIKey, opts...)
	})

	reg.RegisterWakeword("energy", func(e config.ProviderEntry) (wakeword.Provider, error) {
		return energy.New(energy.Config{
			SampleRate:    e.OptInt("sample_rate", 0),
			FrameLength:   e.OptInt("frame_length", 0),
			Threshold:     e.OptFloat("threshold", 0),
			OnsetFrames:   e.OptInt("onset_frames", 0),
			ReleaseFrames: e.OptInt("release_frames", 0),
		})
	})

	// ── Transcription ─────────────────────────────────────────────────────────

	reg.RegisterTranscriber("whisper", func(e config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if e.Model != "" {
			opts = append(opts, whisper.WithModel(e.Model))
		}
		if lang := e.OptString("language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if prompt := whisperPrompt(e); prompt != "" {
			opts = append(opts, whisper.WithPrompt(prompt))
		}
		return whisper.New(e.BaseURL, opts...)
	})

	reg.RegisterTranscriber("whisper-native", func(e config.ProviderEntry) (stt.Provider, error) {
		modelPath := e.Model
		if modelPath == "" {
			modelPath = e.OptString("model_path")
		}
		var opts []whisper.NativeOption
		if lang := e.OptString("language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if n := e.OptInt("threads", 0); n > 0 {
			opts = append(opts, whisper.WithNativeThreads(uint(n)))
		}
		if prompt := whisperPrompt(e); prompt != "" {
			opts = append(opts, whisper.WithNativePrompt(prompt))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterTranscriber("openai", func(e config.ProviderEntry) (stt.Provider, error) {
		var opts []openai.Option
		if e.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(e.BaseURL))
		}
		if lang := e.OptString("language"); lang != "" {
			opts = append(opts, openai.WithLanguage(lang))
		}
		if d := e.OptDuration("timeout", 0); d > 0 {
			opts = append(opts, openai.WithTimeout(d))
		}
		if words := e.OptStrings("vocabulary"); len(words) > 0 {
			opts = append(opts, openai.WithVocabulary(words...))
		}
		return openai.New(e.APIKey, e.Model, opts...)
	})

	reg.RegisterTranscriber("deepgram", func(e config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if e.Model != "" {
			opts = append(opts, deepgram.WithModel(e.Model))
		}
		if lang := e.OptString("language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if words := e.OptStrings("keywords"); len(words) > 0 {
			opts = append(opts, deepgram.WithKeywords(e.OptFloat("keyword_boost", 1), words...))
		}
		if e.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(e.BaseURL))
		}
		return deepgram.New(e.APIKey, opts...)
	})

	reg.RegisterTranscriber("leopard", func(e config.ProviderEntry) (stt.Provider, error) {
		var opts []leopard.Option
		if e.Model != "" {
			opts = append(opts, leopard.WithModelPath(e.Model))
		}
		if !e.OptBool("punctuation", true) {
			opts = append(opts, leopard.WithoutPunctuation())
		}
		return leopard.New(e.APIKey, opts...)
	})

	// ── Sinks ─────────────────────────────────────────────────────────────────

	reg.RegisterSink("webhook", func(_ context.Context, e config.ProviderEntry) (sink.Sink, error) {
		opts := []webhook.Option{
			webhook.WithCircuitBreaker(resilience.CircuitBreakerConfig{
				Name:        "webhook",
				MaxFailures: e.OptInt("max_failures", 0),
				OnStateChange: func(name string, _, to resilience.State) {
					observe.DefaultMetrics().RecordCircuitTransition(context.Background(), name, to.String())
				},
			}),
		}
		if d := e.OptDuration("timeout", 0); d > 0 {
			opts = append(opts, webhook.WithTimeout(d))
		}
		if e.APIKey != "" {
			opts = append(opts, webhook.WithBearerToken(e.APIKey))
		}
		if e.OptBool("metadata", false) {
			opts = append(opts, webhook.WithMetadata())
		}
		return webhook.New(e.BaseURL, opts...)
	})

	reg.RegisterSink("postgres", func(ctx context.Context, e config.ProviderEntry) (sink.Sink, error) {
		return postgres.New(ctx, e.BaseURL)
	})

	reg.RegisterSink("log", func(_ context.Context, _ config.ProviderEntry) (sink.Sink, error) {
		return logsink.New(slog.Default().With("component", "sink")), nil
	})

	for _, kind := range []string{"wakeword", "transcriber", "sink"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// whisperPrompt is the explicit "prompt" option, or the "vocabulary" list
// joined into one.
func whisperPrompt(e config.ProviderEntry) string {
	if p := e.OptString("prompt"); p != "" {
		return p
	}
	return strings.Join(e.OptStrings("vocabulary"), ", ")
}

// buildProviders instantiates the providers named in cfg. A missing sink
// falls back to the log sink so transcripts are never silently dropped.
func buildProviders(ctx context.Context, cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	wp, err := reg.CreateWakeword(cfg.Providers.Wakeword)
	if err != nil {
		return nil, fmt.Errorf("create wakeword provider %q: %w", cfg.Providers.Wakeword.Name, err)
	}
	ps.Wakeword = wp
	slog.Info("provider created", "kind", "wakeword", "name", cfg.Providers.Wakeword.Name)

	entries := append([]config.ProviderEntry{cfg.Providers.Transcriber}, cfg.Providers.TranscriberFallbacks...)
	for i, e := range entries {
		tp, err := reg.CreateTranscriber(e)
		if err != nil {
			if i == 0 {
				return nil, fmt.Errorf("create transcriber %q: %w", e.Name, err)
			}
			slog.Warn("skipping fallback transcriber", "name", e.Name, "err", err)
			continue
		}
		ps.Transcribers = append(ps.Transcribers, app.Transcriber{Name: e.Name, Provider: tp})
		slog.Info("provider created", "kind", "transcriber", "name", e.Name, "fallback", i > 0)
	}

	sinkEntry := cfg.Providers.Sink
	if sinkEntry.Name == "" {
		sinkEntry.Name = "log"
	}
	s, err := reg.CreateSink(ctx, sinkEntry)
	if err != nil {
		return nil, fmt.Errorf("create sink %q: %w", sinkEntry.Name, err)
	}
	ps.Sink = s
	slog.Info("provider created", "kind", "sink", "name", sinkEntry.Name)

	return ps, nil
}

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        earshot startup summary        ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Wake word", cfg.Providers.Wakeword.Name, cfg.Providers.Wakeword.Model)
	printProvider("Transcriber", cfg.Providers.Transcriber.Name, cfg.Providers.Transcriber.Model)
	for _, fb := range cfg.Providers.TranscriberFallbacks {
		printProvider("  fallback", fb.Name, fb.Model)
	}
	printProvider("Sink", cfg.Providers.Sink.Name, "")
	fmt.Printf("║  Encoding        : %-19s ║\n", cfg.Voice.Encoding)
	fmt.Printf("║  Vocabulary      : %-19d ║\n", len(cfg.Transcript.Vocabulary))
	fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	fmt.Printf("║  Audio path      : %-19s ║\n", cfg.Server.AudioPath)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

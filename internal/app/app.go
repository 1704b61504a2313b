// Package app wires the earshot subsystems into a running server.
//
// New builds the HTTP surface (voice websocket, admin API, probes, metrics)
// around the providers chosen in main.go. Run serves until its context is
// cancelled and then shuts everything down in order: voice connections
// first so in-flight utterances still reach the sink, then the listener,
// then the sink and providers.
//
// Test doubles are injected through the [Providers] struct and the
// functional options.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/diag"
	"github.com/MrWong99/earshot/internal/health"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/resilience"
	"github.com/MrWong99/earshot/internal/session"
	"github.com/MrWong99/earshot/internal/transcript"
	"github.com/MrWong99/earshot/internal/transcript/phonetic"
	"github.com/MrWong99/earshot/internal/voice"
	"github.com/MrWong99/earshot/pkg/provider/sink"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/provider/wakeword"
)

// Transcriber is one named transcription backend.
type Transcriber struct {
	Name     string
	Provider stt.Provider
}

// Providers holds the backends selected in the config. Transcribers[0] is
// the primary; the rest are tried in order when it fails. Populated by
// main.go via the config registry.
type Providers struct {
	Wakeword     wakeword.Provider
	Transcribers []Transcriber
	Sink         sink.Sink
}

// App owns the lifetime of every subsystem.
type App struct {
	cfg        *config.Config
	providers  *Providers
	metrics    *observe.Metrics
	levels     *slog.LevelVar
	configPath string
	breaker    resilience.CircuitBreakerConfig

	stt       *resilience.STTFallback
	corrector *transcript.Swappable
	hub       *session.Hub
	handler   http.Handler
	server    *http.Server
	watcher   *config.Watcher

	mu   sync.Mutex
	addr net.Addr

	stopOnce sync.Once
	stopErr  error
}

// Option is a functional option for [New].
type Option func(*App)

// WithMetrics records to m instead of observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets a config reload change the log level of the handler
// built on lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.levels = lv }
}

// WithConfigPath enables hot reload of the file at path when
// diagnostics.reload_interval is set.
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithCircuitBreaker tunes the breakers guarding each transcription
// backend. OnStateChange is always chained with metric recording.
func WithCircuitBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(a *App) { a.breaker = cfg }
}

// New wires the application. It does not start listening.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Wakeword == nil {
		return nil, errors.New("app: a wakeword provider is required")
	}
	if len(providers.Transcribers) == 0 {
		return nil, errors.New("app: at least one transcriber is required")
	}
	if providers.Sink == nil {
		return nil, errors.New("app: a sink is required")
	}

	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	a.initTranscribers()

	a.corrector = transcript.NewSwappable(newCorrector(cfg.Transcript))

	if err := a.initHub(); err != nil {
		return nil, fmt.Errorf("app: init hub: %w", err)
	}
	a.initHTTP()

	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.applyConfig, config.WithInterval(cfg.Diagnostics.ReloadInterval))
		if err != nil {
			return nil, fmt.Errorf("app: init config watcher: %w", err)
		}
		a.watcher = w
	}

	slog.InfoContext(ctx, "app initialised",
		"audio_path", cfg.Server.AudioPath,
		"transcribers", len(providers.Transcribers),
		"vocabulary", len(cfg.Transcript.Vocabulary),
		"hot_reload", a.watcher != nil,
	)
	return a, nil
}

// initTranscribers puts every transcription backend behind its own circuit
// breaker.
func (a *App) initTranscribers() {
	cb := a.breaker
	next := cb.OnStateChange
	cb.OnStateChange = func(name string, from, to resilience.State) {
		slog.Warn("transcriber circuit changed", "backend", name, "from", from.String(), "to", to.String())
		a.metrics.RecordCircuitTransition(context.Background(), name, to.String())
		if next != nil {
			next(name, from, to)
		}
	}

	primary := a.providers.Transcribers[0]
	a.stt = resilience.NewSTTFallback(primary.Provider, primary.Name, resilience.FallbackConfig{CircuitBreaker: cb})
	for _, t := range a.providers.Transcribers[1:] {
		a.stt.AddFallback(t.Name, t.Provider)
	}
}

func (a *App) initHub() error {
	vc := a.cfg.Voice
	v := voice.DefaultConfig()
	v.SilenceThreshold = vc.SilenceThreshold
	v.SilenceDuration = vc.SilenceDuration
	v.GracePeriod = vc.GracePeriod
	v.SecondaryGracePeriod = vc.SecondaryGracePeriod
	v.MaxDuration = vc.MaxRecordingDuration

	dopts := []voice.DispatcherOption{
		voice.WithCorrector(a.corrector),
		voice.WithTranscribeTimeout(vc.TranscribeTimeout),
		voice.WithDeliverTimeout(vc.DeliverTimeout),
		voice.WithAudioStats(a.cfg.Diagnostics.LogAudioStats),
	}
	if dir := a.cfg.Diagnostics.SaveUtterancesDir; dir != "" {
		arch, err := diag.NewWAVArchiver(dir)
		if err != nil {
			return err
		}
		dopts = append(dopts, voice.WithArchiver(arch))
		slog.Info("archiving utterances", "dir", arch.Dir())
	}

	hub, err := session.NewHub(a.providers.Wakeword, a.stt, a.providers.Sink, session.Config{
		Voice:          v,
		Encoding:       session.Encoding(vc.Encoding),
		ReadLimit:      a.cfg.Server.ReadLimit,
		MaxSessions:    a.cfg.Server.MaxSessions,
		AllowedOrigins: a.cfg.Server.AllowedOrigins,
	}, session.WithMetrics(a.metrics), session.WithDispatcherOptions(dopts...))
	if err != nil {
		return err
	}
	a.hub = hub
	return nil
}

func (a *App) initHTTP() {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "Server running")
	})
	mux.Handle(a.cfg.Server.AudioPath, a.hub)
	mux.Handle("GET /metrics", promhttp.Handler())

	health.New(
		health.SinkCheck(a.providers.Sink),
		health.TranscriberCheck(a.stt),
		health.CapacityCheck(a.hub.Capacity),
	).Register(mux)

	hist, _ := a.providers.Sink.(sink.History)
	session.NewAPI(a.hub.Directory(), hist).Register(mux)

	a.handler = observe.Middleware(a.metrics, observe.WithQuietPaths("/healthz", "/readyz", "/metrics"))(mux)
	a.server = &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Hub returns the voice session hub.
func (a *App) Hub() *session.Hub { return a.hub }

// Addr returns the listen address once Run has bound it, else nil.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// applyConfig is the hot reload callback.
func (a *App) applyConfig(old, updated *config.Config) {
	d := config.Diff(old, updated)
	if d.LogLevelChanged && a.levels != nil {
		a.levels.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.TranscriptChanged {
		a.corrector.Set(newCorrector(updated.Transcript))
		slog.Info("vocabulary reloaded", "terms", len(updated.Transcript.Vocabulary))
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes take effect after restart", "sections", d.RestartRequired)
	}
}

// newCorrector returns nil for an empty vocabulary.
func newCorrector(tc config.TranscriptConfig) transcript.Corrector {
	if len(tc.Vocabulary) == 0 {
		return nil
	}
	var opts []phonetic.Option
	if tc.PhoneticThreshold > 0 {
		opts = append(opts, phonetic.WithPhoneticThreshold(tc.PhoneticThreshold))
	}
	if tc.FuzzyThreshold > 0 {
		opts = append(opts, phonetic.WithFuzzyThreshold(tc.FuzzyThreshold))
	}
	return transcript.NewPhoneticCorrector(phonetic.New(opts...), tc.Vocabulary)
}

// Run listens on the configured address and serves until ctx is cancelled,
// then shuts down within server.shutdown_timeout. A listen failure is
// returned; a clean shutdown returns nil.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	a.mu.Lock()
	a.addr = ln.Addr()
	a.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return a.Shutdown(sctx)
	})

	slog.Info("server listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
	return g.Wait()
}

// Reload re-reads the config file on the running watcher. It reports false
// when the app was built without a config path.
func (a *App) Reload() bool {
	if a.watcher == nil {
		return false
	}
	a.watcher.Trigger()
	return true
}

// Shutdown closes voice connections and waits for their in-flight
// utterances, stops the HTTP server, then closes the sink and any provider
// holding resources. Later calls return the first result.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "sessions", a.hub.Directory().Len())
		var errs []error

		if err := a.hub.Shutdown(ctx); err != nil {
			slog.Warn("voice sessions did not finish", "err", err)
			errs = append(errs, err)
		}
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
		if err := a.providers.Sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("sink: %w", err))
		}
		for _, p := range a.closable() {
			if err := p.Close(); err != nil {
				errs = append(errs, err)
			}
		}

		a.stopErr = errors.Join(errs...)
		slog.Info("shutdown complete")
	})
	return a.stopErr
}

// closable returns the providers that hold resources of their own, such as
// a loaded native model.
func (a *App) closable() []io.Closer {
	var out []io.Closer
	if c, ok := a.providers.Wakeword.(io.Closer); ok {
		out = append(out, c)
	}
	for _, t := range a.providers.Transcribers {
		if c, ok := t.Provider.(io.Closer); ok {
			out = append(out, c)
		}
	}
	return out
}

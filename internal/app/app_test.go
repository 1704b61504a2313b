package app_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/earshot/internal/app"
	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	sinkmock "github.com/MrWong99/earshot/pkg/provider/sink/mock"
	sttmock "github.com/MrWong99/earshot/pkg/provider/stt/mock"
	wakemock "github.com/MrWong99/earshot/pkg/provider/wakeword/mock"
)

// testConfig returns a config with short silence timing so an utterance
// completes quickly on the wall clock.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.ListenAddr = "127.0.0.1:0"
	cfg.Server.ShutdownTimeout = 5 * time.Second
	cfg.Providers.Wakeword.Name = "mock"
	cfg.Providers.Transcriber.Name = "mock"
	cfg.Voice.GracePeriod = 0
	cfg.Voice.SilenceDuration = 40 * time.Millisecond
	cfg.Voice.SecondaryGracePeriod = 0
	cfg.Transcript.Vocabulary = []string{"Garage"}
	return cfg
}

type testDeps struct {
	providers *app.Providers
	tr        *sttmock.Transcriber
	sink      *sinkmock.Sink
}

func testProviders() testDeps {
	tr := &sttmock.Transcriber{Result: stt.Transcript{Text: "open the garaj"}}
	snk := &sinkmock.Sink{}
	return testDeps{
		providers: &app.Providers{
			Wakeword:     &wakemock.Provider{Spotter: &wakemock.Spotter{Matches: map[int]int{0: 0}}},
			Transcribers: []app.Transcriber{{Name: "mock", Provider: &sttmock.Provider{Transcriber: tr}}},
			Sink:         snk,
		},
		tr:   tr,
		sink: snk,
	}
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newApp(t *testing.T, cfg *config.Config, deps testDeps, opts ...app.Option) *app.App {
	t.Helper()
	opts = append([]app.Option{app.WithMetrics(testMetrics(t))}, opts...)
	a, err := app.New(context.Background(), cfg, deps.providers, opts...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return a
}

func TestNew_RequiresProviders(t *testing.T) {
	t.Parallel()
	full := testProviders().providers

	tests := []struct {
		name   string
		mutate func(*app.Providers)
	}{
		{"no wakeword", func(p *app.Providers) { p.Wakeword = nil }},
		{"no transcriber", func(p *app.Providers) { p.Transcribers = nil }},
		{"no sink", func(p *app.Providers) { p.Sink = nil }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := *full
			tc.mutate(&p)
			if _, err := app.New(context.Background(), testConfig(), &p, app.WithMetrics(testMetrics(t))); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestApp_Routes(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(), testProviders())
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
	}{
		{"/", http.StatusOK, "Server running"},
		{"/healthz", http.StatusOK, `"status":"ok"`},
		{"/readyz", http.StatusOK, `"sessions":"ok"`},
		{"/api/clients", http.StatusOK, `"clients":[]`},
		{"/api/transcripts", http.StatusNotImplemented, ""},
		{"/metrics", http.StatusOK, ""},
		{"/nope", http.StatusNotFound, ""},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tc.path)
			if err != nil {
				t.Fatalf("GET: %v", err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != tc.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.wantStatus)
			}
			if tc.wantBody != "" && !strings.Contains(string(body), tc.wantBody) {
				t.Errorf("body = %q, want it to contain %q", body, tc.wantBody)
			}
		})
	}
}

func TestApp_UtteranceReachesSinkCorrected(t *testing.T) {
	t.Parallel()
	deps := testProviders()
	a := newApp(t, testConfig(), deps)
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/audio?device=kitchen", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	chunk := make([]byte, 512*2)
	if err := conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
		t.Fatalf("Write: %v", err)
	}
	typ, msg, err := conn.Read(ctx)
	if err != nil || typ != websocket.MessageText || string(msg) != "LED_ON" {
		t.Fatalf("first signal = %v %q %v, want LED_ON", typ, msg, err)
	}

	// Keep sending silence until the recorder times out and the
	// utterance is delivered.
	delivered := deps.sink.Notify()
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-delivered:
			break loop
		case <-ticker.C:
			if err := conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				t.Fatalf("Write: %v", err)
			}
		case <-ctx.Done():
			t.Fatal("utterance was not delivered")
		}
	}

	results := deps.sink.Results()
	if len(results) != 1 {
		t.Fatalf("delivered %d results, want 1", len(results))
	}
	if got := results[0]; got.Text != "open the Garage" || got.RawText != "open the garaj" {
		t.Errorf("result text = %q raw %q", got.Text, got.RawText)
	}

	typ, msg, err = conn.Read(ctx)
	if err != nil || string(msg) != "LED_OFF" {
		t.Errorf("second signal = %v %q %v, want LED_OFF", typ, msg, err)
	}

	resp, err := http.Get(srv.URL + "/api/clients")
	if err != nil {
		t.Fatalf("GET clients: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Clients []struct {
			Device string `json:"device"`
		} `json:"clients"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Clients) != 1 || body.Clients[0].Device != "kitchen" {
		t.Errorf("clients = %+v", body.Clients)
	}
}

func TestApp_Shutdown(t *testing.T) {
	t.Parallel()
	deps := testProviders()
	a := newApp(t, testConfig(), deps)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown() error: %v", err)
	}
	if got := deps.sink.CloseCallCount; got != 1 {
		t.Errorf("sink Close calls = %d, want 1", got)
	}
	if a.Reload() {
		t.Error("Reload reported a watcher without a config path")
	}
}

const reloadYAML = `
server:
  log_level: %s
providers:
  wakeword: {name: mock}
  transcriber: {name: mock}
diagnostics:
  reload_interval: 20ms
`

func TestApp_RunReloadsAndStops(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "earshot.yaml")
	if err := os.WriteFile(path, []byte(strings.Replace(reloadYAML, "%s", "info", 1)), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.Server.ListenAddr = "127.0.0.1:0"

	levels := new(slog.LevelVar)
	deps := testProviders()
	a := newApp(t, cfg, deps, app.WithConfigPath(path), app.WithLevelVar(levels))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for a.Addr() == nil && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if a.Addr() == nil {
		cancel()
		t.Fatal("server did not start listening")
	}
	resp, err := http.Get("http://" + a.Addr().String() + "/healthz")
	if err != nil {
		cancel()
		t.Fatalf("GET healthz: %v", err)
	}
	resp.Body.Close()

	if err := os.WriteFile(path, []byte(strings.Replace(reloadYAML, "%s", "debug", 1)), 0o644); err != nil {
		t.Fatal(err)
	}
	later := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatal(err)
	}
	for levels.Level() != slog.LevelDebug && time.Now().Before(deadline.Add(time.Second)) {
		time.Sleep(10 * time.Millisecond)
	}
	if levels.Level() != slog.LevelDebug {
		t.Errorf("log level = %v after reload, want debug", levels.Level())
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run() returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return within 5s after context cancellation")
	}
	if got := deps.sink.CloseCallCount; got != 1 {
		t.Errorf("sink Close calls = %d, want 1", got)
	}
}

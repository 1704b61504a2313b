package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/voice"
	"github.com/MrWong99/earshot/pkg/audio/opus"
	"github.com/MrWong99/earshot/pkg/provider/sink"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/provider/wakeword"
)

// Connection defaults.
const (
	DefaultReadLimit    int64 = 512 << 10
	DefaultWriteTimeout       = 10 * time.Second
)

var (
	// ErrAtCapacity is returned when MaxSessions connections are already open.
	ErrAtCapacity = errors.New("session: server at capacity")

	// ErrShuttingDown is returned for connections arriving after Shutdown.
	ErrShuttingDown = errors.New("session: server shutting down")
)

// Config holds the per-connection settings shared by all sessions.
type Config struct {
	// Voice is the recording configuration. SampleRate and FrameLength are
	// overwritten with the values of each connection's spotter.
	Voice voice.Config

	// Encoding of inbound binary payloads. Empty means EncodingPCM16.
	Encoding Encoding

	// ReadLimit caps the size of one inbound message. Zero means
	// DefaultReadLimit.
	ReadLimit int64

	// WriteTimeout bounds each outbound signal. Zero means
	// DefaultWriteTimeout.
	WriteTimeout time.Duration

	// MaxSessions caps concurrent connections. Zero means unlimited.
	MaxSessions int

	// AllowedOrigins are the host patterns accepted for cross-origin
	// websocket upgrades.
	AllowedOrigins []string
}

// HubOption is a functional option for [NewHub].
type HubOption func(*Hub)

// WithDispatcherOptions adds options to every session's dispatcher.
func WithDispatcherOptions(opts ...voice.DispatcherOption) HubOption {
	return func(h *Hub) { h.dispatchOpts = append(h.dispatchOpts, opts...) }
}

// WithMetrics records to m instead of observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

// WithClock replaces time.Now as the time source of the recorders.
func WithClock(now func() time.Time) HubOption {
	return func(h *Hub) { h.now = now }
}

// Hub accepts voice client connections and runs one [Session] per
// connection. It is an [http.Handler] for the websocket endpoint.
type Hub struct {
	wakeword     wakeword.Provider
	transcriber  stt.Provider
	sink         sink.Sink
	cfg          Config
	dir          *Directory
	slots        *semaphore.Weighted
	dispatchOpts []voice.DispatcherOption
	metrics      *observe.Metrics
	now          func() time.Time

	mu      sync.Mutex
	closing bool
	active  sync.WaitGroup
}

// NewHub returns a hub creating spotters and transcribers from the given
// providers and delivering to s. The hub does not close s.
func NewHub(wp wakeword.Provider, tp stt.Provider, s sink.Sink, cfg Config, opts ...HubOption) (*Hub, error) {
	switch cfg.Encoding {
	case "":
		cfg.Encoding = EncodingPCM16
	case EncodingPCM16, EncodingOpus:
	default:
		return nil, fmt.Errorf("session: unknown encoding %q", cfg.Encoding)
	}
	if err := cfg.Voice.Validate(); err != nil {
		return nil, err
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = DefaultReadLimit
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	h := &Hub{
		wakeword:    wp,
		transcriber: tp,
		sink:        s,
		cfg:         cfg,
		dir:         NewDirectory(),
		now:         time.Now,
	}
	if cfg.MaxSessions > 0 {
		h.slots = semaphore.NewWeighted(int64(cfg.MaxSessions))
	}
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	return h, nil
}

// Directory returns the directory of live sessions.
func (h *Hub) Directory() *Directory { return h.dir }

// Capacity returns the number of live sessions and the configured maximum
// (zero when unlimited).
func (h *Hub) Capacity() (active, max int) {
	return h.dir.Len(), h.cfg.MaxSessions
}

// ServeHTTP upgrades the request to a websocket and serves it until the
// client disconnects. The optional "device" query parameter labels the
// client in the directory.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.acquire(); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer h.release()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.cfg.AllowedOrigins,
	})
	if err != nil {
		observe.Logger(r.Context()).Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	conn.SetReadLimit(h.cfg.ReadLimit)

	info := Info{
		RemoteAddr: r.RemoteAddr,
		Device:     r.URL.Query().Get("device"),
	}
	if err := h.serve(r.Context(), conn, info); err != nil {
		slog.Info("connection ended with error", "remote", r.RemoteAddr, "err", err)
	}
}

// Serve runs a session on an already established connection until it ends.
// ID and ConnectedAt of info are assigned by the hub.
func (h *Hub) Serve(ctx context.Context, conn Conn, info Info) error {
	if err := h.acquire(); err != nil {
		_ = conn.Close(websocket.StatusTryAgainLater, err.Error())
		return err
	}
	defer h.release()
	return h.serve(ctx, conn, info)
}

func (h *Hub) serve(ctx context.Context, conn Conn, info Info) error {
	info.ID = uuid.NewString()
	info.ConnectedAt = h.now()
	log := slog.With("conn_id", info.ID, "remote", info.RemoteAddr)

	s, err := h.open(ctx, conn, info, log)
	if err != nil {
		log.Error("failed to set up session", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "session setup failed")
		return err
	}

	h.dir.add(s)
	h.metrics.ActiveSessions.Add(ctx, 1)
	log.Info("client connected", "device", info.Device)

	// Shutdown may have listed the directory before the add above.
	var runErr error
	if h.isClosing() {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
	} else {
		runErr = s.run(ctx)
	}

	h.dir.remove(info.ID)
	h.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)
	_ = conn.Close(websocket.StatusNormalClosure, "")
	if err := s.Close(); err != nil {
		log.Warn("failed to release session resources", "err", err)
	}
	log.Info("client disconnected")
	return runErr
}

// open creates the per-connection capabilities and pipeline.
func (h *Hub) open(ctx context.Context, conn Conn, info Info, log *slog.Logger) (*Session, error) {
	sp, err := h.wakeword.NewSpotter(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: create spotter: %w", err)
	}
	tr, err := h.transcriber.NewTranscriber(ctx)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("session: create transcriber: %w", err), sp.Close())
	}
	release := func(err error) (*Session, error) {
		return nil, errors.Join(err, sp.Close(), tr.Close())
	}

	cfg := h.cfg.Voice
	cfg.SampleRate = sp.SampleRate()
	cfg.FrameLength = sp.FrameLength()

	rec, err := voice.NewRecorder(cfg, voice.WithTransitionHook(func(from, to voice.State) {
		log.Debug("recorder state changed", "from", from.String(), "to", to.String())
	}))
	if err != nil {
		return release(err)
	}
	gate, err := voice.NewGate(sp)
	if err != nil {
		return release(err)
	}
	var dec *opus.Decoder
	if h.cfg.Encoding == EncodingOpus {
		if dec, err = opus.NewDecoder(cfg.SampleRate); err != nil {
			return release(err)
		}
	}

	opts := append(slices.Clone(h.dispatchOpts),
		voice.WithConnectionID(info.ID),
		voice.WithMetrics(h.metrics),
	)
	s := &Session{
		info:         info,
		conn:         conn,
		spotter:      sp,
		transcriber:  tr,
		gate:         gate,
		recorder:     rec,
		dispatcher:   voice.NewDispatcher(tr, h.sink, opts...),
		decoder:      dec,
		writeTimeout: h.cfg.WriteTimeout,
		metrics:      h.metrics,
		now:          h.now,
		log:          log,
	}
	s.start()
	return s, nil
}

func (h *Hub) acquire() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return ErrShuttingDown
	}
	if h.slots != nil && !h.slots.TryAcquire(1) {
		return ErrAtCapacity
	}
	h.active.Add(1)
	return nil
}

func (h *Hub) isClosing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closing
}

func (h *Hub) release() {
	if h.slots != nil {
		h.slots.Release(1)
	}
	h.active.Done()
}

// Shutdown stops accepting connections, closes the live ones and waits for
// their sessions to finish, including pending dispatches, or for ctx to end.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()

	h.dir.mu.RLock()
	conns := make([]Conn, 0, len(h.dir.sessions))
	for _, s := range h.dir.sessions {
		conns = append(conns, s.conn)
	}
	h.dir.mu.RUnlock()
	for _, c := range conns {
		_ = c.Close(websocket.StatusGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		h.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/earshot/internal/session"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/sink"
	wakemock "github.com/MrWong99/earshot/pkg/provider/wakeword/mock"
)

type history struct {
	mu       sync.Mutex
	entries  []sink.Entry
	err      error
	searched string
	conn     string
	limit    int
}

func (h *history) Recent(_ context.Context, conn string, limit int) ([]sink.Entry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conn, h.limit = conn, limit
	return h.entries, h.err
}

func (h *history) Search(_ context.Context, q string, limit int) ([]sink.Entry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.searched, h.limit = q, limit
	return h.entries, h.err
}

func (h *history) last() (conn, searched string, limit int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn, h.searched, h.limit
}

func newAPIServer(t *testing.T, dir *session.Directory, h sink.History) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	session.NewAPI(dir, h).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestAPI_ClientsAndSignal(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &wakemock.Spotter{}, session.Config{})
	conn := newFakeConn(f.clock, 1)
	errc := make(chan error, 1)
	go func() {
		errc <- f.hub.Serve(context.Background(), conn, session.Info{Device: "kitchen", RemoteAddr: "10.0.0.7:4000"})
	}()
	waitForClients(t, f.hub.Directory(), 1)
	defer func() {
		close(conn.in)
		<-errc
	}()

	srv := newAPIServer(t, f.hub.Directory(), nil)

	resp, err := http.Get(srv.URL + "/api/clients")
	if err != nil {
		t.Fatalf("GET clients: %v", err)
	}
	var body struct {
		Clients []session.Info `json:"clients"`
	}
	err = json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Clients) != 1 || body.Clients[0].Device != "kitchen" || body.Clients[0].ID == "" {
		t.Fatalf("clients = %+v", body.Clients)
	}
	id := body.Clients[0].ID

	tests := []struct {
		name        string
		id          string
		contentType string
		body        string
		want        int
	}{
		{"json", id, "application/json", `{"message":"LED_ON"}`, http.StatusNoContent},
		{"plain text", id, "text/plain", "VOLUME_UP", http.StatusNoContent},
		{"unknown client", "nope", "text/plain", "LED_ON", http.StatusNotFound},
		{"empty message", id, "application/json", `{"message":" "}`, http.StatusBadRequest},
		{"bad json", id, "application/json", `{`, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/api/clients/"+tc.id+"/signal", tc.contentType, strings.NewReader(tc.body))
			if err != nil {
				t.Fatalf("POST: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}

	if got := conn.Written(); !slices.Equal(got, []string{"LED_ON", "VOLUME_UP"}) {
		t.Errorf("written = %v", got)
	}
}

func TestAPI_Transcripts(t *testing.T) {
	t.Parallel()

	h := &history{entries: []sink.Entry{{
		ID: 7,
		Result: sink.Result{
			ConnectionID:  "c1",
			Text:          "open the Garage",
			RawText:       "open the garage",
			AudioDuration: 1500 * time.Millisecond,
		},
	}}}
	srv := newAPIServer(t, session.NewDirectory(), h)

	resp, err := http.Get(srv.URL + "/api/transcripts?conn=c1&limit=500")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	var body struct {
		Transcripts []map[string]any `json:"transcripts"`
	}
	err = json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if conn, _, limit := h.last(); conn != "c1" || limit != 200 {
		t.Errorf("Recent called with conn=%q limit=%d", conn, limit)
	}
	if len(body.Transcripts) != 1 {
		t.Fatalf("transcripts = %v", body.Transcripts)
	}
	got := body.Transcripts[0]
	if got["text"] != "open the Garage" || got["audio_duration_ms"] != float64(1500) {
		t.Errorf("transcript = %v", got)
	}

	resp, err = http.Get(srv.URL + "/api/transcripts?q=garage")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if _, q, limit := h.last(); q != "garage" || limit != 20 {
		t.Errorf("Search called with %q limit=%d", q, limit)
	}

	for _, q := range []string{"limit=0", "limit=x"} {
		resp, err := http.Get(srv.URL + "/api/transcripts?" + q)
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, resp.StatusCode)
		}
	}

	h.mu.Lock()
	h.err = errors.New("db down")
	h.mu.Unlock()
	resp, err = http.Get(srv.URL + "/api/transcripts")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
}

func TestAPI_TranscriptsWithoutHistory(t *testing.T) {
	t.Parallel()

	srv := newAPIServer(t, session.NewDirectory(), nil)
	resp, err := http.Get(srv.URL + "/api/transcripts")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotImplemented {
		t.Errorf("status = %d, want 501", resp.StatusCode)
	}
}

func TestHub_ServeHTTPWebsocket(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &wakemock.Spotter{Matches: map[int]int{0: 0}}, session.Config{})
	srv := httptest.NewServer(f.hub)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "?device=desk"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	if err := conn.Write(ctx, websocket.MessageBinary, audio.Int16ToBytes(tone(100, 512))); err != nil {
		t.Fatalf("Write: %v", err)
	}
	typ, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if typ != websocket.MessageText || string(data) != session.SignalListening {
		t.Fatalf("got %v %q, want LED_ON", typ, data)
	}

	clients := f.hub.Directory().List()
	if len(clients) != 1 || clients[0].Device != "desk" {
		t.Fatalf("clients = %+v", clients)
	}

	// Shutdown closes the connection with a going-away status.
	go func() { _ = f.hub.Shutdown(ctx) }()
	_, _, err = conn.Read(ctx)
	if got := websocket.CloseStatus(err); got != websocket.StatusGoingAway {
		t.Errorf("close status = %v (%v), want going away", got, err)
	}
}

func TestHub_ServeHTTPAtCapacity(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &wakemock.Spotter{}, session.Config{MaxSessions: 1})
	conn := newFakeConn(f.clock, 1)
	errc := make(chan error, 1)
	go func() { errc <- f.hub.Serve(context.Background(), conn, session.Info{}) }()
	waitForClients(t, f.hub.Directory(), 1)
	defer func() {
		close(conn.in)
		<-errc
	}()

	rec := httptest.NewRecorder()
	f.hub.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws/audio", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

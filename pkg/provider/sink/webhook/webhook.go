// Package webhook delivers transcripts to an HTTP endpoint as JSON.
//
// The request body is {"prompt": "<text>"}, the format voice-assistant
// backends accept. With WithMetadata the connection id, wake word index,
// audio duration and raw transcript are added next to the prompt.
//
// Every delivery runs through a circuit breaker: after a run of consecutive
// failures the sink rejects deliveries immediately until the reset timeout
// has passed.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/MrWong99/earshot/internal/resilience"
	"github.com/MrWong99/earshot/pkg/provider/sink"
)

// DefaultTimeout bounds one POST.
const DefaultTimeout = 5 * time.Second

var (
	_ sink.Sink   = (*Sink)(nil)
	_ sink.Pinger = (*Sink)(nil)
)

// Option is a functional option for Sink.
type Option func(*Sink)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Sink) { s.client.Timeout = d }
}

// WithBearerToken sends "Authorization: Bearer <token>" on every request.
func WithBearerToken(token string) Option {
	return func(s *Sink) { s.token = token }
}

// WithMetadata adds result metadata to the JSON body.
func WithMetadata() Option {
	return func(s *Sink) { s.metadata = true }
}

// WithCircuitBreaker replaces the breaker configuration.
func WithCircuitBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(s *Sink) { s.breakerCfg = cfg }
}

// Sink POSTs results to a fixed URL.
type Sink struct {
	url        string
	token      string
	metadata   bool
	client     *http.Client
	breakerCfg resilience.CircuitBreakerConfig
	breaker    *resilience.CircuitBreaker
}

// New creates a Sink for url.
func New(url string, opts ...Option) (*Sink, error) {
	if url == "" {
		return nil, errors.New("webhook: url must not be empty")
	}
	s := &Sink{
		url:        url,
		client:     &http.Client{Timeout: DefaultTimeout},
		breakerCfg: resilience.CircuitBreakerConfig{MaxFailures: 5, ResetTimeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(s)
	}
	if s.breakerCfg.Name == "" {
		s.breakerCfg.Name = "webhook"
	}
	s.breaker = resilience.NewCircuitBreaker(s.breakerCfg)
	return s, nil
}

type payload struct {
	Prompt        string `json:"prompt"`
	ConnectionID  string `json:"connection_id,omitempty"`
	RawText       string `json:"raw_text,omitempty"`
	KeywordIndex  *int   `json:"keyword_index,omitempty"`
	AudioDuration int64  `json:"audio_duration_ms,omitempty"`
	Language      string `json:"language,omitempty"`
}

// Deliver POSTs r. Any non-2xx status is an error.
func (s *Sink) Deliver(ctx context.Context, r sink.Result) error {
	body := payload{Prompt: r.Text}
	if s.metadata {
		idx := r.KeywordIndex
		body.ConnectionID = r.ConnectionID
		body.RawText = r.RawText
		body.KeywordIndex = &idx
		body.AudioDuration = r.AudioDuration.Milliseconds()
		body.Language = r.Language
	}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("webhook: encode: %w", err)
	}

	err = s.breaker.Execute(func() error { return s.post(ctx, data) })
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	return nil
}

func (s *Sink) post(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("consumer returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// Ping reports an error while the breaker is open.
func (s *Sink) Ping(_ context.Context) error {
	if st := s.breaker.State(); st == resilience.StateOpen {
		return fmt.Errorf("webhook: circuit %s", st)
	}
	return nil
}

// Close is a no-op; idle connections are released by the transport.
func (s *Sink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

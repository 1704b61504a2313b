// Package openai provides a transcriber backed by the OpenAI audio
// transcription API (or any server implementing the same endpoint, such as
// a local faster-whisper or LocalAI deployment).
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/stt"
)

// DefaultModel is the default OpenAI transcription model.
const DefaultModel = oai.AudioModelWhisper1

var (
	_ stt.Provider    = (*Provider)(nil)
	_ stt.Transcriber = (*transcriber)(nil)
)

// Provider implements stt.Provider using the OpenAI API.
type Provider struct {
	client   oai.Client
	model    oai.AudioModel
	language string
	prompt   string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL  string
	language string
	timeout  time.Duration
	prompt   string
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithLanguage sets the ISO-639-1 input language (e.g. "en"). Empty lets
// the API detect it.
func WithLanguage(lang string) Option {
	return func(c *config) { c.language = lang }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithVocabulary passes words the model should expect (device names, rooms)
// as the transcription prompt.
func WithVocabulary(words ...string) Option {
	return func(c *config) { c.prompt = strings.Join(words, ", ") }
}

// New constructs a new OpenAI transcription Provider. If model is empty,
// DefaultModel (whisper-1) is used. Requests are never retried.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai stt: apiKey must not be empty")
	}
	if model == "" {
		model = string(DefaultModel)
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Provider{
		client:   oai.NewClient(reqOpts...),
		model:    oai.AudioModel(model),
		language: cfg.language,
		prompt:   cfg.prompt,
	}, nil
}

// NewTranscriber implements stt.Provider. All transcribers share the client.
func (p *Provider) NewTranscriber(ctx context.Context) (stt.Transcriber, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("openai stt: %w", err)
	}
	return &transcriber{p: p}, nil
}

type transcriber struct {
	p      *Provider
	closed atomic.Bool
}

func (t *transcriber) Close() error {
	t.closed.Store(true)
	return nil
}

// Transcribe uploads the utterance as a WAV file at its native rate.
func (t *transcriber) Transcribe(ctx context.Context, samples []int16, sampleRate int) (stt.Transcript, error) {
	if t.closed.Load() {
		return stt.Transcript{}, stt.ErrClosed
	}

	wav := audio.WAVBytes(audio.Int16ToBytes(samples), sampleRate)
	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
		Model: t.p.model,
	}
	if t.p.language != "" {
		params.Language = oai.String(t.p.language)
	}
	if t.p.prompt != "" {
		params.Prompt = oai.String(t.p.prompt)
	}

	resp, err := t.p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("openai stt: transcribe: %w", err)
	}
	return stt.Transcript{Text: strings.TrimSpace(resp.Text), Language: t.p.language}, nil
}

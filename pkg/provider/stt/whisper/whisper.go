// Package whisper transcribes utterances with whisper.cpp, either through a
// running whisper-server ([Provider]) or in-process through the CGO bindings
// ([NativeProvider]). Models expect 16 kHz mono, so both resample first.
//
// Both accept an initial prompt. Listing the names users say (rooms,
// devices) there makes whisper far more likely to spell them the same way.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/stt"
)

// SampleRate is the rate whisper.cpp models are trained on.
const SampleRate = 16000

const defaultLanguage = "en"

var (
	_ stt.Provider    = (*Provider)(nil)
	_ stt.Transcriber = (*serverTranscriber)(nil)
)

// Option configures a [Provider].
type Option func(*Provider)

// WithModel names the model the server should use. Empty keeps the model
// the server was started with.
func WithModel(model string) Option { return func(p *Provider) { p.fields["model"] = model } }

// WithLanguage sets the spoken language, "en" by default. "auto" lets the
// server detect it.
func WithLanguage(lang string) Option { return func(p *Provider) { p.fields["language"] = lang } }

// WithPrompt sets the initial prompt sent with every utterance.
func WithPrompt(prompt string) Option { return func(p *Provider) { p.fields["prompt"] = prompt } }

// WithHTTPClient replaces the default client, which times out after 30s.
func WithHTTPClient(c *http.Client) Option { return func(p *Provider) { p.client = c } }

// Provider uploads utterances to a whisper-server /inference endpoint. The
// server keeps no per-client state, so every transcriber shares one client.
type Provider struct {
	endpoint string
	client   *http.Client
	fields   map[string]string
}

// New returns a Provider for the server at baseURL, e.g.
// "http://localhost:8080".
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("whisper: server URL is required")
	}
	p := &Provider{
		endpoint: strings.TrimRight(baseURL, "/") + "/inference",
		client:   &http.Client{Timeout: 30 * time.Second},
		fields:   map[string]string{"language": defaultLanguage, "response_format": "json"},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// NewTranscriber makes no network call.
func (p *Provider) NewTranscriber(ctx context.Context) (stt.Transcriber, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}
	return &serverTranscriber{p: p}, nil
}

type serverTranscriber struct {
	p      *Provider
	closed atomic.Bool
}

func (t *serverTranscriber) Transcribe(ctx context.Context, samples []int16, sampleRate int) (stt.Transcript, error) {
	if t.closed.Load() {
		return stt.Transcript{}, stt.ErrClosed
	}
	pcm := audio.Int16ToBytes(audio.Resample(samples, sampleRate, SampleRate))
	text, err := t.p.post(ctx, audio.WAVBytes(pcm, SampleRate))
	if err != nil {
		return stt.Transcript{}, err
	}
	lang := t.p.fields["language"]
	if lang == "auto" {
		lang = ""
	}
	return stt.Transcript{Text: strings.TrimSpace(text), Language: lang}, nil
}

func (t *serverTranscriber) Close() error {
	t.closed.Store(true)
	return nil
}

// form encodes wav and the non-empty fields as multipart/form-data.
func (p *Provider) form(wav []byte) (*bytes.Buffer, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "utterance.wav")
	if err == nil {
		_, err = fw.Write(wav)
	}
	for k, v := range p.fields {
		if err != nil {
			break
		}
		if v != "" {
			err = mw.WriteField(k, v)
		}
	}
	if err == nil {
		err = mw.Close()
	}
	if err != nil {
		return nil, "", fmt.Errorf("whisper: encode form: %w", err)
	}
	return &body, mw.FormDataContentType(), nil
}

func (p *Provider) post(ctx context.Context, wav []byte) (string, error) {
	body, contentType, err := p.form(wav)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, body)
	if err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	var out struct {
		Text  string `json:"text"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("whisper: decode response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("whisper: server error: %s", out.Error)
	}
	return out.Text, nil
}

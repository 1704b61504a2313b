// Package deepgram provides a Deepgram-backed transcriber using the Deepgram
// streaming WebSocket API.
//
// Each utterance is sent over a short-lived stream: the audio is written in
// 100 ms chunks, a CloseStream message flushes the recogniser, and every final
// result Deepgram emits before closing the socket is joined into the
// transcript. Streaming keeps recognition running while audio is still being
// uploaded, which matters for long commands on slow uplinks.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/stt"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "en"
	chunkDuration    = 100 * time.Millisecond
)

var (
	_ stt.Provider    = (*Provider)(nil)
	_ stt.Transcriber = (*transcriber)(nil)
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithKeywords boosts recognition of the given words (device names, rooms,
// product names). boost is Deepgram's intensifier; 2 is a moderate value.
func WithKeywords(boost float64, words ...string) Option {
	return func(p *Provider) {
		for _, w := range words {
			p.keywords = append(p.keywords, keyword{word: w, boost: boost})
		}
	}
}

// WithEndpoint overrides the streaming endpoint (e.g. for a self-hosted
// Deepgram or tests).
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

type keyword struct {
	word  string
	boost float64
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey   string
	endpoint string
	model    string
	language string
	keywords []keyword
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		endpoint: deepgramEndpoint,
		model:    defaultModel,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// NewTranscriber returns a handle; a stream is opened per Transcribe call.
func (p *Provider) NewTranscriber(ctx context.Context) (stt.Transcriber, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("deepgram: %w", err)
	}
	return &transcriber{p: p}, nil
}

// buildURL constructs the Deepgram streaming endpoint URL for the given
// sample rate.
func (p *Provider) buildURL(sampleRate int) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", p.language)
	q.Set("punctuate", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("channels", "1")

	for _, kw := range p.keywords {
		// Deepgram keyword format: word:boost (e.g., "Livingroom:2")
		q.Add("keywords", fmt.Sprintf("%s:%g", kw.word, kw.boost))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

type transcriber struct {
	p      *Provider
	closed atomic.Bool
}

func (t *transcriber) Close() error {
	t.closed.Store(true)
	return nil
}

// Transcribe streams samples to Deepgram and collects the final results.
func (t *transcriber) Transcribe(ctx context.Context, samples []int16, sampleRate int) (stt.Transcript, error) {
	if t.closed.Load() {
		return stt.Transcript{}, stt.ErrClosed
	}
	wsURL, err := t.p.buildURL(sampleRate)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+t.p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()

	var finals []stt.Transcript
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return writeAudio(gctx, conn, samples, sampleRate) })
	g.Go(func() error {
		var err error
		finals, err = readFinals(gctx, conn)
		return err
	})
	if err := g.Wait(); err != nil {
		return stt.Transcript{}, err
	}
	_ = conn.Close(websocket.StatusNormalClosure, "utterance done")

	return merge(finals, t.p.language), nil
}

// writeAudio sends the utterance in real-time-sized chunks followed by
// CloseStream.
func writeAudio(ctx context.Context, conn *websocket.Conn, samples []int16, sampleRate int) error {
	step := int(int64(sampleRate) * int64(chunkDuration) / int64(time.Second))
	if step <= 0 {
		step = len(samples)
	}
	for start := 0; start < len(samples); start += step {
		end := min(start+step, len(samples))
		if err := conn.Write(ctx, websocket.MessageBinary, audio.Int16ToBytes(samples[start:end])); err != nil {
			return fmt.Errorf("deepgram: send audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return fmt.Errorf("deepgram: close stream: %w", err)
	}
	return nil
}

// readFinals collects final results until Deepgram closes the socket.
func readFinals(ctx context.Context, conn *websocket.Conn) ([]stt.Transcript, error) {
	var finals []stt.Transcript
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusNoStatusRcvd:
				return finals, nil
			}
			return finals, fmt.Errorf("deepgram: read: %w", err)
		}
		r, isFinal, ok := parseDeepgramResponse(msg)
		if ok && isFinal && r.Text != "" {
			finals = append(finals, r)
		}
	}
}

// merge joins final segments into one transcript. Confidence is the mean of
// the segment confidences.
func merge(finals []stt.Transcript, language string) stt.Transcript {
	out := stt.Transcript{Language: language}
	if len(finals) == 0 {
		return out
	}
	parts := make([]string, 0, len(finals))
	var conf float64
	for _, f := range finals {
		parts = append(parts, f.Text)
		conf += f.Confidence
		out.Words = append(out.Words, f.Words...)
	}
	out.Text = strings.Join(parts, " ")
	out.Confidence = conf / float64(len(finals))
	return out
}

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word       string  `json:"word"`
				Start      float64 `json:"start"`
				End        float64 `json:"end"`
				Confidence float64 `json:"confidence"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// parseDeepgramResponse parses a raw Deepgram WebSocket message. ok is false
// if the message should be ignored.
func parseDeepgramResponse(data []byte) (t stt.Transcript, isFinal bool, ok bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return stt.Transcript{}, false, false
	}
	if resp.Type != "Results" || len(resp.Channel.Alternatives) == 0 {
		return stt.Transcript{}, false, false
	}

	alt := resp.Channel.Alternatives[0]
	words := make([]stt.WordDetail, 0, len(alt.Words))
	for _, w := range alt.Words {
		words = append(words, stt.WordDetail{
			Word:       w.Word,
			Start:      time.Duration(w.Start * float64(time.Second)),
			End:        time.Duration(w.End * float64(time.Second)),
			Confidence: w.Confidence,
		})
	}

	return stt.Transcript{
		Text:       strings.TrimSpace(alt.Transcript),
		Confidence: alt.Confidence,
		Words:      words,
	}, resp.IsFinal, true
}

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/stt"
)

// Building this file needs libwhisper.a and whisper.h on LIBRARY_PATH and
// C_INCLUDE_PATH.

var (
	_ stt.Provider    = (*NativeProvider)(nil)
	_ stt.Transcriber = (*nativeTranscriber)(nil)
)

// NativeOption configures a [NativeProvider].
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the spoken language, "en" by default.
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithNativeThreads sets CPU threads per inference. Zero keeps the library
// default.
func WithNativeThreads(n uint) NativeOption {
	return func(p *NativeProvider) { p.threads = n }
}

// WithNativePrompt sets the initial prompt for every utterance.
func WithNativePrompt(prompt string) NativeOption {
	return func(p *NativeProvider) { p.prompt = prompt }
}

// NativeProvider runs whisper.cpp in-process. One model is loaded and
// shared; every utterance gets its own inference context because contexts
// are not safe for concurrent use.
type NativeProvider struct {
	model    whisperlib.Model
	language string
	threads  uint
	prompt   string

	closeOnce sync.Once
	closeErr  error
}

// NewNative loads the model file at modelPath. Close the provider to free it.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: model path is required")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	p := &NativeProvider{model: model, language: defaultLanguage}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close unloads the model. Transcribers still open must not be used after.
func (p *NativeProvider) Close() error {
	p.closeOnce.Do(func() { p.closeErr = p.model.Close() })
	return p.closeErr
}

// NewTranscriber returns a handle on the shared model.
func (p *NativeProvider) NewTranscriber(ctx context.Context) (stt.Transcriber, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}
	return &nativeTranscriber{p: p}, nil
}

type nativeTranscriber struct {
	p      *NativeProvider
	closed atomic.Bool
}

func (t *nativeTranscriber) Close() error {
	t.closed.Store(true)
	return nil
}

// Transcribe blocks for the whole inference. whisper.cpp cannot be
// interrupted, so ctx is only checked before it starts.
func (t *nativeTranscriber) Transcribe(ctx context.Context, samples []int16, sampleRate int) (stt.Transcript, error) {
	if t.closed.Load() {
		return stt.Transcript{}, stt.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: %w", err)
	}

	wctx, err := t.p.newContext()
	if err != nil {
		return stt.Transcript{}, err
	}
	pcm := audio.ToFloat32(audio.Resample(samples, sampleRate, SampleRate))
	if err := wctx.Process(pcm, nil, nil, nil); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: process audio: %w", err)
	}
	return collect(wctx, t.p.language)
}

func (p *NativeProvider) newContext() (whisperlib.Context, error) {
	wctx, err := p.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: new context: %w", err)
	}
	if err := wctx.SetLanguage(p.language); err != nil {
		slog.Warn("whisper: unsupported language, using model default", "language", p.language, "err", err)
	}
	if p.threads > 0 {
		wctx.SetThreads(p.threads)
	}
	if p.prompt != "" {
		wctx.SetInitialPrompt(p.prompt)
	}
	return wctx, nil
}

// collect joins the decoded segments. Confidence is the mean probability of
// the text tokens; control tokens such as [_BEG_] are skipped.
func collect(wctx whisperlib.Context, language string) (stt.Transcript, error) {
	var (
		parts []string
		psum  float64
		n     int
	)
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stt.Transcript{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
		for _, tok := range seg.Tokens {
			if strings.HasPrefix(tok.Text, "[_") {
				continue
			}
			psum += float64(tok.P)
			n++
		}
	}
	tr := stt.Transcript{Text: strings.Join(parts, " "), Language: language}
	if n > 0 {
		tr.Confidence = psum / float64(n)
	}
	return tr, nil
}

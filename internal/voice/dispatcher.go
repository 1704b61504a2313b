package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/transcript"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/sink"
	"github.com/MrWong99/earshot/pkg/provider/stt"
)

// Default dispatch timeouts.
const (
	DefaultTranscribeTimeout = 30 * time.Second
	DefaultDeliverTimeout    = 5 * time.Second
)

var (
	// ErrTranscribe wraps a transcriber failure. The utterance is dropped.
	ErrTranscribe = errors.New("voice: transcription failed")

	// ErrDeliver wraps a result sink failure. The transcript is dropped.
	ErrDeliver = errors.New("voice: delivery failed")
)

// Outcome classifies a finished dispatch.
type Outcome int

const (
	// OutcomeDelivered means the transcript reached the sink.
	OutcomeDelivered Outcome = iota
	// OutcomeNoAudio means the utterance was empty; nothing was transcribed.
	OutcomeNoAudio
	// OutcomeEmpty means the transcriber returned no text.
	OutcomeEmpty
	// OutcomeTranscribeError means the transcriber failed.
	OutcomeTranscribeError
	// OutcomeDeliverError means the sink failed.
	OutcomeDeliverError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeNoAudio:
		return "no_audio"
	case OutcomeEmpty:
		return "empty"
	case OutcomeTranscribeError:
		return "transcribe_error"
	case OutcomeDeliverError:
		return "deliver_error"
	default:
		return "unknown"
	}
}

// Archiver stores a copy of the raw utterance audio, for debugging.
type Archiver interface {
	Archive(connID string, samples []int16, sampleRate int) (string, error)
}

// DispatcherOption is a functional option for [NewDispatcher].
type DispatcherOption func(*Dispatcher)

// WithConnectionID tags results and logs with the client connection id.
func WithConnectionID(id string) DispatcherOption {
	return func(d *Dispatcher) { d.connID = id }
}

// WithCorrector rewrites transcripts before delivery.
func WithCorrector(c transcript.Corrector) DispatcherOption {
	return func(d *Dispatcher) { d.corrector = c }
}

// WithArchiver stores every non-empty utterance before normalisation.
func WithArchiver(a Archiver) DispatcherOption {
	return func(d *Dispatcher) { d.archiver = a }
}

// WithAudioStats logs sample statistics of every utterance at debug level.
func WithAudioStats(on bool) DispatcherOption {
	return func(d *Dispatcher) { d.audioStats = on }
}

// WithTranscribeTimeout overrides DefaultTranscribeTimeout.
func WithTranscribeTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.transcribeTimeout = t }
}

// WithDeliverTimeout overrides DefaultDeliverTimeout.
func WithDeliverTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.deliverTimeout = t }
}

// WithMetrics records to m instead of observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// Dispatcher turns a finished utterance into a delivered transcript.
type Dispatcher struct {
	transcriber       stt.Transcriber
	sink              sink.Sink
	connID            string
	corrector         transcript.Corrector
	archiver          Archiver
	audioStats        bool
	transcribeTimeout time.Duration
	deliverTimeout    time.Duration
	metrics           *observe.Metrics
}

// NewDispatcher returns a dispatcher that transcribes with tr and delivers
// to s. Neither is closed by the dispatcher.
func NewDispatcher(tr stt.Transcriber, s sink.Sink, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		transcriber:       tr,
		sink:              s,
		transcribeTimeout: DefaultTranscribeTimeout,
		deliverTimeout:    DefaultDeliverTimeout,
	}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	return d
}

// Dispatch peak-normalises u, transcribes it and delivers the text.
//
// An empty utterance and an empty transcript are successful outcomes without
// delivery. Transcriber and sink failures are returned wrapped in
// [ErrTranscribe] and [ErrDeliver]. u is cleared when Dispatch returns,
// whatever the outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, u *Utterance) (outcome Outcome, err error) {
	defer u.Clear()

	ctx, span := observe.StartSpan(ctx, observe.SpanDispatch, trace.WithAttributes(
		observe.ConnID(d.connID),
		attribute.Int("keyword", u.KeywordIndex),
		attribute.String("reason", u.Reason.String()),
	))
	defer func() {
		span.SetAttributes(attribute.String("outcome", outcome.String()))
		observe.EndSpan(span, err)
		d.metrics.RecordDispatch(ctx, outcome.String())
	}()

	log := observe.Logger(ctx, slog.String("conn_id", d.connID))

	if u.Empty() {
		log.Debug("empty utterance discarded")
		return OutcomeNoAudio, nil
	}

	samples := u.Samples()
	duration := u.Duration()
	if d.archiver != nil {
		if path, aerr := d.archiver.Archive(d.connID, samples, u.SampleRate); aerr != nil {
			log.Warn("failed to archive utterance", "err", aerr)
		} else {
			log.Debug("utterance archived", "path", path)
		}
	}
	if d.audioStats {
		st := audio.Measure(samples)
		log.Debug("utterance audio",
			"samples", st.Total,
			"max", st.Max,
			"min", st.Min,
			"mean", st.Mean,
			"non_zero", st.NonZero,
			"silent", st.Silent(),
		)
	}

	peak := audio.PeakNormalize(samples)
	span.SetAttributes(attribute.Int("peak", peak))

	res, terr := d.transcribe(ctx, samples, u.SampleRate)
	if terr != nil {
		d.metrics.RecordProviderError(ctx, "transcriber", "stt")
		return OutcomeTranscribeError, fmt.Errorf("%w: %w", ErrTranscribe, terr)
	}

	raw := strings.TrimSpace(res.Text)
	if raw == "" {
		log.Info("transcriber returned no text", "audio", duration)
		return OutcomeEmpty, nil
	}

	text := raw
	if d.corrector != nil {
		res.Text = raw
		corrected, cerr := d.corrector.Correct(ctx, res)
		switch {
		case cerr != nil:
			log.Warn("transcript correction failed, delivering raw text", "err", cerr)
		case len(corrected.Corrections) > 0:
			text = corrected.Text
			log.Debug("transcript corrected", "raw", raw, "text", text, "corrections", len(corrected.Corrections))
		}
	}

	result := sink.Result{
		ConnectionID:  d.connID,
		Text:          text,
		RawText:       raw,
		KeywordIndex:  u.KeywordIndex,
		AudioDuration: duration,
		Language:      res.Language,
		Words:         res.Words,
		CompletedAt:   time.Now(),
	}

	if derr := d.deliver(ctx, result); derr != nil {
		d.metrics.RecordProviderError(ctx, "sink", "deliver")
		return OutcomeDeliverError, fmt.Errorf("%w: %w", ErrDeliver, derr)
	}

	log.Info("transcript delivered", "text", text, "audio", duration)
	return OutcomeDelivered, nil
}

func (d *Dispatcher) transcribe(ctx context.Context, samples []int16, sampleRate int) (res stt.Transcript, err error) {
	ctx, span := observe.StartSpan(ctx, observe.SpanTranscribe, trace.WithAttributes(
		attribute.Int("samples", len(samples)),
	))
	defer func() { observe.EndSpan(span, err) }()

	tctx, cancel := context.WithTimeout(ctx, d.transcribeTimeout)
	defer cancel()
	start := time.Now()
	res, err = d.transcriber.Transcribe(tctx, samples, sampleRate)
	d.metrics.TranscriptionDuration.Record(ctx, time.Since(start).Seconds())
	if err == nil {
		span.SetAttributes(attribute.String("language", res.Language))
	}
	return res, err
}

func (d *Dispatcher) deliver(ctx context.Context, r sink.Result) (err error) {
	ctx, span := observe.StartSpan(ctx, observe.SpanDeliver)
	defer func() { observe.EndSpan(span, err) }()

	sctx, cancel := context.WithTimeout(ctx, d.deliverTimeout)
	defer cancel()
	start := time.Now()
	err = d.sink.Deliver(sctx, r)
	d.metrics.DeliveryDuration.Record(ctx, time.Since(start).Seconds())
	return err
}

// Package session runs one voice client connection: it reads audio payloads
// from a websocket, drives the wake word gate and the utterance recorder, and
// hands finished utterances to a dispatcher without blocking the read loop.
//
// A [Hub] accepts connections and keeps a [Directory] of the live ones so
// text signals can be pushed to a client out of band.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/voice"
	"github.com/MrWong99/earshot/pkg/audio/opus"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/provider/wakeword"
)

// Signals written to the client as text messages.
const (
	// SignalListening is sent when a wake word was detected.
	SignalListening = "LED_ON"
	// SignalIdle is sent when the utterance has been recorded.
	SignalIdle = "LED_OFF"
)

// Encoding is the format of inbound binary payloads.
type Encoding string

const (
	// EncodingPCM16 is raw little-endian 16-bit mono PCM.
	EncodingPCM16 Encoding = "pcm16"
	// EncodingOpus is one Opus packet per message.
	EncodingOpus Encoding = "opus"
)

// Conn is the subset of *websocket.Conn a session uses.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Info describes a connected client.
type Info struct {
	ID          string    `json:"id"`
	Device      string    `json:"device,omitempty"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Session is the state of one client connection.
//
// The read loop owns the gate, the recorder and the decoder. Signal may be
// called from any goroutine.
type Session struct {
	info         Info
	conn         Conn
	spotter      wakeword.Spotter
	transcriber  stt.Transcriber
	gate         *voice.Gate
	recorder     *voice.Recorder
	dispatcher   *voice.Dispatcher
	decoder      *opus.Decoder
	writeTimeout time.Duration
	metrics      *observe.Metrics
	now          func() time.Time
	log          *slog.Logger

	queue     chan job
	drained   chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// queueDepth bounds the utterances waiting behind the one being dispatched.
// The read loop blocks when it is full.
const queueDepth = 16

type job struct {
	ctx context.Context
	u   *voice.Utterance
}

// Info returns the client description.
func (s *Session) Info() Info { return s.info }

// ID returns the connection id.
func (s *Session) ID() string { return s.info.ID }

// Signal writes msg to the client as a text message.
func (s *Session) Signal(ctx context.Context, msg string) error {
	ctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()
	if err := s.conn.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
		return fmt.Errorf("session: signal %s: %w", s.info.ID, err)
	}
	return nil
}

// run reads payloads until the connection ends. A normal close by the client
// or cancellation of ctx returns nil.
func (s *Session) run(ctx context.Context) error {
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.handle(ctx, typ, data)
	}
}

// handle processes one inbound message. Malformed payloads are logged,
// counted and skipped.
func (s *Session) handle(ctx context.Context, typ websocket.MessageType, data []byte) {
	if typ != websocket.MessageBinary {
		s.log.Warn("ignoring non-binary payload", "type", typ.String(), "bytes", len(data))
		s.metrics.RecordDroppedPayload(ctx, "non_binary")
		return
	}
	if len(data) == 0 {
		s.metrics.RecordDroppedPayload(ctx, "empty")
		return
	}

	pcm := data
	if s.decoder != nil {
		var err error
		if pcm, err = s.decoder.Decode(data); err != nil {
			s.log.Warn("dropping undecodable payload", "err", err)
			s.metrics.RecordDroppedPayload(ctx, "decode")
			// The stream has a gap; a partial frame would straddle it.
			s.gate.Reset()
			return
		}
	}

	now := s.now()
	keyword, detected, err := s.gate.Scan(pcm)
	if err != nil {
		s.log.Warn("wake word spotter failed", "err", err)
		s.metrics.RecordProviderError(ctx, "wakeword", "process")
	}
	if detected {
		s.recorder.Arm(keyword, now)
		s.metrics.RecordWake(ctx, keyword)
		s.log.Info("wake word detected", "keyword", keyword)
		s.signal(ctx, SignalListening)
	}

	u, done := s.recorder.Feed(pcm, now)
	if !done {
		return
	}
	s.metrics.RecordUtterance(ctx, u.Reason.String(), u.Duration().Seconds())
	s.log.Info("utterance recorded", "reason", u.Reason.String(), "duration", u.Duration())
	s.signal(ctx, SignalIdle)
	s.dispatch(ctx, u)
}

func (s *Session) signal(ctx context.Context, msg string) {
	if err := s.Signal(ctx, msg); err != nil {
		s.log.Debug("failed to send signal", "signal", msg, "err", err)
	}
}

// dispatch queues u for the session's worker. The work is detached from ctx
// so a disconnect does not abort it.
func (s *Session) dispatch(ctx context.Context, u *voice.Utterance) {
	s.queue <- job{ctx: context.WithoutCancel(ctx), u: u}
}

// start launches the worker that transcribes and delivers queued utterances
// one at a time, in the order they were recorded.
func (s *Session) start() {
	s.queue = make(chan job, queueDepth)
	s.drained = make(chan struct{})
	go func() {
		defer close(s.drained)
		for j := range s.queue {
			outcome, err := s.dispatcher.Dispatch(j.ctx, j.u)
			if err != nil {
				s.log.Warn("utterance dropped", "outcome", outcome.String(), "err", err)
			}
		}
	}()
}

// Close discards a recording in progress, waits for pending dispatches and
// releases the spotter and transcriber. It must not run concurrently with
// the read loop. Calling Close more than once is safe.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if s.recorder.Cancel() {
			s.log.Debug("discarded unfinished recording")
		}
		close(s.queue)
		<-s.drained
		s.closeErr = errors.Join(s.spotter.Close(), s.transcriber.Close())
	})
	return s.closeErr
}

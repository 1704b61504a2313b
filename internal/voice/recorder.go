package voice

import (
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
)

// State is a [Recorder] state.
type State int

const (
	// StateIdle waits for a wake word. Audio is ignored.
	StateIdle State = iota
	// StateArmed records inside the grace period; every chunk counts as
	// voiced.
	StateArmed
	// StateListening records and ends the utterance on trailing silence.
	StateListening
	// StateCompleted is passed through while the finished utterance is
	// handed out; the recorder is back in StateIdle when Feed returns.
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateListening:
		return "listening"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// RecorderOption is a functional option for [NewRecorder].
type RecorderOption func(*Recorder)

// WithTransitionHook calls fn on every state change, in order.
func WithTransitionHook(fn func(from, to State)) RecorderOption {
	return func(r *Recorder) { r.onTransition = fn }
}

// Recorder collects the audio of one spoken command at a time.
//
// Time is passed in by the caller on every call so tests can drive the state
// machine with a fake clock. Callers should pass readings that carry a
// monotonic component (time.Now), since all comparisons are differences.
type Recorder struct {
	cfg          Config
	state        State
	start        time.Time
	lastVoiced   time.Time
	keyword      int
	buf          []byte
	onTransition func(from, to State)
}

// NewRecorder returns an idle recorder.
func NewRecorder(cfg Config, opts ...RecorderOption) (*Recorder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Recorder{cfg: cfg}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// State returns the current state.
func (r *Recorder) State() State { return r.state }

// Buffered returns the number of recorded bytes.
func (r *Recorder) Buffered() int { return len(r.buf) }

// Arm starts a fresh recording at now for the given wake word index. A
// recording already in progress is discarded.
func (r *Recorder) Arm(keyword int, now time.Time) {
	r.buf = r.buf[:0]
	r.start = now
	r.lastVoiced = now
	r.keyword = keyword
	r.transition(StateArmed)
}

// Cancel discards a recording in progress and reports whether there was one.
func (r *Recorder) Cancel() bool {
	if r.state == StateIdle {
		return false
	}
	r.buf = nil
	r.transition(StateIdle)
	return true
}

// Feed records chunk at now. When the chunk ends the recording it returns
// the finished utterance and true; the recorder is idle again and no longer
// references the returned audio.
//
// Chunks are ignored while idle. A chunk without a full sample is kept in
// the recording so later samples stay aligned, but it does not advance the
// state machine.
func (r *Recorder) Feed(chunk []byte, now time.Time) (*Utterance, bool) {
	if r.state == StateIdle || len(chunk) == 0 {
		return nil, false
	}
	r.buf = append(r.buf, chunk...)
	if len(chunk) < 2 {
		return nil, false
	}

	elapsed := now.Sub(r.start)
	if elapsed > r.cfg.MaxDuration {
		return r.complete(ReasonMaxDuration, now), true
	}

	switch r.state {
	case StateArmed:
		if elapsed >= r.cfg.GracePeriod {
			r.lastVoiced = now
			r.transition(StateListening)
		}
	case StateListening:
		if audio.RMS(chunk) > r.cfg.SilenceThreshold {
			r.lastVoiced = now
		} else if now.Sub(r.lastVoiced) > r.cfg.SilenceDuration+r.cfg.SecondaryGracePeriod {
			return r.complete(ReasonSilence, now), true
		}
	}
	return nil, false
}

func (r *Recorder) complete(reason Reason, now time.Time) *Utterance {
	r.transition(StateCompleted)
	u := &Utterance{
		PCM:          r.buf,
		SampleRate:   r.cfg.SampleRate,
		KeywordIndex: r.keyword,
		StartedAt:    r.start,
		EndedAt:      now,
		Reason:       reason,
	}
	r.buf = nil
	r.transition(StateIdle)
	return u
}

func (r *Recorder) transition(to State) {
	from := r.state
	r.state = to
	if r.onTransition != nil && from != to {
		r.onTransition(from, to)
	}
}

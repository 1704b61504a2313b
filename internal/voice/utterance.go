package voice

import (
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
)

// Reason tells why a recording ended.
type Reason int

const (
	// ReasonSilence means the VAD saw enough trailing silence.
	ReasonSilence Reason = iota
	// ReasonMaxDuration means the recording hit Config.MaxDuration.
	ReasonMaxDuration
)

func (r Reason) String() string {
	switch r {
	case ReasonSilence:
		return "silence"
	case ReasonMaxDuration:
		return "max_duration"
	default:
		return "unknown"
	}
}

// Utterance is the audio captured between a wake word and the end of the
// command, as little-endian int16 PCM.
type Utterance struct {
	PCM          []byte
	SampleRate   int
	KeywordIndex int
	StartedAt    time.Time
	EndedAt      time.Time
	Reason       Reason
}

// Empty reports whether the utterance holds no samples.
func (u *Utterance) Empty() bool { return len(u.PCM) < 2 }

// Samples decodes PCM into a new slice.
func (u *Utterance) Samples() []int16 { return audio.BytesToInt16(u.PCM) }

// Duration is the audio length of PCM.
func (u *Utterance) Duration() time.Duration { return audio.Duration(len(u.PCM), u.SampleRate) }

// Clear drops the audio.
func (u *Utterance) Clear() { u.PCM = nil }

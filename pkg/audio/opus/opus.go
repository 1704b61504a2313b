// Package opus converts between Opus packets and the mono int16 PCM the voice
// pipeline works with. Clients on constrained uplinks may send one Opus packet
// per websocket message instead of raw PCM.
package opus

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/MrWong99/earshot/pkg/audio"
)

// maxFrameMs is the longest frame duration Opus allows in a single packet.
const maxFrameMs = 120

// Decoder decodes a stream of Opus packets from one client. Decoder state
// carries across packets, so each connection needs its own instance.
type Decoder struct {
	dec       *gopus.Decoder
	frameSize int
}

// NewDecoder creates a mono decoder producing PCM at sampleRate, which must
// be one of the rates Opus supports (8, 12, 16, 24 or 48 kHz).
func NewDecoder(sampleRate int) (*Decoder, error) {
	dec, err := gopus.NewDecoder(sampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("opus: create decoder: %w", err)
	}
	return &Decoder{dec: dec, frameSize: sampleRate * maxFrameMs / 1000}, nil
}

// Decode turns one Opus packet into little-endian int16 PCM.
func (d *Decoder) Decode(packet []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(packet, d.frameSize, false)
	if err != nil {
		return nil, fmt.Errorf("opus: decode: %w", err)
	}
	return audio.Int16ToBytes(pcm), nil
}

// Encoder produces Opus packets from fixed-size mono PCM frames. It is used by
// the streaming client and tests.
type Encoder struct {
	enc       *gopus.Encoder
	frameSize int
}

// NewEncoder creates a VoIP-tuned mono encoder. frameMs must be a valid Opus
// frame duration (10, 20, 40 or 60 ms).
func NewEncoder(sampleRate, frameMs int) (*Encoder, error) {
	enc, err := gopus.NewEncoder(sampleRate, 1, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("opus: create encoder: %w", err)
	}
	return &Encoder{enc: enc, frameSize: sampleRate * frameMs / 1000}, nil
}

// FrameSize returns the number of samples each Encode call expects.
func (e *Encoder) FrameSize() int { return e.frameSize }

// Encode compresses exactly FrameSize samples into one packet.
func (e *Encoder) Encode(samples []int16) ([]byte, error) {
	if len(samples) != e.frameSize {
		return nil, fmt.Errorf("opus: encode: got %d samples, want %d", len(samples), e.frameSize)
	}
	packet, err := e.enc.Encode(samples, e.frameSize, len(samples)*2)
	if err != nil {
		return nil, fmt.Errorf("opus: encode: %w", err)
	}
	return packet, nil
}

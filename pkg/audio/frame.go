package audio

import (
	"fmt"
	"iter"
)

// FrameAccumulator turns arbitrarily sized PCM chunks into fixed-length
// frames of frameLength samples, the unit a keyword spotter consumes.
// Bytes that do not yet fill a frame stay buffered for the next Push.
//
// A FrameAccumulator is owned by a single connection and is not safe for
// concurrent use.
type FrameAccumulator struct {
	frameLength int
	buf         []byte
}

// NewFrameAccumulator returns an accumulator producing frames of frameLength
// samples (frameLength*2 bytes).
func NewFrameAccumulator(frameLength int) (*FrameAccumulator, error) {
	if frameLength <= 0 {
		return nil, fmt.Errorf("audio: frame length must be positive, got %d", frameLength)
	}
	return &FrameAccumulator{frameLength: frameLength}, nil
}

// FrameLength returns the frame size in samples.
func (a *FrameAccumulator) FrameLength() int { return a.frameLength }

// Push appends chunk to the buffer and returns the sequence of complete
// frames now available. Frames are removed from the buffer as the sequence
// is consumed; stopping early leaves the rest buffered for the next call.
func (a *FrameAccumulator) Push(chunk []byte) iter.Seq[[]int16] {
	a.buf = append(a.buf, chunk...)
	return func(yield func([]int16) bool) {
		frameBytes := a.frameLength * 2
		for len(a.buf) >= frameBytes {
			frame := BytesToInt16(a.buf[:frameBytes])
			a.buf = a.buf[frameBytes:]
			if !yield(frame) {
				return
			}
		}
	}
}

// Buffered returns a copy of the bytes waiting for a complete frame.
func (a *FrameAccumulator) Buffered() []byte {
	out := make([]byte, len(a.buf))
	copy(out, a.buf)
	return out
}

// Reset drops any buffered bytes.
func (a *FrameAccumulator) Reset() {
	a.buf = nil
}

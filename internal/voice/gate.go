package voice

import (
	"errors"
	"fmt"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/wakeword"
)

// Gate aligns incoming audio to the spotter's frame length and reports wake
// word matches.
type Gate struct {
	spotter wakeword.Spotter
	frames  *audio.FrameAccumulator
}

// NewGate wraps spotter. The spotter stays owned by the caller.
func NewGate(spotter wakeword.Spotter) (*Gate, error) {
	frames, err := audio.NewFrameAccumulator(spotter.FrameLength())
	if err != nil {
		return nil, fmt.Errorf("voice: %w", err)
	}
	return &Gate{spotter: spotter, frames: frames}, nil
}

// Detect runs one frame through the spotter and returns the matched keyword
// index.
func (g *Gate) Detect(frame []int16) (int, bool, error) {
	idx, err := g.spotter.Process(frame)
	if err != nil {
		return wakeword.NoMatch, false, err
	}
	return idx, idx >= 0, nil
}

// Scan buffers chunk and runs every complete frame through the spotter. It
// returns the last keyword matched in this chunk. A frame the spotter fails
// on is skipped; the failures are joined into err while the remaining frames
// are still processed.
func (g *Gate) Scan(chunk []byte) (keyword int, detected bool, err error) {
	keyword = wakeword.NoMatch
	var errs []error
	for frame := range g.frames.Push(chunk) {
		idx, ok, ferr := g.Detect(frame)
		if ferr != nil {
			errs = append(errs, ferr)
			continue
		}
		if ok {
			keyword, detected = idx, true
		}
	}
	return keyword, detected, errors.Join(errs...)
}

// Pending returns the number of bytes waiting for a complete frame.
func (g *Gate) Pending() int { return len(g.frames.Buffered()) }

// Reset drops the bytes waiting for a complete frame.
func (g *Gate) Reset() { g.frames.Reset() }

package audio_test

import (
	"bytes"
	"testing"

	"github.com/MrWong99/earshot/pkg/audio"
)

// sequentialPCM returns n bytes whose values count up so that reordering or
// loss is visible in comparisons.
func sequentialPCM(start, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(start + i)
	}
	return b
}

func TestNewFrameAccumulator_RejectsNonPositiveLength(t *testing.T) {
	for _, n := range []int{0, -1} {
		if _, err := audio.NewFrameAccumulator(n); err == nil {
			t.Errorf("NewFrameAccumulator(%d): expected error", n)
		}
	}
}

func TestFrameAccumulator_SmallChunkYieldsNothing(t *testing.T) {
	acc, _ := audio.NewFrameAccumulator(4)

	count := 0
	for range acc.Push(sequentialPCM(0, 7)) {
		count++
	}
	if count != 0 {
		t.Fatalf("frames = %d, want 0", count)
	}
	if got := len(acc.Buffered()); got != 7 {
		t.Errorf("buffered = %d bytes, want 7", got)
	}
}

func TestFrameAccumulator_LargeChunkYieldsSeveral(t *testing.T) {
	acc, _ := audio.NewFrameAccumulator(4)

	var frames [][]int16
	for f := range acc.Push(sequentialPCM(0, 8*3+2)) {
		frames = append(frames, f)
	}
	if len(frames) != 3 {
		t.Fatalf("frames = %d, want 3", len(frames))
	}
	for i, f := range frames {
		if len(f) != 4 {
			t.Errorf("frame %d has %d samples, want 4", i, len(f))
		}
	}
	if got := len(acc.Buffered()); got != 2 {
		t.Errorf("buffered = %d bytes, want 2", got)
	}
}

func TestFrameAccumulator_NoLossNoReordering(t *testing.T) {
	const frameLength = 5
	chunkSizes := []int{1, 3, 10, 17, 2, 0, 9, 31, 4, 11}

	acc, _ := audio.NewFrameAccumulator(frameLength)

	var pushed, consumed []byte
	offset := 0
	for _, n := range chunkSizes {
		chunk := sequentialPCM(offset, n)
		offset += n
		pushed = append(pushed, chunk...)
		for f := range acc.Push(chunk) {
			if len(f) != frameLength {
				t.Fatalf("frame has %d samples, want %d", len(f), frameLength)
			}
			consumed = append(consumed, audio.Int16ToBytes(f)...)
		}
	}
	consumed = append(consumed, acc.Buffered()...)

	if !bytes.Equal(consumed, pushed) {
		t.Fatalf("frames + remainder differ from pushed bytes\n got  %v\n want %v", consumed, pushed)
	}
}

func TestFrameAccumulator_EarlyBreakKeepsFramesBuffered(t *testing.T) {
	acc, _ := audio.NewFrameAccumulator(2)

	for range acc.Push(sequentialPCM(0, 12)) {
		break
	}
	if got := len(acc.Buffered()); got != 8 {
		t.Fatalf("buffered after break = %d bytes, want 8", got)
	}

	count := 0
	for range acc.Push(nil) {
		count++
	}
	if count != 2 {
		t.Errorf("frames on next push = %d, want 2", count)
	}
}

func TestFrameAccumulator_Reset(t *testing.T) {
	acc, _ := audio.NewFrameAccumulator(4)
	for range acc.Push(sequentialPCM(0, 5)) {
	}
	acc.Reset()
	if got := len(acc.Buffered()); got != 0 {
		t.Errorf("buffered after reset = %d, want 0", got)
	}
}

// Package audio holds the PCM plumbing shared by the earshot voice pipeline:
// little-endian int16 conversion, loudness measurement, peak normalisation,
// resampling, frame alignment for keyword spotters and WAV encoding.
//
// All PCM in this package is mono, 16-bit signed, little-endian. Functions
// that take a byte slice silently ignore a trailing odd byte.
package audio

import (
	"math"
	"time"
)

// BytesToInt16 decodes little-endian int16 PCM into samples.
func BytesToInt16(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return samples
}

// Int16ToBytes encodes samples as little-endian int16 PCM.
func Int16ToBytes(samples []int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

// RMS returns the root-mean-square amplitude of a little-endian int16 PCM
// chunk. An empty chunk or one with zero energy yields 0.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(pcm[i*2]) | int16(pcm[i*2+1])<<8)
		sum += v * v
	}
	meanSquare := sum / float64(n)
	if meanSquare <= 0 {
		return 0
	}
	return math.Sqrt(meanSquare)
}

// SampleRMS is [RMS] over already decoded samples.
func SampleRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// PeakNormalize rescales samples in place so that the loudest one reaches
// full scale (32767). Scaled values are truncated toward zero, which keeps
// the ratios between samples intact up to integer rounding. A slice whose
// peak is zero is left untouched. It returns the peak found before scaling.
func PeakNormalize(samples []int16) int {
	peak := 0
	for _, s := range samples {
		v := int(s)
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	if peak == 0 {
		return 0
	}
	for i, s := range samples {
		samples[i] = int16(int(s) * 32767 / peak)
	}
	return peak
}

// Stats summarises a block of samples for diagnostics.
type Stats struct {
	Max     int16
	Min     int16
	Mean    float64
	NonZero int
	Total   int
}

// Silent reports whether every sample was zero.
func (s Stats) Silent() bool { return s.NonZero == 0 }

// Measure computes [Stats] over samples.
func Measure(samples []int16) Stats {
	st := Stats{Total: len(samples)}
	if len(samples) == 0 {
		return st
	}
	st.Max, st.Min = samples[0], samples[0]
	var sum int64
	for _, s := range samples {
		if s > st.Max {
			st.Max = s
		}
		if s < st.Min {
			st.Min = s
		}
		if s != 0 {
			st.NonZero++
		}
		sum += int64(s)
	}
	st.Mean = float64(sum) / float64(len(samples))
	return st
}

// Duration returns how long n bytes of mono int16 PCM last at sampleRate.
func Duration(n int, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := n / 2
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// Resample converts mono samples from srcRate to dstRate with linear
// interpolation. When the rates match (or either is invalid) the input is
// returned as is.
func Resample(samples []int16, srcRate, dstRate int) []int16 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	n := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if n == 0 {
		return nil
	}
	out := make([]int16, n)
	step := float64(srcRate) / float64(dstRate)
	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		s0 := samples[idx]
		s1 := s0
		if idx+1 < len(samples) {
			s1 = samples[idx+1]
		}
		out[i] = int16(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return out
}

// ToFloat32 converts samples to float32 in [-1, 1], the input format of
// whisper.cpp.
func ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

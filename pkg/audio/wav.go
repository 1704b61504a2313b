package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const bitsPerSample = 16

// WAVBytes wraps mono int16 PCM in an in-memory RIFF/WAV container, ready to
// be uploaded as a multipart file.
func WAVBytes(pcm []byte, sampleRate int) []byte {
	byteRate := sampleRate * bitsPerSample / 8
	blockAlign := bitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)
	return buf
}

// WriteWAVFile writes samples to path as a mono 16-bit WAV file.
func WriteWAVFile(path string, samples []int16, sampleRate int) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audio: create wav: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("audio: close wav: %w", cerr)
		}
	}()

	enc := wav.NewEncoder(f, sampleRate, bitsPerSample, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           make([]int, len(samples)),
		SourceBitDepth: bitsPerSample,
	}
	for i, s := range samples {
		buf.Data[i] = int(s)
	}
	if err := enc.Write(buf); err != nil {
		_ = enc.Close()
		return fmt.Errorf("audio: encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("audio: finish wav: %w", err)
	}
	return nil
}

// ReadWAV decodes a 16-bit PCM WAV stream. Multi-channel input is downmixed
// to mono by averaging. It returns the samples and their sample rate.
func ReadWAV(r io.ReadSeeker) ([]int16, int, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("audio: not a valid wav stream")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("audio: decode wav: %w", err)
	}
	if dec.BitDepth != bitsPerSample {
		return nil, 0, fmt.Errorf("audio: unsupported bit depth %d, want %d", dec.BitDepth, bitsPerSample)
	}

	channels := int(dec.NumChans)
	if channels < 1 {
		channels = 1
	}
	n := len(buf.Data) / channels
	out := make([]int16, n)
	for i := range n {
		sum := 0
		for ch := range channels {
			sum += buf.Data[i*channels+ch]
		}
		out[i] = int16(sum / channels)
	}
	return out, int(dec.SampleRate), nil
}

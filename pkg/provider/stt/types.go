package stt

import "time"

// Transcript is the result of transcribing one utterance.
type Transcript struct {
	// Text is the recognised speech, trimmed of surrounding whitespace.
	Text string

	// Confidence is the overall confidence (0.0–1.0). Zero if the engine does
	// not report one.
	Confidence float64

	// Words holds per-word timing when the engine provides it (Leopard,
	// Deepgram). Nil otherwise.
	Words []WordDetail

	// Language is the detected or configured language, when known.
	Language string
}

// WordDetail holds per-word metadata relative to the start of the utterance.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// Package transcript cleans up engine transcripts before delivery.
//
// Speech engines mishear names they were never trained on: rooms, devices,
// people. A [Corrector] rewrites such phrases to the spelling given in the
// configured vocabulary and reports every substitution so the raw text can be
// delivered alongside the corrected one.
package transcript

import (
	"context"

	"github.com/MrWong99/earshot/pkg/provider/stt"
)

// Correction is one phrase substitution.
type Correction struct {
	// Original is the phrase as the engine produced it, without surrounding
	// punctuation.
	Original string

	// Corrected is the vocabulary term that replaced it.
	Corrected string

	// Confidence is the match score in [0, 1].
	Confidence float64
}

// Corrected is the output of [Corrector.Correct].
type Corrected struct {
	// Original is the transcript as received.
	Original stt.Transcript

	// Text is the transcript text with all substitutions applied.
	Text string

	// Corrections lists the substitutions in text order. Empty (non-nil)
	// when nothing changed.
	Corrections []Correction
}

// Corrector rewrites transcripts against a vocabulary. Implementations must
// be safe for concurrent use.
type Corrector interface {
	Correct(ctx context.Context, t stt.Transcript) (*Corrected, error)
}

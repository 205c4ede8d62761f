// Package stt defines the Transcriber interface for speech-to-text backends.
//
// Transcription here is batch, not streaming: the segmenter upstream already
// classifies speech against silence and hands over closed utterances, so a
// transcriber only ever sees one complete utterance per call. The Result
// carries the model's no-speech probability so callers can discard segments
// the model itself believes contain no speech (breathing, keyboard noise)
// before any command matching happens.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"strings"
)

// DefaultNoSpeechCutoff is the no-speech probability at or above which a
// result is treated as non-speech and discarded.
const DefaultNoSpeechCutoff = 0.5

// Result is the transcription of one complete utterance.
type Result struct {
	// Text is the transcribed speech content.
	Text string

	// NoSpeechProb is the model's probability that the audio contains no
	// speech at all, 0.0–1.0. Zero if the backend does not report it.
	NoSpeechProb float64

	// Confidence is the overall confidence score, 0.0–1.0. May be zero if
	// the backend does not report confidence.
	Confidence float64
}

// IsSpeech reports whether the result should be treated as real speech: the
// text is non-empty and NoSpeechProb is below cutoff. A non-positive cutoff
// takes [DefaultNoSpeechCutoff].
func (r Result) IsSpeech(cutoff float64) bool {
	if cutoff <= 0 {
		cutoff = DefaultNoSpeechCutoff
	}
	return strings.TrimSpace(r.Text) != "" && r.NoSpeechProb < cutoff
}

// Transcriber is the abstraction over any speech-to-text backend.
type Transcriber interface {
	// Transcribe runs inference over one complete utterance of 16-bit mono
	// PCM at the given sample rate. An utterance the model heard nothing in
	// is a normal Result with a high NoSpeechProb, not an error.
	Transcribe(ctx context.Context, samples []int16, sampleRate int) (Result, error)
}

// Package tts defines the Synthesizer interface for Text-to-Speech backends.
//
// A synthesizer wraps a speech synthesis service (e.g., ElevenLabs or a local
// Coqui server) and turns one reply or announcement into playable audio.
// Synthesis is fire-and-forget from the caller's perspective: replies are
// spoken as a side effect of a conversational turn and a failed synthesis
// never blocks or fails the turn itself.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Voice describes one voice available from a backend's catalogue.
type Voice struct {
	// ID is the provider-assigned voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider names the backend the voice belongs to.
	Provider string

	// Metadata carries provider-specific labels (category, accent, ...).
	Metadata map[string]string
}

// Synthesizer is the abstraction over any TTS backend.
type Synthesizer interface {
	// Synthesize renders text as audio and returns the full clip. The byte
	// format is implementation-defined (raw 16-bit PCM for the bundled
	// backends); consult the implementation for sample rate and layout.
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

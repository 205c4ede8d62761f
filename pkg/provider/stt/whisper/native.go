// This file contains the Native transcriber backed by the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/aegisd/aegis/pkg/provider/stt"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// Compile-time assertion that Native satisfies stt.Transcriber.
var _ stt.Transcriber = (*Native)(nil)

// Native implements stt.Transcriber using the whisper.cpp Go bindings (CGO),
// eliminating HTTP overhead entirely. The model is loaded once at startup and
// shared; whisper contexts are not thread-safe, so inference is serialised
// with a mutex.
type Native struct {
	model    whisperlib.Model
	language string

	mu sync.Mutex
}

// NewNative creates a Native transcriber that loads the GGML model from the
// given file path. The caller must call Close when the transcriber is no
// longer needed.
func NewNative(modelPath string, opts ...Option) (*Native, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	o := options{language: defaultLanguage}
	for _, opt := range opts {
		opt(&o)
	}
	return &Native{
		model:    model,
		language: o.language,
	}, nil
}

// Close releases the whisper model.
func (n *Native) Close() error {
	if n.model != nil {
		return n.model.Close()
	}
	return nil
}

// Transcribe converts the utterance to float32, runs whisper.cpp inference in
// a fresh context, and concatenates the segment texts. The bindings do not
// expose the model's no-speech probability, so an utterance yielding no
// segments at all reports NoSpeechProb 1.0 and any transcribed text reports
// 0.0.
func (n *Native) Transcribe(ctx context.Context, samples []int16, sampleRate int) (stt.Result, error) {
	if err := ctx.Err(); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: context already cancelled: %w", err)
	}
	if len(samples) == 0 {
		return stt.Result{NoSpeechProb: 1}, nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	wctx, err := n.model.NewContext()
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create context: %w", err)
	}

	if err := wctx.SetLanguage(n.language); err != nil {
		slog.Warn("whisper: failed to set language, using default",
			"language", n.language, "error", err)
	}

	if err := wctx.Process(int16ToFloat32(samples), nil, nil, nil); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stt.Result{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}

	text := strings.Join(parts, " ")
	if text == "" {
		return stt.Result{NoSpeechProb: 1}, nil
	}
	return stt.Result{Text: text}, nil
}

// int16ToFloat32 converts 16-bit PCM samples to the normalised float32 mono
// samples whisper.cpp expects.
func int16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

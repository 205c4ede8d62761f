// Package mock provides a test double for the stt.Transcriber interface.
//
// Use Transcriber to return scripted results per utterance and to verify
// which audio was submitted for transcription.
package mock

import (
	"context"
	"sync"

	"github.com/aegisd/aegis/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Samples is a copy of the PCM passed in.
	Samples []int16
	// SampleRate is the sample rate passed in.
	SampleRate int
}

// Transcriber is a mock implementation of stt.Transcriber.
//
// If Script is non-empty, successive calls return its entries in order,
// repeating the last entry once exhausted. Otherwise every call returns
// Result, Err.
type Transcriber struct {
	mu sync.Mutex

	// Result is the default result for every call.
	Result stt.Result

	// Err, if non-nil, is returned as the error from every call.
	Err error

	// Script, if non-empty, overrides Result: call n returns Script[n]
	// (clamped to the last entry).
	Script []stt.Result

	// TranscribeCalls records every call in order.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns the scripted result.
func (t *Transcriber) Transcribe(ctx context.Context, samples []int16, sampleRate int) (stt.Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cp := make([]int16, len(samples))
	copy(cp, samples)
	n := len(t.TranscribeCalls)
	t.TranscribeCalls = append(t.TranscribeCalls, TranscribeCall{Ctx: ctx, Samples: cp, SampleRate: sampleRate})

	if t.Err != nil {
		return stt.Result{}, t.Err
	}
	if len(t.Script) > 0 {
		if n >= len(t.Script) {
			n = len(t.Script) - 1
		}
		return t.Script[n], nil
	}
	return t.Result, nil
}

// Calls returns the number of recorded calls. Thread-safe.
func (t *Transcriber) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.TranscribeCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (t *Transcriber) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.TranscribeCalls = nil
}

// Ensure Transcriber implements stt.Transcriber at compile time.
var _ stt.Transcriber = (*Transcriber)(nil)

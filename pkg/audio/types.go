// Package audio defines the frame types and capture-source abstraction used by
// the aegis sensing pipeline, together with small PCM conversion helpers.
//
// Frames are the atomic unit of audio transport: a capture source produces
// mono int16 PCM frames at a fixed cadence, the calibrator and segmenter
// consume them exactly once. Sources signal device loss by closing their frame
// channel and reporting [ErrCaptureLost] from Err, so failure travels with the
// stream, never as a panic across goroutine boundaries.
package audio

import (
	"errors"
	"time"
)

// DefaultSampleRate is the pipeline-wide capture rate in Hz. All sensing
// components assume mono PCM at this rate; sources delivering other formats
// must convert before handing frames over.
const DefaultSampleRate = 16000

// ErrCaptureLost is reported by [Source.Err] after the frame channel closes
// because the underlying capture device disconnected or the stream broke.
// Consumers must treat it as a fatal, non-recoverable loss of the source.
var ErrCaptureLost = errors.New("audio: capture source lost")

// Frame is a single chunk of mono PCM captured from a source.
type Frame struct {
	// Samples is little-endian mono PCM at the source's sample rate.
	Samples []int16

	// Timestamp marks when the frame was captured.
	Timestamp time.Time
}

// Duration returns the wall-clock length of the frame at the given rate.
func (f Frame) Duration(sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(sampleRate)
}

// Source is a continuous audio capture device.
//
// Frames returns the stream of captured frames. The channel is closed when the
// source shuts down; after it closes, Err reports nil for a clean Close and
// [ErrCaptureLost] (possibly wrapped) when the device was lost. Implementations
// must never block indefinitely on a slow consumer; real-time capture favours
// dropping over stalling.
type Source interface {
	Frames() <-chan Frame
	Err() error
	Close() error
}

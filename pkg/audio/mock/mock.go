// Package mock provides an in-memory implementation of [audio.Source] for
// unit tests. Tests push frames through the exported channel and control the
// terminal error to simulate clean shutdown or device loss.
//
// Typical usage:
//
//	src := mock.NewSource(8)
//	src.Push([]int16{0, 0, 0})
//	src.Lose() // simulates device disconnection
package mock

import (
	"sync"
	"time"

	"github.com/aegisd/aegis/pkg/audio"
)

// Source is a mock implementation of [audio.Source].
// All methods are safe for concurrent use.
type Source struct {
	frames chan audio.Frame

	mu     sync.Mutex
	err    error
	closed bool
}

// NewSource creates a mock source whose frame channel has the given buffer.
func NewSource(buffer int) *Source {
	return &Source{frames: make(chan audio.Frame, buffer)}
}

// Push delivers one frame of samples stamped with the current time.
// It blocks if the channel buffer is full and no consumer is draining.
func (s *Source) Push(samples []int16) {
	s.frames <- audio.Frame{Samples: samples, Timestamp: time.Now()}
}

// PushFrame delivers a fully specified frame.
func (s *Source) PushFrame(f audio.Frame) {
	s.frames <- f
}

// Lose simulates capture-device loss: the frame channel is closed and Err
// reports [audio.ErrCaptureLost] afterwards.
func (s *Source) Lose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = audio.ErrCaptureLost
	close(s.frames)
}

// Frames implements [audio.Source].
func (s *Source) Frames() <-chan audio.Frame { return s.frames }

// Err implements [audio.Source].
func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close implements [audio.Source]. Closing is a clean shutdown; Err stays nil.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.frames)
	return nil
}

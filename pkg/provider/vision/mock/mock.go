// Package mock provides a test double for the vision.Detector interface.
//
// Use Detector to return scripted encodings per frame and to verify which
// frames were submitted for detection.
package mock

import (
	"context"
	"sync"

	"github.com/aegisd/aegis/pkg/provider/vision"
)

// DetectCall records a single invocation of DetectFacesAndEncode.
type DetectCall struct {
	// Ctx is the context passed to DetectFacesAndEncode.
	Ctx context.Context
	// Image is a copy of the image bytes passed in.
	Image []byte
}

// Detector is a mock implementation of vision.Detector.
//
// If Script is non-empty, successive calls return its entries in order,
// repeating the last entry once exhausted. Otherwise every call returns
// Encodings, Err.
type Detector struct {
	mu sync.Mutex

	// Encodings is the default result for every call.
	Encodings []vision.Encoding

	// Err, if non-nil, is returned as the error from every call.
	Err error

	// Script, if non-empty, overrides Encodings: call n returns Script[n]
	// (clamped to the last entry).
	Script [][]vision.Encoding

	// DetectCalls records every call in order.
	DetectCalls []DetectCall
}

// DetectFacesAndEncode records the call and returns the scripted result.
func (d *Detector) DetectFacesAndEncode(ctx context.Context, image []byte) ([]vision.Encoding, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	img := make([]byte, len(image))
	copy(img, image)
	n := len(d.DetectCalls)
	d.DetectCalls = append(d.DetectCalls, DetectCall{Ctx: ctx, Image: img})

	if d.Err != nil {
		return nil, d.Err
	}
	if len(d.Script) > 0 {
		if n >= len(d.Script) {
			n = len(d.Script) - 1
		}
		return d.Script[n], nil
	}
	return d.Encodings, nil
}

// Calls returns the number of recorded calls. Thread-safe.
func (d *Detector) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.DetectCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DetectCalls = nil
}

// Ensure Detector implements vision.Detector at compile time.
var _ vision.Detector = (*Detector)(nil)

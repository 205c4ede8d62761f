// Package vision defines the Detector interface for face detection and
// encoding backends.
//
// A detector wraps a face-embedding model (e.g. a dlib-based face service or
// a hosted vision API) and reduces every video frame to zero or more
// fixed-length encodings. The verifier compares those encodings against the
// enrolled trusted set by Euclidean distance; the detector itself carries no
// identity knowledge.
//
// Implementations must be safe for concurrent use.
package vision

import (
	"context"
	"fmt"
	"math"
)

// EncodingDim is the dimensionality of a face encoding.
const EncodingDim = 128

// Encoding is a fixed-length face embedding vector.
type Encoding []float32

// Validate returns an error when the encoding does not have [EncodingDim]
// components.
func (e Encoding) Validate() error {
	if len(e) != EncodingDim {
		return fmt.Errorf("vision: encoding has %d dimensions, want %d", len(e), EncodingDim)
	}
	return nil
}

// Distance returns the Euclidean distance between two encodings. The caller
// is responsible for dimension agreement; extra components in either vector
// are ignored.
func Distance(a, b Encoding) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := range n {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Detector is the abstraction over any face detection + encoding backend.
type Detector interface {
	// DetectFacesAndEncode finds every face in the encoded image and returns
	// one encoding per face. An empty slice (no faces) is a normal result,
	// not an error. Errors indicate the backend itself failed.
	DetectFacesAndEncode(ctx context.Context, image []byte) ([]Encoding, error)
}

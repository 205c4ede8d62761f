// Package httpface provides a vision.Detector backed by a face-encoding HTTP
// service (e.g. a dlib/face_recognition sidecar). It implements the
// vision.Detector interface.
//
// Detection is performed via POST /encode with the raw image bytes as the
// request body; the service responds with a JSON array of 128-dimensional
// encodings, one per detected face.
//
// Typical usage:
//
//	d, err := httpface.New("http://localhost:8100",
//	    httpface.WithTimeout(5*time.Second),
//	)
//	encodings, err := d.DetectFacesAndEncode(ctx, jpegBytes)
package httpface

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aegisd/aegis/pkg/provider/vision"
)

// Compile-time interface assertion.
var _ vision.Detector = (*Detector)(nil)

const (
	defaultTimeout = 10 * time.Second
	encodeEndpoint = "/encode"
)

// Option is a functional option for configuring a Detector.
type Option func(*Detector)

// WithTimeout sets the per-request HTTP timeout for calls to the face service.
// Defaults to 10 s if not set.
func WithTimeout(d time.Duration) Option {
	return func(det *Detector) {
		det.httpClient.Timeout = d
	}
}

// WithContentType overrides the Content-Type header sent with each frame.
// Defaults to "image/jpeg".
func WithContentType(ct string) Option {
	return func(det *Detector) {
		det.contentType = ct
	}
}

// Detector implements vision.Detector against a face-encoding HTTP service.
// It is safe for concurrent use.
type Detector struct {
	serverURL   string
	contentType string
	httpClient  *http.Client
}

// New creates a Detector that targets the face service at serverURL
// (e.g. "http://localhost:8100"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Detector, error) {
	if serverURL == "" {
		return nil, errors.New("httpface: serverURL must not be empty")
	}
	d := &Detector{
		serverURL:   strings.TrimRight(serverURL, "/"),
		contentType: "image/jpeg",
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// encodeResponse is the JSON body returned by POST /encode.
type encodeResponse struct {
	Encodings [][]float32 `json:"encodings"`
}

// DetectFacesAndEncode sends the image to the face service and returns one
// encoding per detected face. A response with no encodings is returned as an
// empty slice, not an error.
func (d *Detector) DetectFacesAndEncode(ctx context.Context, image []byte) ([]vision.Encoding, error) {
	if len(image) == 0 {
		return nil, errors.New("httpface: image must not be empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.serverURL+encodeEndpoint, bytes.NewReader(image))
	if err != nil {
		return nil, fmt.Errorf("httpface: create encode request: %w", err)
	}
	req.Header.Set("Content-Type", d.contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpface: POST %s: %w", encodeEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("httpface: POST %s returned status %d", encodeEndpoint, resp.StatusCode)
	}

	var body encodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("httpface: decode encode response: %w", err)
	}

	encodings := make([]vision.Encoding, 0, len(body.Encodings))
	for i, raw := range body.Encodings {
		enc := vision.Encoding(raw)
		if err := enc.Validate(); err != nil {
			return nil, fmt.Errorf("httpface: face %d: %w", i, err)
		}
		encodings = append(encodings, enc)
	}
	return encodings, nil
}

// Package enroll manages the trusted face set: capturing a reference encoding
// for a named person, persisting it, and feeding the full set to the identity
// verifier.
//
// Enrollment is deliberately strict: the submitted still must contain exactly
// one detectable face, so the stored encoding is unambiguous about who it
// belongs to.
package enroll

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aegisd/aegis/pkg/provider/vision"
)

var (
	// ErrNoFace is returned when the enrollment still contains no
	// detectable face.
	ErrNoFace = errors.New("enroll: no face detected in image")

	// ErrMultipleFaces is returned when the enrollment still contains more
	// than one face.
	ErrMultipleFaces = errors.New("enroll: multiple faces detected in image")

	// ErrNoDetector is returned when enrollment is attempted while no face
	// detection provider is configured. Listing and removing enrolled faces
	// still work; only new captures need the detector.
	ErrNoDetector = errors.New("enroll: no face detection provider configured")
)

// Face is one enrolled trusted person.
type Face struct {
	// ID uniquely identifies the enrollment record.
	ID string

	// Name is the human-readable label given at enrollment.
	Name string

	// Encoding is the reference face encoding.
	Encoding vision.Encoding

	// EnrolledAt is when the face was enrolled.
	EnrolledAt time.Time
}

// Store persists enrolled faces. Implementations must be safe for concurrent
// use.
type Store interface {
	// Save inserts or replaces a face by ID.
	Save(ctx context.Context, face Face) error

	// List returns all enrolled faces.
	List(ctx context.Context) ([]Face, error)

	// Delete removes a face by ID. Deleting an unknown ID is not an error.
	Delete(ctx context.Context, id string) error
}

// TrustedSink receives the full trusted encoding set, typically the identity
// verifier.
type TrustedSink interface {
	SetTrusted(encodings []vision.Encoding)
}

// Enroller captures and manages trusted faces.
type Enroller struct {
	store    Store
	detector vision.Detector
	now      func() time.Time
}

// Option is a functional option for [NewEnroller].
type Option func(*Enroller)

// WithClock overrides the time source used for enrollment timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Enroller) { e.now = now }
}

// NewEnroller creates an enroller over the given store and face detector.
func NewEnroller(store Store, detector vision.Detector, opts ...Option) *Enroller {
	e := &Enroller{
		store:    store,
		detector: detector,
		now:      time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Enroll detects exactly one face in the still, stores its encoding under the
// given name, and returns the new record. Zero faces yields [ErrNoFace], more
// than one yields [ErrMultipleFaces], and a missing detector yields
// [ErrNoDetector].
func (e *Enroller) Enroll(ctx context.Context, name string, image []byte) (Face, error) {
	if e.detector == nil {
		return Face{}, ErrNoDetector
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Face{}, errors.New("enroll: name must not be empty")
	}

	encodings, err := e.detector.DetectFacesAndEncode(ctx, image)
	if err != nil {
		return Face{}, fmt.Errorf("enroll: detect faces: %w", err)
	}
	switch len(encodings) {
	case 0:
		return Face{}, ErrNoFace
	case 1:
	default:
		return Face{}, fmt.Errorf("%w: got %d", ErrMultipleFaces, len(encodings))
	}

	face := Face{
		ID:         uuid.NewString(),
		Name:       name,
		Encoding:   encodings[0],
		EnrolledAt: e.now(),
	}
	if err := e.store.Save(ctx, face); err != nil {
		return Face{}, fmt.Errorf("enroll: save face: %w", err)
	}
	return face, nil
}

// Remove deletes an enrolled face by ID.
func (e *Enroller) Remove(ctx context.Context, id string) error {
	if err := e.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("enroll: delete face: %w", err)
	}
	return nil
}

// List returns all enrolled faces.
func (e *Enroller) List(ctx context.Context) ([]Face, error) {
	faces, err := e.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("enroll: list faces: %w", err)
	}
	return faces, nil
}

// Refresh loads the full trusted set from the store and pushes it to the
// sink. It returns the number of trusted encodings installed.
func (e *Enroller) Refresh(ctx context.Context, sink TrustedSink) (int, error) {
	faces, err := e.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("enroll: refresh trusted set: %w", err)
	}
	encodings := make([]vision.Encoding, len(faces))
	for i, f := range faces {
		encodings[i] = f.Encoding
	}
	sink.SetTrusted(encodings)
	return len(encodings), nil
}

// Package mock provides an in-memory test double for the enroll.Store
// interface.
package mock

import (
	"context"
	"sync"

	"github.com/aegisd/aegis/internal/enroll"
)

// Store is an in-memory implementation of enroll.Store.
type Store struct {
	mu sync.Mutex

	// Err, if non-nil, is returned as the error from every call.
	Err error

	faces []enroll.Face
}

// Save inserts or replaces a face by ID.
func (s *Store) Save(ctx context.Context, face enroll.Face) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	for i, f := range s.faces {
		if f.ID == face.ID {
			s.faces[i] = face
			return nil
		}
	}
	s.faces = append(s.faces, face)
	return nil
}

// List returns all stored faces in insertion order.
func (s *Store) List(ctx context.Context) ([]enroll.Face, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	return append([]enroll.Face(nil), s.faces...), nil
}

// Delete removes a face by ID.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	for i, f := range s.faces {
		if f.ID == id {
			s.faces = append(s.faces[:i], s.faces[i+1:]...)
			return nil
		}
	}
	return nil
}

// Count returns the number of stored faces. Thread-safe.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.faces)
}

// Ensure Store implements enroll.Store at compile time.
var _ enroll.Store = (*Store)(nil)

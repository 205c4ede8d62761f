// Package state provides the single-writer shared value cell used for the
// authoritative verification and guard-mode states.
//
// A Cell holds exactly one published snapshot. The owning component stores new
// snapshots; every other component loads a consistent copy without locking.
// Reads are never linearised across cells; sub-second convergence is all the
// arbitration layer needs. A single read never observes a partial update.
package state

import "sync/atomic"

// Cell is an atomically published value with exactly one authoritative writer.
// The zero value is not usable; create cells with [NewCell].
type Cell[T any] struct {
	v atomic.Pointer[T]
}

// NewCell creates a cell holding the initial snapshot.
func NewCell[T any](initial T) *Cell[T] {
	c := &Cell[T]{}
	c.v.Store(&initial)
	return c
}

// Store publishes a new snapshot. Only the cell's owning component may call it.
func (c *Cell[T]) Store(v T) {
	c.v.Store(&v)
}

// Load returns the most recently published snapshot.
func (c *Cell[T]) Load() T {
	return *c.v.Load()
}

// Swap publishes a new snapshot and returns the previous one. Useful when the
// writer needs to log transitions.
func (c *Cell[T]) Swap(v T) T {
	return *c.v.Swap(&v)
}

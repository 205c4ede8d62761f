package audio

import (
	"context"
	"sync"
)

// defaultTapBuffer is the frame queue depth of a tap opened with buffer <= 0.
const defaultTapBuffer = 8

// Tee duplicates one capture source onto any number of taps, so several
// consumers can read the same frame stream without stealing frames from each
// other. Every tap sees every frame; a tap whose buffer is full has its oldest
// frame dropped rather than stalling the source.
//
// Taps can be opened and closed while Run is forwarding, which makes the tee
// suitable for short-lived side consumers such as a recalibration window next
// to the long-running segmenter.
type Tee struct {
	src Source

	mu   sync.Mutex
	taps map[*Tap]struct{}
	err  error
	done bool
}

// NewTee wraps src. Frames flow once Run is started.
func NewTee(src Source) *Tee {
	return &Tee{
		src:  src,
		taps: make(map[*Tap]struct{}),
	}
}

// Tap opens a new tap with the given buffer depth (<= 0 takes a default).
// A tap opened after the source ended is already closed.
func (t *Tee) Tap(buffer int) *Tap {
	if buffer <= 0 {
		buffer = defaultTapBuffer
	}
	tap := &Tap{
		tee:    t,
		frames: make(chan Frame, buffer),
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		close(tap.frames)
		return tap
	}
	t.taps[tap] = struct{}{}
	return tap
}

// Run forwards frames from the source to all open taps until the source ends
// or ctx is cancelled. When the source ends, its error is captured and every
// tap channel is closed; Run itself returns nil so a device loss is observed
// on the taps, not here.
func (t *Tee) Run(ctx context.Context) error {
	defer t.finish()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-t.src.Frames():
			if !ok {
				return nil
			}
			t.broadcast(f)
		}
	}
}

// broadcast hands one frame to every open tap, dropping the oldest queued
// frame of any tap that is full.
func (t *Tee) broadcast(f Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for tap := range t.taps {
		for {
			select {
			case tap.frames <- f:
			default:
				select {
				case <-tap.frames:
				default:
				}
				continue
			}
			break
		}
	}
}

// finish records the source error and closes all open taps.
func (t *Tee) finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return
	}
	t.done = true
	t.err = t.src.Err()
	for tap := range t.taps {
		close(tap.frames)
		delete(t.taps, tap)
	}
}

// sourceErr reports the captured source error after the tee finished.
func (t *Tee) sourceErr() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Tap is one consumer-side view of a teed source. It implements [Source], so
// existing frame consumers work unchanged on top of a tee.
type Tap struct {
	tee    *Tee
	frames chan Frame

	closeOnce sync.Once
}

// Frames returns the tap's frame stream. The channel closes when the
// underlying source ends or the tap is closed.
func (p *Tap) Frames() <-chan Frame { return p.frames }

// Err reports the underlying source's failure after the stream closed, or nil
// when the tap was closed locally while the source kept running.
func (p *Tap) Err() error { return p.tee.sourceErr() }

// Close detaches the tap from the tee. The underlying source keeps running
// for the remaining taps. Safe to call more than once.
func (p *Tap) Close() error {
	p.closeOnce.Do(func() {
		p.tee.mu.Lock()
		defer p.tee.mu.Unlock()
		if p.tee.done {
			return
		}
		if _, ok := p.tee.taps[p]; ok {
			delete(p.tee.taps, p)
			close(p.frames)
		}
	})
	return nil
}

var _ Source = (*Tap)(nil)

// Package vision runs continuous face verification over the camera stream.
//
// The verifier is a producer/consumer pair decoupled by a small bounded
// queue: the capture side offers frames and never blocks (a full queue costs
// the oldest frame, keeping the picture fresh under load), while the consumer
// detects faces, encodes them, and compares each encoding against the
// enrolled trusted set by Euclidean distance. Any single match below the
// distance threshold verifies the frame.
//
// Raw per-frame verdicts are noisy (motion blur, brief occlusion), so they
// pass through a debouncer before becoming the authoritative
// VerificationState the arbiter reads: promotion is immediate, demotion
// waits out a resettable window.
package vision

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aegisd/aegis/internal/observe"
	facerec "github.com/aegisd/aegis/pkg/provider/vision"
)

// DefaultThreshold is the Euclidean distance below which a face encoding
// matches a trusted identity.
const DefaultThreshold = 0.6

// Frame is one captured video frame.
type Frame struct {
	// Image is the encoded frame (typically JPEG).
	Image []byte

	// Timestamp is the capture time.
	Timestamp time.Time
}

// Source is the abstraction over any camera capture backend. The frame
// channel closes when capture ends; Err distinguishes device loss from a
// clean stop.
type Source interface {
	// Frames returns the stream of captured frames.
	Frames() <-chan Frame

	// Err returns the capture failure after Frames closes, or nil on a
	// clean close.
	Err() error

	// Close stops capture and releases the device.
	Close() error
}

// Config holds the verifier tuning parameters. Zero fields take defaults.
type Config struct {
	// QueueSize bounds the frame queue between capture and verification.
	// Small on purpose: staleness and memory are bounded at the cost of
	// dropping frames under load. Default: 2.
	QueueSize int

	// Threshold is the match distance cutoff. Default: 0.6.
	Threshold float64

	// DemoteWindow is the debouncer's demotion window. Default: 10 s.
	DemoteWindow time.Duration
}

func (c *Config) applyDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 2
	}
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.DemoteWindow <= 0 {
		c.DemoteWindow = DefaultDemoteWindow
	}
}

// Option is a functional option for [New].
type Option func(*Verifier)

// WithClock overrides the time source used for verdict timestamps.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// WithMetrics reports dropped frames and verification flips on the given
// instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(v *Verifier) { v.metrics = m }
}

// Verifier classifies camera frames against the enrolled trusted set and
// publishes the debounced VerificationState.
type Verifier struct {
	cfg      Config
	detector facerec.Detector
	deb      *Debouncer
	now      func() time.Time
	metrics  *observe.Metrics

	mu      sync.RWMutex
	trusted []facerec.Encoding

	frames    chan Frame
	closeOnce sync.Once

	droppedFrames atomic.Int64
}

// New creates a Verifier classifying frames with detector. The trusted set
// starts empty; load it with SetTrusted before (or while) running.
func New(cfg Config, detector facerec.Detector, opts ...Option) *Verifier {
	cfg.applyDefaults()
	v := &Verifier{
		cfg:      cfg,
		detector: detector,
		deb:      NewDebouncer(cfg.DemoteWindow),
		now:      time.Now,
		frames:   make(chan Frame, cfg.QueueSize),
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// SetTrusted replaces the enrolled encodings the consumer matches against.
// Safe to call while the verifier is running; takes effect on the next frame.
func (v *Verifier) SetTrusted(encodings []facerec.Encoding) {
	cp := make([]facerec.Encoding, len(encodings))
	copy(cp, encodings)
	v.mu.Lock()
	v.trusted = cp
	v.mu.Unlock()
}

// State returns the current debounced verification state snapshot.
func (v *Verifier) State() State { return v.deb.State() }

// DroppedFrames returns how many frames were discarded because the
// verification consumer was behind capture.
func (v *Verifier) DroppedFrames() int64 { return v.droppedFrames.Load() }

// Offer enqueues a frame without ever blocking. If the queue is full the
// oldest queued frame is dropped, since the newest picture is the one worth
// verifying. Single producer only.
func (v *Verifier) Offer(f Frame) {
	for {
		select {
		case v.frames <- f:
			return
		default:
		}
		select {
		case <-v.frames:
			v.droppedFrames.Add(1)
			if v.metrics != nil {
				v.metrics.RecordDroppedFrame(context.Background())
			}
		default:
		}
	}
}

// CloseQueue marks the end of frame production. Run drains what is queued
// and returns. Safe to call more than once.
func (v *Verifier) CloseQueue() {
	v.closeOnce.Do(func() { close(v.frames) })
}

// Pump feeds frames from src into the queue until the source ends or ctx is
// cancelled, then closes the queue. A device loss is returned as the source's
// error (wrapped); a clean source close returns nil.
func (v *Verifier) Pump(ctx context.Context, src Source) error {
	defer v.CloseQueue()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-src.Frames():
			if !ok {
				if err := src.Err(); err != nil {
					return fmt.Errorf("vision: %w", err)
				}
				return nil
			}
			v.Offer(f)
		}
	}
}

// Run is the verification consumer. It dequeues frames, classifies each one,
// and feeds the verdict into the debouncer until the queue closes or ctx is
// cancelled.
func (v *Verifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-v.frames:
			if !ok {
				return nil
			}
			verdict := v.classify(ctx, f)
			if v.deb.Observe(verdict, v.now()) {
				st := v.deb.State()
				if v.metrics != nil {
					v.metrics.RecordVerified(ctx, st.Value == StatusVerified)
				}
				slog.Info("verification state changed",
					"state", st.Value, "verdict", verdict)
			}
		}
	}
}

// classify computes the raw verdict for one frame. Detector failures are
// transient: logged and treated as inconclusive so the pipeline keeps going.
func (v *Verifier) classify(ctx context.Context, f Frame) Verdict {
	encodings, err := v.detector.DetectFacesAndEncode(ctx, f.Image)
	if err != nil {
		slog.Warn("face detection failed, skipping frame", "error", err)
		return VerdictInconclusive
	}
	if len(encodings) == 0 {
		return VerdictInconclusive
	}

	v.mu.RLock()
	trusted := v.trusted
	v.mu.RUnlock()
	if len(trusted) == 0 {
		return VerdictUnverified
	}

	// Any face matching any trusted identity verifies the frame.
	minDist := math.Inf(1)
	for _, enc := range encodings {
		for _, t := range trusted {
			if d := facerec.Distance(enc, t); d < minDist {
				minDist = d
			}
		}
	}
	if minDist < v.cfg.Threshold {
		return VerdictVerified
	}
	return VerdictUnverified
}

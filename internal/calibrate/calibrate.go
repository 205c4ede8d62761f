// Package calibrate establishes the ambient noise baseline for the audio
// pipeline. A calibration run samples the capture source for a fixed window,
// records the loudest RMS amplitude observed, and derives the silence
// threshold the segmenter compares every frame against.
//
// The resulting profile is published atomically through a [state.Cell]: the
// segmenter keeps using the previous profile mid-calibration and adopts the
// new one in a single swap.
package calibrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aegisd/aegis/internal/state"
	"github.com/aegisd/aegis/pkg/audio"
)

// ErrNoAudio is returned when a calibration window elapses without a single
// frame arriving, typically because no capture device is available.
var ErrNoAudio = errors.New("calibrate: no audio received during calibration window")

// thresholdFloor is the minimum silence threshold in raw RMS units. Even in a
// dead-quiet room the threshold never drops below this, so electrical noise
// cannot open utterances.
const thresholdFloor = 100

// headroom scales the observed ambient maximum into the silence threshold.
const headroom = 1.2

// Profile is the ambient noise baseline. Immutable once published; a
// recalibration produces a fresh Profile and swaps it in atomically.
type Profile struct {
	// MaxAmplitude is the loudest RMS amplitude observed during calibration,
	// in raw int16 units.
	MaxAmplitude float64

	// SilenceThreshold is the amplitude above which a frame counts as speech:
	// max(100, MaxAmplitude * 1.2).
	SilenceThreshold float64

	// CalibratedAt records when the profile was computed.
	CalibratedAt time.Time
}

// Threshold derives the silence threshold for an observed ambient maximum.
func Threshold(maxAmplitude float64) float64 {
	t := maxAmplitude * headroom
	if t < thresholdFloor {
		return thresholdFloor
	}
	return t
}

// Calibrate samples src for the given duration and returns the resulting
// ambient profile. It assumes no prior speech: run it at startup or on an
// explicit operator request, in a quiet-ish room.
//
// Returns [ErrNoAudio] if the window elapses without any frames, and the
// context error if ctx is cancelled first. The source's frame channel closing
// mid-window is reported as capture loss.
func Calibrate(ctx context.Context, src audio.Source, duration time.Duration) (*Profile, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("calibrate: duration must be positive, got %v", duration)
	}

	deadline := time.NewTimer(duration)
	defer deadline.Stop()

	var (
		maxAmp   float64
		received bool
	)

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("calibrate: %w", ctx.Err())

		case <-deadline.C:
			if !received {
				return nil, ErrNoAudio
			}
			p := &Profile{
				MaxAmplitude:     maxAmp,
				SilenceThreshold: Threshold(maxAmp),
				CalibratedAt:     time.Now(),
			}
			slog.Info("ambient calibration complete",
				"max_amplitude", p.MaxAmplitude,
				"silence_threshold", p.SilenceThreshold,
				"window", duration,
			)
			return p, nil

		case frame, ok := <-src.Frames():
			if !ok {
				if err := src.Err(); err != nil {
					return nil, fmt.Errorf("calibrate: %w", err)
				}
				return nil, ErrNoAudio
			}
			received = true
			if amp := audio.RMS(frame.Samples); amp > maxAmp {
				maxAmp = amp
			}
		}
	}
}

// Publisher owns the authoritative ambient profile cell. The calibrator is
// the single writer; the segmenter reads snapshots.
type Publisher struct {
	cell *state.Cell[Profile]
}

// NewPublisher creates a publisher seeded with a floor-threshold profile so
// the segmenter has a usable (conservative) threshold before first
// calibration completes.
func NewPublisher() *Publisher {
	return &Publisher{
		cell: state.NewCell(Profile{
			SilenceThreshold: thresholdFloor,
			CalibratedAt:     time.Now(),
		}),
	}
}

// Publish atomically swaps in a new profile.
func (p *Publisher) Publish(profile Profile) {
	prev := p.cell.Swap(profile)
	if prev.SilenceThreshold != profile.SilenceThreshold {
		slog.Info("silence threshold updated",
			"old", prev.SilenceThreshold,
			"new", profile.SilenceThreshold,
		)
	}
}

// Current returns the most recently published profile snapshot.
func (p *Publisher) Current() Profile {
	return p.cell.Load()
}

// Run performs a calibration against src and publishes the result. It is the
// entry point for both startup calibration and operator-requested
// recalibration.
func (p *Publisher) Run(ctx context.Context, src audio.Source, duration time.Duration) error {
	profile, err := Calibrate(ctx, src, duration)
	if err != nil {
		return err
	}
	p.Publish(*profile)
	return nil
}

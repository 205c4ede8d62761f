package vision

import (
	"time"

	"github.com/aegisd/aegis/internal/state"
)

// DefaultDemoteWindow is how long raw verdicts must stay non-verified before
// a Verified state demotes.
const DefaultDemoteWindow = 10 * time.Second

// Status is the debounced verification value.
type Status string

const (
	// StatusVerified means a trusted face was recently sighted.
	StatusVerified Status = "verified"

	// StatusUnverified means no trusted face has been sighted, or the
	// demotion window has fully elapsed since the last sighting.
	StatusUnverified Status = "unverified"
)

// State is the authoritative debounced verification state. Written only by
// the verifier's consumer loop, read by anyone through atomic snapshots.
type State struct {
	// Value is the current debounced status.
	Value Status

	// LastChange is when Value last flipped.
	LastChange time.Time
}

// Verdict is the raw classification of a single frame, before debouncing.
type Verdict string

const (
	// VerdictVerified: a detected face matched a trusted identity.
	VerdictVerified Verdict = "verified"

	// VerdictUnverified: faces were detected but none matched.
	VerdictUnverified Verdict = "unverified"

	// VerdictInconclusive: no face was detected, or detection failed
	// transiently. Counts toward demotion but is not intruder evidence.
	VerdictInconclusive Verdict = "inconclusive"
)

// Debouncer smooths raw per-frame verdicts into a stable State.
//
// Promotion is immediate: a single verified verdict flips Unverified to
// Verified. Demotion is slow: Verified flips back only after verdicts have
// been continuously non-verified for the full window, and any verified
// verdict mid-window resets the countdown from zero. The countdown is held
// as an explicit deadline rather than a timer goroutine, so resets are exact
// and the machine is driven purely by Observe calls.
//
// Observe must be called from a single goroutine; State is safe to read from
// any goroutine.
type Debouncer struct {
	window   time.Duration
	cell     *state.Cell[State]
	demoteAt time.Time // zero while no countdown is armed
}

// NewDebouncer creates a debouncer with the given demotion window, starting
// Unverified. A non-positive window takes [DefaultDemoteWindow].
func NewDebouncer(window time.Duration) *Debouncer {
	if window <= 0 {
		window = DefaultDemoteWindow
	}
	return &Debouncer{
		window: window,
		cell:   state.NewCell(State{Value: StatusUnverified}),
	}
}

// State returns the current debounced state snapshot.
func (d *Debouncer) State() State {
	return d.cell.Load()
}

// Observe feeds one raw verdict observed at now into the machine and reports
// whether the debounced state changed.
func (d *Debouncer) Observe(v Verdict, now time.Time) bool {
	cur := d.cell.Load()

	if v == VerdictVerified {
		d.demoteAt = time.Time{}
		if cur.Value != StatusVerified {
			d.cell.Store(State{Value: StatusVerified, LastChange: now})
			return true
		}
		return false
	}

	// Unverified or inconclusive: both feed the demotion countdown.
	if cur.Value != StatusVerified {
		return false
	}
	if d.demoteAt.IsZero() {
		d.demoteAt = now.Add(d.window)
		return false
	}
	if now.Before(d.demoteAt) {
		return false
	}
	d.demoteAt = time.Time{}
	d.cell.Store(State{Value: StatusUnverified, LastChange: now})
	return true
}

// Package guard arbitrates the asynchronous sensing signals into the single
// authoritative GuardMode state machine and drives the conversational side of
// an active guard.
//
// The arbiter is the only writer of GuardMode. Mode changes happen on exactly
// two inputs: an accepted control-phrase decision, or a capture loss from a
// sensing component (which fail-safes to Idle rather than presenting an
// undefined persona). Everything else reads the mode but never mutates it.
package guard

import (
	"log/slog"
	"time"

	"github.com/aegisd/aegis/internal/command"
	"github.com/aegisd/aegis/internal/state"
)

// Mode is the guard's operating state.
type Mode string

const (
	// ModeIdle: commands are still matched (so the guard can be armed), but
	// no conversational turns happen and no persona is presented.
	ModeIdle Mode = "idle"

	// ModeActive: every non-command utterance becomes a conversational turn
	// under the persona the verification state selects.
	ModeActive Mode = "active"
)

// Snapshot is the published guard state.
type Snapshot struct {
	// Mode is the current operating state.
	Mode Mode

	// ChangedAt is when Mode last flipped.
	ChangedAt time.Time
}

// Notifier receives the arbiter's push events for the UI layer. Methods must
// not block; the UI hub buffers internally.
type Notifier interface {
	// ModeChanged fires after every guard mode transition.
	ModeChanged(active bool)

	// TranscriptRecognized fires once per transcribed utterance.
	TranscriptRecognized(text string)

	// ActionNotification fires a transient one-shot notification.
	// Severity is one of "info", "warning", "error".
	ActionNotification(message, severity string)
}

// NopNotifier is a Notifier that discards every event.
type NopNotifier struct{}

func (NopNotifier) ModeChanged(bool)                  {}
func (NopNotifier) TranscriptRecognized(string)       {}
func (NopNotifier) ActionNotification(string, string) {}

// Arbiter owns GuardMode. Apply and CaptureLost must be called from a single
// goroutine (the utterance pipeline); Snapshot is safe from any goroutine.
type Arbiter struct {
	cell     *state.Cell[Snapshot]
	notifier Notifier
	now      func() time.Time
}

// ArbiterOption is a functional option for [NewArbiter].
type ArbiterOption func(*Arbiter)

// WithNotifier sets the event sink. Default: [NopNotifier].
func WithNotifier(n Notifier) ArbiterOption {
	return func(a *Arbiter) { a.notifier = n }
}

// WithClock overrides the time source used for transition timestamps.
func WithClock(now func() time.Time) ArbiterOption {
	return func(a *Arbiter) { a.now = now }
}

// NewArbiter creates an arbiter starting in ModeIdle.
func NewArbiter(opts ...ArbiterOption) *Arbiter {
	a := &Arbiter{
		cell:     state.NewCell(Snapshot{Mode: ModeIdle}),
		notifier: NopNotifier{},
		now:      time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Snapshot returns the current guard state.
func (a *Arbiter) Snapshot() Snapshot { return a.cell.Load() }

// Mode returns the current guard mode.
func (a *Arbiter) Mode() Mode { return a.cell.Load().Mode }

// Apply feeds one command decision into the state machine and reports whether
// the mode changed. Rejected decisions never transition.
func (a *Arbiter) Apply(d command.Decision) bool {
	if !d.Accepted {
		return false
	}
	switch d.Phrase.Kind {
	case command.KindActivate:
		return a.transition(ModeActive, "guard mode activated")
	case command.KindDeactivate:
		return a.transition(ModeIdle, "guard mode deactivated")
	}
	return false
}

// CaptureLost forces the guard to Idle because a sensing component lost its
// capture device. Presenting a persona without live sensing would be
// undefined, so degrading to Idle is the safe state.
func (a *Arbiter) CaptureLost(source string) {
	slog.Error("capture lost, dropping to idle", "source", source)
	a.notifier.ActionNotification("capture lost: "+source, "error")
	a.transition(ModeIdle, "guard mode deactivated (capture lost)")
}

func (a *Arbiter) transition(to Mode, message string) bool {
	cur := a.cell.Load()
	if cur.Mode == to {
		return false
	}
	a.cell.Store(Snapshot{Mode: to, ChangedAt: a.now()})
	slog.Info("guard mode changed", "from", cur.Mode, "to", to)
	a.notifier.ModeChanged(to == ModeActive)
	a.notifier.ActionNotification(message, "info")
	return true
}

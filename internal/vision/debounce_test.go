package vision_test

import (
	"testing"
	"time"

	"github.com/aegisd/aegis/internal/vision"
)

// at returns a fixed base time offset by the given duration, so tests can
// talk about t=0s, t=9.5s etc. directly.
func at(d time.Duration) time.Time {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return base.Add(d)
}

func TestDebouncer_StartsUnverified(t *testing.T) {
	t.Parallel()

	d := vision.NewDebouncer(10 * time.Second)
	if got := d.State().Value; got != vision.StatusUnverified {
		t.Errorf("initial state = %q, want %q", got, vision.StatusUnverified)
	}
}

func TestDebouncer_PromotesImmediately(t *testing.T) {
	t.Parallel()

	d := vision.NewDebouncer(10 * time.Second)
	if !d.Observe(vision.VerdictVerified, at(0)) {
		t.Error("single verified verdict must change state")
	}
	st := d.State()
	if st.Value != vision.StatusVerified {
		t.Errorf("state = %q, want %q", st.Value, vision.StatusVerified)
	}
	if !st.LastChange.Equal(at(0)) {
		t.Errorf("LastChange = %v, want %v", st.LastChange, at(0))
	}
}

func TestDebouncer_DemotesOnlyAfterFullWindow(t *testing.T) {
	t.Parallel()

	d := vision.NewDebouncer(10 * time.Second)
	d.Observe(vision.VerdictVerified, at(0))

	// First non-verified verdict arms the countdown, it does not demote.
	if d.Observe(vision.VerdictUnverified, at(1*time.Second)) {
		t.Fatal("state changed while arming the countdown")
	}
	// Nine seconds in: still short of the armed deadline at t=11s.
	if d.Observe(vision.VerdictUnverified, at(10*time.Second)) {
		t.Fatal("demoted before the window elapsed")
	}
	if got := d.State().Value; got != vision.StatusVerified {
		t.Fatalf("state = %q mid-window, want verified", got)
	}
	// Deadline reached.
	if !d.Observe(vision.VerdictUnverified, at(11*time.Second)) {
		t.Fatal("expected demotion at the deadline")
	}
	if got := d.State().Value; got != vision.StatusUnverified {
		t.Errorf("state = %q after full window, want unverified", got)
	}
}

func TestDebouncer_VerifiedResetsWindow(t *testing.T) {
	t.Parallel()

	// verified at t=0, unverified t=1..9, verified at t=9.5: the countdown
	// restarts from zero, so the state is still Verified at t=15.
	d := vision.NewDebouncer(10 * time.Second)
	d.Observe(vision.VerdictVerified, at(0))
	for s := 1; s <= 9; s++ {
		d.Observe(vision.VerdictUnverified, at(time.Duration(s)*time.Second))
	}
	if d.Observe(vision.VerdictVerified, at(9500*time.Millisecond)) {
		t.Error("verified while already Verified must not report a change")
	}

	for s := 10; s <= 15; s++ {
		d.Observe(vision.VerdictUnverified, at(time.Duration(s)*time.Second))
	}
	if got := d.State().Value; got != vision.StatusVerified {
		t.Fatalf("state = %q at t=15s, want verified (window was reset at t=9.5s)", got)
	}

	// The restarted countdown armed at t=10s; it may fire from t=20s on.
	if !d.Observe(vision.VerdictUnverified, at(21*time.Second)) {
		t.Error("expected demotion once the restarted window elapsed")
	}
}

func TestDebouncer_InconclusiveCountsTowardDemotion(t *testing.T) {
	t.Parallel()

	d := vision.NewDebouncer(10 * time.Second)
	d.Observe(vision.VerdictVerified, at(0))
	d.Observe(vision.VerdictInconclusive, at(1*time.Second))
	if !d.Observe(vision.VerdictInconclusive, at(12*time.Second)) {
		t.Error("continuous inconclusive verdicts must demote after the window")
	}
}

func TestDebouncer_NonVerifiedWhileUnverifiedIsNoop(t *testing.T) {
	t.Parallel()

	d := vision.NewDebouncer(10 * time.Second)
	if d.Observe(vision.VerdictUnverified, at(0)) {
		t.Error("unverified verdict while Unverified must not change state")
	}
	if d.Observe(vision.VerdictInconclusive, at(20*time.Second)) {
		t.Error("inconclusive verdict while Unverified must not change state")
	}
}

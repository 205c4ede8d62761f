package guard

import (
	"sync"
	"testing"
	"time"

	"github.com/aegisd/aegis/internal/command"
	"github.com/aegisd/aegis/internal/vision"
)

// recordingNotifier captures every push event for assertions.
type recordingNotifier struct {
	mu            sync.Mutex
	modes         []bool
	transcripts   []string
	notifications []string
	severities    []string
}

func (n *recordingNotifier) ModeChanged(active bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.modes = append(n.modes, active)
}

func (n *recordingNotifier) TranscriptRecognized(text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.transcripts = append(n.transcripts, text)
}

func (n *recordingNotifier) ActionNotification(message, severity string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notifications = append(n.notifications, message)
	n.severities = append(n.severities, severity)
}

func (n *recordingNotifier) modeChanges() []bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]bool(nil), n.modes...)
}

func (n *recordingNotifier) transcriptCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.transcripts)
}

func accepted(kind command.Kind) command.Decision {
	return command.Decision{
		Phrase:   command.Phrase{Text: string(kind) + " guard mode", Kind: kind},
		Accepted: true,
	}
}

func TestArbiter_StartsIdle(t *testing.T) {
	t.Parallel()

	a := NewArbiter()
	if got := a.Mode(); got != ModeIdle {
		t.Errorf("Mode() = %q, want %q", got, ModeIdle)
	}
}

func TestArbiter_ActivateAndDeactivate(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	n := &recordingNotifier{}
	a := NewArbiter(WithNotifier(n), WithClock(func() time.Time { return base }))

	if !a.Apply(accepted(command.KindActivate)) {
		t.Fatal("Apply(activate) = false, want transition")
	}
	if got := a.Snapshot(); got.Mode != ModeActive || !got.ChangedAt.Equal(base) {
		t.Errorf("Snapshot() = %+v, want active at %v", got, base)
	}

	// Re-activating while active is a no-op.
	if a.Apply(accepted(command.KindActivate)) {
		t.Error("Apply(activate) while active = true, want false")
	}

	if !a.Apply(accepted(command.KindDeactivate)) {
		t.Fatal("Apply(deactivate) = false, want transition")
	}
	if got := a.Mode(); got != ModeIdle {
		t.Errorf("Mode() = %q, want %q", got, ModeIdle)
	}

	want := []bool{true, false}
	got := n.modeChanges()
	if len(got) != len(want) {
		t.Fatalf("mode change events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("mode change %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestArbiter_RejectedDecisionNeverTransitions(t *testing.T) {
	t.Parallel()

	a := NewArbiter()
	d := command.Decision{
		Phrase:        command.Phrase{Text: "activate guard mode", Kind: command.KindActivate},
		CombinedScore: 84.9,
		Accepted:      false,
	}
	if a.Apply(d) {
		t.Error("Apply(rejected) = true, want false")
	}
	if got := a.Mode(); got != ModeIdle {
		t.Errorf("Mode() = %q, want %q", got, ModeIdle)
	}
}

func TestArbiter_CaptureLostFailsSafeToIdle(t *testing.T) {
	t.Parallel()

	n := &recordingNotifier{}
	a := NewArbiter(WithNotifier(n))
	a.Apply(accepted(command.KindActivate))

	a.CaptureLost("microphone")
	if got := a.Mode(); got != ModeIdle {
		t.Errorf("Mode() after capture loss = %q, want %q", got, ModeIdle)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	foundError := false
	for i, sev := range n.severities {
		if sev == "error" && n.notifications[i] == "capture lost: microphone" {
			foundError = true
		}
	}
	if !foundError {
		t.Errorf("notifications = %v, want a capture-lost error entry", n.notifications)
	}
}

func TestArbiter_CaptureLostWhileIdleStaysIdle(t *testing.T) {
	t.Parallel()

	n := &recordingNotifier{}
	a := NewArbiter(WithNotifier(n))
	a.CaptureLost("camera")
	if got := a.Mode(); got != ModeIdle {
		t.Errorf("Mode() = %q, want %q", got, ModeIdle)
	}
	if got := n.modeChanges(); len(got) != 0 {
		t.Errorf("mode change events = %v, want none", got)
	}
}

func TestSelectPersona(t *testing.T) {
	t.Parallel()

	if got := SelectPersona(vision.StatusVerified); got != PersonaAssistant {
		t.Errorf("SelectPersona(verified) = %q, want %q", got, PersonaAssistant)
	}
	if got := SelectPersona(vision.StatusUnverified); got != PersonaGuard {
		t.Errorf("SelectPersona(unverified) = %q, want %q", got, PersonaGuard)
	}
}

func TestLadder_EscalatesAndCaps(t *testing.T) {
	t.Parallel()

	var l Ladder
	want := []int{1, 2, 3, 3, 3}
	for i, w := range want {
		if got := l.Observe(PersonaGuard); got != w {
			t.Errorf("guard turn %d: level = %d, want %d", i+1, got, w)
		}
	}
}

func TestLadder_AssistantTurnResets(t *testing.T) {
	t.Parallel()

	var l Ladder
	l.Observe(PersonaGuard)
	l.Observe(PersonaGuard)
	if got := l.Observe(PersonaAssistant); got != 0 {
		t.Errorf("assistant turn: level = %d, want 0", got)
	}
	if got := l.Observe(PersonaGuard); got != 1 {
		t.Errorf("guard turn after reset: level = %d, want 1", got)
	}
}

func TestPrompts_GuardPromptFallsBack(t *testing.T) {
	t.Parallel()

	p := Prompts{
		Assistant: "assistant",
		Guard:     [MaxEscalationLevel]string{"challenge", "", ""},
	}
	if got := p.guardPrompt(3); got != "challenge" {
		t.Errorf("guardPrompt(3) = %q, want level-1 fallback", got)
	}

	full := DefaultPrompts()
	for level := 1; level <= MaxEscalationLevel; level++ {
		if got := full.guardPrompt(level); got != full.Guard[level-1] {
			t.Errorf("guardPrompt(%d) = %q, want %q", level, got, full.Guard[level-1])
		}
	}
}

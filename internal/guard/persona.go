package guard

import "github.com/aegisd/aegis/internal/vision"

// Persona is the conversational role presented for one turn.
type Persona string

const (
	// PersonaAssistant is the helpful persona for a verified trusted user.
	PersonaAssistant Persona = "assistant"

	// PersonaGuard is the challenging persona for an unverified presence.
	PersonaGuard Persona = "guard"
)

// SelectPersona maps the debounced verification state to the persona for one
// conversational turn. The caller pulls the state exactly once per turn and
// freezes the result; a verification flip mid-response never alters the
// persona of the sentence being spoken.
func SelectPersona(status vision.Status) Persona {
	if status == vision.StatusVerified {
		return PersonaAssistant
	}
	return PersonaGuard
}

// MaxEscalationLevel caps the guard prompt ladder.
const MaxEscalationLevel = 3

// Ladder tracks how many consecutive conversational turns have happened under
// the guard persona, escalating the prompt from polite challenge (level 1)
// toward firm warning (level 3). Any turn under the assistant persona resets
// the ladder. Not safe for concurrent use; the bridge owns exactly one.
type Ladder struct {
	level int
}

// Observe registers one conversational turn and returns the escalation level
// for it: 0 for an assistant turn, 1..MaxEscalationLevel for consecutive
// guard turns.
func (l *Ladder) Observe(p Persona) int {
	if p != PersonaGuard {
		l.level = 0
		return 0
	}
	if l.level < MaxEscalationLevel {
		l.level++
	}
	return l.level
}

// Level returns the current escalation level without registering a turn.
func (l *Ladder) Level() int { return l.level }

package command_test

import (
	"math"
	"testing"

	"github.com/aegisd/aegis/internal/command"
)

func vocab() []command.Phrase {
	return []command.Phrase{
		{Text: "activate guard mode", Kind: command.KindActivate},
		{Text: "deactivate guard mode", Kind: command.KindDeactivate},
		{Text: "stand down", Kind: command.KindDeactivate},
	}
}

func TestCombine_Extremes(t *testing.T) {
	t.Parallel()

	if got := command.Combine(100, 100); got != 100 {
		t.Errorf("Combine(100, 100) = %f, want exactly 100", got)
	}
	if got := command.Combine(0, 0); got != 0 {
		t.Errorf("Combine(0, 0) = %f, want exactly 0", got)
	}
}

func TestCombine_Weights(t *testing.T) {
	t.Parallel()

	// Phonetic score carries 60% of the weight.
	if got := command.Combine(100, 0); math.Abs(got-40) > 1e-9 {
		t.Errorf("Combine(100, 0) = %f, want 40", got)
	}
	if got := command.Combine(0, 100); math.Abs(got-60) > 1e-9 {
		t.Errorf("Combine(0, 100) = %f, want 60", got)
	}
}

func TestMatch_ExactPhraseAccepted(t *testing.T) {
	t.Parallel()

	m := command.New(vocab())
	d := m.Match("activate guard mode")
	if !d.Accepted {
		t.Fatalf("exact phrase not accepted: %+v", d)
	}
	if d.Phrase.Kind != command.KindActivate {
		t.Errorf("Kind = %q, want %q", d.Phrase.Kind, command.KindActivate)
	}
	if d.CombinedScore != 100 {
		t.Errorf("CombinedScore = %f, want 100 for exact match", d.CombinedScore)
	}
}

func TestMatch_WordOrderIgnored(t *testing.T) {
	t.Parallel()

	m := command.New(vocab())
	d := m.Match("guard mode activate")
	if d.TextScore != 100 {
		t.Errorf("TextScore = %f, want 100 (token-set similarity ignores order)", d.TextScore)
	}
	if !d.Accepted {
		t.Errorf("reordered phrase not accepted: %+v", d)
	}
}

func TestMatch_PhoneticDrift(t *testing.T) {
	t.Parallel()

	// A typical transcription drift: same sounds, different spelling.
	m := command.New(vocab())
	d := m.Match("activate gard mode")
	if d.Phrase.Kind != command.KindActivate {
		t.Fatalf("drifted phrase matched %+v, want activate", d.Phrase)
	}
	if d.PhoneticScore < 95 {
		t.Errorf("PhoneticScore = %f, want >= 95 for homophone drift", d.PhoneticScore)
	}
	if !d.Accepted {
		t.Errorf("drifted phrase not accepted: %+v", d)
	}
}

func TestMatch_UnrelatedSpeechRejected(t *testing.T) {
	t.Parallel()

	m := command.New(vocab())
	for _, transcript := range []string{
		"what is the weather like today",
		"please order a pizza",
		"hello there",
	} {
		if d := m.Match(transcript); d.Accepted {
			t.Errorf("Match(%q) accepted with score %f, want rejection", transcript, d.CombinedScore)
		}
	}
}

func TestMatch_ThresholdBoundary(t *testing.T) {
	t.Parallel()

	// An exact match scores exactly 100; with the threshold raised to 100 it
	// is still accepted (>= comparison), while at 100.001 it is not.
	at := command.New(vocab(), command.WithThreshold(100))
	if d := at.Match("stand down"); !d.Accepted {
		t.Errorf("score == threshold must be accepted, got %+v", d)
	}

	above := command.New(vocab(), command.WithThreshold(100.001))
	if d := above.Match("stand down"); d.Accepted {
		t.Errorf("score below threshold must be rejected, got %+v", d)
	}
}

func TestMatch_EmptyTranscript(t *testing.T) {
	t.Parallel()

	m := command.New(vocab())
	if d := m.Match("   "); d.Accepted {
		t.Errorf("empty transcript accepted: %+v", d)
	}
}

func TestMatch_PrefersExactOnTie(t *testing.T) {
	t.Parallel()

	// Two identical-text phrases with different kinds: the exact lexical
	// match must win the tie.
	m := command.New([]command.Phrase{
		{Text: "halt watch", Kind: command.KindDeactivate},
		{Text: "watch halt", Kind: command.KindActivate},
	})
	d := m.Match("halt watch")
	if !d.Accepted {
		t.Fatalf("not accepted: %+v", d)
	}
	// Both share the token set, but only "halt watch" matches in order.
	if d.Phrase.Kind != command.KindDeactivate {
		t.Errorf("tie broken to %+v, want the exact lexical match", d.Phrase)
	}
}

func TestTextScore_DisjointTokens(t *testing.T) {
	t.Parallel()

	if got := command.TextScore("alpha beta", "gamma delta"); got > 50 {
		t.Errorf("TextScore for disjoint tokens = %f, want low", got)
	}
}

func TestPhoneticScore_EmptyInput(t *testing.T) {
	t.Parallel()

	if got := command.PhoneticScore("", "activate"); got != 0 {
		t.Errorf("PhoneticScore(\"\", ...) = %f, want 0", got)
	}
}

package guard

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aegisd/aegis/internal/command"
	"github.com/aegisd/aegis/internal/observe"
	"github.com/aegisd/aegis/internal/segment"
	"github.com/aegisd/aegis/internal/vision"
	"github.com/aegisd/aegis/pkg/audio"
	"github.com/aegisd/aegis/pkg/provider/llm"
	"github.com/aegisd/aegis/pkg/provider/stt"
	"github.com/aegisd/aegis/pkg/provider/tts"
)

// synthesisTimeout bounds a fire-and-forget synthesis call so an unreachable
// TTS server cannot accumulate goroutines.
const synthesisTimeout = 30 * time.Second

// Prompts holds the persona system prompts.
type Prompts struct {
	// Assistant is the system prompt for a verified trusted user.
	Assistant string

	// Guard holds the escalation ladder prompts, level 1 to 3. Consecutive
	// unverified turns walk up the ladder; empty entries fall back to the
	// highest non-empty level below.
	Guard [MaxEscalationLevel]string
}

// DefaultPrompts returns a usable prompt set for deployments that do not
// configure their own.
func DefaultPrompts() Prompts {
	return Prompts{
		Assistant: "You are a helpful home assistant speaking with a trusted, verified resident. Be concise and warm.",
		Guard: [MaxEscalationLevel]string{
			"You are a security guard speaking with an unidentified person. Politely ask who they are and why they are here. Be brief.",
			"You are a security guard. The unidentified person has not identified themselves. Firmly ask them to identify themselves or leave. Be brief.",
			"You are a security guard issuing a final warning. Tell the unidentified person that they are not authorized and that the incident is being recorded. Be brief and firm.",
		},
	}
}

// guardPrompt returns the prompt for an escalation level, falling back to the
// highest non-empty level at or below it.
func (p Prompts) guardPrompt(level int) string {
	if level < 1 {
		level = 1
	}
	if level > MaxEscalationLevel {
		level = MaxEscalationLevel
	}
	for i := level - 1; i >= 0; i-- {
		if p.Guard[i] != "" {
			return p.Guard[i]
		}
	}
	return p.Assistant
}

// VerificationSource is the read side of the identity verifier.
type VerificationSource interface {
	State() vision.State
}

// BridgeConfig holds the bridge tuning parameters. Zero fields take defaults.
type BridgeConfig struct {
	// Prompts are the persona system prompts. Default: [DefaultPrompts].
	Prompts Prompts

	// FallbackReply is spoken when the conversational engine fails.
	FallbackReply string

	// SampleRate of incoming utterances in Hz. Default: audio.DefaultSampleRate.
	SampleRate int

	// NoSpeechCutoff gates transcripts on the model's no-speech probability.
	// Default: stt.DefaultNoSpeechCutoff.
	NoSpeechCutoff float64

	// Temperature and MaxTokens are forwarded to the responder.
	Temperature float64
	MaxTokens   int

	// HistoryLimit bounds the retained conversation history in messages.
	// Default: 20.
	HistoryLimit int

	// Metrics receives utterance outcomes and command decisions. Nil
	// disables recording.
	Metrics *observe.Metrics
}

func (c *BridgeConfig) applyDefaults() {
	empty := Prompts{}
	if c.Prompts == empty {
		c.Prompts = DefaultPrompts()
	}
	if c.FallbackReply == "" {
		c.FallbackReply = "Sorry, I didn't catch that. Could you repeat it?"
	}
	if c.SampleRate <= 0 {
		c.SampleRate = audio.DefaultSampleRate
	}
	if c.NoSpeechCutoff <= 0 {
		c.NoSpeechCutoff = stt.DefaultNoSpeechCutoff
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 20
	}
}

// Bridge is the utterance pipeline behind the segmenter: transcription,
// command matching, and (while the guard is active) conversational turns
// under the frozen persona. It is the single goroutine that feeds the
// arbiter.
type Bridge struct {
	cfg          BridgeConfig
	arbiter      *Arbiter
	verification VerificationSource
	matcher      *command.Matcher
	transcriber  stt.Transcriber
	responder    llm.Responder
	synth        tts.Synthesizer
	notifier     Notifier

	ladder  Ladder
	history []llm.Message

	wg sync.WaitGroup
}

// NewBridge wires the pipeline. responder may be nil, in which case every
// conversational turn yields the fallback reply; synth may be nil to disable
// speech output.
func NewBridge(
	cfg BridgeConfig,
	arbiter *Arbiter,
	verification VerificationSource,
	matcher *command.Matcher,
	transcriber stt.Transcriber,
	responder llm.Responder,
	synth tts.Synthesizer,
) *Bridge {
	cfg.applyDefaults()
	return &Bridge{
		cfg:          cfg,
		arbiter:      arbiter,
		verification: verification,
		matcher:      matcher,
		transcriber:  transcriber,
		responder:    responder,
		synth:        synth,
		notifier:     arbiter.notifier,
	}
}

// Run consumes utterances until the channel closes or ctx is cancelled.
// In-flight synthesis goroutines are waited for on return.
func (b *Bridge) Run(ctx context.Context, utterances <-chan segment.Utterance) error {
	defer b.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-utterances:
			if !ok {
				return nil
			}
			b.handle(ctx, u)
		}
	}
}

// handle processes one closed utterance end to end.
func (b *Bridge) handle(ctx context.Context, u segment.Utterance) {
	// One attempt per utterance; a failed transcription is logged and the
	// utterance discarded, never retried.
	result, err := b.transcriber.Transcribe(ctx, u.Samples, b.cfg.SampleRate)
	if err != nil {
		b.recordUtterance(ctx, "failed")
		slog.Warn("transcription failed, discarding utterance",
			"duration", u.Duration(b.cfg.SampleRate), "error", err)
		return
	}
	if !result.IsSpeech(b.cfg.NoSpeechCutoff) {
		b.recordUtterance(ctx, "gated")
		slog.Debug("utterance gated as non-speech",
			"no_speech_prob", result.NoSpeechProb)
		return
	}
	b.recordUtterance(ctx, "transcribed")

	b.notifier.TranscriptRecognized(result.Text)

	d := b.matcher.Match(result.Text)
	b.recordCommand(ctx, d)
	if d.Accepted {
		b.arbiter.Apply(d)
		return
	}

	if b.arbiter.Mode() != ModeActive {
		return
	}
	b.converse(ctx, result.Text)
}

func (b *Bridge) recordUtterance(ctx context.Context, outcome string) {
	if b.cfg.Metrics != nil {
		b.cfg.Metrics.RecordUtterance(ctx, outcome)
	}
}

func (b *Bridge) recordCommand(ctx context.Context, d command.Decision) {
	if b.cfg.Metrics == nil {
		return
	}
	status := "rejected"
	if d.Accepted {
		status = "accepted"
	}
	b.cfg.Metrics.RecordCommand(ctx, string(d.Phrase.Kind), status)
}

// converse runs one conversational turn. The persona is pulled from the
// verification state exactly once and frozen for the whole turn.
func (b *Bridge) converse(ctx context.Context, transcript string) {
	persona := SelectPersona(b.verification.State().Value)
	level := b.ladder.Observe(persona)

	prompt := b.cfg.Prompts.Assistant
	if persona == PersonaGuard {
		prompt = b.cfg.Prompts.guardPrompt(level)
	}

	messages := append(append([]llm.Message(nil), b.history...),
		llm.Message{Role: "user", Content: transcript})

	reply := b.cfg.FallbackReply
	if b.responder == nil {
		slog.Debug("no conversational engine configured, using fallback reply")
	} else if resp, err := b.responder.Respond(ctx, llm.Request{
		SystemPrompt: prompt,
		Messages:     messages,
		Temperature:  b.cfg.Temperature,
		MaxTokens:    b.cfg.MaxTokens,
	}); err != nil {
		slog.Warn("conversational engine failed, using fallback reply",
			"persona", persona, "error", err)
	} else {
		reply = resp.Content
	}

	b.history = append(b.history,
		llm.Message{Role: "user", Content: transcript},
		llm.Message{Role: "assistant", Content: reply},
	)
	if len(b.history) > b.cfg.HistoryLimit {
		b.history = b.history[len(b.history)-b.cfg.HistoryLimit:]
	}

	slog.Info("conversational turn complete",
		"persona", persona, "escalation_level", level)
	b.speak(ctx, reply)
}

// speak synthesises the reply fire-and-forget: a slow or failing TTS backend
// is logged but never blocks the next turn.
func (b *Bridge) speak(ctx context.Context, reply string) {
	if b.synth == nil || reply == "" {
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), synthesisTimeout)
		defer cancel()
		if _, err := b.synth.Synthesize(sctx, reply); err != nil {
			slog.Warn("speech synthesis failed", "error", err)
		}
	}()
}

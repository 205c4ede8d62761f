package guard

import (
	"context"
	"errors"
	"sync"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/aegisd/aegis/internal/command"
	"github.com/aegisd/aegis/internal/observe"
	"github.com/aegisd/aegis/internal/segment"
	"github.com/aegisd/aegis/internal/vision"
	llmmock "github.com/aegisd/aegis/pkg/provider/llm/mock"
	"github.com/aegisd/aegis/pkg/provider/stt"
	sttmock "github.com/aegisd/aegis/pkg/provider/stt/mock"
	ttsmock "github.com/aegisd/aegis/pkg/provider/tts/mock"
)

// fakeVerification is a settable VerificationSource.
type fakeVerification struct {
	mu     sync.Mutex
	status vision.Status
}

func (f *fakeVerification) State() vision.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return vision.State{Value: f.status}
}

func (f *fakeVerification) set(s vision.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = s
}

func testVocabulary() *command.Matcher {
	return command.New([]command.Phrase{
		{Text: "activate guard mode", Kind: command.KindActivate},
		{Text: "deactivate guard mode", Kind: command.KindDeactivate},
	})
}

func testPrompts() Prompts {
	return Prompts{
		Assistant: "assistant prompt",
		Guard:     [MaxEscalationLevel]string{"guard level one", "guard level two", "guard level three"},
	}
}

func speech(text string) stt.Result {
	return stt.Result{Text: text, NoSpeechProb: 0.1, Confidence: 0.9}
}

// runBridge feeds one utterance per scripted transcript and runs the bridge to
// completion. Run waits for fire-and-forget synthesis, so TTS calls are fully
// recorded when it returns.
func runBridge(t *testing.T, b *Bridge, utterances int) {
	t.Helper()
	ch := make(chan segment.Utterance, utterances)
	for range utterances {
		ch <- segment.Utterance{Samples: make([]int16, 1600)}
	}
	close(ch)
	if err := b.Run(context.Background(), ch); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func newTestBridge(
	transcriber stt.Transcriber,
	responder *llmmock.Responder,
	synth *ttsmock.Synthesizer,
	verification VerificationSource,
	notifier Notifier,
) (*Bridge, *Arbiter) {
	a := NewArbiter(WithNotifier(notifier))
	cfg := BridgeConfig{
		Prompts:       testPrompts(),
		FallbackReply: "say again please",
	}
	b := NewBridge(cfg, a, verification, testVocabulary(), transcriber, responder, synth)
	return b, a
}

func TestBridge_CommandArmsGuardWithoutConversing(t *testing.T) {
	t.Parallel()

	transcriber := &sttmock.Transcriber{Result: speech("activate guard mode")}
	responder := &llmmock.Responder{Reply: "hi"}
	synth := &ttsmock.Synthesizer{}
	n := &recordingNotifier{}
	b, a := newTestBridge(transcriber, responder, synth, &fakeVerification{}, n)

	runBridge(t, b, 1)

	if got := a.Mode(); got != ModeActive {
		t.Errorf("Mode() = %q, want %q", got, ModeActive)
	}
	if got := responder.Calls(); got != 0 {
		t.Errorf("Respond calls = %d, want 0 (command consumes the turn)", got)
	}
	if got := n.transcriptCount(); got != 1 {
		t.Errorf("transcript events = %d, want 1", got)
	}
}

func TestBridge_GuardPersonaWhenUnverified(t *testing.T) {
	t.Parallel()

	transcriber := &sttmock.Transcriber{Script: []stt.Result{
		speech("activate guard mode"),
		speech("hello, anyone home?"),
	}}
	responder := &llmmock.Responder{Reply: "who goes there"}
	synth := &ttsmock.Synthesizer{}
	verification := &fakeVerification{status: vision.StatusUnverified}
	b, _ := newTestBridge(transcriber, responder, synth, verification, NopNotifier{})

	runBridge(t, b, 2)

	call, ok := responder.LastCall()
	if !ok {
		t.Fatal("no Respond call recorded")
	}
	if got := call.Req.SystemPrompt; got != "guard level one" {
		t.Errorf("SystemPrompt = %q, want guard level one", got)
	}
	last := call.Req.Messages[len(call.Req.Messages)-1]
	if last.Role != "user" || last.Content != "hello, anyone home?" {
		t.Errorf("last message = %+v, want the transcript as user turn", last)
	}
	if got := synth.Spoken(); len(got) != 1 || got[0] != "who goes there" {
		t.Errorf("Spoken() = %v, want the reply", got)
	}
}

func TestBridge_AssistantPersonaWhenVerified(t *testing.T) {
	t.Parallel()

	transcriber := &sttmock.Transcriber{Script: []stt.Result{
		speech("activate guard mode"),
		speech("what's on my calendar"),
	}}
	responder := &llmmock.Responder{Reply: "nothing today"}
	verification := &fakeVerification{status: vision.StatusVerified}
	b, _ := newTestBridge(transcriber, responder, &ttsmock.Synthesizer{}, verification, NopNotifier{})

	runBridge(t, b, 2)

	call, ok := responder.LastCall()
	if !ok {
		t.Fatal("no Respond call recorded")
	}
	if got := call.Req.SystemPrompt; got != "assistant prompt" {
		t.Errorf("SystemPrompt = %q, want assistant prompt", got)
	}
}

func TestBridge_EscalationWalksTheLadder(t *testing.T) {
	t.Parallel()

	transcriber := &sttmock.Transcriber{Script: []stt.Result{
		speech("activate guard mode"),
		speech("open up"),
		speech("let me in"),
		speech("I said open up"),
		speech("fine, I'm staying"),
	}}
	responder := &llmmock.Responder{Reply: "identify yourself"}
	verification := &fakeVerification{status: vision.StatusUnverified}
	b, _ := newTestBridge(transcriber, responder, &ttsmock.Synthesizer{}, verification, NopNotifier{})

	runBridge(t, b, 5)

	want := []string{"guard level one", "guard level two", "guard level three", "guard level three"}
	prompts := respondPrompts(responder)
	if len(prompts) != len(want) {
		t.Fatalf("Respond calls = %d, want %d", len(prompts), len(want))
	}
	for i := range want {
		if prompts[i] != want[i] {
			t.Errorf("turn %d prompt = %q, want %q", i+1, prompts[i], want[i])
		}
	}
}

func TestBridge_VerifiedTurnResetsEscalation(t *testing.T) {
	t.Parallel()

	transcriber := &sttmock.Transcriber{Script: []stt.Result{
		speech("activate guard mode"),
		speech("open up"),
		speech("let me in"),
		speech("it's me again"),
	}}
	responder := &llmmock.Responder{Reply: "ok"}
	verification := &fakeVerification{status: vision.StatusUnverified}
	b, _ := newTestBridge(transcriber, responder, &ttsmock.Synthesizer{}, verification, NopNotifier{})

	ch := make(chan segment.Utterance, 4)
	ch <- segment.Utterance{Samples: make([]int16, 1600)} // activate
	ch <- segment.Utterance{Samples: make([]int16, 1600)} // guard level 1
	verification.set(vision.StatusVerified)
	ch <- segment.Utterance{Samples: make([]int16, 1600)} // assistant, resets ladder
	verification.set(vision.StatusUnverified)
	ch <- segment.Utterance{Samples: make([]int16, 1600)} // guard level 1 again
	close(ch)
	if err := b.Run(context.Background(), ch); err != nil {
		t.Fatalf("Run: %v", err)
	}

	prompts := respondPrompts(responder)
	want := []string{"guard level one", "assistant prompt", "guard level one"}
	if len(prompts) != len(want) {
		t.Fatalf("Respond prompts = %v, want %v", prompts, want)
	}
	for i := range want {
		if prompts[i] != want[i] {
			t.Errorf("turn %d prompt = %q, want %q", i+1, prompts[i], want[i])
		}
	}
}

func TestBridge_LLMFailureSpeaksFallback(t *testing.T) {
	t.Parallel()

	transcriber := &sttmock.Transcriber{Script: []stt.Result{
		speech("activate guard mode"),
		speech("hello?"),
	}}
	responder := &llmmock.Responder{Err: errors.New("backend down")}
	synth := &ttsmock.Synthesizer{}
	b, a := newTestBridge(transcriber, responder, synth, &fakeVerification{}, NopNotifier{})

	runBridge(t, b, 2)

	if got := a.Mode(); got != ModeActive {
		t.Errorf("Mode() = %q, want %q (engine failure never drops the guard)", got, ModeActive)
	}
	if got := synth.Spoken(); len(got) != 1 || got[0] != "say again please" {
		t.Errorf("Spoken() = %v, want the fallback reply", got)
	}
}

func TestBridge_TranscriptionFailureSkipsUtterance(t *testing.T) {
	t.Parallel()

	transcriber := &sttmock.Transcriber{Err: errors.New("whisper unreachable")}
	responder := &llmmock.Responder{Reply: "hi"}
	n := &recordingNotifier{}
	b, a := newTestBridge(transcriber, responder, &ttsmock.Synthesizer{}, &fakeVerification{}, n)

	runBridge(t, b, 3)

	// One attempt per utterance, no retries.
	if got := transcriber.Calls(); got != 3 {
		t.Errorf("Transcribe calls = %d, want 3", got)
	}
	if got := n.transcriptCount(); got != 0 {
		t.Errorf("transcript events = %d, want 0", got)
	}
	if got := responder.Calls(); got != 0 {
		t.Errorf("Respond calls = %d, want 0", got)
	}
	if got := a.Mode(); got != ModeIdle {
		t.Errorf("Mode() = %q, want %q", got, ModeIdle)
	}
}

func TestBridge_NoSpeechGate(t *testing.T) {
	t.Parallel()

	transcriber := &sttmock.Transcriber{Script: []stt.Result{
		{Text: "uh", NoSpeechProb: 0.5},  // at the cutoff: gated
		{Text: "hi", NoSpeechProb: 0.49}, // below: passes
	}}
	responder := &llmmock.Responder{Reply: "hello"}
	n := &recordingNotifier{}
	b, _ := newTestBridge(transcriber, responder, &ttsmock.Synthesizer{}, &fakeVerification{}, n)

	runBridge(t, b, 2)

	if got := n.transcriptCount(); got != 1 {
		t.Errorf("transcript events = %d, want 1 (first utterance gated)", got)
	}
}

func TestBridge_IdleIgnoresNonCommandSpeech(t *testing.T) {
	t.Parallel()

	transcriber := &sttmock.Transcriber{Result: speech("nice weather today")}
	responder := &llmmock.Responder{Reply: "hi"}
	synth := &ttsmock.Synthesizer{}
	b, a := newTestBridge(transcriber, responder, synth, &fakeVerification{}, NopNotifier{})

	runBridge(t, b, 2)

	if got := a.Mode(); got != ModeIdle {
		t.Errorf("Mode() = %q, want %q", got, ModeIdle)
	}
	if got := responder.Calls(); got != 0 {
		t.Errorf("Respond calls = %d, want 0 while idle", got)
	}
	if got := synth.Calls(); got != 0 {
		t.Errorf("Synthesize calls = %d, want 0 while idle", got)
	}
}

func TestBridge_HistoryIsBounded(t *testing.T) {
	t.Parallel()

	transcriber := &sttmock.Transcriber{Script: []stt.Result{
		speech("activate guard mode"),
		speech("turn one"),
		speech("turn two"),
		speech("turn three"),
	}}
	responder := &llmmock.Responder{Reply: "ok"}
	a := NewArbiter()
	cfg := BridgeConfig{
		Prompts:       testPrompts(),
		FallbackReply: "say again please",
		HistoryLimit:  4,
	}
	b := NewBridge(cfg, a, &fakeVerification{status: vision.StatusVerified},
		testVocabulary(), transcriber, responder, &ttsmock.Synthesizer{})

	runBridge(t, b, 4)

	call, ok := responder.LastCall()
	if !ok {
		t.Fatal("no Respond call recorded")
	}
	// Two prior turns retained (4 messages) plus the new user message.
	if got := len(call.Req.Messages); got != 5 {
		t.Errorf("message count = %d, want 5", got)
	}
}

func TestBridge_RecordsUtteranceAndCommandMetrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	transcriber := &sttmock.Transcriber{Script: []stt.Result{
		speech("activate guard mode"),
		{Text: "uh", NoSpeechProb: 0.9},
	}}
	a := NewArbiter()
	cfg := BridgeConfig{
		Prompts:       testPrompts(),
		FallbackReply: "say again please",
		Metrics:       metrics,
	}
	b := NewBridge(cfg, a, &fakeVerification{}, testVocabulary(), transcriber, nil, nil)

	runBridge(t, b, 2)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if got := counterValue(t, rm, "aegis.utterances", "outcome", "transcribed"); got != 1 {
		t.Errorf("outcome=transcribed = %d, want 1", got)
	}
	if got := counterValue(t, rm, "aegis.utterances", "outcome", "gated"); got != 1 {
		t.Errorf("outcome=gated = %d, want 1", got)
	}
	if got := counterValue(t, rm, "aegis.commands", "status", "accepted"); got != 1 {
		t.Errorf("status=accepted = %d, want 1", got)
	}
}

// counterValue returns the int64 sum data point carrying key=want, or -1.
func counterValue(t *testing.T, rm metricdata.ResourceMetrics, name, key, want string) int64 {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != name {
				continue
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %q is not a sum", name)
			}
			for _, dp := range sum.DataPoints {
				for _, kv := range dp.Attributes.ToSlice() {
					if string(kv.Key) == key && kv.Value.AsString() == want {
						return dp.Value
					}
				}
			}
			return -1
		}
	}
	return -1
}

func respondPrompts(r *llmmock.Responder) []string {
	out := make([]string, len(r.RespondCalls))
	for i, c := range r.RespondCalls {
		out[i] = c.Req.SystemPrompt
	}
	return out
}

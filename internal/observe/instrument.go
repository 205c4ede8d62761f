package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/aegisd/aegis/pkg/provider/llm"
	"github.com/aegisd/aegis/pkg/provider/stt"
	"github.com/aegisd/aegis/pkg/provider/tts"
	"github.com/aegisd/aegis/pkg/provider/vision"
)

// Provider decorators. The pipeline packages stay metric-free; the app wires
// providers through these wrappers instead.
var (
	_ stt.Transcriber = (*InstrumentedTranscriber)(nil)
	_ llm.Responder   = (*InstrumentedResponder)(nil)
	_ tts.Synthesizer = (*InstrumentedSynthesizer)(nil)
	_ vision.Detector = (*InstrumentedDetector)(nil)
)

// InstrumentedTranscriber records transcription latency and errors around an
// inner [stt.Transcriber].
type InstrumentedTranscriber struct {
	Inner    stt.Transcriber
	Metrics  *Metrics
	Provider string
}

// Transcribe delegates to the inner transcriber and records the outcome.
func (t *InstrumentedTranscriber) Transcribe(ctx context.Context, samples []int16, sampleRate int) (stt.Result, error) {
	start := time.Now()
	result, err := t.Inner.Transcribe(ctx, samples, sampleRate)
	t.Metrics.TranscriptionDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(Attr("provider", t.Provider)))
	if err != nil {
		t.Metrics.RecordProviderError(ctx, t.Provider, "stt")
	}
	return result, err
}

// InstrumentedResponder records conversational engine latency and errors
// around an inner [llm.Responder].
type InstrumentedResponder struct {
	Inner    llm.Responder
	Metrics  *Metrics
	Provider string
}

// Respond delegates to the inner responder and records the outcome.
func (r *InstrumentedResponder) Respond(ctx context.Context, req llm.Request) (*llm.Response, error) {
	start := time.Now()
	resp, err := r.Inner.Respond(ctx, req)
	r.Metrics.ResponseDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(Attr("provider", r.Provider)))
	if err != nil {
		r.Metrics.RecordProviderError(ctx, r.Provider, "llm")
	}
	return resp, err
}

// InstrumentedSynthesizer records synthesis latency and errors around an
// inner [tts.Synthesizer].
type InstrumentedSynthesizer struct {
	Inner    tts.Synthesizer
	Metrics  *Metrics
	Provider string
}

// Synthesize delegates to the inner synthesizer and records the outcome.
func (s *InstrumentedSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	start := time.Now()
	audio, err := s.Inner.Synthesize(ctx, text)
	s.Metrics.SynthesisDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(Attr("provider", s.Provider)))
	if err != nil {
		s.Metrics.RecordProviderError(ctx, s.Provider, "tts")
	}
	return audio, err
}

// InstrumentedDetector records per-frame detection latency and errors around
// an inner [vision.Detector].
type InstrumentedDetector struct {
	Inner    vision.Detector
	Metrics  *Metrics
	Provider string
}

// DetectFacesAndEncode delegates to the inner detector and records the outcome.
func (d *InstrumentedDetector) DetectFacesAndEncode(ctx context.Context, image []byte) ([]vision.Encoding, error) {
	start := time.Now()
	encodings, err := d.Inner.DetectFacesAndEncode(ctx, image)
	d.Metrics.VerificationDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(Attr("provider", d.Provider)))
	if err != nil {
		d.Metrics.RecordProviderError(ctx, d.Provider, "vision")
	}
	return encodings, err
}

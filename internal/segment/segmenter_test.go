package segment_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/aegisd/aegis/internal/calibrate"
	"github.com/aegisd/aegis/internal/segment"
	"github.com/aegisd/aegis/pkg/audio"
	"github.com/aegisd/aegis/pkg/audio/mock"
)

// testConfig keeps debounce windows small so tests can express utterances in
// a handful of 10 ms frames.
func testConfig() segment.Config {
	return segment.Config{
		SampleRate:    16000,
		OnsetDuration: 30 * time.Millisecond,
		HoldDuration:  50 * time.Millisecond,
		ChunkSize:     256,
		Bands:         16,
	}
}

// profiles returns a publisher with a fixed silence threshold of 150.
func profiles() *calibrate.Publisher {
	p := calibrate.NewPublisher()
	p.Publish(calibrate.Profile{MaxAmplitude: 125, SilenceThreshold: 150})
	return p
}

// frame returns a 10 ms frame (160 samples at 16 kHz) of constant amplitude.
func frame(amp int16) []int16 {
	s := make([]int16, 160)
	for i := range s {
		s[i] = amp
	}
	return s
}

// runSegmenter drives seg over the given frame sequence, closes the source,
// and returns Run's error after all frames are consumed.
func runSegmenter(t *testing.T, seg *segment.Segmenter, src *mock.Source, frames [][]int16) error {
	t.Helper()

	done := make(chan error, 1)
	go func() {
		done <- seg.Run(context.Background(), src)
	}()
	for _, f := range frames {
		src.Push(f)
	}
	src.Close()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("segmenter did not finish")
		return nil
	}
}

func TestRun_OpensAndClosesUtterance(t *testing.T) {
	t.Parallel()

	src := mock.NewSource(64)
	seg := segment.New(testConfig(), profiles())

	var frames [][]int16
	for range 10 { // 100 ms of speech, well past the 30 ms onset
		frames = append(frames, frame(1000))
	}
	for range 6 { // 60 ms of silence, past the 50 ms hold
		frames = append(frames, frame(0))
	}

	if err := runSegmenter(t, seg, src, frames); err != nil {
		t.Fatalf("Run: %v", err)
	}

	u, ok := <-seg.Utterances()
	if !ok {
		t.Fatal("expected one utterance, channel closed empty")
	}
	// 10 speech frames plus the silence frames up to the close.
	if got := u.Duration(16000); got < 100*time.Millisecond {
		t.Errorf("utterance duration = %v, want >= 100ms", got)
	}
	if u.End.Before(u.Start) {
		t.Errorf("End %v before Start %v", u.End, u.Start)
	}
}

func TestRun_ShortSpikeProducesNoUtterance(t *testing.T) {
	t.Parallel()

	src := mock.NewSource(64)
	seg := segment.New(testConfig(), profiles())

	// Two 10 ms spikes separated by silence: each is below the 30 ms onset.
	frames := [][]int16{
		frame(2000), frame(0), frame(0),
		frame(2000), frame(0), frame(0), frame(0), frame(0), frame(0),
	}

	if err := runSegmenter(t, seg, src, frames); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, ok := <-seg.Utterances(); ok {
		t.Error("transient spikes must not produce an utterance")
	}
}

func TestRun_MidWordPauseDoesNotSplit(t *testing.T) {
	t.Parallel()

	src := mock.NewSource(64)
	seg := segment.New(testConfig(), profiles())

	var frames [][]int16
	for range 5 {
		frames = append(frames, frame(1000))
	}
	// 30 ms pause: below the 50 ms hold, must not close the utterance.
	for range 3 {
		frames = append(frames, frame(0))
	}
	for range 5 {
		frames = append(frames, frame(1000))
	}
	for range 6 {
		frames = append(frames, frame(0))
	}

	if err := runSegmenter(t, seg, src, frames); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var got []segment.Utterance
	for u := range seg.Utterances() {
		got = append(got, u)
	}
	if len(got) != 1 {
		t.Fatalf("got %d utterances, want 1 (pause shorter than hold must not split)", len(got))
	}
}

func TestRun_BusyConsumerDropsOldestUtterance(t *testing.T) {
	t.Parallel()

	src := mock.NewSource(128)
	seg := segment.New(testConfig(), profiles())

	speechThenSilence := func() [][]int16 {
		var fs [][]int16
		for range 5 {
			fs = append(fs, frame(1000))
		}
		for range 6 {
			fs = append(fs, frame(0))
		}
		return fs
	}

	var frames [][]int16
	frames = append(frames, speechThenSilence()...)
	frames = append(frames, speechThenSilence()...)

	if err := runSegmenter(t, seg, src, frames); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var count int
	for range seg.Utterances() {
		count++
	}
	if count != 1 {
		t.Errorf("got %d utterances, want 1 (older pending one dropped)", count)
	}
	if got := seg.DroppedUtterances(); got != 1 {
		t.Errorf("DroppedUtterances = %d, want 1", got)
	}
}

func TestRun_CaptureLost(t *testing.T) {
	t.Parallel()

	src := mock.NewSource(4)
	seg := segment.New(testConfig(), profiles())

	done := make(chan error, 1)
	go func() {
		done <- seg.Run(context.Background(), src)
	}()
	src.Push(frame(0))
	src.Lose()

	select {
	case err := <-done:
		if !errors.Is(err, audio.ErrCaptureLost) {
			t.Errorf("Run = %v, want audio.ErrCaptureLost", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("segmenter did not finish")
	}
}

func TestRun_EmitsSpectra(t *testing.T) {
	t.Parallel()

	src := mock.NewSource(64)
	cfg := testConfig()
	seg := segment.New(cfg, profiles())

	// Two frames are enough to fill one 256-sample chunk.
	frames := [][]int16{frame(500), frame(500)}
	if err := runSegmenter(t, seg, src, frames); err != nil {
		t.Fatalf("Run: %v", err)
	}

	spectrum, ok := <-seg.Spectra()
	if !ok {
		t.Fatal("expected at least one spectrum frame")
	}
	if len(spectrum) != cfg.Bands {
		t.Errorf("spectrum has %d bands, want %d", len(spectrum), cfg.Bands)
	}
}

func TestAnalyzer_PeakLandsInMatchingBand(t *testing.T) {
	t.Parallel()

	const (
		chunkSize  = 1024
		bands      = 32
		sampleRate = 16000
		toneHz     = 1000.0
	)
	a := segment.NewAnalyzer(chunkSize, bands, sampleRate)

	chunk := make([]int16, chunkSize)
	for i := range chunk {
		chunk[i] = int16(10000 * math.Sin(2*math.Pi*toneHz*float64(i)/sampleRate))
	}

	got := a.Bands(chunk)
	if len(got) != bands {
		t.Fatalf("got %d bands, want %d", len(got), bands)
	}

	peak := 0
	for i, v := range got {
		if v > got[peak] {
			peak = i
		}
	}

	// The loudest band should cover 1 kHz: with log spacing from 50 Hz to
	// 8 kHz (Nyquist) over 32 bands, 1 kHz sits near band 19.
	if peak < 17 || peak > 21 {
		t.Errorf("peak band = %d, want within [17, 21] for a 1 kHz tone", peak)
	}
}

func TestAnalyzer_SilenceIsAllZero(t *testing.T) {
	t.Parallel()

	a := segment.NewAnalyzer(512, 16, 16000)
	for i, v := range a.Bands(make([]int16, 512)) {
		if v != 0 {
			t.Errorf("band %d = %f, want 0 for silence", i, v)
		}
	}
}

func TestAnalyzer_CompressionIsLog1p(t *testing.T) {
	t.Parallel()

	// A constant (DC-heavy) signal concentrates magnitude in the lowest bins;
	// all emitted values must be finite and non-negative after log1p.
	a := segment.NewAnalyzer(256, 8, 16000)
	chunk := make([]int16, 256)
	for i := range chunk {
		chunk[i] = 20000
	}
	for i, v := range a.Bands(chunk) {
		if v < 0 || math.IsInf(v, 0) || math.IsNaN(v) {
			t.Errorf("band %d = %f, want finite non-negative", i, v)
		}
	}
}

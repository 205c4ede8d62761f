// Package segment classifies the continuous capture stream into speech and
// silence. It opens an utterance when amplitude stays above the calibrated
// silence threshold for a minimum onset duration, closes it after a minimum
// hold of silence, and hands the closed utterance to the transcription stage
// through a non-blocking, single-slot queue.
//
// Independently of the speech state machine, every fixed-size chunk is run
// through the spectrum analyzer and the resulting band magnitudes are emitted
// (throttled) for the UI visualiser. Neither output path ever blocks capture:
// a busy consumer costs an old utterance or a spectrum frame, not real-time.
package segment

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/aegisd/aegis/internal/calibrate"
	"github.com/aegisd/aegis/pkg/audio"
)

// Utterance is a closed speech segment. Ownership transfers to the consumer
// on handoff; the segmenter keeps no reference afterwards.
type Utterance struct {
	// Samples is the full mono PCM of the segment, onset debounce included.
	Samples []int16

	// Start is the capture timestamp of the first speech frame.
	Start time.Time

	// End is the capture timestamp of the frame that closed the segment.
	End time.Time
}

// Duration returns the utterance length derived from its sample count.
func (u Utterance) Duration(sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(len(u.Samples)) * time.Second / time.Duration(sampleRate)
}

// Config holds the segmenter tuning parameters. Zero fields take defaults.
type Config struct {
	// SampleRate of the incoming frames in Hz. Default: audio.DefaultSampleRate.
	SampleRate int

	// OnsetDuration is how long amplitude must stay above the silence
	// threshold before an utterance opens. Debounces transient spikes.
	// Default: 200 ms.
	OnsetDuration time.Duration

	// HoldDuration is how long amplitude must stay below the threshold before
	// an open utterance closes. Prevents clipping on mid-word pauses.
	// Default: 700 ms.
	HoldDuration time.Duration

	// MaxUtterance caps a single utterance's length; segments are force-closed
	// at this duration so a noisy room cannot grow an unbounded buffer.
	// Default: 30 s.
	MaxUtterance time.Duration

	// ChunkSize is the number of samples per spectrum analysis chunk.
	// Default: 1024.
	ChunkSize int

	// Bands is the number of spectrum bands emitted to the UI. Default: 32.
	Bands int

	// EmitInterval throttles spectrum emission. Default: 40 ms (25 Hz).
	EmitInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = audio.DefaultSampleRate
	}
	if c.OnsetDuration <= 0 {
		c.OnsetDuration = 200 * time.Millisecond
	}
	if c.HoldDuration <= 0 {
		c.HoldDuration = 700 * time.Millisecond
	}
	if c.MaxUtterance <= 0 {
		c.MaxUtterance = 30 * time.Second
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 1024
	}
	if c.Bands <= 0 {
		c.Bands = 32
	}
	if c.EmitInterval <= 0 {
		c.EmitInterval = 40 * time.Millisecond
	}
}

// Segmenter runs the speech/silence state machine over a capture source.
// Create with New; Run drives it until the source ends or ctx is cancelled.
type Segmenter struct {
	cfg      Config
	profiles *calibrate.Publisher
	analyzer *Analyzer

	utterances chan Utterance
	spectra    chan []float64

	droppedUtterances atomic.Int64
	droppedSpectra    atomic.Int64
}

// New creates a Segmenter reading its silence threshold from profiles.
func New(cfg Config, profiles *calibrate.Publisher) *Segmenter {
	cfg.applyDefaults()
	return &Segmenter{
		cfg:      cfg,
		profiles: profiles,
		analyzer: NewAnalyzer(cfg.ChunkSize, cfg.Bands, cfg.SampleRate),
		// Exactly one pending utterance: if transcription is busy the older
		// pending segment is dropped, never the capture loop delayed.
		utterances: make(chan Utterance, 1),
		spectra:    make(chan []float64, 4),
	}
}

// Utterances returns the stream of closed speech segments. The channel is
// closed when Run returns.
func (s *Segmenter) Utterances() <-chan Utterance { return s.utterances }

// Spectra returns the throttled stream of band-magnitude vectors for the UI.
// The channel is closed when Run returns.
func (s *Segmenter) Spectra() <-chan []float64 { return s.spectra }

// DroppedUtterances returns how many pending utterances were discarded
// because the transcription stage was busy.
func (s *Segmenter) DroppedUtterances() int64 { return s.droppedUtterances.Load() }

// DroppedSpectra returns how many spectrum frames were discarded because the
// UI consumer was busy.
func (s *Segmenter) DroppedSpectra() int64 { return s.droppedSpectra.Load() }

// Run consumes src until its frame channel closes or ctx is cancelled.
// A device loss is returned as [audio.ErrCaptureLost] (wrapped); a clean
// source close or cancellation returns nil / ctx.Err(). Both output channels
// are closed on return.
func (s *Segmenter) Run(ctx context.Context, src audio.Source) error {
	defer close(s.utterances)
	defer close(s.spectra)

	var (
		inUtterance bool
		speechRun   time.Duration // consecutive above-threshold audio while silent
		silenceRun  time.Duration // consecutive below-threshold audio while open
		onsetBuf    []int16       // above-threshold audio not yet confirmed as speech
		current     Utterance
		chunkBuf    []int16
		lastEmit    time.Time
	)

	reset := func() {
		inUtterance = false
		speechRun = 0
		silenceRun = 0
		onsetBuf = nil
		current = Utterance{}
	}

	closeUtterance := func() {
		u := current
		reset()
		s.handoff(u)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case frame, ok := <-src.Frames():
			if !ok {
				if err := src.Err(); err != nil {
					return fmt.Errorf("segment: %w", err)
				}
				return nil
			}

			// Spectrum path runs on every frame, speech or silence.
			chunkBuf = append(chunkBuf, frame.Samples...)
			for len(chunkBuf) >= s.cfg.ChunkSize {
				chunk := chunkBuf[:s.cfg.ChunkSize]
				chunkBuf = chunkBuf[s.cfg.ChunkSize:]
				if time.Since(lastEmit) < s.cfg.EmitInterval {
					continue
				}
				lastEmit = time.Now()
				select {
				case s.spectra <- s.analyzer.Bands(chunk):
				default:
					s.droppedSpectra.Add(1)
				}
			}

			threshold := s.profiles.Current().SilenceThreshold
			amp := audio.RMS(frame.Samples)
			frameDur := frame.Duration(s.cfg.SampleRate)

			switch {
			case !inUtterance && amp > threshold:
				speechRun += frameDur
				onsetBuf = append(onsetBuf, frame.Samples...)
				if speechRun >= s.cfg.OnsetDuration {
					inUtterance = true
					silenceRun = 0
					current = Utterance{
						Samples: onsetBuf,
						Start:   frame.Timestamp.Add(-speechRun),
					}
					onsetBuf = nil
				}

			case !inUtterance:
				// Spike shorter than the onset duration: discard.
				speechRun = 0
				onsetBuf = nil

			case inUtterance && amp > threshold:
				silenceRun = 0
				current.Samples = append(current.Samples, frame.Samples...)
				current.End = frame.Timestamp
				if current.Duration(s.cfg.SampleRate) >= s.cfg.MaxUtterance {
					slog.Warn("utterance reached maximum length, force-closing",
						"duration", current.Duration(s.cfg.SampleRate))
					closeUtterance()
				}

			default: // inUtterance && amp <= threshold
				silenceRun += frameDur
				current.Samples = append(current.Samples, frame.Samples...)
				current.End = frame.Timestamp
				if silenceRun >= s.cfg.HoldDuration {
					closeUtterance()
				}
			}
		}
	}
}

// handoff queues u without ever blocking. If the single pending slot is
// occupied the older utterance is dropped and logged so the transcription
// stage is behind and the newer speech is the one worth keeping.
func (s *Segmenter) handoff(u Utterance) {
	for {
		select {
		case s.utterances <- u:
			return
		default:
		}
		select {
		case old := <-s.utterances:
			s.droppedUtterances.Add(1)
			slog.Warn("transcription busy, dropping pending utterance",
				"dropped_duration", old.Duration(s.cfg.SampleRate))
		default:
		}
	}
}

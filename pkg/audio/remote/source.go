// Package remote implements an [audio.Source] backed by a websocket
// microphone feed. An edge capture device (or the bundled browser client)
// streams audio as binary websocket messages; each message carries either one
// Opus packet or one chunk of raw little-endian int16 PCM, selected by
// [Config.Codec].
//
// Opus input is decoded with gopus, downmixed to mono, and resampled to the
// configured pipeline rate. The read loop never blocks on the consumer: when
// the frame buffer is full the oldest buffered frame is dropped, keeping
// capture real-time at the cost of occasional gaps.
package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/aegisd/aegis/pkg/audio"
)

// Codec identifies the on-the-wire encoding of microphone messages.
type Codec string

const (
	// CodecOpus expects one Opus packet per binary message.
	CodecOpus Codec = "opus"

	// CodecPCM16 expects raw little-endian int16 PCM per binary message.
	CodecPCM16 Codec = "pcm16"
)

// IsValid reports whether c is a recognised codec.
func (c Codec) IsValid() bool {
	return c == CodecOpus || c == CodecPCM16
}

// Config describes the remote microphone stream.
type Config struct {
	// Codec selects the wire encoding. Default: CodecOpus.
	Codec Codec

	// WireSampleRate is the sample rate of the incoming stream in Hz.
	// Default: 48000 (the Opus native rate).
	WireSampleRate int

	// WireChannels is the incoming channel count (1 or 2). Default: 1.
	WireChannels int

	// SampleRate is the target pipeline rate frames are resampled to.
	// Default: [audio.DefaultSampleRate].
	SampleRate int

	// FrameBuffer is the capacity of the frame channel. When full, the oldest
	// frame is dropped. Default: 32.
	FrameBuffer int
}

func (c *Config) applyDefaults() {
	if c.Codec == "" {
		c.Codec = CodecOpus
	}
	if c.WireSampleRate <= 0 {
		c.WireSampleRate = 48000
	}
	if c.WireChannels <= 0 {
		c.WireChannels = 1
	}
	if c.SampleRate <= 0 {
		c.SampleRate = audio.DefaultSampleRate
	}
	if c.FrameBuffer <= 0 {
		c.FrameBuffer = 32
	}
}

// Source is a websocket-backed [audio.Source]. Create one with [Dial].
type Source struct {
	conn   *websocket.Conn
	cfg    Config
	frames chan audio.Frame
	cancel context.CancelFunc

	mu     sync.Mutex
	err    error
	closed bool

	dropped int64
}

// Compile-time assertion that Source satisfies audio.Source.
var _ audio.Source = (*Source)(nil)

// Dial connects to a remote microphone endpoint (e.g. "ws://sentry-cam:9090/mic")
// and starts the read loop. The returned Source emits mono PCM frames at
// cfg.SampleRate until the connection drops or Close is called.
func Dial(ctx context.Context, url string, cfg Config) (*Source, error) {
	cfg.applyDefaults()
	if !cfg.Codec.IsValid() {
		return nil, fmt.Errorf("remote: unknown codec %q", cfg.Codec)
	}
	if cfg.WireChannels > 2 {
		return nil, fmt.Errorf("remote: unsupported channel count %d", cfg.WireChannels)
	}

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("remote: dial %q: %w", url, err)
	}
	// Opus packets and PCM chunks are small; the default 32 KiB limit is
	// generous but guards against a misbehaving sender.
	conn.SetReadLimit(32 << 10)

	dec, err := newDecoder(cfg)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "decoder init failed")
		return nil, err
	}

	readCtx, cancel := context.WithCancel(context.Background())
	s := &Source{
		conn:   conn,
		cfg:    cfg,
		frames: make(chan audio.Frame, cfg.FrameBuffer),
		cancel: cancel,
	}
	go s.readLoop(readCtx, dec)
	return s, nil
}

// Frames implements [audio.Source].
func (s *Source) Frames() <-chan audio.Frame { return s.frames }

// Err implements [audio.Source].
func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close implements [audio.Source]. It terminates the read loop and closes the
// websocket connection. Safe to call more than once.
func (s *Source) Close() error {
	s.cancel()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.conn.Close(websocket.StatusNormalClosure, "source closed")
}

// Dropped returns the number of frames discarded because the consumer fell
// behind. Intended for metrics scraping.
func (s *Source) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// readLoop reads binary messages until the connection fails or the context is
// cancelled, decoding each into a pipeline frame.
func (s *Source) readLoop(ctx context.Context, dec *decoder) {
	defer close(s.frames)

	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			if !closed && !errors.Is(err, context.Canceled) {
				s.err = fmt.Errorf("%w: %v", audio.ErrCaptureLost, err)
			}
			s.mu.Unlock()
			if !closed && !errors.Is(err, context.Canceled) {
				slog.Warn("remote mic stream lost", "error", err)
			}
			return
		}
		if typ != websocket.MessageBinary {
			continue
		}

		samples, err := dec.decode(data)
		if err != nil {
			slog.Debug("remote mic: dropping undecodable message", "error", err)
			continue
		}
		if len(samples) == 0 {
			continue
		}

		frame := audio.Frame{Samples: samples, Timestamp: time.Now()}
		select {
		case s.frames <- frame:
		default:
			// Consumer is behind: drop the oldest frame to make room.
			select {
			case <-s.frames:
				s.mu.Lock()
				s.dropped++
				s.mu.Unlock()
			default:
			}
			select {
			case s.frames <- frame:
			default:
			}
		}
	}
}

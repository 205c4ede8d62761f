// Package camera implements a [vision.Source] that polls an HTTP snapshot
// endpoint. IP cameras and the bundled edge device expose a URL returning one
// JPEG per GET; the poller fetches at a fixed interval and hands frames to the
// verifier without ever blocking on a slow consumer.
package camera

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/aegisd/aegis/internal/vision"
)

// ErrCaptureLost is reported by [Source.Err] after the frame channel closes
// because the snapshot endpoint stopped answering.
var ErrCaptureLost = errors.New("camera: capture source lost")

// maxSnapshotBytes bounds a single snapshot read. 8 MiB covers any sane
// camera resolution.
const maxSnapshotBytes = 8 << 20

// Config describes the snapshot poller. Zero fields take defaults.
type Config struct {
	// URL is the snapshot endpoint (e.g. "http://sentry-cam:8081/snapshot").
	URL string

	// Interval between snapshot fetches. Default: 500 ms.
	Interval time.Duration

	// MaxFailures is how many consecutive fetch failures are tolerated before
	// the source declares the camera lost. Default: 10.
	MaxFailures int

	// Buffer is the frame channel capacity. When full, the oldest buffered
	// frame is dropped. Default: 2.
	Buffer int

	// Client overrides the HTTP client. Default: 10 s timeout.
	Client *http.Client
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 500 * time.Millisecond
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = 10
	}
	if c.Buffer <= 0 {
		c.Buffer = 2
	}
	if c.Client == nil {
		c.Client = &http.Client{Timeout: 10 * time.Second}
	}
}

// Source polls a snapshot endpoint and emits frames. Create with [New].
type Source struct {
	cfg    Config
	frames chan vision.Frame
	cancel context.CancelFunc

	mu     sync.Mutex
	err    error
	closed bool

	dropped int64
}

var _ vision.Source = (*Source)(nil)

// New validates cfg and starts the poll loop. The returned Source emits
// frames until the endpoint fails [Config.MaxFailures] times in a row or
// Close is called.
func New(cfg Config) (*Source, error) {
	cfg.applyDefaults()
	if cfg.URL == "" {
		return nil, errors.New("camera: URL must not be empty")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Source{
		cfg:    cfg,
		frames: make(chan vision.Frame, cfg.Buffer),
		cancel: cancel,
	}
	go s.pollLoop(ctx)
	return s, nil
}

// Frames implements [vision.Source].
func (s *Source) Frames() <-chan vision.Frame { return s.frames }

// Err implements [vision.Source].
func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close implements [vision.Source]. Safe to call more than once.
func (s *Source) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	return nil
}

// Dropped returns the number of frames discarded because the consumer fell
// behind. Intended for metrics scraping.
func (s *Source) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// pollLoop fetches snapshots until cancelled or the endpoint is deemed lost.
func (s *Source) pollLoop(ctx context.Context) {
	defer close(s.frames)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	failures := 0
	var lastErr error
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		image, err := s.fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			lastErr = err
			if failures >= s.cfg.MaxFailures {
				s.mu.Lock()
				if !s.closed {
					s.err = fmt.Errorf("%w: %v", ErrCaptureLost, lastErr)
				}
				s.mu.Unlock()
				return
			}
			continue
		}
		failures = 0
		s.offer(vision.Frame{Image: image, Timestamp: time.Now()})
	}
}

// fetch retrieves one snapshot.
func (s *Source) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("camera: build request: %w", err)
	}
	resp, err := s.cfg.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("camera: fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("camera: snapshot endpoint returned status %d", resp.StatusCode)
	}
	image, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return nil, fmt.Errorf("camera: read snapshot: %w", err)
	}
	if len(image) == 0 {
		return nil, errors.New("camera: empty snapshot")
	}
	return image, nil
}

// offer enqueues a frame, dropping the oldest buffered one when full. The
// newest picture is always the one worth keeping.
func (s *Source) offer(f vision.Frame) {
	for {
		select {
		case s.frames <- f:
			return
		default:
		}
		select {
		case <-s.frames:
			s.mu.Lock()
			s.dropped++
			s.mu.Unlock()
		default:
		}
	}
}

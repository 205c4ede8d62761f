// Package app wires all aegis subsystems into a running sentry daemon.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run drives the sensing pipeline until the context is cancelled,
// and Shutdown tears everything down in order. Losing a capture source is not
// fatal: the guard fails safe to Idle and the operator surface keeps serving
// on the surviving sensors.
//
// For testing, inject doubles via functional options (WithAudioSource,
// WithCameraSource, WithEnrollStore). When an option is not provided, New and
// Run create real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/aegisd/aegis/internal/calibrate"
	"github.com/aegisd/aegis/internal/command"
	"github.com/aegisd/aegis/internal/config"
	"github.com/aegisd/aegis/internal/enroll"
	enrollpg "github.com/aegisd/aegis/internal/enroll/postgres"
	"github.com/aegisd/aegis/internal/guard"
	"github.com/aegisd/aegis/internal/health"
	"github.com/aegisd/aegis/internal/observe"
	"github.com/aegisd/aegis/internal/resilience"
	"github.com/aegisd/aegis/internal/segment"
	"github.com/aegisd/aegis/internal/ui"
	"github.com/aegisd/aegis/internal/vision"
	"github.com/aegisd/aegis/internal/vision/camera"
	"github.com/aegisd/aegis/pkg/audio"
	"github.com/aegisd/aegis/pkg/audio/remote"
	"github.com/aegisd/aegis/pkg/provider/llm"
	"github.com/aegisd/aegis/pkg/provider/stt"
	"github.com/aegisd/aegis/pkg/provider/tts"
	facerec "github.com/aegisd/aegis/pkg/provider/vision"
)

// defaultCalibration is the ambient sampling window used when the config
// leaves audio.calibration_seconds unset.
const defaultCalibration = 3 * time.Second

// Default control phrases used when the config lists none.
var (
	defaultActivate   = []string{"activate guard mode"}
	defaultDeactivate = []string{"deactivate guard mode"}
)

// Providers holds one interface value per external collaborator slot. Nil
// means the collaborator is not configured. Populated by main via the config
// registry.
type Providers struct {
	Transcriber stt.Transcriber
	Responder   llm.Responder
	Synthesizer tts.Synthesizer
	Detector    facerec.Detector
}

// App owns all subsystem lifetimes and orchestrates the sensing pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics

	hub       *ui.Hub
	profiles  *calibrate.Publisher
	segmenter *segment.Segmenter
	verifier  *vision.Verifier
	arbiter   *guard.Arbiter
	bridge    *guard.Bridge
	store     enroll.Store
	enroller  *enroll.Enroller

	audioSrc audio.Source
	camSrc   vision.Source

	// tee splits the audio stream between the segmenter and short-lived
	// recalibration windows.
	tee    *audio.Tee
	segTap *audio.Tap

	httpSrv *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithAudioSource injects a capture source instead of dialling the remote
// microphone from config.
func WithAudioSource(src audio.Source) Option {
	return func(a *App) { a.audioSrc = src }
}

// WithCameraSource injects a camera source instead of polling the snapshot
// endpoint from config.
func WithCameraSource(src vision.Source) Option {
	return func(a *App) { a.camSrc = src }
}

// WithEnrollStore injects an enrollment store instead of connecting to
// Postgres from config.
func WithEnrollStore(s enroll.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics overrides the metrics instance. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	a.hub = ui.NewHub(ui.WithMetrics(a.metrics))
	a.profiles = calibrate.NewPublisher()
	a.segmenter = segment.New(a.segmenterConfig(), a.profiles)
	a.arbiter = guard.NewArbiter(guard.WithNotifier(&meteredNotifier{
		next:    a.hub,
		metrics: a.metrics,
	}))

	a.initVerifier()
	if err := a.initEnrollment(ctx); err != nil {
		return nil, fmt.Errorf("app: init enrollment: %w", err)
	}
	a.initBridge()
	a.initHTTP()

	return a, nil
}

// segmenterConfig maps the audio config onto segmenter tuning. Zero config
// fields keep the segmenter defaults.
func (a *App) segmenterConfig() segment.Config {
	cfg := segment.Config{
		SampleRate:   a.cfg.Audio.SampleRate,
		ChunkSize:    a.cfg.Audio.ChunkSize,
		Bands:        a.cfg.Audio.SpectrumBands,
		HoldDuration: time.Duration(a.cfg.Audio.HoldMillis) * time.Millisecond,
	}
	if a.cfg.Audio.OnsetChunks > 0 && a.cfg.Audio.ChunkSize > 0 && a.cfg.Audio.SampleRate > 0 {
		samples := a.cfg.Audio.OnsetChunks * a.cfg.Audio.ChunkSize
		cfg.OnsetDuration = time.Duration(samples) * time.Second / time.Duration(a.cfg.Audio.SampleRate)
	}
	return cfg
}

// initVerifier builds the identity verifier. The face detector is wrapped in
// the latency/error decorator; a missing detector still yields a verifier so
// the bridge always has a verification state to read, it just never promotes.
func (a *App) initVerifier() {
	detector := a.providers.Detector
	if detector != nil {
		detector = &observe.InstrumentedDetector{
			Inner:    detector,
			Metrics:  a.metrics,
			Provider: a.cfg.Providers.Vision.Name,
		}
	}
	a.verifier = vision.New(vision.Config{
		QueueSize:    a.cfg.Vision.QueueSize,
		Threshold:    a.cfg.Vision.Threshold,
		DemoteWindow: time.Duration(a.cfg.Vision.DemoteWindowSeconds) * time.Second,
	}, detector, vision.WithMetrics(a.metrics))
}

// initEnrollment connects the trusted face store, loads the enrolled set into
// the verifier, and builds the operator API. Without a store (or a detector
// for new enrollments) the guard persona simply always challenges.
func (a *App) initEnrollment(ctx context.Context) error {
	if a.store == nil {
		dsn := a.cfg.Enrollment.PostgresDSN
		if dsn == "" {
			slog.Warn("no enrollment store configured; no trusted identities enrolled")
			return nil
		}
		store, err := enrollpg.NewStore(ctx, dsn)
		if err != nil {
			return err
		}
		a.store = store
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
	}

	a.enroller = enroll.NewEnroller(a.store, a.providers.Detector)

	n, err := a.enroller.Refresh(ctx, a.verifier)
	if err != nil {
		return err
	}
	if n == 0 {
		slog.Warn("no trusted identities enrolled; the guard persona will always challenge")
	} else {
		slog.Info("trusted identities loaded", "count", n)
	}
	return nil
}

// initBridge wraps the conversational and synthesis providers in per-backend
// circuit breakers plus the latency/error decorators, then builds the bridge.
// Transcription is deliberately unwrapped beyond instrumentation: one attempt
// per utterance, a failure costs that utterance only.
func (a *App) initBridge() {
	var transcriber stt.Transcriber
	if a.providers.Transcriber != nil {
		transcriber = &observe.InstrumentedTranscriber{
			Inner:    a.providers.Transcriber,
			Metrics:  a.metrics,
			Provider: a.cfg.Providers.STT.Name,
		}
	}

	var responder llm.Responder
	if a.providers.Responder != nil {
		responder = resilience.NewResponderFallback(&observe.InstrumentedResponder{
			Inner:    a.providers.Responder,
			Metrics:  a.metrics,
			Provider: a.cfg.Providers.LLM.Name,
		}, a.cfg.Providers.LLM.Name, resilience.FallbackConfig{})
	}

	var synth tts.Synthesizer
	if a.providers.Synthesizer != nil {
		synth = resilience.NewSynthesizerFallback(&observe.InstrumentedSynthesizer{
			Inner:    a.providers.Synthesizer,
			Metrics:  a.metrics,
			Provider: a.cfg.Providers.TTS.Name,
		}, a.cfg.Providers.TTS.Name, resilience.FallbackConfig{})
	}

	a.bridge = guard.NewBridge(
		a.bridgeConfig(),
		a.arbiter,
		a.verifier,
		command.New(a.vocabulary(), a.matcherOptions()...),
		transcriber,
		responder,
		synth,
	)
}

// bridgeConfig maps the personas config onto bridge tuning.
func (a *App) bridgeConfig() guard.BridgeConfig {
	cfg := guard.BridgeConfig{
		FallbackReply: a.cfg.Personas.FallbackReply,
		SampleRate:    a.cfg.Audio.SampleRate,
		HistoryLimit:  a.cfg.Personas.HistoryLimit,
		Metrics:       a.metrics,
	}
	prompts := guard.DefaultPrompts()
	if a.cfg.Personas.AssistantPrompt != "" {
		prompts.Assistant = a.cfg.Personas.AssistantPrompt
	}
	for i, p := range a.cfg.Personas.GuardPrompts {
		if i >= guard.MaxEscalationLevel {
			break
		}
		if p != "" {
			prompts.Guard[i] = p
		}
	}
	cfg.Prompts = prompts
	return cfg
}

// vocabulary builds the control phrase set from config, falling back to the
// default phrases when a direction lists none.
func (a *App) vocabulary() []command.Phrase {
	activate := a.cfg.Commands.Activate
	if len(activate) == 0 {
		activate = defaultActivate
	}
	deactivate := a.cfg.Commands.Deactivate
	if len(deactivate) == 0 {
		deactivate = defaultDeactivate
	}

	vocab := make([]command.Phrase, 0, len(activate)+len(deactivate))
	for _, p := range activate {
		vocab = append(vocab, command.Phrase{Text: p, Kind: command.KindActivate})
	}
	for _, p := range deactivate {
		vocab = append(vocab, command.Phrase{Text: p, Kind: command.KindDeactivate})
	}
	return vocab
}

func (a *App) matcherOptions() []command.Option {
	if a.cfg.Commands.AcceptThreshold > 0 {
		return []command.Option{command.WithThreshold(a.cfg.Commands.AcceptThreshold)}
	}
	return nil
}

// initHTTP assembles the operator surface: UI websocket, enrollment API,
// health endpoints, and the Prometheus scrape handler.
func (a *App) initHTTP() {
	mux := http.NewServeMux()
	mux.Handle("GET /ws", a.hub)
	mux.Handle("GET /metrics", promhttp.Handler())

	checkers := []health.Checker{}
	if pinger, ok := a.store.(interface{ Ping(context.Context) error }); ok {
		checkers = append(checkers, health.PingChecker("enrollment-store", pinger.Ping))
	}
	if url := a.cfg.Vision.ServiceURL; url != "" {
		checkers = append(checkers, health.HTTPChecker("face-service", url))
	}
	if url := a.cfg.Providers.STT.BaseURL; url != "" {
		checkers = append(checkers, health.HTTPChecker("transcription-server", url))
	}
	health.New(checkers...).Register(mux)

	if a.enroller != nil {
		enroll.NewAPI(a.enroller, a.verifier).Register(mux)
	}

	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	a.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Hub returns the UI event hub, mainly for tests.
func (a *App) Hub() *ui.Hub { return a.hub }

// Arbiter returns the guard arbiter, mainly for tests.
func (a *App) Arbiter() *guard.Arbiter { return a.arbiter }

// Run starts the sensing pipeline and blocks until ctx is cancelled. The
// audio path calibrates first, then segments; the camera path pumps frames
// into the verifier; the HTTP server carries the operator surface throughout.
// A lost capture source drops the guard to Idle and leaves the rest running.
func (a *App) Run(ctx context.Context) error {
	if err := a.openSources(ctx); err != nil {
		return err
	}
	a.tee = audio.NewTee(a.audioSrc)
	a.segTap = a.tee.Tap(32)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.runHTTP(ctx) })
	g.Go(func() error { return a.tee.Run(ctx) })
	g.Go(func() error { return a.runAudio(ctx) })
	g.Go(func() error { return a.bridge.Run(ctx, a.segmenter.Utterances()) })
	g.Go(func() error { return a.hub.PumpSpectra(ctx, a.segmenter.Spectra()) })
	g.Go(func() error { return a.runVision(ctx) })
	g.Go(func() error { return a.verifier.Run(ctx) })
	g.Go(func() error { return a.watchRecalibrations(ctx) })

	slog.Info("aegis running",
		"listen_addr", a.httpSrv.Addr,
		"guard_mode", a.arbiter.Mode())
	return g.Wait()
}

// openSources dials the capture endpoints that were not injected.
func (a *App) openSources(ctx context.Context) error {
	if a.audioSrc == nil {
		url := a.cfg.Audio.RemoteURL
		if url == "" {
			return errors.New("app: no audio capture source configured")
		}
		src, err := remote.Dial(ctx, url, remote.Config{SampleRate: a.cfg.Audio.SampleRate})
		if err != nil {
			return fmt.Errorf("app: open microphone: %w", err)
		}
		a.audioSrc = src
	}
	a.closers = append(a.closers, a.audioSrc.Close)

	if a.camSrc == nil && a.cfg.Vision.CameraURL != "" && a.providers.Detector != nil {
		src, err := camera.New(camera.Config{
			URL:      a.cfg.Vision.CameraURL,
			Interval: time.Duration(a.cfg.Vision.PollMillis) * time.Millisecond,
		})
		if err != nil {
			return fmt.Errorf("app: open camera: %w", err)
		}
		a.camSrc = src
	}
	if a.camSrc != nil {
		a.closers = append(a.closers, a.camSrc.Close)
	}
	return nil
}

// runAudio calibrates the ambient profile, then hands the stream to the
// segmenter. Losing the microphone is a degraded state, not a crash: the
// guard drops to Idle and the goroutine ends without taking the daemon down.
func (a *App) runAudio(ctx context.Context) error {
	if err := a.profiles.Run(ctx, a.segTap, a.calibrationWindow()); err != nil {
		if errors.Is(err, audio.ErrCaptureLost) {
			a.captureLost(ctx, "microphone")
			return nil
		}
		return fmt.Errorf("app: calibrate: %w", err)
	}

	err := a.segmenter.Run(ctx, a.segTap)
	if err != nil && errors.Is(err, audio.ErrCaptureLost) {
		a.captureLost(ctx, "microphone")
		return nil
	}
	return err
}

// runVision pumps camera frames into the verifier queue. Without a camera the
// verification state simply stays unverified; losing the camera mid-run is
// handled like a microphone loss.
func (a *App) runVision(ctx context.Context) error {
	if a.camSrc == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	err := a.verifier.Pump(ctx, a.camSrc)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.captureLost(ctx, "camera")
		return nil
	}
	return err
}

// captureLost fails the guard safe to Idle and records the loss. The arbiter
// notifies the UI so the operator sees the degraded state.
func (a *App) captureLost(ctx context.Context, source string) {
	a.arbiter.CaptureLost(source)
	a.metrics.RecordCaptureLoss(ctx, source)
}

func (a *App) calibrationWindow() time.Duration {
	if a.cfg.Audio.CalibrationSeconds > 0 {
		return time.Duration(a.cfg.Audio.CalibrationSeconds) * time.Second
	}
	return defaultCalibration
}

// watchRecalibrations re-runs ambient sampling whenever a UI client requests
// it. The sampler reads its own tap off the tee, so the segmenter keeps
// seeing every frame during the window.
func (a *App) watchRecalibrations(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.hub.Recalibrations():
			slog.Info("recalibration requested")
			tap := a.tee.Tap(0)
			err := a.profiles.Run(ctx, tap, a.calibrationWindow())
			tap.Close()
			if err != nil {
				slog.Warn("recalibration failed", "error", err)
				a.hub.ActionNotification("Recalibration failed", "error")
				continue
			}
			a.hub.ActionNotification("Ambient noise profile recalibrated", "info")
		}
	}
}

// runHTTP serves the operator surface until ctx is cancelled.
func (a *App) runHTTP(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("app: http server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.httpSrv.Shutdown(shutdownCtx)
		return ctx.Err()
	}
}

// meteredNotifier counts mode changes on their way to the UI hub.
type meteredNotifier struct {
	next    guard.Notifier
	metrics *observe.Metrics
}

func (n *meteredNotifier) ModeChanged(active bool) {
	n.metrics.RecordModeChange(context.Background(), active)
	n.next.ModeChanged(active)
}

func (n *meteredNotifier) TranscriptRecognized(text string) {
	n.next.TranscriptRecognized(text)
}

func (n *meteredNotifier) ActionNotification(message, severity string) {
	n.next.ActionNotification(message, severity)
}

var _ guard.Notifier = (*meteredNotifier)(nil)

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "error", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

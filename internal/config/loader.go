package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":    {"whisper", "whisper-native"},
	"llm":    {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts":    {"coqui", "elevenlabs"},
	"vision": {"http"},
}

// maxGuardPrompts caps the escalation ladder length.
const maxGuardPrompts = 3

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found. Soft
// issues (unknown provider names, missing optional stores) are logged as
// warnings instead.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}

	// Audio
	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must not be negative", cfg.Audio.SampleRate))
	}
	if cfg.Audio.CalibrationSeconds < 0 {
		errs = append(errs, fmt.Errorf("audio.calibration_seconds %d must not be negative", cfg.Audio.CalibrationSeconds))
	}
	if cfg.Audio.ChunkSize < 0 {
		errs = append(errs, fmt.Errorf("audio.chunk_size %d must not be negative", cfg.Audio.ChunkSize))
	}

	// Vision
	if cfg.Vision.QueueSize != 0 && (cfg.Vision.QueueSize < 1 || cfg.Vision.QueueSize > 3) {
		errs = append(errs, fmt.Errorf("vision.queue_size %d is out of range [1, 3]", cfg.Vision.QueueSize))
	}
	if cfg.Vision.Threshold < 0 {
		errs = append(errs, fmt.Errorf("vision.threshold %.3f must not be negative", cfg.Vision.Threshold))
	}
	if cfg.Vision.DemoteWindowSeconds < 0 {
		errs = append(errs, fmt.Errorf("vision.demote_window_seconds %d must not be negative", cfg.Vision.DemoteWindowSeconds))
	}
	if cfg.Vision.PollMillis < 0 {
		errs = append(errs, fmt.Errorf("vision.poll_millis %d must not be negative", cfg.Vision.PollMillis))
	}
	if cfg.Vision.CameraURL == "" {
		slog.Warn("vision.camera_url is empty; the camera pipeline is disabled and every presence will be treated as unverified")
	}

	// Commands
	if cfg.Commands.AcceptThreshold != 0 && (cfg.Commands.AcceptThreshold < 0 || cfg.Commands.AcceptThreshold > 100) {
		errs = append(errs, fmt.Errorf("commands.accept_threshold %.1f is out of range [0, 100]", cfg.Commands.AcceptThreshold))
	}
	for i, phrase := range cfg.Commands.Activate {
		if phrase == "" {
			errs = append(errs, fmt.Errorf("commands.activate[%d] must not be empty", i))
		}
	}
	for i, phrase := range cfg.Commands.Deactivate {
		if phrase == "" {
			errs = append(errs, fmt.Errorf("commands.deactivate[%d] must not be empty", i))
		}
	}
	if len(cfg.Commands.Activate) == 0 {
		slog.Warn("commands.activate is empty; default control phrases will be used")
	}
	if len(cfg.Commands.Deactivate) == 0 {
		slog.Warn("commands.deactivate is empty; default control phrases will be used")
	}

	// Personas
	if len(cfg.Personas.GuardPrompts) > maxGuardPrompts {
		errs = append(errs, fmt.Errorf("personas.guard_prompts has %d entries; at most %d escalation levels are supported", len(cfg.Personas.GuardPrompts), maxGuardPrompts))
	}
	if cfg.Personas.HistoryLimit < 0 {
		errs = append(errs, fmt.Errorf("personas.history_limit %d must not be negative", cfg.Personas.HistoryLimit))
	}

	// Provider name validation, warn for unknown names.
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("vision", cfg.Providers.Vision.Name)

	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required; utterances cannot be transcribed without it"))
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("providers.llm is not configured; conversational turns will use the fallback reply only")
	}
	if cfg.Providers.TTS.Name == "" {
		slog.Warn("providers.tts is not configured; replies will not be spoken")
	}
	if cfg.Providers.Vision.Name == "" {
		slog.Warn("providers.vision is not configured; every presence will be treated as unverified")
	}

	// Enrollment
	if cfg.Enrollment.PostgresDSN == "" {
		slog.Warn("enrollment.postgres_dsn is empty; no trusted identities can be enrolled and the guard persona will always challenge")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [LoadFromReader] for fields left unset.
const (
	DefaultCaptureSampleRate  = 16000
	DefaultPlaybackSampleRate = 24000
	DefaultSteadyTimeout      = 10 * time.Second
	DefaultColdStartTimeout   = 60 * time.Second
	DefaultStallTimeout       = 30 * time.Second
	DefaultMaxChunkRunes      = 120
	DefaultHistoryTurns       = 8
	DefaultMinConfidence      = 0.6
	DefaultMinRunes           = 3
	DefaultEchoSimilarity     = 0.82
	DefaultEnergyThreshold    = 1000.0
	DefaultArchiveDir         = "./artifacts"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands ${ENV_VAR}
// references, applies defaults, and validates the result. Useful in tests
// where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	raw = []byte(os.Expand(string(raw), func(key string) string {
		return os.Getenv(key)
	}))

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}

	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Audio.CaptureSampleRate == 0 {
		cfg.Audio.CaptureSampleRate = DefaultCaptureSampleRate
	}
	if cfg.Audio.PlaybackSampleRate == 0 {
		cfg.Audio.PlaybackSampleRate = DefaultPlaybackSampleRate
	}
	if cfg.Pipeline.SteadyTimeout == 0 {
		cfg.Pipeline.SteadyTimeout = DefaultSteadyTimeout
	}
	if cfg.Pipeline.ColdStartTimeout == 0 {
		cfg.Pipeline.ColdStartTimeout = DefaultColdStartTimeout
	}
	if cfg.Pipeline.StallTimeout == 0 {
		cfg.Pipeline.StallTimeout = DefaultStallTimeout
	}
	if cfg.Pipeline.MaxChunkRunes == 0 {
		cfg.Pipeline.MaxChunkRunes = DefaultMaxChunkRunes
	}
	if cfg.Pipeline.HistoryTurns == 0 {
		cfg.Pipeline.HistoryTurns = DefaultHistoryTurns
	}
	if cfg.Pipeline.BargeIn.Mode == "" {
		cfg.Pipeline.BargeIn.Mode = BargeInOff
	}
	if cfg.Pipeline.BargeIn.MinConfidence == 0 {
		cfg.Pipeline.BargeIn.MinConfidence = DefaultMinConfidence
	}
	if cfg.Pipeline.BargeIn.MinRunes == 0 {
		cfg.Pipeline.BargeIn.MinRunes = DefaultMinRunes
	}
	if cfg.Pipeline.BargeIn.EchoSimilarity == 0 {
		cfg.Pipeline.BargeIn.EchoSimilarity = DefaultEchoSimilarity
	}
	if cfg.Pipeline.BargeIn.EnergyThreshold == 0 {
		cfg.Pipeline.BargeIn.EnergyThreshold = DefaultEnergyThreshold
	}
	if cfg.Archive.Backend == "" {
		cfg.Archive.Backend = ArchiveFile
	}
	if cfg.Archive.Dir == "" {
		cfg.Archive.Dir = DefaultArchiveDir
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Backends.STT.Endpoint == "" {
		errs = append(errs, errors.New("backends.stt.endpoint is required"))
	}
	if cfg.Backends.LLM.Endpoint == "" && cfg.Backends.LLM.APIKey == "" {
		errs = append(errs, errors.New("backends.llm needs an endpoint or an api_key"))
	}
	if cfg.Backends.TTS.Endpoint == "" {
		errs = append(errs, errors.New("backends.tts.endpoint is required"))
	}
	if cfg.Pipeline.VideoEnabled && cfg.Backends.Video.Endpoint == "" {
		errs = append(errs, errors.New("backends.video.endpoint is required when pipeline.video_enabled is true"))
	}
	if cfg.Pipeline.VideoEnabled && cfg.Voice.FaceImagePath == "" {
		errs = append(errs, errors.New("voice.face_image_path is required when pipeline.video_enabled is true"))
	}

	if cfg.Voice.Speaker == "" {
		errs = append(errs, errors.New("voice.speaker is required"))
	}

	if cfg.Audio.CaptureSampleRate < 8000 {
		errs = append(errs, fmt.Errorf("audio.capture_sample_rate %d is below 8000", cfg.Audio.CaptureSampleRate))
	}
	if cfg.Audio.PlaybackSampleRate < 8000 {
		errs = append(errs, fmt.Errorf("audio.playback_sample_rate %d is below 8000", cfg.Audio.PlaybackSampleRate))
	}

	if !cfg.Pipeline.BargeIn.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("pipeline.barge_in.mode %q is invalid; valid values: off, transcript, energy", cfg.Pipeline.BargeIn.Mode))
	}
	if c := cfg.Pipeline.BargeIn.MinConfidence; c < 0 || c > 1 {
		errs = append(errs, fmt.Errorf("pipeline.barge_in.min_confidence %.2f is out of range [0, 1]", c))
	}
	if s := cfg.Pipeline.BargeIn.EchoSimilarity; s < 0 || s > 1 {
		errs = append(errs, fmt.Errorf("pipeline.barge_in.echo_similarity %.2f is out of range [0, 1]", s))
	}
	if cfg.Pipeline.ColdStartTimeout < cfg.Pipeline.SteadyTimeout {
		errs = append(errs, fmt.Errorf("pipeline.tts_cold_start_timeout %s is shorter than steady_timeout %s", cfg.Pipeline.ColdStartTimeout, cfg.Pipeline.SteadyTimeout))
	}

	if !cfg.Archive.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("archive.backend %q is invalid; valid values: file, postgres", cfg.Archive.Backend))
	}
	if cfg.Pipeline.SaveArtifacts && cfg.Archive.Backend == ArchivePostgres && cfg.Archive.PostgresDSN == "" {
		errs = append(errs, errors.New("archive.postgres_dsn is required for the postgres backend"))
	}

	for name, entry := range map[string]BackendEntry{
		"stt": cfg.Backends.STT, "llm": cfg.Backends.LLM,
		"tts": cfg.Backends.TTS, "video": cfg.Backends.Video,
	} {
		if b := entry.Backoff; b != nil {
			if b.Multiplier != 0 && b.Multiplier < 1 {
				errs = append(errs, fmt.Errorf("backends.%s.backoff.multiplier %.2f must be >= 1", name, b.Multiplier))
			}
			if b.MaxAttempts < 0 {
				errs = append(errs, fmt.Errorf("backends.%s.backoff.max_attempts must not be negative", name))
			}
		}
	}

	return errors.Join(errs...)
}

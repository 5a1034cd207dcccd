// Package config provides the configuration schema and loader for the
// hibiki voice pipeline.
package config

import (
	"time"

	"github.com/hibiki-ai/hibiki/internal/resilience"
	"github.com/hibiki-ai/hibiki/pkg/types"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// BargeInMode selects how an interruption is detected during playback.
type BargeInMode string

const (
	// BargeInOff pauses recognition while speaking; the user cannot
	// interrupt.
	BargeInOff BargeInMode = "off"

	// BargeInTranscript interrupts on a confident interim transcript that
	// is not an echo of the assistant's own speech.
	BargeInTranscript BargeInMode = "transcript"

	// BargeInEnergy interrupts on raw microphone energy.
	BargeInEnergy BargeInMode = "energy"
)

// IsValid reports whether m is a recognised barge-in mode.
func (m BargeInMode) IsValid() bool {
	switch m {
	case BargeInOff, BargeInTranscript, BargeInEnergy:
		return true
	}
	return false
}

// ArchiveBackend selects where turn artifacts are persisted.
type ArchiveBackend string

const (
	ArchiveFile     ArchiveBackend = "file"
	ArchivePostgres ArchiveBackend = "postgres"
)

// IsValid reports whether b is a recognised archive backend.
func (b ArchiveBackend) IsValid() bool {
	return b == ArchiveFile || b == ArchivePostgres
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Backends BackendsConfig `yaml:"backends"`
	Voice    VoiceConfig    `yaml:"voice"`
	Audio    AudioConfig    `yaml:"audio"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Archive  ArchiveConfig  `yaml:"archive"`
}

// ServerConfig holds logging and metrics settings.
type ServerConfig struct {
	// LogLevel controls verbosity. Defaults to "info".
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the TCP address the Prometheus /metrics endpoint
	// listens on. Empty disables the metrics server.
	MetricsAddr string `yaml:"metrics_addr"`
}

// BackendEntry is the common configuration block shared by all backends.
type BackendEntry struct {
	// Endpoint is the backend's URL. ws:// or wss:// for the streaming
	// backends, http:// or https:// for the rest.
	Endpoint string `yaml:"endpoint"`

	// APIKey is the authentication key for the backend if any.
	// Supports ${ENV_VAR} expansion.
	APIKey string `yaml:"api_key"`

	// Model selects a specific model where the backend offers several.
	Model string `yaml:"model"`

	// Timeout bounds a single request to the backend where the client
	// supports it. Zero leaves the client's own default in place.
	Timeout time.Duration `yaml:"timeout"`

	// Backoff overrides the reconnect policy for this backend.
	Backoff *BackoffConfig `yaml:"backoff"`
}

// BackoffConfig shapes the capped exponential reconnect policy of one
// backend. Zero fields fall back to the built-in defaults.
type BackoffConfig struct {
	Initial     time.Duration `yaml:"initial"`
	Max         time.Duration `yaml:"max"`
	Multiplier  float64       `yaml:"multiplier"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// Policy converts the override into a resilience policy. A nil receiver
// or zero fields yield the built-in defaults.
func (b *BackoffConfig) Policy() resilience.Policy {
	if b == nil {
		return resilience.Policy{}
	}
	return resilience.Policy{
		Initial:     b.Initial,
		Max:         b.Max,
		Multiplier:  b.Multiplier,
		MaxAttempts: b.MaxAttempts,
	}
}

// BackendsConfig declares the four upstream services.
type BackendsConfig struct {
	STT   BackendEntry `yaml:"stt"`
	LLM   BackendEntry `yaml:"llm"`
	TTS   BackendEntry `yaml:"tts"`
	Video BackendEntry `yaml:"video"`
}

// VoiceConfig selects the synthesis speaker and the face used for video.
type VoiceConfig struct {
	// Speaker is the pre-registered synthesis voice ID.
	Speaker string `yaml:"speaker"`

	// FaceImagePath is the server-side face image the video backend
	// animates. Only used when video is enabled.
	FaceImagePath string `yaml:"face_image_path"`
}

// AudioConfig describes the PCM layouts of the two audio paths.
type AudioConfig struct {
	// CaptureSampleRate is the microphone rate in Hz. Defaults to 16000.
	CaptureSampleRate int `yaml:"capture_sample_rate"`

	// PlaybackSampleRate is the synthesis output rate in Hz. Defaults
	// to 24000.
	PlaybackSampleRate int `yaml:"playback_sample_rate"`
}

// CaptureFormat returns the capture path PCM layout, mono s16le.
func (a AudioConfig) CaptureFormat() types.PCMFormat {
	return types.PCMFormat{SampleRate: a.CaptureSampleRate, Channels: 1, BytesPerSample: 2}
}

// PlaybackFormat returns the playback path PCM layout, mono s16le.
func (a AudioConfig) PlaybackFormat() types.PCMFormat {
	return types.PCMFormat{SampleRate: a.PlaybackSampleRate, Channels: 1, BytesPerSample: 2}
}

// BargeInConfig shapes interruption detection.
type BargeInConfig struct {
	// Mode selects the detection signal. Defaults to "off".
	Mode BargeInMode `yaml:"mode"`

	// MinConfidence is the interim-transcript confidence floor for
	// transcript mode. Defaults to 0.6.
	MinConfidence float64 `yaml:"min_confidence"`

	// MinRunes is the minimum interim length for transcript mode.
	// Defaults to 3.
	MinRunes int `yaml:"min_runes"`

	// EchoSimilarity is the Jaro-Winkler similarity above which an interim
	// transcript is treated as an echo of the assistant's own speech and
	// ignored. Defaults to 0.82.
	EchoSimilarity float64 `yaml:"echo_similarity"`

	// EnergyThreshold is the mean absolute sample amplitude that triggers
	// energy mode, in s16 units. Defaults to 1000.
	EnergyThreshold float64 `yaml:"energy_threshold"`
}

// PipelineConfig holds turn-loop behaviour.
type PipelineConfig struct {
	// VideoEnabled turns on talking-face rendering. The video backend is
	// not even constructed when false.
	VideoEnabled bool `yaml:"video_enabled"`

	// SaveArtifacts turns on per-turn archiving.
	SaveArtifacts bool `yaml:"save_artifacts"`

	// StreamingSynthesis asks the synthesis backend for incremental audio.
	StreamingSynthesis bool `yaml:"streaming_synthesis"`

	// SteadyTimeout bounds every synthesis after the first. Defaults
	// to 10s.
	SteadyTimeout time.Duration `yaml:"steady_timeout"`

	// ColdStartTimeout bounds the first synthesis after process start,
	// covering the backend's lazy model load. Defaults to 60s.
	ColdStartTimeout time.Duration `yaml:"tts_cold_start_timeout"`

	// StallTimeout bounds the gap between generation deltas once a turn
	// has been accepted. A stream that stays silent this long fails the
	// turn instead of holding the session. Defaults to 30s.
	StallTimeout time.Duration `yaml:"generation_stall_timeout"`

	// MaxChunkRunes force-flushes a sentence chunk that grows past this
	// length without terminal punctuation. Defaults to 120.
	MaxChunkRunes int `yaml:"max_chunk_runes"`

	// SystemPrompt is injected before the conversation history.
	SystemPrompt string `yaml:"system_prompt"`

	// HistoryTurns caps how many past exchanges are sent to the
	// generation backend. Defaults to 8.
	HistoryTurns int `yaml:"history_turns"`

	// BargeIn shapes interruption detection.
	BargeIn BargeInConfig `yaml:"barge_in"`
}

// ArchiveConfig selects and parameterises the artifact store.
type ArchiveConfig struct {
	// Backend is "file" or "postgres". Defaults to "file".
	Backend ArchiveBackend `yaml:"backend"`

	// Dir is the root directory for the file backend. Defaults to
	// "./artifacts".
	Dir string `yaml:"dir"`

	// PostgresDSN is the connection string for the postgres backend.
	// Supports ${ENV_VAR} expansion.
	PostgresDSN string `yaml:"postgres_dsn"`
}

package config

import (
	"strings"
	"testing"
	"time"
)

const validYAML = `
server:
  log_level: debug
  metrics_addr: ":9090"
backends:
  stt:
    endpoint: ws://localhost:8765/listen
  llm:
    endpoint: http://localhost:8100/v1
    api_key: sk-test
    model: gpt-4o-mini
  tts:
    endpoint: ws://localhost:8200/tts
voice:
  speaker: mika
`

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.LogLevel != LogDebug {
		t.Errorf("log_level = %q, want debug", cfg.Server.LogLevel)
	}
	if cfg.Backends.STT.Endpoint != "ws://localhost:8765/listen" {
		t.Errorf("unexpected stt endpoint %q", cfg.Backends.STT.Endpoint)
	}
	if cfg.Voice.Speaker != "mika" {
		t.Errorf("unexpected speaker %q", cfg.Voice.Speaker)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Audio.CaptureSampleRate != 16000 {
		t.Errorf("capture_sample_rate = %d, want 16000", cfg.Audio.CaptureSampleRate)
	}
	if cfg.Audio.PlaybackSampleRate != 24000 {
		t.Errorf("playback_sample_rate = %d, want 24000", cfg.Audio.PlaybackSampleRate)
	}
	if cfg.Pipeline.SteadyTimeout != 10*time.Second {
		t.Errorf("steady_timeout = %s, want 10s", cfg.Pipeline.SteadyTimeout)
	}
	if cfg.Pipeline.ColdStartTimeout != 60*time.Second {
		t.Errorf("tts_cold_start_timeout = %s, want 60s", cfg.Pipeline.ColdStartTimeout)
	}
	if cfg.Pipeline.StallTimeout != 30*time.Second {
		t.Errorf("generation_stall_timeout = %s, want 30s", cfg.Pipeline.StallTimeout)
	}
	if cfg.Pipeline.BargeIn.Mode != BargeInOff {
		t.Errorf("barge_in.mode = %q, want off", cfg.Pipeline.BargeIn.Mode)
	}
	if cfg.Pipeline.BargeIn.EchoSimilarity != 0.82 {
		t.Errorf("echo_similarity = %v, want 0.82", cfg.Pipeline.BargeIn.EchoSimilarity)
	}
	if cfg.Archive.Backend != ArchiveFile {
		t.Errorf("archive.backend = %q, want file", cfg.Archive.Backend)
	}
	if f := cfg.Audio.CaptureFormat(); f.Channels != 1 || f.BytesPerSample != 2 {
		t.Errorf("unexpected capture format %+v", f)
	}
}

func TestLoadFromReader_EnvExpansion(t *testing.T) {
	t.Setenv("HIBIKI_TEST_KEY", "sk-from-env")

	yaml := strings.Replace(validYAML, "api_key: sk-test", "api_key: ${HIBIKI_TEST_KEY}", 1)
	cfg, err := LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Backends.LLM.APIKey != "sk-from-env" {
		t.Errorf("api_key = %q, want sk-from-env", cfg.Backends.LLM.APIKey)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	yaml := validYAML + "\nunknown_field: true\n"
	if _, err := LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestValidate_MissingRequiredFields(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("server:\n  log_level: info\n"))
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{
		"backends.stt.endpoint is required",
		"backends.tts.endpoint is required",
		"voice.speaker is required",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error does not mention %q:\n%v", want, err)
		}
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	yaml := strings.Replace(validYAML, "log_level: debug", "log_level: loud", 1)
	_, err := LoadFromReader(strings.NewReader(yaml))
	if err == nil || !strings.Contains(err.Error(), "server.log_level") {
		t.Fatalf("expected log level error, got %v", err)
	}
}

func TestValidate_InvalidBargeInMode(t *testing.T) {
	yaml := validYAML + "\npipeline:\n  barge_in:\n    mode: telepathy\n"
	_, err := LoadFromReader(strings.NewReader(yaml))
	if err == nil || !strings.Contains(err.Error(), "pipeline.barge_in.mode") {
		t.Fatalf("expected barge-in mode error, got %v", err)
	}
}

func TestValidate_VideoRequiresEndpointAndFace(t *testing.T) {
	yaml := validYAML + "\npipeline:\n  video_enabled: true\n"
	_, err := LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected validation errors")
	}
	if !strings.Contains(err.Error(), "backends.video.endpoint") {
		t.Errorf("error does not mention video endpoint:\n%v", err)
	}
	if !strings.Contains(err.Error(), "voice.face_image_path") {
		t.Errorf("error does not mention face image:\n%v", err)
	}
}

func TestValidate_PostgresNeedsDSN(t *testing.T) {
	yaml := validYAML + "\npipeline:\n  save_artifacts: true\narchive:\n  backend: postgres\n"
	_, err := LoadFromReader(strings.NewReader(yaml))
	if err == nil || !strings.Contains(err.Error(), "archive.postgres_dsn") {
		t.Fatalf("expected postgres dsn error, got %v", err)
	}
}

func TestValidate_ColdStartShorterThanSteady(t *testing.T) {
	yaml := validYAML + "\npipeline:\n  steady_timeout: 20s\n  tts_cold_start_timeout: 5s\n"
	_, err := LoadFromReader(strings.NewReader(yaml))
	if err == nil || !strings.Contains(err.Error(), "tts_cold_start_timeout") {
		t.Fatalf("expected cold start error, got %v", err)
	}
}

func TestValidate_BackoffMultiplier(t *testing.T) {
	yaml := strings.Replace(validYAML,
		"    endpoint: ws://localhost:8765/listen",
		"    endpoint: ws://localhost:8765/listen\n    backoff:\n      multiplier: 0.5", 1)
	_, err := LoadFromReader(strings.NewReader(yaml))
	if err == nil || !strings.Contains(err.Error(), "backoff.multiplier") {
		t.Fatalf("expected backoff multiplier error, got %v", err)
	}
}

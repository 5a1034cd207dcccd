// Command hibiki is a real-time voice conversation pipeline: microphone
// audio is streamed to speech recognition, the recognised utterance drives a
// streamed language-model reply, the reply is synthesised sentence by
// sentence, and the audio is played back in order, with optional talking-face
// video and per-turn archiving.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/hibiki-ai/hibiki/internal/archive"
	"github.com/hibiki-ai/hibiki/internal/config"
	"github.com/hibiki-ai/hibiki/internal/observe"
	"github.com/hibiki-ai/hibiki/internal/pipeline"
	malgoaudio "github.com/hibiki-ai/hibiki/pkg/audio/malgo"
	"github.com/hibiki-ai/hibiki/pkg/provider/llm/openai"
	"github.com/hibiki-ai/hibiki/pkg/provider/stt/earsws"
	"github.com/hibiki-ai/hibiki/pkg/provider/tts/cosyvoice"
	"github.com/hibiki-ai/hibiki/pkg/provider/video"
	"github.com/hibiki-ai/hibiki/pkg/provider/video/wav2lip"
	"github.com/hibiki-ai/hibiki/pkg/types"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "hibiki: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "hibiki: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.Server.LogLevel))

	slog.Info("hibiki starting",
		"config", *configPath,
		"log_level", cfg.Server.LogLevel,
		"barge_in", cfg.Pipeline.BargeIn.Mode,
		"video", cfg.Pipeline.VideoEnabled,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "hibiki"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Audio devices ─────────────────────────────────────────────────────────
	// No microphone or speaker means nothing to orchestrate.
	audioClient, err := malgoaudio.NewClient(malgoaudio.Config{
		CaptureFormat:  cfg.Audio.CaptureFormat(),
		PlaybackFormat: cfg.Audio.PlaybackFormat(),
	})
	if err != nil {
		slog.Error("failed to open audio devices", "err", err)
		return 1
	}
	defer audioClient.Close()

	// ── Backends ──────────────────────────────────────────────────────────────
	recognition, err := earsws.New(cfg.Backends.STT.Endpoint)
	if err != nil {
		slog.Error("failed to create recognition backend", "err", err)
		return 1
	}

	var llmOpts []openai.Option
	if cfg.Backends.LLM.Endpoint != "" {
		llmOpts = append(llmOpts, openai.WithBaseURL(cfg.Backends.LLM.Endpoint))
	}
	if cfg.Backends.LLM.Timeout > 0 {
		llmOpts = append(llmOpts, openai.WithTimeout(cfg.Backends.LLM.Timeout))
	}
	generation, err := openai.New(cfg.Backends.LLM.APIKey, cfg.Backends.LLM.Model, llmOpts...)
	if err != nil {
		slog.Error("failed to create generation backend", "err", err)
		return 1
	}

	synthesis, err := cosyvoice.New(cfg.Backends.TTS.Endpoint, cfg.Audio.PlaybackFormat(),
		cosyvoice.WithColdStartTimeout(cfg.Pipeline.ColdStartTimeout),
		cosyvoice.WithSteadyTimeout(cfg.Pipeline.SteadyTimeout),
	)
	if err != nil {
		slog.Error("failed to create synthesis backend", "err", err)
		return 1
	}

	var videoBackend video.Provider
	if cfg.Pipeline.VideoEnabled {
		vb, err := wav2lip.New(cfg.Backends.Video.Endpoint, filepath.Join(cfg.Archive.Dir, "video"))
		if err != nil {
			slog.Error("failed to create video backend", "err", err)
			return 1
		}
		videoBackend = vb
	}

	// ── Artifact store ────────────────────────────────────────────────────────
	var store archive.Store
	if cfg.Pipeline.SaveArtifacts {
		switch cfg.Archive.Backend {
		case config.ArchivePostgres:
			pool, err := pgxpool.New(ctx, cfg.Archive.PostgresDSN)
			if err != nil {
				slog.Error("failed to connect to postgres", "err", err)
				return 1
			}
			defer pool.Close()
			pg := archive.NewPostgresStore(pool)
			if err := pg.Migrate(ctx); err != nil {
				slog.Error("failed to migrate archive schema", "err", err)
				return 1
			}
			store = pg
		default:
			fs, err := archive.NewFileStore(cfg.Archive.Dir)
			if err != nil {
				slog.Error("failed to create artifact directory", "err", err)
				return 1
			}
			store = fs
		}
	}

	// ── Pipeline ──────────────────────────────────────────────────────────────
	orchestrator, err := pipeline.New(pipeline.Options{
		Recognition: recognition,
		Generation:  generation,
		Synthesis:   synthesis,
		Video:       videoBackend,
		Capture:     audioClient.Capture,
		Playback:    audioClient.Playback,
		Archive:     store,
		Metrics:     observe.DefaultMetrics(),

		Voice:              types.VoiceProfile{ID: cfg.Voice.Speaker},
		FaceImagePath:      cfg.Voice.FaceImagePath,
		SystemPrompt:       cfg.Pipeline.SystemPrompt,
		HistoryTurns:       cfg.Pipeline.HistoryTurns,
		MaxChunkRunes:      cfg.Pipeline.MaxChunkRunes,
		StreamingSynthesis: cfg.Pipeline.StreamingSynthesis,
		StallTimeout:       cfg.Pipeline.StallTimeout,
		BargeIn:            pipeline.PolicyFromConfig(cfg.Pipeline.BargeIn),

		RecognitionBackoff: cfg.Backends.STT.Backoff.Policy(),
		GenerationBackoff:  cfg.Backends.LLM.Backoff.Policy(),
		SynthesisBackoff:   cfg.Backends.TTS.Backoff.Policy(),
	})
	if err != nil {
		slog.Error("failed to build pipeline", "err", err)
		return 1
	}

	g, gctx := errgroup.WithContext(ctx)

	// ── Metrics endpoint (optional) ───────────────────────────────────────────
	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: mux}

		g.Go(func() error {
			slog.Info("metrics endpoint listening", "addr", cfg.Server.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		return orchestrator.Run(gctx)
	})

	slog.Info("ready — press Ctrl+C to shut down")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// newLogger builds the process-wide slog logger at the configured level.
func newLogger(level config.LogLevel) *slog.Logger {
	var l slog.Level
	switch level {
	case config.LogDebug:
		l = slog.LevelDebug
	case config.LogWarn:
		l = slog.LevelWarn
	case config.LogError:
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

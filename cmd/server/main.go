package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/beingfastian/apd-listener-tool/internal/audio"
	"github.com/beingfastian/apd-listener-tool/internal/config"
	"github.com/beingfastian/apd-listener-tool/internal/extract"
	"github.com/beingfastian/apd-listener-tool/internal/metrics"
	"github.com/beingfastian/apd-listener-tool/internal/pipeline"
	"github.com/beingfastian/apd-listener-tool/internal/server"
	"github.com/beingfastian/apd-listener-tool/internal/session"
	"github.com/beingfastian/apd-listener-tool/internal/storage"
	"github.com/beingfastian/apd-listener-tool/internal/store"
	"github.com/beingfastian/apd-listener-tool/internal/synthesis"
	"github.com/beingfastian/apd-listener-tool/internal/transcription"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "apd-listener-tool"
	serviceVersion    = "1.0.0"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.Int("port", cfg.Server.Port),
		slog.String("address", cfg.Server.Address),
		slog.Int("max_sessions", cfg.Server.MaxSessions),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.String("live_strategy", cfg.Live.Strategy),
		slog.String("transcription_model", cfg.Transcription.Model),
		slog.String("extraction_model", cfg.Extraction.Model),
		slog.String("synthesis_voice", cfg.Synthesis.Voice),
		slog.String("bucket", cfg.Storage.Bucket),
		slog.String("log_level", cfg.Logging.Level),
	)

	appMetrics := metrics.NewMetrics()

	audioFormat := audio.Format{
		SampleRate:  cfg.Audio.SampleRate,
		Channels:    cfg.Audio.Channels,
		SampleWidth: cfg.Audio.SampleWidth,
	}
	decoder := audio.NewFFmpegDecoder(cfg.Audio.FFmpegPath, audioFormat)

	jobs, err := store.Open(cfg.Database.Path)
	if err != nil {
		logger.Error("Failed to open job store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer jobs.Close()

	artifacts, err := newArtifactStore(cfg)
	if err != nil {
		logger.Error("Failed to create artifact store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	transcriptionClient, err := transcription.NewClient(transcription.Config{
		Endpoint:      cfg.Transcription.Endpoint,
		APIKey:        cfg.Transcription.APIKey,
		Model:         cfg.Transcription.Model,
		Language:      cfg.Transcription.Language,
		Timeout:       cfg.Transcription.GetTimeoutDuration(),
		MaxRetries:    cfg.Transcription.MaxRetries,
		MaxConcurrent: cfg.Transcription.MaxConcurrent,
	})
	if err != nil {
		logger.Error("Failed to create transcription client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	extractor, err := extract.New(extract.Config{
		APIKey:      cfg.Extraction.APIKey,
		Model:       cfg.Extraction.Model,
		Temperature: cfg.Extraction.Temperature,
		Timeout:     cfg.Extraction.GetTimeoutDuration(),
		SplitSteps:  cfg.Extraction.SplitSteps,
	})
	if err != nil {
		logger.Error("Failed to create instruction extractor", slog.String("error", err.Error()))
		os.Exit(1)
	}

	synthesizer, err := synthesis.NewClient(synthesis.Config{
		Endpoint:   cfg.Synthesis.Endpoint,
		APIKey:     cfg.Synthesis.APIKey,
		Model:      cfg.Synthesis.Model,
		Voice:      cfg.Synthesis.Voice,
		Timeout:    cfg.Synthesis.GetTimeoutDuration(),
		MaxRetries: cfg.Synthesis.MaxRetries,
	})
	if err != nil {
		logger.Error("Failed to create synthesis client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	notifier := pipeline.NewNotifier(cfg.Webhook.URL, cfg.Webhook.GetTimeoutDuration(), logger)

	batchPipeline, err := pipeline.New(pipeline.Config{
		SynthesisWorkers: cfg.Pipeline.SynthesisWorkers,
		JobTimeout:       cfg.Pipeline.GetJobTimeout(),
		AudioFormat:      audioFormat,
	}, decoder, transcriptionClient, extractor, synthesizer, artifacts, jobs,
		appMetrics, notifier, logger)
	if err != nil {
		logger.Error("Failed to create pipeline", slog.String("error", err.Error()))
		os.Exit(1)
	}

	sessionMgr, err := session.NewManager(session.ManagerConfig{
		Session: session.Config{
			MinCompressedBytes: cfg.Live.MinCompressedBytes,
			ForceDecodeTimeout: cfg.Live.GetForceDecodeTimeout(),
			BufferDuration:     cfg.Live.GetBufferDuration(),
			MinAudioDuration:   cfg.Live.GetMinAudioDuration(),
			Overlap:            cfg.Live.GetOverlapDuration(),
			Strategy:           cfg.Live.Strategy,
			Format:             audioFormat,
		},
		MaxSessions:    cfg.Server.MaxSessions,
		SessionTimeout: cfg.Live.GetSessionTimeout(),
	}, decoder, transcriptionClient, batchPipeline, appMetrics, logger)
	if err != nil {
		logger.Error("Failed to create session manager", slog.String("error", err.Error()))
		os.Exit(1)
	}

	httpServer, err := server.NewHTTPServer(cfg, logger, batchPipeline, jobs,
		sessionMgr, transcriptionClient, synthesizer, appMetrics)
	if err != nil {
		logger.Error("Failed to create HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully",
		slog.String("http_address", fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)),
	)

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.GetShutdownTimeout())
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	sessionMgr.Stop()

	if err := transcriptionClient.Close(); err != nil {
		logger.Warn("Error closing transcription client", slog.String("error", err.Error()))
	}

	stats := transcriptionClient.GetStats()
	logger.Info("Final transcription statistics",
		slog.Uint64("total_requests", stats.TotalRequests),
		slog.Uint64("successful_requests", stats.SuccessRequests),
		slog.Float64("success_rate", stats.SuccessRate),
	)

	logger.Info("Service stopped")
}

// newArtifactStore builds the S3-backed artifact store from configuration.
// A custom endpoint switches to path-style addressing for S3-compatible stores.
func newArtifactStore(cfg *config.Config) (*storage.S3Store, error) {
	options := s3.Options{
		Region: cfg.Storage.Region,
		Credentials: aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
			return aws.Credentials{
				AccessKeyID:     cfg.Storage.AccessKeyID,
				SecretAccessKey: cfg.Storage.SecretAccessKey,
			}, nil
		}),
	}
	if cfg.Storage.Endpoint != "" {
		options.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
		options.UsePathStyle = true
	}

	return storage.NewS3Store(s3.New(options), storage.Config{
		Bucket:    cfg.Storage.Bucket,
		Region:    cfg.Storage.Region,
		KeyPrefix: cfg.Storage.KeyPrefix,
		Endpoint:  cfg.Storage.Endpoint,
	})
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}

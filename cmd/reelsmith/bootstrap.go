package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"reelsmith/internal/assembly"
	"reelsmith/internal/audioanalysis"
	"reelsmith/internal/captions"
	"reelsmith/internal/checkpoint"
	"reelsmith/internal/clips"
	"reelsmith/internal/compat"
	"reelsmith/internal/config"
	"reelsmith/internal/jobs"
	"reelsmith/internal/ledger"
	"reelsmith/internal/logging"
	"reelsmith/internal/media"
	"reelsmith/internal/media/ffmpeg"
	"reelsmith/internal/media/vad"
	"reelsmith/internal/notifications"
	"reelsmith/internal/redisconn"
	"reelsmith/internal/resilience"
	"reelsmith/internal/services/clipsource"
	"reelsmith/internal/services/scorer"
	"reelsmith/internal/services/transcribe"
	"reelsmith/internal/services/transport"
	"reelsmith/internal/storage"
	"reelsmith/internal/validation"
	"reelsmith/internal/workflow"
)

// pipeline holds every long-lived collaborator of the daemon.
type pipeline struct {
	cfg         *config.Config
	store       *jobs.Store
	adapter     *ffmpeg.Adapter
	ledger      *ledger.Ledger
	checkpoints *checkpoint.Store
	breakers    *resilience.Breakers
	limiter     *resilience.RateLimiter
	notifier    notifications.Service
	publisher   storage.Publisher
	stages      workflow.StageSet
}

// buildPipeline wires the media adapter, external clients, resilience guards
// and every stage handler.
func buildPipeline(ctx context.Context, cfg *config.Config, client *redis.Client, store *jobs.Store, logger *slog.Logger) (*pipeline, error) {
	keys := redisconn.NewKeys(cfg.Redis.KeyPrefix)
	p := &pipeline{
		cfg:         cfg,
		store:       store,
		adapter:     ffmpeg.New(cfg, logger),
		checkpoints: checkpoint.NewStore(client, keys, cfg.JobTTL(), cfg.RedisOpTimeout()),
		breakers:    resilience.NewBreakers(cfg.Breaker, cfg.BreakerCooldown(), resilience.WithLogger(logger)),
		limiter: resilience.NewRateLimiter(client, resilience.RateLimitOptions{
			Prefix:    keys.RateLimit(),
			Limit:     cfg.RateLimit.Requests,
			Window:    cfg.RateWindow(),
			FailOpen:  cfg.RateLimit.FailOpen,
			OpTimeout: cfg.RedisOpTimeout(),
			Logger:    logger,
		}),
	}

	led, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		return nil, fmt.Errorf("open rejection ledger: %w", err)
	}
	p.ledger = led

	notifier, err := notifications.NewService(cfg)
	if err != nil {
		_ = led.Close()
		return nil, err
	}
	p.notifier = notifier

	publisher, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	p.publisher = publisher

	p.stages = p.buildStages(logger)
	return p, nil
}

func (p *pipeline) buildStages(logger *slog.Logger) workflow.StageSet {
	cfg := p.cfg
	target := media.TargetFromConfig(cfg.Target)
	workDir := cfg.JobWorkDir

	catalogue := clipsource.New(p.client("clips", cfg.Clips.BaseURL, cfg.Clips.APIKey, cfg.Clips.TimeoutSeconds,
		p.retryPolicy(cfg.Clips.DownloadRetries, 0), logger))
	stt := transcribe.New(p.client("stt", cfg.Transcription.BaseURL, cfg.Transcription.APIKey, cfg.Transcription.TimeoutSeconds,
		p.retryPolicy(cfg.Transcription.MaxAttempts, cfg.Transcription.MaxElapsed), logger), cfg.Transcription.Language)
	scorerRetry := p.retryPolicy(cfg.Workflow.StageMaxAttempts, 0)
	ocr := scorer.NewOCRClient(p.client("ocr", cfg.Scorer.OCRURL, "", cfg.Scorer.TimeoutSeconds, scorerRetry, logger))

	engine := validation.NewEngine(p.adapter, validation.NewSerialScorer(ocr), p.ledger, validation.Options{
		ConfidenceFloor: cfg.Validation.ConfidenceFloor,
	}, logger)
	validator := validation.NewPool(engine, cfg.Workers.Validate)

	vadOpts := vad.OptionsFromConfig(cfg.VAD)
	var detectors []vad.Detector
	if cfg.VAD.Neural {
		neural := scorer.NewVADClient(p.client("vad", cfg.Scorer.VADURL, "", cfg.Scorer.TimeoutSeconds, scorerRetry, logger),
			cfg.VAD.NeuralMinConfident)
		detectors = append(detectors, neural)
	}
	detectors = append(detectors, vad.NewWebRTCDetector(vadOpts), vad.NewEnergyDetector(vadOpts), vad.NewLevelDetector(vadOpts))
	chain := vad.NewChain(logger, detectors...)
	logger.Debug("voice activity detectors", logging.String("order", strings.Join(chain.Names(), ",")))
	synchronizer := captions.NewSynchronizer(p.adapter, chain, captions.ParamsFromConfig(cfg.Captions), logger)

	clipOpts := clips.OptionsFromConfig(cfg)
	assemblyOpts := assembly.OptionsFromConfig(cfg)
	reconciler := compat.NewReconciler(p.adapter, target, cfg.Workers.Compat, logger)

	return workflow.StageSet{
		FetchCandidates: clips.NewFetcher(p.store, catalogue, p.ledger, clipOpts, logger),
		Select:          clips.NewSelector(p.store, p.adapter, clipOpts, logger),
		Download: clips.NewDownloader(clips.DownloaderDeps{
			Store:       p.store,
			Catalogue:   catalogue,
			Ledger:      p.ledger,
			Validator:   validator,
			Prober:      p.adapter,
			Checkpoints: p.checkpoints,
			ClipDir:     func(jobID string) string { return filepath.Join(workDir(jobID), "clips") },
		}, clipOpts, logger),
		AnalyzeAudio:        audioanalysis.NewAnalyzer(p.store, p.adapter, stt, logger),
		SynchronizeCaptions: captions.NewStage(p.store, synchronizer, workDir, logger),
		Trim:                assembly.NewTrimStage(p.store, p.adapter, p.checkpoints, workDir, assemblyOpts, logger),
		Assemble:            assembly.NewAssembleStage(p.store, reconciler, p.adapter, workDir, logger),
		Compose: assembly.NewComposeStage(assembly.ComposeDeps{
			Store:     p.store,
			Validator: validator,
			Composer:  p.adapter,
			Publisher: p.publisher,
			OutputDir: cfg.Paths.OutputDir,
		}, assemblyOpts, logger),
	}
}

// client builds a guarded HTTP client for one external dependency: a
// per-dependency breaker, the shared rate limiter and the given retry policy.
func (p *pipeline) client(name, baseURL, apiKey string, timeoutSeconds int, retry resilience.RetryPolicy, logger *slog.Logger) *transport.Client {
	return transport.New(transport.Options{
		Name:    name,
		BaseURL: baseURL,
		APIKey:  apiKey,
		Timeout: time.Duration(timeoutSeconds) * time.Second,
		Breaker: p.breakers.Get(name),
		Limiter: p.limiter,
		Retry:   retry,
		Logger:  logger,
	})
}

func (p *pipeline) retryPolicy(attempts, maxElapsedSeconds int) resilience.RetryPolicy {
	if attempts <= 0 {
		attempts = 1
	}
	return resilience.RetryPolicy{
		MaxAttempts: attempts,
		MaxElapsed:  time.Duration(maxElapsedSeconds) * time.Second,
		Backoff: resilience.Backoff{
			Base: time.Duration(p.cfg.Workflow.BackoffBaseMillis) * time.Millisecond,
			Max:  time.Duration(p.cfg.Workflow.BackoffMaxSeconds) * time.Second,
		},
	}
}

// Close releases the ledger and the event producer.
func (p *pipeline) Close() error {
	var errs []error
	if p.notifier != nil {
		if err := p.notifier.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close notifier: %w", err))
		}
	}
	if p.ledger != nil {
		if err := p.ledger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close ledger: %w", err))
		}
	}
	return errors.Join(errs...)
}

// newManager builds the workflow manager with every stage registered.
func (p *pipeline) newManager(logger *slog.Logger) *workflow.Manager {
	manager := workflow.NewManager(p.cfg, p.store, logger,
		workflow.WithNotifier(p.notifier),
		workflow.WithCheckpoints(p.checkpoints),
	)
	manager.ConfigureStages(p.stages)
	logger.Debug("pipeline wired",
		logging.String("publisher", publisherLabel(p.publisher)),
		logging.Bool("neural_vad", p.cfg.VAD.Neural),
		logging.Int("validate_workers", p.cfg.Workers.Validate),
	)
	return manager
}

func publisherLabel(p storage.Publisher) string {
	if p == nil || !p.Enabled() {
		return "local"
	}
	return "s3"
}

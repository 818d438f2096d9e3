package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateTarget(); err != nil {
		return err
	}
	if err := c.validateValidation(); err != nil {
		return err
	}
	if err := c.validateCaptions(); err != nil {
		return err
	}
	if err := c.validateVAD(); err != nil {
		return err
	}
	if err := c.validateServices(); err != nil {
		return err
	}
	if err := c.validateResilience(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateTarget() error {
	if c.Target.Width <= 0 || c.Target.Height <= 0 {
		return errors.New("target.width and target.height must be positive")
	}
	if c.Target.Width%2 != 0 || c.Target.Height%2 != 0 {
		return errors.New("target.width and target.height must be even")
	}
	if c.Target.FrameRate <= 0 {
		return errors.New("target.frame_rate must be positive")
	}
	if c.Target.AudioSampleRate <= 0 {
		return errors.New("target.audio_sample_rate must be positive")
	}
	switch c.Target.Anchor {
	case "center", "top", "bottom", "left", "right":
	default:
		return fmt.Errorf("target.anchor: unsupported value %q", c.Target.Anchor)
	}
	if c.Target.VideoCodec == "" || c.Target.AudioCodec == "" {
		return errors.New("target.video_codec and target.audio_codec must be set")
	}
	return nil
}

func (c *Config) validateValidation() error {
	if c.Validation.ConfidenceFloor <= 0 || c.Validation.ConfidenceFloor > 1 {
		return errors.New("validation.confidence_floor must be in (0, 1]")
	}
	return nil
}

func (c *Config) validateCaptions() error {
	if c.Captions.PrePad < 0 || c.Captions.PostPad < 0 {
		return errors.New("captions.pre_pad and captions.post_pad must be >= 0")
	}
	if c.Captions.MergeGap < 0 {
		return errors.New("captions.merge_gap must be >= 0")
	}
	if c.Captions.MinCueDuration < 0 {
		return errors.New("captions.min_cue_duration must be >= 0")
	}
	if c.Captions.WordsPerCaption <= 0 {
		return errors.New("captions.words_per_caption must be positive")
	}
	return nil
}

func (c *Config) validateVAD() error {
	switch c.VAD.FrameMillis {
	case 10, 20, 30:
	default:
		return errors.New("vad.frame_ms must be 10, 20 or 30")
	}
	if c.VAD.WebRTCMode < 0 || c.VAD.WebRTCMode > 3 {
		return errors.New("vad.webrtc_mode must be between 0 and 3")
	}
	if c.VAD.EnergyRatio <= 1 {
		return errors.New("vad.energy_ratio must be greater than 1")
	}
	if c.VAD.LevelThresholdDB >= 0 {
		return errors.New("vad.level_threshold_db must be negative (dBFS)")
	}
	if c.VAD.NeuralMinConfident < 0 || c.VAD.NeuralMinConfident > 1 {
		return errors.New("vad.neural_min_confidence must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateServices() error {
	for name, raw := range map[string]string{
		"clips.base_url":         c.Clips.BaseURL,
		"transcription.base_url": c.Transcription.BaseURL,
		"scorer.ocr_url":         c.Scorer.OCRURL,
		"scorer.vad_url":         c.Scorer.VADURL,
		"storage.endpoint":       c.Storage.Endpoint,
	} {
		if raw == "" {
			continue
		}
		parsed, err := url.Parse(raw)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("%s must be an absolute URL, got %q", name, raw)
		}
	}
	if c.Clips.MaxClips <= 0 {
		return errors.New("clips.max_clips must be positive")
	}
	if c.Clips.MinClips <= 0 || c.Clips.MinClips > c.Clips.MaxClips {
		return errors.New("clips.min_clips must be between 1 and clips.max_clips")
	}
	if c.Clips.MinClipSeconds <= 0 || c.Clips.MaxClipSeconds < c.Clips.MinClipSeconds {
		return errors.New("clips.min_clip_seconds must be positive and <= clips.max_clip_seconds")
	}
	if c.Clips.CoverageFactor < 1 {
		return errors.New("clips.coverage_factor must be >= 1")
	}
	if c.Transcription.MaxAttempts <= 0 {
		return errors.New("transcription.max_attempts must be positive")
	}
	return nil
}

func (c *Config) validateResilience() error {
	if c.Workers.Download <= 0 || c.Workers.Validate <= 0 || c.Workers.Compat <= 0 {
		return errors.New("workers.download, workers.validate and workers.compat must be positive")
	}
	if c.Breaker.FailureThreshold <= 0 {
		return errors.New("breaker.failure_threshold must be positive")
	}
	if c.Breaker.CooldownSeconds <= 0 {
		return errors.New("breaker.cooldown_seconds must be positive")
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.WindowSeconds <= 0 {
		return errors.New("rate_limit.requests and rate_limit.window_seconds must be positive")
	}
	if c.Checkpoint.Every <= 0 {
		return errors.New("checkpoint.every must be positive")
	}
	if c.Jobs.TTLHours <= 0 {
		return errors.New("jobs.ttl_hours must be positive")
	}
	if c.Storage.Bucket == "" && c.Storage.Prefix != "" {
		return errors.New("storage.bucket must be set when storage.prefix is set")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.Workers <= 0 {
		return errors.New("workflow.workers must be positive")
	}
	if c.Workflow.PollInterval <= 0 {
		return errors.New("workflow.poll_interval must be positive")
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		return errors.New("workflow.heartbeat_interval must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= 0 {
		return errors.New("workflow.heartbeat_timeout must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must be greater than workflow.heartbeat_interval")
	}
	if c.Workflow.StageMaxAttempts <= 0 {
		return errors.New("workflow.stage_max_attempts must be positive")
	}
	if c.Workflow.BackoffBaseMillis <= 0 || c.Workflow.BackoffMaxSeconds <= 0 {
		return errors.New("workflow.backoff_base_ms and workflow.backoff_max_seconds must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Format) {
	case "auto", "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

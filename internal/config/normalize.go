package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeRedis()
	c.normalizeMedia()
	c.normalizeTarget()
	c.normalizeServices()
	c.normalizeStorage()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		c.Paths.WorkDir = defaultWorkDir
	}
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		c.Paths.OutputDir = defaultOutputDir
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Ledger.Path) == "" {
		c.Ledger.Path = defaultLedgerPath
	}
	if c.Ledger.Path, err = expandPath(c.Ledger.Path); err != nil {
		return fmt.Errorf("ledger.path: %w", err)
	}
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
	if c.API.Token == "" {
		if value, ok := os.LookupEnv("REELSMITH_API_TOKEN"); ok {
			c.API.Token = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeRedis() {
	if value, ok := os.LookupEnv("REELSMITH_REDIS_ADDR"); ok && strings.TrimSpace(value) != "" {
		c.Redis.Addr = strings.TrimSpace(value)
	}
	if c.Redis.Password == "" {
		if value, ok := os.LookupEnv("REELSMITH_REDIS_PASSWORD"); ok {
			c.Redis.Password = value
		}
	}
	c.Redis.Addr = strings.TrimSpace(c.Redis.Addr)
	if c.Redis.Addr == "" {
		c.Redis.Addr = defaultRedisAddr
	}
	c.Redis.KeyPrefix = strings.Trim(strings.TrimSpace(c.Redis.KeyPrefix), ":")
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = defaultRedisKeyPrefix
	}
}

func (c *Config) normalizeMedia() {
	c.Media.FFmpegBinary = strings.TrimSpace(c.Media.FFmpegBinary)
	if c.Media.FFmpegBinary == "" {
		c.Media.FFmpegBinary = "ffmpeg"
	}
	c.Media.FFprobeBinary = strings.TrimSpace(c.Media.FFprobeBinary)
	if c.Media.FFprobeBinary == "" {
		c.Media.FFprobeBinary = "ffprobe"
	}
	c.Media.VideoPreset = strings.TrimSpace(c.Media.VideoPreset)
	if c.Media.VideoPreset == "" {
		c.Media.VideoPreset = defaultVideoPreset
	}
}

func (c *Config) normalizeTarget() {
	c.Target.Anchor = strings.ToLower(strings.TrimSpace(c.Target.Anchor))
	if c.Target.Anchor == "" {
		c.Target.Anchor = defaultAnchor
	}
	c.Target.VideoCodec = strings.ToLower(strings.TrimSpace(c.Target.VideoCodec))
	c.Target.AudioCodec = strings.ToLower(strings.TrimSpace(c.Target.AudioCodec))
}

func (c *Config) normalizeServices() {
	if c.Clips.APIKey == "" {
		if value, ok := os.LookupEnv("REELSMITH_CLIPS_API_KEY"); ok {
			c.Clips.APIKey = strings.TrimSpace(value)
		}
	}
	if c.Transcription.APIKey == "" {
		if value, ok := os.LookupEnv("REELSMITH_STT_API_KEY"); ok {
			c.Transcription.APIKey = strings.TrimSpace(value)
		}
	}
	c.Clips.BaseURL = strings.TrimRight(strings.TrimSpace(c.Clips.BaseURL), "/")
	c.Transcription.BaseURL = strings.TrimRight(strings.TrimSpace(c.Transcription.BaseURL), "/")
	c.Scorer.OCRURL = strings.TrimRight(strings.TrimSpace(c.Scorer.OCRURL), "/")
	c.Scorer.VADURL = strings.TrimRight(strings.TrimSpace(c.Scorer.VADURL), "/")
	c.Transcription.Language = strings.TrimSpace(c.Transcription.Language)
}

func (c *Config) normalizeStorage() {
	c.Storage.Bucket = strings.TrimSpace(c.Storage.Bucket)
	c.Storage.Prefix = strings.Trim(strings.TrimSpace(c.Storage.Prefix), "/")
	c.Storage.Endpoint = strings.TrimSpace(c.Storage.Endpoint)
	brokers := c.Events.Brokers[:0]
	for _, broker := range c.Events.Brokers {
		if trimmed := strings.TrimSpace(broker); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	c.Events.Brokers = brokers
	c.Events.Topic = strings.TrimSpace(c.Events.Topic)
	if c.Events.Topic == "" {
		c.Events.Topic = defaultEventsTopic
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

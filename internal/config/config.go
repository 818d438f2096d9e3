package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains working directory configuration.
type Paths struct {
	WorkDir   string `toml:"work_dir"`
	OutputDir string `toml:"output_dir"`
	LogDir    string `toml:"log_dir"`
}

// Redis contains connection settings for the shared job store, checkpoints
// and rate-limiter counters.
type Redis struct {
	Addr      string `toml:"addr"`
	Password  string `toml:"password"`
	DB        int    `toml:"db"`
	KeyPrefix string `toml:"key_prefix"`
	// OpTimeout bounds every single Redis round trip (seconds).
	OpTimeout int `toml:"op_timeout"`
}

// Ledger contains the durable rejection ledger location.
type Ledger struct {
	Path string `toml:"path"`
}

// Media contains the external media binaries and their per-call limits.
type Media struct {
	FFmpegBinary     string `toml:"ffmpeg_binary"`
	FFprobeBinary    string `toml:"ffprobe_binary"`
	ProbeTimeout     int    `toml:"probe_timeout"`
	TransformTimeout int    `toml:"transform_timeout"`
	DecodeTimeout    int    `toml:"decode_timeout"`
	VideoPreset      string `toml:"video_preset"`
	VideoCRF         int    `toml:"video_crf"`
}

// Target describes the composition format every clip is reconciled to.
type Target struct {
	Width           int     `toml:"width"`
	Height          int     `toml:"height"`
	FrameRate       float64 `toml:"frame_rate"`
	VideoCodec      string  `toml:"video_codec"`
	AudioCodec      string  `toml:"audio_codec"`
	AudioSampleRate int     `toml:"audio_sample_rate"`
	// Anchor selects which part of the source survives the aspect crop:
	// center, top, bottom, left or right.
	Anchor string `toml:"anchor"`
}

// Validation contains the text-detection policy.
type Validation struct {
	ConfidenceFloor float64 `toml:"confidence_floor"`
}

// Captions contains the gating and chunking parameters for burned-in captions.
type Captions struct {
	PrePad          float64 `toml:"pre_pad"`
	PostPad         float64 `toml:"post_pad"`
	MergeGap        float64 `toml:"merge_gap"`
	MinCueDuration  float64 `toml:"min_cue_duration"`
	WordsPerCaption int     `toml:"words_per_caption"`
	FontName        string  `toml:"font_name"`
	FontSize        int     `toml:"font_size"`
}

// VAD contains voice activity detection fallback settings.
type VAD struct {
	// Neural enables the remote neural scorer as first choice.
	Neural             bool    `toml:"neural"`
	// WebRTCMode is the webrtc detector aggressiveness, 0 (quality) to 3.
	WebRTCMode         int     `toml:"webrtc_mode"`
	FrameMillis        int     `toml:"frame_ms"`
	EnergyRatio        float64 `toml:"energy_ratio"`
	LevelThresholdDB   float64 `toml:"level_threshold_db"`
	MinSpeechMillis    int     `toml:"min_speech_ms"`
	HangoverMillis     int     `toml:"hangover_ms"`
	NeuralMinConfident float64 `toml:"neural_min_confidence"`
}

// Transcription contains speech-to-text client settings.
type Transcription struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	Language       string `toml:"language"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxAttempts    int    `toml:"max_attempts"`
	MaxElapsed     int    `toml:"max_elapsed"`
}

// Clips contains clip source client and selection settings.
type Clips struct {
	BaseURL         string  `toml:"base_url"`
	APIKey          string  `toml:"api_key"`
	TimeoutSeconds  int     `toml:"timeout_seconds"`
	SearchLimit     int     `toml:"search_limit"`
	MaxClips        int     `toml:"max_clips"`
	MinClips        int     `toml:"min_clips"`
	MinClipSeconds  float64 `toml:"min_clip_seconds"`
	MaxClipSeconds  float64 `toml:"max_clip_seconds"`
	CoverageFactor  float64 `toml:"coverage_factor"`
	DownloadRetries int     `toml:"download_retries"`
}

// Scorer contains the text-detection and neural VAD model endpoints.
type Scorer struct {
	OCRURL         string `toml:"ocr_url"`
	VADURL         string `toml:"vad_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Workers bounds each independent worker pool.
type Workers struct {
	Download int `toml:"download"`
	Validate int `toml:"validate"`
	Compat   int `toml:"compat"`
}

// Breaker contains circuit breaker settings applied per dependency.
type Breaker struct {
	FailureThreshold int `toml:"failure_threshold"`
	CooldownSeconds  int `toml:"cooldown_seconds"`
}

// RateLimit contains sliding-window limiter settings.
type RateLimit struct {
	Requests      int  `toml:"requests"`
	WindowSeconds int  `toml:"window_seconds"`
	FailOpen      bool `toml:"fail_open"`
	APIRequests   int  `toml:"api_requests"`
}

// Checkpoint controls item-level progress persistence.
type Checkpoint struct {
	Every int `toml:"every"`
}

// Workflow contains configuration for orchestrator timing and retries.
type Workflow struct {
	Workers            int `toml:"workers"`
	PollInterval       int `toml:"poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	HeartbeatInterval  int `toml:"heartbeat_interval"`
	HeartbeatTimeout   int `toml:"heartbeat_timeout"`
	StageMaxAttempts   int `toml:"stage_max_attempts"`
	BackoffBaseMillis  int `toml:"backoff_base_ms"`
	BackoffMaxSeconds  int `toml:"backoff_max_seconds"`
}

// Jobs contains job record retention.
type Jobs struct {
	TTLHours int `toml:"ttl_hours"`
}

// Storage contains optional S3-compatible publishing of final compositions.
type Storage struct {
	Bucket       string `toml:"bucket"`
	Prefix       string `toml:"prefix"`
	Region       string `toml:"region"`
	Profile      string `toml:"profile"`
	Endpoint     string `toml:"endpoint"`
	UsePathStyle bool   `toml:"use_path_style"`
}

// Events contains optional Kafka job lifecycle event publishing.
type Events struct {
	Brokers        []string `toml:"brokers"`
	Topic          string   `toml:"topic"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
}

// API contains the HTTP control surface settings.
type API struct {
	Bind    string `toml:"bind"`
	Token   string `toml:"token"`
	Enabled bool   `toml:"enabled"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for reelsmith.
//
// Configuration sections by subsystem:
//   - Paths, Redis, Ledger: where state lives
//   - Media, Target: ffmpeg/ffprobe binaries and the composition format
//   - Validation, Captions, VAD: content policy and caption timing
//   - Transcription, Clips, Scorer: external services
//   - Workers, Breaker, RateLimit, Checkpoint, Workflow, Jobs: resilience and orchestration
//   - Storage, Events, API, Logging: outer surfaces
type Config struct {
	Paths         Paths         `toml:"paths"`
	Redis         Redis         `toml:"redis"`
	Ledger        Ledger        `toml:"ledger"`
	Media         Media         `toml:"media"`
	Target        Target        `toml:"target"`
	Validation    Validation    `toml:"validation"`
	Captions      Captions      `toml:"captions"`
	VAD           VAD           `toml:"vad"`
	Transcription Transcription `toml:"transcription"`
	Clips         Clips         `toml:"clips"`
	Scorer        Scorer        `toml:"scorer"`
	Workers       Workers       `toml:"workers"`
	Breaker       Breaker       `toml:"breaker"`
	RateLimit     RateLimit     `toml:"rate_limit"`
	Checkpoint    Checkpoint    `toml:"checkpoint"`
	Workflow      Workflow      `toml:"workflow"`
	Jobs          Jobs          `toml:"jobs"`
	Storage       Storage       `toml:"storage"`
	Events        Events        `toml:"events"`
	API           API           `toml:"api"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/reelsmith/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("reelsmith.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for pipeline operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.WorkDir, c.Paths.OutputDir, c.Paths.LogDir}
	if dir := filepath.Dir(c.Ledger.Path); dir != "" {
		dirs = append(dirs, dir)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// JobWorkDir returns the scratch directory for a single job.
func (c *Config) JobWorkDir(jobID string) string {
	return filepath.Join(c.Paths.WorkDir, jobID)
}

// JobTTL returns how long job records and checkpoints are retained.
func (c *Config) JobTTL() time.Duration {
	return time.Duration(c.Jobs.TTLHours) * time.Hour
}

// RedisOpTimeout returns the per-call Redis timeout.
func (c *Config) RedisOpTimeout() time.Duration {
	return time.Duration(c.Redis.OpTimeout) * time.Second
}

// RateWindow returns the sliding-window length.
func (c *Config) RateWindow() time.Duration {
	return time.Duration(c.RateLimit.WindowSeconds) * time.Second
}

// BreakerCooldown returns the open-state cool-down.
func (c *Config) BreakerCooldown() time.Duration {
	return time.Duration(c.Breaker.CooldownSeconds) * time.Second
}

// ProbeTimeout returns the ffprobe call limit.
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Media.ProbeTimeout) * time.Second
}

// TransformTimeout returns the limit for a single ffmpeg transform.
func (c *Config) TransformTimeout() time.Duration {
	return time.Duration(c.Media.TransformTimeout) * time.Second
}

// DecodeTimeout returns the limit for a full frame scan of one clip.
func (c *Config) DecodeTimeout() time.Duration {
	return time.Duration(c.Media.DecodeTimeout) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

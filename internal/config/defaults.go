package config

const (
	defaultWorkDir          = "~/.local/share/reelsmith/work"
	defaultOutputDir        = "~/.local/share/reelsmith/output"
	defaultLogDir           = "~/.local/share/reelsmith/logs"
	defaultLedgerPath       = "~/.local/share/reelsmith/ledger.db"
	defaultRedisAddr        = "127.0.0.1:6379"
	defaultRedisKeyPrefix   = "reelsmith"
	defaultLogFormat        = "auto"
	defaultLogLevel         = "info"
	defaultAPIBind          = "127.0.0.1:7488"
	defaultTargetWidth      = 1080
	defaultTargetHeight     = 1920
	defaultTargetFrameRate  = 30
	defaultVideoCodec       = "h264"
	defaultAudioCodec       = "aac"
	defaultAudioSampleRate  = 48000
	defaultAnchor           = "center"
	defaultConfidenceFloor  = 0.5
	defaultPrePad           = 0.06
	defaultPostPad          = 0.12
	defaultMergeGap         = 0.15
	defaultMinCueDuration   = 0.3
	defaultWordsPerCaption  = 3
	defaultEventsTopic      = "reelsmith.jobs"
	defaultTranscribeLang   = "en"
	defaultVideoPreset      = "veryfast"
	defaultVideoCRF         = 20
	defaultRateLimitWindow  = 60
	defaultRateLimitRequest = 30
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkDir:   defaultWorkDir,
			OutputDir: defaultOutputDir,
			LogDir:    defaultLogDir,
		},
		Redis: Redis{
			Addr:      defaultRedisAddr,
			KeyPrefix: defaultRedisKeyPrefix,
			OpTimeout: 5,
		},
		Ledger: Ledger{
			Path: defaultLedgerPath,
		},
		Media: Media{
			FFmpegBinary:     "ffmpeg",
			FFprobeBinary:    "ffprobe",
			ProbeTimeout:     30,
			TransformTimeout: 600,
			DecodeTimeout:    900,
			VideoPreset:      defaultVideoPreset,
			VideoCRF:         defaultVideoCRF,
		},
		Target: Target{
			Width:           defaultTargetWidth,
			Height:          defaultTargetHeight,
			FrameRate:       defaultTargetFrameRate,
			VideoCodec:      defaultVideoCodec,
			AudioCodec:      defaultAudioCodec,
			AudioSampleRate: defaultAudioSampleRate,
			Anchor:          defaultAnchor,
		},
		Validation: Validation{
			ConfidenceFloor: defaultConfidenceFloor,
		},
		Captions: Captions{
			PrePad:          defaultPrePad,
			PostPad:         defaultPostPad,
			MergeGap:        defaultMergeGap,
			MinCueDuration:  defaultMinCueDuration,
			WordsPerCaption: defaultWordsPerCaption,
			FontName:        "Impact",
			FontSize:        18,
		},
		VAD: VAD{
			Neural:             true,
			WebRTCMode:         3,
			FrameMillis:        30,
			EnergyRatio:        3.0,
			LevelThresholdDB:   -40,
			MinSpeechMillis:    120,
			HangoverMillis:     210,
			NeuralMinConfident: 0.5,
		},
		Transcription: Transcription{
			Language:       defaultTranscribeLang,
			TimeoutSeconds: 300,
			MaxAttempts:    4,
			MaxElapsed:     600,
		},
		Clips: Clips{
			TimeoutSeconds:  120,
			SearchLimit:     40,
			MaxClips:        12,
			MinClips:        1,
			MinClipSeconds:  2,
			MaxClipSeconds:  8,
			CoverageFactor:  1.5,
			DownloadRetries: 3,
		},
		Scorer: Scorer{
			TimeoutSeconds: 30,
		},
		Workers: Workers{
			Download: 4,
			Validate: 2,
			Compat:   2,
		},
		Breaker: Breaker{
			FailureThreshold: 5,
			CooldownSeconds:  30,
		},
		RateLimit: RateLimit{
			Requests:      defaultRateLimitRequest,
			WindowSeconds: defaultRateLimitWindow,
			FailOpen:      false,
			APIRequests:   120,
		},
		Checkpoint: Checkpoint{
			Every: 5,
		},
		Workflow: Workflow{
			Workers:            1,
			PollInterval:       5,
			ErrorRetryInterval: 10,
			HeartbeatInterval:  15,
			HeartbeatTimeout:   120,
			StageMaxAttempts:   3,
			BackoffBaseMillis:  500,
			BackoffMaxSeconds:  60,
		},
		Jobs: Jobs{
			TTLHours: 72,
		},
		Events: Events{
			Topic:          defaultEventsTopic,
			TimeoutSeconds: 10,
		},
		API: API{
			Bind:    defaultAPIBind,
			Enabled: true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}

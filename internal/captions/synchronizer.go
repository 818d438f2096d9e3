package captions

import (
	"context"
	"log/slog"

	"reelsmith/internal/logging"
	"reelsmith/internal/media"
	"reelsmith/internal/media/vad"
	"reelsmith/internal/services"
)

// SampleRate is the PCM rate the narration is decoded at for detection.
const SampleRate = 16000

// AudioExtractor decodes narration audio to mono PCM.
type AudioExtractor interface {
	ExtractPCM(ctx context.Context, path string, sampleRate int) (media.PCM, error)
}

// SpeechDetector finds speech in PCM audio; *vad.Chain satisfies it.
type SpeechDetector interface {
	Detect(ctx context.Context, pcm media.PCM) (vad.Result, error)
}

// Result carries the synchronized cues and the detection they were gated on.
type Result struct {
	Cues          []Cue
	Speech        []media.Segment
	Detector      string
	AudioDuration float64
}

// Synchronizer aligns transcript words with detected speech.
type Synchronizer struct {
	audio    AudioExtractor
	detector SpeechDetector
	params   Params
	logger   *slog.Logger
}

// NewSynchronizer wires the audio decoder and the detector chain.
func NewSynchronizer(audio AudioExtractor, detector SpeechDetector, params Params, logger *slog.Logger) *Synchronizer {
	return &Synchronizer{
		audio:    audio,
		detector: detector,
		params:   params,
		logger:   logging.NewComponentLogger(logger, "captions"),
	}
}

// Synchronize produces display cues for the narration at narrationPath.
func (s *Synchronizer) Synchronize(ctx context.Context, transcript []media.TextSegment, narrationPath string) (Result, error) {
	if len(transcript) == 0 {
		return Result{}, services.Wrap(services.ErrContent, "synchronize_captions", "synchronize",
			"transcript has no segments", nil, services.WithCode("captions_empty"))
	}
	pcm, err := s.audio.ExtractPCM(ctx, narrationPath, SampleRate)
	if err != nil {
		return Result{}, services.Wrap(services.ErrExternalTool, "synchronize_captions", "extract_pcm",
			"decode narration audio", err)
	}
	detection, err := s.detector.Detect(ctx, pcm)
	if err != nil {
		return Result{}, err
	}
	duration := pcm.Duration()
	cues, err := Build(transcript, detection.Segments, duration, s.params)
	if err != nil {
		return Result{}, services.Wrap(services.ErrContent, "synchronize_captions", "synchronize", "", err,
			services.WithDetail("detector", detection.Detector))
	}

	logging.WithContext(ctx, s.logger).Info("captions synchronized",
		logging.String(logging.FieldEventType, "captions_synchronized"),
		logging.String("detector", detection.Detector),
		logging.Int("speech_segments", len(detection.Segments)),
		logging.Int("cues", len(cues)),
		logging.Span("caption_span", cues[0].Start, cues[len(cues)-1].End),
		logging.Seconds("audio_seconds", duration),
	)
	return Result{Cues: cues, Speech: detection.Segments, Detector: detection.Detector, AudioDuration: duration}, nil
}

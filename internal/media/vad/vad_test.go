package vad

import (
	"context"
	"errors"
	"math"
	"testing"

	"reelsmith/internal/logging"
	"reelsmith/internal/media"
	"reelsmith/internal/services"
)

const rate = 16000

// synth builds audio from (seconds, amplitude) spans of a 200 Hz tone.
func synth(spans ...[2]float64) media.PCM {
	var samples []int16
	for _, span := range spans {
		n := int(span[0] * rate)
		for i := 0; i < n; i++ {
			v := span[1] * math.Sin(2*math.Pi*200*float64(len(samples))/rate)
			samples = append(samples, int16(v*math.MaxInt16))
		}
	}
	return media.PCM{SampleRate: rate, Samples: samples}
}

func near(a, b float64) bool { return math.Abs(a-b) < 0.061 }

func TestEnergyDetectorFindsSpeechOverNoise(t *testing.T) {
	pcm := synth([2]float64{1, 0.005}, [2]float64{1.5, 0.4}, [2]float64{1, 0.005}, [2]float64{0.6, 0.3}, [2]float64{0.9, 0.005})
	d := NewEnergyDetector(Options{FrameMillis: 30, EnergyRatio: 3, MinSpeechMillis: 100, HangoverMillis: 0})
	segs, err := d.Detect(context.Background(), pcm)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(segs) != 2 {
		t.Fatalf("expected two segments, got %+v", segs)
	}
	if !near(segs[0].Start, 1) || !near(segs[0].End, 2.5) || !near(segs[1].Start, 3.5) || !near(segs[1].End, 4.1) {
		t.Fatalf("unexpected segment bounds %+v", segs)
	}
}

func TestEnergyDetectorSilence(t *testing.T) {
	pcm := synth([2]float64{2, 0})
	segs, err := NewEnergyDetector(Options{}).Detect(context.Background(), pcm)
	if err != nil || len(segs) != 0 {
		t.Fatalf("expected no speech in silence, got %+v %v", segs, err)
	}
}

func TestLevelDetectorThreshold(t *testing.T) {
	pcm := synth([2]float64{0.5, 0.001}, [2]float64{0.5, 0.5})
	segs, err := NewLevelDetector(Options{LevelThresholdDB: -30}).Detect(context.Background(), pcm)
	if err != nil || len(segs) != 1 || !near(segs[0].Start, 0.5) || !near(segs[0].End, 1) {
		t.Fatalf("unexpected level segments %+v %v", segs, err)
	}
}

func TestSegmentsFromFlagsHangoverAndMinimum(t *testing.T) {
	opts := Options{HangoverMillis: 20, MinSpeechMillis: 25}
	flags := []bool{false, true, true, false, false, false, true, false, false, false}
	segs := segmentsFromFlags(flags, 0.01, 1, opts)
	// Run 1: frames 1-2 plus 2 frames hangover -> [0.01, 0.05].
	// Run 2: frame 6 plus hangover -> [0.06, 0.09], long enough.
	if len(segs) != 2 {
		t.Fatalf("unexpected segments %+v", segs)
	}
	if math.Abs(segs[0].Start-0.01) > 1e-9 || math.Abs(segs[0].End-0.05) > 1e-9 {
		t.Fatalf("unexpected first segment %+v", segs[0])
	}
	if math.Abs(segs[1].Start-0.06) > 1e-9 || math.Abs(segs[1].End-0.09) > 1e-9 {
		t.Fatalf("unexpected second segment %+v", segs[1])
	}

	short := segmentsFromFlags([]bool{true, false, false, false}, 0.01, 1, Options{MinSpeechMillis: 25})
	if len(short) != 0 {
		t.Fatalf("expected short run dropped, got %+v", short)
	}
	tail := segmentsFromFlags([]bool{false, true, true}, 0.01, 0.025, Options{HangoverMillis: 50})
	if len(tail) != 1 || tail[0].End != 0.025 {
		t.Fatalf("expected trailing run clamped to audio end, got %+v", tail)
	}
}

func TestTooShortAudioIsUnavailable(t *testing.T) {
	_, err := NewEnergyDetector(Options{}).Detect(context.Background(), media.PCM{SampleRate: rate, Samples: make([]int16, 10)})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

type stubDetector struct {
	name  string
	segs  []media.Segment
	err   error
	calls int
}

func (s *stubDetector) Name() string { return s.name }

func (s *stubDetector) Detect(context.Context, media.PCM) ([]media.Segment, error) {
	s.calls++
	return s.segs, s.err
}

func TestChainFallsThroughInOrder(t *testing.T) {
	neural := &stubDetector{name: "neural", err: services.Wrap(services.ErrTransient, "", "detect_speech", "down", nil)}
	energy := &stubDetector{name: "energy", err: ErrUnavailable}
	level := &stubDetector{name: "level", segs: []media.Segment{{Start: 1, End: 2}}}
	chain := NewChain(logging.NewNop(), neural, nil, energy, level)

	res, err := chain.Detect(context.Background(), media.PCM{})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if res.Detector != "level" || len(res.Segments) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if neural.calls != 1 || energy.calls != 1 || level.calls != 1 {
		t.Fatal("each detector must be tried once in order")
	}
	if names := chain.Names(); len(names) != 3 || names[0] != "neural" {
		t.Fatalf("unexpected names %v", names)
	}
}

func TestChainEmptyAnswerIsFinal(t *testing.T) {
	neural := &stubDetector{name: "neural"}
	energy := &stubDetector{name: "energy", segs: []media.Segment{{Start: 0, End: 1}}}
	res, err := NewChain(logging.NewNop(), neural, energy).Detect(context.Background(), media.PCM{})
	if err != nil || res.Detector != "neural" || len(res.Segments) != 0 || energy.calls != 0 {
		t.Fatalf("no speech from a working detector is an answer, got %+v %v", res, err)
	}
}

func TestChainAllUnavailable(t *testing.T) {
	chain := NewChain(logging.NewNop(), &stubDetector{name: "a", err: ErrUnavailable}, &stubDetector{name: "b", err: errors.New("boom")})
	_, err := chain.Detect(context.Background(), media.PCM{})
	if !errors.Is(err, ErrUnavailable) || !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient unavailable error, got %v", err)
	}
}

func TestChainStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	second := &stubDetector{name: "b"}
	_, err := NewChain(logging.NewNop(), &stubDetector{name: "a", err: context.Canceled}, second).Detect(ctx, media.PCM{})
	if !errors.Is(err, context.Canceled) || second.calls != 0 {
		t.Fatalf("expected cancellation without fallback, got %v", err)
	}
}

func TestWebRTCFallsBackToEnergyOnUnsupportedRate(t *testing.T) {
	pcm := synth([2]float64{1, 0.005}, [2]float64{1, 0.4}, [2]float64{1, 0.005})
	pcm.SampleRate = 44100
	opts := Options{FrameMillis: 30, EnergyRatio: 3}

	_, err := NewWebRTCDetector(opts).Detect(context.Background(), pcm)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected webrtc unavailable at 44.1 kHz, got %v", err)
	}

	res, err := NewChain(logging.NewNop(), NewWebRTCDetector(opts), NewEnergyDetector(opts)).Detect(context.Background(), pcm)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if res.Detector != "energy" || len(res.Segments) == 0 {
		t.Fatalf("expected energy fallback with speech, got %+v", res)
	}
}

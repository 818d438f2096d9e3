package validation_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"reelsmith/internal/ledger"
	"reelsmith/internal/logging"
	"reelsmith/internal/media"
	"reelsmith/internal/media/ffmpeg"
	"reelsmith/internal/services"
	"reelsmith/internal/services/scorer"
	"reelsmith/internal/testsupport"
	"reelsmith/internal/validation"
)

var target = media.Target{Width: 4, Height: 8, FrameRate: 30, Anchor: "center"}

// fakeTool renders by copying and decodes a fixed number of frames, then
// optionally fails.
type fakeTool struct {
	frames    int
	decodeErr error
	cropErr   error
	cropIn    string
	cropOut   string
	decoded   int
}

func (f *fakeTool) CropScale(_ context.Context, in, out string, _ media.Target) error {
	f.cropIn, f.cropOut = in, out
	if f.cropErr != nil {
		return f.cropErr
	}
	return os.WriteFile(out, []byte("render"), 0o644)
}

func (f *fakeTool) DecodeFrames(_ context.Context, path string, w, h int, fn func(media.Frame) error) (int, error) {
	if path != f.cropOut {
		return 0, errors.New("decoded something other than the render")
	}
	count := 0
	for i := 0; i < f.frames; i++ {
		f.decoded++
		if err := fn(media.Frame{Index: i, Width: w, Height: h, Pix: make([]byte, w*h*3)}); err != nil {
			if errors.Is(err, ffmpeg.ErrStopDecoding) {
				return count, nil
			}
			return count, err
		}
		count++
	}
	if f.decodeErr != nil {
		return count, f.decodeErr
	}
	return count, nil
}

// frameScorer returns a detection on the configured frames.
type frameScorer struct {
	mu      sync.Mutex
	hits    map[int]scorer.Detection
	calls   int
	failErr error
}

func (s *frameScorer) Detect(_ context.Context, frame media.Frame) ([]scorer.Detection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failErr != nil {
		return nil, s.failErr
	}
	if d, ok := s.hits[frame.Index]; ok {
		return []scorer.Detection{{Text: "low", Confidence: 0.1}, d}, nil
	}
	return []scorer.Detection{{Text: "noise", Confidence: 0.2}}, nil
}

type memLedger struct {
	entries []ledger.Entry
}

func (m *memLedger) Record(_ context.Context, e ledger.Entry) (bool, error) {
	m.entries = append(m.entries, e)
	return true, nil
}

func newClip(t *testing.T) validation.Clip {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "clip-1.mp4")
	testsupport.WriteFile(t, path, 64)
	return validation.Clip{ID: "clip-1", Path: path, SourceURL: "http://clips/1"}
}

func TestValidateApprovesCleanClip(t *testing.T) {
	tool := &fakeTool{frames: 12}
	sc := &frameScorer{}
	rec := &memLedger{}
	engine := validation.NewEngine(tool, sc, rec, validation.Options{ConfidenceFloor: 0.5}, logging.NewNop())
	clip := newClip(t)

	res, err := engine.Validate(context.Background(), clip, target)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !res.Approved() || res.FramesProcessed != 12 || sc.calls != 12 {
		t.Fatalf("expected every frame scored and approval, got %+v calls=%d", res, sc.calls)
	}
	if len(rec.entries) != 0 {
		t.Fatal("approved clip must not be recorded")
	}
	if _, err := os.Stat(clip.Path); err != nil {
		t.Fatal("approved clip must be kept")
	}
	if _, err := os.Stat(tool.cropOut); !os.IsNotExist(err) {
		t.Fatal("temporary render must be removed")
	}
}

func TestValidateStopsAtFirstDetection(t *testing.T) {
	tool := &fakeTool{frames: 100}
	sc := &frameScorer{hits: map[int]scorer.Detection{7: {Text: "SUBSCRIBE", Confidence: 0.5}}}
	rec := &memLedger{}
	engine := validation.NewEngine(tool, sc, rec, validation.Options{ConfidenceFloor: 0.5}, logging.NewNop())
	clip := newClip(t)

	res, err := engine.Validate(context.Background(), clip, target)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.Verdict != validation.Rejected || res.Reason != validation.ReasonTextDetected {
		t.Fatalf("expected text rejection, got %+v", res)
	}
	if res.FramesProcessed != 8 || tool.decoded != 8 || res.Frame != 7 || res.Confidence != 0.5 {
		t.Fatalf("expected decoding to stop at frame 7, got %+v decoded=%d", res, tool.decoded)
	}
	if len(rec.entries) != 1 || rec.entries[0].ExternalID != "clip-1" || rec.entries[0].Metadata["text"] != "SUBSCRIBE" {
		t.Fatalf("unexpected ledger entries %+v", rec.entries)
	}
	if _, err := os.Stat(clip.Path); !os.IsNotExist(err) {
		t.Fatal("rejected clip must be deleted")
	}
}

func TestValidateZeroFramesIsCorrupted(t *testing.T) {
	noFrames := services.Wrap(services.ErrCorrupted, "", "decode_frames", "no frames", nil, services.WithCode("corrupted_no_frames"))
	cases := []struct {
		name string
		tool *fakeTool
		want string
		n    int
	}{
		{"decoder reports no frames", &fakeTool{decodeErr: noFrames}, validation.ReasonCorruptedNoFrames, 0},
		{"decoder silently empty", &fakeTool{}, validation.ReasonCorruptedNoFrames, 0},
		{"truncated after frames", &fakeTool{frames: 3, decodeErr: services.Wrap(services.ErrCorrupted, "", "decode_frames", "cut", nil)}, validation.ReasonCorruptedTruncated, 3},
		{"render fails on input", &fakeTool{cropErr: services.Wrap(services.ErrExternalTool, "", "crop_scale", "ffmpeg failed", errors.New("exit 1"), services.WithCode("ffmpeg_failed"))}, validation.ReasonCorruptedNoFrames, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := &memLedger{}
			engine := validation.NewEngine(tc.tool, &frameScorer{}, rec, validation.Options{}, logging.NewNop())
			clip := newClip(t)
			res, err := engine.Validate(context.Background(), clip, target)
			if err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if res.Verdict != validation.Corrupted || res.Reason != tc.want || res.FramesProcessed != tc.n {
				t.Fatalf("unexpected result %+v", res)
			}
			if res.Reason == validation.ReasonTextDetected || res.Approved() {
				t.Fatal("corruption must never look like text or approval")
			}
			if len(rec.entries) != 1 || rec.entries[0].Reason != tc.want {
				t.Fatalf("unexpected ledger entries %+v", rec.entries)
			}
			if _, err := os.Stat(clip.Path); !os.IsNotExist(err) {
				t.Fatal("corrupted clip must be deleted")
			}
		})
	}
}

func TestValidateScorerFailureIsNotAVerdict(t *testing.T) {
	tool := &fakeTool{frames: 5}
	sc := &frameScorer{failErr: services.Wrap(services.ErrTransient, "", "detect_text", "scorer down", nil)}
	rec := &memLedger{}
	engine := validation.NewEngine(tool, sc, rec, validation.Options{}, logging.NewNop())
	clip := newClip(t)

	res, err := engine.Validate(context.Background(), clip, target)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if res.Approved() || len(rec.entries) != 0 {
		t.Fatalf("no verdict may be recorded, got %+v %+v", res, rec.entries)
	}
	if _, err := os.Stat(clip.Path); err != nil {
		t.Fatal("clip must be kept for a retry")
	}
}

func TestValidateRenderTimeoutIsNotCorruption(t *testing.T) {
	tool := &fakeTool{cropErr: services.Wrap(services.ErrTimeout, "", "crop_scale", "timed out", nil, services.WithCode("media_timeout"))}
	rec := &memLedger{}
	engine := validation.NewEngine(tool, &frameScorer{}, rec, validation.Options{}, logging.NewNop())
	_, err := engine.Validate(context.Background(), newClip(t), target)
	if !errors.Is(err, services.ErrTimeout) || len(rec.entries) != 0 {
		t.Fatalf("expected timeout error without a ledger entry, got %v %+v", err, rec.entries)
	}
}

func TestValidateMissingFile(t *testing.T) {
	engine := validation.NewEngine(&fakeTool{}, &frameScorer{}, &memLedger{}, validation.Options{}, logging.NewNop())
	_, err := engine.Validate(context.Background(), validation.Clip{ID: "x", Path: filepath.Join(t.TempDir(), "gone.mp4")}, target)
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestValidateRecordsIntoLedger(t *testing.T) {
	store, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	defer store.Close()

	tool := &fakeTool{frames: 2}
	sc := &frameScorer{hits: map[int]scorer.Detection{0: {Text: "LOGO", Confidence: 0.97}}}
	engine := validation.NewEngine(tool, sc, store, validation.Options{}, logging.NewNop())
	if _, err := engine.Validate(context.Background(), newClip(t), target); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	ok, err := store.Contains(context.Background(), "clip-1")
	if err != nil || !ok {
		t.Fatalf("expected ledger to contain clip-1, got %v %v", ok, err)
	}
}

type concurrencyProbe struct {
	mu       sync.Mutex
	inFlight int
	peak     int
}

func (p *concurrencyProbe) Detect(context.Context, media.Frame) ([]scorer.Detection, error) {
	p.mu.Lock()
	p.inFlight++
	if p.inFlight > p.peak {
		p.peak = p.inFlight
	}
	p.mu.Unlock()
	time.Sleep(time.Millisecond)
	p.mu.Lock()
	p.inFlight--
	p.mu.Unlock()
	return nil, nil
}

func TestSerialScorerAdmitsOneCall(t *testing.T) {
	probe := &concurrencyProbe{}
	serial := validation.NewSerialScorer(probe)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = serial.Detect(context.Background(), media.Frame{})
		}()
	}
	wg.Wait()
	if probe.peak != 1 {
		t.Fatalf("expected serialized calls, peak %d", probe.peak)
	}
}

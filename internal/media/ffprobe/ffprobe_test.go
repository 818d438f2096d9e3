package ffprobe

import (
	"math"
	"testing"
)

const sampleProbe = `{
  "streams": [
    {"index": 0, "codec_name": "H264", "codec_type": "video", "width": 1080, "height": 1920,
     "r_frame_rate": "30/1", "avg_frame_rate": "30000/1001", "duration": "7.5"},
    {"index": 1, "codec_name": "aac", "codec_type": "audio", "sample_rate": "48000", "channels": 2},
    {"index": 2, "codec_name": "mp3", "codec_type": "audio", "sample_rate": "44100", "channels": 2}
  ],
  "format": {"filename": "clip.mp4", "nb_streams": 3, "duration": "7.508", "size": "1000"}
}`

func TestParseSpec(t *testing.T) {
	result, err := Parse([]byte(sampleProbe))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if result.VideoStreamCount() != 1 || result.AudioStreamCount() != 2 {
		t.Fatalf("unexpected stream counts: %d video, %d audio", result.VideoStreamCount(), result.AudioStreamCount())
	}
	spec := result.Spec()
	if spec.Width != 1080 || spec.Height != 1920 {
		t.Fatalf("unexpected resolution %dx%d", spec.Width, spec.Height)
	}
	if math.Abs(spec.FrameRate-29.97) > 0.01 {
		t.Fatalf("unexpected frame rate %v", spec.FrameRate)
	}
	if spec.VideoCodec != "h264" {
		t.Fatalf("expected lowercased codec, got %q", spec.VideoCodec)
	}
	if !spec.HasAudio || spec.AudioCodec != "aac" || spec.AudioSampleRate != 48000 {
		t.Fatalf("expected first audio stream to win, got %+v", spec)
	}
	if spec.Duration != 7.508 {
		t.Fatalf("unexpected duration %v", spec.Duration)
	}
}

func TestSpecWithoutAudio(t *testing.T) {
	result := Result{Streams: []Stream{{CodecType: "video", CodecName: "vp9", Width: 640, Height: 360, RFrameRate: "25/1", AvgFrameRate: "0/0", Duration: "3"}}}
	spec := result.Spec()
	if spec.HasAudio {
		t.Fatal("expected no audio")
	}
	if spec.FrameRate != 25 {
		t.Fatalf("expected r_frame_rate fallback, got %v", spec.FrameRate)
	}
	if spec.Duration != 3 {
		t.Fatalf("expected stream duration fallback, got %v", spec.Duration)
	}
}

func TestParseRate(t *testing.T) {
	tests := map[string]float64{
		"30/1":  30,
		"0/0":   0,
		"":      0,
		"24":    24,
		"1/0":   0,
		"bad/1": 0,
	}
	for in, want := range tests {
		if got := parseRate(in); got != want {
			t.Fatalf("parseRate(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestDurationHandlesInvalidNumbers(t *testing.T) {
	result := Result{Format: Format{Duration: "bad"}}
	if result.DurationSeconds() != 0 {
		t.Fatalf("expected 0 for invalid duration, got %v", result.DurationSeconds())
	}
	if _, err := Parse([]byte("{")); err == nil {
		t.Fatal("expected parse error")
	}
}

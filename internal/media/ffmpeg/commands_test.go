package ffmpeg

import (
	"slices"
	"strings"
	"testing"

	"reelsmith/internal/media"
)

var testTarget = media.Target{
	Width:           1080,
	Height:          1920,
	FrameRate:       30,
	VideoCodec:      "h264",
	AudioCodec:      "aac",
	AudioSampleRate: 48000,
	Anchor:          "center",
}

var testOpts = Options{Preset: "veryfast", CRF: 20}

func argAfter(t *testing.T, args []string, flag string) string {
	t.Helper()
	idx := slices.Index(args, flag)
	if idx < 0 || idx+1 >= len(args) {
		t.Fatalf("flag %s missing from %v", flag, args)
	}
	return args[idx+1]
}

func TestCropFilterAnchors(t *testing.T) {
	tests := []struct {
		anchor string
		want   string
	}{
		{"center", "x=(iw-ow)/2:y=(ih-oh)/2"},
		{"top", "x=(iw-ow)/2:y=0"},
		{"bottom", "x=(iw-ow)/2:y=ih-oh"},
		{"left", "x=0:y=(ih-oh)/2"},
		{"right", "x=iw-ow:y=(ih-oh)/2"},
	}
	for _, tt := range tests {
		target := testTarget
		target.Anchor = tt.anchor
		got := CropFilter(target, false)
		if !strings.Contains(got, tt.want) {
			t.Fatalf("anchor %s: filter %q missing %q", tt.anchor, got, tt.want)
		}
		if !strings.Contains(got, `crop=w=min(iw\,ih*1080/1920):h=min(ih\,iw*1920/1080)`) {
			t.Fatalf("anchor %s: unexpected crop expression %q", tt.anchor, got)
		}
		if strings.Contains(got, "fps=") {
			t.Fatalf("anchor %s: fps must not be normalized in the canonical crop: %q", tt.anchor, got)
		}
	}
	if got := CropFilter(testTarget, true); !strings.HasSuffix(got, ",fps=30.000") {
		t.Fatalf("expected fps conversion suffix, got %q", got)
	}
}

func TestCropScaleArgsDropAudio(t *testing.T) {
	args := cropScaleArgs("in.mp4", "out.mp4", testTarget, testOpts)
	if args[len(args)-1] != "-y" || args[len(args)-2] != "out.mp4" {
		t.Fatalf("expected output followed by -y, got %v", args)
	}
	if !slices.Contains(args, "-an") || !slices.Contains(args, "-y") {
		t.Fatalf("expected -an and -y in %v", args)
	}
	if got := argAfter(t, args, "-vf"); got != CropFilter(testTarget, false) {
		t.Fatalf("unexpected filter %q", got)
	}
	if got := argAfter(t, args, "-c:v"); got != "libx264" {
		t.Fatalf("unexpected encoder %q", got)
	}
}

func TestTrimArgsSeekBeforeInput(t *testing.T) {
	args := trimArgs("in.mp4", "out.mp4", 1.5, 3.25, testTarget, testOpts)
	ss := slices.Index(args, "-ss")
	in := slices.Index(args, "-i")
	if ss < 0 || in < 0 || ss > in {
		t.Fatalf("expected input seek before -i: %v", args)
	}
	if got := argAfter(t, args, "-ss"); got != "1.500" {
		t.Fatalf("unexpected start %q", got)
	}
	if got := argAfter(t, args, "-t"); got != "3.250" {
		t.Fatalf("unexpected duration %q", got)
	}
}

func TestTranscodeArgsAddSilenceWhenAudioMissing(t *testing.T) {
	withAudio := transcodeArgs("in.mp4", "out.mp4", testTarget, media.Spec{HasAudio: true}, testOpts)
	if slices.Contains(withAudio, "lavfi") {
		t.Fatalf("did not expect silence source: %v", withAudio)
	}
	if got := argAfter(t, withAudio, "-ar"); got != "48000" {
		t.Fatalf("unexpected sample rate %q", got)
	}

	silent := transcodeArgs("in.mp4", "out.mp4", testTarget, media.Spec{HasAudio: false}, testOpts)
	if !slices.Contains(silent, "lavfi") || !slices.Contains(silent, "-shortest") {
		t.Fatalf("expected lavfi silence and -shortest: %v", silent)
	}
	joined := strings.Join(silent, " ")
	if !strings.Contains(joined, "anullsrc=channel_layout=stereo:sample_rate=48000") {
		t.Fatalf("expected anullsrc input: %v", silent)
	}
	if strings.Count(joined, "-map") != 2 {
		t.Fatalf("expected both streams mapped: %v", silent)
	}
}

func TestConcatArgsStreamCopy(t *testing.T) {
	args := concatArgs("list.txt", "out.mp4")
	if got := argAfter(t, args, "-f"); got != "concat" {
		t.Fatalf("unexpected format %q", got)
	}
	if got := argAfter(t, args, "-safe"); got != "0" {
		t.Fatalf("unexpected safe %q", got)
	}
	if got := argAfter(t, args, "-c"); got != "copy" {
		t.Fatalf("unexpected codec %q", got)
	}
}

func TestComposeArgsMapNarration(t *testing.T) {
	style := SubtitleStyle{FontName: "Arial", FontSize: 22}
	args := composeArgs("video.mp4", "voice.wav", "captions.srt", "final.mp4", style, testTarget, testOpts)
	if !slices.Contains(args, "-shortest") {
		t.Fatalf("expected -shortest: %v", args)
	}
	vf := argAfter(t, args, "-vf")
	if !strings.HasPrefix(vf, "subtitles='captions.srt'") || !strings.Contains(vf, "FontName=Arial") || !strings.Contains(vf, "FontSize=22") {
		t.Fatalf("unexpected subtitle filter %q", vf)
	}
	if slices.Index(args, "video.mp4") > slices.Index(args, "voice.wav") {
		t.Fatalf("expected video input first: %v", args)
	}
}

func TestSubtitleFilterDefaultsAndEscaping(t *testing.T) {
	got := SubtitleFilter("it's.srt", SubtitleStyle{})
	if !strings.Contains(got, `it\'s.srt`) {
		t.Fatalf("expected escaped quote, got %q", got)
	}
	if !strings.Contains(got, "FontName=Impact") || !strings.Contains(got, "FontSize=18") {
		t.Fatalf("expected default style, got %q", got)
	}
}

func TestEncoderMapping(t *testing.T) {
	if videoEncoder("hevc") != "libx265" || videoEncoder("vp9") != "libvpx-vp9" || videoEncoder("mpeg4") != "mpeg4" {
		t.Fatal("unexpected video encoder mapping")
	}
	if audioEncoder("opus") != "libopus" || audioEncoder("mp3") != "libmp3lame" || audioEncoder("flac") != "flac" {
		t.Fatal("unexpected audio encoder mapping")
	}
}

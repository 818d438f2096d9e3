package ffmpeg

import (
	"fmt"
	"strconv"
	"strings"

	ffgo "github.com/u2takey/ffmpeg-go"

	"reelsmith/internal/media"
)

// SubtitleStyle controls the look of burned-in captions.
type SubtitleStyle struct {
	FontName string
	FontSize int
}

// CropFilter returns the canonical crop-and-scale filter chain for target.
// The source is cropped to the target aspect ratio around the anchor and then
// scaled; withFPS appends a frame-rate conversion.
func CropFilter(target media.Target, withFPS bool) string {
	w, h := target.Width, target.Height
	x, y := "(iw-ow)/2", "(ih-oh)/2"
	switch target.Anchor {
	case "top":
		y = "0"
	case "bottom":
		y = "ih-oh"
	case "left":
		x = "0"
	case "right":
		x = "iw-ow"
	}
	chain := []string{
		fmt.Sprintf(`crop=w=min(iw\,ih*%d/%d):h=min(ih\,iw*%d/%d):x=%s:y=%s`, w, h, h, w, x, y),
		fmt.Sprintf("scale=%d:%d:flags=lanczos", w, h),
		"setsar=1",
	}
	if withFPS && target.FrameRate > 0 {
		chain = append(chain, "fps="+formatFloat(target.FrameRate))
	}
	return strings.Join(chain, ",")
}

// SubtitleFilter returns the subtitles filter that burns path with style.
func SubtitleFilter(path string, style SubtitleStyle) string {
	font := style.FontName
	if font == "" {
		font = "Impact"
	}
	size := style.FontSize
	if size <= 0 {
		size = 18
	}
	force := strings.Join([]string{
		"FontName=" + font,
		"FontSize=" + strconv.Itoa(size),
		"PrimaryColour=&H00FFFFFF",
		"OutlineColour=&H00000000",
		"BorderStyle=1",
		"Outline=3",
		"Shadow=0",
		"Alignment=2",
		"MarginV=60",
		"Bold=1",
	}, ",")
	escaped := strings.ReplaceAll(path, `'`, `\'`)
	return fmt.Sprintf("subtitles='%s':force_style='%s'", escaped, force)
}

func videoEncoder(codec string) string {
	switch strings.ToLower(codec) {
	case "h264", "avc", "":
		return "libx264"
	case "hevc", "h265":
		return "libx265"
	case "vp9":
		return "libvpx-vp9"
	case "av1":
		return "libsvtav1"
	default:
		return codec
	}
}

func audioEncoder(codec string) string {
	switch strings.ToLower(codec) {
	case "aac", "":
		return "aac"
	case "opus":
		return "libopus"
	case "mp3":
		return "libmp3lame"
	default:
		return codec
	}
}

func videoArgs(target media.Target, opts Options) ffgo.KwArgs {
	return ffgo.KwArgs{
		"c:v":     videoEncoder(target.VideoCodec),
		"preset":  opts.Preset,
		"crf":     strconv.Itoa(opts.CRF),
		"pix_fmt": "yuv420p",
	}
}

func merge(dst ffgo.KwArgs, src ffgo.KwArgs) ffgo.KwArgs {
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func cropScaleArgs(in, out string, target media.Target, opts Options) []string {
	kw := merge(videoArgs(target, opts), ffgo.KwArgs{
		"vf": CropFilter(target, false),
		"an": "",
	})
	return ffgo.Input(in).Output(out, kw).OverWriteOutput().GetArgs()
}

func trimArgs(in, out string, start, duration float64, target media.Target, opts Options) []string {
	kw := merge(videoArgs(target, opts), ffgo.KwArgs{
		"t":   formatFloat(duration),
		"vf":  CropFilter(target, false),
		"c:a": audioEncoder(target.AudioCodec),
	})
	return ffgo.Input(in, ffgo.KwArgs{"ss": formatFloat(start)}).Output(out, kw).OverWriteOutput().GetArgs()
}

func transcodeArgs(in, out string, target media.Target, source media.Spec, opts Options) []string {
	kw := merge(videoArgs(target, opts), ffgo.KwArgs{
		"vf":       CropFilter(target, true),
		"c:a":      audioEncoder(target.AudioCodec),
		"ar":       strconv.Itoa(target.AudioSampleRate),
		"ac":       "2",
		"movflags": "+faststart",
	})
	if source.HasAudio {
		return ffgo.Input(in).Output(out, kw).OverWriteOutput().GetArgs()
	}
	video := ffgo.Input(in).Video()
	silence := ffgo.Input(
		fmt.Sprintf("anullsrc=channel_layout=stereo:sample_rate=%d", target.AudioSampleRate),
		ffgo.KwArgs{"f": "lavfi"},
	).Audio()
	kw["shortest"] = ""
	return ffgo.Output([]*ffgo.Stream{video, silence}, out, kw).OverWriteOutput().GetArgs()
}

func concatArgs(listPath, out string) []string {
	return ffgo.Input(listPath, ffgo.KwArgs{"f": "concat", "safe": "0"}).
		Output(out, ffgo.KwArgs{"c": "copy", "movflags": "+faststart"}).
		OverWriteOutput().
		GetArgs()
}

func composeArgs(video, narration, subtitles, out string, style SubtitleStyle, target media.Target, opts Options) []string {
	kw := merge(videoArgs(target, opts), ffgo.KwArgs{
		"vf":       SubtitleFilter(subtitles, style),
		"c:a":      audioEncoder(target.AudioCodec),
		"ar":       strconv.Itoa(target.AudioSampleRate),
		"shortest": "",
		"movflags": "+faststart",
	})
	streams := []*ffgo.Stream{ffgo.Input(video).Video(), ffgo.Input(narration).Audio()}
	return ffgo.Output(streams, out, kw).OverWriteOutput().GetArgs()
}

func pcmArgs(in string, sampleRate int) []string {
	return ffgo.Input(in).Output("pipe:1", ffgo.KwArgs{
		"vn":     "",
		"ac":     "1",
		"ar":     strconv.Itoa(sampleRate),
		"f":      "s16le",
		"acodec": "pcm_s16le",
	}).GetArgs()
}

func frameArgs(in string) []string {
	return ffgo.Input(in).Output("pipe:1", ffgo.KwArgs{
		"f":        "rawvideo",
		"pix_fmt":  "rgb24",
		"fps_mode": "passthrough",
		"an":       "",
	}).GetArgs()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

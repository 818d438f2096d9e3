package captions

import (
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"reelsmith/internal/config"
	"reelsmith/internal/media"
	"reelsmith/internal/services"
)

// Cue is one timed caption. Index is 1-based once chunked.
type Cue struct {
	Index int     `json:"index,omitempty"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Duration returns the cue length in seconds.
func (c Cue) Duration() float64 {
	return c.End - c.Start
}

// Params holds the gating and grouping parameters.
type Params struct {
	PrePad          float64
	PostPad         float64
	MergeGap        float64
	MinCueDuration  float64
	WordsPerCaption int
}

// ParamsFromConfig converts the captions config section.
func ParamsFromConfig(cfg config.Captions) Params {
	return Params{
		PrePad:          cfg.PrePad,
		PostPad:         cfg.PostPad,
		MergeGap:        cfg.MergeGap,
		MinCueDuration:  cfg.MinCueDuration,
		WordsPerCaption: cfg.WordsPerCaption,
	}
}

// SplitWords spreads each segment's duration evenly over its words.
// Segments without words or with a non-positive span produce nothing.
func SplitWords(segments []media.TextSegment) []Cue {
	var cues []Cue
	for _, seg := range segments {
		words := strings.Fields(norm.NFC.String(seg.Text))
		span := seg.End - seg.Start
		if len(words) == 0 || span <= 0 {
			continue
		}
		step := span / float64(len(words))
		for i, word := range words {
			end := seg.Start + step*float64(i+1)
			if i == len(words)-1 {
				end = seg.End
			}
			cues = append(cues, Cue{Start: seg.Start + step*float64(i), End: end, Text: word})
		}
	}
	return cues
}

// Gate keeps the cues that overlap detected speech. Each surviving cue is
// snapped to the padded envelope of the speech segment it overlaps most.
// A cue shorter than the minimum duration grows first forward then backward,
// never past the envelope. audioDuration caps every end; zero or less means
// no cap.
func Gate(cues []Cue, speech []media.Segment, audioDuration float64, p Params) []Cue {
	out := make([]Cue, 0, len(cues))
	for _, cue := range cues {
		seg, ok := bestOverlap(cue, speech)
		if !ok {
			continue
		}
		lo := max(0, seg.Start-p.PrePad)
		hi := seg.End + p.PostPad
		if audioDuration > 0 {
			hi = min(hi, audioDuration)
		}
		start, end := lo, hi
		if end-start < p.MinCueDuration {
			end = min(hi, start+p.MinCueDuration)
			start = max(lo, end-p.MinCueDuration)
		}
		if end <= start {
			continue
		}
		out = append(out, Cue{Start: start, End: end, Text: cue.Text})
	}
	return out
}

func bestOverlap(cue Cue, speech []media.Segment) (media.Segment, bool) {
	var best media.Segment
	bestOverlap := 0.0
	for _, seg := range speech {
		if overlap := seg.Overlap(cue.Start, cue.End); overlap > bestOverlap {
			best, bestOverlap = seg, overlap
		}
	}
	return best, bestOverlap > 0
}

// Merge joins neighbouring cues whose gap is shorter than gap. Overlapping
// cues always merge.
func Merge(cues []Cue, gap float64) []Cue {
	if len(cues) == 0 {
		return nil
	}
	sorted := append([]Cue(nil), cues...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	out := []Cue{sorted[0]}
	for _, cue := range sorted[1:] {
		last := &out[len(out)-1]
		if cue.Start-last.End < gap {
			last.Text = strings.TrimSpace(last.Text + " " + cue.Text)
			last.End = max(last.End, cue.End)
			continue
		}
		out = append(out, cue)
	}
	return out
}

// Chunk splits each cue into display cues of at most size words. Time is
// shared out in proportion to word count and indexes start at 1.
func Chunk(cues []Cue, size int) []Cue {
	if size <= 0 {
		size = 1
	}
	var out []Cue
	for _, cue := range cues {
		words := strings.Fields(cue.Text)
		if len(words) == 0 {
			continue
		}
		perWord := cue.Duration() / float64(len(words))
		for i := 0; i < len(words); i += size {
			j := min(i+size, len(words))
			end := cue.Start + perWord*float64(j)
			if j == len(words) {
				end = cue.End
			}
			out = append(out, Cue{
				Index: len(out) + 1,
				Start: cue.Start + perWord*float64(i),
				End:   end,
				Text:  strings.Join(words[i:j], " "),
			})
		}
	}
	return out
}

// Build runs the full gating pipeline over a transcript. It fails with
// ErrContent (captions_empty) when no cue survives gating.
func Build(transcript []media.TextSegment, speech []media.Segment, audioDuration float64, p Params) ([]Cue, error) {
	raw := SplitWords(transcript)
	gated := Gate(raw, speech, audioDuration, p)
	cues := Chunk(Merge(gated, p.MergeGap), p.WordsPerCaption)
	if len(cues) == 0 {
		return nil, services.Wrap(services.ErrContent, "synchronize_captions", "build_captions",
			"no caption survived speech gating", nil,
			services.WithCode("captions_empty"),
			services.WithDetail("transcript_segments", len(transcript)),
			services.WithDetail("words", len(raw)),
			services.WithDetail("speech_segments", len(speech)),
		)
	}
	return cues, nil
}

package captions

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"reelsmith/internal/fileutil"
)

// FormatSRT renders cues as SRT text. Cues without an index are numbered
// by position.
func FormatSRT(cues []Cue) string {
	var sb strings.Builder
	for i, cue := range cues {
		if i > 0 {
			sb.WriteString("\n")
		}
		index := cue.Index
		if index <= 0 {
			index = i + 1
		}
		fmt.Fprintf(&sb, "%d\n", index)
		fmt.Fprintf(&sb, "%s --> %s\n", formatSRTTimestamp(cue.Start), formatSRTTimestamp(cue.End))
		sb.WriteString(cue.Text)
		sb.WriteString("\n")
	}
	return sb.String()
}

// WriteSRT atomically writes cues to path.
func WriteSRT(path string, cues []Cue) error {
	if err := fileutil.WriteFileAtomic(path, []byte(FormatSRT(cues)), 0o644); err != nil {
		return fmt.Errorf("write srt: %w", err)
	}
	return nil
}

// ParseSRT reads cues back from an SRT file. Malformed blocks are skipped.
func ParseSRT(path string) ([]Cue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read srt: %w", err)
	}
	content := strings.TrimSpace(strings.ReplaceAll(string(data), "\r\n", "\n"))
	if content == "" {
		return nil, nil
	}

	var cues []Cue
	for _, block := range strings.Split(content, "\n\n") {
		lines := strings.Split(strings.TrimSpace(block), "\n")
		if len(lines) < 3 {
			continue
		}
		index, err := strconv.Atoi(strings.TrimSpace(lines[0]))
		if err != nil {
			continue
		}
		parts := strings.Split(lines[1], "-->")
		if len(parts) != 2 {
			continue
		}
		start, err := parseSRTTimestamp(parts[0])
		if err != nil {
			continue
		}
		end, err := parseSRTTimestamp(parts[1])
		if err != nil {
			continue
		}
		cues = append(cues, Cue{Index: index, Start: start, End: end, Text: strings.Join(lines[2:], "\n")})
	}
	return cues, nil
}

// CountCues returns the number of well-formed cues in path.
func CountCues(path string) (int, error) {
	cues, err := ParseSRT(path)
	if err != nil {
		return 0, err
	}
	return len(cues), nil
}

func formatSRTTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	msTotal := int(seconds*1000 + 0.5)
	hours := msTotal / 3_600_000
	msTotal %= 3_600_000
	minutes := msTotal / 60_000
	msTotal %= 60_000
	secs := msTotal / 1_000
	millis := msTotal % 1_000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, secs, millis)
}

func parseSRTTimestamp(value string) (float64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("empty timestamp")
	}
	value = strings.ReplaceAll(value, ".", ",")
	timeParts := strings.Split(value, ",")
	if len(timeParts) != 2 {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	hms := strings.Split(timeParts[0], ":")
	if len(hms) != 3 {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	hours, errH := strconv.Atoi(hms[0])
	minutes, errM := strconv.Atoi(hms[1])
	seconds, errS := strconv.Atoi(hms[2])
	millis, errMS := strconv.Atoi(timeParts[1])
	if errH != nil || errM != nil || errS != nil || errMS != nil {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	return float64(hours*3600+minutes*60+seconds) + float64(millis)/1000, nil
}

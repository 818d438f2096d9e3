package deps

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

const filterProbeTimeout = 10 * time.Second

// ResolveFFprobe reports the ffprobe binary that pairs with ffmpegCommand.
//
// A bare "ffprobe" prefers the binary that sits next to the resolved ffmpeg
// so both tools come from the same build, and falls back to PATH. An explicit
// path is checked as given.
func ResolveFFprobe(ffmpegCommand, ffprobeCommand string) Status {
	result := Status{Requirement: Requirement{
		Name:        "FFprobe",
		Description: "Reads container and stream properties",
	}}
	name := strings.TrimSpace(ffprobeCommand)
	if name == "" {
		name = executable("ffprobe")
	}

	if filepath.Base(name) == name {
		if resolved, err := exec.LookPath(strings.TrimSpace(ffmpegCommand)); err == nil {
			candidate := filepath.Join(filepath.Dir(resolved), name)
			if info, statErr := os.Stat(candidate); statErr == nil && isExecutable(info) {
				result.Command = candidate
				result.Path = candidate
				result.Available = true
				return result
			}
		}
	}

	if path, err := exec.LookPath(name); err == nil {
		result.Command = path
		result.Path = path
		result.Available = true
		return result
	}

	result.Command = name
	result.Detail = fmt.Sprintf("binary %q not found", name)
	return result
}

// CheckSubtitleFilter reports whether ffmpegCommand was built with the
// subtitles filter that burns captions into the composition.
func CheckSubtitleFilter(ctx context.Context, ffmpegCommand string) Status {
	result := Status{Requirement: Requirement{
		Name:        "FFmpeg subtitles filter",
		Command:     strings.TrimSpace(ffmpegCommand),
		Description: "Burns synchronized captions (requires libass)",
	}}
	ctx, cancel := context.WithTimeout(ctx, filterProbeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, result.Command, "-hide_banner", "-filters").Output()
	if err != nil {
		result.Detail = fmt.Sprintf("list filters: %v", err)
		return result
	}
	if !hasFilter(out, "subtitles") {
		result.Detail = "ffmpeg built without libass; captions cannot be burned in"
		return result
	}
	result.Available = true
	return result
}

func hasFilter(listing []byte, name string) bool {
	scanner := bufio.NewScanner(bytes.NewReader(listing))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 2 && fields[1] == name {
			return true
		}
	}
	return false
}

func executable(base string) string {
	if runtime.GOOS == "windows" {
		return base + ".exe"
	}
	return base
}

func isExecutable(info os.FileInfo) bool {
	if info == nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}

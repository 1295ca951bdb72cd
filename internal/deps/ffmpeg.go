package deps

import (
	"bufio"
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"
)

const versionProbeTimeout = 5 * time.Second

// CheckFFmpeg resolves the ffmpeg binary WhisperX shells out to when decoding
// audio and records its version banner in Detail.
func CheckFFmpeg(ctx context.Context, command string) Status {
	status := checkBinary(Requirement{
		Name:        "FFmpeg",
		Command:     command,
		Description: "Decodes audio for WhisperX",
	})
	if !status.Available {
		return status
	}
	status.Detail = probeVersion(ctx, status.Command, "-version")
	return status
}

// probeVersion runs the binary with the given flag and returns the first line
// of its output, or an empty string when the probe fails.
func probeVersion(ctx context.Context, binary string, flag string) string {
	probeCtx, cancel := context.WithTimeout(ctx, versionProbeTimeout)
	defer cancel()

	out, err := exec.CommandContext(probeCtx, binary, flag).Output()
	if err != nil {
		return ""
	}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	if !scanner.Scan() {
		return ""
	}
	line := strings.TrimSpace(scanner.Text())
	// "ffmpeg version 7.1 Copyright (c) ..." -> "ffmpeg version 7.1"
	if idx := strings.Index(line, " Copyright"); idx > 0 {
		line = line[:idx]
	}
	return line
}

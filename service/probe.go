package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
)

var commandContext = exec.CommandContext

// FFprobe measures media duration with the ffprobe binary, which reads
// http(s) urls directly.
type FFprobe struct {
	Binary string
}

type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func (p *FFprobe) ProbeDuration(ctx context.Context, audioURL string) (float64, error) {
	audioURL = strings.TrimSpace(audioURL)
	if audioURL == "" {
		return 0, fmt.Errorf("ffprobe: empty audio url")
	}
	binary := strings.TrimSpace(p.Binary)
	if binary == "" {
		binary = "ffprobe"
	}
	cmd := commandContext(ctx, binary, "-v", "error", "-hide_banner", "-show_format", "-of", "json", "--", audioURL) //nolint:gosec
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", audioURL, err)
	}
	return parseProbeDuration(output)
}

// parseProbeDuration returns 0 when ffprobe cannot tell the length (empty,
// N/A or non-positive), which makes the render fall back to the script
// estimate.
func parseProbeDuration(output []byte) (float64, error) {
	var parsed ffprobeOutput
	if err := json.Unmarshal(output, &parsed); err != nil {
		return 0, fmt.Errorf("ffprobe parse: %w", err)
	}
	raw := strings.TrimSpace(parsed.Format.Duration)
	if raw == "" || strings.EqualFold(raw, "N/A") {
		return 0, nil
	}
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe duration %q: %w", raw, err)
	}
	if seconds <= 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return 0, nil
	}
	return seconds, nil
}

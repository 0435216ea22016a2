package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
)

// Adapter drives ffmpeg/ffprobe binaries.
type Adapter struct {
	ffmpeg  string
	ffprobe string
}

func New(ffmpegPath, ffprobePath string) *Adapter {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Adapter{ffmpeg: ffmpegPath, ffprobe: ffprobePath}
}

type probeOutput struct {
	Streams []struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"streams"`
}

func (a *Adapter) ProbeDimensions(ctx context.Context, input string) (int, int, error) {
	cmd := exec.CommandContext(ctx, a.ffprobe,
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-select_streams", "v:0",
		input,
	)
	b, err := cmd.Output()
	if err != nil {
		return 0, 0, fmt.Errorf("ffprobe dimensions: %w", err)
	}
	var out probeOutput
	if err := json.Unmarshal(b, &out); err != nil {
		return 0, 0, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if len(out.Streams) == 0 || out.Streams[0].Width <= 0 || out.Streams[0].Height <= 0 {
		return 0, 0, fmt.Errorf("ffprobe reported no video stream for %s", input)
	}
	return out.Streams[0].Width, out.Streams[0].Height, nil
}

func (a *Adapter) RenderClip(ctx context.Context, input string, start, duration float64, filterChain, output string) error {
	cmd := exec.CommandContext(ctx, a.ffmpeg,
		"-y",
		"-ss", fmtSeconds(start),
		"-t", fmtSeconds(duration),
		"-i", input,
		"-vf", filterChain,
		"-c:v", "libx264",
		"-preset", "medium",
		"-crf", "20",
		"-c:a", "aac",
		"-b:a", "128k",
		"-ar", "44100",
		"-movflags", "+faststart",
		output,
	)
	b, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg render clip: %w\n%s", err, tail(b, 500))
	}
	return nil
}

func fmtSeconds(sec float64) string {
	return strconv.FormatFloat(sec, 'f', 3, 64)
}

// tail keeps error messages readable; ffmpeg stderr can run to megabytes.
func tail(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[len(b)-n:]
}

//go:build integration

package itest

import (
	"context"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/clipsmith/clipsmith/internal/pipeline"
	"github.com/clipsmith/clipsmith/internal/ports/adapters/ffmpeg"
	"github.com/clipsmith/clipsmith/internal/types"
)

func TestE2E_RenderClips(t *testing.T) {
	tmp := t.TempDir()
	in := filepath.Join(tmp, "input.mp4")

	// Build a 15s test source with a tone track.
	ff := exec.Command("ffmpeg",
		"-y",
		"-f", "lavfi",
		"-i", "color=c=black:s=1280x720:d=15",
		"-f", "lavfi",
		"-i", "sine=frequency=440:duration=15",
		"-shortest",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		in,
	)
	if b, err := ff.CombinedOutput(); err != nil {
		t.Fatalf("ffmpeg fixture failed: %v\n%s", err, string(b))
	}

	shotList := types.ShotList{
		ProjectID: "itest",
		Scenes: []types.Scene{
			{StartTime: 1.0, EndTime: 5.0, ViralityScore: 80, Description: "Opening idea", HookMoment: true},
			{StartTime: 5.2, EndTime: 9.0, ViralityScore: 60, Description: "Follow through"},
		},
	}
	transcript := types.Transcript{
		Segments: []types.Segment{
			{
				Start: 1.2,
				End:   3.0,
				Text:  "Here is the idea.",
				Words: []types.Word{
					{Word: "Here", Start: 1.2, End: 1.5},
					{Word: "is", Start: 1.5, End: 1.7},
					{Word: "the", Start: 1.7, End: 1.9},
					{Word: "idea.", Start: 1.9, End: 2.4},
				},
			},
		},
	}

	outDir := filepath.Join(tmp, "exports")
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	runner := pipeline.NewRunner(ffmpeg.New("", ""), outDir, 0.5, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	clips, err := runner.RenderClips(ctx, pipeline.Request{
		ProjectID:  "itest",
		SourcePath: in,
		ShotList:   shotList,
		Transcript: transcript,
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(clips) != 1 {
		t.Fatalf("expected 1 clip, got %d", len(clips))
	}

	clip := clips[0]
	if _, err := os.Stat(clip.Path); err != nil {
		t.Fatalf("missing clip file: %v", err)
	}

	dur, err := probeDurationSeconds(clip.Path)
	if err != nil {
		t.Fatalf("probe duration: %v", err)
	}
	if math.Abs(dur-clip.Duration) > 0.5 {
		t.Fatalf("clip duration = %.2fs, want about %.2fs", dur, clip.Duration)
	}

	w, h, err := probeVideoSize(clip.Path)
	if err != nil {
		t.Fatalf("probe size: %v", err)
	}
	if w != 1080 || h != 1920 {
		t.Fatalf("clip size = %dx%d, want 1080x1920", w, h)
	}

	// The subtitle sidecar is temporary and must not survive the render.
	leftovers, err := filepath.Glob(filepath.Join(outDir, "itest", "*.ass"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(leftovers) != 0 {
		t.Fatalf("leftover subtitle files: %v", leftovers)
	}
}

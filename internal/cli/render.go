package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/clipsmith/clipsmith/internal/pipeline"
	"github.com/clipsmith/clipsmith/internal/ports/adapters/ffmpeg"
	"github.com/clipsmith/clipsmith/internal/types"
)

func newRenderCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render <input>",
		Short: "Render clips from a local video using a shot list and transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(cmd, args[0])
		},
	}

	cmd.Flags().String("shot-list", "", "Path to the shot list JSON (required)")
	cmd.Flags().String("transcript", "", "Path to the transcript JSON (required)")
	cmd.Flags().String("out", "exports", "Output directory")
	cmd.Flags().String("project", "local", "Project id used for the output subdirectory")
	cmd.Flags().Float64("focus", 0.5, "Horizontal crop focus, 0 (left) to 1 (right)")
	_ = cmd.MarkFlagRequired("shot-list")
	_ = cmd.MarkFlagRequired("transcript")

	return cmd
}

func runRender(cmd *cobra.Command, input string) error {
	shotListPath, _ := cmd.Flags().GetString("shot-list")
	transcriptPath, _ := cmd.Flags().GetString("transcript")
	outDir, _ := cmd.Flags().GetString("out")
	projectID, _ := cmd.Flags().GetString("project")
	focus, _ := cmd.Flags().GetFloat64("focus")

	absIn, err := filepath.Abs(input)
	if err != nil {
		return err
	}

	var shotList types.ShotList
	if err := readJSONFile(shotListPath, &shotList); err != nil {
		return fmt.Errorf("shot list: %w", err)
	}
	var transcript types.Transcript
	if err := readJSONFile(transcriptPath, &transcript); err != nil {
		return fmt.Errorf("transcript: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Hour)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	video := ffmpeg.New(
		getenvDefault("FFMPEG_PATH", "ffmpeg"),
		getenvDefault("FFPROBE_PATH", "ffprobe"),
	)
	runner := pipeline.NewRunner(video, outDir, focus, logger)

	out := cmd.OutOrStdout()
	clips, err := runner.RenderClips(ctx, pipeline.Request{
		ProjectID:  projectID,
		SourcePath: absIn,
		ShotList:   shotList,
		Transcript: transcript,
		Report: func(stage string, progress float64, message string) {
			fmt.Fprintln(out, renderStatusLine(stage, statusInfo,
				fmt.Sprintf("%3.0f%% %s", progress, message), shouldColorize(os.Stdout)))
		},
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, renderClipTable(clips))
	return nil
}

func readJSONFile(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

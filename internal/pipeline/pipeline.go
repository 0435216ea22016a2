package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/clipsmith/clipsmith/internal/domain/geometry"
	"github.com/clipsmith/clipsmith/internal/domain/grouping"
	"github.com/clipsmith/clipsmith/internal/domain/subtitles"
	"github.com/clipsmith/clipsmith/internal/ports"
	"github.com/clipsmith/clipsmith/internal/ports/adapters/ffmpeg"
	"github.com/clipsmith/clipsmith/internal/types"
)

var (
	ErrNoScenes        = errors.New("shot list has no scenes")
	ErrNoClipsRendered = errors.New("no clips were rendered")
)

// Output geometry: 9:16 vertical at the resolution the subtitle styles are
// authored for.
const (
	outWidth     = subtitles.PlayResX
	outHeight    = subtitles.PlayResY
	ratioW       = 9
	ratioH       = 16
	fallbackSrcW = 1920
	fallbackSrcH = 1080
)

// Runner renders vertical highlight clips from a shot list. One Runner is
// shared across jobs; per-request state lives in Request.
type Runner struct {
	video      ports.VideoTool
	exportsDir string
	focus      float64
	logger     *slog.Logger
}

func NewRunner(video ports.VideoTool, exportsDir string, focus float64, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runner{video: video, exportsDir: exportsDir, focus: focus, logger: logger}
}

// Request is one render invocation.
type Request struct {
	ProjectID  string
	SourcePath string
	ShotList   types.ShotList
	Transcript types.Transcript
	// Report receives progress updates; nil is allowed. It is invoked from a
	// single pipeline stage at a time.
	Report ports.ProgressReporter
}

// RenderClips groups the shot list's scenes into clips and renders each as a
// standalone vertical video with karaoke captions, writing outputs under
// exportsDir/projectID.
//
// A single clip failure is retried once without the subtitle burn-in and then
// dropped; only a request that yields zero rendered clips fails as a whole.
// Clip rendering and progress reports are strictly sequential within one
// request. The context is checked between clips, so cancellation takes effect
// at the next clip boundary or inside the transcoder invocation.
func (r *Runner) RenderClips(ctx context.Context, req Request) ([]types.RenderedClip, error) {
	scenes := req.ShotList.Scenes
	if len(scenes) == 0 {
		return nil, ErrNoScenes
	}
	report := req.Report
	if report == nil {
		report = func(string, float64, string) {}
	}

	projectDir := filepath.Join(r.exportsDir, req.ProjectID)
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		return nil, fmt.Errorf("create project dir: %w", err)
	}

	srcW, srcH, err := r.video.ProbeDimensions(ctx, req.SourcePath)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.logger.Warn("probe failed, assuming default dimensions",
			"source", req.SourcePath, "error", err)
		srcW, srcH = fallbackSrcW, fallbackSrcH
	}
	r.logger.Info("source dimensions", "width", srcW, "height", srcH)

	groups := grouping.BuildGroups(scenes)
	r.logger.Info("grouped scenes", "scenes", len(scenes), "clips", len(groups))

	var results []types.RenderedClip
	var lastErr error
	for idx, group := range groups {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		pct := float64(idx) / float64(len(groups)) * 90
		report("rendering", pct, fmt.Sprintf("Rendering clip %d/%d: %s", idx+1, len(groups), group.Title))

		outPath, err := r.renderOne(ctx, req, projectDir, idx, group, srcW, srcH)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.logger.Error("clip render failed", "clip", idx, "title", group.Title, "error", err)
			lastErr = err
			continue
		}
		results = append(results, types.RenderedClip{
			Path:     outPath,
			Title:    group.Title,
			Score:    group.Score,
			Start:    group.Start,
			End:      group.End,
			Duration: group.Duration(),
		})
	}

	if len(results) == 0 {
		if lastErr != nil {
			return nil, fmt.Errorf("%w: last failure: %v", ErrNoClipsRendered, lastErr)
		}
		return nil, fmt.Errorf("%w: no clip group met the minimum duration", ErrNoClipsRendered)
	}

	report("complete", 100, fmt.Sprintf("Rendered %d clips", len(results)))
	return results, nil
}

// renderOne writes the clip's subtitle document, invokes the transcoder with
// the full filter chain, and on failure retries once with the same chain
// minus the subtitle burn-in. The temporary subtitle file is removed either
// way.
func (r *Runner) renderOne(ctx context.Context, req Request, projectDir string, idx int, group types.ClipGroup, srcW, srcH int) (string, error) {
	assPath := filepath.Join(projectDir, fmt.Sprintf("clip_%02d.ass", idx))
	doc := subtitles.Synthesize(req.Transcript, group.Scenes, group.Start, group.End)
	if err := os.WriteFile(assPath, []byte(doc), 0o644); err != nil {
		return "", fmt.Errorf("write subtitles: %w", err)
	}
	defer os.Remove(assPath)

	crop := geometry.Crop(srcW, srcH, ratioW, ratioH, r.focus)
	outPath := filepath.Join(projectDir, fmt.Sprintf("%02d_%s.mp4", idx+1, safeFileName(group.Title)))

	err := r.video.RenderClip(ctx, req.SourcePath, group.Start, group.Duration(),
		filterChain(crop, assPath), outPath)
	if err == nil {
		return outPath, nil
	}
	if ctx.Err() != nil {
		return "", err
	}

	// Degraded attempt: identical chain without the subtitle burn-in. Losing
	// captions beats losing the clip.
	r.logger.Warn("render failed, retrying without subtitles", "clip", idx, "error", err)
	if err := r.video.RenderClip(ctx, req.SourcePath, group.Start, group.Duration(),
		filterChain(crop, ""), outPath); err != nil {
		return "", err
	}
	return outPath, nil
}

// filterChain builds the -vf argument: crop to the target aspect, scale to
// the output resolution with lanczos, darken the caption band with a stepped
// gradient, and optionally burn in the subtitle document.
func filterChain(crop types.CropRect, assPath string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "crop=%d:%d:%d:%d,", crop.Width, crop.Height, crop.X, crop.Y)
	fmt.Fprintf(&b, "scale=%d:%d:flags=lanczos,", outWidth, outHeight)
	// Stepped semi-transparent band keeps captions legible over bright video.
	b.WriteString("drawbox=y=ih*0.78:w=iw:h=ih*0.22:color=black@0.65:t=fill,")
	b.WriteString("drawbox=y=ih*0.72:w=iw:h=ih*0.06:color=black@0.35:t=fill,")
	b.WriteString("drawbox=y=ih*0.67:w=iw:h=ih*0.05:color=black@0.15:t=fill")
	if assPath != "" {
		b.WriteString(",ass='")
		b.WriteString(escapeFilterPath(assPath))
		b.WriteString("'")
	}
	return b.String()
}

func escapeFilterPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.ReplaceAll(p, ":", "\\:")
	p = strings.ReplaceAll(p, "'", "\\'")
	return p
}

var (
	reUnsafe     = regexp.MustCompile(`[^\w\s-]`)
	reWhitespace = regexp.MustCompile(`\s+`)
)

// safeFileName turns a clip title into a filesystem-friendly name segment.
func safeFileName(title string) string {
	s := reUnsafe.ReplaceAllString(title, "")
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) > 40 {
		s = string(r[:40])
	}
	s = reWhitespace.ReplaceAllString(strings.TrimSpace(s), "_")
	if s == "" {
		return "clip"
	}
	return s
}

// BestClip returns the highest-scoring clip from a render result.
func BestClip(clips []types.RenderedClip) (types.RenderedClip, bool) {
	if len(clips) == 0 {
		return types.RenderedClip{}, false
	}
	best := clips[0]
	for _, c := range clips[1:] {
		if c.Score > best.Score {
			best = c
		}
	}
	return best, true
}

var _ ports.VideoTool = (*ffmpeg.Adapter)(nil)

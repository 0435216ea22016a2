package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/clipsmith/clipsmith/internal/types"
)

type renderCall struct {
	start, duration float64
	filterChain     string
	output          string
}

type fakeVideoTool struct {
	probeW, probeH int
	probeErr       error

	calls    []renderCall
	failures map[string]int // output path -> remaining failures
}

func (f *fakeVideoTool) ProbeDimensions(_ context.Context, _ string) (int, int, error) {
	if f.probeErr != nil {
		return 0, 0, f.probeErr
	}
	return f.probeW, f.probeH, nil
}

func (f *fakeVideoTool) RenderClip(_ context.Context, _ string, start, duration float64, filterChain, output string) error {
	f.calls = append(f.calls, renderCall{start: start, duration: duration, filterChain: filterChain, output: output})
	if f.failures[output] > 0 {
		f.failures[output]--
		return errors.New("transcoder exited 1")
	}
	return nil
}

func testScenes() []types.Scene {
	return []types.Scene{
		{StartTime: 0, EndTime: 5, ViralityScore: 90, HookMoment: true, Description: "Opening hook"},
		{StartTime: 5.2, EndTime: 12, ViralityScore: 60, Description: "Follow-up"},
		{StartTime: 30, EndTime: 36, ViralityScore: 40, Description: "Second beat"},
		{StartTime: 36.3, EndTime: 41, ViralityScore: 40},
	}
}

func testRequest(report func(string, float64, string)) Request {
	return Request{
		ProjectID:  "proj-1",
		SourcePath: "/media/source.mp4",
		ShotList:   types.ShotList{ProjectID: "proj-1", Scenes: testScenes()},
		Transcript: types.Transcript{Segments: []types.Segment{{
			Start: 0, End: 12,
			Words: []types.Word{
				{Word: "Hey", Start: 0.1, End: 0.4},
				{Word: "there", Start: 0.4, End: 0.8},
			},
		}}},
		Report: report,
	}
}

func TestRenderClips_RendersEachGroupSequentially(t *testing.T) {
	video := &fakeVideoTool{probeW: 1920, probeH: 1080}
	r := NewRunner(video, t.TempDir(), 0.5, nil)

	var stages []string
	var progresses []float64
	res, err := r.RenderClips(context.Background(), testRequest(func(stage string, progress float64, _ string) {
		stages = append(stages, stage)
		progresses = append(progresses, progress)
	}))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(res) != 2 {
		t.Fatalf("expected 2 rendered clips, got %d", len(res))
	}

	// Groups come back score-sorted: [0,12] score 75, then [30,41] score 40.
	if res[0].Start != 0 || res[0].End != 12 || res[0].Score != 75 {
		t.Fatalf("unexpected first clip: %+v", res[0])
	}
	if res[0].Title != "Opening hook" {
		t.Fatalf("unexpected title: %q", res[0].Title)
	}
	if res[1].Start != 30 || res[1].End != 41 {
		t.Fatalf("unexpected second clip: %+v", res[1])
	}

	// Progress: capped at 90 while rendering, 100 on completion, in order.
	if stages[len(stages)-1] != "complete" || progresses[len(progresses)-1] != 100 {
		t.Fatalf("expected terminal complete/100, got %v/%v", stages, progresses)
	}
	for i, p := range progresses[:len(progresses)-1] {
		if p > 90 {
			t.Fatalf("progress %v at index %d exceeds the 90%% rendering cap", p, i)
		}
		if i > 0 && p < progresses[i-1] {
			t.Fatalf("progress went backwards: %v", progresses)
		}
	}

	// Render windows follow the groups.
	if video.calls[0].start != 0 || video.calls[0].duration != 12 {
		t.Fatalf("unexpected first render window: %+v", video.calls[0])
	}
}

func TestRenderClips_FilterChainShape(t *testing.T) {
	video := &fakeVideoTool{probeW: 1920, probeH: 1080}
	r := NewRunner(video, t.TempDir(), 0.5, nil)

	if _, err := r.RenderClips(context.Background(), testRequest(nil)); err != nil {
		t.Fatalf("render: %v", err)
	}

	vf := video.calls[0].filterChain
	for _, want := range []string{
		"crop=606:1080:657:0",
		"scale=1080:1920:flags=lanczos",
		"drawbox=y=ih*0.78",
		"ass='",
	} {
		if !strings.Contains(vf, want) {
			t.Fatalf("filter chain missing %q: %s", want, vf)
		}
	}
}

func TestRenderClips_NoScenesFailsFast(t *testing.T) {
	video := &fakeVideoTool{probeW: 1920, probeH: 1080}
	r := NewRunner(video, t.TempDir(), 0.5, nil)

	_, err := r.RenderClips(context.Background(), Request{
		ProjectID: "proj-1",
		ShotList:  types.ShotList{},
	})
	if !errors.Is(err, ErrNoScenes) {
		t.Fatalf("expected ErrNoScenes, got %v", err)
	}
	if len(video.calls) != 0 {
		t.Fatalf("no transcoder calls expected, got %d", len(video.calls))
	}
}

func TestRenderClips_ProbeFailureFallsBackToDefaults(t *testing.T) {
	video := &fakeVideoTool{probeErr: errors.New("no such file")}
	r := NewRunner(video, t.TempDir(), 0.5, nil)

	if _, err := r.RenderClips(context.Background(), testRequest(nil)); err != nil {
		t.Fatalf("render: %v", err)
	}
	// 1920x1080 default source produces the same 606-wide crop.
	if !strings.Contains(video.calls[0].filterChain, "crop=606:1080:") {
		t.Fatalf("expected default-dimension crop, got %s", video.calls[0].filterChain)
	}
}

func TestRenderClips_RetriesWithoutSubtitlesThenSucceeds(t *testing.T) {
	tmp := t.TempDir()
	video := &fakeVideoTool{probeW: 1920, probeH: 1080}
	r := NewRunner(video, tmp, 0.5, nil)

	req := testRequest(nil)
	// First group's output fails once, succeeds on the degraded retry.
	firstOut := filepath.Join(tmp, "proj-1", "01_Opening_hook.mp4")
	video.failures = map[string]int{firstOut: 1}

	res, err := r.RenderClips(context.Background(), req)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(res) != 2 {
		t.Fatalf("expected 2 clips, got %d", len(res))
	}

	if !strings.Contains(video.calls[0].filterChain, "ass='") {
		t.Fatalf("first attempt should burn subtitles: %s", video.calls[0].filterChain)
	}
	if strings.Contains(video.calls[1].filterChain, "ass=") {
		t.Fatalf("retry must drop the subtitle step: %s", video.calls[1].filterChain)
	}
	// Everything else in the chain stays identical.
	if !strings.HasPrefix(video.calls[0].filterChain, video.calls[1].filterChain) {
		t.Fatalf("retry chain should be the primary chain minus subtitles:\n%s\n%s",
			video.calls[0].filterChain, video.calls[1].filterChain)
	}
}

func TestRenderClips_SingleClipFailureIsNotFatal(t *testing.T) {
	tmp := t.TempDir()
	video := &fakeVideoTool{probeW: 1920, probeH: 1080}
	r := NewRunner(video, tmp, 0.5, nil)

	// Both attempts for the first group fail; the second group still renders.
	firstOut := filepath.Join(tmp, "proj-1", "01_Opening_hook.mp4")
	video.failures = map[string]int{firstOut: 2}

	res, err := r.RenderClips(context.Background(), testRequest(nil))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(res) != 1 {
		t.Fatalf("expected the surviving clip only, got %d", len(res))
	}
	if res[0].Start != 30 {
		t.Fatalf("unexpected surviving clip: %+v", res[0])
	}
}

func TestRenderClips_AllFailuresFailTheOperation(t *testing.T) {
	tmp := t.TempDir()
	video := &fakeVideoTool{probeW: 1920, probeH: 1080}
	r := NewRunner(video, tmp, 0.5, nil)

	video.failures = map[string]int{
		filepath.Join(tmp, "proj-1", "01_Opening_hook.mp4"): 2,
		filepath.Join(tmp, "proj-1", "02_Second_beat.mp4"):  2,
	}

	res, err := r.RenderClips(context.Background(), testRequest(nil))
	if !errors.Is(err, ErrNoClipsRendered) {
		t.Fatalf("expected ErrNoClipsRendered, got %v", err)
	}
	if len(res) != 0 {
		t.Fatalf("expected empty result, got %d", len(res))
	}
}

func TestRenderClips_ZeroSurvivingGroupsFails(t *testing.T) {
	video := &fakeVideoTool{probeW: 1920, probeH: 1080}
	r := NewRunner(video, t.TempDir(), 0.5, nil)

	// Every scene grouping is shorter than the 5s minimum.
	req := Request{
		ProjectID:  "proj-1",
		SourcePath: "/media/source.mp4",
		ShotList: types.ShotList{Scenes: []types.Scene{
			{StartTime: 0, EndTime: 2, ViralityScore: 50},
			{StartTime: 10, EndTime: 12, ViralityScore: 50},
		}},
	}
	_, err := r.RenderClips(context.Background(), req)
	if !errors.Is(err, ErrNoClipsRendered) {
		t.Fatalf("expected ErrNoClipsRendered, got %v", err)
	}
}

func TestRenderClips_RemovesTemporarySubtitleFiles(t *testing.T) {
	tmp := t.TempDir()
	video := &fakeVideoTool{probeW: 1920, probeH: 1080}
	r := NewRunner(video, tmp, 0.5, nil)

	if _, err := r.RenderClips(context.Background(), testRequest(nil)); err != nil {
		t.Fatalf("render: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(tmp, "proj-1"))
	if err != nil {
		t.Fatalf("read project dir: %v", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".ass") {
			t.Fatalf("temporary subtitle file left behind: %s", e.Name())
		}
	}
}

func TestRenderClips_CancelledContextStopsBetweenClips(t *testing.T) {
	video := &fakeVideoTool{probeW: 1920, probeH: 1080}
	r := NewRunner(video, t.TempDir(), 0.5, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.RenderClips(ctx, testRequest(nil))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(video.calls) != 0 {
		t.Fatalf("no renders expected after cancellation, got %d", len(video.calls))
	}
}

func TestSafeFileName(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Opening hook", "Opening_hook"},
		{"What?! You won't believe #3...", "What_You_wont_believe_3"},
		{"  spaced   out  ", "spaced_out"},
		{"***", "clip"},
		{strings.Repeat("long title ", 10), "long_title_long_title_long_title_long_ti"},
	}
	for _, tc := range cases {
		if got := safeFileName(tc.in); got != tc.want {
			t.Fatalf("safeFileName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestBestClip(t *testing.T) {
	if _, ok := BestClip(nil); ok {
		t.Fatal("expected no best clip for empty input")
	}
	best, ok := BestClip([]types.RenderedClip{
		{Path: "a", Score: 40},
		{Path: "b", Score: 90},
		{Path: "c", Score: 60},
	})
	if !ok || best.Path != "b" {
		t.Fatalf("unexpected best clip: %+v", best)
	}
}

package ports

import "context"

// VideoTool abstracts the external transcoder and prober.
type VideoTool interface {
	// ProbeDimensions returns the pixel dimensions of the first video stream.
	ProbeDimensions(ctx context.Context, input string) (width, height int, err error)
	// RenderClip transcodes the [start, start+duration) window of input
	// through the given -vf filter chain into output. A non-zero exit status
	// is returned as an error carrying the tool's stderr.
	RenderClip(ctx context.Context, input string, start, duration float64, filterChain, output string) error
}

// ProgressReporter receives pipeline progress. Implementations may be invoked
// from at most one pipeline stage at a time; progress is 0-100 and
// non-decreasing by convention.
type ProgressReporter func(stage string, progress float64, message string)

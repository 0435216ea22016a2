package grouping

import (
	"sort"
	"strings"

	"github.com/clipsmith/clipsmith/internal/types"
)

const (
	// Break thresholds between adjacent scenes.
	maxGap      = 2.0  // seconds of silence that always splits
	maxSpan     = 90.0 // hard ceiling on clip length
	softSpan    = 30.0 // past this, smaller pauses split too
	softGap     = 0.5
	minDuration = 5.0 // groups shorter than this are discarded
	maxTitleLen = 60
)

// BuildGroups merges adjacent scenes into standalone clip groups.
//
// Scenes are sorted by start time and accumulated greedily. The running group
// is finalized before absorbing the next scene when the pause between scenes
// exceeds maxGap, when the group would exceed maxSpan, or when a group already
// past softSpan hits a pause above softGap. A singleton group is never
// force-broken; it keeps absorbing until one of the rules fires with at least
// two scenes accumulated. Groups shorter than minDuration are dropped, and the
// survivors are returned sorted by descending score.
func BuildGroups(scenes []types.Scene) []types.ClipGroup {
	if len(scenes) == 0 {
		return nil
	}

	sorted := make([]types.Scene, len(scenes))
	copy(sorted, scenes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].StartTime < sorted[j].StartTime
	})

	var groups []types.ClipGroup
	current := []types.Scene{sorted[0]}

	for i := 1; i < len(sorted); i++ {
		next := sorted[i]
		prev := sorted[i-1]

		gap := next.StartTime - prev.EndTime
		span := next.EndTime - current[0].StartTime

		shouldBreak := gap > maxGap ||
			span > maxSpan ||
			(span > softSpan && gap > softGap)

		if shouldBreak && len(current) >= 2 {
			groups = append(groups, buildGroup(current))
			current = []types.Scene{next}
		} else {
			current = append(current, next)
		}
	}
	groups = append(groups, buildGroup(current))

	kept := groups[:0]
	for _, g := range groups {
		if g.Duration() >= minDuration {
			kept = append(kept, g)
		}
	}
	groups = kept

	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Score > groups[j].Score
	})
	return groups
}

func buildGroup(scenes []types.Scene) types.ClipGroup {
	sum := 0
	for _, s := range scenes {
		sum += s.ViralityScore
	}
	return types.ClipGroup{
		Start:  scenes[0].StartTime,
		End:    scenes[len(scenes)-1].EndTime,
		Score:  sum / len(scenes),
		Title:  groupTitle(scenes),
		Scenes: scenes,
	}
}

// groupTitle picks a display title by priority: the first typography entry
// whose purpose marks it as a hook or key stat, then the description of the
// first hook-moment scene, then the first scene's description.
func groupTitle(scenes []types.Scene) string {
	for _, s := range scenes {
		for _, t := range s.Typography {
			if (t.Purpose == "hook" || t.Purpose == "key_stat") && strings.TrimSpace(t.Text) != "" {
				return truncateTitle(t.Text)
			}
		}
	}
	for _, s := range scenes {
		if s.HookMoment && strings.TrimSpace(s.Description) != "" {
			return truncateTitle(s.Description)
		}
	}
	if strings.TrimSpace(scenes[0].Description) != "" {
		return truncateTitle(scenes[0].Description)
	}
	return "Clip"
}

func truncateTitle(s string) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) > maxTitleLen {
		return string(r[:maxTitleLen])
	}
	return s
}

package geometry

import "github.com/clipsmith/clipsmith/internal/types"

// DefaultFocus centers the crop horizontally.
const DefaultFocus = 0.5

// Crop computes the rectangle to cut from a srcW x srcH frame so the result
// matches the ratioW:ratioH aspect. focus biases the horizontal placement when
// the source is wider than the target: 0 keeps the left edge, 1 the right,
// 0.5 the center. Vertical crops are always centered.
//
// Both output dimensions are rounded down to even values (encoder alignment)
// and the rectangle never leaves the source bounds.
func Crop(srcW, srcH, ratioW, ratioH int, focus float64) types.CropRect {
	if focus < 0 {
		focus = 0
	} else if focus > 1 {
		focus = 1
	}
	targetRatio := float64(ratioW) / float64(ratioH)
	srcRatio := float64(srcW) / float64(srcH)

	if srcRatio > targetRatio {
		// Source is proportionally wider: keep full height, trim the sides.
		cropH := srcH - srcH%2
		cropW := int(float64(srcH) * targetRatio)
		cropW -= cropW % 2
		maxX := srcW - cropW
		x := int(float64(maxX) * focus)
		if x < 0 {
			x = 0
		} else if x > maxX {
			x = maxX
		}
		return types.CropRect{Width: cropW, Height: cropH, X: x, Y: 0}
	}

	// Source is proportionally taller (or exact): keep full width, center
	// vertically.
	cropW := srcW - srcW%2
	cropH := int(float64(srcW) / targetRatio)
	cropH -= cropH % 2
	if cropH > srcH {
		cropH = srcH - srcH%2
	}
	return types.CropRect{Width: cropW, Height: cropH, X: 0, Y: (srcH - cropH) / 2}
}

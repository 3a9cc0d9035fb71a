package services

// PinchZoom blends a pinch scale factor into the zoom ratio captured when
// the gesture began. Pinching in scales the baseline; pinching out adds to it.
func PinchZoom(baseline, scale float64) float64 {
	if scale < 1 {
		return baseline * scale
	}
	return baseline + (scale - 1)
}

// ClampZoom limits ratio to [min, max].
func ClampZoom(ratio, min, max float64) float64 {
	if ratio < min {
		return min
	}
	if ratio > max {
		return max
	}
	return ratio
}

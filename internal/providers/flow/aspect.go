package flow

import (
	"strings"

	"golang.org/x/text/cases"
)

// normalize folds case; a Caser is stateful so one is built per call.
func normalize(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// IsPortrait reports whether a caller-supplied aspect ratio is vertical.
// It accepts ratios ("9:16"), words ("portrait") and provider enums.
func IsPortrait(aspect string) bool {
	a := normalize(aspect)
	switch {
	case strings.Contains(a, "portrait"), a == "9:16", a == "3:4", a == "2:3":
		return true
	}
	return false
}

func isSquare(aspect string) bool {
	a := normalize(aspect)
	return a == "1:1" || strings.Contains(a, "square")
}

// ImageAspect maps an aspect ratio to the provider image enum.
func ImageAspect(aspect string) string {
	switch {
	case IsPortrait(aspect):
		return "IMAGE_ASPECT_RATIO_PORTRAIT"
	case isSquare(aspect):
		return "IMAGE_ASPECT_RATIO_SQUARE"
	}
	return "IMAGE_ASPECT_RATIO_LANDSCAPE"
}

// VideoAspect maps an aspect ratio to the provider video enum.
func VideoAspect(aspect string) string {
	if IsPortrait(aspect) {
		return "VIDEO_ASPECT_RATIO_PORTRAIT"
	}
	return "VIDEO_ASPECT_RATIO_LANDSCAPE"
}

// VideoModelKey picks the model for a start-image flag and orientation.
func VideoModelKey(hasStartImage bool, aspect string) string {
	portrait := IsPortrait(aspect)
	switch {
	case hasStartImage && portrait:
		return "veo_3_1_i2v_s_fast_portrait"
	case hasStartImage:
		return "veo_3_1_i2v_s_fast"
	case portrait:
		return "veo_3_1_t2v_fast_portrait"
	}
	return "veo_3_1_t2v_fast"
}

// Package watermark renders a tamper-evident capture-context overlay onto
// inspection photos.
package watermark

import (
	"image"
	"math"
	"time"

	"golang.org/x/image/font"

	"github.com/sitepatrol/backend/internal/geocode"
	"github.com/sitepatrol/backend/internal/models"
)

// GPSUnavailableText is rendered in place of coordinates when no fix exists.
const GPSUnavailableText = "GPS unavailable"

// Spec drives watermark rendering.
type Spec struct {
	Location  string
	Timestamp time.Time
	// Coords is nil when the capture had no GPS fix.
	Coords *models.Coordinate
}

// BuildLines returns the four overlay lines in fixed order with fixed
// prefixes. This is the textual contract: pixel output may vary across
// rendering backends, these strings may not.
func BuildLines(spec Spec) []string {
	coordLine := GPSUnavailableText
	if spec.Coords != nil {
		coordLine = geocode.CoordinateString(*spec.Coords)
	}
	return []string{
		"📍 " + spec.Location,
		"📅 " + spec.Timestamp.Format("02 January 2006"),
		"🕐 " + spec.Timestamp.Format("15:04:05"),
		"🌍 " + coordLine,
	}
}

// FontSizeFor scales the overlay with image width so it stays legible at any
// source resolution.
func FontSizeFor(imageWidth int) float64 {
	return math.Max(float64(imageWidth)/30.0, 24.0)
}

// Layout is the measured geometry of the overlay for a given image size.
type Layout struct {
	Lines        []string
	FontSize     float64
	LineHeight   float64
	Padding      float64
	MaxLineWidth int
	// Scrim is the semi-opaque backdrop rectangle behind the text block.
	Scrim image.Rectangle
	// TextLeft is the x position of every line; Baselines holds one y
	// baseline per line, top to bottom.
	TextLeft  int
	Baselines []int
}

// ComputeLayout measures the overlay block for an image of the given size,
// anchored bottom-left. The face must match Layout.FontSize.
func ComputeLayout(width, height int, spec Spec, face font.Face) *Layout {
	lines := BuildLines(spec)
	fontSize := FontSizeFor(width)
	lineHeight := 1.4 * fontSize
	padding := 0.8 * fontSize

	maxWidth := 0
	for _, line := range lines {
		if w := font.MeasureString(face, line).Ceil(); w > maxWidth {
			maxWidth = w
		}
	}

	blockHeight := lineHeight * float64(len(lines))
	blockTop := float64(height) - padding - blockHeight

	scrim := image.Rect(
		int(padding/2),
		int(blockTop-padding/2),
		int(padding)+maxWidth+int(padding/2),
		height-int(padding/2),
	)

	ascent := face.Metrics().Ascent.Ceil()
	baselines := make([]int, len(lines))
	for i := range lines {
		baselines[i] = int(blockTop+float64(i)*lineHeight) + ascent
	}

	return &Layout{
		Lines:        lines,
		FontSize:     fontSize,
		LineHeight:   lineHeight,
		Padding:      padding,
		MaxLineWidth: maxWidth,
		Scrim:        scrim,
		TextLeft:     int(padding),
		Baselines:    baselines,
	}
}

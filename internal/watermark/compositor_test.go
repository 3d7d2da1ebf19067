// Package watermark tests for the overlay layout contract and compositing.
package watermark

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"

	apperrors "github.com/sitepatrol/backend/internal/errors"
	"github.com/sitepatrol/backend/internal/models"
)

var testStamp = time.Date(2025, time.October, 5, 14, 30, 45, 0, time.UTC)

// makePhoto encodes a flat-color test image in the given format.
func makePhoto(t *testing.T, width, height int, format string) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: 30, G: 120, B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	var err error
	switch format {
	case "jpeg":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	case "png":
		err = png.Encode(&buf, img)
	default:
		t.Fatalf("unsupported test format %q", format)
	}
	if err != nil {
		t.Fatalf("failed to encode test photo: %v", err)
	}
	return buf.Bytes()
}

func testFace(t *testing.T, size float64) font.Face {
	t.Helper()
	ttf, err := opentype.Parse(goregular.TTF)
	if err != nil {
		t.Fatalf("failed to parse test font: %v", err)
	}
	face, err := opentype.NewFace(ttf, &opentype.FaceOptions{Size: size, DPI: 72})
	if err != nil {
		t.Fatalf("failed to build test face: %v", err)
	}
	return face
}

func TestBuildLinesWithCoordinates(t *testing.T) {
	coords := models.Coordinate{Latitude: -6.2088, Longitude: 106.8456}
	lines := BuildLines(Spec{
		Location:  "Toilet Lobby",
		Timestamp: testStamp,
		Coords:    &coords,
	})

	if len(lines) != 4 {
		t.Fatalf("BuildLines returned %d lines, want 4", len(lines))
	}
	if lines[0] != "📍 Toilet Lobby" {
		t.Errorf("line 0 = %q", lines[0])
	}
	if lines[1] != "📅 05 October 2025" {
		t.Errorf("line 1 = %q", lines[1])
	}
	if lines[2] != "🕐 14:30:45" {
		t.Errorf("line 2 = %q", lines[2])
	}
	if lines[3] != "🌍 -6.208800°, 106.845600°" {
		t.Errorf("line 3 = %q, want six-decimal coordinates", lines[3])
	}
}

func TestBuildLinesWithoutCoordinates(t *testing.T) {
	lines := BuildLines(Spec{Location: "Toilet Lobby", Timestamp: testStamp})
	if !strings.Contains(lines[3], GPSUnavailableText) {
		t.Errorf("line 3 = %q, want %q when coords are absent", lines[3], GPSUnavailableText)
	}
}

func TestFontSizeScalesWithWidth(t *testing.T) {
	cases := []struct {
		width int
		want  float64
	}{
		{width: 300, want: 24},   // floor applies
		{width: 720, want: 24},   // 720/30 == 24, exactly the floor
		{width: 3000, want: 100}, // proportional above the floor
	}
	for _, tc := range cases {
		if got := FontSizeFor(tc.width); got != tc.want {
			t.Errorf("FontSizeFor(%d) = %f, want %f", tc.width, got, tc.want)
		}
	}
}

func TestComputeLayoutGeometry(t *testing.T) {
	spec := Spec{Location: "Toilet Lobby", Timestamp: testStamp}
	width, height := 1200, 900
	face := testFace(t, FontSizeFor(width))
	defer face.Close()

	layout := ComputeLayout(width, height, spec, face)

	if layout.FontSize != 40 {
		t.Errorf("FontSize = %f, want 40 for width 1200", layout.FontSize)
	}
	if layout.LineHeight != 1.4*layout.FontSize {
		t.Errorf("LineHeight = %f, want 1.4x font size", layout.LineHeight)
	}
	if layout.Padding != 0.8*layout.FontSize {
		t.Errorf("Padding = %f, want 0.8x font size", layout.Padding)
	}
	if len(layout.Baselines) != 4 {
		t.Fatalf("got %d baselines, want 4", len(layout.Baselines))
	}
	if layout.Scrim.Max.Y > height {
		t.Errorf("scrim bottom %d exceeds image height %d", layout.Scrim.Max.Y, height)
	}
	if layout.Scrim.Dx() < layout.MaxLineWidth {
		t.Errorf("scrim width %d narrower than longest line %d", layout.Scrim.Dx(), layout.MaxLineWidth)
	}
	for i := 1; i < len(layout.Baselines); i++ {
		if layout.Baselines[i] <= layout.Baselines[i-1] {
			t.Errorf("baselines not strictly descending down the image: %v", layout.Baselines)
		}
	}
	// Block is anchored to the bottom region of the image.
	if layout.Baselines[0] < height/2 {
		t.Errorf("overlay anchored too high: first baseline %d of height %d", layout.Baselines[0], height)
	}
}

func TestComposePreservesDimensionsJPEG(t *testing.T) {
	photo := makePhoto(t, 800, 600, "jpeg")
	coords := models.Coordinate{Latitude: -6.2088, Longitude: 106.8456}

	out, err := NewCompositor().Compose(photo, Spec{
		Location:  "Toilet Lobby",
		Timestamp: testStamp,
		Coords:    &coords,
	})
	if err != nil {
		t.Fatalf("Compose() failed: %v", err)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("output is not a decodable image: %v", err)
	}
	if format != "jpeg" {
		t.Errorf("output format = %q, want jpeg (input format preserved)", format)
	}
	if cfg.Width != 800 || cfg.Height != 600 {
		t.Errorf("output %dx%d, want 800x600 (dimensions preserved)", cfg.Width, cfg.Height)
	}
}

func TestComposePreservesFormatPNG(t *testing.T) {
	photo := makePhoto(t, 400, 300, "png")

	out, err := NewCompositor().Compose(photo, Spec{Location: "Warehouse Door", Timestamp: testStamp})
	if err != nil {
		t.Fatalf("Compose() failed: %v", err)
	}

	_, format, err := image.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("output is not a decodable image: %v", err)
	}
	if format != "png" {
		t.Errorf("output format = %q, want png", format)
	}
}

func TestComposeModifiesPixels(t *testing.T) {
	photo := makePhoto(t, 400, 300, "png")

	out, err := NewCompositor().Compose(photo, Spec{Location: "Warehouse Door", Timestamp: testStamp})
	if err != nil {
		t.Fatalf("Compose() failed: %v", err)
	}
	if bytes.Equal(photo, out) {
		t.Error("watermarked output is byte-identical to the input photo")
	}

	// The scrim darkens the bottom-left corner region.
	img, _, err := image.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("failed to decode output: %v", err)
	}
	r, g, b, _ := img.At(30, 280).RGBA()
	or, og, ob := uint32(30)<<8, uint32(120)<<8, uint32(200)<<8
	if r >= or && g >= og && b >= ob {
		t.Error("bottom-left region not darkened; scrim appears missing")
	}
}

func TestComposeRejectsUndecodableInput(t *testing.T) {
	_, err := NewCompositor().Compose([]byte("not an image at all"), Spec{
		Location:  "Toilet Lobby",
		Timestamp: testStamp,
	})
	if err == nil {
		t.Fatal("Compose() must fail on undecodable input, not return the photo unmodified")
	}
	if !apperrors.Is(err, apperrors.ErrWatermarkFailed) {
		t.Errorf("error code = %v, want %v", apperrors.CodeOf(err), apperrors.ErrWatermarkFailed)
	}
}

func TestComposeRejectsEmptyInput(t *testing.T) {
	if _, err := NewCompositor().Compose(nil, Spec{Location: "x", Timestamp: testStamp}); err == nil {
		t.Fatal("Compose() must fail on empty input")
	}
}

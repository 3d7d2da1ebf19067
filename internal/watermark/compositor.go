package watermark

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
	_ "golang.org/x/image/webp"

	apperrors "github.com/sitepatrol/backend/internal/errors"
	"github.com/sitepatrol/backend/internal/logging"
)

const (
	// scrimAlpha is the backdrop opacity (0.75 of 255).
	scrimAlpha = 191
	// shadowOffset is the drop-shadow displacement in pixels.
	shadowOffset = 2
	// shadowBlurSigma approximates an 8px blur radius.
	shadowBlurSigma = 4.0
	// jpegQuality preserves detail in the re-encoded photo (0.95).
	jpegQuality = 95
)

var (
	fontOnce   sync.Once
	baseFont   *opentype.Font
	fontErr    error
)

// loadFont parses the embedded Go Regular face. Embedding the face keeps
// rendering independent of platform fonts.
func loadFont() (*opentype.Font, error) {
	fontOnce.Do(func() {
		baseFont, fontErr = opentype.Parse(goregular.TTF)
	})
	return baseFont, fontErr
}

// Compositor renders the capture-context overlay onto photos.
type Compositor struct{}

// NewCompositor creates a Compositor.
func NewCompositor() *Compositor {
	return &Compositor{}
}

// Compose decodes the photo, paints the overlay bottom-left, and re-encodes
// in the photo's original format at the same pixel dimensions. Any decode,
// draw, or encode failure is an explicit error: an unwatermarked photo must
// never pass through silently.
func (c *Compositor) Compose(photo []byte, spec Spec) ([]byte, error) {
	mime := mimetype.Detect(photo)

	img, format, err := image.Decode(bytes.NewReader(photo))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrWatermarkFailed, "failed to decode photo", err)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	ttf, err := loadFont()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrWatermarkFailed, "failed to load overlay font", err)
	}
	fontSize := FontSizeFor(width)
	face, err := opentype.NewFace(ttf, &opentype.FaceOptions{
		Size:    fontSize,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrWatermarkFailed, "failed to build overlay face", err)
	}
	defer face.Close()

	layout := ComputeLayout(width, height, spec, face)

	// Canvas keeps the original dimensions; the overlay never crops or
	// resizes the photo.
	canvas := imaging.Clone(img)

	// Backdrop scrim so text stays legible over any photo content.
	draw.Draw(canvas, layout.Scrim.Intersect(canvas.Bounds()),
		image.NewUniform(color.NRGBA{A: scrimAlpha}), image.Point{}, draw.Over)

	// Soft drop shadow: text drawn offset into a transparent layer, blurred,
	// then composited under the crisp pass.
	shadow := image.NewNRGBA(canvas.Bounds())
	drawLines(shadow, layout, shadowOffset, shadowOffset, color.NRGBA{A: 230})
	blurred := imaging.Blur(shadow, shadowBlurSigma)
	draw.Draw(canvas, canvas.Bounds(), blurred, image.Point{}, draw.Over)

	drawLines(canvas, layout, 0, 0, color.NRGBA{R: 255, G: 255, B: 255, A: 255})

	encoded, err := encode(canvas, format)
	if err != nil {
		return nil, err
	}

	logging.Debug("watermark composed", map[string]interface{}{
		"format":    format,
		"mime":      mime.String(),
		"width":     width,
		"height":    height,
		"font_size": layout.FontSize,
	})
	return encoded, nil
}

// drawLines renders the layout's lines at an (dx,dy) offset in the given color.
func drawLines(dst draw.Image, layout *Layout, dx, dy int, col color.NRGBA) {
	ttf, err := loadFont()
	if err != nil {
		return
	}
	face, err := opentype.NewFace(ttf, &opentype.FaceOptions{
		Size:    layout.FontSize,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return
	}
	defer face.Close()

	drawer := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(col),
		Face: face,
	}
	for i, line := range layout.Lines {
		drawer.Dot = fixed.P(layout.TextLeft+dx, layout.Baselines[i]+dy)
		drawer.DrawString(line)
	}
}

// encode re-encodes the canvas in the photo's original format. Formats Go
// cannot encode (webp) are rejected rather than silently transcoded.
func encode(img image.Image, format string) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch format {
	case "jpeg":
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality))
	case "png":
		err = imaging.Encode(&buf, img, imaging.PNG)
	case "gif":
		err = imaging.Encode(&buf, img, imaging.GIF)
	default:
		return nil, apperrors.New(apperrors.ErrWatermarkFailed, "cannot re-encode format: "+format)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrWatermarkFailed, "failed to encode watermarked photo", err)
	}
	return buf.Bytes(), nil
}

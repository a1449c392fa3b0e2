package compose

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
	_ "golang.org/x/image/webp" // Register WebP decoder
)

var (
	ErrTemplateLoad = errors.New("template load failed")
	ErrPhotoLoad    = errors.New("photo load failed")
	ErrExport       = errors.New("export failed")
)

// MIMETypePNG is the media type of every rendered pass.
const MIMETypePNG = "image/png"

// Result is a rendered pass.
type Result struct {
	Data   []byte
	Width  int
	Height int
}

var boldFont = sync.OnceValues(func() (*opentype.Font, error) {
	return opentype.Parse(gobold.TTF)
})

// Compose renders name and photo onto template and encodes the result as
// PNG. The output is sized to the template. An empty photo renders the
// template and name only. Compose allocates everything it draws on, so it
// is safe for concurrent use and returns identical bytes for identical
// inputs.
func Compose(template, photo []byte, name string, layout Layout) (*Result, error) {
	maxPixels := layout.MaxPixels
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}

	tpl, err := decode(template, maxPixels)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTemplateLoad, err)
	}

	b := tpl.Bounds()
	canvas := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(canvas, canvas.Bounds(), tpl, b.Min, draw.Src)

	if len(photo) > 0 {
		img, err := decode(photo, maxPixels)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPhotoLoad, err)
		}
		drawCovered(canvas, img, layout.PhotoRect)
	}

	if err := drawName(canvas, name, layout); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExport, err)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, canvas, imaging.PNG); err != nil {
		return nil, fmt.Errorf("%w: encoding PNG: %v", ErrExport, err)
	}
	return &Result{
		Data:   buf.Bytes(),
		Width:  b.Dx(),
		Height: b.Dy(),
	}, nil
}

// decode reads any registered raster format, honouring EXIF orientation so
// phone uploads come out upright. The header is checked against maxPixels
// first since decoders allocate the full buffer from it.
func decode(data []byte, maxPixels int64) (image.Image, error) {
	if len(data) == 0 {
		return nil, errors.New("empty image")
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, errors.New("image has no pixels")
	}
	if int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return nil, fmt.Errorf("image is %dx%d, over the %d pixel limit", cfg.Width, cfg.Height, maxPixels)
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, err
	}
	if img.Bounds().Empty() {
		return nil, errors.New("image has no pixels")
	}
	return img, nil
}

// drawCovered scales src to cover rect and draws it through a clip of
// exactly rect, further limited to dst. The clip is a sub-image, so later
// draws on dst are not affected by it.
func drawCovered(dst *image.RGBA, src image.Image, rect image.Rectangle) {
	visible := rect.Intersect(dst.Bounds())
	if visible.Empty() {
		return
	}
	cover := CoverRect(src.Bounds().Size(), rect)
	clip := dst.SubImage(visible).(*image.RGBA)
	draw.CatmullRom.Scale(clip, cover.Rect(), src, src.Bounds(), draw.Over, nil)
}

func drawName(dst *image.RGBA, name string, layout Layout) error {
	name = strings.TrimSpace(name)
	if name == "" {
		name = layout.DefaultName
	}
	if name == "" {
		name = DefaultName
	}

	f, err := boldFont()
	if err != nil {
		return fmt.Errorf("parsing font: %w", err)
	}
	size := layout.FontSize
	if size <= 0 {
		size = 24
	}
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return fmt.Errorf("creating font face: %w", err)
	}
	defer face.Close()

	var textColor color.Color = color.White
	if layout.TextColor != nil {
		textColor = layout.TextColor
	}
	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(textColor),
		Face: face,
		Dot:  fixed.P(layout.NameAnchor.X, layout.NameAnchor.Y),
	}
	d.DrawString(name)
	return nil
}

// Package compose renders a visitor pass: a template image with the visitor's
// photo scaled to cover a fixed window and their name drawn on top.
package compose

import (
	"image"
	"image/color"
	"math"
)

// DefaultName is drawn when the registrant name is empty.
const DefaultName = "JOHN DOE"

// DefaultMaxPixels caps the decoded size of the template and the photo.
const DefaultMaxPixels = 50_000_000

// Layout positions the photo and name on the template, in template pixels.
type Layout struct {
	// PhotoRect is the window the photo must cover. Nothing of the photo is
	// drawn outside it.
	PhotoRect image.Rectangle
	// NameAnchor is the left end of the name's baseline.
	NameAnchor image.Point
	// FontSize is in pixels.
	FontSize  float64
	TextColor color.Color
	// DefaultName replaces an empty name.
	DefaultName string
	// MaxPixels rejects images whose header claims more pixels than this,
	// before any pixel buffer is allocated. Zero means DefaultMaxPixels.
	MaxPixels int64
}

// DefaultLayout matches the event template: a 167x181 window at (785, 945)
// and a bold 24px white name anchored at (507, 1131).
func DefaultLayout() Layout {
	return Layout{
		PhotoRect:   image.Rect(785, 945, 785+167, 945+181),
		NameAnchor:  image.Pt(507, 1131),
		FontSize:    24,
		TextColor:   color.White,
		DefaultName: DefaultName,
		MaxPixels:   DefaultMaxPixels,
	}
}

// Cover is the placement of a source image scaled to cover a rectangle.
type Cover struct {
	Scale  float64
	X, Y   float64
	Width  float64
	Height float64
}

// CoverRect scales src just enough to fill dst on both axes, keeping the
// aspect ratio, and centres the result on dst. The overflowing dimension is
// cropped equally on both sides once clipped to dst.
func CoverRect(src image.Point, dst image.Rectangle) Cover {
	if src.X <= 0 || src.Y <= 0 {
		return Cover{}
	}
	dw, dh := float64(dst.Dx()), float64(dst.Dy())
	scale := math.Max(dw/float64(src.X), dh/float64(src.Y))
	w := float64(src.X) * scale
	h := float64(src.Y) * scale
	return Cover{
		Scale:  scale,
		X:      float64(dst.Min.X) + (dw-w)/2,
		Y:      float64(dst.Min.Y) + (dh-h)/2,
		Width:  w,
		Height: h,
	}
}

// Rect snaps the cover to whole pixels.
func (c Cover) Rect() image.Rectangle {
	x0 := int(math.Round(c.X))
	y0 := int(math.Round(c.Y))
	x1 := int(math.Round(c.X + c.Width))
	y1 := int(math.Round(c.Y + c.Height))
	return image.Rect(x0, y0, x1, y1)
}

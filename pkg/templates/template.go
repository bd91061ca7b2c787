// Package templates indexes mockup templates and their decoded pixel
// assets: base image, displacement map, and mask. A Store is built once at
// process start from a catalog source and shared read-only across every
// concurrent compositing request.
package templates

import (
	"fmt"

	"github.com/printforge/mockupcore/pkg/pixelimg"
)

// DisplacementEncoding selects how a template's displacement map encodes
// its per-pixel 2D vector field.
type DisplacementEncoding string

const (
	// EncodingLuma treats the map as single-channel: luminance encodes
	// vertical displacement only, horizontal displacement is zero. This is
	// the default — it's what the reference catalog's grayscale
	// displacement.png assets actually contain.
	EncodingLuma DisplacementEncoding = "luma"
	// EncodingRG treats red as horizontal and green as vertical
	// displacement, both linearly mapped from [0,255] to [-D,+D] with 128
	// as the zero point.
	EncodingRG DisplacementEncoding = "rg"
)

// Rect is an axis-aligned pixel rectangle in template space.
type Rect struct {
	X, Y, Width, Height int
}

// Contains reports whether (x, y) lies within the rectangle.
func (r Rect) Contains(x, y int) bool {
	return x >= r.X && y >= r.Y && x < r.X+r.Width && y < r.Y+r.Height
}

// Validate checks the print-area invariants.
func (r Rect) Validate(boundW, boundH int) error {
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("print area has non-positive dimensions %dx%d", r.Width, r.Height)
	}
	if r.X < 0 || r.Y < 0 {
		return fmt.Errorf("print area origin (%d,%d) is negative", r.X, r.Y)
	}
	if r.X+r.Width > boundW || r.Y+r.Height > boundH {
		return fmt.Errorf("print area %+v exceeds template bounds %dx%d", r, boundW, boundH)
	}
	return nil
}

// Template is the immutable, process-lifetime-cached description of one
// product view.
type Template struct {
	ID          string
	ProductType string
	Variant     string
	Color       string

	Width  int
	Height int

	PrintArea Rect

	DisplacementEncoding  DisplacementEncoding
	DisplacementStrength  float64 // D, in pixels; 0 means "derive from print area width"

	BaseImage       *pixelimg.Image // always present for an active template
	DisplacementMap *pixelimg.Image // nil => identity warp
	Mask            *pixelimg.Image // nil => mask is 1 inside PrintArea, else 0

	Active bool
}

// EffectiveStrength returns the configured displacement strength, or a
// default of 10% of the print area width when unset.
func (t Template) EffectiveStrength() float64 {
	if t.DisplacementStrength > 0 {
		return t.DisplacementStrength
	}
	return float64(t.PrintArea.Width) * 0.10
}

// MaskAt returns the coverage value (0..1) for output pixel (x, y). A
// mask is a single-channel grayscale image, exactly like a displacement
// map — coverage lives in the red channel, read the same way
// displacementAt reads its luma encoding, not in alpha (decoded grayscale
// assets are fully opaque, so alpha is always 255 and carries no
// information). With no explicit mask, coverage falls back to 1 inside
// the print area and 0 outside it.
func (t Template) MaskAt(x, y int) float64 {
	if t.Mask != nil {
		r, _, _, _ := t.Mask.At(x, y)
		return float64(r) / 255
	}
	if t.PrintArea.Contains(x, y) {
		return 1
	}
	return 0
}

// Summary is the trimmed projection returned by Store.List.
type Summary struct {
	ID          string
	ProductType string
	Width       int
	Height      int
	PrintArea   Rect
}

// Package compositor implements the displacement-mapping image pipeline:
// design placement, resampling, displacement warp, and alpha blend
// (encoding is done by pixelimg.Encode). Given byte-identical inputs it
// produces byte-identical output —
// no randomness, and the per-pixel math below never depends on goroutine
// scheduling order.
package compositor

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/printforge/mockupcore/pkg/pixelimg"
	"github.com/printforge/mockupcore/pkg/templates"
)

// ErrKind enumerates the compositor's distinct error kinds.
type ErrKind string

const (
	ErrInvalidPlacement   ErrKind = "INVALID_PLACEMENT"
	ErrDesignTooLarge     ErrKind = "DESIGN_TOO_LARGE"
	ErrTemplateUnavailable ErrKind = "TEMPLATE_UNAVAILABLE"
)

// CompositorError carries the kind for the response-layer status mapping.
type CompositorError struct {
	Kind ErrKind
	Msg  string
}

func (e *CompositorError) Error() string { return e.Msg }

func errKind(kind ErrKind, format string, args ...interface{}) error {
	return &CompositorError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// targetRect is the placed-and-scaled design's bounding box inside
// template space, the output of the placement step.
type targetRect struct {
	X, Y, W, H int
}

// computeTargetRect applies the scale and offset to the print area to
// produce the design's target bounding box, preserving aspect ratio.
func computeTargetRect(printArea templates.Rect, designW, designH int, p Placement) targetRect {
	targetW := int(math.Round(float64(printArea.Width) * p.Scale))
	if targetW < 1 {
		targetW = 1
	}
	targetH := int(math.Round(float64(designH) * float64(targetW) / float64(designW)))
	if targetH < 1 {
		targetH = 1
	}

	centerX := float64(printArea.X) + float64(printArea.Width)/2 + p.OffsetX*float64(printArea.Width)
	centerY := float64(printArea.Y) + float64(printArea.Height)/2 + p.OffsetY*float64(printArea.Height)

	tx := int(math.Round(centerX - float64(targetW)/2))
	ty := int(math.Round(centerY - float64(targetH)/2))

	return targetRect{X: tx, Y: ty, W: targetW, H: targetH}
}

func (t targetRect) intersectsPrintArea(p templates.Rect) bool {
	return t.X < p.X+p.Width && t.X+t.W > p.X && t.Y < p.Y+p.Height && t.Y+t.H > p.Y
}

// Compositor runs the placement, warp, and blend pipeline for a single
// request.
type Compositor struct{}

func New() *Compositor { return &Compositor{} }

const maxDesignDimension = 8192

// Composite places the design onto the template's print area, warps it
// through the template's displacement map, and blends it over the base
// image, producing an Image with the template's dimensions.
func (c *Compositor) Composite(tmpl *templates.Template, design *pixelimg.Image, placement Placement) (*pixelimg.Image, error) {
	if tmpl == nil || !tmpl.Active {
		return nil, errKind(ErrTemplateUnavailable, "template is unavailable")
	}
	if design.Width > maxDesignDimension || design.Height > maxDesignDimension {
		return nil, errKind(ErrDesignTooLarge, "design %dx%d exceeds maximum dimension %d", design.Width, design.Height, maxDesignDimension)
	}
	if err := placement.Validate(); err != nil {
		return nil, errKind(ErrInvalidPlacement, "%v", err)
	}

	target := computeTargetRect(tmpl.PrintArea, design.Width, design.Height, placement)
	if !target.intersectsPrintArea(tmpl.PrintArea) {
		return nil, errKind(ErrInvalidPlacement, "placed design bounding box %+v does not intersect print area %+v", target, tmpl.PrintArea)
	}

	resampled := resizeBilinear(design, target.W, target.H)

	warped := warp(tmpl, resampled, target)

	out := blendOver(warped, tmpl.BaseImage)

	return out, nil
}

// resizeBilinear produces a dstW x dstH image by bilinearly resampling src
// with edge clamping.
func resizeBilinear(src *pixelimg.Image, dstW, dstH int) *pixelimg.Image {
	dst := pixelimg.New(dstW, dstH)
	if src.Width == 0 || src.Height == 0 {
		return dst
	}
	scaleX := float64(src.Width) / float64(dstW)
	scaleY := float64(src.Height) / float64(dstH)

	parallelRows(dstH, func(y int) {
		srcY := (float64(y) + 0.5) * scaleY
		for x := 0; x < dstW; x++ {
			srcX := (float64(x) + 0.5) * scaleX
			r, g, b, a := pixelimg.BilinearSample(src, srcX, srcY)
			dst.Set(x, y, r, g, b, a)
		}
	})
	return dst
}

// warp walks every template pixel, reads the displacement map (if any),
// samples the resampled design at the displaced coordinate, and applies
// the mask.
func warp(tmpl *templates.Template, resampled *pixelimg.Image, target targetRect) *pixelimg.Image {
	out := pixelimg.New(tmpl.Width, tmpl.Height)
	d := tmpl.EffectiveStrength()

	parallelRows(tmpl.Height, func(v int) {
		for u := 0; u < tmpl.Width; u++ {
			sx := float64(u - target.X)
			sy := float64(v - target.Y)

			gx, gy := displacementAt(tmpl, u, v, d)
			sxp := sx + gx
			syp := sy + gy

			var r, g, b, a uint8
			if sxp >= 0 && sxp <= float64(resampled.Width-1) && syp >= 0 && syp <= float64(resampled.Height-1) {
				r, g, b, a = pixelimg.BilinearSample(resampled, sxp, syp)
			}

			m := tmpl.MaskAt(u, v)
			a = uint8(float64(a) * m)

			out.Set(u, v, r, g, b, a)
		}
	})
	return out
}

// displacementAt reads the displacement vector at (u, v) under the
// template's chosen encoding convention.
func displacementAt(tmpl *templates.Template, u, v int, d float64) (gx, gy float64) {
	if tmpl.DisplacementMap == nil {
		return 0, 0
	}
	red, green, _, _ := tmpl.DisplacementMap.At(u, v)

	switch tmpl.DisplacementEncoding {
	case templates.EncodingRG:
		gx = (float64(red) - 128) / 128 * d
		gy = (float64(green) - 128) / 128 * d
	default: // EncodingLuma
		gx = 0
		gy = (float64(red) - 128) / 128 * d
	}
	return gx, gy
}

// blendOver applies standard source-over compositing of warped onto base.
func blendOver(warped, base *pixelimg.Image) *pixelimg.Image {
	out := pixelimg.New(base.Width, base.Height)
	parallelRows(base.Height, func(y int) {
		for x := 0; x < base.Width; x++ {
			wr, wg, wb, wa := warped.At(x, y)
			br, bg, bb, ba := base.At(x, y)

			af := float64(wa) / 255
			bf := float64(ba) / 255

			outA := bf + af*(1-bf)

			blend := func(wc, bc uint8) uint8 {
				v := float64(wc)*af + float64(bc)*(1-af)
				return uint8(math.Round(v))
			}

			out.Set(x, y, blend(wr, br), blend(wg, bg), blend(wb, bb), uint8(math.Round(outA*255)))
		}
	})
	return out
}

// parallelRows runs fn(y) for y in [0, rows) across a fixed worker count
// (GOMAXPROCS), never depending on completion order for correctness — each
// row writes disjoint output, so scheduling nondeterminism cannot affect
// the result. A simple per-row split is used rather than 2D tiling, since
// per-pixel cost here (a displacement sample plus two bilinear fetches)
// dominates over cache-locality concerns.
func parallelRows(rows int, fn func(y int)) {
	workers := runtime.GOMAXPROCS(0)
	if workers > rows {
		workers = rows
	}
	if workers <= 1 {
		for y := 0; y < rows; y++ {
			fn(y)
		}
		return
	}

	var wg sync.WaitGroup
	chunk := (rows + workers - 1) / workers
	for w := 0; w < workers; w++ {
		start := w * chunk
		end := start + chunk
		if start >= rows {
			break
		}
		if end > rows {
			end = rows
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for y := start; y < end; y++ {
				fn(y)
			}
		}(start, end)
	}
	wg.Wait()
}

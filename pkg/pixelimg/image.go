// Package pixelimg provides the RGBA8 pixel buffer used throughout the
// mockup compositing pipeline, plus PNG/JPEG/WebP decode and encode.
package pixelimg

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"

	"github.com/deepteams/webp"
	"github.com/disintegration/imaging"
)

// Format identifies an encodable/decodable pixel format.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
	FormatWebP Format = "webp"
)

// Image is a non-premultiplied sRGB RGBA8 pixel buffer. Width*Height*4 ==
// len(Pix) is an invariant enforced by every constructor in this package.
type Image struct {
	Width  int
	Height int
	Pix    []byte // row-major, 4 bytes per pixel: R,G,B,A
}

// New allocates a transparent image of the given dimensions.
func New(width, height int) *Image {
	return &Image{
		Width:  width,
		Height: height,
		Pix:    make([]byte, 4*width*height),
	}
}

// At returns the pixel at (x, y). Out-of-bounds reads return transparent
// black so callers (the compositor's warp step in particular) don't need a
// bounds check on every sample.
func (im *Image) At(x, y int) (r, g, b, a uint8) {
	if im == nil || x < 0 || y < 0 || x >= im.Width || y >= im.Height {
		return 0, 0, 0, 0
	}
	i := (y*im.Width + x) * 4
	return im.Pix[i], im.Pix[i+1], im.Pix[i+2], im.Pix[i+3]
}

// Set writes the pixel at (x, y). Out-of-bounds writes are silently dropped.
func (im *Image) Set(x, y int, r, g, b, a uint8) {
	if x < 0 || y < 0 || x >= im.Width || y >= im.Height {
		return
	}
	i := (y*im.Width + x) * 4
	im.Pix[i], im.Pix[i+1], im.Pix[i+2], im.Pix[i+3] = r, g, b, a
}

// Clone returns a deep copy, used whenever a caller must not observe later
// mutation of a shared cached buffer.
func (im *Image) Clone() *Image {
	out := &Image{Width: im.Width, Height: im.Height, Pix: make([]byte, len(im.Pix))}
	copy(out.Pix, im.Pix)
	return out
}

// ToStdImage adapts to image.Image for interop with stdlib codecs and
// github.com/disintegration/imaging.
func (im *Image) ToStdImage() *image.RGBA {
	return &image.RGBA{
		Pix:    im.Pix,
		Stride: im.Width * 4,
		Rect:   image.Rect(0, 0, im.Width, im.Height),
	}
}

// FromStdImage converts any image.Image into an Image, normalizing to
// non-premultiplied RGBA8.
func FromStdImage(src image.Image) *Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	out := New(w, h)
	if rgba, ok := src.(*image.RGBA); ok && rgba.Rect == b {
		for y := 0; y < h; y++ {
			srcRow := rgba.Pix[y*rgba.Stride : y*rgba.Stride+w*4]
			copy(out.Pix[y*w*4:(y+1)*w*4], srcRow)
		}
		return out
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			// color.Color.RGBA() returns alpha-premultiplied components;
			// converting through NRGBAModel first undoes that so Pix keeps
			// its declared non-premultiplied invariant. Decoded images with
			// alpha come back as *image.NRGBA (or *image.Gray / *image.YCbCr
			// without alpha); the *image.RGBA fast path above is taken for
			// PNGs without an alpha channel, whose opaque pixels are the
			// same premultiplied or not. This path is the common case.
			nc := color.NRGBAModel.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			out.Set(x, y, nc.R, nc.G, nc.B, nc.A)
		}
	}
	return out
}

// Decode decodes according to contentType, which must be one of the three
// supported MIME types; the bytes themselves are not sniffed.
func Decode(r io.Reader, contentType string) (*Image, error) {
	switch contentType {
	case "image/png":
		img, err := png.Decode(r)
		if err != nil {
			return nil, fmt.Errorf("decode png: %w", err)
		}
		return FromStdImage(img), nil
	case "image/jpeg":
		img, err := imaging.Decode(r, imaging.AutoOrientation(true))
		if err != nil {
			return nil, fmt.Errorf("decode jpeg: %w", err)
		}
		return FromStdImage(img), nil
	case "image/webp":
		img, err := webp.Decode(r)
		if err != nil {
			return nil, fmt.Errorf("decode webp: %w", err)
		}
		return FromStdImage(img), nil
	default:
		return nil, fmt.Errorf("unsupported content type %q", contentType)
	}
}

// DecodeFile decodes a PNG from disk; template assets are always PNG on
// disk regardless of the design-fetch format negotiated over HTTP.
func DecodeFile(data []byte) (*Image, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode png: %w", err)
	}
	return FromStdImage(img), nil
}

// Encode renders im in the requested format. JPEG has no alpha channel, so
// it is first composited onto an opaque white background, matching the
// spec's Step D requirement. Encoding never embeds a timestamp, so output
// is byte-deterministic for identical pixels.
func Encode(im *Image, format Format) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case FormatPNG, "":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		// Pix is non-premultiplied, so hand it to the encoder as NRGBA.
		nrgba := &image.NRGBA{Pix: im.Pix, Stride: im.Width * 4, Rect: image.Rect(0, 0, im.Width, im.Height)}
		if err := enc.Encode(&buf, nrgba); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
	case FormatJPEG:
		flat := flattenOnWhite(im)
		if err := jpeg.Encode(&buf, flat, &jpeg.Options{Quality: 92}); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	case FormatWebP:
		if err := webp.Encode(&buf, im.ToStdImage(), nil); err != nil {
			return nil, fmt.Errorf("encode webp: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported encode format %q", format)
	}
	return buf.Bytes(), nil
}

func flattenOnWhite(im *Image) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, im.Width, im.Height))
	for y := 0; y < im.Height; y++ {
		for x := 0; x < im.Width; x++ {
			r, g, b, a := im.At(x, y)
			af := float64(a) / 255
			rf := float64(r)*af + 255*(1-af)
			gf := float64(g)*af + 255*(1-af)
			bf := float64(b)*af + 255*(1-af)
			out.SetRGBA(x, y, color.RGBA{
				R: uint8(rf + 0.5), G: uint8(gf + 0.5), B: uint8(bf + 0.5), A: 255,
			})
		}
	}
	return out
}

// BilinearSample samples im at fractional coordinates (fx, fy) using
// bilinear interpolation with edge clamping, returning transparent black if
// (fx, fy) lies entirely outside the image bounds.
func BilinearSample(im *Image, fx, fy float64) (r, g, b, a uint8) {
	if im.Width == 0 || im.Height == 0 {
		return 0, 0, 0, 0
	}
	if fx < -1 || fy < -1 || fx > float64(im.Width) || fy > float64(im.Height) {
		return 0, 0, 0, 0
	}

	x0f := floor(fx - 0.5)
	y0f := floor(fy - 0.5)
	tx := (fx - 0.5) - x0f
	ty := (fy - 0.5) - y0f

	x0 := clampInt(int(x0f), 0, im.Width-1)
	x1 := clampInt(int(x0f)+1, 0, im.Width-1)
	y0 := clampInt(int(y0f), 0, im.Height-1)
	y1 := clampInt(int(y0f)+1, 0, im.Height-1)

	r00, g00, b00, a00 := im.At(x0, y0)
	r10, g10, b10, a10 := im.At(x1, y0)
	r01, g01, b01, a01 := im.At(x0, y1)
	r11, g11, b11, a11 := im.At(x1, y1)

	lerp := func(v00, v10, v01, v11 uint8) uint8 {
		top := float64(v00)*(1-tx) + float64(v10)*tx
		bot := float64(v01)*(1-tx) + float64(v11)*tx
		return uint8(top*(1-ty) + bot*ty + 0.5)
	}

	return lerp(r00, r10, r01, r11), lerp(g00, g10, g01, g11), lerp(b00, b10, b01, b11), lerp(a00, a10, a01, a11)
}

func floor(v float64) float64 {
	i := int(v)
	if v < 0 && float64(i) != v {
		i--
	}
	return float64(i)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

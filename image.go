package jpegconv

import (
	"image"
	"image/color"
)

// DecodedImage is a decoded picture normalized into the working color space.
//
// Pix holds opaque linear-light RGB in the working gamut, scaled by
// 1/Headroom so that the brightest sample fits the 16-bit range.
type DecodedImage struct {
	Pix *image.RGBA64
	// Headroom is the peak linear value relative to SDR white, at least 1.
	Headroom float32
	// Profile is the native color profile of the source, nil when the source
	// carries none and the working space should be used at encode time.
	Profile *ColorProfile
	// HDR is set when the source provided extended range data.
	HDR bool
}

// Width returns the pixel width.
func (d *DecodedImage) Width() int {
	return d.Pix.Bounds().Dx()
}

// Height returns the pixel height.
func (d *DecodedImage) Height() int {
	return d.Pix.Bounds().Dy()
}

// linearImage stores linear-light RGB float32 samples, 1.0 is SDR white.
type linearImage struct {
	W, H int
	Pix  []float32
}

func newLinearImage(w, h int) *linearImage {
	return &linearImage{W: w, H: h, Pix: make([]float32, w*h*3)}
}

func (l *linearImage) At(x, y int) rgb {
	if x < 0 {
		x = 0
	}
	if y < 0 {
		y = 0
	}
	if x >= l.W {
		x = l.W - 1
	}
	if y >= l.H {
		y = l.H - 1
	}
	i := (y*l.W + x) * 3
	return rgb{r: l.Pix[i], g: l.Pix[i+1], b: l.Pix[i+2]}
}

func (l *linearImage) set(x, y int, v rgb) {
	i := (y*l.W + x) * 3
	l.Pix[i], l.Pix[i+1], l.Pix[i+2] = v.r, v.g, v.b
}

// linearFromImage decodes img through transfer tr. Alpha is dropped by
// compositing the premultiplied color over black.
func linearFromImage(img image.Image, tr ColorTransfer) *linearImage {
	b := img.Bounds()
	out := newLinearImage(b.Dx(), b.Dy())
	lut := tr.decodeLUT()

	switch src := img.(type) {
	case *image.YCbCr:
		for y := 0; y < out.H; y++ {
			for x := 0; x < out.W; x++ {
				yi := src.YOffset(b.Min.X+x, b.Min.Y+y)
				ci := src.COffset(b.Min.X+x, b.Min.Y+y)
				r, g, bb := color.YCbCrToRGB(src.Y[yi], src.Cb[ci], src.Cr[ci])
				out.set(x, y, rgb{r: lut[uint16(r)*0x101], g: lut[uint16(g)*0x101], b: lut[uint16(bb)*0x101]})
			}
		}
	case *image.RGBA64:
		for y := 0; y < out.H; y++ {
			for x := 0; x < out.W; x++ {
				c := src.RGBA64At(b.Min.X+x, b.Min.Y+y)
				out.set(x, y, rgb{r: lut[c.R], g: lut[c.G], b: lut[c.B]})
			}
		}
	default:
		for y := 0; y < out.H; y++ {
			for x := 0; x < out.W; x++ {
				r, g, bb, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
				out.set(x, y, rgb{r: lut[r], g: lut[g], b: lut[bb]})
			}
		}
	}
	return out
}

// toWorking converts linear samples from gamut into the working space and
// packs them into a DecodedImage. Negative values are clipped.
func (l *linearImage) toWorking(from ColorGamut, ws *WorkingSpace, profile *ColorProfile, hdr bool) *DecodedImage {
	m := gamutMatrix(from, ws.Profile.Gamut)

	peak := float32(1)
	for i := 0; i < len(l.Pix); i += 3 {
		v := m.apply(rgb{r: l.Pix[i], g: l.Pix[i+1], b: l.Pix[i+2]})
		if v.r < 0 {
			v.r = 0
		}
		if v.g < 0 {
			v.g = 0
		}
		if v.b < 0 {
			v.b = 0
		}
		l.Pix[i], l.Pix[i+1], l.Pix[i+2] = v.r, v.g, v.b
		if p := max3(v.r, v.g, v.b); p > peak && p < maxHeadroom {
			peak = p
		}
	}

	scale := 65535 / peak
	dst := image.NewRGBA64(image.Rect(0, 0, l.W, l.H))
	for y := 0; y < l.H; y++ {
		for x := 0; x < l.W; x++ {
			i := (y*l.W + x) * 3
			dst.SetRGBA64(x, y, color.RGBA64{
				R: quantize16(l.Pix[i] * scale),
				G: quantize16(l.Pix[i+1] * scale),
				B: quantize16(l.Pix[i+2] * scale),
				A: 0xFFFF,
			})
		}
	}

	return &DecodedImage{Pix: dst, Headroom: peak, Profile: profile, HDR: hdr && peak > 1}
}

// maxHeadroom caps the peak, samples above it (Inf, huge floats) are clipped.
const maxHeadroom = 10000.0 / 203.0

func quantize16(v float32) uint16 {
	if !(v > 0) {
		return 0
	}
	if v >= 65535 {
		return 0xFFFF
	}
	return uint16(v + 0.5)
}

// linearSample returns the linear working-space value at x, y.
func (d *DecodedImage) linearSample(x, y int) rgb {
	c := d.Pix.RGBA64At(x, y)
	s := d.Headroom / 65535
	return rgb{r: float32(c.R) * s, g: float32(c.G) * s, b: float32(c.B) * s}
}

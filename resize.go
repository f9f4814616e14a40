package jpegconv

import (
	"fmt"
	"image"
	"image/draw"
	"math"
	"strings"

	"github.com/nfnt/resize"
)

// Interpolation selects the resampling kernel.
type Interpolation int

const (
	// InterpolationNearest is nearest-neighbor sampling.
	InterpolationNearest Interpolation = iota
	// InterpolationBilinear is linear sampling.
	InterpolationBilinear
	// InterpolationBicubic is cubic sampling.
	InterpolationBicubic
	// InterpolationMitchellNetravali is Mitchell-Netravali sampling.
	InterpolationMitchellNetravali
	// InterpolationLanczos2 is Lanczos sampling with a=2.
	InterpolationLanczos2
	// InterpolationLanczos3 is Lanczos sampling with a=3.
	InterpolationLanczos3
)

var interpolationNames = map[string]Interpolation{
	"nearest":  InterpolationNearest,
	"bilinear": InterpolationBilinear,
	"bicubic":  InterpolationBicubic,
	"mitchell": InterpolationMitchellNetravali,
	"lanczos2": InterpolationLanczos2,
	"lanczos3": InterpolationLanczos3,
}

// ParseInterpolation resolves a kernel name such as "lanczos3".
func ParseInterpolation(name string) (Interpolation, error) {
	if i, ok := interpolationNames[strings.ToLower(strings.TrimSpace(name))]; ok {
		return i, nil
	}
	return 0, fmt.Errorf("%w: unknown interpolation %q", ErrInvalidParameter, name)
}

func (i Interpolation) String() string {
	for name, v := range interpolationNames {
		if v == i {
			return name
		}
	}
	return "unknown"
}

func (i Interpolation) function() resize.InterpolationFunction {
	switch i {
	case InterpolationNearest:
		return resize.NearestNeighbor
	case InterpolationBilinear:
		return resize.Bilinear
	case InterpolationBicubic:
		return resize.Bicubic
	case InterpolationMitchellNetravali:
		return resize.MitchellNetravali
	case InterpolationLanczos2:
		return resize.Lanczos2
	default:
		return resize.Lanczos3
	}
}

// TargetSize returns the extent for scaling w x h to the target width,
// preserving aspect ratio. Original width returns the input extent.
func TargetSize(w, h int, width Width) (int, int, error) {
	if width.IsOriginal() {
		return w, h, nil
	}
	if w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("%w: empty source %dx%d", ErrInvalidParameter, w, h)
	}
	tw := width.Value()
	th := int(math.Round(float64(h) * float64(tw) / float64(w)))
	if th <= 0 {
		return 0, 0, fmt.Errorf("%w: width %d gives zero height for %dx%d", ErrInvalidParameter, tw, w, h)
	}
	return tw, th, nil
}

// Resample scales img uniformly to the target width. Original width and a
// width equal to the current one return img unchanged. Filtering happens on
// linear-light samples.
func Resample(img *DecodedImage, width Width, interp Interpolation) (*DecodedImage, error) {
	w, h := img.Width(), img.Height()
	tw, th, err := TargetSize(w, h, width)
	if err != nil {
		return nil, err
	}
	if tw == w && th == h {
		return img, nil
	}

	scaled := resize.Resize(uint(tw), uint(th), img.Pix, interp.function())
	pix, ok := scaled.(*image.RGBA64)
	if !ok {
		pix = image.NewRGBA64(image.Rect(0, 0, tw, th))
		draw.Draw(pix, pix.Bounds(), scaled, scaled.Bounds().Min, draw.Src)
	}

	return &DecodedImage{
		Pix:      pix,
		Headroom: img.Headroom,
		Profile:  img.Profile,
		HDR:      img.HDR,
	}, nil
}

package jpegconv

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"

	"github.com/vearutop/jpegconv/internal/jpegx"
)

var errNoGainMap = errors.New("no gain map")

type gainMapParts struct {
	primary []byte
	gainMap []byte
	meta    *GainMapMetadata
}

// splitGainMap locates the primary image and the gain map of an UltraHDR
// (JPEG/R) container and parses the gain map metadata, ISO 21496-1 first.
func splitGainMap(data []byte) (*gainMapParts, error) {
	ranges, err := jpegx.ScanImages(data)
	if err != nil {
		return nil, err
	}
	if len(ranges) < 2 {
		return nil, errNoGainMap
	}

	primary := data[ranges[0].Start:ranges[0].End]
	for _, rg := range ranges[1:] {
		gm := data[rg.Start:rg.End]
		app1, app2, err := jpegx.AppSegments(gm)
		if err != nil {
			continue
		}
		if iso := jpegx.FindPrefixed(app2, isoPrefix); iso != nil {
			meta, err := decodeISOMetadata(iso[len(isoPrefix):])
			if err != nil {
				return nil, fmt.Errorf("iso metadata: %w", err)
			}
			return &gainMapParts{primary: primary, gainMap: gm, meta: meta}, nil
		}
		if xmp := jpegx.FindPrefixed(app1, xmpPrefix); xmp != nil {
			meta, err := parseXMP(xmp)
			if err != nil {
				return nil, fmt.Errorf("xmp metadata: %w", err)
			}
			return &gainMapParts{primary: primary, gainMap: gm, meta: meta}, nil
		}
	}
	return nil, errNoGainMap
}

// gainWeight maps the display boost to the gain map application weight.
// A zero maxBoost means the full HDR capacity from metadata.
func gainWeight(meta *GainMapMetadata, maxBoost float32) float32 {
	if maxBoost <= 0 {
		maxBoost = meta.HDRCapacityMax
	}
	if maxBoost < 1 {
		maxBoost = 1
	}
	lo, hi := log2f(meta.HDRCapacityMin), log2f(meta.HDRCapacityMax)
	if hi <= lo {
		if maxBoost >= meta.HDRCapacityMax {
			return 1
		}
		return 0
	}
	return clamp01((log2f(maxBoost) - lo) / (hi - lo))
}

// applyGain recovers HDR linear values from SDR linear e and normalized gain g.
func applyGain(e, g rgb, meta *GainMapMetadata, weight float32) rgb {
	gains := [3]float32{g.r, g.g, g.b}
	in := [3]float32{e.r, e.g, e.b}
	var out [3]float32
	for i := 0; i < 3; i++ {
		gain := gains[i]
		if meta.Gamma[i] != 1 {
			gain = float32(math.Pow(float64(gain), float64(1/meta.Gamma[i])))
		}
		logBoost := log2f(meta.MinContentBoost[i])*(1-gain) + log2f(meta.MaxContentBoost[i])*gain
		out[i] = (in[i]+meta.OffsetSDR[i])*exp2f(logBoost*weight) - meta.OffsetHDR[i]
	}
	return rgb{r: out[0], g: out[1], b: out[2]}
}

// gainPlane holds normalized gain map samples, three per pixel.
type gainPlane struct {
	w, h int
	v    []float32
}

func newGainPlane(img image.Image) *gainPlane {
	b := img.Bounds()
	p := &gainPlane{w: b.Dx(), h: b.Dy(), v: make([]float32, b.Dx()*b.Dy()*3)}

	switch src := img.(type) {
	case *image.Gray:
		for y := 0; y < p.h; y++ {
			row := src.Pix[(y+b.Min.Y-src.Rect.Min.Y)*src.Stride+b.Min.X-src.Rect.Min.X:]
			for x := 0; x < p.w; x++ {
				i := (y*p.w + x) * 3
				v := float32(row[x]) / 255
				p.v[i], p.v[i+1], p.v[i+2] = v, v, v
			}
		}
	default:
		for y := 0; y < p.h; y++ {
			for x := 0; x < p.w; x++ {
				i := (y*p.w + x) * 3
				c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
				p.v[i], p.v[i+1], p.v[i+2] = float32(c.R)/255, float32(c.G)/255, float32(c.B)/255
			}
		}
	}
	return p
}

// sample returns the bilinearly interpolated gain at normalized coordinates.
func (p *gainPlane) sample(u, v float32) rgb {
	fx := u*float32(p.w) - 0.5
	fy := v*float32(p.h) - 0.5
	x0, y0 := int(math.Floor(float64(fx))), int(math.Floor(float64(fy)))
	tx, ty := fx-float32(x0), fy-float32(y0)

	at := func(x, y int) rgb {
		x = min(max(x, 0), p.w-1)
		y = min(max(y, 0), p.h-1)
		i := (y*p.w + x) * 3
		return rgb{r: p.v[i], g: p.v[i+1], b: p.v[i+2]}
	}
	lerp := func(a, b rgb, t float32) rgb {
		return rgb{r: a.r + (b.r-a.r)*t, g: a.g + (b.g-a.g)*t, b: a.b + (b.b-a.b)*t}
	}
	top := lerp(at(x0, y0), at(x0+1, y0), tx)
	bottom := lerp(at(x0, y0+1), at(x0+1, y0+1), tx)
	return lerp(top, bottom, ty)
}

// expandGainMap decodes an UltraHDR container into linear HDR samples in
// the primary image gamut.
func expandGainMap(data []byte, maxBoost float32) (*linearImage, ColorProfile, error) {
	parts, err := splitGainMap(data)
	if err != nil {
		return nil, ColorProfile{}, err
	}

	base, err := jpeg.Decode(bytes.NewReader(parts.primary))
	if err != nil {
		return nil, ColorProfile{}, fmt.Errorf("decode primary: %w", err)
	}
	gm, err := jpeg.Decode(bytes.NewReader(parts.gainMap))
	if err != nil {
		return nil, ColorProfile{}, fmt.Errorf("decode gain map: %w", err)
	}

	icc, err := jpegx.ICCProfile(parts.primary)
	if err != nil {
		return nil, ColorProfile{}, err
	}
	profile := detectColorProfile(icc)

	lin := linearFromImage(base, profile.Transfer)
	plane := newGainPlane(gm)
	weight := gainWeight(parts.meta, maxBoost)

	for y := 0; y < lin.H; y++ {
		v := (float32(y) + 0.5) / float32(lin.H)
		for x := 0; x < lin.W; x++ {
			u := (float32(x) + 0.5) / float32(lin.W)
			lin.set(x, y, applyGain(lin.At(x, y), plane.sample(u, v), parts.meta, weight))
		}
	}
	return lin, profile, nil
}

package jpegconv

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/vearutop/jpegconv/internal/jpegx"
)

// ToneMap selects how values above SDR white are brought into range.
type ToneMap int

const (
	// ToneMapReinhard compresses highlights with extended Reinhard on max(R,G,B).
	ToneMapReinhard ToneMap = iota
	// ToneMapClip clips everything above SDR white.
	ToneMapClip
)

// ParseToneMap resolves "reinhard" or "clip".
func ParseToneMap(name string) (ToneMap, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "reinhard":
		return ToneMapReinhard, nil
	case "clip":
		return ToneMapClip, nil
	}
	return 0, fmt.Errorf("%w: unknown tone map %q", ErrInvalidParameter, name)
}

func (t ToneMap) String() string {
	if t == ToneMapClip {
		return "clip"
	}
	return "reinhard"
}

// EncodeOptions controls JPEG output.
type EncodeOptions struct {
	ToneMap     ToneMap
	Progressive bool
}

// Encoder renders DecodedImage values to JPEG. It is safe for concurrent use.
type Encoder struct {
	ws  *WorkingSpace
	opt EncodeOptions
}

// NewEncoder creates an encoder that falls back to ws for images without a profile.
func NewEncoder(ws *WorkingSpace, opt EncodeOptions) *Encoder {
	return &Encoder{ws: ws, opt: opt}
}

// OutputProfile returns the profile img is encoded with.
func (e *Encoder) OutputProfile(img *DecodedImage) ColorProfile {
	if img.Profile != nil {
		return *img.Profile
	}
	return e.ws.Profile
}

// Encode renders img as JPEG at quality q in (0, 1].
func (e *Encoder) Encode(img *DecodedImage, q float64) ([]byte, error) {
	if err := ValidateQuality(q); err != nil {
		return nil, err
	}

	out := e.OutputProfile(img)
	rgba := e.render(img, out)

	segs, err := jpegx.ICCSegments(out.ICC)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}

	data, err := jpegx.Encode(rgba, jpegx.EncoderOptions{
		Quality:     jpegQuality(q),
		Progressive: e.opt.Progressive,
		Segments:    segs,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return data, nil
}

// render tone maps HDR sources, converts to the output gamut and applies its
// transfer. SDR values outside the output gamut are clipped.
func (e *Encoder) render(img *DecodedImage, out ColorProfile) *image.RGBA {
	m := gamutMatrix(e.ws.Profile.Gamut, out.Gamut)
	lut := out.Transfer.encodeLUT()
	peak := img.Headroom
	toneMap := img.HDR && peak > 1
	w, h := img.Width(), img.Height()
	b := img.Pix.Bounds()

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		row := dst.Pix[y*dst.Stride:]
		for x := 0; x < w; x++ {
			v := img.linearSample(b.Min.X+x, b.Min.Y+y)
			if toneMap {
				v = e.toneMap(v, peak)
			}
			v = m.apply(v)
			i := x * 4
			row[i] = lut[quantize16(clamp01(v.r)*65535)]
			row[i+1] = lut[quantize16(clamp01(v.g)*65535)]
			row[i+2] = lut[quantize16(clamp01(v.b)*65535)]
			row[i+3] = 0xFF
		}
	}
	return dst
}

func (e *Encoder) toneMap(v rgb, peak float32) rgb {
	if e.opt.ToneMap == ToneMapClip {
		return v
	}
	l := max3(v.r, v.g, v.b)
	if l <= 0 {
		return v
	}
	s := (1 + l/(peak*peak)) / (1 + l)
	return rgb{r: v.r * s, g: v.g * s, b: v.b * s}
}

// WriteFile writes data to path atomically, creating missing directories.
func WriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create output directory: %v", ErrEncode, err)
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncode, err)
	}
	tmp := f.Name()
	defer func() {
		if tmp != "" {
			_ = os.Remove(tmp)
		}
	}()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: write: %v", ErrEncode, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close: %v", ErrEncode, err)
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		return fmt.Errorf("%w: %v", ErrEncode, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("%w: rename: %v", ErrEncode, err)
	}
	tmp = ""
	return nil
}

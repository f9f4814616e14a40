package jpegconv

import (
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHalfToFloat32(t *testing.T) {
	for h, want := range map[uint16]float32{
		0x0000: 0,
		0x3C00: 1,
		0x4000: 2,
		0xC000: -2,
		0x3800: 0.5,
		0x0001: 5.9604645e-08,
		0x7BFF: 65504,
	} {
		assert.Equal(t, want, halfToFloat32(h), "%#04x", h)
	}
	assert.True(t, math.IsInf(float64(halfToFloat32(0x7C00)), 1))
}

func exrGradient(x, y int) [3]uint16 {
	// Red 1.0, green 2.0, blue 0.5 or 1.0 by row.
	b := uint16(0x3800)
	if y%2 == 1 {
		b = 0x3C00
	}
	if x == 0 && y == 0 {
		return [3]uint16{0x4400, 0x4000, b} // red 4.0
	}
	return [3]uint16{0x3C00, 0x4000, b}
}

func TestDecodeEXR(t *testing.T) {
	for _, zip := range []bool{false, true} {
		img, err := decodeEXR(openEXR(6, 3, exrGradient, zip))
		require.NoError(t, err)
		assert.Equal(t, 6, img.W)
		assert.Equal(t, 3, img.H)
		assert.Equal(t, rgb{r: 4, g: 2, b: 0.5}, img.At(0, 0))
		assert.Equal(t, rgb{r: 1, g: 2, b: 0.5}, img.At(5, 0))
		assert.Equal(t, rgb{r: 1, g: 2, b: 1}, img.At(3, 1))
	}
}

func TestDecodeEXR_invalid(t *testing.T) {
	data := openEXR(2, 2, exrGradient, false)

	tiled := append([]byte(nil), data...)
	tiled[5] |= exrFlagTiled >> 8
	_, err := decodeEXR(tiled)
	assert.Error(t, err)

	_, err = decodeEXR(data[:len(data)-4])
	assert.Error(t, err)

	assert.False(t, isEXR([]byte("\x89PNG")))
	assert.True(t, isEXR(data))
}

func TestDecodeEXR_oversizedWindow(t *testing.T) {
	for name, tc := range map[string]struct {
		window [4]int32
		zip    bool
	}{
		"wide":          {window: [4]int32{0, 0, 0x3FFFFFFF, 0}},
		"wide zip":      {window: [4]int32{0, 0, 0x3FFFFFFF, 0}, zip: true},
		"tall":          {window: [4]int32{0, 0, 0, 0x3FFFFFFF}},
		"tall zip":      {window: [4]int32{0, 0, 0, 0x3FFFFFFF}, zip: true},
		"int32 overrun": {window: [4]int32{math.MinInt32, 0, math.MaxInt32, 0}},
		"both overrun":  {window: [4]int32{math.MinInt32, math.MinInt32, math.MaxInt32, math.MaxInt32}},
		"zip ratio":     {window: [4]int32{0, 0, 1<<20 - 1, 0}, zip: true},
	} {
		t.Run(name, func(t *testing.T) {
			data := withEXRWindow(openEXR(1, 1, exrGradient, tc.zip), tc.window)
			_, err := decodeEXR(data)
			assert.Error(t, err)
		})
	}
}

func TestDecoder_openEXR(t *testing.T) {
	ws, err := NewWorkingSpace(WorkingSRGB)
	require.NoError(t, err)
	p := writeFile(t, t.TempDir(), "scene.exr", openEXR(6, 3, exrGradient, true))

	img, err := NewDecoder(ws, DecodeOptions{ExpandHDR: true}, zerolog.Nop()).Decode(Candidate{Path: p, Ext: "exr"})
	require.NoError(t, err)
	assert.True(t, img.HDR)
	assert.Nil(t, img.Profile, "scene-linear data uses the working space")
	assert.InDelta(t, 4, img.Headroom, 0.01)

	v := img.linearSample(5, 1)
	assert.InDelta(t, 1, v.r, 0.01)
	assert.InDelta(t, 2, v.g, 0.01)
	assert.InDelta(t, 1, v.b, 0.01)
}

package jpegconv

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"hash/crc32"
	"image/color"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	xtiff "golang.org/x/image/tiff"

	"github.com/vearutop/jpegconv/internal/jpegx"
)

func testDecoder(t *testing.T) *Decoder {
	t.Helper()

	ws, err := NewWorkingSpace(WorkingBT2100)
	require.NoError(t, err)
	return NewDecoder(ws, DecodeOptions{ExpandHDR: true}, zerolog.Nop())
}

// withICCP inserts an iCCP chunk right after IHDR.
func withICCP(t *testing.T, data, icc []byte) []byte {
	t.Helper()

	var z bytes.Buffer
	zw := zlib.NewWriter(&z)
	_, err := zw.Write(icc)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	body := append([]byte("icc\x00\x00"), z.Bytes()...)
	chunk := binary.BigEndian.AppendUint32(nil, uint32(len(body)))
	chunk = append(chunk, "iCCP"...)
	chunk = append(chunk, body...)
	chunk = binary.BigEndian.AppendUint32(chunk, crc32.ChecksumIEEE(chunk[4:]))

	const ihdrEnd = 8 + 12 + 13
	out := append([]byte(nil), data[:ihdrEnd]...)
	out = append(out, chunk...)
	return append(out, data[ihdrEnd:]...)
}

func TestDecoder_pngWithProfile(t *testing.T) {
	icc, err := synthesizeICC("Display P3", GamutDisplayP3)
	require.NoError(t, err)
	dir := t.TempDir()
	p := writeFile(t, dir, "p3.png", withICCP(t, pngBytes(t, texture(12, 8)), icc))

	img, err := testDecoder(t).Decode(Candidate{Path: p, Ext: "png"})
	require.NoError(t, err)
	require.NotNil(t, img.Profile)
	assert.Equal(t, GamutDisplayP3, img.Profile.Gamut)
	assert.Equal(t, icc, img.Profile.ICC)
	assert.False(t, img.HDR)
	assert.Equal(t, 12, img.Width())
}

func TestDecoder_jpegWithProfile(t *testing.T) {
	icc, err := synthesizeICC("Display P3", GamutDisplayP3)
	require.NoError(t, err)
	segs, err := jpegx.ICCSegments(icc)
	require.NoError(t, err)
	p := writeFile(t, t.TempDir(), "p3.jpg", jpegBytes(t, texture(12, 8), segs...))

	img, err := testDecoder(t).Decode(Candidate{Path: p, Ext: "jpg"})
	require.NoError(t, err)
	assert.Equal(t, GamutDisplayP3, img.Profile.Gamut)
}

func TestDecoder_tiff(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, xtiff.Encode(&buf, texture(9, 7), nil))
	p := writeFile(t, t.TempDir(), "scan.tiff", buf.Bytes())

	img, err := testDecoder(t).Decode(Candidate{Path: p, Ext: "tiff"})
	require.NoError(t, err)
	assert.Equal(t, 9, img.Width())
	assert.Equal(t, 7, img.Height())
	assert.Equal(t, "sRGB", img.Profile.Name)
}

func TestDecoder_rawPreview(t *testing.T) {
	// Grey preview with a red block in the stored top-left corner.
	src := flat(16, 8, color.RGBA{R: 128, G: 128, B: 128, A: 0xFF})
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			src.Set(x, y, color.RGBA{R: 200, G: 40, B: 40, A: 0xFF})
		}
	}
	preview := jpegBytes(t, src)
	dir := t.TempDir()

	const (
		topLeft = iota
		topRight
		bottomLeft
		bottomRight
	)

	for orientation, want := range map[uint16]struct {
		size   [2]int
		corner int
	}{
		1: {size: [2]int{16, 8}, corner: topLeft},
		2: {size: [2]int{16, 8}, corner: topRight},
		3: {size: [2]int{16, 8}, corner: bottomRight},
		4: {size: [2]int{16, 8}, corner: bottomLeft},
		5: {size: [2]int{8, 16}, corner: topLeft},
		6: {size: [2]int{8, 16}, corner: topRight},
		7: {size: [2]int{8, 16}, corner: bottomRight},
		8: {size: [2]int{8, 16}, corner: bottomLeft},
	} {
		p := writeFile(t, dir, "cam.dng", rawContainer(preview, orientation))

		img, err := testDecoder(t).Decode(Candidate{Path: p, Ext: "dng", Strategy: StrategyRAW})
		require.NoError(t, err, orientation)

		w, h := img.Width(), img.Height()
		require.Equal(t, want.size, [2]int{w, h}, orientation)

		b := img.Pix.Bounds()
		corners := [4][2]int{
			topLeft:     {1, 1},
			topRight:    {w - 2, 1},
			bottomLeft:  {1, h - 2},
			bottomRight: {w - 2, h - 2},
		}
		for i, c := range corners {
			v := img.linearSample(b.Min.X+c[0], b.Min.Y+c[1])
			assert.Equal(t, i == want.corner, v.r > 2*v.g, "orientation %d corner %d: %+v", orientation, i, v)
		}
	}
}

func TestDecoder_rawWithoutIFD(t *testing.T) {
	// Previews are still found when the container is not a parsable TIFF.
	preview := jpegBytes(t, flat(6, 2, color.Gray{Y: 90}))
	data := append([]byte("VENDOR-RAW\x00\x01\x02"), preview...)
	data = append(data, make([]byte, 64)...)
	p := writeFile(t, t.TempDir(), "cam.arw", data)

	img, err := testDecoder(t).Decode(Candidate{Path: p, Ext: "arw", Strategy: StrategyRAW})
	require.NoError(t, err)
	assert.Equal(t, 6, img.Width())
}

func TestDecoder_corrupt(t *testing.T) {
	dir := t.TempDir()
	d := testDecoder(t)

	for _, c := range []Candidate{
		{Path: writeFile(t, dir, "bad.dng", []byte("definitely not a raw file")), Ext: "dng", Strategy: StrategyRAW},
		{Path: writeFile(t, dir, "bad.png", []byte("\x89PNG\r\n\x1a\nbroken")), Ext: "png"},
		{Path: writeFile(t, dir, "bad.exr", []byte{0x76, 0x2f, 0x31, 0x01, 2, 0, 0, 0}), Ext: "exr"},
		{Path: writeFile(t, dir, "empty.jpg", nil), Ext: "jpg"},
	} {
		_, err := d.Decode(c)
		assert.ErrorIs(t, err, ErrDecode, c.Path)
	}
}

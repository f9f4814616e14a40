package jpegconv

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vearutop/jpegconv/internal/jpegx"
)

// texture returns an opaque image with enough detail for quality to matter.
func texture(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(x * 255 / max(w-1, 1)),
				G: uint8((x*y*31 + x*7) % 256),
				B: uint8((x ^ y) * 9),
				A: 0xFF,
			})
		}
	}
	return img
}

func flat(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func jpegBytes(t *testing.T, img image.Image, segs ...jpegx.Segment) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))
	data, err := jpegx.InsertSegments(buf.Bytes(), segs)
	require.NoError(t, err)
	return data
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()

	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, data, 0o600))
	return p
}

// ultraHDR concatenates a white primary with a gain map described by XMP.
func ultraHDR(t *testing.T, w, h int) []byte {
	t.Helper()

	primary := jpegBytes(t, flat(w, h, color.White))

	xmp := append([]byte(nil), xmpPrefix...)
	xmp = append(xmp, []byte(`<x:xmpmeta xmlns:x="adobe:ns:meta/"><rdf:RDF><rdf:Description `+
		`hdrgm:Version="1.0" hdrgm:GainMapMin="0" hdrgm:GainMapMax="2" hdrgm:Gamma="1" `+
		`hdrgm:OffsetSDR="0.015625" hdrgm:OffsetHDR="0.015625" `+
		`hdrgm:HDRCapacityMin="0" hdrgm:HDRCapacityMax="2" hdrgm:BaseRenditionIsHDR="False"/>`+
		`</rdf:RDF></x:xmpmeta>`)...)
	gainMap := jpegBytes(t, flat(w/2, h/2, color.White), jpegx.Segment{Marker: jpegx.MarkerAPP1, Payload: xmp})

	return append(primary, gainMap...)
}

type exrAttr struct {
	name, typ string
	value     []byte
}

// openEXR builds a single-part scanline file with half-float B, G, R channels.
// With zip set every scanline is stored ZIPS compressed.
func openEXR(w, h int, pixel func(x, y int) [3]uint16, zip bool) []byte {
	le := binary.LittleEndian

	var chlist bytes.Buffer
	for _, name := range []string{"B", "G", "R"} {
		chlist.WriteString(name)
		chlist.WriteByte(0)
		_ = binary.Write(&chlist, le, int32(exrPixelHalf))
		chlist.Write([]byte{0, 0, 0, 0})
		_ = binary.Write(&chlist, le, [2]int32{1, 1})
	}
	chlist.WriteByte(0)

	window := make([]byte, 16)
	le.PutUint32(window[8:], uint32(w-1))
	le.PutUint32(window[12:], uint32(h-1))

	compression := byte(exrCompressionNone)
	if zip {
		compression = exrCompressionZips
	}

	var out bytes.Buffer
	_ = binary.Write(&out, le, [2]uint32{exrMagic, 2})
	for _, a := range []exrAttr{
		{"channels", "chlist", chlist.Bytes()},
		{"compression", "compression", []byte{compression}},
		{"dataWindow", "box2i", window},
		{"displayWindow", "box2i", window},
		{"lineOrder", "lineOrder", []byte{0}},
	} {
		out.WriteString(a.name)
		out.WriteByte(0)
		out.WriteString(a.typ)
		out.WriteByte(0)
		_ = binary.Write(&out, le, int32(len(a.value)))
		out.Write(a.value)
	}
	out.WriteByte(0)

	lines := make([][]byte, h)
	for y := 0; y < h; y++ {
		var line bytes.Buffer
		for c := 2; c >= 0; c-- { // B, G, R
			for x := 0; x < w; x++ {
				_ = binary.Write(&line, le, pixel(x, y)[c])
			}
		}
		lines[y] = line.Bytes()
		if zip {
			lines[y] = exrCompress(lines[y])
		}
	}

	pos := out.Len() + 8*h
	for y := 0; y < h; y++ {
		_ = binary.Write(&out, le, uint64(pos))
		pos += 8 + len(lines[y])
	}
	for y := 0; y < h; y++ {
		_ = binary.Write(&out, le, [2]int32{int32(y), int32(len(lines[y]))})
		out.Write(lines[y])
	}
	return out.Bytes()
}

// withEXRWindow rewrites the dataWindow attribute of a file built by openEXR.
func withEXRWindow(data []byte, window [4]int32) []byte {
	out := append([]byte(nil), data...)
	i := bytes.Index(out, []byte("dataWindow\x00box2i\x00"))
	if i < 0 {
		panic("no dataWindow attribute")
	}
	payload := out[i+len("dataWindow\x00box2i\x00")+4:]
	for k, v := range window {
		binary.LittleEndian.PutUint32(payload[k*4:], uint32(v))
	}
	return out
}

// exrCompress applies the byte split, delta predictor and zlib of ZIP compression.
func exrCompress(raw []byte) []byte {
	split := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i += 2 {
		split = append(split, raw[i])
	}
	for i := 1; i < len(raw); i += 2 {
		split = append(split, raw[i])
	}
	for i := len(split) - 1; i > 0; i-- {
		split[i] = byte(int(split[i]) - int(split[i-1]) + 128)
	}

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	_, _ = zw.Write(split)
	_ = zw.Close()
	return buf.Bytes()
}

// rawContainer builds a little-endian TIFF whose IFD0 points at an embedded
// JPEG preview and carries an orientation tag.
func rawContainer(preview []byte, orientation uint16) []byte {
	le := binary.LittleEndian

	const entries = 3
	ifdSize := 2 + entries*12 + 4
	previewOffset := 8 + ifdSize

	var out bytes.Buffer
	out.Write([]byte{'I', 'I', 42, 0})
	_ = binary.Write(&out, le, uint32(8))
	_ = binary.Write(&out, le, uint16(entries))

	entry := func(tag, typ uint16, count, value uint32) {
		_ = binary.Write(&out, le, tag)
		_ = binary.Write(&out, le, typ)
		_ = binary.Write(&out, le, count)
		if typ == 3 {
			_ = binary.Write(&out, le, [2]uint16{uint16(value), 0})
			return
		}
		_ = binary.Write(&out, le, value)
	}
	entry(0x0112, 3, 1, uint32(orientation))
	entry(tagJPEGOffset, 4, 1, uint32(previewOffset))
	entry(tagJPEGLength, 4, 1, uint32(len(preview)))
	_ = binary.Write(&out, le, uint32(0))

	out.Write(preview)
	return out.Bytes()
}

func decodeConfig(t *testing.T, path string) image.Config {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	require.NoError(t, err)
	require.Equal(t, "jpeg", format)
	return cfg
}

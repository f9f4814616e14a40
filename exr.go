package jpegconv

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
)

const exrMagic = 20000630

const (
	exrFlagTiled     = 0x200
	exrFlagLongNames = 0x400
	exrFlagDeep      = 0x800
	exrFlagMultipart = 0x1000
)

// Limits checked against the header before any pixel buffer is allocated.
const (
	exrMaxPixels = 1 << 26
	// exrMaxZipRatio bounds how much a zlib stream can expand.
	exrMaxZipRatio = 1032
)

const (
	exrCompressionNone = 0
	exrCompressionZips = 2
	exrCompressionZip  = 3
)

const (
	exrPixelUint  = 0
	exrPixelHalf  = 1
	exrPixelFloat = 2
)

// Channel roles, -1 means the channel is skipped.
const (
	exrRoleSkip = -1
	exrRoleR    = 0
	exrRoleG    = 1
	exrRoleB    = 2
	exrRoleY    = 3
)

type exrChannel struct {
	name      string
	pixelType int32
	sampling  [2]int32
	role      int
}

func (c exrChannel) bytesPerSample() int {
	if c.pixelType == exrPixelHalf {
		return 2
	}
	return 4
}

type exrHeader struct {
	channels    []exrChannel
	dataWindow  [4]int32
	compression byte
}

func (h *exrHeader) size() (int, int) {
	w := int64(h.dataWindow[2]) - int64(h.dataWindow[0]) + 1
	ht := int64(h.dataWindow[3]) - int64(h.dataWindow[1]) + 1
	return int(w), int(ht)
}

func (h *exrHeader) bytesPerPixel() int {
	n := 0
	for _, ch := range h.channels {
		n += ch.bytesPerSample()
	}
	return n
}

// linesPerBlock returns the scanlines stored per chunk for the compression.
func (h *exrHeader) linesPerBlock() int {
	if h.compression == exrCompressionZip {
		return 16
	}
	return 1
}

func isEXR(data []byte) bool {
	return len(data) >= 4 && binary.LittleEndian.Uint32(data) == exrMagic
}

// decodeEXR reads a single-part scanline OpenEXR file into linear Rec.709 samples.
func decodeEXR(data []byte) (*linearImage, error) {
	r := bytes.NewReader(data)
	h, err := readEXRHeader(r)
	if err != nil {
		return nil, err
	}

	width, height := h.size()
	if width <= 0 || height <= 0 {
		return nil, errors.New("invalid OpenEXR dimensions")
	}
	if width > exrMaxPixels || height > exrMaxPixels || int64(width)*int64(height) > exrMaxPixels {
		return nil, fmt.Errorf("OpenEXR image %dx%d is too large", width, height)
	}

	lines := h.linesPerBlock()
	blocks := (height + lines - 1) / lines
	if int64(blocks)*8 > int64(r.Len()) {
		return nil, errors.New("OpenEXR offset table exceeds file size")
	}
	payload := int64(width) * int64(height) * int64(h.bytesPerPixel())
	limit := int64(r.Len())
	if h.compression != exrCompressionNone {
		limit *= exrMaxZipRatio
	}
	if payload > limit {
		return nil, errors.New("OpenEXR pixel data exceeds file size")
	}
	offsets := make([]uint64, blocks)
	if err := binary.Read(r, binary.LittleEndian, offsets); err != nil {
		return nil, fmt.Errorf("read offset table: %w", err)
	}

	img := newLinearImage(width, height)
	for _, off := range offsets {
		if off == 0 {
			continue
		}
		if err := decodeEXRBlock(r, h, int64(off), img); err != nil {
			return nil, err
		}
	}
	return img, nil
}

func readEXRHeader(r *bytes.Reader) (*exrHeader, error) {
	var pre [2]uint32
	if err := binary.Read(r, binary.LittleEndian, &pre); err != nil {
		return nil, err
	}
	if pre[0] != exrMagic {
		return nil, errors.New("not an OpenEXR file")
	}
	switch {
	case pre[1]&exrFlagTiled != 0:
		return nil, errors.New("tiled OpenEXR not supported")
	case pre[1]&exrFlagDeep != 0:
		return nil, errors.New("deep OpenEXR not supported")
	case pre[1]&exrFlagMultipart != 0:
		return nil, errors.New("multipart OpenEXR not supported")
	}

	h := &exrHeader{compression: exrCompressionNone}
	hasWindow := false
	for {
		name, err := readCString(r)
		if err != nil {
			return nil, err
		}
		if name == "" {
			break
		}
		typ, err := readCString(r)
		if err != nil {
			return nil, err
		}
		var size int32
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return nil, err
		}
		if size < 0 || int64(size) > int64(r.Len()) {
			return nil, errors.New("invalid OpenEXR attribute size")
		}
		payload := make([]byte, size)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}

		switch name {
		case "channels":
			if typ != "chlist" {
				return nil, errors.New("unexpected channels attribute type")
			}
			if h.channels, err = parseEXRChannels(payload); err != nil {
				return nil, err
			}
		case "dataWindow":
			if typ != "box2i" || len(payload) != 16 {
				return nil, errors.New("invalid dataWindow attribute")
			}
			for i := range h.dataWindow {
				h.dataWindow[i] = int32(binary.LittleEndian.Uint32(payload[i*4:]))
			}
			hasWindow = true
		case "compression":
			if typ != "compression" || len(payload) < 1 {
				return nil, errors.New("invalid compression attribute")
			}
			h.compression = payload[0]
		case "tiles":
			return nil, errors.New("tiled OpenEXR not supported")
		}
	}

	if !hasWindow {
		return nil, errors.New("OpenEXR missing dataWindow")
	}
	colored := false
	for _, ch := range h.channels {
		if ch.sampling != [2]int32{1, 1} {
			return nil, errors.New("OpenEXR subsampled channels are not supported")
		}
		colored = colored || ch.role != exrRoleSkip
	}
	if !colored {
		return nil, errors.New("OpenEXR missing R/G/B or Y channels")
	}
	switch h.compression {
	case exrCompressionNone, exrCompressionZips, exrCompressionZip:
	default:
		return nil, fmt.Errorf("unsupported OpenEXR compression %d", h.compression)
	}
	return h, nil
}

func parseEXRChannels(data []byte) ([]exrChannel, error) {
	r := bytes.NewReader(data)
	var channels []exrChannel
	for {
		name, err := readCString(r)
		if err != nil {
			return nil, err
		}
		if name == "" {
			return channels, nil
		}
		// pixel type, pLinear + 3 reserved bytes, x and y sampling.
		var rec struct {
			PixelType int32
			Linear    [4]byte
			Sampling  [2]int32
		}
		if err := binary.Read(r, binary.LittleEndian, &rec); err != nil {
			return nil, err
		}
		if rec.PixelType != exrPixelHalf && rec.PixelType != exrPixelFloat && rec.PixelType != exrPixelUint {
			return nil, fmt.Errorf("unsupported OpenEXR pixel type %d", rec.PixelType)
		}
		role := exrRoleSkip
		switch strings.ToUpper(name) {
		case "R":
			role = exrRoleR
		case "G":
			role = exrRoleG
		case "B":
			role = exrRoleB
		case "Y":
			role = exrRoleY
		}
		channels = append(channels, exrChannel{name: name, pixelType: rec.PixelType, sampling: rec.Sampling, role: role})
	}
}

func decodeEXRBlock(r *bytes.Reader, h *exrHeader, offset int64, dst *linearImage) error {
	if _, err := r.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	var chunk struct {
		Y    int32
		Size int32
	}
	if err := binary.Read(r, binary.LittleEndian, &chunk); err != nil {
		return err
	}
	if chunk.Size < 0 || int64(chunk.Size) > int64(r.Len()) {
		return errors.New("invalid OpenEXR block size")
	}
	raw := make([]byte, chunk.Size)
	if _, err := io.ReadFull(r, raw); err != nil {
		return err
	}

	startY := int(chunk.Y - h.dataWindow[1])
	if startY < 0 || startY >= dst.H {
		return errors.New("OpenEXR scanline out of bounds")
	}
	lines := h.linesPerBlock()
	if startY+lines > dst.H {
		lines = dst.H - startY
	}

	expected := 0
	for _, ch := range h.channels {
		expected += dst.W * lines * ch.bytesPerSample()
	}
	unpacked, err := exrDecompress(h.compression, raw, expected)
	if err != nil {
		return err
	}

	pos := 0
	for row := 0; row < lines; row++ {
		for _, ch := range h.channels {
			n := dst.W * ch.bytesPerSample()
			if pos+n > len(unpacked) {
				return errors.New("OpenEXR block truncated")
			}
			if ch.role != exrRoleSkip {
				exrStoreLine(dst, ch, startY+row, unpacked[pos:pos+n])
			}
			pos += n
		}
	}
	return nil
}

func exrDecompress(compression byte, data []byte, expected int) ([]byte, error) {
	if compression == exrCompressionNone || len(data) == expected {
		// Chunks that would not shrink are stored uncompressed.
		if len(data) != expected {
			return nil, errors.New("unexpected OpenEXR block size")
		}
		return data, nil
	}

	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	buf, err := io.ReadAll(zr)
	if err != nil {
		return nil, err
	}
	if len(buf) != expected {
		return nil, errors.New("unexpected OpenEXR decompressed size")
	}

	// Undo the delta predictor, then interleave the two byte halves.
	for i := 1; i < len(buf); i++ {
		buf[i] = byte(int(buf[i]) + int(buf[i-1]) - 128)
	}
	out := make([]byte, len(buf))
	half := (len(buf) + 1) / 2
	for i := range out {
		if i%2 == 0 {
			out[i] = buf[i/2]
		} else {
			out[i] = buf[half+i/2]
		}
	}
	return out, nil
}

func exrStoreLine(dst *linearImage, ch exrChannel, y int, line []byte) {
	for x := 0; x < dst.W; x++ {
		var v float32
		switch ch.pixelType {
		case exrPixelHalf:
			v = halfToFloat32(binary.LittleEndian.Uint16(line[x*2:]))
		case exrPixelFloat:
			v = math.Float32frombits(binary.LittleEndian.Uint32(line[x*4:]))
		default:
			v = float32(binary.LittleEndian.Uint32(line[x*4:]))
		}
		i := (y*dst.W + x) * 3
		if ch.role == exrRoleY {
			dst.Pix[i], dst.Pix[i+1], dst.Pix[i+2] = v, v, v
			continue
		}
		dst.Pix[i+ch.role] = v
	}
}

func readCString(r *bytes.Reader) (string, error) {
	var sb strings.Builder
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		if b == 0 {
			return sb.String(), nil
		}
		sb.WriteByte(b)
	}
}

func halfToFloat32(h uint16) float32 {
	sign := uint32(h>>15) & 0x1
	exp := int32(h>>10) & 0x1F
	mant := int32(h & 0x03FF)

	switch exp {
	case 0:
		if mant == 0 {
			return math.Float32frombits(sign << 31)
		}
		for mant&0x0400 == 0 {
			mant <<= 1
			exp--
		}
		exp++
		mant &= 0x03FF
	case 31:
		return math.Float32frombits((sign << 31) | 0x7F800000 | (uint32(mant) << 13))
	}

	exp += 127 - 15
	return math.Float32frombits((sign << 31) | (uint32(exp) << 23) | (uint32(mant) << 13))
}

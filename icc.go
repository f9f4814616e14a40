package jpegconv

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"strings"
	"unicode/utf16"
)

const (
	iccHeaderSize = 128
	iccTagSize    = 12
)

var iccD50 = [3]float32{0.9642, 1.0, 0.8249}

func s15Fixed16(v float32) uint32 {
	return uint32(int32(math.Round(float64(v) * 65536)))
}

func fromS15Fixed16(v uint32) float32 {
	return float32(int32(v)) / 65536
}

type iccTag struct {
	sig  string
	data []byte
}

func iccMLUC(s string) []byte {
	units := utf16.Encode([]rune(s))
	var b bytes.Buffer
	b.WriteString("mluc")
	// Reserved, record count, record size.
	_ = binary.Write(&b, binary.BigEndian, [3]uint32{0, 1, 12})
	b.WriteString("enUS")
	_ = binary.Write(&b, binary.BigEndian, [2]uint32{uint32(len(units) * 2), 28})
	_ = binary.Write(&b, binary.BigEndian, units)
	return b.Bytes()
}

func iccXYZ(x, y, z float32) []byte {
	var b bytes.Buffer
	b.WriteString("XYZ ")
	_ = binary.Write(&b, binary.BigEndian, [4]uint32{0, s15Fixed16(x), s15Fixed16(y), s15Fixed16(z)})
	return b.Bytes()
}

// iccSRGBCurve is a parametric curve of type 3, the IEC 61966-2-1 function.
func iccSRGBCurve() []byte {
	var b bytes.Buffer
	b.WriteString("para")
	_ = binary.Write(&b, binary.BigEndian, uint32(0))
	_ = binary.Write(&b, binary.BigEndian, [2]uint16{3, 0})
	for _, v := range []float32{2.4, 1 / 1.055, 0.055 / 1.055, 1 / 12.92, 0.04045} {
		_ = binary.Write(&b, binary.BigEndian, s15Fixed16(v))
	}
	return b.Bytes()
}

func iccSF32(m mat3) []byte {
	var b bytes.Buffer
	b.WriteString("sf32")
	_ = binary.Write(&b, binary.BigEndian, uint32(0))
	for _, v := range m {
		_ = binary.Write(&b, binary.BigEndian, s15Fixed16(v))
	}
	return b.Bytes()
}

// synthesizeICC builds an ICC v4 display profile with matrix/TRC tags and
// the sRGB transfer curve for gamut g.
func synthesizeICC(desc string, g ColorGamut) ([]byte, error) {
	if _, ok := rgbToXYZ[g]; !ok {
		return nil, errors.New("unsupported gamut")
	}
	if desc == "" {
		return nil, errors.New("profile description is empty")
	}

	c := colorantsD50(g)
	trc := iccSRGBCurve()
	tags := []iccTag{
		{"desc", iccMLUC(desc)},
		{"cprt", iccMLUC("No copyright, use freely")},
		{"wtpt", iccXYZ(iccD50[0], iccD50[1], iccD50[2])},
		{"rXYZ", iccXYZ(c[0][0], c[0][1], c[0][2])},
		{"gXYZ", iccXYZ(c[1][0], c[1][1], c[1][2])},
		{"bXYZ", iccXYZ(c[2][0], c[2][1], c[2][2])},
		{"rTRC", trc},
		{"gTRC", trc},
		{"bTRC", trc},
		{"chad", iccSF32(bradfordD65ToD50)},
	}

	type placed struct{ offset, size int }
	table := make([]placed, len(tags))
	var data bytes.Buffer
	base := iccHeaderSize + 4 + len(tags)*iccTagSize
	shared := map[string]placed{}
	for i, t := range tags {
		if p, ok := shared[string(t.data)]; ok {
			table[i] = p
			continue
		}
		p := placed{offset: base + data.Len(), size: len(t.data)}
		data.Write(t.data)
		for data.Len()%4 != 0 {
			data.WriteByte(0)
		}
		shared[string(t.data)] = p
		table[i] = p
	}

	size := base + data.Len()
	out := make([]byte, iccHeaderSize, size)
	be := binary.BigEndian
	be.PutUint32(out[0:], uint32(size))
	be.PutUint32(out[8:], 0x04300000)
	copy(out[12:], "mntr")
	copy(out[16:], "RGB ")
	copy(out[20:], "XYZ ")
	for i, v := range []uint16{2024, 1, 1, 0, 0, 0} {
		be.PutUint16(out[24+i*2:], v)
	}
	copy(out[36:], "acsp")
	for i, v := range iccD50 {
		be.PutUint32(out[68+i*4:], s15Fixed16(v))
	}

	out = be.AppendUint32(out, uint32(len(tags)))
	for i, t := range tags {
		out = append(out, t.sig...)
		out = be.AppendUint32(out, uint32(table[i].offset))
		out = be.AppendUint32(out, uint32(table[i].size))
	}
	out = append(out, data.Bytes()...)
	return out, nil
}

type iccInfo struct {
	description  string
	colorants    [3][3]float32
	hasColorants bool
	transfer     ColorTransfer
	hasTRC       bool
}

func parseICC(b []byte) (iccInfo, error) {
	var info iccInfo
	if len(b) < iccHeaderSize+4 || string(b[36:40]) != "acsp" {
		return info, errors.New("not an icc profile")
	}
	be := binary.BigEndian
	n := int(be.Uint32(b[iccHeaderSize:]))
	if n < 0 || iccHeaderSize+4+n*iccTagSize > len(b) {
		return info, errors.New("icc tag table truncated")
	}

	tag := func(sig string) []byte {
		for i := 0; i < n; i++ {
			e := b[iccHeaderSize+4+i*iccTagSize:]
			if string(e[0:4]) != sig {
				continue
			}
			off, size := int(be.Uint32(e[4:])), int(be.Uint32(e[8:]))
			if off < 0 || size < 8 || off+size > len(b) {
				return nil
			}
			return b[off : off+size]
		}
		return nil
	}

	info.description = iccText(tag("desc"))

	found := 0
	for i, sig := range []string{"rXYZ", "gXYZ", "bXYZ"} {
		d := tag(sig)
		if len(d) < 20 || string(d[0:4]) != "XYZ " {
			continue
		}
		for j := 0; j < 3; j++ {
			info.colorants[i][j] = fromS15Fixed16(be.Uint32(d[8+j*4:]))
		}
		found++
	}
	info.hasColorants = found == 3

	if tr, ok := iccTransfer(tag("rTRC")); ok {
		info.transfer = tr
		info.hasTRC = true
	}
	return info, nil
}

func iccText(d []byte) string {
	if len(d) < 12 {
		return ""
	}
	be := binary.BigEndian
	switch string(d[0:4]) {
	case "desc":
		n := int(be.Uint32(d[8:]))
		if n <= 0 || 12+n > len(d) {
			return ""
		}
		return strings.TrimRight(string(d[12:12+n]), "\x00")
	case "text":
		return strings.TrimRight(string(d[8:]), "\x00")
	case "mluc":
		if len(d) < 28 || be.Uint32(d[8:]) == 0 {
			return ""
		}
		n, off := int(be.Uint32(d[20:])), int(be.Uint32(d[24:]))
		if n < 0 || off < 0 || off+n > len(d) {
			return ""
		}
		units := make([]uint16, n/2)
		for i := range units {
			units[i] = be.Uint16(d[off+i*2:])
		}
		return strings.TrimRight(string(utf16.Decode(units)), "\x00")
	}
	return ""
}

func iccTransfer(d []byte) (ColorTransfer, bool) {
	if len(d) < 12 {
		return TransferSRGB, false
	}
	be := binary.BigEndian
	switch string(d[0:4]) {
	case "curv":
		n := int(be.Uint32(d[8:]))
		switch {
		case n == 0:
			return TransferLinear, true
		case n == 1 && len(d) >= 14:
			return classifyGamma(float32(be.Uint16(d[12:])) / 256), true
		case n > 1 && 12+n*2 <= len(d):
			table := make([]float32, n)
			for i := range table {
				table[i] = float32(be.Uint16(d[12+i*2:])) / 65535
			}
			return classifyTable(table), true
		}
	case "para":
		if len(d) < 16 {
			return TransferSRGB, false
		}
		fn := be.Uint16(d[8:])
		g := fromS15Fixed16(be.Uint32(d[12:]))
		if fn == 0 {
			return classifyGamma(g), true
		}
		if math.Abs(float64(g-2.4)) < 0.05 {
			return TransferSRGB, true
		}
		return classifyGamma(g), true
	}
	return TransferSRGB, false
}

func classifyGamma(g float32) ColorTransfer {
	switch {
	case math.Abs(float64(g-1)) < 0.05:
		return TransferLinear
	case math.Abs(float64(g-2.2)) < 0.1:
		return TransferGamma22
	default:
		return TransferSRGB
	}
}

// classifyTable picks the known curve closest to a sampled TRC table.
func classifyTable(table []float32) ColorTransfer {
	best, bestErr := TransferSRGB, math.Inf(1)
	for _, tr := range []ColorTransfer{TransferSRGB, TransferGamma22, TransferLinear} {
		var e float64
		for i, v := range table {
			x := float32(i) / float32(len(table)-1)
			d := float64(tr.toLinear(x) - v)
			e += d * d
		}
		if e < bestErr {
			best, bestErr = tr, e
		}
	}
	return best
}

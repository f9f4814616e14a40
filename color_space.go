package jpegconv

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"sync"
)

// ColorGamut identifies a set of RGB primaries with a D65 white point.
type ColorGamut int

const (
	// GamutSRGB is sRGB / BT.709.
	GamutSRGB ColorGamut = iota
	// GamutDisplayP3 is Display P3.
	GamutDisplayP3
	// GamutAdobeRGB is Adobe RGB (1998).
	GamutAdobeRGB
	// GamutBT2020 is BT.2020, also used by BT.2100.
	GamutBT2020
)

func (g ColorGamut) String() string {
	switch g {
	case GamutDisplayP3:
		return "Display P3"
	case GamutAdobeRGB:
		return "Adobe RGB"
	case GamutBT2020:
		return "BT.2020"
	default:
		return "sRGB"
	}
}

// ColorTransfer identifies how encoded values map to linear light.
type ColorTransfer int

const (
	// TransferSRGB is the piecewise sRGB curve.
	TransferSRGB ColorTransfer = iota
	// TransferGamma22 is a pure 563/256 power law as used by Adobe RGB.
	TransferGamma22
	// TransferLinear means values are already linear.
	TransferLinear
	// TransferPQ is SMPTE ST 2084, 203 nits map to 1.0.
	TransferPQ
	// TransferHLG is ARIB STD-B67 scene light, 75% signal maps to 1.0.
	TransferHLG

	transferCount
)

const adobeGamma = 563.0 / 256.0

func (t ColorTransfer) toLinear(v float32) float32 {
	switch t {
	case TransferLinear:
		return v
	case TransferGamma22:
		if v <= 0 {
			return 0
		}
		return float32(math.Pow(float64(v), adobeGamma))
	case TransferPQ:
		return pqEOTF(v)
	case TransferHLG:
		return hlgInvOetf(v) / hlgReferenceWhite
	default:
		return srgbInvOetf(v)
	}
}

func (t ColorTransfer) fromLinear(v float32) float32 {
	switch t {
	case TransferLinear:
		return v
	case TransferGamma22:
		if v <= 0 {
			return 0
		}
		return float32(math.Pow(float64(v), 1/adobeGamma))
	case TransferPQ:
		return pqInvEOTF(v)
	case TransferHLG:
		return hlgOetf(v * hlgReferenceWhite)
	default:
		return srgbOetf(v)
	}
}

var (
	decodeLUTOnce [transferCount]sync.Once
	decodeLUTs    [transferCount][]float32
	encodeLUTOnce [transferCount]sync.Once
	encodeLUTs    [transferCount][]uint8
)

// decodeLUT maps a 16-bit encoded sample to linear light.
func (t ColorTransfer) decodeLUT() []float32 {
	decodeLUTOnce[t].Do(func() {
		lut := make([]float32, 1<<16)
		for i := range lut {
			lut[i] = t.toLinear(float32(i) / 65535)
		}
		decodeLUTs[t] = lut
	})
	return decodeLUTs[t]
}

// encodeLUT maps a 16-bit linear sample to an 8-bit encoded value.
func (t ColorTransfer) encodeLUT() []uint8 {
	encodeLUTOnce[t].Do(func() {
		lut := make([]uint8, 1<<16)
		for i := range lut {
			lut[i] = uint8(clamp01(t.fromLinear(float32(i)/65535))*255 + 0.5)
		}
		encodeLUTs[t] = lut
	})
	return encodeLUTs[t]
}

// ColorProfile describes the color encoding of an image.
type ColorProfile struct {
	Name     string
	Gamut    ColorGamut
	Transfer ColorTransfer
	// ICC is the embedded profile, nil for implicit sRGB.
	ICC []byte
}

var implicitSRGB = ColorProfile{Name: "sRGB", Gamut: GamutSRGB, Transfer: TransferSRGB}

// detectColorProfile classifies an ICC profile. Colorant tags are matched
// against the known gamuts first, then the description is used.
func detectColorProfile(icc []byte) ColorProfile {
	if len(icc) == 0 {
		return implicitSRGB
	}

	p := ColorProfile{Gamut: GamutSRGB, Transfer: TransferSRGB, ICC: icc}
	info, err := parseICC(icc)
	if err == nil {
		p.Name = info.description
	}

	gamutKnown := false
	if err == nil && info.hasColorants {
		if g, ok := matchGamut(info.colorants); ok {
			p.Gamut = g
			gamutKnown = true
		}
	}

	lower := strings.ToLower(p.Name)
	if lower == "" {
		lower = string(bytes.ToLower(icc))
	}
	if !gamutKnown {
		switch {
		case strings.Contains(lower, "display p3") || strings.Contains(lower, "dci-p3"):
			p.Gamut = GamutDisplayP3
		case strings.Contains(lower, "adobe rgb") || strings.Contains(lower, "adobergb"):
			p.Gamut = GamutAdobeRGB
			p.Transfer = TransferGamma22
		case strings.Contains(lower, "2020") || strings.Contains(lower, "2100"):
			p.Gamut = GamutBT2020
		}
	}

	if err == nil && info.hasTRC {
		p.Transfer = info.transfer
	}
	if p.Name == "" {
		p.Name = p.Gamut.String()
	}
	return p
}

type mat3 [9]float32

func (m mat3) mul(n mat3) mat3 {
	var out mat3
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[r*3+c] = m[r*3]*n[c] + m[r*3+1]*n[3+c] + m[r*3+2]*n[6+c]
		}
	}
	return out
}

func (m mat3) apply(v rgb) rgb {
	return rgb{
		r: m[0]*v.r + m[1]*v.g + m[2]*v.b,
		g: m[3]*v.r + m[4]*v.g + m[5]*v.b,
		b: m[6]*v.r + m[7]*v.g + m[8]*v.b,
	}
}

var identity = mat3{1, 0, 0, 0, 1, 0, 0, 0, 1}

// Linear RGB to XYZ, D65.
var rgbToXYZ = map[ColorGamut]mat3{
	GamutSRGB: {
		0.4123908, 0.35758433, 0.1804808,
		0.212639, 0.71516865, 0.07219232,
		0.019330818, 0.11919478, 0.95053214,
	},
	GamutDisplayP3: {
		0.48657095, 0.2656677, 0.19821729,
		0.22897457, 0.69173855, 0.07928691,
		0, 0.04511338, 1.0439444,
	},
	GamutAdobeRGB: {
		0.5767309, 0.185554, 0.1881852,
		0.2973769, 0.6273491, 0.0752741,
		0.0270343, 0.0706872, 0.9911085,
	},
	GamutBT2020: {
		0.63695806, 0.1446169, 0.16888098,
		0.2627002, 0.67799807, 0.05930172,
		0, 0.02807269, 1.0609851,
	},
}

// XYZ to linear RGB, D65.
var xyzToRGB = map[ColorGamut]mat3{
	GamutSRGB: {
		3.24097, -1.5373832, -0.49861076,
		-0.96924365, 1.8759675, 0.041555058,
		0.05563008, -0.20397696, 1.0569715,
	},
	GamutDisplayP3: {
		2.493497, -0.9313836, -0.4027108,
		-0.829489, 1.7626641, 0.023624685,
		0.03584583, -0.07617239, 0.9568845,
	},
	GamutAdobeRGB: {
		2.041369, -0.5649464, -0.3446944,
		-0.969266, 1.8760108, 0.041556,
		0.0134474, -0.1183897, 1.0154096,
	},
	GamutBT2020: {
		1.7166512, -0.35567078, -0.25336629,
		-0.66668433, 1.6164813, 0.01576854,
		0.01763986, -0.04277061, 0.94210315,
	},
}

// Bradford chromatic adaptation from D65 to D50.
var bradfordD65ToD50 = mat3{
	1.0478112, 0.0228866, -0.0501270,
	0.0295424, 0.9904844, -0.0170491,
	-0.0092345, 0.0150436, 0.7521316,
}

// gamutMatrix returns the linear RGB conversion between two gamuts.
func gamutMatrix(from, to ColorGamut) mat3 {
	if from == to {
		return identity
	}
	return xyzToRGB[to].mul(rgbToXYZ[from])
}

// colorantsD50 returns the D50-adapted XYZ of the red, green and blue primaries as rows.
func colorantsD50(g ColorGamut) [3][3]float32 {
	m := bradfordD65ToD50.mul(rgbToXYZ[g])
	return [3][3]float32{
		{m[0], m[3], m[6]},
		{m[1], m[4], m[7]},
		{m[2], m[5], m[8]},
	}
}

func matchGamut(c [3][3]float32) (ColorGamut, bool) {
	const tolerance = 0.01
	for _, g := range []ColorGamut{GamutSRGB, GamutDisplayP3, GamutAdobeRGB, GamutBT2020} {
		want := colorantsD50(g)
		ok := true
		for i := 0; i < 3 && ok; i++ {
			for j := 0; j < 3; j++ {
				if math.Abs(float64(want[i][j]-c[i][j])) > tolerance {
					ok = false
					break
				}
			}
		}
		if ok {
			return g, true
		}
	}
	return GamutSRGB, false
}

// WorkingSpace is the shared color space of a batch. It is read-only after construction.
type WorkingSpace struct {
	Profile ColorProfile
}

// Working space names accepted by NewWorkingSpace.
const (
	WorkingBT2100    = "bt2100"
	WorkingDisplayP3 = "display-p3"
	WorkingSRGB      = "srgb"
)

var workingSpaces = map[string]struct {
	gamut ColorGamut
	desc  string
}{
	WorkingBT2100:    {GamutBT2020, "ITU-R BT.2100 (sRGB transfer)"},
	"bt2020":         {GamutBT2020, "ITU-R BT.2100 (sRGB transfer)"},
	WorkingDisplayP3: {GamutDisplayP3, "Display P3"},
	"p3":             {GamutDisplayP3, "Display P3"},
	WorkingSRGB:      {GamutSRGB, "sRGB"},
}

// NewWorkingSpace builds a working color space with a synthesized ICC profile.
// An empty name selects bt2100.
func NewWorkingSpace(name string) (*WorkingSpace, error) {
	if name == "" {
		name = WorkingBT2100
	}
	ws, ok := workingSpaces[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: unknown working space %q", ErrColorSpaceSetup, name)
	}
	icc, err := synthesizeICC(ws.desc, ws.gamut)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrColorSpaceSetup, err)
	}
	return &WorkingSpace{Profile: ColorProfile{
		Name:     ws.desc,
		Gamut:    ws.gamut,
		Transfer: TransferSRGB,
		ICC:      icc,
	}}, nil
}

package jpegconv

import "math"

type rgb struct {
	r, g, b float32
}

func log2f(v float32) float32 { return float32(math.Log2(float64(v))) }
func exp2f(v float32) float32 { return float32(math.Exp2(float64(v))) }

func srgbInvOetf(v float32) float32 {
	if v <= 0.04045 {
		return v / 12.92
	}
	return float32(math.Pow(float64((v+0.055)/1.055), 2.4))
}

func srgbOetf(v float32) float32 {
	if v <= 0.0031308 {
		return 12.92 * v
	}
	return 1.055*float32(math.Pow(float64(v), 1.0/2.4)) - 0.055
}

// ST 2084 constants.
const (
	pqM1 = 2610.0 / 16384
	pqM2 = 2523.0 / 4096 * 128
	pqC1 = 3424.0 / 4096
	pqC2 = 2413.0 / 4096 * 32
	pqC3 = 2392.0 / 4096 * 32

	pqPeakNits         = 10000.0
	referenceWhiteNits = 203.0
)

// pqEOTF returns display light relative to the reference white.
func pqEOTF(v float32) float32 {
	if v <= 0 {
		return 0
	}
	p := math.Pow(float64(v), 1/pqM2)
	l := math.Pow(math.Max(p-pqC1, 0)/(pqC2-pqC3*p), 1/pqM1)
	return float32(l * pqPeakNits / referenceWhiteNits)
}

func pqInvEOTF(v float32) float32 {
	if v <= 0 {
		return 0
	}
	y := math.Pow(float64(v)*referenceWhiteNits/pqPeakNits, pqM1)
	return float32(math.Pow((pqC1+pqC2*y)/(1+pqC3*y), pqM2))
}

// BT.2100 HLG constants.
const (
	hlgA = 0.17883277
	hlgB = 1 - 4*hlgA
	hlgC = 0.55991073
)

// hlgReferenceWhite is the scene light of a 75% HLG signal.
var hlgReferenceWhite = hlgInvOetf(0.75)

func hlgInvOetf(v float32) float32 {
	if v <= 0 {
		return 0
	}
	if v <= 0.5 {
		return v * v / 3
	}
	return float32((math.Exp((float64(v)-hlgC)/hlgA) + hlgB) / 12)
}

func hlgOetf(e float32) float32 {
	if e <= 0 {
		return 0
	}
	if e <= 1.0/12 {
		return float32(math.Sqrt(3 * float64(e)))
	}
	return float32(hlgA*math.Log(12*float64(e)-hlgB) + hlgC)
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func max3(a, b, c float32) float32 {
	if a >= b && a >= c {
		return a
	}
	if b >= a && b >= c {
		return b
	}
	return c
}

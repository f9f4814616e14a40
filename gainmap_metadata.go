package jpegconv

import (
	"encoding/binary"
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

const (
	xmpNamespace = "http://ns.adobe.com/xap/1.0/"
	isoNamespace = "urn:iso:std:iso:ts:21496:-1"
)

var (
	xmpPrefix = append([]byte(xmpNamespace), 0)
	isoPrefix = append([]byte(isoNamespace), 0)
)

// GainMapMetadata describes how a gain map expands an SDR base image, with
// boosts and capacities in linear units.
type GainMapMetadata struct {
	MaxContentBoost [3]float32
	MinContentBoost [3]float32
	Gamma           [3]float32
	OffsetSDR       [3]float32
	OffsetHDR       [3]float32
	HDRCapacityMin  float32
	HDRCapacityMax  float32
	UseBaseCG       bool
}

// fillChannels copies channel 0 into channels left unset.
func (m *GainMapMetadata) fillChannels() {
	for i := 1; i < 3; i++ {
		if m.MinContentBoost[i] == 0 {
			m.MinContentBoost[i] = m.MinContentBoost[0]
		}
		if m.MaxContentBoost[i] == 0 {
			m.MaxContentBoost[i] = m.MaxContentBoost[0]
		}
		if m.Gamma[i] == 0 {
			m.Gamma[i] = m.Gamma[0]
		}
		if m.OffsetSDR[i] == 0 {
			m.OffsetSDR[i] = m.OffsetSDR[0]
		}
		if m.OffsetHDR[i] == 0 {
			m.OffsetHDR[i] = m.OffsetHDR[0]
		}
	}
}

func (m *GainMapMetadata) validate() error {
	for i := 0; i < 3; i++ {
		if !(m.MinContentBoost[i] > 0) || !(m.MaxContentBoost[i] >= m.MinContentBoost[i]) {
			return errors.New("invalid content boost range")
		}
		if !(m.Gamma[i] > 0) {
			return errors.New("invalid gain map gamma")
		}
	}
	if !(m.HDRCapacityMin >= 1) || !(m.HDRCapacityMax >= m.HDRCapacityMin) {
		return errors.New("invalid hdr capacity")
	}
	return nil
}

var xmpAttr = map[string]*regexp.Regexp{}

func init() {
	for _, name := range []string{
		"Version", "GainMapMin", "GainMapMax", "Gamma", "OffsetSDR", "OffsetHDR",
		"HDRCapacityMin", "HDRCapacityMax", "BaseRenditionIsHDR",
	} {
		// Both attribute and element forms of the hdrgm namespace.
		xmpAttr[name] = regexp.MustCompile(`hdrgm:` + name + `(?:="([^"]+)"|>([^<]+)<)`)
	}
}

func xmpValue(xml, name string) (string, bool) {
	m := xmpAttr[name].FindStringSubmatch(xml)
	if m == nil {
		return "", false
	}
	if m[1] != "" {
		return m[1], true
	}
	return m[2], true
}

// parseXMP reads hdrgm gain map metadata from an APP1 XMP payload.
func parseXMP(app1 []byte) (*GainMapMetadata, error) {
	if len(app1) < len(xmpPrefix)+1 || string(app1[:len(xmpPrefix)]) != string(xmpPrefix) {
		return nil, errors.New("xmp namespace mismatch")
	}
	xml := string(app1[len(xmpPrefix):])

	if _, ok := xmpValue(xml, "Version"); !ok {
		return nil, errors.New("xmp missing version")
	}
	if v, ok := xmpValue(xml, "BaseRenditionIsHDR"); ok && v == "True" {
		return nil, errors.New("base rendition HDR not supported")
	}

	meta := &GainMapMetadata{UseBaseCG: true, HDRCapacityMin: 1}
	meta.MinContentBoost[0] = 1
	meta.Gamma[0] = 1
	meta.OffsetSDR[0] = 1.0 / 64.0
	meta.OffsetHDR[0] = 1.0 / 64.0

	fields := []struct {
		name     string
		required bool
		log2     bool
		dst      *float32
	}{
		{"GainMapMax", true, true, &meta.MaxContentBoost[0]},
		{"HDRCapacityMax", true, true, &meta.HDRCapacityMax},
		{"GainMapMin", false, true, &meta.MinContentBoost[0]},
		{"Gamma", false, false, &meta.Gamma[0]},
		{"OffsetSDR", false, false, &meta.OffsetSDR[0]},
		{"OffsetHDR", false, false, &meta.OffsetHDR[0]},
		{"HDRCapacityMin", false, true, &meta.HDRCapacityMin},
	}
	for _, f := range fields {
		s, ok := xmpValue(xml, f.name)
		if !ok {
			if f.required {
				return nil, fmt.Errorf("xmp missing %s", f.name)
			}
			continue
		}
		v, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return nil, fmt.Errorf("xmp %s: %w", f.name, err)
		}
		if f.log2 {
			v = float64(exp2f(float32(v)))
		}
		*f.dst = float32(v)
	}

	meta.fillChannels()
	return meta, meta.validate()
}

const (
	isoFlagMultiChannel = 1 << 7
	isoFlagUseBaseColor = 1 << 6
	isoFlagCommonDenom  = 1 << 3
	isoFlagBackward     = 1 << 2
)

type isoReader struct {
	b   []byte
	pos int
	err error
}

func (r *isoReader) u8() uint8 {
	if r.err != nil || r.pos+1 > len(r.b) {
		r.err = errors.New("iso metadata truncated")
		return 0
	}
	v := r.b[r.pos]
	r.pos++
	return v
}

func (r *isoReader) u16() uint16 {
	if r.err != nil || r.pos+2 > len(r.b) {
		r.err = errors.New("iso metadata truncated")
		return 0
	}
	v := binary.BigEndian.Uint16(r.b[r.pos:])
	r.pos += 2
	return v
}

func (r *isoReader) u32() uint32 {
	if r.err != nil || r.pos+4 > len(r.b) {
		r.err = errors.New("iso metadata truncated")
		return 0
	}
	v := binary.BigEndian.Uint32(r.b[r.pos:])
	r.pos += 4
	return v
}

// fraction reads a numerator and, unless a common denominator is used, its denominator.
func (r *isoReader) fraction(signed bool, common uint32) float32 {
	n := r.u32()
	d := common
	if d == 0 {
		d = r.u32()
	}
	if r.err == nil && d == 0 {
		r.err = errors.New("iso metadata zero denominator")
	}
	if r.err != nil {
		return 0
	}
	if signed {
		return float32(int32(n)) / float32(d)
	}
	return float32(n) / float32(d)
}

// decodeISOMetadata parses an ISO 21496-1 gain map metadata payload
// (after the namespace prefix).
func decodeISOMetadata(data []byte) (*GainMapMetadata, error) {
	r := &isoReader{b: data}
	if minVersion := r.u16(); r.err == nil && minVersion != 0 {
		return nil, fmt.Errorf("unsupported iso min_version %d", minVersion)
	}
	r.u16() // writer version
	flags := r.u8()
	if r.err != nil {
		return nil, r.err
	}

	if flags&isoFlagBackward != 0 {
		return nil, errors.New("base rendition HDR not supported")
	}

	channels := 1
	if flags&isoFlagMultiChannel != 0 {
		channels = 3
	}

	var common uint32
	if flags&isoFlagCommonDenom != 0 {
		common = r.u32()
		if r.err == nil && common == 0 {
			return nil, errors.New("iso metadata zero denominator")
		}
	}

	meta := &GainMapMetadata{UseBaseCG: flags&isoFlagUseBaseColor != 0}
	baseHeadroom := r.fraction(false, common)
	altHeadroom := r.fraction(false, common)
	for c := 0; c < channels; c++ {
		meta.MinContentBoost[c] = exp2f(r.fraction(true, common))
		meta.MaxContentBoost[c] = exp2f(r.fraction(true, common))
		meta.Gamma[c] = r.fraction(false, common)
		meta.OffsetSDR[c] = r.fraction(true, common)
		meta.OffsetHDR[c] = r.fraction(true, common)
	}
	if r.err != nil {
		return nil, r.err
	}
	meta.HDRCapacityMin = exp2f(baseHeadroom)
	meta.HDRCapacityMax = exp2f(altHeadroom)

	if channels == 1 {
		meta.fillChannels()
	}
	return meta, meta.validate()
}

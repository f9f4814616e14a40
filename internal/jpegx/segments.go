package jpegx

import (
	"bytes"
	"encoding/binary"
	"errors"
	"sort"
)

// Segment is a marker with its payload (without the length field).
type Segment struct {
	Marker  byte
	Payload []byte
}

// ErrNotJPEG is returned for data that does not start with SOI.
var ErrNotJPEG = errors.New("invalid jpeg")

// AppSegments returns APP1 and APP2 payloads found before the first scan.
func AppSegments(data []byte) (app1 [][]byte, app2 [][]byte, err error) {
	if len(data) < 4 || !IsJPEG(data) {
		return nil, nil, ErrNotJPEG
	}
	pos := 2
	for pos+3 < len(data) {
		if data[pos] != markerStart {
			pos++
			continue
		}
		for pos < len(data) && data[pos] == markerStart {
			pos++
		}
		if pos >= len(data) {
			break
		}
		marker := data[pos]
		pos++
		if marker == markerSOS || marker == markerEOI {
			break
		}
		if isRST(marker) || marker == markerTEM || marker == markerSOI {
			continue
		}
		if pos+1 >= len(data) {
			return nil, nil, errors.New("truncated marker")
		}
		segLen := int(binary.BigEndian.Uint16(data[pos:]))
		if segLen < 2 || pos+segLen > len(data) {
			return nil, nil, errors.New("invalid segment length")
		}
		segStart := pos + 2
		segEnd := pos + segLen
		switch marker {
		case MarkerAPP1:
			app1 = append(app1, append([]byte(nil), data[segStart:segEnd]...))
		case MarkerAPP2:
			app2 = append(app2, append([]byte(nil), data[segStart:segEnd]...))
		}
		pos = segEnd
	}
	return app1, app2, nil
}

// FindPrefixed returns the first payload starting with prefix.
func FindPrefixed(payloads [][]byte, prefix []byte) []byte {
	for _, p := range payloads {
		if bytes.HasPrefix(p, prefix) {
			return p
		}
	}
	return nil
}

// ICCProfile reassembles an ICC profile from APP2 chunks, or returns nil.
func ICCProfile(data []byte) ([]byte, error) {
	_, app2, err := AppSegments(data)
	if err != nil {
		return nil, err
	}
	return CollectICC(app2), nil
}

// CollectICC joins "ICC_PROFILE\0" + seq + total chunks in sequence order.
func CollectICC(app2 [][]byte) []byte {
	type chunk struct {
		seq  int
		data []byte
	}
	chunks := make([]chunk, 0, len(app2))
	for _, p := range app2 {
		if len(p) > len(ICCSig)+2 && bytes.HasPrefix(p, ICCSig) {
			chunks = append(chunks, chunk{seq: int(p[len(ICCSig)]), data: p[len(ICCSig)+2:]})
		}
	}
	if len(chunks) == 0 {
		return nil
	}
	sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].seq < chunks[j].seq })
	total := 0
	for _, c := range chunks {
		total += len(c.data)
	}
	out := make([]byte, 0, total)
	for _, c := range chunks {
		out = append(out, c.data...)
	}
	return out
}

// ICCSegments splits an ICC profile into APP2 segments.
func ICCSegments(profile []byte) ([]Segment, error) {
	if len(profile) == 0 {
		return nil, nil
	}
	chunkSize := maxSegmentPayload - len(ICCSig) - 2
	count := (len(profile) + chunkSize - 1) / chunkSize
	if count > 255 {
		return nil, errors.New("icc profile too large")
	}
	segs := make([]Segment, 0, count)
	for i := 0; i < count; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(profile) {
			end = len(profile)
		}
		payload := make([]byte, 0, len(ICCSig)+2+end-start)
		payload = append(payload, ICCSig...)
		payload = append(payload, byte(i+1), byte(count))
		payload = append(payload, profile[start:end]...)
		segs = append(segs, Segment{Marker: MarkerAPP2, Payload: payload})
	}
	return segs, nil
}

func writeSegment(out *bytes.Buffer, s Segment) {
	out.WriteByte(markerStart)
	out.WriteByte(s.Marker)
	length := uint16(len(s.Payload) + 2)
	out.WriteByte(byte(length >> 8))
	out.WriteByte(byte(length))
	out.Write(s.Payload)
}

// InsertSegments inserts segments right after SOI.
func InsertSegments(data []byte, segs []Segment) ([]byte, error) {
	if !IsJPEG(data) {
		return nil, ErrNotJPEG
	}
	if len(segs) == 0 {
		return data, nil
	}
	size := len(data)
	for _, s := range segs {
		size += len(s.Payload) + 4
	}
	var out bytes.Buffer
	out.Grow(size)
	out.WriteByte(markerStart)
	out.WriteByte(markerSOI)
	for _, s := range segs {
		if len(s.Payload) > maxSegmentPayload {
			return nil, errors.New("segment payload too large")
		}
		writeSegment(&out, s)
	}
	out.Write(data[2:])
	return out.Bytes(), nil
}

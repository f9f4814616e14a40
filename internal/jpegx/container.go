package jpegx

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	mpfNumPictures     = 2
	mpfTypeUndefined   = 0x7
	mpfEntryTag        = 0xB002
	mpfEntrySize       = 16
	mpfAttrTypePrimary = 0x030000
)

// Range is a [start, end) byte span of one JPEG stream inside a larger buffer.
type Range struct {
	Start, End int
}

// ScanImages locates the JPEG streams in data. An MPF index in the first
// stream is preferred, otherwise SOI markers are scanned sequentially.
func ScanImages(data []byte) ([]Range, error) {
	if ranges, ok := scanByMPF(data); ok {
		return ranges, nil
	}
	var ranges []Range
	i := 0
	for i+1 < len(data) {
		if data[i] == markerStart && data[i+1] == markerSOI {
			end, err := FindEnd(data, i)
			if err != nil {
				if len(ranges) > 0 {
					break
				}
				return nil, err
			}
			ranges = append(ranges, Range{Start: i, End: end})
			i = end
			continue
		}
		i++
	}
	if len(ranges) == 0 {
		return nil, errors.New("no JPEG images found")
	}
	return ranges, nil
}

func scanByMPF(data []byte) ([]Range, bool) {
	if len(data) < 4 || !IsJPEG(data) {
		return nil, false
	}
	info, ok := findMPFInfo(data)
	if !ok {
		return nil, false
	}
	secondaryEnd := info.secondaryOffset + info.secondarySize
	if info.primarySize <= 0 || info.secondarySize <= 0 {
		return nil, false
	}
	if info.primarySize > len(data) || secondaryEnd > len(data) || info.secondaryOffset < 0 {
		return nil, false
	}
	if !IsJPEG(data[info.secondaryOffset:]) {
		return nil, false
	}
	return []Range{{0, info.primarySize}, {info.secondaryOffset, secondaryEnd}}, true
}

type mpfInfo struct {
	primarySize     int
	secondarySize   int
	secondaryOffset int
}

func findMPFInfo(data []byte) (mpfInfo, bool) {
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
		switch {
		case marker == markerEOI || marker == markerSOS:
			return mpfInfo{}, false
		case marker == markerSOI || marker == markerTEM || isRST(marker):
			continue
		}
		if pos+1 >= len(data) {
			return mpfInfo{}, false
		}
		segLen := int(binary.BigEndian.Uint16(data[pos:]))
		if segLen < 2 || pos+segLen > len(data) {
			return mpfInfo{}, false
		}
		segStart := pos + 2
		segEnd := pos + segLen
		if marker == MarkerAPP2 && bytes.HasPrefix(data[segStart:segEnd], MPFSig) {
			info, err := parseMPF(data[segStart:segEnd])
			if err != nil {
				return mpfInfo{}, false
			}
			// Offsets are relative to the TIFF header following the signature.
			info.secondaryOffset += segStart + len(MPFSig)
			return info, true
		}
		pos = segEnd
	}
	return mpfInfo{}, false
}

func parseMPF(payload []byte) (mpfInfo, error) {
	if len(payload) < len(MPFSig)+8 || !bytes.HasPrefix(payload, MPFSig) {
		return mpfInfo{}, errors.New("mpf signature missing")
	}
	tiff := payload[len(MPFSig):]
	var order binary.ByteOrder
	switch {
	case tiff[0] == 0x4D && tiff[1] == 0x4D:
		order = binary.BigEndian
	case tiff[0] == 0x49 && tiff[1] == 0x49:
		order = binary.LittleEndian
	default:
		return mpfInfo{}, errors.New("mpf endian invalid")
	}
	if order.Uint16(tiff[2:4]) != 0x002A {
		return mpfInfo{}, errors.New("mpf tiff magic invalid")
	}
	ifdPos := int(order.Uint32(tiff[4:8]))
	if ifdPos < 0 || ifdPos+2 > len(tiff) {
		return mpfInfo{}, errors.New("mpf ifd offset invalid")
	}
	tagCount := int(order.Uint16(tiff[ifdPos : ifdPos+2]))
	ifdPos += 2
	entryOffset := -1
	for i := 0; i < tagCount; i++ {
		if ifdPos+12 > len(tiff) {
			return mpfInfo{}, errors.New("mpf ifd truncated")
		}
		tag := order.Uint16(tiff[ifdPos : ifdPos+2])
		typ := order.Uint16(tiff[ifdPos+2 : ifdPos+4])
		count := order.Uint32(tiff[ifdPos+4 : ifdPos+8])
		if tag == mpfEntryTag && typ == mpfTypeUndefined && count >= mpfEntrySize {
			entryOffset = int(order.Uint32(tiff[ifdPos+8 : ifdPos+12]))
			break
		}
		ifdPos += 12
	}
	if entryOffset < 0 || entryOffset+mpfEntrySize*mpfNumPictures > len(tiff) {
		return mpfInfo{}, errors.New("mpf entry offset invalid")
	}
	var info mpfInfo
	for i := 0; i < mpfNumPictures; i++ {
		e := tiff[entryOffset+i*mpfEntrySize:]
		attr := order.Uint32(e[0:4])
		size := int(order.Uint32(e[4:8]))
		offset := int(order.Uint32(e[8:12]))
		if attr&mpfAttrTypePrimary != 0 {
			info.primarySize = size
		} else {
			info.secondarySize = size
			info.secondaryOffset = offset
		}
	}
	if info.primarySize == 0 || info.secondarySize == 0 {
		return mpfInfo{}, errors.New("mpf sizes missing")
	}
	return info, nil
}

// FindEnd returns the offset just past the EOI of the JPEG stream starting at start.
func FindEnd(data []byte, start int) (int, error) {
	if start+1 >= len(data) || data[start] != markerStart || data[start+1] != markerSOI {
		return 0, errors.New("not a JPEG SOI")
	}
	pos := start + 2
	inScan := false
	for pos+1 < len(data) {
		if inScan {
			if data[pos] != markerStart {
				pos++
				continue
			}
			next := data[pos+1]
			switch {
			case next == 0x00 || isRST(next) || next == markerStart:
				pos++
				if next != markerStart {
					pos++
				}
				continue
			case next == markerEOI:
				return pos + 2, nil
			}
			// A marker segment between progressive scans.
			inScan = false
			continue
		}

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
		switch {
		case marker == markerEOI:
			return pos, nil
		case marker == markerSOI || marker == markerTEM || isRST(marker):
			continue
		}
		if pos+1 >= len(data) {
			return 0, errors.New("truncated marker segment")
		}
		segLen := int(binary.BigEndian.Uint16(data[pos:]))
		if segLen < 2 {
			return 0, errors.New("invalid marker length")
		}
		pos += segLen
		if marker == markerSOS {
			inScan = true
		}
	}
	return 0, errors.New("no EOI found")
}

// Package jpegx contains JPEG container helpers: marker scanning, APP segment
// extraction and insertion, multi-picture (MPF) navigation and encoding.
package jpegx

const (
	markerStart = 0xFF
	markerSOI   = 0xD8
	markerEOI   = 0xD9
	markerSOS   = 0xDA
	markerTEM   = 0x01

	// MarkerAPP1 carries EXIF and XMP payloads.
	MarkerAPP1 = 0xE1
	// MarkerAPP2 carries ICC, MPF and ISO 21496-1 payloads.
	MarkerAPP2 = 0xE2
)

// Payload prefixes of well-known APP segments.
var (
	ExifSig = []byte{'E', 'x', 'i', 'f', 0, 0}
	ICCSig  = []byte{'I', 'C', 'C', '_', 'P', 'R', 'O', 'F', 'I', 'L', 'E', 0}
	MPFSig  = []byte{'M', 'P', 'F', 0}
)

// maxSegmentPayload is the largest APP payload a 16-bit length field can describe.
const maxSegmentPayload = 0xFFFF - 2

func isRST(m byte) bool {
	return m >= 0xD0 && m <= 0xD7
}

// IsJPEG reports whether data starts with an SOI marker.
func IsJPEG(data []byte) bool {
	return len(data) >= 2 && data[0] == markerStart && data[1] == markerSOI
}

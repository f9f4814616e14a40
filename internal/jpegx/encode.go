package jpegx

import (
	"bytes"
	"image"

	"github.com/dlecorfec/progjpeg"
)

// EncoderOptions controls JPEG encoding.
type EncoderOptions struct {
	Quality     int // 1-100
	Progressive bool
	// Segments are inserted after SOI, e.g. ICC chunks from ICCSegments.
	Segments []Segment
}

// Encode writes img as JPEG and returns the encoded bytes.
func Encode(img image.Image, opt EncoderOptions) ([]byte, error) {
	q := opt.Quality
	if q < 1 {
		q = 1
	}
	if q > 100 {
		q = 100
	}

	po := &progjpeg.Options{Quality: q}
	if opt.Progressive {
		po.Progressive = true
		po.ScanScript = progjpeg.DefaultColorScanScript()
	}

	var buf bytes.Buffer
	if err := progjpeg.Encode(&buf, img, po); err != nil {
		return nil, err
	}
	return InsertSegments(buf.Bytes(), opt.Segments)
}

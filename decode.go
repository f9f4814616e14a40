package jpegconv

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	_ "image/gif" // Register GIF decoder.
	"image/jpeg"
	_ "image/png" // Register PNG decoder.
	"io"
	"os"

	"github.com/gen2brain/avif"
	"github.com/gen2brain/heic"
	"github.com/rs/zerolog"
	"github.com/rwcarlsen/goexif/tiff"
	_ "golang.org/x/image/bmp" // Register BMP decoder.
	xtiff "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp" // Register WebP decoder.

	"github.com/vearutop/jpegconv/internal/jpegx"
)

// DecodeOptions controls decoding.
type DecodeOptions struct {
	// ExpandHDR requests HDR reconstruction for sources that carry it.
	ExpandHDR bool
	// MaxDisplayBoost limits gain map expansion, >= 1. Zero uses the
	// HDR capacity from metadata.
	MaxDisplayBoost float32
}

// Decoder turns candidate files into DecodedImage values in a shared working space.
// It is safe for concurrent use.
type Decoder struct {
	ws     *WorkingSpace
	opt    DecodeOptions
	logger zerolog.Logger
}

// NewDecoder creates a decoder for the working space.
func NewDecoder(ws *WorkingSpace, opt DecodeOptions, logger zerolog.Logger) *Decoder {
	return &Decoder{ws: ws, opt: opt, logger: logger}
}

// Decode reads and decodes a candidate using its dispatched strategy.
func (d *Decoder) Decode(c Candidate) (*DecodedImage, error) {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: read: %v", ErrDecode, err)
	}

	var img *DecodedImage
	if c.Strategy == StrategyRAW {
		img, err = d.decodeRAW(data)
	} else {
		img, err = d.decodeStandard(data, c.Ext)
	}
	if err != nil {
		if !errors.Is(err, ErrDecode) {
			err = fmt.Errorf("%w: %v", ErrDecode, err)
		}
		return nil, err
	}
	if img.Width() <= 0 || img.Height() <= 0 {
		return nil, decodeError("empty image %dx%d", img.Width(), img.Height())
	}
	return img, nil
}

var extDecoders = map[string]func(io.Reader) (image.Image, error){
	"avif": avif.Decode,
	"heic": heic.Decode,
	"heif": heic.Decode,
	"hif":  heic.Decode,
}

func (d *Decoder) decodeStandard(data []byte, ext string) (*DecodedImage, error) {
	if ext == "exr" || isEXR(data) {
		lin, err := decodeEXR(data)
		if err != nil {
			return nil, decodeError("openexr: %v", err)
		}
		// Scene-linear Rec.709 without an embedded profile.
		return lin.toWorking(GamutSRGB, d.ws, nil, true), nil
	}

	if d.opt.ExpandHDR && jpegx.IsJPEG(data) {
		lin, profile, err := expandGainMap(data, d.opt.MaxDisplayBoost)
		if err == nil {
			return lin.toWorking(profile.Gamut, d.ws, &profile, true), nil
		}
		if !errors.Is(err, errNoGainMap) {
			d.logger.Debug().Err(err).Msg("gain map ignored, decoding as SDR")
		}
	}

	var (
		img    image.Image
		format string
		err    error
	)
	if dec, ok := extDecoders[ext]; ok {
		img, err = dec(bytes.NewReader(data))
		format = ext
	}
	if img == nil {
		img, format, err = image.Decode(bytes.NewReader(data))
	}
	if err != nil {
		return nil, decodeError("%v", err)
	}

	if c, ok := isobmffColor(data); ok {
		return fromHEIF(img, c, d.ws), nil
	}
	return fromImage(img, detectColorProfile(embeddedICC(format, data)), d.ws), nil
}

func fromImage(img image.Image, profile ColorProfile, ws *WorkingSpace) *DecodedImage {
	return linearFromImage(img, profile.Transfer).toWorking(profile.Gamut, ws, &profile, false)
}

// embeddedICC extracts the ICC profile of formats that can carry one.
func embeddedICC(format string, data []byte) []byte {
	var icc []byte
	switch format {
	case "jpeg":
		icc, _ = jpegx.ICCProfile(data)
	case "png":
		icc = pngICC(data)
	case "webp":
		icc = webpICC(data)
	case "tiff":
		icc = tiffICC(data)
	}
	return icc
}

func pngICC(data []byte) []byte {
	const sigLen = 8
	pos := sigLen
	for pos+8 <= len(data) {
		n := int(binary.BigEndian.Uint32(data[pos:]))
		typ := string(data[pos+4 : pos+8])
		if n < 0 || pos+8+n > len(data) {
			return nil
		}
		body := data[pos+8 : pos+8+n]
		switch typ {
		case "iCCP":
			// Profile name, NUL, compression method, zlib stream.
			i := bytes.IndexByte(body, 0)
			if i < 0 || i+2 > len(body) {
				return nil
			}
			zr, err := zlib.NewReader(bytes.NewReader(body[i+2:]))
			if err != nil {
				return nil
			}
			defer zr.Close()
			icc, err := io.ReadAll(zr)
			if err != nil {
				return nil
			}
			return icc
		case "IDAT", "IEND":
			return nil
		}
		pos += 12 + n
	}
	return nil
}

func webpICC(data []byte) []byte {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WEBP" {
		return nil
	}
	pos := 12
	for pos+8 <= len(data) {
		n := int(binary.LittleEndian.Uint32(data[pos+4:]))
		if n < 0 || pos+8+n > len(data) {
			return nil
		}
		if string(data[pos:pos+4]) == "ICCP" {
			return data[pos+8 : pos+8+n]
		}
		pos += 8 + n + n&1
	}
	return nil
}

const tagICCProfile = 0x8773

func tiffICC(data []byte) []byte {
	t, err := tiff.Decode(bytes.NewReader(data))
	if err != nil || len(t.Dirs) == 0 {
		return nil
	}
	for _, tag := range t.Dirs[0].Tags {
		if tag.Id == tagICCProfile {
			return tag.Val
		}
	}
	return nil
}

// decodeTIFF decodes a whole TIFF container as a baseline image.
func decodeTIFF(data []byte) (image.Image, error) {
	return xtiff.Decode(bytes.NewReader(data))
}

func decodeJPEG(data []byte) (image.Image, error) {
	return jpeg.Decode(bytes.NewReader(data))
}

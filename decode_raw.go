package jpegconv

import (
	"bytes"
	"encoding/binary"
	"image"
	"io"
	"sort"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"

	"github.com/vearutop/jpegconv/internal/jpegx"
)

// TIFF/EP tags used to locate rendered previews inside camera RAW files.
const (
	tagCompression     = 0x0103
	tagStripOffsets    = 0x0111
	tagStripByteCounts = 0x0117
	tagSubIFDs         = 0x014A
	tagJPEGOffset      = 0x0201
	tagJPEGLength      = 0x0202

	compressionOldJPEG = 6
	compressionJPEG    = 7
)

type rawPreview struct {
	offset, size int64
}

// decodeRAW renders a camera RAW file from its largest decodable embedded
// preview, falling back to a plain TIFF decode, and applies EXIF orientation.
func (d *Decoder) decodeRAW(data []byte) (*DecodedImage, error) {
	orientation := 1
	var previews []rawPreview

	x, err := exif.Decode(bytes.NewReader(data))
	if x != nil {
		if tag, err := x.Get(exif.Orientation); err == nil {
			if v, err := tag.Int(0); err == nil {
				orientation = v
			}
		}
		previews = tiffPreviews(data, x.Tiff)
	} else {
		d.logger.Debug().Err(err).Msg("raw container not parsed, scanning for previews")
	}
	if len(previews) == 0 {
		previews = scanPreviews(data)
	}

	sort.SliceStable(previews, func(i, j int) bool { return previews[i].size > previews[j].size })

	for _, p := range previews {
		chunk := data[p.offset : p.offset+p.size]
		if !jpegx.IsJPEG(chunk) {
			continue
		}
		img, err := decodeJPEG(chunk)
		if err != nil {
			// Lossless sensor data also uses JPEG compression.
			continue
		}
		icc, _ := jpegx.ICCProfile(chunk)
		return fromImage(orient(img, orientation), detectColorProfile(icc), d.ws), nil
	}

	img, err := decodeTIFF(data)
	if err != nil {
		return nil, decodeError("no decodable raw preview: %v", err)
	}
	return fromImage(orient(img, orientation), detectColorProfile(tiffICC(data)), d.ws), nil
}

// tiffPreviews collects JPEG previews referenced from the IFD chain and its SubIFDs.
func tiffPreviews(data []byte, t *tiff.Tiff) []rawPreview {
	if t == nil {
		return nil
	}

	dirs := append([]*tiff.Dir(nil), t.Dirs...)
	r := bytes.NewReader(data)
	for i := 0; i < len(dirs) && i < 64; i++ {
		for _, off := range subIFDOffsets(dirs[i], t.Order) {
			if off <= 0 || off >= int64(len(data)) {
				continue
			}
			if _, err := r.Seek(off, io.SeekStart); err != nil {
				continue
			}
			sub, _, err := tiff.DecodeDir(r, t.Order)
			if err != nil {
				continue
			}
			dirs = append(dirs, sub)
		}
	}

	var out []rawPreview
	for _, dir := range dirs {
		if p, ok := dirPreview(dir); ok && p.offset >= 0 && p.size > 0 && p.offset+p.size <= int64(len(data)) {
			out = append(out, p)
		}
	}
	return out
}

func tagValue(d *tiff.Dir, id uint16) (int64, bool) {
	for _, tag := range d.Tags {
		if tag.Id != id || tag.Count != 1 {
			continue
		}
		v, err := tag.Int64(0)
		if err != nil {
			return 0, false
		}
		return v, true
	}
	return 0, false
}

func dirPreview(d *tiff.Dir) (rawPreview, bool) {
	if off, ok := tagValue(d, tagJPEGOffset); ok {
		if n, ok := tagValue(d, tagJPEGLength); ok {
			return rawPreview{offset: off, size: n}, true
		}
	}
	c, ok := tagValue(d, tagCompression)
	if !ok || (c != compressionOldJPEG && c != compressionJPEG) {
		return rawPreview{}, false
	}
	off, ok := tagValue(d, tagStripOffsets)
	if !ok {
		return rawPreview{}, false
	}
	n, ok := tagValue(d, tagStripByteCounts)
	if !ok {
		return rawPreview{}, false
	}
	return rawPreview{offset: off, size: n}, true
}

func subIFDOffsets(d *tiff.Dir, order binary.ByteOrder) []int64 {
	for _, tag := range d.Tags {
		if tag.Id != tagSubIFDs {
			continue
		}
		var out []int64
		for i := 0; i+4 <= len(tag.Val); i += 4 {
			out = append(out, int64(order.Uint32(tag.Val[i:])))
		}
		return out
	}
	return nil
}

// scanPreviews finds complete JPEG streams anywhere in data.
func scanPreviews(data []byte) []rawPreview {
	var out []rawPreview
	for i := 0; i+3 < len(data); i++ {
		if data[i] != 0xFF || data[i+1] != 0xD8 || data[i+2] != 0xFF {
			continue
		}
		end, err := jpegx.FindEnd(data, i)
		if err != nil {
			continue
		}
		out = append(out, rawPreview{offset: int64(i), size: int64(end - i)})
		i = end - 1
	}
	return out
}

// orient applies an EXIF orientation value.
func orient(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	}
	return img
}

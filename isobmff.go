package jpegconv

import (
	"encoding/binary"
	"image"
)

// nclxColor is an ISOBMFF colr box of type nclx (ISO/IEC 23091-2 code points).
type nclxColor struct {
	primaries, transfer, matrix uint16
	fullRange                   bool
}

// heifColor holds the colr boxes of an AVIF or HEIF item.
type heifColor struct {
	icc  []byte
	nclx *nclxColor
}

// eachBox calls fn for every box in data until fn returns false.
func eachBox(data []byte, fn func(typ string, body []byte) bool) {
	for len(data) >= 8 {
		size := uint64(binary.BigEndian.Uint32(data))
		typ := string(data[4:8])
		hdr := uint64(8)
		switch size {
		case 0:
			size = uint64(len(data))
		case 1:
			if len(data) < 16 {
				return
			}
			size = binary.BigEndian.Uint64(data[8:])
			hdr = 16
		}
		if size < hdr || size > uint64(len(data)) {
			return
		}
		if !fn(typ, data[hdr:size]) {
			return
		}
		data = data[size:]
	}
}

// childBox returns the body of the first box of type typ.
func childBox(data []byte, typ string) []byte {
	var out []byte
	eachBox(data, func(t string, body []byte) bool {
		if t == typ {
			out = body
			return false
		}
		return true
	})
	return out
}

// isobmffColor reads colr properties from meta/iprp/ipco. An ICC profile
// wins over nclx when both are present. ok is false for non-ISOBMFF data.
func isobmffColor(data []byte) (c heifColor, ok bool) {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return c, false
	}

	meta := childBox(data, "meta")
	if len(meta) < 4 {
		return c, true
	}
	// meta is a full box.
	ipco := childBox(childBox(meta[4:], "iprp"), "ipco")

	eachBox(ipco, func(typ string, body []byte) bool {
		if typ != "colr" || len(body) < 4 {
			return true
		}
		switch string(body[:4]) {
		case "prof", "rICC":
			if c.icc == nil && len(body) > 4 {
				c.icc = body[4:]
			}
		case "nclx":
			if c.nclx == nil && len(body) >= 11 {
				c.nclx = &nclxColor{
					primaries: binary.BigEndian.Uint16(body[4:]),
					transfer:  binary.BigEndian.Uint16(body[6:]),
					matrix:    binary.BigEndian.Uint16(body[8:]),
					fullRange: body[10]&0x80 != 0,
				}
			}
		}
		return true
	})
	return c, true
}

// nclx code points.
const (
	nclxPrimariesBT709  = 1
	nclxPrimariesBT2020 = 9
	nclxPrimariesP3D65  = 12

	nclxTransferGamma22 = 4
	nclxTransferLinear  = 8
	nclxTransferSRGB    = 13
	nclxTransferPQ      = 16
	nclxTransferHLG     = 18
)

// profile maps nclx code points onto a source profile. BT.709 style
// camera curves decode with the sRGB curve.
func (n nclxColor) profile() (ColorProfile, bool) {
	p := ColorProfile{Gamut: GamutSRGB, Transfer: TransferSRGB}
	switch n.primaries {
	case nclxPrimariesBT2020:
		p.Gamut = GamutBT2020
	case nclxPrimariesP3D65:
		p.Gamut = GamutDisplayP3
	}

	hdr := false
	switch n.transfer {
	case nclxTransferGamma22:
		p.Transfer = TransferGamma22
	case nclxTransferLinear:
		p.Transfer = TransferLinear
	case nclxTransferPQ:
		p.Transfer = TransferPQ
		hdr = true
	case nclxTransferHLG:
		p.Transfer = TransferHLG
		hdr = true
	}
	p.Name = p.Gamut.String()
	return p, hdr
}

// fromHEIF converts a decoded AVIF or HEIF frame using its colr boxes.
func fromHEIF(img image.Image, c heifColor, ws *WorkingSpace) *DecodedImage {
	if len(c.icc) > 0 {
		return fromImage(img, detectColorProfile(c.icc), ws)
	}
	if c.nclx == nil {
		return fromImage(img, implicitSRGB, ws)
	}

	src, hdr := c.nclx.profile()
	lin := linearFromImage(img, src.Transfer)
	if hdr {
		// Output carries the working space.
		return lin.toWorking(src.Gamut, ws, nil, true)
	}

	carried := implicitSRGB
	if src.Gamut != GamutSRGB {
		if icc, err := synthesizeICC(src.Name, src.Gamut); err == nil {
			carried = ColorProfile{Name: src.Name, Gamut: src.Gamut, Transfer: TransferSRGB, ICC: icc}
		}
	}
	return lin.toWorking(src.Gamut, ws, &carried, false)
}

package testutil

import (
	"bytes"
	"encoding/binary"
)

// DICOMImage describes a single-frame MONOCHROME2 file with 16-bit
// allocated, 12-bit stored samples.
type DICOMImage struct {
	Rows, Cols uint16
	Pixels     []uint16
	// Window is the WindowCenter and WindowWidth pair; empty omits both.
	Window []string
	// Intercept sets RescaleIntercept with a slope of 1; empty omits both.
	Intercept string
	// Signed sets PixelRepresentation to two's complement.
	Signed bool

	OmitPreamble  bool
	OmitPixelData bool
}

// ChestCT is a 2x2 frame covering Hounsfield 0, 40, 240 and 1976 under a
// soft tissue window of 40/400.
func ChestCT() DICOMImage {
	return DICOMImage{
		Rows: 2, Cols: 2,
		Pixels:    []uint16{1024, 1064, 1264, 3000},
		Window:    []string{"40", "400"},
		Intercept: "-1024",
	}
}

// Encode writes the image as an explicit VR little endian Part 10 file.
func (d DICOMImage) Encode() []byte {
	var meta bytes.Buffer
	element(&meta, 0x0002, 0x0001, "OB", []byte{0x00, 0x01})
	element(&meta, 0x0002, 0x0002, "UI", []byte("1.2.840.10008.5.1.4.1.1.2"))
	element(&meta, 0x0002, 0x0003, "UI", []byte("1.2.3.4.5.6.7.8.9"))
	element(&meta, 0x0002, 0x0010, "UI", []byte("1.2.840.10008.1.2.1"))

	var out bytes.Buffer
	if !d.OmitPreamble {
		out.Write(make([]byte, 128))
		out.WriteString("DICM")
	}
	element(&out, 0x0002, 0x0000, "UL", binary.LittleEndian.AppendUint32(nil, uint32(meta.Len())))
	out.Write(meta.Bytes())

	var rep uint16
	if d.Signed {
		rep = 1
	}
	element(&out, 0x0028, 0x0002, "US", us(1))
	element(&out, 0x0028, 0x0004, "CS", []byte("MONOCHROME2"))
	element(&out, 0x0028, 0x0010, "US", us(d.Rows))
	element(&out, 0x0028, 0x0011, "US", us(d.Cols))
	element(&out, 0x0028, 0x0100, "US", us(16))
	element(&out, 0x0028, 0x0101, "US", us(12))
	element(&out, 0x0028, 0x0102, "US", us(11))
	element(&out, 0x0028, 0x0103, "US", us(rep))
	if len(d.Window) == 2 {
		element(&out, 0x0028, 0x1050, "DS", []byte(d.Window[0]))
		element(&out, 0x0028, 0x1051, "DS", []byte(d.Window[1]))
	}
	if d.Intercept != "" {
		element(&out, 0x0028, 0x1052, "DS", []byte(d.Intercept))
		element(&out, 0x0028, 0x1053, "DS", []byte("1"))
	}
	if !d.OmitPixelData {
		px := make([]byte, 0, 2*len(d.Pixels))
		for _, p := range d.Pixels {
			px = binary.LittleEndian.AppendUint16(px, p)
		}
		element(&out, 0x7FE0, 0x0010, "OW", px)
	}
	return out.Bytes()
}

func element(buf *bytes.Buffer, group, elem uint16, vr string, value []byte) {
	if len(value)%2 == 1 {
		pad := byte(' ')
		if vr == "UI" || vr == "OB" || vr == "OW" {
			pad = 0
		}
		value = append(value, pad)
	}
	buf.Write(binary.LittleEndian.AppendUint16(nil, group))
	buf.Write(binary.LittleEndian.AppendUint16(nil, elem))
	buf.WriteString(vr)
	switch vr {
	case "OB", "OW", "SQ", "UN", "UT":
		buf.Write([]byte{0, 0})
		buf.Write(binary.LittleEndian.AppendUint32(nil, uint32(len(value))))
	default:
		buf.Write(binary.LittleEndian.AppendUint16(nil, uint16(len(value))))
	}
	buf.Write(value)
}

func us(v uint16) []byte {
	return binary.LittleEndian.AppendUint16(nil, v)
}

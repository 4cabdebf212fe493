package detector

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg" // register decoders
	_ "image/png"
	"net/http"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/pneumai/pneumai-go/internal/errors"
)

// DefaultMaxPixels caps decoded width*height when no limit is configured.
const DefaultMaxPixels int64 = 89_478_485

// MIME types of the formats Decode understands.
var formatMIME = map[string]string{
	"jpeg":  "image/jpeg",
	"png":   "image/png",
	"bmp":   "image/bmp",
	"tiff":  "image/tiff",
	"webp":  "image/webp",
	"dicom": MIMEDICOM,
}

// DecodeOptions bound a decode. The zero value applies DefaultMaxPixels and
// relies on content sniffing alone.
type DecodeOptions struct {
	// MaxPixels rejects images whose header declares more pixels.
	MaxPixels int64
	// FileName routes .dcm and .dicom uploads to the DICOM reader.
	FileName string
}

func (o DecodeOptions) maxPixels() int64 {
	if o.MaxPixels <= 0 {
		return DefaultMaxPixels
	}
	return o.MaxPixels
}

// Header is what an image declares about itself before any pixels are read.
type Header struct {
	Format string
	Width  int
	Height int
}

// Decoded is an image together with what was learned while decoding it.
type Decoded struct {
	Image  image.Image
	Format string // jpeg, png, bmp, tiff, webp or dicom
	Width  int
	Height int
}

// MIMEType returns the media type of the decoded format.
func (d *Decoded) MIMEType() string {
	return formatMIME[d.Format]
}

// Inspect reads only the image header and enforces the pixel limit. Oversized
// images carry CategoryLimit, unreadable headers CategoryImageDecode.
func Inspect(data []byte, opts DecodeOptions) (Header, error) {
	if len(data) == 0 {
		return Header{}, decodeError(errors.NewStd("empty image"), data)
	}

	var h Header
	if IsDICOM(data, opts.FileName) {
		rows, cols, err := dicomDimensions(data)
		if err != nil {
			return Header{}, err
		}
		h = Header{Format: "dicom", Width: cols, Height: rows}
	} else {
		cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return Header{}, decodeError(fmt.Errorf("read image header: %w", err), data)
		}
		h = Header{Format: format, Width: cfg.Width, Height: cfg.Height}
	}

	if h.Width <= 0 || h.Height <= 0 {
		return Header{}, errors.Newf("image has zero dimensions").
			Component("detector").
			Category(errors.CategoryImageDecode).
			Context("format", h.Format).
			Build()
	}
	limit := opts.maxPixels()
	if int64(h.Width)*int64(h.Height) > limit {
		return Header{}, errors.Newf("image of %dx%d pixels exceeds the limit of %d pixels", h.Width, h.Height, limit).
			Component("detector").
			Category(errors.CategoryLimit).
			Context("format", h.Format).
			Context("width", h.Width).
			Context("height", h.Height).
			Context("max_pixels", limit).
			Build()
	}
	return h, nil
}

// Decode parses image bytes after Inspect has accepted the header.
func Decode(data []byte, opts DecodeOptions) (*Decoded, error) {
	h, err := Inspect(data, opts)
	if err != nil {
		return nil, err
	}

	var img image.Image
	if h.Format == "dicom" {
		img, err = decodeDICOM(data)
		if err != nil {
			return nil, err
		}
	} else {
		var format string
		img, format, err = image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, decodeError(fmt.Errorf("decode image: %w", err), data)
		}
		h.Format = format
	}

	b := img.Bounds()
	if b.Dx() != h.Width || b.Dy() != h.Height {
		return nil, errors.Newf("decoded size %dx%d does not match header %dx%d", b.Dx(), b.Dy(), h.Width, h.Height).
			Component("detector").
			Category(errors.CategoryImageDecode).
			Context("format", h.Format).
			Build()
	}
	return &Decoded{Image: img, Format: h.Format, Width: h.Width, Height: h.Height}, nil
}

func decodeError(err error, data []byte) error {
	return errors.New(err).
		Component("detector").
		Category(errors.CategoryImageDecode).
		Context("size_bytes", len(data)).
		Context("sniffed_type", SniffMIME(data)).
		Build()
}

// SniffMIME guesses the media type from the leading bytes. BMP, TIFF, WebP
// and DICOM are recognized beyond what net/http sniffs.
func SniffMIME(data []byte) string {
	switch {
	case hasDICOMMagic(data):
		return MIMEDICOM
	case len(data) >= 2 && data[0] == 'B' && data[1] == 'M':
		return "image/bmp"
	case len(data) >= 4 && (bytes.Equal(data[:4], []byte("II*\x00")) || bytes.Equal(data[:4], []byte("MM\x00*"))):
		return "image/tiff"
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return "image/webp"
	}
	return http.DetectContentType(data)
}

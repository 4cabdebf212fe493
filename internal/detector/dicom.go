package detector

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/pneumai/pneumai-go/internal/errors"
)

// MIMEDICOM is the media type of DICOM Part 10 files.
const MIMEDICOM = "application/dicom"

// The "DICM" prefix follows a 128 byte preamble.
const dicomPreamble = 128

func hasDICOMMagic(data []byte) bool {
	return len(data) >= dicomPreamble+4 && string(data[dicomPreamble:dicomPreamble+4]) == "DICM"
}

// IsDICOM reports whether data should go through the DICOM reader, either by
// its Part 10 prefix or by a .dcm or .dicom file name.
func IsDICOM(data []byte, fileName string) bool {
	if hasDICOMMagic(data) {
		return true
	}
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".dcm", ".dicom":
		return true
	}
	return false
}

func dicomError(err error, data []byte) error {
	return errors.New(fmt.Errorf("parse dicom: %w", err)).
		Component("detector").
		Category(errors.CategoryImageDecode).
		Context("format", "dicom").
		Context("size_bytes", len(data)).
		Build()
}

// dicomDimensions parses the dataset without pixel data.
func dicomDimensions(data []byte) (rows, cols int, err error) {
	ds, err := dicom.Parse(bytes.NewReader(data), int64(len(data)), nil, dicom.SkipPixelData())
	if err != nil {
		return 0, 0, dicomError(err, data)
	}
	rows, okRows := firstInt(ds, tag.Rows)
	cols, okCols := firstInt(ds, tag.Columns)
	if !okRows || !okCols {
		return 0, 0, dicomError(errors.NewStd("missing Rows or Columns"), data)
	}
	return rows, cols, nil
}

// decodeDICOM renders the first frame as 8-bit grayscale. Stored values pass
// through the rescale slope and intercept, are clipped to the first
// WindowCenter/WindowWidth pair when present, then min-max normalized.
// A flat frame renders black.
func decodeDICOM(data []byte) (*image.Gray, error) {
	ds, err := dicom.Parse(bytes.NewReader(data), int64(len(data)), nil)
	if err != nil {
		return nil, dicomError(err, data)
	}

	el, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, dicomError(err, data)
	}
	info, ok := el.Value.GetValue().(dicom.PixelDataInfo)
	if !ok || len(info.Frames) == 0 {
		return nil, dicomError(errors.NewStd("no pixel frames"), data)
	}

	values, rows, cols, err := frameValues(ds, info)
	if err != nil {
		return nil, dicomError(err, data)
	}

	slope, ok := firstFloat(ds, tag.RescaleSlope)
	if !ok || slope == 0 {
		slope = 1
	}
	intercept, _ := firstFloat(ds, tag.RescaleIntercept)
	for i, v := range values {
		values[i] = v*slope + intercept
	}

	center, okCenter := firstFloat(ds, tag.WindowCenter)
	width, okWidth := firstFloat(ds, tag.WindowWidth)
	if okCenter && okWidth && width > 0 {
		lower, upper := center-width/2, center+width/2
		for i, v := range values {
			values[i] = math.Min(math.Max(v, lower), upper)
		}
	} else {
		GetLogger().Debug("dicom window level not applied")
	}

	return normalizeGray(values, cols, rows), nil
}

// frameValues returns one value per pixel of the first frame. Multi-sample
// pixels are averaged.
func frameValues(ds dicom.Dataset, info dicom.PixelDataInfo) ([]float64, int, int, error) {
	fr := info.Frames[0]
	if fr.Encapsulated {
		img, err := fr.GetImage()
		if err != nil {
			return nil, 0, 0, err
		}
		b := img.Bounds()
		values := make([]float64, 0, b.Dx()*b.Dy())
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				values = append(values, float64(color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y))
			}
		}
		return values, b.Dy(), b.Dx(), nil
	}

	native := fr.NativeData
	if native.Rows <= 0 || native.Cols <= 0 || len(native.Data) < native.Rows*native.Cols {
		return nil, 0, 0, fmt.Errorf("native frame holds %d pixels for %dx%d", len(native.Data), native.Cols, native.Rows)
	}

	bitsStored, ok := firstInt(ds, tag.BitsStored)
	if !ok || bitsStored <= 0 || bitsStored > 32 {
		bitsStored = native.BitsPerSample
	}
	signed := false
	if rep, ok := firstInt(ds, tag.PixelRepresentation); ok && rep == 1 {
		signed = true
	}

	values := make([]float64, native.Rows*native.Cols)
	for i := range values {
		samples := native.Data[i]
		if len(samples) == 0 {
			continue
		}
		var sum float64
		for _, s := range samples {
			sum += float64(storedValue(s, bitsStored, signed))
		}
		values[i] = sum / float64(len(samples))
	}
	return values, native.Rows, native.Cols, nil
}

// storedValue masks v to its stored bits and sign-extends when signed.
func storedValue(v, bitsStored int, signed bool) int {
	if bitsStored <= 0 || bitsStored >= 32 {
		return v
	}
	v &= (1 << bitsStored) - 1
	if signed && v&(1<<(bitsStored-1)) != 0 {
		v -= 1 << bitsStored
	}
	return v
}

func normalizeGray(values []float64, width, height int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, width, height))
	if len(values) == 0 {
		return img
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi <= lo {
		return img
	}
	span := hi - lo
	for i, v := range values {
		img.Pix[i] = uint8((v - lo) * 255 / span)
	}
	return img
}

func firstInt(ds dicom.Dataset, t tag.Tag) (int, bool) {
	el, err := ds.FindElementByTag(t)
	if err != nil {
		return 0, false
	}
	switch v := el.Value.GetValue().(type) {
	case []int:
		if len(v) > 0 {
			return v[0], true
		}
	case []string:
		if len(v) > 0 {
			n, err := strconv.Atoi(strings.TrimSpace(v[0]))
			return n, err == nil
		}
	}
	return 0, false
}

// firstFloat reads the first value of a multi-valued numeric element such as
// WindowCenter, which DICOM stores as decimal strings.
func firstFloat(ds dicom.Dataset, t tag.Tag) (float64, bool) {
	el, err := ds.FindElementByTag(t)
	if err != nil {
		return 0, false
	}
	switch v := el.Value.GetValue().(type) {
	case []string:
		if len(v) > 0 {
			f, err := strconv.ParseFloat(strings.TrimSpace(strings.Split(v[0], `\`)[0]), 64)
			return f, err == nil
		}
	case []float64:
		if len(v) > 0 {
			return v[0], true
		}
	case []int:
		if len(v) > 0 {
			return float64(v[0]), true
		}
	}
	return 0, false
}

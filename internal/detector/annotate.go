package detector

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"strings"
	"unicode"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/pneumai/pneumai-go/internal/errors"
)

// Rendering parameters for the annotated overlay and thumbnail.
const (
	AnnotatedQuality = 95
	ThumbnailQuality = 85
	ThumbnailSize    = 200

	boxThickness = 3
	legendHeight = 50
	labelPadding = 3
)

var (
	boxColor    = color.RGBA{R: 239, G: 68, B: 68, A: 255}
	labelText   = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	legendColor = color.RGBA{R: 17, G: 24, B: 39, A: 255}
)

// Annotate draws every detection onto a copy of img, appends a legend strip
// with the detection count and returns the result as JPEG.
func Annotate(img image.Image, dets []Detection) ([]byte, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	canvas := image.NewRGBA(image.Rect(0, 0, w, h+legendHeight))
	draw.Draw(canvas, image.Rect(0, 0, w, h), img, b.Min, draw.Src)
	draw.Draw(canvas, image.Rect(0, h, w, h+legendHeight), image.NewUniform(legendColor), image.Point{}, draw.Src)

	face := basicfont.Face7x13
	for _, d := range dets {
		r := d.Box.Rect().Intersect(image.Rect(0, 0, w, h))
		if r.Empty() {
			continue
		}
		strokeRect(canvas, r, boxThickness, boxColor)

		label := fmt.Sprintf("%s: %.1f%%", displayClass(d.Class), d.Confidence*100)
		drawTag(canvas, face, label, r.Min)
	}

	legend := fmt.Sprintf("Detections: %d", len(dets))
	drawString(canvas, face, legend, 10, h+legendHeight/2+face.Ascent/2, labelText)

	return encodeJPEG(canvas, AnnotatedQuality)
}

// Thumbnail scales img to fit a ThumbnailSize square, keeping the aspect ratio.
func Thumbnail(img image.Image) ([]byte, error) {
	b := img.Bounds()
	scale := min(float64(ThumbnailSize)/float64(b.Dx()), float64(ThumbnailSize)/float64(b.Dy()), 1)
	w := max(1, int(float64(b.Dx())*scale))
	h := max(1, int(float64(b.Dy())*scale))

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return encodeJPEG(dst, ThumbnailQuality)
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, errors.New(fmt.Errorf("encode jpeg: %w", err)).
			Component("detector").
			Category(errors.CategoryImageRender).
			Build()
	}
	return buf.Bytes(), nil
}

func strokeRect(dst *image.RGBA, r image.Rectangle, thickness int, c color.Color) {
	src := image.NewUniform(c)
	t := min(thickness, r.Dx(), r.Dy())
	draw.Draw(dst, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+t), src, image.Point{}, draw.Src)
	draw.Draw(dst, image.Rect(r.Min.X, r.Max.Y-t, r.Max.X, r.Max.Y), src, image.Point{}, draw.Src)
	draw.Draw(dst, image.Rect(r.Min.X, r.Min.Y, r.Min.X+t, r.Max.Y), src, image.Point{}, draw.Src)
	draw.Draw(dst, image.Rect(r.Max.X-t, r.Min.Y, r.Max.X, r.Max.Y), src, image.Point{}, draw.Src)
}

// drawTag renders label on a filled tag sitting above the box corner, or just
// inside it when the box touches the top edge.
func drawTag(dst *image.RGBA, face *basicfont.Face, label string, corner image.Point) {
	textW := font.MeasureString(face, label).Ceil()
	tagH := face.Height + 2*labelPadding

	top := corner.Y - tagH
	if top < 0 {
		top = corner.Y
	}
	tag := image.Rect(corner.X, top, corner.X+textW+2*labelPadding, top+tagH).Intersect(dst.Bounds())
	draw.Draw(dst, tag, image.NewUniform(boxColor), image.Point{}, draw.Src)
	drawString(dst, face, label, corner.X+labelPadding, top+labelPadding+face.Ascent, labelText)
}

func drawString(dst *image.RGBA, face font.Face, s string, x, y int, c color.Color) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

func displayClass(class string) string {
	if class == "" {
		return class
	}
	r := []rune(class)
	r[0] = unicode.ToUpper(r[0])
	return strings.ReplaceAll(string(r), "_", " ")
}

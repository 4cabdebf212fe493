package detector

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// padGrey is the letterbox fill value used at training time.
const padGrey = 114

// letterbox describes how an original image was mapped onto the square model input.
// The resized image sits at the top-left corner; padding fills the rest.
type letterbox struct {
	size   int     // model input edge in pixels
	scale  float64 // original to input scale factor
	origW  int
	origH  int
	scaled image.Rectangle
}

func newLetterbox(origW, origH, size int) letterbox {
	scale := min(float64(size)/float64(origW), float64(size)/float64(origH))
	w := max(1, int(float64(origW)*scale))
	h := max(1, int(float64(origH)*scale))
	return letterbox{
		size:   size,
		scale:  scale,
		origW:  origW,
		origH:  origH,
		scaled: image.Rect(0, 0, w, h),
	}
}

// render resizes img into a padded RGBA canvas of the input size.
func (lb letterbox) render(img image.Image) *image.RGBA {
	canvas := image.NewRGBA(image.Rect(0, 0, lb.size, lb.size))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.RGBA{padGrey, padGrey, padGrey, 255}), image.Point{}, draw.Src)
	draw.BiLinear.Scale(canvas, lb.scaled, img, img.Bounds(), draw.Src, nil)
	return canvas
}

// tensor fills dst with the canvas as NHWC RGB float32 values in [0,1].
// dst must hold size*size*3 values.
func (lb letterbox) tensor(canvas *image.RGBA, dst []float32) {
	const inv = 1.0 / 255.0
	i := 0
	for y := 0; y < lb.size; y++ {
		row := canvas.Pix[y*canvas.Stride : y*canvas.Stride+lb.size*4]
		for x := 0; x < lb.size*4; x += 4 {
			dst[i] = float32(row[x]) * inv
			dst[i+1] = float32(row[x+1]) * inv
			dst[i+2] = float32(row[x+2]) * inv
			i += 3
		}
	}
}

// toOriginal maps an input-space corner box back to original pixels,
// clamped to the image.
func (lb letterbox) toOriginal(x1, y1, x2, y2 float64) BoundingBox {
	x1 = clamp(x1/lb.scale, 0, float64(lb.origW))
	y1 = clamp(y1/lb.scale, 0, float64(lb.origH))
	x2 = clamp(x2/lb.scale, 0, float64(lb.origW))
	y2 = clamp(y2/lb.scale, 0, float64(lb.origH))
	return BoundingBox{
		X:      int(x1),
		Y:      int(y1),
		Width:  int(x2) - int(x1),
		Height: int(y2) - int(y1),
	}
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}

// tensorCHW fills dst with the canvas as planar RGB float32 values in [0,1].
func (lb letterbox) tensorCHW(canvas *image.RGBA, dst []float32) {
	const inv = 1.0 / 255.0
	plane := lb.size * lb.size
	for y := 0; y < lb.size; y++ {
		for x := 0; x < lb.size; x++ {
			p := y*canvas.Stride + x*4
			i := y*lb.size + x
			dst[i] = float32(canvas.Pix[p]) * inv
			dst[plane+i] = float32(canvas.Pix[p+1]) * inv
			dst[2*plane+i] = float32(canvas.Pix[p+2]) * inv
		}
	}
}

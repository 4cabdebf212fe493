// Package detector runs the lesion detection model over decoded images and
// renders the annotated overlay and thumbnail stored with each scan.
package detector

import (
	"context"
	"image"
	"slices"
)

// Class names indexed by model output class.
const (
	ClassNormal     = "normal"
	ClassBenign     = "benign"
	ClassMalignant  = "malignant"
	ClassNodule     = "nodule"
	ClassMass       = "mass"
	ClassSuspicious = "suspicious"
)

// DefaultLabels is the class table used when the model ships without one.
var DefaultLabels = []string{ClassNormal, ClassBenign, ClassMalignant, ClassNodule, ClassMass, ClassSuspicious}

// BoundingBox is a pixel rectangle in original-image coordinates.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Rect returns the box as an image.Rectangle.
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height)
}

// Characteristics are coarse lesion descriptors derived from the box geometry.
type Characteristics struct {
	SizeMM  float64 `json:"sizeMm"`
	Shape   string  `json:"shape"`
	Density string  `json:"density"`
}

// Detection is one model finding.
type Detection struct {
	Class           string          `json:"class"`
	ClassID         int             `json:"classId"`
	Confidence      float64         `json:"confidence"`
	Box             BoundingBox     `json:"boundingBox"`
	Characteristics Characteristics `json:"characteristics"`
}

// Detector finds lesions in a decoded image. Implementations must be safe for
// concurrent use and return detections ordered by descending confidence.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]Detection, error)
	Ready() bool
	ModelVersion() string
}

// Confidences returns the confidence of every detection, in order.
func Confidences(dets []Detection) []float64 {
	out := make([]float64, len(dets))
	for i, d := range dets {
		out[i] = d.Confidence
	}
	return out
}

// TopClass returns the class of the most confident detection, or normal.
func TopClass(dets []Detection) string {
	if len(dets) == 0 {
		return ClassNormal
	}
	best := dets[0]
	for _, d := range dets[1:] {
		if d.Confidence > best.Confidence {
			best = d
		}
	}
	return best.Class
}

// sortByConfidence orders detections most confident first, stable on ties.
func sortByConfidence(dets []Detection) {
	slices.SortStableFunc(dets, func(a, b Detection) int {
		switch {
		case a.Confidence > b.Confidence:
			return -1
		case a.Confidence < b.Confidence:
			return 1
		default:
			return 0
		}
	})
}

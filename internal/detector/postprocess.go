package detector

import (
	"math"
	"slices"
	"strconv"
)

// candidate is a box in model input space, before NMS.
type candidate struct {
	x1, y1, x2, y2 float64
	score          float64
	class          int
}

func (c candidate) area() float64 {
	return max(0, c.x2-c.x1) * max(0, c.y2-c.y1)
}

func iou(a, b candidate) float64 {
	ix := max(0, min(a.x2, b.x2)-max(a.x1, b.x1))
	iy := max(0, min(a.y2, b.y2)-max(a.y1, b.y1))
	inter := ix * iy
	union := a.area() + b.area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// outputLayout describes the YOLO head tensor. Channel-first exports are
// [1, 4+nc, N]; some converters emit [1, N, 4+nc].
type outputLayout struct {
	attrs        int // 4 + number of classes
	anchors      int
	channelFirst bool
}

func (l outputLayout) at(out []float32, attr, anchor int) float64 {
	if l.channelFirst {
		return float64(out[attr*l.anchors+anchor])
	}
	return float64(out[anchor*l.attrs+attr])
}

// layoutFromDims derives the layout from the output tensor dimensions.
// The attribute axis is the smaller of the two trailing axes.
func layoutFromDims(d1, d2 int) outputLayout {
	if d1 <= d2 {
		return outputLayout{attrs: d1, anchors: d2, channelFirst: true}
	}
	return outputLayout{attrs: d2, anchors: d1, channelFirst: false}
}

// decodeCandidates picks the best class per anchor and keeps anchors scoring at
// least threshold. Box coordinates normalized to [0,1] are scaled to inputSize.
func decodeCandidates(out []float32, layout outputLayout, threshold float64, inputSize int) []candidate {
	if layout.attrs <= 4 || len(out) < layout.attrs*layout.anchors {
		return nil
	}

	var cands []candidate
	normalized := true
	for i := 0; i < layout.anchors; i++ {
		best, bestScore := -1, -math.MaxFloat64
		for c := 4; c < layout.attrs; c++ {
			if s := layout.at(out, c, i); s > bestScore {
				best, bestScore = c-4, s
			}
		}
		if bestScore < threshold {
			continue
		}

		cx, cy := layout.at(out, 0, i), layout.at(out, 1, i)
		w, h := layout.at(out, 2, i), layout.at(out, 3, i)
		if cx > 1.5 || cy > 1.5 || w > 1.5 || h > 1.5 {
			normalized = false
		}
		cands = append(cands, candidate{
			x1: cx - w/2, y1: cy - h/2,
			x2: cx + w/2, y2: cy + h/2,
			score: bestScore,
			class: best,
		})
	}

	if normalized {
		s := float64(inputSize)
		for i := range cands {
			cands[i].x1 *= s
			cands[i].y1 *= s
			cands[i].x2 *= s
			cands[i].y2 *= s
		}
	}
	return cands
}

// nms performs greedy class-agnostic suppression: the highest scoring box wins
// and every remaining box overlapping it by more than iouThreshold is dropped.
func nms(cands []candidate, iouThreshold float64) []candidate {
	sorted := slices.Clone(cands)
	slices.SortStableFunc(sorted, func(a, b candidate) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		default:
			return 0
		}
	})

	kept := make([]candidate, 0, len(sorted))
	suppressed := make([]bool, len(sorted))
	for i := range sorted {
		if suppressed[i] {
			continue
		}
		kept = append(kept, sorted[i])
		for j := i + 1; j < len(sorted); j++ {
			if !suppressed[j] && iou(sorted[i], sorted[j]) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}

// toDetections maps surviving candidates to original-image detections.
// Boxes that collapse to nothing after clamping are dropped.
func toDetections(cands []candidate, lb letterbox, labels []string) []Detection {
	dets := make([]Detection, 0, len(cands))
	for _, c := range cands {
		box := lb.toOriginal(c.x1, c.y1, c.x2, c.y2)
		if box.Width <= 0 || box.Height <= 0 {
			continue
		}
		dets = append(dets, Detection{
			Class:           labelFor(labels, c.class),
			ClassID:         c.class,
			Confidence:      math.Round(c.score*1000) / 1000,
			Box:             box,
			Characteristics: characterize(box),
		})
	}
	sortByConfidence(dets)
	return dets
}

func labelFor(labels []string, class int) string {
	if class >= 0 && class < len(labels) {
		return labels[class]
	}
	return "class_" + strconv.Itoa(class)
}

// mmPerPixel is a rough calibration for typical CT slice spacing.
const mmPerPixel = 0.5

// characterize derives size and shape from the box.
func characterize(box BoundingBox) Characteristics {
	w, h := float64(box.Width), float64(box.Height)
	size := (w + h) / 2 * mmPerPixel

	aspect := 1.0
	if h > 0 {
		aspect = w / h
	}
	shape := "irregular"
	switch {
	case aspect >= 0.8 && aspect <= 1.2:
		shape = "round"
	case aspect >= 0.5 && aspect <= 2.0:
		shape = "oval"
	}

	return Characteristics{
		SizeMM:  math.Round(size*10) / 10,
		Shape:   shape,
		Density: "solid",
	}
}

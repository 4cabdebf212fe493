package detector

import (
	"context"
	"image"
	"slices"
	"sync/atomic"
	"time"
)

// Static is a deterministic Detector returning a fixed detection set. It backs
// demos without a model file and tests of the ingestion pipeline.
type Static struct {
	Detections []Detection
	Version    string
	Delay      time.Duration // simulated inference time, honours ctx
	Err        error         // returned instead of detections when set

	calls atomic.Int64
}

// NewStatic returns a Static detector with the given detections.
func NewStatic(dets ...Detection) *Static {
	return &Static{Detections: dets, Version: "static"}
}

// Detect returns a copy of the configured detections with boxes clamped to img.
func (s *Static) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	s.calls.Add(1)
	if s.Delay > 0 {
		timer := time.NewTimer(s.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}

	bounds := img.Bounds()
	out := make([]Detection, 0, len(s.Detections))
	for _, d := range s.Detections {
		r := d.Box.Rect().Intersect(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		if r.Empty() {
			continue
		}
		d.Box = BoundingBox{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
		if d.Characteristics == (Characteristics{}) {
			d.Characteristics = characterize(d.Box)
		}
		out = append(out, d)
	}
	sortByConfidence(out)
	return slices.Clip(out), nil
}

// Ready always reports true.
func (s *Static) Ready() bool { return true }

// ModelVersion returns the configured version label.
func (s *Static) ModelVersion() string {
	if s.Version == "" {
		return "static"
	}
	return s.Version
}

// Calls returns how many times Detect was invoked.
func (s *Static) Calls() int64 {
	return s.calls.Load()
}

package analysis

import (
	"strings"

	"github.com/pneumai/pneumai-go/internal/conf"
	"github.com/pneumai/pneumai-go/internal/cpuspec"
	"github.com/pneumai/pneumai-go/internal/detector"
	"github.com/pneumai/pneumai-go/internal/logger"
)

// StaticModel is the model path that selects the built-in demo detector.
const StaticModel = "none"

// NewDetector loads the configured model. The returned closer releases the
// interpreter and is never nil.
func NewDetector(m conf.ModelSettings) (detector.Detector, func(), error) {
	if strings.EqualFold(strings.TrimSpace(m.Path), StaticModel) {
		GetLogger().Warn("no model configured, serving static demo detections")
		return detector.NewStatic(), func() {}, nil
	}

	threads := m.Threads
	if threads <= 0 {
		spec := cpuspec.GetCPUSpec()
		threads = spec.OptimalThreadCount()
		GetLogger().Info("selected interpreter threads",
			logger.String("cpu", spec.BrandName),
			logger.Int("threads", threads))
	}

	yolo, err := detector.NewYOLO(detector.Config{
		ModelPath:           m.Path,
		Version:             m.Version,
		InputSize:           m.InputSize,
		ConfidenceThreshold: m.ConfidenceThreshold,
		IoUThreshold:        m.IoUThreshold,
		Threads:             threads,
		UseXNNPACK:          m.UseXNNPACK,
		Labels:              m.Labels,
	})
	if err != nil {
		return nil, func() {}, err
	}
	return yolo, yolo.Close, nil
}

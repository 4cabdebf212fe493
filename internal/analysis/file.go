package analysis

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pneumai/pneumai-go/internal/conf"
	"github.com/pneumai/pneumai-go/internal/datastore"
	"github.com/pneumai/pneumai-go/internal/datastore/repository"
	"github.com/pneumai/pneumai-go/internal/detector"
	"github.com/pneumai/pneumai-go/internal/errors"
	"github.com/pneumai/pneumai-go/internal/fingerprint"
	"github.com/pneumai/pneumai-go/internal/ingest"
	"github.com/pneumai/pneumai-go/internal/logger"
)

// FileResult is the offline outcome for one image file.
type FileResult struct {
	Path   string `json:"path"`
	Digest string `json:"digest,omitempty"`
	*ingest.Analysis
	Error string `json:"error,omitempty"`
}

// Analyzer scores image files through the same inference pool the service uses,
// without persisting anything.
type Analyzer struct {
	orch     *ingest.Orchestrator
	fp       *fingerprint.Fingerprinter
	maxBytes int64
	workers  int
	closers  []func()
}

// AnalyzerOption configures an Analyzer.
type AnalyzerOption func(*analyzerOptions)

type analyzerOptions struct {
	detector detector.Detector
}

// WithAnalyzerDetector replaces the configured model.
func WithAnalyzerDetector(d detector.Detector) AnalyzerOption {
	return func(o *analyzerOptions) { o.detector = d }
}

// NewAnalyzer loads the model from settings. Close releases it.
func NewAnalyzer(settings *conf.Settings, opts ...AnalyzerOption) (*Analyzer, error) {
	var o analyzerOptions
	for _, opt := range opts {
		opt(&o)
	}

	a := &Analyzer{
		maxBytes: settings.Ingest.MaxUploadBytes(),
		workers:  max(settings.Ingest.Workers, 1),
	}

	fp, err := fingerprint.New(settings.Ingest.Digest)
	if err != nil {
		return nil, err
	}
	a.fp = fp

	det := o.detector
	if det == nil {
		loaded, closeDet, err := NewDetector(settings.Model)
		if err != nil {
			return nil, err
		}
		det = loaded
		a.closers = append(a.closers, closeDet)
	}

	// The orchestrator needs a repository; Analyze never touches it.
	db, err := datastore.Open(datastore.Config{URL: "sqlite://:memory:"})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = db.Close() })

	orch, err := ingest.New(ingest.Config{
		MaxUploadBytes:   a.maxBytes,
		AllowedTypes:     settings.Ingest.AllowedTypes,
		MaxPixels:        settings.Ingest.MaxPixels,
		Workers:          a.workers,
		InferenceTimeout: settings.Ingest.InferenceTimeout,
	}, repository.NewScanRepository(db.DB()), det, fp)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.orch = orch
	return a, nil
}

// Close releases the model and the scratch database.
func (a *Analyzer) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// File scores one image. Read and decode failures are returned as errors.
func (a *Analyzer) File(ctx context.Context, path string) (*FileResult, error) {
	data, err := a.readImage(path)
	if err != nil {
		return nil, err
	}
	res, err := a.orch.Analyze(ctx, data, filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	GetLogger().Debug("scored file",
		logger.String("path", path),
		logger.String("risk_level", string(res.Assessment.Level)),
		logger.Int("detections", len(res.Detections)))
	return &FileResult{Path: path, Digest: a.fp.Sum(data), Analysis: res}, nil
}

func (a *Analyzer) readImage(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.New(err).
			Component("analysis").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	if info.IsDir() {
		return nil, errors.Newf("%s is a directory, not a file", filepath.Base(path)).
			Component("analysis").
			Category(errors.CategoryValidation).
			Build()
	}
	if info.Size() == 0 {
		return nil, errors.Newf("%s is empty", filepath.Base(path)).
			Component("analysis").
			Category(errors.CategoryValidation).
			Build()
	}
	if info.Size() > a.maxBytes {
		return nil, errors.Newf("%s is %d bytes, the limit is %d", filepath.Base(path), info.Size(), a.maxBytes).
			Component("analysis").
			Category(errors.CategoryLimit).
			Build()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(err).
			Component("analysis").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	return data, nil
}

// FileAnalysis scores a single image file with the configured model.
func FileAnalysis(ctx context.Context, settings *conf.Settings, path string) (*FileResult, error) {
	a, err := NewAnalyzer(settings)
	if err != nil {
		return nil, err
	}
	defer a.Close()
	return a.File(ctx, path)
}

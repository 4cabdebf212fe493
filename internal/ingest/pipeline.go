package ingest

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/pneumai/pneumai-go/internal/datastore/entities"
	"github.com/pneumai/pneumai-go/internal/datastore/repository"
	"github.com/pneumai/pneumai-go/internal/detector"
	"github.com/pneumai/pneumai-go/internal/errors"
	"github.com/pneumai/pneumai-go/internal/events"
	"github.com/pneumai/pneumai-go/internal/logger"
	"github.com/pneumai/pneumai-go/internal/risk"
)

// Analysis is the outcome of a detection run without persistence.
type Analysis struct {
	Detections       []detector.Detection `json:"detections"`
	TopClass         string               `json:"topClass"`
	Assessment       risk.Assessment      `json:"assessment"`
	Width            int                  `json:"width"`
	Height           int                  `json:"height"`
	Format           string               `json:"format"`
	ModelVersion     string               `json:"modelVersion"`
	ProcessingTimeMs int64                `json:"processingTimeMs"`
}

// Analyze decodes and scores an image through the shared inference pool
// without touching the store. fileName only selects the decoder.
func (o *Orchestrator) Analyze(ctx context.Context, data []byte, fileName string) (*Analysis, error) {
	decoded, err := detector.Decode(data, o.decodeOptions(fileName))
	if err != nil {
		return nil, err
	}
	start := time.Now()
	if err := o.acquireSlot(ctx); err != nil {
		return nil, err
	}
	dets, err := o.infer(ctx, decoded.Image)
	if err != nil {
		return nil, err
	}
	return &Analysis{
		Detections:       dets,
		TopClass:         detector.TopClass(dets),
		Assessment:       risk.Classify(detector.Confidences(dets)),
		Width:            decoded.Width,
		Height:           decoded.Height,
		Format:           decoded.Format,
		ModelVersion:     o.detector.ModelVersion(),
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

// process runs decode, inference, scoring and rendering for a stored scan.
// claimed is set when the scan is already processing.
func (o *Orchestrator) process(ctx context.Context, scan *entities.Scan, data []byte, claimed bool, log logger.Logger) (*Result, error) {
	ctx = logger.WithScan(ctx, scan.ScanID)
	// Persistence outlives a caller that hung up mid-pipeline
	persistCtx := context.WithoutCancel(ctx)
	log = log.WithContext(ctx)
	start := time.Now()

	decoded, err := detector.Decode(data, o.decodeOptions(scan.FileName))
	if err != nil {
		return o.fail(persistCtx, scan.ScanID, err, log)
	}

	// A scan queued behind a full pool stays pending
	if err := o.acquireSlot(ctx); err != nil {
		return o.fail(persistCtx, scan.ScanID, err, log)
	}
	if !claimed {
		if err := o.repo.Transition(persistCtx, scan.ScanID, entities.StatusPending, entities.StatusProcessing); err != nil {
			o.pool.Release(1)
			return o.fail(persistCtx, scan.ScanID, databaseError(err, "start processing"), log)
		}
		log.Debug("scan processing")
	}

	inferStart := time.Now()
	dets, err := o.infer(ctx, decoded.Image)
	if err != nil {
		return o.fail(persistCtx, scan.ScanID, err, log)
	}
	o.metrics.RecordInference(time.Since(inferStart).Seconds())

	assessment := risk.Classify(detector.Confidences(dets))

	annotated, err := detector.Annotate(decoded.Image, dets)
	if err != nil {
		return o.fail(persistCtx, scan.ScanID, err, log)
	}
	thumbnail, err := detector.Thumbnail(decoded.Image)
	if err != nil {
		return o.fail(persistCtx, scan.ScanID, err, log)
	}

	results := &repository.Results{
		Detections:       dets,
		TopClass:         detector.TopClass(dets),
		RiskLevel:        string(assessment.Level),
		RiskPercentage:   assessment.Percentage,
		Confidence:       assessment.Confidence,
		ModelVersion:     o.detector.ModelVersion(),
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		Width:            decoded.Width,
		Height:           decoded.Height,
		AnnotatedImage:   annotated,
		ThumbnailImage:   thumbnail,
	}
	if err := o.repo.Complete(persistCtx, scan.ScanID, results); err != nil {
		return o.fail(persistCtx, scan.ScanID, databaseError(err, "store results"), log)
	}

	completed, err := o.repo.Get(persistCtx, scan.ScanID)
	if err != nil {
		return nil, databaseError(err, "reload scan")
	}

	o.metrics.RecordRiskLevel(completed.RiskLevel)
	o.publish(events.ScanCompleted, completed, completed.RiskLevel)
	log.Info("scan completed",
		logger.String("risk_level", completed.RiskLevel),
		logger.Int("detections", completed.DetectionCount),
		logger.Int64("processing_ms", completed.ProcessingTimeMs))

	return &Result{Scan: completed}, nil
}

type detectResult struct {
	dets []detector.Detection
	err  error
}

func (o *Orchestrator) decodeOptions(fileName string) detector.DecodeOptions {
	return detector.DecodeOptions{MaxPixels: o.cfg.MaxPixels, FileName: fileName}
}

// acquireSlot waits for room on the inference pool. A nil return must be
// followed by infer or by releasing the slot.
func (o *Orchestrator) acquireSlot(ctx context.Context) error {
	if err := o.pool.Acquire(ctx, 1); err != nil {
		return cancelledError(err, "waiting for an inference slot")
	}
	return nil
}

// infer runs one inference on an acquired slot under the inference timeout.
// The slot is held until Detect returns, even when the caller stops waiting.
func (o *Orchestrator) infer(ctx context.Context, img image.Image) ([]detector.Detection, error) {
	inferCtx, cancel := context.WithTimeout(ctx, o.cfg.InferenceTimeout)
	defer cancel()

	done := make(chan detectResult, 1)
	o.metrics.InferenceStarted()
	go func() {
		defer o.pool.Release(1)
		defer o.metrics.InferenceFinished()
		dets, err := o.detector.Detect(inferCtx, img)
		done <- detectResult{dets: dets, err: err}
	}()

	select {
	case res := <-done:
		if res.err == nil {
			return res.dets, nil
		}
		if inferCtx.Err() == nil {
			return nil, inferenceFailure(res.err)
		}
	case <-inferCtx.Done():
	}

	if ctx.Err() != nil {
		return nil, cancelledError(ctx.Err(), "running inference")
	}
	return nil, errors.Newf("inference timeout after %s", o.cfg.InferenceTimeout).
		Component(component).
		Category(errors.CategoryTimeout).
		Context("timeout_ms", o.cfg.InferenceTimeout.Milliseconds()).
		Build()
}

// fail moves the scan to requires_attention and returns the failed record
// together with cause.
func (o *Orchestrator) fail(ctx context.Context, scanID string, cause error, log logger.Logger) (*Result, error) {
	category := errors.CategoryOf(cause)
	if category == "" {
		category = errors.CategoryGeneric
	}
	reason := fmt.Sprintf("%s: %v", category, cause)
	o.metrics.RecordFailure(string(category))

	if err := o.repo.MarkFailed(ctx, scanID, reason); err != nil {
		log.Error("failed to record scan failure", logger.Error(err), logger.String("reason", reason))
		return nil, errors.Join(cause, databaseError(err, "mark failed"))
	}
	log.Warn("scan requires attention", logger.String("category", string(category)), logger.String("reason", reason))

	failed, err := o.repo.Get(ctx, scanID)
	if err != nil {
		return nil, cause
	}
	o.publish(events.ScanFailed, failed, "")
	return &Result{Scan: failed}, cause
}

func (o *Orchestrator) publish(t events.Type, scan *entities.Scan, riskLevel string) {
	if !o.publisher.Publish(events.Event{
		Type:      t,
		ScanID:    scan.ScanID,
		PatientID: scan.PatientID,
		Status:    string(scan.Status),
		RiskLevel: riskLevel,
	}) {
		o.log.Debug("event not queued", logger.String("type", string(t)), logger.ScanID(scan.ScanID))
	}
}

func inferenceFailure(err error) error {
	if errors.CategoryOf(err) != "" {
		return err
	}
	return errors.New(err).
		Component(component).
		Category(errors.CategoryInference).
		Build()
}

func cancelledError(err error, during string) error {
	return errors.New(fmt.Errorf("cancelled while %s: %w", during, err)).
		Component(component).
		Category(errors.CategoryCancelled).
		Build()
}

func databaseError(err error, op string) error {
	return errors.New(fmt.Errorf("%s: %w", op, err)).
		Component(component).
		Category(errors.CategoryDatabase).
		Context("operation", op).
		Build()
}

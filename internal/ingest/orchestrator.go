// Package ingest runs the upload pipeline: validate, fingerprint, deduplicate,
// infer, score, persist and broadcast.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/pneumai/pneumai-go/internal/auth"
	"github.com/pneumai/pneumai-go/internal/datastore/entities"
	"github.com/pneumai/pneumai-go/internal/datastore/repository"
	"github.com/pneumai/pneumai-go/internal/detector"
	"github.com/pneumai/pneumai-go/internal/errors"
	"github.com/pneumai/pneumai-go/internal/events"
	"github.com/pneumai/pneumai-go/internal/fingerprint"
	"github.com/pneumai/pneumai-go/internal/logger"
	"github.com/pneumai/pneumai-go/internal/observability/metrics"
)

const component = "ingest"

// Config bounds uploads and the inference pool.
type Config struct {
	MaxUploadBytes int64
	AllowedTypes   []string
	// MaxPixels caps declared width*height; detector.DefaultMaxPixels when unset.
	MaxPixels        int64
	Workers          int
	InferenceTimeout time.Duration
}

// Request is one upload.
type Request struct {
	Data         []byte
	FileName     string
	DeclaredType string
	// PatientID is the owning patient. Patients may leave it empty.
	PatientID   string
	DoctorID    string
	CaptureTime *time.Time
	Caller      auth.Identity
}

// Result is the outcome of a submission.
type Result struct {
	Scan *entities.Scan
	// Duplicate is set when identical bytes were already stored for the patient.
	Duplicate bool
	// Retried is set when a failed scan was reprocessed in place.
	Retried bool
}

// Metrics receives pipeline metrics. *metrics.IngestMetrics implements it.
type Metrics interface {
	RecordSubmission(outcome string, seconds float64)
	RecordInference(seconds float64)
	InferenceStarted()
	InferenceFinished()
	RecordRiskLevel(level string)
	RecordFailure(category string)
}

type nopMetrics struct{}

func (nopMetrics) RecordSubmission(string, float64) {}
func (nopMetrics) RecordInference(float64)          {}
func (nopMetrics) InferenceStarted()                {}
func (nopMetrics) InferenceFinished()               {}
func (nopMetrics) RecordRiskLevel(string)           {}
func (nopMetrics) RecordFailure(string)             {}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPublisher sets the event sink.
func WithPublisher(p events.Publisher) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.publisher = p
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator coordinates the components of the upload pipeline.
type Orchestrator struct {
	cfg         Config
	repo        repository.ScanRepository
	detector    detector.Detector
	fingerprint *fingerprint.Fingerprinter
	publisher   events.Publisher
	metrics     Metrics
	pool        *semaphore.Weighted
	now         func() time.Time
	log         logger.Logger
}

// New creates an orchestrator.
func New(cfg Config, repo repository.ScanRepository, det detector.Detector, fp *fingerprint.Fingerprinter, opts ...Option) (*Orchestrator, error) {
	if repo == nil || det == nil || fp == nil {
		return nil, errors.Newf("ingest requires a repository, a detector and a fingerprinter").
			Component(component).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.InferenceTimeout <= 0 {
		cfg.InferenceTimeout = 60 * time.Second
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 50 << 20
	}
	if cfg.MaxPixels <= 0 {
		cfg.MaxPixels = detector.DefaultMaxPixels
	}

	o := &Orchestrator{
		cfg:         cfg,
		repo:        repo,
		detector:    det,
		fingerprint: fp,
		publisher:   events.Nop{},
		metrics:     nopMetrics{},
		pool:        semaphore.NewWeighted(int64(cfg.Workers)),
		now:         time.Now,
		log:         logger.Global().Module(component),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

var _ Metrics = (*metrics.IngestMetrics)(nil)

// Ready reports whether the detector can serve inference.
func (o *Orchestrator) Ready() bool {
	return o.detector.Ready()
}

// ModelVersion returns the detector's model version.
func (o *Orchestrator) ModelVersion() string {
	return o.detector.ModelVersion()
}

// Submit ingests one upload. On a pipeline failure the failed record is
// returned together with the categorized error.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	patientID, err := resolvePatient(req)
	if err != nil {
		o.metrics.RecordSubmission(metrics.OutcomeRejected, time.Since(start).Seconds())
		return nil, err
	}
	mimeType, err := o.validate(req)
	if err != nil {
		o.metrics.RecordSubmission(metrics.OutcomeRejected, time.Since(start).Seconds())
		return nil, err
	}

	digest := o.fingerprint.Sum(req.Data)
	log := o.log.WithContext(ctx).With(logger.PatientID(patientID), logger.String("digest", digest[:12]))

	existing, err := o.repo.FindByPatientDigest(ctx, patientID, digest)
	switch {
	case err == nil:
		return o.resolveExisting(ctx, existing, req.Data, start, log)
	case !errors.Is(err, repository.ErrScanNotFound):
		return nil, databaseError(err, "dedup lookup")
	}

	scan := o.newScan(req, patientID, mimeType, digest)
	stored, existed, err := o.repo.InsertOrGet(ctx, scan)
	if err != nil {
		return nil, databaseError(err, "insert scan")
	}
	if existed {
		// Lost the insert race; the winner's record is the answer
		return o.resolveExisting(ctx, stored, req.Data, start, log)
	}

	log.Info("scan created", logger.ScanID(stored.ScanID), logger.Int64("size_bytes", stored.FileSize))
	o.publish(events.ScanCreated, stored, "")

	res, err := o.process(ctx, stored, req.Data, false, log)
	o.recordOutcome(metrics.OutcomeCreated, err, start)
	return res, err
}

// resolveExisting short-circuits a duplicate upload. A scan awaiting attention
// is claimed and reprocessed under its existing scan ID.
func (o *Orchestrator) resolveExisting(ctx context.Context, existing *entities.Scan, data []byte, start time.Time, log logger.Logger) (*Result, error) {
	if existing.Status != entities.StatusRequiresAttention {
		log.Debug("duplicate upload", logger.ScanID(existing.ScanID), logger.String("status", string(existing.Status)))
		o.metrics.RecordSubmission(metrics.OutcomeDuplicate, time.Since(start).Seconds())
		return &Result{Scan: existing, Duplicate: true}, nil
	}

	err := o.repo.Transition(ctx, existing.ScanID, entities.StatusRequiresAttention, entities.StatusProcessing)
	if errors.Is(err, repository.ErrStateConflict) {
		// Another submission claimed the retry first
		current, getErr := o.repo.Get(ctx, existing.ScanID)
		if getErr != nil {
			return nil, databaseError(getErr, "reload scan")
		}
		o.metrics.RecordSubmission(metrics.OutcomeDuplicate, time.Since(start).Seconds())
		return &Result{Scan: current, Duplicate: true}, nil
	}
	if err != nil {
		return nil, databaseError(err, "claim retry")
	}

	log.Info("reprocessing failed scan", logger.ScanID(existing.ScanID))
	res, err := o.process(ctx, existing, data, true, log)
	if res != nil {
		res.Retried = true
	}
	o.recordOutcome(metrics.OutcomeRetried, err, start)
	return res, err
}

func (o *Orchestrator) recordOutcome(success string, err error, start time.Time) {
	outcome := success
	if err != nil {
		outcome = metrics.OutcomeFailed
	}
	o.metrics.RecordSubmission(outcome, time.Since(start).Seconds())
}

func (o *Orchestrator) newScan(req Request, patientID, mimeType, digest string) *entities.Scan {
	now := o.now().UTC()
	scan := &entities.Scan{
		ScanID:          NewScanID(now),
		PatientID:       patientID,
		UploadedBy:      req.Caller.UserID,
		CaptureTime:     req.CaptureTime,
		UploadTime:      now,
		FileName:        req.FileName,
		FileSize:        int64(len(req.Data)),
		MIMEType:        mimeType,
		ContentDigest:   digest,
		DigestAlgorithm: string(o.fingerprint.Algorithm()),
		OriginalImage:   req.Data,
		HasOriginal:     true,
		Status:          entities.StatusPending,
	}
	if req.DoctorID != "" {
		doctorID := req.DoctorID
		scan.DoctorID = &doctorID
	}
	return scan
}

// NewScanID returns a sortable scan identifier: scan_YYYYMMDD_HHMMSS_<8 hex>.
func NewScanID(t time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("scan_%s_%s", t.UTC().Format("20060102_150405"), suffix)
}

// resolvePatient binds the upload to a patient according to the caller's role.
func resolvePatient(req Request) (string, error) {
	caller := req.Caller
	switch {
	case caller.Role == auth.RolePatient:
		if caller.PatientID == "" {
			return "", errors.Forbidden("patient session has no patient record")
		}
		if req.PatientID != "" && req.PatientID != caller.PatientID {
			return "", errors.Forbidden("patients may only upload their own scans")
		}
		return caller.PatientID, nil
	case caller.IsStaff():
		if req.PatientID == "" {
			return "", errors.ValidationError("patientId is required when uploading on behalf of a patient")
		}
		return req.PatientID, nil
	default:
		return "", errors.Unauthorized("unknown caller role")
	}
}

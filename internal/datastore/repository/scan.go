package repository

import (
	"context"
	"time"

	"github.com/pneumai/pneumai-go/internal/datastore/entities"
	"github.com/pneumai/pneumai-go/internal/detector"
)

// ScanFilter narrows a scan listing. Zero values mean no restriction.
type ScanFilter struct {
	PatientID string
	// ReviewerScope restricts to scans reviewed by this doctor or not yet assigned.
	ReviewerScope string
	Status        entities.ScanStatus
	RiskLevel     string
	// Archived selects archived (true) or active (false) scans when set.
	Archived *bool
	Limit    int
	Offset   int
}

// Results are the analysis artifacts written when a scan completes.
type Results struct {
	Detections       []detector.Detection
	TopClass         string
	RiskLevel        string
	RiskPercentage   float64
	Confidence       float64
	ModelVersion     string
	ProcessingTimeMs int64
	Width            int
	Height           int
	AnnotatedImage   []byte
	ThumbnailImage   []byte
}

// Review is a doctor's assessment attached to a scan.
type Review struct {
	DoctorID  string
	Notes     string
	Diagnosis string
	At        time.Time
}

// ScanRepository persists scans. Metadata reads never load blob columns.
type ScanRepository interface {
	// InsertOrGet inserts a pending scan. When (patient, digest) already exists
	// the stored record is returned with existed set; the loser of a concurrent
	// insert race gets the winner's record the same way.
	InsertOrGet(ctx context.Context, scan *entities.Scan) (stored *entities.Scan, existed bool, err error)
	// FindByPatientDigest returns the scan for (patient, digest).
	FindByPatientDigest(ctx context.Context, patientID, digest string) (*entities.Scan, error)
	// Get returns scan metadata by public scan ID.
	Get(ctx context.Context, scanID string) (*entities.Scan, error)
	// GetImage loads a single image payload.
	GetImage(ctx context.Context, scanID string, kind entities.ImageKind) ([]byte, error)
	// List returns matching scans, newest upload first, and the unpaged total.
	List(ctx context.Context, filter ScanFilter) ([]entities.Scan, int64, error)

	// Transition moves a scan from one status to another. It returns
	// ErrStateConflict when the scan is not in from.
	Transition(ctx context.Context, scanID string, from, to entities.ScanStatus) error
	// Complete writes results and every image payload in one update and marks
	// the scan completed. The scan must be processing.
	Complete(ctx context.Context, scanID string, results *Results) error
	// MarkFailed records the failure reason and moves the scan to requires_attention.
	MarkFailed(ctx context.Context, scanID, reason string) error
	// AttachReview records a review and moves the scan to reviewed.
	AttachReview(ctx context.Context, scanID string, review Review) error
	// Archive flags the scan archived.
	Archive(ctx context.Context, scanID string) error
	// Delete removes the scan and all of its comments in one transaction.
	Delete(ctx context.Context, scanID string) (commentsDeleted int64, err error)
}

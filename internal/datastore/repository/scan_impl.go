package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pneumai/pneumai-go/internal/datastore/entities"
)

// maxListLimit caps page sizes.
const maxListLimit = 500

// newestFirst orders listings by upload time with the primary key as tie breaker.
var newestFirst = clause.OrderBy{Columns: []clause.OrderByColumn{
	{Column: clause.Column{Name: "upload_time"}, Desc: true},
	{Column: clause.Column{Name: "id"}, Desc: true},
}}

// scanRepository implements ScanRepository.
type scanRepository struct {
	db *gorm.DB
}

// NewScanRepository creates a new ScanRepository.
func NewScanRepository(db *gorm.DB) ScanRepository {
	return &scanRepository{db: db}
}

func (r *scanRepository) metadata(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&entities.Scan{}).Omit(entities.BlobColumns...)
}

// InsertOrGet inserts a pending scan or returns the existing (patient, digest) record.
func (r *scanRepository) InsertOrGet(ctx context.Context, scan *entities.Scan) (*entities.Scan, bool, error) {
	if scan.PatientID == "" || scan.ContentDigest == "" || scan.ScanID == "" {
		return nil, false, ErrInvalidInput
	}

	existing, err := r.FindByPatientDigest(ctx, scan.PatientID, scan.ContentDigest)
	if err == nil {
		return existing, true, nil
	}
	if !errors.Is(err, ErrScanNotFound) {
		return nil, false, err
	}

	createErr := r.db.WithContext(ctx).Omit("Comments").Create(scan).Error
	if createErr == nil {
		return scan, false, nil
	}

	// Handle race condition - another upload may have inserted the same content.
	// Try to fetch the winner; if that also fails, return the original create error.
	if isUniqueViolation(createErr) {
		winner, findErr := r.FindByPatientDigest(ctx, scan.PatientID, scan.ContentDigest)
		if findErr == nil {
			return winner, true, nil
		}
		return nil, false, fmt.Errorf("%w: %w", ErrDuplicateKey, createErr)
	}
	return nil, false, createErr
}

// FindByPatientDigest returns the scan for (patient, digest) without blobs.
func (r *scanRepository) FindByPatientDigest(ctx context.Context, patientID, digest string) (*entities.Scan, error) {
	var scan entities.Scan
	err := r.metadata(ctx).
		Where("patient_id = ? AND content_digest = ?", patientID, digest).
		First(&scan).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrScanNotFound
	}
	if err != nil {
		return nil, err
	}
	return &scan, nil
}

// Get returns scan metadata without blobs.
func (r *scanRepository) Get(ctx context.Context, scanID string) (*entities.Scan, error) {
	var scan entities.Scan
	err := r.metadata(ctx).Where("scan_id = ?", scanID).First(&scan).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrScanNotFound
	}
	if err != nil {
		return nil, err
	}
	return &scan, nil
}

// GetImage loads only the requested blob column.
func (r *scanRepository) GetImage(ctx context.Context, scanID string, kind entities.ImageKind) ([]byte, error) {
	column := kind.Column()
	if column == "" {
		return nil, ErrInvalidInput
	}

	var payloads [][]byte
	err := r.db.WithContext(ctx).Model(&entities.Scan{}).
		Where("scan_id = ?", scanID).
		Limit(1).
		Pluck(column, &payloads).Error
	if err != nil {
		return nil, err
	}
	if len(payloads) == 0 {
		return nil, ErrScanNotFound
	}
	if len(payloads[0]) == 0 {
		return nil, ErrImageNotFound
	}
	return payloads[0], nil
}

// List returns scans matching filter, newest upload first.
func (r *scanRepository) List(ctx context.Context, filter ScanFilter) ([]entities.Scan, int64, error) {
	q := r.db.WithContext(ctx).Model(&entities.Scan{})
	if filter.PatientID != "" {
		q = q.Where("patient_id = ?", filter.PatientID)
	}
	if filter.ReviewerScope != "" {
		q = q.Where("(doctor_id = ? OR doctor_id IS NULL)", filter.ReviewerScope)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.RiskLevel != "" {
		q = q.Where("risk_level = ?", filter.RiskLevel)
	}
	if filter.Archived != nil {
		q = q.Where("archived = ?", *filter.Archived)
	}

	// The filtered statement is shared by Count and Find
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	var scans []entities.Scan
	err := q.Omit(entities.BlobColumns...).
		Clauses(newestFirst).
		Limit(limit).Offset(max(0, filter.Offset)).
		Find(&scans).Error
	if err != nil {
		return nil, 0, err
	}
	return scans, total, nil
}

// Transition performs a conditional status update.
func (r *scanRepository) Transition(ctx context.Context, scanID string, from, to entities.ScanStatus) error {
	updates := map[string]any{"status": to}
	if to == entities.StatusProcessing {
		updates["failure_reason"] = ""
	}
	res := r.db.WithContext(ctx).Model(&entities.Scan{}).
		Where("scan_id = ? AND status = ?", scanID, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return r.conflictOrMissing(ctx, scanID)
	}
	return nil
}

// Complete writes every result column and image payload in a single UPDATE.
func (r *scanRepository) Complete(ctx context.Context, scanID string, results *Results) error {
	if results == nil {
		return ErrInvalidInput
	}
	scan := entities.Scan{
		Detections:       results.Detections,
		TopClass:         results.TopClass,
		DetectionCount:   len(results.Detections),
		RiskLevel:        results.RiskLevel,
		RiskPercentage:   results.RiskPercentage,
		Confidence:       results.Confidence,
		ModelVersion:     results.ModelVersion,
		ProcessingTimeMs: results.ProcessingTimeMs,
		Width:            results.Width,
		Height:           results.Height,
		AnnotatedImage:   results.AnnotatedImage,
		ThumbnailImage:   results.ThumbnailImage,
		HasAnnotated:     len(results.AnnotatedImage) > 0,
		HasThumbnail:     len(results.ThumbnailImage) > 0,
		Status:           entities.StatusCompleted,
	}

	// Select forces zero values (no detections, 0% risk) to be written too
	res := r.db.WithContext(ctx).Model(&entities.Scan{}).
		Where("scan_id = ? AND status = ?", scanID, entities.StatusProcessing).
		Select("detections", "top_class", "detection_count", "risk_level", "risk_percentage",
			"confidence", "model_version", "processing_time_ms", "width", "height",
			"annotated_image", "thumbnail_image", "has_annotated", "has_thumbnail",
			"status", "failure_reason", "updated_at").
		Updates(&scan)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return r.conflictOrMissing(ctx, scanID)
	}
	return nil
}

// MarkFailed moves a pending or processing scan to requires_attention.
func (r *scanRepository) MarkFailed(ctx context.Context, scanID, reason string) error {
	res := r.db.WithContext(ctx).Model(&entities.Scan{}).
		Where("scan_id = ? AND status IN ?", scanID,
			[]entities.ScanStatus{entities.StatusPending, entities.StatusProcessing}).
		Updates(map[string]any{
			"status":         entities.StatusRequiresAttention,
			"failure_reason": reason,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return r.conflictOrMissing(ctx, scanID)
	}
	return nil
}

// AttachReview overwrites any prior review.
func (r *scanRepository) AttachReview(ctx context.Context, scanID string, review Review) error {
	res := r.db.WithContext(ctx).Model(&entities.Scan{}).
		Where("scan_id = ? AND status IN ?", scanID,
			[]entities.ScanStatus{entities.StatusCompleted, entities.StatusReviewed}).
		Updates(map[string]any{
			"status":       entities.StatusReviewed,
			"doctor_id":    review.DoctorID,
			"doctor_notes": review.Notes,
			"diagnosis":    review.Diagnosis,
			"reviewed_at":  review.At,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return r.conflictOrMissing(ctx, scanID)
	}
	return nil
}

// Archive sets the archived flag and status. Archiving twice is a no-op.
func (r *scanRepository) Archive(ctx context.Context, scanID string) error {
	res := r.db.WithContext(ctx).Model(&entities.Scan{}).
		Where("scan_id = ?", scanID).
		Updates(map[string]any{"archived": true, "status": entities.StatusArchived})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// MySQL reports unchanged rows as unaffected
		if err := r.conflictOrMissing(ctx, scanID); !errors.Is(err, ErrStateConflict) {
			return err
		}
	}
	return nil
}

// Delete removes comments first, then the scan, in one transaction.
func (r *scanRepository) Delete(ctx context.Context, scanID string) (int64, error) {
	var commentsDeleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("scan_id = ?", scanID).Delete(&entities.ScanComment{})
		if res.Error != nil {
			return fmt.Errorf("delete comments: %w", res.Error)
		}
		commentsDeleted = res.RowsAffected

		res = tx.Where("scan_id = ?", scanID).Delete(&entities.Scan{})
		if res.Error != nil {
			return fmt.Errorf("delete scan: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrScanNotFound
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return commentsDeleted, nil
}

// conflictOrMissing distinguishes an absent scan from one in another state.
func (r *scanRepository) conflictOrMissing(ctx context.Context, scanID string) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&entities.Scan{}).Where("scan_id = ?", scanID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrScanNotFound
	}
	return ErrStateConflict
}

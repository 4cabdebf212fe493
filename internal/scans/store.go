// Package scans applies the access rules to scan records: ownership checks
// for reads, role checks for staff operations, and the listing policy.
package scans

import (
	"context"
	"time"

	"github.com/pneumai/pneumai-go/internal/auth"
	"github.com/pneumai/pneumai-go/internal/datastore/entities"
	"github.com/pneumai/pneumai-go/internal/datastore/repository"
	"github.com/pneumai/pneumai-go/internal/errors"
	"github.com/pneumai/pneumai-go/internal/events"
	"github.com/pneumai/pneumai-go/internal/logger"
)

const component = "scans"

// Image is one stored payload with its content type.
type Image struct {
	Data     []byte
	MIMEType string
}

// Page is one page of a listing.
type Page struct {
	Scans []entities.Scan `json:"scans"`
	Total int64           `json:"total"`
}

// Store provides access-controlled scan operations.
type Store struct {
	repo      repository.ScanRepository
	policy    VisibilityPolicy
	publisher events.Publisher
	now       func() time.Time
	log       logger.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithPolicy sets the staff listing policy.
func WithPolicy(p VisibilityPolicy) Option {
	return func(s *Store) {
		if p != nil {
			s.policy = p
		}
	}
}

// WithPublisher sets the event sink for review notifications.
func WithPublisher(p events.Publisher) Option {
	return func(s *Store) {
		if p != nil {
			s.publisher = p
		}
	}
}

// NewStore creates a Store over repo.
func NewStore(repo repository.ScanRepository, opts ...Option) *Store {
	s := &Store{
		repo:      repo,
		policy:    VisibleToAllStaff,
		publisher: events.Nop{},
		now:       func() time.Time { return time.Now().UTC() },
		log:       logger.Global().Module(component),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns scan metadata. Patients may only read their own scans.
func (s *Store) Get(ctx context.Context, scanID string, caller auth.Identity) (*entities.Scan, error) {
	scan, err := s.repo.Get(ctx, scanID)
	if err != nil {
		return nil, mapRepoError(err, "scan", scanID)
	}
	if !caller.CanAccessPatient(scan.PatientID) {
		return nil, forbidden(caller, scanID)
	}
	return scan, nil
}

// GetImage returns one payload. The original keeps its upload type; derived
// images are always JPEG.
func (s *Store) GetImage(ctx context.Context, scanID string, kind entities.ImageKind, caller auth.Identity) (*Image, error) {
	if kind.Column() == "" {
		return nil, errors.New(errors.NewStd("image type must be original, annotated or thumbnail")).
			Component(component).
			Category(errors.CategoryValidation).
			Context("image_type", string(kind)).
			Build()
	}

	scan, err := s.Get(ctx, scanID, caller)
	if err != nil {
		return nil, err
	}
	if !scan.HasImage(kind) {
		return nil, errors.NotFound(string(kind)+" image", scanID)
	}

	data, err := s.repo.GetImage(ctx, scanID, kind)
	if err != nil {
		return nil, mapRepoError(err, string(kind)+" image", scanID)
	}

	mime := "image/jpeg"
	if kind == entities.ImageOriginal && scan.MIMEType != "" {
		mime = scan.MIMEType
	}
	return &Image{Data: data, MIMEType: mime}, nil
}

// ListForPatient lists one patient's scans. Patients may only list their own.
func (s *Store) ListForPatient(ctx context.Context, patientID string, filter repository.ScanFilter, caller auth.Identity) (*Page, error) {
	if patientID == "" {
		return nil, errors.ValidationError("patientId is required")
	}
	if !caller.CanAccessPatient(patientID) {
		return nil, forbidden(caller, patientID)
	}
	filter.PatientID = patientID
	if caller.IsStaff() {
		filter = s.policy(caller, filter)
	}
	return s.list(ctx, filter)
}

// ListAll lists scans across patients for doctors and admins.
func (s *Store) ListAll(ctx context.Context, filter repository.ScanFilter, caller auth.Identity) (*Page, error) {
	if !caller.IsStaff() {
		return nil, errors.Forbidden("listing all scans requires a doctor or admin role")
	}
	return s.list(ctx, s.policy(caller, filter))
}

func (s *Store) list(ctx context.Context, filter repository.ScanFilter) (*Page, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, errors.ValidationError("unknown status filter")
	}
	scans, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, mapRepoError(err, "scan", "")
	}
	if scans == nil {
		scans = []entities.Scan{}
	}
	return &Page{Scans: scans, Total: total}, nil
}

// FindByDigest supports the client-side duplicate check before upload.
func (s *Store) FindByDigest(ctx context.Context, patientID, digest string, caller auth.Identity) (*entities.Scan, error) {
	if patientID == "" || digest == "" {
		return nil, errors.ValidationError("patientId and digest are required")
	}
	if !caller.CanAccessPatient(patientID) {
		return nil, forbidden(caller, patientID)
	}
	scan, err := s.repo.FindByPatientDigest(ctx, patientID, digest)
	if err != nil {
		return nil, mapRepoError(err, "scan", digest)
	}
	return scan, nil
}

// AttachReview records a doctor's notes and diagnosis. Re-review overwrites.
func (s *Store) AttachReview(ctx context.Context, scanID string, caller auth.Identity, notes, diagnosis string) (*entities.Scan, error) {
	if caller.Role != auth.RoleDoctor && caller.Role != auth.RoleAdmin {
		return nil, errors.Forbidden("only doctors may review scans")
	}

	err := s.repo.AttachReview(ctx, scanID, repository.Review{
		DoctorID:  caller.UserID,
		Notes:     notes,
		Diagnosis: diagnosis,
		At:        s.now(),
	})
	if err != nil {
		return nil, mapRepoError(err, "scan", scanID)
	}

	scan, err := s.repo.Get(ctx, scanID)
	if err != nil {
		return nil, mapRepoError(err, "scan", scanID)
	}
	s.log.Info("scan reviewed",
		logger.ScanID(scanID),
		logger.String("doctor_id", caller.UserID))
	s.publisher.Publish(events.Event{
		Type:      events.ScanReviewed,
		ScanID:    scanID,
		PatientID: scan.PatientID,
		Status:    string(scan.Status),
		RiskLevel: scan.RiskLevel,
	})
	return scan, nil
}

// Archive retires a scan. Doctor or admin only.
func (s *Store) Archive(ctx context.Context, scanID string, caller auth.Identity) (*entities.Scan, error) {
	if !caller.IsStaff() {
		return nil, errors.Forbidden("archiving requires a doctor or admin role")
	}
	if err := s.repo.Archive(ctx, scanID); err != nil {
		return nil, mapRepoError(err, "scan", scanID)
	}
	scan, err := s.repo.Get(ctx, scanID)
	if err != nil {
		return nil, mapRepoError(err, "scan", scanID)
	}
	s.log.Info("scan archived", logger.ScanID(scanID), logger.String("by", caller.UserID))
	return scan, nil
}

// Delete removes a scan and its comments. Admin only.
func (s *Store) Delete(ctx context.Context, scanID string, caller auth.Identity) (int64, error) {
	if !caller.IsAdmin() {
		return 0, errors.Forbidden("deleting scans requires the admin role")
	}
	n, err := s.repo.Delete(ctx, scanID)
	if err != nil {
		return 0, mapRepoError(err, "scan", scanID)
	}
	s.log.Info("scan deleted",
		logger.ScanID(scanID),
		logger.Int64("comments_deleted", n),
		logger.String("by", caller.UserID))
	return n, nil
}

func forbidden(caller auth.Identity, resource string) error {
	return errors.New(errors.NewStd("access to this patient's records is not permitted")).
		Component(component).
		Category(errors.CategoryForbidden).
		Context("user_id", caller.UserID).
		Context("resource", resource).
		Build()
}

// mapRepoError converts repository sentinels to categorized errors.
func mapRepoError(err error, resource, id string) error {
	switch {
	case errors.Is(err, repository.ErrScanNotFound), errors.Is(err, repository.ErrImageNotFound):
		return errors.NotFound(resource, id)
	case errors.Is(err, repository.ErrStateConflict):
		return errors.New(err).
			Component(component).
			Category(errors.CategoryState).
			Context("scan_id", id).
			Build()
	case errors.Is(err, repository.ErrInvalidInput):
		return errors.New(err).Component(component).Category(errors.CategoryValidation).Build()
	default:
		return errors.New(err).
			Component(component).
			Category(errors.CategoryDatabase).
			Context("resource", resource).
			Build()
	}
}

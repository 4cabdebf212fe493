package repository

import "github.com/pneumai/pneumai-go/internal/errors"

// Sentinel errors for repository operations.
var (
	// ErrScanNotFound indicates the requested scan does not exist.
	ErrScanNotFound = errors.NewStd("scan not found")

	// ErrImageNotFound indicates the scan exists but the image payload was never produced.
	ErrImageNotFound = errors.NewStd("image not found")

	// ErrCommentNotFound indicates the requested comment does not exist.
	ErrCommentNotFound = errors.NewStd("comment not found")

	// ErrParentNotFound indicates a reply references a missing comment.
	ErrParentNotFound = errors.NewStd("parent comment not found")

	// ErrParentScanMismatch indicates a reply references a comment on another scan.
	ErrParentScanMismatch = errors.NewStd("parent comment belongs to a different scan")

	// ErrDuplicateKey indicates a unique constraint violation.
	ErrDuplicateKey = errors.NewStd("duplicate key")

	// ErrStateConflict indicates a conditional state transition matched no row.
	ErrStateConflict = errors.NewStd("scan is not in the expected state")

	// ErrInvalidInput indicates invalid input parameters.
	ErrInvalidInput = errors.NewStd("invalid input")
)

// Package comments implements the two-level discussion threads attached to scans.
package comments

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/pneumai/pneumai-go/internal/auth"
	"github.com/pneumai/pneumai-go/internal/datastore/entities"
	"github.com/pneumai/pneumai-go/internal/datastore/repository"
	"github.com/pneumai/pneumai-go/internal/errors"
	"github.com/pneumai/pneumai-go/internal/events"
	"github.com/pneumai/pneumai-go/internal/logger"
)

const component = "comments"

// MaxTextLength is the longest accepted comment, in characters after normalization.
const MaxTextLength = 5000

// ScanAccess checks that the caller may see a scan and returns it.
// scans.Store satisfies it.
type ScanAccess interface {
	Get(ctx context.Context, scanID string, caller auth.Identity) (*entities.Scan, error)
}

// Thread is a root comment with its replies, oldest first.
type Thread struct {
	entities.ScanComment
	Replies []entities.ScanComment `json:"replies"`
}

// Engine stores and serves comment threads.
type Engine struct {
	repo      repository.CommentRepository
	scans     ScanAccess
	publisher events.Publisher
	now       func() time.Time
	log       logger.Logger
}

// NewEngine creates a comment engine. A nil publisher disables notifications.
func NewEngine(repo repository.CommentRepository, scans ScanAccess, publisher events.Publisher) *Engine {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Engine{
		repo:      repo,
		scans:     scans,
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
		log:       logger.Global().Module(component),
	}
}

// NormalizeText trims and NFC-normalizes text and checks its length.
func NormalizeText(text string) (string, error) {
	normalized := strings.TrimSpace(norm.NFC.String(text))
	n := utf8.RuneCountInString(normalized)
	if n == 0 {
		return "", errors.ValidationError("comment text must not be empty")
	}
	if n > MaxTextLength {
		return "", errors.New(errors.NewStd("comment text is too long")).
			Component(component).
			Category(errors.CategoryValidation).
			Context("length", n).
			Context("max", MaxTextLength).
			Build()
	}
	return normalized, nil
}

// Add posts a comment, or a reply when parentID is set. A reply to a reply is
// attached to the thread root.
func (e *Engine) Add(ctx context.Context, scanID string, author auth.Identity, text string, parentID *uint) (*entities.ScanComment, error) {
	scan, err := e.scans.Get(ctx, scanID, author)
	if err != nil {
		return nil, err
	}
	body, err := NormalizeText(text)
	if err != nil {
		return nil, err
	}

	c := &entities.ScanComment{
		ScanID:     scanID,
		AuthorID:   author.UserID,
		AuthorRole: string(author.Role),
		AuthorName: author.Name,
		Text:       body,
		ParentID:   parentID,
	}
	if err := e.repo.Add(ctx, c, true); err != nil {
		return nil, mapRepoError(err, scanID)
	}

	e.log.Info("comment added",
		logger.ScanID(scanID),
		logger.Uint64("comment_id", uint64(c.ID)),
		logger.Bool("reply", c.ParentID != nil),
		logger.String("author_role", c.AuthorRole))
	e.publisher.Publish(events.Event{
		Type:      events.CommentAdded,
		ScanID:    scanID,
		PatientID: scan.PatientID,
		CommentID: c.ID,
	})
	return c, nil
}

// List returns the scan's threads, oldest root first.
func (e *Engine) List(ctx context.Context, scanID string, caller auth.Identity) ([]Thread, error) {
	if _, err := e.scans.Get(ctx, scanID, caller); err != nil {
		return nil, err
	}
	all, err := e.repo.ListByScan(ctx, scanID)
	if err != nil {
		return nil, mapRepoError(err, scanID)
	}
	return Group(all), nil
}

// Count returns the number of comments on a scan.
func (e *Engine) Count(ctx context.Context, scanID string) (int64, error) {
	n, err := e.repo.CountByScan(ctx, scanID)
	if err != nil {
		return 0, mapRepoError(err, scanID)
	}
	return n, nil
}

// Edit replaces the text of the caller's own comment.
func (e *Engine) Edit(ctx context.Context, commentID uint, caller auth.Identity, text string) (*entities.ScanComment, error) {
	c, err := e.repo.Get(ctx, commentID)
	if err != nil {
		return nil, mapRepoError(err, "")
	}
	if _, err := e.scans.Get(ctx, c.ScanID, caller); err != nil {
		return nil, err
	}
	if c.AuthorID != caller.UserID {
		return nil, errors.Forbidden("only the author may edit a comment")
	}
	body, err := NormalizeText(text)
	if err != nil {
		return nil, err
	}

	at := e.now()
	if err := e.repo.UpdateText(ctx, commentID, body, at); err != nil {
		return nil, mapRepoError(err, c.ScanID)
	}
	c.Text, c.Edited, c.EditedAt = body, true, &at
	return c, nil
}

// Delete removes a comment and its direct replies. The author or an admin may delete.
func (e *Engine) Delete(ctx context.Context, commentID uint, caller auth.Identity) ([]uint, error) {
	c, err := e.repo.Get(ctx, commentID)
	if err != nil {
		return nil, mapRepoError(err, "")
	}
	scan, err := e.scans.Get(ctx, c.ScanID, caller)
	if err != nil {
		return nil, err
	}
	if c.AuthorID != caller.UserID && !caller.IsAdmin() {
		return nil, errors.Forbidden("only the author or an admin may delete a comment")
	}

	removed, err := e.repo.DeleteWithReplies(ctx, commentID)
	if err != nil {
		return nil, mapRepoError(err, c.ScanID)
	}

	e.log.Info("comment deleted",
		logger.ScanID(c.ScanID),
		logger.Uint64("comment_id", uint64(commentID)),
		logger.Int("removed", len(removed)))
	for _, id := range removed {
		e.publisher.Publish(events.Event{
			Type:      events.CommentDeleted,
			ScanID:    c.ScanID,
			PatientID: scan.PatientID,
			CommentID: id,
		})
	}
	return removed, nil
}

func mapRepoError(err error, scanID string) error {
	switch {
	case errors.Is(err, repository.ErrCommentNotFound):
		return errors.NotFound("comment", "")
	case errors.Is(err, repository.ErrParentNotFound):
		return errors.NotFound("parent comment", "")
	case errors.Is(err, repository.ErrParentScanMismatch), errors.Is(err, repository.ErrInvalidInput):
		return errors.New(err).Component(component).Category(errors.CategoryValidation).
			Context("scan_id", scanID).Build()
	default:
		return errors.New(err).Component(component).Category(errors.CategoryDatabase).
			Context("scan_id", scanID).Build()
	}
}

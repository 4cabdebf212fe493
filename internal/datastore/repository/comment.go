package repository

import (
	"context"
	"time"

	"github.com/pneumai/pneumai-go/internal/datastore/entities"
)

// CommentRepository persists scan comment threads.
type CommentRepository interface {
	// Add inserts c. When c has a parent, the parent is checked to exist and
	// belong to c.ScanID in the same transaction as the insert. With
	// attachToRoot set, a reply to a reply is re-pointed at the thread root.
	Add(ctx context.Context, c *entities.ScanComment, attachToRoot bool) error
	// Get returns one comment.
	Get(ctx context.Context, id uint) (*entities.ScanComment, error)
	// ListByScan returns every comment of a scan ordered by creation time.
	ListByScan(ctx context.Context, scanID string) ([]entities.ScanComment, error)
	// CountByScan returns the number of comments on a scan.
	CountByScan(ctx context.Context, scanID string) (int64, error)
	// UpdateText replaces the text and sets the edited flag.
	UpdateText(ctx context.Context, id uint, text string, at time.Time) error
	// DeleteWithReplies removes the comment and its direct replies and returns
	// the IDs removed.
	DeleteWithReplies(ctx context.Context, id uint) ([]uint, error)
}

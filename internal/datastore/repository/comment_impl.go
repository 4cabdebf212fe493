package repository

import (
	"context"
	"errors"
	"slices"
	"time"

	"gorm.io/gorm"

	"github.com/pneumai/pneumai-go/internal/datastore/entities"
)

// maxThreadDepth bounds the walk to a thread root.
const maxThreadDepth = 64

// commentRepository implements CommentRepository.
type commentRepository struct {
	db *gorm.DB
}

// NewCommentRepository creates a new CommentRepository.
func NewCommentRepository(db *gorm.DB) CommentRepository {
	return &commentRepository{db: db}
}

// Add checks the parent and inserts in one transaction.
func (r *commentRepository) Add(ctx context.Context, c *entities.ScanComment, attachToRoot bool) error {
	if c.ScanID == "" || c.AuthorID == "" {
		return ErrInvalidInput
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if c.ParentID != nil {
			rootID, err := resolveParent(tx, c.ScanID, *c.ParentID, attachToRoot)
			if err != nil {
				return err
			}
			c.ParentID = &rootID
		}
		return tx.Create(c).Error
	})
}

// resolveParent validates the parent and, with attachToRoot, walks up to the
// thread root. Every comment on the path must belong to scanID.
func resolveParent(tx *gorm.DB, scanID string, parentID uint, attachToRoot bool) (uint, error) {
	id := parentID
	for range maxThreadDepth {
		var parent entities.ScanComment
		err := tx.Select("id", "scan_id", "parent_id").First(&parent, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrParentNotFound
		}
		if err != nil {
			return 0, err
		}
		if parent.ScanID != scanID {
			return 0, ErrParentScanMismatch
		}
		if !attachToRoot || parent.ParentID == nil {
			return parent.ID, nil
		}
		id = *parent.ParentID
	}
	// Deeper than any thread this service writes; attach to the last ancestor seen
	return id, nil
}

// Get returns one comment.
func (r *commentRepository) Get(ctx context.Context, id uint) (*entities.ScanComment, error) {
	var c entities.ScanComment
	err := r.db.WithContext(ctx).First(&c, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCommentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListByScan returns comments oldest first; ties break on insertion order.
func (r *commentRepository) ListByScan(ctx context.Context, scanID string) ([]entities.ScanComment, error) {
	var comments []entities.ScanComment
	err := r.db.WithContext(ctx).
		Where("scan_id = ?", scanID).
		Order("created_at ASC").Order("id ASC").
		Find(&comments).Error
	if err != nil {
		return nil, err
	}
	return comments, nil
}

// CountByScan returns the number of comments on a scan.
func (r *commentRepository) CountByScan(ctx context.Context, scanID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&entities.ScanComment{}).Where("scan_id = ?", scanID).Count(&n).Error
	return n, err
}

// UpdateText replaces the comment text.
func (r *commentRepository) UpdateText(ctx context.Context, id uint, text string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&entities.ScanComment{}).
		Where("id = ?", id).
		Updates(map[string]any{"text": text, "edited": true, "edited_at": at})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrCommentNotFound
	}
	return nil
}

// DeleteWithReplies removes the comment and its direct replies in one transaction.
func (r *commentRepository) DeleteWithReplies(ctx context.Context, id uint) ([]uint, error) {
	var removed []uint
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []uint
		if err := tx.Model(&entities.ScanComment{}).
			Where("(id = ? OR parent_id = ?)", id, id).
			Order("id ASC").
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if !slices.Contains(ids, id) {
			return ErrCommentNotFound
		}
		if err := tx.Where("id IN ?", ids).Delete(&entities.ScanComment{}).Error; err != nil {
			return err
		}
		removed = ids
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

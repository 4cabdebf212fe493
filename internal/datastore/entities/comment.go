package entities

import "time"

// ScanComment is one message in a scan's discussion thread.
// A nil ParentID marks a root comment.
type ScanComment struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	ScanID     string     `gorm:"size:64;not null;index:idx_scan_comments_scan_created,priority:1" json:"scanId"`
	AuthorID   string     `gorm:"size:64;not null;index" json:"authorId"`
	AuthorRole string     `gorm:"size:16;not null" json:"authorRole"`
	AuthorName string     `gorm:"size:255" json:"authorName"`
	Text       string     `gorm:"type:text;not null" json:"text"`
	ParentID   *uint      `gorm:"index" json:"parentId,omitempty"`
	Edited     bool       `gorm:"not null;default:false" json:"edited"`
	EditedAt   *time.Time `json:"editedAt,omitempty"`
	CreatedAt  time.Time  `gorm:"autoCreateTime;index:idx_scan_comments_scan_created,priority:2" json:"createdAt"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName returns the table name for GORM.
func (ScanComment) TableName() string {
	return "scan_comments"
}

// IsRoot reports whether the comment starts a thread.
func (c *ScanComment) IsRoot() bool {
	return c.ParentID == nil
}

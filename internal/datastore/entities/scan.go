package entities

import (
	"time"

	"github.com/pneumai/pneumai-go/internal/detector"
)

// ScanStatus is the review lifecycle state of a scan.
type ScanStatus string

const (
	StatusPending           ScanStatus = "pending"
	StatusProcessing        ScanStatus = "processing"
	StatusCompleted         ScanStatus = "completed"
	StatusReviewed          ScanStatus = "reviewed"
	StatusRequiresAttention ScanStatus = "requires_attention"
	StatusArchived          ScanStatus = "archived"
)

// Valid reports whether s is a known status.
func (s ScanStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusReviewed, StatusRequiresAttention, StatusArchived:
		return true
	}
	return false
}

// ImageKind selects one of the stored image payloads.
type ImageKind string

const (
	ImageOriginal  ImageKind = "original"
	ImageAnnotated ImageKind = "annotated"
	ImageThumbnail ImageKind = "thumbnail"
)

// Column returns the blob column holding the payload, or "" for unknown kinds.
func (k ImageKind) Column() string {
	switch k {
	case ImageOriginal:
		return "original_image"
	case ImageAnnotated:
		return "annotated_image"
	case ImageThumbnail:
		return "thumbnail_image"
	}
	return ""
}

// BlobColumns lists every blob column. Metadata queries omit them.
var BlobColumns = []string{"original_image", "annotated_image", "thumbnail_image"}

// Scan is the durable record of one uploaded image and its analysis.
type Scan struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	ScanID string `gorm:"size:64;not null;uniqueIndex" json:"scanId"`

	PatientID  string  `gorm:"size:64;not null;uniqueIndex:idx_scans_patient_digest,priority:1;index" json:"patientId"`
	DoctorID   *string `gorm:"size:64;index" json:"doctorId,omitempty"`
	UploadedBy string  `gorm:"size:64;not null" json:"uploadedBy"`

	CaptureTime *time.Time `json:"captureTime,omitempty"`
	UploadTime  time.Time  `gorm:"not null;index" json:"uploadTime"`

	FileName        string `gorm:"size:255" json:"fileName"`
	FileSize        int64  `json:"fileSize"`
	MIMEType        string `gorm:"column:mime_type;size:64" json:"mimeType"`
	Width           int    `json:"width"`
	Height          int    `json:"height"`
	ContentDigest   string `gorm:"size:128;not null;uniqueIndex:idx_scans_patient_digest,priority:2" json:"contentDigest"`
	DigestAlgorithm string `gorm:"size:16;not null;default:sha256" json:"digestAlgorithm"`

	OriginalImage  []byte `json:"-"`
	AnnotatedImage []byte `json:"-"`
	ThumbnailImage []byte `json:"-"`
	HasOriginal    bool   `gorm:"not null;default:false" json:"hasOriginal"`
	HasAnnotated   bool   `gorm:"not null;default:false" json:"hasAnnotated"`
	HasThumbnail   bool   `gorm:"not null;default:false" json:"hasThumbnail"`

	Detections       []detector.Detection `gorm:"serializer:json;type:text" json:"detections"`
	TopClass         string               `gorm:"size:32" json:"topClass"`
	DetectionCount   int                  `json:"detectionCount"`
	RiskLevel        string               `gorm:"size:16;index" json:"riskLevel"`
	RiskPercentage   float64              `json:"riskPercentage"`
	Confidence       float64              `json:"confidence"`
	ModelVersion     string               `gorm:"size:64" json:"modelVersion"`
	ProcessingTimeMs int64                `json:"processingTimeMs"`

	Status        ScanStatus `gorm:"size:32;not null;index" json:"status"`
	FailureReason string     `gorm:"type:text" json:"failureReason,omitempty"`
	DoctorNotes   string     `gorm:"type:text" json:"doctorNotes,omitempty"`
	Diagnosis     string     `gorm:"type:text" json:"diagnosis,omitempty"`
	ReviewedAt    *time.Time `json:"reviewedAt,omitempty"`

	Archived bool `gorm:"not null;default:false;index" json:"archived"`
	Shared   bool `gorm:"not null;default:false" json:"shared"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`

	Comments []ScanComment `gorm:"foreignKey:ScanID;references:ScanID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name for GORM.
func (Scan) TableName() string {
	return "scans"
}

// HasImage reports whether the payload of the given kind was produced.
func (s *Scan) HasImage(kind ImageKind) bool {
	switch kind {
	case ImageOriginal:
		return s.HasOriginal
	case ImageAnnotated:
		return s.HasAnnotated
	case ImageThumbnail:
		return s.HasThumbnail
	}
	return false
}

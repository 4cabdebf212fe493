package repository

import (
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/pneumai/pneumai-go/internal/datastore"
	"github.com/pneumai/pneumai-go/internal/datastore/entities"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	m, err := datastore.Open(datastore.Config{URL: "sqlite://" + filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	require.NoError(t, m.Initialize())
	t.Cleanup(func() { _ = m.Close() })
	return m.DB()
}

var scanSeq atomic.Int64

func pendingScan(patientID, digest string) *entities.Scan {
	n := scanSeq.Add(1)
	return &entities.Scan{
		ScanID:          fmt.Sprintf("scan_20260101_000000_%08x", n),
		PatientID:       patientID,
		UploadedBy:      patientID,
		UploadTime:      time.Date(2026, 1, 1, 0, 0, int(n), 0, time.UTC),
		FileName:        "chest.png",
		FileSize:        1024,
		MIMEType:        "image/png",
		ContentDigest:   digest,
		DigestAlgorithm: "sha256",
		OriginalImage:   []byte("original-bytes"),
		HasOriginal:     true,
		Status:          entities.StatusPending,
	}
}

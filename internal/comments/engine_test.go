package comments

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pneumai/pneumai-go/internal/auth"
	"github.com/pneumai/pneumai-go/internal/datastore"
	"github.com/pneumai/pneumai-go/internal/datastore/entities"
	"github.com/pneumai/pneumai-go/internal/datastore/repository"
	"github.com/pneumai/pneumai-go/internal/errors"
	"github.com/pneumai/pneumai-go/internal/events"
	"github.com/pneumai/pneumai-go/internal/scans"
)

var (
	patient1 = auth.Identity{UserID: "P1", Role: auth.RolePatient, PatientID: "P1", Name: "Pat"}
	patient2 = auth.Identity{UserID: "P2", Role: auth.RolePatient, PatientID: "P2"}
	doctor   = auth.Identity{UserID: "D1", Role: auth.RoleDoctor, Name: "Dr. Who"}
	admin    = auth.Identity{UserID: "A1", Role: auth.RoleAdmin}
)

type capture struct{ events []events.Event }

func (c *capture) Publish(e events.Event) bool {
	c.events = append(c.events, e)
	return true
}

func newEngine(t *testing.T) (*Engine, string, *capture) {
	t.Helper()
	m, err := datastore.Open(datastore.Config{URL: "sqlite://" + filepath.Join(t.TempDir(), "comments.db")})
	require.NoError(t, err)
	require.NoError(t, m.Initialize())
	t.Cleanup(func() { _ = m.Close() })

	scanRepo := repository.NewScanRepository(m.DB())
	scan, _, err := scanRepo.InsertOrGet(context.Background(), &entities.Scan{
		ScanID: "scan_20260101_000000_0000000a", PatientID: "P1", UploadedBy: "P1",
		ContentDigest: "d1", UploadTime: time.Now().UTC(), Status: entities.StatusPending,
	})
	require.NoError(t, err)

	pub := &capture{}
	engine := NewEngine(repository.NewCommentRepository(m.DB()), scans.NewStore(scanRepo), pub)
	return engine, scan.ScanID, pub
}

func TestThreadEndToEnd(t *testing.T) {
	ctx := context.Background()
	engine, scanID, pub := newEngine(t)

	root, err := engine.Add(ctx, scanID, doctor, "needs follow-up", nil)
	require.NoError(t, err)
	assert.Equal(t, "Dr. Who", root.AuthorName)
	assert.Equal(t, "doctor", root.AuthorRole)

	reply, err := engine.Add(ctx, scanID, patient1, "understood", &root.ID)
	require.NoError(t, err)
	require.NotNil(t, reply.ParentID)

	threads, err := engine.List(ctx, scanID, patient1)
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, "needs follow-up", threads[0].Text)
	require.Len(t, threads[0].Replies, 1)
	assert.Equal(t, "understood", threads[0].Replies[0].Text)

	n, err := engine.Count(ctx, scanID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.Len(t, pub.events, 2)
	assert.Equal(t, events.CommentAdded, pub.events[1].Type)
	assert.Equal(t, "P1", pub.events[1].PatientID)
}

func TestAddAccessAndValidation(t *testing.T) {
	ctx := context.Background()
	engine, scanID, _ := newEngine(t)

	_, err := engine.Add(ctx, scanID, patient2, "not my scan", nil)
	assert.True(t, errors.IsForbidden(err))

	_, err = engine.Add(ctx, scanID, doctor, "   ", nil)
	assert.True(t, errors.IsValidation(err))

	_, err = engine.Add(ctx, scanID, doctor, strings.Repeat("a", MaxTextLength+1), nil)
	assert.True(t, errors.IsValidation(err))

	_, err = engine.Add(ctx, scanID, doctor, strings.Repeat("a", MaxTextLength), nil)
	require.NoError(t, err)

	missing := uint(4242)
	_, err = engine.Add(ctx, scanID, doctor, "orphan", &missing)
	assert.True(t, errors.IsNotFound(err))

	_, err = engine.Add(ctx, "scan_missing", doctor, "hello", nil)
	assert.True(t, errors.IsNotFound(err))
}

func TestNormalizeText(t *testing.T) {
	// "e" + combining acute composes to a single rune
	got, err := NormalizeText("  cafe\u0301 \n")
	require.NoError(t, err)
	assert.Equal(t, "caf\u00e9", got)

	// Length counts characters, not bytes
	_, err = NormalizeText(strings.Repeat("\u00e9", MaxTextLength))
	require.NoError(t, err)
}

func TestRepliesOfRepliesAttachToRoot(t *testing.T) {
	ctx := context.Background()
	engine, scanID, _ := newEngine(t)

	root, err := engine.Add(ctx, scanID, doctor, "root", nil)
	require.NoError(t, err)
	reply, err := engine.Add(ctx, scanID, patient1, "reply", &root.ID)
	require.NoError(t, err)
	nested, err := engine.Add(ctx, scanID, doctor, "nested", &reply.ID)
	require.NoError(t, err)
	assert.Equal(t, root.ID, *nested.ParentID)

	threads, err := engine.List(ctx, scanID, doctor)
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Len(t, threads[0].Replies, 2)
}

func TestEditOwnership(t *testing.T) {
	ctx := context.Background()
	engine, scanID, _ := newEngine(t)

	c, err := engine.Add(ctx, scanID, doctor, "draft", nil)
	require.NoError(t, err)

	_, err = engine.Edit(ctx, c.ID, admin, "hijack")
	assert.True(t, errors.IsForbidden(err), "admins may delete but not edit")

	edited, err := engine.Edit(ctx, c.ID, doctor, "final")
	require.NoError(t, err)
	assert.Equal(t, "final", edited.Text)
	assert.True(t, edited.Edited)
	assert.NotNil(t, edited.EditedAt)

	_, err = engine.Edit(ctx, 999, doctor, "x")
	assert.True(t, errors.IsNotFound(err))
}

func TestDeleteCascade(t *testing.T) {
	ctx := context.Background()
	engine, scanID, pub := newEngine(t)

	root, err := engine.Add(ctx, scanID, doctor, "root", nil)
	require.NoError(t, err)
	r1, err := engine.Add(ctx, scanID, patient1, "r1", &root.ID)
	require.NoError(t, err)
	_, err = engine.Add(ctx, scanID, doctor, "r2", &root.ID)
	require.NoError(t, err)

	// Deleting a reply removes only that reply
	_, err = engine.Delete(ctx, r1.ID, doctor)
	assert.True(t, errors.IsForbidden(err))
	removed, err := engine.Delete(ctx, r1.ID, patient1)
	require.NoError(t, err)
	assert.Equal(t, []uint{r1.ID}, removed)

	// Re-add so the root has two replies again
	_, err = engine.Add(ctx, scanID, patient1, "r3", &root.ID)
	require.NoError(t, err)

	pub.events = nil
	removed, err = engine.Delete(ctx, root.ID, admin)
	require.NoError(t, err)
	assert.Len(t, removed, 3)
	assert.Len(t, pub.events, 3)

	n, err := engine.Count(ctx, scanID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func ptr(v uint) *uint { return &v }

func TestGroupFlattensAndKeepsOrphans(t *testing.T) {
	all := []entities.ScanComment{
		{ID: 1, Text: "root"},
		{ID: 2, Text: "reply", ParentID: ptr(1)},
		{ID: 3, Text: "deep", ParentID: ptr(2)},
		{ID: 4, Text: "orphan", ParentID: ptr(99)},
		{ID: 5, Text: "second root"},
		{ID: 6, Text: "cycle a", ParentID: ptr(7)},
		{ID: 7, Text: "cycle b", ParentID: ptr(6)},
	}
	threads := Group(all)

	require.Len(t, threads, 5)
	assert.Equal(t, uint(1), threads[0].ID)
	assert.Equal(t, []uint{2, 3}, []uint{threads[0].Replies[0].ID, threads[0].Replies[1].ID})
	assert.Equal(t, uint(4), threads[1].ID)
	assert.Equal(t, uint(5), threads[2].ID)
	assert.Empty(t, threads[2].Replies)

	assert.Empty(t, Group(nil))
	assert.NotNil(t, Group(nil))
}

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pneumai/pneumai-go/internal/datastore/entities"
)

func seedScans(t *testing.T, scans ScanRepository, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := range n {
		s, _, err := scans.InsertOrGet(context.Background(), pendingScan("P1", "comment-digest-"+string(rune('a'+i))))
		require.NoError(t, err)
		ids = append(ids, s.ScanID)
	}
	return ids
}

func TestCommentParentChecks(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewCommentRepository(db)
	ids := seedScans(t, NewScanRepository(db), 2)

	root := &entities.ScanComment{ScanID: ids[0], AuthorID: "D1", AuthorRole: "doctor", Text: "looks benign"}
	require.NoError(t, repo.Add(ctx, root, true))
	assert.True(t, root.IsRoot())

	missing := uint(9999)
	err := repo.Add(ctx, &entities.ScanComment{ScanID: ids[0], AuthorID: "P1", AuthorRole: "patient", Text: "?", ParentID: &missing}, true)
	require.ErrorIs(t, err, ErrParentNotFound)

	err = repo.Add(ctx, &entities.ScanComment{ScanID: ids[1], AuthorID: "P1", AuthorRole: "patient", Text: "?", ParentID: &root.ID}, true)
	require.ErrorIs(t, err, ErrParentScanMismatch)

	n, err := repo.CountByScan(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.ErrorIs(t, repo.Add(ctx, &entities.ScanComment{Text: "no scan"}, true), ErrInvalidInput)
}

func TestCommentReplyAttachesToRoot(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewCommentRepository(db)
	ids := seedScans(t, NewScanRepository(db), 1)

	root := &entities.ScanComment{ScanID: ids[0], AuthorID: "D1", AuthorRole: "doctor", Text: "root"}
	require.NoError(t, repo.Add(ctx, root, true))
	reply := &entities.ScanComment{ScanID: ids[0], AuthorID: "P1", AuthorRole: "patient", Text: "reply", ParentID: &root.ID}
	require.NoError(t, repo.Add(ctx, reply, true))

	nested := &entities.ScanComment{ScanID: ids[0], AuthorID: "D1", AuthorRole: "doctor", Text: "nested", ParentID: &reply.ID}
	require.NoError(t, repo.Add(ctx, nested, true))
	require.NotNil(t, nested.ParentID)
	assert.Equal(t, root.ID, *nested.ParentID)

	raw := &entities.ScanComment{ScanID: ids[0], AuthorID: "D1", AuthorRole: "doctor", Text: "kept", ParentID: &reply.ID}
	require.NoError(t, repo.Add(ctx, raw, false))
	assert.Equal(t, reply.ID, *raw.ParentID)

	list, err := repo.ListByScan(ctx, ids[0])
	require.NoError(t, err)
	require.Len(t, list, 4)
	assert.Equal(t, []uint{root.ID, reply.ID, nested.ID, raw.ID}, []uint{list[0].ID, list[1].ID, list[2].ID, list[3].ID})
}

func TestCommentUpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewCommentRepository(db)
	ids := seedScans(t, NewScanRepository(db), 1)

	root := &entities.ScanComment{ScanID: ids[0], AuthorID: "D1", AuthorRole: "doctor", Text: "root"}
	require.NoError(t, repo.Add(ctx, root, true))
	other := &entities.ScanComment{ScanID: ids[0], AuthorID: "D1", AuthorRole: "doctor", Text: "separate"}
	require.NoError(t, repo.Add(ctx, other, true))
	for range 2 {
		require.NoError(t, repo.Add(ctx, &entities.ScanComment{ScanID: ids[0], AuthorID: "P1", AuthorRole: "patient", Text: "r", ParentID: &root.ID}, true))
	}

	at := time.Now().UTC()
	require.NoError(t, repo.UpdateText(ctx, root.ID, "edited root", at))
	got, err := repo.Get(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, "edited root", got.Text)
	assert.True(t, got.Edited)
	require.NotNil(t, got.EditedAt)

	removed, err := repo.DeleteWithReplies(ctx, root.ID)
	require.NoError(t, err)
	assert.Len(t, removed, 3)
	assert.Equal(t, root.ID, removed[0])

	n, err := repo.CountByScan(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = repo.DeleteWithReplies(ctx, root.ID)
	require.ErrorIs(t, err, ErrCommentNotFound)
	require.ErrorIs(t, repo.UpdateText(ctx, root.ID, "x", at), ErrCommentNotFound)
	_, err = repo.Get(ctx, root.ID)
	require.ErrorIs(t, err, ErrCommentNotFound)
}

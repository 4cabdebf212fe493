package api

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pneumai/pneumai-go/internal/datastore/entities"
)

func (f *fixture) addComment(t *testing.T, token, scanID, text string, parentID *uint) entities.ScanComment {
	t.Helper()
	rec := f.doJSON(t, http.MethodPost, "/api/v2/scans/"+scanID+"/comments", token, CommentRequest{Text: text, ParentID: parentID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var c entities.ScanComment
	decode(t, rec, &c)
	return c
}

func TestCommentThreads(t *testing.T) {
	f := newFixture(t)
	_, scan := f.submit(t, patientToken, "", pngBytes(t, 16, 16, 100))

	root := f.addComment(t, doctorToken, scan.ScanID, "Please repeat with a lateral view", nil)
	assert.Equal(t, "doctor", root.AuthorRole)
	assert.Equal(t, "Dr. Lee", root.AuthorName)

	reply := f.addComment(t, patientToken, scan.ScanID, "Booked for Monday", &root.ID)
	nested := f.addComment(t, doctorToken, scan.ScanID, "Thanks", &reply.ID)
	require.NotNil(t, nested.ParentID)
	assert.Equal(t, root.ID, *nested.ParentID, "replies to replies attach to the root")

	second := f.addComment(t, doctorToken, scan.ScanID, "Second thread", nil)

	rec := f.do(t, http.MethodGet, "/api/v2/scans/"+scan.ScanID+"/comments", patientToken, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list CommentList
	decode(t, rec, &list)
	assert.Equal(t, 4, list.Total)
	require.Len(t, list.Threads, 2)
	assert.Equal(t, root.ID, list.Threads[0].ID)
	assert.Len(t, list.Threads[0].Replies, 2)
	assert.Equal(t, second.ID, list.Threads[1].ID)
	assert.Empty(t, list.Threads[1].Replies)

	get := f.do(t, http.MethodGet, "/api/v2/scans/"+scan.ScanID, doctorToken, nil, "")
	var detail ScanDetail
	decode(t, get, &detail)
	assert.Equal(t, int64(4), detail.CommentCount)
}

func TestCommentAccessAndValidation(t *testing.T) {
	f := newFixture(t)
	_, scan := f.submit(t, patientToken, "", pngBytes(t, 16, 16, 101))
	path := "/api/v2/scans/" + scan.ScanID + "/comments"

	rec := f.doJSON(t, http.MethodPost, path, patient2Token, CommentRequest{Text: "hello"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodGet, path, patient2Token, nil, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.doJSON(t, http.MethodPost, path, doctorToken, CommentRequest{Text: "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	missing := uint(9999)
	rec = f.doJSON(t, http.MethodPost, path, doctorToken, CommentRequest{Text: "orphan", ParentID: &missing})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.doJSON(t, http.MethodPost, "/api/v2/scans/scan_missing/comments", doctorToken, CommentRequest{Text: "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, path, doctorToken, nil, "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEditComment(t *testing.T) {
	f := newFixture(t)
	_, scan := f.submit(t, patientToken, "", pngBytes(t, 16, 16, 102))
	c := f.addComment(t, doctorToken, scan.ScanID, "first draft", nil)
	path := fmt.Sprintf("/api/v2/comments/%d", c.ID)

	rec := f.doJSON(t, http.MethodPut, path, adminToken, CommentRequest{Text: "hijack"})
	assert.Equal(t, http.StatusForbidden, rec.Code, "only the author edits")

	rec = f.doJSON(t, http.MethodPut, path, doctorToken, CommentRequest{Text: "final wording"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var edited entities.ScanComment
	decode(t, rec, &edited)
	assert.Equal(t, "final wording", edited.Text)
	assert.True(t, edited.Edited)
	assert.NotNil(t, edited.EditedAt)

	assert.Equal(t, http.StatusBadRequest, f.doJSON(t, http.MethodPut, "/api/v2/comments/abc", doctorToken, CommentRequest{Text: "x"}).Code)
	assert.Equal(t, http.StatusNotFound, f.doJSON(t, http.MethodPut, "/api/v2/comments/9999", doctorToken, CommentRequest{Text: "x"}).Code)
}

func TestDeleteCommentRemovesReplies(t *testing.T) {
	f := newFixture(t)
	_, scan := f.submit(t, patientToken, "", pngBytes(t, 16, 16, 103))
	root := f.addComment(t, patientToken, scan.ScanID, "Is this serious?", nil)
	reply := f.addComment(t, doctorToken, scan.ScanID, "We will discuss", &root.ID)
	other := f.addComment(t, doctorToken, scan.ScanID, "Unrelated", nil)

	rec := f.do(t, http.MethodDelete, fmt.Sprintf("/api/v2/comments/%d", root.ID), doctorToken, nil, "")
	assert.Equal(t, http.StatusForbidden, rec.Code, "doctors may not delete a patient's comment")

	rec = f.do(t, http.MethodDelete, fmt.Sprintf("/api/v2/comments/%d", root.ID), patientToken, nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		Deleted []uint `json:"deleted"`
	}
	decode(t, rec, &out)
	assert.ElementsMatch(t, []uint{root.ID, reply.ID}, out.Deleted)

	// Admins may delete anyone's comment
	rec = f.do(t, http.MethodDelete, fmt.Sprintf("/api/v2/comments/%d", other.ID), adminToken, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v2/scans/"+scan.ScanID+"/comments", patientToken, nil, "")
	var list CommentList
	decode(t, rec, &list)
	assert.Empty(t, list.Threads)
	assert.Equal(t, 0, list.Total)
}

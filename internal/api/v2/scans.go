package api

import (
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/pneumai/pneumai-go/internal/auth"
	"github.com/pneumai/pneumai-go/internal/datastore/entities"
	"github.com/pneumai/pneumai-go/internal/datastore/repository"
	"github.com/pneumai/pneumai-go/internal/errors"
	"github.com/pneumai/pneumai-go/internal/ingest"
	"github.com/pneumai/pneumai-go/internal/risk"
	"github.com/pneumai/pneumai-go/internal/scans"
)

// Listing page bounds.
const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// SubmitResponse is returned by POST /scans.
type SubmitResponse struct {
	*entities.Scan
	Duplicate bool `json:"duplicate"`
	Retried   bool `json:"retried"`
}

// ScanDetail is a scan with its comment count.
type ScanDetail struct {
	*entities.Scan
	CommentCount int64 `json:"commentCount"`
}

// ScanList is one page of scans.
type ScanList struct {
	Scans  []entities.Scan `json:"scans"`
	Total  int64           `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

// ReviewRequest is the body of PUT /scans/:scanId/review.
type ReviewRequest struct {
	Notes     string `json:"notes"`
	Diagnosis string `json:"diagnosis"`
}

// SubmitScan handles POST /scans.
func (c *Controller) SubmitScan(ctx echo.Context) error {
	fh, err := ctx.FormFile("file")
	if err != nil {
		return c.HandleError(ctx, errors.ValidationError("multipart field 'file' is required"))
	}
	f, err := fh.Open()
	if err != nil {
		return c.HandleError(ctx, errors.New(err).Component("api").Category(errors.CategoryFileIO).Build())
	}
	defer f.Close()

	// One byte past the limit is enough for the pipeline to reject the upload
	data, err := io.ReadAll(io.LimitReader(f, c.Settings.Ingest.MaxUploadBytes()+1))
	if err != nil {
		return c.HandleError(ctx, errors.New(err).Component("api").Category(errors.CategoryFileIO).Build())
	}

	req := ingest.Request{
		Data:         data,
		FileName:     filepath.Base(fh.Filename),
		DeclaredType: fh.Header.Get(echo.HeaderContentType),
		PatientID:    ctx.FormValue("patientId"),
		DoctorID:     ctx.FormValue("doctorId"),
		Caller:       caller(ctx),
	}
	if raw := ctx.FormValue("captureTime"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.HandleError(ctx, errors.ValidationError("captureTime must be RFC 3339"))
		}
		t = t.UTC()
		req.CaptureTime = &t
	}

	res, err := c.ingest.Submit(ctx.Request().Context(), req)
	if err != nil {
		if res != nil && res.Scan != nil {
			return c.HandlePipelineError(ctx, err, res.Scan.ScanID)
		}
		return c.HandleError(ctx, err)
	}

	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	return ctx.JSON(status, SubmitResponse{Scan: res.Scan, Duplicate: res.Duplicate, Retried: res.Retried})
}

// GetScan handles GET /scans/:scanId.
func (c *Controller) GetScan(ctx echo.Context) error {
	scan, err := c.scans.Get(ctx.Request().Context(), ctx.Param("scanId"), caller(ctx))
	if err != nil {
		return c.HandleError(ctx, err)
	}
	count, err := c.comments.Count(ctx.Request().Context(), scan.ScanID)
	if err != nil {
		return c.HandleError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, ScanDetail{Scan: scan, CommentCount: count})
}

// GetScanImage handles GET /scans/:scanId/images/:imageType.
func (c *Controller) GetScanImage(ctx echo.Context) error {
	kind := entities.ImageKind(ctx.Param("imageType"))
	img, err := c.scans.GetImage(ctx.Request().Context(), ctx.Param("scanId"), kind, caller(ctx))
	if err != nil {
		return c.HandleError(ctx, err)
	}
	// Payloads never change once written
	ctx.Response().Header().Set("Cache-Control", "private, max-age=86400, immutable")
	return ctx.Blob(http.StatusOK, img.MIMEType, img.Data)
}

// ListScans handles GET /scans.
func (c *Controller) ListScans(ctx echo.Context) error {
	filter, err := parseScanFilter(ctx)
	if err != nil {
		return c.HandleError(ctx, err)
	}

	id := caller(ctx)
	patientID := ctx.QueryParam("patientId")
	if patientID == "" && id.Role == auth.RolePatient {
		patientID = id.PatientID
	}

	var page *scans.Page
	if patientID != "" {
		page, err = c.scans.ListForPatient(ctx.Request().Context(), patientID, filter, id)
	} else {
		page, err = c.scans.ListAll(ctx.Request().Context(), filter, id)
	}
	if err != nil {
		return c.HandleError(ctx, err)
	}

	return ctx.JSON(http.StatusOK, ScanList{
		Scans:  page.Scans,
		Total:  page.Total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

func parseScanFilter(ctx echo.Context) (repository.ScanFilter, error) {
	filter := repository.ScanFilter{Limit: defaultPageSize}

	if s := ctx.QueryParam("status"); s != "" {
		status := entities.ScanStatus(s)
		if !status.Valid() {
			return filter, errors.ValidationError("unknown status " + strconv.Quote(s))
		}
		filter.Status = status
	}
	if s := ctx.QueryParam("riskLevel"); s != "" {
		level, err := risk.ParseLevel(s)
		if err != nil {
			return filter, errors.ValidationError(err.Error())
		}
		filter.RiskLevel = string(level)
	}
	if s := ctx.QueryParam("archived"); s != "" {
		archived, err := strconv.ParseBool(s)
		if err != nil {
			return filter, errors.ValidationError("archived must be true or false")
		}
		filter.Archived = &archived
	}
	if s := ctx.QueryParam("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return filter, errors.ValidationError("limit must be a positive integer")
		}
		filter.Limit = min(n, maxPageSize)
	}
	if s := ctx.QueryParam("offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return filter, errors.ValidationError("offset must be a non-negative integer")
		}
		filter.Offset = n
	}
	return filter, nil
}

// LookupScan handles GET /scans/lookup, the pre-upload duplicate check.
func (c *Controller) LookupScan(ctx echo.Context) error {
	id := caller(ctx)
	patientID := ctx.QueryParam("patientId")
	if patientID == "" && id.Role == auth.RolePatient {
		patientID = id.PatientID
	}
	scan, err := c.scans.FindByDigest(ctx.Request().Context(), patientID, ctx.QueryParam("digest"), id)
	if err != nil {
		return c.HandleError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, scan)
}

// ReviewScan handles PUT /scans/:scanId/review.
func (c *Controller) ReviewScan(ctx echo.Context) error {
	var body ReviewRequest
	if err := ctx.Bind(&body); err != nil {
		return c.HandleError(ctx, errors.ValidationError("invalid review body"))
	}
	scan, err := c.scans.AttachReview(ctx.Request().Context(), ctx.Param("scanId"), caller(ctx), body.Notes, body.Diagnosis)
	if err != nil {
		return c.HandleError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, scan)
}

// ArchiveScan handles POST /scans/:scanId/archive.
func (c *Controller) ArchiveScan(ctx echo.Context) error {
	scan, err := c.scans.Archive(ctx.Request().Context(), ctx.Param("scanId"), caller(ctx))
	if err != nil {
		return c.HandleError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, scan)
}

// DeleteScan handles DELETE /scans/:scanId.
func (c *Controller) DeleteScan(ctx echo.Context) error {
	scanID := ctx.Param("scanId")
	n, err := c.scans.Delete(ctx.Request().Context(), scanID, caller(ctx))
	if err != nil {
		return c.HandleError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"deleted":         scanID,
		"commentsDeleted": n,
	})
}

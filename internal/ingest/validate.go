package ingest

import (
	"mime"
	"slices"
	"strings"

	"github.com/labstack/gommon/bytes"

	"github.com/pneumai/pneumai-go/internal/detector"
	"github.com/pneumai/pneumai-go/internal/errors"
)

// typeAliases maps non-canonical media types seen from browsers.
var typeAliases = map[string]string{
	"image/jpg":           "image/jpeg",
	"image/pjpeg":         "image/jpeg",
	"image/x-png":         "image/png",
	"image/x-ms-bmp":      "image/bmp",
	"image/tif":           "image/tiff",
	"application/x-dicom": detector.MIMEDICOM,
	"image/dicom":         detector.MIMEDICOM,
}

// validate checks size, type and declared dimensions and returns the effective
// media type. Unreadable headers pass so the pipeline records the decode failure.
func (o *Orchestrator) validate(req Request) (string, error) {
	size := int64(len(req.Data))
	if size == 0 {
		return "", errors.ValidationError("uploaded file is empty")
	}
	if size > o.cfg.MaxUploadBytes {
		return "", errors.New(errors.NewStd("uploaded file exceeds the size limit of "+bytes.Format(o.cfg.MaxUploadBytes))).
			Component(component).
			Category(errors.CategoryLimit).
			Context("size_bytes", size).
			Context("limit_bytes", o.cfg.MaxUploadBytes).
			Build()
	}

	mimeType := normalizeType(req.DeclaredType)
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = normalizeType(detector.SniffMIME(req.Data))
		if mimeType == "application/octet-stream" && detector.IsDICOM(nil, req.FileName) {
			mimeType = detector.MIMEDICOM
		}
	}
	if !slices.Contains(o.cfg.AllowedTypes, mimeType) {
		return "", errors.New(errors.NewStd("file type "+mimeType+" is not allowed")).
			Component(component).
			Category(errors.CategoryValidation).
			Context("type", mimeType).
			Context("allowed", strings.Join(o.cfg.AllowedTypes, ",")).
			Build()
	}

	if _, err := detector.Inspect(req.Data, o.decodeOptions(req.FileName)); errors.IsCategory(err, errors.CategoryLimit) {
		return "", err
	}
	return mimeType, nil
}

func normalizeType(t string) string {
	t = strings.TrimSpace(strings.ToLower(t))
	if t == "" {
		return ""
	}
	if parsed, _, err := mime.ParseMediaType(t); err == nil {
		t = parsed
	}
	if alias, ok := typeAliases[t]; ok {
		return alias
	}
	return t
}

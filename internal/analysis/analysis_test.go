package analysis

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/pneumai/pneumai-go/internal/auth"
	"github.com/pneumai/pneumai-go/internal/buildinfo"
	"github.com/pneumai/pneumai-go/internal/conf"
	"github.com/pneumai/pneumai-go/internal/detector"
	"github.com/pneumai/pneumai-go/internal/errors"
	"github.com/pneumai/pneumai-go/internal/risk"
	"github.com/pneumai/pneumai-go/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

var mass = detector.Detection{
	Class:      detector.ClassMass,
	ClassID:    4,
	Confidence: 0.91,
	Box:        detector.BoundingBox{X: 2, Y: 2, Width: 10, Height: 12},
}

func testSettings(t *testing.T) *conf.Settings {
	t.Helper()
	settings, err := conf.Defaults()
	require.NoError(t, err)
	settings.Model.Path = StaticModel
	settings.Database.URL = "sqlite://" + filepath.Join(t.TempDir(), "service.db")
	settings.Server.RateLimit.Enabled = false
	settings.Server.ShutdownTimeout = 5 * time.Second
	settings.Ingest.Workers = 2
	settings.Ingest.InferenceTimeout = 5 * time.Second
	return settings
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{uint8(x * 7), uint8(y * 5), 90, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
}

func TestNewDetectorStatic(t *testing.T) {
	det, closeDet, err := NewDetector(conf.ModelSettings{Path: "None"})
	require.NoError(t, err)
	defer closeDet()

	assert.True(t, det.Ready())
	assert.Equal(t, "static", det.ModelVersion())
}

func TestNewDetectorMissingModel(t *testing.T) {
	_, closeDet, err := NewDetector(conf.ModelSettings{
		Path:      filepath.Join(t.TempDir(), "missing.tflite"),
		InputSize: 640,
	})
	require.Error(t, err)
	require.NotNil(t, closeDet)
	closeDet()
	assert.True(t, errors.IsCategory(err, errors.CategoryModelLoad))
}

func TestFileAnalysis(t *testing.T) {
	settings := testSettings(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "chest.png")
	writePNG(t, path, 48, 40)

	a, err := NewAnalyzer(settings, WithAnalyzerDetector(detector.NewStatic(mass)))
	require.NoError(t, err)
	defer a.Close()

	res, err := a.File(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, path, res.Path)
	assert.Len(t, res.Digest, 64)
	assert.Equal(t, 48, res.Width)
	assert.Equal(t, 40, res.Height)
	assert.Equal(t, "png", res.Format)
	assert.Equal(t, detector.ClassMass, res.TopClass)
	assert.Equal(t, risk.High, res.Assessment.Level)
	require.Len(t, res.Detections, 1)
}

func TestFileAnalysisDICOM(t *testing.T) {
	settings := testSettings(t)
	path := filepath.Join(t.TempDir(), "ct.dcm")
	require.NoError(t, os.WriteFile(path, testutil.ChestCT().Encode(), 0o600))

	a, err := NewAnalyzer(settings)
	require.NoError(t, err)
	defer a.Close()

	res, err := a.File(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "dicom", res.Format)
	assert.Equal(t, 2, res.Width)
}

func TestFileAnalysisPixelLimit(t *testing.T) {
	settings := testSettings(t)
	settings.Ingest.MaxPixels = 100
	path := filepath.Join(t.TempDir(), "wide.png")
	writePNG(t, path, 20, 10)

	a, err := NewAnalyzer(settings)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.File(context.Background(), path)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryLimit))
}

func TestFileAnalysisRejects(t *testing.T) {
	settings := testSettings(t)
	settings.Ingest.MaxUploadSizeMB = 1
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.png")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	large := filepath.Join(dir, "large.png")
	require.NoError(t, os.WriteFile(large, make([]byte, 2<<20), 0o600))
	text := filepath.Join(dir, "notes.png")
	require.NoError(t, os.WriteFile(text, []byte("not an image"), 0o600))

	a, err := NewAnalyzer(settings)
	require.NoError(t, err)
	defer a.Close()

	tests := []struct {
		name     string
		path     string
		category errors.ErrorCategory
	}{
		{"missing", filepath.Join(dir, "nope.png"), errors.CategoryFileIO},
		{"directory", dir, errors.CategoryValidation},
		{"empty", empty, errors.CategoryValidation},
		{"too large", large, errors.CategoryLimit},
		{"undecodable", text, errors.CategoryImageDecode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.File(context.Background(), tt.path)
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, tt.category), "got %v", err)
		})
	}
}

func TestDirectoryAnalysis(t *testing.T) {
	settings := testSettings(t)
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "b.png"), 32, 32)
	writePNG(t, filepath.Join(dir, "a.PNG"), 24, 24)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.jpg"), []byte("broken"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("skip"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o700))
	writePNG(t, filepath.Join(dir, "nested", "d.png"), 16, 16)

	a, err := NewAnalyzer(settings)
	require.NoError(t, err)
	defer a.Close()

	var mu sync.Mutex
	var reported []string
	results, err := a.Directory(context.Background(), dir, false, func(r FileResult) {
		mu.Lock()
		reported = append(reported, filepath.Base(r.Path))
		mu.Unlock()
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.ElementsMatch(t, []string{"a.PNG", "b.png", "c.jpg"}, reported)

	assert.Equal(t, "a.PNG", filepath.Base(results[0].Path))
	assert.Empty(t, results[0].Error)
	assert.Equal(t, risk.None, results[0].Assessment.Level)
	assert.Equal(t, "c.jpg", filepath.Base(results[2].Path))
	assert.NotEmpty(t, results[2].Error)
	assert.Nil(t, results[2].Analysis)

	results, err = a.Directory(context.Background(), dir, true, nil)
	require.NoError(t, err)
	assert.Len(t, results, 4)
}

func TestDirectoryAnalysisEdgeCases(t *testing.T) {
	settings := testSettings(t)
	a, err := NewAnalyzer(settings)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Directory(context.Background(), t.TempDir(), true, nil)
	require.ErrorIs(t, err, ErrNoImages)

	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), 16, 16)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.Directory(ctx, dir, false, nil)
	require.ErrorIs(t, err, ErrAnalysisCanceled)
}

// startService runs a service on a loopback listener. stop cancels it and
// returns the Run error; it is safe to call more than once.
func startService(t *testing.T, settings *conf.Settings, opts ...ServiceOption) (string, func() error) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	svc, err := NewService(settings, buildinfo.NewContext("0.9.0", "2026-10-01", "deadbeef"),
		append(opts, WithListener(ln))...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	stop := sync.OnceValue(func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(10 * time.Second):
			return context.DeadlineExceeded
		}
	})
	t.Cleanup(func() { _ = stop() })
	return "http://" + ln.Addr().String(), stop
}

func get(t *testing.T, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, http.NoBody)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.DefaultClient.Do(req)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestServiceRunAndShutdown(t *testing.T) {
	sessions := auth.StaticSessions{"doc": {UserID: "D1", Role: auth.RoleDoctor}}
	base, stop := startService(t, testSettings(t), WithSessions(sessions))

	assert.Equal(t, http.StatusOK, get(t, base+"/api/v2/health", "").StatusCode)
	assert.Equal(t, http.StatusOK, get(t, base+"/api/v2/readiness", "").StatusCode)
	assert.Equal(t, http.StatusOK, get(t, base+"/api/v2/scans", "doc").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, get(t, base+"/api/v2/scans", "").StatusCode)

	require.NoError(t, stop())

	_, err := http.Get(base + "/api/v2/health")
	require.Error(t, err)
}

func TestServiceEmptySecretRejectsTokens(t *testing.T) {
	settings := testSettings(t)
	settings.Auth.JWTSecret = ""
	base, _ := startService(t, settings)

	assert.Equal(t, http.StatusUnauthorized, get(t, base+"/api/v2/scans", "anything").StatusCode)
}

func TestNewServiceErrors(t *testing.T) {
	_, err := NewService(nil, nil)
	require.Error(t, err)

	settings := testSettings(t)
	settings.Database.URL = "redis://localhost"
	_, err = NewService(settings, nil)
	require.Error(t, err)

	settings = testSettings(t)
	settings.Scans.Visibility = "everyone"
	_, err = NewService(settings, nil)
	require.Error(t, err)
}

package api

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"math/rand/v2"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/pneumai/pneumai-go/internal/auth"
	"github.com/pneumai/pneumai-go/internal/buildinfo"
	"github.com/pneumai/pneumai-go/internal/comments"
	"github.com/pneumai/pneumai-go/internal/conf"
	"github.com/pneumai/pneumai-go/internal/datastore"
	"github.com/pneumai/pneumai-go/internal/datastore/repository"
	"github.com/pneumai/pneumai-go/internal/detector"
	"github.com/pneumai/pneumai-go/internal/events"
	"github.com/pneumai/pneumai-go/internal/fingerprint"
	"github.com/pneumai/pneumai-go/internal/ingest"
	"github.com/pneumai/pneumai-go/internal/observability"
	"github.com/pneumai/pneumai-go/internal/scans"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

const (
	patientToken  = "patient-token"
	patient2Token = "patient2-token"
	doctorToken   = "doctor-token"
	adminToken    = "admin-token"
)

var sessions = auth.StaticSessions{
	patientToken:  {UserID: "P1", Role: auth.RolePatient, PatientID: "P1", Name: "Pat One"},
	patient2Token: {UserID: "P2", Role: auth.RolePatient, PatientID: "P2", Name: "Pat Two"},
	doctorToken:   {UserID: "D1", Role: auth.RoleDoctor, Name: "Dr. Lee"},
	adminToken:    {UserID: "A1", Role: auth.RoleAdmin, Name: "Admin"},
}

var nodule = detector.Detection{
	Class:      detector.ClassNodule,
	ClassID:    3,
	Confidence: 0.82,
	Box:        detector.BoundingBox{X: 4, Y: 4, Width: 20, Height: 20},
}

type fixture struct {
	e           *echo.Echo
	ctrl        *Controller
	broadcaster *events.Broadcaster
	repo        repository.ScanRepository
	det         *detector.Static
	db          datastore.Manager
	settings    *conf.Settings
}

func newFixture(t *testing.T, mutate ...func(*conf.Settings)) *fixture {
	t.Helper()

	settings, err := conf.Defaults()
	require.NoError(t, err)
	settings.Server.RateLimit.Enabled = false
	settings.Ingest.Workers = 2
	settings.Ingest.InferenceTimeout = 5 * time.Second
	for _, fn := range mutate {
		fn(settings)
	}

	db, err := datastore.Open(datastore.Config{URL: "sqlite://" + filepath.Join(t.TempDir(), "api.db")})
	require.NoError(t, err)
	require.NoError(t, db.Initialize())
	t.Cleanup(func() { _ = db.Close() })

	bc := events.New(events.Config{BufferSize: 64, Workers: 1, SubscriberBuffer: 16, SendTimeout: time.Second})
	t.Cleanup(func() { _ = bc.Shutdown(time.Second) })

	fp, err := fingerprint.New("sha256")
	require.NoError(t, err)

	det := detector.NewStatic(nodule)
	repo := repository.NewScanRepository(db.DB())
	orch, err := ingest.New(ingest.Config{
		MaxUploadBytes:   settings.Ingest.MaxUploadBytes(),
		AllowedTypes:     settings.Ingest.AllowedTypes,
		MaxPixels:        settings.Ingest.MaxPixels,
		Workers:          settings.Ingest.Workers,
		InferenceTimeout: settings.Ingest.InferenceTimeout,
	}, repo, det, fp, ingest.WithPublisher(bc))
	require.NoError(t, err)

	store := scans.NewStore(repo, scans.WithPublisher(bc))
	engine := comments.NewEngine(repository.NewCommentRepository(db.DB()), store, bc)

	metrics, err := observability.NewMetrics()
	require.NoError(t, err)

	e := echo.New()
	e.HideBanner = true
	ctrl, err := New(e, settings, Dependencies{
		Ingest:   orch,
		Scans:    store,
		Comments: engine,
		Events:   bc,
		Sessions: sessions,
		DB:       db,
		Metrics:  metrics,
		Build:    buildinfo.NewContext("1.2.3", "2026-01-01", "abc123"),
	}, WithHeartbeat(50*time.Millisecond), WithWebSocketPing(time.Second))
	require.NoError(t, err)
	t.Cleanup(ctrl.Shutdown)

	return &fixture{e: e, ctrl: ctrl, broadcaster: bc, repo: repo, det: det, db: db, settings: settings}
}

// pngBytes encodes a w x h noise image; seed varies the content.
func pngBytes(t *testing.T, w, h int, seed uint64) []byte {
	t.Helper()
	rng := rand.New(rand.NewPCG(seed, seed+1))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{uint8(rng.IntN(256)), uint8(rng.IntN(256)), uint8(rng.IntN(256)), 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// multipartBody builds an upload form. An empty contentType leaves the part
// as application/octet-stream.
func multipartBody(t *testing.T, data []byte, contentType string, fields map[string]string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if data != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="file"; filename="chest.png"`)
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		h.Set("Content-Type", contentType)
		part, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func (f *fixture) do(t *testing.T, method, path, token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) doJSON(t *testing.T, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return f.do(t, method, path, token, bytes.NewReader(data), echo.MIMEApplicationJSON)
}

// submit uploads a PNG for patientID and returns the decoded response.
func (f *fixture) submit(t *testing.T, token, patientID string, data []byte) (*httptest.ResponseRecorder, SubmitResponse) {
	t.Helper()
	fields := map[string]string{}
	if patientID != "" {
		fields["patientId"] = patientID
	}
	body, ct := multipartBody(t, data, "image/png", fields)
	rec := f.do(t, http.MethodPost, "/api/v2/scans", token, body, ct)
	var resp SubmitResponse
	if rec.Code < http.StatusBadRequest {
		decode(t, rec, &resp)
	}
	return rec, resp
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	decode(t, rec, &resp)
	return resp
}

package ingest

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"math/rand/v2"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/pneumai/pneumai-go/internal/auth"
	"github.com/pneumai/pneumai-go/internal/datastore"
	"github.com/pneumai/pneumai-go/internal/datastore/entities"
	"github.com/pneumai/pneumai-go/internal/datastore/repository"
	"github.com/pneumai/pneumai-go/internal/detector"
	"github.com/pneumai/pneumai-go/internal/errors"
	"github.com/pneumai/pneumai-go/internal/events"
	"github.com/pneumai/pneumai-go/internal/fingerprint"
	"github.com/pneumai/pneumai-go/internal/observability/metrics"
	chtest "github.com/pneumai/pneumai-go/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	patient = auth.Identity{UserID: "P1", Role: auth.RolePatient, PatientID: "P1"}
	doctor  = auth.Identity{UserID: "D1", Role: auth.RoleDoctor}
)

var nodule = detector.Detection{
	Class:      detector.ClassNodule,
	ClassID:    3,
	Confidence: 0.82,
	Box:        detector.BoundingBox{X: 10, Y: 10, Width: 40, Height: 40},
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(e events.Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return true
}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type mockDetector struct {
	mock.Mock
}

func (m *mockDetector) Detect(ctx context.Context, img image.Image) ([]detector.Detection, error) {
	args := m.Called(ctx, img)
	dets, _ := args.Get(0).([]detector.Detection)
	return dets, args.Error(1)
}

func (m *mockDetector) Ready() bool          { return true }
func (m *mockDetector) ModelVersion() string { return "mock-1" }

// gatedDetector blocks every inference until release is closed.
type gatedDetector struct {
	entered chan struct{}
	release chan struct{}
}

func newGatedDetector() *gatedDetector {
	return &gatedDetector{entered: make(chan struct{}, 8), release: make(chan struct{})}
}

func (g *gatedDetector) Detect(ctx context.Context, _ image.Image) ([]detector.Detection, error) {
	g.entered <- struct{}{}
	select {
	case <-g.release:
		return []detector.Detection{nodule}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *gatedDetector) Ready() bool          { return true }
func (g *gatedDetector) ModelVersion() string { return "gated-1" }

type fixture struct {
	orch    *Orchestrator
	repo    repository.ScanRepository
	pub     *recordingPublisher
	metrics *metrics.IngestMetrics
}

func newFixture(t *testing.T, det detector.Detector, mutate ...func(*Config)) *fixture {
	t.Helper()
	m, err := datastore.Open(datastore.Config{URL: "sqlite://" + filepath.Join(t.TempDir(), "ingest.db")})
	require.NoError(t, err)
	require.NoError(t, m.Initialize())
	t.Cleanup(func() { _ = m.Close() })

	cfg := Config{
		MaxUploadBytes:   10 << 20,
		AllowedTypes:     []string{"image/jpeg", "image/png", "image/bmp", "image/tiff", "image/webp", detector.MIMEDICOM},
		Workers:          2,
		InferenceTimeout: 5 * time.Second,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}

	fp, err := fingerprint.New("sha256")
	require.NoError(t, err)
	im, err := metrics.NewIngestMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	repo := repository.NewScanRepository(m.DB())
	pub := &recordingPublisher{}
	orch, err := New(cfg, repo, det, fp, WithPublisher(pub), WithMetrics(im))
	require.NoError(t, err)
	return &fixture{orch: orch, repo: repo, pub: pub, metrics: im}
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

func upload(data []byte, caller auth.Identity) Request {
	return Request{Data: data, FileName: "chest.png", DeclaredType: "image/png", Caller: caller}
}

func TestSubmitEndToEnd(t *testing.T) {
	f := newFixture(t, detector.NewStatic(nodule))
	data := pngBytes(t, 800, 800, 1)
	require.Greater(t, len(data), 1<<20)

	res, err := f.orch.Submit(context.Background(), upload(data, patient))
	require.NoError(t, err)
	require.NotNil(t, res.Scan)
	assert.False(t, res.Duplicate)

	scan := res.Scan
	assert.Regexp(t, regexp.MustCompile(`^scan_\d{8}_\d{6}_[0-9a-f]{8}$`), scan.ScanID)
	assert.Equal(t, entities.StatusCompleted, scan.Status)
	assert.Equal(t, "P1", scan.PatientID)
	assert.Equal(t, "high", scan.RiskLevel)
	assert.InDelta(t, 82.0, scan.RiskPercentage, 1e-9)
	assert.Equal(t, detector.ClassNodule, scan.TopClass)
	assert.Equal(t, 1, scan.DetectionCount)
	assert.Equal(t, 800, scan.Width)
	assert.True(t, scan.HasAnnotated)
	assert.True(t, scan.HasThumbnail)

	annotated, err := f.repo.GetImage(context.Background(), scan.ScanID, entities.ImageAnnotated)
	require.NoError(t, err)
	assert.NotEmpty(t, annotated)
	original, err := f.repo.GetImage(context.Background(), scan.ScanID, entities.ImageOriginal)
	require.NoError(t, err)
	assert.Equal(t, data, original)

	assert.Equal(t, []events.Type{events.ScanCreated, events.ScanCompleted}, f.pub.types())
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.Submissions.WithLabelValues(metrics.OutcomeCreated)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.RiskLevels.WithLabelValues("high")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(f.metrics.ActiveInferences), 0)
}

func TestSubmitIsIdempotentPerPatient(t *testing.T) {
	det := detector.NewStatic(nodule)
	f := newFixture(t, det)
	data := pngBytes(t, 64, 64, 2)

	first, err := f.orch.Submit(context.Background(), upload(data, patient))
	require.NoError(t, err)
	second, err := f.orch.Submit(context.Background(), upload(data, patient))
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Scan.ScanID, second.Scan.ScanID)
	assert.Equal(t, int64(1), det.Calls())
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.Submissions.WithLabelValues(metrics.OutcomeDuplicate)), 0)

	// Same bytes for another patient is a separate scan
	staffUpload := upload(data, doctor)
	staffUpload.PatientID = "P2"
	other, err := f.orch.Submit(context.Background(), staffUpload)
	require.NoError(t, err)
	assert.False(t, other.Duplicate)
	assert.NotEqual(t, first.Scan.ScanID, other.Scan.ScanID)
	assert.Equal(t, "P2", other.Scan.PatientID)
	assert.Equal(t, "D1", other.Scan.UploadedBy)
}

func TestConcurrentDuplicateSubmissions(t *testing.T) {
	det := detector.NewStatic(nodule)
	f := newFixture(t, det)
	data := pngBytes(t, 64, 64, 3)

	const n = 8
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Go(func() {
			res, err := f.orch.Submit(context.Background(), upload(data, patient))
			if assert.NoError(t, err) {
				ids[i] = res.Scan.ScanID
			}
		})
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, int64(1), det.Calls())

	page, total, err := f.repo.List(context.Background(), repository.ScanFilter{PatientID: "P1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, page, 1)
}

func TestInferenceTimeoutThenRetry(t *testing.T) {
	det := &mockDetector{}
	det.On("Detect", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded).Once()
	det.On("Detect", mock.Anything, mock.Anything).
		Return([]detector.Detection{nodule}, nil).Once()

	f := newFixture(t, det, func(c *Config) { c.InferenceTimeout = 50 * time.Millisecond })
	data := pngBytes(t, 64, 64, 4)

	res, err := f.orch.Submit(context.Background(), upload(data, patient))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryTimeout))
	require.NotNil(t, res)
	assert.Equal(t, entities.StatusRequiresAttention, res.Scan.Status)
	assert.Contains(t, res.Scan.FailureReason, "timeout")
	failedID := res.Scan.ScanID

	retry, err := f.orch.Submit(context.Background(), upload(data, patient))
	require.NoError(t, err)
	assert.True(t, retry.Retried)
	assert.Equal(t, failedID, retry.Scan.ScanID)
	assert.Equal(t, entities.StatusCompleted, retry.Scan.Status)

	det.AssertNumberOfCalls(t, "Detect", 2)
	assert.Equal(t,
		[]events.Type{events.ScanCreated, events.ScanFailed, events.ScanCompleted},
		f.pub.types())
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.Failures.WithLabelValues(string(errors.CategoryTimeout))), 0)
}

func TestInferenceErrorMarksScan(t *testing.T) {
	det := detector.NewStatic()
	det.Err = errors.NewStd("interpreter exploded")
	f := newFixture(t, det)

	res, err := f.orch.Submit(context.Background(), upload(pngBytes(t, 32, 32, 5), patient))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryInference))
	require.NotNil(t, res)
	assert.Equal(t, entities.StatusRequiresAttention, res.Scan.Status)
	assert.Contains(t, res.Scan.FailureReason, "interpreter exploded")
}

func TestUndecodableImage(t *testing.T) {
	det := detector.NewStatic(nodule)
	f := newFixture(t, det)

	garbage := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0x42}, 64)...)
	res, err := f.orch.Submit(context.Background(), upload(garbage, patient))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryImageDecode))
	require.NotNil(t, res)
	assert.Equal(t, entities.StatusRequiresAttention, res.Scan.Status)
	assert.Equal(t, int64(0), det.Calls())
}

func TestSubmitRejectsInvalidUploads(t *testing.T) {
	f := newFixture(t, detector.NewStatic(), func(c *Config) { c.MaxUploadBytes = 1024 })

	tests := []struct {
		name     string
		req      Request
		category errors.ErrorCategory
	}{
		{"empty", upload(nil, patient), errors.CategoryValidation},
		{"too large", upload(make([]byte, 2048), patient), errors.CategoryLimit},
		{"wrong type", Request{Data: []byte("just some text"), Caller: patient}, errors.CategoryValidation},
		{"declared pdf", Request{Data: []byte("%PDF-1.4"), DeclaredType: "application/pdf", Caller: patient}, errors.CategoryValidation},
		{"staff without patient", upload([]byte("x"), doctor), errors.CategoryValidation},
		{"patient for someone else", Request{Data: []byte("x"), PatientID: "P2", Caller: patient}, errors.CategoryForbidden},
		{"no role", upload([]byte("x"), auth.Identity{UserID: "anon"}), errors.CategoryAuth},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.orch.Submit(context.Background(), tt.req)
			require.Error(t, err)
			assert.Nil(t, res)
			assert.Equal(t, tt.category, errors.CategoryOf(err))
		})
	}

	_, err := f.orch.Submit(context.Background(), upload(make([]byte, 2048), patient))
	assert.True(t, errors.IsValidation(err), "an oversized upload is a validation failure")

	_, total, err := f.repo.List(context.Background(), repository.ScanFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestSubmitRejectsImageOverPixelLimit(t *testing.T) {
	det := detector.NewStatic(nodule)
	f := newFixture(t, det, func(c *Config) { c.MaxPixels = 32 * 32 })

	res, err := f.orch.Submit(context.Background(), upload(pngBytes(t, 33, 32, 9), patient))
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, errors.IsCategory(err, errors.CategoryLimit))
	assert.True(t, errors.IsValidation(err), "limit errors are validation failures")
	assert.Equal(t, int64(0), det.Calls())

	_, total, err := f.repo.List(context.Background(), repository.ScanFilter{})
	require.NoError(t, err)
	assert.Zero(t, total, "nothing is stored for an oversized image")

	_, err = f.orch.Submit(context.Background(), upload(pngBytes(t, 32, 32, 9), patient))
	assert.NoError(t, err)
}

func TestSubmitDICOM(t *testing.T) {
	f := newFixture(t, detector.NewStatic(nodule))

	req := Request{
		Data:         chtest.ChestCT().Encode(),
		FileName:     "ct_0001.dcm",
		DeclaredType: "application/octet-stream",
		Caller:       patient,
	}
	res, err := f.orch.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, entities.StatusCompleted, res.Scan.Status)
	assert.Equal(t, detector.MIMEDICOM, res.Scan.MIMEType)
	assert.Equal(t, 2, res.Scan.Width)
	assert.True(t, res.Scan.HasThumbnail)

	a, err := f.orch.Analyze(context.Background(), req.Data, req.FileName)
	require.NoError(t, err)
	assert.Equal(t, "dicom", a.Format)
}

func TestDICOMTypeFromFileName(t *testing.T) {
	f := newFixture(t, detector.NewStatic())

	img := chtest.ChestCT()
	img.OmitPreamble = true
	req := Request{Data: img.Encode(), FileName: "scan.DICOM", Caller: patient}

	mimeType, err := f.orch.validate(req)
	require.NoError(t, err)
	assert.Equal(t, detector.MIMEDICOM, mimeType)
	assert.Equal(t, detector.MIMEDICOM, normalizeType("application/x-dicom"))
}

func TestQueuedScanStaysPendingUntilSlot(t *testing.T) {
	det := newGatedDetector()
	f := newFixture(t, det, func(c *Config) { c.Workers = 1 })
	ctx := context.Background()

	var wg sync.WaitGroup
	submit := func(seed uint64) {
		data := pngBytes(t, 32, 32, seed)
		wg.Go(func() {
			_, err := f.orch.Submit(ctx, upload(data, patient))
			assert.NoError(t, err)
		})
	}
	statuses := func() map[entities.ScanStatus]int {
		page, _, err := f.repo.List(ctx, repository.ScanFilter{PatientID: "P1"})
		if err != nil {
			return nil
		}
		counts := map[entities.ScanStatus]int{}
		for _, s := range page {
			counts[s.Status]++
		}
		return counts
	}

	submit(20)
	chtest.Receive(t, det.entered, chtest.DefaultTimeout)
	submit(21)

	require.Eventually(t, func() bool {
		s := statuses()
		return s[entities.StatusProcessing] == 1 && s[entities.StatusPending] == 1
	}, chtest.DefaultTimeout, 10*time.Millisecond)

	time.Sleep(chtest.QuietPeriod)
	s := statuses()
	assert.Equal(t, 1, s[entities.StatusPending], "the queued scan waits in pending")
	assert.Equal(t, 1, s[entities.StatusProcessing])

	close(det.release)
	wg.Wait()
	assert.Equal(t, 2, statuses()[entities.StatusCompleted])
}

func TestDeclaredTypeNormalization(t *testing.T) {
	f := newFixture(t, detector.NewStatic())
	data := pngBytes(t, 16, 16, 6)

	req := upload(data, patient)
	req.DeclaredType = "application/octet-stream"
	res, err := f.orch.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "image/png", res.Scan.MIMEType)
	assert.Equal(t, "none", res.Scan.RiskLevel)

	assert.Equal(t, "image/jpeg", normalizeType("IMAGE/JPG"))
	assert.Equal(t, "image/png", normalizeType("image/png; charset=binary"))
}

func TestAnalyzeDoesNotPersist(t *testing.T) {
	f := newFixture(t, detector.NewStatic(nodule))

	a, err := f.orch.Analyze(context.Background(), pngBytes(t, 64, 64, 7), "")
	require.NoError(t, err)
	assert.Equal(t, "high", string(a.Assessment.Level))
	assert.Equal(t, "png", a.Format)
	assert.Len(t, a.Detections, 1)

	_, total, err := f.repo.List(context.Background(), repository.ScanFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestCancelledCallerStillRecordsFailure(t *testing.T) {
	det := &mockDetector{}
	det.On("Detect", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.Canceled).Once()
	f := newFixture(t, det)

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	res, err := f.orch.Submit(ctx, upload(pngBytes(t, 32, 32, 8), patient))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryCancelled))
	require.NotNil(t, res)
	assert.Equal(t, entities.StatusRequiresAttention, res.Scan.Status)
}

func TestNewScanID(t *testing.T) {
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.FixedZone("X", 2*3600))
	id := NewScanID(at)
	assert.Regexp(t, `^scan_20260304_030607_[0-9a-f]{8}$`, id)
	assert.NotEqual(t, id, NewScanID(at))
}

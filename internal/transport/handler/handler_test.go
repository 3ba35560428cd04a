package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/framecast/compilation-service/internal/domain/entity"
	"github.com/framecast/compilation-service/internal/domain/port"
	"github.com/framecast/compilation-service/internal/infra/memory"
	"github.com/framecast/compilation-service/internal/transport/handler"
	"github.com/framecast/compilation-service/internal/transport/router"
	"github.com/framecast/compilation-service/internal/usecase"
)

// stubFrameStore keeps frame bytes in memory and serves presigned lookups
// with a fixed host.
type stubFrameStore struct {
	mu     sync.Mutex
	frames map[string][]byte
}

func newStubFrameStore() *stubFrameStore {
	return &stubFrameStore{frames: make(map[string][]byte)}
}

func (s *stubFrameStore) key(requestID string, frameNumber int) string {
	return fmt.Sprintf("%s/frame_%06d.jpg", requestID, frameNumber)
}

func (s *stubFrameStore) PutFrame(_ context.Context, requestID string, frameNumber int, r io.Reader, _ int64) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := s.key(requestID, frameNumber)
	s.frames[k] = data
	return k, nil
}

func (s *stubFrameStore) FrameExists(_ context.Context, requestID string, frameNumber int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.frames[s.key(requestID, frameNumber)]
	return ok, nil
}

func (s *stubFrameStore) DownloadFrame(context.Context, string, int, string) error {
	return nil
}

func (s *stubFrameStore) UploadVideo(_ context.Context, requestID, format, _ string) (string, error) {
	return fmt.Sprintf("%s/compiled_video.%s", requestID, format), nil
}

func (s *stubFrameStore) PresignedVideoURL(_ context.Context, requestID, format string, _ time.Duration) (string, error) {
	return fmt.Sprintf("https://store.test/%s/compiled_video.%s?sig=xyz", requestID, format), nil
}

type fixture struct {
	server *httptest.Server
	ledger *memory.Ledger
	queue  *memory.JobQueue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ledger := memory.NewLedger()
	queue := memory.NewJobQueue()
	store := newStubFrameStore()
	log := zap.NewNop()

	dispatch := usecase.NewDispatchUseCase(ledger, queue, log, usecase.DispatchConfig{
		RetryBaseDelay: time.Millisecond,
	})
	status := usecase.NewStatusUseCase(ledger, store, queue, log, time.Hour)

	h := handler.New(dispatch, status, store, log, handler.Config{
		MaxUploadBytes: 1 << 20,
		DefaultFPS:     30,
		DefaultFormat:  "mp4",
		DefaultQuality: entity.QualityMedium,
	})

	srv := httptest.NewServer(router.New(h))
	t.Cleanup(srv.Close)
	return &fixture{server: srv, ledger: ledger, queue: queue}
}

func (f *fixture) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(f.server.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func jpegBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8)), nil))
	return buf.Bytes()
}

func (f *fixture) uploadFrame(t *testing.T, requestID string, n int) *http.Response {
	t.Helper()
	url := fmt.Sprintf("%s/api/videos/%s/frames/%d", f.server.URL, requestID, n)
	resp, err := http.Post(url, "image/jpeg", bytes.NewReader(jpegBytes(t)))
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestCreateAndUploadLifecycle(t *testing.T) {
	f := newFixture(t)

	resp := f.postJSON(t, "/api/videos", map[string]any{"total_frames": 3})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[map[string]any](t, resp)
	requestID := created["request_id"].(string)
	require.NotEmpty(t, requestID)
	assert.Equal(t, "pending", created["status"])

	for n := 1; n <= 2; n++ {
		resp := f.uploadFrame(t, requestID, n)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body := decode[map[string]any](t, resp)
		assert.Equal(t, false, body["dispatched"])
	}

	resp = f.uploadFrame(t, requestID, 3)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, true, body["dispatched"])
	assert.Equal(t, float64(3), body["frames_received"])

	jobs := f.queue.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, requestID, jobs[0].RequestID)
	assert.Equal(t, "mp4", jobs[0].OutputFormat, "defaults applied when omitted")
	assert.Equal(t, 30, jobs[0].FPS)

	statusResp, err := http.Get(fmt.Sprintf("%s/api/videos/%s/status", f.server.URL, requestID))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, statusResp.StatusCode)
	view := decode[map[string]any](t, statusResp)
	assert.Equal(t, "queued", view["status"])
	progress := view["progress"].(map[string]any)
	assert.Equal(t, float64(100), progress["percentage"])
}

func TestCreateRequestValidation(t *testing.T) {
	f := newFixture(t)

	resp := f.postJSON(t, "/api/videos", map[string]any{"total_frames": 0})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = f.postJSON(t, "/api/videos", map[string]any{"total_frames": 5, "quality": "8k"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestUploadFrameErrors(t *testing.T) {
	f := newFixture(t)

	resp := f.postJSON(t, "/api/videos", map[string]any{"request_id": "req-1", "total_frames": 2})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = f.uploadFrame(t, "req-1", 99)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "frame number beyond total is rejected")
	resp.Body.Close()

	resp = f.uploadFrame(t, "no-such-request", 1)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	// Frame bytes are sniffed, not trusted from the Content-Type header.
	resp, err := http.Post(
		fmt.Sprintf("%s/api/videos/req-1/frames/1", f.server.URL),
		"image/jpeg",
		bytes.NewReader([]byte("definitely not an image")),
	)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
	resp.Body.Close()
}

func TestRetryEndpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp := f.postJSON(t, "/api/videos", map[string]any{"request_id": "req-1", "total_frames": 1})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	// Retry before failure is a conflict.
	retryResp := f.postJSON(t, "/api/videos/req-1/retry", nil)
	assert.Equal(t, http.StatusConflict, retryResp.StatusCode)
	retryResp.Body.Close()

	resp = f.uploadFrame(t, "req-1", 1)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	_, ok := f.queue.Dequeue()
	require.True(t, ok)

	require.NoError(t, f.ledger.Transition(ctx, "req-1", entity.StatusQueued, entity.StatusProcessing, port.StatusFields{}))
	require.NoError(t, f.ledger.Transition(ctx, "req-1", entity.StatusProcessing, entity.StatusFailed, port.StatusFields{
		ErrorMessage: "compile failed",
	}))

	retryResp = f.postJSON(t, "/api/videos/req-1/retry", nil)
	assert.Equal(t, http.StatusAccepted, retryResp.StatusCode)
	retryResp.Body.Close()

	jobs := f.queue.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, entity.PriorityRetry, jobs[0].Priority)
}

func TestStatsEndpoint(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.server.URL + "/api/stats")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decode[map[string]any](t, resp)
	assert.Equal(t, float64(0), stats["queue_depth"])

	healthResp, err := http.Get(f.server.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, healthResp.StatusCode)
	healthResp.Body.Close()
}

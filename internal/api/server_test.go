package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/spectrometer/internal/config"
	"github.com/banshee-data/spectrometer/internal/outlier"
	"github.com/banshee-data/spectrometer/internal/pipeline"
	"github.com/banshee-data/spectrometer/internal/source"
	"github.com/banshee-data/spectrometer/internal/testutil"
	"github.com/banshee-data/spectrometer/internal/timeutil"
)

var epoch = time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)

func playbackController(t *testing.T, file string) *pipeline.Controller {
	t.Helper()
	fsys := testutil.CaptureFS(testutil.OneCycle...)
	clock := timeutil.NewAutoAdvanceClock(epoch)
	factory := func() (source.Source, error) {
		return source.NewPlaybackReader(fsys, clock, source.PlaybackOptions{Path: file, Speed: 1})
	}
	return pipeline.NewController(factory, outlier.DefaultConfig(), pipeline.WithClock(clock))
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestServer_StartStatusLatest(t *testing.T) {
	ctrl := playbackController(t, testutil.CaptureFile)
	mux := NewServer(ctrl).ServeMux()

	rec := do(t, mux, http.MethodGet, "/api/spectrometer/latest")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, mux, http.MethodPost, "/api/spectrometer/start")
	require.Equal(t, http.StatusOK, rec.Code)
	ctrl.Wait()

	rec = do(t, mux, http.MethodGet, "/api/spectrometer/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var st pipeline.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.False(t, st.Running, "playback without loop stops at end of file")
	assert.Equal(t, "playback", st.Source)
	assert.Equal(t, int64(1), st.Counts.Readings)
	require.NotNil(t, st.Playback)
	assert.Equal(t, 1, st.Playback.Pass)

	rec = do(t, mux, http.MethodGet, "/api/spectrometer/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.InDelta(t, 42.857142857, body["calibrated_reading"], 1e-6)
	assert.Equal(t, "2025-01-15T10:30:00Z", body["timestamp"])
}

func TestServer_StartConfigErrorIsBadRequest(t *testing.T) {
	ctrl := playbackController(t, "missing.log")
	mux := NewServer(ctrl).ServeMux()

	rec := do(t, mux, http.MethodPost, "/api/spectrometer/start")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing.log")
	assert.False(t, ctrl.IsRunning())
}

// stubController covers the branches a real source cannot easily reach.
type stubController struct {
	startErr error
	stopped  int
}

func (s *stubController) Start() error            { return s.startErr }
func (s *stubController) Stop()                   { s.stopped++ }
func (s *stubController) Status() pipeline.Status { return pipeline.Status{} }
func (s *stubController) LatestReading() (pipeline.Reading, bool) {
	return pipeline.Reading{}, false
}

func TestServer_StartFailure(t *testing.T) {
	stub := &stubController{startErr: fmt.Errorf("open source: %w", errors.New("permission denied"))}
	rec := do(t, NewServer(stub).ServeMux(), http.MethodPost, "/api/spectrometer/start")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"open source: permission denied"}`, rec.Body.String())
}

func TestServer_StartConfigSentinel(t *testing.T) {
	stub := &stubController{startErr: fmt.Errorf("%w: speed must be positive", config.ErrConfig)}
	rec := do(t, NewServer(stub).ServeMux(), http.MethodPost, "/api/spectrometer/start")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Stop(t *testing.T) {
	stub := &stubController{}
	mux := NewServer(stub).ServeMux()

	rec := do(t, mux, http.MethodPost, "/api/spectrometer/stop")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"is_running":false,"counts":{"lines":0,"readings":0,"malformed_records":0,"protocol_desyncs":0,"empty_series":0,"invalid_measurements":0,"discarded_incomplete":0}}`, rec.Body.String())

	do(t, mux, http.MethodPost, "/api/spectrometer/stop")
	assert.Equal(t, 2, stub.stopped)
}

func TestServer_MethodNotAllowed(t *testing.T) {
	mux := NewServer(&stubController{}).ServeMux()

	tests := []struct {
		method, path string
	}{
		{http.MethodGet, "/api/spectrometer/start"},
		{http.MethodGet, "/api/spectrometer/stop"},
		{http.MethodPost, "/api/spectrometer/status"},
		{http.MethodDelete, "/api/spectrometer/latest"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := do(t, mux, tt.method, tt.path)
			assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		})
	}
}

func TestServer_Version(t *testing.T) {
	rec := do(t, NewServer(&stubController{}).ServeMux(), http.MethodGet, "/api/version")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"version":`)
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := do(t, h, http.MethodGet, "/api/spectrometer/status?x=1")

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Contains(t, buf.String(), "418")
	assert.Contains(t, buf.String(), "/api/spectrometer/status?x=1")
}

func TestStatusCodeColor(t *testing.T) {
	assert.Equal(t, colorBoldGreen+"200"+colorReset, statusCodeColor(200))
	assert.Equal(t, colorYellow+"304"+colorReset, statusCodeColor(304))
	assert.Equal(t, colorBoldRed+"500"+colorReset, statusCodeColor(500))
	assert.Equal(t, "101", statusCodeColor(101))
}

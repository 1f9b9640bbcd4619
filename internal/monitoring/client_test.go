package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/spectrometer/internal/httputil"
	"github.com/banshee-data/spectrometer/internal/pipeline"
)

var sampleReading = pipeline.Reading{
	ID:         "r-1",
	Timestamp:  time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC),
	Percentage: 42.5,
}

func muteLogger(t *testing.T) {
	t.Helper()
	original := Logf
	SetLogger(nil)
	t.Cleanup(func() { Logf = original })
}

func TestClient_PostReading(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	c := NewClient(mock, "http://coordinator:8000/", "spec 1", 550)

	require.NoError(t, c.PostReading(context.Background(), sampleReading))
	require.Equal(t, 1, mock.RequestCount())

	req := mock.GetRequest(0)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "http://coordinator:8000/spectrometers/spec%201/data", req.URL.String())
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	assert.JSONEq(t,
		`{"calibrated_readings":[42.5],"wavelengths":[550],"timestamp":"2025-01-15T10:30:00Z"}`,
		string(mock.Body(0)))
}

func TestClient_Non2xxIsError(t *testing.T) {
	mock := httputil.NewMockHTTPClient().AddResponse(http.StatusNotFound, `{"detail":"Spectrometer spec-1 not found"}`)
	c := NewClient(mock, "http://coordinator", "spec-1", 550)

	err := c.PostReading(context.Background(), sampleReading)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "coordinator returned 404")
	assert.Contains(t, err.Error(), "not found")
	assert.Equal(t, 1, mock.RequestCount(), "no retries")
}

func TestClient_TransportError(t *testing.T) {
	mock := httputil.NewMockHTTPClient().AddErrorResponse(errors.New("connection refused"))
	c := NewClient(mock, "http://coordinator", "spec-1", 550)

	err := c.PostReading(context.Background(), sampleReading)
	assert.ErrorContains(t, err, "connection refused")
}

func TestClient_RealServer(t *testing.T) {
	var got spectralData
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/spectrometers/spec-1/data", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	c := NewClient(httputil.NewStandardClient(time.Second), srv.URL, "spec-1", 632.8)
	require.NoError(t, c.PostReading(context.Background(), sampleReading))
	assert.Equal(t, []float64{42.5}, got.CalibratedReadings)
	assert.Equal(t, []float64{632.8}, got.Wavelengths)
}

// fakeSource hands out one channel and records unsubscription.
type fakeSource struct {
	mu           sync.Mutex
	ch           chan pipeline.Reading
	unsubscribed bool
}

func (s *fakeSource) Subscribe() (string, <-chan pipeline.Reading) { return "sub", s.ch }

func (s *fakeSource) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribed = true
}

func TestForwarder_Run(t *testing.T) {
	muteLogger(t)

	mock := httputil.NewMockHTTPClient().
		AddResponse(http.StatusOK, "{}").
		AddResponse(http.StatusInternalServerError, "boom").
		AddResponse(http.StatusOK, "{}")
	src := &fakeSource{ch: make(chan pipeline.Reading, 3)}
	f := NewForwarder(NewClient(mock, "http://coordinator", "spec-1", 550), src)

	for i := 0; i < 3; i++ {
		src.ch <- sampleReading
	}
	close(src.ch)

	f.Run(context.Background())

	assert.Equal(t, 3, mock.RequestCount())
	assert.Equal(t, int64(2), f.Sent())
	assert.Equal(t, int64(1), f.Failed())
	assert.True(t, src.unsubscribed)
}

func TestForwarder_StopsOnCancel(t *testing.T) {
	muteLogger(t)

	src := &fakeSource{ch: make(chan pipeline.Reading)}
	f := NewForwarder(NewClient(httputil.NewMockHTTPClient(), "http://coordinator", "spec-1", 550), src)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("forwarder did not stop")
	}
	assert.True(t, src.unsubscribed)
}

var _ ReadingSource = (*pipeline.Controller)(nil)

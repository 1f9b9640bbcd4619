package db

import (
	"compress/gzip"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/spectrometer/internal/outlier"
	"github.com/banshee-data/spectrometer/internal/pipeline"
	"github.com/banshee-data/spectrometer/internal/source"
	"github.com/banshee-data/spectrometer/internal/testutil"
	"github.com/banshee-data/spectrometer/internal/timeutil"
)

var epoch = time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPragmasApplied(t *testing.T) {
	db := setupTestDB(t)

	var journalMode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var busyTimeout int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	assert.Equal(t, 5000, busyTimeout)

	var foreignKeys int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys))
	assert.Equal(t, 1, foreignKeys)
}

func TestMigrations(t *testing.T) {
	db := setupTestDB(t)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	// already current
	require.NoError(t, db.MigrateUp())

	require.NoError(t, db.MigrateDown())
	version, _, err = db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)

	var n int
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='acquisition_runs'`).Scan(&n))
	assert.Equal(t, 0, n)

	require.NoError(t, db.MigrateUp())
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='acquisition_runs'`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestOpenDB_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	db, err := NewDB(path)
	require.NoError(t, err)
	require.NoError(t, db.RecordRunStart("run-1", "serial", epoch))
	require.NoError(t, db.Close())

	db, err = NewDB(path)
	require.NoError(t, err)
	defer db.Close()

	runs, err := db.RecentRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].RunID)
}

func TestRunLifecycle(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, db.RecordRunStart("run-1", "playback", epoch))

	runs, err := db.RecentRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Nil(t, runs[0].StoppedAt, "open run has no stop time")

	require.NoError(t, db.RecordCycleDropped("run-1", epoch.Add(time.Second), "protocol_desync", "got SERIES3 while awaiting_full"))
	require.NoError(t, db.RecordCycleDropped("run-1", epoch.Add(2*time.Second), "invalid_measurement", "full must exceed dark"))

	counts := pipeline.Counts{Lines: 12, Readings: 2, ProtocolDesyncs: 1, InvalidMeasurement: 1}
	require.NoError(t, db.RecordRunStop("run-1", epoch.Add(3*time.Second), counts, "serial port read failed"))

	runs, err = db.RecentRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	r := runs[0]
	assert.Equal(t, "playback", r.Source)
	assert.Equal(t, epoch, r.StartedAt)
	require.NotNil(t, r.StoppedAt)
	assert.Equal(t, epoch.Add(3*time.Second), *r.StoppedAt)
	assert.Equal(t, counts, r.Counts)
	assert.Equal(t, "serial port read failed", r.LastError)

	events, err := db.CycleEvents("run-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "protocol_desync", events[0].Reason)
	assert.Equal(t, "invalid_measurement", events[1].Reason)
	assert.Equal(t, epoch.Add(time.Second), events[0].At)
}

func TestRecordRunStop_UnknownRun(t *testing.T) {
	db := setupTestDB(t)
	err := db.RecordRunStop("missing", epoch, pipeline.Counts{}, "")
	assert.ErrorContains(t, err, "not found")
}

func TestRecordCycleDropped_UnknownRun(t *testing.T) {
	db := setupTestDB(t)
	assert.Error(t, db.RecordCycleDropped("missing", epoch, "other", ""))
}

func TestRecentRuns_OrderAndLimit(t *testing.T) {
	db := setupTestDB(t)

	// sub-second differences must still sort correctly
	require.NoError(t, db.RecordRunStart("a", "serial", epoch))
	require.NoError(t, db.RecordRunStart("b", "serial", epoch.Add(500*time.Millisecond)))
	require.NoError(t, db.RecordRunStart("c", "serial", epoch.Add(time.Second)))

	runs, err := db.RecentRuns(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].RunID)
	assert.Equal(t, "b", runs[1].RunID)

	events, err := db.CycleEvents("a")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestControllerRecordsToStore(t *testing.T) {
	db := setupTestDB(t)

	lines := append(append([]string{}, testutil.OneCycle...),
		"2025-01-15T10:30:00.400Z SERIES3 = [400 400 400]",
		"2025-01-15T10:30:00.500Z SERIES1 = [100 100 100]",
	)
	fsys := testutil.CaptureFS(lines...)
	clock := timeutil.NewAutoAdvanceClock(epoch)

	factory := func() (source.Source, error) {
		return source.NewPlaybackReader(fsys, clock, source.PlaybackOptions{Path: testutil.CaptureFile, Speed: 100})
	}
	c := pipeline.NewController(factory, outlier.DefaultConfig(),
		pipeline.WithClock(clock), pipeline.WithRecorder(db))

	require.NoError(t, c.Start())
	c.Wait()

	st := c.Status()
	runs, err := db.RecentRuns(1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, st.RunID, runs[0].RunID)
	assert.Equal(t, "playback", runs[0].Source)
	assert.Equal(t, int64(6), runs[0].Counts.Lines)
	assert.Equal(t, int64(1), runs[0].Counts.Readings)
	assert.Equal(t, int64(1), runs[0].Counts.ProtocolDesyncs)
	assert.Equal(t, int64(1), runs[0].Counts.Discarded)
	require.NotNil(t, runs[0].StoppedAt)

	events, err := db.CycleEvents(st.RunID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "protocol_desync", events[0].Reason)
	assert.Equal(t, "discarded_incomplete", events[1].Reason)
}

func TestAdminRoutes_Runs(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.RecordRunStart("run-1", "serial", epoch))

	mux := http.NewServeMux()
	db.AttachAdminRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, testutil.NewLocalRequest(http.MethodGet, "/debug/runs?limit=5"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var runs []RunRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].RunID)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, testutil.NewLocalRequest(http.MethodGet, "/debug/runs?limit=zero"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminRoutes_Backup(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.RecordRunStart("run-1", "serial", epoch))

	mux := http.NewServeMux()
	db.AttachAdminRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, testutil.NewLocalRequest(http.MethodGet, "/debug/backup"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment; filename=backup-")

	zr, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)
	require.Greater(t, len(data), 16)
	assert.Equal(t, "SQLite format 3\x00", string(data[:16]))
}

func TestAdminRoutes_Index(t *testing.T) {
	db := setupTestDB(t)

	mux := http.NewServeMux()
	db.AttachAdminRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, testutil.NewLocalRequest(http.MethodGet, "/debug/"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "SQL live debugging")
	assert.Contains(t, rec.Body.String(), "backup")
}

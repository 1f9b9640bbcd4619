// Package testutil holds fixtures shared by the package tests.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/banshee-data/spectrometer/internal/fsutil"
)

// CaptureFile is the name the playback fixtures are written under.
const CaptureFile = "capture.log"

// OneCycle is a timestamped capture of a single valid cycle whose calibrated
// reading is 300/700 of full scale (42.857%).
var OneCycle = []string{
	"2025-01-15T10:30:00.000Z SERIES1 = [100 100 100]",
	"2025-01-15T10:30:00.100Z SERIES2 = [800 800 800]",
	"2025-01-15T10:30:00.200Z SERIES3 = [400 400 400]",
	"2025-01-15T10:30:00.300Z END_CYCLE",
}

// CaptureFS returns an in-memory filesystem holding lines as CaptureFile.
func CaptureFS(lines ...string) *fsutil.MemoryFileSystem {
	fsys := fsutil.NewMemoryFileSystem()
	fsys.WriteFile(CaptureFile, []byte(strings.Join(lines, "\n")+"\n"))
	return fsys
}

// NewLocalRequest builds a request from a loopback address, which the
// /debug/ routes require.
func NewLocalRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/banshee-data/spectrometer/internal/httputil"
	"github.com/banshee-data/spectrometer/internal/pipeline"
)

// spectralData is the coordinator's data payload. A monochromatic device
// sends one reading at one wavelength per post.
type spectralData struct {
	CalibratedReadings []float64 `json:"calibrated_readings"`
	Wavelengths        []float64 `json:"wavelengths"`
	Timestamp          string    `json:"timestamp"`
}

// Client posts readings to a coordinator.
type Client struct {
	http           httputil.HTTPClient
	baseURL        string
	spectrometerID string
	wavelength     float64
}

// NewClient returns a client for the coordinator at baseURL.
func NewClient(hc httputil.HTTPClient, baseURL, spectrometerID string, wavelength float64) *Client {
	return &Client{
		http:           hc,
		baseURL:        strings.TrimRight(baseURL, "/"),
		spectrometerID: spectrometerID,
		wavelength:     wavelength,
	}
}

// Endpoint is the URL readings are posted to.
func (c *Client) Endpoint() string {
	return fmt.Sprintf("%s/spectrometers/%s/data", c.baseURL, url.PathEscape(c.spectrometerID))
}

// PostReading sends one reading. Any non-2xx status is an error; there are
// no retries.
func (c *Client) PostReading(ctx context.Context, r pipeline.Reading) error {
	body, err := json.Marshal(spectralData{
		CalibratedReadings: []float64{r.Percentage},
		Wavelengths:        []float64{c.wavelength},
		Timestamp:          r.Timestamp.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("encode reading: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post reading: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("coordinator returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// Package tracking talks to the external pixel tracking service.
package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Engagement levels derived from total view time.
const (
	EngagementNone   = "none"
	EngagementLow    = "low"
	EngagementMedium = "medium"
	EngagementHigh   = "high"
)

// Pixel is a freshly created tracking pixel.
type Pixel struct {
	ID        string `json:"id"`
	EmbedCode string `json:"embedCode"`
}

// Status is the engagement state of one pixel. View time is in
// milliseconds.
type Status struct {
	Opened        bool       `json:"opened"`
	OpenedAt      *time.Time `json:"openedAt,omitempty"`
	LastSeenAt    *time.Time `json:"lastSeenAt,omitempty"`
	ViewCount     int        `json:"viewCount"`
	TotalViewTime int64      `json:"totalViewTime"`
}

// DashboardStats is the tracker's aggregate view across all pixels.
type DashboardStats struct {
	TotalPixels     int             `json:"totalPixels"`
	OpenRate        float64         `json:"openRate"`
	AverageViewTime float64         `json:"averageViewTime"`
	RecentActivity  json.RawMessage `json:"recentActivity"`
}

// Gateway is the HTTP client for the pixel tracker. Pixel creation
// reports errors so the dispatcher can fall back to an untracked send;
// status reads absorb errors into safe defaults because a flaky
// tracker must never surface as recipient state changes.
type Gateway struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func NewGateway(baseURL string, timeout time.Duration, logger *slog.Logger) *Gateway {
	return &Gateway{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With("component", "tracking"),
	}
}

// CreatePixel requests a new pixel from the tracker.
func (g *Gateway) CreatePixel(ctx context.Context) (*Pixel, error) {
	var pixel Pixel
	if err := g.do(ctx, http.MethodGet, "/api/pixel/create", nil, &pixel); err != nil {
		return nil, fmt.Errorf("failed to create tracking pixel: %w", err)
	}
	if pixel.ID == "" {
		return nil, fmt.Errorf("tracker returned a pixel without an id")
	}
	return &pixel, nil
}

// CheckStatus returns the engagement state of a pixel. On any failure
// it logs and returns the zero state (unopened, no views).
func (g *Gateway) CheckStatus(ctx context.Context, pixelID string) *Status {
	body := map[string]string{"id": pixelID}
	var status Status
	if err := g.do(ctx, http.MethodPost, "/api/pixel/check", body, &status); err != nil {
		g.logger.Debug("pixel status check failed",
			"pixel_id", pixelID,
			"error", err)
		return &Status{}
	}
	return &status
}

// Dashboard returns tracker-wide statistics, or zeroes on failure.
func (g *Gateway) Dashboard(ctx context.Context) *DashboardStats {
	var stats DashboardStats
	if err := g.do(ctx, http.MethodGet, "/api/dashboard", nil, &stats); err != nil {
		g.logger.Warn("dashboard stats fetch failed", "error", err)
		return &DashboardStats{RecentActivity: json.RawMessage("[]")}
	}
	if stats.RecentActivity == nil {
		stats.RecentActivity = json.RawMessage("[]")
	}
	return &stats
}

func (g *Gateway) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tracker returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Level buckets a total view time in milliseconds into an engagement
// level: none for unopened, high from 30s, medium from 10s, low below.
func Level(totalViewTime int64) string {
	switch {
	case totalViewTime <= 0:
		return EngagementNone
	case totalViewTime >= 30000:
		return EngagementHigh
	case totalViewTime >= 10000:
		return EngagementMedium
	default:
		return EngagementLow
	}
}

// FormatViewTime renders milliseconds as m:ss for analytics output.
func FormatViewTime(milliseconds int64) string {
	if milliseconds <= 0 {
		return "0:00"
	}
	totalSeconds := milliseconds / 1000
	return fmt.Sprintf("%d:%02d", totalSeconds/60, totalSeconds%60)
}

package location

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"

	"go.uber.org/zap"
)

// NominatimGeocoder reverse-geocodes against a Nominatim-compatible
// endpoint. Strictly best-effort: every failure maps to ("", false) and
// a debug log, never an error the caller must handle.
type NominatimGeocoder struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewNominatimGeocoder(baseURL string, logger *zap.Logger) *NominatimGeocoder {
	return &NominatimGeocoder{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 3 * time.Second,
		},
		logger: logger,
	}
}

// Reverse resolves a coordinate to a display address.
func (g *NominatimGeocoder) Reverse(ctx context.Context, lat, lng float64) (string, bool) {
	endpoint := fmt.Sprintf("%s/reverse?format=jsonv2&lat=%s&lon=%s",
		g.baseURL,
		url.QueryEscape(fmt.Sprintf("%.7f", lat)),
		url.QueryEscape(fmt.Sprintf("%.7f", lng)),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		g.logger.Debug("Geocode request build failed", zap.Error(err))
		return "", false
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		g.logger.Debug("Geocode request failed", zap.Error(err))
		return "", false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		g.logger.Debug("Geocode returned non-OK status", zap.Int("status_code", resp.StatusCode))
		return "", false
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		g.logger.Debug("Geocode response read failed", zap.Error(err))
		return "", false
	}

	var result struct {
		DisplayName string `json:"display_name"`
	}
	if err := json.Unmarshal(body, &result); err != nil || result.DisplayName == "" {
		return "", false
	}
	return result.DisplayName, true
}

// NoopGeocoder is used when geocoding is disabled in config.
type NoopGeocoder struct{}

func (NoopGeocoder) Reverse(context.Context, float64, float64) (string, bool) {
	return "", false
}

package location

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"fieldtrack/location-agent/internal/models"

	"go.uber.org/zap"
)

// HTTPProvider reads fixes from a local positioning daemon exposing a
// gpsd-style JSON endpoint. Watch polls the endpoint and invokes the
// callback for every fix obtained; dedup of unchanged positions is the
// consumer's concern (the session's throttle and distance filters).
type HTTPProvider struct {
	endpoint     string
	pollInterval time.Duration
	httpClient   *http.Client
	logger       *zap.Logger
}

// NewHTTPProvider creates a provider against a fix endpoint.
func NewHTTPProvider(endpoint string, pollInterval time.Duration, logger *zap.Logger) *HTTPProvider {
	return &HTTPProvider{
		endpoint:     endpoint,
		pollInterval: pollInterval,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Watch polls the device endpoint until the context is cancelled. The
// first read happens immediately; a permission refusal aborts the watch,
// any other failure is logged and retried on the next tick.
func (p *HTTPProvider) Watch(ctx context.Context, onFix func(models.DeviceFix)) error {
	// Probe once up front so a refusal is caller-visible at start.
	var perm *PermissionError
	if fix, err := p.Current(ctx); err != nil {
		if errors.As(err, &perm) {
			return err
		}
		p.logger.Warn("Initial fix unavailable", zap.Error(err))
	} else {
		onFix(fix)
	}

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fix, err := p.Current(ctx)
			if err != nil {
				if errors.As(err, &perm) {
					return err
				}
				p.logger.Debug("Fix poll failed", zap.Error(err))
				continue
			}
			onFix(fix)
		}
	}
}

// Current performs one on-demand position read.
func (p *HTTPProvider) Current(ctx context.Context) (models.DeviceFix, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint, nil)
	if err != nil {
		return models.DeviceFix{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return models.DeviceFix{}, &TimeoutError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
		return models.DeviceFix{}, &PermissionError{Reason: fmt.Sprintf("device endpoint returned status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return models.DeviceFix{}, fmt.Errorf("device endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.DeviceFix{}, fmt.Errorf("failed to read fix: %w", err)
	}

	var fix models.DeviceFix
	if err := json.Unmarshal(body, &fix); err != nil {
		return models.DeviceFix{}, fmt.Errorf("failed to decode fix: %w", err)
	}
	if fix.Timestamp.IsZero() {
		fix.Timestamp = time.Now()
	}
	return fix, nil
}

package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"

	"go.uber.org/zap"
)

// RemoteClient talks to the remote store: insert-or-replace writes keyed
// by a conflict field, and collection queries. Calls carry no retry or
// backoff; failures surface to the caller, which queues locally.
type RemoteClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewRemoteClient creates a client for the remote store.
func NewRemoteClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *RemoteClient {
	return &RemoteClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Upsert writes a document into a remote collection, replacing any
// existing document with the same value for conflictKey.
func (c *RemoteClient) Upsert(ctx context.Context, collection string, payload interface{}, conflictKey string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/v1/%s/upsert?on_conflict=%s",
		c.baseURL, collection, url.QueryEscape(conflictKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(startTime)

	if err != nil {
		c.logger.Debug("Upsert failed to reach remote store",
			zap.Error(err),
			zap.String("collection", collection),
			zap.Duration("duration", duration),
		)
		return &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		c.logger.Debug("Upsert delivered",
			zap.String("collection", collection),
			zap.Int("status_code", resp.StatusCode),
			zap.Duration("duration", duration),
		)
		return nil
	}

	c.logger.Warn("Remote store rejected upsert",
		zap.String("collection", collection),
		zap.Int("status_code", resp.StatusCode),
		zap.String("response", string(respBody)),
	)
	return &BackendError{
		Message:    fmt.Sprintf("remote store returned status %d: %s", resp.StatusCode, string(respBody)),
		StatusCode: resp.StatusCode,
	}
}

// Query fetches the documents of a collection matching field=value and
// decodes them into out, which must be a pointer to a slice.
func (c *RemoteClient) Query(ctx context.Context, collection, field, value string, out interface{}) error {
	endpoint := fmt.Sprintf("%s/api/v1/%s?%s=%s",
		c.baseURL, collection, url.QueryEscape(field), url.QueryEscape(value))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return &BackendError{
			Message:    fmt.Sprintf("remote store returned status %d: %s", resp.StatusCode, string(body)),
			StatusCode: resp.StatusCode,
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// HealthCheck reports whether the remote store is reachable. Used by the
// connectivity watcher.
func (c *RemoteClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &BackendError{
			Message:    fmt.Sprintf("health check returned status %d", resp.StatusCode),
			StatusCode: resp.StatusCode,
		}
	}
	return nil
}

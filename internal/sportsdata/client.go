// Package sportsdata fetches player records from the sportsdata.io HTTP API.
package sportsdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/straye-as/sports-datalake/internal/config"
	"go.uber.org/zap"
)

// SubscriptionKeyHeader carries the API key on every request
const SubscriptionKeyHeader = "Ocp-Apim-Subscription-Key"

// Record is one entity returned by the API, kept as raw JSON
type Record = json.RawMessage

// Client fetches records from a single configured endpoint
type Client struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	logger     *zap.Logger
}

// NewClient creates a new sports data API client
func NewClient(cfg *config.SportsDataConfig, logger *zap.Logger) *Client {
	timeout := cfg.TimeoutDuration()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		logger:   logger,
	}
}

// FetchRecords returns the records served by the endpoint.
// Any failure is logged and yields an empty collection so that callers can skip the upload.
func (c *Client) FetchRecords(ctx context.Context) []Record {
	records, err := c.Fetch(ctx)
	if err != nil {
		c.logger.Error("Error fetching sports data",
			zap.String("endpoint", c.endpoint),
			zap.Error(err),
		)
		return []Record{}
	}
	return records
}

// Fetch performs one GET against the endpoint and decodes the JSON array response
func (c *Client) Fetch(ctx context.Context) ([]Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(SubscriptionKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")

	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call sports data API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read sports data response: %w", err)
	}

	// the whole body must be one JSON array; trailing data is malformed
	var records []Record
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("failed to decode sports data response: %w", err)
	}
	if records == nil {
		records = []Record{}
	}

	c.logger.Info("Fetched sports data",
		zap.Int("records", len(records)),
		zap.Duration("duration", time.Since(start)),
	)

	return records, nil
}

// StatusError is returned when the API answers with a non-2xx status
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("sports data API returned status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("sports data API returned status %d", e.StatusCode)
}

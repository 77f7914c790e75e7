package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/watchtower-labs/watchtower/internal/core/ports/driven"
)

// Ensure HTTPSink implements the interface.
var _ driven.PublishSink = (*HTTPSink)(nil)

const (
	deliverAttempts = 3
	deliverRetryGap = time.Second
)

// HTTPSink POSTs published records as JSON to a downstream endpoint.
type HTTPSink struct {
	url    string
	token  string
	client *http.Client
}

// NewHTTPSink creates a sink posting to url. token, when non-empty, is
// sent as a bearer credential.
func NewHTTPSink(url, token string) (*HTTPSink, error) {
	if url == "" {
		return nil, fmt.Errorf("http sink: empty url")
	}
	return &HTTPSink{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Deliver posts the record, retrying transient failures. Any 2xx response
// counts as acceptance; everything else leaves the version unpublished.
func (s *HTTPSink) Deliver(ctx context.Context, record *driven.PublishRecord) error {
	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding publish record: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < deliverAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * deliverRetryGap):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(encoded))
		if err != nil {
			return fmt.Errorf("building publish request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if s.token != "" {
			req.Header.Set("Authorization", "Bearer "+s.token)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("posting to %s: %w", s.url, err)
			continue
		}

		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("posting to %s: status %d", s.url, resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return lastErr
		}
	}
	return lastErr
}

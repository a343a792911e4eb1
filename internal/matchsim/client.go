package matchsim

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// idempotencyHeader matches the server's request deduplication header.
const idempotencyHeader = "Idempotency-Key"

// httpClient wraps http.Client with the service base URL.
type httpClient struct {
	client *http.Client
	base   string
}

func newHTTPClient(base string, timeout time.Duration) *httpClient {
	return &httpClient{client: &http.Client{Timeout: timeout}, base: base}
}

// reply is a decoded response.
type reply struct {
	Status int
	Body   []byte
}

// duplicate reports whether the server acknowledged a replayed key.
func (r reply) duplicate() bool {
	var ack struct {
		Duplicate bool `json:"duplicate"`
	}
	return r.Status == http.StatusOK && json.Unmarshal(r.Body, &ack) == nil && ack.Duplicate
}

func (r reply) decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// do sends one request; key may be empty.
func (c *httpClient) do(ctx context.Context, method, path, key string, body any) (reply, error) {
	var buf io.Reader = http.NoBody
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return reply{}, fmt.Errorf("failed to marshal request body: %w", err)
		}
		buf = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, buf)
	if err != nil {
		return reply{}, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set(idempotencyHeader, key)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return reply{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return reply{}, fmt.Errorf("failed to read response: %w", err)
	}
	return reply{Status: resp.StatusCode, Body: data}, nil
}

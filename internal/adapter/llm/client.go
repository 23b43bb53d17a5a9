package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"hearth/internal/domain"
	"hearth/internal/infra/config"
)

// maxResponseBody caps how much of a non-streaming response we read.
const maxResponseBody = 10 * 1024 * 1024 // 10 MB

// Connection pool sizing for LLM APIs: one or two hosts, long-lived
// connections, modest concurrency.
const (
	defaultConnTimeout    = 30 * time.Second
	defaultRequestTimeout = 120 * time.Second

	poolMaxIdleConns        = 20
	poolMaxIdleConnsPerHost = 10
	poolMaxConnsPerHost     = 20
	poolIdleConnTimeout     = 120 * time.Second
)

// newHTTPClient creates a pooled client for provider calls. The client-level
// timeout is left unset: streaming responses stay open for the whole
// generation, so per-request deadlines come from the context.
func newHTTPClient(cfg config.ProviderConfig) *http.Client {
	respTimeout := cfg.RequestTimeout
	if respTimeout <= 0 {
		respTimeout = defaultRequestTimeout
	}

	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   defaultConnTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: respTimeout,
			MaxIdleConns:          poolMaxIdleConns,
			MaxIdleConnsPerHost:   poolMaxIdleConnsPerHost,
			MaxConnsPerHost:       poolMaxConnsPerHost,
			IdleConnTimeout:       poolIdleConnTimeout,
			ForceAttemptHTTP2:     true,
		},
	}
}

// doJSONRequest posts a JSON body and returns the response body. Non-200
// responses come back as classified domain errors.
func doJSONRequest(ctx context.Context, client *http.Client, url string, body []byte, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: http request: %v", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrNetwork, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, mapHTTPError(resp.StatusCode, respBody)
	}
	return respBody, nil
}

// doStreamRequest posts a JSON body expecting an SSE response. The caller
// owns the response body on success.
func doStreamRequest(ctx context.Context, client *http.Client, url string, body []byte, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: http request: %v", domain.ErrNetwork, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, mapHTTPError(resp.StatusCode, respBody)
	}
	return resp, nil
}

// mapHTTPError turns an HTTP status and body into a sentinel-wrapped error.
// The "API error NNN:" prefix is what the error classifier falls back to when
// no sentinel matches downstream wrapping.
func mapHTTPError(statusCode int, body []byte) error {
	detail := fmt.Sprintf("API error %d: %s", statusCode, body)

	switch {
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimit, detail)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrAuth, detail)
	case statusCode == http.StatusRequestTimeout:
		return fmt.Errorf("%w: %s", domain.ErrTimeout, detail)
	case statusCode >= 500:
		return fmt.Errorf("%w: %s", domain.ErrNetwork, detail)
	default:
		return fmt.Errorf("%w: %s", domain.ErrInvalidInput, detail)
	}
}

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nicktill/tinytrack/pkg/event"
)

// EventsPath is appended to the configured endpoint.
const EventsPath = "/events"

// ErrSerialization means the event could not be encoded and will never be sendable.
var ErrSerialization = errors.New("event cannot be serialized")

// Transport delivers one event per call.
type Transport interface {
	Send(ctx context.Context, ev event.Tracked) error
}

// StatusError is returned when the collector answers with a non-2xx status.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status %d", e.Code)
}

// IsPermanent reports whether err is a rejection that retrying will not fix:
// an unencodable event, or a 4xx other than 408 and 429.
func IsPermanent(err error) bool {
	if errors.Is(err, ErrSerialization) {
		return true
	}
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	if se.Code == http.StatusRequestTimeout || se.Code == http.StatusTooManyRequests {
		return false
	}
	return se.Code >= 400 && se.Code < 500
}

// HTTPTransport posts events as JSON to <endpoint>/events.
type HTTPTransport struct {
	url    string
	apiKey string
	client *http.Client
}

// NewHTTP creates a transport for the collector at endpoint (scheme://host[/prefix]).
func NewHTTP(endpoint, apiKey string) (*HTTPTransport, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid endpoint %q: scheme must be http or https", endpoint)
	}

	return &HTTPTransport{
		url:    strings.TrimRight(endpoint, "/") + EventsPath,
		apiKey: apiKey,
		client: &http.Client{
			// Backstop only; callers bound each Send with a context deadline.
			Timeout: 30 * time.Second,
		},
	}, nil
}

// URL returns the full ingestion URL.
func (t *HTTPTransport) URL() string {
	return t.url
}

// Send posts ev to the ingestion endpoint.
func (t *HTTPTransport) Send(ctx context.Context, ev event.Tracked) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

// Video backend HTTP client.
//
// Information Hiding:
// - Service authentication headers hidden
// - Response size limits and decoding hidden
// - Non-2xx responses turned into error results, not Go errors

package tools

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
)

const (
	maxBackendBody   = 4 << 20
	maxErrorSnippet  = 500
	backendUserAgent = "vdirector"
)

// Backend calls the internal video API on behalf of the tools.
type Backend struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewBackend creates a backend client for baseURL authenticated with token.
// Per-call deadlines come from the context, so the client has no timeout.
func NewBackend(baseURL, token string) *Backend {
	return &Backend{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{},
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (b *Backend) WithHTTPClient(c *http.Client) *Backend {
	b.client = c
	return b
}

// BackendResponse is a raw backend reply.
type BackendResponse struct {
	Status int
	Body   []byte
}

// OK reports a 2xx status.
func (r BackendResponse) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Decode unmarshals the JSON body into v.
func (r BackendResponse) Decode(v any) error {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode backend response: %w", err)
	}
	return nil
}

// Object decodes the body as a JSON object. Non-object bodies are wrapped
// under "data".
func (r BackendResponse) Object() (Result, error) {
	var v any
	if err := r.Decode(&v); err != nil {
		return nil, err
	}
	if m, ok := v.(map[string]any); ok {
		return Result(m), nil
	}
	if v == nil {
		return Result{}, nil
	}
	return Result{"data": v}, nil
}

// Failure renders a non-2xx response as an error result. 5xx responses are
// flagged retryable.
func (r BackendResponse) Failure(action string) Result {
	msg := fmt.Sprintf("%s: backend returned %d", action, r.Status)
	if snippet := r.snippet(); snippet != "" {
		msg += " - " + snippet
	}
	return Result{
		KeyError:     msg,
		KeyStatus:    r.Status,
		KeyRetryable: r.Status >= 500,
	}
}

func (r BackendResponse) snippet() string {
	s := strings.TrimSpace(string(r.Body))
	if len(s) > maxErrorSnippet {
		s = s[:maxErrorSnippet]
	}
	return s
}

// Get issues a GET request.
func (b *Backend) Get(ctx context.Context, path string, query url.Values) (BackendResponse, error) {
	return b.do(ctx, http.MethodGet, path, query, nil)
}

// Post issues a POST request with a JSON body.
func (b *Backend) Post(ctx context.Context, path string, body any) (BackendResponse, error) {
	return b.do(ctx, http.MethodPost, path, nil, body)
}

func (b *Backend) do(ctx context.Context, method, path string, query url.Values, body any) (BackendResponse, error) {
	target := b.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return BackendResponse{}, &Error{Category: CategoryInvalidArgument, Message: "request body is not serializable", Err: err}
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return BackendResponse{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+b.token)
	req.Header.Set("apikey", b.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", backendUserAgent)

	start := time.Now()
	resp, err := b.client.Do(req)
	if err != nil {
		return BackendResponse{}, fmt.Errorf("request failed after %s: %w", time.Since(start).Round(time.Millisecond), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBackendBody))
	if err != nil {
		return BackendResponse{}, fmt.Errorf("failed to read response body: %w", err)
	}
	return BackendResponse{Status: resp.StatusCode, Body: data}, nil
}

// jobPath builds a path with an escaped job id segment.
func jobPath(format string, segments ...string) string {
	args := make([]any, len(segments))
	for i, s := range segments {
		args[i] = url.PathEscape(s)
	}
	return fmt.Sprintf(format, args...)
}

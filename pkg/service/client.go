package service

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"litcritic/pkg/httpclient"
)

// Client calls a remote core over HTTP, implementing the same Core
// interface the in-process engine does. Transient upstream failures (5xx)
// are retried with backoff by the underlying HTTP client; validation
// errors come back as *ValidationError so callers can tell their own
// mistakes from the service's trouble.
type Client struct {
	baseURL string
	http    *httpclient.Client
}

var _ Core = (*Client)(nil)

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient swaps the retrying transport.
func WithHTTPClient(h *httpclient.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// NewClient builds a client for the core service at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{baseURL: strings.TrimRight(baseURL, "/")}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = httpclient.New()
	}
	return c
}

// Analyze implements Core.
func (c *Client) Analyze(ctx context.Context, req *AnalyzeRequest) (*AnalyzeResponse, error) {
	var resp AnalyzeResponse
	if err := c.post(ctx, "/v1/analyze", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Discuss implements Core.
func (c *Client) Discuss(ctx context.Context, req *DiscussRequest) (*DiscussResponse, error) {
	var resp DiscussResponse
	if err := c.post(ctx, "/v1/discuss", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DiscussStream implements Core: the same turn served as server-sent
// events. The returned channel closes after the done or error event.
func (c *Client) DiscussStream(ctx context.Context, req *DiscussRequest) (<-chan DiscussStreamEvent, error) {
	httpReq, err := c.newRequest(ctx, "/v1/discuss", req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
		}
		return nil, responseError(resp, err)
	}

	out := make(chan DiscussStreamEvent)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var ev DiscussStreamEvent
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
				out <- DiscussStreamEvent{Kind: StreamKindError, Error: fmt.Sprintf("malformed stream event: %v", err)}
				return
			}
			out <- ev
			if ev.Kind == StreamKindDone || ev.Kind == StreamKindError {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			out <- DiscussStreamEvent{Kind: StreamKindError, Error: fmt.Sprintf("stream read failed: %v", err)}
		}
	}()
	return out, nil
}

// ReEvaluate implements Core.
func (c *Client) ReEvaluate(ctx context.Context, req *ReEvaluateRequest) (*ReEvaluateResponse, error) {
	var resp ReEvaluateResponse
	if err := c.post(ctx, "/v1/re-evaluate-finding", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) newRequest(ctx context.Context, path string, in any) (*http.Request, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	req, err := c.newRequest(ctx, path, in)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return responseError(resp, err)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// responseError turns a failed call into the most useful error available:
// the service's own error envelope when the body carries one, otherwise the
// transport error. 4xx envelopes come back as *ValidationError; 5xx keep
// their transient classification for callers that check.
func responseError(resp *http.Response, err error) error {
	if resp == nil || resp.Body == nil {
		return err
	}
	var envelope errorEnvelope
	if decodeErr := json.NewDecoder(resp.Body).Decode(&envelope); decodeErr != nil || envelope.Error.Message == "" {
		return err
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return &ValidationError{Field: envelope.Error.Field, Message: envelope.Error.Message}
	}
	return fmt.Errorf("%s: %w", envelope.Error.Message, err)
}

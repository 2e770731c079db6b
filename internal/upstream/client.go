// Copyright 2026 The visionbridge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package upstream

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"
)

// Response is a successful non-streaming provider reply.
type Response struct {
	// Body is the raw provider JSON; the response normalizer interprets it.
	Body []byte

	// Attempts is how many calls were made including the successful one.
	Attempts int
}

// Client invokes the provider's chat completions endpoint with retry and
// circuit breaking. One Client serves many concurrent requests.
type Client struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	callTimeout time.Duration
	retry       RetryPolicy
	breakers    *BreakerGroup
	sleep       SleepFunc
}

// Option customizes client construction.
type Option func(*Client)

// WithHTTPClient replaces the transport, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithSleep replaces the backoff sleeper, mainly for tests.
func WithSleep(sleep SleepFunc) Option {
	return func(c *Client) { c.sleep = sleep }
}

// WithCallTimeout bounds each individual upstream call so one slow attempt
// cannot exhaust the whole request budget before a fallback runs.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) { c.callTimeout = d }
}

// NewClient creates a provider client.
func NewClient(baseURL, apiKey string, retry RetryPolicy, breakers *BreakerGroup, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{},
		retry:      retry,
		breakers:   breakers,
		sleep:      defaultSleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the logical endpoint URL used for breaker keying.
func (c *Client) Endpoint() string {
	return c.baseURL + "/chat/completions"
}

// BreakerState exposes the breaker state for this client's endpoint.
func (c *Client) BreakerState() BreakerState {
	return c.breakers.For(c.Endpoint()).State()
}

// Invoke issues a blocking inference call. Failures come back as classified
// *UpstreamError values or ErrBreakerOpen; no raw transport error escapes.
func (c *Client) Invoke(ctx context.Context, req *ChatRequest) (*Response, error) {
	payload, err := c.encode(req, false)
	if err != nil {
		return nil, err
	}

	var body []byte
	attempts, err := c.retry.Do(ctx, c.sleep, func(attempt int) error {
		data, callErr := c.doOnce(ctx, payload)
		if callErr != nil {
			return callErr
		}
		body = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Response{Body: body, Attempts: attempts}, nil
}

// InvokeStream opens a streaming inference call. Connection establishment is
// retried like a blocking call; once the stream is open, errors surface
// through the returned Stream.
func (c *Client) InvokeStream(ctx context.Context, req *ChatRequest) (*Stream, error) {
	payload, err := c.encode(req, true)
	if err != nil {
		return nil, err
	}

	var stream *Stream
	_, err = c.retry.Do(ctx, c.sleep, func(attempt int) error {
		body, callErr := c.doStreamOnce(ctx, payload)
		if callErr != nil {
			return callErr
		}
		stream = newStream(body, c.breakers.For(c.Endpoint()))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// encode serializes the request, forcing the stream flag to match the call
// mode regardless of what the caller set.
func (c *Client) encode(req *ChatRequest, stream bool) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, &UpstreamError{Kind: KindBadRequest, Message: "encoding request: " + err.Error()}
	}
	if req.Stream != stream {
		payload, _ = sjson.SetBytes(payload, "stream", stream)
	}
	return payload, nil
}

// doOnce performs one blocking HTTP attempt behind the breaker, reading the
// full body before the per-call timeout is released.
func (c *Client) doOnce(ctx context.Context, payload []byte) ([]byte, error) {
	breaker := c.breakers.For(c.Endpoint())
	if err := breaker.Allow(); err != nil {
		return nil, err
	}

	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}

	httpResp, err := c.send(ctx, payload, false)
	if err != nil {
		breaker.RecordFailure()
		return nil, err
	}
	defer func() {
		if errClose := httpResp.Body.Close(); errClose != nil {
			log.Debugf("upstream: close response body error: %v", errClose)
		}
	}()

	if classified := c.checkStatus(httpResp, breaker); classified != nil {
		return nil, classified
	}

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		breaker.RecordFailure()
		return nil, ClassifyTransport(err)
	}
	breaker.RecordSuccess()
	return body, nil
}

// doStreamOnce performs one streaming HTTP attempt behind the breaker. The
// stream rides the parent context; the per-call timeout does not apply since
// a healthy stream legitimately outlives it.
func (c *Client) doStreamOnce(ctx context.Context, payload []byte) (io.ReadCloser, error) {
	breaker := c.breakers.For(c.Endpoint())
	if err := breaker.Allow(); err != nil {
		return nil, err
	}

	httpResp, err := c.send(ctx, payload, true)
	if err != nil {
		breaker.RecordFailure()
		return nil, err
	}

	if classified := c.checkStatus(httpResp, breaker); classified != nil {
		if errClose := httpResp.Body.Close(); errClose != nil {
			log.Debugf("upstream: close error body error: %v", errClose)
		}
		return nil, classified
	}
	breaker.RecordSuccess()
	return httpResp.Body, nil
}

// send builds and executes the HTTP request. Transport failures are
// classified before returning.
func (c *Client) send(ctx context.Context, payload []byte, stream bool) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint(), bytes.NewReader(payload))
	if err != nil {
		return nil, ClassifyTransport(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	httpReq.Header.Set("User-Agent", "visionbridge")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
		httpReq.Header.Set("Cache-Control", "no-cache")
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, ClassifyTransport(err)
	}
	return httpResp, nil
}

// checkStatus classifies a non-2xx reply and records it against the breaker
// when the failure indicates endpoint trouble rather than a caller mistake.
func (c *Client) checkStatus(httpResp *http.Response, breaker *Breaker) *UpstreamError {
	if httpResp.StatusCode >= 200 && httpResp.StatusCode < 300 {
		return nil
	}
	errBody, _ := io.ReadAll(httpResp.Body)
	classified := ClassifyStatus(httpResp.StatusCode, errBody, httpResp.Header)
	if classified.Retryable {
		breaker.RecordFailure()
	}
	log.Debugf("upstream: status %d classified as %s", httpResp.StatusCode, classified.Kind)
	return classified
}

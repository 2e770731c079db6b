// Copyright 2026 The visionbridge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package upstream

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// ErrorKind is the classified category of an upstream failure.
type ErrorKind string

const (
	// KindBadRequest is a malformed request (HTTP 400). Never retried.
	KindBadRequest ErrorKind = "bad_request"
	// KindAuth is an authentication failure (HTTP 401). Never retried.
	KindAuth ErrorKind = "auth"
	// KindForbidden is an authorization failure (HTTP 403). Never retried.
	KindForbidden ErrorKind = "forbidden"
	// KindNotFound is an unknown endpoint or model (HTTP 404). Never retried.
	KindNotFound ErrorKind = "not_found"
	// KindRateLimited is HTTP 429. Retried, honoring Retry-After.
	KindRateLimited ErrorKind = "rate_limited"
	// KindServerError is any 5xx. Retried.
	KindServerError ErrorKind = "server_error"
	// KindNetworkError is a transport-level failure. Retried.
	KindNetworkError ErrorKind = "network_error"
	// KindUnknown is an unmapped status. Retryable only when status >= 500.
	KindUnknown ErrorKind = "unknown"
)

// UpstreamError is the classified form of every upstream failure. No raw
// transport error crosses the package boundary unclassified.
type UpstreamError struct {
	// Kind is the failure category.
	Kind ErrorKind

	// Message is a human-readable description extracted from the provider
	// error body when available.
	Message string

	// Retryable indicates whether the retry loop may attempt again.
	Retryable bool

	// RetryAfter is the provider-requested backoff, zero when unspecified.
	RetryAfter time.Duration

	// StatusCode is the HTTP status, zero for transport failures.
	StatusCode int
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("upstream %s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("upstream %s: %s", e.Kind, e.Message)
}

// ClassifyStatus maps an HTTP error status to an UpstreamError. The mapping
// is total: every status lands in exactly one kind.
func ClassifyStatus(status int, body []byte, header http.Header) *UpstreamError {
	e := &UpstreamError{
		StatusCode: status,
		Message:    extractErrorMessage(body, status),
	}

	switch {
	case status == http.StatusBadRequest:
		e.Kind = KindBadRequest
	case status == http.StatusUnauthorized:
		e.Kind = KindAuth
	case status == http.StatusForbidden:
		e.Kind = KindForbidden
	case status == http.StatusNotFound:
		e.Kind = KindNotFound
	case status == http.StatusTooManyRequests:
		e.Kind = KindRateLimited
		e.Retryable = true
		e.RetryAfter = parseRetryAfter(header)
	case status >= 500 && status <= 599:
		e.Kind = KindServerError
		e.Retryable = true
	default:
		e.Kind = KindUnknown
		e.Retryable = status >= 500
	}
	return e
}

// ClassifyTransport wraps a transport-level failure (DNS, connect, TLS,
// mid-body read) as a retryable network error.
func ClassifyTransport(err error) *UpstreamError {
	return &UpstreamError{
		Kind:      KindNetworkError,
		Message:   err.Error(),
		Retryable: true,
	}
}

// extractErrorMessage probes the common provider error body shapes for a
// human-readable message, falling back to the HTTP status text.
func extractErrorMessage(body []byte, status int) string {
	if gjson.ValidBytes(body) {
		for _, path := range []string{"error.message", "message", "detail", "error"} {
			if v := gjson.GetBytes(body, path); v.Type == gjson.String && strings.TrimSpace(v.String()) != "" {
				return strings.TrimSpace(v.String())
			}
		}
	}
	if preview := compactPreview(body, 200); preview != "" {
		return preview
	}
	return http.StatusText(status)
}

func compactPreview(body []byte, maxLen int) string {
	clean := strings.Join(strings.Fields(strings.TrimSpace(string(body))), " ")
	if len(clean) > maxLen {
		return clean[:maxLen] + "..."
	}
	return clean
}

// parseRetryAfter reads the Retry-After header in either delta-seconds or
// HTTP-date form. Returns zero when absent or unparsable.
func parseRetryAfter(header http.Header) time.Duration {
	raw := strings.TrimSpace(header.Get("Retry-After"))
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// Copyright 2026 The visionbridge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package imaging validates and normalizes image references into a
// provider-ready inline representation. It enforces size and format policy,
// downscales oversized images, and never persists image bytes beyond the
// lifetime of a single request.
package imaging

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// FailureKind classifies a normalization failure for the caller.
type FailureKind string

const (
	// FailureInvalidInput indicates a malformed or unsupported reference.
	FailureInvalidInput FailureKind = "invalid_input"
	// FailureUnreachable indicates the remote image could not be fetched.
	FailureUnreachable FailureKind = "unreachable"
	// FailureNotFound indicates the remote host returned 404.
	FailureNotFound FailureKind = "not_found"
	// FailureForbidden indicates the remote host returned 403.
	FailureForbidden FailureKind = "forbidden"
	// FailureTooLarge indicates the payload exceeds the configured ceiling.
	FailureTooLarge FailureKind = "too_large"
	// FailureUnsupportedFormat indicates a format outside the allow-list.
	FailureUnsupportedFormat FailureKind = "unsupported_format"
	// FailureDecode indicates the payload could not be decoded as an image.
	FailureDecode FailureKind = "decode_error"
)

// NormalizeError is the typed failure returned by the normalizer. All
// normalization failures are caller-visible and non-retryable: refetching the
// same unreachable URL or re-decoding the same broken payload will not help.
type NormalizeError struct {
	Kind    FailureKind
	Message string
	Cause   error
}

func (e *NormalizeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("imaging: %s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("imaging: %s: %s", e.Kind, e.Message)
}

func (e *NormalizeError) Unwrap() error { return e.Cause }

func failure(kind FailureKind, msg string) *NormalizeError {
	return &NormalizeError{Kind: kind, Message: msg}
}

func failureCause(kind FailureKind, msg string, cause error) *NormalizeError {
	return &NormalizeError{Kind: kind, Message: msg, Cause: cause}
}

// KindOf extracts the failure kind from an error, or empty when the error is
// not a NormalizeError.
func KindOf(err error) FailureKind {
	var ne *NormalizeError
	if errors.As(err, &ne) {
		return ne.Kind
	}
	return ""
}

// ImageReference is a tagged union over the two accepted image sources:
// a remote HTTP(S) URL or an inline base64-encoded payload. Exactly one
// variant is populated.
type ImageReference struct {
	// RemoteURL is set for remote references.
	RemoteURL string

	// InlineData holds the decoded bytes of an inline payload.
	InlineData []byte

	// InlineFormat is the declared format of an inline payload ("png", ...).
	InlineFormat string
}

// RemoteRef builds a remote image reference.
func RemoteRef(rawURL string) ImageReference {
	return ImageReference{RemoteURL: rawURL}
}

// InlineRef builds an inline image reference from already-decoded bytes.
func InlineRef(data []byte, format string) ImageReference {
	return ImageReference{InlineData: data, InlineFormat: format}
}

// IsRemote reports whether the reference points at a remote URL.
func (r ImageReference) IsRemote() bool { return r.RemoteURL != "" }

// Validate checks the exactly-one-variant invariant.
func (r ImageReference) Validate() error {
	hasRemote := r.RemoteURL != ""
	hasInline := len(r.InlineData) > 0
	if hasRemote == hasInline {
		return failure(FailureInvalidInput, "image reference must be exactly one of remote URL or inline payload")
	}
	if hasInline && r.InlineFormat == "" {
		return failure(FailureInvalidInput, "inline payload missing declared format")
	}
	return nil
}

// dataURLPattern is the strict shape accepted for inline payloads. The format
// group is the full allow-list; policy may narrow it further.
var dataURLPattern = regexp.MustCompile(`^data:image/(png|jpeg|gif|webp);base64,([A-Za-z0-9+/]+={0,2})$`)

// ParseReference interprets a caller-supplied string as either a data URL or
// a remote HTTP(S) URL. Any other scheme is rejected as invalid input.
func ParseReference(raw string) (ImageReference, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ImageReference{}, failure(FailureInvalidInput, "empty image reference")
	}

	if strings.HasPrefix(raw, "data:") {
		m := dataURLPattern.FindStringSubmatch(raw)
		if m == nil {
			return ImageReference{}, failure(FailureInvalidInput, "malformed data URL")
		}
		data, err := base64.StdEncoding.DecodeString(m[2])
		if err != nil {
			return ImageReference{}, failureCause(FailureInvalidInput, "invalid base64 payload", err)
		}
		return InlineRef(data, m[1]), nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return ImageReference{}, failureCause(FailureInvalidInput, "unparsable image URL", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ImageReference{}, failure(FailureInvalidInput, fmt.Sprintf("unsupported URL scheme %q", u.Scheme))
	}
	if u.Host == "" {
		return ImageReference{}, failure(FailureInvalidInput, "image URL missing host")
	}
	return RemoteRef(raw), nil
}

// NormalizedImage is the provider-ready result of normalization. It is
// immutable once produced and owned exclusively by the in-flight request.
type NormalizedImage struct {
	// Data holds the final encoded image bytes.
	Data []byte

	// Format is the detected image format ("png", "jpeg", "gif", "webp").
	Format string

	// ByteSize is len(Data), kept explicit for logging and policy checks.
	ByteSize int64

	// ProviderURI is a self-contained data URI the provider can consume
	// without re-fetching anything.
	ProviderURI string
}

func newNormalizedImage(data []byte, format string) *NormalizedImage {
	return &NormalizedImage{
		Data:        data,
		Format:      format,
		ByteSize:    int64(len(data)),
		ProviderURI: "data:image/" + format + ";base64," + base64.StdEncoding.EncodeToString(data),
	}
}

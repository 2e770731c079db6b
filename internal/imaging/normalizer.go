// Copyright 2026 The visionbridge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package imaging

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// Policy bounds what the normalizer will accept and how it re-encodes.
type Policy struct {
	// MaxBytes is the hard ceiling on the encoded payload. Enforced before
	// any decoding and again after re-encoding.
	MaxBytes int64

	// AllowedFormats narrows the accepted image formats. Empty means every
	// format the parser recognizes is allowed.
	AllowedFormats []string

	// MaxDimension is the largest allowed pixel dimension. Images exceeding
	// it are downscaled preserving aspect ratio; smaller images are never
	// enlarged.
	MaxDimension int

	// Quality is the re-encode quality for lossy formats (1-100).
	Quality int

	// FetchTimeout bounds the remote fetch independently of the overall
	// request deadline.
	FetchTimeout time.Duration
}

// Allows reports whether the policy accepts the given format.
func (p Policy) Allows(format string) bool {
	if len(p.AllowedFormats) == 0 {
		return true
	}
	for _, f := range p.AllowedFormats {
		if f == format {
			return true
		}
	}
	return false
}

// Normalizer turns an ImageReference into a provider-ready NormalizedImage.
type Normalizer struct {
	client *http.Client
}

// NewNormalizer creates a normalizer. A nil client falls back to a dedicated
// http.Client so remote fetch timeouts never inherit global defaults.
func NewNormalizer(client *http.Client) *Normalizer {
	if client == nil {
		client = &http.Client{}
	}
	return &Normalizer{client: client}
}

// Normalize validates the reference, fetches remote payloads, enforces size
// and format policy, and optionally re-encodes for size. The result always
// carries a self-contained inline representation; the provider never has to
// resolve the original URL itself.
func (n *Normalizer) Normalize(ctx context.Context, ref ImageReference, policy Policy) (*NormalizedImage, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	var (
		data           []byte
		declaredFormat string
	)
	if ref.IsRemote() {
		fetched, format, err := n.fetch(ctx, ref.RemoteURL, policy)
		if err != nil {
			return nil, err
		}
		data, declaredFormat = fetched, format
	} else {
		data, declaredFormat = ref.InlineData, ref.InlineFormat
	}

	// Hard ceiling before spending any CPU on decode.
	if policy.MaxBytes > 0 && int64(len(data)) > policy.MaxBytes {
		return nil, failure(FailureTooLarge, fmt.Sprintf("image payload %d bytes exceeds limit %d", len(data), policy.MaxBytes))
	}
	if !policy.Allows(declaredFormat) {
		return nil, failure(FailureUnsupportedFormat, fmt.Sprintf("format %q not allowed", declaredFormat))
	}

	format, err := sniffFormat(data)
	if err != nil {
		return nil, err
	}
	if format != declaredFormat {
		// Trust the bytes over the declaration, but re-check policy.
		if !policy.Allows(format) {
			return nil, failure(FailureUnsupportedFormat, fmt.Sprintf("detected format %q not allowed", format))
		}
	}

	data = n.reencodeForPolicy(data, format, policy)

	// Size policy again after optional re-encoding.
	if policy.MaxBytes > 0 && int64(len(data)) > policy.MaxBytes {
		return nil, failure(FailureTooLarge, fmt.Sprintf("image still %d bytes after re-encoding, limit %d", len(data), policy.MaxBytes))
	}

	return newNormalizedImage(data, format), nil
}

// fetch downloads a remote image with its own timeout and maps transport and
// status failures to caller-visible kinds.
func (n *Normalizer) fetch(ctx context.Context, rawURL string, policy Policy) ([]byte, string, error) {
	if policy.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, policy.FetchTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", failureCause(FailureInvalidInput, "building fetch request", err)
	}
	req.Header.Set("Accept", "image/*")

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, "", failureCause(FailureUnreachable, "fetching remote image", err)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Debugf("imaging: close fetch body error: %v", errClose)
		}
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, "", failure(FailureNotFound, "remote image not found")
	case resp.StatusCode == http.StatusForbidden:
		return nil, "", failure(FailureForbidden, "remote host refused access to image")
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, "", failure(FailureUnreachable, fmt.Sprintf("remote host returned status %d", resp.StatusCode))
	}

	// Read at most one byte past the ceiling so oversized downloads abort
	// without buffering the full body.
	limit := int64(64 * 1024 * 1024)
	if policy.MaxBytes > 0 {
		limit = policy.MaxBytes + 1
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, "", failureCause(FailureUnreachable, "reading remote image body", err)
	}
	if policy.MaxBytes > 0 && int64(len(data)) > policy.MaxBytes {
		return nil, "", failure(FailureTooLarge, fmt.Sprintf("remote image exceeds limit %d", policy.MaxBytes))
	}
	return data, detectFormat(resp.Header.Get("Content-Type"), data), nil
}

// sniffFormat identifies the real encoded format from the payload bytes.
func sniffFormat(data []byte) (string, error) {
	if isWebP(data) {
		// The stdlib cannot decode WebP; accept it based on the container
		// signature alone and pass the bytes through untouched.
		return "webp", nil
	}
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", failureCause(FailureDecode, "payload is not a decodable image", err)
	}
	return format, nil
}

// detectFormat maps a Content-Type header to a format name, falling back to
// byte sniffing when the header is absent or generic.
func detectFormat(contentType string, data []byte) string {
	ct := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	switch ct {
	case "image/png":
		return "png"
	case "image/jpeg", "image/jpg":
		return "jpeg"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	}
	if format, err := sniffFormat(data); err == nil {
		return format
	}
	return "unknown"
}

func isWebP(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP"
}

// Copyright 2026 The visionbridge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package transform

import (
	"errors"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrEmptyResponse means the provider reply carried no usable text.
var ErrEmptyResponse = errors.New("provider response contains no text content")

// finishStop and finishLength are the provider finish reasons the
// confidence heuristic cares about.
const (
	finishStop   = "stop"
	finishLength = "length"
)

// Normalizer converts raw provider JSON into the bridge output contract.
// The zero value uses no length limit; construct with NewNormalizer to set
// one.
type Normalizer struct {
	// maxTextLength bounds TextBody; zero means unlimited.
	maxTextLength int
}

// NewNormalizer creates a normalizer with the given output length limit.
func NewNormalizer(maxTextLength int) *Normalizer {
	return &Normalizer{maxTextLength: maxTextLength}
}

// Normalize interprets a complete (non-streamed) provider reply.
func (n *Normalizer) Normalize(body []byte, toolKind ToolKind, modelUsed string) (*BridgeResponse, error) {
	root := gjson.ParseBytes(body)
	text := extractText(root.Get("choices.0.message.content"))
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyResponse
	}

	usage := root.Get("usage")
	return n.assemble(
		text,
		root.Get("choices.0.finish_reason").String(),
		int(usage.Get("prompt_tokens").Int()),
		int(usage.Get("completion_tokens").Int()),
		int(usage.Get("total_tokens").Int()),
		toolKind,
		modelUsed,
	), nil
}

// assemble applies the shared tail of both the blocking and streaming
// paths: truncation, confidence scoring, and tool augmentation.
func (n *Normalizer) assemble(text, finishReason string, promptTokens, completionTokens, totalTokens int, toolKind ToolKind, modelUsed string) *BridgeResponse {
	text, truncated := truncateAtBoundary(text, n.maxTextLength)

	resp := &BridgeResponse{
		TextBody:   text,
		Confidence: scoreConfidence(len(text), promptTokens, completionTokens, finishReason),
		TokensUsed: totalTokens,
		ModelUsed:  modelUsed,
		Truncated:  truncated,
	}
	augment(resp, toolKind)
	return resp
}

// extractText handles both provider content shapes: a plain string, or a
// mixed segment array from which only text-typed segments are taken. Image
// and unknown segment kinds are ignored, never an error.
func extractText(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.String()
	}
	if !content.IsArray() {
		return ""
	}

	var b strings.Builder
	content.ForEach(func(_, segment gjson.Result) bool {
		if segment.Get("type").String() == "text" {
			b.WriteString(segment.Get("text").String())
		}
		return true
	})
	return b.String()
}

// scoreConfidence is the heuristic quality estimate. The provider supplies
// no probability, so length, token throughput, and the finish reason stand
// in for one.
func scoreConfidence(textLen, promptTokens, completionTokens int, finishReason string) float64 {
	c := 0.7
	if textLen > 200 {
		c += 0.1
	}
	if textLen > 500 {
		c += 0.1
	}
	if promptTokens > 0 && float64(completionTokens)/float64(promptTokens) > 0.5 {
		c += 0.1
	}
	switch finishReason {
	case finishStop:
		c += 0.1
	case finishLength:
		c -= 0.2
	}

	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

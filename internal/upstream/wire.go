// Copyright 2026 The visionbridge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package upstream issues inference calls against the external multimodal
// provider. It owns error classification, retry with exponential backoff,
// per-endpoint circuit breaking, and SSE stream decoding.
package upstream

// ChatRequest is the JSON request body for the provider's chat completions
// endpoint.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

// Message is one conversation turn. Content is always the segment-array form
// so text and image parts can be mixed freely.
type Message struct {
	Role    string    `json:"role"`
	Content []Segment `json:"content"`
}

// Segment is one content part. Exactly one of Text or ImageURL is set,
// matching Type.
type Segment struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL wraps an image reference the provider can resolve on its own;
// the bridge always sends self-contained data URIs here.
type ImageURL struct {
	URL string `json:"url"`
}

// TextSegment builds a text content part.
func TextSegment(text string) Segment {
	return Segment{Type: "text", Text: text}
}

// ImageSegment builds an image content part from a data URI.
func ImageSegment(uri string) Segment {
	return Segment{Type: "image_url", ImageURL: &ImageURL{URL: uri}}
}

// Usage is the provider-reported token accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

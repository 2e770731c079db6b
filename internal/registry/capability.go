// Copyright 2026 The visionbridge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package registry provides the per-model capability table consumed by the
// model selector and the upstream invoker. Capabilities are static per
// deployment: the table is read-only during request processing and may only
// be replaced wholesale by an administrative reload.
package registry

// ModelCapability describes what a single upstream model can handle.
type ModelCapability struct {
	// ModelID is the provider-facing model identifier (e.g., "gpt-4o").
	ModelID string `yaml:"model-id" json:"model_id"`

	// SupportsImages indicates whether the model accepts image segments.
	SupportsImages bool `yaml:"supports-images" json:"supports_images"`

	// SupportsStreaming indicates whether the model can stream deltas.
	SupportsStreaming bool `yaml:"supports-streaming" json:"supports_streaming"`

	// MaxImageBytes is the largest encoded image payload the model accepts.
	MaxImageBytes int64 `yaml:"max-image-bytes" json:"max_image_bytes"`

	// SupportedFormats lists accepted image formats (e.g., "png", "jpeg").
	SupportedFormats []string `yaml:"supported-formats" json:"supported_formats"`

	// MaxOutputTokens is the maximum completion length the model allows.
	MaxOutputTokens int `yaml:"max-output-tokens" json:"max_output_tokens"`

	// ContextLength is the model's context window in tokens.
	ContextLength int `yaml:"context-length" json:"context_length"`

	// PricePerPromptToken is the cost per prompt token in USD.
	PricePerPromptToken float64 `yaml:"price-per-prompt-token" json:"price_per_prompt_token"`

	// PricePerCompletionToken is the cost per completion token in USD.
	PricePerCompletionToken float64 `yaml:"price-per-completion-token" json:"price_per_completion_token"`
}

// SupportsFormat reports whether the model accepts the given image format.
// An empty SupportedFormats list means the model imposes no format restriction.
func (c *ModelCapability) SupportsFormat(format string) bool {
	if len(c.SupportedFormats) == 0 {
		return true
	}
	for _, f := range c.SupportedFormats {
		if f == format {
			return true
		}
	}
	return false
}

// DefaultCapabilities returns the built-in capability table for well-known
// models. Deployments override or extend these entries via configuration.
func DefaultCapabilities() []ModelCapability {
	return []ModelCapability{
		{
			ModelID:                 "gpt-4o",
			SupportsImages:          true,
			SupportsStreaming:       true,
			MaxImageBytes:           20 * 1024 * 1024,
			SupportedFormats:        []string{"png", "jpeg", "gif", "webp"},
			MaxOutputTokens:         16384,
			ContextLength:           128000,
			PricePerPromptToken:     0.0000025,
			PricePerCompletionToken: 0.00001,
		},
		{
			ModelID:                 "gpt-4o-mini",
			SupportsImages:          true,
			SupportsStreaming:       true,
			MaxImageBytes:           20 * 1024 * 1024,
			SupportedFormats:        []string{"png", "jpeg", "gif", "webp"},
			MaxOutputTokens:         16384,
			ContextLength:           128000,
			PricePerPromptToken:     0.00000015,
			PricePerCompletionToken: 0.0000006,
		},
		{
			ModelID:                 "gemini-2.0-flash",
			SupportsImages:          true,
			SupportsStreaming:       true,
			MaxImageBytes:           7 * 1024 * 1024,
			SupportedFormats:        []string{"png", "jpeg", "webp"},
			MaxOutputTokens:         8192,
			ContextLength:           1000000,
			PricePerPromptToken:     0.0000001,
			PricePerCompletionToken: 0.0000004,
		},
		{
			ModelID:                 "llava:13b",
			SupportsImages:          true,
			SupportsStreaming:       true,
			MaxImageBytes:           10 * 1024 * 1024,
			SupportedFormats:        []string{"png", "jpeg"},
			MaxOutputTokens:         4096,
			ContextLength:           32000,
		},
		{
			ModelID:           "gpt-4.1-nano",
			SupportsImages:    false,
			SupportsStreaming: true,
			MaxOutputTokens:   32768,
			ContextLength:     1000000,
		},
	}
}

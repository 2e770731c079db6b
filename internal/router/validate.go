// Copyright 2026 The visionbridge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package router

import (
	"fmt"
)

// Validation is the result of a pure pre-call capability check.
type Validation struct {
	// Valid is true when the model satisfies every requirement.
	Valid bool

	// Issues lists every violated requirement in human-readable form.
	// Empty when Valid.
	Issues []string
}

// Validate checks whether a model satisfies the request's hard requirements.
// It is side-effect free and is used both before attempting a call and to
// produce the rejection reason that drives fallback.
func (s *Selector) Validate(modelID string, req RoutingRequest) Validation {
	capability := s.registry.Get(modelID)
	if capability == nil {
		return Validation{Issues: []string{fmt.Sprintf("model %q is not registered", modelID)}}
	}

	var issues []string
	if req.HasImage && !capability.SupportsImages {
		issues = append(issues, fmt.Sprintf("model %s does not support images", modelID))
	}
	if req.HasImage && capability.SupportsImages {
		if capability.MaxImageBytes > 0 && req.ImageBytes > capability.MaxImageBytes {
			issues = append(issues, fmt.Sprintf("image payload of %d bytes exceeds model limit %d", req.ImageBytes, capability.MaxImageBytes))
		}
		if req.ImageFormat != "" && !capability.SupportsFormat(req.ImageFormat) {
			issues = append(issues, fmt.Sprintf("model %s does not accept %s images", modelID, req.ImageFormat))
		}
	}
	if req.MaxTokens > 0 && capability.MaxOutputTokens > 0 && req.MaxTokens > capability.MaxOutputTokens {
		issues = append(issues, fmt.Sprintf("requested %d output tokens exceeds model limit %d", req.MaxTokens, capability.MaxOutputTokens))
	}
	if capability.ContextLength > 0 {
		promptTokens := s.estimator.Estimate(req.Prompt)
		if promptTokens+req.MaxTokens > capability.ContextLength {
			issues = append(issues, fmt.Sprintf("estimated %d prompt tokens plus %d completion tokens exceeds context length %d", promptTokens, req.MaxTokens, capability.ContextLength))
		}
	}

	return Validation{Valid: len(issues) == 0, Issues: issues}
}

// Copyright 2026 The visionbridge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package router

import (
	"github.com/tiktoken-go/tokenizer"
)

// TokenEstimator estimates prompt token counts for context-fit checks.
// It uses the cl100k BPE vocabulary; counts for non-OpenAI models are an
// approximation, which is acceptable for budget filtering.
type TokenEstimator struct {
	codec tokenizer.Codec
}

// NewTokenEstimator creates an estimator. If the tokenizer cannot be
// initialized the estimator falls back to a bytes/4 approximation.
func NewTokenEstimator() *TokenEstimator {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return &TokenEstimator{}
	}
	return &TokenEstimator{codec: codec}
}

// Estimate returns the approximate token count for the given text.
func (e *TokenEstimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	if e == nil || e.codec == nil {
		return len(text)/4 + 1
	}
	ids, _, err := e.codec.Encode(text)
	if err != nil {
		return len(text)/4 + 1
	}
	return len(ids)
}

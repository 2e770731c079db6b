// Copyright 2026 The visionbridge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package transform

import (
	"strings"

	"github.com/traylinx/visionbridge/internal/upstream"
)

// flushThreshold is how many buffered bytes force an intermediate flush
// even without a sentence boundary.
const flushThreshold = 256

// Accumulator folds streamed deltas into a running buffer, emitting
// partial responses at natural boundaries and exactly one final
// non-partial response on Finish. The final response goes through the same
// truncation, scoring, and augmentation as the blocking path.
type Accumulator struct {
	norm     *Normalizer
	toolKind ToolKind
	model    string

	buf          strings.Builder
	sinceFlush   int
	finishReason string
	usage        *upstream.Usage
	finished     bool
}

// NewAccumulator starts a streaming accumulation for one request.
func (n *Normalizer) NewAccumulator(toolKind ToolKind, modelUsed string) *Accumulator {
	return &Accumulator{norm: n, toolKind: toolKind, model: modelUsed}
}

// Push folds one delta in. It returns an intermediate partial response
// when the buffer crossed the flush threshold or the delta ended on a
// sentence or line boundary, nil otherwise. Callers must treat every
// returned response as partial until Finish.
func (a *Accumulator) Push(d *upstream.Delta) *BridgeResponse {
	if a.finished || d == nil {
		return nil
	}

	a.buf.WriteString(d.Text)
	a.sinceFlush += len(d.Text)
	if d.FinishReason != "" {
		a.finishReason = d.FinishReason
	}
	if d.Usage != nil {
		a.usage = d.Usage
	}

	if a.sinceFlush == 0 || (a.sinceFlush < flushThreshold && !endsAtBoundary(d.Text)) {
		return nil
	}
	a.sinceFlush = 0
	return &BridgeResponse{
		TextBody:  a.buf.String(),
		ModelUsed: a.model,
		Partial:   true,
	}
}

// Finish closes the stream and builds the single final response. Further
// Push calls are ignored. It returns ErrEmptyResponse when no text
// accumulated.
func (a *Accumulator) Finish() (*BridgeResponse, error) {
	a.finished = true

	text := a.buf.String()
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyResponse
	}

	var prompt, completion, total int
	if a.usage != nil {
		prompt = a.usage.PromptTokens
		completion = a.usage.CompletionTokens
		total = a.usage.TotalTokens
	}
	return a.norm.assemble(text, a.finishReason, prompt, completion, total, a.toolKind, a.model), nil
}

// endsAtBoundary reports whether the fragment closes a sentence or line.
func endsAtBoundary(text string) bool {
	if text == "" {
		return false
	}
	switch text[len(text)-1] {
	case '.', '!', '?', '\n':
		return true
	}
	return false
}

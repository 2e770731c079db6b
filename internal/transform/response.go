// Copyright 2026 The visionbridge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package transform converts heterogeneous provider replies into the
// uniform bridge output contract.
package transform

// ToolKind identifies which bridge tool a request came through. It drives
// additive metadata on the response; the text contract is the same for all.
type ToolKind string

const (
	// ToolDescribe asks for a free-form description of the image.
	ToolDescribe ToolKind = "describe"
	// ToolOCR asks for the text visible in the image.
	ToolOCR ToolKind = "ocr"
	// ToolDetect asks for the entities visible in the image.
	ToolDetect ToolKind = "detect"
)

// OCRBlock is one extracted line of text with synthetic geometry. The
// bounding box is a fabricated per-line placeholder, not derived from the
// image; callers that need real geometry must not rely on it.
type OCRBlock struct {
	Text       string  `json:"text"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Confidence float64 `json:"confidence"`
}

// Entity is one detected object or concept.
type Entity struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// ToolMetadata carries per-tool-kind augmentation. Only the fields matching
// the request's tool kind are populated.
type ToolMetadata struct {
	OCRBlocks []OCRBlock `json:"ocrBlocks,omitempty"`
	Entities  []Entity   `json:"entities,omitempty"`
}

// BridgeResponse is the final output contract of the pipeline. It is
// immutable once constructed and carries no further lifecycle.
type BridgeResponse struct {
	// TextBody is the extracted text content.
	TextBody string `json:"textBody"`

	// Confidence is a heuristic quality estimate in [0,1], not a
	// provider-supplied probability.
	Confidence float64 `json:"confidence"`

	// TokensUsed is the total token count reported by the provider, zero
	// when unreported.
	TokensUsed int `json:"tokensUsed"`

	// ModelUsed is the model that produced the response.
	ModelUsed string `json:"modelUsed"`

	// Partial marks an intermediate streamed response. Exactly one final
	// response per stream has Partial false.
	Partial bool `json:"partial,omitempty"`

	// Truncated reports that TextBody was cut at the output length limit.
	Truncated bool `json:"truncated,omitempty"`

	// Metadata holds tool-specific augmentation, nil for plain description.
	Metadata *ToolMetadata `json:"metadata,omitempty"`
}

// ErrorResponse builds the well-formed zero-confidence reply the
// orchestrator hands back when every recovery path is exhausted.
func ErrorResponse(message, modelUsed string) *BridgeResponse {
	return &BridgeResponse{
		TextBody:   "I was unable to process this request: " + message,
		Confidence: 0,
		ModelUsed:  modelUsed,
	}
}

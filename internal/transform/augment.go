// Copyright 2026 The visionbridge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package transform

import "strings"

// Synthetic geometry for OCR blocks. The provider returns plain text, so
// the blocks get stacked placeholder boxes rather than real coordinates.
const (
	ocrLineHeight          = 20
	ocrCharWidth           = 8
	defaultBlockConfidence = 0.9
)

// augment attaches tool-specific metadata. Augmentation is additive only;
// TextBody is never modified here.
func augment(resp *BridgeResponse, toolKind ToolKind) {
	switch toolKind {
	case ToolOCR:
		if blocks := syntheticOCRBlocks(resp.TextBody); len(blocks) > 0 {
			resp.Metadata = &ToolMetadata{OCRBlocks: blocks}
		}
	case ToolDetect:
		if entities := parseEntities(resp.TextBody); len(entities) > 0 {
			resp.Metadata = &ToolMetadata{Entities: entities}
		}
	}
}

// syntheticOCRBlocks turns each non-empty response line into a block with
// placeholder geometry and a fixed confidence.
func syntheticOCRBlocks(text string) []OCRBlock {
	var blocks []OCRBlock
	row := 0
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		blocks = append(blocks, OCRBlock{
			Text:       line,
			X:          0,
			Y:          row * ocrLineHeight,
			Width:      len(line) * ocrCharWidth,
			Height:     ocrLineHeight,
			Confidence: defaultBlockConfidence,
		})
		row++
	}
	return blocks
}

// parseEntities reads one entity per line, tolerating the bullet and
// numbering styles models commonly produce.
func parseEntities(text string) []Entity {
	var entities []Entity
	for _, line := range strings.Split(text, "\n") {
		name := strings.TrimSpace(line)
		name = strings.TrimLeft(name, "-*• \t")
		if i := strings.IndexByte(name, '.'); i > 0 && i <= 3 && isDigits(name[:i]) {
			name = strings.TrimSpace(name[i+1:])
		}
		if name == "" {
			continue
		}
		entities = append(entities, Entity{Name: name, Confidence: defaultBlockConfidence})
	}
	return entities
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}

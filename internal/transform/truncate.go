// Copyright 2026 The visionbridge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package transform

import "unicode/utf8"

// truncationMarker makes a cut visible to the caller; trailing content is
// never dropped silently.
const truncationMarker = "\n[output truncated]"

// truncateAtBoundary cuts text that exceeds limit at the last sentence or
// line boundary before the limit and appends the truncation marker. When no
// boundary exists in range it cuts hard at the limit, backed up to the
// nearest rune start so a multibyte rune is never split. A limit of zero
// disables truncation.
func truncateAtBoundary(text string, limit int) (string, bool) {
	if limit <= 0 || len(text) <= limit {
		return text, false
	}

	cut := -1
	for i := limit - 1; i >= 0; i-- {
		switch text[i] {
		case '\n':
			cut = i
		case '.', '!', '?':
			cut = i + 1
		default:
			continue
		}
		break
	}
	if cut < 0 {
		cut = limit
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
	}
	return text[:cut] + truncationMarker, true
}

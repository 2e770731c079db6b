package transform

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeStringContent(t *testing.T) {
	body := []byte(`{
		"choices":[{"message":{"content":"A tabby cat on a windowsill."},"finish_reason":"stop"}],
		"usage":{"prompt_tokens":40,"completion_tokens":8,"total_tokens":48}
	}`)

	resp, err := NewNormalizer(0).Normalize(body, ToolDescribe, "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "A tabby cat on a windowsill.", resp.TextBody)
	assert.Equal(t, "gpt-4o", resp.ModelUsed)
	assert.Equal(t, 48, resp.TokensUsed)
	assert.False(t, resp.Partial)
	assert.False(t, resp.Truncated)
	assert.Nil(t, resp.Metadata)
	// base 0.7 + clean stop 0.1; short text, low completion ratio.
	assert.InDelta(t, 0.8, resp.Confidence, 1e-9)
}

func TestNormalizeSegmentArrayContent(t *testing.T) {
	body := []byte(`{
		"choices":[{"message":{"content":[
			{"type":"text","text":"First part. "},
			{"type":"image_url","image_url":{"url":"data:image/png;base64,AAAA"}},
			{"type":"mystery","payload":42},
			{"type":"text","text":"Second part."}
		]},"finish_reason":"stop"}]
	}`)

	resp, err := NewNormalizer(0).Normalize(body, ToolDescribe, "gemini-2.0-flash")
	require.NoError(t, err)
	assert.Equal(t, "First part. Second part.", resp.TextBody)
}

func TestNormalizeEmptyContent(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty string", `{"choices":[{"message":{"content":""}}]}`},
		{"whitespace", `{"choices":[{"message":{"content":"   \n"}}]}`},
		{"no choices", `{"choices":[]}`},
		{"not json", `<html>oops</html>`},
		{"only image segments", `{"choices":[{"message":{"content":[{"type":"image_url"}]}}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewNormalizer(0).Normalize([]byte(tt.body), ToolDescribe, "m")
			assert.ErrorIs(t, err, ErrEmptyResponse)
		})
	}
}

func TestScoreConfidence(t *testing.T) {
	tests := []struct {
		name       string
		textLen    int
		prompt     int
		completion int
		finish     string
		want       float64
	}{
		{"base only", 100, 100, 10, "", 0.7},
		{"clean stop", 100, 100, 10, "stop", 0.8},
		{"long text", 300, 100, 10, "stop", 0.9},
		{"very long text", 600, 100, 10, "stop", 1.0},
		{"thorough completion", 100, 100, 60, "stop", 0.9},
		{"everything clamps to one", 600, 100, 60, "stop", 1.0},
		{"length truncation penalty", 100, 100, 10, "length", 0.5},
		{"zero prompt tokens skip ratio", 100, 0, 60, "", 0.7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := scoreConfidence(tt.textLen, tt.prompt, tt.completion, tt.finish)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestTruncateAtSentenceBoundary(t *testing.T) {
	// A 5,000-char body whose last sentence boundary before the 4,000
	// limit sits exactly at position 3,950.
	text := strings.Repeat("x", 3949) + "." + strings.Repeat("y", 1050)
	require.Len(t, text, 5000)

	got, truncated := truncateAtBoundary(text, 4000)
	assert.True(t, truncated)
	assert.Equal(t, text[:3950]+truncationMarker, got)
	assert.True(t, strings.HasSuffix(got, "."+truncationMarker))
}

func TestTruncateAtLineBoundary(t *testing.T) {
	text := strings.Repeat("a", 50) + "\n" + strings.Repeat("b", 100)

	got, truncated := truncateAtBoundary(text, 60)
	assert.True(t, truncated)
	assert.Equal(t, strings.Repeat("a", 50)+truncationMarker, got)
}

func TestTruncateNoBoundaryFallsBackToHardCut(t *testing.T) {
	text := strings.Repeat("z", 100)

	got, truncated := truncateAtBoundary(text, 40)
	assert.True(t, truncated)
	assert.Equal(t, strings.Repeat("z", 40)+truncationMarker, got)
}

func TestTruncateHardCutKeepsRunesIntact(t *testing.T) {
	// No sentence or line boundary in range, and the 40-byte limit falls
	// inside the three-byte encoding of a CJK rune.
	text := strings.Repeat("界", 20) // 60 bytes

	got, truncated := truncateAtBoundary(text, 40)
	assert.True(t, truncated)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("界", 13)+truncationMarker, got)
}

func TestTruncateShortTextUntouched(t *testing.T) {
	got, truncated := truncateAtBoundary("short.", 4000)
	assert.False(t, truncated)
	assert.Equal(t, "short.", got)

	got, truncated = truncateAtBoundary("no limit configured", 0)
	assert.False(t, truncated)
	assert.Equal(t, "no limit configured", got)
}

func TestNormalizeAppliesTruncation(t *testing.T) {
	long := strings.Repeat("word ", 100) + "end." // 504 chars
	body := `{"choices":[{"message":{"content":"` + long + `"},"finish_reason":"stop"}]}`

	resp, err := NewNormalizer(100).Normalize([]byte(body), ToolDescribe, "m")
	require.NoError(t, err)
	assert.True(t, resp.Truncated)
	assert.True(t, strings.HasSuffix(resp.TextBody, truncationMarker))
	assert.LessOrEqual(t, len(resp.TextBody), 100+len(truncationMarker))
}

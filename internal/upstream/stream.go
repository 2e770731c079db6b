// Copyright 2026 The visionbridge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package upstream

import (
	"bufio"
	"io"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// doneSentinel terminates an SSE stream cleanly.
const doneSentinel = "[DONE]"

// Delta is one incremental fragment of a streamed response.
type Delta struct {
	// Text is the content fragment, possibly empty for bookkeeping events.
	Text string

	// FinishReason is set on the final content event ("stop", "length", ...).
	FinishReason string

	// Usage is set when the provider attaches token accounting to an event.
	Usage *Usage
}

// Stream is a pull-based lazy sequence over a server-sent event body.
// Next returns io.EOF after the terminal sentinel; malformed events are
// skipped rather than aborting an otherwise-good stream.
type Stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	breaker *Breaker
	done    bool
}

func newStream(body io.ReadCloser, breaker *Breaker) *Stream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 256*1024), 4*1024*1024)
	return &Stream{body: body, scanner: scanner, breaker: breaker}
}

// Next returns the next delta. It returns io.EOF when the stream terminated
// cleanly via the sentinel (or natural end of body) and a classified
// *UpstreamError when the transport fails mid-stream.
func (s *Stream) Next() (*Delta, error) {
	if s.done {
		return nil, io.EOF
	}

	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == doneSentinel {
			s.done = true
			return nil, io.EOF
		}
		if !gjson.Valid(data) {
			// Noisy upstream output must not kill a good stream.
			log.Debugf("upstream stream: skipping malformed event: %s", compactPreview([]byte(data), 120))
			continue
		}

		delta := &Delta{
			Text:         gjson.Get(data, "choices.0.delta.content").String(),
			FinishReason: gjson.Get(data, "choices.0.finish_reason").String(),
		}
		if usage := gjson.Get(data, "usage"); usage.Exists() && usage.IsObject() {
			delta.Usage = &Usage{
				PromptTokens:     int(usage.Get("prompt_tokens").Int()),
				CompletionTokens: int(usage.Get("completion_tokens").Int()),
				TotalTokens:      int(usage.Get("total_tokens").Int()),
			}
		}
		return delta, nil
	}

	s.done = true
	if err := s.scanner.Err(); err != nil {
		if s.breaker != nil {
			s.breaker.RecordFailure()
		}
		return nil, ClassifyTransport(err)
	}
	return nil, io.EOF
}

// Close releases the underlying response body. Safe to call multiple times.
func (s *Stream) Close() error {
	s.done = true
	return s.body.Close()
}

// Copyright 2026 The visionbridge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bridge

import (
	log "github.com/sirupsen/logrus"
)

// Stage is one step of the pipeline state machine.
type Stage string

const (
	StageIdle         Stage = "idle"
	StageNormalizing  Stage = "normalizing"
	StageSelecting    Stage = "selecting"
	StageInvoking     Stage = "invoking"
	StageTransforming Stage = "transforming"
	StageDone         Stage = "done"
	StageFailed       Stage = "failed"
)

// EventKind classifies a pipeline event.
type EventKind string

const (
	// EventStageEntered fires when the pipeline enters a stage.
	EventStageEntered EventKind = "stage_entered"
	// EventModelSelected fires with the chosen model and its confidence.
	EventModelSelected EventKind = "model_selected"
	// EventRetryAttempted fires once per retry the invoker needed.
	EventRetryAttempted EventKind = "retry_attempted"
	// EventBreakerTripped fires when a call was rejected by an open breaker.
	EventBreakerTripped EventKind = "breaker_tripped"
	// EventFallbackAdvanced fires when a rejected model is replaced.
	EventFallbackAdvanced EventKind = "fallback_advanced"
	// EventFinished fires exactly once with the terminal stage.
	EventFinished EventKind = "finished"
)

// Event is one structured pipeline occurrence. Fields beyond RequestID and
// Kind are populated per kind.
type Event struct {
	RequestID  string
	Kind       EventKind
	Stage      Stage
	Model      string
	Attempt    int
	Confidence float64
	Detail     string
}

// EventSink receives pipeline events. Implementations must be safe for
// concurrent use; the orchestrator calls Emit from many requests at once.
type EventSink interface {
	Emit(Event)
}

// LogSink writes events as structured logrus entries.
type LogSink struct{}

// Emit implements EventSink.
func (LogSink) Emit(e Event) {
	fields := log.Fields{
		"request_id": e.RequestID,
		"event":      string(e.Kind),
	}
	if e.Stage != "" {
		fields["stage"] = string(e.Stage)
	}
	if e.Model != "" {
		fields["model"] = e.Model
	}
	if e.Attempt > 0 {
		fields["attempt"] = e.Attempt
	}
	if e.Kind == EventModelSelected || e.Kind == EventFinished {
		fields["confidence"] = e.Confidence
	}
	if e.Detail != "" {
		fields["detail"] = e.Detail
	}

	entry := log.WithFields(fields)
	switch e.Kind {
	case EventBreakerTripped:
		entry.Warn("bridge event")
	default:
		entry.Debug("bridge event")
	}
}

// NopSink discards all events.
type NopSink struct{}

// Emit implements EventSink.
func (NopSink) Emit(Event) {}

// Copyright 2026 The visionbridge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package bridge composes image normalization, model selection, upstream
// invocation, and response transformation into the end-to-end tool call
// pipeline.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/traylinx/visionbridge/internal/imaging"
	"github.com/traylinx/visionbridge/internal/router"
	"github.com/traylinx/visionbridge/internal/transform"
	"github.com/traylinx/visionbridge/internal/upstream"
)

// ToolInvocation is the boundary contract with the protocol layer: a tool
// name plus its arguments. The core never parses the wire protocol itself.
type ToolInvocation struct {
	ToolName  string    `json:"toolName"`
	Arguments Arguments `json:"arguments"`
}

// Arguments are the caller-supplied inputs for one tool call.
type Arguments struct {
	// Prompt is the instruction sent alongside the image. Empty uses the
	// tool's default prompt.
	Prompt string `json:"prompt,omitempty"`

	// Image is the image reference: an http(s) URL or a base64 data URL.
	Image string `json:"image"`

	// PreferredModel pins the model when set and valid.
	PreferredModel string `json:"preferredModel,omitempty"`

	// MaxTokens caps the completion length; zero uses the provider default.
	MaxTokens int `json:"maxTokens,omitempty"`

	// Temperature tunes sampling; zero uses the provider default.
	Temperature float64 `json:"temperature,omitempty"`

	RequiresHighQuality  bool `json:"requiresHighQuality,omitempty"`
	RequiresFastResponse bool `json:"requiresFastResponse,omitempty"`
	CostSensitive        bool `json:"costSensitive,omitempty"`

	// FallbackAllowed permits trying further models after a rejection.
	FallbackAllowed bool `json:"fallbackAllowed,omitempty"`
}

// PipelineError is the structured failure handed to the protocol layer
// when no recovery path produced a response.
type PipelineError struct {
	// Stage is where the pipeline failed.
	Stage Stage

	// Err is the classified underlying failure.
	Err error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("bridge pipeline failed during %s: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// ErrUnknownTool means the invocation named a tool the bridge does not
// provide.
var ErrUnknownTool = errors.New("unknown tool")

// defaultPrompts are used when the caller supplies no prompt of their own.
var defaultPrompts = map[transform.ToolKind]string{
	transform.ToolDescribe: "Describe this image in detail.",
	transform.ToolOCR:      "Extract all text visible in this image. Output one line per line of text, top to bottom, with no commentary.",
	transform.ToolDetect:   "List the distinct objects and entities visible in this image, one per line.",
}

// toolKindFor maps a wire tool name onto its kind.
func toolKindFor(name string) (transform.ToolKind, error) {
	switch transform.ToolKind(name) {
	case transform.ToolDescribe, transform.ToolOCR, transform.ToolDetect:
		return transform.ToolKind(name), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
}

// Orchestrator owns the per-request pipeline. It holds no per-request
// state itself; the only cross-request mutable state lives in the injected
// breaker group and capability registry.
type Orchestrator struct {
	images    *imaging.Normalizer
	selector  *router.Selector
	client    *upstream.Client
	responses *transform.Normalizer
	sink      EventSink

	policy imaging.Policy
}

// New creates an orchestrator from its injected collaborators. A nil sink
// discards events.
func New(images *imaging.Normalizer, selector *router.Selector, client *upstream.Client, responses *transform.Normalizer, policy imaging.Policy, sink EventSink) *Orchestrator {
	if sink == nil {
		sink = NopSink{}
	}
	return &Orchestrator{
		images:    images,
		selector:  selector,
		client:    client,
		responses: responses,
		sink:      sink,
		policy:    policy,
	}
}

// Handle runs one blocking tool call through the full pipeline. It returns
// either a well-formed BridgeResponse or a *PipelineError; it never
// panics and never leaks a raw transport error.
func (o *Orchestrator) Handle(ctx context.Context, inv *ToolInvocation) (*transform.BridgeResponse, error) {
	requestID := uuid.NewString()

	toolKind, prompt, img, err := o.prepare(ctx, requestID, inv)
	if err != nil {
		return nil, err
	}

	routing := o.routingRequest(inv, prompt, img)
	excluded := make(map[string]struct{})

	for {
		selection, err := o.selectModel(ctx, requestID, routing, excluded)
		if err != nil {
			return nil, err
		}

		o.enterStage(requestID, StageInvoking)
		resp, err := o.client.Invoke(ctx, o.chatRequest(inv, selection.ModelID, prompt, img, false))
		if err != nil {
			if advErr := o.advanceFallback(ctx, requestID, routing, excluded, selection.ModelID, err); advErr != nil {
				return nil, advErr
			}
			continue
		}
		o.emitRetries(requestID, selection.ModelID, resp.Attempts)

		o.enterStage(requestID, StageTransforming)
		out, err := o.responses.Normalize(resp.Body, toolKind, selection.ModelID)
		if err != nil {
			// Degrade to a well-formed zero-confidence response; a raw
			// transform failure must never reach the caller.
			log.Debugf("bridge %s: transform failed, degrading: %v", requestID, err)
			out = transform.ErrorResponse(err.Error(), selection.ModelID)
		}

		o.finish(requestID, StageDone, out.Confidence)
		return out, nil
	}
}

// StreamHandler receives intermediate partial responses during a streamed
// tool call. The final non-partial response comes back from HandleStream
// itself.
type StreamHandler func(partial *transform.BridgeResponse)

// HandleStream runs one tool call with a streaming upstream invocation,
// delivering partial responses through onPartial as deltas accumulate.
// Fallback semantics match Handle for connection establishment; once a
// stream is open, mid-stream failures are terminal.
func (o *Orchestrator) HandleStream(ctx context.Context, inv *ToolInvocation, onPartial StreamHandler) (*transform.BridgeResponse, error) {
	requestID := uuid.NewString()

	toolKind, prompt, img, err := o.prepare(ctx, requestID, inv)
	if err != nil {
		return nil, err
	}

	routing := o.routingRequest(inv, prompt, img)
	excluded := make(map[string]struct{})

	for {
		selection, err := o.selectModel(ctx, requestID, routing, excluded)
		if err != nil {
			return nil, err
		}

		o.enterStage(requestID, StageInvoking)
		stream, err := o.client.InvokeStream(ctx, o.chatRequest(inv, selection.ModelID, prompt, img, true))
		if err != nil {
			if advErr := o.advanceFallback(ctx, requestID, routing, excluded, selection.ModelID, err); advErr != nil {
				return nil, advErr
			}
			continue
		}

		out, err := o.consumeStream(requestID, stream, toolKind, selection.ModelID, onPartial)
		if err != nil {
			o.finish(requestID, StageFailed, 0)
			return nil, &PipelineError{Stage: StageInvoking, Err: err}
		}
		o.finish(requestID, StageDone, out.Confidence)
		return out, nil
	}
}

// prepare runs the shared front half of both pipelines: tool resolution
// and image normalization. Any failure here is terminal since no model
// choice can compensate for an unusable input.
func (o *Orchestrator) prepare(ctx context.Context, requestID string, inv *ToolInvocation) (transform.ToolKind, string, *imaging.NormalizedImage, error) {
	toolKind, err := toolKindFor(inv.ToolName)
	if err != nil {
		o.finish(requestID, StageFailed, 0)
		return "", "", nil, &PipelineError{Stage: StageIdle, Err: err}
	}

	prompt := inv.Arguments.Prompt
	if prompt == "" {
		prompt = defaultPrompts[toolKind]
	}

	o.enterStage(requestID, StageNormalizing)
	if inv.Arguments.Image == "" {
		o.finish(requestID, StageFailed, 0)
		return "", "", nil, &PipelineError{Stage: StageNormalizing, Err: errors.New("missing required image argument")}
	}

	ref, err := imaging.ParseReference(inv.Arguments.Image)
	if err != nil {
		o.finish(requestID, StageFailed, 0)
		return "", "", nil, &PipelineError{Stage: StageNormalizing, Err: err}
	}
	img, err := o.images.Normalize(ctx, ref, o.policy)
	if err != nil {
		o.finish(requestID, StageFailed, 0)
		return "", "", nil, &PipelineError{Stage: StageNormalizing, Err: err}
	}
	return toolKind, prompt, img, nil
}

// routingRequest translates tool arguments and the normalized image into
// selector hints. Carrying the image size and format lets the selector
// enforce per-model payload limits before any upstream call is made.
func (o *Orchestrator) routingRequest(inv *ToolInvocation, prompt string, img *imaging.NormalizedImage) router.RoutingRequest {
	return router.RoutingRequest{
		HasImage:             true,
		ImageBytes:           img.ByteSize,
		ImageFormat:          img.Format,
		RequiresHighQuality:  inv.Arguments.RequiresHighQuality,
		RequiresFastResponse: inv.Arguments.RequiresFastResponse,
		MaxTokens:            inv.Arguments.MaxTokens,
		PreferredModel:       inv.Arguments.PreferredModel,
		CostSensitive:        inv.Arguments.CostSensitive,
		FallbackAllowed:      inv.Arguments.FallbackAllowed,
		Prompt:               prompt,
	}
}

// selectModel runs the Selecting stage once.
func (o *Orchestrator) selectModel(ctx context.Context, requestID string, routing router.RoutingRequest, excluded map[string]struct{}) (*router.ModelSelection, error) {
	if err := ctx.Err(); err != nil {
		o.finish(requestID, StageFailed, 0)
		return nil, &PipelineError{Stage: StageSelecting, Err: err}
	}

	o.enterStage(requestID, StageSelecting)
	selection, err := o.selector.Select(routing, excluded)
	if err != nil {
		o.finish(requestID, StageFailed, 0)
		return nil, &PipelineError{Stage: StageSelecting, Err: err}
	}

	o.sink.Emit(Event{
		RequestID:  requestID,
		Kind:       EventModelSelected,
		Model:      selection.ModelID,
		Confidence: selection.Confidence,
		Detail:     selection.Reason,
	})
	return selection, nil
}

// advanceFallback records an invocation failure and decides whether the
// loop may try another model. It returns a terminal error when fallback is
// exhausted or disallowed. A breaker-open rejection counts like any other
// transient failure: the model is excluded and the next candidate tried.
func (o *Orchestrator) advanceFallback(ctx context.Context, requestID string, routing router.RoutingRequest, excluded map[string]struct{}, modelID string, cause error) error {
	if errors.Is(cause, upstream.ErrBreakerOpen) {
		o.sink.Emit(Event{
			RequestID: requestID,
			Kind:      EventBreakerTripped,
			Model:     modelID,
			Detail:    o.client.Endpoint(),
		})
	}

	excluded[modelID] = struct{}{}
	if !routing.FallbackAllowed || ctx.Err() != nil {
		o.finish(requestID, StageFailed, 0)
		return &PipelineError{Stage: StageInvoking, Err: cause}
	}

	o.sink.Emit(Event{
		RequestID: requestID,
		Kind:      EventFallbackAdvanced,
		Model:     modelID,
		Detail:    cause.Error(),
	})
	log.Debugf("bridge %s: model %s rejected (%v), advancing to next candidate", requestID, modelID, cause)
	return nil
}

// consumeStream drains a live stream into the accumulator, forwarding
// partial responses as they flush.
func (o *Orchestrator) consumeStream(requestID string, stream *upstream.Stream, toolKind transform.ToolKind, modelID string, onPartial StreamHandler) (*transform.BridgeResponse, error) {
	defer stream.Close()

	acc := o.responses.NewAccumulator(toolKind, modelID)
	for {
		delta, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if partial := acc.Push(delta); partial != nil && onPartial != nil {
			onPartial(partial)
		}
	}

	o.enterStage(requestID, StageTransforming)
	out, err := acc.Finish()
	if err != nil {
		log.Debugf("bridge %s: stream transform failed, degrading: %v", requestID, err)
		out = transform.ErrorResponse(err.Error(), modelID)
	}
	return out, nil
}

func (o *Orchestrator) chatRequest(inv *ToolInvocation, modelID, prompt string, img *imaging.NormalizedImage, stream bool) *upstream.ChatRequest {
	return &upstream.ChatRequest{
		Model: modelID,
		Messages: []upstream.Message{
			{
				Role: "user",
				Content: []upstream.Segment{
					upstream.TextSegment(prompt),
					upstream.ImageSegment(img.ProviderURI),
				},
			},
		},
		MaxTokens:   inv.Arguments.MaxTokens,
		Temperature: inv.Arguments.Temperature,
		Stream:      stream,
	}
}

// emitRetries surfaces the invoker's internal retry count as events.
func (o *Orchestrator) emitRetries(requestID, modelID string, attempts int) {
	for attempt := 2; attempt <= attempts; attempt++ {
		o.sink.Emit(Event{
			RequestID: requestID,
			Kind:      EventRetryAttempted,
			Model:     modelID,
			Attempt:   attempt,
		})
	}
}

func (o *Orchestrator) enterStage(requestID string, stage Stage) {
	o.sink.Emit(Event{RequestID: requestID, Kind: EventStageEntered, Stage: stage})
}

func (o *Orchestrator) finish(requestID string, terminal Stage, confidence float64) {
	o.enterStage(requestID, terminal)
	o.sink.Emit(Event{
		RequestID:  requestID,
		Kind:       EventFinished,
		Stage:      terminal,
		Confidence: confidence,
	})
}

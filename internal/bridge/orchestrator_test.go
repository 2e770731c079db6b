package bridge

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/traylinx/visionbridge/internal/imaging"
	"github.com/traylinx/visionbridge/internal/registry"
	"github.com/traylinx/visionbridge/internal/router"
	"github.com/traylinx/visionbridge/internal/transform"
	"github.com/traylinx/visionbridge/internal/upstream"
)

// recordingSink captures events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Emit(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) kinds() []EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EventKind, len(s.events))
	for i, e := range s.events {
		out[i] = e.Kind
	}
	return out
}

func (s *recordingSink) count(kind EventKind) int {
	n := 0
	for _, k := range s.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

func pngDataURL(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 30, B: 30, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func gifDataURL(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 30, G: 30, B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, img, nil))
	return "data:image/gif;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func testPolicy() imaging.Policy {
	return imaging.Policy{
		MaxBytes:     1 << 20,
		MaxDimension: 2048,
		Quality:      85,
		FetchTimeout: 5 * time.Second,
	}
}

func newOrchestrator(t *testing.T, handler http.HandlerFunc) (*Orchestrator, *recordingSink) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := upstream.NewClient(srv.URL, "test-key",
		upstream.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond},
		upstream.NewBreakerGroup(upstream.BreakerPolicy{FailureThreshold: 10, RecoveryTimeout: time.Minute}),
		upstream.WithSleep(func(ctx context.Context, d time.Duration) error { return nil }),
	)

	sink := &recordingSink{}
	o := New(
		imaging.NewNormalizer(http.DefaultClient),
		router.NewSelector(registry.NewDefaultRegistry()),
		client,
		transform.NewNormalizer(0),
		testPolicy(),
		sink,
	)
	return o, sink
}

func TestHandleEndToEnd(t *testing.T) {
	var gotModel string
	o, sink := newOrchestrator(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotModel = gjson.GetBytes(body, "model").String()

		// The image reaches the provider as a self-contained data URI.
		imgURL := gjson.GetBytes(body, "messages.0.content.1.image_url.url").String()
		assert.Contains(t, imgURL, "data:image/png;base64,")

		w.Write([]byte(`{
			"choices":[{"message":{"content":"The image is solid red."},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":90,"completion_tokens":6,"total_tokens":96}
		}`))
	})

	resp, err := o.Handle(context.Background(), &ToolInvocation{
		ToolName: "describe",
		Arguments: Arguments{
			Prompt: "what color?",
			Image:  pngDataURL(t, 10, 10),
		},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, resp.TextBody)
	assert.Equal(t, gotModel, resp.ModelUsed)
	assert.Equal(t, 96, resp.TokensUsed)
	assert.False(t, resp.Partial)

	// With an image in play, selection lands on an image-capable model
	// with high confidence.
	var selected Event
	for _, e := range sink.events {
		if e.Kind == EventModelSelected {
			selected = e
		}
	}
	require.NotEmpty(t, selected.Model)
	assert.Equal(t, resp.ModelUsed, selected.Model)
	assert.GreaterOrEqual(t, selected.Confidence, 0.8)

	assert.Equal(t, 1, sink.count(EventFinished))
}

func TestHandleStageOrdering(t *testing.T) {
	o, sink := newOrchestrator(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"},"finish_reason":"stop"}]}`))
	})

	_, err := o.Handle(context.Background(), &ToolInvocation{
		ToolName:  "describe",
		Arguments: Arguments{Image: pngDataURL(t, 4, 4)},
	})
	require.NoError(t, err)

	var stages []Stage
	for _, e := range sink.events {
		if e.Kind == EventStageEntered {
			stages = append(stages, e.Stage)
		}
	}
	assert.Equal(t, []Stage{StageNormalizing, StageSelecting, StageInvoking, StageTransforming, StageDone}, stages)
}

func TestHandleUnknownTool(t *testing.T) {
	o, _ := newOrchestrator(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no upstream call expected")
	})

	_, err := o.Handle(context.Background(), &ToolInvocation{ToolName: "translate"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownTool)

	var pe *PipelineError
	require.ErrorAs(t, err, &pe)
}

func TestHandleBadImageIsTerminal(t *testing.T) {
	o, sink := newOrchestrator(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no upstream call expected")
	})

	_, err := o.Handle(context.Background(), &ToolInvocation{
		ToolName:  "describe",
		Arguments: Arguments{Image: "ftp://example.com/cat.png"},
	})
	require.Error(t, err)

	var pe *PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, StageNormalizing, pe.Stage)
	assert.Equal(t, imaging.FailureInvalidInput, imaging.KindOf(pe.Err))

	// No selection happens for an unusable input.
	assert.Equal(t, 0, sink.count(EventModelSelected))
}

func TestHandleMissingImage(t *testing.T) {
	o, _ := newOrchestrator(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no upstream call expected")
	})

	_, err := o.Handle(context.Background(), &ToolInvocation{ToolName: "ocr"})
	require.Error(t, err)

	var pe *PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, StageNormalizing, pe.Stage)
}

func TestHandleFallbackOnUpstreamRejection(t *testing.T) {
	var models []string
	o, sink := newOrchestrator(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		model := gjson.GetBytes(body, "model").String()
		models = append(models, model)
		if len(models) == 1 {
			// Permanent rejection of the first choice.
			http.Error(w, `{"error":{"message":"model not available"}}`, http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"from fallback"},"finish_reason":"stop"}]}`))
	})

	resp, err := o.Handle(context.Background(), &ToolInvocation{
		ToolName: "describe",
		Arguments: Arguments{
			Image:           pngDataURL(t, 8, 8),
			FallbackAllowed: true,
		},
	})
	require.NoError(t, err)

	require.Len(t, models, 2)
	assert.NotEqual(t, models[0], models[1], "a rejected model must not be retried")
	assert.Equal(t, models[1], resp.ModelUsed)
	assert.Equal(t, "from fallback", resp.TextBody)
	assert.Equal(t, 1, sink.count(EventFallbackAdvanced))
}

func TestHandleNoFallbackWhenDisallowed(t *testing.T) {
	calls := 0
	o, _ := newOrchestrator(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, `{"error":{"message":"bad key"}}`, http.StatusUnauthorized)
	})

	_, err := o.Handle(context.Background(), &ToolInvocation{
		ToolName:  "describe",
		Arguments: Arguments{Image: pngDataURL(t, 8, 8)},
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	var pe *PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, StageInvoking, pe.Stage)

	var ue *upstream.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, upstream.KindAuth, ue.Kind)
}

func TestHandleFallbackExhaustion(t *testing.T) {
	o, _ := newOrchestrator(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"down"}}`, http.StatusNotFound)
	})

	_, err := o.Handle(context.Background(), &ToolInvocation{
		ToolName: "describe",
		Arguments: Arguments{
			Image:           pngDataURL(t, 8, 8),
			FallbackAllowed: true,
		},
	})
	require.Error(t, err)

	// Every candidate was tried once, then selection ran dry.
	var pe *PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, StageSelecting, pe.Stage)
	assert.ErrorIs(t, err, router.ErrNoCandidates)
}

func TestHandleTransformFailureDegrades(t *testing.T) {
	o, _ := newOrchestrator(t, func(w http.ResponseWriter, r *http.Request) {
		// Well-formed HTTP, useless payload.
		w.Write([]byte(`{"choices":[{"message":{"content":""}}]}`))
	})

	resp, err := o.Handle(context.Background(), &ToolInvocation{
		ToolName:  "describe",
		Arguments: Arguments{Image: pngDataURL(t, 8, 8)},
	})
	require.NoError(t, err, "a transform failure degrades, it does not propagate")
	assert.Zero(t, resp.Confidence)
	assert.NotEmpty(t, resp.TextBody)
	assert.NotEmpty(t, resp.ModelUsed)
}

func TestHandlePreferredModelPinned(t *testing.T) {
	o, sink := newOrchestrator(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "llava:13b", gjson.GetBytes(body, "model").String())
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"},"finish_reason":"stop"}]}`))
	})

	resp, err := o.Handle(context.Background(), &ToolInvocation{
		ToolName: "describe",
		Arguments: Arguments{
			Image:          pngDataURL(t, 8, 8),
			PreferredModel: "llava:13b",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "llava:13b", resp.ModelUsed)

	for _, e := range sink.events {
		if e.Kind == EventModelSelected {
			assert.Equal(t, 1.0, e.Confidence)
		}
	}
}

func TestHandleImageFormatDrivesSelection(t *testing.T) {
	var gotModel string
	o, _ := newOrchestrator(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotModel = gjson.GetBytes(body, "model").String()
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"},"finish_reason":"stop"}]}`))
	})

	// llava:13b only accepts png and jpeg; a GIF payload disqualifies the
	// preferred model and selection falls through to a GIF-capable one.
	resp, err := o.Handle(context.Background(), &ToolInvocation{
		ToolName: "describe",
		Arguments: Arguments{
			Image:          gifDataURL(t, 8, 8),
			PreferredModel: "llava:13b",
		},
	})
	require.NoError(t, err)

	assert.NotEqual(t, "llava:13b", resp.ModelUsed)
	assert.Equal(t, "gpt-4o", gotModel)
	capability := registry.NewDefaultRegistry().Get(resp.ModelUsed)
	require.NotNil(t, capability)
	assert.True(t, capability.SupportsFormat("gif"))
}

func TestHandleOCRAttachesBlocks(t *testing.T) {
	o, _ := newOrchestrator(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"RECEIPT\nTotal: $5"},"finish_reason":"stop"}]}`))
	})

	resp, err := o.Handle(context.Background(), &ToolInvocation{
		ToolName:  "ocr",
		Arguments: Arguments{Image: pngDataURL(t, 8, 8)},
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Metadata)
	require.Len(t, resp.Metadata.OCRBlocks, 2)
	assert.Equal(t, "RECEIPT", resp.Metadata.OCRBlocks[0].Text)
}

func TestHandleRetryEventsEmitted(t *testing.T) {
	calls := 0
	o, sink := newOrchestrator(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "flaky", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"},"finish_reason":"stop"}]}`))
	})

	_, err := o.Handle(context.Background(), &ToolInvocation{
		ToolName:  "describe",
		Arguments: Arguments{Image: pngDataURL(t, 8, 8)},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, sink.count(EventRetryAttempted))
}

func TestHandleStream(t *testing.T) {
	o, _ := newOrchestrator(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hello\"}}]}\n\n")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\" world\"}}]}\n\n")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\".\"},\"finish_reason\":\"stop\"}]}\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
	})

	var partials []*transform.BridgeResponse
	final, err := o.HandleStream(context.Background(), &ToolInvocation{
		ToolName:  "describe",
		Arguments: Arguments{Image: pngDataURL(t, 8, 8)},
	}, func(p *transform.BridgeResponse) { partials = append(partials, p) })
	require.NoError(t, err)

	assert.False(t, final.Partial)
	assert.Equal(t, "Hello world.", final.TextBody)
	for _, p := range partials {
		assert.True(t, p.Partial)
	}
}

func TestHandleBreakerOpenAdvancesFallback(t *testing.T) {
	// Threshold 1: the first 503 opens the breaker, so the second model's
	// attempt is rejected without a network call.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	client := upstream.NewClient(srv.URL, "",
		upstream.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond},
		upstream.NewBreakerGroup(upstream.BreakerPolicy{FailureThreshold: 1, RecoveryTimeout: time.Minute}),
		upstream.WithSleep(func(ctx context.Context, d time.Duration) error { return nil }),
	)
	sink := &recordingSink{}
	o := New(
		imaging.NewNormalizer(http.DefaultClient),
		router.NewSelector(registry.NewDefaultRegistry()),
		client,
		transform.NewNormalizer(0),
		testPolicy(),
		sink,
	)

	_, err := o.Handle(context.Background(), &ToolInvocation{
		ToolName: "describe",
		Arguments: Arguments{
			Image:           pngDataURL(t, 8, 8),
			FallbackAllowed: true,
		},
	})
	require.Error(t, err)

	// Breaker-open rejections still walk the fallback chain to exhaustion.
	assert.ErrorIs(t, err, router.ErrNoCandidates)
	assert.GreaterOrEqual(t, sink.count(EventBreakerTripped), 1)
}

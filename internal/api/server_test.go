package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/traylinx/visionbridge/internal/bridge"
	"github.com/traylinx/visionbridge/internal/imaging"
	"github.com/traylinx/visionbridge/internal/registry"
	"github.com/traylinx/visionbridge/internal/router"
	"github.com/traylinx/visionbridge/internal/transform"
	"github.com/traylinx/visionbridge/internal/upstream"
)

func pngDataURL(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			img.Set(x, y, color.RGBA{B: 255, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func newTestServer(t *testing.T, providerHandler http.HandlerFunc) *httptest.Server {
	t.Helper()
	provider := httptest.NewServer(providerHandler)
	t.Cleanup(provider.Close)

	breakers := upstream.NewBreakerGroup(upstream.BreakerPolicy{FailureThreshold: 5, RecoveryTimeout: time.Minute})
	client := upstream.NewClient(provider.URL, "test-key",
		upstream.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond},
		breakers,
		upstream.WithSleep(func(ctx context.Context, d time.Duration) error { return nil }),
	)

	reg := registry.NewDefaultRegistry()
	orch := bridge.New(
		imaging.NewNormalizer(http.DefaultClient),
		router.NewSelector(reg),
		client,
		transform.NewNormalizer(0),
		imaging.Policy{MaxBytes: 1 << 20, MaxDimension: 2048, Quality: 85, FetchTimeout: 5 * time.Second},
		bridge.NopSink{},
	)

	srv := httptest.NewServer(NewServer(orch, reg, breakers, 30*time.Second, false).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url, body string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(raw)
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {})

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	raw, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "ok", gjson.GetBytes(raw, "status").String())
}

func TestModelsEndpoint(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {})

	resp, err := http.Get(srv.URL + "/v1/models")
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	models := gjson.GetBytes(raw, "models")
	assert.True(t, models.IsArray())
	assert.NotEmpty(t, models.Array())
}

func TestBreakersEndpoint(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {})

	resp, err := http.Get(srv.URL + "/v1/breakers")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestToolEndpointDescribe(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"A blue square."},"finish_reason":"stop"}],"usage":{"total_tokens":50}}`))
	})

	resp, body := postJSON(t, srv.URL+"/v1/tools/describe",
		`{"prompt":"what is this?","image":"`+pngDataURL(t)+`"}`)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "A blue square.", gjson.Get(body, "textBody").String())
	assert.NotEmpty(t, gjson.Get(body, "modelUsed").String())
	assert.Greater(t, gjson.Get(body, "confidence").Float(), 0.0)
}

func TestToolEndpointUnknownTool(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {})

	resp, _ := postJSON(t, srv.URL+"/v1/tools/translate",
		`{"image":"`+pngDataURL(t)+`"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestToolEndpointBadImage(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no upstream call expected")
	})

	resp, body := postJSON(t, srv.URL+"/v1/tools/describe",
		`{"image":"ftp://example.com/x.png"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, gjson.Get(body, "error.message").String())
}

func TestToolEndpointMalformedBody(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {})

	resp, _ := postJSON(t, srv.URL+"/v1/tools/describe", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestToolEndpointUpstreamFailure(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad key"}}`, http.StatusUnauthorized)
	})

	resp, _ := postJSON(t, srv.URL+"/v1/tools/describe",
		`{"image":"`+pngDataURL(t)+`"}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestToolEndpointStreaming(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"A blue\"}}]}\n\n")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\" square.\"},\"finish_reason\":\"stop\"}]}\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
	})

	resp, err := http.Post(srv.URL+"/v1/tools/describe", "application/json",
		strings.NewReader(`{"image":"`+pngDataURL(t)+`","stream":true}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	events := strings.Split(strings.TrimSpace(string(raw)), "\n\n")
	require.GreaterOrEqual(t, len(events), 2)
	assert.Equal(t, "data: [DONE]", events[len(events)-1])

	finalEvent := strings.TrimPrefix(events[len(events)-2], "data: ")
	assert.Equal(t, "A blue square.", gjson.Get(finalEvent, "textBody").String())
	assert.False(t, gjson.Get(finalEvent, "partial").Bool())
}

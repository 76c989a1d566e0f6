package gemini

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/cuongbtq/panel-one/shared/logger"
)

func TestImageRequestConfig(t *testing.T) {
	assert.Nil(t, ImageRequestConfig("", ""))

	cfg := ImageRequestConfig("16:9", "2K")
	require.NotNil(t, cfg)
	require.NotNil(t, cfg.ImageConfig)
	assert.Equal(t, "16:9", cfg.ImageConfig.AspectRatio)
	require.NotNil(t, cfg.HTTPOptions)
	assert.Equal(t, map[string]any{
		"generationConfig": map[string]any{
			"imageConfig": map[string]any{"imageSize": "2K"},
		},
	}, cfg.HTTPOptions.ExtraBody)

	ratioOnly := ImageRequestConfig("1:1", "")
	require.NotNil(t, ratioOnly)
	assert.Nil(t, ratioOnly.HTTPOptions)
}

// captureServer answers every generateContent call with one inline PNG and keeps the request bodies
func captureServer(t *testing.T) (*httptest.Server, func() []map[string]any) {
	t.Helper()

	var bodies []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var body map[string]any
		require.NoError(t, json.Unmarshal(raw, &body))
		bodies = append(bodies, body)

		w.Header().Set("Content-Type", "application/json")
		if strings.Contains(r.URL.Path, "image") {
			_, _ = io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"inlineData":{"mimeType":"image/png","data":"aGk="}}]}}]}`)
			return
		}
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"A cat finds a hat."}]}}]}`)
	}))
	t.Cleanup(srv.Close)

	return srv, func() []map[string]any { return bodies }
}

func TestClient_ImageCallCarriesImageConfig(t *testing.T) {
	srv, bodies := captureServer(t)
	ctx := context.Background()

	sdk, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      "test-key",
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: srv.URL},
	})
	require.NoError(t, err)

	c := &Client{
		models:      sdk.Models,
		storyModel:  "story-model",
		imageModel:  "image-model",
		aspectRatio: "16:9",
		imageSize:   "2K",
		callTimeout: 5 * time.Second,
		logger:      logger.NewNop(),
	}

	story, err := c.GenerateStory(ctx, "tell", []Image{{Data: []byte("png"), MIMEType: "image/png"}})
	require.NoError(t, err)
	assert.Equal(t, "A cat finds a hat.", story)

	payload, err := c.GenerateImage(ctx, "draw", []Image{{Data: []byte("png"), MIMEType: "image/png"}})
	require.NoError(t, err)
	assert.Equal(t, PayloadBinary, payload.Kind)

	got := bodies()
	require.Len(t, got, 2)

	_, storyHasConfig := got[0]["generationConfig"]
	assert.False(t, storyHasConfig)

	genCfg, ok := got[1]["generationConfig"].(map[string]any)
	require.True(t, ok, "image request has no generationConfig: %v", got[1])
	imageCfg, ok := genCfg["imageConfig"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "16:9", imageCfg["aspectRatio"])
	assert.Equal(t, "2K", imageCfg["imageSize"])
}

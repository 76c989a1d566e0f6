// Package gemini adapts the Google Gen AI SDK to the two capabilities the pipeline needs:
// story text from images and a rendered panel from images plus text.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

// ErrEmptyStory is returned when the story model answers without any text
var ErrEmptyStory = errors.New("story generation returned no text")

// Config holds model selection and call budgets
type Config struct {
	APIKey      string
	StoryModel  string
	ImageModel  string
	CallTimeout time.Duration

	// AspectRatio and ImageSize shape the rendered panel, e.g. "16:9" and "2K"
	AspectRatio string
	ImageSize   string
}

// Image is an input image handed to the models
type Image struct {
	Data     []byte
	MIMEType string
}

// Client calls the Gemini API
type Client struct {
	models      *genai.Models
	storyModel  string
	imageModel  string
	aspectRatio string
	imageSize   string
	callTimeout time.Duration
	logger      *slog.Logger
}

// NewClient creates a Gemini API client
func NewClient(ctx context.Context, config *Config, logger *slog.Logger) (*Client, error) {
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	logger.Info("Gen AI client initialized",
		slog.String("story_model", config.StoryModel),
		slog.String("image_model", config.ImageModel),
		slog.String("aspect_ratio", config.AspectRatio),
		slog.String("image_size", config.ImageSize),
	)

	return &Client{
		models:      c.Models,
		storyModel:  config.StoryModel,
		imageModel:  config.ImageModel,
		aspectRatio: config.AspectRatio,
		imageSize:   config.ImageSize,
		callTimeout: config.CallTimeout,
		logger:      logger,
	}, nil
}

// GenerateStory asks the story model for a narrative built from prompt and images
func (c *Client) GenerateStory(ctx context.Context, prompt string, images []Image) (string, error) {
	resp, err := c.generate(ctx, c.storyModel, prompt, images, nil)
	if err != nil {
		return "", err
	}

	text := Classify(resp).Text
	if text == "" {
		return "", ErrEmptyStory
	}
	return text, nil
}

// GenerateImage asks the image model to render a panel; the caller inspects the payload kind
func (c *Client) GenerateImage(ctx context.Context, prompt string, images []Image) (Payload, error) {
	resp, err := c.generate(ctx, c.imageModel, prompt, images, ImageRequestConfig(c.aspectRatio, c.imageSize))
	if err != nil {
		return Payload{}, err
	}
	return Classify(resp), nil
}

// ImageRequestConfig builds the request options of the image call.
// The SDK types carry no image size yet, so it is merged into the request body.
// The SDK mutates the returned options, so callers build one per request.
func ImageRequestConfig(aspectRatio, imageSize string) *genai.GenerateContentConfig {
	if aspectRatio == "" && imageSize == "" {
		return nil
	}

	cfg := &genai.GenerateContentConfig{}
	if aspectRatio != "" {
		cfg.ImageConfig = &genai.ImageConfig{AspectRatio: aspectRatio}
	}
	if imageSize != "" {
		cfg.HTTPOptions = &genai.HTTPOptions{
			ExtraBody: map[string]any{
				"generationConfig": map[string]any{
					"imageConfig": map[string]any{"imageSize": imageSize},
				},
			},
		}
	}
	return cfg
}

func (c *Client) generate(ctx context.Context, model, prompt string, images []Image, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}

	reqID := uuid.New().String()
	start := time.Now()

	c.logger.Info("genai.request",
		slog.String("req_id", reqID),
		slog.String("model", model),
		slog.Int("images", len(images)),
		slog.Int("prompt_chars", len(prompt)),
	)

	resp, err := c.models.GenerateContent(ctx, model, BuildContents(prompt, images), config)
	if err != nil {
		c.logger.Error("genai.error",
			slog.String("req_id", reqID),
			slog.String("model", model),
			slog.Any("error", err),
			slog.Int64("elapsed_ms", time.Since(start).Milliseconds()),
		)
		return nil, fmt.Errorf("%s call failed: %w", model, err)
	}

	c.logger.Info("genai.response",
		slog.String("req_id", reqID),
		slog.String("model", model),
		slog.Int("candidates", len(resp.Candidates)),
		slog.Int64("elapsed_ms", time.Since(start).Milliseconds()),
	)

	return resp, nil
}

// BuildContents places the prompt first, followed by the images in order
func BuildContents(prompt string, images []Image) []*genai.Content {
	parts := make([]*genai.Part, 0, len(images)+1)
	parts = append(parts, &genai.Part{Text: prompt})
	for _, img := range images {
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{Data: img.Data, MIMEType: img.MIMEType},
		})
	}
	return []*genai.Content{{Role: "user", Parts: parts}}
}

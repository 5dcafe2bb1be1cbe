package chat

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/genai"
)

// Generation parameters for every request.
const maxOutputTokens = 8192

// Streamer produces a live delta stream for a generation request. The chunk
// channel is closed when the stream ends; a mid-stream failure is delivered on
// the error channel and ends the stream.
type Streamer interface {
	StreamChat(ctx context.Context, req Request) (<-chan StreamChunk, <-chan error)
}

// Client wraps the Gemini API client.
type Client struct {
	client *genai.Client
	logger *slog.Logger
}

// NewClient creates a Gemini client authenticated with apiKey.
func NewClient(ctx context.Context, log *slog.Logger, apiKey string) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &Client{
		client: client,
		logger: log.With(slog.String("service", "chat")),
	}, nil
}

// StreamChat starts a streaming generation call and forwards text deltas on
// the returned chunk channel.
func (c *Client) StreamChat(ctx context.Context, req Request) (<-chan StreamChunk, <-chan error) {
	chunkChan := make(chan StreamChunk, 10)
	errChan := make(chan error, 1)

	contents := toContents(req.Turns)
	config := generationConfig(req.SystemPrompt)

	go func() {
		defer close(chunkChan)
		defer close(errChan)

		for resp, err := range c.client.Models.GenerateContentStream(ctx, req.Model, contents, config) {
			if err != nil {
				errChan <- fmt.Errorf("generate content: %w", err)
				return
			}
			delta := resp.Text()
			if delta == "" {
				continue
			}
			select {
			case chunkChan <- StreamChunk{Delta: delta}:
			case <-ctx.Done():
				errChan <- ctx.Err()
				return
			}
		}
	}()

	return chunkChan, errChan
}

func generationConfig(systemPrompt string) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](1.0),
		TopP:            genai.Ptr[float32](0.95),
		TopK:            genai.Ptr[float32](40),
		MaxOutputTokens: maxOutputTokens,
		SafetySettings:  permissiveSafetySettings(),
	}
	if systemPrompt != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{genai.NewPartFromText(systemPrompt)},
		}
	}
	return config
}

func permissiveSafetySettings() []*genai.SafetySetting {
	categories := []genai.HarmCategory{
		genai.HarmCategoryHarassment,
		genai.HarmCategoryHateSpeech,
		genai.HarmCategorySexuallyExplicit,
		genai.HarmCategoryDangerousContent,
	}
	settings := make([]*genai.SafetySetting, 0, len(categories))
	for _, category := range categories {
		settings = append(settings, &genai.SafetySetting{
			Category:  category,
			Threshold: genai.HarmBlockThresholdBlockNone,
		})
	}
	return settings
}

func toContents(turns []Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(turns))
	for _, turn := range turns {
		content := &genai.Content{Role: turn.Role}
		for _, part := range turn.Parts {
			if part.Text != "" {
				content.Parts = append(content.Parts, genai.NewPartFromText(part.Text))
			}
			if part.Image != nil {
				content.Parts = append(content.Parts, genai.NewPartFromBytes(part.Image.Data, part.Image.MIMEType))
			}
		}
		if len(content.Parts) > 0 {
			contents = append(contents, content)
		}
	}
	return contents
}

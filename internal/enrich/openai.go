package enrich

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// TextModel condenses extracted text into a short description
type TextModel interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// VisionModel describes an image directly
type VisionModel interface {
	DescribeImage(ctx context.Context, data []byte, mime string) (string, error)
}

const (
	summarizePrompt = "You condense captured notes. Reply with a short, human-readable description " +
		"(at most three sentences) of the text the user sends. Reply with the description only."
	describeImagePrompt = "Describe this image for a personal note archive. Transcribe any visible text " +
		"verbatim, then summarise what the image shows. Reply with plain text only."
)

// OpenAI talks to any OpenAI-compatible chat completion endpoint
type OpenAI struct {
	client      *openai.Client
	textModel   string
	visionModel string
	maxTokens   int
}

// OpenAIConfig configures the client
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	TextModel   string
	VisionModel string
	Timeout     time.Duration
}

// NewOpenAI creates a client. A missing key is only accepted for custom
// endpoints, which are often local servers without auth.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	if cfg.Timeout > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &OpenAI{
		client:      openai.NewClientWithConfig(clientConfig),
		textModel:   cfg.TextModel,
		visionModel: cfg.VisionModel,
		maxTokens:   512,
	}, nil
}

// HasTextModel reports whether summaries are configured
func (o *OpenAI) HasTextModel() bool {
	return o != nil && o.textModel != ""
}

// HasVisionModel reports whether image description is configured
func (o *OpenAI) HasVisionModel() bool {
	return o != nil && o.visionModel != ""
}

// Summarize asks the text model for a short description of text
func (o *OpenAI) Summarize(ctx context.Context, text string) (string, error) {
	if o.textModel == "" {
		return "", fmt.Errorf("no text model configured")
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.textModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: summarizePrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		MaxTokens:   o.maxTokens,
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	return firstChoice(resp)
}

// DescribeImage sends the image inline as a data URL to the vision model
func (o *OpenAI) DescribeImage(ctx context.Context, data []byte, mime string) (string, error) {
	if o.visionModel == "" {
		return "", fmt.Errorf("no vision model configured")
	}
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	dataURL := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.visionModel,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: describeImagePrompt},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
						URL:    dataURL,
						Detail: openai.ImageURLDetailAuto,
					}},
				},
			},
		},
		MaxTokens: o.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("vision completion: %w", err)
	}
	return firstChoice(resp)
}

func firstChoice(resp openai.ChatCompletionResponse) (string, error) {
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response choices returned")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("empty response")
	}
	return text, nil
}

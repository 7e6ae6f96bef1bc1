package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider implements Provider using the Anthropic SDK.
type AnthropicProvider struct {
	settings
	client anthropic.Client
}

// NewAnthropicProvider creates a new Anthropic provider. The SDK's own retry
// loop is disabled; retries belong to the orchestrator.
func NewAnthropicProvider(cfg Config) *AnthropicProvider {
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	return &AnthropicProvider{
		settings: newSettings(cfg, "claude-3-5-haiku-20241022"),
		client:   anthropic.NewClient(opts...),
	}
}

func (a *AnthropicProvider) Name() string { return "anthropic" }

// Complete calls the Messages API.
func (a *AnthropicProvider) Complete(ctx context.Context, prompt string, images []Image) (string, error) {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(images)+1)
	for _, img := range images {
		blocks = append(blocks, anthropic.NewImageBlockBase64(img.MimeType, base64.StdEncoding.EncodeToString(img.Data)))
	}
	blocks = append(blocks, anthropic.NewTextBlock(prompt))

	apiKey, err := a.nextKey()
	if err != nil {
		return "", err
	}

	response, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   int64(a.maxTokens),
		Temperature: anthropic.Float(a.temperature),
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
	}, option.WithAPIKey(apiKey))
	if err != nil {
		err = fmt.Errorf("anthropic: messages: %w", err)
		a.release(apiKey, err)
		return "", err
	}

	if response.StopReason == "refusal" {
		return "", &Error{Kind: KindSafetyBlocked, Err: fmt.Errorf("anthropic: response refused by content policy")}
	}

	var text strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return text.String(), nil
}

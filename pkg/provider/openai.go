package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// OpenAIProvider implements Provider for OpenAI's Chat Completions API.
type OpenAIProvider struct {
	settings
	client  *http.Client
	baseURL string
}

// NewOpenAIProvider creates a new OpenAI provider.
func NewOpenAIProvider(cfg Config) *OpenAIProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIProvider{
		settings: newSettings(cfg, "gpt-4o-mini"),
		client:   &http.Client{Timeout: cfg.Timeout},
		baseURL:  baseURL,
	}
}

func (o *OpenAIProvider) Name() string { return "openai" }

// ---------------------------------------------------------------------------
// Request / Response types for OpenAI Chat Completions
// ---------------------------------------------------------------------------

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type openAIMessage struct {
	Role    string       `json:"role"`
	Content []openAIPart `json:"content"`
}

type openAIPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Complete performs a chat completion with an optional set of images.
func (o *OpenAIProvider) Complete(ctx context.Context, prompt string, images []Image) (string, error) {
	parts := []openAIPart{{Type: "text", Text: prompt}}
	for _, img := range images {
		parts = append(parts, openAIPart{
			Type:     "image_url",
			ImageURL: &openAIImageURL{URL: "data:" + img.MimeType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)},
		})
	}

	body := openAIRequest{
		Model:       o.model,
		Messages:    []openAIMessage{{Role: "user", Content: parts}},
		Temperature: o.temperature,
		MaxTokens:   o.maxTokens,
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("openai: marshal request: %w", err)
	}

	apiKey, err := o.nextKey()
	if err != nil {
		return "", err
	}

	text, err := o.do(ctx, apiKey, jsonBody)
	o.release(apiKey, err)
	return text, err
}

func (o *OpenAIProvider) do(ctx context.Context, apiKey string, jsonBody []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("openai: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	httpResp, err := o.client.Do(httpReq)
	if err != nil {
		return "", &Error{Kind: KindNetwork, Err: fmt.Errorf("openai: do request: %w", err)}
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return "", fmt.Errorf("openai: API error %d: %s", httpResp.StatusCode, string(respBody))
	}

	var oaiResp openAIResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&oaiResp); err != nil {
		return "", fmt.Errorf("openai: decode response: %w", err)
	}

	if len(oaiResp.Choices) == 0 {
		return "", nil
	}
	choice := oaiResp.Choices[0]
	if choice.FinishReason == "content_filter" {
		return "", &Error{Kind: KindSafetyBlocked, Err: fmt.Errorf("openai: response blocked by content_filter")}
	}
	return choice.Message.Content, nil
}

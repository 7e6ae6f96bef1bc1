package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIProviderComplete(t *testing.T) {
	var got openAIRequest
	var auth []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		mu.Lock()
		auth = append(auth, r.Header.Get("Authorization"))
		mu.Unlock()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"hello"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(Config{APIKeys: []string{"k1", "k2"}, Model: "gpt-4o", Models: []string{"gpt-4o-mini"}, BaseURL: srv.URL})
	h := NewHandle(p)
	temp := 0.2

	res, err := h.Complete(context.Background(), Call{
		Prompt:      "describe",
		Images:      []Image{{MimeType: "image/png", Data: []byte("png")}},
		MaxTokens:   64,
		Temperature: &temp,
	})
	require.NoError(t, err)
	assert.Equal(t, Result{Content: "hello", Provider: "openai", Model: "gpt-4o"}, res)

	assert.Equal(t, "gpt-4o", got.Model)
	assert.Equal(t, 64, got.MaxTokens)
	assert.Equal(t, 0.2, got.Temperature)
	require.Len(t, got.Messages, 1)
	require.Len(t, got.Messages[0].Content, 2)
	assert.Equal(t, "data:image/png;base64,cG5n", got.Messages[0].Content[1].ImageURL.URL)

	_, err = h.Complete(context.Background(), Call{Prompt: "again"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Bearer k1", "Bearer k2"}, auth)
	assert.Equal(t, 4096, p.MaxTokens())
	assert.Equal(t, []string{"gpt-4o-mini"}, p.AvailableModels())
}

func TestOpenAIProviderRateLimitParksKey(t *testing.T) {
	var keys []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		keys = append(keys, key)
		if key == "k1" {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = io.WriteString(w, `{"error":"rate limit"}`)
			return
		}
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(Config{APIKeys: []string{"k1", "k2"}, BaseURL: srv.URL})

	_, err := p.Complete(context.Background(), "p", nil)
	require.Error(t, err)
	assert.Equal(t, KindQuota, Classify(err))

	for i := 0; i < 2; i++ {
		text, err := p.Complete(context.Background(), "p", nil)
		require.NoError(t, err)
		assert.Equal(t, "ok", text)
	}
	assert.Equal(t, []string{"k1", "k2", "k2"}, keys)
}

func TestOpenAIProviderContentFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":""},"finish_reason":"content_filter"}]}`)
	}))
	defer srv.Close()

	_, err := NewOpenAIProvider(Config{APIKeys: []string{"k"}, BaseURL: srv.URL}).Complete(context.Background(), "p", nil)
	assert.Equal(t, KindSafetyBlocked, Classify(err))
}

func TestGeminiProviderComplete(t *testing.T) {
	var got geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-pro:generateContent", r.URL.Path)
		assert.Equal(t, "secret", r.URL.Query().Get("key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"a"},{"text":"b"}]},"finishReason":"STOP"}]}`)
	}))
	defer srv.Close()

	p := NewGeminiProvider(Config{APIKeys: []string{"secret"}, Model: "gemini-pro", BaseURL: srv.URL})
	text, err := p.Complete(context.Background(), "hi", []Image{{MimeType: "image/jpeg", Data: []byte("jpg")}})
	require.NoError(t, err)
	assert.Equal(t, "ab", text)

	require.Len(t, got.Contents, 1)
	require.Len(t, got.Contents[0].Parts, 2)
	assert.Equal(t, "hi", got.Contents[0].Parts[0].Text)
	assert.Equal(t, "image/jpeg", got.Contents[0].Parts[1].InlineData.MimeType)
	assert.Equal(t, 4096, got.GenerationConfig.MaxOutputTokens)
}

func TestGeminiProviderErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   Kind
	}{
		{"quota", http.StatusTooManyRequests, `{"error":{"status":"RESOURCE_EXHAUSTED"}}`, KindQuota},
		{"auth", http.StatusUnauthorized, `{"error":{"message":"API key not valid"}}`, KindAuth},
		{"blocked prompt", http.StatusOK, `{"promptFeedback":{"blockReason":"SAFETY"}}`, KindSafetyBlocked},
		{"server", http.StatusInternalServerError, `{"error":"internal"}`, KindGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := NewGeminiProvider(Config{APIKeys: []string{"k"}, BaseURL: srv.URL}).Complete(context.Background(), "p", nil)
			require.Error(t, err)
			assert.Equal(t, tt.want, Classify(err))
		})
	}
}

func TestGeminiProviderEmptyCandidatesIsEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"candidates":[]}`)
	}))
	defer srv.Close()

	h := NewHandle(NewGeminiProvider(Config{APIKeys: []string{"k"}, BaseURL: srv.URL}))
	_, err := h.Complete(context.Background(), Call{Prompt: "p"})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestAnthropicProviderComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "ak", r.Header.Get("X-Api-Key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-3-5-haiku-20241022",`+
			`"content":[{"type":"text","text":"from claude"}],"stop_reason":"end_turn","stop_sequence":null,`+
			`"usage":{"input_tokens":3,"output_tokens":2}}`)
	}))
	defer srv.Close()

	p := NewAnthropicProvider(Config{APIKeys: []string{"ak"}, BaseURL: srv.URL})
	assert.Equal(t, "claude-3-5-haiku-20241022", p.Model())

	text, err := p.Complete(context.Background(), "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "from claude", text)
}

func TestAdapterCapabilities(t *testing.T) {
	for _, p := range []Provider{
		NewOpenAIProvider(Config{}),
		NewGeminiProvider(Config{}),
		NewAnthropicProvider(Config{}),
	} {
		assert.Equal(t, Capabilities{Multimodal: true, ModelOverride: true, ParameterOverride: true, ModelListing: true}, CapabilitiesOf(p), p.Name())
	}
}

func TestAdaptersSendExplicitZeroTemperature(t *testing.T) {
	tests := []struct {
		name string
		new  func(Config) Provider
		// field holding temperature in the decoded body
		temperature func(body map[string]any) (any, bool)
	}{
		{
			name: "openai",
			new:  func(cfg Config) Provider { return NewOpenAIProvider(cfg) },
			temperature: func(body map[string]any) (any, bool) {
				v, ok := body["temperature"]
				return v, ok
			},
		},
		{
			name: "gemini",
			new:  func(cfg Config) Provider { return NewGeminiProvider(cfg) },
			temperature: func(body map[string]any) (any, bool) {
				gen, _ := body["generationConfig"].(map[string]any)
				v, ok := gen["temperature"]
				return v, ok
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var bodies []map[string]any
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var body map[string]any
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				bodies = append(bodies, body)
				_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"ok"}}],"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`)
			}))
			defer srv.Close()

			configured := 0.9
			h := NewHandle(tt.new(Config{APIKeys: []string{"k"}, BaseURL: srv.URL, Temperature: &configured}))
			zero := 0.0

			_, err := h.Complete(context.Background(), Call{Prompt: "greedy", Temperature: &zero})
			require.NoError(t, err)
			_, err = h.Complete(context.Background(), Call{Prompt: "default"})
			require.NoError(t, err)

			require.Len(t, bodies, 2)
			v, ok := tt.temperature(bodies[0])
			require.True(t, ok, "temperature must be on the wire")
			assert.Equal(t, 0.0, v)
			v, ok = tt.temperature(bodies[1])
			require.True(t, ok)
			assert.Equal(t, 0.9, v)
		})
	}
}

func TestAdapterWithoutKeysIsAuthFailure(t *testing.T) {
	_, err := NewOpenAIProvider(Config{BaseURL: "http://127.0.0.1:1"}).Complete(context.Background(), "p", nil)
	require.Error(t, err)
	assert.Equal(t, KindAuth, Classify(err))
}

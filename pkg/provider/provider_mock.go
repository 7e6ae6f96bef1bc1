package provider

import (
	"context"
	"sync"
	"time"
)

// MockCall records one Complete invocation on a MockProvider.
type MockCall struct {
	Model       string
	Prompt      string
	Images      int
	MaxTokens   int
	Temperature float64
}

// MockProvider is a scripted provider for tests. Responses and errors are
// configured per model; unconfigured models return DefaultResponse.
type MockProvider struct {
	mu sync.Mutex

	name        string
	model       string
	models      []string
	maxTokens   int
	temperature float64
	multimodal  bool

	// DefaultResponse is returned for models without a scripted reply.
	DefaultResponse string

	replies map[string]string
	errs    map[string]error
	delays  map[string]time.Duration
	hook    func(call MockCall) (string, error)
	calls   []MockCall
}

// NewMockProvider creates a mock named name whose current model is model.
// Additional models are reported by AvailableModels in the given order.
func NewMockProvider(name, model string, alternates ...string) *MockProvider {
	return &MockProvider{
		name:            name,
		model:           model,
		models:          append([]string{model}, alternates...),
		maxTokens:       1024,
		temperature:     0.7,
		multimodal:      true,
		DefaultResponse: "response from " + name,
		replies:         make(map[string]string),
		errs:            make(map[string]error),
		delays:          make(map[string]time.Duration),
	}
}

// WithReply scripts the reply for model ("" applies to every model).
func (m *MockProvider) WithReply(model, text string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies[model] = text
	return m
}

// WithError scripts a failure for model ("" applies to every model).
func (m *MockProvider) WithError(model string, err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[model] = err
	return m
}

// WithDelay makes calls against model ("" for all) take d, honouring ctx.
func (m *MockProvider) WithDelay(model string, d time.Duration) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delays[model] = d
	return m
}

// WithHook replaces scripted replies with fn.
func (m *MockProvider) WithHook(fn func(call MockCall) (string, error)) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = fn
	return m
}

// TextOnly turns off multimodal support.
func (m *MockProvider) TextOnly() *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.multimodal = false
	return m
}

func (m *MockProvider) Name() string { return m.name }

func (m *MockProvider) Model() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.model
}

func (m *MockProvider) SetModel(model string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.model = model
}

func (m *MockProvider) AvailableModels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.models...)
}

func (m *MockProvider) MaxTokens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxTokens
}

func (m *MockProvider) SetMaxTokens(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxTokens = n
}

func (m *MockProvider) Temperature() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.temperature
}

func (m *MockProvider) SetTemperature(t float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.temperature = t
}

func (m *MockProvider) SupportsMultimodal() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.multimodal
}

// Complete implements Provider.
func (m *MockProvider) Complete(ctx context.Context, prompt string, images []Image) (string, error) {
	m.mu.Lock()
	call := MockCall{
		Model:       m.model,
		Prompt:      prompt,
		Images:      len(images),
		MaxTokens:   m.maxTokens,
		Temperature: m.temperature,
	}
	m.calls = append(m.calls, call)
	delay := lookup(m.delays, call.Model)
	hook := m.hook
	reply, hasReply := m.replies[call.Model]
	if !hasReply {
		reply, hasReply = m.replies[""]
	}
	err := lookup(m.errs, call.Model)
	def := m.DefaultResponse
	m.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-t.C:
		}
	}

	if hook != nil {
		return hook(call)
	}
	if err != nil {
		return "", err
	}
	if hasReply {
		return reply, nil
	}
	return def, nil
}

// Calls returns a copy of the recorded calls.
func (m *MockProvider) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

// CallCount returns the number of Complete invocations.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// CalledModels returns the model used by each call, in order.
func (m *MockProvider) CalledModels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	for i, c := range m.calls {
		out[i] = c.Model
	}
	return out
}

func lookup[V any](m map[string]V, model string) V {
	if v, ok := m[model]; ok {
		return v
	}
	return m[""]
}

// Plain hides every optional capability of p.
func Plain(p Provider) Provider { return plainProvider{p} }

type plainProvider struct{ Provider }

// Package provider defines the completion-provider capability interfaces,
// the ordered provider registry and the shared error taxonomy.
package provider

import "context"

// Image is a binary image payload sent alongside a prompt to providers that
// accept multimodal input.
type Image struct {
	MimeType string // e.g. "image/png"
	Data     []byte
}

// Result is the successful outcome of a completion attempt.
type Result struct {
	Content  string `json:"content"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// Provider is the interface every completion backend must implement.
type Provider interface {
	// Name returns the registry-unique identifier (e.g. "openai", "gemini").
	Name() string

	// Model returns the model currently used by Complete.
	Model() string

	// Complete sends the prompt (and images, if any) and returns the text.
	// The context should carry a deadline/timeout.
	Complete(ctx context.Context, prompt string, images []Image) (string, error)
}

// ModelSwitcher is implemented by providers whose active model can be changed.
type ModelSwitcher interface {
	SetModel(model string)
}

// ModelLister is implemented by providers that know their alternate models.
type ModelLister interface {
	AvailableModels() []string
}

// ParameterTuner is implemented by providers that accept per-call output
// length and sampling temperature overrides.
type ParameterTuner interface {
	MaxTokens() int
	SetMaxTokens(n int)
	Temperature() float64
	SetTemperature(t float64)
}

// Multimodal is implemented by providers that may accept image input.
type Multimodal interface {
	SupportsMultimodal() bool
}

// Capabilities summarizes which optional interfaces a provider implements.
type Capabilities struct {
	Multimodal        bool
	ModelOverride     bool
	ParameterOverride bool
	ModelListing      bool
}

// CapabilitiesOf inspects p for the optional capability interfaces.
func CapabilitiesOf(p Provider) Capabilities {
	var c Capabilities
	if m, ok := p.(Multimodal); ok {
		c.Multimodal = m.SupportsMultimodal()
	}
	_, c.ModelOverride = p.(ModelSwitcher)
	_, c.ParameterOverride = p.(ParameterTuner)
	_, c.ModelListing = p.(ModelLister)
	return c
}

// Models returns the models p can be switched to, current model first.
func Models(p Provider) []string {
	current := p.Model()
	l, ok := p.(ModelLister)
	if !ok {
		if current == "" {
			return nil
		}
		return []string{current}
	}
	models := []string{}
	if current != "" {
		models = append(models, current)
	}
	for _, m := range l.AvailableModels() {
		if m != current {
			models = append(models, m)
		}
	}
	return models
}

package provider

import (
	"errors"
	"time"

	"github.com/abdhe/llm-mediator/pkg/resilience"
)

const (
	// rateLimitCooldown is how long a key stays out of rotation after a quota error.
	rateLimitCooldown = 60 * time.Second

	defaultMaxTokens   = 4096
	defaultTemperature = 0.7
)

// Config holds the settings shared by the HTTP/SDK adapters.
type Config struct {
	APIKeys     []string
	Model       string
	Models      []string // Alternates offered for model fallback
	MaxTokens   int
	Temperature *float64 // nil means defaultTemperature
	BaseURL     string   // Overrides the vendor endpoint (tests, proxies)
	Timeout     time.Duration
}

// settings is the mutable model/parameter state embedded by the adapters.
// Access is serialized by the owning Handle.
type settings struct {
	model       string
	models      []string
	maxTokens   int
	temperature float64
	keys        *resilience.KeyPool
}

func newSettings(cfg Config, defaultModel string) settings {
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	temperature := defaultTemperature
	if cfg.Temperature != nil {
		temperature = *cfg.Temperature
	}
	return settings{
		model:       model,
		models:      cfg.Models,
		maxTokens:   maxTokens,
		temperature: temperature,
		keys:        resilience.NewKeyPool(cfg.APIKeys),
	}
}

func (s *settings) Model() string             { return s.model }
func (s *settings) SetModel(model string)     { s.model = model }
func (s *settings) MaxTokens() int            { return s.maxTokens }
func (s *settings) SetMaxTokens(n int)        { s.maxTokens = n }
func (s *settings) Temperature() float64      { return s.temperature }
func (s *settings) SetTemperature(t float64)  { s.temperature = t }
func (s *settings) SupportsMultimodal() bool  { return true }
func (s *settings) AvailableModels() []string { return append([]string(nil), s.models...) }

// release returns key to rotation, or parks it when err is a quota failure.
func (s *settings) release(key string, err error) {
	if err != nil && IsQuotaMessage(err.Error()) {
		s.keys.Park(key, time.Now().Add(rateLimitCooldown))
	}
}

// nextKey classifies key-pool failures: every key parked is a quota failure,
// no key at all is an auth failure.
func (s *settings) nextKey() (string, error) {
	key, err := s.keys.Next()
	switch {
	case errors.Is(err, resilience.ErrKeysExhausted):
		return "", &Error{Kind: KindQuota, Err: err}
	case errors.Is(err, resilience.ErrNoKeys):
		return "", &Error{Kind: KindAuth, Err: err}
	}
	return key, err
}

package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind classifies a provider failure.
type Kind int

const (
	KindGeneric       Kind = iota // Anything not matched below
	KindAuth                      // Bad or missing credential
	KindQuota                     // Rate limit or billing exhaustion
	KindEmptyResponse             // Success status, blank content
	KindSafetyBlocked             // Content-policy refusal
	KindNetwork                   // Transport failure or timeout
	KindUnavailable               // Provider short-circuited (circuit open)
	KindExhausted                 // Every provider and fallback failed
)

func (k Kind) String() string {
	return [...]string{"generic", "auth", "quota", "empty_response", "safety_blocked", "network", "unavailable", "exhausted"}[k]
}

// Sentinel errors.
var (
	ErrEmptyResponse   = errors.New("provider returned an empty response")
	ErrUnknownProvider = errors.New("unknown provider")
	ErrNoProviders     = errors.New("no providers registered")
)

var (
	quotaPatterns = []string{"quota", "rate limit", "limit reached", "limit exceeded", "429", "too many requests", "exhausted"}
	authPatterns  = []string{"401", "403", "unauthorized", "invalid api key", "api key not valid", "invalid x-api-key", "authentication"}
	// Safety patterns are matched after quota/auth so "blocked" in a
	// rate-limit message keeps its quota classification.
	safetyPatterns = []string{"safety", "content policy", "content_filter", "blocked"}
)

// Error is a failure attributed to one provider/model pair.
// Error() returns the underlying message unchanged.
type Error struct {
	Kind     Kind
	Provider string
	Model    string
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// NewError attributes err to provider/model, classifying it if needed.
func NewError(providerName, model string, err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		if pe.Provider == "" {
			pe.Provider = providerName
		}
		if pe.Model == "" {
			pe.Model = model
		}
		return pe
	}
	return &Error{Kind: Classify(err), Provider: providerName, Model: model, Err: err}
}

// Classify maps err onto the failure taxonomy.
func Classify(err error) Kind {
	if err == nil {
		return KindGeneric
	}
	var ee *ExhaustedError
	if errors.As(err, &ee) {
		return KindExhausted
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, ErrEmptyResponse) {
		return KindEmptyResponse
	}

	msg := strings.ToLower(err.Error())
	switch {
	case IsQuotaMessage(msg):
		return KindQuota
	case containsAny(msg, authPatterns):
		return KindAuth
	case containsAny(msg, safetyPatterns):
		return KindSafetyBlocked
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetwork
	}
	return KindGeneric
}

// IsQuotaMessage reports whether msg matches any quota pattern, ignoring case.
func IsQuotaMessage(msg string) bool {
	return containsAny(strings.ToLower(msg), quotaPatterns)
}

// IsQuota reports whether err classifies as a quota failure.
func IsQuota(err error) bool { return Classify(err) == KindQuota }

// AllowsModelFallback reports whether a failure of this kind may be retried
// against another model of the same provider. Quota and circuit failures are
// provider-wide; auth and safety failures are not retried with the same model.
func AllowsModelFallback(k Kind) bool {
	switch k {
	case KindGeneric, KindNetwork, KindEmptyResponse:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether err is worth another attempt on the same
// provider and model.
func IsRetryable(err error) bool {
	switch Classify(err) {
	case KindGeneric, KindNetwork, KindEmptyResponse:
		return !errors.Is(err, context.Canceled)
	default:
		return false
	}
}

// Failure records one failed attempt inside an aggregate error.
type Failure struct {
	Provider string
	Model    string
	Kind     Kind
	Message  string
}

// FailureOf builds a Failure from err.
func FailureOf(providerName, model string, err error) Failure {
	return Failure{Provider: providerName, Model: model, Kind: Classify(err), Message: err.Error()}
}

// ExhaustedError is the terminal failure after every provider (and fallback)
// failed. Its message starts with the originating error's message.
type ExhaustedError struct {
	Cause    error
	Failures []Failure
	Note     string
}

func (e *ExhaustedError) Error() string {
	var b strings.Builder
	note := e.Note
	if note == "" {
		note = "all providers exhausted"
	}
	nested := e.Cause != nil && e.Cause.Error() != ""
	if nested {
		b.WriteString(e.Cause.Error())
		b.WriteString(" (")
	}
	b.WriteString(note)
	if len(e.Failures) > 0 {
		b.WriteString(": ")
		for i, f := range e.Failures {
			if i > 0 {
				b.WriteString("; ")
			}
			fmt.Fprintf(&b, "%s/%s: %s", f.Provider, f.Model, f.Message)
		}
	}
	if nested {
		b.WriteString(")")
	}
	return b.String()
}

func (e *ExhaustedError) Unwrap() error { return e.Cause }

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
)

// KeyParts are the request-defining fields a cache key is derived from.
type KeyParts struct {
	Prompt      string
	Provider    string
	Model       string
	MaxTokens   int
	Temperature *float64
	Images      []string // hex sha256 of each payload
}

// keyDoc is the hashed form of KeyParts. Every field is a string or an int,
// so encoding cannot fail for any input.
type keyDoc struct {
	Prompt      string   `json:"prompt"`
	Provider    string   `json:"provider,omitempty"`
	Model       string   `json:"model,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature string   `json:"temperature,omitempty"`
	Images      []string `json:"images,omitempty"`
}

// Key generates a deterministic cache key for a request.
func Key(parts KeyParts) (string, error) {
	doc := keyDoc{
		Prompt:    parts.Prompt,
		Provider:  parts.Provider,
		Model:     parts.Model,
		MaxTokens: parts.MaxTokens,
		Images:    parts.Images,
	}
	if parts.Temperature != nil {
		doc.Temperature = strconv.FormatFloat(*parts.Temperature, 'g', -1, 64)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("cache: encode key: %w", err)
	}
	hash := sha256.Sum256(data)
	return fmt.Sprintf("llm_cache:%x", hash[:16]), nil
}

// Digest returns the hex sha256 of b, used for image payloads in KeyParts.
func Digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

package ai

import (
	"context"
	"errors"
	"fmt"

	"lumosai/pkg/domain"
)

const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 4096
)

// ErrNoImageData is returned when an image response carries neither inline
// data nor a URL to fetch.
var ErrNoImageData = errors.New("image response has no data and no url")

// ChatOptions tunes one chat call. Zero values fall back to the client defaults.
type ChatOptions struct {
	Model       string
	Temperature *float64
	MaxTokens   int
	WebSearch   bool
}

// Usage is the token accounting reported by a backend.
type Usage struct {
	PromptTokens        int64 `json:"promptTokens"`
	CompletionTokens    int64 `json:"completionTokens"`
	TotalTokens         int64 `json:"totalTokens"`
	CacheCreationTokens int64 `json:"cacheCreationTokens,omitempty"`
	CacheReadTokens     int64 `json:"cacheReadTokens,omitempty"`
}

type ChatResult struct {
	Text  string
	Usage Usage
	Model string
}

// GeneratedImage holds a base64 payload and its media type.
type GeneratedImage struct {
	MimeType string
	Data     string
	Model    string
	Size     string
}

// ChatProvider is a chat completion backend. The first turn of every prompt is
// the system turn.
type ChatProvider interface {
	Name() string
	DefaultModel() string
	Chat(ctx context.Context, turns []domain.Turn, opts ChatOptions) (ChatResult, error)
}

// ImageGenerator is an image generation backend.
type ImageGenerator interface {
	Name() string
	ImageModel() string
	ImageSize() string
	GenerateImage(ctx context.Context, prompt string) (GeneratedImage, error)
}

// ProviderError is a failure reported by, or on the way to, a backend.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s api error: %s", e.Provider, e.Message)
}

// Defaults holds the fallback values applied to ChatOptions.
type Defaults struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

func (d Defaults) resolve(opts ChatOptions) (model string, temperature float64, maxTokens int) {
	model = opts.Model
	if model == "" {
		model = d.Model
	}
	temperature = d.Temperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}
	maxTokens = opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = d.MaxTokens
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return model, temperature, maxTokens
}

// splitSystem separates the leading system turn from the conversation.
func splitSystem(turns []domain.Turn) (string, []domain.Turn) {
	if len(turns) > 0 && turns[0].Role == domain.RoleSystem {
		return turns[0].Text(), turns[1:]
	}
	return "", turns
}

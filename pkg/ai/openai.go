package ai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"lumosai/pkg/domain"
)

const (
	defaultOpenAIModel = "gpt-4o"
	defaultImageModel  = "gpt-image-1"
	defaultImageSize   = "1024x1024"
	maxImageFetchBytes = 20 << 20
)

// OpenAIClient implements ChatProvider and ImageGenerator on the OpenAI API.
// Web search is not available on this backend and is ignored.
type OpenAIClient struct {
	client     *openai.Client
	httpClient *http.Client
	defaults   Defaults
	imageModel string
	imageSize  string
	// fetchLimit caps the size of an image downloaded from a returned URL.
	fetchLimit int64
}

// OpenAIConfig configures an OpenAIClient.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Defaults   Defaults
	ImageModel string
	ImageSize  string
	Timeout    time.Duration
}

// NewOpenAIClient constructs a client with the provided API key.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}
	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	clientConfig.HTTPClient = httpClient

	defaults := cfg.Defaults
	if strings.TrimSpace(defaults.Model) == "" {
		defaults.Model = defaultOpenAIModel
	}
	imageModel := strings.TrimSpace(cfg.ImageModel)
	if imageModel == "" {
		imageModel = defaultImageModel
	}
	imageSize := strings.TrimSpace(cfg.ImageSize)
	if imageSize == "" {
		imageSize = defaultImageSize
	}
	return &OpenAIClient{
		client:     openai.NewClientWithConfig(clientConfig),
		httpClient: httpClient,
		defaults:   defaults,
		imageModel: imageModel,
		imageSize:  imageSize,
		fetchLimit: maxImageFetchBytes,
	}, nil
}

func (c *OpenAIClient) Name() string         { return "openai" }
func (c *OpenAIClient) DefaultModel() string { return c.defaults.Model }
func (c *OpenAIClient) ImageModel() string   { return c.imageModel }
func (c *OpenAIClient) ImageSize() string    { return c.imageSize }

// Chat sends the turns to the chat completions API.
func (c *OpenAIClient) Chat(ctx context.Context, turns []domain.Turn, opts ChatOptions) (ChatResult, error) {
	model, temperature, maxTokens := c.defaults.resolve(opts)
	system, conversation := splitSystem(turns)

	messages := make([]openai.ChatCompletionMessage, 0, len(conversation)+1)
	if strings.TrimSpace(system) != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, turn := range conversation {
		messages = append(messages, openAIMessage(turn))
	}

	// go-openai omits a zero temperature, which the API reads as 1.
	temp := float32(temperature)
	if temp == 0 {
		temp = math.SmallestNonzeroFloat32
	}
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temp,
	})
	if err != nil {
		return ChatResult{}, c.providerError(err)
	}
	if len(resp.Choices) == 0 {
		return ChatResult{}, &ProviderError{Provider: c.Name(), Message: "no choices in response"}
	}
	if resp.Model == "" {
		resp.Model = model
	}
	return ChatResult{
		Text:  resp.Choices[0].Message.Content,
		Model: resp.Model,
		Usage: Usage{
			PromptTokens:     int64(resp.Usage.PromptTokens),
			CompletionTokens: int64(resp.Usage.CompletionTokens),
			TotalTokens:      int64(resp.Usage.TotalTokens),
		},
	}, nil
}

func openAIMessage(turn domain.Turn) openai.ChatCompletionMessage {
	role := openai.ChatMessageRoleUser
	if turn.Role == domain.RoleAssistant {
		role = openai.ChatMessageRoleAssistant
	}
	if len(turn.Parts) == 1 {
		if text, ok := turn.Parts[0].(domain.TextPart); ok {
			return openai.ChatCompletionMessage{Role: role, Content: text.Text}
		}
	}
	parts := make([]openai.ChatMessagePart, 0, len(turn.Parts))
	for _, p := range turn.Parts {
		switch part := p.(type) {
		case domain.TextPart:
			parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: part.Text})
		case domain.ImagePart:
			parts = append(parts, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: part.URL, Detail: openai.ImageURLDetailAuto},
			})
		case domain.DocumentPart:
			parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: documentAsText(part)})
		case domain.RawPart:
			parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: rawAsText(part)})
		default:
			parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: describePart(string(p.Type()), "", "")})
		}
	}
	return openai.ChatCompletionMessage{Role: role, MultiContent: parts}
}

// GenerateImage creates one image. Inline base64 data is returned as PNG; a
// URL is downloaded and its Content-Type kept.
func (c *OpenAIClient) GenerateImage(ctx context.Context, prompt string) (GeneratedImage, error) {
	resp, err := c.client.CreateImage(ctx, openai.ImageRequest{
		Prompt: prompt,
		Model:  c.imageModel,
		N:      1,
		Size:   c.imageSize,
	})
	if err != nil {
		return GeneratedImage{}, c.providerError(err)
	}
	if len(resp.Data) == 0 {
		return GeneratedImage{}, ErrNoImageData
	}
	out := GeneratedImage{Model: c.imageModel, Size: c.imageSize}
	item := resp.Data[0]
	switch {
	case item.B64JSON != "":
		out.MimeType = "image/png"
		out.Data = item.B64JSON
	case item.URL != "":
		mimeType, data, err := c.fetchImage(ctx, item.URL)
		if err != nil {
			return GeneratedImage{}, err
		}
		out.MimeType = mimeType
		out.Data = data
	default:
		return GeneratedImage{}, ErrNoImageData
	}
	return out, nil
}

func (c *OpenAIClient) fetchImage(ctx context.Context, url string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", &ProviderError{Provider: c.Name(), Message: "fetch image: " + err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", "", &ProviderError{Provider: c.Name(), StatusCode: resp.StatusCode, Message: "fetch image: " + resp.Status}
	}
	if resp.ContentLength > c.fetchLimit {
		return "", "", c.oversizedImage()
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.fetchLimit+1))
	if err != nil {
		return "", "", &ProviderError{Provider: c.Name(), Message: "read image: " + err.Error()}
	}
	if int64(len(body)) > c.fetchLimit {
		return "", "", c.oversizedImage()
	}
	mimeType := "image/png"
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if parsed, _, err := mime.ParseMediaType(ct); err == nil {
			mimeType = parsed
		}
	}
	return mimeType, base64.StdEncoding.EncodeToString(body), nil
}

func (c *OpenAIClient) oversizedImage() error {
	return &ProviderError{Provider: c.Name(), Message: fmt.Sprintf("image exceeds %d bytes", c.fetchLimit)}
}

func (c *OpenAIClient) providerError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{Provider: c.Name(), StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &ProviderError{Provider: c.Name(), StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error()}
	}
	return &ProviderError{Provider: c.Name(), Message: err.Error()}
}

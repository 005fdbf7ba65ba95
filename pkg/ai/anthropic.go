package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"lumosai/pkg/domain"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultAnthropicModel   = "claude-sonnet-4-20250514"
	anthropicVersion        = "2023-06-01"
	webSearchMaxUses        = 5
)

// AnthropicClient calls the Anthropic Messages API.
type AnthropicClient struct {
	apiKey     string
	baseURL    string
	defaults   Defaults
	httpClient *http.Client
}

// AnthropicConfig configures an AnthropicClient.
type AnthropicConfig struct {
	APIKey   string
	BaseURL  string
	Defaults Defaults
	Timeout  time.Duration
}

// NewAnthropicClient constructs a client with the provided API key.
func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic api key required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	defaults := cfg.Defaults
	if strings.TrimSpace(defaults.Model) == "" {
		defaults.Model = defaultAnthropicModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &AnthropicClient{
		apiKey:     apiKey,
		baseURL:    baseURL,
		defaults:   defaults,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (c *AnthropicClient) Name() string         { return "anthropic" }
func (c *AnthropicClient) DefaultModel() string { return c.defaults.Model }

// Chat sends the turns to /v1/messages. The system turn is marked cacheable
// and web search is attached as a server tool when requested.
func (c *AnthropicClient) Chat(ctx context.Context, turns []domain.Turn, opts ChatOptions) (ChatResult, error) {
	model, temperature, maxTokens := c.defaults.resolve(opts)
	system, conversation := splitSystem(turns)

	reqBody := anthropicRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: &temperature,
		Messages:    make([]anthropicMessage, 0, len(conversation)),
	}
	if strings.TrimSpace(system) != "" {
		reqBody.System = []anthropicBlock{{
			Type:         "text",
			Text:         system,
			CacheControl: &anthropicCacheControl{Type: "ephemeral"},
		}}
	}
	for _, turn := range conversation {
		blocks := anthropicBlocks(turn.Parts)
		if len(blocks) == 0 {
			continue
		}
		reqBody.Messages = append(reqBody.Messages, anthropicMessage{Role: string(turn.Role), Content: blocks})
	}
	if opts.WebSearch {
		reqBody.Tools = []anthropicTool{{Type: "web_search_20250305", Name: "web_search", MaxUses: webSearchMaxUses}}
	}

	var resp anthropicResponse
	if err := c.doJSON(ctx, "/v1/messages", reqBody, &resp); err != nil {
		return ChatResult{}, err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if resp.Model == "" {
		resp.Model = model
	}
	return ChatResult{
		Text:  text.String(),
		Model: resp.Model,
		Usage: Usage{
			PromptTokens:        resp.Usage.InputTokens,
			CompletionTokens:    resp.Usage.OutputTokens,
			TotalTokens:         resp.Usage.InputTokens + resp.Usage.OutputTokens,
			CacheCreationTokens: resp.Usage.CacheCreationInputTokens,
			CacheReadTokens:     resp.Usage.CacheReadInputTokens,
		},
	}, nil
}

func anthropicBlocks(parts []domain.Part) []anthropicBlock {
	blocks := make([]anthropicBlock, 0, len(parts))
	for _, p := range parts {
		switch part := p.(type) {
		case domain.TextPart:
			if strings.TrimSpace(part.Text) == "" {
				continue
			}
			blocks = append(blocks, anthropicBlock{Type: "text", Text: part.Text})
		case domain.ImagePart:
			if mediaType, data, ok := parseDataURI(part.URL); ok {
				blocks = append(blocks, anthropicBlock{Type: "image", Source: &anthropicSource{Type: "base64", MediaType: mediaType, Data: data}})
			} else {
				blocks = append(blocks, anthropicBlock{Type: "image", Source: &anthropicSource{Type: "url", URL: part.URL}})
			}
		case domain.DocumentPart:
			blocks = append(blocks, anthropicDocument(part))
		case domain.RawPart:
			blocks = append(blocks, anthropicBlock{Type: "text", Text: rawAsText(part)})
		default:
			blocks = append(blocks, anthropicBlock{Type: "text", Text: describePart(string(p.Type()), "", "")})
		}
	}
	return blocks
}

func anthropicDocument(doc domain.DocumentPart) anthropicBlock {
	mediaType := strings.ToLower(strings.TrimSpace(doc.MediaType))
	if mediaType == "application/pdf" {
		return anthropicBlock{Type: "document", Source: &anthropicSource{Type: "base64", MediaType: "application/pdf", Data: doc.Data}}
	}
	text, err := ExtractDocumentText(doc)
	if err != nil || strings.TrimSpace(text) == "" {
		return anthropicBlock{Type: "text", Text: describePart("document", doc.MediaType, doc.FileName)}
	}
	return anthropicBlock{Type: "document", Source: &anthropicSource{Type: "text", MediaType: "text/plain", Data: text}}
}

func (c *AnthropicClient) doJSON(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ProviderError{Provider: c.Name(), Message: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp anthropicErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.Error.Message
		if msg == "" {
			msg = resp.Status
		}
		return &ProviderError{Provider: c.Name(), StatusCode: resp.StatusCode, Message: msg}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ProviderError{Provider: c.Name(), StatusCode: resp.StatusCode, Message: "decode response: " + err.Error()}
	}
	return nil
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	System      []anthropicBlock   `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicBlock struct {
	Type         string                 `json:"type"`
	Text         string                 `json:"text,omitempty"`
	Source       *anthropicSource       `json:"source,omitempty"`
	CacheControl *anthropicCacheControl `json:"cache_control,omitempty"`
}

type anthropicSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type anthropicCacheControl struct {
	Type string `json:"type"`
}

type anthropicTool struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	MaxUses int    `json:"max_uses,omitempty"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens              int64 `json:"input_tokens"`
		OutputTokens             int64 `json:"output_tokens"`
		CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
		CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
	} `json:"usage"`
}

type anthropicErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

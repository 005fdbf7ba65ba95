package domain

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleSystem only appears in assembled prompts, never in stored history.
	RoleSystem Role = "system"
)

// Valid reports whether r may be stored on a message.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

type AttachmentKind string

const (
	AttachmentImage    AttachmentKind = "image"
	AttachmentPDF      AttachmentKind = "pdf"
	AttachmentDocument AttachmentKind = "document"
	AttachmentAudio    AttachmentKind = "audio"
	AttachmentFile     AttachmentKind = "file"
)

type Assistant struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Context     string    `json:"context"`
	Temperature *float64  `json:"temperature"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// AssistantRef is the identity echoed back with chat responses.
type AssistantRef struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

func (a Assistant) Ref() AssistantRef {
	return AssistantRef{ID: a.ID, Title: a.Title}
}

type Message struct {
	ID          int64        `json:"id"`
	AssistantID int64        `json:"assistantId"`
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments"`
	CreatedAt   time.Time    `json:"createdAt"`
}

type Attachment struct {
	ID        int64          `json:"id,omitempty"`
	MessageID int64          `json:"messageId,omitempty"`
	Kind      AttachmentKind `json:"type"`
	MimeType  string         `json:"mimeType"`
	Data      string         `json:"data,omitempty"`
	FileName  string         `json:"fileName,omitempty"`
	URL       string         `json:"url,omitempty"`
	CreatedAt time.Time      `json:"createdAt,omitempty"`
}

// CachedMessage is the lightweight projection mirrored in the history cache.
type CachedMessage struct {
	ID        int64     `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

func (m Message) Cached() CachedMessage {
	return CachedMessage{ID: m.ID, Role: m.Role, Content: m.Content, CreatedAt: m.CreatedAt}
}

type UsageKind string

const (
	UsageChat  UsageKind = "chat"
	UsageImage UsageKind = "image"
)

type UsageEvent struct {
	ID                  int64     `json:"id"`
	AssistantID         *int64    `json:"assistantId"`
	Kind                UsageKind `json:"kind"`
	Model               string    `json:"model"`
	PromptTokens        int64     `json:"promptTokens"`
	CompletionTokens    int64     `json:"completionTokens"`
	TotalTokens         int64     `json:"totalTokens"`
	ImageSize           string    `json:"imageSize,omitempty"`
	ImageCount          int64     `json:"imageCount"`
	Provider            string    `json:"provider"`
	CacheCreationTokens int64     `json:"cacheCreationTokens"`
	CacheReadTokens     int64     `json:"cacheReadTokens"`
	CreatedAt           time.Time `json:"createdAt"`
}

type APICall struct {
	ID                  int64     `json:"id"`
	AssistantID         *int64    `json:"assistantId"`
	Endpoint            string    `json:"endpoint"`
	Method              string    `json:"method"`
	StatusCode          int       `json:"statusCode"`
	ResponseTimeMs      int64     `json:"responseTimeMs"`
	InputTokens         int64     `json:"inputTokens"`
	OutputTokens        int64     `json:"outputTokens"`
	CacheReadTokens     int64     `json:"cacheReadTokens"`
	CacheCreationTokens int64     `json:"cacheCreationTokens"`
	Model               string    `json:"model"`
	Provider            string    `json:"provider"`
	ErrorMessage        string    `json:"errorMessage,omitempty"`
	CreatedAt           time.Time `json:"createdAt"`
}

type UsageTotals struct {
	PromptTokens        int64 `json:"promptTokens"`
	CompletionTokens    int64 `json:"completionTokens"`
	TotalTokens         int64 `json:"totalTokens"`
	ImageCount          int64 `json:"imageCount"`
	CacheCreationTokens int64 `json:"cacheCreationTokens"`
	CacheReadTokens     int64 `json:"cacheReadTokens"`
}

type ModelCount struct {
	Model string `json:"model"`
	Calls int64  `json:"calls"`
}

type CallStats struct {
	Window              string       `json:"window"`
	TotalCalls          int64        `json:"totalCalls"`
	SuccessCalls        int64        `json:"successCalls"`
	ErrorCalls          int64        `json:"errorCalls"`
	AvgResponseTimeMs   float64      `json:"avgResponseTimeMs"`
	InputTokens         int64        `json:"inputTokens"`
	OutputTokens        int64        `json:"outputTokens"`
	CacheReadTokens     int64        `json:"cacheReadTokens"`
	CacheCreationTokens int64        `json:"cacheCreationTokens"`
	ByModel             []ModelCount `json:"byModel"`
}

type HourlyBucket struct {
	Hour              time.Time `json:"hour"`
	Calls             int64     `json:"calls"`
	Errors            int64     `json:"errors"`
	AvgResponseTimeMs float64   `json:"avgResponseTimeMs"`
}

type RecentCall struct {
	APICall
	AssistantTitle string `json:"assistantTitle,omitempty"`
}

type User struct {
	ID        int64          `json:"id"`
	Name      string         `json:"name"`
	Email     string         `json:"email"`
	PhotoURL  string         `json:"photoUrl,omitempty"`
	Settings  map[string]any `json:"settings"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

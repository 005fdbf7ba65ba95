package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type AssistantModel struct {
	ID          int64          `gorm:"primaryKey;autoIncrement"`
	Title       string         `gorm:"size:255;not null"`
	Context     string         `gorm:"type:text;not null"`
	Temperature *float64
	Messages    []MessageModel `gorm:"foreignKey:AssistantID;constraint:OnDelete:CASCADE"`
	CreatedAt   time.Time      `gorm:"not null"`
	UpdatedAt   time.Time      `gorm:"not null;index"`
}

func (AssistantModel) TableName() string { return "assistants" }

type MessageModel struct {
	ID          int64             `gorm:"primaryKey;autoIncrement"`
	AssistantID int64             `gorm:"not null;index:idx_messages_assistant_created,priority:1"`
	Role        string            `gorm:"size:20;not null"`
	Content     string            `gorm:"type:text;not null"`
	Attachments []AttachmentModel `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE"`
	CreatedAt   time.Time         `gorm:"not null;index:idx_messages_assistant_created,priority:2"`
}

func (MessageModel) TableName() string { return "messages" }

type AttachmentModel struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	MessageID  int64     `gorm:"not null;index"`
	Kind       string    `gorm:"size:20;not null"`
	MimeType   string    `gorm:"size:100;not null"`
	DataBase64 string    `gorm:"type:text;not null"`
	FileName   *string   `gorm:"size:255"`
	CreatedAt  time.Time `gorm:"not null"`
}

func (AttachmentModel) TableName() string { return "message_attachments" }

// UsageEventModel and APICallModel keep assistant_id without a foreign key so
// telemetry outlives the assistant it describes.
type UsageEventModel struct {
	ID                  int64     `gorm:"primaryKey;autoIncrement"`
	AssistantID         *int64    `gorm:"index"`
	Kind                string    `gorm:"size:20;not null"`
	Model               string    `gorm:"size:100"`
	PromptTokens        int64     `gorm:"not null;default:0"`
	CompletionTokens    int64     `gorm:"not null;default:0"`
	TotalTokens         int64     `gorm:"not null;default:0"`
	ImageSize           string    `gorm:"size:20"`
	ImageCount          int64     `gorm:"not null;default:0"`
	Provider            string    `gorm:"size:20"`
	CacheCreationTokens int64     `gorm:"not null;default:0"`
	CacheReadTokens     int64     `gorm:"not null;default:0"`
	CreatedAt           time.Time `gorm:"not null;index"`
}

func (UsageEventModel) TableName() string { return "usage_events" }

type APICallModel struct {
	ID                  int64     `gorm:"primaryKey;autoIncrement"`
	AssistantID         *int64    `gorm:"index"`
	Endpoint            string    `gorm:"size:255;not null"`
	Method              string    `gorm:"size:10;not null"`
	StatusCode          int       `gorm:"not null"`
	ResponseTimeMs      int64     `gorm:"not null;default:0"`
	InputTokens         int64     `gorm:"not null;default:0"`
	OutputTokens        int64     `gorm:"not null;default:0"`
	CacheReadTokens     int64     `gorm:"not null;default:0"`
	CacheCreationTokens int64     `gorm:"not null;default:0"`
	Model               string    `gorm:"size:100"`
	Provider            string    `gorm:"size:20"`
	ErrorMessage        *string   `gorm:"type:text"`
	CreatedAt           time.Time `gorm:"not null;index"`
}

func (APICallModel) TableName() string { return "api_calls" }

type UserModel struct {
	ID        int64          `gorm:"primaryKey;autoIncrement"`
	Name      string         `gorm:"size:255;not null"`
	Email     *string        `gorm:"size:255;uniqueIndex"`
	PhotoURL  string         `gorm:"type:text"`
	Settings  datatypes.JSON `gorm:"not null"`
	CreatedAt time.Time      `gorm:"not null"`
	UpdatedAt time.Time      `gorm:"not null"`
}

func (UserModel) TableName() string { return "users" }

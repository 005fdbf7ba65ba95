package store

import (
	"context"
	"time"

	"lumosai/pkg/domain"
)

// AssistantStore persists assistant definitions.
type AssistantStore interface {
	CreateAssistant(ctx context.Context, a domain.Assistant) (domain.Assistant, error)
	GetAssistant(ctx context.Context, id int64) (domain.Assistant, bool, error)
	ListAssistants(ctx context.Context) ([]domain.Assistant, error)
	UpdateAssistant(ctx context.Context, a domain.Assistant) (domain.Assistant, bool, error)
	// DeleteAssistant removes the assistant with its messages and attachments.
	// Telemetry rows are detached, not deleted.
	DeleteAssistant(ctx context.Context, id int64) (bool, error)
}

// HistoryStore is the durable, append-only message log of each assistant.
// Chronological order is (created_at, id) ascending.
type HistoryStore interface {
	AppendMessage(ctx context.Context, assistantID int64, role domain.Role, content string, attachments []domain.Attachment) (domain.Message, error)
	// AppendExchange stores a user turn and its reply atomically.
	AppendExchange(ctx context.Context, assistantID int64, userContent, reply string, replyAttachments []domain.Attachment) (domain.Message, domain.Message, error)
	// ListRecentMessages returns the newest limit messages in chronological order, without attachments.
	ListRecentMessages(ctx context.Context, assistantID int64, limit int) ([]domain.Message, error)
	// ListMessages returns the full history with attachments joined in.
	ListMessages(ctx context.Context, assistantID int64) ([]domain.Message, error)
	DeleteMessages(ctx context.Context, assistantID int64) (int64, error)
}

// TelemetryStore holds usage events and API call records.
type TelemetryStore interface {
	InsertUsageEvent(ctx context.Context, ev domain.UsageEvent) error
	InsertAPICall(ctx context.Context, call domain.APICall) error
	SumUsage(ctx context.Context, from, to time.Time) (domain.UsageTotals, error)
	CallStats(ctx context.Context, since time.Time) (domain.CallStats, error)
	ListAPICallsSince(ctx context.Context, since time.Time) ([]domain.APICall, error)
	RecentAPICalls(ctx context.Context, limit int) ([]domain.RecentCall, error)
}

// UserStore manages the single implicit user row.
type UserStore interface {
	GetDefaultUser(ctx context.Context) (domain.User, error)
	UpdateUser(ctx context.Context, u domain.User) (domain.User, error)
}

// Store aggregates every persistence capability of the service.
type Store interface {
	AssistantStore
	HistoryStore
	TelemetryStore
	UserStore
}

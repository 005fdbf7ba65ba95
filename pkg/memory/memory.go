package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"golang.org/x/sync/singleflight"
	"lumosai/pkg/domain"
	"lumosai/pkg/store"
)

const defaultWindow = 20

// HistoryCache is the fast, non-authoritative copy of the recent window.
type HistoryCache interface {
	Get(ctx context.Context, assistantID int64) ([]domain.CachedMessage, bool, error)
	Set(ctx context.Context, assistantID int64, msgs []domain.CachedMessage) error
	Append(ctx context.Context, assistantID int64, msg domain.CachedMessage) (bool, error)
	Delete(ctx context.Context, assistantID int64) error
}

// Memory combines the durable history store with the history cache. The store
// always wins; cache failures are logged and treated as misses.
type Memory struct {
	store  store.HistoryStore
	cache  HistoryCache
	window int
	logger *slog.Logger
	loads  singleflight.Group
}

// Option customizes a Memory.
type Option func(*Memory)

// WithWindow sets the size of the recent window.
func WithWindow(n int) Option {
	return func(m *Memory) {
		if n > 0 {
			m.window = n
		}
	}
}

// WithLogger sets the logger used for swallowed cache failures.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Memory) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// New builds a Memory. cache may be nil, in which case every read goes to the store.
func New(st store.HistoryStore, cache HistoryCache, opts ...Option) (*Memory, error) {
	if st == nil {
		return nil, errors.New("memory requires a history store")
	}
	m := &Memory{store: st, cache: cache, window: defaultWindow, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Window reports the size of the recent window.
func (m *Memory) Window() int {
	return m.window
}

// GetRecentHistory returns the recent window in chronological order.
func (m *Memory) GetRecentHistory(ctx context.Context, assistantID int64) ([]domain.CachedMessage, error) {
	if m.cache != nil {
		msgs, ok, err := m.cache.Get(ctx, assistantID)
		if err != nil {
			m.logger.Warn("history cache read failed", "assistantId", assistantID, "err", err)
		} else if ok {
			return msgs, nil
		}
	}

	v, err, _ := m.loads.Do(strconv.FormatInt(assistantID, 10), func() (any, error) {
		return m.loadWindow(ctx, assistantID)
	})
	if err != nil {
		return nil, err
	}
	msgs := v.([]domain.CachedMessage)
	out := make([]domain.CachedMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

// loadWindow reads the window from the store and repopulates the cache when
// there is anything to cache.
func (m *Memory) loadWindow(ctx context.Context, assistantID int64) ([]domain.CachedMessage, error) {
	stored, err := m.store.ListRecentMessages(ctx, assistantID, m.window)
	if err != nil {
		return nil, fmt.Errorf("load recent history: %w", err)
	}
	msgs := make([]domain.CachedMessage, 0, len(stored))
	for _, msg := range stored {
		msgs = append(msgs, msg.Cached())
	}
	if len(msgs) > 0 && m.cache != nil {
		if err := m.cache.Set(ctx, assistantID, msgs); err != nil {
			m.logger.Warn("history cache populate failed", "assistantId", assistantID, "err", err)
		}
	}
	return msgs, nil
}

// Append persists a message and then mirrors it into the cache. Only the store
// write can fail the call.
func (m *Memory) Append(ctx context.Context, assistantID int64, role domain.Role, content string, attachments []domain.Attachment) (domain.Message, error) {
	msg, err := m.store.AppendMessage(ctx, assistantID, role, content, attachments)
	if err != nil {
		return domain.Message{}, fmt.Errorf("append message: %w", err)
	}
	m.mirror(ctx, msg)
	return msg, nil
}

// AppendExchange persists a user turn with its reply in one store write and
// then mirrors both into the cache.
func (m *Memory) AppendExchange(ctx context.Context, assistantID int64, userContent, reply string, replyAttachments []domain.Attachment) (domain.Message, domain.Message, error) {
	user, assistant, err := m.store.AppendExchange(ctx, assistantID, userContent, reply, replyAttachments)
	if err != nil {
		return domain.Message{}, domain.Message{}, fmt.Errorf("append exchange: %w", err)
	}
	m.mirror(ctx, user, assistant)
	return user, assistant, nil
}

// mirror appends committed messages to the cached window in order.
func (m *Memory) mirror(ctx context.Context, msgs ...domain.Message) {
	if m.cache == nil || len(msgs) == 0 {
		return
	}
	assistantID := msgs[0].AssistantID
	for _, msg := range msgs {
		appended, err := m.cache.Append(ctx, assistantID, msg.Cached())
		if err != nil {
			m.logger.Warn("history cache append failed", "assistantId", assistantID, "err", err)
			return
		}
		if !appended {
			// No cached window yet: rebuild it from the store, which already
			// holds every message of msgs, so the cache never holds a partial
			// view of the recent history.
			if _, err := m.loadWindow(ctx, assistantID); err != nil {
				m.logger.Warn("history cache rebuild failed", "assistantId", assistantID, "err", err)
			}
			return
		}
	}
}

// GetFullHistory returns every stored message with attachments, oldest first.
func (m *Memory) GetFullHistory(ctx context.Context, assistantID int64) ([]domain.Message, error) {
	msgs, err := m.store.ListMessages(ctx, assistantID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return msgs, nil
}

// ClearHistory drops the cached window and deletes the stored history,
// returning the number of removed messages.
func (m *Memory) ClearHistory(ctx context.Context, assistantID int64) (int64, error) {
	m.Forget(ctx, assistantID)
	removed, err := m.store.DeleteMessages(ctx, assistantID)
	if err != nil {
		return 0, fmt.Errorf("clear history: %w", err)
	}
	return removed, nil
}

// Forget drops the cached window only.
func (m *Memory) Forget(ctx context.Context, assistantID int64) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Delete(ctx, assistantID); err != nil {
		m.logger.Warn("history cache delete failed", "assistantId", assistantID, "err", err)
	}
}

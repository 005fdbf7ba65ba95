package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"lumosai/pkg/ai"
	"lumosai/pkg/domain"
	"lumosai/pkg/queue"
)

const (
	eventUsage   = "usage_event"
	eventAPICall = "api_call"
)

// Sink persists telemetry rows.
type Sink interface {
	InsertUsageEvent(ctx context.Context, ev domain.UsageEvent) error
	InsertAPICall(ctx context.Context, call domain.APICall) error
}

// Publisher appends events to an outbox stream.
type Publisher interface {
	Publish(ctx context.Context, kind string, payload []byte) (string, error)
}

// Recorder appends usage events and API call records. Failures are logged and
// never returned, so telemetry cannot mask the outcome of a turn.
type Recorder struct {
	sink   Sink
	outbox Publisher
	logger *slog.Logger
}

type RecorderOption func(*Recorder)

// WithOutbox routes writes through an outbox stream instead of writing them
// synchronously. A consumer running Consume persists them.
func WithOutbox(p Publisher) RecorderOption {
	return func(r *Recorder) { r.outbox = p }
}

func WithRecorderLogger(logger *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func NewRecorder(sink Sink, opts ...RecorderOption) *Recorder {
	r := &Recorder{sink: sink, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ChatUsage builds the usage event of a chat call.
func ChatUsage(assistantID *int64, provider, model string, usage ai.Usage) domain.UsageEvent {
	return domain.UsageEvent{
		AssistantID:         assistantID,
		Kind:                domain.UsageChat,
		Model:               model,
		PromptTokens:        usage.PromptTokens,
		CompletionTokens:    usage.CompletionTokens,
		TotalTokens:         usage.TotalTokens,
		Provider:            provider,
		CacheCreationTokens: usage.CacheCreationTokens,
		CacheReadTokens:     usage.CacheReadTokens,
	}
}

// ImageUsage builds the usage event of an image generation call.
func ImageUsage(assistantID *int64, provider, model, size string, count int64) domain.UsageEvent {
	return domain.UsageEvent{
		AssistantID: assistantID,
		Kind:        domain.UsageImage,
		Model:       model,
		ImageSize:   size,
		ImageCount:  count,
		Provider:    provider,
	}
}

func (r *Recorder) RecordChatUsage(ctx context.Context, assistantID *int64, provider, model string, usage ai.Usage) {
	r.RecordUsage(ctx, ChatUsage(assistantID, provider, model, usage))
}

func (r *Recorder) RecordImageUsage(ctx context.Context, assistantID *int64, provider, model, size string, count int64) {
	r.RecordUsage(ctx, ImageUsage(assistantID, provider, model, size, count))
}

func (r *Recorder) RecordUsage(ctx context.Context, ev domain.UsageEvent) {
	ctx = context.WithoutCancel(ctx)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	if err := r.writeUsage(ctx, ev); err != nil {
		r.logger.Warn("record usage failed", "assistantId", derefID(ev.AssistantID), "kind", ev.Kind, "err", err)
	}
}

func (r *Recorder) RecordAPICall(ctx context.Context, call domain.APICall) {
	ctx = context.WithoutCancel(ctx)
	if call.CreatedAt.IsZero() {
		call.CreatedAt = time.Now().UTC()
	}
	if err := r.writeAPICall(ctx, call); err != nil {
		r.logger.Warn("record api call failed", "assistantId", derefID(call.AssistantID), "endpoint", call.Endpoint, "err", err)
	}
}

// RecordTurn writes the usage events and the API call of one turn
// concurrently.
func (r *Recorder) RecordTurn(ctx context.Context, usage []domain.UsageEvent, call domain.APICall) {
	var g errgroup.Group
	for _, ev := range usage {
		g.Go(func() error {
			r.RecordUsage(ctx, ev)
			return nil
		})
	}
	g.Go(func() error {
		r.RecordAPICall(ctx, call)
		return nil
	})
	_ = g.Wait()
}

func (r *Recorder) writeUsage(ctx context.Context, ev domain.UsageEvent) error {
	if r.outbox != nil {
		return r.publish(ctx, eventUsage, ev)
	}
	if r.sink == nil {
		return nil
	}
	return r.sink.InsertUsageEvent(ctx, ev)
}

func (r *Recorder) writeAPICall(ctx context.Context, call domain.APICall) error {
	if r.outbox != nil {
		return r.publish(ctx, eventAPICall, call)
	}
	if r.sink == nil {
		return nil
	}
	return r.sink.InsertAPICall(ctx, call)
}

func (r *Recorder) publish(ctx context.Context, kind string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}
	_, err = r.outbox.Publish(ctx, kind, payload)
	return err
}

// Consume persists one outbox event. It is the queue handler of the outbox
// consumer.
func (r *Recorder) Consume(ctx context.Context, ev queue.Event) error {
	if r.sink == nil {
		return fmt.Errorf("telemetry sink not configured")
	}
	switch ev.Kind {
	case eventUsage:
		var usage domain.UsageEvent
		if err := json.Unmarshal(ev.Payload, &usage); err != nil {
			r.logger.Warn("drop malformed usage event", "eventId", ev.ID, "err", err)
			return nil
		}
		return r.sink.InsertUsageEvent(ctx, usage)
	case eventAPICall:
		var call domain.APICall
		if err := json.Unmarshal(ev.Payload, &call); err != nil {
			r.logger.Warn("drop malformed api call event", "eventId", ev.ID, "err", err)
			return nil
		}
		return r.sink.InsertAPICall(ctx, call)
	default:
		r.logger.Warn("drop unknown telemetry event", "eventId", ev.ID, "kind", ev.Kind)
		return nil
	}
}

func derefID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

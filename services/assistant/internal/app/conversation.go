package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"lumosai/internal/util"
	"lumosai/pkg/ai"
	"lumosai/pkg/domain"
	"lumosai/pkg/prompt"
	"lumosai/pkg/telemetry"
)

// SendRequest is one inbound turn.
type SendRequest struct {
	Message     string
	Attachments []domain.Attachment
	// Temperature overrides the assistant's stored temperature.
	Temperature *float64
}

type SendResult struct {
	Reply       string              `json:"reply"`
	Attachments []domain.Attachment `json:"attachments,omitempty"`
	Assistant   domain.AssistantRef `json:"assistant"`
}

// turn carries the resolved state of one SendMessage call.
type turn struct {
	assistant   domain.Assistant
	text        string
	attachments []domain.Attachment
	set         prompt.AttachmentSet
	history     []domain.CachedMessage
	temperature float64
}

// SendMessage runs one conversation turn. The user turn and the reply are
// persisted only after the provider answered; a provider failure leaves the
// history untouched and is still recorded as an API call.
func (a *App) SendMessage(ctx context.Context, assistantID int64, req SendRequest) (SendResult, error) {
	text := strings.TrimSpace(req.Message)
	set := prompt.Partition(req.Attachments)
	if text == "" && !set.Recognized() {
		return SendResult{}, fmt.Errorf("%w: message or attachment required", ErrInvalidInput)
	}
	if t := req.Temperature; t != nil && (*t < 0 || *t > 1) {
		return SendResult{}, fmt.Errorf("%w: temperature must be within [0,1]", ErrInvalidInput)
	}

	assistant, err := a.lookupAssistant(ctx, assistantID)
	if err != nil {
		return SendResult{}, err
	}
	history, err := a.memory.GetRecentHistory(ctx, assistant.ID)
	if err != nil {
		return SendResult{}, fmt.Errorf("%w: load history: %w", ErrProcessing, err)
	}

	t := turn{
		assistant:   assistant,
		text:        text,
		attachments: req.Attachments,
		set:         set,
		history:     history,
		temperature: a.resolveTemperature(req.Temperature, assistant),
	}
	if a.images != nil && a.intent.WantsImage(text, history, req.Attachments) {
		return a.imageTurn(ctx, t)
	}
	return a.chatTurn(ctx, t)
}

func (a *App) chatTurn(ctx context.Context, t turn) (SendResult, error) {
	id := t.assistant.ID
	turns := a.assembler.Build(t.assistant.Context, t.history, t.text, t.attachments)

	start := a.now()
	res, err := a.chat.Chat(ctx, turns, ai.ChatOptions{
		Temperature: &t.temperature,
		MaxTokens:   a.maxOutputTokens,
		WebSearch:   a.webSearch,
	})
	call := a.apiCall(id, a.chat.Name(), start)
	if err == nil && strings.TrimSpace(res.Text) == "" {
		err = &ai.ProviderError{Provider: a.chat.Name(), Message: "empty reply"}
	}
	if err != nil {
		call.StatusCode = http.StatusInternalServerError
		call.Model = modelOr(res.Model, a.chat.DefaultModel())
		addTokens(&call, res.Usage)
		call.ErrorMessage = err.Error()
		a.log(ctx).Error("chat provider failed", "assistantId", id, "provider", a.chat.Name(), "err", err)
		a.recorder.RecordAPICall(ctx, call)
		return SendResult{}, fmt.Errorf("%w: %w", ErrProcessing, err)
	}

	model := modelOr(res.Model, a.chat.DefaultModel())
	call.Model = model
	addTokens(&call, res.Usage)

	persistErr := a.persistExchange(ctx, t, res.Text, nil)
	a.recorder.RecordTurn(ctx, []domain.UsageEvent{telemetry.ChatUsage(&id, a.chat.Name(), model, res.Usage)}, call)
	if persistErr != nil {
		a.log(ctx).Error("persist exchange failed", "assistantId", id, "err", persistErr)
		return SendResult{}, persistErr
	}
	return SendResult{Reply: res.Text, Assistant: t.assistant.Ref()}, nil
}

// persistExchange stores the user note together with the reply. A failure
// leaves the history untouched.
func (a *App) persistExchange(ctx context.Context, t turn, reply string, replyAttachments []domain.Attachment) error {
	note := prompt.UserTurnNote(t.text, t.set)
	if _, _, err := a.memory.AppendExchange(ctx, t.assistant.ID, note, reply, replyAttachments); err != nil {
		return fmt.Errorf("%w: save exchange: %w", ErrProcessing, err)
	}
	return nil
}

func (a *App) lookupAssistant(ctx context.Context, id int64) (domain.Assistant, error) {
	assistant, ok, err := a.store.GetAssistant(ctx, id)
	if err != nil {
		return domain.Assistant{}, fmt.Errorf("%w: load assistant: %w", ErrProcessing, err)
	}
	if !ok {
		return domain.Assistant{}, ErrAssistantNotFound
	}
	return assistant, nil
}

// resolveTemperature picks the request override, then the assistant's value,
// then the configured default.
func (a *App) resolveTemperature(override *float64, assistant domain.Assistant) float64 {
	switch {
	case override != nil:
		return *override
	case assistant.Temperature != nil:
		return *assistant.Temperature
	default:
		return a.defaultTemperature
	}
}

func (a *App) apiCall(assistantID int64, provider string, start time.Time) domain.APICall {
	return domain.APICall{
		AssistantID:    &assistantID,
		Endpoint:       fmt.Sprintf("/chat/%d/send", assistantID),
		Method:         http.MethodPost,
		StatusCode:     http.StatusOK,
		ResponseTimeMs: a.now().Sub(start).Milliseconds(),
		Provider:       provider,
	}
}

func addTokens(call *domain.APICall, usage ai.Usage) {
	call.InputTokens += usage.PromptTokens
	call.OutputTokens += usage.CompletionTokens
	call.CacheReadTokens += usage.CacheReadTokens
	call.CacheCreationTokens += usage.CacheCreationTokens
}

func modelOr(model, fallback string) string {
	if strings.TrimSpace(model) == "" {
		return fallback
	}
	return model
}

func (a *App) log(ctx context.Context) *slog.Logger {
	if id := util.RequestIDFromContext(ctx); id != "" {
		return a.logger.With("requestId", id)
	}
	return a.logger
}

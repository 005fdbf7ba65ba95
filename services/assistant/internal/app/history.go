package app

import (
	"context"
	"fmt"

	"lumosai/pkg/domain"
)

type History struct {
	Assistant domain.AssistantRef `json:"assistant"`
	Messages  []domain.Message    `json:"messages"`
	Total     int                 `json:"total"`
}

// History returns the full stored conversation of an assistant.
func (a *App) History(ctx context.Context, assistantID int64) (History, error) {
	assistant, err := a.lookupAssistant(ctx, assistantID)
	if err != nil {
		return History{}, err
	}
	msgs, err := a.memory.GetFullHistory(ctx, assistant.ID)
	if err != nil {
		return History{}, fmt.Errorf("load history: %w", err)
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return History{Assistant: assistant.Ref(), Messages: msgs, Total: len(msgs)}, nil
}

// ClearHistory removes every message of an assistant and returns how many
// were removed.
func (a *App) ClearHistory(ctx context.Context, assistantID int64) (int64, error) {
	assistant, err := a.lookupAssistant(ctx, assistantID)
	if err != nil {
		return 0, err
	}
	removed, err := a.memory.ClearHistory(ctx, assistant.ID)
	if err != nil {
		return 0, fmt.Errorf("clear history: %w", err)
	}
	a.log(ctx).Info("history cleared", "assistantId", assistant.ID, "removed", removed)
	return removed, nil
}

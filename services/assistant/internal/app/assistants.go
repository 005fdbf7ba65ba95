package app

import (
	"context"
	"fmt"
	"strings"

	"lumosai/pkg/domain"
)

// AssistantInput creates an assistant. Temperature is optional.
type AssistantInput struct {
	Title       string
	Context     string
	Temperature *float64
}

// AssistantPatch updates only the fields that are set.
type AssistantPatch struct {
	Title       *string
	Context     *string
	Temperature *float64
}

func (a *App) ListAssistants(ctx context.Context) ([]domain.Assistant, error) {
	list, err := a.store.ListAssistants(ctx)
	if err != nil {
		return nil, fmt.Errorf("list assistants: %w", err)
	}
	return list, nil
}

func (a *App) GetAssistant(ctx context.Context, id int64) (domain.Assistant, error) {
	return a.lookupAssistant(ctx, id)
}

func (a *App) CreateAssistant(ctx context.Context, in AssistantInput) (domain.Assistant, error) {
	title := strings.TrimSpace(in.Title)
	fixed := strings.TrimSpace(in.Context)
	if title == "" || fixed == "" {
		return domain.Assistant{}, fmt.Errorf("%w: title and context are required", ErrInvalidInput)
	}
	if err := validateTemperature(in.Temperature); err != nil {
		return domain.Assistant{}, err
	}
	created, err := a.store.CreateAssistant(ctx, domain.Assistant{Title: title, Context: fixed, Temperature: in.Temperature})
	if err != nil {
		return domain.Assistant{}, fmt.Errorf("create assistant: %w", err)
	}
	return created, nil
}

func (a *App) UpdateAssistant(ctx context.Context, id int64, patch AssistantPatch) (domain.Assistant, error) {
	current, err := a.lookupAssistant(ctx, id)
	if err != nil {
		return domain.Assistant{}, err
	}
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return domain.Assistant{}, fmt.Errorf("%w: title must not be empty", ErrInvalidInput)
		}
		current.Title = title
	}
	if patch.Context != nil {
		fixed := strings.TrimSpace(*patch.Context)
		if fixed == "" {
			return domain.Assistant{}, fmt.Errorf("%w: context must not be empty", ErrInvalidInput)
		}
		current.Context = fixed
	}
	if patch.Temperature != nil {
		if err := validateTemperature(patch.Temperature); err != nil {
			return domain.Assistant{}, err
		}
		current.Temperature = patch.Temperature
	}
	updated, ok, err := a.store.UpdateAssistant(ctx, current)
	if err != nil {
		return domain.Assistant{}, fmt.Errorf("update assistant: %w", err)
	}
	if !ok {
		return domain.Assistant{}, ErrAssistantNotFound
	}
	return updated, nil
}

// DeleteAssistant removes the assistant with its history and drops its
// cached window. Telemetry rows survive with a null assistant.
func (a *App) DeleteAssistant(ctx context.Context, id int64) error {
	ok, err := a.store.DeleteAssistant(ctx, id)
	if err != nil {
		return fmt.Errorf("delete assistant: %w", err)
	}
	if !ok {
		return ErrAssistantNotFound
	}
	a.memory.Forget(ctx, id)
	return nil
}

func validateTemperature(t *float64) error {
	if t != nil && (*t < 0 || *t > 1) {
		return fmt.Errorf("%w: temperature must be within [0,1]", ErrInvalidInput)
	}
	return nil
}

package store

import (
	"context"
	"time"

	"lumosai/pkg/domain"
)

// InsertUsageEvent appends a usage row.
func (s *GormStore) InsertUsageEvent(ctx context.Context, ev domain.UsageEvent) error {
	model := usageEventToModel(ev)
	return s.db.WithContext(ctx).Create(&model).Error
}

// InsertAPICall appends an API call record.
func (s *GormStore) InsertAPICall(ctx context.Context, call domain.APICall) error {
	model := apiCallToModel(call)
	return s.db.WithContext(ctx).Create(&model).Error
}

// SumUsage aggregates usage events created in [from, to).
func (s *GormStore) SumUsage(ctx context.Context, from, to time.Time) (domain.UsageTotals, error) {
	var row struct {
		PromptTokens        int64
		CompletionTokens    int64
		TotalTokens         int64
		ImageCount          int64
		CacheCreationTokens int64
		CacheReadTokens     int64
	}
	err := s.db.WithContext(ctx).Model(&UsageEventModel{}).
		Select(`COALESCE(SUM(prompt_tokens), 0) AS prompt_tokens,
			COALESCE(SUM(completion_tokens), 0) AS completion_tokens,
			COALESCE(SUM(total_tokens), 0) AS total_tokens,
			COALESCE(SUM(image_count), 0) AS image_count,
			COALESCE(SUM(cache_creation_tokens), 0) AS cache_creation_tokens,
			COALESCE(SUM(cache_read_tokens), 0) AS cache_read_tokens`).
		Where("created_at >= ? AND created_at < ?", from.UTC(), to.UTC()).
		Scan(&row).Error
	if err != nil {
		return domain.UsageTotals{}, err
	}
	return domain.UsageTotals{
		PromptTokens:        row.PromptTokens,
		CompletionTokens:    row.CompletionTokens,
		TotalTokens:         row.TotalTokens,
		ImageCount:          row.ImageCount,
		CacheCreationTokens: row.CacheCreationTokens,
		CacheReadTokens:     row.CacheReadTokens,
	}, nil
}

// CallStats aggregates API calls created at or after since.
func (s *GormStore) CallStats(ctx context.Context, since time.Time) (domain.CallStats, error) {
	var row struct {
		TotalCalls          int64
		SuccessCalls        int64
		ErrorCalls          int64
		AvgResponseTimeMs   float64
		InputTokens         int64
		OutputTokens        int64
		CacheReadTokens     int64
		CacheCreationTokens int64
	}
	db := s.db.WithContext(ctx)
	err := db.Model(&APICallModel{}).
		Select(`COUNT(*) AS total_calls,
			COALESCE(SUM(CASE WHEN status_code >= 200 AND status_code < 300 THEN 1 ELSE 0 END), 0) AS success_calls,
			COALESCE(SUM(CASE WHEN status_code >= 400 THEN 1 ELSE 0 END), 0) AS error_calls,
			COALESCE(AVG(response_time_ms), 0) AS avg_response_time_ms,
			COALESCE(SUM(input_tokens), 0) AS input_tokens,
			COALESCE(SUM(output_tokens), 0) AS output_tokens,
			COALESCE(SUM(cache_read_tokens), 0) AS cache_read_tokens,
			COALESCE(SUM(cache_creation_tokens), 0) AS cache_creation_tokens`).
		Where("created_at >= ?", since.UTC()).
		Scan(&row).Error
	if err != nil {
		return domain.CallStats{}, err
	}
	var byModel []domain.ModelCount
	err = db.Model(&APICallModel{}).
		Select("COALESCE(model, '') AS model, COUNT(*) AS calls").
		Where("created_at >= ?", since.UTC()).
		Group("model").
		Order("calls DESC").
		Order("model ASC").
		Scan(&byModel).Error
	if err != nil {
		return domain.CallStats{}, err
	}
	if byModel == nil {
		byModel = []domain.ModelCount{}
	}
	return domain.CallStats{
		TotalCalls:          row.TotalCalls,
		SuccessCalls:        row.SuccessCalls,
		ErrorCalls:          row.ErrorCalls,
		AvgResponseTimeMs:   row.AvgResponseTimeMs,
		InputTokens:         row.InputTokens,
		OutputTokens:        row.OutputTokens,
		CacheReadTokens:     row.CacheReadTokens,
		CacheCreationTokens: row.CacheCreationTokens,
		ByModel:             byModel,
	}, nil
}

// ListAPICallsSince returns calls created at or after since, oldest first.
func (s *GormStore) ListAPICallsSince(ctx context.Context, since time.Time) ([]domain.APICall, error) {
	var models []APICallModel
	if err := s.db.WithContext(ctx).
		Where("created_at >= ?", since.UTC()).
		Order("created_at ASC").
		Order("id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.APICall, 0, len(models))
	for _, m := range models {
		out = append(out, apiCallFromModel(m))
	}
	return out, nil
}

// RecentAPICalls returns the newest calls joined with the assistant title.
func (s *GormStore) RecentAPICalls(ctx context.Context, limit int) ([]domain.RecentCall, error) {
	if limit <= 0 {
		return []domain.RecentCall{}, nil
	}
	var rows []recentCallRow
	if err := s.db.WithContext(ctx).
		Table("api_calls").
		Select("api_calls.*, assistants.title AS assistant_title").
		Joins("LEFT JOIN assistants ON assistants.id = api_calls.assistant_id").
		Order("api_calls.created_at DESC").
		Order("api_calls.id DESC").
		Limit(limit).
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.RecentCall, 0, len(rows))
	for _, r := range rows {
		call := domain.RecentCall{APICall: apiCallFromModel(r.APICallModel)}
		if r.AssistantTitle != nil {
			call.AssistantTitle = *r.AssistantTitle
		}
		out = append(out, call)
	}
	return out, nil
}

type recentCallRow struct {
	APICallModel
	AssistantTitle *string
}

func usageEventToModel(ev domain.UsageEvent) UsageEventModel {
	createdAt := ev.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return UsageEventModel{
		AssistantID:         ev.AssistantID,
		Kind:                string(ev.Kind),
		Model:               ev.Model,
		PromptTokens:        ev.PromptTokens,
		CompletionTokens:    ev.CompletionTokens,
		TotalTokens:         ev.TotalTokens,
		ImageSize:           ev.ImageSize,
		ImageCount:          ev.ImageCount,
		Provider:            ev.Provider,
		CacheCreationTokens: ev.CacheCreationTokens,
		CacheReadTokens:     ev.CacheReadTokens,
		CreatedAt:           createdAt.UTC(),
	}
}

func apiCallToModel(call domain.APICall) APICallModel {
	createdAt := call.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	var errMsg *string
	if call.ErrorMessage != "" {
		v := call.ErrorMessage
		errMsg = &v
	}
	return APICallModel{
		AssistantID:         call.AssistantID,
		Endpoint:            call.Endpoint,
		Method:              call.Method,
		StatusCode:          call.StatusCode,
		ResponseTimeMs:      call.ResponseTimeMs,
		InputTokens:         call.InputTokens,
		OutputTokens:        call.OutputTokens,
		CacheReadTokens:     call.CacheReadTokens,
		CacheCreationTokens: call.CacheCreationTokens,
		Model:               call.Model,
		Provider:            call.Provider,
		ErrorMessage:        errMsg,
		CreatedAt:           createdAt.UTC(),
	}
}

func apiCallFromModel(m APICallModel) domain.APICall {
	errMsg := ""
	if m.ErrorMessage != nil {
		errMsg = *m.ErrorMessage
	}
	return domain.APICall{
		ID:                  m.ID,
		AssistantID:         m.AssistantID,
		Endpoint:            m.Endpoint,
		Method:              m.Method,
		StatusCode:          m.StatusCode,
		ResponseTimeMs:      m.ResponseTimeMs,
		InputTokens:         m.InputTokens,
		OutputTokens:        m.OutputTokens,
		CacheReadTokens:     m.CacheReadTokens,
		CacheCreationTokens: m.CacheCreationTokens,
		Model:               m.Model,
		Provider:            m.Provider,
		ErrorMessage:        errMsg,
		CreatedAt:           m.CreatedAt,
	}
}

package telemetry

import (
	"context"
	"errors"
	"time"

	"lumosai/pkg/domain"
)

var ErrInvalidWindow = errors.New("invalid window")

const (
	DefaultWindow      = "24h"
	defaultHours       = 24
	maxHours           = 168
	defaultRecentLimit = 50
	maxRecentLimit     = 200
)

var windows = map[string]time.Duration{
	"1h":  time.Hour,
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
}

// Reader is the read side of the telemetry tables.
type Reader interface {
	SumUsage(ctx context.Context, from, to time.Time) (domain.UsageTotals, error)
	CallStats(ctx context.Context, since time.Time) (domain.CallStats, error)
	ListAPICallsSince(ctx context.Context, since time.Time) ([]domain.APICall, error)
	RecentAPICalls(ctx context.Context, limit int) ([]domain.RecentCall, error)
}

// Monitor answers usage and monitoring queries.
type Monitor struct {
	reader  Reader
	pricing Pricing
	now     func() time.Time
}

func NewMonitor(reader Reader, pricing Pricing) *Monitor {
	return &Monitor{reader: reader, pricing: pricing, now: time.Now}
}

// MonthToDate sums usage from the first instant of the current UTC month.
func (m *Monitor) MonthToDate(ctx context.Context) (Summary, error) {
	now := m.now().UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	totals, err := m.reader.SumUsage(ctx, start, start.AddDate(0, 1, 0))
	if err != nil {
		return Summary{}, err
	}
	return m.pricing.Summarize(start.Format("2006-01"), totals), nil
}

// StatsForWindow aggregates API calls of the named window. An empty window
// means 24h.
func (m *Monitor) StatsForWindow(ctx context.Context, window string) (domain.CallStats, error) {
	if window == "" {
		window = DefaultWindow
	}
	d, ok := windows[window]
	if !ok {
		return domain.CallStats{}, ErrInvalidWindow
	}
	stats, err := m.reader.CallStats(ctx, m.now().UTC().Add(-d))
	if err != nil {
		return domain.CallStats{}, err
	}
	stats.Window = window
	return stats, nil
}

// HourlyBuckets returns one bucket per hour, oldest first, ending with the
// current hour. hours is clamped to 1..168 and 0 means 24.
func (m *Monitor) HourlyBuckets(ctx context.Context, hours int) ([]domain.HourlyBucket, error) {
	hours = clamp(hours, defaultHours, maxHours)
	current := m.now().UTC().Truncate(time.Hour)
	start := current.Add(-time.Duration(hours-1) * time.Hour)
	calls, err := m.reader.ListAPICallsSince(ctx, start)
	if err != nil {
		return nil, err
	}

	buckets := make([]domain.HourlyBucket, hours)
	totals := make([]int64, hours)
	for i := range buckets {
		buckets[i].Hour = start.Add(time.Duration(i) * time.Hour)
	}
	for _, call := range calls {
		idx := int(call.CreatedAt.UTC().Truncate(time.Hour).Sub(start) / time.Hour)
		if idx < 0 || idx >= hours {
			continue
		}
		buckets[idx].Calls++
		if call.StatusCode >= 400 {
			buckets[idx].Errors++
		}
		totals[idx] += call.ResponseTimeMs
	}
	for i := range buckets {
		if buckets[i].Calls > 0 {
			buckets[i].AvgResponseTimeMs = float64(totals[i]) / float64(buckets[i].Calls)
		}
	}
	return buckets, nil
}

// RecentCalls returns the newest calls. limit is clamped to 1..200 and 0
// means 50.
func (m *Monitor) RecentCalls(ctx context.Context, limit int) ([]domain.RecentCall, error) {
	return m.reader.RecentAPICalls(ctx, clamp(limit, defaultRecentLimit, maxRecentLimit))
}

func clamp(n, def, upper int) int {
	switch {
	case n == 0:
		return def
	case n < 1:
		return 1
	case n > upper:
		return upper
	}
	return n
}

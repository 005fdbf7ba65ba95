package app

import (
	"context"

	"lumosai/pkg/domain"
	"lumosai/pkg/telemetry"
)

func (a *App) UsageSummary(ctx context.Context) (telemetry.Summary, error) {
	return a.monitor.MonthToDate(ctx)
}

// MonitoringStats fails with ErrInvalidWindow for windows other than 1h, 24h,
// 7d and 30d.
func (a *App) MonitoringStats(ctx context.Context, window string) (domain.CallStats, error) {
	return a.monitor.StatsForWindow(ctx, window)
}

func (a *App) MonitoringHourly(ctx context.Context, hours int) ([]domain.HourlyBucket, error) {
	return a.monitor.HourlyBuckets(ctx, hours)
}

func (a *App) MonitoringRecent(ctx context.Context, limit int) ([]domain.RecentCall, error) {
	calls, err := a.monitor.RecentCalls(ctx, limit)
	if err != nil {
		return nil, err
	}
	if calls == nil {
		calls = []domain.RecentCall{}
	}
	return calls, nil
}

// Package rollup rebuilds the daily, monthly and yearly summaries. Each
// level is fully replaced from a fresh aggregate over the next-finer one;
// there is no incremental update path.
package rollup

import (
	"context"
	"fmt"

	"curtailsync/pkg/storage/postgres"

	"go.uber.org/zap"
)

type Store interface {
	SumCurtailmentForDate(ctx context.Context, date string) (postgres.CurtailmentAggregate, error)
	UpsertDailySummary(ctx context.Context, s *postgres.DailySummary) error
	SumDailyForMonth(ctx context.Context, month string) (postgres.CurtailmentAggregate, int64, error)
	UpsertMonthlySummary(ctx context.Context, s *postgres.MonthlySummary) error
	SumMonthlyForYear(ctx context.Context, year string) (postgres.CurtailmentAggregate, int64, error)
	UpsertYearlySummary(ctx context.Context, s *postgres.YearlySummary) error
}

type Rollup struct {
	store  Store
	logger *zap.Logger
}

func New(store Store, logger *zap.Logger) *Rollup {
	return &Rollup{store: store, logger: logger}
}

// RecomputeDaily replaces the daily summary for a date from the base facts.
func (r *Rollup) RecomputeDaily(ctx context.Context, date string) error {
	agg, err := r.store.SumCurtailmentForDate(ctx, date)
	if err != nil {
		return fmt.Errorf("aggregate facts for %s: %w", date, err)
	}

	return r.store.UpsertDailySummary(ctx, &postgres.DailySummary{
		SettlementDate:  date,
		TotalVolumeMWh:  agg.TotalVolumeMWh,
		TotalPaymentGBP: agg.TotalPaymentGBP,
		RecordCount:     agg.RecordCount,
	})
}

// RecomputeMonthly replaces the monthly summary ("2006-01") from daily rows.
func (r *Rollup) RecomputeMonthly(ctx context.Context, month string) error {
	agg, days, err := r.store.SumDailyForMonth(ctx, month)
	if err != nil {
		return fmt.Errorf("aggregate days for %s: %w", month, err)
	}

	return r.store.UpsertMonthlySummary(ctx, &postgres.MonthlySummary{
		Month:           month,
		TotalVolumeMWh:  agg.TotalVolumeMWh,
		TotalPaymentGBP: agg.TotalPaymentGBP,
		RecordCount:     agg.RecordCount,
		DayCount:        days,
	})
}

// RecomputeYearly replaces the yearly summary ("2006") from monthly rows.
func (r *Rollup) RecomputeYearly(ctx context.Context, year string) error {
	agg, months, err := r.store.SumMonthlyForYear(ctx, year)
	if err != nil {
		return fmt.Errorf("aggregate months for %s: %w", year, err)
	}

	return r.store.UpsertYearlySummary(ctx, &postgres.YearlySummary{
		Year:            year,
		TotalVolumeMWh:  agg.TotalVolumeMWh,
		TotalPaymentGBP: agg.TotalPaymentGBP,
		RecordCount:     agg.RecordCount,
		MonthCount:      months,
	})
}

// RollupForDate runs daily, then monthly, then yearly for the levels that
// contain the date. Base-table mutations require exactly this order.
func (r *Rollup) RollupForDate(ctx context.Context, date string) error {
	if len(date) < 10 {
		return fmt.Errorf("invalid settlement date %q", date)
	}

	if err := r.RecomputeDaily(ctx, date); err != nil {
		return err
	}
	if err := r.RecomputeMonthly(ctx, date[:7]); err != nil {
		return err
	}
	if err := r.RecomputeYearly(ctx, date[:4]); err != nil {
		return err
	}

	r.logger.Debug("rollup chain complete", zap.String("date", date))
	return nil
}

package postgres

import (
	"context"

	"gorm.io/gorm/clause"
)

// Summary rows are fully replaced on every rollup, so each upsert
// overwrites all aggregate columns.

func (p *PostgresClient) UpsertDailySummary(ctx context.Context, s *DailySummary) error {
	return p.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "settlement_date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"total_volume_mwh", "total_payment_gbp", "record_count", "computed_at",
		}),
	}).Create(s).Error
}

func (p *PostgresClient) UpsertMonthlySummary(ctx context.Context, s *MonthlySummary) error {
	return p.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "month"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"total_volume_mwh", "total_payment_gbp", "record_count", "day_count", "computed_at",
		}),
	}).Create(s).Error
}

func (p *PostgresClient) UpsertYearlySummary(ctx context.Context, s *YearlySummary) error {
	return p.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "year"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"total_volume_mwh", "total_payment_gbp", "record_count", "month_count", "computed_at",
		}),
	}).Create(s).Error
}

func (p *PostgresClient) GetDailySummary(ctx context.Context, date string) (*DailySummary, error) {
	var s DailySummary
	err := p.DB.WithContext(ctx).
		Where("settlement_date = ?", date).
		First(&s).Error

	if err != nil {
		return nil, err
	}
	return &s, nil
}

// monthlyAggregate scans the SUM over daily rows plus the day count.
type monthlyAggregate struct {
	TotalVolumeMWh  float64
	TotalPaymentGBP float64
	RecordCount     int64
	DayCount        int64
}

// SumDailyForMonth aggregates daily summary rows whose date falls in the
// given "2006-01" month.
func (p *PostgresClient) SumDailyForMonth(ctx context.Context, month string) (total CurtailmentAggregate, days int64, err error) {
	var agg monthlyAggregate
	err = p.DB.WithContext(ctx).
		Model(&DailySummary{}).
		Select(
			"COALESCE(SUM(total_volume_mwh), 0) AS total_volume_mwh",
			"COALESCE(SUM(total_payment_gbp), 0) AS total_payment_gbp",
			"COALESCE(SUM(record_count), 0) AS record_count",
			"COUNT(*) AS day_count",
		).
		Where("settlement_date LIKE ?", month+"-%").
		Scan(&agg).Error

	if err != nil {
		return CurtailmentAggregate{}, 0, err
	}
	return CurtailmentAggregate{
		TotalVolumeMWh:  agg.TotalVolumeMWh,
		TotalPaymentGBP: agg.TotalPaymentGBP,
		RecordCount:     agg.RecordCount,
	}, agg.DayCount, nil
}

type yearlyAggregate struct {
	TotalVolumeMWh  float64
	TotalPaymentGBP float64
	RecordCount     int64
	MonthCount      int64
}

// SumMonthlyForYear aggregates monthly summary rows for the given "2006" year.
func (p *PostgresClient) SumMonthlyForYear(ctx context.Context, year string) (total CurtailmentAggregate, months int64, err error) {
	var agg yearlyAggregate
	err = p.DB.WithContext(ctx).
		Model(&MonthlySummary{}).
		Select(
			"COALESCE(SUM(total_volume_mwh), 0) AS total_volume_mwh",
			"COALESCE(SUM(total_payment_gbp), 0) AS total_payment_gbp",
			"COALESCE(SUM(record_count), 0) AS record_count",
			"COUNT(*) AS month_count",
		).
		Where("month LIKE ?", year+"-%").
		Scan(&agg).Error

	if err != nil {
		return CurtailmentAggregate{}, 0, err
	}
	return CurtailmentAggregate{
		TotalVolumeMWh:  agg.TotalVolumeMWh,
		TotalPaymentGBP: agg.TotalPaymentGBP,
		RecordCount:     agg.RecordCount,
	}, agg.MonthCount, nil
}

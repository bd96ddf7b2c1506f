package postgres

import (
	"context"

	"gorm.io/gorm/clause"
)

// UpsertCurtailment writes one curtailment fact keyed on
// (date, period, unit); on conflict every derived field is overwritten so
// re-ingestion converges instead of duplicating.
func (p *PostgresClient) UpsertCurtailment(ctx context.Context, record *CurtailmentRecord) error {
	return p.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "settlement_date"},
			{Name: "settlement_period"},
			{Name: "bm_unit"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"volume_mwh",
			"payment_gbp",
			"original_price",
			"final_price",
			"so_flag",
			"stor_flag",
		}),
	}).Create(record).Error
}

func (p *PostgresClient) GetCurtailment(ctx context.Context, date string, period int, unit string) (*CurtailmentRecord, error) {
	var rec CurtailmentRecord
	err := p.DB.WithContext(ctx).
		Where("settlement_date = ? AND settlement_period = ? AND bm_unit = ?", date, period, unit).
		First(&rec).Error

	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (p *PostgresClient) GetCurtailmentsForDate(ctx context.Context, date string) ([]CurtailmentRecord, error) {
	var recs []CurtailmentRecord
	err := p.DB.WithContext(ctx).
		Where("settlement_date = ?", date).
		Order("settlement_period, bm_unit").
		Find(&recs).Error

	if err != nil {
		return nil, err
	}
	return recs, nil
}

// DeleteCurtailmentsForDate removes every fact for a date. Used only by
// full reingest on dates judged incomplete; per-record upsert is preferred
// under concurrent readers.
func (p *PostgresClient) DeleteCurtailmentsForDate(ctx context.Context, date string) error {
	return p.DB.WithContext(ctx).
		Where("settlement_date = ?", date).
		Delete(&CurtailmentRecord{}).Error
}

// CurtailmentCombosForDate returns the distinct (period, unit) combinations
// with nonzero curtailed volume for a date.
func (p *PostgresClient) CurtailmentCombosForDate(ctx context.Context, date string) ([]CurtailmentCombo, error) {
	var combos []CurtailmentCombo
	err := p.DB.WithContext(ctx).
		Model(&CurtailmentRecord{}).
		Select("settlement_period", "bm_unit").
		Where("settlement_date = ? AND volume_mwh > 0", date).
		Order("settlement_period, bm_unit").
		Find(&combos).Error

	if err != nil {
		return nil, err
	}
	return combos, nil
}

// SumCurtailmentForDate aggregates nonzero facts for one date.
func (p *PostgresClient) SumCurtailmentForDate(ctx context.Context, date string) (CurtailmentAggregate, error) {
	var agg CurtailmentAggregate
	err := p.DB.WithContext(ctx).
		Model(&CurtailmentRecord{}).
		Select(
			"COALESCE(SUM(volume_mwh), 0) AS total_volume_mwh",
			"COALESCE(SUM(payment_gbp), 0) AS total_payment_gbp",
			"COUNT(*) AS record_count",
		).
		Where("settlement_date = ?", date).
		Scan(&agg).Error

	return agg, err
}

// DistinctCurtailmentDates returns every date holding at least one nonzero
// curtailment fact, ascending.
func (p *PostgresClient) DistinctCurtailmentDates(ctx context.Context) ([]string, error) {
	var dates []string
	err := p.DB.WithContext(ctx).
		Model(&CurtailmentRecord{}).
		Where("volume_mwh > 0").
		Distinct("settlement_date").
		Order("settlement_date").
		Pluck("settlement_date", &dates).Error

	if err != nil {
		return nil, err
	}
	return dates, nil
}

package postgres

import (
	"context"

	"gorm.io/gorm/clause"
)

// UpsertCalculation writes one derived calculation keyed on
// (date, period, unit, model). Recomputation with identical inputs
// overwrites with identical values.
func (p *PostgresClient) UpsertCalculation(ctx context.Context, record *CalculationRecord) error {
	return p.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "settlement_date"},
			{Name: "settlement_period"},
			{Name: "bm_unit"},
			{Name: "device_model"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"mined_btc",
			"difficulty",
			"calculated_at",
		}),
	}).Create(record).Error
}

func (p *PostgresClient) CountCalculationsForDate(ctx context.Context, date string) (int64, error) {
	var n int64
	err := p.DB.WithContext(ctx).
		Model(&CalculationRecord{}).
		Where("settlement_date = ?", date).
		Count(&n).Error

	return n, err
}

// CalculationKeysForDate returns the distinct (period, unit, model) keys
// already present for a date, used by the reconciliation set-difference.
func (p *PostgresClient) CalculationKeysForDate(ctx context.Context, date string) ([]CalculationKey, error) {
	var keys []CalculationKey
	err := p.DB.WithContext(ctx).
		Model(&CalculationRecord{}).
		Select("settlement_period", "bm_unit", "device_model").
		Where("settlement_date = ?", date).
		Order("settlement_period, bm_unit, device_model").
		Find(&keys).Error

	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (p *PostgresClient) DeleteCalculationsForDate(ctx context.Context, date string) error {
	return p.DB.WithContext(ctx).
		Where("settlement_date = ?", date).
		Delete(&CalculationRecord{}).Error
}

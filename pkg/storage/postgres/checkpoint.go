package postgres

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SaveCheckpoint upserts the named checkpoint row. It is called after every
// processed date, so the row is always a faithful resume point.
func (p *PostgresClient) SaveCheckpoint(ctx context.Context, cp *ReconcileCheckpoint) error {
	return p.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"pending_dates", "completed_dates",
			"processed", "succeeded", "failed", "timeouts",
			"updated_at",
		}),
	}).Create(cp).Error
}

// GetCheckpoint returns the named checkpoint, or nil when none exists.
func (p *PostgresClient) GetCheckpoint(ctx context.Context, name string) (*ReconcileCheckpoint, error) {
	var cp ReconcileCheckpoint
	err := p.DB.WithContext(ctx).
		Where("name = ?", name).
		First(&cp).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// DeleteCheckpoint clears a finished checkpoint.
func (p *PostgresClient) DeleteCheckpoint(ctx context.Context, name string) error {
	return p.DB.WithContext(ctx).
		Where("name = ?", name).
		Delete(&ReconcileCheckpoint{}).Error
}

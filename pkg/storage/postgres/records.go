package postgres

import "time"

// CurtailmentRecord is one accepted curtailment fact: a wind unit told to
// reduce output during one settlement period. Volume and payment are stored
// non-negative; FinalPrice is the canonical price field and
// Payment = VolumeMWh * |FinalPrice|. Lead party is resolved from the unit
// registry at read time, never stored here.
type CurtailmentRecord struct {
	ID uint `gorm:"primaryKey"`

	// unique index
	SettlementDate   string `gorm:"type:varchar(10);not null;index:idx_curtailment_date;index:idx_curtailment_date_period_unit,unique"`
	SettlementPeriod int    `gorm:"not null;index:idx_curtailment_date_period_unit,unique"`
	BMUnit           string `gorm:"type:text;not null;index:idx_curtailment_date_period_unit,unique"`

	VolumeMWh  float64 `gorm:"type:numeric;not null"`
	PaymentGBP float64 `gorm:"type:numeric;not null"`

	OriginalPrice float64 `gorm:"type:numeric;not null"`
	FinalPrice    float64 `gorm:"type:numeric;not null"`

	SOFlag   bool `gorm:"not null"`
	STORFlag bool `gorm:"not null"`

	RecordedAt time.Time `gorm:"autoCreateTime"`
}

// TableName overrides the default table name for GORM.
func (CurtailmentRecord) TableName() string {
	return "curtailment_record"
}

// CalculationRecord is the derived energy-equivalence row: how much would
// have been mined had one curtailment fact powered one device model.
// Purely derivable from curtailment facts and regenerable at any time.
type CalculationRecord struct {
	ID uint `gorm:"primaryKey"`

	// unique index
	SettlementDate   string `gorm:"type:varchar(10);not null;index:idx_calc_date;index:idx_calc_date_period_unit_model,unique"`
	SettlementPeriod int    `gorm:"not null;index:idx_calc_date_period_unit_model,unique"`
	BMUnit           string `gorm:"type:text;not null;index:idx_calc_date_period_unit_model,unique"`
	DeviceModel      string `gorm:"type:text;not null;index:idx_calc_date_period_unit_model,unique"`

	MinedBTC   float64 `gorm:"type:numeric(20,8);not null"`
	Difficulty float64 `gorm:"type:numeric;not null"`

	CalculatedAt time.Time `gorm:"not null"`
}

func (CalculationRecord) TableName() string {
	return "calculation_record"
}

// DailySummary is derived data rebuilt from curtailment facts on every
// rollup run; it is never patched incrementally. All totals are stored
// non-negative.
type DailySummary struct {
	ID uint `gorm:"primaryKey"`

	SettlementDate string `gorm:"type:varchar(10);not null;uniqueIndex:idx_daily_summary_date"`

	TotalVolumeMWh  float64 `gorm:"type:numeric;not null"`
	TotalPaymentGBP float64 `gorm:"type:numeric;not null"`
	RecordCount     int64   `gorm:"not null"`

	ComputedAt time.Time `gorm:"autoUpdateTime"`
}

func (DailySummary) TableName() string {
	return "daily_summary"
}

// MonthlySummary aggregates daily rows for one calendar month ("2006-01").
type MonthlySummary struct {
	ID uint `gorm:"primaryKey"`

	Month string `gorm:"type:varchar(7);not null;uniqueIndex:idx_monthly_summary_month"`

	TotalVolumeMWh  float64 `gorm:"type:numeric;not null"`
	TotalPaymentGBP float64 `gorm:"type:numeric;not null"`
	RecordCount     int64   `gorm:"not null"`
	DayCount        int64   `gorm:"not null"`

	ComputedAt time.Time `gorm:"autoUpdateTime"`
}

func (MonthlySummary) TableName() string {
	return "monthly_summary"
}

// YearlySummary aggregates monthly rows for one calendar year ("2006").
type YearlySummary struct {
	ID uint `gorm:"primaryKey"`

	Year string `gorm:"type:varchar(4);not null;uniqueIndex:idx_yearly_summary_year"`

	TotalVolumeMWh  float64 `gorm:"type:numeric;not null"`
	TotalPaymentGBP float64 `gorm:"type:numeric;not null"`
	RecordCount     int64   `gorm:"not null"`
	MonthCount      int64   `gorm:"not null"`

	ComputedAt time.Time `gorm:"autoUpdateTime"`
}

func (YearlySummary) TableName() string {
	return "yearly_summary"
}

// ReconcileCheckpoint is the durable progress record for batch repair.
// It is upserted after every processed date so a crashed run resumes with
// only the dates still pending.
type ReconcileCheckpoint struct {
	ID uint `gorm:"primaryKey"`

	Name string `gorm:"type:text;not null;uniqueIndex:idx_checkpoint_name"`

	// comma-separated date lists
	PendingDates   string `gorm:"type:text;not null"`
	CompletedDates string `gorm:"type:text;not null"`

	Processed int `gorm:"not null"`
	Succeeded int `gorm:"not null"`
	Failed    int `gorm:"not null"`
	Timeouts  int `gorm:"not null"`

	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (ReconcileCheckpoint) TableName() string {
	return "reconcile_checkpoint"
}

// CurtailmentCombo identifies one distinct (period, unit) curtailment
// combination within a date.
type CurtailmentCombo struct {
	SettlementPeriod int
	BMUnit           string
}

// CalculationKey identifies one stored calculation within a date.
type CalculationKey struct {
	SettlementPeriod int
	BMUnit           string
	DeviceModel      string
}

// CurtailmentAggregate is the result of summing curtailment facts for a date.
type CurtailmentAggregate struct {
	TotalVolumeMWh  float64
	TotalPaymentGBP float64
	RecordCount     int64
}

// Package storage provides an in-memory stand-in for the Postgres client,
// with the same upsert-on-natural-key and not-found semantics. Used by
// pipeline and reconciliation tests.
package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	"curtailsync/pkg/storage/postgres"

	"gorm.io/gorm"
)

type curtailKey struct {
	Date   string
	Period int
	Unit   string
}

type calcKey struct {
	Date   string
	Period int
	Unit   string
	Model  string
}

type MemoryStore struct {
	mu           sync.Mutex
	curtailments map[curtailKey]postgres.CurtailmentRecord
	calculations map[calcKey]postgres.CalculationRecord
	daily        map[string]postgres.DailySummary
	monthly      map[string]postgres.MonthlySummary
	yearly       map[string]postgres.YearlySummary
	checkpoints  map[string]postgres.ReconcileCheckpoint

	// CheckpointSaves counts SaveCheckpoint calls for persistence assertions.
	CheckpointSaves int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		curtailments: make(map[curtailKey]postgres.CurtailmentRecord),
		calculations: make(map[calcKey]postgres.CalculationRecord),
		daily:        make(map[string]postgres.DailySummary),
		monthly:      make(map[string]postgres.MonthlySummary),
		yearly:       make(map[string]postgres.YearlySummary),
		checkpoints:  make(map[string]postgres.ReconcileCheckpoint),
	}
}

// --- curtailment facts ---

func (m *MemoryStore) UpsertCurtailment(_ context.Context, record *postgres.CurtailmentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := curtailKey{record.SettlementDate, record.SettlementPeriod, record.BMUnit}
	m.curtailments[key] = *record
	return nil
}

func (m *MemoryStore) GetCurtailment(_ context.Context, date string, period int, unit string) (*postgres.CurtailmentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.curtailments[curtailKey{date, period, unit}]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	out := rec
	return &out, nil
}

func (m *MemoryStore) GetCurtailmentsForDate(_ context.Context, date string) ([]postgres.CurtailmentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var recs []postgres.CurtailmentRecord
	for key, rec := range m.curtailments {
		if key.Date == date {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].SettlementPeriod != recs[j].SettlementPeriod {
			return recs[i].SettlementPeriod < recs[j].SettlementPeriod
		}
		return recs[i].BMUnit < recs[j].BMUnit
	})
	return recs, nil
}

func (m *MemoryStore) DeleteCurtailmentsForDate(_ context.Context, date string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.curtailments {
		if key.Date == date {
			delete(m.curtailments, key)
		}
	}
	return nil
}

func (m *MemoryStore) CurtailmentCombosForDate(_ context.Context, date string) ([]postgres.CurtailmentCombo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var combos []postgres.CurtailmentCombo
	for key, rec := range m.curtailments {
		if key.Date == date && rec.VolumeMWh > 0 {
			combos = append(combos, postgres.CurtailmentCombo{
				SettlementPeriod: key.Period,
				BMUnit:           key.Unit,
			})
		}
	}
	sort.Slice(combos, func(i, j int) bool {
		if combos[i].SettlementPeriod != combos[j].SettlementPeriod {
			return combos[i].SettlementPeriod < combos[j].SettlementPeriod
		}
		return combos[i].BMUnit < combos[j].BMUnit
	})
	return combos, nil
}

func (m *MemoryStore) SumCurtailmentForDate(_ context.Context, date string) (postgres.CurtailmentAggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var agg postgres.CurtailmentAggregate
	for key, rec := range m.curtailments {
		if key.Date == date {
			agg.TotalVolumeMWh += rec.VolumeMWh
			agg.TotalPaymentGBP += rec.PaymentGBP
			agg.RecordCount++
		}
	}
	return agg, nil
}

func (m *MemoryStore) DistinctCurtailmentDates(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := map[string]bool{}
	for key, rec := range m.curtailments {
		if rec.VolumeMWh > 0 {
			seen[key.Date] = true
		}
	}
	dates := make([]string, 0, len(seen))
	for d := range seen {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates, nil
}

// --- calculations ---

func (m *MemoryStore) UpsertCalculation(_ context.Context, record *postgres.CalculationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := calcKey{record.SettlementDate, record.SettlementPeriod, record.BMUnit, record.DeviceModel}
	m.calculations[key] = *record
	return nil
}

func (m *MemoryStore) CountCalculationsForDate(_ context.Context, date string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for key := range m.calculations {
		if key.Date == date {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CalculationKeysForDate(_ context.Context, date string) ([]postgres.CalculationKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []postgres.CalculationKey
	for key := range m.calculations {
		if key.Date == date {
			keys = append(keys, postgres.CalculationKey{
				SettlementPeriod: key.Period,
				BMUnit:           key.Unit,
				DeviceModel:      key.Model,
			})
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].SettlementPeriod != keys[j].SettlementPeriod {
			return keys[i].SettlementPeriod < keys[j].SettlementPeriod
		}
		if keys[i].BMUnit != keys[j].BMUnit {
			return keys[i].BMUnit < keys[j].BMUnit
		}
		return keys[i].DeviceModel < keys[j].DeviceModel
	})
	return keys, nil
}

func (m *MemoryStore) DeleteCalculationsForDate(_ context.Context, date string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.calculations {
		if key.Date == date {
			delete(m.calculations, key)
		}
	}
	return nil
}

// GetCalculation is a test accessor for one derived row.
func (m *MemoryStore) GetCalculation(date string, period int, unit, model string) (postgres.CalculationRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.calculations[calcKey{date, period, unit, model}]
	return rec, ok
}

// --- summaries ---

func (m *MemoryStore) UpsertDailySummary(_ context.Context, s *postgres.DailySummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.daily[s.SettlementDate] = *s
	return nil
}

func (m *MemoryStore) GetDailySummary(_ context.Context, date string) (*postgres.DailySummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.daily[date]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	out := s
	return &out, nil
}

func (m *MemoryStore) SumDailyForMonth(_ context.Context, month string) (postgres.CurtailmentAggregate, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var agg postgres.CurtailmentAggregate
	var days int64
	for date, s := range m.daily {
		if strings.HasPrefix(date, month+"-") {
			agg.TotalVolumeMWh += s.TotalVolumeMWh
			agg.TotalPaymentGBP += s.TotalPaymentGBP
			agg.RecordCount += s.RecordCount
			days++
		}
	}
	return agg, days, nil
}

func (m *MemoryStore) UpsertMonthlySummary(_ context.Context, s *postgres.MonthlySummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.monthly[s.Month] = *s
	return nil
}

// GetMonthlySummary is a test accessor.
func (m *MemoryStore) GetMonthlySummary(month string) (postgres.MonthlySummary, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.monthly[month]
	return s, ok
}

func (m *MemoryStore) SumMonthlyForYear(_ context.Context, year string) (postgres.CurtailmentAggregate, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var agg postgres.CurtailmentAggregate
	var months int64
	for month, s := range m.monthly {
		if strings.HasPrefix(month, year+"-") {
			agg.TotalVolumeMWh += s.TotalVolumeMWh
			agg.TotalPaymentGBP += s.TotalPaymentGBP
			agg.RecordCount += s.RecordCount
			months++
		}
	}
	return agg, months, nil
}

func (m *MemoryStore) UpsertYearlySummary(_ context.Context, s *postgres.YearlySummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.yearly[s.Year] = *s
	return nil
}

// GetYearlySummary is a test accessor.
func (m *MemoryStore) GetYearlySummary(year string) (postgres.YearlySummary, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.yearly[year]
	return s, ok
}

// --- checkpoint ---

func (m *MemoryStore) SaveCheckpoint(_ context.Context, cp *postgres.ReconcileCheckpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints[cp.Name] = *cp
	m.CheckpointSaves++
	return nil
}

func (m *MemoryStore) GetCheckpoint(_ context.Context, name string) (*postgres.ReconcileCheckpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.checkpoints[name]
	if !ok {
		return nil, nil
	}
	out := cp
	return &out, nil
}

func (m *MemoryStore) DeleteCheckpoint(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checkpoints, name)
	return nil
}

// CurtailmentCount is a test accessor for the number of stored facts.
func (m *MemoryStore) CurtailmentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.curtailments)
}

// CalculationCount is a test accessor for the number of derived rows.
func (m *MemoryStore) CalculationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calculations)
}

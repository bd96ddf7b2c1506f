// Package calc converts curtailment facts into per-device-model
// energy-equivalence rows.
package calc

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"curtailsync/pkg/storage/postgres"

	"go.uber.org/zap"
)

// Settlement and network constants for the mined-units formula.
const (
	SettlementPeriodMinutes = 30
	BlockIntervalSeconds    = 600
	// blocks expected inside one settlement period
	BlocksPerPeriod = SettlementPeriodMinutes * 60 / BlockIntervalSeconds
)

// hashesPerDifficulty converts difficulty into expected hashes per block.
const hashesPerDifficulty = 1 << 32

// DifficultySource supplies the network difficulty for a settlement date.
type DifficultySource interface {
	Lookup(ctx context.Context, date string) float64
}

// Store is the slice of the storage layer the engine reads and writes.
type Store interface {
	GetCurtailmentsForDate(ctx context.Context, date string) ([]postgres.CurtailmentRecord, error)
	GetCurtailment(ctx context.Context, date string, period int, unit string) (*postgres.CurtailmentRecord, error)
	UpsertCalculation(ctx context.Context, record *postgres.CalculationRecord) error
}

type Engine struct {
	store       Store
	difficulty  DifficultySource
	profiles    []DeviceProfile
	blockReward float64
	batchSize   int
	logger      *zap.Logger
}

func NewEngine(store Store, difficulty DifficultySource, profiles []DeviceProfile, blockReward float64, batchSize int, logger *zap.Logger) *Engine {
	if batchSize <= 0 {
		batchSize = 50
	}
	if blockReward <= 0 {
		blockReward = 3.125
	}
	return &Engine{
		store:       store,
		difficulty:  difficulty,
		profiles:    profiles,
		blockReward: blockReward,
		batchSize:   batchSize,
		logger:      logger,
	}
}

// Profiles returns the configured device profiles.
func (e *Engine) Profiles() []DeviceProfile {
	return e.profiles
}

// MinedBTC is the deterministic energy-equivalence formula: how much one
// curtailed settlement period would have mined on the given device model.
// Rounded to 8 decimal places; identical inputs yield identical output.
func MinedBTC(volumeMWh float64, profile DeviceProfile, difficulty, blockReward float64) float64 {
	energyWh := math.Abs(volumeMWh) * 1_000_000
	deviceEnergyPerPeriodWh := profile.PowerW * (float64(SettlementPeriodMinutes) / 60)
	devicesSupportable := math.Floor(energyWh / deviceEnergyPerPeriodWh)

	totalHashrateTH := devicesSupportable * profile.HashrateTH
	networkHashrateTH := difficulty * hashesPerDifficulty / BlockIntervalSeconds / 1e12
	networkShare := totalHashrateTH / networkHashrateTH

	return round8(networkShare * blockReward * BlocksPerPeriod)
}

func round8(x float64) float64 {
	return math.Round(x*1e8) / 1e8
}

// CalculateDate derives one calculation row per nonzero curtailment fact
// per device profile. Writes run in bounded batches: concurrent within a
// batch, serial between batches, so connection fan-out stays bounded.
func (e *Engine) CalculateDate(ctx context.Context, date string) (int, error) {
	facts, err := e.store.GetCurtailmentsForDate(ctx, date)
	if err != nil {
		return 0, fmt.Errorf("load facts for %s: %w", date, err)
	}

	difficulty := e.difficulty.Lookup(ctx, date)
	records := e.buildRecords(facts, difficulty)

	written, err := e.writeBatched(ctx, records)
	if err != nil {
		return written, err
	}

	e.logger.Info("date calculated",
		zap.String("date", date),
		zap.Int("facts", len(facts)),
		zap.Int("calculations", written),
		zap.Float64("difficulty", difficulty))

	return written, nil
}

// CalculateCombination recomputes every device profile for one exact
// (date, period, unit), bypassing the rest of the date.
func (e *Engine) CalculateCombination(ctx context.Context, date string, period int, unit string) (int, error) {
	fact, err := e.store.GetCurtailment(ctx, date, period, unit)
	if err != nil {
		return 0, fmt.Errorf("load fact %s p%d %s: %w", date, period, unit, err)
	}

	difficulty := e.difficulty.Lookup(ctx, date)
	records := e.buildRecords([]postgres.CurtailmentRecord{*fact}, difficulty)
	return e.writeBatched(ctx, records)
}

// CalculateOne recomputes a single (date, period, unit, model) row.
func (e *Engine) CalculateOne(ctx context.Context, date string, period int, unit, model string) error {
	var profile *DeviceProfile
	for i := range e.profiles {
		if e.profiles[i].Name == model {
			profile = &e.profiles[i]
			break
		}
	}
	if profile == nil {
		return fmt.Errorf("unknown device model %q", model)
	}

	fact, err := e.store.GetCurtailment(ctx, date, period, unit)
	if err != nil {
		return fmt.Errorf("load fact %s p%d %s: %w", date, period, unit, err)
	}
	if fact.VolumeMWh == 0 {
		return fmt.Errorf("fact %s p%d %s has zero volume", date, period, unit)
	}

	difficulty := e.difficulty.Lookup(ctx, date)
	return e.store.UpsertCalculation(ctx, &postgres.CalculationRecord{
		SettlementDate:   date,
		SettlementPeriod: period,
		BMUnit:           unit,
		DeviceModel:      profile.Name,
		MinedBTC:         MinedBTC(fact.VolumeMWh, *profile, difficulty, e.blockReward),
		Difficulty:       difficulty,
		CalculatedAt:     time.Now().UTC(),
	})
}

func (e *Engine) buildRecords(facts []postgres.CurtailmentRecord, difficulty float64) []*postgres.CalculationRecord {
	now := time.Now().UTC()
	records := make([]*postgres.CalculationRecord, 0, len(facts)*len(e.profiles))

	for _, fact := range facts {
		if fact.VolumeMWh == 0 {
			continue
		}
		for _, profile := range e.profiles {
			records = append(records, &postgres.CalculationRecord{
				SettlementDate:   fact.SettlementDate,
				SettlementPeriod: fact.SettlementPeriod,
				BMUnit:           fact.BMUnit,
				DeviceModel:      profile.Name,
				MinedBTC:         MinedBTC(fact.VolumeMWh, profile, difficulty, e.blockReward),
				Difficulty:       difficulty,
				CalculatedAt:     now,
			})
		}
	}
	return records
}

func (e *Engine) writeBatched(ctx context.Context, records []*postgres.CalculationRecord) (int, error) {
	written := 0

	for start := 0; start < len(records); start += e.batchSize {
		end := start + e.batchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]

		var (
			mu      sync.Mutex
			wg      sync.WaitGroup
			lastErr error
			ok      int
		)

		for _, rec := range batch {
			rec := rec
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := e.store.UpsertCalculation(ctx, rec); err != nil {
					mu.Lock()
					lastErr = err
					mu.Unlock()
					return
				}
				mu.Lock()
				ok++
				mu.Unlock()
			}()
		}
		wg.Wait()

		written += ok
		if lastErr != nil {
			return written, fmt.Errorf("write calculation batch: %w", lastErr)
		}
	}

	return written, nil
}

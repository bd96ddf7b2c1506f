// Package reconcile audits expected-vs-actual calculation coverage and
// drives resumable repair of the dates that drifted.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"curtailsync/internal/calc"
	"curtailsync/internal/ingest"
	"curtailsync/pkg/storage/postgres"

	"go.uber.org/zap"
)

// CheckpointName is the durable checkpoint row used by batch repair.
const CheckpointName = "reconcile"

const (
	maxDateAttempts = 3
	baseRetryDelay  = time.Second
	defaultPause    = 500 * time.Millisecond
)

// Store is the slice of the storage layer the engine needs.
type Store interface {
	DistinctCurtailmentDates(ctx context.Context) ([]string, error)
	CurtailmentCombosForDate(ctx context.Context, date string) ([]postgres.CurtailmentCombo, error)
	SumCurtailmentForDate(ctx context.Context, date string) (postgres.CurtailmentAggregate, error)
	CountCalculationsForDate(ctx context.Context, date string) (int64, error)
	CalculationKeysForDate(ctx context.Context, date string) ([]postgres.CalculationKey, error)
	SaveCheckpoint(ctx context.Context, cp *postgres.ReconcileCheckpoint) error
	GetCheckpoint(ctx context.Context, name string) (*postgres.ReconcileCheckpoint, error)
	DeleteCheckpoint(ctx context.Context, name string) error
}

// Ingester re-ingests curtailment facts for one date.
type Ingester interface {
	IngestDate(ctx context.Context, date string) (ingest.Result, error)
}

// Calculator derives calculation rows.
type Calculator interface {
	CalculateDate(ctx context.Context, date string) (int, error)
	CalculateCombination(ctx context.Context, date string, period int, unit string) (int, error)
	CalculateOne(ctx context.Context, date string, period int, unit, model string) error
	Profiles() []calc.DeviceProfile
}

// Roller recomputes the summary chain after base-table mutations.
type Roller interface {
	RollupForDate(ctx context.Context, date string) error
}

type Engine struct {
	store      Store
	ingester   Ingester
	calculator Calculator
	roller     Roller
	logger     *zap.Logger

	// pause between critical-mode writes
	pause time.Duration
	// overridable for tests
	sleep func(ctx context.Context, d time.Duration) error
}

func NewEngine(store Store, ingester Ingester, calculator Calculator, roller Roller, logger *zap.Logger) *Engine {
	return &Engine{
		store:      store,
		ingester:   ingester,
		calculator: calculator,
		roller:     roller,
		logger:     logger,
		pause:      defaultPause,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RepairResult is the structured summary every batch command ends with.
type RepairResult struct {
	Processed   int
	Succeeded   int
	Failed      int
	Timeouts    int
	FailedDates []string
}

// Reconcile repairs every incomplete date. When a previous run left a
// checkpoint with pending dates, only those are retried; otherwise the
// scope is computed fresh from the status query.
func (e *Engine) Reconcile(ctx context.Context, batchSize int) (*RepairResult, error) {
	var dates []string

	cp, err := e.store.GetCheckpoint(ctx, CheckpointName)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if cp != nil && cp.PendingDates != "" {
		dates = splitDates(cp.PendingDates)
		e.logger.Info("resuming from checkpoint",
			zap.Int("pending", len(dates)),
			zap.Time("updated_at", cp.UpdatedAt))
	} else {
		report, err := e.Status(ctx)
		if err != nil {
			return nil, err
		}
		for _, st := range report.Incomplete {
			dates = append(dates, st.Date)
		}
	}

	if len(dates) == 0 {
		e.logger.Info("nothing to reconcile")
		return &RepairResult{}, nil
	}

	return e.ProcessDates(ctx, dates, batchSize)
}

// ProcessDates repairs the given dates in concurrent groups of batchSize.
// The checkpoint is persisted after every date, so a crash mid-run resumes
// with exactly the dates still pending. A date counts as succeeded only
// when the final coverage check says complete — never because its loop
// finished.
func (e *Engine) ProcessDates(ctx context.Context, dates []string, batchSize int) (*RepairResult, error) {
	if batchSize <= 0 {
		batchSize = 5
	}

	tracker := newTracker(dates)
	if err := e.persistCheckpoint(ctx, tracker); err != nil {
		return nil, fmt.Errorf("seed checkpoint: %w", err)
	}

	for start := 0; start < len(dates); start += batchSize {
		end := start + batchSize
		if end > len(dates) {
			end = len(dates)
		}
		group := dates[start:end]

		var wg sync.WaitGroup
		for _, date := range group {
			date := date
			wg.Add(1)

			go func() {
				defer wg.Done()

				err := e.repairDate(ctx, date)
				tracker.record(date, err)
				if err != nil {
					e.logger.Warn("date repair failed",
						zap.String("date", date),
						zap.Error(err))
				}

				// Persist progress even when the write races a sibling;
				// the tracker serialises the snapshot itself.
				if cperr := e.persistCheckpoint(ctx, tracker); cperr != nil {
					e.logger.Error("checkpoint persist failed",
						zap.String("date", date),
						zap.Error(cperr))
				}
			}()
		}
		wg.Wait()

		if ctx.Err() != nil {
			break
		}
	}

	result := tracker.result()
	e.logger.Info("batch repair finished",
		zap.Int("processed", result.Processed),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Int("timeouts", result.Timeouts))

	return result, ctx.Err()
}

// repairDate re-runs ingestion, calculation and the rollup chain for one
// date. Retryable failures get up to maxDateAttempts with doubling backoff;
// fatal ones are recorded without retry.
func (e *Engine) repairDate(ctx context.Context, date string) error {
	delay := baseRetryDelay
	var lastErr error

	for attempt := 1; attempt <= maxDateAttempts; attempt++ {
		if attempt > 1 {
			if err := e.sleep(ctx, delay); err != nil {
				return err
			}
			delay *= 2
		}

		lastErr = e.repairDateOnce(ctx, date)
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}

		e.logger.Warn("retryable repair failure",
			zap.String("date", date),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))
	}

	return fmt.Errorf("date %s failed after %d attempts: %w", date, maxDateAttempts, lastErr)
}

func (e *Engine) repairDateOnce(ctx context.Context, date string) error {
	if _, err := e.ingester.IngestDate(ctx, date); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	if _, err := e.calculator.CalculateDate(ctx, date); err != nil {
		return fmt.Errorf("calculate: %w", err)
	}
	if err := e.roller.RollupForDate(ctx, date); err != nil {
		return fmt.Errorf("rollup: %w", err)
	}

	// Completion is decided by coverage, not by the loop having finished.
	st, err := e.DateStatus(ctx, date)
	if err != nil {
		return fmt.Errorf("coverage check: %w", err)
	}
	if st.State != StateComplete {
		return fmt.Errorf("coverage %s after repair: %d/%d calculations", st.State, st.Actual, st.Expected)
	}
	return nil
}

// SpotFix recomputes every device profile for one exact (date, period,
// unit) and refreshes the summary chain.
func (e *Engine) SpotFix(ctx context.Context, date string, period int, unit string) error {
	n, err := e.calculator.CalculateCombination(ctx, date, period, unit)
	if err != nil {
		return fmt.Errorf("spot-fix %s p%d %s: %w", date, period, unit, err)
	}
	if err := e.roller.RollupForDate(ctx, date); err != nil {
		return err
	}

	e.logger.Info("spot-fix complete",
		zap.String("date", date),
		zap.Int("period", period),
		zap.String("unit", unit),
		zap.Int("calculations", n))
	return nil
}

// RepairCritical handles a date that bulk repair left partially broken:
// it computes the exact missing (period, unit, model) triples by
// set-difference and repairs them one at a time with a pause between
// writes, trading throughput for safety.
func (e *Engine) RepairCritical(ctx context.Context, date string) (int, error) {
	combos, err := e.store.CurtailmentCombosForDate(ctx, date)
	if err != nil {
		return 0, fmt.Errorf("combos for %s: %w", date, err)
	}

	existingKeys, err := e.store.CalculationKeysForDate(ctx, date)
	if err != nil {
		return 0, fmt.Errorf("calculation keys for %s: %w", date, err)
	}
	existing := make(map[postgres.CalculationKey]bool, len(existingKeys))
	for _, k := range existingKeys {
		existing[k] = true
	}

	var missing []postgres.CalculationKey
	for _, combo := range combos {
		for _, profile := range e.calculator.Profiles() {
			key := postgres.CalculationKey{
				SettlementPeriod: combo.SettlementPeriod,
				BMUnit:           combo.BMUnit,
				DeviceModel:      profile.Name,
			}
			if !existing[key] {
				missing = append(missing, key)
			}
		}
	}
	sort.Slice(missing, func(i, j int) bool {
		if missing[i].SettlementPeriod != missing[j].SettlementPeriod {
			return missing[i].SettlementPeriod < missing[j].SettlementPeriod
		}
		if missing[i].BMUnit != missing[j].BMUnit {
			return missing[i].BMUnit < missing[j].BMUnit
		}
		return missing[i].DeviceModel < missing[j].DeviceModel
	})

	e.logger.Info("critical repair starting",
		zap.String("date", date),
		zap.Int("missing", len(missing)))

	repaired := 0
	for i, key := range missing {
		if i > 0 {
			if err := e.sleep(ctx, e.pause); err != nil {
				return repaired, err
			}
		}

		err := e.calculator.CalculateOne(ctx, date, key.SettlementPeriod, key.BMUnit, key.DeviceModel)
		if err != nil {
			e.logger.Warn("critical repair write failed",
				zap.String("date", date),
				zap.Int("period", key.SettlementPeriod),
				zap.String("unit", key.BMUnit),
				zap.String("model", key.DeviceModel),
				zap.Error(err))
			continue
		}
		repaired++
	}

	if repaired > 0 {
		if err := e.roller.RollupForDate(ctx, date); err != nil {
			return repaired, err
		}
	}

	return repaired, nil
}

// --- checkpoint tracking ---

type tracker struct {
	mu        sync.Mutex
	pending   map[string]bool
	order     []string
	completed []string
	processed int
	succeeded int
	failed    int
	timeouts  int
	failedLog []string
}

func newTracker(dates []string) *tracker {
	t := &tracker{
		pending: make(map[string]bool, len(dates)),
		order:   append([]string(nil), dates...),
	}
	for _, d := range dates {
		t.pending[d] = true
	}
	return t
}

func (t *tracker) record(date string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.processed++
	if err == nil {
		delete(t.pending, date)
		t.completed = append(t.completed, date)
		t.succeeded++
		return
	}

	// Failed dates stay pending so a resumed run retries them.
	t.failed++
	t.failedLog = append(t.failedLog, date)
	if isTimeout(err) {
		t.timeouts++
	}
}

func (t *tracker) snapshot() *postgres.ReconcileCheckpoint {
	t.mu.Lock()
	defer t.mu.Unlock()

	var pending []string
	for _, d := range t.order {
		if t.pending[d] {
			pending = append(pending, d)
		}
	}

	return &postgres.ReconcileCheckpoint{
		Name:           CheckpointName,
		PendingDates:   joinDates(pending),
		CompletedDates: joinDates(t.completed),
		Processed:      t.processed,
		Succeeded:      t.succeeded,
		Failed:         t.failed,
		Timeouts:       t.timeouts,
	}
}

func (t *tracker) result() *RepairResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	return &RepairResult{
		Processed:   t.processed,
		Succeeded:   t.succeeded,
		Failed:      t.failed,
		Timeouts:    t.timeouts,
		FailedDates: append([]string(nil), t.failedLog...),
	}
}

func (e *Engine) persistCheckpoint(ctx context.Context, t *tracker) error {
	return e.store.SaveCheckpoint(ctx, t.snapshot())
}

func splitDates(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func joinDates(dates []string) string {
	return strings.Join(dates, ",")
}

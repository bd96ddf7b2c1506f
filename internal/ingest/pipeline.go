// Package ingest fetches settlement acceptances for a date and upserts the
// in-scope curtailment facts. The filter predicate and the payment formula
// live here and nowhere else.
package ingest

import (
	"context"
	"fmt"
	"math"
	"sync"

	"curtailsync/internal/units"
	"curtailsync/pkg/elexon"
	"curtailsync/pkg/storage/postgres"

	"go.uber.org/zap"
)

// PeriodsPerDay is the number of 30-minute settlement periods per day.
const PeriodsPerDay = 48

// Fetcher fetches raw acceptances for one settlement period.
type Fetcher interface {
	FetchAcceptances(ctx context.Context, date string, period int) ([]elexon.Acceptance, error)
}

// Store is the slice of the storage layer the pipeline writes through.
type Store interface {
	UpsertCurtailment(ctx context.Context, record *postgres.CurtailmentRecord) error
	DeleteCurtailmentsForDate(ctx context.Context, date string) error
}

// Result summarises one ingestion run for caller verification.
type Result struct {
	Date            string
	PeriodsOK       int
	PeriodsFailed   int
	FailedPeriods   []int
	Records         int
	TotalVolumeMWh  float64
	TotalPaymentGBP float64
}

type Pipeline struct {
	fetcher     Fetcher
	store       Store
	registry    *units.Registry
	concurrency int
	logger      *zap.Logger
}

func New(fetcher Fetcher, store Store, registry *units.Registry, concurrency int, logger *zap.Logger) *Pipeline {
	if concurrency <= 0 {
		concurrency = 5
	}
	return &Pipeline{
		fetcher:     fetcher,
		store:       store,
		registry:    registry,
		concurrency: concurrency,
		logger:      logger,
	}
}

// IsCurtailment is the canonical filter predicate: the unit must be in
// scope, the accepted volume negative (generation reduced), and at least
// one operator flag set.
func IsCurtailment(a elexon.Acceptance, registry *units.Registry) bool {
	return registry.Contains(a.BMUnit) && a.VolumeMWh < 0 && (a.SOFlag || a.STORFlag)
}

// CanonicalPayment is the canonical money formula: curtailed volume is the
// absolute accepted volume and the payment is volume times the absolute
// final (post-arbitrage) price. Both are always non-negative.
func CanonicalPayment(rawVolumeMWh, finalPrice float64) (volumeMWh, paymentGBP float64) {
	volumeMWh = math.Abs(rawVolumeMWh)
	paymentGBP = volumeMWh * math.Abs(finalPrice)
	return volumeMWh, paymentGBP
}

// IngestDate runs all 48 settlement periods for a date with bounded fetch
// concurrency. A failed period is logged and counted, never allowed to
// abort its siblings.
func (p *Pipeline) IngestDate(ctx context.Context, date string) (Result, error) {
	result := Result{Date: date}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, p.concurrency)
	)

	for period := 1; period <= PeriodsPerDay; period++ {
		period := period
		sem <- struct{}{}
		wg.Add(1)

		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			count, volume, payment, err := p.ingestPeriod(ctx, date, period)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				p.logger.Warn("period ingestion failed",
					zap.String("date", date),
					zap.Int("period", period),
					zap.Error(err))
				result.PeriodsFailed++
				result.FailedPeriods = append(result.FailedPeriods, period)
				return
			}
			result.PeriodsOK++
			result.Records += count
			result.TotalVolumeMWh += volume
			result.TotalPaymentGBP += payment
		}()
	}

	wg.Wait()

	p.logger.Info("date ingested",
		zap.String("date", date),
		zap.Int("periods_ok", result.PeriodsOK),
		zap.Int("periods_failed", result.PeriodsFailed),
		zap.Int("records", result.Records),
		zap.Float64("volume_mwh", result.TotalVolumeMWh),
		zap.Float64("payment_gbp", result.TotalPaymentGBP))

	return result, nil
}

// ReingestDate deletes every fact for the date and runs a fresh ingestion.
// Reserved for dates judged incomplete: deleting first is less safe than
// upsert under concurrent readers.
func (p *Pipeline) ReingestDate(ctx context.Context, date string) (Result, error) {
	if err := p.store.DeleteCurtailmentsForDate(ctx, date); err != nil {
		return Result{Date: date}, fmt.Errorf("delete facts for %s: %w", date, err)
	}
	return p.IngestDate(ctx, date)
}

func (p *Pipeline) ingestPeriod(ctx context.Context, date string, period int) (count int, volume, payment float64, err error) {
	recs, err := p.fetcher.FetchAcceptances(ctx, date, period)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("fetch period %d: %w", period, err)
	}

	for _, a := range recs {
		if !IsCurtailment(a, p.registry) {
			continue
		}

		vol, pay := CanonicalPayment(a.VolumeMWh, a.FinalPrice)
		record := &postgres.CurtailmentRecord{
			SettlementDate:   date,
			SettlementPeriod: period,
			BMUnit:           a.BMUnit,
			VolumeMWh:        vol,
			PaymentGBP:       pay,
			OriginalPrice:    a.OriginalPrice,
			FinalPrice:       a.FinalPrice,
			SOFlag:           a.SOFlag,
			STORFlag:         a.STORFlag,
		}

		if err := p.store.UpsertCurtailment(ctx, record); err != nil {
			return count, volume, payment, fmt.Errorf("upsert %s p%d %s: %w", date, period, a.BMUnit, err)
		}
		count++
		volume += vol
		payment += pay
	}

	return count, volume, payment, nil
}

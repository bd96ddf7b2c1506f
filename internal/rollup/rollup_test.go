package rollup

import (
	"context"
	"math"
	"testing"

	"curtailsync/pkg/storage/postgres"
	storage "curtailsync/pkg/storage/postgres/test"

	"go.uber.org/zap"
)

func seedFact(t *testing.T, store *storage.MemoryStore, date string, period int, unit string, volume, payment float64) {
	t.Helper()
	err := store.UpsertCurtailment(context.Background(), &postgres.CurtailmentRecord{
		SettlementDate:   date,
		SettlementPeriod: period,
		BMUnit:           unit,
		VolumeMWh:        volume,
		PaymentGBP:       payment,
		FinalPrice:       payment / volume,
		SOFlag:           true,
	})
	if err != nil {
		t.Fatalf("seed fact: %v", err)
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// go test -v --run TestRollupChainConsistency
func TestRollupChainConsistency(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	// Two dates in March, one in April, one in the previous year
	seedFact(t, store, "2025-03-05", 7, "T_WHILW-1", 10.0, 500.0)
	seedFact(t, store, "2025-03-05", 12, "T_GRIFW-1", 2.5, 100.0)
	seedFact(t, store, "2025-03-19", 1, "T_WHILW-1", 4.0, 100.0)
	seedFact(t, store, "2025-04-01", 30, "T_GRIFW-1", 8.0, 640.0)
	seedFact(t, store, "2024-12-31", 48, "T_WHILW-1", 1.0, 99.0)

	r := New(store, zap.NewNop())
	for _, date := range []string{"2025-03-05", "2025-03-19", "2025-04-01", "2024-12-31"} {
		if err := r.RollupForDate(ctx, date); err != nil {
			t.Fatalf("rollup %s: %v", date, err)
		}
	}

	// Daily == sum of its facts
	daily, err := store.GetDailySummary(ctx, "2025-03-05")
	if err != nil {
		t.Fatalf("daily summary: %v", err)
	}
	if !almostEqual(daily.TotalVolumeMWh, 12.5) || !almostEqual(daily.TotalPaymentGBP, 600.0) || daily.RecordCount != 2 {
		t.Errorf("unexpected daily summary: %+v", daily)
	}

	// Monthly == sum of its daily rows
	monthly, ok := store.GetMonthlySummary("2025-03")
	if !ok {
		t.Fatal("missing monthly summary for 2025-03")
	}
	if !almostEqual(monthly.TotalVolumeMWh, 16.5) || !almostEqual(monthly.TotalPaymentGBP, 700.0) {
		t.Errorf("unexpected monthly summary: %+v", monthly)
	}
	if monthly.DayCount != 2 || monthly.RecordCount != 3 {
		t.Errorf("unexpected monthly counts: %+v", monthly)
	}

	// Yearly == sum of its monthly rows; 2024 facts must not leak into 2025
	yearly, ok := store.GetYearlySummary("2025")
	if !ok {
		t.Fatal("missing yearly summary for 2025")
	}
	if !almostEqual(yearly.TotalVolumeMWh, 24.5) || !almostEqual(yearly.TotalPaymentGBP, 1340.0) {
		t.Errorf("unexpected yearly summary: %+v", yearly)
	}
	if yearly.MonthCount != 2 {
		t.Errorf("expected 2 months in 2025, got %d", yearly.MonthCount)
	}

	prevYear, ok := store.GetYearlySummary("2024")
	if !ok {
		t.Fatal("missing yearly summary for 2024")
	}
	if !almostEqual(prevYear.TotalVolumeMWh, 1.0) {
		t.Errorf("unexpected 2024 summary: %+v", prevYear)
	}
}

// go test -v --run TestRollupReplacesNotAccumulates
func TestRollupReplacesNotAccumulates(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	seedFact(t, store, "2025-03-05", 7, "T_WHILW-1", 10.0, 500.0)
	r := New(store, zap.NewNop())

	// Running the chain repeatedly must not inflate the aggregates
	for i := 0; i < 3; i++ {
		if err := r.RollupForDate(ctx, "2025-03-05"); err != nil {
			t.Fatalf("rollup run %d: %v", i, err)
		}
	}

	daily, err := store.GetDailySummary(ctx, "2025-03-05")
	if err != nil {
		t.Fatalf("daily summary: %v", err)
	}
	if !almostEqual(daily.TotalVolumeMWh, 10.0) {
		t.Errorf("daily summary accumulated across runs: %+v", daily)
	}

	monthly, _ := store.GetMonthlySummary("2025-03")
	if !almostEqual(monthly.TotalVolumeMWh, 10.0) {
		t.Errorf("monthly summary accumulated across runs: %+v", monthly)
	}
}

// go test -v --run TestRollupReflectsBaseMutation
func TestRollupReflectsBaseMutation(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	seedFact(t, store, "2025-03-05", 7, "T_WHILW-1", 10.0, 500.0)
	r := New(store, zap.NewNop())
	if err := r.RollupForDate(ctx, "2025-03-05"); err != nil {
		t.Fatalf("rollup: %v", err)
	}

	// A base-table mutation followed by the chain updates all levels
	seedFact(t, store, "2025-03-05", 8, "T_WHILW-1", 5.0, 250.0)
	if err := r.RollupForDate(ctx, "2025-03-05"); err != nil {
		t.Fatalf("second rollup: %v", err)
	}

	yearly, ok := store.GetYearlySummary("2025")
	if !ok {
		t.Fatal("missing yearly summary")
	}
	if !almostEqual(yearly.TotalVolumeMWh, 15.0) || !almostEqual(yearly.TotalPaymentGBP, 750.0) {
		t.Errorf("yearly summary did not track the mutation: %+v", yearly)
	}

	if err := r.RollupForDate(ctx, "bad"); err == nil {
		t.Error("expected error for malformed date")
	}
}

package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"curtailsync/internal/units"
	"curtailsync/pkg/elexon"
	storage "curtailsync/pkg/storage/postgres/test"

	"go.uber.org/zap"
)

func testRegistry(t *testing.T) *units.Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "units.json")
	body := `[
		{"bm_unit": "T_WHILW-1", "lead_party": "ScottishPower Renewables"},
		{"bm_unit": "T_GRIFW-1", "lead_party": "Greencoat UK Wind"}
	]`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write mapping: %v", err)
	}
	reg, err := units.Reload(path)
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}
	return reg
}

// fakeFetcher serves canned acceptances per period and can fail chosen
// periods with a transient error.
type fakeFetcher struct {
	byPeriod    map[int][]elexon.Acceptance
	failPeriods map[int]bool
	calls       int
}

func (f *fakeFetcher) FetchAcceptances(_ context.Context, date string, period int) ([]elexon.Acceptance, error) {
	f.calls++
	if f.failPeriods[period] {
		return nil, &elexon.TransientError{Op: "fetch acceptances", Err: fmt.Errorf("connection reset by peer")}
	}
	return f.byPeriod[period], nil
}

func acceptance(unit string, period int, volume, finalPrice float64, so, stor bool) elexon.Acceptance {
	return elexon.Acceptance{
		BMUnit:           unit,
		SettlementDate:   "2025-03-05",
		SettlementPeriod: period,
		VolumeMWh:        volume,
		SOFlag:           so,
		STORFlag:         stor,
		OriginalPrice:    finalPrice + 5,
		FinalPrice:       finalPrice,
	}
}

// go test -v --run TestIsCurtailment
func TestIsCurtailment(t *testing.T) {
	reg := testRegistry(t)

	cases := []struct {
		name string
		acc  elexon.Acceptance
		want bool
	}{
		{"so-flagged bid", acceptance("T_WHILW-1", 7, -10, 50, true, false), true},
		{"stor-flagged bid", acceptance("T_WHILW-1", 7, -10, 50, false, true), true},
		{"both flags", acceptance("T_WHILW-1", 7, -10, 50, true, true), true},
		{"no flags", acceptance("T_WHILW-1", 7, -10, 50, false, false), false},
		{"positive volume", acceptance("T_WHILW-1", 7, 10, 50, true, false), false},
		{"zero volume", acceptance("T_WHILW-1", 7, 0, 50, true, false), false},
		{"out-of-scope unit", acceptance("T_COAL-1", 7, -10, 50, true, false), false},
	}

	for _, tc := range cases {
		if got := IsCurtailment(tc.acc, reg); got != tc.want {
			t.Errorf("%s: IsCurtailment = %v, want %v", tc.name, got, tc.want)
		}
	}
}

// go test -v --run TestCanonicalPayment
func TestCanonicalPayment(t *testing.T) {
	// -10 MWh at £50 final price pays £500
	volume, payment := CanonicalPayment(-10.0, 50.0)
	if volume != 10.0 {
		t.Errorf("expected volume 10.0, got %v", volume)
	}
	if payment != 500.0 {
		t.Errorf("expected payment 500.0, got %v", payment)
	}

	// a negative final price must not produce a negative payment
	_, payment = CanonicalPayment(-10.0, -50.0)
	if payment != 500.0 {
		t.Errorf("expected payment stored non-negative, got %v", payment)
	}
}

// go test -v --run TestIngestDate
func TestIngestDate(t *testing.T) {
	reg := testRegistry(t)
	store := storage.NewMemoryStore()

	fetcher := &fakeFetcher{
		byPeriod: map[int][]elexon.Acceptance{
			7: {
				acceptance("T_WHILW-1", 7, -10.0, 50, true, false),
				acceptance("T_GRIFW-1", 7, -2.5, 40, false, true),
				acceptance("T_COAL-1", 7, -99.0, 50, true, true), // out of scope
				acceptance("T_WHILW-1", 7, 3.0, 50, true, false), // offer side, skipped
			},
			12: {
				acceptance("T_WHILW-1", 12, -4.0, 25, true, false),
			},
		},
	}

	p := New(fetcher, store, reg, 4, zap.NewNop())

	result, err := p.IngestDate(context.Background(), "2025-03-05")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if result.PeriodsOK != PeriodsPerDay {
		t.Errorf("expected all %d periods ok, got %d", PeriodsPerDay, result.PeriodsOK)
	}
	if result.Records != 3 {
		t.Errorf("expected 3 upserted records, got %d", result.Records)
	}
	if result.TotalVolumeMWh != 16.5 {
		t.Errorf("expected 16.5 MWh total, got %v", result.TotalVolumeMWh)
	}
	// 10*50 + 2.5*40 + 4*25 = 700
	if result.TotalPaymentGBP != 700.0 {
		t.Errorf("expected £700 total, got %v", result.TotalPaymentGBP)
	}

	rec, err := store.GetCurtailment(context.Background(), "2025-03-05", 7, "T_WHILW-1")
	if err != nil {
		t.Fatalf("get fact: %v", err)
	}
	if rec.VolumeMWh != 10.0 || rec.PaymentGBP != 500.0 {
		t.Errorf("unexpected stored fact: %+v", rec)
	}
}

// go test -v --run TestIngestDateIsIdempotent
func TestIngestDateIsIdempotent(t *testing.T) {
	reg := testRegistry(t)
	store := storage.NewMemoryStore()

	fetcher := &fakeFetcher{
		byPeriod: map[int][]elexon.Acceptance{
			1:  {acceptance("T_WHILW-1", 1, -6.0, 30, true, false)},
			48: {acceptance("T_GRIFW-1", 48, -1.5, 90, false, true)},
		},
	}

	p := New(fetcher, store, reg, 4, zap.NewNop())
	ctx := context.Background()

	first, err := p.IngestDate(ctx, "2025-03-05")
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	second, err := p.IngestDate(ctx, "2025-03-05")
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}

	if store.CurtailmentCount() != 2 {
		t.Errorf("re-ingest must not duplicate rows: got %d", store.CurtailmentCount())
	}
	if first.TotalVolumeMWh != second.TotalVolumeMWh || first.TotalPaymentGBP != second.TotalPaymentGBP {
		t.Errorf("re-ingest sums differ: %+v vs %+v", first, second)
	}

	agg, err := store.SumCurtailmentForDate(ctx, "2025-03-05")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if agg.TotalVolumeMWh != 7.5 || agg.RecordCount != 2 {
		t.Errorf("unexpected aggregate after re-ingest: %+v", agg)
	}
}

// go test -v --run TestIngestDateIsolatesPeriodFailure
func TestIngestDateIsolatesPeriodFailure(t *testing.T) {
	reg := testRegistry(t)
	store := storage.NewMemoryStore()

	// Every period carries one record; period 21 fails transiently.
	byPeriod := make(map[int][]elexon.Acceptance)
	for period := 1; period <= PeriodsPerDay; period++ {
		byPeriod[period] = []elexon.Acceptance{
			acceptance("T_WHILW-1", period, -1.0, 10, true, false),
		}
	}
	fetcher := &fakeFetcher{
		byPeriod:    byPeriod,
		failPeriods: map[int]bool{21: true},
	}

	p := New(fetcher, store, reg, 4, zap.NewNop())

	result, err := p.IngestDate(context.Background(), "2025-03-05")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if result.PeriodsFailed != 1 {
		t.Errorf("expected exactly 1 failed period, got %d", result.PeriodsFailed)
	}
	if len(result.FailedPeriods) != 1 || result.FailedPeriods[0] != 21 {
		t.Errorf("expected failed period 21, got %v", result.FailedPeriods)
	}
	if result.PeriodsOK != PeriodsPerDay-1 {
		t.Errorf("expected %d successful periods, got %d", PeriodsPerDay-1, result.PeriodsOK)
	}
	if store.CurtailmentCount() != PeriodsPerDay-1 {
		t.Errorf("expected %d stored facts, got %d", PeriodsPerDay-1, store.CurtailmentCount())
	}
}

// go test -v --run TestReingestDateReplacesFacts
func TestReingestDateReplacesFacts(t *testing.T) {
	reg := testRegistry(t)
	store := storage.NewMemoryStore()
	ctx := context.Background()

	// A stale row from a previous incomplete run
	stale := acceptance("T_WHILW-1", 30, -99.0, 10, true, false)
	staleFetcher := &fakeFetcher{byPeriod: map[int][]elexon.Acceptance{30: {stale}}}
	p := New(staleFetcher, store, reg, 4, zap.NewNop())
	if _, err := p.IngestDate(ctx, "2025-03-05"); err != nil {
		t.Fatalf("seed ingest: %v", err)
	}

	// Reingest with fresh upstream data that no longer has period 30
	fresh := &fakeFetcher{byPeriod: map[int][]elexon.Acceptance{
		7: {acceptance("T_WHILW-1", 7, -10.0, 50, true, false)},
	}}
	p = New(fresh, store, reg, 4, zap.NewNop())

	result, err := p.ReingestDate(ctx, "2025-03-05")
	if err != nil {
		t.Fatalf("reingest: %v", err)
	}

	if result.Records != 1 || store.CurtailmentCount() != 1 {
		t.Errorf("expected the stale fact to be gone: records=%d stored=%d",
			result.Records, store.CurtailmentCount())
	}
	if _, err := store.GetCurtailment(ctx, "2025-03-05", 30, "T_WHILW-1"); err == nil {
		t.Error("stale period-30 fact should have been deleted")
	}
}

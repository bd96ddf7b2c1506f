package calc

import (
	"context"
	"testing"
	"time"

	"curtailsync/config"
	"curtailsync/pkg/storage/postgres"
	storage "curtailsync/pkg/storage/postgres/test"

	"go.uber.org/zap"
)

// fixedDifficulty returns the same difficulty for every date.
type fixedDifficulty struct{ value float64 }

func (f fixedDifficulty) Lookup(context.Context, string) float64 { return f.value }

func seedFact(t *testing.T, store *storage.MemoryStore, date string, period int, unit string, volume float64) {
	t.Helper()
	err := store.UpsertCurtailment(context.Background(), &postgres.CurtailmentRecord{
		SettlementDate:   date,
		SettlementPeriod: period,
		BMUnit:           unit,
		VolumeMWh:        volume,
		PaymentGBP:       volume * 50,
		OriginalPrice:    55,
		FinalPrice:       50,
		SOFlag:           true,
	})
	if err != nil {
		t.Fatalf("seed fact: %v", err)
	}
}

func testProfiles(t *testing.T) []DeviceProfile {
	t.Helper()
	profiles, err := ProfilesFromConfig(nil)
	if err != nil {
		t.Fatalf("default profiles: %v", err)
	}
	return profiles
}

// go test -v --run TestMinedBTCDeterminism
func TestMinedBTCDeterminism(t *testing.T) {
	profile := DeviceProfile{Name: "Antminer S19 Pro", HashrateTH: 110, PowerW: 3250}

	first := MinedBTC(10.0, profile, 1e14, 3.125)
	for i := 0; i < 1000; i++ {
		if got := MinedBTC(10.0, profile, 1e14, 3.125); got != first {
			t.Fatalf("iteration %d: %v != %v", i, got, first)
		}
	}

	// rounded to exactly 8 decimal places
	if first != round8(first) {
		t.Errorf("result %v not rounded to 8dp", first)
	}
	if first <= 0 {
		t.Errorf("10 MWh on an S19 Pro must mine a positive amount, got %v", first)
	}
}

// go test -v --run TestMinedBTCFormula
func TestMinedBTCFormula(t *testing.T) {
	profile := DeviceProfile{Name: "Antminer S19 Pro", HashrateTH: 110, PowerW: 3250}

	// 10 MWh = 1e7 Wh; one S19 Pro burns 1625 Wh per 30-minute period,
	// so floor(1e7/1625) = 6153 devices at 110 TH each.
	difficulty := 1e14
	devices := 6153.0
	totalTH := devices * 110
	networkTH := difficulty * (1 << 32) / 600 / 1e12
	want := round8(totalTH / networkTH * 3.125 * 3)

	if got := MinedBTC(-10.0, profile, 1e14, 3.125); got != want {
		t.Errorf("MinedBTC = %v, want %v", got, want)
	}

	// more energy can never mine less
	if MinedBTC(20.0, profile, 1e14, 3.125) < MinedBTC(10.0, profile, 1e14, 3.125) {
		t.Error("mined amount must be monotonic in energy")
	}
}

// go test -v --run TestCalculateDate
func TestCalculateDate(t *testing.T) {
	store := storage.NewMemoryStore()
	seedFact(t, store, "2025-03-05", 7, "T_WHILW-1", 10.0)
	seedFact(t, store, "2025-03-05", 12, "T_GRIFW-1", 2.5)
	seedFact(t, store, "2025-03-05", 13, "T_GRIFW-1", 0) // zero volume, no calculations

	engine := NewEngine(store, fixedDifficulty{1e14}, testProfiles(t), 3.125, 50, zap.NewNop())

	n, err := engine.CalculateDate(context.Background(), "2025-03-05")
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}

	// 2 nonzero facts x 3 profiles
	if n != 6 {
		t.Errorf("expected 6 calculations, got %d", n)
	}
	if store.CalculationCount() != 6 {
		t.Errorf("expected 6 stored rows, got %d", store.CalculationCount())
	}

	for _, profile := range engine.Profiles() {
		rec, ok := store.GetCalculation("2025-03-05", 7, "T_WHILW-1", profile.Name)
		if !ok {
			t.Fatalf("missing calculation for %s", profile.Name)
		}
		if rec.Difficulty != 1e14 {
			t.Errorf("%s: difficulty %v not persisted", profile.Name, rec.Difficulty)
		}
		if want := MinedBTC(10.0, profile, 1e14, 3.125); rec.MinedBTC != want {
			t.Errorf("%s: mined %v, want %v", profile.Name, rec.MinedBTC, want)
		}
	}
}

// go test -v --run TestCalculateDateOverwritesDeterministically
func TestCalculateDateOverwritesDeterministically(t *testing.T) {
	store := storage.NewMemoryStore()
	seedFact(t, store, "2025-03-05", 7, "T_WHILW-1", 10.0)

	engine := NewEngine(store, fixedDifficulty{1e14}, testProfiles(t), 3.125, 50, zap.NewNop())
	ctx := context.Background()

	if _, err := engine.CalculateDate(ctx, "2025-03-05"); err != nil {
		t.Fatalf("first run: %v", err)
	}
	first, _ := store.GetCalculation("2025-03-05", 7, "T_WHILW-1", "Antminer S19 Pro")

	time.Sleep(time.Millisecond)
	if _, err := engine.CalculateDate(ctx, "2025-03-05"); err != nil {
		t.Fatalf("second run: %v", err)
	}
	second, _ := store.GetCalculation("2025-03-05", 7, "T_WHILW-1", "Antminer S19 Pro")

	if store.CalculationCount() != 3 {
		t.Errorf("recompute must not duplicate rows: got %d", store.CalculationCount())
	}
	if first.MinedBTC != second.MinedBTC || first.Difficulty != second.Difficulty {
		t.Errorf("identical inputs produced different values: %+v vs %+v", first, second)
	}
}

// go test -v --run TestCalculateCombination
func TestCalculateCombination(t *testing.T) {
	store := storage.NewMemoryStore()
	seedFact(t, store, "2025-03-05", 7, "T_WHILW-1", 10.0)
	seedFact(t, store, "2025-03-05", 12, "T_GRIFW-1", 2.5)

	engine := NewEngine(store, fixedDifficulty{1e14}, testProfiles(t), 3.125, 50, zap.NewNop())

	n, err := engine.CalculateCombination(context.Background(), "2025-03-05", 7, "T_WHILW-1")
	if err != nil {
		t.Fatalf("calculate combination: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 calculations for one combination, got %d", n)
	}
	// the sibling combination is untouched
	if store.CalculationCount() != 3 {
		t.Errorf("expected only the target combination written, got %d rows", store.CalculationCount())
	}
}

// go test -v --run TestCalculateOneUnknownModel
func TestCalculateOneUnknownModel(t *testing.T) {
	store := storage.NewMemoryStore()
	seedFact(t, store, "2025-03-05", 7, "T_WHILW-1", 10.0)

	engine := NewEngine(store, fixedDifficulty{1e14}, testProfiles(t), 3.125, 50, zap.NewNop())

	err := engine.CalculateOne(context.Background(), "2025-03-05", 7, "T_WHILW-1", "Antminer S9")
	if err == nil {
		t.Error("expected error for unknown device model")
	}
}

// go test -v --run TestProfilesFromConfig
func TestProfilesFromConfig(t *testing.T) {
	defaults, err := ProfilesFromConfig(nil)
	if err != nil || len(defaults) != 3 {
		t.Fatalf("expected 3 default profiles, got %d (err %v)", len(defaults), err)
	}

	if _, err := ProfilesFromConfig([]config.DeviceProfile{
		{Name: "X", HashrateTH: 100, PowerW: 3000},
		{Name: "X", HashrateTH: 90, PowerW: 2800},
	}); err == nil {
		t.Error("expected error for duplicate profile name")
	}

	if _, err := ProfilesFromConfig([]config.DeviceProfile{
		{Name: "Y", HashrateTH: 0, PowerW: 3000},
	}); err == nil {
		t.Error("expected error for non-positive hashrate")
	}
}

package postgres_test

import (
	"context"
	"testing"
	"time"

	"curtailsync/config"
	"curtailsync/pkg/storage/postgres"
)

// go test -v --run ^TestPostgresInvalidDSN$
func TestPostgresInvalidDSN(t *testing.T) {
	invalidDSN := "host=invalid port=5432 user=fail password=fail dbname=fail sslmode=disable"

	_, err := postgres.NewClient(invalidDSN)
	if err == nil {
		t.Fatal("expected error for invalid DSN, got nil")
	}
}

func localClient(t *testing.T) *postgres.PostgresClient {
	t.Helper()

	cfg := config.PostgresConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "yourpw",
		DBName:   "curtailsync",
		SSLMode:  "disable",
		TimeZone: "UTC",
	}

	client, err := postgres.NewClient(cfg.DSN("dev"))
	if err != nil {
		t.Skipf("postgres not reachable, skipping: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if !client.IsHealthy(ctx) {
		t.Skip("postgres not healthy, skipping")
	}

	if err := client.AutoMigrateAll(); err != nil {
		t.Fatalf("auto migration failed: %v", err)
	}
	return client
}

// go test -v --run TestCurtailmentCRUD
func TestCurtailmentCRUD(t *testing.T) {
	client := localClient(t)
	defer client.Close()

	ctx := context.Background()
	date := "1999-01-02" // out of the real data range

	if err := client.DeleteCurtailmentsForDate(ctx, date); err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}

	// Create
	record := &postgres.CurtailmentRecord{
		SettlementDate:   date,
		SettlementPeriod: 7,
		BMUnit:           "T_WHILW-1",
		VolumeMWh:        12.5,
		PaymentGBP:       625.0,
		OriginalPrice:    55.0,
		FinalPrice:       50.0,
		SOFlag:           true,
	}
	if err := client.UpsertCurtailment(ctx, record); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	// Read
	got, err := client.GetCurtailment(ctx, date, 7, "T_WHILW-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.VolumeMWh != 12.5 || got.PaymentGBP != 625.0 {
		t.Errorf("unexpected curtailment values: %+v", got)
	}

	// Upsert the same key with corrected facts
	record.VolumeMWh = 13.0
	record.PaymentGBP = 650.0
	if err := client.UpsertCurtailment(ctx, record); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	updated, err := client.GetCurtailment(ctx, date, 7, "T_WHILW-1")
	if err != nil {
		t.Fatalf("get after upsert failed: %v", err)
	}
	if updated.VolumeMWh != 13.0 {
		t.Errorf("conflicting upsert did not replace values: %+v", updated)
	}

	// Aggregate
	agg, err := client.SumCurtailmentForDate(ctx, date)
	if err != nil {
		t.Fatalf("sum failed: %v", err)
	}
	if agg.TotalVolumeMWh != 13.0 || agg.RecordCount != 1 {
		t.Errorf("unexpected aggregate: %+v", agg)
	}

	// Delete
	if err := client.DeleteCurtailmentsForDate(ctx, date); err != nil {
		t.Errorf("delete failed: %v", err)
	}
	_, err = client.GetCurtailment(ctx, date, 7, "T_WHILW-1")
	if err == nil {
		t.Error("expected error after delete, got nil")
	}
}

// go test -v --run TestCheckpointRoundTrip
func TestCheckpointRoundTrip(t *testing.T) {
	client := localClient(t)
	defer client.Close()

	ctx := context.Background()
	name := "crud-test"

	if err := client.DeleteCheckpoint(ctx, name); err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}

	cp := &postgres.ReconcileCheckpoint{
		Name:         name,
		PendingDates: "2025-03-05,2025-03-06",
		Processed:    2,
		Failed:       2,
	}
	if err := client.SaveCheckpoint(ctx, cp); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := client.GetCheckpoint(ctx, name)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got == nil || got.PendingDates != "2025-03-05,2025-03-06" {
		t.Errorf("unexpected checkpoint: %+v", got)
	}

	// Overwrite by name
	cp.PendingDates = "2025-03-06"
	cp.Succeeded = 1
	if err := client.SaveCheckpoint(ctx, cp); err != nil {
		t.Fatalf("second save failed: %v", err)
	}
	got, err = client.GetCheckpoint(ctx, name)
	if err != nil {
		t.Fatalf("get after save failed: %v", err)
	}
	if got.PendingDates != "2025-03-06" || got.Succeeded != 1 {
		t.Errorf("checkpoint was not replaced: %+v", got)
	}

	if err := client.DeleteCheckpoint(ctx, name); err != nil {
		t.Errorf("delete failed: %v", err)
	}
	got, err = client.GetCheckpoint(ctx, name)
	if err != nil {
		t.Fatalf("get after delete failed: %v", err)
	}
	if got != nil {
		t.Error("expected no checkpoint after delete")
	}
}

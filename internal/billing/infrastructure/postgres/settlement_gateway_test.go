package postgres_test

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	billingpostgres "billing-recon/internal/billing/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func TestSettlementGateway_Postgres(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, billingpostgres.Schema); err != nil {
		t.Skipf("create bank_settlements: %v", err)
	}
	_, _ = db.ExecContext(ctx, "DELETE FROM bank_settlements WHERE invoice_ref LIKE 'it-%'")

	first := time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC)
	second := time.Date(2024, time.March, 9, 0, 0, 0, 0, time.UTC)
	for _, row := range []struct {
		ref  string
		date time.Time
	}{
		{"it-001", second},
		{"it-001", first},
		{"it-002", second},
	} {
		if _, err := db.ExecContext(ctx, "INSERT INTO bank_settlements (invoice_ref, confirmed_date) VALUES ($1, $2)", row.ref, row.date); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	gateway, err := billingpostgres.NewSettlementGateway(db)
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	records, err := gateway.VerifySettlements(ctx, []string{"it-001", "it-002", "it-404"})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].InvoiceRef != "it-001" || !records[0].ConfirmedDate.Equal(first) {
		t.Fatalf("expected earliest confirmation for it-001, got %+v", records[0])
	}
	if records[1].InvoiceRef != "it-002" {
		t.Fatalf("unexpected second record %+v", records[1])
	}
}

func TestSettlementGateway_NilDB(t *testing.T) {
	if _, err := billingpostgres.NewSettlementGateway(nil); err == nil {
		t.Fatalf("expected error for nil db")
	}
}

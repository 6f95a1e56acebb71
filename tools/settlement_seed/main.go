package main

import (
	"context"
	"database/sql"
	"flag"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sirupsen/logrus"

	billing "billing-recon/internal/billing/domain"
	billingpostgres "billing-recon/internal/billing/infrastructure/postgres"
	"billing-recon/internal/billing/infrastructure/rpcgateway"
)

type config struct {
	dsn          string
	gatewayURL   string
	gatewayToken string
	from         string
	to           string
	confirmRate  float64
	maxDelayDays int
	seed         int64
	batchSize    int
	createSchema bool
	bankCode     string
}

// seedRow is one bank confirmation to insert.
type seedRow struct {
	InvoiceRef    string
	ConfirmedDate time.Time
	Amount        float64
}

func main() {
	cfg := parseConfig()
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if cfg.dsn == "" {
		logger.Fatal("PG_DSN or DATABASE_URL is required")
	}
	if cfg.gatewayURL == "" {
		logger.Fatal("gateway-url is required")
	}
	if cfg.confirmRate < 0 || cfg.confirmRate > 1 {
		logger.Fatal("confirm-rate must be within [0,1]")
	}
	if cfg.batchSize <= 0 {
		logger.Fatal("batch-size must be > 0")
	}

	rng, err := parseRange(cfg.from, cfg.to)
	if err != nil {
		logger.WithError(err).Fatal("invalid range")
	}

	db, err := sql.Open("pgx", cfg.dsn)
	if err != nil {
		logger.WithError(err).Fatal("open db")
	}
	defer db.Close()

	ctx := context.Background()
	if cfg.createSchema {
		if _, err := db.ExecContext(ctx, billingpostgres.Schema); err != nil {
			logger.WithError(err).Fatal("create schema")
		}
	}

	client, err := rpcgateway.NewClient(cfg.gatewayURL,
		rpcgateway.WithToken(cfg.gatewayToken),
		rpcgateway.WithLogger(logger),
	)
	if err != nil {
		logger.WithError(err).Fatal("gateway client")
	}
	invoices, err := client.FetchInvoices(ctx, nil, rng)
	if err != nil {
		logger.WithError(err).Fatal("fetch invoices")
	}

	rows := pickConfirmations(rand.New(rand.NewSource(cfg.seed)), invoices, cfg.confirmRate, cfg.maxDelayDays)
	logger.WithFields(logrus.Fields{
		"range":     rng.String(),
		"invoices":  len(invoices),
		"confirmed": len(rows),
	}).Info("seeding bank settlements")

	if err := seedSettlements(ctx, db, cfg.bankCode, rows, cfg.batchSize, logger); err != nil {
		logger.WithError(err).Fatal("seed settlements")
	}
	logger.Info("settlement seed completed")
}

func parseConfig() config {
	cfg := config{}
	flag.StringVar(&cfg.dsn, "pg-dsn", envOrDefault("PG_DSN", envOrDefault("DATABASE_URL", "")), "Postgres DSN")
	flag.StringVar(&cfg.gatewayURL, "gateway-url", envOrDefault("BILLING_GATEWAY_URL", ""), "billing RPC gateway base URL")
	flag.StringVar(&cfg.gatewayToken, "gateway-token", envOrDefault("BILLING_GATEWAY_TOKEN", ""), "billing RPC gateway token")
	flag.StringVar(&cfg.from, "from", envOrDefault("SEED_FROM", ""), "first billing period (YYYY-MM)")
	flag.StringVar(&cfg.to, "to", envOrDefault("SEED_TO", ""), "last billing period (YYYY-MM)")
	flag.Float64Var(&cfg.confirmRate, "confirm-rate", envOrFloat("SEED_CONFIRM_RATE", 0.5), "share of ledger-open invoices the bank confirms")
	flag.IntVar(&cfg.maxDelayDays, "max-delay-days", envOrInt("SEED_MAX_DELAY_DAYS", 45), "latest confirmation offset from the period start")
	flag.Int64Var(&cfg.seed, "seed", int64(envOrInt("SEED", 1)), "random seed")
	flag.IntVar(&cfg.batchSize, "batch-size", envOrInt("SEED_BATCH_SIZE", 500), "rows per transaction")
	flag.BoolVar(&cfg.createSchema, "create-schema", envOrBool("SEED_CREATE_SCHEMA", true), "create the bank_settlements table when missing")
	flag.StringVar(&cfg.bankCode, "bank-code", envOrDefault("SEED_BANK_CODE", "SEED"), "bank code written on seeded rows")
	flag.Parse()
	return cfg
}

func parseRange(from, to string) (billing.PeriodRange, error) {
	if strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" {
		now := time.Now().UTC()
		last := billing.PeriodOf(now)
		first := billing.PeriodOf(now.AddDate(0, -11, 0))
		return billing.PeriodRange{From: first, To: last}, nil
	}
	start, err := time.Parse("2006-01", strings.TrimSpace(from))
	if err != nil {
		return billing.PeriodRange{}, err
	}
	end, err := time.Parse("2006-01", strings.TrimSpace(to))
	if err != nil {
		return billing.PeriodRange{}, err
	}
	rng := billing.PeriodRange{From: billing.PeriodOf(start), To: billing.PeriodOf(end)}
	return rng, rng.Validate()
}

// pickConfirmations chooses which ledger-open invoices the bank confirms and when.
// Some confirmations land after the billing period so late payers show up in reports.
func pickConfirmations(rnd *rand.Rand, invoices []billing.Invoice, rate float64, maxDelayDays int) []seedRow {
	sorted := append([]billing.Invoice(nil), invoices...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].InvoiceRef < sorted[j].InvoiceRef })

	if maxDelayDays < 1 {
		maxDelayDays = 1
	}
	var rows []seedRow
	seen := make(map[string]struct{})
	for _, inv := range sorted {
		if inv.SettledInLedger() || inv.InvoiceRef == "" {
			continue
		}
		if _, dup := seen[inv.InvoiceRef]; dup {
			continue
		}
		seen[inv.InvoiceRef] = struct{}{}
		if rnd.Float64() >= rate {
			continue
		}
		rows = append(rows, seedRow{
			InvoiceRef:    inv.InvoiceRef,
			ConfirmedDate: inv.Period.Start().AddDate(0, 0, rnd.Intn(maxDelayDays)),
			Amount:        inv.DueAmount,
		})
	}
	return rows
}

func seedSettlements(ctx context.Context, db *sql.DB, bankCode string, rows []seedRow, batchSize int, logger logrus.FieldLogger) error {
	const insertSQL = `
INSERT INTO bank_settlements (
	invoice_ref,
	confirmed_date,
	bank_code,
	amount
) VALUES (
	$1,$2,$3,$4
)
ON CONFLICT (invoice_ref, confirmed_date)
DO UPDATE SET
	bank_code = EXCLUDED.bank_code,
	amount = EXCLUDED.amount`

	for start := 0; start < len(rows); start += batchSize {
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, insertSQL)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		for _, row := range rows[start:end] {
			if _, err := stmt.ExecContext(ctx, row.InvoiceRef, row.ConfirmedDate, bankCode, row.Amount); err != nil {
				_ = stmt.Close()
				_ = tx.Rollback()
				return err
			}
		}
		if err := stmt.Close(); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		logger.WithFields(logrus.Fields{"rows": end, "total": len(rows)}).Info("seeded settlement batch")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func envOrFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return value
}

func envOrBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sirupsen/logrus"

	"billing-recon/internal/billing/application"
	billing "billing-recon/internal/billing/domain"
	billingpostgres "billing-recon/internal/billing/infrastructure/postgres"
	"billing-recon/internal/billing/infrastructure/rpcgateway"
	"billing-recon/internal/billing/infrastructure/spreadsheet"
)

type config struct {
	dbURL          string
	gatewayURL     string
	gatewayToken   string
	lockLogPath    string
	lockLogSheet   string
	from           string
	to             string
	routeBatch     string
	outDir         string
	legacyWorklist string
	tolerance      float64
	timeout        time.Duration
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := os.MkdirAll(cfg.outDir, 0o755); err != nil {
		logger.WithError(err).Fatal("create out dir")
	}

	rng, err := parseRange(cfg.from, cfg.to)
	if err != nil {
		logger.WithError(err).Fatal("invalid range")
	}

	db, err := sql.Open("pgx", cfg.dbURL)
	if err != nil {
		logger.WithError(err).Fatal("db open")
	}
	defer db.Close()

	reports, err := buildService(cfg, db, logger)
	if err != nil {
		logger.WithError(err).Fatal("build report service")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()

	filter := application.RowFilter{RouteBatch: cfg.routeBatch}
	debts, err := reports.GetOutstandingDebtList(ctx, application.DebtListParams{Range: rng, Filter: filter})
	if err != nil {
		logger.WithError(err).Fatal("outstanding debt")
	}
	if err := writeJSONFile(cfg.outDir, "outstanding_debt.json", debts); err != nil {
		logger.WithError(err).Fatal("write outstanding debt")
	}

	punctuality, err := reports.GetPunctualityAnalysis(ctx, rng, application.PunctualityFilters{RowFilter: filter})
	if err != nil {
		logger.WithError(err).Fatal("punctuality")
	}
	if err := writeJSONFile(cfg.outDir, "punctuality.json", punctuality); err != nil {
		logger.WithError(err).Fatal("write punctuality")
	}

	summary, err := reports.GetYearlyAndPeriodCountDebtSummary(ctx, application.SummaryFilters{Range: rng, Filter: filter})
	if err != nil {
		logger.WithError(err).Fatal("debt summary")
	}
	if err := writeJSONFile(cfg.outDir, "debt_summary.json", summary); err != nil {
		logger.WithError(err).Fatal("write debt summary")
	}

	collections, err := reports.GetWeeklyCollectionReport(ctx, application.CollectionParams{
		From:   rng.From.Start(),
		To:     rng.To.End(),
		Filter: filter,
	})
	if err != nil {
		logger.WithError(err).Fatal("collections")
	}
	if err := writeJSONFile(cfg.outDir, "collections.json", collections); err != nil {
		logger.WithError(err).Fatal("write collections")
	}

	if cfg.legacyWorklist != "" {
		legacy, err := loadLegacyWorklist(cfg.legacyWorklist)
		if err != nil {
			logger.WithError(err).Fatal("load legacy worklist")
		}
		diff := diffWorklists(debts.Records, legacy, cfg.tolerance)
		if err := writeJSONFile(cfg.outDir, "worklist_diff.json", diff); err != nil {
			logger.WithError(err).Fatal("write worklist diff")
		}
		logger.WithFields(logrus.Fields{
			"only_engine": len(diff.OnlyEngine),
			"only_legacy": len(diff.OnlyLegacy),
			"mismatched":  len(diff.Mismatched),
			"matched":     diff.Matched,
		}).Info("worklist compared with legacy export")
	}

	logger.WithFields(logrus.Fields{"out": cfg.outDir, "range": rng.String()}).Info("reconciliation outputs written")
}

func buildService(cfg config, db *sql.DB, logger logrus.FieldLogger) (*application.ReportService, error) {
	reportCfg, err := application.LoadConfig()
	if err != nil {
		return nil, err
	}
	gateway, err := rpcgateway.NewClient(cfg.gatewayURL,
		rpcgateway.WithToken(cfg.gatewayToken),
		rpcgateway.WithStrictSchema(reportCfg.StrictSchema),
		rpcgateway.WithHTTPClient(&http.Client{Timeout: cfg.timeout}),
		rpcgateway.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	settlements, err := billingpostgres.NewSettlementGateway(db)
	if err != nil {
		return nil, err
	}
	lockLog, err := spreadsheet.NewLockLog(cfg.lockLogPath,
		spreadsheet.WithSheet(cfg.lockLogSheet),
		spreadsheet.WithStrictSchema(reportCfg.StrictSchema),
		spreadsheet.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	return application.NewReportService(gateway, gateway, settlements, lockLog, reportCfg, application.WithLogger(logger))
}

func parseFlags() (config, error) {
	var cfg config
	flag.StringVar(&cfg.dbURL, "db", getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")), "Postgres DSN holding bank settlements")
	flag.StringVar(&cfg.gatewayURL, "gateway", getenvDefault("BILLING_GATEWAY_URL", ""), "billing RPC gateway base URL")
	flag.StringVar(&cfg.gatewayToken, "gateway-token", getenvDefault("BILLING_GATEWAY_TOKEN", ""), "billing RPC gateway token")
	flag.StringVar(&cfg.lockLogPath, "lock-log", getenvDefault("LOCK_LOG_PATH", ""), "lock/unlock log workbook (.xlsx)")
	flag.StringVar(&cfg.lockLogSheet, "lock-log-sheet", getenvDefault("LOCK_LOG_SHEET", ""), "lock log sheet name (default: first sheet)")
	flag.StringVar(&cfg.from, "from", "", "first billing period in YYYY-MM")
	flag.StringVar(&cfg.to, "to", "", "last billing period in YYYY-MM")
	flag.StringVar(&cfg.routeBatch, "route", "", "restrict to one route batch (optional)")
	flag.StringVar(&cfg.outDir, "out", "./out", "output directory")
	flag.StringVar(&cfg.legacyWorklist, "legacy-worklist-csv", "", "legacy outstanding-debt export to compare against (optional)")
	flag.Float64Var(&cfg.tolerance, "tolerance", 0.01, "amount difference ignored when comparing with the legacy export")
	flag.DurationVar(&cfg.timeout, "timeout", 5*time.Minute, "overall run timeout")
	flag.Parse()

	if cfg.dbURL == "" {
		return cfg, errors.New("missing --db or DATABASE_URL/PG_DSN")
	}
	if cfg.gatewayURL == "" {
		return cfg, errors.New("missing --gateway or BILLING_GATEWAY_URL")
	}
	if cfg.lockLogPath == "" {
		return cfg, errors.New("missing --lock-log or LOCK_LOG_PATH")
	}
	if cfg.from == "" || cfg.to == "" {
		return cfg, errors.New("missing --from/--to (YYYY-MM)")
	}
	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func parseRange(from, to string) (billing.PeriodRange, error) {
	start, err := parseMonth(from)
	if err != nil {
		return billing.PeriodRange{}, err
	}
	end, err := parseMonth(to)
	if err != nil {
		return billing.PeriodRange{}, err
	}
	rng := billing.PeriodRange{From: start, To: end}
	return rng, rng.Validate()
}

func parseMonth(value string) (billing.Period, error) {
	parsed, err := time.Parse("2006-01", strings.TrimSpace(value))
	if err != nil {
		return billing.Period{}, fmt.Errorf("month must be YYYY-MM: %w", err)
	}
	return billing.PeriodOf(parsed), nil
}

func writeJSONFile(outDir, name string, payload any) error {
	file, err := os.Create(filepath.Join(outDir, name))
	if err != nil {
		return err
	}
	defer file.Close()
	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}

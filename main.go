package main

import (
	"database/sql"
	"net/http"
	"os"
	"strconv"
	"time"

	"billing-recon/internal/billing/application"
	billingmemory "billing-recon/internal/billing/infrastructure/memory"
	billingpostgres "billing-recon/internal/billing/infrastructure/postgres"
	"billing-recon/internal/billing/infrastructure/rpcgateway"
	"billing-recon/internal/billing/infrastructure/spreadsheet"
	billinghttp "billing-recon/internal/billing/interfaces/http"
	"billing-recon/internal/observability/metrics"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)

	reportCfg, err := application.LoadConfig()
	if err != nil {
		logger.WithError(err).Fatal("report config error")
	}
	if cfg.DirectoryTTL > 0 {
		reportCfg.DirectoryTTL = cfg.DirectoryTTL
	}
	if cfg.PeriodCountCap > 0 {
		reportCfg.PeriodCountCap = cfg.PeriodCountCap
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.WithError(err).Fatal("db open error")
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.WithError(err).Fatal("db ping error")
	}

	metrics.Init(db, logger)

	gatewayClient, err := rpcgateway.NewClient(cfg.GatewayURL,
		rpcgateway.WithToken(cfg.GatewayToken),
		rpcgateway.WithStrictSchema(reportCfg.StrictSchema),
		rpcgateway.WithHTTPClient(&http.Client{Timeout: cfg.GatewayTimeout}),
		rpcgateway.WithLogger(logger.WithField("source", "rpcgateway")),
	)
	if err != nil {
		logger.WithError(err).Fatal("rpc gateway client error")
	}
	directory, err := billingmemory.NewCachedDirectory(gatewayClient, reportCfg.DirectoryTTL)
	if err != nil {
		logger.WithError(err).Fatal("directory cache error")
	}
	settlements, err := billingpostgres.NewSettlementGateway(db,
		billingpostgres.WithTable(cfg.SettlementTable),
		billingpostgres.WithQueryTimeout(cfg.SettlementTimeout),
	)
	if err != nil {
		logger.WithError(err).Fatal("settlement gateway error")
	}
	lockLog, err := spreadsheet.NewLockLog(cfg.LockLogPath,
		spreadsheet.WithSheet(cfg.LockLogSheet),
		spreadsheet.WithStrictSchema(reportCfg.StrictSchema),
		spreadsheet.WithLogger(logger.WithField("source", "lock_log")),
	)
	if err != nil {
		logger.WithError(err).Fatal("lock log error")
	}

	reports, err := application.NewReportService(
		gatewayClient,
		directory,
		settlements,
		lockLog,
		reportCfg,
		application.WithLogger(logger),
	)
	if err != nil {
		logger.WithError(err).Fatal("report service error")
	}

	reportHandler, err := billinghttp.NewHandler(reports, directory, logger)
	if err != nil {
		logger.WithError(err).Fatal("report handler error")
	}

	mux := http.NewServeMux()
	mux.Handle("/api/v1/reports/", reportHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(mux, logger)}
	logger.WithField("addr", cfg.HTTPAddr).Info("http listening")
	logger.Fatal(server.ListenAndServe())
}

type config struct {
	DatabaseURL       string
	HTTPAddr          string
	LogLevel          string
	GatewayURL        string
	GatewayToken      string
	GatewayTimeout    time.Duration
	SettlementTable   string
	SettlementTimeout time.Duration
	LockLogPath       string
	LockLogSheet      string
	DirectoryTTL      time.Duration
	PeriodCountCap    int
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:       getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:          getenvDefault("HTTP_ADDR", ":8080"),
		LogLevel:          getenvDefault("LOG_LEVEL", "info"),
		GatewayURL:        getenvDefault("BILLING_GATEWAY_URL", ""),
		GatewayToken:      getenvDefault("BILLING_GATEWAY_TOKEN", ""),
		GatewayTimeout:    getenvDuration("BILLING_GATEWAY_TIMEOUT", 10*time.Second),
		SettlementTable:   getenvDefault("SETTLEMENT_TABLE", "bank_settlements"),
		SettlementTimeout: getenvDuration("SETTLEMENT_QUERY_TIMEOUT", 15*time.Second),
		LockLogPath:       getenvDefault("LOCK_LOG_PATH", ""),
		LockLogSheet:      getenvDefault("LOCK_LOG_SHEET", ""),
		DirectoryTTL:      getenvDuration("DIRECTORY_CACHE_TTL", 0),
		PeriodCountCap:    getenvIntDefault("PERIOD_COUNT_CAP", 0),
	}
	if cfg.DatabaseURL == "" {
		logrus.Fatal("DATABASE_URL or PG_DSN is required")
	}
	if cfg.GatewayURL == "" {
		logrus.Fatal("BILLING_GATEWAY_URL is required")
	}
	if cfg.LockLogPath == "" {
		logrus.Fatal("LOCK_LOG_PATH is required")
	}
	return cfg
}

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
	return logger
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func loggingMiddleware(next http.Handler, logger logrus.FieldLogger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.WithFields(logrus.Fields{
			"event":    "http_request",
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   resp.status,
			"duration": time.Since(start).String(),
		}).Info("http request")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

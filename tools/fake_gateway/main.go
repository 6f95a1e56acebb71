package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// fakeGateway serves a generated ledger and customer directory over the
// legacy billing RPC shape so the report service can run without the real gateway.
type fakeGateway struct {
	start       time.Time
	latency     time.Duration
	failRate    float64
	extraColumn string
	logger      logrus.FieldLogger

	mu         sync.Mutex
	rnd        *rand.Rand
	byMethod   map[string]int64
	failures   int64
	totalCalls int64

	customers []customerRow
	invoices  []invoiceRow
}

type customerRow struct {
	CustomerID   string
	Name         string
	Address      string
	MeterCode    string
	SequenceCode int
}

type invoiceRow struct {
	CustomerID     string
	Month          int
	Year           int
	DueAmount      string
	SettlementDate string
	InvoiceRef     string
	RouteBatch     string
	PriceTier      string
}

func main() {
	addr := getenvDefault("FAKE_GATEWAY_ADDR", ":18080")
	latencyMs := getenvIntDefault("FAKE_GATEWAY_LATENCY_MS", 0)
	failRate := getenvFloatDefault("FAKE_GATEWAY_FAIL_RATE", 0)
	customerCount := getenvIntDefault("FAKE_GATEWAY_CUSTOMERS", 200)
	months := getenvIntDefault("FAKE_GATEWAY_MONTHS", 12)
	seed := int64(getenvIntDefault("FAKE_GATEWAY_SEED", 1))
	extraColumn := getenvDefault("FAKE_GATEWAY_EXTRA_COLUMN", "")

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	now := time.Now().UTC()
	lastMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	srv := &fakeGateway{
		start:       now,
		latency:     time.Duration(latencyMs) * time.Millisecond,
		failRate:    failRate,
		extraColumn: extraColumn,
		logger:      logger,
		rnd:         rand.New(rand.NewSource(seed)),
		byMethod:    make(map[string]int64),
	}
	srv.customers, srv.invoices = generateLedger(rand.New(rand.NewSource(seed)), customerCount, lastMonth, months)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealth)
	mux.HandleFunc("/metrics", srv.handleMetrics)
	mux.HandleFunc("/rpc", srv.handleRPC)

	logger.WithFields(logrus.Fields{
		"addr":      addr,
		"customers": len(srv.customers),
		"invoices":  len(srv.invoices),
	}).Info("fake billing gateway listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Fatal(err)
	}
}

// generateLedger builds customers and their monthly invoices ending at lastMonth.
// Roughly six in ten invoices carry a ledger settlement date; the rest are left open
// so the settlement seeder and the verifier have something to confirm.
func generateLedger(rnd *rand.Rand, customerCount int, lastMonth time.Time, months int) ([]customerRow, []invoiceRow) {
	customers := make([]customerRow, 0, customerCount)
	var invoices []invoiceRow
	firstMonth := lastMonth.AddDate(0, -(months - 1), 0)
	for i := 0; i < customerCount; i++ {
		id := fmt.Sprintf("%06d", 100001+i)
		route := fmt.Sprintf("%02d", i%8+1)
		customers = append(customers, customerRow{
			CustomerID:   id,
			Name:         fmt.Sprintf("Customer %d", i+1),
			Address:      fmt.Sprintf("%d Station Road", 10+i),
			MeterCode:    fmt.Sprintf("M-%05d", 5000+i),
			SequenceCode: i/8 + 1,
		})
		tier := []string{"residential", "commercial", "social"}[i%3]
		base := 40 + rnd.Intn(160)
		for m := 0; m < months; m++ {
			period := firstMonth.AddDate(0, m, 0)
			inv := invoiceRow{
				CustomerID: id,
				Month:      int(period.Month()),
				Year:       period.Year(),
				DueAmount:  fmt.Sprintf("%d.%02d", base+rnd.Intn(30), rnd.Intn(100)),
				InvoiceRef: fmt.Sprintf("INV-%s-%04d%02d", id, period.Year(), int(period.Month())),
				RouteBatch: route,
				PriceTier:  tier,
			}
			if rnd.Float64() < 0.6 {
				paid := period.AddDate(0, 0, 5+rnd.Intn(40))
				inv.SettlementDate = paid.Format("02/01/2006")
			}
			invoices = append(invoices, inv)
		}
	}
	return customers, invoices
}

func (s *fakeGateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *fakeGateway) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload := map[string]any{
		"started_at": s.start.Format(time.RFC3339),
		"total":      atomic.LoadInt64(&s.totalCalls),
		"failures":   atomic.LoadInt64(&s.failures),
		"by_method":  s.byMethod,
	}
	writeJSON(w, http.StatusOK, payload)
}

type rpcPayload struct {
	Method string `json:"method"`
	Params struct {
		CustomerIDs []string `json:"customer_ids"`
		FromMonth   int      `json:"from_month"`
		FromYear    int      `json:"from_year"`
		ToMonth     int      `json:"to_month"`
		ToYear      int      `json:"to_year"`
	} `json:"params"`
}

func (s *fakeGateway) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	if s.latency > 0 {
		time.Sleep(s.latency)
	}

	var payload rpcPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "error": "invalid json"})
		return
	}
	s.recordCall(payload.Method)

	if s.shouldFail() {
		atomic.AddInt64(&s.failures, 1)
		writeJSON(w, http.StatusOK, map[string]any{"status": "error", "error": "fake gateway failure"})
		return
	}

	var rows []map[string]any
	switch payload.Method {
	case "ledger.invoices":
		rows = s.invoiceRows(payload)
	case "directory.customers":
		rows = s.directoryRows()
	default:
		writeJSON(w, http.StatusOK, map[string]any{"status": "error", "error": "unknown method " + payload.Method})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "rows": rows})
}

func (s *fakeGateway) invoiceRows(payload rpcPayload) []map[string]any {
	wanted := make(map[string]struct{}, len(payload.Params.CustomerIDs))
	for _, id := range payload.Params.CustomerIDs {
		wanted[strings.TrimSpace(id)] = struct{}{}
	}
	from := payload.Params.FromYear*100 + payload.Params.FromMonth
	to := payload.Params.ToYear*100 + payload.Params.ToMonth

	rows := make([]map[string]any, 0)
	for _, inv := range s.invoices {
		if len(wanted) > 0 {
			if _, ok := wanted[inv.CustomerID]; !ok {
				continue
			}
		}
		key := inv.Year*100 + inv.Month
		if (from > 0 && key < from) || (to > 0 && key > to) {
			continue
		}
		row := map[string]any{
			"customer_id":     inv.CustomerID,
			"month":           strconv.Itoa(inv.Month),
			"year":            inv.Year,
			"due_amount":      inv.DueAmount,
			"settlement_date": inv.SettlementDate,
			"invoice_ref":     inv.InvoiceRef,
			"route_batch":     inv.RouteBatch,
			"price_tier":      inv.PriceTier,
		}
		if s.extraColumn != "" {
			row[s.extraColumn] = "x"
		}
		rows = append(rows, row)
	}
	return rows
}

func (s *fakeGateway) directoryRows() []map[string]any {
	rows := make([]map[string]any, 0, len(s.customers))
	for _, c := range s.customers {
		rows = append(rows, map[string]any{
			"customer_id":   c.CustomerID,
			"name":          c.Name,
			"address":       c.Address,
			"meter_code":    c.MeterCode,
			"sequence_code": c.SequenceCode,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i]["customer_id"].(string) < rows[j]["customer_id"].(string)
	})
	return rows
}

func (s *fakeGateway) shouldFail() bool {
	if s.failRate <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.Float64() < s.failRate
}

func (s *fakeGateway) recordCall(method string) {
	atomic.AddInt64(&s.totalCalls, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if method != "" {
		s.byMethod[method]++
	}
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

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

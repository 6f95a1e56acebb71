package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"billing-recon/internal/billing/application"
	billing "billing-recon/internal/billing/domain"
)

const (
	pathPrefix      = "/api/v1/reports/"
	dateLayout      = "2006-01-02"
	periodLayout    = "2006-01"
	noDataMessage   = "no data for this filter"
	internalMessage = "report error"
)

// Reports is the report surface served over HTTP.
type Reports interface {
	GetOutstandingDebtList(ctx context.Context, params application.DebtListParams) (*application.DebtListResult, error)
	GetPunctualityAnalysis(ctx context.Context, rng billing.PeriodRange, filters application.PunctualityFilters) (*application.PunctualityResult, error)
	GetYearlyAndPeriodCountDebtSummary(ctx context.Context, filters application.SummaryFilters) (*application.DebtSummaryResult, error)
	GetWeeklyCollectionReport(ctx context.Context, params application.CollectionParams) (*application.CollectionResult, error)
}

// Invalidator drops cached source data.
type Invalidator interface {
	Invalidate()
}

// Handler provides report APIs.
type Handler struct {
	reports Reports
	cache   Invalidator
	logger  logrus.FieldLogger
}

// NewHandler constructs a handler. cache may be nil when nothing is cached.
func NewHandler(reports Reports, cache Invalidator, logger logrus.FieldLogger) (*Handler, error) {
	if reports == nil {
		return nil, errors.New("reports handler: nil dependency")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{reports: reports, cache: cache, logger: logger}, nil
}

// ServeHTTP routes report endpoints.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if r.URL.Query().Get("refresh") == "1" && h.cache != nil {
		h.cache.Invalidate()
	}
	switch r.URL.Path {
	case pathPrefix + "outstanding-debt":
		h.handleOutstandingDebt(w, r)
	case pathPrefix + "punctuality":
		h.handlePunctuality(w, r)
	case pathPrefix + "debt-summary":
		h.handleDebtSummary(w, r)
	case pathPrefix + "collections":
		h.handleCollections(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleOutstandingDebt(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rng, err := parseRange(q.Get, "from", "to")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	thresholds, err := parseThresholds(q.Get)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	limit, err := parseOptionalInt(q.Get("limit"), "limit")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	result, err := h.reports.GetOutstandingDebtList(r.Context(), application.DebtListParams{
		Range:      rng,
		Filter:     parseRowFilter(r),
		Thresholds: thresholds,
		Limit:      limit,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, result)
}

func (h *Handler) handlePunctuality(w http.ResponseWriter, r *http.Request) {
	rng, err := parseRange(r.URL.Query().Get, "from", "to")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	filters := application.PunctualityFilters{RowFilter: parseRowFilter(r)}
	for _, raw := range splitValues(r.URL.Query()["bucket"]) {
		bucket := billing.ClassificationBucket(raw)
		if !validBucket(bucket) {
			http.Error(w, fmt.Sprintf("unknown bucket %q", raw), http.StatusBadRequest)
			return
		}
		filters.Buckets = append(filters.Buckets, bucket)
	}
	result, err := h.reports.GetPunctualityAnalysis(r.Context(), rng, filters)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, result)
}

func (h *Handler) handleDebtSummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rng, err := parseRange(q.Get, "from", "to")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	thresholds, err := parseThresholds(q.Get)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	skip, err := parseOptionalBool(q.Get("skip_shutoff"), "skip_shutoff")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	result, err := h.reports.GetYearlyAndPeriodCountDebtSummary(r.Context(), application.SummaryFilters{
		Range:       rng,
		Filter:      parseRowFilter(r),
		Thresholds:  thresholds,
		SkipShutoff: skip,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, result)
}

func (h *Handler) handleCollections(w http.ResponseWriter, r *http.Request) {
	from, err := parseDateQuery(r, "from")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	to, err := parseDateQuery(r, "to")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	result, err := h.reports.GetWeeklyCollectionReport(r.Context(), application.CollectionParams{
		From:   from,
		To:     to,
		Filter: parseRowFilter(r),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, result)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case billing.IsValidation(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, billing.ErrNoSourceData):
		http.Error(w, noDataMessage, http.StatusNotFound)
	default:
		h.logger.WithFields(logrus.Fields{
			"event": "report_failed",
			"path":  r.URL.Path,
		}).WithError(err).Error("report request failed")
		http.Error(w, internalMessage, http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

// parseRange reads <prefix>_month/<prefix>_year pairs, or <prefix>=YYYY-MM.
// Missing values stay zero so the service reports which one is required.
func parseRange(get func(string) string, fromKey, toKey string) (billing.PeriodRange, error) {
	from, err := parsePeriod(get, fromKey)
	if err != nil {
		return billing.PeriodRange{}, err
	}
	to, err := parsePeriod(get, toKey)
	if err != nil {
		return billing.PeriodRange{}, err
	}
	return billing.PeriodRange{From: from, To: to}, nil
}

func parsePeriod(get func(string) string, key string) (billing.Period, error) {
	if raw := strings.TrimSpace(get(key)); raw != "" {
		t, err := time.Parse(periodLayout, raw)
		if err != nil {
			return billing.Period{}, fmt.Errorf("invalid %s, expected YYYY-MM", key)
		}
		return billing.PeriodOf(t), nil
	}
	month, err := parseOptionalInt(get(key+"_month"), key+"_month")
	if err != nil {
		return billing.Period{}, err
	}
	year, err := parseOptionalInt(get(key+"_year"), key+"_year")
	if err != nil {
		return billing.Period{}, err
	}
	return billing.Period{Month: month, Year: year}, nil
}

func parseThresholds(get func(string) string) (*application.Thresholds, error) {
	rawPeriods := strings.TrimSpace(get("min_periods"))
	rawDue := strings.TrimSpace(get("min_due"))
	if rawPeriods == "" && rawDue == "" {
		return nil, nil
	}
	periods, err := parseOptionalInt(rawPeriods, "min_periods")
	if err != nil {
		return nil, err
	}
	var due float64
	if rawDue != "" {
		due, err = strconv.ParseFloat(rawDue, 64)
		if err != nil {
			return nil, errors.New("invalid min_due")
		}
	}
	return &application.Thresholds{MinPeriods: periods, MinDue: due}, nil
}

func parseRowFilter(r *http.Request) application.RowFilter {
	q := r.URL.Query()
	return application.RowFilter{
		CustomerIDs: splitValues(q["customer_id"]),
		RouteBatch:  strings.TrimSpace(q.Get("route_batch")),
		PriceTier:   strings.TrimSpace(q.Get("price_tier")),
	}
}

// splitValues flattens repeated and comma separated query values.
func splitValues(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func parseOptionalInt(raw, key string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}

func parseOptionalBool(raw, key string) (bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s", key)
	}
	return b, nil
}

func parseDateQuery(r *http.Request, key string) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s, expected YYYY-MM-DD", key)
	}
	return t, nil
}

func validBucket(bucket billing.ClassificationBucket) bool {
	for _, b := range billing.Buckets {
		if b == bucket {
			return true
		}
	}
	return false
}

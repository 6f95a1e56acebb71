package application

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	billing "billing-recon/internal/billing/domain"
	"billing-recon/internal/observability/metrics"
)

// Report names used in logs and metrics.
const (
	ReportOutstandingDebt = "outstanding_debt"
	ReportPunctuality     = "punctuality"
	ReportDebtSummary     = "debt_summary"
	ReportCollections     = "collections"
)

// RowFilter narrows merged rows before any aggregation.
type RowFilter struct {
	CustomerIDs []string `json:"customer_ids,omitempty"`
	RouteBatch  string   `json:"route_batch,omitempty"`
	PriceTier   string   `json:"price_tier,omitempty"`
}

func (f RowFilter) normalizedIDs() []string {
	if len(f.CustomerIDs) == 0 {
		return nil
	}
	var ids []string
	for _, id := range f.CustomerIDs {
		if id = billing.NormalizeCustomerID(id); id != "" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (f RowFilter) apply(rows []billing.MergedInvoice) []billing.MergedInvoice {
	ids := f.normalizedIDs()
	if len(ids) == 0 && f.RouteBatch == "" && f.PriceTier == "" {
		return rows
	}
	allowed := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		allowed[id] = struct{}{}
	}
	out := make([]billing.MergedInvoice, 0, len(rows))
	for _, row := range rows {
		if len(allowed) > 0 {
			if _, ok := allowed[row.CustomerID]; !ok {
				continue
			}
		}
		if f.RouteBatch != "" && row.RouteBatch != f.RouteBatch {
			continue
		}
		if f.PriceTier != "" && row.PriceTier != f.PriceTier {
			continue
		}
		out = append(out, row)
	}
	return out
}

// VerificationStats summarizes a verification run for report consumers.
type VerificationStats struct {
	Requested      int   `json:"requested"`
	Confirmed      int   `json:"confirmed"`
	FailedChunks   []int `json:"failed_chunks,omitempty"`
	UnverifiedRefs int   `json:"unverified_refs"`
	Undated        int   `json:"undated_confirmations,omitempty"`
}

func verificationStats(v VerificationResult) VerificationStats {
	stats := VerificationStats{
		Requested:      v.Requested,
		Confirmed:      len(v.Confirmed),
		UnverifiedRefs: v.UnverifiedRefs(),
		Undated:        v.Undated,
	}
	for _, c := range v.FailedChunks {
		stats.FailedChunks = append(stats.FailedChunks, c.Index)
	}
	return stats
}

// ReportService runs the reconciliation pipeline behind every report.
type ReportService struct {
	loader     *SnapshotLoader
	verifier   *SettlementVerifier
	classifier *PeriodStatusClassifier
	cfg        Config
	clock      Clock
	logger     logrus.FieldLogger
	verifyOpts []VerifierOption
}

// ServiceOption configures a ReportService.
type ServiceOption func(*ReportService)

// WithLogger sets the service logger.
func WithLogger(logger logrus.FieldLogger) ServiceOption {
	return func(s *ReportService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock sets the clock.
func WithClock(clock Clock) ServiceOption {
	return func(s *ReportService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithVerifierOptions passes extra options to the settlement verifier.
func WithVerifierOptions(opts ...VerifierOption) ServiceOption {
	return func(s *ReportService) {
		s.verifyOpts = append(s.verifyOpts, opts...)
	}
}

// NewReportService wires the engine over its four collaborators.
func NewReportService(
	ledger LedgerSource,
	directory CustomerDirectory,
	gateway SettlementGateway,
	locks LockEventSource,
	cfg Config,
	opts ...ServiceOption,
) (*ReportService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &ReportService{
		cfg:    cfg,
		clock:  SystemClock{},
		logger: discardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	loader, err := NewSnapshotLoader(ledger, directory, locks, s.logger)
	if err != nil {
		return nil, err
	}
	if gateway == nil {
		return nil, billing.ErrNilSource
	}
	verifyOpts := append([]VerifierOption{
		WithChunkSize(cfg.Verifier.ChunkSize),
		WithRetryPolicy(cfg.RetryPolicy()),
		WithVerifierLogger(s.logger),
	}, s.verifyOpts...)
	verifier, err := NewSettlementVerifier(gateway, verifyOpts...)
	if err != nil {
		return nil, err
	}
	s.loader = loader
	s.verifier = verifier
	s.classifier = NewPeriodStatusClassifier(cfg.DuplicatePolicy)
	return s, nil
}

// debtPipeline is the shared merge → prefilter → verify → final filter pass.
type debtPipeline struct {
	snapshot     Snapshot
	rows         []billing.MergedInvoice
	byCustomer   map[string][]billing.MergedInvoice
	prefilter    PrefilterResult
	verification VerificationResult
	final        []CustomerDebt
}

func (s *ReportService) runDebtPipeline(ctx context.Context, log logrus.FieldLogger, rng billing.PeriodRange, filter RowFilter, thresholds *Thresholds) (*debtPipeline, error) {
	snap := s.loader.Load(ctx, filter.normalizedIDs(), rng)
	if snap.Empty() {
		return nil, billing.ErrNoSourceData
	}

	rows := filter.apply(MergeInvoices(snap.Invoices, snap.Directory))
	rows = restrictToRange(rows, rng)

	resolve := s.thresholdResolver(thresholds)
	pre := Prefilter(rows, resolve)
	log.WithFields(logrus.Fields{
		"event":      "prefilter_done",
		"considered": pre.Considered,
		"candidates": len(pre.Candidates),
	}).Debug("prefilter narrowed candidates")

	verification := s.verifier.Verify(ctx, pre.Refs())
	final := FinalFilter(pre, verification.Confirmed)
	log.WithFields(logrus.Fields{
		"event":         "verification_done",
		"requested":     verification.Requested,
		"confirmed":     len(verification.Confirmed),
		"failed_chunks": len(verification.FailedChunks),
		"qualified":     len(final),
	}).Info("settlement verification finished")

	return &debtPipeline{
		snapshot:     snap,
		rows:         rows,
		byCustomer:   groupByCustomer(rows),
		prefilter:    pre,
		verification: verification,
		final:        final,
	}, nil
}

func (s *ReportService) thresholdResolver(override *Thresholds) ThresholdResolver {
	if override != nil {
		return FixedThresholds(*override)
	}
	return func(_ string, invoices []billing.MergedInvoice) Thresholds {
		return s.cfg.ThresholdsFor(latestRow(invoices).RouteBatch)
	}
}

// begin starts a report run and returns its logger and completion callback.
func (s *ReportService) begin(report string) (logrus.FieldLogger, func(err error)) {
	start := s.clock.Now()
	runID := uuid.NewString()
	log := s.logger.WithFields(logrus.Fields{"report": report, "run_id": runID})
	log.WithField("event", "report_start").Debug("report started")
	return log, func(err error) {
		result := metrics.ResultSuccess
		switch {
		case err == nil:
		case billing.IsValidation(err):
			result = metrics.ResultInvalid
		case errors.Is(err, billing.ErrNoSourceData):
			result = metrics.ResultNoData
		default:
			result = metrics.ResultError
		}
		elapsed := s.clock.Now().Sub(start)
		metrics.ObserveReport(report, result, elapsed)
		entry := log.WithFields(logrus.Fields{"event": "report_done", "result": result, "elapsed": elapsed.String()})
		if err != nil {
			entry.WithError(err).Warn("report finished with error")
			return
		}
		entry.Info("report finished")
	}
}

func restrictToRange(rows []billing.MergedInvoice, rng billing.PeriodRange) []billing.MergedInvoice {
	out := rows[:0:0]
	for _, row := range rows {
		if rng.Contains(row.Period) {
			out = append(out, row)
		}
	}
	return out
}

// latestRow returns the row with the greatest period, preferring later rows on ties.
func latestRow(rows []billing.MergedInvoice) billing.MergedInvoice {
	var latest billing.MergedInvoice
	for i, row := range rows {
		if i == 0 || !row.Period.Before(latest.Period) {
			latest = row
		}
	}
	return latest
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

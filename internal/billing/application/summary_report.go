package application

import (
	"context"

	billing "billing-recon/internal/billing/domain"
	"billing-recon/internal/observability/metrics"
)

// SummaryFilters select the yearly and period-count debt summary.
type SummaryFilters struct {
	Range      billing.PeriodRange `json:"range"`
	Filter     RowFilter           `json:"filter"`
	Thresholds *Thresholds         `json:"thresholds,omitempty"`
	// SkipShutoff keeps customers the shutoff reconciliation would exclude.
	SkipShutoff bool `json:"skip_shutoff,omitempty"`
}

// DebtSummaryResult groups remaining debt by year and by owed period count.
type DebtSummaryResult struct {
	ByYear        []YearDebt        `json:"by_year"`
	ByPeriodCount []PeriodCountDebt `json:"by_period_count"`
	Customers     int               `json:"customers"`
	TotalDue      float64           `json:"total_due"`
	Shutoff       ShutoffStats      `json:"shutoff"`
	Verification  VerificationStats `json:"verification"`
	Unavailable   []string          `json:"unavailable_sources,omitempty"`
}

// GetYearlyAndPeriodCountDebtSummary aggregates the verified debt worklist.
func (s *ReportService) GetYearlyAndPeriodCountDebtSummary(ctx context.Context, filters SummaryFilters) (result *DebtSummaryResult, err error) {
	log, done := s.begin(ReportDebtSummary)
	defer func() { done(err) }()

	if err := filters.Range.Validate(); err != nil {
		return nil, err
	}
	if filters.Thresholds != nil && (filters.Thresholds.MinPeriods < 0 || filters.Thresholds.MinDue < 0) {
		return nil, billing.NewValidationError("thresholds", "must not be negative")
	}

	pipe, err := s.runDebtPipeline(ctx, log, filters.Range, filters.Filter, filters.Thresholds)
	if err != nil {
		return nil, err
	}

	debts := pipe.final
	var shutoff ShutoffStats
	if !filters.SkipShutoff {
		debts, _, shutoff = NewShutoffReconciler(pipe.snapshot.LockEvents).Reconcile(debts)
		metrics.AddShutoffExcluded(shutoff.ExcludedByShutoff)
	}

	result = &DebtSummaryResult{
		ByYear:        SummarizeByYear(debts),
		ByPeriodCount: SummarizeByPeriodCount(debts, s.cfg.PeriodCountCap),
		Customers:     len(debts),
		Shutoff:       shutoff,
		Verification:  verificationStats(pipe.verification),
		Unavailable:   pipe.snapshot.Unavailable,
	}
	var total float64
	for _, d := range debts {
		total += d.TotalDue
	}
	result.TotalDue = billing.Round2(total)
	return result, nil
}

package application

import (
	"context"
	"sort"
	"strconv"
	"time"

	billing "billing-recon/internal/billing/domain"
	"billing-recon/internal/observability/metrics"
)

// DebtListParams selects the outstanding-debt worklist.
type DebtListParams struct {
	Range  billing.PeriodRange `json:"range"`
	Filter RowFilter           `json:"filter"`
	// Thresholds override the configured defaults when set.
	Thresholds *Thresholds `json:"thresholds,omitempty"`
	// Limit keeps only the largest debts when positive.
	Limit int `json:"limit,omitempty"`
}

// CustomerDebtRecord is one worklist row.
type CustomerDebtRecord struct {
	CustomerID    string                `json:"customer_id"`
	Name          string                `json:"name"`
	Address       string                `json:"address"`
	MeterCode     string                `json:"meter_code"`
	RouteBatch    string                `json:"route_batch"`
	SequenceCode  string                `json:"sequence_code"`
	PriceTier     string                `json:"price_tier"`
	TotalDue      float64               `json:"total_due"`
	PeriodCount   int                   `json:"period_count"`
	Periods       []billing.Period      `json:"periods"`
	InvoiceRefs   []string              `json:"invoice_refs"`
	CurrentStatus billing.PaymentStatus `json:"current_status"`
	Locked        bool                  `json:"locked"`
	LockDate      *time.Time            `json:"lock_date,omitempty"`
	LockType      string                `json:"lock_type,omitempty"`
}

// DebtListStats describes how the worklist was narrowed.
type DebtListStats struct {
	Considered        int               `json:"considered"`
	PrefilterPassed   int               `json:"prefilter_passed"`
	Qualified         int               `json:"qualified"`
	CurrentlyLocked   int               `json:"currently_locked"`
	ExcludedByShutoff int               `json:"excluded_by_shutoff"`
	Returned          int               `json:"returned"`
	TotalDue          float64           `json:"total_due"`
	Verification      VerificationStats `json:"verification"`
	Unavailable       []string          `json:"unavailable_sources,omitempty"`
}

// DebtListResult is the outstanding-debt worklist.
type DebtListResult struct {
	Records []CustomerDebtRecord `json:"records"`
	Stats   DebtListStats        `json:"stats"`
}

// GetOutstandingDebtList returns customers whose verified, post-shutoff debt meets the
// thresholds, ordered by route batch then sequence code. A positive Limit orders by
// descending total due instead and keeps the first Limit records.
func (s *ReportService) GetOutstandingDebtList(ctx context.Context, params DebtListParams) (result *DebtListResult, err error) {
	log, done := s.begin(ReportOutstandingDebt)
	defer func() { done(err) }()

	if err := params.Range.Validate(); err != nil {
		return nil, err
	}
	if params.Limit < 0 {
		return nil, billing.NewValidationError("limit", "must not be negative")
	}
	if params.Thresholds != nil && (params.Thresholds.MinPeriods < 0 || params.Thresholds.MinDue < 0) {
		return nil, billing.NewValidationError("thresholds", "must not be negative")
	}

	pipe, err := s.runDebtPipeline(ctx, log, params.Range, params.Filter, params.Thresholds)
	if err != nil {
		return nil, err
	}

	reconciler := NewShutoffReconciler(pipe.snapshot.LockEvents)
	kept, outcomes, shutoff := reconciler.Reconcile(pipe.final)
	metrics.AddShutoffExcluded(shutoff.ExcludedByShutoff)

	records := make([]CustomerDebtRecord, 0, len(kept))
	for _, debt := range kept {
		records = append(records, s.buildDebtRecord(debt, pipe, outcomes[debt.CustomerID], params.Range.To))
	}
	if params.Limit > 0 {
		sortByDueDesc(records)
		if len(records) > params.Limit {
			records = records[:params.Limit]
		}
	} else {
		sortWorklist(records)
	}

	stats := DebtListStats{
		Considered:        pipe.prefilter.Considered,
		PrefilterPassed:   len(pipe.prefilter.Candidates),
		Qualified:         len(pipe.final),
		CurrentlyLocked:   shutoff.CurrentlyLocked,
		ExcludedByShutoff: shutoff.ExcludedByShutoff,
		Returned:          len(records),
		Verification:      verificationStats(pipe.verification),
		Unavailable:       pipe.snapshot.Unavailable,
	}
	var total float64
	for _, r := range records {
		total += r.TotalDue
	}
	stats.TotalDue = billing.Round2(total)

	return &DebtListResult{Records: records, Stats: stats}, nil
}

func (s *ReportService) buildDebtRecord(debt CustomerDebt, pipe *debtPipeline, outcome ShutoffOutcome, current billing.Period) CustomerDebtRecord {
	all := pipe.byCustomer[debt.CustomerID]
	latest := latestRow(all)
	record := CustomerDebtRecord{
		CustomerID:   debt.CustomerID,
		Name:         latest.Name,
		Address:      latest.Address,
		MeterCode:    latest.MeterCode,
		RouteBatch:   latest.RouteBatch,
		SequenceCode: latest.SequenceCode,
		PriceTier:    latest.PriceTier,
		TotalDue:     debt.TotalDue,
		PeriodCount:  debt.PeriodCount,
		Periods:      distinctPeriods(debt.Invoices),
		InvoiceRefs:  sortedCopy(debt.InvoiceRefs),
		Locked:       outcome.Locked,
	}
	status := s.classifier.Classify(debt.CustomerID, all, billing.SinglePeriod(current), pipe.verification.Confirmed)
	record.CurrentStatus = status.Periods[0].Status
	if outcome.LockEvent != nil {
		record.LockDate = timePtr(outcome.LockEvent.LockDate)
		record.LockType = outcome.LockEvent.LockType
	}
	return record
}

func sortWorklist(records []CustomerDebtRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if c := compareCodes(a.RouteBatch, b.RouteBatch); c != 0 {
			return c < 0
		}
		if c := compareCodes(a.SequenceCode, b.SequenceCode); c != 0 {
			return c < 0
		}
		return a.CustomerID < b.CustomerID
	})
}

// sortByDueDesc orders a limited worklist by descending total due, then customer id.
func sortByDueDesc(records []CustomerDebtRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].TotalDue != records[j].TotalDue {
			return records[i].TotalDue > records[j].TotalDue
		}
		return records[i].CustomerID < records[j].CustomerID
	})
}

// compareCodes orders numeric codes numerically and everything else lexically.
func compareCodes(a, b string) int {
	if a == b {
		return 0
	}
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	if errA == nil && errB == nil && na != nb {
		if na < nb {
			return -1
		}
		return 1
	}
	if a < b {
		return -1
	}
	return 1
}

func distinctPeriods(invoices []billing.MergedInvoice) []billing.Period {
	seen := make(map[int]struct{})
	var periods []billing.Period
	for _, inv := range invoices {
		if _, ok := seen[inv.Period.Key()]; ok {
			continue
		}
		seen[inv.Period.Key()] = struct{}{}
		periods = append(periods, inv.Period)
	}
	sort.Slice(periods, func(i, j int) bool { return periods[i].Before(periods[j]) })
	return periods
}

func sortedCopy(values []string) []string {
	out := append([]string(nil), values...)
	sort.Strings(out)
	return out
}

package application

import (
	"context"

	billing "billing-recon/internal/billing/domain"
)

// PunctualityFilters narrow the punctuality analysis.
type PunctualityFilters struct {
	RowFilter
	// Buckets keeps only customers in the listed tiers when non-empty.
	Buckets []billing.ClassificationBucket `json:"buckets,omitempty"`
}

// PunctualityResult is the payment-punctuality analysis.
type PunctualityResult struct {
	Range        billing.PeriodRange            `json:"range"`
	Summary      PunctualitySummary             `json:"summary"`
	Customers    []CustomerPunctuality          `json:"customers"`
	Details      []billing.CustomerPeriodStatus `json:"details"`
	Verification VerificationStats              `json:"verification"`
	Unavailable  []string                       `json:"unavailable_sources,omitempty"`
}

// GetPunctualityAnalysis classifies every invoiced customer over rng and buckets them
// by on-time rate. Only ledger-unsettled invoices are sent to the settlement gateway.
func (s *ReportService) GetPunctualityAnalysis(ctx context.Context, rng billing.PeriodRange, filters PunctualityFilters) (result *PunctualityResult, err error) {
	log, done := s.begin(ReportPunctuality)
	defer func() { done(err) }()

	if err := rng.Validate(); err != nil {
		return nil, err
	}

	snap := s.loader.Load(ctx, filters.normalizedIDs(), rng)
	if snap.Empty() {
		return nil, billing.ErrNoSourceData
	}
	rows := restrictToRange(filters.apply(MergeInvoices(snap.Invoices, snap.Directory)), rng)

	var refs []string
	for _, row := range rows {
		if !row.SettledInLedger() && row.InvoiceRef != "" {
			refs = append(refs, row.InvoiceRef)
		}
	}
	verification := s.verifier.Verify(ctx, refs)
	log.WithField("event", "verification_done").WithField("requested", verification.Requested).Debug("punctuality verification finished")

	keep := make(map[billing.ClassificationBucket]bool, len(filters.Buckets))
	for _, b := range filters.Buckets {
		keep[b] = true
	}

	grouped := groupByCustomer(rows)
	result = &PunctualityResult{
		Range:        rng,
		Customers:    []CustomerPunctuality{},
		Details:      []billing.CustomerPeriodStatus{},
		Verification: verificationStats(verification),
		Unavailable:  snap.Unavailable,
	}
	for _, id := range sortedKeys(grouped) {
		c := s.classifier.Classify(id, grouped[id], rng, verification.Confirmed)
		if len(keep) > 0 && !keep[c.Bucket] {
			continue
		}
		result.Customers = append(result.Customers, c)
		result.Details = append(result.Details, c.Periods...)
	}
	result.Summary = SummarizePunctuality(result.Customers, rng.Len())
	return result, nil
}

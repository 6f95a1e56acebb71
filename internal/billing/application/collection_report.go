package application

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	billing "billing-recon/internal/billing/domain"
)

// CollectionParams select the weekly collection report.
type CollectionParams struct {
	From   time.Time `json:"from"`
	To     time.Time `json:"to"`
	Filter RowFilter `json:"filter"`
}

// WeeklyCollection is the money collected in one Monday-based week.
type WeeklyCollection struct {
	WeekStart time.Time `json:"week_start"`
	WeekEnd   time.Time `json:"week_end"`
	Invoices  int       `json:"invoices"`
	Customers int       `json:"customers"`
	Amount    float64   `json:"amount"`
	OnTime    int       `json:"on_time"`
	Late      int       `json:"late"`
}

// CollectionResult is the weekly collection report.
type CollectionResult struct {
	From         time.Time          `json:"from"`
	To           time.Time          `json:"to"`
	Weeks        []WeeklyCollection `json:"weeks"`
	Invoices     int                `json:"invoices"`
	Customers    int                `json:"customers"`
	Amount       float64            `json:"amount"`
	Verification VerificationStats  `json:"verification"`
	Unavailable  []string           `json:"unavailable_sources,omitempty"`
}

// GetWeeklyCollectionReport totals invoices whose effective settlement date falls in
// [From, To], looking back over the configured number of billing months.
func (s *ReportService) GetWeeklyCollectionReport(ctx context.Context, params CollectionParams) (result *CollectionResult, err error) {
	_, done := s.begin(ReportCollections)
	defer func() { done(err) }()

	if params.From.IsZero() {
		return nil, billing.NewValidationError("from", "is required")
	}
	if params.To.IsZero() {
		return nil, billing.NewValidationError("to", "is required")
	}
	from := startOfDay(params.From)
	to := startOfDay(params.To)
	if to.Before(from) {
		return nil, &billing.ValidationError{Field: "range", Reason: "from is after to", Err: billing.ErrInvalidRange}
	}

	lookback := s.cfg.CollectionMonths
	if lookback <= 0 {
		lookback = 12
	}
	rng := billing.PeriodRange{
		From: billing.PeriodOf(from.AddDate(0, -(lookback - 1), 0)),
		To:   billing.PeriodOf(to),
	}

	snap := s.loader.Load(ctx, params.Filter.normalizedIDs(), rng)
	if snap.Empty() {
		return nil, billing.ErrNoSourceData
	}
	rows := restrictToRange(params.Filter.apply(MergeInvoices(snap.Invoices, snap.Directory)), rng)

	var refs []string
	for _, row := range rows {
		if !row.SettledInLedger() && row.InvoiceRef != "" {
			refs = append(refs, row.InvoiceRef)
		}
	}
	verification := s.verifier.Verify(ctx, refs)

	type acc struct {
		row       WeeklyCollection
		amount    decimal.Decimal
		customers map[string]struct{}
	}
	weeks := make(map[time.Time]*acc)
	allCustomers := make(map[string]struct{})
	total := decimal.Zero
	invoices := 0
	for _, row := range rows {
		settled, ok := EffectiveSettlementDate(row.Invoice, verification.Confirmed)
		if !ok {
			continue
		}
		day := startOfDay(settled)
		if day.Before(from) || day.After(to) {
			continue
		}
		weekStart := mondayOf(day)
		a, ok := weeks[weekStart]
		if !ok {
			a = &acc{
				row:       WeeklyCollection{WeekStart: weekStart, WeekEnd: weekStart.AddDate(0, 0, 6)},
				amount:    decimal.Zero,
				customers: make(map[string]struct{}),
			}
			weeks[weekStart] = a
		}
		amount := decimal.NewFromFloat(row.DueAmount)
		a.amount = a.amount.Add(amount)
		a.row.Invoices++
		a.customers[row.CustomerID] = struct{}{}
		if billing.PeriodOf(settled) == row.Period {
			a.row.OnTime++
		} else {
			a.row.Late++
		}
		total = total.Add(amount)
		invoices++
		allCustomers[row.CustomerID] = struct{}{}
	}

	starts := make([]time.Time, 0, len(weeks))
	for start := range weeks {
		starts = append(starts, start)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })

	result = &CollectionResult{
		From:         from,
		To:           to,
		Weeks:        make([]WeeklyCollection, 0, len(starts)),
		Invoices:     invoices,
		Customers:    len(allCustomers),
		Amount:       total.InexactFloat64(),
		Verification: verificationStats(verification),
		Unavailable:  snap.Unavailable,
	}
	for _, start := range starts {
		a := weeks[start]
		a.row.Amount = a.amount.InexactFloat64()
		a.row.Customers = len(a.customers)
		result.Weeks = append(result.Weeks, a.row)
	}
	return result, nil
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func mondayOf(day time.Time) time.Time {
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

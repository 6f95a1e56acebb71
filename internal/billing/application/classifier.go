package application

import (
	"time"

	billing "billing-recon/internal/billing/domain"
)

// DuplicatePolicy decides which row wins when a customer period has several invoices.
type DuplicatePolicy string

const (
	// DuplicateFirst keeps the first row encountered in ledger order.
	DuplicateFirst DuplicatePolicy = "first"
	// DuplicateLast keeps the last row encountered in ledger order.
	DuplicateLast DuplicatePolicy = "last"
	// DuplicateWorst keeps the least favourable status (unpaid, then late).
	DuplicateWorst DuplicatePolicy = "worst"
)

// CustomerPunctuality is the per-customer outcome of a classification run.
type CustomerPunctuality struct {
	CustomerID   string                         `json:"customer_id"`
	Name         string                         `json:"name"`
	Address      string                         `json:"address"`
	MeterCode    string                         `json:"meter_code"`
	RouteBatch   string                         `json:"route_batch"`
	SequenceCode string                         `json:"sequence_code"`
	Periods      []billing.CustomerPeriodStatus `json:"periods"`
	OnTime       int                            `json:"on_time"`
	Late         int                            `json:"late"`
	Unpaid       int                            `json:"unpaid"`
	Rate         float64                        `json:"on_time_rate"`
	Bucket       billing.ClassificationBucket   `json:"bucket"`
}

// PeriodStatusClassifier assigns a payment status to every period of a range.
type PeriodStatusClassifier struct {
	policy DuplicatePolicy
}

// NewPeriodStatusClassifier constructs a classifier; an empty policy means DuplicateFirst.
func NewPeriodStatusClassifier(policy DuplicatePolicy) *PeriodStatusClassifier {
	if policy == "" {
		policy = DuplicateFirst
	}
	return &PeriodStatusClassifier{policy: policy}
}

// StatusOf classifies a single invoice row.
func StatusOf(inv billing.Invoice, confirmed map[string]billing.SettlementRecord) billing.PaymentStatus {
	settled, ok := EffectiveSettlementDate(inv, confirmed)
	if !ok {
		return billing.StatusUnpaid
	}
	if billing.PeriodOf(settled) == inv.Period {
		return billing.StatusPaidOnTime
	}
	return billing.StatusPaidLate
}

// EffectiveSettlementDate prefers the ledger date and falls back to the bank confirmation.
func EffectiveSettlementDate(inv billing.Invoice, confirmed map[string]billing.SettlementRecord) (time.Time, bool) {
	if inv.SettledInLedger() {
		return *inv.SettlementDate, true
	}
	if inv.InvoiceRef == "" {
		return time.Time{}, false
	}
	rec, ok := confirmed[inv.InvoiceRef]
	if !ok || rec.ConfirmedDate.IsZero() {
		return time.Time{}, false
	}
	return rec.ConfirmedDate, true
}

// Classify computes the statuses of one customer's invoices over rng.
// Periods without a row are unpaid.
func (c *PeriodStatusClassifier) Classify(customerID string, invoices []billing.MergedInvoice, rng billing.PeriodRange, confirmed map[string]billing.SettlementRecord) CustomerPunctuality {
	byPeriod := make(map[int]billing.PaymentStatus)
	for _, inv := range invoices {
		if !rng.Contains(inv.Period) {
			continue
		}
		status := StatusOf(inv.Invoice, confirmed)
		key := inv.Period.Key()
		current, exists := byPeriod[key]
		switch {
		case !exists:
			byPeriod[key] = status
		case c.policy == DuplicateLast:
			byPeriod[key] = status
		case c.policy == DuplicateWorst && severity(status) > severity(current):
			byPeriod[key] = status
		}
	}

	out := CustomerPunctuality{CustomerID: customerID}
	if len(invoices) > 0 {
		last := invoices[len(invoices)-1]
		out.Name = last.Name
		out.Address = last.Address
		out.MeterCode = last.MeterCode
		out.RouteBatch = last.RouteBatch
		out.SequenceCode = last.SequenceCode
	}
	periods := rng.Periods()
	out.Periods = make([]billing.CustomerPeriodStatus, 0, len(periods))
	for _, p := range periods {
		status, ok := byPeriod[p.Key()]
		if !ok {
			status = billing.StatusUnpaid
		}
		switch status {
		case billing.StatusPaidOnTime:
			out.OnTime++
		case billing.StatusPaidLate:
			out.Late++
		default:
			out.Unpaid++
		}
		out.Periods = append(out.Periods, billing.CustomerPeriodStatus{CustomerID: customerID, Period: p, Status: status})
	}
	out.Rate = billing.OnTimeRate(out.OnTime, len(periods))
	out.Bucket = billing.BucketForRate(out.Rate)
	return out
}

func severity(s billing.PaymentStatus) int {
	switch s {
	case billing.StatusUnpaid:
		return 2
	case billing.StatusPaidLate:
		return 1
	default:
		return 0
	}
}

package application

import (
	"sort"

	"github.com/shopspring/decimal"

	billing "billing-recon/internal/billing/domain"
)

// CustomerDebt is the unsettled position of one customer.
type CustomerDebt struct {
	CustomerID  string
	TotalDue    float64
	PeriodCount int
	InvoiceRefs []string
	Invoices    []billing.MergedInvoice
	// Thresholds are resolved once in the prefilter and reused by the final pass.
	Thresholds Thresholds
}

// Qualifies applies the threshold test shared by both filter passes.
func (d CustomerDebt) Qualifies() bool {
	return d.PeriodCount >= d.Thresholds.MinPeriods && d.TotalDue >= d.Thresholds.MinDue
}

// ThresholdResolver picks the thresholds for a customer from its unsettled rows.
type ThresholdResolver func(customerID string, invoices []billing.MergedInvoice) Thresholds

// PrefilterResult holds the optimistic candidate set.
type PrefilterResult struct {
	Candidates []CustomerDebt
	Considered int
}

// Refs returns every invoice reference of every candidate, deduplicated and sorted.
func (r PrefilterResult) Refs() []string {
	seen := make(map[string]struct{})
	var refs []string
	for _, c := range r.Candidates {
		for _, ref := range c.InvoiceRefs {
			if _, ok := seen[ref]; ok {
				continue
			}
			seen[ref] = struct{}{}
			refs = append(refs, ref)
		}
	}
	sort.Strings(refs)
	return refs
}

// Prefilter keeps customers whose ledger-unsettled invoices already meet the thresholds.
// Verification can only remove invoices, so a customer failing here can never qualify later.
func Prefilter(rows []billing.MergedInvoice, resolve ThresholdResolver) PrefilterResult {
	var unsettled []billing.MergedInvoice
	for _, row := range rows {
		if !row.SettledInLedger() {
			unsettled = append(unsettled, row)
		}
	}
	grouped := groupByCustomer(unsettled)

	result := PrefilterResult{Considered: len(grouped)}
	for _, id := range sortedKeys(grouped) {
		debt := summarize(id, grouped[id])
		debt.Thresholds = resolve(id, grouped[id])
		if debt.Qualifies() {
			result.Candidates = append(result.Candidates, debt)
		}
	}
	return result
}

// FinalFilter recomputes each candidate without confirmed invoices and re-applies the thresholds.
func FinalFilter(pre PrefilterResult, confirmed map[string]billing.SettlementRecord) []CustomerDebt {
	var out []CustomerDebt
	for _, candidate := range pre.Candidates {
		var remaining []billing.MergedInvoice
		for _, inv := range candidate.Invoices {
			if rec, ok := confirmed[inv.InvoiceRef]; ok && inv.InvoiceRef != "" && !rec.ConfirmedDate.IsZero() {
				continue
			}
			remaining = append(remaining, inv)
		}
		if len(remaining) == 0 {
			continue
		}
		debt := summarize(candidate.CustomerID, remaining)
		debt.Thresholds = candidate.Thresholds
		if debt.Qualifies() {
			out = append(out, debt)
		}
	}
	return out
}

func summarize(customerID string, invoices []billing.MergedInvoice) CustomerDebt {
	total := decimal.Zero
	periods := make(map[int]struct{})
	refs := make([]string, 0, len(invoices))
	for _, inv := range invoices {
		total = total.Add(decimal.NewFromFloat(billing.ClampAmount(inv.DueAmount)))
		periods[inv.Period.Key()] = struct{}{}
		if inv.InvoiceRef != "" {
			refs = append(refs, inv.InvoiceRef)
		}
	}
	return CustomerDebt{
		CustomerID:  customerID,
		TotalDue:    total.InexactFloat64(),
		PeriodCount: len(periods),
		InvoiceRefs: refs,
		Invoices:    invoices,
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FixedThresholds resolves every customer to t.
func FixedThresholds(t Thresholds) ThresholdResolver {
	return func(string, []billing.MergedInvoice) Thresholds { return t }
}

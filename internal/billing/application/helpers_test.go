package application

import (
	"context"
	"errors"
	"sync"
	"time"

	billing "billing-recon/internal/billing/domain"
)

func p(month, year int) billing.Period { return billing.Period{Month: month, Year: year} }

func rangeOf(fromMonth, fromYear, toMonth, toYear int) billing.PeriodRange {
	return billing.PeriodRange{From: p(fromMonth, fromYear), To: p(toMonth, toYear)}
}

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

func dayPtr(year int, month time.Month, d int) *time.Time {
	t := day(year, month, d)
	return &t
}

func row(customerID string, period billing.Period, due float64, ref string) billing.MergedInvoice {
	return billing.MergedInvoice{Invoice: billing.Invoice{
		CustomerID: customerID,
		Period:     period,
		DueAmount:  due,
		InvoiceRef: ref,
	}}
}

func settledRow(customerID string, period billing.Period, due float64, ref string, settled time.Time) billing.MergedInvoice {
	r := row(customerID, period, due, ref)
	r.SettlementDate = &settled
	return r
}

func confirmedAt(date time.Time, refs ...string) map[string]billing.SettlementRecord {
	out := make(map[string]billing.SettlementRecord, len(refs))
	for _, ref := range refs {
		out[ref] = billing.SettlementRecord{InvoiceRef: ref, ConfirmedDate: date}
	}
	return out
}

// stubGateway confirms every ref in confirmed and fails calls selected by failOn.
type stubGateway struct {
	mu        sync.Mutex
	confirmed map[string]time.Time
	extra     []billing.SettlementRecord
	failOn    func(refs []string) bool
	calls     [][]string
}

func (g *stubGateway) VerifySettlements(_ context.Context, refs []string) ([]billing.SettlementRecord, error) {
	g.mu.Lock()
	g.calls = append(g.calls, append([]string(nil), refs...))
	g.mu.Unlock()
	if g.failOn != nil && g.failOn(refs) {
		return nil, errors.New("gateway unavailable")
	}
	var out []billing.SettlementRecord
	for _, ref := range refs {
		if date, ok := g.confirmed[ref]; ok {
			out = append(out, billing.SettlementRecord{InvoiceRef: ref, ConfirmedDate: date})
		}
	}
	return append(out, g.extra...), nil
}

func (g *stubGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func noSleep(context.Context, time.Duration) error { return nil }

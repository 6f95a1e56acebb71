package memory

import (
	"context"
	"sync"

	billing "billing-recon/internal/billing/domain"
)

// Ledger is an in-memory invoice ledger.
type Ledger struct {
	mu       sync.RWMutex
	invoices []billing.Invoice
	err      error
	calls    int
}

// NewLedger constructs a ledger holding invoices.
func NewLedger(invoices ...billing.Invoice) *Ledger {
	return &Ledger{invoices: append([]billing.Invoice(nil), invoices...)}
}

// Add appends invoices.
func (l *Ledger) Add(invoices ...billing.Invoice) {
	l.mu.Lock()
	l.invoices = append(l.invoices, invoices...)
	l.mu.Unlock()
}

// FailWith makes every fetch return err until cleared with nil.
func (l *Ledger) FailWith(err error) {
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
}

// Calls returns how many fetches were served.
func (l *Ledger) Calls() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.calls
}

// FetchInvoices returns copies of the matching invoices. A zero range matches every period.
func (l *Ledger) FetchInvoices(ctx context.Context, customerIDs []string, rng billing.PeriodRange) ([]billing.Invoice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	wanted := idSet(customerIDs)
	var out []billing.Invoice
	for _, inv := range l.invoices {
		if wanted != nil {
			if _, ok := wanted[billing.NormalizeCustomerID(inv.CustomerID)]; !ok {
				continue
			}
		}
		if !rng.IsZero() && !rng.Contains(inv.Period) {
			continue
		}
		out = append(out, cloneInvoice(inv))
	}
	return out, nil
}

// Directory is an in-memory customer directory.
type Directory struct {
	mu      sync.RWMutex
	records []billing.CustomerRecord
	err     error
	calls   int
}

// NewDirectory constructs a directory holding records.
func NewDirectory(records ...billing.CustomerRecord) *Directory {
	return &Directory{records: append([]billing.CustomerRecord(nil), records...)}
}

// Set replaces the directory contents.
func (d *Directory) Set(records ...billing.CustomerRecord) {
	d.mu.Lock()
	d.records = append([]billing.CustomerRecord(nil), records...)
	d.mu.Unlock()
}

// FailWith makes every fetch return err until cleared with nil.
func (d *Directory) FailWith(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

// Calls returns how many fetches were served.
func (d *Directory) Calls() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.calls
}

// FetchCustomerDirectory returns a copy of the directory.
func (d *Directory) FetchCustomerDirectory(ctx context.Context) ([]billing.CustomerRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	return append([]billing.CustomerRecord(nil), d.records...), nil
}

// SettlementBank is an in-memory settlement gateway keyed by invoice reference.
type SettlementBank struct {
	mu        sync.RWMutex
	confirmed map[string]billing.SettlementRecord
	failOn    func(refs []string) error
	requests  [][]string
}

// NewSettlementBank constructs an empty bank.
func NewSettlementBank(records ...billing.SettlementRecord) *SettlementBank {
	b := &SettlementBank{confirmed: make(map[string]billing.SettlementRecord)}
	b.Confirm(records...)
	return b
}

// Confirm stores confirmations. The earliest date wins for repeated references.
func (b *SettlementBank) Confirm(records ...billing.SettlementRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, rec := range records {
		if current, ok := b.confirmed[rec.InvoiceRef]; ok && !rec.ConfirmedDate.Before(current.ConfirmedDate) {
			continue
		}
		b.confirmed[rec.InvoiceRef] = rec
	}
}

// FailWhen installs a hook that can fail individual requests.
func (b *SettlementBank) FailWhen(fn func(refs []string) error) {
	b.mu.Lock()
	b.failOn = fn
	b.mu.Unlock()
}

// Requests returns the reference batches received so far.
func (b *SettlementBank) Requests() [][]string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([][]string, len(b.requests))
	for i, refs := range b.requests {
		out[i] = append([]string(nil), refs...)
	}
	return out
}

// VerifySettlements returns the confirmations known for refs.
func (b *SettlementBank) VerifySettlements(ctx context.Context, invoiceRefs []string) ([]billing.SettlementRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.requests = append(b.requests, append([]string(nil), invoiceRefs...))
	failOn := b.failOn
	b.mu.Unlock()
	if failOn != nil {
		if err := failOn(invoiceRefs); err != nil {
			return nil, err
		}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []billing.SettlementRecord
	for _, ref := range invoiceRefs {
		if rec, ok := b.confirmed[ref]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// LockLog is an in-memory lock event source.
type LockLog struct {
	mu     sync.RWMutex
	events []billing.LockEvent
	err    error
}

// NewLockLog constructs a log holding events.
func NewLockLog(events ...billing.LockEvent) *LockLog {
	return &LockLog{events: append([]billing.LockEvent(nil), events...)}
}

// Add appends events.
func (l *LockLog) Add(events ...billing.LockEvent) {
	l.mu.Lock()
	l.events = append(l.events, events...)
	l.mu.Unlock()
}

// FailWith makes every fetch return err until cleared with nil.
func (l *LockLog) FailWith(err error) {
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
}

// FetchLockEvents returns events for customerIDs, or all events when customerIDs is nil.
func (l *LockLog) FetchLockEvents(ctx context.Context, customerIDs []string) ([]billing.LockEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.err != nil {
		return nil, l.err
	}
	wanted := idSet(customerIDs)
	var out []billing.LockEvent
	for _, evt := range l.events {
		if wanted != nil {
			if _, ok := wanted[billing.NormalizeCustomerID(evt.CustomerID)]; !ok {
				continue
			}
		}
		if evt.UnlockDate != nil {
			unlock := *evt.UnlockDate
			evt.UnlockDate = &unlock
		}
		out = append(out, evt)
	}
	return out, nil
}

func idSet(ids []string) map[string]struct{} {
	if ids == nil {
		return nil
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[billing.NormalizeCustomerID(id)] = struct{}{}
	}
	return set
}

func cloneInvoice(inv billing.Invoice) billing.Invoice {
	if inv.SettlementDate != nil {
		settled := *inv.SettlementDate
		inv.SettlementDate = &settled
	}
	return inv
}

package billing

import (
	"strings"
	"time"
)

// Lock event statuses as recorded in the operational log.
const (
	LockStatusLocked   = "locked"
	LockStatusUnlocked = "unlocked"
)

// Invoice is one ledger row for a customer and period.
type Invoice struct {
	CustomerID     string     `json:"customer_id"`
	Period         Period     `json:"period"`
	DueAmount      float64    `json:"due_amount"`
	SettlementDate *time.Time `json:"settlement_date,omitempty"`
	InvoiceRef     string     `json:"invoice_ref"`
	RouteBatch     string     `json:"route_batch,omitempty"`
	PriceTier      string     `json:"price_tier,omitempty"`
}

// SettledInLedger reports whether the ledger itself carries a settlement date.
func (i Invoice) SettledInLedger() bool {
	return i.SettlementDate != nil && !i.SettlementDate.IsZero()
}

// CustomerRecord holds the static directory attributes of a customer.
type CustomerRecord struct {
	CustomerID   string `json:"customer_id"`
	Name         string `json:"name"`
	Address      string `json:"address"`
	MeterCode    string `json:"meter_code"`
	SequenceCode string `json:"sequence_code"`
}

// MergedInvoice is a ledger row denormalized with directory attributes.
type MergedInvoice struct {
	Invoice
	Name         string `json:"name"`
	Address      string `json:"address"`
	MeterCode    string `json:"meter_code"`
	SequenceCode string `json:"sequence_code"`
}

// SettlementRecord is a bank confirmation for an invoice.
type SettlementRecord struct {
	InvoiceRef    string    `json:"invoice_ref"`
	ConfirmedDate time.Time `json:"confirmed_date"`
}

// LockEvent records a service lock and its optional unlock.
type LockEvent struct {
	CustomerID string     `json:"customer_id"`
	LockDate   time.Time  `json:"lock_date"`
	LockType   string     `json:"lock_type"`
	Status     string     `json:"status"`
	UnlockDate *time.Time `json:"unlock_date,omitempty"`
	Group      string     `json:"group,omitempty"`
}

// IsActive reports whether the service is still locked by this event.
func (e LockEvent) IsActive() bool {
	if e.UnlockDate != nil && !e.UnlockDate.IsZero() {
		return false
	}
	return !strings.EqualFold(strings.TrimSpace(e.Status), LockStatusUnlocked)
}

// LatestLockEvents keeps the most recent event per customer by lock date.
// Events with an unparseable lock date only win when nothing dated exists.
func LatestLockEvents(events []LockEvent) map[string]LockEvent {
	latest := make(map[string]LockEvent, len(events))
	for _, evt := range events {
		id := NormalizeCustomerID(evt.CustomerID)
		if id == "" {
			continue
		}
		evt.CustomerID = id
		current, ok := latest[id]
		if !ok || evt.LockDate.After(current.LockDate) {
			latest[id] = evt
		}
	}
	return latest
}
